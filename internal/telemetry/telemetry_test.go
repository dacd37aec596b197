package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/awsdecomm/internal/config"
)

func disabledConfig() config.OTELConfig {
	return config.OTELConfig{
		ServiceName: "test-awsdecomm",
		Traces:      config.TracesConfig{Enabled: false},
		Metrics:     config.MetricsConfig{Enabled: false},
	}
}

func newTestProvider(t *testing.T) (*Provider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	p, err := NewProvider(context.Background(), disabledConfig(), WithReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.meter)
	assert.NotNil(t, p.registry)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-awsdecomm",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}

	// No collector is running; setup must still succeed.
	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestProvider_Tracer(t *testing.T) {
	p, _ := newTestProvider(t)

	ctx, span := p.Tracer().Start(context.Background(), "run")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestProvider_RecordRun(t *testing.T) {
	p, reader := newTestProvider(t)

	p.RecordRun(context.Background(), "success", "decommission", 2*time.Second)
	p.RecordRun(context.Background(), "alert", "alert", time.Second)

	metrics := collect(t, reader)
	runs, ok := metrics["awsdecomm.runs"]
	require.True(t, ok)
	sum, ok := runs.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2)
	for _, dp := range sum.DataPoints {
		assert.Equal(t, int64(1), dp.Value)
		outcome, ok := dp.Attributes.Value("outcome")
		require.True(t, ok)
		assert.Contains(t, []string{"success", "alert"}, outcome.AsString())
	}

	_, ok = metrics["awsdecomm.run.duration"]
	assert.True(t, ok)
}

func TestProvider_RecordPurge(t *testing.T) {
	p, reader := newTestProvider(t)

	p.RecordPurge(context.Background(), "sensu", nil)
	p.RecordPurge(context.Background(), "chef", errors.New("500"))

	metrics := collect(t, reader)
	sum, ok := metrics["awsdecomm.purges"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2)

	results := map[string]string{}
	for _, dp := range sum.DataPoints {
		registry, _ := dp.Attributes.Value("registry")
		result, _ := dp.Attributes.Value("result")
		results[registry.AsString()] = result.AsString()
	}
	assert.Equal(t, map[string]string{"sensu": "ok", "chef": "error"}, results)
}

func TestProvider_RecordRetryAndLookup(t *testing.T) {
	p, reader := newTestProvider(t)

	p.RecordRetry(context.Background(), "AWS lookup for web01 in account prod")
	p.RecordLookup(context.Background(), "prod", 150*time.Millisecond, nil)

	metrics := collect(t, reader)
	retries, ok := metrics["awsdecomm.retries"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, retries.DataPoints, 1)
	assert.Equal(t, int64(1), retries.DataPoints[0].Value)

	lookups, ok := metrics["awsdecomm.lookup.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, lookups.DataPoints, 1)
	assert.Equal(t, uint64(1), lookups.DataPoints[0].Count)
}

func TestProvider_Push(t *testing.T) {
	var requests atomic.Int32
	var path atomic.Value
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		path.Store(r.URL.Path)
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	p, _ := newTestProvider(t)
	p.RecordRun(context.Background(), "success", "decommission", time.Second)

	require.NoError(t, p.Push(context.Background(), gateway.URL))
	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, "/metrics/job/awsdecomm", path.Load())
}

func TestProvider_PushFailure(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	p, _ := newTestProvider(t)
	err := p.Push(context.Background(), gateway.URL)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", false)
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Str("host", "web01").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "web01", entry["host"])
	assert.Equal(t, "awsdecomm", entry["service"])
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "loud", false)
	require.Error(t, err)
}

func TestOTELHook_AddsTraceIDs(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx, span := p.Tracer().Start(context.Background(), "run")
	defer span.End()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(OTELHook{})
	logger.Info().Ctx(ctx).Msg("with span")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}
