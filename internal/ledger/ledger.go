// Package ledger keeps an on-disk record of finished runs.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

// Bucket names in bbolt
var bucketRuns = []byte("runs")

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("ledger: no matching run")

// Handler runs for different hosts can overlap; bbolt holds an exclusive
// file lock, so wait for it rather than failing at once.
const lockTimeout = 5 * time.Second

// Record is one finished run.
type Record struct {
	ID          ulid.ULID `json:"id"`
	Host        string    `json:"host"`
	Action      string    `json:"action"`
	Verdict     string    `json:"verdict,omitempty"`
	Outcome     string    `json:"outcome"`
	Subject     string    `json:"subject"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	NotifyError string    `json:"notify_error,omitempty"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
}

type hostEntry struct {
	host string
	id   ulid.ULID
}

func hostLess(a, b hostEntry) bool {
	if a.host != b.host {
		return a.host < b.host
	}
	return a.id.Compare(b.id) < 0
}

// Ledger stores records in bbolt keyed by run ID, with an in-memory
// host index.
type Ledger struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	index *btree.BTreeG[hostEntry]
}

// Open opens or creates the ledger file at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	l := &Ledger{
		db:    db,
		index: btree.NewG[hostEntry](32, hostLess),
	}
	if err := l.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the ledger.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores rec. A zero ID is replaced by a fresh one.
func (l *Ledger) Record(rec Record) (ulid.ULID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.ID == (ulid.ULID{}) {
		rec.ID = ulid.Make()
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("encode record: %w", err)
	}

	err = l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put(rec.ID.Bytes(), value)
	})
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("store record: %w", err)
	}

	l.index.ReplaceOrInsert(hostEntry{host: rec.Host, id: rec.ID})
	return rec.ID, nil
}

// List returns up to limit records, newest first. A non-positive limit
// returns everything.
func (l *Ledger) List(limit int) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var records []Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// ListHost returns up to limit records for host, newest first.
func (l *Ledger) ListHost(host string, limit int) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []ulid.ULID
	l.index.DescendLessOrEqual(hostEntry{host: host, id: maxULID}, func(e hostEntry) bool {
		if e.host != host {
			return false
		}
		ids = append(ids, e.id)
		return limit <= 0 || len(ids) < limit
	})

	records := make([]Record, 0, len(ids))
	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		for _, id := range ids {
			v := bucket.Get(id.Bytes())
			if v == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %s: %w", id, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Latest returns the most recent record for host.
func (l *Ledger) Latest(host string) (Record, error) {
	records, err := l.ListHost(host, 1)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return records[0], nil
}

var maxULID = ulid.ULID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (l *Ledger) rebuildIndex() error {
	return l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var rec struct {
				Host string `json:"host"`
			}
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			var id ulid.ULID
			copy(id[:], k)
			l.index.ReplaceOrInsert(hostEntry{host: rec.Host, id: id})
			return nil
		})
	})
}
