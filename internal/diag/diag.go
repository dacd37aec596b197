// Package diag holds the diagnostic log accumulated during a single run.
package diag

import (
	"fmt"
	"strings"
	"sync"
)

// Log is an append-only, ordered list of operator-facing messages.
// It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []string
	sealed  bool
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Addf appends a formatted entry. Entries added after Seal are dropped.
func (l *Log) Addf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return
	}
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

// Seal freezes the log.
func (l *Log) Seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// Entries returns a copy of the entries in insertion order.
func (l *Log) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// String joins the entries one per line.
func (l *Log) String() string {
	return strings.Join(l.Entries(), "\n")
}
