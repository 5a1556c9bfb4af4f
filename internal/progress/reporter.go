package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

// DefaultLogCap bounds the recent-log window returned by status polling.
const DefaultLogCap = 100

// Log is a bounded window over broadcast outcomes. Entries get a monotonic
// index for the lifetime of the log, across cycles, so pollers can detect
// both gaps and staleness even after old entries are evicted.
type Log struct {
	mu      sync.Mutex
	entries []domain.BroadcastLogEntry
	next    uint64
	cap     int
}

// NewLog creates a log keeping the last capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCap
	}
	return &Log{cap: capacity}
}

// Append records an outcome, assigning it the next index.
func (l *Log) Append(entry domain.BroadcastLogEntry) domain.BroadcastLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Index = l.next
	l.next++
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.cap {
		// Drop the oldest; copy to keep the backing array bounded.
		l.entries = append(l.entries[:0:0], l.entries[len(l.entries)-l.cap:]...)
	}
	return entry
}

// Recent returns the retained entries, oldest first.
func (l *Log) Recent() []domain.BroadcastLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.BroadcastLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// NextIndex returns the index the next entry will receive.
func (l *Log) NextIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Ring is a bounded line log for background tasks.
type Ring struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

// NewRing creates a ring keeping the last capacity lines.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultLogCap
	}
	return &Ring{cap: capacity}
}

// Add appends a formatted line, evicting the oldest when full.
func (r *Ring) Add(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = append(r.lines[:0:0], r.lines[len(r.lines)-r.cap:]...)
	}
}

// Snapshot returns the retained lines, oldest first.
func (r *Ring) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
