package handler

import (
	"sync"
	"time"
)

// DefaultWindow is the default recurrence window W from §4.4.1.
const DefaultWindow = time.Hour

// maxGlobalHistory bounds the flat introspection history.
const maxGlobalHistory = 1000

// typeRecord is the per-anomaly-type append-only occurrence sequence. One
// instance per type, guarded by its own mutex — the per-type critical
// section the ordering guarantees in §5 require.
type typeRecord struct {
	mu         sync.Mutex
	timestamps []time.Time
	count      int
}

func (r *typeRecord) record(t time.Time, window time.Duration) (count, totalInWindow int, lastOccurrence time.Time, timeSinceLastS float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous time.Time
	if len(r.timestamps) > 0 {
		previous = r.timestamps[len(r.timestamps)-1]
	}

	r.timestamps = append(r.timestamps, t)
	r.count++

	cutoff := t.Add(-window)
	inWindow := 0
	for i := len(r.timestamps) - 1; i >= 0; i-- {
		if r.timestamps[i].Before(cutoff) {
			break
		}
		inWindow++
	}

	since := 0.0
	if !previous.IsZero() {
		since = t.Sub(previous).Seconds()
	}
	return r.count, inWindow, t, since
}

type globalEntry struct {
	anomalyType string
	timestamp   time.Time
}

// RecurrenceIndex tracks per-type recurrence and a bounded global flat
// history for introspection, exclusively owned by the Handler (§3).
type RecurrenceIndex struct {
	window time.Duration

	mu    sync.Mutex
	types map[string]*typeRecord

	histMu  sync.Mutex
	history []globalEntry
}

// NewRecurrenceIndex constructs an index with the given sliding window.
// window<=0 uses DefaultWindow.
func NewRecurrenceIndex(window time.Duration) *RecurrenceIndex {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RecurrenceIndex{window: window, types: make(map[string]*typeRecord)}
}

// Record registers an occurrence of anomalyType at t and returns the
// resulting RecurrenceInfo fields.
func (idx *RecurrenceIndex) Record(anomalyType string, t time.Time) (count, totalInWindow int, lastOccurrence time.Time, timeSinceLastS float64) {
	rec := idx.recordFor(anomalyType)
	count, totalInWindow, lastOccurrence, timeSinceLastS = rec.record(t, idx.window)
	idx.appendGlobal(anomalyType, t)
	return
}

func (idx *RecurrenceIndex) recordFor(anomalyType string) *typeRecord {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rec, ok := idx.types[anomalyType]
	if !ok {
		rec = &typeRecord{}
		idx.types[anomalyType] = rec
	}
	return rec
}

func (idx *RecurrenceIndex) appendGlobal(anomalyType string, t time.Time) {
	idx.histMu.Lock()
	defer idx.histMu.Unlock()
	idx.history = append(idx.history, globalEntry{anomalyType: anomalyType, timestamp: t})
	if len(idx.history) > maxGlobalHistory {
		idx.compactLocked(t)
	}
}

// compactLocked discards global-history entries older than the recurrence
// window. Caller must hold histMu.
func (idx *RecurrenceIndex) compactLocked(now time.Time) {
	cutoff := now.Add(-idx.window)
	kept := idx.history[:0]
	for _, e := range idx.history {
		if !e.timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	idx.history = kept
}

// GlobalHistoryLen returns the current size of the bounded flat history,
// for introspection/metrics.
func (idx *RecurrenceIndex) GlobalHistoryLen() int {
	idx.histMu.Lock()
	defer idx.histMu.Unlock()
	return len(idx.history)
}
