// Package history keeps the append-only log of executed commands. It is
// the context window for the context analyzer and sequence model, and
// the source of the derived usage summary.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one executed command. Records are never mutated after append.
type Record struct {
	CommandID string    `json:"commandId"`
	Verb      string    `json:"verb"`
	FullLine  string    `json:"fullLine"`
	Args      []string  `json:"args,omitempty"`
	Success   bool      `json:"success"`
	At        time.Time `json:"at"`
}

// Log is an in-memory, append-only command history. Pruning by retention
// policy is the only removal path and only drops from the front.
type Log struct {
	mu      sync.RWMutex
	records []Record
}

// NewLog creates an empty history log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a record for an executed command and returns it with its
// generated command ID.
func (l *Log) Append(verb, fullLine string, args []string, success bool, at time.Time) Record {
	rec := Record{
		CommandID: uuid.NewString(),
		Verb:      verb,
		FullLine:  fullLine,
		Args:      append([]string(nil), args...),
		Success:   success,
		At:        at,
	}
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return rec
}

// Recent returns up to n of the most recent records, oldest first.
func (l *Log) Recent(n int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || len(l.records) == 0 {
		return nil
	}
	start := len(l.records) - n
	if start < 0 {
		start = 0
	}
	return append([]Record(nil), l.records[start:]...)
}

// All returns a copy of the full log, oldest first.
func (l *Log) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Restore replaces the log contents. Used by the persistence load path
// and by import.
func (l *Log) Restore(records []Record) {
	l.mu.Lock()
	l.records = append([]Record(nil), records...)
	l.mu.Unlock()
}

// Prune applies the retention policy: keep at most maxCount records and
// drop records older than maxAge relative to now. Zero values disable
// the respective limit. Returns the number of records removed.
func (l *Log) Prune(maxCount int, maxAge time.Duration, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.records)
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		idx := 0
		for idx < len(l.records) && l.records[idx].At.Before(cutoff) {
			idx++
		}
		l.records = l.records[idx:]
	}
	if maxCount > 0 && len(l.records) > maxCount {
		l.records = l.records[len(l.records)-maxCount:]
	}
	return before - len(l.records)
}

// Summary aggregates the log for the stats query. It is derived on
// demand, never stored.
type Summary struct {
	TotalCommands  int
	UniqueVerbs    int
	SuccessRate    float64
	MostCommonVerb string
}

// Summarize computes the usage summary over the whole log.
func (l *Log) Summarize() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{TotalCommands: len(l.records)}
	if len(l.records) == 0 {
		return s
	}

	counts := make(map[string]int)
	successes := 0
	for _, rec := range l.records {
		counts[rec.Verb]++
		if rec.Success {
			successes++
		}
	}
	s.UniqueVerbs = len(counts)
	s.SuccessRate = float64(successes) / float64(len(l.records))

	best := ""
	for verb, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && verb < best) {
			best = verb
		}
	}
	s.MostCommonVerb = best
	return s
}
