// Package storage provides SQLite-backed persistence for everything the
// engine learns. Multiple shell sessions share one store; WAL mode plus
// additive delta writes keep concurrent writers from losing each
// other's updates.
package storage

import (
	"context"
	"time"

	"github.com/lucaspimentel/pscue/internal/graph"
	"github.com/lucaspimentel/pscue/internal/history"
	"github.com/lucaspimentel/pscue/internal/jump"
	"github.com/lucaspimentel/pscue/internal/sequence"
)

// Store is the narrow persistence contract: load everything, apply
// incremental learning deltas, or replace the whole state (import and
// clear). The engine depends only on this interface.
type Store interface {
	LoadState(ctx context.Context) (*State, error)
	ApplyDelta(ctx context.Context, d *Delta) error
	ReplaceState(ctx context.Context, s *State) error
	Close() error
}

// State is the full persisted model, as loaded at startup or written by
// import.
type State struct {
	Graph    *graph.Snapshot              `json:"graph"`
	History  []history.Record             `json:"history"`
	Sequence *sequence.Snapshot           `json:"sequence"`
	Dirs     map[string]jump.FrecencyStat `json:"dirs,omitempty"`
}

// Delta is one batch of incremental learning to persist. All fields are
// additive so that deltas from concurrent sessions merge by summing.
type Delta struct {
	Usage       []UsageDelta
	ParamValues []ParamValueDelta
	History     []history.Record
	Transitions []TransitionDelta
	Workflows   []WorkflowDelta
	DirVisits   []DirVisitDelta
}

// Empty reports whether the delta carries nothing to write.
func (d *Delta) Empty() bool {
	return d == nil ||
		len(d.Usage) == 0 && len(d.ParamValues) == 0 && len(d.History) == 0 &&
			len(d.Transitions) == 0 && len(d.Workflows) == 0 && len(d.DirVisits) == 0
}

// merge appends other's entries onto d.
func (d *Delta) merge(other *Delta) {
	d.Usage = append(d.Usage, other.Usage...)
	d.ParamValues = append(d.ParamValues, other.ParamValues...)
	d.History = append(d.History, other.History...)
	d.Transitions = append(d.Transitions, other.Transitions...)
	d.Workflows = append(d.Workflows, other.Workflows...)
	d.DirVisits = append(d.DirVisits, other.DirVisits...)
}

// UsageDelta is one observed argument token: +1 occurrence plus
// co-occurrence increments against the other tokens on the same line.
type UsageDelta struct {
	Verb    string
	Token   string
	IsFlag  bool
	At      time.Time
	CoOccur map[string]int
}

// ParamValueDelta is one observed value for a value-taking flag.
type ParamValueDelta struct {
	Verb  string
	Flag  string
	Value string
	At    time.Time
}

// TransitionDelta is one n-gram transition increment.
type TransitionDelta struct {
	Key  string
	Next string
}

// WorkflowDelta is one completed workflow run to fold into the stored
// aggregate (occurrences and running mean step gap).
type WorkflowDelta struct {
	Steps   []string
	MeanGap time.Duration
	At      time.Time
}

// DirVisitDelta is one directory visit.
type DirVisitDelta struct {
	Path string
	At   time.Time
}
