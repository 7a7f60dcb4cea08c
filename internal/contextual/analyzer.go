// Package contextual derives a workflow-context signal from recent
// command history. Its output is advisory: a set of per-token boost
// weights the predictor folds into scoring, never a hard filter.
package contextual

import (
	"errors"
	"time"

	"github.com/lucaspimentel/pscue/internal/history"
	"github.com/lucaspimentel/pscue/internal/sequence"
)

// Context is the signal emitted for the current moment: recently used
// verbs and args inside the trailing window, and expected-next boost
// weights in [0, 1] keyed by token. Boosts come from the built-in
// adjacency table, Sequence from learned transitions, and Workflow from
// continuations of a workflow the recent commands have started.
type Context struct {
	RecentVerbs []string
	RecentArgs  []string
	Boosts      map[string]float64
	Sequence    map[string]float64
	Workflow    map[string]float64
}

// BoostFor returns the strongest boost weight for token across all
// signal sources.
func (c Context) BoostFor(token string) float64 {
	w := c.Boosts[token]
	if s := c.Sequence[token]; s > w {
		w = s
	}
	if s := c.Workflow[token]; s > w {
		w = s
	}
	return w
}

// followups maps a recently seen verb or argument token to tokens that
// commonly come next in tool workflows. Learned transitions extend this
// table at query time; it seeds sensible behavior before any sequences
// have been learned.
var followups = map[string][]string{
	"add":      {"commit", "status"},
	"commit":   {"push", "log"},
	"push":     {"pull", "status"},
	"pull":     {"status", "merge"},
	"checkout": {"pull", "status"},
	"merge":    {"push", "log"},
	"clone":    {"status", "checkout"},
	"build":    {"test", "run"},
	"test":     {"commit", "build"},
	"install":  {"run", "test"},
}

// decayPerStep scales a boost down for each step the triggering command
// sits back in the window, so the latest command dominates.
const decayPerStep = 0.8

// Analyzer inspects the trailing slice of command history.
type Analyzer struct {
	log       *history.Log
	seq       *sequence.Model
	window    int
	windowAge time.Duration
}

// Options tunes the analyzer window. Zero values take the defaults
// (5 commands, 10 minutes).
type Options struct {
	Window    int
	WindowAge time.Duration
}

// NewAnalyzer creates an Analyzer over the given history log and
// sequence model. Both collaborators are required.
func NewAnalyzer(log *history.Log, seq *sequence.Model) (*Analyzer, error) {
	return NewAnalyzerWithOptions(log, seq, Options{})
}

// NewAnalyzerWithOptions is NewAnalyzer with explicit window tuning.
func NewAnalyzerWithOptions(log *history.Log, seq *sequence.Model, opts Options) (*Analyzer, error) {
	if log == nil {
		return nil, errors.New("contextual: history log is required")
	}
	if seq == nil {
		return nil, errors.New("contextual: sequence model is required")
	}
	if opts.Window <= 0 {
		opts.Window = 5
	}
	if opts.WindowAge <= 0 {
		opts.WindowAge = 10 * time.Minute
	}
	return &Analyzer{
		log:       log,
		seq:       seq,
		window:    opts.Window,
		windowAge: opts.WindowAge,
	}, nil
}

// Current computes the context signal for the present moment.
func (a *Analyzer) Current() Context {
	return a.CurrentAt(time.Now())
}

// CurrentAt computes the context signal as of the given time.
func (a *Analyzer) CurrentAt(now time.Time) Context {
	recent := a.log.Recent(a.window)

	ctx := Context{
		Boosts:   make(map[string]float64),
		Sequence: make(map[string]float64),
		Workflow: make(map[string]float64),
	}
	cutoff := now.Add(-a.windowAge)

	// Newest record last; distance 0 is the most recent command.
	for i := len(recent) - 1; i >= 0; i-- {
		rec := recent[i]
		if rec.At.Before(cutoff) {
			break
		}
		ctx.RecentVerbs = append([]string{rec.Verb}, ctx.RecentVerbs...)
		ctx.RecentArgs = append(append([]string{}, rec.Args...), ctx.RecentArgs...)

		// Failed commands stay in the window for display purposes but do
		// not vote on what comes next.
		if !rec.Success {
			continue
		}
		scale := stepScale(len(recent) - 1 - i)
		for _, trigger := range append([]string{rec.Verb}, rec.Args...) {
			for _, next := range followups[trigger] {
				boost(ctx.Boosts, next, scale)
			}
		}
	}

	// Learned transition predictions, weighted by probability.
	for _, p := range a.seq.PredictNext(ctx.RecentVerbs) {
		boost(ctx.Sequence, p.Verb, p.Probability)
	}

	// Learned workflow continuations carry their own weights and are
	// kept apart from transition predictions so the ranker can treat an
	// in-flight workflow as a stronger commitment.
	for step, w := range a.seq.NextWorkflowSteps(ctx.RecentVerbs) {
		boost(ctx.Workflow, step, w)
	}

	return ctx
}

func stepScale(distance int) float64 {
	scale := 1.0
	for i := 0; i < distance; i++ {
		scale *= decayPerStep
	}
	return scale
}

// boost raises the weight for token, keeping the strongest signal.
func boost(m map[string]float64, token string, w float64) {
	if w > 1 {
		w = 1
	}
	if w > m[token] {
		m[token] = w
	}
}
