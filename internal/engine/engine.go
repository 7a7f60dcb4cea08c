// Package engine wires the prediction core together: parsing, the usage
// graph, history, sequence learning, jump tracking, and persistence. It
// is the single object a hosting shell session talks to.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lucaspimentel/pscue/internal/config"
	"github.com/lucaspimentel/pscue/internal/contextual"
	"github.com/lucaspimentel/pscue/internal/graph"
	"github.com/lucaspimentel/pscue/internal/history"
	"github.com/lucaspimentel/pscue/internal/jump"
	"github.com/lucaspimentel/pscue/internal/parser"
	"github.com/lucaspimentel/pscue/internal/predict"
	"github.com/lucaspimentel/pscue/internal/sequence"
	"github.com/lucaspimentel/pscue/internal/storage"
)

// groupVerbs are tools whose first positional argument names a
// subcommand. Usage under them is additionally learned per subcommand,
// so "git stash " ranks stash arguments rather than git's.
var groupVerbs = map[string]struct{}{
	"git":       {},
	"docker":    {},
	"kubectl":   {},
	"npm":       {},
	"go":        {},
	"cargo":     {},
	"dotnet":    {},
	"pip":       {},
	"terraform": {},
	"helm":      {},
}

// Engine is the in-process prediction engine for one shell session.
// Learning is synchronous against the in-memory models and asynchronous
// against the store; lookups never touch the database.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	flusher  *storage.Flusher
	parser   *parser.Parser
	graph    *graph.Graph
	log      *history.Log
	seq      *sequence.Model
	analyzer *contextual.Analyzer
	pred     *predict.Predictor
	jump     *jump.Engine

	closeOnce sync.Once
	closeErr  error
}

// New builds an engine from the given configuration and store. A nil
// store runs the engine purely in memory. A store read failure is not
// fatal: the engine starts with empty models and logs a warning.
func New(cfg *config.Config, store storage.Store, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		store:  store,
		parser: parser.New(nil),
		graph:  graph.New(),
		log:    history.NewLog(),
		jump:   jump.NewEngine(),
		seq: sequence.NewModel(sequence.Config{
			Order:                  cfg.Sequence.Order,
			WorkflowGap:            cfg.WorkflowGap(),
			MinWorkflowSteps:       cfg.Sequence.WorkflowMinSteps,
			MinWorkflowOccurrences: cfg.Sequence.WorkflowMinOccurrences,
		}),
	}

	for _, flag := range cfg.Parser.ValueFlags {
		e.parser.Registry().RegisterParameterRequiringValue(flag)
	}

	analyzer, err := contextual.NewAnalyzerWithOptions(e.log, e.seq, contextual.Options{
		Window:    cfg.Suggestions.ContextWindow,
		WindowAge: cfg.WindowAge(),
	})
	if err != nil {
		return nil, err
	}
	e.analyzer = analyzer

	pred, err := predict.New(e.graph, e.analyzer, e.parser)
	if err != nil {
		return nil, err
	}
	e.pred = pred

	if store != nil {
		// Retention is maintenance, applied at startup before the load.
		if pruner, ok := store.(interface {
			PruneHistory(context.Context, int, time.Duration) (int64, error)
		}); ok {
			if n, err := pruner.PruneHistory(context.Background(), cfg.History.MaxCommands, cfg.HistoryMaxAge()); err != nil {
				logger.Warn("history pruning failed", "error", err)
			} else if n > 0 {
				logger.Debug("pruned stored history", "removed", n)
			}
		}

		state, err := store.LoadState(context.Background())
		if err != nil {
			logger.Warn("failed to load persisted state, starting empty", "error", err)
		} else {
			e.restore(state)
		}

		e.flusher = storage.NewFlusher(store, storage.FlusherOptions{
			Logger:        logger,
			FlushInterval: cfg.FlushInterval(),
			QueueSize:     cfg.Storage.QueueSize,
		})
		e.flusher.Start()
	}

	return e, nil
}

// Parser exposes the shared parser, mainly so callers can register
// value-taking flags on its registry.
func (e *Engine) Parser() *parser.Parser {
	return e.parser
}

// CommandExecuted is the feedback boundary: the hosting shell calls it
// after every executed command. The command flows into history, the
// usage graph and the sequence model, and a matching delta is queued
// for persistence. It never blocks on I/O.
func (e *Engine) CommandExecuted(command, fullLine string, args []string, success bool) {
	e.CommandExecutedAt(command, fullLine, args, success, time.Now())
}

// CommandExecutedAt is CommandExecuted with an explicit timestamp.
func (e *Engine) CommandExecutedAt(command, fullLine string, args []string, success bool, at time.Time) {
	line := strings.TrimSpace(fullLine)
	if line == "" {
		parts := append([]string{command}, args...)
		line = strings.TrimSpace(strings.Join(parts, " "))
	}
	if line == "" {
		return
	}

	pc := e.parser.Parse(line)
	if pc.Verb == "" {
		return
	}

	delta := &storage.Delta{}

	e.graph.RecordParsedAt(pc, at)
	appendUsageDeltas(delta, pc.Verb, pc.Tokens, at)

	// Subcommand tools learn a second, narrower verb so later queries
	// under "git stash" rank stash arguments.
	if sub, ok := subcommandOf(pc); ok {
		e.graph.RecordParsedAt(sub, at)
		appendUsageDeltas(delta, sub.Verb, sub.Tokens, at)
	}

	rec := e.log.Append(pc.Verb, line, pc.Args(), success, at)
	delta.History = append(delta.History, rec)
	e.log.Prune(e.cfg.History.MaxCommands, e.cfg.HistoryMaxAge(), at)

	obs := e.seq.Record(pc.Verb, at)
	if obs.NextVerb != "" {
		delta.Transitions = append(delta.Transitions, storage.TransitionDelta{
			Key:  obs.TransitionKey,
			Next: obs.NextVerb,
		})
	}
	if obs.Finalized != nil {
		delta.Workflows = append(delta.Workflows, storage.WorkflowDelta{
			Steps:   obs.Finalized.Steps,
			MeanGap: obs.Finalized.MeanGap,
			At:      obs.Finalized.At,
		})
	}

	e.enqueue(delta)
}

// Suggest returns ranked suggestions for the current partial command
// line. maxResults <= 0 takes the configured default.
func (e *Engine) Suggest(partial string, maxResults int) []predict.Suggestion {
	if maxResults <= 0 {
		maxResults = e.cfg.Suggestions.MaxResults
	}
	return e.pred.GetSuggestions(partial, maxResults)
}

// RecordJump notes a visit to path for frecency tracking.
func (e *Engine) RecordJump(path string) {
	e.RecordJumpAt(path, time.Now())
}

// RecordJumpAt is RecordJump with an explicit timestamp.
func (e *Engine) RecordJumpAt(path string, at time.Time) {
	if path == "" {
		return
	}
	e.jump.RecordVisitAt(path, at)
	e.enqueue(&storage.Delta{
		DirVisits: []storage.DirVisitDelta{{Path: path, At: at}},
	})
}

// JumpTo returns the best-matching visited directory for query.
func (e *Engine) JumpTo(query string) (jump.Candidate, bool) {
	return e.jump.Best(query)
}

// JumpCandidates returns ranked directory matches for query.
func (e *Engine) JumpCandidates(query string, max int) []jump.Candidate {
	return e.jump.Rank(query, max)
}

// Stats is the derived usage summary.
type Stats struct {
	History         history.Summary
	UniqueArguments int
	Workflows       []sequence.Workflow
}

// Stats summarizes everything learned so far.
func (e *Engine) Stats() Stats {
	return Stats{
		History:         e.log.Summarize(),
		UniqueArguments: e.graph.ArgumentCount(),
		Workflows:       e.seq.Workflows(),
	}
}

// Export writes the full learned state as JSON. Pending deltas are
// flushed first so the export reflects everything recorded.
func (e *Engine) Export(w io.Writer) error {
	if e.flusher != nil {
		if err := e.flusher.Flush(); err != nil {
			return fmt.Errorf("failed to flush before export: %w", err)
		}
	}

	state := e.snapshot()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return nil
}

// Import replaces all learned state, in memory and in the store, with
// the JSON previously produced by Export.
func (e *Engine) Import(r io.Reader) error {
	var state storage.State
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}

	if e.store != nil {
		if err := e.store.ReplaceState(context.Background(), &state); err != nil {
			return fmt.Errorf("failed to replace stored state: %w", err)
		}
	}
	e.restore(&state)
	return nil
}

// Clear discards all learned state, in memory and in the store.
func (e *Engine) Clear() error {
	if e.store != nil {
		if err := e.store.ReplaceState(context.Background(), nil); err != nil {
			return fmt.Errorf("failed to clear stored state: %w", err)
		}
	}
	e.restore(nil)
	return nil
}

// Close flushes pending deltas and closes the store. Safe to call
// repeatedly.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.flusher != nil {
			e.closeErr = e.flusher.Close()
		}
		if e.store != nil {
			if err := e.store.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
	})
	return e.closeErr
}

func (e *Engine) enqueue(delta *storage.Delta) {
	if e.flusher == nil || delta.Empty() {
		return
	}
	e.flusher.Enqueue(delta)
}

// snapshot captures the current in-memory models as a storable state.
func (e *Engine) snapshot() *storage.State {
	return &storage.State{
		Graph:    e.graph.Snapshot(),
		History:  e.log.All(),
		Sequence: e.seq.Snapshot(),
		Dirs:     e.jump.Snapshot(),
	}
}

// restore replaces the in-memory models with state. A nil state resets
// everything to empty.
func (e *Engine) restore(state *storage.State) {
	if state == nil {
		state = &storage.State{}
	}
	e.graph.Restore(state.Graph)
	e.log.Restore(state.History)
	e.seq.Restore(state.Sequence)
	e.jump.Restore(state.Dirs)
}

// subcommandOf derives the narrower per-subcommand command from pc when
// its verb is a known subcommand tool and the first token is positional.
func subcommandOf(pc parser.ParsedCommand) (parser.ParsedCommand, bool) {
	if _, ok := groupVerbs[pc.Verb]; !ok {
		return parser.ParsedCommand{}, false
	}
	if len(pc.Tokens) < 2 || pc.Tokens[0].Kind != parser.KindPositional {
		return parser.ParsedCommand{}, false
	}
	return parser.ParsedCommand{
		Verb:   pc.Verb + " " + pc.Tokens[0].Text,
		Tokens: pc.Tokens[1:],
	}, true
}

// appendUsageDeltas mirrors the graph's recording rules into storage
// deltas: parameter values land under their flag, everything else is a
// usage increment with pairwise co-occurrence against the other plain
// tokens on the line.
func appendUsageDeltas(delta *storage.Delta, verb string, tokens []parser.Token, at time.Time) {
	var plain []parser.Token
	for _, tok := range tokens {
		if tok.Text == "" {
			continue
		}
		if tok.Kind == parser.KindParameterValue {
			delta.ParamValues = append(delta.ParamValues, storage.ParamValueDelta{
				Verb:  verb,
				Flag:  tok.ForFlag,
				Value: tok.Text,
				At:    at,
			})
			continue
		}
		plain = append(plain, tok)
	}

	for i, tok := range plain {
		u := storage.UsageDelta{
			Verb:   verb,
			Token:  tok.Text,
			IsFlag: tok.Kind == parser.KindFlag,
			At:     at,
		}
		for j, other := range plain {
			if i == j {
				continue
			}
			if u.CoOccur == nil {
				u.CoOccur = make(map[string]int)
			}
			u.CoOccur[other.Text]++
		}
		delta.Usage = append(delta.Usage, u)
	}
}
