// Package predict orchestrates parsing, context analysis and usage-graph
// lookups into ranked suggestions for a partly typed command line.
package predict

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lucaspimentel/pscue/internal/contextual"
	"github.com/lucaspimentel/pscue/internal/graph"
	"github.com/lucaspimentel/pscue/internal/parser"
)

// Source identifies where a suggestion came from.
type Source string

const (
	// SourceLearned marks generic suggestions from the usage graph.
	SourceLearned Source = "learned"
	// SourceContext marks suggestions injected by the adjacency context.
	SourceContext Source = "context"
	// SourceParameterValue marks learned values for a value-taking flag.
	SourceParameterValue Source = "parameter-value"
	// SourceSequence marks suggestions from learned transitions/workflows.
	SourceSequence Source = "sequence"
)

// Suggestion is one ranked completion candidate.
type Suggestion struct {
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	Description string  `json:"description,omitempty"`
	IsFlag      bool    `json:"isFlag"`
	Source      Source  `json:"source"`
}

// Scoring weights. Frequency dominates, recency breaks frequency ties,
// and the context boost folds in adjacency, transition and workflow
// signals.
const (
	weightFrequency = 0.5
	weightRecency   = 0.2
	weightContext   = 0.45

	// contextOnlyBase scores candidates that exist only in the context
	// signal, not in the usage graph.
	contextOnlyBase = 0.25

	// Learned tokens that continue an in-flight workflow are floored at
	// workflowFloorBase plus a slice proportional to the workflow's
	// relative strength, so they always clear 0.5 and stronger workflows
	// still order ahead of weaker ones.
	workflowFloorBase = 0.5
	workflowFloorSpan = 0.1
)

// DefaultMaxResults is the suggestion count used when the caller passes
// no explicit limit.
const DefaultMaxResults = 10

// Predictor ranks completion candidates for partial command lines. It
// holds non-owning references to its collaborators and never mutates
// learned state.
type Predictor struct {
	graph    *graph.Graph
	analyzer *contextual.Analyzer
	parser   *parser.Parser
}

// New creates a Predictor. All collaborators are required; a missing one
// is a configuration error, not a runtime condition.
func New(g *graph.Graph, a *contextual.Analyzer, p *parser.Parser) (*Predictor, error) {
	if g == nil {
		return nil, errors.New("predict: usage graph is required")
	}
	if a == nil {
		return nil, errors.New("predict: context analyzer is required")
	}
	if p == nil {
		return nil, errors.New("predict: parser is required")
	}
	return &Predictor{graph: g, analyzer: a, parser: p}, nil
}

// GetSuggestions returns ranked suggestions for the partial line,
// truncated to maxResults (DefaultMaxResults when <= 0). Data-driven
// misses yield an empty slice, never an error.
func (p *Predictor) GetSuggestions(partial string, maxResults int) []Suggestion {
	return p.GetSuggestionsAt(partial, maxResults, time.Now())
}

// GetSuggestionsAt is GetSuggestions evaluated at an explicit time.
func (p *Predictor) GetSuggestionsAt(partial string, maxResults int, now time.Time) []Suggestion {
	if strings.TrimSpace(partial) == "" {
		return nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	trailingSpace := strings.TrimRight(partial, " \t") != partial
	pc := p.parser.Parse(partial)
	if pc.Verb == "" {
		return nil
	}

	// Parameter-value mode: the cursor sits after a flag known to take a
	// value. Learned values or nothing; no fallback to generic tokens.
	if trailingSpace && len(pc.Tokens) > 0 {
		last := pc.Tokens[len(pc.Tokens)-1]
		if last.Kind == parser.KindFlag && p.parser.Registry().RequiresValue(last.Text) {
			return p.parameterValues(pc, last.Text, maxResults)
		}
	}

	return p.generic(pc, trailingSpace, maxResults, now)
}

// parameterValues ranks learned values for (verb, flag) by normalized
// occurrence count within that flag alone.
func (p *Predictor) parameterValues(pc parser.ParsedCommand, flag string, maxResults int) []Suggestion {
	verb := p.resolveVerb(pc, true)
	values := p.graph.GetParameterValues(verb, flag)
	if len(values) == 0 && verb != pc.Verb {
		values = p.graph.GetParameterValues(pc.Verb, flag)
	}
	if len(values) == 0 {
		return nil
	}

	// Entries arrive ordered by count, so the first holds the max.
	maxCount := values[0].Stat.Count

	out := make([]Suggestion, 0, len(values))
	for _, v := range values {
		out = append(out, Suggestion{
			Text:        v.Token,
			Score:       clamp(float64(v.Stat.Count) / float64(maxCount)),
			Description: fmt.Sprintf("learned value for %s", flag),
			Source:      SourceParameterValue,
		})
	}
	sortSuggestions(out, values)
	return truncate(out, maxResults)
}

// generic ranks argument tokens learned for the effective verb, folding
// in the context signal.
func (p *Predictor) generic(pc parser.ParsedCommand, trailingSpace bool, maxResults int, now time.Time) []Suggestion {
	verb := p.resolveVerb(pc, trailingSpace)
	entries := p.graph.GetArgumentStats(verb)
	if len(entries) == 0 {
		// Nothing learned for this verb: an empty result, by contract.
		return nil
	}

	// An incomplete trailing token filters candidates by prefix; tokens
	// already typed on the line are not suggested again.
	prefix := ""
	typed := make(map[string]struct{})
	for i, tok := range pc.Tokens {
		if !trailingSpace && i == len(pc.Tokens)-1 {
			prefix = tok.Text
			continue
		}
		typed[tok.Text] = struct{}{}
	}

	ctx := p.analyzer.CurrentAt(now)

	type scored struct {
		sug   Suggestion
		count int
	}
	var candidates []scored

	maxCount := 0
	kept := entries[:0:0]
	for _, e := range entries {
		if !keepCandidate(e.Token, prefix, typed) {
			continue
		}
		kept = append(kept, e)
		if e.Stat.Count > maxCount {
			maxCount = e.Stat.Count
		}
	}
	if maxCount == 0 {
		return nil
	}

	for _, e := range kept {
		freq := float64(e.Stat.Count) / float64(maxCount)
		rec := recencyScore(e.Stat.LastUsed, now)
		boost := ctx.BoostFor(e.Token)
		score := clamp(weightFrequency*freq + weightRecency*rec + weightContext*boost)
		if w := ctx.Workflow[e.Token]; w > 0 {
			if floor := workflowFloorBase + workflowFloorSpan*w; score < floor {
				score = floor
			}
		}
		candidates = append(candidates, scored{
			sug: Suggestion{
				Text:        e.Token,
				Score:       score,
				Description: coOccurrenceNote(e.Stat),
				IsFlag:      e.Stat.IsFlag,
				Source:      SourceLearned,
			},
			count: e.Stat.Count,
		})
	}

	// Context tokens the graph has not seen for this verb still surface,
	// labeled by their origin.
	seen := make(map[string]struct{}, len(kept))
	for _, e := range kept {
		seen[e.Token] = struct{}{}
	}
	for _, extra := range contextOnly(ctx, seen, prefix, typed) {
		candidates = append(candidates, scored{sug: extra})
	}

	out := make([]Suggestion, len(candidates))
	counts := make([]int, len(candidates))
	for i, c := range candidates {
		out[i] = c.sug
		counts[i] = c.count
	}
	sortWithCounts(out, counts)
	return truncate(out, maxResults)
}

// resolveVerb finds the longest learned verb path for a multi-word
// partial, falling back to the literal first token. Only complete tokens
// participate; an incomplete trailing token never extends the verb.
func (p *Predictor) resolveVerb(pc parser.ParsedCommand, trailingSpace bool) string {
	words := []string{pc.Verb}
	for i, tok := range pc.Tokens {
		if !trailingSpace && i == len(pc.Tokens)-1 {
			break
		}
		if tok.Kind != parser.KindPositional {
			break
		}
		words = append(words, tok.Text)
	}
	for l := len(words); l > 1; l-- {
		candidate := strings.Join(words[:l], " ")
		if p.graph.HasVerb(candidate) {
			return candidate
		}
	}
	return pc.Verb
}

func keepCandidate(token, prefix string, typed map[string]struct{}) bool {
	if prefix != "" {
		if token == prefix || !strings.HasPrefix(token, prefix) {
			return false
		}
	}
	_, already := typed[token]
	return !already
}

// contextOnly builds suggestions for boosted tokens absent from the
// graph's stats for this verb.
func contextOnly(ctx contextual.Context, seen map[string]struct{}, prefix string, typed map[string]struct{}) []Suggestion {
	var out []Suggestion
	add := func(token string, w float64, src Source) {
		if _, ok := seen[token]; ok {
			return
		}
		if !keepCandidate(token, prefix, typed) {
			return
		}
		seen[token] = struct{}{}
		out = append(out, Suggestion{
			Text:        token,
			Score:       clamp(contextOnlyBase + weightContext*w),
			Description: "follows recent commands",
			Source:      src,
		})
	}
	// Sequence continuations take the sequence label even when the
	// adjacency table also mentions the token.
	for token, w := range ctx.Workflow {
		add(token, w, SourceSequence)
	}
	for token, w := range ctx.Sequence {
		add(token, w, SourceSequence)
	}
	for token, w := range ctx.Boosts {
		add(token, w, SourceContext)
	}
	return out
}

// recencyScore decays monotonically with elapsed time:
// 1 / (1 + ln(hours + 1)).
func recencyScore(lastUsed, now time.Time) float64 {
	hours := now.Sub(lastUsed).Hours()
	if hours < 0 {
		hours = 0
	}
	return 1.0 / (1.0 + math.Log(hours+1))
}

// coOccurrenceNote summarizes the strongest co-occurrence for display.
func coOccurrenceNote(stat graph.ArgStat) string {
	best := ""
	bestCount := 0
	for token, n := range stat.CoOccur {
		if n > bestCount || (n == bestCount && (best == "" || token < best)) {
			best, bestCount = token, n
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf("often used with %s", best)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sortSuggestions orders by score, then raw occurrence count, then text,
// keeping output deterministic. entries must parallel suggestions.
func sortSuggestions(out []Suggestion, entries []graph.ArgEntry) {
	counts := make([]int, len(entries))
	for i, e := range entries {
		counts[i] = e.Stat.Count
	}
	sortWithCounts(out, counts)
}

func sortWithCounts(out []Suggestion, counts []int) {
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if counts[i] != counts[j] {
			return counts[i] > counts[j]
		}
		return out[i].Text < out[j].Text
	})
	sorted := make([]Suggestion, len(out))
	for pos, i := range idx {
		sorted[pos] = out[i]
	}
	copy(out, sorted)
}

func truncate(s []Suggestion, max int) []Suggestion {
	if len(s) > max {
		return s[:max]
	}
	return s
}
