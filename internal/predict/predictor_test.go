package predict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspimentel/pscue/internal/contextual"
	"github.com/lucaspimentel/pscue/internal/graph"
	"github.com/lucaspimentel/pscue/internal/history"
	"github.com/lucaspimentel/pscue/internal/parser"
	"github.com/lucaspimentel/pscue/internal/sequence"
)

type fixture struct {
	graph    *graph.Graph
	log      *history.Log
	seq      *sequence.Model
	parser   *parser.Parser
	registry *parser.Registry
	pred     *Predictor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := parser.NewRegistry()
	p := parser.New(reg)
	g := graph.New()
	log := history.NewLog()
	seq := sequence.NewModel(sequence.DefaultConfig())

	analyzer, err := contextual.NewAnalyzer(log, seq)
	require.NoError(t, err)

	pred, err := New(g, analyzer, p)
	require.NoError(t, err)

	return &fixture{graph: g, log: log, seq: seq, parser: p, registry: reg, pred: pred}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	analyzer, err := contextual.NewAnalyzer(f.log, f.seq)
	require.NoError(t, err)

	_, err = New(nil, analyzer, f.parser)
	assert.Error(t, err)
	_, err = New(f.graph, nil, f.parser)
	assert.Error(t, err)
	_, err = New(f.graph, analyzer, nil)
	assert.Error(t, err)
}

func TestGetSuggestions_EmptyInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.graph.RecordUsage("git", []string{"status"})

	assert.Empty(t, f.pred.GetSuggestions("", 10))
	assert.Empty(t, f.pred.GetSuggestions("   ", 10))
}

func TestGetSuggestions_UnknownVerb(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assert.Empty(t, f.pred.GetSuggestions("git", 10))
	assert.Empty(t, f.pred.GetSuggestions("made-up-tool --flag", 10))
}

func TestGetSuggestions_FrequencyOrdering(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	f.graph.RecordUsageAt("git", []string{"status"}, now)
	f.graph.RecordUsageAt("git", []string{"status"}, now)
	f.graph.RecordUsageAt("git", []string{"status"}, now)
	f.graph.RecordUsageAt("git", []string{"pull"}, now)

	sugs := f.pred.GetSuggestionsAt("git ", 10, now)
	require.Len(t, sugs, 2)
	assert.Equal(t, "status", sugs[0].Text)
	assert.Equal(t, "pull", sugs[1].Text)
	assert.Greater(t, sugs[0].Score, sugs[1].Score)
	for _, s := range sugs {
		assert.Equal(t, SourceLearned, s.Source)
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
	}
}

func TestGetSuggestions_RecencyBreaksFrequencyTies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	f.graph.RecordUsageAt("git", []string{"fetch"}, now.Add(-48*time.Hour))
	f.graph.RecordUsageAt("git", []string{"rebase"}, now.Add(-time.Minute))

	sugs := f.pred.GetSuggestionsAt("git ", 10, now)
	require.Len(t, sugs, 2)
	assert.Equal(t, "rebase", sugs[0].Text)
	assert.Equal(t, "fetch", sugs[1].Text)
}

func TestGetSuggestions_MaxResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	for _, arg := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		f.graph.RecordUsageAt("tool", []string{arg}, now)
	}

	assert.Len(t, f.pred.GetSuggestionsAt("tool ", 5, now), 5)
	assert.Len(t, f.pred.GetSuggestionsAt("tool ", 100, now), 7)
	// Default limit applies when no explicit limit is given.
	assert.Len(t, f.pred.GetSuggestionsAt("tool ", 0, now), 7)
}

func TestGetSuggestions_PrefixFilter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	f.graph.RecordUsageAt("git", []string{"checkout"}, now)
	f.graph.RecordUsageAt("git", []string{"cherry-pick"}, now)
	f.graph.RecordUsageAt("git", []string{"status"}, now)

	sugs := f.pred.GetSuggestionsAt("git ch", 10, now)
	require.Len(t, sugs, 2)
	assert.Equal(t, "checkout", sugs[0].Text)
	assert.Equal(t, "cherry-pick", sugs[1].Text)
}

func TestGetSuggestions_AlreadyTypedTokensExcluded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	f.graph.RecordUsageAt("git", []string{"commit", "-a"}, now)

	sugs := f.pred.GetSuggestionsAt("git commit ", 10, now)
	require.Len(t, sugs, 1)
	assert.Equal(t, "-a", sugs[0].Text)
	assert.True(t, sugs[0].IsFlag)
}

func TestGetSuggestions_ParameterValueMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registry.RegisterParameterRequiringValue("-m")
	now := time.Unix(1700000000, 0)

	// No learned values: explicit empty result, not generic fallback.
	f.graph.RecordUsageAt("git", []string{"commit"}, now)
	assert.Empty(t, f.pred.GetSuggestionsAt("git commit -m ", 10, now))

	f.graph.RecordParsedAt(f.parser.Parse(`git commit -m "fix build"`), now)
	f.graph.RecordParsedAt(f.parser.Parse(`git commit -m "fix build"`), now)
	f.graph.RecordParsedAt(f.parser.Parse(`git commit -m "wip"`), now)

	sugs := f.pred.GetSuggestionsAt("git commit -m ", 10, now)
	require.Len(t, sugs, 2)
	assert.Equal(t, "fix build", sugs[0].Text)
	assert.InDelta(t, 1.0, sugs[0].Score, 1e-9)
	assert.Equal(t, "wip", sugs[1].Text)
	assert.InDelta(t, 0.5, sugs[1].Score, 1e-9)
	for _, s := range sugs {
		assert.Equal(t, SourceParameterValue, s.Source)
		assert.False(t, s.IsFlag)
	}
}

func TestGetSuggestions_ParameterValueModeNeedsTrailingSpace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registry.RegisterParameterRequiringValue("-m")
	now := time.Unix(1700000000, 0)
	f.graph.RecordParsedAt(f.parser.Parse(`git commit -m "wip"`), now)

	// Without trailing whitespace the user is still typing the flag.
	sugs := f.pred.GetSuggestionsAt("git commit -m", 10, now)
	for _, s := range sugs {
		assert.NotEqual(t, SourceParameterValue, s.Source)
	}
}

func TestGetSuggestions_ContextBoostClearsThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)

	// Learn "git add ." then observe a successful add; a later-recorded
	// commit candidate must rank as relevant (> 0.5).
	f.graph.RecordUsageAt("git", []string{"add", "."}, now.Add(-time.Hour))
	f.log.Append("git", "git add .", []string{"add", "."}, true, now.Add(-time.Minute))
	f.graph.RecordUsageAt("git", []string{"commit"}, now.Add(-30*time.Second))

	sugs := f.pred.GetSuggestionsAt("git ", 10, now)
	var commit *Suggestion
	for i := range sugs {
		if sugs[i].Text == "commit" {
			commit = &sugs[i]
		}
	}
	require.NotNil(t, commit, "commit must be suggested")
	assert.Greater(t, commit.Score, 0.5)
}

func TestGetSuggestions_SequenceCandidateSurfaces(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)

	// Learned transition: make follows git.
	f.seq.Record("git", now.Add(-10*time.Minute))
	f.seq.Record("make", now.Add(-9*time.Minute))

	f.graph.RecordUsageAt("git", []string{"status"}, now)
	f.log.Append("git", "git status", []string{"status"}, true, now.Add(-time.Minute))

	sugs := f.pred.GetSuggestionsAt("git ", 10, now)
	var seq *Suggestion
	for i := range sugs {
		if sugs[i].Text == "make" {
			seq = &sugs[i]
		}
	}
	require.NotNil(t, seq)
	assert.Equal(t, SourceSequence, seq.Source)
	assert.Greater(t, seq.Score, 0.0)
	assert.Less(t, seq.Score, 1.0)
}

func TestGetSuggestions_WorkflowContinuationClearsThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)

	// A weak workflow next to a much more common one, so the
	// continuation's relative weight is small.
	f.seq.Restore(&sequence.Snapshot{
		Workflows: []sequence.Workflow{
			{Steps: []string{"build", "deploy"}, Occurrences: 2, AvgStepGap: 30 * time.Second, LastSeen: now},
			{Steps: []string{"add", "commit"}, Occurrences: 10, AvgStepGap: 30 * time.Second, LastSeen: now},
		},
	})

	// "deploy" is rare and stale for the run verb; "status" dominates.
	for i := 0; i < 10; i++ {
		f.graph.RecordUsageAt("run", []string{"status"}, now.Add(-time.Minute))
	}
	f.graph.RecordUsageAt("run", []string{"deploy"}, now.Add(-90*24*time.Hour))

	// The session just finished the workflow's first step.
	f.log.Append("build", "build", nil, true, now.Add(-time.Minute))

	sugs := f.pred.GetSuggestionsAt("run ", 10, now)
	var deploy *Suggestion
	for i := range sugs {
		if sugs[i].Text == "deploy" {
			deploy = &sugs[i]
		}
	}
	require.NotNil(t, deploy, "deploy must be suggested")
	assert.Greater(t, deploy.Score, 0.5)
	assert.Less(t, deploy.Score, 1.0)
	assert.Equal(t, SourceLearned, deploy.Source)
}

func TestGetSuggestions_DeterministicTieBreak(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	f.graph.RecordUsageAt("git", []string{"pull"}, now)
	f.graph.RecordUsageAt("git", []string{"push"}, now)

	first := f.pred.GetSuggestionsAt("git ", 10, now)
	second := f.pred.GetSuggestionsAt("git ", 10, now)
	require.Equal(t, first, second)
	assert.Equal(t, "pull", first[0].Text)
	assert.Equal(t, "push", first[1].Text)
}

func TestGetSuggestions_CoOccurrenceDescription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	f.graph.RecordUsageAt("git", []string{"commit", "-a"}, now)

	sugs := f.pred.GetSuggestionsAt("git co", 10, now)
	require.Len(t, sugs, 1)
	assert.Equal(t, "commit", sugs[0].Text)
	assert.Equal(t, "often used with -a", sugs[0].Description)
}

func TestGetSuggestions_CompoundVerbResolution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Unix(1700000000, 0)
	// Compound verbs learned via explicit recording take precedence over
	// the literal first token.
	f.graph.RecordUsageAt("git stash", []string{"pop"}, now)
	f.graph.RecordUsageAt("git", []string{"status"}, now)

	sugs := f.pred.GetSuggestionsAt("git stash ", 10, now)
	require.Len(t, sugs, 1)
	assert.Equal(t, "pop", sugs[0].Text)
}

func TestRecencyScore_Monotonic(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	fresh := recencyScore(now.Add(-time.Minute), now)
	day := recencyScore(now.Add(-24*time.Hour), now)
	week := recencyScore(now.Add(-7*24*time.Hour), now)

	assert.Greater(t, fresh, day)
	assert.Greater(t, day, week)
	assert.LessOrEqual(t, fresh, 1.0)
	assert.Greater(t, week, 0.0)
}
