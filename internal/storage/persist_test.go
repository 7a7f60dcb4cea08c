package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lucaspimentel/pscue/internal/graph"
	"github.com/lucaspimentel/pscue/internal/history"
	"github.com/lucaspimentel/pscue/internal/jump"
	"github.com/lucaspimentel/pscue/internal/sequence"
)

func TestLoadState_EmptyDatabase(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	state, err := store.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(state.Graph.Verbs) != 0 {
		t.Errorf("Graph verbs = %d, want 0", len(state.Graph.Verbs))
	}
	if len(state.History) != 0 {
		t.Errorf("History = %d records, want 0", len(state.History))
	}
	if len(state.Sequence.Transitions) != 0 {
		t.Errorf("Transitions = %d, want 0", len(state.Sequence.Transitions))
	}
	if len(state.Dirs) != 0 {
		t.Errorf("Dirs = %d, want 0", len(state.Dirs))
	}
}

func TestApplyDelta_RoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	earlier := now.Add(-time.Hour)

	delta := &Delta{
		Usage: []UsageDelta{
			{Verb: "git", Token: "status", At: earlier, CoOccur: map[string]int{"--short": 1}},
			{Verb: "git", Token: "status", At: now, CoOccur: map[string]int{"--short": 1}},
			{Verb: "git", Token: "--short", IsFlag: true, At: now},
		},
		ParamValues: []ParamValueDelta{
			{Verb: "git", Flag: "-m", Value: "fix bug", At: now},
		},
		History: []history.Record{
			{CommandID: uuid.NewString(), Verb: "git", FullLine: "git status --short", Args: []string{"status", "--short"}, Success: true, At: now},
		},
		Transitions: []TransitionDelta{
			{Key: "git", Next: "make"},
		},
		DirVisits: []DirVisitDelta{
			{Path: "/home/dev/proj", At: now},
		},
	}

	if err := store.ApplyDelta(ctx, delta); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}

	state, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}

	git, ok := state.Graph.Verbs["git"]
	if !ok {
		t.Fatal("Verb git missing after reload")
	}
	status := git.Args["status"]
	if status.Count != 2 {
		t.Errorf("status count = %d, want 2", status.Count)
	}
	if !status.LastUsed.Equal(now) {
		t.Errorf("status last used = %v, want %v", status.LastUsed, now)
	}
	if status.CoOccur["--short"] != 2 {
		t.Errorf("status co-occurrence with --short = %d, want 2", status.CoOccur["--short"])
	}
	short := git.Args["--short"]
	if !short.IsFlag {
		t.Error("--short should reload as a flag")
	}

	if git.ParamValues["-m"]["fix bug"].Count != 1 {
		t.Errorf("parameter value count = %d, want 1", git.ParamValues["-m"]["fix bug"].Count)
	}

	if len(state.History) != 1 {
		t.Fatalf("History = %d records, want 1", len(state.History))
	}
	rec := state.History[0]
	if rec.Verb != "git" || !rec.Success || len(rec.Args) != 2 {
		t.Errorf("Unexpected history record: %+v", rec)
	}

	if state.Sequence.Transitions["git"]["make"] != 1 {
		t.Errorf("transition git->make = %d, want 1", state.Sequence.Transitions["git"]["make"])
	}

	dir := state.Dirs["/home/dev/proj"]
	if dir.Visits != 1 {
		t.Errorf("dir visits = %d, want 1", dir.Visits)
	}
	if !dir.LastVisit.Equal(now) {
		t.Errorf("dir last visit = %v, want %v", dir.LastVisit, now)
	}
}

func TestApplyDelta_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	if err := store.ApplyDelta(context.Background(), &Delta{}); err != nil {
		t.Fatalf("ApplyDelta(empty) error = %v", err)
	}
	if err := store.ApplyDelta(context.Background(), nil); err != nil {
		t.Fatalf("ApplyDelta(nil) error = %v", err)
	}
}

func TestApplyDelta_HistoryDeduplicatesByCommandID(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := history.Record{
		CommandID: uuid.NewString(),
		Verb:      "ls",
		FullLine:  "ls -la",
		Args:      []string{"-la"},
		Success:   true,
		At:        time.Now(),
	}

	for i := 0; i < 3; i++ {
		if err := store.ApplyDelta(ctx, &Delta{History: []history.Record{rec}}); err != nil {
			t.Fatalf("ApplyDelta() error = %v", err)
		}
	}

	state, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(state.History) != 1 {
		t.Errorf("History = %d records, want 1 (same command id)", len(state.History))
	}
}

func TestApplyDelta_WorkflowRunningMean(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	steps := []string{"git add", "git commit", "git push"}

	deltas := []WorkflowDelta{
		{Steps: steps, MeanGap: 30 * time.Second, At: time.Now().Add(-time.Minute)},
		{Steps: steps, MeanGap: 60 * time.Second, At: time.Now()},
	}
	for _, wf := range deltas {
		if err := store.ApplyDelta(ctx, &Delta{Workflows: []WorkflowDelta{wf}}); err != nil {
			t.Fatalf("ApplyDelta() error = %v", err)
		}
	}

	state, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(state.Sequence.Workflows) != 1 {
		t.Fatalf("Workflows = %d, want 1", len(state.Sequence.Workflows))
	}
	wf := state.Sequence.Workflows[0]
	if wf.Occurrences != 2 {
		t.Errorf("Occurrences = %d, want 2", wf.Occurrences)
	}
	if wf.AvgStepGap != 45*time.Second {
		t.Errorf("AvgStepGap = %v, want 45s", wf.AvgStepGap)
	}
	if len(wf.Steps) != 3 || wf.Steps[0] != "git add" {
		t.Errorf("Steps = %v, want %v", wf.Steps, steps)
	}
}

func TestApplyDelta_ConcurrentSessionsSum(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "shared.db")

	storeA := newTestStoreAt(t, dbPath)
	defer storeA.Close()
	storeB := newTestStoreAt(t, dbPath)
	defer storeB.Close()

	const perStore = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	worker := func(s *SQLiteStore) {
		defer wg.Done()
		for i := 0; i < perStore; i++ {
			d := &Delta{
				Usage: []UsageDelta{
					{Verb: "kubectl", Token: "get", At: time.Now()},
				},
				DirVisits: []DirVisitDelta{
					{Path: "/tmp/work", At: time.Now()},
				},
			}
			if err := s.ApplyDelta(context.Background(), d); err != nil {
				errs <- err
				return
			}
		}
	}

	wg.Add(2)
	go worker(storeA)
	go worker(storeB)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent ApplyDelta() error = %v", err)
	}

	state, err := storeA.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	got := state.Graph.Verbs["kubectl"].Args["get"].Count
	if got != 2*perStore {
		t.Errorf("kubectl get count = %d, want %d (both sessions' counts must sum)", got, 2*perStore)
	}
	if visits := state.Dirs["/tmp/work"].Visits; visits != 2*perStore {
		t.Errorf("dir visits = %d, want %d", visits, 2*perStore)
	}
}

func TestReplaceState_RoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	// Seed something that must disappear after replace.
	seed := &Delta{Usage: []UsageDelta{{Verb: "old", Token: "gone", At: now}}}
	if err := store.ApplyDelta(ctx, seed); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}

	state := &State{
		Graph: &graph.Snapshot{Verbs: map[string]graph.VerbSnapshot{
			"docker": {
				Args: map[string]graph.ArgStat{
					"ps": {Count: 7, LastUsed: now, CoOccur: map[string]int{"-a": 3}},
					"-a": {Count: 3, LastUsed: now, IsFlag: true},
				},
				ParamValues: map[string]map[string]graph.ArgStat{
					"--name": {"web": {Count: 2, LastUsed: now}},
				},
			},
		}},
		History: []history.Record{
			{CommandID: uuid.NewString(), Verb: "docker", FullLine: "docker ps -a", Args: []string{"ps", "-a"}, Success: true, At: now},
		},
		Sequence: &sequence.Snapshot{
			Transitions: map[string]map[string]int{"docker": {"make": 4}},
			Workflows: []sequence.Workflow{
				{Steps: []string{"docker", "make"}, Occurrences: 2, AvgStepGap: 20 * time.Second, LastSeen: now},
			},
		},
		Dirs: map[string]jump.FrecencyStat{
			"/srv/app": {Visits: 5, LastVisit: now},
		},
	}

	if err := store.ReplaceState(ctx, state); err != nil {
		t.Fatalf("ReplaceState() error = %v", err)
	}

	got, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if _, ok := got.Graph.Verbs["old"]; ok {
		t.Error("Replaced state still contains pre-existing verb")
	}
	docker := got.Graph.Verbs["docker"]
	if docker.Args["ps"].Count != 7 || docker.Args["ps"].CoOccur["-a"] != 3 {
		t.Errorf("docker ps stats = %+v", docker.Args["ps"])
	}
	if docker.ParamValues["--name"]["web"].Count != 2 {
		t.Errorf("parameter value web count = %d, want 2", docker.ParamValues["--name"]["web"].Count)
	}
	if len(got.History) != 1 || got.History[0].FullLine != "docker ps -a" {
		t.Errorf("History = %+v", got.History)
	}
	if got.Sequence.Transitions["docker"]["make"] != 4 {
		t.Errorf("transition count = %d, want 4", got.Sequence.Transitions["docker"]["make"])
	}
	if len(got.Sequence.Workflows) != 1 || got.Sequence.Workflows[0].Occurrences != 2 {
		t.Errorf("Workflows = %+v", got.Sequence.Workflows)
	}
	if got.Dirs["/srv/app"].Visits != 5 {
		t.Errorf("dir visits = %d, want 5", got.Dirs["/srv/app"].Visits)
	}
}

func TestReplaceState_NilClears(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	seed := &Delta{
		Usage:     []UsageDelta{{Verb: "git", Token: "status", At: time.Now()}},
		DirVisits: []DirVisitDelta{{Path: "/tmp", At: time.Now()}},
	}
	if err := store.ApplyDelta(ctx, seed); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}

	if err := store.ReplaceState(ctx, nil); err != nil {
		t.Fatalf("ReplaceState(nil) error = %v", err)
	}

	state, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(state.Graph.Verbs) != 0 || len(state.Dirs) != 0 {
		t.Error("ReplaceState(nil) should leave an empty store")
	}
}

func TestPruneHistory(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	var recs []history.Record
	for i := 0; i < 10; i++ {
		recs = append(recs, history.Record{
			CommandID: uuid.NewString(),
			Verb:      "echo",
			FullLine:  "echo hi",
			Success:   true,
			At:        now.Add(time.Duration(i-9) * time.Hour),
		})
	}
	if err := store.ApplyDelta(ctx, &Delta{History: recs}); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}

	removed, err := store.PruneHistory(ctx, 4, 0)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if removed != 6 {
		t.Errorf("Removed = %d, want 6", removed)
	}

	state, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(state.History) != 4 {
		t.Fatalf("History = %d records, want 4", len(state.History))
	}
	// The newest records survive.
	if !state.History[len(state.History)-1].At.After(now.Add(-time.Hour)) {
		t.Error("Newest record should survive count pruning")
	}

	removed, err = store.PruneHistory(ctx, 0, 90*time.Minute)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Removed by age = %d, want 2", removed)
	}
}

func TestFlusher_FlushWritesBufferedDeltas(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	f := NewFlusher(store, FlusherOptions{FlushInterval: time.Hour})
	f.Start()
	defer f.Close()

	for i := 0; i < 3; i++ {
		ok := f.Enqueue(&Delta{Usage: []UsageDelta{{Verb: "go", Token: "test", At: time.Now()}}})
		if !ok {
			t.Fatal("Enqueue() dropped delta with empty queue")
		}
	}

	if err := f.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	state, err := store.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if got := state.Graph.Verbs["go"].Args["test"].Count; got != 3 {
		t.Errorf("go test count = %d, want 3", got)
	}

	stats := f.Stats()
	if stats.FlushesWritten == 0 {
		t.Error("FlushesWritten = 0, want > 0")
	}
	if stats.DeltasDropped != 0 {
		t.Errorf("DeltasDropped = %d, want 0", stats.DeltasDropped)
	}
}

func TestFlusher_CloseFlushesRemaining(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	f := NewFlusher(store, FlusherOptions{FlushInterval: time.Hour})
	f.Start()

	f.Enqueue(&Delta{DirVisits: []DirVisitDelta{{Path: "/opt/data", At: time.Now()}}})
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	state, err := store.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if state.Dirs["/opt/data"].Visits != 1 {
		t.Error("Delta enqueued before Close was not flushed")
	}
}
