package jump

import (
	"sort"
	"sync"
	"time"
)

// Candidate is a ranked directory suggestion.
type Candidate struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Engine tracks visited directories and ranks them against queries. It
// follows the usage-graph pattern but is keyed by filesystem paths.
type Engine struct {
	mu   sync.RWMutex
	dirs map[string]*FrecencyStat
}

// NewEngine creates an empty jump engine.
func NewEngine() *Engine {
	return &Engine{dirs: make(map[string]*FrecencyStat)}
}

// RecordVisit notes a visit to path at the current time.
func (e *Engine) RecordVisit(path string) {
	e.RecordVisitAt(path, time.Now())
}

// RecordVisitAt notes a visit to path at an explicit time.
func (e *Engine) RecordVisitAt(path string, at time.Time) {
	if path == "" {
		return
	}
	e.mu.Lock()
	stat := e.dirs[path]
	if stat == nil {
		stat = &FrecencyStat{}
		e.dirs[path] = stat
	}
	stat.Visits++
	if at.After(stat.LastVisit) {
		stat.LastVisit = at
	}
	e.mu.Unlock()
}

// Rank scores all known directories against query and returns the
// non-zero matches, best first, truncated to max.
func (e *Engine) Rank(query string, max int) []Candidate {
	return e.RankAt(query, max, time.Now())
}

// RankAt is Rank evaluated at an explicit time.
func (e *Engine) RankAt(query string, max int, now time.Time) []Candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if max <= 0 {
		max = 10
	}

	candidates := make([]Candidate, 0, len(e.dirs))
	visits := make(map[string]int, len(e.dirs))
	for path, stat := range e.dirs {
		score := MatchScore(path, query, *stat, now)
		if score == 0 {
			continue
		}
		candidates = append(candidates, Candidate{Path: path, Score: score})
		visits[path] = stat.Visits
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if visits[candidates[i].Path] != visits[candidates[j].Path] {
			return visits[candidates[i].Path] > visits[candidates[j].Path]
		}
		return candidates[i].Path < candidates[j].Path
	})

	if len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

// Best returns the highest-ranked match for query, or false when
// nothing matches.
func (e *Engine) Best(query string) (Candidate, bool) {
	top := e.Rank(query, 1)
	if len(top) == 0 {
		return Candidate{}, false
	}
	return top[0], true
}

// Snapshot returns a copy of the visit stats for persistence and export.
func (e *Engine) Snapshot() map[string]FrecencyStat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]FrecencyStat, len(e.dirs))
	for path, stat := range e.dirs {
		out[path] = *stat
	}
	return out
}

// Restore replaces the engine's state. A nil map resets to empty.
func (e *Engine) Restore(dirs map[string]FrecencyStat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirs = make(map[string]*FrecencyStat, len(dirs))
	for path, stat := range dirs {
		cp := stat
		e.dirs[path] = &cp
	}
}
