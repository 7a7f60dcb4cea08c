// Package jump scores candidate directories for smart path navigation,
// combining fuzzy name matching with frecency (visit frequency plus
// recency).
package jump

import (
	"math"
	"path/filepath"
	"strings"
	"time"
)

// FrecencyStat records how often and how recently a directory was visited.
type FrecencyStat struct {
	Visits    int       `json:"visits"`
	LastVisit time.Time `json:"lastVisit"`
}

// Score component weights. An exact final-component match short-circuits
// to 1.0 and a non-substring match to 0.0; everything else lands
// strictly between, pushed up by overlap and frecency.
const (
	matchFloor    = 0.30
	weightOverlap = 0.40
	weightFrec    = 0.25
	prefixBonus   = 0.04
)

// MatchScore scores candidate path against query at the given time.
// Matching is case-sensitive against the path's final component; a
// single trailing separator on either side is ignored.
func MatchScore(path, query string, stat FrecencyStat, now time.Time) float64 {
	query = strings.TrimSuffix(query, string(filepath.Separator))
	if query == "" {
		return 0
	}
	base := filepath.Base(strings.TrimSuffix(path, string(filepath.Separator)))

	if base == query {
		return 1.0
	}
	if !strings.Contains(base, query) {
		return 0.0
	}

	// Substring match: overlap is strictly below 1 here, so the result
	// stays strictly inside (0, 1).
	overlap := float64(len(query)) / float64(len(base))
	score := matchFloor + weightOverlap*overlap + weightFrec*frecency(stat, now)
	if strings.HasPrefix(base, query) {
		score += prefixBonus
	}
	return score
}

// frecency maps visit stats into [0, 1]. Frequency saturates slowly;
// recency decays with the same curve the predictor uses.
func frecency(stat FrecencyStat, now time.Time) float64 {
	if stat.Visits <= 0 {
		return 0
	}
	freq := float64(stat.Visits) / float64(stat.Visits+5)

	hours := now.Sub(stat.LastVisit).Hours()
	if hours < 0 {
		hours = 0
	}
	rec := 1.0 / (1.0 + math.Log(hours+1))

	return 0.6*freq + 0.4*rec
}
