// Package graph maintains per-verb argument usage statistics: occurrence
// counts, recency, pairwise co-occurrence, and learned parameter values
// keyed by their owning flag. It is the knowledge base queried by the
// predictor and owned, for durability, by the persistence layer.
package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/lucaspimentel/pscue/internal/parser"
)

// ArgStat holds the learned statistics for one argument token under one verb.
type ArgStat struct {
	Count    int
	LastUsed time.Time
	CoOccur  map[string]int
	IsFlag   bool
}

// ArgEntry pairs a token with its stats for ordered query results.
type ArgEntry struct {
	Token string
	Stat  ArgStat
}

// verbNode holds everything learned for a single verb.
type verbNode struct {
	args map[string]*ArgStat
	// paramValues maps flag -> value -> stat, so "what values follow -m?"
	// queries stay cheap.
	paramValues map[string]map[string]*ArgStat
}

// Graph is the in-memory usage graph. All methods are safe for
// concurrent use; readers never block behind the persistence layer.
type Graph struct {
	mu    sync.RWMutex
	verbs map[string]*verbNode
}

// New creates an empty usage graph.
func New() *Graph {
	return &Graph{verbs: make(map[string]*verbNode)}
}

// RecordUsage records raw argument tokens for verb at the current time.
// Flag classification falls back to syntax alone (leading dashes).
func (g *Graph) RecordUsage(verb string, args []string) {
	g.RecordUsageAt(verb, args, time.Now())
}

// RecordUsageAt is RecordUsage with an explicit timestamp.
func (g *Graph) RecordUsageAt(verb string, args []string, at time.Time) {
	if verb == "" {
		return
	}
	tokens := make([]parser.Token, 0, len(args))
	for _, a := range args {
		kind := parser.KindPositional
		if parser.IsFlag(a) {
			kind = parser.KindFlag
		}
		tokens = append(tokens, parser.Token{Kind: kind, Text: a})
	}
	g.record(verb, tokens, at)
}

// RecordParsed records a parsed command, additionally associating
// parameter values with their owning flag.
func (g *Graph) RecordParsed(pc parser.ParsedCommand) {
	g.RecordParsedAt(pc, time.Now())
}

// RecordParsedAt is RecordParsed with an explicit timestamp.
func (g *Graph) RecordParsedAt(pc parser.ParsedCommand, at time.Time) {
	if pc.Verb == "" {
		return
	}
	g.record(pc.Verb, pc.Tokens, at)
}

func (g *Graph) record(verb string, tokens []parser.Token, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.verbs[verb]
	if node == nil {
		node = &verbNode{
			args:        make(map[string]*ArgStat),
			paramValues: make(map[string]map[string]*ArgStat),
		}
		g.verbs[verb] = node
	}

	// Parameter values are tracked under their flag, not as generic
	// argument tokens, and stay out of co-occurrence bookkeeping.
	var plain []string
	for _, tok := range tokens {
		if tok.Text == "" {
			continue
		}
		if tok.Kind == parser.KindParameterValue {
			values := node.paramValues[tok.ForFlag]
			if values == nil {
				values = make(map[string]*ArgStat)
				node.paramValues[tok.ForFlag] = values
			}
			bump(values, tok.Text, false, at)
			continue
		}
		bump(node.args, tok.Text, tok.Kind == parser.KindFlag, at)
		plain = append(plain, tok.Text)
	}

	// Pairwise co-occurrence among tokens seen together on this line.
	for i, a := range plain {
		for j, b := range plain {
			if i == j {
				continue
			}
			stat := node.args[a]
			if stat.CoOccur == nil {
				stat.CoOccur = make(map[string]int)
			}
			stat.CoOccur[b]++
		}
	}
}

// bump increments (or creates) the stat for token. Counts only increase
// and LastUsed only moves forward, so replayed or out-of-order records
// cannot regress the model.
func bump(m map[string]*ArgStat, token string, isFlag bool, at time.Time) {
	stat := m[token]
	if stat == nil {
		stat = &ArgStat{IsFlag: isFlag}
		m[token] = stat
	}
	stat.Count++
	if at.After(stat.LastUsed) {
		stat.LastUsed = at
	}
}

// HasVerb reports whether any usage has been recorded for verb.
func (g *Graph) HasVerb(verb string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.verbs[verb]
	return ok
}

// Verbs returns all learned verbs in lexical order.
func (g *Graph) Verbs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	verbs := make([]string, 0, len(g.verbs))
	for v := range g.verbs {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// GetArgumentStats returns the argument tokens learned for verb, ordered
// by count descending then lexically. Unknown verbs yield nil.
func (g *Graph) GetArgumentStats(verb string) []ArgEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node := g.verbs[verb]
	if node == nil {
		return nil
	}
	return sortedEntries(node.args)
}

// GetParameterValues returns values recorded for (verb, flag), ordered
// by count descending then lexically. Unknown pairs yield nil.
func (g *Graph) GetParameterValues(verb, flag string) []ArgEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node := g.verbs[verb]
	if node == nil {
		return nil
	}
	values := node.paramValues[flag]
	if values == nil {
		return nil
	}
	return sortedEntries(values)
}

// ArgumentCount returns the number of distinct argument tokens learned
// across all verbs (parameter values included).
func (g *Graph) ArgumentCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, node := range g.verbs {
		n += len(node.args)
		for _, values := range node.paramValues {
			n += len(values)
		}
	}
	return n
}

func sortedEntries(m map[string]*ArgStat) []ArgEntry {
	entries := make([]ArgEntry, 0, len(m))
	for token, stat := range m {
		entries = append(entries, ArgEntry{Token: token, Stat: copyStat(stat)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Stat.Count != entries[j].Stat.Count {
			return entries[i].Stat.Count > entries[j].Stat.Count
		}
		return entries[i].Token < entries[j].Token
	})
	return entries
}

func copyStat(s *ArgStat) ArgStat {
	out := ArgStat{
		Count:    s.Count,
		LastUsed: s.LastUsed,
		IsFlag:   s.IsFlag,
	}
	if len(s.CoOccur) > 0 {
		out.CoOccur = make(map[string]int, len(s.CoOccur))
		for k, v := range s.CoOccur {
			out.CoOccur[k] = v
		}
	}
	return out
}
