package graph

// Snapshot is a deep copy of the graph's learned state, used for
// persistence loads and JSON export/import.
type Snapshot struct {
	Verbs map[string]VerbSnapshot `json:"verbs"`
}

// VerbSnapshot captures everything learned for one verb.
type VerbSnapshot struct {
	Args        map[string]ArgStat            `json:"args"`
	ParamValues map[string]map[string]ArgStat `json:"paramValues,omitempty"`
}

// Snapshot returns a deep copy of the current state.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := &Snapshot{Verbs: make(map[string]VerbSnapshot, len(g.verbs))}
	for verb, node := range g.verbs {
		vs := VerbSnapshot{Args: make(map[string]ArgStat, len(node.args))}
		for token, stat := range node.args {
			vs.Args[token] = copyStat(stat)
		}
		if len(node.paramValues) > 0 {
			vs.ParamValues = make(map[string]map[string]ArgStat, len(node.paramValues))
			for flag, values := range node.paramValues {
				out := make(map[string]ArgStat, len(values))
				for value, stat := range values {
					out[value] = copyStat(stat)
				}
				vs.ParamValues[flag] = out
			}
		}
		snap.Verbs[verb] = vs
	}
	return snap
}

// Restore replaces the graph's state with the snapshot. A nil snapshot
// resets to empty.
func (g *Graph) Restore(snap *Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.verbs = make(map[string]*verbNode)
	if snap == nil {
		return
	}
	for verb, vs := range snap.Verbs {
		node := &verbNode{
			args:        make(map[string]*ArgStat, len(vs.Args)),
			paramValues: make(map[string]map[string]*ArgStat, len(vs.ParamValues)),
		}
		for token, stat := range vs.Args {
			node.args[token] = restoreStat(stat)
		}
		for flag, values := range vs.ParamValues {
			dst := make(map[string]*ArgStat, len(values))
			for value, stat := range values {
				dst[value] = restoreStat(stat)
			}
			node.paramValues[flag] = dst
		}
		g.verbs[verb] = node
	}
}

func restoreStat(s ArgStat) *ArgStat {
	stat := &ArgStat{
		Count:    s.Count,
		LastUsed: s.LastUsed,
		IsFlag:   s.IsFlag,
	}
	if len(s.CoOccur) > 0 {
		stat.CoOccur = make(map[string]int, len(s.CoOccur))
		for k, v := range s.CoOccur {
			stat.CoOccur[k] = v
		}
	}
	return stat
}
