package sequence

import "strings"

// Snapshot is a deep copy of the model's learned state.
type Snapshot struct {
	Transitions map[string]map[string]int `json:"transitions"`
	Workflows   []Workflow                `json:"workflows"`
}

// GramKey joins verbs into a transition key; exposed for the
// persistence layer, which stores keys verbatim.
func GramKey(verbs []string) string {
	return strings.Join(verbs, gramSep)
}

// Snapshot returns a deep copy of the transition counts and workflows.
func (m *Model) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		Transitions: make(map[string]map[string]int, len(m.transitions)),
	}
	for key, next := range m.transitions {
		cp := make(map[string]int, len(next))
		for verb, n := range next {
			cp[verb] = n
		}
		snap.Transitions[key] = cp
	}
	for _, wf := range m.workflows {
		cp := *wf
		cp.Steps = append([]string(nil), wf.Steps...)
		snap.Workflows = append(snap.Workflows, cp)
	}
	return snap
}

// Restore replaces the model's learned state with the snapshot. The
// in-progress run and prediction window reset: they are session-local.
func (m *Model) Restore(snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions = make(map[string]map[string]int)
	m.workflows = make(map[string]*Workflow)
	m.window = nil
	m.runSteps = nil
	m.runGaps = nil

	if snap == nil {
		return
	}
	for key, next := range snap.Transitions {
		cp := make(map[string]int, len(next))
		for verb, n := range next {
			cp[verb] = n
		}
		m.transitions[key] = cp
	}
	for _, wf := range snap.Workflows {
		cp := wf
		cp.Steps = append([]string(nil), wf.Steps...)
		m.workflows[GramKey(cp.Steps)] = &cp
	}
}
