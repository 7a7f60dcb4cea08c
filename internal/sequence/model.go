// Package sequence learns verb-to-verb transitions (n-gram counts) and
// multi-step workflows clustered by inter-command timing. Its
// predictions feed the context analyzer's boost path.
package sequence

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const gramSep = "\x1f"

// Config tunes the sequence model.
type Config struct {
	// Order is the n-gram size. The default of 2 tracks bigrams:
	// P(next verb | previous verb).
	Order int
	// WorkflowGap is the maximum inter-command delay for two commands to
	// belong to the same workflow run.
	WorkflowGap time.Duration
	// MinWorkflowSteps is the minimum run length recorded as a workflow.
	MinWorkflowSteps int
	// MinWorkflowOccurrences is how often a run must repeat before it is
	// surfaced as a learned workflow.
	MinWorkflowOccurrences int
}

// DefaultConfig returns the default sequence model configuration.
func DefaultConfig() Config {
	return Config{
		Order:                  2,
		WorkflowGap:            2 * time.Minute,
		MinWorkflowSteps:       2,
		MinWorkflowOccurrences: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Order < 2 {
		c.Order = d.Order
	}
	if c.WorkflowGap <= 0 {
		c.WorkflowGap = d.WorkflowGap
	}
	if c.MinWorkflowSteps < 2 {
		c.MinWorkflowSteps = d.MinWorkflowSteps
	}
	if c.MinWorkflowOccurrences < 1 {
		c.MinWorkflowOccurrences = d.MinWorkflowOccurrences
	}
	return c
}

// Prediction is a ranked next-verb candidate.
type Prediction struct {
	Verb        string
	Count       int
	Probability float64
}

// Workflow is a learned multi-command sequence with timing aggregates.
type Workflow struct {
	Steps       []string      `json:"steps"`
	Occurrences int           `json:"occurrences"`
	AvgStepGap  time.Duration `json:"avgStepGap"`
	LastSeen    time.Time     `json:"lastSeen"`
}

// Model tracks transitions and workflow runs. Safe for concurrent use.
type Model struct {
	mu          sync.RWMutex
	cfg         Config
	transitions map[string]map[string]int

	window []string // last Order-1 verbs, for transition keys

	// Current workflow run.
	runSteps []string
	runGaps  []time.Duration
	lastAt   time.Time

	workflows map[string]*Workflow
}

// NewModel creates a sequence model with the given configuration.
func NewModel(cfg Config) *Model {
	return &Model{
		cfg:         cfg.withDefaults(),
		transitions: make(map[string]map[string]int),
		workflows:   make(map[string]*Workflow),
	}
}

// Observation reports what a single Record call learned, so the caller
// can forward it to the persistence layer as a delta.
type Observation struct {
	// TransitionKey and NextVerb describe the transition increment, when
	// one was recorded.
	TransitionKey string
	NextVerb      string
	// Finalized is the workflow run that just closed, if any.
	Finalized *RunObservation
}

// RunObservation is one completed workflow run.
type RunObservation struct {
	Steps   []string
	MeanGap time.Duration
	At      time.Time
}

// Record observes an executed verb at the given time, updating
// transition counts and the current workflow run.
func (m *Model) Record(verb string, at time.Time) Observation {
	if verb == "" {
		return Observation{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var obs Observation
	if len(m.window) == m.cfg.Order-1 && len(m.window) > 0 {
		key := strings.Join(m.window, gramSep)
		next := m.transitions[key]
		if next == nil {
			next = make(map[string]int)
			m.transitions[key] = next
		}
		next[verb]++
		obs.TransitionKey = key
		obs.NextVerb = verb
	}

	m.window = append(m.window, verb)
	if len(m.window) > m.cfg.Order-1 {
		m.window = m.window[len(m.window)-(m.cfg.Order-1):]
	}

	obs.Finalized = m.recordRunStep(verb, at)
	return obs
}

// recordRunStep extends or finalizes the current workflow run based on
// the inter-arrival gap. Caller holds the lock.
func (m *Model) recordRunStep(verb string, at time.Time) *RunObservation {
	gap := at.Sub(m.lastAt)
	var finalized *RunObservation
	if len(m.runSteps) > 0 && gap >= 0 && gap <= m.cfg.WorkflowGap {
		m.runSteps = append(m.runSteps, verb)
		m.runGaps = append(m.runGaps, gap)
	} else {
		finalized = m.finalizeRun(at)
		m.runSteps = []string{verb}
		m.runGaps = nil
	}
	m.lastAt = at
	return finalized
}

// finalizeRun records the finished run as a workflow occurrence when it
// is long enough. Caller holds the lock.
func (m *Model) finalizeRun(at time.Time) *RunObservation {
	if len(m.runSteps) < m.cfg.MinWorkflowSteps {
		return nil
	}
	key := strings.Join(m.runSteps, gramSep)
	wf := m.workflows[key]
	if wf == nil {
		wf = &Workflow{Steps: append([]string(nil), m.runSteps...)}
		m.workflows[key] = wf
	}
	var total time.Duration
	for _, g := range m.runGaps {
		total += g
	}
	mean := total / time.Duration(len(m.runGaps))

	// Running mean over occurrences keeps the aggregate cheap to update.
	wf.AvgStepGap = (wf.AvgStepGap*time.Duration(wf.Occurrences) + mean) / time.Duration(wf.Occurrences+1)
	wf.Occurrences++
	if at.After(wf.LastSeen) {
		wf.LastSeen = at
	}
	return &RunObservation{
		Steps:   append([]string(nil), m.runSteps...),
		MeanGap: mean,
		At:      at,
	}
}

// PredictNext ranks likely next verbs given the most recent verbs,
// using normalized transition counts. Shorter suffixes are tried when
// the full window has no data.
func (m *Model) PredictNext(recent []string) []Prediction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keyLen := m.cfg.Order - 1
	for l := keyLen; l >= 1; l-- {
		if len(recent) < l {
			continue
		}
		key := strings.Join(recent[len(recent)-l:], gramSep)
		next := m.transitions[key]
		if len(next) == 0 {
			continue
		}
		return rankTransitions(next)
	}
	return nil
}

func rankTransitions(next map[string]int) []Prediction {
	total := 0
	for _, n := range next {
		total += n
	}
	preds := make([]Prediction, 0, len(next))
	for verb, n := range next {
		preds = append(preds, Prediction{
			Verb:        verb,
			Count:       n,
			Probability: float64(n) / float64(total),
		})
	}
	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Count != preds[j].Count {
			return preds[i].Count > preds[j].Count
		}
		return preds[i].Verb < preds[j].Verb
	})
	return preds
}

// ActiveRun returns the verbs of the in-progress workflow run.
func (m *Model) ActiveRun() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.runSteps...)
}

// NextWorkflowSteps returns, for each learned workflow whose prefix
// matches the tail of recent, the step that would come next, weighted by
// how often the workflow has been observed.
func (m *Model) NextWorkflowSteps(recent []string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(recent) == 0 {
		return nil
	}

	maxOcc := 0
	for _, wf := range m.workflows {
		if wf.Occurrences >= m.cfg.MinWorkflowOccurrences && wf.Occurrences > maxOcc {
			maxOcc = wf.Occurrences
		}
	}
	if maxOcc == 0 {
		return nil
	}

	steps := make(map[string]float64)
	for _, wf := range m.workflows {
		if wf.Occurrences < m.cfg.MinWorkflowOccurrences {
			continue
		}
		next, ok := nextStepAfterPrefix(wf.Steps, recent)
		if !ok {
			continue
		}
		weight := float64(wf.Occurrences) / float64(maxOcc)
		if weight > steps[next] {
			steps[next] = weight
		}
	}
	if len(steps) == 0 {
		return nil
	}
	return steps
}

// nextStepAfterPrefix reports the workflow step following the longest
// workflow prefix that ends the recent verb list.
func nextStepAfterPrefix(steps, recent []string) (string, bool) {
	for l := len(steps) - 1; l >= 1; l-- {
		if len(recent) < l {
			continue
		}
		match := true
		for i := 0; i < l; i++ {
			if recent[len(recent)-l+i] != steps[i] {
				match = false
				break
			}
		}
		if match {
			return steps[l], true
		}
	}
	return "", false
}

// Workflows returns learned workflows that cleared the occurrence
// threshold, most frequent first.
func (m *Model) Workflows() []Workflow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if wf.Occurrences < m.cfg.MinWorkflowOccurrences {
			continue
		}
		cp := *wf
		cp.Steps = append([]string(nil), wf.Steps...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return strings.Join(out[i].Steps, " ") < strings.Join(out[j].Steps, " ")
	})
	return out
}
