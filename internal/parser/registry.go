package parser

import "sync"

// Registry holds the set of flags known to require a following value.
// It is shared by the parser (to tag parameter values at parse time) and
// the predictor (to detect parameter-value mode), so both must be handed
// the same instance at construction. Writes happen at configuration time,
// reads on every parse.
type Registry struct {
	mu            sync.RWMutex
	requiresValue map[string]struct{}
}

// NewRegistry creates an empty flag registry.
func NewRegistry() *Registry {
	return &Registry{
		requiresValue: make(map[string]struct{}),
	}
}

// RegisterParameterRequiringValue marks a flag as taking a value in the
// following token. Registering the same flag twice is a no-op.
func (r *Registry) RegisterParameterRequiringValue(flag string) {
	if flag == "" {
		return
	}
	r.mu.Lock()
	r.requiresValue[flag] = struct{}{}
	r.mu.Unlock()
}

// RequiresValue reports whether flag has been registered as value-taking.
func (r *Registry) RequiresValue(flag string) bool {
	r.mu.RLock()
	_, ok := r.requiresValue[flag]
	r.mu.RUnlock()
	return ok
}

// RegisteredFlags returns a copy of all registered value-taking flags.
func (r *Registry) RegisteredFlags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flags := make([]string, 0, len(r.requiresValue))
	for f := range r.requiresValue {
		flags = append(flags, f)
	}
	return flags
}
