// Package registry maps trigger names to Routine descriptors.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/petrijr/umeboshi/pkg/api"
)

// Registry resolves trigger names to RoutineDescriptors for
// scheduling and processing. Registration is expected to finish before
// dispatch starts; the lock only keeps late registrations safe.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]api.RoutineDescriptor
	log    zerolog.Logger
}

// New returns an empty Registry that logs name collisions to log.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]api.RoutineDescriptor),
		log:    log,
	}
}

// Register adds desc. Registering a trigger name twice logs a warning and
// the last registration wins.
func (r *Registry) Register(desc api.RoutineDescriptor) error {
	if desc.TriggerName == "" {
		return api.ErrNoRoutineTrigger
	}
	if desc.New == nil {
		return errors.Wrapf(api.ErrNoRoutineFactory, "trigger %q", desc.TriggerName)
	}
	desc.Behavior = desc.Behavior.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.byName[desc.TriggerName]; exists {
		r.log.Warn().
			Str("trigger", desc.TriggerName).
			Str("previous_behavior", string(prev.Behavior)).
			Str("behavior", string(desc.Behavior)).
			Msg("routine trigger registered twice, replacing previous registration")
	}

	r.byName[desc.TriggerName] = desc
	return nil
}

// MustRegister is Register that panics on error, for process start-up.
func (r *Registry) MustRegister(desc api.RoutineDescriptor) {
	if err := r.Register(desc); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for trigger.
func (r *Registry) Lookup(trigger string) (api.RoutineDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.byName[trigger]
	if !ok {
		return api.RoutineDescriptor{}, errors.Wrapf(api.ErrUnknownTrigger, "trigger %q", trigger)
	}
	return desc, nil
}

// Names returns the registered trigger names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
