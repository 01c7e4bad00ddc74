package engine

import (
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/types"
)

// RegisterApp declares an app. Names are unique; the first registration wins.
func (o *Orchestrator) RegisterApp(name string, generator types.ConfigGenerator) error {
	if generator == nil {
		return werrors.InvalidOptions(name, "config generator is nil")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.generators[name]; exists {
		return werrors.DuplicateApp(name)
	}
	o.generators[name] = generator
	o.order = append(o.order, name)
	return nil
}

// AppNames returns registered app names in registration order
func (o *Orchestrator) AppNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.order...)
}

// IsRegistered reports whether an app is registered
func (o *Orchestrator) IsRegistered(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.generators[name]
	return ok
}

// targets returns the apps an operation applies to: all when name is empty
func (o *Orchestrator) targets(name string) ([]string, error) {
	if name == "" {
		return o.AppNames(), nil
	}
	if !o.IsRegistered(name) {
		return nil, werrors.AppNotRegistered(name)
	}
	return []string{name}, nil
}
