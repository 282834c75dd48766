package registry

import (
	"context"

	"github.com/teranos/cronctl/errors"
)

// Executor runs one occurrence of an action.
type Executor interface {
	Run(ctx context.Context, action string, args []string) error
}

// Dispatcher is the lookup-table Executor: registered jobs first, then
// one-off handlers such as the entity publisher.
type Dispatcher struct {
	registry *Registry
	oneOff   map[string]Handler
}

// NewDispatcher builds a Dispatcher over reg and the given one-off handlers.
func NewDispatcher(reg *Registry, oneOff map[string]Handler) *Dispatcher {
	m := make(map[string]Handler, len(oneOff))
	for action, h := range oneOff {
		m[action] = h
	}
	return &Dispatcher{registry: reg, oneOff: m}
}

// Handles reports whether Run has a handler for action.
func (d *Dispatcher) Handles(action string) bool {
	return d.handler(action) != nil
}

// Run invokes the handler for action. Returns ErrNotFound for unknown actions.
func (d *Dispatcher) Run(ctx context.Context, action string, args []string) error {
	h := d.handler(action)
	if h == nil {
		return errors.NewNotFoundError("no handler for action %q", action)
	}
	return h(ctx, args)
}

func (d *Dispatcher) handler(action string) Handler {
	if d.registry != nil {
		if job, ok := d.registry.Lookup(action); ok && job.Handler != nil {
			return job.Handler
		}
	}
	return d.oneOff[action]
}
