// Package registry holds the schedule catalog (named cadences) and the job
// registry (recurring actions the system must always run).
//
// Both tables are assembled once by Build from built-in definitions plus
// caller extensions and are read-only afterwards. Extensions never displace
// a built-in: a colliding or incomplete extension is logged and dropped.
package registry

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/logger"
)

// Handler executes one occurrence of an action. Invoked by the runner, never
// by the reconciliation passes.
type Handler func(ctx context.Context, args []string) error

// Cadence is a named recurring interval.
type Cadence struct {
	Name        string        `validate:"required"`
	Interval    time.Duration `validate:"gt=0"`
	Description string
}

// Job binds an action to a cadence and a handler.
type Job struct {
	Action  string  `validate:"required"`
	Cadence string  `validate:"required"`
	Handler Handler `validate:"required"`
}

// Extensions are caller-supplied definitions, applied in order after the
// built-ins.
type Extensions struct {
	Cadences []Cadence
	Jobs     []Job
}

// Rejection records an extension that Build dropped.
type Rejection struct {
	Kind   string // "cadence" or "job"
	Name   string
	Reason string
}

// validate is shared; validator caches struct metadata and is safe for concurrent use.
var validate = validator.New()

// Catalog maps cadence names to cadences.
type Catalog struct {
	byName map[string]Cadence
	order  []string
}

// Lookup returns the cadence registered under name.
func (c *Catalog) Lookup(name string) (Cadence, bool) {
	cad, ok := c.byName[name]
	return cad, ok
}

// Interval resolves a cadence name to its interval, or 0 if unknown.
func (c *Catalog) Interval(name string) time.Duration {
	return c.byName[name].Interval
}

// Cadences returns all cadences in registration order.
func (c *Catalog) Cadences() []Cadence {
	out := make([]Cadence, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// Registry maps actions to recurring jobs.
type Registry struct {
	byAction map[string]Job
	order    []string
}

// Jobs returns all registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, 0, len(r.order))
	for _, action := range r.order {
		out = append(out, r.byAction[action])
	}
	return out
}

// Lookup returns the job registered for action.
func (r *Registry) Lookup(action string) (Job, bool) {
	job, ok := r.byAction[action]
	return job, ok
}

// IsInternal reports whether action belongs to a registered job. Internal
// jobs bypass the runner's admission control.
func (r *Registry) IsInternal(action string) bool {
	_, ok := r.byAction[action]
	return ok
}

// Definitions is the immutable result of Build.
type Definitions struct {
	catalog  *Catalog
	registry *Registry
	rejected []Rejection
}

// Catalog returns the cadence table.
func (d *Definitions) Catalog() *Catalog { return d.catalog }

// Registry returns the job table.
func (d *Definitions) Registry() *Registry { return d.registry }

// Rejected returns the extensions dropped during Build, in the order seen.
func (d *Definitions) Rejected() []Rejection {
	return append([]Rejection(nil), d.rejected...)
}

// Build assembles the catalog and registry. Built-ins are accepted
// unconditionally; extension cadences and then extension jobs are accepted
// in caller order unless they collide with an existing name or fail
// validation. Build never fails. A nil log discards rejection messages.
func Build(builtinCadences []Cadence, builtinJobs []Job, ext Extensions, log *zap.SugaredLogger) *Definitions {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	d := &Definitions{
		catalog:  &Catalog{byName: make(map[string]Cadence)},
		registry: &Registry{byAction: make(map[string]Job)},
	}

	for _, c := range builtinCadences {
		if _, exists := d.catalog.byName[c.Name]; exists {
			continue
		}
		d.catalog.byName[c.Name] = c
		d.catalog.order = append(d.catalog.order, c.Name)
	}
	for _, j := range builtinJobs {
		if _, exists := d.registry.byAction[j.Action]; exists {
			continue
		}
		d.registry.byAction[j.Action] = j
		d.registry.order = append(d.registry.order, j.Action)
	}

	for _, c := range ext.Cadences {
		if reason := d.checkCadence(c); reason != "" {
			d.reject(log, "cadence", c.Name, reason)
			continue
		}
		d.catalog.byName[c.Name] = c
		d.catalog.order = append(d.catalog.order, c.Name)
	}

	for _, j := range ext.Jobs {
		if reason := d.checkJob(j); reason != "" {
			d.reject(log, "job", j.Action, reason)
			continue
		}
		if _, ok := d.catalog.byName[j.Cadence]; !ok {
			log.Warnw("Job references unknown cadence; it will be queued with a zero interval",
				logger.FieldAction, j.Action,
				logger.FieldCadence, j.Cadence,
			)
		}
		d.registry.byAction[j.Action] = j
		d.registry.order = append(d.registry.order, j.Action)
	}

	return d
}

func (d *Definitions) checkCadence(c Cadence) string {
	if err := validate.Struct(c); err != nil {
		return err.Error()
	}
	if _, exists := d.catalog.byName[c.Name]; exists {
		return "duplicate cadence name"
	}
	return ""
}

func (d *Definitions) checkJob(j Job) string {
	if err := validate.Struct(j); err != nil {
		return err.Error()
	}
	if _, exists := d.registry.byAction[j.Action]; exists {
		return "duplicate action"
	}
	return ""
}

func (d *Definitions) reject(log *zap.SugaredLogger, kind, name, reason string) {
	d.rejected = append(d.rejected, Rejection{Kind: kind, Name: name, Reason: reason})
	log.Warnw("Extension rejected",
		"kind", kind,
		"name", name,
		logger.FieldError, errors.NewRejectedError("%s %q: %s", kind, name, reason),
	)
}
