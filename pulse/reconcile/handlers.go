package reconcile

import (
	"context"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/logger"
	"github.com/teranos/cronctl/pulse/entity"
	"github.com/teranos/cronctl/pulse/registry"
)

// Extensions are caller-supplied registry additions. Jobs name their
// handler; names resolve against the pass names and Deps.Handlers.
type Extensions struct {
	Cadences []registry.Cadence
	Jobs     []ExtensionJob
}

// ExtensionJob is a caller-declared recurring job.
type ExtensionJob struct {
	Action  string
	Cadence string
	Handler string
}

func (e *Engine) builtinJobs() []registry.Job {
	return []registry.Job{
		{Action: registry.ActionRecoverMissed, Cadence: registry.CadenceMinute, Handler: e.passHandler(PassMissed)},
		{Action: registry.ActionConfirmFuture, Cadence: registry.CadenceTenMinutes, Handler: e.passHandler(PassConfirm)},
		{Action: registry.ActionCleanLegacy, Cadence: registry.CadenceDaily, Handler: e.passHandler(PassLegacy)},
		{Action: registry.ActionPurgeCompleted, Cadence: registry.CadenceHourly, Handler: e.passHandler(PassPurge)},
	}
}

// resolve binds handler names. An unresolved name leaves a nil handler,
// which Build rejects.
func (e *Engine) resolve(ext Extensions) registry.Extensions {
	out := registry.Extensions{Cadences: ext.Cadences}
	for _, j := range ext.Jobs {
		out.Jobs = append(out.Jobs, registry.Job{
			Action:  j.Action,
			Cadence: j.Cadence,
			Handler: e.namedHandler(j.Handler),
		})
	}
	return out
}

func (e *Engine) namedHandler(name string) registry.Handler {
	if h, ok := e.handlers[name]; ok && h != nil {
		return h
	}
	for _, pass := range PassNames() {
		if pass == name {
			return e.passHandler(pass)
		}
	}
	if name != "" {
		e.log.Warnw("Unknown handler name", "handler", name)
	}
	return nil
}

func (e *Engine) passHandler(pass string) registry.Handler {
	return func(ctx context.Context, _ []string) error {
		_, err := e.Run(ctx, pass)
		return err
	}
}

// Dispatcher returns the Executor the runner uses: registered jobs plus the
// entity publisher.
func (e *Engine) Dispatcher() *registry.Dispatcher {
	return registry.NewDispatcher(e.Definitions().Registry(), map[string]registry.Handler{
		registry.ActionPublishEntity: e.PublishEntity,
	})
}

// PublishEntity is the handler for a due entity entry. It finalizes the
// entity named by args[0] unless the entity has been finalized already or
// moved to a later time, in which case ConfirmFuture owns it.
func (e *Engine) PublishEntity(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("publish requires an entity id")
	}
	id := args[0]

	if g, ok := e.entities.(interface {
		Get(ctx context.Context, id string) (*entity.Entity, error)
	}); ok {
		ent, err := g.Get(ctx, id)
		if errors.IsNotFoundError(err) {
			e.log.Warnw("Entity for due entry no longer exists", logger.FieldEntityID, id)
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to load entity")
		}
		if ent.Status != entity.StatusScheduled {
			return nil
		}
		if ent.DesiredAt.After(e.now()) {
			e.log.Debugw("Entity moved later; skipping early entry",
				logger.FieldEntityID, id,
				logger.FieldDesiredAt, ent.DesiredAt,
			)
			return nil
		}
	}

	if err := e.entities.Finalize(ctx, id); err != nil {
		return errors.Wrapf(err, "failed to publish entity %s", id)
	}
	e.log.Infow("Published entity", logger.FieldEntityID, id)
	return nil
}
