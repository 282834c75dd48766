// Package reconcile keeps the queue consistent with the job registry and
// with entities that carry a desired execution time.
//
// Every pass is synchronous, lock-free and idempotent: an existence check
// precedes every create, a racing duplicate create is treated as success,
// and a store failure only leaves the affected item for the next trigger.
package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/logger"
	"github.com/teranos/cronctl/pulse/clock"
	"github.com/teranos/cronctl/pulse/entity"
	"github.com/teranos/cronctl/pulse/legacy"
	"github.com/teranos/cronctl/pulse/notify"
	"github.com/teranos/cronctl/pulse/queue"
	"github.com/teranos/cronctl/pulse/registry"
)

// Config tunes the passes. See DefaultConfig.
type Config struct {
	// QueueWindow is how far ahead a missing internal job is queued.
	QueueWindow time.Duration
	// StaleDefer is where a drift correction lands when the stale entry's
	// timestamp has already elapsed, relative to now.
	StaleDefer time.Duration
	// MissedBatch caps entities recovered per RecoverMissed pass.
	MissedBatch int
	// ConfirmPageSize and ConfirmMaxPages bound ConfirmFuture's scan.
	// Entities past the last page wait for the next trigger.
	ConfirmPageSize int
	ConfirmMaxPages int
	// CompletedRetention keeps completed entries this long before purging.
	CompletedRetention time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		QueueWindow:        60 * time.Second,
		StaleDefer:         time.Minute,
		MissedBatch:        100,
		ConfirmPageSize:    100,
		ConfirmMaxPages:    5,
		CompletedRetention: 0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueWindow <= 0 {
		c.QueueWindow = d.QueueWindow
	}
	if c.StaleDefer <= 0 {
		c.StaleDefer = d.StaleDefer
	}
	if c.MissedBatch <= 0 {
		c.MissedBatch = d.MissedBatch
	}
	if c.ConfirmPageSize <= 0 {
		c.ConfirmPageSize = d.ConfirmPageSize
	}
	if c.ConfirmMaxPages <= 0 {
		c.ConfirmMaxPages = d.ConfirmMaxPages
	}
	if c.CompletedRetention < 0 {
		c.CompletedRetention = 0
	}
	return c
}

// Deps are the collaborators an Engine reads and writes through.
type Deps struct {
	Queue    queue.Store
	Entities entity.Store
	Legacy   legacy.Store // optional; CleanLegacy skips deletion without it
	Bus      notify.Bus   // optional; events are dropped without it
	Clock    clock.Clock  // optional; wall clock by default
	Logger   *zap.SugaredLogger
	Metrics  *Metrics // optional

	// Handlers are named handlers that extension jobs may bind to, in
	// addition to the pass names.
	Handlers map[string]registry.Handler
}

// Engine runs reconciliation passes.
type Engine struct {
	queue    queue.Store
	entities entity.Store
	legacy   legacy.Store
	bus      notify.Bus
	clock    clock.Clock
	log      *zap.SugaredLogger
	metrics  *Metrics
	handlers map[string]registry.Handler
	cfg      Config

	defs atomic.Pointer[registry.Definitions]
}

// New builds an Engine and its registry: the built-in cadences and jobs
// first, then ext.
func New(deps Deps, cfg Config, ext Extensions) *Engine {
	e := &Engine{
		queue:    deps.Queue,
		entities: deps.Entities,
		legacy:   deps.Legacy,
		bus:      deps.Bus,
		clock:    deps.Clock,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		handlers: deps.Handlers,
		cfg:      cfg.withDefaults(),
	}
	if e.bus == nil {
		e.bus = notify.Nop{}
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.log == nil {
		e.log = logger.ComponentLogger("pulse.reconcile")
	}
	e.Reload(ext)
	return e
}

// Reload rebuilds the registry from the built-ins plus ext. Passes already
// running keep the definitions they started with.
func (e *Engine) Reload(ext Extensions) *registry.Definitions {
	defs := registry.Build(registry.BuiltinCadences(), e.builtinJobs(), e.resolve(ext), e.log)
	e.defs.Store(defs)
	return defs
}

// Definitions returns the current catalog and registry.
func (e *Engine) Definitions() *registry.Definitions {
	return e.defs.Load()
}

// IsInternal reports whether action is a registered job.
func (e *Engine) IsInternal(action string) bool {
	return e.Definitions().Registry().IsInternal(action)
}

// InternalActions lists the registered job actions in registry order.
func (e *Engine) InternalActions() []string {
	jobs := e.Definitions().Registry().Jobs()
	actions := make([]string, 0, len(jobs))
	for _, j := range jobs {
		actions = append(actions, j.Action)
	}
	return actions
}

// Config returns the effective tuning.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run executes the named pass.
func (e *Engine) Run(ctx context.Context, pass string) (Report, error) {
	switch pass {
	case PassEnsure:
		return e.EnsureInternalJobs(ctx), nil
	case PassDrift:
		return e.CorrectCadences(ctx), nil
	case PassConverge:
		return e.Converge(ctx), nil
	case PassMissed:
		return e.RecoverMissed(ctx), nil
	case PassConfirm:
		return e.ConfirmFuture(ctx), nil
	case PassPurge:
		return e.PurgeCompleted(ctx), nil
	case PassLegacy:
		return e.CleanLegacy(ctx), nil
	default:
		return Report{}, errors.WithHintf(
			errors.NewNotFoundError("unknown pass %q", pass),
			"valid passes: %v", PassNames())
	}
}

// EnsureInternalJobs queues every registered job that has no pending entry,
// QueueWindow from now.
func (e *Engine) EnsureInternalJobs(ctx context.Context) Report {
	r, log, start := e.begin(ctx, PassEnsure)
	e.ensure(ctx, &r, log)
	return e.finish(r, log, start)
}

// CorrectCadences replaces pending internal entries whose recorded cadence
// no longer matches the registry.
func (e *Engine) CorrectCadences(ctx context.Context) Report {
	r, log, start := e.begin(ctx, PassDrift)
	e.drift(ctx, &r, log)
	return e.finish(r, log, start)
}

// Converge runs EnsureInternalJobs then CorrectCadences as one pass.
func (e *Engine) Converge(ctx context.Context) Report {
	r, log, start := e.begin(ctx, PassConverge)
	e.ensure(ctx, &r, log)
	e.drift(ctx, &r, log)
	return e.finish(r, log, start)
}

// RecoverMissed finalizes up to MissedBatch scheduled entities whose desired
// time has elapsed, oldest first, and clears their queue entries.
func (e *Engine) RecoverMissed(ctx context.Context) Report {
	r, log, start := e.begin(ctx, PassMissed)
	now := e.now()

	due, err := e.entities.Query(ctx, entity.Filter{Status: entity.StatusScheduled, DueBy: &now}, e.cfg.MissedBatch, 0)
	if err != nil {
		e.fail(&r, log, err, "failed to query missed entities")
		return e.finish(r, log, start)
	}
	r.Pages = 1
	r.Scanned = len(due)

	for _, ent := range due {
		if err := e.entities.Finalize(ctx, ent.ID); err != nil {
			e.fail(&r, log, err, "failed to finalize missed entity", logger.FieldEntityID, ent.ID)
			continue
		}
		r.Finalized++

		// A finalized entity is never selected again, so the event goes out now
		log.Infow("Published entity after missed schedule",
			logger.FieldEntityID, ent.ID,
			logger.FieldDesiredAt, ent.DesiredAt,
		)
		e.bus.Emit(notify.EventPublishedAfterMissedSlot, ent.ID)

		args := []string{ent.ID}
		if err := e.cancelIfPending(ctx, &r, registry.ActionPublishEntity, queue.InstanceKey(args)); err != nil {
			e.fail(&r, log, err, "failed to clear entry for missed entity", logger.FieldEntityID, ent.ID)
		}
	}

	return e.finish(r, log, start)
}

// ConfirmFuture makes every future scheduled entity's queue entry match its
// desired time, scanning at most ConfirmMaxPages pages per pass.
func (e *Engine) ConfirmFuture(ctx context.Context) Report {
	r, log, start := e.begin(ctx, PassConfirm)
	now := e.now()
	filter := entity.Filter{Status: entity.StatusScheduled, After: &now}

	for page := 0; page < e.cfg.ConfirmMaxPages; page++ {
		ents, err := e.entities.Query(ctx, filter, e.cfg.ConfirmPageSize, page*e.cfg.ConfirmPageSize)
		if err != nil {
			e.fail(&r, log, err, "failed to query future entities", logger.FieldPage, page)
			break
		}
		r.Pages++
		r.Scanned += len(ents)

		for _, ent := range ents {
			e.confirm(ctx, &r, log, ent)
		}

		if len(ents) < e.cfg.ConfirmPageSize {
			break
		}
	}

	return e.finish(r, log, start)
}

// PurgeCompleted asks the queue to delete completed entries older than
// CompletedRetention.
func (e *Engine) PurgeCompleted(ctx context.Context) Report {
	r, log, start := e.begin(ctx, PassPurge)

	n, err := e.queue.PurgeCompleted(ctx, e.now().Add(-e.cfg.CompletedRetention))
	if err != nil {
		e.fail(&r, log, err, "failed to purge completed entries")
	}
	r.Purged = int(n)

	return e.finish(r, log, start)
}

// CleanLegacy deletes leftover shared state, then corrects cadence drift.
func (e *Engine) CleanLegacy(ctx context.Context) Report {
	r, log, start := e.begin(ctx, PassLegacy)

	if e.legacy != nil {
		n, err := e.legacy.Delete(ctx, legacy.Keys()...)
		if err != nil {
			e.fail(&r, log, err, "failed to delete legacy state")
		} else if n > 0 {
			log.Infow("Deleted legacy state", logger.FieldCount, n)
		}
	}
	e.drift(ctx, &r, log)

	return e.finish(r, log, start)
}

func (e *Engine) ensure(ctx context.Context, r *Report, log *zap.SugaredLogger) {
	defs := e.Definitions()
	now := e.now()
	key := queue.InstanceKey(nil)

	for _, job := range defs.Registry().Jobs() {
		r.Scanned++
		existing, err := e.queue.FindPending(ctx, job.Action, key)
		if err != nil {
			e.fail(r, log, err, "failed to look up internal job", logger.FieldAction, job.Action)
			continue
		}
		if existing != nil {
			continue
		}

		sched := e.schedule(defs, job, log)
		if _, err := e.create(ctx, r, now.Add(e.cfg.QueueWindow), job.Action, sched, nil); err != nil {
			e.fail(r, log, err, "failed to queue internal job", logger.FieldAction, job.Action)
			continue
		}
		log.Debugw("Queued internal job", logger.FieldAction, job.Action, logger.FieldCadence, job.Cadence)
	}
}

func (e *Engine) drift(ctx context.Context, r *Report, log *zap.SugaredLogger) {
	defs := e.Definitions()
	now := e.now()
	key := queue.InstanceKey(nil)

	for _, job := range defs.Registry().Jobs() {
		r.Scanned++
		existing, err := e.queue.FindPending(ctx, job.Action, key)
		if err != nil {
			e.fail(r, log, err, "failed to look up internal job", logger.FieldAction, job.Action)
			continue
		}
		if existing == nil || existing.Cadence == job.Cadence {
			continue
		}

		ts := existing.Timestamp
		if !ts.After(now) {
			ts = now.Add(e.cfg.StaleDefer)
		}

		if err := e.queue.Cancel(ctx, job.Action, key); err != nil {
			e.fail(r, log, err, "failed to cancel drifted entry", logger.FieldAction, job.Action)
			continue
		}
		r.Cancelled++

		sched := e.schedule(defs, job, log)
		if _, err := e.create(ctx, r, ts, job.Action, sched, nil); err != nil {
			e.fail(r, log, err, "failed to requeue drifted entry", logger.FieldAction, job.Action)
			continue
		}
		log.Infow("Corrected cadence drift",
			logger.FieldAction, job.Action,
			"from", existing.Cadence,
			"to", job.Cadence,
			logger.FieldTimestamp, ts,
		)
	}
}

func (e *Engine) confirm(ctx context.Context, r *Report, log *zap.SugaredLogger, ent *entity.Entity) {
	args := []string{ent.ID}
	key := queue.InstanceKey(args)

	existing, err := e.queue.FindPending(ctx, registry.ActionPublishEntity, key)
	if err != nil {
		e.fail(r, log, err, "failed to look up entity entry", logger.FieldEntityID, ent.ID)
		return
	}

	event := notify.EventScheduled
	if existing != nil {
		if existing.Timestamp.Unix() == ent.DesiredAt.Unix() {
			return
		}
		if err := e.queue.Cancel(ctx, registry.ActionPublishEntity, key); err != nil {
			e.fail(r, log, err, "failed to cancel stale entity entry", logger.FieldEntityID, ent.ID)
			return
		}
		r.Cancelled++
		event = notify.EventRescheduled
	}

	created, err := e.create(ctx, r, ent.DesiredAt, registry.ActionPublishEntity, queue.Schedule{}, args)
	if err != nil {
		e.fail(r, log, err, "failed to queue entity", logger.FieldEntityID, ent.ID)
		return
	}
	if !created {
		return
	}
	log.Debugw("Confirmed entity entry",
		logger.FieldEntityID, ent.ID,
		logger.FieldDesiredAt, ent.DesiredAt,
		"event", event,
	)
	e.bus.Emit(event, ent.ID)
}

// create enqueues an entry. A pending duplicate means another process won
// the race; that is success with created=false.
func (e *Engine) create(ctx context.Context, r *Report, ts time.Time, action string, sched queue.Schedule, args []string) (bool, error) {
	_, err := e.queue.Create(ctx, ts, action, sched, args)
	if errors.IsConflict(err) {
		e.log.Debugw("Entry already queued by a concurrent pass", logger.FieldAction, action)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.Created++
	return true, nil
}

func (e *Engine) cancelIfPending(ctx context.Context, r *Report, action, key string) error {
	existing, err := e.queue.FindPending(ctx, action, key)
	if err != nil || existing == nil {
		return err
	}
	if err := e.queue.Cancel(ctx, action, key); err != nil {
		return err
	}
	r.Cancelled++
	return nil
}

func (e *Engine) schedule(defs *registry.Definitions, job registry.Job, log *zap.SugaredLogger) queue.Schedule {
	interval := defs.Catalog().Interval(job.Cadence)
	if interval == 0 {
		log.Warnw("Unknown cadence; queueing with zero interval",
			logger.FieldAction, job.Action,
			logger.FieldCadence, job.Cadence,
		)
	}
	return queue.Schedule{Cadence: job.Cadence, Interval: interval}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

func (e *Engine) begin(ctx context.Context, pass string) (Report, *zap.SugaredLogger, time.Time) {
	ctx = logger.WithPassID(ctx, uuid.NewString()[:8])
	log := logger.FromContext(ctx, e.log).With(logger.FieldPass, pass)
	return Report{Pass: pass}, log, time.Now()
}

func (e *Engine) finish(r Report, log *zap.SugaredLogger, start time.Time) Report {
	r.Duration = time.Since(start)
	e.metrics.observe(r)

	fields := []interface{}{
		"created", r.Created,
		"cancelled", r.Cancelled,
		"finalized", r.Finalized,
		"purged", r.Purged,
		"scanned", r.Scanned,
		"failures", r.Failures,
		logger.FieldDurationMS, r.Duration.Milliseconds(),
	}
	if r.Mutations() > 0 || r.Failures > 0 {
		log.Infow("Pass complete", fields...)
	} else {
		log.Debugw("Pass complete", fields...)
	}
	return r
}

func (e *Engine) fail(r *Report, log *zap.SugaredLogger, err error, msg string, keysAndValues ...interface{}) {
	r.Failures++
	fields := append([]interface{}{
		logger.FieldError, err,
		"store_unavailable", errors.IsStoreUnavailable(err),
	}, keysAndValues...)
	log.Warnw(msg, fields...)
}
