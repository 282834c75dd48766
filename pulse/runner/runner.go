// Package runner executes due queue entries.
//
// Each tick lists due entries (internal jobs first, then oldest first),
// admits them, claims each by marking it completed, queues the next
// occurrence of recurring entries, and dispatches to the handler. Internal jobs are always admitted; ordinary
// jobs are capped per tick and rate limited.
package runner

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/logger"
	"github.com/teranos/cronctl/pulse/clock"
	"github.com/teranos/cronctl/pulse/queue"
	"github.com/teranos/cronctl/pulse/registry"
)

// Queue is the subset of the queue store the runner needs.
type Queue interface {
	ListDue(ctx context.Context, now time.Time, limit int, priority ...string) ([]*queue.Entry, error)
	Complete(ctx context.Context, id string) error
	Create(ctx context.Context, ts time.Time, action string, sched queue.Schedule, args []string) (*queue.Entry, error)
}

// Jobs supplies the dispatch table and admission policy. Both are read on
// every tick so registry reloads take effect immediately.
type Jobs interface {
	Dispatcher() *registry.Dispatcher
	IsInternal(action string) bool
	InternalActions() []string
}

// Config contains configuration for the runner
type Config struct {
	Interval          time.Duration // How often to look for due entries (default: 1 second)
	QueueSize         int           // Ordinary entries admitted per tick
	DispatchPerSecond float64       // Ordinary entries started per second; <= 0 disables the limit
	DueBatchSize      int           // Due entries fetched per tick
	Window            time.Duration // Lead time for a recurring entry whose next slot already passed
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:          1 * time.Second,
		QueueSize:         10,
		DispatchPerSecond: 5,
		DueBatchSize:      100,
		Window:            60 * time.Second,
	}
}

// TickReport summarises one tick.
type TickReport struct {
	Due         int
	Executed    int
	Failed      int
	Deferred    int
	Skipped     int
	Rescheduled int
}

// Runner executes due entries on a ticker.
type Runner struct {
	queue   Queue
	jobs    Jobs
	clock   clock.Clock
	cfg     Config
	limiter *rate.Limiter
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log      *zap.SugaredLogger
	pulseLog *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
}

// New creates a runner. metrics may be nil.
func New(q Queue, jobs Jobs, clk clock.Clock, cfg Config, log *zap.SugaredLogger, metrics *Metrics) *Runner {
	return NewWithContext(context.Background(), q, jobs, clk, cfg, log, metrics)
}

// NewWithContext creates a runner with a parent context
func NewWithContext(ctx context.Context, q Queue, jobs Jobs, clk clock.Clock, cfg Config, log *zap.SugaredLogger, metrics *Metrics) *Runner {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.DueBatchSize <= 0 {
		cfg.DueBatchSize = d.DueBatchSize
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.ComponentLogger("pulse.runner")
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.DispatchPerSecond > 0 {
		burst := int(math.Ceil(cfg.DispatchPerSecond))
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchPerSecond), burst)
	}

	runCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		queue:    q,
		jobs:     jobs,
		clock:    clk,
		cfg:      cfg,
		limiter:  limiter,
		metrics:  metrics,
		ctx:      runCtx,
		cancel:   cancel,
		log:      log,
		pulseLog: logger.AddPulseSymbol(log),
	}
}

// Start begins the tick loop
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.run()
	logger.AddPulseOpenSymbol(r.log).Infow("Runner started", "interval", r.cfg.Interval)
}

// Stop cancels the loop and waits for the current tick to finish
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	logger.AddPulseCloseSymbol(r.log).Infow("Runner stopped", "ticks", r.Ticks())
}

// Ticks returns how many ticks have run since Start.
func (r *Runner) Ticks() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticksSinceStart
}

// LastTickAt returns when the loop last ticked.
func (r *Runner) LastTickAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTickAt
}

func (r *Runner) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case tickTime := <-ticker.C:
			r.mu.Lock()
			r.lastTickAt = tickTime
			r.ticksSinceStart++
			r.mu.Unlock()

			if _, err := r.Tick(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				// Don't spam logs - log errors at warn level
				r.pulseLog.Warnw("Runner tick error", logger.FieldError, err, "tick", r.Ticks())
			}
		}
	}
}

// Tick runs one pass over due entries.
func (r *Runner) Tick(ctx context.Context) (TickReport, error) {
	var rep TickReport
	now := r.clock.Now().UTC().Truncate(time.Second)

	// Internal entries are listed first so ordinary backlog never hides them
	due, err := r.queue.ListDue(ctx, now, r.cfg.DueBatchSize, r.jobs.InternalActions()...)
	if err != nil {
		return rep, errors.Wrap(err, "failed to list due entries")
	}
	rep.Due = len(due)
	if len(due) == 0 {
		return rep, nil
	}

	dispatcher := r.jobs.Dispatcher()
	admitted := 0

	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		internal := r.jobs.IsInternal(entry.Action)
		if !internal && dispatcher.Handles(entry.Action) {
			if admitted >= r.cfg.QueueSize || !r.limiter.Allow() {
				rep.Deferred++
				continue
			}
			admitted++
		}

		// Claim first so a concurrent runner cannot execute the same entry
		if err := r.queue.Complete(ctx, entry.ID); err != nil {
			if errors.IsNotFoundError(err) {
				continue
			}
			r.pulseLog.Warnw("Failed to claim entry", logger.FieldEntryID, entry.ID, logger.FieldError, err)
			rep.Failed++
			continue
		}

		if entry.Schedule().Recurring() {
			if r.reschedule(ctx, entry, now) {
				rep.Rescheduled++
			}
		}

		if !dispatcher.Handles(entry.Action) {
			r.log.Debugw("No handler for entry; completed without running",
				logger.FieldAction, entry.Action,
				logger.FieldEntryID, entry.ID,
			)
			rep.Skipped++
			r.metrics.record(kind(internal), "skipped")
			continue
		}

		start := time.Now()
		err := dispatcher.Run(ctx, entry.Action, entry.Args)
		if err != nil {
			rep.Failed++
			r.metrics.record(kind(internal), "error")
			r.pulseLog.Errorw("Entry failed",
				logger.FieldAction, entry.Action,
				logger.FieldEntryID, entry.ID,
				logger.FieldError, err,
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
			)
			continue
		}
		rep.Executed++
		r.metrics.record(kind(internal), "ok")
		r.log.Debugw("Entry executed",
			logger.FieldAction, entry.Action,
			logger.FieldEntryID, entry.ID,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	}

	if rep.Deferred > 0 {
		r.metrics.deferred(rep.Deferred)
		r.log.Debugw("Ordinary entries deferred to next tick", logger.FieldCount, rep.Deferred)
	}
	return rep, nil
}

// reschedule queues the next occurrence of a recurring entry: one interval
// after its slot, or a window from now if that slot has already passed.
func (r *Runner) reschedule(ctx context.Context, entry *queue.Entry, now time.Time) bool {
	sched := entry.Schedule()
	next := entry.Timestamp.Add(sched.Interval)
	if sched.Interval <= 0 || !next.After(now) {
		next = now.Add(r.cfg.Window)
	}

	_, err := r.queue.Create(ctx, next, entry.Action, sched, entry.Args)
	if errors.IsConflict(err) {
		return false
	}
	if err != nil {
		r.pulseLog.Warnw("Failed to queue next occurrence; reconciliation will restore it",
			logger.FieldAction, entry.Action,
			logger.FieldError, err,
		)
		return false
	}
	return true
}

func kind(internal bool) string {
	if internal {
		return "internal"
	}
	return "ordinary"
}
