// Package trigger invokes reconciliation passes on cron specs. It is the
// host-side entry point that keeps internal jobs alive between runner ticks.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/logger"
	"github.com/teranos/cronctl/pulse/reconcile"
)

// Passes runs a named reconciliation pass.
type Passes interface {
	Run(ctx context.Context, pass string) (reconcile.Report, error)
}

// Binding is one scheduled pass.
type Binding struct {
	ID   cron.EntryID
	Pass string
	Spec string
	Next time.Time
}

// Trigger owns a cron scheduler whose jobs run passes.
type Trigger struct {
	passes Passes
	parser cron.Parser
	cron   *cron.Cron
	log    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	bindings map[cron.EntryID]Binding
}

// parser accepts standard five-field specs, an optional leading seconds
// field, and descriptors such as @hourly or @every 1m.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec parses.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return errors.Wrapf(err, "invalid cron spec %q", spec)
	}
	return nil
}

// New creates a stopped Trigger.
func New(passes Passes, log *zap.SugaredLogger) *Trigger {
	if log == nil {
		log = logger.ComponentLogger("pulse.trigger")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Trigger{
		passes: passes,
		parser: parser,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		bindings: make(map[cron.EntryID]Binding),
	}
}

// Add schedules pass on spec.
func (t *Trigger) Add(pass, spec string) (cron.EntryID, error) {
	if err := ValidateSpec(spec); err != nil {
		return 0, err
	}
	id, err := t.cron.AddFunc(spec, func() { t.fire(pass) })
	if err != nil {
		return 0, errors.Wrapf(err, "failed to schedule pass %s", pass)
	}

	t.mu.Lock()
	t.bindings[id] = Binding{ID: id, Pass: pass, Spec: spec}
	t.mu.Unlock()

	t.log.Debugw("Pass scheduled", logger.FieldPass, pass, "spec", spec)
	return id, nil
}

// Bindings returns the scheduled passes with their next fire time.
func (t *Trigger) Bindings() []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Binding, 0, len(t.bindings))
	for _, e := range t.cron.Entries() {
		b, ok := t.bindings[e.ID]
		if !ok {
			continue
		}
		b.Next = e.Next
		out = append(out, b)
	}
	return out
}

// Start runs the scheduler in the background.
func (t *Trigger) Start() {
	t.cron.Start()
	logger.AddPulseOpenSymbol(t.log).Infow("Trigger started", "bindings", len(t.Bindings()))
}

// Stop halts the scheduler and waits for running passes to return.
func (t *Trigger) Stop() {
	t.cancel()
	<-t.cron.Stop().Done()
	logger.AddPulseCloseSymbol(t.log).Infow("Trigger stopped")
}

func (t *Trigger) fire(pass string) {
	if _, err := t.passes.Run(t.ctx, pass); err != nil {
		t.log.Warnw("Triggered pass failed", logger.FieldPass, pass, logger.FieldError, err)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append([]interface{}{logger.FieldError, err}, keysAndValues...)...)
}
