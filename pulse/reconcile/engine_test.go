package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cronctl/errors"
	crontest "github.com/teranos/cronctl/internal/testing"
	"github.com/teranos/cronctl/pulse/clock"
	"github.com/teranos/cronctl/pulse/entity"
	"github.com/teranos/cronctl/pulse/legacy"
	"github.com/teranos/cronctl/pulse/notify"
	"github.com/teranos/cronctl/pulse/queue"
	"github.com/teranos/cronctl/pulse/registry"
)

var epoch = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine   *Engine
	queue    *queue.SQLiteStore
	entities *entity.SQLiteStore
	legacy   *legacy.SQLiteStore
	bus      *notify.MemoryBus
	clock    *clock.Fake
	metrics  *Metrics
}

func newFixture(t *testing.T, ext Extensions) *fixture {
	t.Helper()
	conn := crontest.CreateTestDB(t)
	clk := clock.NewFake(epoch)

	f := &fixture{
		queue:    queue.NewSQLiteStore(conn, clk),
		entities: entity.NewSQLiteStore(conn, clk),
		legacy:   legacy.NewSQLiteStore(conn, clk),
		bus:      notify.NewMemoryBus(),
		clock:    clk,
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	f.engine = New(f.deps(t), DefaultConfig(), ext)
	return f
}

func (f *fixture) deps(t *testing.T) Deps {
	return Deps{
		Queue:    f.queue,
		Entities: f.entities,
		Legacy:   f.legacy,
		Bus:      f.bus,
		Clock:    f.clock,
		Logger:   zaptest.NewLogger(t).Sugar(),
		Metrics:  f.metrics,
	}
}

func (f *fixture) pending(t *testing.T, action string, args ...string) *queue.Entry {
	t.Helper()
	e, err := f.queue.FindPending(context.Background(), action, queue.InstanceKey(args))
	require.NoError(t, err)
	return e
}

func drain(ch <-chan notify.Event) []notify.Event {
	var out []notify.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

var builtinActions = []string{
	registry.ActionRecoverMissed,
	registry.ActionConfirmFuture,
	registry.ActionCleanLegacy,
	registry.ActionPurgeCompleted,
}

// Empty queue: one pass queues every built-in job a window ahead.
func TestEnsureInternalJobs_EmptyQueue(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	r := f.engine.EnsureInternalJobs(ctx)
	assert.Equal(t, 4, r.Created)
	assert.Zero(t, r.Failures)

	for _, action := range builtinActions {
		e := f.pending(t, action)
		require.NotNil(t, e, action)
		assert.Equal(t, epoch.Add(60*time.Second), e.Timestamp, action)
		job, _ := f.engine.Definitions().Registry().Lookup(action)
		assert.Equal(t, job.Cadence, e.Cadence)
		assert.Equal(t, int64(f.engine.Definitions().Catalog().Interval(job.Cadence)/time.Second), e.Interval)
	}

	confirm := f.pending(t, registry.ActionConfirmFuture)
	assert.Equal(t, int64(600), confirm.Interval)

	// Idempotent on a converged queue
	r = f.engine.EnsureInternalJobs(ctx)
	assert.Zero(t, r.Mutations())

	pending, err := f.queue.ListPending(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}

// A past-due entry with a stale cadence is replaced a minute ahead.
func TestCorrectCadences_PastDueDrift(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	_, err := f.queue.Create(ctx, epoch.Add(-10*time.Second), registry.ActionCleanLegacy,
		queue.Schedule{Cadence: registry.CadenceHourly, Interval: time.Hour}, nil)
	require.NoError(t, err)

	r := f.engine.CorrectCadences(ctx)
	assert.Equal(t, 1, r.Cancelled)
	assert.Equal(t, 1, r.Created)

	e := f.pending(t, registry.ActionCleanLegacy)
	require.NotNil(t, e)
	assert.Equal(t, registry.CadenceDaily, e.Cadence)
	assert.Equal(t, int64(86400), e.Interval)
	assert.Equal(t, epoch.Add(60*time.Second), e.Timestamp)

	// Drift correction does not create missing jobs
	assert.Nil(t, f.pending(t, registry.ActionPurgeCompleted))

	r = f.engine.CorrectCadences(ctx)
	assert.Zero(t, r.Mutations())
}

func TestCorrectCadences_FutureDriftKeepsTimestamp(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	at := epoch.Add(3 * time.Hour)
	_, err := f.queue.Create(ctx, at, registry.ActionRecoverMissed,
		queue.Schedule{Cadence: registry.CadenceHourly, Interval: time.Hour}, nil)
	require.NoError(t, err)

	f.engine.CorrectCadences(ctx)

	e := f.pending(t, registry.ActionRecoverMissed)
	require.NotNil(t, e)
	assert.Equal(t, registry.CadenceMinute, e.Cadence)
	assert.Equal(t, at, e.Timestamp)
}

func TestCorrectCadences_StaleDeferIsTunable(t *testing.T) {
	f := newFixture(t, Extensions{})
	cfg := DefaultConfig()
	cfg.StaleDefer = 5 * time.Minute
	engine := New(f.deps(t), cfg, Extensions{})
	ctx := context.Background()

	_, err := f.queue.Create(ctx, epoch.Add(-time.Hour), registry.ActionPurgeCompleted,
		queue.Schedule{Cadence: registry.CadenceDaily, Interval: 24 * time.Hour}, nil)
	require.NoError(t, err)

	engine.CorrectCadences(ctx)

	e := f.pending(t, registry.ActionPurgeCompleted)
	require.NotNil(t, e)
	assert.Equal(t, epoch.Add(5*time.Minute), e.Timestamp)
}

// After one Converge pass every job has exactly one pending entry with the
// registry's cadence, and a second pass is a no-op.
func TestConverge(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	_, err := f.queue.Create(ctx, epoch.Add(-time.Minute), registry.ActionConfirmFuture,
		queue.Schedule{Cadence: registry.CadenceWeekly, Interval: 7 * 24 * time.Hour}, nil)
	require.NoError(t, err)
	_, err = f.queue.Create(ctx, epoch.Add(time.Hour), registry.ActionPurgeCompleted,
		queue.Schedule{Cadence: registry.CadenceHourly, Interval: time.Hour}, nil)
	require.NoError(t, err)

	r := f.engine.Converge(ctx)
	assert.Equal(t, PassConverge, r.Pass)
	assert.Equal(t, 3, r.Created)
	assert.Equal(t, 1, r.Cancelled)

	for _, job := range f.engine.Definitions().Registry().Jobs() {
		e := f.pending(t, job.Action)
		require.NotNil(t, e, job.Action)
		assert.Equal(t, job.Cadence, e.Cadence, job.Action)
	}

	pending, err := f.queue.ListPending(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, pending, 4)

	r = f.engine.Converge(ctx)
	assert.Zero(t, r.Mutations())
}

// 150 missed entities with a batch of 100: two passes finalize all of them,
// none twice.
func TestRecoverMissed_Backlog(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()
	events, unsub := f.bus.Subscribe(512)
	defer unsub()

	for i := 0; i < 150; i++ {
		_, err := f.entities.Schedule(ctx, fmt.Sprintf("missed-%03d", i), epoch.Add(-time.Duration(150-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := f.queue.Create(ctx, epoch.Add(-150*time.Minute), registry.ActionPublishEntity, queue.Schedule{}, []string{"missed-000"})
	require.NoError(t, err)
	_, err = f.queue.Create(ctx, epoch.Add(-time.Minute), registry.ActionPublishEntity, queue.Schedule{}, []string{"missed-149"})
	require.NoError(t, err)

	r := f.engine.RecoverMissed(ctx)
	assert.Equal(t, 100, r.Finalized)
	assert.Equal(t, 1, r.Cancelled)
	assert.Zero(t, r.Failures)

	// Oldest first
	first, err := f.entities.Get(ctx, "missed-000")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFinalized, first.Status)
	last, err := f.entities.Get(ctx, "missed-149")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusScheduled, last.Status)
	assert.Nil(t, f.pending(t, registry.ActionPublishEntity, "missed-000"))

	r = f.engine.RecoverMissed(ctx)
	assert.Equal(t, 50, r.Finalized)
	assert.Equal(t, 1, r.Cancelled)
	assert.Nil(t, f.pending(t, registry.ActionPublishEntity, "missed-149"))

	r = f.engine.RecoverMissed(ctx)
	assert.Zero(t, r.Mutations())

	seen := map[string]int{}
	for _, e := range drain(events) {
		require.Equal(t, notify.EventPublishedAfterMissedSlot, e.Name)
		seen[e.Payload.(string)]++
	}
	assert.Len(t, seen, 150)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}

	remaining, err := f.entities.Query(ctx, entity.Filter{Status: entity.StatusScheduled}, 1000, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRecoverMissed_IgnoresFutureEntities(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	_, err := f.entities.Schedule(ctx, "future", epoch.Add(time.Minute))
	require.NoError(t, err)

	r := f.engine.RecoverMissed(ctx)
	assert.Zero(t, r.Mutations())

	ent, err := f.entities.Get(ctx, "future")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusScheduled, ent.Status)
}

// A rescheduled entity gets its entry replaced, never duplicated, and a
// further pass is a no-op.
func TestConfirmFuture_Reschedule(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()
	events, unsub := f.bus.Subscribe(16)
	defer unsub()

	t1 := epoch.Add(time.Hour)
	t2 := epoch.Add(2 * time.Hour)

	_, err := f.entities.Schedule(ctx, "post", t1)
	require.NoError(t, err)

	r := f.engine.ConfirmFuture(ctx)
	assert.Equal(t, 1, r.Created)
	e := f.pending(t, registry.ActionPublishEntity, "post")
	require.NotNil(t, e)
	assert.Equal(t, t1, e.Timestamp)
	assert.Empty(t, e.Cadence)

	_, err = f.entities.Schedule(ctx, "post", t2)
	require.NoError(t, err)

	r = f.engine.ConfirmFuture(ctx)
	assert.Equal(t, 1, r.Cancelled)
	assert.Equal(t, 1, r.Created)
	e = f.pending(t, registry.ActionPublishEntity, "post")
	require.NotNil(t, e)
	assert.Equal(t, t2, e.Timestamp)

	pending, err := f.queue.ListPending(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	r = f.engine.ConfirmFuture(ctx)
	assert.Zero(t, r.Mutations())

	got := drain(events)
	require.Len(t, got, 2)
	assert.Equal(t, notify.EventScheduled, got[0].Name)
	assert.Equal(t, notify.EventRescheduled, got[1].Name)
	assert.Equal(t, "post", got[1].Payload)
}

type countingEntities struct {
	entity.Store
	queries int
}

func (c *countingEntities) Query(ctx context.Context, f entity.Filter, limit, offset int) ([]*entity.Entity, error) {
	c.queries++
	return c.Store.Query(ctx, f, limit, offset)
}

func TestConfirmFuture_PageCap(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	for i := 0; i < 620; i++ {
		_, err := f.entities.Schedule(ctx, fmt.Sprintf("post-%04d", i), epoch.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
	}

	counting := &countingEntities{Store: f.entities}
	deps := f.deps(t)
	deps.Entities = counting
	engine := New(deps, DefaultConfig(), Extensions{})

	r := engine.ConfirmFuture(ctx)
	assert.Equal(t, 5, counting.queries)
	assert.Equal(t, 5, r.Pages)
	assert.Equal(t, 500, r.Scanned)
	assert.Equal(t, 500, r.Created)

	assert.Nil(t, f.pending(t, registry.ActionPublishEntity, "post-0500"))

	// Every pass starts at offset 0, so the tail stays out of reach while the
	// first five pages are still in the future
	counting.queries = 0
	r = engine.ConfirmFuture(ctx)
	assert.Equal(t, 5, counting.queries)
	assert.Zero(t, r.Mutations())
	assert.Nil(t, f.pending(t, registry.ActionPublishEntity, "post-0500"))

	// Once the earliest hundred elapse the window moves onto the tail
	f.clock.Advance(100 * time.Minute)
	r = engine.ConfirmFuture(ctx)
	assert.Equal(t, 500, r.Scanned)
	assert.Equal(t, 100, r.Created)
	assert.NotNil(t, f.pending(t, registry.ActionPublishEntity, "post-0500"))
	assert.NotNil(t, f.pending(t, registry.ActionPublishEntity, "post-0599"))
}

func TestConfirmFuture_StopsOnShortPage(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		_, err := f.entities.Schedule(ctx, fmt.Sprintf("post-%03d", i), epoch.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
	}

	counting := &countingEntities{Store: f.entities}
	deps := f.deps(t)
	deps.Entities = counting

	r := New(deps, DefaultConfig(), Extensions{}).ConfirmFuture(ctx)
	assert.Equal(t, 2, counting.queries)
	assert.Equal(t, 150, r.Created)
}

func TestPurgeCompleted(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	done, err := f.queue.Create(ctx, epoch, "one_off", queue.Schedule{}, nil)
	require.NoError(t, err)
	require.NoError(t, f.queue.Complete(ctx, done.ID))
	_, err = f.queue.Create(ctx, epoch, "still_pending", queue.Schedule{}, nil)
	require.NoError(t, err)

	r := f.engine.PurgeCompleted(ctx)
	assert.Equal(t, 1, r.Purged)

	_, err = f.queue.Get(ctx, done.ID)
	assert.True(t, errors.IsNotFoundError(err))
	assert.NotNil(t, f.pending(t, "still_pending"))
}

func TestPurgeCompleted_Retention(t *testing.T) {
	f := newFixture(t, Extensions{})
	cfg := DefaultConfig()
	cfg.CompletedRetention = time.Hour
	engine := New(f.deps(t), cfg, Extensions{})
	ctx := context.Background()

	done, err := f.queue.Create(ctx, epoch, "one_off", queue.Schedule{}, nil)
	require.NoError(t, err)
	require.NoError(t, f.queue.Complete(ctx, done.ID))

	assert.Zero(t, engine.PurgeCompleted(ctx).Purged)

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, engine.PurgeCompleted(ctx).Purged)
}

func TestCleanLegacy(t *testing.T) {
	f := newFixture(t, Extensions{})
	ctx := context.Background()

	require.NoError(t, f.legacy.Set(ctx, legacy.KeyEventBlob, "a:0:{}"))
	require.NoError(t, f.legacy.Set(ctx, legacy.KeyRunLock, "1"))
	_, err := f.queue.Create(ctx, epoch.Add(-time.Second), registry.ActionRecoverMissed,
		queue.Schedule{Cadence: registry.CadenceHourly, Interval: time.Hour}, nil)
	require.NoError(t, err)

	r := f.engine.CleanLegacy(ctx)
	assert.Equal(t, PassLegacy, r.Pass)
	assert.Equal(t, 1, r.Cancelled)
	assert.Equal(t, 1, r.Created)

	_, err = f.legacy.Get(ctx, legacy.KeyEventBlob)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = f.legacy.Get(ctx, legacy.KeyRunLock)
	assert.True(t, errors.IsNotFoundError(err))

	e := f.pending(t, registry.ActionRecoverMissed)
	require.NotNil(t, e)
	assert.Equal(t, registry.CadenceMinute, e.Cadence)
}

// A caller extension reusing a built-in action is rejected.
func TestExtensionCannotReplaceBuiltin(t *testing.T) {
	f := newFixture(t, Extensions{
		Jobs: []ExtensionJob{{Action: registry.ActionCleanLegacy, Cadence: registry.CadenceHourly, Handler: PassPurge}},
	})

	defs := f.engine.Definitions()
	require.Len(t, defs.Rejected(), 1)
	assert.Equal(t, registry.ActionCleanLegacy, defs.Rejected()[0].Name)

	job, ok := defs.Registry().Lookup(registry.ActionCleanLegacy)
	require.True(t, ok)
	assert.Equal(t, registry.CadenceDaily, job.Cadence)
	assert.Len(t, defs.Registry().Jobs(), 4)
}

func TestExtensionJobs(t *testing.T) {
	called := 0
	f := newFixture(t, Extensions{})
	deps := f.deps(t)
	deps.Handlers = map[string]registry.Handler{
		"sync_feeds": func(context.Context, []string) error { called++; return nil },
	}

	engine := New(deps, DefaultConfig(), Extensions{
		Cadences: []registry.Cadence{{Name: "every_5m", Interval: 5 * time.Minute, Description: "Every five minutes"}},
		Jobs: []ExtensionJob{
			{Action: "feeds", Cadence: "every_5m", Handler: "sync_feeds"},
			{Action: "extra_purge", Cadence: registry.CadenceWeekly, Handler: PassPurge},
			{Action: "mystery", Cadence: registry.CadenceDaily, Handler: "does_not_exist"},
		},
	})

	assert.True(t, engine.IsInternal("feeds"))
	assert.True(t, engine.IsInternal("extra_purge"))
	assert.False(t, engine.IsInternal("mystery"))
	assert.Len(t, engine.Definitions().Rejected(), 1)

	ctx := context.Background()
	r := engine.EnsureInternalJobs(ctx)
	assert.Equal(t, 6, r.Created)

	e := f.pending(t, "feeds")
	require.NotNil(t, e)
	assert.Equal(t, int64(300), e.Interval)

	require.NoError(t, engine.Dispatcher().Run(ctx, "feeds", nil))
	assert.Equal(t, 1, called)
}

func TestReload(t *testing.T) {
	f := newFixture(t, Extensions{})
	assert.False(t, f.engine.IsInternal("feeds"))

	f.engine.Reload(Extensions{Jobs: []ExtensionJob{{Action: "feeds", Cadence: registry.CadenceHourly, Handler: PassPurge}}})
	assert.True(t, f.engine.IsInternal("feeds"))

	f.engine.Reload(Extensions{})
	assert.False(t, f.engine.IsInternal("feeds"))
}

func TestRunUnknownPass(t *testing.T) {
	f := newFixture(t, Extensions{})

	_, err := f.engine.Run(context.Background(), "nonsense")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	for _, pass := range PassNames() {
		r, err := f.engine.Run(context.Background(), pass)
		require.NoError(t, err, pass)
		assert.Equal(t, pass, r.Pass)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, Extensions{})

	f.engine.EnsureInternalJobs(context.Background())

	assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.Mutations.WithLabelValues(PassEnsure, "created")))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.Failures.WithLabelValues(PassEnsure)))
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.PassDuration))
}

func TestDefaultConfigFillsZeroValues(t *testing.T) {
	f := newFixture(t, Extensions{})
	engine := New(f.deps(t), Config{}, Extensions{})
	assert.Equal(t, DefaultConfig(), engine.Config())
}
