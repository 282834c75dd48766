package commands

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teranos/cronctl/am"
	"github.com/teranos/cronctl/logger"
	"github.com/teranos/cronctl/pulse/clock"
	"github.com/teranos/cronctl/pulse/entity"
	"github.com/teranos/cronctl/pulse/legacy"
	"github.com/teranos/cronctl/pulse/notify"
	"github.com/teranos/cronctl/pulse/queue"
	"github.com/teranos/cronctl/pulse/reconcile"
)

// stack is the set of stores and the engine sharing one database
type stack struct {
	queue    *queue.SQLiteStore
	entities *entity.SQLiteStore
	legacy   *legacy.SQLiteStore
	events   *notify.MemoryBus
	engine   *reconcile.Engine
}

// newStack wires the SQLite stores into an engine tuned by cfg. Events are
// logged and fanned out on s.events. Metrics are registered on reg when it
// is non-nil.
func newStack(database *sql.DB, cfg *am.Config, clk clock.Clock, reg prometheus.Registerer) *stack {
	s := &stack{
		queue:    queue.NewSQLiteStore(database, clk),
		entities: entity.NewSQLiteStore(database, clk),
		legacy:   legacy.NewSQLiteStore(database, clk),
		events:   notify.NewMemoryBus(),
	}

	var metrics *reconcile.Metrics
	if reg != nil {
		metrics = reconcile.NewMetrics(reg)
	}

	s.engine = reconcile.New(reconcile.Deps{
		Queue:    s.queue,
		Entities: s.entities,
		Legacy:   s.legacy,
		Bus:      notify.Multi{notify.NewLogBus(logger.ComponentLogger("pulse.events")), s.events},
		Clock:    clk,
		Logger:   logger.AddPulseSymbol(logger.ComponentLogger("pulse.reconcile")),
		Metrics:  metrics,
	}, cfg.ReconcileConfig(), cfg.Extensions.ReconcileExtensions())

	return s
}
