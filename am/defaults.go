package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/teranos/cronctl/pulse/reconcile"
	"github.com/teranos/cronctl/pulse/registry"
	"github.com/teranos/cronctl/pulse/runner"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	// Reconciliation
	v.SetDefault("pulse.queue_window_seconds", 60)
	v.SetDefault("pulse.stale_defer_seconds", 60)
	v.SetDefault("pulse.missed_batch_size", 100)
	v.SetDefault("pulse.confirm_page_size", 100)
	v.SetDefault("pulse.confirm_max_pages", 5)
	v.SetDefault("pulse.completed_retention_seconds", 0)

	// Runner
	v.SetDefault("pulse.ticker_interval_seconds", 1)
	v.SetDefault("pulse.queue_size", 10)
	v.SetDefault("pulse.dispatch_per_second", 5.0)
	v.SetDefault("pulse.due_batch_size", 100)

	// Trigger
	v.SetDefault("pulse.ensure_spec", DefaultEnsureSpec)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("extensions.file", "")
}

// BindEnvVars binds values commonly overridden per deployment to explicit
// environment variables
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "CRONCTL_DATABASE_PATH")
	v.BindEnv("metrics.addr", "CRONCTL_METRICS_ADDR")
	v.BindEnv("extensions.file", "CRONCTL_EXTENSIONS_FILE")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// ReconcileConfig converts the pulse section into engine tuning.
// Zero values fall back to the engine defaults.
func (c *Config) ReconcileConfig() reconcile.Config {
	p := c.Pulse
	return reconcile.Config{
		QueueWindow:        seconds(p.QueueWindowSeconds),
		StaleDefer:         seconds(p.StaleDeferSeconds),
		MissedBatch:        p.MissedBatchSize,
		ConfirmPageSize:    p.ConfirmPageSize,
		ConfirmMaxPages:    p.ConfirmMaxPages,
		CompletedRetention: seconds(p.CompletedRetentionSeconds),
	}
}

// RunnerConfig converts the pulse section into runner tuning
func (c *Config) RunnerConfig() runner.Config {
	d := runner.DefaultConfig()
	p := c.Pulse
	cfg := runner.Config{
		Interval:          seconds(p.TickerIntervalSeconds),
		QueueSize:         p.QueueSize,
		DispatchPerSecond: p.DispatchPerSecond,
		DueBatchSize:      p.DueBatchSize,
		Window:            seconds(p.QueueWindowSeconds),
	}
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
	return cfg
}

// ReconcileExtensions converts the declared cadences and jobs into the
// engine's extension set. Validation happens when the registry is built.
func (e ExtensionsConfig) ReconcileExtensions() reconcile.Extensions {
	ext := reconcile.Extensions{}
	for _, c := range e.Cadences {
		ext.Cadences = append(ext.Cadences, registry.Cadence{
			Name:        c.Name,
			Interval:    time.Duration(c.IntervalSeconds) * time.Second,
			Description: c.Description,
		})
	}
	for _, j := range e.Jobs {
		ext.Jobs = append(ext.Jobs, reconcile.ExtensionJob{
			Action:  j.Action,
			Cadence: j.Cadence,
			Handler: j.Handler,
		})
	}
	return ext
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Pulse: {QueueWindow: %ds, EnsureSpec: %q}, Extensions: {Cadences: %d, Jobs: %d}}",
		c.Database.Path, c.Pulse.QueueWindowSeconds, c.Pulse.EnsureSpec,
		len(c.Extensions.Cadences), len(c.Extensions.Jobs))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
