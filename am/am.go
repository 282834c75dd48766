package am

// Config represents the cronctl configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" json:"database" yaml:"database" toml:"database"`
	Pulse      PulseConfig      `mapstructure:"pulse" json:"pulse" yaml:"pulse" toml:"pulse"`
	Metrics    MetricsConfig    `mapstructure:"metrics" json:"metrics" yaml:"metrics" toml:"metrics"`
	Extensions ExtensionsConfig `mapstructure:"extensions" json:"extensions" yaml:"extensions" toml:"extensions"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path" yaml:"path" toml:"path"`
}

// PulseConfig configures reconciliation passes, the runner and the trigger.
// Durations are whole seconds.
type PulseConfig struct {
	// Reconciliation
	QueueWindowSeconds        int `mapstructure:"queue_window_seconds" json:"queue_window_seconds" yaml:"queue_window_seconds" toml:"queue_window_seconds"`                      // lead time for a missing internal job (default: 60)
	StaleDeferSeconds         int `mapstructure:"stale_defer_seconds" json:"stale_defer_seconds" yaml:"stale_defer_seconds" toml:"stale_defer_seconds"`                         // where an elapsed drifted entry lands (default: 60)
	MissedBatchSize           int `mapstructure:"missed_batch_size" json:"missed_batch_size" yaml:"missed_batch_size" toml:"missed_batch_size"`                               // entities recovered per pass (default: 100)
	ConfirmPageSize           int `mapstructure:"confirm_page_size" json:"confirm_page_size" yaml:"confirm_page_size" toml:"confirm_page_size"`                               // (default: 100)
	ConfirmMaxPages           int `mapstructure:"confirm_max_pages" json:"confirm_max_pages" yaml:"confirm_max_pages" toml:"confirm_max_pages"`                               // (default: 5)
	CompletedRetentionSeconds int `mapstructure:"completed_retention_seconds" json:"completed_retention_seconds" yaml:"completed_retention_seconds" toml:"completed_retention_seconds"` // 0 purges every completed entry

	// Runner
	TickerIntervalSeconds int     `mapstructure:"ticker_interval_seconds" json:"ticker_interval_seconds" yaml:"ticker_interval_seconds" toml:"ticker_interval_seconds"` // how often due entries are checked (default: 1)
	QueueSize             int     `mapstructure:"queue_size" json:"queue_size" yaml:"queue_size" toml:"queue_size"`                                                 // ordinary entries admitted per tick (default: 10)
	DispatchPerSecond     float64 `mapstructure:"dispatch_per_second" json:"dispatch_per_second" yaml:"dispatch_per_second" toml:"dispatch_per_second"`             // 0 = unlimited
	DueBatchSize          int     `mapstructure:"due_batch_size" json:"due_batch_size" yaml:"due_batch_size" toml:"due_batch_size"`                                 // (default: 100)

	// Trigger
	EnsureSpec string `mapstructure:"ensure_spec" json:"ensure_spec" yaml:"ensure_spec" toml:"ensure_spec"` // cron spec for the converge pass; empty disables it
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr" toml:"addr"` // empty = not served
}

// ExtensionsConfig holds caller-declared cadences and jobs. File names a
// standalone TOML file whose definitions are appended after the inline ones.
type ExtensionsConfig struct {
	File     string          `mapstructure:"file" json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	Cadences []CadenceConfig `mapstructure:"cadences" json:"cadences" yaml:"cadences" toml:"cadences"`
	Jobs     []JobConfig     `mapstructure:"jobs" json:"jobs" yaml:"jobs" toml:"jobs"`
}

// CadenceConfig declares a named recurrence interval
type CadenceConfig struct {
	Name            string `mapstructure:"name" json:"name" yaml:"name" toml:"name"`
	IntervalSeconds int64  `mapstructure:"interval_seconds" json:"interval_seconds" yaml:"interval_seconds" toml:"interval_seconds"`
	Description     string `mapstructure:"description" json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
}

// JobConfig declares a recurring job bound to a named handler
type JobConfig struct {
	Action  string `mapstructure:"action" json:"action" yaml:"action" toml:"action"`
	Cadence string `mapstructure:"cadence" json:"cadence" yaml:"cadence" toml:"cadence"`
	Handler string `mapstructure:"handler" json:"handler" yaml:"handler" toml:"handler"`
}

// Default values
const (
	DefaultDatabasePath = "cronctl.db"
	DefaultEnsureSpec   = "@every 1m"

	// DefaultDirPermissions for ~/.cronctl
	DefaultDirPermissions = 0750
)
