package am

import (
	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/pulse/trigger"
)

// Validate checks that the configuration is valid. Extension definitions are
// checked when the registry is built, where a bad one is dropped rather than
// failing the whole config.
func (c *Config) Validate() error {
	p := c.Pulse

	// Windows and page sizes: 0 = use default, negative = invalid
	if p.QueueWindowSeconds < 0 {
		return errors.Newf("pulse.queue_window_seconds must be >= 0, got %d", p.QueueWindowSeconds)
	}
	if p.StaleDeferSeconds < 0 {
		return errors.Newf("pulse.stale_defer_seconds must be >= 0, got %d", p.StaleDeferSeconds)
	}
	if p.MissedBatchSize < 0 {
		return errors.Newf("pulse.missed_batch_size must be >= 0, got %d", p.MissedBatchSize)
	}
	if p.ConfirmPageSize < 0 {
		return errors.Newf("pulse.confirm_page_size must be >= 0, got %d", p.ConfirmPageSize)
	}
	if p.ConfirmMaxPages < 0 {
		return errors.Newf("pulse.confirm_max_pages must be >= 0, got %d", p.ConfirmMaxPages)
	}

	// Retention: 0 = purge everything completed
	if p.CompletedRetentionSeconds < 0 {
		return errors.Newf("pulse.completed_retention_seconds must be >= 0, got %d", p.CompletedRetentionSeconds)
	}

	// Runner
	if p.TickerIntervalSeconds < 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be >= 0, got %d", p.TickerIntervalSeconds)
	}
	if p.QueueSize < 0 {
		return errors.Newf("pulse.queue_size must be >= 0, got %d", p.QueueSize)
	}
	if p.DispatchPerSecond < 0 {
		return errors.Newf("pulse.dispatch_per_second must be >= 0, got %g", p.DispatchPerSecond)
	}
	if p.DueBatchSize < 0 {
		return errors.Newf("pulse.due_batch_size must be >= 0, got %d", p.DueBatchSize)
	}

	// Trigger: empty disables the converge binding
	if p.EnsureSpec != "" {
		if err := trigger.ValidateSpec(p.EnsureSpec); err != nil {
			return errors.Wrap(err, "pulse.ensure_spec")
		}
	}

	for i, cad := range c.Extensions.Cadences {
		if cad.IntervalSeconds < 0 {
			return errors.Newf("extensions.cadences[%d] (%s): interval_seconds must be >= 0, got %d", i, cad.Name, cad.IntervalSeconds)
		}
	}

	return nil
}
