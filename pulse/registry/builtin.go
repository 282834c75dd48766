package registry

import "time"

// Built-in cadence names.
const (
	CadenceMinute     = "a8c_cron_control_minute"
	CadenceTenMinutes = "a8c_cron_control_ten_minutes"
	CadenceHourly     = "hourly"
	CadenceTwiceDaily = "twicedaily"
	CadenceDaily      = "daily"
	CadenceWeekly     = "weekly"
)

// Built-in job actions.
const (
	ActionRecoverMissed  = "a8c_cron_control_force_publish_missed_schedules"
	ActionConfirmFuture  = "a8c_cron_control_confirm_scheduled_posts"
	ActionCleanLegacy    = "a8c_cron_control_clean_legacy_data"
	ActionPurgeCompleted = "a8c_cron_control_purge_completed_events"
)

// ActionPublishEntity is the one-off action queued for each scheduled entity.
// Its sole argument is the entity ID.
const ActionPublishEntity = "publish_future_post"

// BuiltinCadences returns the cadences every process registers first.
func BuiltinCadences() []Cadence {
	return []Cadence{
		{Name: CadenceMinute, Interval: time.Minute, Description: "Cron Control internal job every minute"},
		{Name: CadenceTenMinutes, Interval: 10 * time.Minute, Description: "Cron Control internal job every 10 minutes"},
		{Name: CadenceHourly, Interval: time.Hour, Description: "Once Hourly"},
		{Name: CadenceTwiceDaily, Interval: 12 * time.Hour, Description: "Twice Daily"},
		{Name: CadenceDaily, Interval: 24 * time.Hour, Description: "Once Daily"},
		{Name: CadenceWeekly, Interval: 7 * 24 * time.Hour, Description: "Once Weekly"},
	}
}
