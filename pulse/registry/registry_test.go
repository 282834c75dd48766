package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cronctl/errors"
)

func noop(context.Context, []string) error { return nil }

func builtinJobs() []Job {
	return []Job{
		{Action: ActionRecoverMissed, Cadence: CadenceMinute, Handler: noop},
		{Action: ActionConfirmFuture, Cadence: CadenceTenMinutes, Handler: noop},
		{Action: ActionCleanLegacy, Cadence: CadenceDaily, Handler: noop},
		{Action: ActionPurgeCompleted, Cadence: CadenceHourly, Handler: noop},
	}
}

func TestBuildBuiltins(t *testing.T) {
	defs := Build(BuiltinCadences(), builtinJobs(), Extensions{}, zaptest.NewLogger(t).Sugar())

	assert.Len(t, defs.Catalog().Cadences(), 6)
	assert.Equal(t, time.Minute, defs.Catalog().Interval(CadenceMinute))
	assert.Equal(t, 10*time.Minute, defs.Catalog().Interval(CadenceTenMinutes))
	assert.Equal(t, 7*24*time.Hour, defs.Catalog().Interval(CadenceWeekly))
	assert.Zero(t, defs.Catalog().Interval("fortnightly"))

	jobs := defs.Registry().Jobs()
	require.Len(t, jobs, 4)
	assert.Equal(t, ActionRecoverMissed, jobs[0].Action)
	assert.Equal(t, ActionPurgeCompleted, jobs[3].Action)
	assert.Empty(t, defs.Rejected())

	assert.True(t, defs.Registry().IsInternal(ActionCleanLegacy))
	assert.False(t, defs.Registry().IsInternal(ActionPublishEntity))
}

// A caller-supplied job sharing an action with a built-in is rejected and
// the built-in definition is unchanged.
func TestExtensionCannotOverrideBuiltinJob(t *testing.T) {
	called := false
	override := Job{
		Action:  ActionCleanLegacy,
		Cadence: CadenceHourly,
		Handler: func(context.Context, []string) error { called = true; return nil },
	}

	defs := Build(BuiltinCadences(), builtinJobs(), Extensions{Jobs: []Job{override}}, nil)

	job, ok := defs.Registry().Lookup(ActionCleanLegacy)
	require.True(t, ok)
	assert.Equal(t, CadenceDaily, job.Cadence)
	require.NoError(t, job.Handler(context.Background(), nil))
	assert.False(t, called)
	assert.Len(t, defs.Registry().Jobs(), 4)

	rejected := defs.Rejected()
	require.Len(t, rejected, 1)
	assert.Equal(t, "job", rejected[0].Kind)
	assert.Equal(t, ActionCleanLegacy, rejected[0].Name)
}

func TestExtensionCannotShadowBuiltinCadence(t *testing.T) {
	ext := Extensions{Cadences: []Cadence{{Name: CadenceHourly, Interval: time.Minute, Description: "fast hourly"}}}

	defs := Build(BuiltinCadences(), builtinJobs(), ext, nil)

	assert.Equal(t, time.Hour, defs.Catalog().Interval(CadenceHourly))
	require.Len(t, defs.Rejected(), 1)
	assert.Equal(t, "cadence", defs.Rejected()[0].Kind)
}

func TestExtensionsAcceptedInOrder(t *testing.T) {
	ext := Extensions{
		Cadences: []Cadence{
			{Name: "every_5m", Interval: 5 * time.Minute, Description: "Every five minutes"},
			{Name: "every_5m", Interval: time.Minute, Description: "duplicate"},
			{Name: "broken", Interval: 0},
			{Name: "", Interval: time.Minute},
		},
		Jobs: []Job{
			{Action: "sync_feeds", Cadence: "every_5m", Handler: noop},
			{Action: "sync_feeds", Cadence: CadenceDaily, Handler: noop},
			{Action: "no_handler", Cadence: CadenceDaily},
			{Action: "", Cadence: CadenceDaily, Handler: noop},
			{Action: "orphan", Cadence: "fortnightly", Handler: noop},
		},
	}

	defs := Build(BuiltinCadences(), builtinJobs(), ext, zaptest.NewLogger(t).Sugar())

	assert.Equal(t, 5*time.Minute, defs.Catalog().Interval("every_5m"))
	assert.Len(t, defs.Catalog().Cadences(), 7)

	job, ok := defs.Registry().Lookup("sync_feeds")
	require.True(t, ok)
	assert.Equal(t, "every_5m", job.Cadence)
	assert.True(t, defs.Registry().IsInternal("sync_feeds"))

	// Unknown cadence is accepted and resolves to a zero interval
	assert.True(t, defs.Registry().IsInternal("orphan"))
	assert.Zero(t, defs.Catalog().Interval("orphan"))

	assert.False(t, defs.Registry().IsInternal("no_handler"))

	jobs := defs.Registry().Jobs()
	require.Len(t, jobs, 6)
	assert.Equal(t, "sync_feeds", jobs[4].Action)
	assert.Equal(t, "orphan", jobs[5].Action)

	assert.Len(t, defs.Rejected(), 6)
}

func TestJobsReturnsCopy(t *testing.T) {
	defs := Build(BuiltinCadences(), builtinJobs(), Extensions{}, nil)

	jobs := defs.Registry().Jobs()
	jobs[0].Cadence = "mutated"

	job, _ := defs.Registry().Lookup(ActionRecoverMissed)
	assert.Equal(t, CadenceMinute, job.Cadence)
}

func TestDispatcher(t *testing.T) {
	var got []string
	published := func(_ context.Context, args []string) error { got = args; return nil }
	defs := Build(BuiltinCadences(), builtinJobs(), Extensions{}, nil)

	d := NewDispatcher(defs.Registry(), map[string]Handler{ActionPublishEntity: published})

	assert.True(t, d.Handles(ActionPurgeCompleted))
	assert.True(t, d.Handles(ActionPublishEntity))
	assert.False(t, d.Handles("unknown"))

	require.NoError(t, d.Run(context.Background(), ActionPublishEntity, []string{"42"}))
	assert.Equal(t, []string{"42"}, got)

	err := d.Run(context.Background(), "unknown", nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
