package entity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cronctl/errors"
	crontest "github.com/teranos/cronctl/internal/testing"
	"github.com/teranos/cronctl/pulse/clock"
)

var epoch = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*SQLiteStore, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	return NewSQLiteStore(crontest.CreateTestDB(t), clk), clk
}

func TestScheduleAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	e, err := store.Schedule(ctx, "post-1", epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "post-1", e.ID)
	assert.Equal(t, epoch.Add(time.Hour), e.DesiredAt)
	assert.Equal(t, StatusScheduled, e.Status)
	assert.Nil(t, e.FinalizedAt)

	// Rescheduling moves the desired time in place
	e, err = store.Schedule(ctx, "post-1", epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(2*time.Hour), e.DesiredAt)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	_, err = store.Schedule(ctx, "", epoch)
	assert.Error(t, err)
}

func TestQueryFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i, offset := range []time.Duration{-2 * time.Hour, -time.Minute, 0, time.Minute, time.Hour} {
		_, err := store.Schedule(ctx, fmt.Sprintf("post-%d", i), epoch.Add(offset))
		require.NoError(t, err)
	}
	require.NoError(t, store.Finalize(ctx, "post-0"))

	cutoff := epoch
	due, err := store.Query(ctx, Filter{Status: StatusScheduled, DueBy: &cutoff}, 100, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "post-1", due[0].ID)
	assert.Equal(t, "post-2", due[1].ID)

	future, err := store.Query(ctx, Filter{Status: StatusScheduled, After: &cutoff}, 100, 0)
	require.NoError(t, err)
	require.Len(t, future, 2)
	assert.Equal(t, "post-3", future[0].ID)

	page, err := store.Query(ctx, Filter{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "post-2", page[0].ID)
	assert.Equal(t, "post-3", page[1].ID)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	_, err := store.Schedule(ctx, "post", epoch.Add(-time.Minute))
	require.NoError(t, err)

	require.NoError(t, store.Finalize(ctx, "post"))
	first, err := store.Get(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, first.Status)
	require.NotNil(t, first.FinalizedAt)

	clk.Advance(time.Hour)
	require.NoError(t, store.Finalize(ctx, "post"))
	second, err := store.Get(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, *first.FinalizedAt, *second.FinalizedAt)

	err = store.Finalize(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestQuery_DriverFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("SELECT .* FROM entities WHERE status = \\?").
		WillReturnError(errors.New("database disk image is malformed"))

	_, err = NewSQLiteStore(conn, clock.NewFake(epoch)).Query(context.Background(), Filter{Status: StatusScheduled}, 10, 0)
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
