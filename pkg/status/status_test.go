package status

import (
	"context"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/pushapi/internal/pushapitest"
	"github.com/hashicorp-forge/pushapi/pkg/pushapi"
)

func setup(t *testing.T, now time.Time) (*pushapitest.Server, *Controller) {
	t.Helper()

	srv := pushapitest.New(t, "myorg", "mysource")
	client, err := pushapi.NewClient(&pushapi.Config{
		PushBaseURL:    srv.PushBaseURL(),
		StreamBaseURL:  srv.StreamBaseURL(),
		OrganizationID: srv.Org,
		SourceID:       srv.Source,
		APIKey:         "test-api-key",
	})
	require.NoError(t, err)

	return srv, New(client, WithClock(func() time.Time { return now }))
}

func TestController_SetStatus(t *testing.T) {
	srv, c := setup(t, time.Now())

	require.NoError(t, c.SetStatus(context.Background(), pushapi.StatusRebuild))
	assert.Equal(t, pushapi.StatusRebuild, c.Last())

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "REBUILD", reqs[0].Query.Get("statusType"))
}

func TestController_Bracket(t *testing.T) {
	t.Run("rebuild then idle around fn", func(t *testing.T) {
		srv, c := setup(t, time.Now())

		var during int
		err := c.Bracket(context.Background(), func(ctx context.Context) error {
			during = len(srv.Requests())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, during)

		var statuses []string
		for _, r := range srv.Requests() {
			statuses = append(statuses, r.Query.Get("statusType"))
		}
		assert.Equal(t, []string{"REBUILD", "IDLE"}, statuses)
		assert.Equal(t, pushapi.StatusIdle, c.Last())
	})

	t.Run("idle is sent after a failure", func(t *testing.T) {
		srv, c := setup(t, time.Now())
		boom := errors.New("boom")

		err := c.Bracket(context.Background(), func(ctx context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 2, srv.Count(pushapitest.OpSetStatus))
	})

	t.Run("idle is sent after cancellation", func(t *testing.T) {
		srv, c := setup(t, time.Now())
		ctx, cancel := context.WithCancel(context.Background())

		err := c.Bracket(ctx, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, srv.Count(pushapitest.OpSetStatus))
	})

	t.Run("fn is skipped when rebuild fails", func(t *testing.T) {
		srv, c := setup(t, time.Now())
		srv.FailNext(pushapitest.OpSetStatus, http.StatusUnauthorized)

		called := false
		err := c.Bracket(context.Background(), func(ctx context.Context) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
		assert.Equal(t, 1, srv.Count(pushapitest.OpSetStatus))
	})

	t.Run("idle failure is reported", func(t *testing.T) {
		srv, c := setup(t, time.Now())

		err := c.Bracket(context.Background(), func(ctx context.Context) error {
			srv.FailNext(pushapitest.OpSetStatus, http.StatusInternalServerError)
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "IDLE")
	})
}

func TestHoursDuration(t *testing.T) {
	d, err := HoursDuration(1.5)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	d, err = HoursDuration(-2)
	require.NoError(t, err)
	assert.Equal(t, -2*time.Hour, d)

	_, err = HoursDuration(2562048)
	assert.ErrorIs(t, err, ErrInvalidHours)
}

func TestController_DeleteOlderThan(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("past cutoff sends one delete", func(t *testing.T) {
		srv, c := setup(t, now)
		cutoff := now.Add(-2 * time.Hour)

		deleted, err := c.DeleteOlderThan(context.Background(), cutoff)
		require.NoError(t, err)
		assert.True(t, deleted)

		reqs := srv.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, http.MethodDelete, reqs[0].Method)
		assert.Equal(t, "1709287200000", reqs[0].Query.Get("orderingId"))
	})

	t.Run("future cutoff is a no-op", func(t *testing.T) {
		srv, c := setup(t, now)

		deleted, err := c.DeleteOlderThan(context.Background(), now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.Empty(t, srv.Requests())
	})

	t.Run("hours are relative to the clock", func(t *testing.T) {
		srv, c := setup(t, now)

		deleted, err := c.DeleteOlderThanHours(context.Background(), 0.5)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Equal(t, "1709292600000", srv.Requests()[0].Query.Get("orderingId"))
	})

	t.Run("negative hours point to the future", func(t *testing.T) {
		srv, c := setup(t, now)

		deleted, err := c.DeleteOlderThanHours(context.Background(), -1)
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.Empty(t, srv.Requests())
	})

	t.Run("hours out of range are rejected", func(t *testing.T) {
		for _, hours := range []float64{-1e10, 1e10, math.NaN(), math.Inf(-1), math.Inf(1)} {
			srv, c := setup(t, now)

			deleted, err := c.DeleteOlderThanHours(context.Background(), hours)
			assert.ErrorIs(t, err, ErrInvalidHours, hours)
			assert.False(t, deleted)
			assert.Empty(t, srv.Requests())
		}
	})
}
