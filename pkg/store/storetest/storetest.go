// Package storetest holds the behaviour every library.Store must share.
// Adapters run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewJob returns an enabled job due at runAt.
func NewJob(name string, runAt time.Time) *payloads.Job {
	return &payloads.Job{
		Name:     name,
		Endpoint: "https://example.com/hook",
		Method:   "POST",
		Headers:  []payloads.Header{{Name: "X-Team", Value: "ops"}},
		Body:     `{"v":1}`,
		Enabled:  true,
		Retries:  3,
		RunAt:    runAt,
		Schedule: payloads.ScheduleAt(runAt, 0),

		CreatedAt: runAt,
		UpdatedAt: runAt,
	}
}

// Run exercises the full Store contract against stores built by newStore.
// Each subtest gets a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) library.Store) {
	t.Run("UpsertAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := NewJob("nightly", base)
		job.RunEvery = "PT1H"
		job.Timezone = "Europe/Paris"
		require.NoError(t, s.UpsertJob(ctx, job))

		got, err := s.GetJob(ctx, "nightly")
		require.NoError(t, err)
		assertJobEqual(t, job, got)
		assert.NotEmpty(t, got.ArmID)

		firstArm := job.ArmID
		job.Endpoint = "https://example.com/other"
		require.NoError(t, s.UpsertJob(ctx, job))
		got, err = s.GetJob(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/other", got.Endpoint)
		assert.NotEqual(t, firstArm, got.ArmID)
		assert.Equal(t, job.ArmID, got.ArmID)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(context.Background(), "missing")
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("a", base)))

		require.NoError(t, s.DeleteJob(ctx, "a"))
		_, err := s.GetJob(ctx, "a")
		assert.ErrorIs(t, err, core.ErrJobNotFound)
		assert.ErrorIs(t, s.DeleteJob(ctx, "a"), core.ErrJobNotFound)

		job, err := s.ClaimDueJob(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("ClaimNothingDue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("later", base.Add(time.Hour))))

		job, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("ClaimClearsSchedule", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		stored := NewJob("a", base)
		stored.Schedule.Attempt = 2
		require.NoError(t, s.UpsertJob(ctx, stored))

		job, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "a", job.Name)
		require.NotNil(t, job.Schedule)
		assert.Equal(t, 2, job.Schedule.Attempt)
		assert.True(t, job.Schedule.Next.Equal(base))
		assert.Equal(t, stored.ArmID, job.ArmID)

		again, err := s.ClaimDueJob(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, again)

		got, err := s.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, got.Schedule)
	})

	t.Run("ClaimSkipsDisabled", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := NewJob("off", base)
		job.Enabled = false
		require.NoError(t, s.UpsertJob(ctx, job))

		claimed, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		assert.Nil(t, claimed)
	})

	t.Run("ClaimEarliestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("second", base.Add(time.Minute))))
		require.NoError(t, s.UpsertJob(ctx, NewJob("first", base)))

		job, err := s.ClaimDueJob(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "first", job.Name)

		job, err = s.ClaimDueJob(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "second", job.Name)
	})

	t.Run("ClaimIsExclusive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const jobs = 5
		for i := 0; i < jobs; i++ {
			require.NoError(t, s.UpsertJob(ctx, NewJob(string(rune('a'+i)), base)))
		}

		var (
			mu      sync.Mutex
			claimed = map[string]int{}
			errs    []error
			wg      sync.WaitGroup
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Bounded so a store that keeps conflicting fails instead of hanging.
				for i := 0; i < 100*jobs; i++ {
					job, err := s.ClaimDueJob(ctx, base)
					if errors.Is(err, core.ErrClaimConflict) {
						continue
					}
					if err != nil {
						mu.Lock()
						errs = append(errs, err)
						mu.Unlock()
						return
					}
					if job == nil {
						return
					}
					mu.Lock()
					claimed[job.Name]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, errs)
		assert.Len(t, claimed, jobs)
		for name, n := range claimed {
			assert.Equal(t, 1, n, "job %s claimed more than once", name)
		}
	})

	t.Run("SaveJobPersistsSchedule", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("a", base)))

		job, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		require.NotNil(t, job)

		job.Schedule = payloads.ScheduleAt(base.Add(3*time.Second), 1)
		require.NoError(t, s.SaveJob(ctx, job))

		claimed, err := s.ClaimDueJob(ctx, base.Add(time.Second))
		require.NoError(t, err)
		assert.Nil(t, claimed)

		claimed, err = s.ClaimDueJob(ctx, base.Add(3*time.Second))
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, 1, claimed.Schedule.Attempt)

		claimed.Schedule = nil
		require.NoError(t, s.SaveJob(ctx, claimed))
		got, err := s.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, got.Schedule)
	})

	t.Run("SaveJobDeleted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("a", base)))
		job, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		require.NoError(t, s.DeleteJob(ctx, "a"))

		job.Schedule = payloads.ScheduleAt(base.Add(time.Hour), 0)
		assert.ErrorIs(t, s.SaveJob(ctx, job), core.ErrJobNotFound)
	})

	t.Run("SaveJobAfterRearm", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("a", base)))

		inFlight, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		require.NotNil(t, inFlight)

		later := base.Add(time.Hour)
		require.NoError(t, s.UpsertJob(ctx, NewJob("a", later)))

		inFlight.Schedule = nil
		assert.ErrorIs(t, s.SaveJob(ctx, inFlight), core.ErrJobRearmed)

		got, err := s.GetJob(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got.Schedule)
		assert.True(t, got.Schedule.Next.Equal(later))

		job, err := s.ClaimDueJob(ctx, later)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "a", job.Name)
	})

	t.Run("SaveJobAfterRearmAndReclaim", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("a", base)))

		first, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		require.NotNil(t, first)

		require.NoError(t, s.UpsertJob(ctx, NewJob("a", base)))
		second, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		require.NotNil(t, second)

		first.Schedule = payloads.ScheduleAt(base.Add(time.Minute), 1)
		assert.ErrorIs(t, s.SaveJob(ctx, first), core.ErrJobRearmed)

		second.Schedule = payloads.ScheduleAt(base.Add(2*time.Minute), 0)
		require.NoError(t, s.SaveJob(ctx, second))
		got, err := s.GetJob(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got.Schedule)
		assert.True(t, got.Schedule.Next.Equal(base.Add(2*time.Minute)))
	})

	t.Run("SaveJobUnclaimed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := NewJob("a", base)
		require.NoError(t, s.UpsertJob(ctx, job))

		job.Schedule = nil
		assert.ErrorIs(t, s.SaveJob(ctx, job), core.ErrJobRearmed)

		got, err := s.GetJob(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got.Schedule)
	})

	t.Run("UpdateKeepsSchedule", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := NewJob("a", base)
		job.Schedule.Attempt = 1
		require.NoError(t, s.UpsertJob(ctx, job))
		armID := job.ArmID

		edit := NewJob("a", base.Add(time.Hour))
		edit.Endpoint = "https://example.com/edited"
		edit.Schedule = nil
		require.NoError(t, s.UpdateJob(ctx, edit))

		got, err := s.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/edited", got.Endpoint)
		assert.True(t, got.RunAt.Equal(base.Add(time.Hour)))
		assert.Equal(t, armID, got.ArmID)
		require.NotNil(t, got.Schedule)
		assert.True(t, got.Schedule.Next.Equal(base))
		assert.Equal(t, 1, got.Schedule.Attempt)
	})

	t.Run("UpdateDuringFlight", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("a", base)))

		inFlight, err := s.ClaimDueJob(ctx, base)
		require.NoError(t, err)
		require.NotNil(t, inFlight)

		edit := NewJob("a", base)
		edit.Endpoint = "https://example.com/edited"
		require.NoError(t, s.UpdateJob(ctx, edit))

		again, err := s.ClaimDueJob(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, again)

		inFlight.Schedule = payloads.ScheduleAt(base.Add(time.Minute), 0)
		require.NoError(t, s.SaveJob(ctx, inFlight))
		got, err := s.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/edited", got.Endpoint)
		require.NotNil(t, got.Schedule)
		assert.True(t, got.Schedule.Next.Equal(base.Add(time.Minute)))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateJob(context.Background(), NewJob("missing", base))
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	t.Run("Runs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.UpsertJob(ctx, NewJob("a", base)))

		for i := 0; i < 3; i++ {
			run := payloads.NewRunRecord("a", base.Add(time.Duration(i)*time.Second))
			run.Success = i%2 == 0
			run.StatusCode = 200 + i
			run.Attempt = i
			run.Body = "body"
			run.DurationMs = int64(i * 10)
			require.NoError(t, s.AppendRun(ctx, run))
		}
		require.NoError(t, s.AppendRun(ctx, payloads.NewRunRecord("b", base)))

		runs, err := s.ListRuns(ctx, "a", 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, 202, runs[0].StatusCode)
		assert.Equal(t, 201, runs[1].StatusCode)
		assert.True(t, runs[0].Success)
		assert.False(t, runs[1].Success)
		assert.Equal(t, 2, runs[0].Attempt)
		assert.Equal(t, int64(20), runs[0].DurationMs)
		assert.Equal(t, "body", runs[0].Body)
		assert.True(t, runs[0].Timestamp.Equal(base.Add(2*time.Second)))

		all, err := s.ListRuns(ctx, "a", 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := s.ListRuns(ctx, "missing", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func assertJobEqual(t *testing.T, want, got *payloads.Job) {
	t.Helper()
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Endpoint, got.Endpoint)
	assert.Equal(t, want.Method, got.Method)
	assert.Equal(t, want.Headers, got.Headers)
	assert.Equal(t, want.Body, got.Body)
	assert.Equal(t, want.Enabled, got.Enabled)
	assert.Equal(t, want.Retries, got.Retries)
	assert.Equal(t, want.RunEvery, got.RunEvery)
	assert.Equal(t, want.Timezone, got.Timezone)
	assert.True(t, want.RunAt.Equal(got.RunAt), "runAt %s != %s", want.RunAt, got.RunAt)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.Schedule)
	assert.True(t, want.Schedule.Next.Equal(*got.Schedule.Next))
	assert.Equal(t, want.Schedule.Attempt, got.Schedule.Attempt)
}
