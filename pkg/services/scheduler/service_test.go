package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	mock_library "github.com/hookcron/hookcron-go/pkg/services/library/mock"
	"github.com/hookcron/hookcron-go/pkg/services/recurrence"
	"github.com/hookcron/hookcron-go/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newJob(name string, retries int, runEvery string) *payloads.Job {
	return &payloads.Job{
		Name:     name,
		Endpoint: "https://x/y",
		Method:   http.MethodPost,
		Headers:  []payloads.Header{{Name: "X-Team", Value: "ops"}},
		Body:     `{"v":1}`,
		Enabled:  true,
		Retries:  retries,
		RunAt:    t0,
		RunEvery: runEvery,
		Schedule: payloads.ScheduleAt(t0, 0),
	}
}

func status(code int) *library.DispatchResponse {
	return &library.DispatchResponse{StatusCode: code, Body: http.StatusText(code)}
}

func setupScheduler(t *testing.T, jobs ...*payloads.Job) (*Service, library.Store, *mock_library.MockDispatcher, *fakeClock) {
	ctrl := gomock.NewController(t)
	dispatcher := mock_library.NewMockDispatcher(ctrl)
	store := memory.New()
	clock := &fakeClock{now: t0}

	for _, job := range jobs {
		require.NoError(t, store.UpsertJob(context.Background(), job))
	}

	s := New(store, dispatcher, logger.NewNop(), WithClock(clock.Now))
	return s, store, dispatcher, clock
}

func getJob(t *testing.T, store library.Store, name string) *payloads.Job {
	t.Helper()
	job, err := store.GetJob(context.Background(), name)
	require.NoError(t, err)
	return job
}

func TestTickIdle(t *testing.T) {
	s, _, _, _ := setupScheduler(t)
	assert.Equal(t, 0, s.Tick(context.Background()))
}

func TestTickSkipsFutureAndDisabledJobs(t *testing.T) {
	later := newJob("later", 1, "")
	later.Schedule = payloads.ScheduleAt(t0.Add(time.Minute), 0)
	off := newJob("off", 1, "")
	off.Enabled = false

	s, _, _, _ := setupScheduler(t, later, off)
	assert.Equal(t, 0, s.Tick(context.Background()))
}

func TestTickSuccessTerminatesOneShotJob(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("once", 3, ""))

	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req library.DispatchRequest) (*library.DispatchResponse, error) {
			assert.Equal(t, "https://x/y", req.URL)
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, `{"v":1}`, req.Body)
			assert.Equal(t, core.DefaultDispatchTimeout, req.Timeout)
			assert.Equal(t, []payloads.Header{
				{Name: "X-Team", Value: "ops"},
				{Name: core.HeaderJob, Value: "once"},
				{Name: core.HeaderAttempt, Value: "0"},
			}, req.Headers)
			return status(http.StatusNoContent), nil
		})

	results := s.tick(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Ok())
	require.NotNil(t, results[0].Run)
	assert.True(t, results[0].Run.Success)

	assert.Nil(t, getJob(t, store, "once").Schedule)

	runs, err := store.ListRuns(context.Background(), "once", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)
	assert.Equal(t, http.StatusNoContent, runs[0].StatusCode)
	assert.Equal(t, 0, runs[0].Attempt)
	assert.True(t, runs[0].Timestamp.Equal(t0))
}

func TestTickSuccessReschedulesRecurringJob(t *testing.T) {
	s, store, dispatcher, clock := setupScheduler(t, newJob("hourly", 3, "PT1H"))
	clock.Set(t0.Add(150 * time.Minute))

	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(status(http.StatusOK), nil)
	assert.Equal(t, 1, s.Tick(context.Background()))

	sched := getJob(t, store, "hourly").Schedule
	require.NotNil(t, sched)
	assert.True(t, sched.Next.Equal(t0.Add(3*time.Hour)), "next = %s", sched.Next)
	assert.Equal(t, 0, sched.Attempt)
}

// With the attempt < retries-1 rule a job needs two retries to get a
// backoff retry before recurring.
func TestScenarioFailThenRecover(t *testing.T) {
	s, store, dispatcher, clock := setupScheduler(t, newJob("ping", 2, "PT5M"))
	ctx := context.Background()

	gomock.InOrder(
		dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(status(http.StatusInternalServerError), nil),
		dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req library.DispatchRequest) (*library.DispatchResponse, error) {
				assert.Contains(t, req.Headers, payloads.Header{Name: core.HeaderAttempt, Value: "1"})
				return status(http.StatusOK), nil
			}),
	)

	assert.Equal(t, 1, s.Tick(ctx))
	sched := getJob(t, store, "ping").Schedule
	require.NotNil(t, sched)
	assert.Equal(t, 1, sched.Attempt)
	assert.True(t, sched.Next.Equal(t0.Add(core.DefaultRetryDelay)))

	clock.Set(t0.Add(2 * time.Second))
	assert.Equal(t, 0, s.Tick(ctx), "retry must wait for the backoff")

	now := t0.Add(core.DefaultRetryDelay)
	clock.Set(now)
	assert.Equal(t, 1, s.Tick(ctx))

	sched = getJob(t, store, "ping").Schedule
	require.NotNil(t, sched)
	assert.Equal(t, 0, sched.Attempt)
	assert.True(t, sched.Next.Equal(recurrence.NextOccurrence(t0, 5*time.Minute, now)))
	assert.True(t, sched.Next.Equal(t0.Add(5*time.Minute)))

	runs, err := store.ListRuns(ctx, "ping", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Success)
	assert.Equal(t, 1, runs[0].Attempt)
	assert.False(t, runs[1].Success)
	assert.Equal(t, http.StatusInternalServerError, runs[1].StatusCode)
}

func TestSingleRetryJobDoesNotBackOff(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("ping", 1, "PT5M"))

	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(status(http.StatusInternalServerError), nil)
	assert.Equal(t, 1, s.Tick(context.Background()))

	sched := getJob(t, store, "ping").Schedule
	require.NotNil(t, sched)
	assert.Equal(t, 0, sched.Attempt)
	assert.True(t, sched.Next.Equal(t0.Add(5*time.Minute)))
}

func TestRetryExhaustion(t *testing.T) {
	for _, tc := range []struct {
		name     string
		runEvery string
	}{
		{name: "terminates", runEvery: ""},
		{name: "falls through to recurrence", runEvery: "PT1H"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, store, dispatcher, clock := setupScheduler(t, newJob("flaky", 3, tc.runEvery))
			ctx := context.Background()

			var attempts []string
			dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req library.DispatchRequest) (*library.DispatchResponse, error) {
					attempts = append(attempts, req.Headers[len(req.Headers)-1].Value)
					return status(http.StatusBadGateway), nil
				}).Times(3)

			now := t0
			for i := 0; i < 3; i++ {
				clock.Set(now)
				require.Equal(t, 1, s.Tick(ctx), "attempt %d", i)
				now = now.Add(core.DefaultRetryDelay)
			}
			clock.Set(now)
			assert.Equal(t, 0, s.Tick(ctx))
			assert.Equal(t, []string{"0", "1", "2"}, attempts)

			sched := getJob(t, store, "flaky").Schedule
			if tc.runEvery == "" {
				assert.Nil(t, sched)
				return
			}
			require.NotNil(t, sched)
			assert.Equal(t, 0, sched.Attempt)
			assert.True(t, sched.Next.Equal(t0.Add(time.Hour)))
		})
	}
}

func TestDispatchErrorsBecomeRuns(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("slow", 2, ""))

	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, &core.DispatchError{
		Kind:       core.ErrDispatchTimeout,
		StatusCode: core.StatusTimeout,
		Detail:     "context deadline exceeded",
	})

	results := s.tick(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Ok())

	runs, err := store.ListRuns(context.Background(), "slow", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
	assert.Equal(t, core.StatusTimeout, runs[0].StatusCode)
	assert.Contains(t, runs[0].Body, "timed out")

	sched := getJob(t, store, "slow").Schedule
	require.NotNil(t, sched)
	assert.Equal(t, 1, sched.Attempt)
}

func TestPlainErrorsAreTransportFailures(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("a", 1, ""))
	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, errors.New("dial tcp: refused"))

	s.Tick(context.Background())

	runs, err := store.ListRuns(context.Background(), "a", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, core.StatusTransportError, runs[0].StatusCode)
}

func TestRunBodyIsTruncated(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("big", 1, ""))
	body := make([]byte, 4000)
	for i := range body {
		body[i] = 'x'
	}
	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&library.DispatchResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
	}, nil)

	s.Tick(context.Background())

	runs, err := store.ListRuns(context.Background(), "big", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Body, core.MaxRunBodyLength)
}

func TestDispatcherPanicFollowsFailurePath(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("boom", 2, ""), newJob("fine", 1, ""))

	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req library.DispatchRequest) (*library.DispatchResponse, error) {
			if req.Headers[len(req.Headers)-2].Value == "boom" {
				panic("handler exploded")
			}
			return status(http.StatusOK), nil
		}).Times(2)

	results := s.tick(context.Background())
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Ok(), r.Job)
	}

	runs, err := store.ListRuns(context.Background(), "boom", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
	assert.Contains(t, runs[0].Body, "handler exploded")

	sched := getJob(t, store, "boom").Schedule
	require.NotNil(t, sched)
	assert.Equal(t, 1, sched.Attempt)

	fine, err := store.ListRuns(context.Background(), "fine", 1)
	require.NoError(t, err)
	require.Len(t, fine, 1)
	assert.True(t, fine[0].Success)
}

func TestJobDeletedMidFlightIsDropped(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("gone", 3, ""))

	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ library.DispatchRequest) (*library.DispatchResponse, error) {
			assert.NoError(t, store.DeleteJob(ctx, "gone"))
			return status(http.StatusInternalServerError), nil
		})

	results := s.tick(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Ok())

	_, err := store.GetJob(context.Background(), "gone")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestBatchSizeBoundsClaims(t *testing.T) {
	jobs := make([]*payloads.Job, 0, 15)
	for i := 0; i < 15; i++ {
		jobs = append(jobs, newJob(fmt.Sprintf("job-%02d", i), 1, ""))
	}
	s, _, dispatcher, _ := setupScheduler(t, jobs...)

	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(status(http.StatusOK), nil).Times(15)

	assert.Equal(t, core.DefaultBatchSize, s.Tick(context.Background()))
	assert.Equal(t, 5, s.Tick(context.Background()))
	assert.Equal(t, 0, s.Tick(context.Background()))
}

func TestDispatchesRunConcurrently(t *testing.T) {
	const n = 3
	jobs := make([]*payloads.Job, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, newJob(fmt.Sprintf("job-%d", i), 1, ""))
	}
	s, _, dispatcher, _ := setupScheduler(t, jobs...)

	var (
		arrived atomic.Int32
		all     = make(chan struct{})
	)
	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, library.DispatchRequest) (*library.DispatchResponse, error) {
			if arrived.Add(1) == n {
				close(all)
			}
			select {
			case <-all:
				return status(http.StatusOK), nil
			case <-time.After(5 * time.Second):
				return nil, errors.New("dispatches were not concurrent")
			}
		}).Times(n)

	results := s.tick(context.Background())
	require.Len(t, results, n)
	for _, r := range results {
		require.NotNil(t, r.Run)
		assert.True(t, r.Run.Success)
	}
}

func TestClaimConflictIsBenign(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_library.NewMockStore(ctrl)
	dispatcher := mock_library.NewMockDispatcher(ctrl)
	s := New(store, dispatcher, logger.NewNop(), WithClock(func() time.Time { return t0 }))

	job := newJob("a", 1, "")
	gomock.InOrder(
		store.EXPECT().ClaimDueJob(gomock.Any(), t0).Return(nil, core.ErrClaimConflict),
		store.EXPECT().ClaimDueJob(gomock.Any(), t0).Return(job, nil),
		store.EXPECT().ClaimDueJob(gomock.Any(), t0).Return(nil, nil),
	)
	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(status(http.StatusOK), nil)
	store.EXPECT().AppendRun(gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().SaveJob(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, saved *payloads.Job) error {
			assert.Nil(t, saved.Schedule)
			return nil
		})

	assert.Equal(t, 1, s.Tick(context.Background()))
}

func TestRearmDuringDispatchWins(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("once", 0, ""))
	later := t0.Add(time.Hour)

	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ library.DispatchRequest) (*library.DispatchResponse, error) {
			replacement := newJob("once", 0, "")
			replacement.RunAt = later
			replacement.Schedule = payloads.ScheduleAt(later, 0)
			assert.NoError(t, store.UpsertJob(ctx, replacement))
			return status(http.StatusOK), nil
		})

	results := s.tick(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Ok())
	assert.True(t, results[0].Run.Success)

	job := getJob(t, store, "once")
	require.NotNil(t, job.Schedule)
	assert.True(t, job.Schedule.Next.Equal(later))
	assert.Equal(t, 0, job.Schedule.Attempt)
}

func TestRearmedSaveIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_library.NewMockStore(ctrl)
	dispatcher := mock_library.NewMockDispatcher(ctrl)
	s := New(store, dispatcher, logger.NewNop(), WithClock(func() time.Time { return t0 }), WithBatchSize(1))

	store.EXPECT().ClaimDueJob(gomock.Any(), gomock.Any()).Return(newJob("a", 1, ""), nil)
	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(status(http.StatusOK), nil)
	store.EXPECT().AppendRun(gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().SaveJob(gomock.Any(), gomock.Any()).Return(core.ErrJobRearmed)

	results := s.tick(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Ok())
	assert.NoError(t, results[0].Err)
}

func TestClaimErrorEndsClaiming(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_library.NewMockStore(ctrl)
	dispatcher := mock_library.NewMockDispatcher(ctrl)
	s := New(store, dispatcher, logger.NewNop(), WithClock(func() time.Time { return t0 }))

	store.EXPECT().ClaimDueJob(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused")).Times(1)

	assert.Equal(t, 0, s.Tick(context.Background()))
}

func TestStoreErrorsAreReportedNotPropagated(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_library.NewMockStore(ctrl)
	dispatcher := mock_library.NewMockDispatcher(ctrl)
	s := New(store, dispatcher, logger.NewNop(), WithClock(func() time.Time { return t0 }), WithBatchSize(1))

	store.EXPECT().ClaimDueJob(gomock.Any(), gomock.Any()).Return(newJob("a", 1, ""), nil)
	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(status(http.StatusOK), nil)
	store.EXPECT().AppendRun(gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().SaveJob(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	results := s.tick(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Ok())
	assert.Contains(t, results[0].Err.Error(), "disk full")
	assert.True(t, results[0].Run.Success)
}

func TestOptions(t *testing.T) {
	s := New(memory.New(), nil, logger.NewNop(),
		WithBatchSize(3),
		WithPollInterval(50*time.Millisecond),
		WithRetryDelay(time.Second),
		WithDispatchTimeout(2*time.Second),
		WithBatchSize(0),
	)
	assert.Equal(t, 3, s.batchSize)
	assert.Equal(t, 50*time.Millisecond, s.pollInterval)
	assert.Equal(t, time.Second, s.retryDelay)
	assert.Equal(t, 2*time.Second, s.dispatchTimeout)
}

func TestStartStop(t *testing.T) {
	s, store, dispatcher, _ := setupScheduler(t, newJob("loop", 1, ""))
	s.pollInterval = 10 * time.Millisecond

	sent := make(chan struct{})
	dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, library.DispatchRequest) (*library.DispatchResponse, error) {
			close(sent)
			return status(http.StatusOK), nil
		})

	s.Start(context.Background())
	s.Start(context.Background())

	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never dispatched")
	}
	s.Stop()
	s.Stop()

	assert.Eventually(t, func() bool {
		runs, err := store.ListRuns(context.Background(), "loop", 1)
		return err == nil && len(runs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStopCancelsWithParentContext(t *testing.T) {
	s, _, _, _ := setupScheduler(t)
	s.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
