package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"github.com/hookcron/hookcron-go/pkg/services/recurrence"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Clock returns the current time. Tests inject a fixed one.
type Clock func() time.Time

type Option func(*Service)

func WithClock(clock Clock) Option {
	return func(s *Service) { s.now = clock }
}

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryDelay = d
		}
	}
}

func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.dispatchTimeout = d
		}
	}
}

type Service struct {
	store      library.Store
	dispatcher library.Dispatcher
	log        *logger.Logger

	now             Clock
	batchSize       int
	pollInterval    time.Duration
	retryDelay      time.Duration
	dispatchTimeout time.Duration

	// tickMu serializes ticks, whether from the loop or from Tick callers.
	tickMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Result is the outcome of one claimed job. Run is set whenever a dispatch
// happened, successful or not. Err reports a failure to process the job
// itself: a panic or a store error while recording the outcome.
type Result struct {
	Job string
	Run *payloads.RunRecord
	Err error
}

func (r Result) Ok() bool {
	return r.Err == nil
}

func New(store library.Store, dispatcher library.Dispatcher, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:           store,
		dispatcher:      dispatcher,
		log:             log.Named("scheduler"),
		now:             time.Now,
		batchSize:       core.DefaultBatchSize,
		pollInterval:    core.DefaultPollInterval,
		retryDelay:      core.DefaultRetryDelay,
		dispatchTimeout: core.DefaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ library.Scheduler = (*Service)(nil)

// Start runs the tick loop in the background. The next tick starts
// pollInterval after the previous one finished. Calling Start on a running
// scheduler does nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.loop(ctx, s.stopped)
	s.log.Info("scheduler started",
		zap.Duration("poll_interval", s.pollInterval),
		zap.Int("batch_size", s.batchSize))
}

// Stop ends the loop and waits for the current tick to settle. In-flight
// dispatches finish under their own timeout.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel, s.stopped = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.log.Info("scheduler stopped")
}

func (s *Service) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.Tick(ctx)
		timer.Reset(s.pollInterval)
	}
}

// Tick claims and dispatches one batch and returns how many jobs ran.
func (s *Service) Tick(ctx context.Context) int {
	results := s.tick(ctx)
	for _, r := range results {
		if !r.Ok() {
			s.log.Error("job processing failed", zap.String("job", r.Job), zap.Error(r.Err))
		}
	}
	return len(results)
}

func (s *Service) tick(ctx context.Context) []Result {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	claimed := s.claim(ctx)
	if len(claimed) == 0 {
		return nil
	}

	// Dispatches outlive a cancelled loop; each has its own timeout.
	runCtx := context.WithoutCancel(ctx)
	results := make([]Result, len(claimed))

	var g errgroup.Group
	for i, job := range claimed {
		g.Go(func() error {
			results[i] = s.process(runCtx, job)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// claim takes up to batchSize due jobs, one store call at a time.
func (s *Service) claim(ctx context.Context) []*payloads.Job {
	var claimed []*payloads.Job
	for i := 0; i < s.batchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		job, err := s.store.ClaimDueJob(ctx, s.now())
		if errors.Is(err, core.ErrClaimConflict) {
			s.log.Debug("claim conflict, skipping")
			continue
		}
		if err != nil {
			s.log.Error("claim failed", zap.Error(core.ErrFailedToClaimJob.WithArgs(err)))
			break
		}
		if job == nil {
			break
		}
		claimed = append(claimed, job)
	}
	return claimed
}

// process runs one claimed job and records its outcome. It never panics.
func (s *Service) process(ctx context.Context, job *payloads.Job) (result Result) {
	result.Job = job.Name
	log := s.log.WithJob(job.Name)

	defer func() {
		if rec := recover(); rec != nil {
			result.Err = fmt.Errorf("panic while processing job: %v", rec)
		}
	}()

	run, success := s.dispatch(ctx, job)
	result.Run = run

	sched, err := s.nextSchedule(job, success, s.now())
	if err != nil {
		log.Warn("cannot compute next occurrence, terminating schedule", zap.Error(err))
	}
	job.Schedule = sched

	if err := s.store.AppendRun(ctx, run); err != nil {
		log.Error("failed to record run", zap.Error(err))
		result.Err = core.ErrFailedToAddRun.WithArgs(job.Name, err)
	}

	if err := s.store.SaveJob(ctx, job); err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			log.Debug("job deleted while running, dropping result")
			return Result{Job: job.Name, Run: run}
		}
		if errors.Is(err, core.ErrJobRearmed) {
			log.Debug("job re-armed while running, keeping the new schedule")
			return Result{Job: job.Name, Run: run}
		}
		log.Error("failed to save schedule", zap.Error(err))
		result.Err = core.ErrFailedToSaveJob.WithArgs(job.Name, err)
		return result
	}

	if sched != nil {
		log.Debug("job rescheduled",
			zap.Time("next", *sched.Next),
			zap.Int("attempt", sched.Attempt),
			zap.Bool("success", success))
	} else {
		log.Debug("job schedule terminated", zap.Bool("success", success))
	}
	return result
}

func (s *Service) dispatch(ctx context.Context, job *payloads.Job) (*payloads.RunRecord, bool) {
	attempt := job.Attempt()

	headers := make([]payloads.Header, 0, len(job.Headers)+2)
	headers = append(headers, job.Headers...)
	headers = append(headers,
		payloads.Header{Name: core.HeaderJob, Value: job.Name},
		payloads.Header{Name: core.HeaderAttempt, Value: strconv.Itoa(attempt)},
	)

	start := s.now()
	run := payloads.NewRunRecord(job.Name, start)
	run.Attempt = attempt

	began := time.Now()
	resp, err := s.send(ctx, library.DispatchRequest{
		URL:     job.Endpoint,
		Method:  job.Method,
		Headers: headers,
		Body:    job.Body,
		Timeout: s.dispatchTimeout,
	})
	run.DurationMs = time.Since(began).Milliseconds()

	if err != nil {
		var dispatchErr *core.DispatchError
		if errors.As(err, &dispatchErr) {
			run.StatusCode = dispatchErr.StatusCode
		} else {
			run.StatusCode = core.StatusTransportError
		}
		run.Body = core.Truncate(err.Error(), core.MaxRunBodyLength)
		s.log.Warn("dispatch failed",
			zap.String("job", job.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return run, false
	}

	run.StatusCode = resp.StatusCode
	run.Body = core.Truncate(resp.Body, core.MaxRunBodyLength)
	run.Success = resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	if !run.Success {
		s.log.Warn("dispatch failed",
			zap.String("job", job.Name),
			zap.Int("attempt", attempt),
			zap.Error(&core.DispatchError{
				Kind:       core.ErrDispatchNonSuccessStatus,
				StatusCode: resp.StatusCode,
			}))
	}
	return run, run.Success
}

// send calls the dispatcher, turning a panic into a transport failure so it
// follows the normal retry path.
func (s *Service) send(ctx context.Context, req library.DispatchRequest) (resp *library.DispatchResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp, err = nil, &core.DispatchError{
				Kind:       core.ErrDispatchTransport,
				StatusCode: core.StatusTransportError,
				Detail:     fmt.Sprintf("panic: %v", rec),
			}
		}
	}()

	resp, err = s.dispatcher.Send(ctx, req)
	if err == nil && resp == nil {
		err = &core.DispatchError{
			Kind:       core.ErrDispatchTransport,
			StatusCode: core.StatusTransportError,
			Detail:     "empty response",
		}
	}
	return resp, err
}

// nextSchedule decides what follows a run. A failed run is retried after
// retryDelay while attempts remain, then falls through to recurrence like a
// successful one. Non recurring jobs end with no schedule.
func (s *Service) nextSchedule(job *payloads.Job, success bool, now time.Time) (*payloads.Schedule, error) {
	attempt := job.Attempt()
	if !success && attempt < job.Retries-1 {
		return payloads.ScheduleAt(now.Add(s.retryDelay), attempt+1), nil
	}
	if !job.Recurring() {
		return nil, nil
	}
	next, err := recurrence.Next(job.RunAt, job.RunEvery, now)
	if err != nil {
		return nil, err
	}
	return payloads.ScheduleAt(next, 0), nil
}
