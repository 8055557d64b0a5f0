package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"go.uber.org/zap"
)

// retryStore retries transient failures of the wrapped store with
// exponential backoff. Domain errors are returned at once.
type retryStore struct {
	next    library.Store
	maxTime time.Duration
	log     *logger.Logger
}

func WithRetry(next library.Store, maxTime time.Duration, log *logger.Logger) library.Store {
	if maxTime <= 0 {
		maxTime = core.DefaultRetryMaxTime
	}
	return &retryStore{
		next:    next,
		maxTime: maxTime,
		log:     log.Named("store-retry"),
	}
}

func permanent(err error) bool {
	return errors.Is(err, core.ErrClaimConflict) ||
		errors.Is(err, core.ErrJobNotFound) ||
		errors.Is(err, core.ErrJobRearmed) ||
		errors.Is(err, core.ErrInvalidJob) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *retryStore) do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.maxTime

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		r.log.Warn("store call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, backoff.WithContext(b, ctx))
}

func (r *retryStore) ClaimDueJob(ctx context.Context, now time.Time) (*payloads.Job, error) {
	var job *payloads.Job
	err := r.do(ctx, "claim", func() (err error) {
		job, err = r.next.ClaimDueJob(ctx, now)
		return err
	})
	return job, err
}

func (r *retryStore) SaveJob(ctx context.Context, job *payloads.Job) error {
	return r.do(ctx, "save", func() error {
		return r.next.SaveJob(ctx, job)
	})
}

func (r *retryStore) AppendRun(ctx context.Context, run *payloads.RunRecord) error {
	return r.do(ctx, "append_run", func() error {
		return r.next.AppendRun(ctx, run)
	})
}

func (r *retryStore) ListRuns(ctx context.Context, name string, limit int) ([]*payloads.RunRecord, error) {
	var runs []*payloads.RunRecord
	err := r.do(ctx, "list_runs", func() (err error) {
		runs, err = r.next.ListRuns(ctx, name, limit)
		return err
	})
	return runs, err
}

func (r *retryStore) GetJob(ctx context.Context, name string) (*payloads.Job, error) {
	var job *payloads.Job
	err := r.do(ctx, "get", func() (err error) {
		job, err = r.next.GetJob(ctx, name)
		return err
	})
	return job, err
}

func (r *retryStore) UpsertJob(ctx context.Context, job *payloads.Job) error {
	return r.do(ctx, "upsert", func() error {
		return r.next.UpsertJob(ctx, job)
	})
}

func (r *retryStore) UpdateJob(ctx context.Context, job *payloads.Job) error {
	return r.do(ctx, "update", func() error {
		return r.next.UpdateJob(ctx, job)
	})
}

func (r *retryStore) DeleteJob(ctx context.Context, name string) error {
	return r.do(ctx, "delete", func() error {
		return r.next.DeleteJob(ctx, name)
	})
}

func (r *retryStore) Close() error {
	return r.next.Close()
}
