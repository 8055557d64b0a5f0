package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"github.com/hookcron/hookcron-go/pkg/services/recurrence"
	"go.uber.org/zap"
)

const maxNameLength = 255

var methods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Defaults fill the options a caller leaves empty.
type Defaults struct {
	Endpoint string
	Retries  int
}

type Service struct {
	store    library.Store
	codec    library.Codec
	defaults Defaults
	log      *logger.Logger
	now      func() time.Time
}

func New(store library.Store, codec library.Codec, defaults Defaults, log *logger.Logger) library.Jobs {
	if defaults.Retries <= 0 {
		defaults.Retries = core.DefaultRetries
	}
	return &Service{
		store:    store,
		codec:    codec,
		defaults: defaults,
		log:      log.Named("jobs"),
		now:      time.Now,
	}
}

// Enqueue creates the job or replaces the one with the same name. The
// payload is sealed and the job armed at RunAt, which defaults to now.
func (s *Service) Enqueue(ctx context.Context, name string, payload any, opts payloads.EnqueueOptions) (*payloads.Job, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	body, err := s.codec.Seal(payload)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := &payloads.Job{
		Name:      name,
		Endpoint:  opts.Endpoint,
		Method:    strings.ToUpper(strings.TrimSpace(opts.Method)),
		Headers:   opts.Headers,
		Body:      body,
		Enabled:   true,
		Retries:   s.defaults.Retries,
		RunAt:     now,
		RunEvery:  strings.TrimSpace(opts.RunEvery),
		Timezone:  opts.Timezone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if job.Endpoint == "" {
		job.Endpoint = s.defaults.Endpoint
	}
	if job.Method == "" {
		job.Method = core.DefaultMethod
	}
	if opts.Retries != nil {
		job.Retries = *opts.Retries
	}
	if opts.RunAt != nil {
		job.RunAt = *opts.RunAt
	}
	if opts.Enabled != nil {
		job.Enabled = *opts.Enabled
	}

	if err := validate(job); err != nil {
		return nil, err
	}

	existing, err := s.store.GetJob(ctx, name)
	switch {
	case err == nil:
		job.CreatedAt = existing.CreatedAt
	case !isNotFound(err):
		return nil, core.ErrFailedToLoadJob.WithArgs(name, err)
	}

	job.Schedule = payloads.ScheduleAt(job.RunAt, 0)
	if err := s.store.UpsertJob(ctx, job); err != nil {
		return nil, core.ErrFailedToSaveJob.WithArgs(name, err)
	}

	s.log.Info("job enqueued",
		zap.String("job", name),
		zap.Time("run_at", job.RunAt),
		zap.String("run_every", job.RunEvery))
	return job, nil
}

// Update patches an existing job. The schedule is re-armed at RunAt when
// RunAt or RunEvery change, or when opts.Rearm is set.
func (s *Service) Update(ctx context.Context, name string, opts payloads.UpdateOptions) (*payloads.Job, error) {
	job, err := s.store.GetJob(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, core.ErrFailedToLoadJob.WithArgs(name, err)
	}

	rearm := opts.Rearm
	if opts.Payload != nil {
		if job.Body, err = s.codec.Seal(opts.Payload); err != nil {
			return nil, err
		}
	}
	if opts.Endpoint != nil {
		job.Endpoint = *opts.Endpoint
	}
	if opts.Method != nil {
		job.Method = strings.ToUpper(strings.TrimSpace(*opts.Method))
	}
	if opts.Retries != nil {
		job.Retries = *opts.Retries
	}
	if opts.RunAt != nil {
		job.RunAt = *opts.RunAt
		rearm = true
	}
	if opts.RunEvery != nil {
		job.RunEvery = strings.TrimSpace(*opts.RunEvery)
		rearm = true
	}
	if opts.Timezone != nil {
		job.Timezone = *opts.Timezone
	}
	if opts.Headers != nil {
		job.Headers = *opts.Headers
	}
	if opts.Enabled != nil {
		job.Enabled = *opts.Enabled
	}

	if err := validate(job); err != nil {
		return nil, err
	}

	job.UpdatedAt = s.now()

	// Without a re-arm the stored schedule stays authoritative: it may have
	// been claimed or rescheduled since it was read.
	save := s.store.UpdateJob
	if rearm {
		job.Schedule = payloads.ScheduleAt(job.RunAt, 0)
		save = s.store.UpsertJob
	}
	if err := save(ctx, job); err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, core.ErrFailedToSaveJob.WithArgs(name, err)
	}

	s.log.Info("job updated", zap.String("job", name), zap.Bool("rearmed", rearm))
	return job, nil
}

func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.store.DeleteJob(ctx, name); err != nil {
		return err
	}
	s.log.Info("job deleted", zap.String("job", name))
	return nil
}

// Get returns the job with its payload opened. Codec errors are returned
// as is so callers can tell a tampered payload from a missing job.
func (s *Service) Get(ctx context.Context, name string) (*payloads.JobView, error) {
	job, err := s.store.GetJob(ctx, name)
	if err != nil {
		return nil, err
	}

	opened, err := s.codec.Open(job.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload of job %q: %w", name, err)
	}

	return &payloads.JobView{
		Job:      *job,
		Payload:  opened.Payload,
		Verified: opened.Verified,
	}, nil
}

// Promote re-arms the job to run now from its first attempt.
func (s *Service) Promote(ctx context.Context, name string) (*payloads.Job, error) {
	job, err := s.store.GetJob(ctx, name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job.Schedule = payloads.ScheduleAt(now, 0)
	job.UpdatedAt = now
	if err := s.store.UpsertJob(ctx, job); err != nil {
		return nil, core.ErrFailedToSaveJob.WithArgs(name, err)
	}

	s.log.Info("job promoted", zap.String("job", name))
	return job, nil
}

func (s *Service) Runs(ctx context.Context, name string, limit int) ([]*payloads.RunRecord, error) {
	if limit <= 0 {
		limit = core.DefaultRunsLimit
	}
	return s.store.ListRuns(ctx, name, limit)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return core.InvalidJob("name", "must not be empty")
	}
	if len(name) > maxNameLength {
		return core.InvalidJob("name", fmt.Sprintf("longer than %d bytes", maxNameLength))
	}
	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return core.InvalidJob("name", "must not contain spaces or control characters")
		}
	}
	return nil
}

func validate(job *payloads.Job) error {
	if job.Endpoint == "" {
		return core.InvalidJob("endpoint", "must be set")
	}
	u, err := url.Parse(job.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.InvalidJob("endpoint", fmt.Sprintf("%q is not an http(s) URL", job.Endpoint))
	}
	if !methods[job.Method] {
		return core.InvalidJob("method", fmt.Sprintf("%q is not supported", job.Method))
	}
	if job.Retries < 0 {
		return core.InvalidJob("retries", "must not be negative")
	}
	if job.RunEvery != "" {
		if _, err := recurrence.ParseInterval(job.RunEvery); err != nil {
			return err
		}
	}
	if job.Timezone != "" {
		if _, err := time.LoadLocation(job.Timezone); err != nil {
			return core.InvalidJob("timezone", fmt.Sprintf("unknown zone %q", job.Timezone))
		}
	}
	for _, h := range job.Headers {
		if h.Name == "" || strings.ContainsAny(h.Name, " :\r\n") {
			return core.InvalidJob("headers", fmt.Sprintf("bad header name %q", h.Name))
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, core.ErrJobNotFound)
}

// Payload decodes a JobView payload into v.
func Payload[T any](view *payloads.JobView) (T, error) {
	var v T
	if err := json.Unmarshal(view.Payload, &v); err != nil {
		return v, core.ErrFailedToUnmarshalPayload.WithArgs(err)
	}
	return v, nil
}
