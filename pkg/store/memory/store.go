package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/library"
)

// Store keeps jobs and run records in process memory. It is safe for
// concurrent use but only coordinates pollers living in the same process.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*payloads.Job
	runs map[string][]*payloads.RunRecord
}

func New() library.Store {
	return &Store{
		jobs: make(map[string]*payloads.Job),
		runs: make(map[string][]*payloads.RunRecord),
	}
}

func (s *Store) ClaimDueJob(ctx context.Context, now time.Time) (*payloads.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due *payloads.Job
	for _, job := range s.jobs {
		if !job.Enabled || !job.Schedule.Due(now) {
			continue
		}
		if due == nil || earlier(job, due) {
			due = job
		}
	}
	if due == nil {
		return nil, nil
	}

	claimed := due.Clone()
	due.Schedule = nil
	return claimed, nil
}

func earlier(a, b *payloads.Job) bool {
	if !a.Schedule.Next.Equal(*b.Schedule.Next) {
		return a.Schedule.Next.Before(*b.Schedule.Next)
	}
	return a.Name < b.Name
}

func (s *Store) SaveJob(ctx context.Context, job *payloads.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.Name]
	if !ok {
		return core.ErrJobNotFound
	}
	if stored.ArmID != job.ArmID || stored.Schedule != nil {
		return core.ErrJobRearmed
	}
	var sched *payloads.Schedule
	if job.Schedule != nil {
		sched = job.Clone().Schedule
	}
	stored.Schedule = sched
	return nil
}

func (s *Store) AppendRun(ctx context.Context, run *payloads.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := *run
	s.runs[run.JobName] = append(s.runs[run.JobName], &rec)
	return nil
}

// ListRuns returns the most recent records first.
func (s *Store) ListRuns(ctx context.Context, name string, limit int) ([]*payloads.RunRecord, error) {
	if limit <= 0 {
		limit = core.DefaultRunsLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.runs[name]
	out := make([]*payloads.RunRecord, 0, min(limit, len(runs)))
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		rec := *runs[i]
		out = append(out, &rec)
	}
	return out, nil
}

func (s *Store) GetJob(ctx context.Context, name string) (*payloads.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[name]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *Store) UpsertJob(ctx context.Context, job *payloads.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.ArmID = payloads.NewArmID()
	s.jobs[job.Name] = job.Clone()
	return nil
}

func (s *Store) UpdateJob(ctx context.Context, job *payloads.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.Name]
	if !ok {
		return core.ErrJobNotFound
	}
	next := job.Clone()
	next.Schedule = stored.Schedule
	next.ArmID = stored.ArmID
	s.jobs[job.Name] = next
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return core.ErrJobNotFound
	}
	delete(s.jobs, name)
	return nil
}

func (s *Store) Close() error {
	return nil
}
