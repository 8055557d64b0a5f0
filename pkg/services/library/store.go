package library

import (
	"context"
	"time"

	"github.com/hookcron/hookcron-go/pkg/payloads"
)

//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/store.go -package=mock_library Store

// Store is the persistence boundary of the scheduler. Implementations must
// make ClaimDueJob atomic: it is the only thing preventing two pollers from
// dispatching the same job.
type Store interface {
	// ClaimDueJob finds one enabled job whose schedule is due at now, clears
	// its schedule in the same operation and returns the job as it was
	// before clearing. It returns nil, nil when nothing is due and
	// core.ErrClaimConflict when another claimer won the race.
	ClaimDueJob(ctx context.Context, now time.Time) (*payloads.Job, error)
	// SaveJob persists the post-run schedule of a claimed job. It only
	// writes while the job is still claimed under the same ArmID, and
	// returns core.ErrJobRearmed when it was re-armed in the meantime or
	// core.ErrJobNotFound when it was deleted.
	SaveJob(ctx context.Context, job *payloads.Job) error
	AppendRun(ctx context.Context, run *payloads.RunRecord) error
	ListRuns(ctx context.Context, name string, limit int) ([]*payloads.RunRecord, error)

	GetJob(ctx context.Context, name string) (*payloads.Job, error)
	// UpsertJob creates or replaces the job with the same name, arming it
	// with job.Schedule. It stores a fresh ArmID and sets it on job.
	UpsertJob(ctx context.Context, job *payloads.Job) error
	// UpdateJob replaces the definition of an existing job and leaves its
	// schedule and ArmID untouched. It returns core.ErrJobNotFound when the
	// job does not exist.
	UpdateJob(ctx context.Context, job *payloads.Job) error
	DeleteJob(ctx context.Context, name string) error

	Close() error
}
