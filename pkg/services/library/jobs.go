package library

import (
	"context"

	"github.com/hookcron/hookcron-go/pkg/payloads"
)

//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/jobs.go -package=mock_library Jobs

type Jobs interface {
	Enqueue(ctx context.Context, name string, payload any, opts payloads.EnqueueOptions) (*payloads.Job, error)
	Update(ctx context.Context, name string, opts payloads.UpdateOptions) (*payloads.Job, error)
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (*payloads.JobView, error)
	Promote(ctx context.Context, name string) (*payloads.Job, error)
	Runs(ctx context.Context, name string, limit int) ([]*payloads.RunRecord, error)
}
