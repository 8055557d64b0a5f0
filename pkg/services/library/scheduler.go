package library

import "context"

type Scheduler interface {
	// Start runs the tick loop until ctx is cancelled or Stop is called.
	Start(ctx context.Context)
	Stop()
	// Tick claims and dispatches one batch, returning how many jobs ran.
	Tick(ctx context.Context) int
}
