package memory

import (
	"context"
	"testing"
	"time"

	"github.com/hookcron/hookcron-go/pkg/services/library"
	"github.com/hookcron/hookcron-go/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) library.Store {
		return New()
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := storetest.NewJob("a", time.Now())
	require.NoError(t, s.UpsertJob(ctx, job))

	job.Headers[0].Value = "changed"
	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "ops", got.Headers[0].Value)

	got.Endpoint = "mutated"
	again, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Endpoint)
}

func TestClaimCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ClaimDueJob(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
