package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/config"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	mock_library "github.com/hookcron/hookcron-go/pkg/services/library/mock"
	"github.com/hookcron/hookcron-go/pkg/store/memory"
	"github.com/hookcron/hookcron-go/pkg/store/redisstore"
	"github.com/hookcron/hookcron-go/pkg/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, config.Defaults(), log)
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Store = config.StoreSQLite
		cfg.StoreDSN = filepath.Join(t.TempDir(), "hookcron.db")

		s, err := Open(ctx, cfg, log)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &sqlstore.Store{}, s)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.Defaults()
		cfg.Store = config.StoreRedis
		cfg.StoreDSN = mr.Addr()

		s, err := Open(ctx, cfg, log)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &redisstore.Store{}, s)
	})

	t.Run("backoff wraps", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.RetryMode = core.Backoff

		s, err := Open(ctx, cfg, log)
		require.NoError(t, err)
		assert.IsType(t, &retryStore{}, s)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Store = "cassandra"

		_, err := Open(ctx, cfg, log)
		assert.Error(t, err)
	})
}

func TestRetryTransientFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mock_library.NewMockStore(ctrl)
	s := WithRetry(mockStore, 5*time.Second, logger.NewNop())

	job := &payloads.Job{Name: "a"}
	gomock.InOrder(
		mockStore.EXPECT().GetJob(gomock.Any(), "a").Return(nil, errors.New("connection reset")),
		mockStore.EXPECT().GetJob(gomock.Any(), "a").Return(job, nil),
	)

	got, err := s.GetJob(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestRetryStopsOnDomainErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mock_library.NewMockStore(ctrl)
	s := WithRetry(mockStore, 5*time.Second, logger.NewNop())
	ctx := context.Background()

	mockStore.EXPECT().ClaimDueJob(gomock.Any(), gomock.Any()).Return(nil, core.ErrClaimConflict).Times(1)
	gomock.InOrder(
		mockStore.EXPECT().SaveJob(gomock.Any(), gomock.Any()).Return(core.ErrJobNotFound).Times(1),
		mockStore.EXPECT().SaveJob(gomock.Any(), gomock.Any()).Return(core.ErrJobRearmed).Times(1),
	)
	mockStore.EXPECT().UpdateJob(gomock.Any(), gomock.Any()).Return(core.ErrJobNotFound).Times(1)

	_, err := s.ClaimDueJob(ctx, time.Now())
	assert.ErrorIs(t, err, core.ErrClaimConflict)

	err = s.SaveJob(ctx, &payloads.Job{Name: "gone"})
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	err = s.SaveJob(ctx, &payloads.Job{Name: "rearmed"})
	assert.ErrorIs(t, err, core.ErrJobRearmed)

	err = s.UpdateJob(ctx, &payloads.Job{Name: "gone"})
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestRetryGivesUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mock_library.NewMockStore(ctrl)
	s := WithRetry(mockStore, time.Second, logger.NewNop())

	down := errors.New("store down")
	mockStore.EXPECT().AppendRun(gomock.Any(), gomock.Any()).Return(down).MinTimes(1)

	err := s.AppendRun(context.Background(), &payloads.RunRecord{JobName: "a"})
	assert.ErrorIs(t, err, down)
}

func TestRetryHonoursContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mock_library.NewMockStore(ctrl)
	s := WithRetry(mockStore, time.Minute, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	mockStore.EXPECT().UpsertJob(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, *payloads.Job) error {
			cancel()
			return errors.New("timeout talking to store")
		}).MinTimes(1)

	err := s.UpsertJob(ctx, &payloads.Job{Name: "a"})
	assert.Error(t, err)
}
