package store

import (
	"context"
	"fmt"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/config"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"github.com/hookcron/hookcron-go/pkg/store/memory"
	"github.com/hookcron/hookcron-go/pkg/store/redisstore"
	"github.com/hookcron/hookcron-go/pkg/store/sqlstore"
	"go.uber.org/zap"
)

// Open builds the store selected by cfg.Store. With RetryMode set to
// core.Backoff the store is wrapped so transient failures are retried.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (library.Store, error) {
	var (
		s   library.Store
		err error
	)

	switch cfg.Store {
	case config.StoreMemory, "":
		s = memory.New()
	case config.StoreSQLite:
		s, err = sqlstore.Open(ctx, sqlstore.SQLite, cfg.StoreDSN, cfg.StorePrefix, log)
	case config.StorePostgres:
		s, err = sqlstore.Open(ctx, sqlstore.Postgres, cfg.StoreDSN, cfg.StorePrefix, log)
	case config.StoreRedis:
		s, err = redisstore.New(ctx, redisstore.Options{
			Addr:   cfg.StoreDSN,
			DB:     cfg.RedisDB,
			Prefix: cfg.StorePrefix,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}

	log.Debug("store opened", zap.String("store", string(cfg.Store)))

	if cfg.RetryMode == core.Backoff {
		return WithRetry(s, cfg.RetryMaxTime, log), nil
	}
	return s, nil
}
