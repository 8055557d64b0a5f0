// Command hookcrond runs the scheduler loop together with the REST surface
// and the admin JSON-RPC endpoint.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	hookcron "github.com/hookcron/hookcron-go"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/internal/httpapi"
	"github.com/hookcron/hookcron-go/pkg/config"
	"github.com/hookcron/hookcron-go/pkg/services/jsonrpc"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(cfg, zlog); err != nil {
		zlog.Error("hookcrond exited", zap.Error(err))
		zlog.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, zlog *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := hookcron.NewWithLogger(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer h.Close()

	api := httpapi.New(h.Jobs(), jsonrpc.NewServer(h.Jobs(), zlog), cfg.APIKey, zlog)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(cfg.Development),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.Scheduler().Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		zlog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
