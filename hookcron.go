/*
Package hookcron wires every service of the scheduler against one store and
one keyring. Applications either embed the Library directly or run the
hookcrond daemon, which adds the REST and JSON-RPC surfaces on top.
*/
package hookcron

import (
	"context"
	"sync"

	"github.com/hookcron/hookcron-go/client"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/config"
	"github.com/hookcron/hookcron-go/pkg/services/dispatch"
	"github.com/hookcron/hookcron-go/pkg/services/envelope"
	"github.com/hookcron/hookcron-go/pkg/services/jobs"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"github.com/hookcron/hookcron-go/pkg/services/receiver"
	"github.com/hookcron/hookcron-go/pkg/services/scheduler"
	"github.com/hookcron/hookcron-go/pkg/store"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

var _ library.Library = (*Hookcron)(nil)

type Hookcron struct {
	jobsService      library.Jobs
	schedulerService *scheduler.Service
	receiverService  *receiver.Service
	codec            library.Codec
	store            library.Store

	closeOnce sync.Once
	closeErr  error
	log       *logger.Logger
}

// Loads a .env file from the working directory so local runs pick up the
// same variables as a deployment.
func init() {
	_ = gotenv.Load()
}

func New(cfg *config.Config) (library.Library, error) {
	log, err := logger.New(cfg.Development)
	if err != nil {
		return nil, err
	}
	h, err := NewWithLogger(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// NewWithLogger builds the registry with a caller supplied logger. ctx only
// bounds opening the store.
func NewWithLogger(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Hookcron, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := envelope.New(envelope.Keyring{
		Secret:          cfg.SigningSecret,
		ExpiredSecrets:  cfg.ExpiredSecrets,
		Key:             cfg.EncryptionKey,
		ExpiredKeys:     cfg.ExpiredEncryptionKeys,
		AllowUnverified: cfg.AllowUnverifiedSignatures,
	}, log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.New(client.New(cfg), cfg.DispatchTimeout, log)

	h := &Hookcron{
		jobsService: jobs.New(st, codec, jobs.Defaults{
			Endpoint: cfg.Endpoint,
			Retries:  cfg.DefaultRetries,
		}, log),
		schedulerService: scheduler.New(st, dispatcher, log,
			scheduler.WithBatchSize(cfg.BatchSize),
			scheduler.WithPollInterval(cfg.PollInterval),
			scheduler.WithRetryDelay(cfg.RetryDelay),
			scheduler.WithDispatchTimeout(cfg.DispatchTimeout),
		),
		receiverService: receiver.New(codec, log),
		codec:           codec,
		store:           st,
		log:             log,
	}

	log.Info("hookcron ready",
		zap.String("store", string(cfg.Store)),
		zap.Bool("encryption", cfg.EncryptionKey != ""))
	return h, nil
}

func (h *Hookcron) Jobs() library.Jobs {
	return h.jobsService
}

func (h *Hookcron) Scheduler() library.Scheduler {
	return h.schedulerService
}

func (h *Hookcron) Receiver() library.Receiver {
	return h.receiverService
}

// ReceiverService exposes the concrete receiver for its net/http adapter.
func (h *Hookcron) ReceiverService() *receiver.Service {
	return h.receiverService
}

func (h *Hookcron) Codec() library.Codec {
	return h.codec
}

func (h *Hookcron) Store() library.Store {
	return h.store
}

func (h *Hookcron) Logger() *logger.Logger {
	return h.log
}

// Close stops the scheduler and releases the store. It is safe to call more
// than once.
func (h *Hookcron) Close() error {
	h.closeOnce.Do(func() {
		h.schedulerService.Stop()
		h.closeErr = h.store.Close()
		h.log.Sync()
	})
	return h.closeErr
}
