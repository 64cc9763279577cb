// Package app assembles the upload service and its collaborators from
// configuration. Both commands share this wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/univ-capstone/modelvideo/internal/cloud"
	"github.com/univ-capstone/modelvideo/internal/config"
	"github.com/univ-capstone/modelvideo/internal/db"
	"github.com/univ-capstone/modelvideo/internal/events"
	"github.com/univ-capstone/modelvideo/internal/ledger"
	"github.com/univ-capstone/modelvideo/internal/lock"
	"github.com/univ-capstone/modelvideo/internal/metrics"
	"github.com/univ-capstone/modelvideo/internal/objectstore"
	"github.com/univ-capstone/modelvideo/internal/producer"
	"github.com/univ-capstone/modelvideo/internal/readiness"
	"github.com/univ-capstone/modelvideo/internal/records"
	"github.com/univ-capstone/modelvideo/internal/retry"
	"github.com/univ-capstone/modelvideo/internal/upload"
)

const eventPublishRetries = 3

type Options struct {
	// Name identifies the process to NATS.
	Name string
	// DryRun swaps the bucket and record store for in-memory ones and skips
	// credential loading.
	DryRun bool
}

type App struct {
	Service  *upload.Service
	Ledger   *ledger.SQLiteRepository
	Metrics  *metrics.Metrics
	Producer producer.Producer
	Objects  objectstore.Store
	Records  records.Store

	closers []func() error
}

// Build wires every dependency named by cfg. On error anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Metrics: metrics.New()}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	database, err := db.New(ctx, cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, database.Close)
	a.Ledger = ledger.NewRepository(database.Conn())

	if err := a.buildStores(ctx, cfg, logger, opts.DryRun); err != nil {
		return nil, err
	}

	var nc *nats.Conn
	publisher := events.Publisher(events.NopPublisher{})
	if url := cfg.NATSURL(); url != "" {
		nc, err = events.Connect(url, opts.Name)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		publisher = events.NewNATSPublisher(nc, events.SubjectUploaded, eventPublishRetries)
		logger.Info("nats connected", "url", nc.ConnectedUrlRedacted())
	}

	waiter, err := readiness.New(readiness.Options{
		Mode:         cfg.ReadinessMode(),
		StartDelay:   cfg.StartDelay(),
		PollInterval: cfg.PollInterval(),
		SettleChecks: cfg.SettleChecks(),
		QuietPeriod:  cfg.QuietPeriod(),
		Timeout:      cfg.ReadyTimeout(),
		MarkerSuffix: cfg.MarkerSuffix(),
		Conn:         nc,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure readiness: %w", err)
	}

	var locker lock.Locker
	if url := cfg.RedisURL(); url != "" {
		rl, err := lock.Open(ctx, url, cfg.LockTTL())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rl.Close)
		locker = rl
	}

	a.Producer, err = producer.New(producer.Config{
		Command: cfg.ProducerCommand(),
		Timeout: cfg.ProducerTimeout(),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure producer: %w", err)
	}

	a.Service, err = upload.NewService(upload.Deps{
		Objects:   a.Objects,
		Records:   a.Records,
		Waiter:    waiter,
		Ledger:    a.Ledger,
		Locker:    locker,
		Publisher: publisher,
		Metrics:   a.Metrics,
		Logger:    logger,
	}, upload.Options{
		VideoPath:      cfg.VideoPath(),
		ObjectFileName: cfg.ObjectFileName(),
		ModelID:        cfg.ModelID(),
		Retry:          RetryPolicy(cfg),
	})
	if err != nil {
		return nil, err
	}

	built = true
	return a, nil
}

func (a *App) buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger, dryRun bool) error {
	if dryRun {
		a.Objects = objectstore.NewMemoryStore(cfg.Bucket())
		a.Records = records.NewMemoryStore()
		logger.Warn("dry run: bucket and record store are in memory")
		return nil
	}

	mongo := cfg.RecordBackend() == config.BackendMongo
	clients, err := cloud.New(ctx, cloud.Config{
		CredentialsFile:   cfg.CredentialsFile(),
		Bucket:            cfg.Bucket(),
		ProjectID:         cfg.ProjectID(),
		VerifyCredentials: cfg.VerifyCredentials(),
		SkipFirestore:     mongo,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, clients.Close)

	a.Objects = objectstore.NewGCSStore(clients.Bucket(), clients.BucketName, objectstore.GCSOptions{
		InitialBackoff: cfg.RetryInitialBackoff(),
		MaxBackoff:     cfg.RetryMaxBackoff(),
		Logger:         logger,
	})

	if mongo {
		ms, err := records.NewMongoStore(ctx, cfg.MongoURI(), cfg.MongoDatabase())
		if err != nil {
			return fmt.Errorf("failed to connect to mongo: %w", err)
		}
		a.Records = ms
	} else {
		a.Records = records.NewFirestoreStore(clients.Firestore)
	}
	return nil
}

// RetryPolicy is the policy for uploads and record writes.
func RetryPolicy(cfg config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = cfg.RetryAttempts()
	p.InitialBackoff = cfg.RetryInitialBackoff()
	p.MaxBackoff = cfg.RetryMaxBackoff()
	return p
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	if a.Records != nil {
		if err := a.Records.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
