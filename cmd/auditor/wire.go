package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/api"
	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/clock/system"
	"github.com/JakeFAU/site-auditor/internal/config"
	collyfetcher "github.com/JakeFAU/site-auditor/internal/fetcher/colly"
	"github.com/JakeFAU/site-auditor/internal/hash/sha256"
	"github.com/JakeFAU/site-auditor/internal/id/uuid"
	"github.com/JakeFAU/site-auditor/internal/linkcheck"
	"github.com/JakeFAU/site-auditor/internal/orchestrator"
	pubsubpublisher "github.com/JakeFAU/site-auditor/internal/publisher/pubsub"
	"github.com/JakeFAU/site-auditor/internal/scorer"
	"github.com/JakeFAU/site-auditor/internal/scorer/headless"
	"github.com/JakeFAU/site-auditor/internal/storage/gcs"
	"github.com/JakeFAU/site-auditor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-auditor/internal/storage/memory"
	"github.com/JakeFAU/site-auditor/internal/storage/postgres"
	"github.com/JakeFAU/site-auditor/internal/storage/sqlite"
)

// closer releases a component at shutdown.
type closer func()

// components is everything main needs after wiring.
type components struct {
	repo         audit.Repository
	orchestrator *orchestrator.Orchestrator
	checks       []api.ReadinessCheck
	closers      []closer
}

// Close releases components in reverse construction order.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func wire(ctx context.Context, cfg config.Config, logger *zap.Logger) (*components, error) {
	c := &components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	repo, err := buildRepository(ctx, cfg, c)
	if err != nil {
		return nil, err
	}
	c.repo = repo

	blobs, err := buildBlobStore(ctx, cfg, c)
	if err != nil {
		return nil, err
	}
	publisher, err := buildPublisher(ctx, cfg, c)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Repository: repo,
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}),
		Scorer: buildScorer(cfg, logger.Named("scorer")),
		LinkChecker: linkcheck.New(linkcheck.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.LinkTimeout(),
		}, logger.Named("linkcheck")),
		BlobStore: blobs,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
	}, orchestrator.Config{
		LinkConcurrency:     cfg.LinkCheck.Concurrency,
		Budget:              cfg.AuditBudget(),
		SnapshotPrefix:      cfg.Snapshot.Prefix,
		SnapshotContentType: cfg.Snapshot.ContentType,
		Topic:               cfg.PubSub.TopicName,
	}, logger.Named("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	c.orchestrator = orch

	ok = true
	return c, nil
}

func buildRepository(ctx context.Context, cfg config.Config, c *components) (audit.Repository, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		repo, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, repo.Close)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		c.checks = append(c.checks, repo.Ping)
		return repo, nil
	case config.StorageSQLite:
		repo, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		c.closers = append(c.closers, func() { _ = repo.Close() })
		c.checks = append(c.checks, repo.Ping)
		return repo, nil
	case config.StorageMemory:
		return memoryStorage.NewRepository(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config, c *components) (audit.BlobStore, error) {
	switch cfg.Snapshot.Driver {
	case config.SnapshotNone, "":
		return nil, nil
	case config.SnapshotMemory:
		return memoryStorage.NewBlobStore(), nil
	case config.SnapshotLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Snapshot.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store: %w", err)
		}
		return store, nil
	case config.SnapshotGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		c.closers = append(c.closers, func() { _ = client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Snapshot.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", cfg.Snapshot.Driver)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, c *components) (audit.Publisher, error) {
	if cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	c.closers = append(c.closers, func() { _ = client.Close() })
	publisher := pubsubpublisher.New(client)
	c.closers = append(c.closers, publisher.Stop)
	return publisher, nil
}

func buildScorer(cfg config.Config, logger *zap.Logger) audit.Scorer {
	if !cfg.Headless.Enabled {
		logger.Info("headless scorer disabled; audits will carry no performance reports")
		return scorer.NewNoop()
	}
	s, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.HTTP.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		SettleDelay:       cfg.SettleDelay(),
		ExecPath:          cfg.Headless.ExecPath,
	}, logger)
	if err != nil {
		logger.Warn("headless scorer init failed", zap.Error(err))
		return scorer.NewNoop()
	}
	return s
}
