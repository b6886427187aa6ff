package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"media-acquirer/internal/catalog"
	"media-acquirer/internal/config"
	"media-acquirer/internal/downloader"
	"media-acquirer/internal/indexer"
	"media-acquirer/internal/metrics"
	"media-acquirer/internal/orchestrator"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/repository/sqlite"
	"media-acquirer/internal/storage"
)

// app holds the wired collaborators shared by every subcommand.
type app struct {
	cfg config.Config
	log *logrus.Logger
	db  *sql.DB

	requests repository.RequestRepository
	seasons  repository.SeasonRepository
	results  repository.SearchResultRepository
	users    repository.UserRepository

	metrics      *metrics.Metrics
	engine       downloader.Manager
	storage      storage.Service
	orchestrator *orchestrator.Orchestrator
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// openStore opens the database and creates every table.
func openStore(ctx context.Context, a *app) error {
	db, err := sqlite.Open(a.cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.users = sqlite.NewUserRepository(db)
	a.requests = sqlite.NewRequestRepository(db)
	a.seasons = sqlite.NewSeasonRepository(db)
	a.results = sqlite.NewSearchResultRepository(db)

	if err := sqlite.Migrate(ctx, a.users, a.requests, a.seasons, a.results); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, metrics: metrics.New()}
	if err := openStore(ctx, a); err != nil {
		return nil, err
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("setup storage: %w", err)
	}
	a.storage = storageSvc

	cache, err := catalog.NewReleaseCache(
		cfg.Catalog.CacheSize,
		time.Duration(cfg.Catalog.CacheTTLMinutes)*time.Minute,
		time.Now,
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create release cache: %w", err)
	}
	tmdb := catalog.NewTMDBClient(catalog.TMDBConfig{
		APIKey:  cfg.Catalog.TMDBAPIKey,
		BaseURL: cfg.Catalog.BaseURL,
		Timeout: time.Duration(cfg.Catalog.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	releases := catalog.NewReleaseValidator(tmdb, cache, time.Now, logger)

	torznab := indexer.NewTorznabClient(indexer.TorznabConfig{
		URL:     cfg.Indexer.URL,
		APIKey:  cfg.Indexer.APIKey,
		Timeout: time.Duration(cfg.Indexer.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	a.engine = downloader.NewManager(downloader.Config{
		DownloadRoot:   cfg.Download.DataDir,
		MaxConcurrent:  cfg.Download.MaxConcurrent,
		StatusInterval: cfg.Download.StatusInterval,
		Logger:         logger,
	})

	var uploader storage.Uploader
	if a.storage != nil {
		uploader = a.storage
	}
	organizer := storage.NewOrganizer(uploader, cfg.Storage.Bucket, cfg.Storage.KeyPrefix, logger)

	a.orchestrator = orchestrator.New(orchestrator.Deps{
		Requests:  a.requests,
		Seasons:   a.seasons,
		Results:   a.results,
		Indexer:   torznab,
		Catalog:   tmdb,
		Releases:  releases,
		Engine:    a.engine,
		Organizer: organizer,
	}, orchestrator.Config{
		DefaultSearchInterval: time.Duration(cfg.Search.IntervalMinutes) * time.Minute,
		RequestLifetime:       time.Duration(cfg.Search.ExpiryDays) * 24 * time.Hour,
		Indexers:              cfg.Indexer.TrustedIndexers,
		Logger:                logger,
		Metrics:               a.metrics,
	})
	return a, nil
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Shutdown()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warnf("close database: %v", err)
		}
	}
}

// buildStorage returns nil when no bucket is configured; completed downloads
// then stay on local disk.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, downloads stay local")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
