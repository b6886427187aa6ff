package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	apphttp "media-acquirer/internal/http"
	"media-acquirer/internal/orchestrator"
	"media-acquirer/internal/scheduler"
	"media-acquirer/internal/service"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the background sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.Start(ctx); err != nil {
				return fmt.Errorf("start download engine: %w", err)
			}

			sched := scheduler.New(logger, a.metrics)
			sweeps := a.orchestrator.Sweeps()
			searchEvery := time.Duration(cfg.Scheduler.SearchSweepSeconds) * time.Second
			sched.RunEvery(orchestrator.SweepExpiry, searchEvery, sweeps[orchestrator.SweepExpiry])
			sched.RunEvery(orchestrator.SweepSearch, searchEvery, sweeps[orchestrator.SweepSearch])
			sched.RunEvery(orchestrator.SweepDownload, time.Duration(cfg.Scheduler.DownloadPollSeconds)*time.Second, sweeps[orchestrator.SweepDownload])
			sched.RunEvery(orchestrator.SweepContent, time.Duration(cfg.Scheduler.ContentSweepMinutes)*time.Minute, sweeps[orchestrator.SweepContent])
			sched.Start(ctx)

			requestService := service.NewRequestService(a.requests, a.seasons, a.results, a.orchestrator, service.Defaults{
				IntervalMinutes:    cfg.Search.IntervalMinutes,
				MaxAttempts:        cfg.Search.MaxAttempts,
				ExpiryDays:         cfg.Search.ExpiryDays,
				MinSeeders:         cfg.Search.MinSeeders,
				MaxSizeBytes:       cfg.MaxSizeBytes(),
				PreferredQualities: cfg.Search.PreferredQualities,
				PreferredFormats:   cfg.Search.PreferredFormats,
				Blacklist:          cfg.Search.Blacklist,
				TrustedIndexers:    cfg.Indexer.TrustedIndexers,
			})
			userService := service.NewUserService(a.users, cfg.Auth.RegisterPassword)

			gin.SetMode(gin.ReleaseMode)
			router := gin.New()
			router.Use(gin.Recovery())
			handler := apphttp.NewHandler(apphttp.Config{
				Requests:  requestService,
				Users:     userService,
				Storage:   a.storage,
				Bucket:    cfg.Storage.Bucket,
				KeyPrefix: cfg.Storage.KeyPrefix,
				DataRoot:  cfg.Download.DataDir,
				JWTSecret: cfg.Auth.JWTSecret,
				TokenTTL:  time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
				Metrics:   a.metrics.Handler(),
				Logger:    logger,
			})
			handler.RegisterRoutes(router)

			srv := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: router,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Infof("listening on %s", cfg.Server.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("http server: %w", err)
				}
			}()

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
				stop()
			}
			logger.Info("shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("http shutdown: %v", err)
			}
			sched.Wait()

			logger.Info("bye")
			return serveErr
		},
	}
}

func newSweepCommand() *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the lifecycle sweeps once and exit",
		Long: "Runs expiry, content, search and download sweeps once. Downloads started here\n" +
			"live only as long as this process; a running server resubmits them on its next poll.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.Start(ctx); err != nil {
				return fmt.Errorf("start download engine: %w", err)
			}

			if len(only) == 0 {
				return a.orchestrator.RunAll(ctx)
			}

			sweeps := a.orchestrator.Sweeps()
			var errs []error
			for _, name := range only {
				fn, ok := sweeps[name]
				if !ok {
					return fmt.Errorf("unknown sweep %q (known: %v)", name, sweepNames(sweeps))
				}
				if err := fn(ctx); err != nil {
					errs = append(errs, fmt.Errorf("%s sweep: %w", name, err))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil, "Run only the named sweeps, in order")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			a := &app{cfg: cfg, log: logger}
			if err := openStore(cmd.Context(), a); err != nil {
				return err
			}
			defer a.close()

			logger.Infof("database ready at %s", cfg.Database.Path)
			return nil
		},
	}
}

func sweepNames(sweeps map[string]func(context.Context) error) []string {
	names := make([]string, 0, len(sweeps))
	for name := range sweeps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
