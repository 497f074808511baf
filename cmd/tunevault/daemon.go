package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunevault/tunevault-go/internal/download"
	"github.com/tunevault/tunevault-go/internal/enrich"
	"github.com/tunevault/tunevault-go/internal/ingest"
	"github.com/tunevault/tunevault-go/internal/monitoring"
	"github.com/tunevault/tunevault-go/internal/store"
)

const (
	spoolInterval       = 2 * time.Second
	maintenanceInterval = 15 * time.Minute
	historyRetention    = 30 * 24 * time.Hour
	backfillLimit       = 500
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the download queue and background enrichment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx)
		},
	}
}

func runDaemon(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lock := flock.New(filepath.Join(ctx.dataDir(), "tunevault.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another tunevault daemon instance is already running")
	}
	defer lock.Unlock()

	logger, err := newLogger(cfg, ctx.dataDir(), false)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("Failed to open database", zap.Error(err))
		return err
	}
	defer func() {
		if err := store.Checkpoint(context.Background(), db); err != nil {
			logger.Warn("Failed to checkpoint database", zap.Error(err))
		}
		db.Close()
	}()

	tracks := store.NewTrackStore(db)
	playlists := store.NewPlaylistStore(db)
	history := store.NewJobHistoryStore(db)

	lookup, err := newLookupStack(cfg, logger)
	if err != nil {
		return err
	}
	tags := newTagWriter(cfg)

	enricher := enrich.NewEnricher(cfg.Library.RootDir, tracks, lookup.identifier, lookup.resolver, tags, logger)
	pool := enrich.NewWorkerPool(cfg.Metadata.EnrichWorkers, cfg.Metadata.EnrichBuffer, enricher.Handle, logger)
	if err := pool.Start(signalCtx); err != nil {
		return fmt.Errorf("start enrichment pool: %w", err)
	}
	defer pool.Stop()
	if _, err := enricher.Backfill(signalCtx, pool, backfillLimit); err != nil {
		logger.Warn("Enrichment backfill failed", zap.Error(err))
	}

	deps := ingest.Deps{
		Downloader: newDownloader(cfg, logger),
		Splitter:   newSplitter(cfg, logger),
		Tracks:     tracks,
		Playlists:  playlists,
		Tags:       tags,
		Enrich:     pool,
	}
	if tags != nil && cfg.Metadata.EmbedArtwork {
		deps.Artwork = ingest.HTTPArtworkFetcher(lookup.httpClient, cfg.Metadata.ArtworkSize)
	}
	pipeline := ingest.NewPipeline(ingest.Config{
		LibraryRoot: cfg.Library.RootDir,
		TempDir:     cfg.Library.TempDir,
	}, deps, logger)

	opts := download.OptionsFromConfig(cfg.Queue)
	opts.History = history
	opts.Logger = logger
	queue := download.NewQueue(pipeline, opts)

	sub := queue.Subscribe(256)
	go logEvents(sub, logger)
	defer queue.Notifier().Unsubscribe(sub)

	queue.Start(signalCtx)
	defer queue.Stop()

	checker := monitoring.NewHealthChecker(version, db, toolRequirements(cfg))
	logHealth(signalCtx, checker, queue, logger)

	if cfg.Metrics.Listen != "" {
		srv := newMetricsServer(cfg.Metrics.Listen, checker, queue)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Serving metrics", zap.String("listen", cfg.Metrics.Listen))
	}

	go newSpoolWatcher(cfg.Library.SpoolDir, queue, logger).run(signalCtx, spoolInterval)
	go runMaintenance(signalCtx, checker, queue, history, logger)

	logger.Info("TuneVault daemon started",
		zap.String("version", version),
		zap.String("library", cfg.Library.RootDir),
		zap.String("spool", cfg.Library.SpoolDir))

	<-signalCtx.Done()
	enrichStats := pool.Stats()
	jobStats := queue.Notifier().Stats()
	logger.Info("TuneVault daemon shutting down",
		zap.Int("jobs_completed", jobStats.Completed),
		zap.Int("jobs_failed", jobStats.Failed),
		zap.Int("jobs_removed", jobStats.Removed),
		zap.Int("subscribers", queue.Notifier().SubscriberCount()),
		zap.Int64("enriched", enrichStats.Processed),
		zap.Int64("enrich_failed", enrichStats.Failed),
		zap.Int64("enrich_dropped", enrichStats.Dropped))
	return nil
}

func newMetricsServer(addr string, checker *monitoring.HealthChecker, queue monitoring.QueueStats) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := checker.Check(r.Context(), queue)
		w.Header().Set("Content-Type", "application/json")
		if health.Status == monitoring.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func logEvents(sub *download.Subscription, logger *zap.Logger) {
	for ev := range sub.Events() {
		fields := []zap.Field{
			zap.String("event", string(ev.Type)),
			zap.String("job_id", ev.Job.ID),
			zap.String("owner_id", ev.Job.OwnerID),
			zap.String("status", string(ev.Job.Status)),
		}
		switch ev.Type {
		case download.EventJobReady:
			if ev.Job.Status == download.StatusFailed {
				logger.Warn("Job failed", append(fields, zap.String("error", ev.Job.Error))...)
			} else {
				logger.Info("Job ready", append(fields, zap.String("title", ev.Job.Title), zap.String("message", ev.Job.Message))...)
			}
		case download.EventJobUpdated:
			logger.Debug("Job updated", append(fields,
				zap.Float64("progress", ev.Job.Progress),
				zap.String("speed", download.FormatSpeed(ev.Job.Speed)),
				zap.String("eta", download.FormatETA(ev.Job.ETA)))...)
		default:
			logger.Debug("Job removed", fields...)
		}
	}
}

func logHealth(ctx context.Context, checker *monitoring.HealthChecker, queue monitoring.QueueStats, logger *zap.Logger) {
	health := checker.Check(ctx, queue)
	if health.Status == monitoring.HealthStatusHealthy {
		return
	}
	fields := []zap.Field{zap.String("status", string(health.Status))}
	for name, check := range health.Checks {
		if check.Status != string(monitoring.HealthStatusHealthy) {
			fields = append(fields, zap.String(name, check.Message))
		}
	}
	logger.Warn("Health check not passing", fields...)
}

func runMaintenance(ctx context.Context, checker *monitoring.HealthChecker, queue monitoring.QueueStats, history *store.JobHistoryStore, logger *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		logHealth(ctx, checker, queue, logger)
		n, err := history.Prune(ctx, historyRetention)
		if err != nil {
			logger.Warn("Failed to prune job history", zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("Pruned job history", zap.Int64("removed", n))
		}
	}
}
