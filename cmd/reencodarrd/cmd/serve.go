package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/reencodarr/reencodarr/internal/autotune"
	"github.com/reencodarr/reencodarr/internal/config"
	"github.com/reencodarr/reencodarr/internal/database"
	"github.com/reencodarr/reencodarr/internal/eventbus"
	"github.com/reencodarr/reencodarr/internal/models"
	"github.com/reencodarr/reencodarr/internal/observability"
	"github.com/reencodarr/reencodarr/internal/orphan"
	"github.com/reencodarr/reencodarr/internal/producer"
	"github.com/reencodarr/reencodarr/internal/repository"
	"github.com/reencodarr/reencodarr/internal/stage"
	"github.com/reencodarr/reencodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the re-encoding pipeline",
	Long: `Start the analyzer, CRF-search, and encoder producers against the
configured database, along with the startup orphan sweep, its periodic
re-sweep, and the analyzer's storage-throughput auto-tuner.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("database", "reencodarr.db", "database DSN")
	serveCmd.Flags().String("temp-dir", "./data/temp", "working directory for encoder/crf-search artifacts")
	serveCmd.Flags().String("abav1-path", "", "path to the ab-av1 binary (default: look up PATH)")
	serveCmd.Flags().String("mediainfo-path", "", "path to the mediainfo binary (default: look up PATH)")

	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.temp_dir", serveCmd.Flags().Lookup("temp-dir"))
	mustBindPFlag("pipeline.abav1_path", serveCmd.Flags().Lookup("abav1-path"))
	mustBindPFlag("pipeline.mediainfo_path", serveCmd.Flags().Lookup("mediainfo-path"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	logger.Info("starting reencodarr", slog.String("version", version.Version))

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(&models.Video{}, &models.Vmaf{}, &models.FailureRecord{}, &models.Library{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	videos := repository.NewVideoRepository(db.DB)
	vmafs := repository.NewVmafRepository(db.DB)
	failures := repository.NewFailureRepository(db.DB)

	bus := eventbus.New(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	reaper := orphan.New(videos, logger, []string{binaryBasename(cfg.Pipeline.ABAV1Path, "ab-av1")})
	if _, err := reaper.Run(ctx); err != nil {
		return fmt.Errorf("startup orphan sweep: %w", err)
	}

	cronSweep := cron.New()
	if _, err := cronSweep.AddFunc(cfg.Pipeline.OrphanSweepCron, func() {
		if _, err := reaper.Run(context.Background()); err != nil {
			logger.Error("periodic orphan sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("scheduling orphan sweep: %w", err)
	}
	cronSweep.Start()
	defer cronSweep.Stop()

	monitor := autotune.NewMonitor(logger)
	go monitor.Run(ctx)

	analyzer := stage.NewAnalyzer(videos, failures, bus, logger, cfg.Pipeline.MediainfoPath, cfg.Pipeline.AnalyzerChunkConcurrency)
	analyzerDispatcher := stage.NewAnalyzerDispatcher(analyzer, cfg.Pipeline.AnalyzerBatchSize)
	go syncAnalyzerBatchSize(ctx, analyzerDispatcher, monitor)

	analyzerProducer := producer.New("analyzer", analyzerDispatcher,
		func(ctx context.Context, limit int) ([]*models.Video, error) {
			return videos.VideosNeedingAnalysis(ctx, limit)
		},
		bus, logger, time.Duration(cfg.Pipeline.ProducerPollPeriod),
		eventbus.TopicVideoStateTransitions,
	)

	crfSearcher := stage.NewCRFSearcher(videos, vmafs, failures, bus, logger,
		cfg.Pipeline.ABAV1Path, cfg.Storage.TempDir,
		cfg.Pipeline.CRFMin, cfg.Pipeline.CRFMax, cfg.Pipeline.TargetVMAFFloor)
	crfSearchProducer := producer.New("crf_search", crfSearchDispatcher{crfSearcher, cfg.Pipeline.DefaultTargetVMAF},
		func(ctx context.Context, limit int) ([]*models.Video, error) {
			return videos.VideosForCRFSearch(ctx, limit, nil)
		},
		bus, logger, time.Duration(cfg.Pipeline.ProducerPollPeriod),
		eventbus.TopicVideoStateTransitions,
	)

	encoder := stage.NewEncoder(videos, vmafs, failures, bus, logger,
		cfg.Pipeline.ABAV1Path, cfg.Storage.TempDir, time.Duration(cfg.Pipeline.EncoderHeartbeat))
	encoderProducer := producer.New("encoder", encoderDispatcher{encoder, vmafs},
		func(ctx context.Context, limit int) ([]*models.Video, error) {
			return videos.VideosForEncoding(ctx, limit)
		},
		bus, logger, time.Duration(cfg.Pipeline.ProducerPollPeriod),
		eventbus.TopicVideoStateTransitions,
	)

	analyzerProducer.Start(ctx)
	crfSearchProducer.Start(ctx)
	encoderProducer.Start(ctx)

	analyzerProducer.Resume()
	crfSearchProducer.Resume()
	encoderProducer.Resume()

	logger.Info("pipeline started",
		slog.String("abav1_path", cfg.Pipeline.ABAV1Path),
		slog.String("mediainfo_path", cfg.Pipeline.MediainfoPath),
		slog.String("temp_dir", cfg.Storage.TempDir),
	)

	<-ctx.Done()

	analyzerProducer.Stop()
	crfSearchProducer.Stop()
	encoderProducer.Stop()

	logger.Info("pipeline stopped")
	return nil
}

// syncAnalyzerBatchSize copies the auto-tuning monitor's current batch size
// into the dispatcher on a cadence matching the monitor's own sampling, so a
// tier reclassification takes effect on the analyzer's very next dispatch.
func syncAnalyzerBatchSize(ctx context.Context, dispatcher *stage.AnalyzerDispatcher, monitor *autotune.Monitor) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatcher.SetBatchSize(monitor.BatchSize())
		}
	}
}

func binaryBasename(configuredPath, fallback string) string {
	if configuredPath == "" {
		return fallback
	}
	for i := len(configuredPath) - 1; i >= 0; i-- {
		if configuredPath[i] == '/' {
			return configuredPath[i+1:]
		}
	}
	return configuredPath
}

// crfSearchDispatcher adapts CRFSearcher (whose Run needs a target VMAF
// alongside the video) to producer.Dispatcher, which only passes a batch.
type crfSearchDispatcher struct {
	searcher *stage.CRFSearcher
	target   int
}

func (d crfSearchDispatcher) TryAcquire() bool { return d.searcher.TryAcquire() }
func (d crfSearchDispatcher) Release()         { d.searcher.Release() }
func (d crfSearchDispatcher) BatchSize() int   { return 1 }

// Dispatch runs the search; the producer only calls Dispatch with a
// non-empty batch (it releases directly when there's nothing to do).
func (d crfSearchDispatcher) Dispatch(ctx context.Context, batch []*models.Video) {
	d.searcher.Run(ctx, batch[0], d.target)
}

// encoderDispatcher adapts Encoder (whose Run needs the chosen Vmaf
// alongside the video) to producer.Dispatcher.
type encoderDispatcher struct {
	encoder *stage.Encoder
	vmafs   repository.VmafRepository
}

func (d encoderDispatcher) TryAcquire() bool { return d.encoder.TryAcquire() }
func (d encoderDispatcher) Release()         { d.encoder.Release() }
func (d encoderDispatcher) BatchSize() int   { return 1 }

// Dispatch looks up the video's chosen Vmaf and runs the encode; the
// producer only calls Dispatch with a non-empty batch.
func (d encoderDispatcher) Dispatch(ctx context.Context, batch []*models.Video) {
	video := batch[0]
	vmaf, err := d.vmafs.GetChosen(ctx, video.ID)
	if err != nil || vmaf == nil {
		d.encoder.Release()
		return
	}
	d.encoder.Run(ctx, video, vmaf)
}
