package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/api/handlers"
	"github.com/cloo-solutions/kbrag/internal/bootstrap"
	"github.com/cloo-solutions/kbrag/internal/config"
	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/jobs"
	"github.com/cloo-solutions/kbrag/internal/server"
	"github.com/cloo-solutions/kbrag/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the kbrag API server, ingest the bootstrap file if one is configured, and mirror the index to object storage when S3 is configured",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides KBRAG_PORT)")
	cmd.Flags().Bool("no-bootstrap", false, "Skip ingesting KBRAG_BOOTSTRAP_FILE on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Default to 10% sampling outside development unless set explicitly
	sampleRate := cfg.SentryTracesSampleRate
	if cfg.Environment != "development" && os.Getenv("KBRAG_SENTRY_TRACES_SAMPLE_RATE") == "" {
		sampleRate = 0.1
	}
	flushTelemetry := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}, logger)
	defer flushTelemetry()

	a, err := newApp(cfg, logger, appOptions{needProvider: true})
	if err != nil {
		return err
	}
	defer a.Close()

	noBootstrap, _ := cmd.Flags().GetBool("no-bootstrap")
	if cfg.BootstrapFile != "" && !noBootstrap {
		ingest := bootstrap.IngestFunc(func(ctx context.Context, batches []domain.ClassBatch) (int, error) {
			result, err := a.knowledge.IngestByClass(ctx, batches)
			return result.Rows, err
		})
		if err := bootstrap.Run(ctx, cfg.BootstrapFile, ingest, logger); err != nil {
			logger.Warn("bootstrap ingestion failed, serving the existing index", zap.Error(err))
			telemetry.CaptureError(ctx, err)
		}
	}

	var mirrorWorker *jobs.Worker
	if cfg.HasS3() {
		mirror, err := a.newMirror(ctx)
		if err != nil {
			return err
		}
		processor := jobs.NewMirrorSyncProcessor(a.store, mirror, logger)
		mirrorWorker = jobs.NewWorker(processor, cfg.MirrorInterval, logger)
		go mirrorWorker.Start(context.Background())
		logger.Info("snapshot mirror started", zap.String("bucket", cfg.S3Bucket), zap.String("prefix", cfg.S3Prefix))
	}

	router := server.NewRouter(server.RouterConfig{
		KnowledgeHandler: handlers.NewKnowledgeHandler(a.knowledge),
		ChatHandler:      handlers.NewChatHandler(a.chat),
		Logger:           logger,
		MaxBodyBytes:     cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("data_dir", cfg.DataDir),
			zap.Int("rows", a.store.Snapshot().Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if mirrorWorker != nil {
		mirrorWorker.Stop()
	}

	logger.Info("server exited")
	return nil
}
