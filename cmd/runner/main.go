package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/longform/internal/api"
	"github.com/bobarin/longform/internal/bootstrap"
	"github.com/bobarin/longform/internal/config"
	"github.com/bobarin/longform/internal/db"
	"github.com/bobarin/longform/internal/events"
	"github.com/bobarin/longform/internal/queue"
	"github.com/bobarin/longform/internal/services"
	"github.com/bobarin/longform/internal/storage"
	"github.com/bobarin/longform/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg)
	logger.Info().Msg("starting longform runner")

	// The toolchain is required; there is nothing useful to do without it.
	for _, tool := range []string{cfg.FFmpegPath, cfg.FFprobePath} {
		if _, err := exec.LookPath(tool); err != nil {
			logger.Fatal().Err(err).Str("tool", tool).Msg("required media tool not found")
		}
	}
	if _, err := exec.LookPath(cfg.YtdlpPath); err != nil {
		logger.Warn().Str("tool", cfg.YtdlpPath).Msg("yt-dlp not found, platform references will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := bootstrap.Bootstrap(ctx, cfg, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		logger.Fatal().Err(err).Msg("runner bootstrap failed")
	}
	logger.Info().
		Str("user_id", runner.UserID.String()).
		Str("bucket", runner.Bucket).
		Float64("max_clip_seconds", runner.MaxClipSeconds).
		Msg("runner context resolved")

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	logger.Info().Msg("connected to database")

	backend, closeBackend, err := newBackend(ctx, cfg, runner)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer closeBackend()

	blobs := storage.NewGateway(backend, storage.GatewayOptions{
		RetryBase: cfg.UploadRetry,
		Logger:    logger,
	})

	opts := worker.Options{
		Store:   database,
		Blobs:   blobs,
		Fetcher: services.NewFetcher(blobs, cfg.YtdlpPath, logger),
		Media: services.NewFFmpegService(services.FFmpegOptions{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			Logger:      logger,
		}),
		Emitter:      events.Nop{},
		Runner:       runner,
		PollInterval: cfg.PollInterval,
		StaleAfter:   cfg.StaleAfter,
		ClaimTTL:     cfg.ClaimTTL,
		Logger:       logger,
	}

	var depth api.QueueDepth
	if cfg.RedisURL != "" {
		q, err := queue.New(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer q.Close()
		opts.Locker = q
		opts.HandOff = q
		depth = q
		logger.Info().Msg("redis claim lock and publish hand-off enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		emitter, err := events.NewKafkaEmitter(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaStatusTopic,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka emitter")
		}
		defer emitter.Close()
		opts.Emitter = emitter
		logger.Info().Str("topic", cfg.KafkaStatusTopic).Msg("status events enabled")
	}

	w := worker.New(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Start(gctx)
	})

	if cfg.APIPort != "" {
		handler := api.NewHandler(database, blobs, w, depth, opts.Emitter, logger)
		server := &http.Server{
			Addr:              ":" + cfg.APIPort,
			Handler:           api.NewRouter(handler, api.RouterConfig{APIKey: cfg.RunnerAPIKey, CorsAllowedOrigins: cfg.CorsAllowedOrigins}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info().Str("port", cfg.APIPort).Msg("ops API listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("runner stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("runner exited")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "longform-runner").Logger()
}

func newBackend(ctx context.Context, cfg *config.Config, runner bootstrap.RunnerContext) (storage.Backend, func(), error) {
	if cfg.StorageBackend == "gcs" {
		gcs, err := storage.NewGCS(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() { gcs.Close() }, nil
	}
	return storage.NewSupabase(runner.SupabaseURL, runner.ServiceKey, runner.Bucket), func() {}, nil
}
