package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nexamediaserver/server/internal/api"
	"github.com/nexamediaserver/server/internal/config"
	"github.com/nexamediaserver/server/internal/ffmpeg/capabilities"
	"github.com/nexamediaserver/server/internal/hls"
	"github.com/nexamediaserver/server/internal/library"
	nexalog "github.com/nexamediaserver/server/internal/log"
	"github.com/nexamediaserver/server/internal/media"
	"github.com/nexamediaserver/server/internal/remux"
	"github.com/nexamediaserver/server/internal/telemetry"
	"github.com/nexamediaserver/server/internal/throttle"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	nexalog.Configure(nexalog.Config{
		Level:   cfg.LogLevel,
		Service: "nexa",
	})
	logger := nexalog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTLPEndpoint != "",
		ServiceName:    "nexa",
		ServiceVersion: version,
		Environment:    "production",
		ExporterType:   "grpc",
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	// Capability truth is established once; a missing transcoder binary is
	// not survivable.
	caps, err := capabilities.NewDetector(cfg.FFmpegBin).Detect(ctx)
	if err != nil {
		return fmt.Errorf("transcoder detection: %w", err)
	}
	logger.Info().
		Str("version", caps.Version).
		Str(nexalog.FieldAccel, string(caps.Recommended)).
		Int("encoders", caps.EncoderCount()).
		Msg("transcoder capabilities detected")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	var bank *throttle.Bank
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		bank, err = throttle.NewBank(rdb, throttle.Config{
			Kind:     "transcode",
			MaxSlots: cfg.TranscodeSlots,
		})
		if err != nil {
			return fmt.Errorf("throttle init: %w", err)
		}
	} else {
		logger.Warn().Msg("redis not configured, transcode throttling disabled")
	}

	gopCache, err := media.OpenGopCache(filepath.Join(cfg.DataDir, "gop"), nexalog.WithComponent("gopcache"))
	if err != nil {
		return fmt.Errorf("keyframe cache: %w", err)
	}
	defer func() { _ = gopCache.Close() }()

	indexer, err := media.NewIndexer(cfg.FFprobeBin, gopCache, nexalog.WithComponent("indexer"))
	if err != nil {
		return fmt.Errorf("keyframe indexer: %w", err)
	}
	defer func() { _ = indexer.Close() }()

	store, err := library.Open(filepath.Join(cfg.DataDir, "library.db"))
	if err != nil {
		return fmt.Errorf("library: %w", err)
	}
	defer func() { _ = store.Close() }()
	lib := library.NewService(store, media.NewProber(cfg.FFprobeBin))

	mat := hls.NewMaterializer(hls.Config{
		Root:           cfg.HLSRoot,
		Bin:            cfg.FFmpegBin,
		IdleTTL:        cfg.SessionIdleTTL,
		AcquireTimeout: cfg.ThrottleWait,
	}, bank, indexer)
	defer mat.Close()

	srv := api.NewServer(cfg, lib, mat, remux.New(cfg.FFmpegBin), caps)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
