// doa-pipelined: direction-of-arrival tracking daemon.
// Buffers stereo PCM, drives a per-frame DOA kernel, conditions and
// tracks the resulting bearing, and serves it over HTTP/WebSocket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lumenrobotics/doa-pipeline/internal/capture"
	"github.com/lumenrobotics/doa-pipeline/internal/config"
	"github.com/lumenrobotics/doa-pipeline/internal/doa"
	"github.com/lumenrobotics/doa-pipeline/internal/kernel/simkernel"
	"github.com/lumenrobotics/doa-pipeline/internal/kernel/usb"
	"github.com/lumenrobotics/doa-pipeline/internal/server"
)

var (
	version     = "0.1.0"
	configPath  = pflag.StringP("config", "c", "/etc/doa-pipelined/config.yaml", "config file path")
	showVersion = pflag.BoolP("version", "v", false, "print version and exit")
	debug       = pflag.Bool("debug", false, "enable debug logging")
	mic         = pflag.Bool("mic", false, "capture from the system microphone via arecord")
)

func main() {
	pflag.Parse()

	if *showVersion {
		fmt.Printf("doa-pipelined %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}

	logger := setupLogger(cfg.Logging)

	logger.Info("starting doa-pipelined",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
		"kernel_driver", cfg.Kernel.Driver,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	factory := kernelFactory(cfg.Kernel, logger)

	pcfg := doa.PipelineConfig{
		ResultCallback:          func(angleDeg float64) { logger.Debug("doa output", "angle_deg", angleDeg) },
		OutputIntervalMs:        cfg.Tracker.OutputIntervalMs,
		MinAngleChangeThreshold: cfg.Tracker.MinAngleChangeThreshold,
		Kernel: doa.KernelConfig{
			SampleRateHz:    cfg.Kernel.SampleRateHz,
			SoundSpeed:      cfg.Kernel.SoundSpeed,
			MicDistanceM:    cfg.Kernel.MicDistanceM,
			SamplesPerFrame: cfg.Kernel.SamplesPerFrame,
		},
		Logger: logger,
	}

	pipeline, err := doa.New(pcfg, factory)
	if err != nil {
		logger.Error("failed to construct pipeline", "error", err)
		os.Exit(1)
	}
	pipeline.Start()

	var micSource *capture.Source
	if *mic {
		micSource = capture.New(capture.DefaultConfig(), pipeline, logger)
		if !micSource.IsAvailable() {
			logger.Warn("arecord not found on PATH, --mic capture disabled")
		} else {
			micSource.Start(ctx)
		}
	}

	srv := server.New(cfg.Server, pipeline, logger, version)

	go srv.WSHub().Run(ctx)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	printStartupBanner(cfg, version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	if micSource != nil {
		micSource.Stop()
	}

	logger.Info("stopping pipeline...")
	if err := pipeline.Close(); err != nil {
		logger.Warn("pipeline close error", "error", err)
	}

	logger.Info("doa-pipelined stopped")
}

// kernelFactory picks the kernel driver named by cfg.Driver.
func kernelFactory(cfg config.KernelConfig, logger *slog.Logger) doa.KernelFactory {
	switch cfg.Driver {
	case "usb":
		return usb.Factory(logger, usb.DefaultConfig())
	default:
		return func(doa.KernelConfig) (doa.Kernel, error) {
			logger.Info("using simulated DOA kernel")
			return simkernel.NewWithWave(), nil
		}
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("doa-pipelined v" + version)
	fmt.Println()
	fmt.Printf("Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health        - Health check")
	fmt.Println("   GET  /api/doa/      - Current tracker snapshot")
	fmt.Println("   WS   /api/doa/stream - Real-time DOA stream")
	fmt.Println("   GET  /metrics       - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
