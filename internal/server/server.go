// Package server provides the HTTP server for the DOA pipeline daemon.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lumenrobotics/doa-pipeline/internal/config"
	"github.com/lumenrobotics/doa-pipeline/internal/doa"
	"github.com/lumenrobotics/doa-pipeline/internal/health"
)

// Server is the HTTP server fronting a running Pipeline.
type Server struct {
	app       *fiber.App
	cfg       config.ServerConfig
	pipeline  *doa.Pipeline
	logger    *slog.Logger
	wsHub     *WSHub
	health    *health.Checker
	startTime time.Time
	version   string
}

// New creates a new HTTP server for pipeline.
func New(cfg config.ServerConfig, pipeline *doa.Pipeline, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "doa-pipelined",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		pipeline:  pipeline,
		logger:    logger,
		wsHub:     NewWSHub(pipeline, logger),
		health:    health.NewChecker(version),
		startTime: time.Now(),
		version:   version,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	doaGroup := api.Group("/doa")
	doaGroup.Get("/", s.doaHandler)
	doaGroup.Get("/stream", s.wsHub.UpgradeHandler())

	api.Get("/config", s.configHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	s.refreshHealth()
	return c.JSON(s.health.GetStatus())
}

// refreshHealth updates each tracked component against the pipeline's
// current state. Cheap enough to run on every health/metrics request.
func (s *Server) refreshHealth() {
	if s.pipeline == nil {
		s.health.SetComponent("pipeline", false, "not available")
		return
	}

	running := s.pipeline.Running()
	pipelineMsg := "stopped"
	if running {
		pipelineMsg = "started"
	}
	s.health.SetComponent("pipeline", running, pipelineMsg)

	kernelHealthy, kernelMsg := s.pipeline.KernelHealthy()
	s.health.SetComponent("kernel", kernelHealthy, kernelMsg)

	buffered := s.pipeline.Buffered()
	dispatcherHealthy := buffered < doa.FrameBytes*8
	s.health.SetComponent("dispatcher", dispatcherHealthy, fmt.Sprintf("%d bytes queued", buffered))
}

func (s *Server) doaHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "pipeline not available",
		})
	}
	return c.JSON(s.pipeline.Stats())
}

func (s *Server) configHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Port,
			"read_timeout_ms":  s.cfg.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.WriteTimeout.Milliseconds(),
		},
	})
}

func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(503).SendString("# no pipeline available\n")
	}

	s.refreshHealth()
	stats := s.pipeline.Stats()
	kernelHealthy, _ := s.pipeline.KernelHealthy()

	metrics := fmt.Sprintf(`# HELP doa_pipeline_kernel_healthy Kernel health (1=healthy, 0=unhealthy)
# TYPE doa_pipeline_kernel_healthy gauge
doa_pipeline_kernel_healthy %d

# HELP doa_pipeline_last_output_angle_degrees Last emitted bearing in degrees
# TYPE doa_pipeline_last_output_angle_degrees gauge
doa_pipeline_last_output_angle_degrees %f

# HELP doa_pipeline_enabled Tracker enabled state (1=enabled, 0=disabled)
# TYPE doa_pipeline_enabled gauge
doa_pipeline_enabled %d

# HELP doa_pipeline_valid_count Current history buffer occupancy
# TYPE doa_pipeline_valid_count gauge
doa_pipeline_valid_count %d

# HELP doa_pipeline_front_facing Front-facing tracking mode (1=active)
# TYPE doa_pipeline_front_facing gauge
doa_pipeline_front_facing %d

# HELP doa_pipeline_buffered_bytes PCM bytes currently queued
# TYPE doa_pipeline_buffered_bytes gauge
doa_pipeline_buffered_bytes %d

# HELP doa_pipeline_uptime_seconds Server uptime in seconds
# TYPE doa_pipeline_uptime_seconds gauge
doa_pipeline_uptime_seconds %d

# HELP doa_pipeline_websocket_clients Current WebSocket client count
# TYPE doa_pipeline_websocket_clients gauge
doa_pipeline_websocket_clients %d
`,
		boolToInt(kernelHealthy),
		stats.LastOutputAngle,
		boolToInt(stats.Enabled),
		stats.ValidCount,
		boolToInt(stats.FrontFacing),
		s.pipeline.Buffered(),
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "port", s.cfg.Port)
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// WSHub returns the WebSocket hub for external control.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.wsHub.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
