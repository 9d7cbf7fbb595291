// Package capture feeds a running Pipeline from a live microphone via
// arecord, adapted from the audio bridge's subprocess-capture approach.
// It exists for local/manual testing against real hardware; the daemon's
// default kernel drivers (usb, sim) don't need it.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenrobotics/doa-pipeline/internal/doa"
)

// Config configures the arecord-backed capture source.
type Config struct {
	CaptureCmd    string        // default: "arecord"
	ChunkDuration time.Duration // default: 64ms, 2 frames at 16kHz stereo
}

// DefaultConfig returns sensible defaults matching the pipeline's frame
// geometry (16kHz, stereo, 16-bit).
func DefaultConfig() Config {
	return Config{
		CaptureCmd:    "arecord",
		ChunkDuration: 64 * time.Millisecond,
	}
}

// Source captures stereo PCM from the system microphone and writes it
// into a Pipeline.
type Source struct {
	cfg      Config
	pipeline *doa.Pipeline
	logger   *slog.Logger

	mu         sync.Mutex
	capturing  bool
	cancelFunc context.CancelFunc

	chunksCaptured atomic.Uint64
	captureErrors  atomic.Uint64
}

// New returns a capture Source bound to pipeline.
func New(cfg Config, pipeline *doa.Pipeline, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg, pipeline: pipeline, logger: logger}
}

// Start begins capturing in the background; idempotent.
func (s *Source) Start(ctx context.Context) {
	s.mu.Lock()
	if s.capturing {
		s.mu.Unlock()
		return
	}
	s.capturing = true
	ctx, s.cancelFunc = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("starting microphone capture",
		"sample_rate", doa.SampleRateHz,
		"chunk_duration", s.cfg.ChunkDuration,
	)

	go s.captureLoop(ctx)
}

// Stop halts capture; idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing {
		return
	}
	s.capturing = false
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.logger.Info("microphone capture stopped")
}

func (s *Source) captureLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunk, err := s.captureChunk(ctx)
		if err != nil {
			s.captureErrors.Add(1)
			s.logger.Debug("capture error", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.chunksCaptured.Add(1)

		if err := s.pipeline.Write(chunk); err != nil {
			s.logger.Debug("pipeline write rejected chunk", "error", err)
		}
	}
}

// captureChunk runs arecord for cfg.ChunkDuration and returns the raw
// stereo 16-bit PCM it produced.
func (s *Source) captureChunk(ctx context.Context) ([]byte, error) {
	duration := s.cfg.ChunkDuration.Seconds()

	cmd := exec.CommandContext(ctx, s.cfg.CaptureCmd,
		"-f", "S16_LE",
		"-r", fmt.Sprintf("%d", doa.SampleRateHz),
		"-c", "2",
		"-d", fmt.Sprintf("%.3f", duration),
		"-t", "raw",
		"-q",
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture command failed: %w", err)
	}

	return stdout.Bytes(), nil
}

// Stats reports capture counters.
type Stats struct {
	ChunksCaptured uint64 `json:"chunks_captured"`
	CaptureErrors  uint64 `json:"capture_errors"`
	Capturing      bool   `json:"capturing"`
}

// GetStats returns the source's current counters.
func (s *Source) GetStats() Stats {
	s.mu.Lock()
	capturing := s.capturing
	s.mu.Unlock()

	return Stats{
		ChunksCaptured: s.chunksCaptured.Load(),
		CaptureErrors:  s.captureErrors.Load(),
		Capturing:      capturing,
	}
}

// IsAvailable reports whether the capture command exists on PATH.
func (s *Source) IsAvailable() bool {
	_, err := exec.LookPath(s.cfg.CaptureCmd)
	return err == nil
}
