package doa

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// PipelineConfig configures a Pipeline. ResultCallback is required;
// everything else has a documented default.
//
// Per the spec's own design notes, the C-style (callback, ctx) pair is
// dropped in favor of plain closures: callers that need user data close
// over it themselves.
type PipelineConfig struct {
	// MonitorCallback, if set, is invoked with every calibrated angle,
	// ahead of the tracker.
	MonitorCallback func(angleDeg float64)

	// ResultCallback is invoked by the tracker at its output cadence.
	// Required: New returns ErrBadArg if it is nil.
	ResultCallback func(angleDeg float64)

	// OutputIntervalMs and MinAngleChangeThreshold configure the tracker;
	// see TrackerConfig.
	OutputIntervalMs        int
	MinAngleChangeThreshold float64

	Kernel KernelConfig

	Logger *slog.Logger
}

// DefaultPipelineConfig returns sensible defaults for every field except
// ResultCallback, which the caller must still set.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		OutputIntervalMs:        1000,
		MinAngleChangeThreshold: DefaultMinAngleChange,
		Kernel:                  NewKernelConfig(KernelConfig{}),
	}
}

// KernelFactory constructs a Kernel from its configuration. Pipelines take
// one so tests can inject a deterministic fake without the real package
// depending on any concrete kernel implementation.
type KernelFactory func(cfg KernelConfig) (Kernel, error)

// Pipeline owns the frame dispatcher, conditioner and tracker, wiring them
// into the data flow described by spec.md §2: PCM → dispatcher → kernel →
// conditioner → tracker → result callback. It is the façade component
// (spec.md §4.D).
type Pipeline struct {
	logger *slog.Logger

	dispatcher  *Dispatcher
	conditioner *Conditioner
	tracker     *Tracker
	kernel      Kernel

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New validates cfg, allocates every fixed-size buffer, constructs the
// kernel via factory, wires the three components together, and spawns the
// worker goroutine in the stopped state. Construction is all-or-nothing:
// any failure tears down everything already allocated, in reverse order.
func New(cfg PipelineConfig, factory KernelFactory) (*Pipeline, error) {
	if cfg.ResultCallback == nil {
		return nil, fmt.Errorf("%w: result callback is required", ErrBadArg)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: kernel factory is required", ErrBadArg)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kernelCfg := NewKernelConfig(cfg.Kernel)

	var rollback []func() error
	unwind := func(cause error) error {
		var errs error
		for i := len(rollback) - 1; i >= 0; i-- {
			if err := rollback[i](); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if errs != nil {
			return multierr.Append(fmt.Errorf("%w: %v", ErrFailed, cause), errs)
		}
		return cause
	}

	kernel, err := factory(kernelCfg)
	if err != nil {
		return nil, unwind(fmt.Errorf("%w: create kernel: %v", ErrFailed, err))
	}
	rollback = append(rollback, kernel.Close)

	conditioner := NewConditioner()
	conditioner.OnCalibrated(cfg.MonitorCallback)

	trackerCfg := TrackerConfig{
		OutputIntervalMs:        cfg.OutputIntervalMs,
		MinAngleChangeThreshold: cfg.MinAngleChangeThreshold,
	}
	tracker := NewTracker(trackerCfg)
	tracker.OnResult(cfg.ResultCallback)
	tracker.Enable(true)

	dispatcher := NewDispatcher(kernel, conditioner, logger)

	p := &Pipeline{
		logger:      logger,
		dispatcher:  dispatcher,
		conditioner: conditioner,
		tracker:     tracker,
		kernel:      kernel,
	}

	dispatcher.OnRawAngle(func(rawAngle float64) {
		calibrated := conditioner.Process(rawAngle)
		tracker.Feed(calibrated, time.Now())
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go dispatcher.Run(ctx)

	return p, nil
}

// Start begins frame processing; idempotent.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.dispatcher.Start()
}

// Stop halts frame processing without releasing resources; idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.dispatcher.Stop()
}

// Write enqueues PCM data if the VAD gate is open. Returns ErrBadArg for a
// zero-length write, ErrQueueFull if the ring has no room within the
// bounded wait.
func (p *Pipeline) Write(data []byte) error {
	if len(data) == 0 {
		return ErrBadArg
	}
	return p.dispatcher.Write(data)
}

// SetVADDetect flips the write gate.
func (p *Pipeline) SetVADDetect(open bool) {
	p.dispatcher.SetVADDetect(open)
}

// Stats returns the tracker's current snapshot.
func (p *Pipeline) Stats() Snapshot {
	return p.tracker.Stats()
}

// Buffered reports how many PCM bytes are queued, for diagnostics.
func (p *Pipeline) Buffered() int {
	return p.dispatcher.Buffered()
}

// Running reports whether Start has been called without a following Stop.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// KernelHealthy reports whether the kernel's most recent Process call
// succeeded, along with a message describing the last outcome.
func (p *Pipeline) KernelHealthy() (bool, string) {
	return p.dispatcher.KernelHealthy()
}

// Close stops the worker, waits for quiescence, then releases the kernel
// and disables the tracker. Best-effort: teardown errors are aggregated
// via multierr rather than aborting the remaining steps.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	var errs error

	if err := p.dispatcher.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: close dispatcher: %v", ErrFailed, err))
	}

	if p.cancel != nil {
		p.cancel()
	}

	p.tracker.Enable(false)

	return errs
}
