package doa

import "context"

// Frame geometry for the two-mic PCM stream the pipeline consumes: 16kHz,
// 16-bit signed little-endian, interleaved stereo, 32ms per frame.
const (
	SampleRateHz    = 16000
	SamplesPerFrame = 512 // per channel
	FrameBytes      = SamplesPerFrame * 2 /* channels */ * 2 /* bytes/sample */

	// DefaultMicDistanceM is substituted by NewKernelConfig whenever a
	// caller passes 0, matching the kernel's own documented default.
	DefaultMicDistanceM = 0.046
)

// Kernel is the opaque, externally supplied per-frame DOA estimator. It is
// out of scope for this package: callers provide a concrete implementation
// (internal/kernel/usb for the real two-mic correlator chip,
// internal/kernel/simkernel for tests) and the pipeline only ever calls it
// through this interface.
type Kernel interface {
	// Process returns the estimated bearing in degrees on [0, 180] for one
	// frame of 512 de-interleaved samples per channel.
	Process(ctx context.Context, left, right []int16) (angleDeg float64, err error)

	// Close releases any resources the kernel holds (device handles,
	// USB contexts, ...).
	Close() error
}

// KernelConfig configures kernel construction.
type KernelConfig struct {
	SampleRateHz    int
	SoundSpeed      float64 // unitless per the kernel's own contract, ≈10
	MicDistanceM    float64
	SamplesPerFrame int
}

// NewKernelConfig returns cfg with zero-valued fields substituted by the
// kernel's documented defaults (16kHz, sound speed ≈10, 0.046m mic spacing,
// 512 samples/frame).
func NewKernelConfig(cfg KernelConfig) KernelConfig {
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = SampleRateHz
	}
	if cfg.SoundSpeed == 0 {
		cfg.SoundSpeed = 10
	}
	if cfg.MicDistanceM == 0 {
		cfg.MicDistanceM = DefaultMicDistanceM
	}
	if cfg.SamplesPerFrame == 0 {
		cfg.SamplesPerFrame = SamplesPerFrame
	}
	return cfg
}
