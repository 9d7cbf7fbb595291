package doa

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// dispatcherTick is the worker's poll period: short enough to keep
// cancellation and frame delivery responsive without busy-spinning,
// matching the ~10ms waits spec.md §4.A and §5 describe.
const dispatcherTick = 10 * time.Millisecond

// Dispatcher buffers incoming PCM in a fixed-size ring and delivers one
// full frame at a time to a Kernel on a dedicated worker goroutine,
// forwarding every resulting raw bearing to a Conditioner. It is the
// frame-dispatcher component (spec.md §4.A).
type Dispatcher struct {
	kernel      Kernel
	conditioner *Conditioner
	logger      *slog.Logger

	ring *byteRing

	started atomic.Bool
	vadOpen atomic.Bool

	left, right [SamplesPerFrame]int16
	frame       []byte

	onRaw func(angleDeg float64)

	lastKernelErr atomic.Value // kernelErrState

	cancel context.CancelFunc
	done   chan struct{}
}

// kernelErrState wraps the kernel's last Process error so it can live in an
// atomic.Value (which requires a consistent concrete type across Store
// calls; error itself isn't one).
type kernelErrState struct {
	err error
}

// NewDispatcher constructs a Dispatcher with its ring buffer and scratch
// frame pre-allocated. The worker is not started; call Run in a goroutine.
func NewDispatcher(kernel Kernel, conditioner *Conditioner, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		kernel:      kernel,
		conditioner: conditioner,
		logger:      logger,
		ring:        newByteRing(FrameBytes),
		frame:       make([]byte, FrameBytes),
		done:        make(chan struct{}),
	}
	d.vadOpen.Store(true)
	d.lastKernelErr.Store(&kernelErrState{})
	return d
}

// Write enqueues PCM bytes. If the VAD gate is closed, Write reports Ok
// without enqueueing. A full ring surfaces ErrQueueFull; it is never
// silently dropped.
func (d *Dispatcher) Write(data []byte) error {
	if len(data) == 0 {
		return ErrBadArg
	}
	if !d.vadOpen.Load() {
		return nil
	}
	return d.ring.write(data)
}

// SetVADDetect opens or closes the write gate.
func (d *Dispatcher) SetVADDetect(open bool) {
	d.vadOpen.Store(open)
}

// Start raises the started flag; idempotent.
func (d *Dispatcher) Start() {
	d.started.Store(true)
}

// Stop lowers the started flag without draining the buffer; idempotent.
func (d *Dispatcher) Stop() {
	d.started.Store(false)
}

// OnRawAngle sets the callback invoked with every raw kernel angle, ahead
// of conditioning. Used by the façade to wire the conditioner.
func (d *Dispatcher) OnRawAngle(cb func(angleDeg float64)) {
	d.onRaw = cb
}

// Run is the worker loop: it awaits the started flag, dequeues one full
// frame at a time, de-interleaves it, drives the kernel, and forwards the
// raw angle. It returns when ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	defer close(d.done)

	ticker := time.NewTicker(dispatcherTick)
	defer ticker.Stop()

	d.logger.Info("dispatcher worker started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher worker stopped")
			return
		case <-ticker.C:
			if !d.started.Load() {
				continue
			}
			d.pump(ctx)
		}
	}
}

// pump dequeues exactly one full frame, if available, and drives the
// kernel with it. If less than a full frame is buffered it yields back to
// Run's ticker and retries on the next tick, per spec.md §4.A.
func (d *Dispatcher) pump(ctx context.Context) {
	if !d.ring.drainFrame(d.frame) {
		return
	}

	deinterleave(d.frame, d.left[:], d.right[:])

	angle, err := d.kernel.Process(ctx, d.left[:], d.right[:])
	d.lastKernelErr.Store(&kernelErrState{err: err})
	if err != nil {
		d.logger.Warn("kernel process failed", "error", err)
		return
	}

	if d.onRaw != nil {
		d.onRaw(angle)
	}
}

// KernelHealthy reports whether the most recent kernel Process call
// succeeded, along with a message describing the last outcome.
func (d *Dispatcher) KernelHealthy() (bool, string) {
	state := d.lastKernelErr.Load().(*kernelErrState)
	if state.err == nil {
		return true, "ok"
	}
	return false, state.err.Error()
}

// deinterleave splits a little-endian int16 stereo PCM frame into its
// left (even samples) and right (odd samples) channels.
func deinterleave(frame []byte, left, right []int16) {
	pairs := len(frame) / 4
	for i := 0; i < pairs; i++ {
		base := i * 4
		left[i] = int16(uint16(frame[base]) | uint16(frame[base+1])<<8)
		right[i] = int16(uint16(frame[base+2]) | uint16(frame[base+3])<<8)
	}
}

// Close stops the worker and waits (bounded) for it to quiesce.
func (d *Dispatcher) Close() error {
	d.Stop()
	if d.cancel != nil {
		d.cancel()
		select {
		case <-d.done:
		case <-time.After(100 * time.Millisecond):
		}
	}
	return d.kernel.Close()
}

// Buffered reports how many PCM bytes are currently queued, for metrics.
func (d *Dispatcher) Buffered() int {
	return d.ring.buffered()
}
