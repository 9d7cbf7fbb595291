// Package simkernel provides a deterministic, in-process fake of the DOA
// kernel for tests and local development without hardware, adapted from
// the XVF3800 mock source's shape (settable angle, optional moving-source
// simulation, settable health).
package simkernel

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/lumenrobotics/doa-pipeline/internal/doa"
)

// Kernel is a settable fake doa.Kernel.
type Kernel struct {
	mu           sync.Mutex
	angle        float64
	err          error
	simulateWave bool
	startTime    time.Time
	closed       bool
}

// New returns a Kernel fixed at broadside (90°).
func New() *Kernel {
	return &Kernel{angle: 90, startTime: time.Now()}
}

// NewWithWave returns a Kernel whose angle sweeps ±45° around broadside
// over time, for exercising the tracker against a moving source.
func NewWithWave() *Kernel {
	return &Kernel{simulateWave: true, startTime: time.Now()}
}

// Process returns the configured angle, or the configured error.
func (k *Kernel) Process(ctx context.Context, left, right []int16) (float64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.err != nil {
		return 0, k.err
	}

	angle := k.angle
	if k.simulateWave {
		elapsed := time.Since(k.startTime).Seconds()
		angle = 90 + math.Sin(elapsed)*45
	}
	return angle, nil
}

// SetAngle fixes the returned angle.
func (k *Kernel) SetAngle(angleDeg float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.angle = angleDeg
}

// SetError makes every subsequent Process call fail with err (nil clears
// it).
func (k *Kernel) SetError(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.err = err
}

// Close marks the kernel closed. Idempotent.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (k *Kernel) Closed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

var _ doa.Kernel = (*Kernel)(nil)
