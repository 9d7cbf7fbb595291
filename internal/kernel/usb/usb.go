// Package usb implements doa.Kernel against an XMOS XVF3800 DSP reached
// over direct USB control transfers, adapted from the vendor's USB
// source driver. The chip performs its own multi-mic capture and
// correlation; Process's left/right arguments are accepted to satisfy
// the kernel contract but the angle returned comes from the chip's own
// GPO_SERVICER resource, not from re-deriving it off the supplied PCM.
package usb

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/lumenrobotics/doa-pipeline/internal/doa"
)

// USB identifiers for the XVF3800.
const (
	VendorID  = 0x38FB
	ProductID = 0x1001
)

// Control parameters, per the XMOS XVF3800 control-command appendix.
const (
	gpoResID = 20
	doaCmdID = 19 // DOA_VALUE_RADIANS: angle + speech flag
)

// Config configures a Kernel.
type Config struct {
	MaxConsecutiveErrors int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultConfig returns sensible reconnect defaults.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveErrors: 5,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
	}
}

// Kernel implements doa.Kernel over a USB-attached XVF3800. It reconnects
// with exponential backoff after a run of consecutive transfer failures,
// matching the vendor driver's behavior.
type Kernel struct {
	logger *slog.Logger
	cfg    Config

	mu     sync.Mutex
	ctx    *gousb.Context
	dev    *gousb.Device
	closed bool

	consecutiveErrors int
	backoff           time.Duration
}

// New opens the XVF3800 and returns a ready Kernel. It satisfies
// doa.KernelFactory's shape once bound to a fixed logger and Config.
func New(logger *slog.Logger, cfg Config) (*Kernel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	k := &Kernel{
		logger:  logger,
		cfg:     cfg,
		backoff: cfg.InitialBackoff,
	}

	k.ctx = gousb.NewContext()
	if err := k.openDevice(); err != nil {
		k.ctx.Close()
		return nil, err
	}

	logger.Info("usb kernel opened",
		"vendor_id", fmt.Sprintf("0x%04X", VendorID),
		"product_id", fmt.Sprintf("0x%04X", ProductID),
	)

	return k, nil
}

// Factory adapts New into a doa.KernelFactory, ignoring the KernelConfig's
// acoustic parameters (sample rate, mic distance) since those are fixed by
// the chip's own firmware; only the frame-size/sample-rate contract is
// shared with the rest of the pipeline.
func Factory(logger *slog.Logger, cfg Config) doa.KernelFactory {
	return func(doa.KernelConfig) (doa.Kernel, error) {
		return New(logger, cfg)
	}
}

func (k *Kernel) openDevice() error {
	dev, err := k.ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		return fmt.Errorf("%w: open xvf3800: %v", doa.ErrFailed, err)
	}
	if dev == nil {
		return fmt.Errorf("%w: xvf3800 not found (vid=0x%04X pid=0x%04X)", doa.ErrFailed, VendorID, ProductID)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		k.logger.Debug("set auto detach failed, continuing", "error", err)
	}

	k.dev = dev
	k.consecutiveErrors = 0
	return nil
}

// Process ignores the supplied PCM and queries the chip's own DOA
// resource, reconnecting first if a prior failure closed the device.
func (k *Kernel) Process(ctx context.Context, left, right []int16) (float64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return 0, fmt.Errorf("%w: kernel closed", doa.ErrFailed)
	}

	if k.dev == nil {
		if err := k.reconnectLocked(ctx); err != nil {
			return 0, err
		}
	}

	data := make([]byte, 9) // status byte + angle float + speaking float
	n, err := k.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		0,
		0x80|doaCmdID,
		gpoResID,
		data,
	)
	if err != nil {
		k.recordErrorLocked(err)
		return 0, fmt.Errorf("%w: usb control transfer: %v", doa.ErrFailed, err)
	}
	if n < 9 {
		err := fmt.Errorf("%w: short read: got %d bytes, want 9", doa.ErrFailed, n)
		k.recordErrorLocked(err)
		return 0, err
	}
	if data[0] != 0 {
		err := fmt.Errorf("%w: device status %d", doa.ErrFailed, data[0])
		k.recordErrorLocked(err)
		return 0, err
	}

	k.recordSuccessLocked()

	// The chip reports the bearing in radians; the kernel contract is degrees.
	angleBits := binary.LittleEndian.Uint32(data[1:5])
	return float64(math.Float32frombits(angleBits)) * 180 / math.Pi, nil
}

func (k *Kernel) recordErrorLocked(err error) {
	k.consecutiveErrors++
	maxErrors := k.cfg.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = DefaultConfig().MaxConsecutiveErrors
	}
	if k.consecutiveErrors >= maxErrors {
		k.logger.Warn("usb kernel unhealthy, will reconnect on next call",
			"consecutive_errors", k.consecutiveErrors, "error", err)
		if k.dev != nil {
			k.dev.Close()
			k.dev = nil
		}
	}
}

func (k *Kernel) recordSuccessLocked() {
	if k.consecutiveErrors > 0 {
		k.logger.Info("usb kernel recovered", "previous_errors", k.consecutiveErrors)
	}
	k.consecutiveErrors = 0
	k.backoff = k.cfg.InitialBackoff
}

func (k *Kernel) reconnectLocked(ctx context.Context) error {
	k.logger.Info("attempting usb reconnect", "backoff", k.backoff)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(k.backoff):
	}

	k.backoff *= 2
	maxBackoff := k.cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultConfig().MaxBackoff
	}
	if k.backoff > maxBackoff {
		k.backoff = maxBackoff
	}

	if err := k.openDevice(); err != nil {
		k.logger.Warn("usb reconnect failed", "error", err)
		return err
	}
	k.logger.Info("usb reconnect succeeded")
	return nil
}

// Close releases the USB device and context. Idempotent.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true

	if k.dev != nil {
		k.dev.Close()
		k.dev = nil
	}
	if k.ctx != nil {
		k.ctx.Close()
		k.ctx = nil
	}

	k.logger.Info("usb kernel closed")
	return nil
}

var _ doa.Kernel = (*Kernel)(nil)
