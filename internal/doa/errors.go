// Package doa implements the signal-conditioning and tracking pipeline that
// sits on top of an opaque per-frame direction-of-arrival kernel: a frame
// dispatcher, a raw-angle conditioner and a bearing tracker, wired together
// by Pipeline.
package doa

import "errors"

// Sentinel errors returned across the Pipeline's public API. Callers should
// compare with errors.Is, since internal wrapping adds context via %w.
var (
	// ErrBadArg is returned for a nil/invalid argument: a nil handle, nil
	// data, a non-positive length, or a missing required callback.
	ErrBadArg = errors.New("doa: bad argument")

	// ErrOutOfMemory is returned when construction cannot allocate one of
	// the pipeline's fixed-size buffers. Go rarely fails allocation
	// explicitly; this is kept for contract fidelity with the kernel's
	// allocate-at-construction discipline and is effectively unreachable
	// in practice.
	ErrOutOfMemory = errors.New("doa: out of memory")

	// ErrQueueFull is returned by Write when the ring buffer has no room
	// for the incoming bytes within the bounded wait.
	ErrQueueFull = errors.New("doa: frame queue full")

	// ErrFailed is returned when an underlying resource (typically the
	// kernel) reports failure.
	ErrFailed = errors.New("doa: operation failed")
)
