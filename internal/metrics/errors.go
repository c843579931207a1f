package metrics

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("sampler not initialized")
	ErrAlreadyInitialized = errors.New("sampler already initialized")
	ErrStopped            = errors.New("sampler stopped")
	ErrPollInProgress     = errors.New("poll already in progress")
	ErrDiskGone           = errors.New("disk no longer reported")
)

// DeviceEnumerationError means the disk list could not be obtained at all.
type DeviceEnumerationError struct {
	Err error
}

func (e *DeviceEnumerationError) Error() string {
	return fmt.Sprintf("error enumerating disk devices: %v", e.Err)
}

func (e *DeviceEnumerationError) Unwrap() error { return e.Err }

// CounterReadError reports a failed read of one metric during a poll.
// DiskID is empty for cpu and memory.
type CounterReadError struct {
	Metric string
	DiskID string
	Err    error
}

func (e *CounterReadError) Error() string {
	if e.DiskID != "" {
		return fmt.Sprintf("error reading %s counters for disk %s: %v", e.Metric, e.DiskID, e.Err)
	}
	return fmt.Sprintf("error reading %s counters: %v", e.Metric, e.Err)
}

func (e *CounterReadError) Unwrap() error { return e.Err }

// CounterResetAnomaly is reported when a cumulative counter went backwards.
// The delta is clamped to zero.
type CounterResetAnomaly struct {
	DiskID   string
	Counter  string
	Previous uint64
	Current  uint64
}

func (e *CounterResetAnomaly) Error() string {
	return fmt.Sprintf("%s counter for disk %s went backwards (%d -> %d)", e.Counter, e.DiskID, e.Previous, e.Current)
}
