package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapterUnavailable means the radio is off or missing; no scan was started.
	ErrAdapterUnavailable = errors.New("ble: adapter unavailable")
	// ErrNotFound means the scan timed out without a matching advertisement.
	ErrNotFound = errors.New("ble: device not found")
	// ErrScanAborted is returned to a FindByName call whose discovery was
	// stopped by Stop or by a newer FindByName.
	ErrScanAborted = errors.New("ble: scan aborted")
	// ErrConnectTimeout means the link was not established in time.
	ErrConnectTimeout = errors.New("ble: connect timeout")
	// ErrNotConnected means the connection handle is stale.
	ErrNotConnected = errors.New("ble: not connected")
)

// AdapterError reports a transport failure during discovery.
type AdapterError struct {
	Err error
}

func (e *AdapterError) Error() string { return fmt.Sprintf("ble: adapter error: %v", e.Err) }
func (e *AdapterError) Unwrap() error { return e.Err }

// ConnectError reports a failed connection attempt or capability discovery.
type ConnectError struct {
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return "ble: connect failed: " + e.Reason
	}
	return fmt.Sprintf("ble: connect failed: %s: %v", e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteError reports a characteristic write rejected by the transport.
type WriteError struct {
	Channel Channel
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ble: write %s rejected: %v", e.Channel, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
