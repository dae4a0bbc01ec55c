package main

import (
	"errors"
	"fmt"

	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/pkg/session"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the sensor dropped the connection while
	// streaming. A manual disconnect never produces it.
	ErrConnectionLost = errors.New("connection lost")

	ErrUnknownDevice = errors.New("device is not whitelisted")
)

// FormatUserError turns an error chain into a one-line message for humans.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var connErr *device.ConnectionError
	var scanErr *device.ScanError
	var persistErr *session.PersistenceError
	switch {
	case errors.Is(err, ErrConnectionLost):
		return "connection lost: the sensor went out of range or was switched off"
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth is not available on this system (use --simulate to try the simulated sensors)"
	case errors.As(err, &connErr):
		return formatConnectionError(connErr)
	case errors.As(err, &scanErr):
		return fmt.Sprintf("scan failed: %v", scanErr.Err)
	case errors.As(err, &persistErr):
		return fmt.Sprintf("recording %s could not be saved to %s: %v", persistErr.Filename, persistErr.Dest, persistErr.Err)
	default:
		return err.Error()
	}
}

func formatConnectionError(err *device.ConnectionError) string {
	switch err.State {
	case device.TimedOut:
		return "connection timed out: is the sensor powered on and in range?"
	case device.Unreachable:
		return "sensor is not reachable"
	case device.Rejected:
		return "the sensor rejected the connection"
	case device.AlreadyConnected:
		return "already connected to a sensor"
	case device.NotConnected:
		return "not connected"
	case device.Canceled:
		return "connection attempt canceled"
	default:
		return err.Error()
	}
}
