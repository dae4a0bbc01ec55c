package goble

import (
	"strings"

	"github.com/srg/vitalink/internal/device"
)

// radioErrorRule maps go-ble error text to a device-level error. Rules are
// checked in order; the first whose fragments all match wins.
type radioErrorRule struct {
	fragments []string
	state     device.ConnectionState
	sentinel  error
	msg       string
}

var radioErrorRules = []radioErrorRule{
	// darwin reports a powered-off adapter as a CBManager state mismatch
	{fragments: []string{"central manager has invalid state", "have=4"}, sentinel: device.ErrBluetoothOff},
	{fragments: []string{"bluetooth is turned off"}, sentinel: device.ErrBluetoothOff},
	{fragments: []string{"can't init hci"}, sentinel: device.ErrUnsupported},
	{fragments: []string{"operation not permitted"}, sentinel: device.ErrUnsupported},
	{fragments: []string{"already connected"}, state: device.AlreadyConnected, msg: "radio reports an existing connection"},
	{fragments: []string{"not connected"}, state: device.NotConnected, msg: "link is gone"},
	{fragments: []string{"disconnected"}, state: device.NotConnected, msg: "link is gone"},
	{fragments: []string{"connection refused"}, state: device.Rejected, msg: "peripheral refused the connection"},
	{fragments: []string{"timed out"}, state: device.TimedOut, msg: "peripheral did not respond"},
}

// NormalizeError maps go-ble errors onto the device taxonomy: sentinel errors
// for adapter problems and *device.ConnectionError for link problems. The
// original error stays reachable through errors.Unwrap. Unknown errors are
// returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range radioErrorRules {
		if !rule.matches(msg) {
			continue
		}
		if rule.sentinel != nil {
			return &adapterError{sentinel: rule.sentinel, cause: err}
		}
		return device.NewConnectionError(rule.state, rule.msg, err)
	}
	return err
}

func (r radioErrorRule) matches(msg string) bool {
	for _, f := range r.fragments {
		if !strings.Contains(msg, f) {
			return false
		}
	}
	return true
}

// adapterError reports a host adapter problem while keeping the go-ble cause.
type adapterError struct {
	sentinel error
	cause    error
}

func (e *adapterError) Error() string {
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *adapterError) Unwrap() []error { return []error{e.sentinel, e.cause} }
