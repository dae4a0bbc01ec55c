package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/pkg/session"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "connection lost", err: fmt.Errorf("stream: %w", ErrConnectionLost), want: "connection lost"},
		{name: "timeout", err: fmt.Errorf("connect x: %w", device.NewConnectionError(device.TimedOut, "", nil)), want: "timed out"},
		{name: "rejected", err: device.ErrRejected, want: "rejected"},
		{name: "bluetooth off", err: device.ErrBluetoothOff, want: "turned off"},
		{name: "unsupported", err: device.ErrUnsupported, want: "--simulate"},
		{name: "scan", err: &device.ScanError{Err: errors.New("adapter reset")}, want: "scan failed: adapter reset"},
		{
			name: "persistence",
			err:  &session.PersistenceError{Dest: session.Destination{Kind: session.Folder, Dir: "/x"}, Filename: "a.csv", Err: errors.New("denied")},
			want: "a.csv could not be saved to /x",
		},
		{name: "other", err: errors.New("boom"), want: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.want)
		})
	}
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "▁▅█", Sparkline([]float64{0, 600, 1023}, 0, 1023, 0))
	assert.Equal(t, "▁█", Sparkline([]float64{-50, 5000}, 0, 1023, 0), "out of range values MUST be clamped")
	assert.Equal(t, "█", Sparkline([]float64{0, 1023}, 0, 1023, 1), "only the newest samples MUST be drawn")
	assert.Equal(t, "▁▁", Sparkline([]float64{3, 9}, 5, 5, 0), "empty range MUST not divide by zero")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
