package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.LogLevel)
	assert.Equal(t, 6*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 360, cfg.WaveformCapacity)
	assert.Equal(t, float64(0), cfg.YMin)
	assert.Equal(t, float64(1023), cfg.YMax)
	assert.Equal(t, "~/.vitalink", cfg.DataDir)
	assert.Equal(t, 100*time.Millisecond, cfg.RenderInterval)
	assert.False(t, cfg.Simulate)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	t.Run("overlays defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vitalink.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nscan_timeout: 3s\ny_max: 2047\nsimulate: true\n"), 0o644))

		cfg, err := LoadFile(path)

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
		assert.Equal(t, float64(2047), cfg.YMax)
		assert.True(t, cfg.Simulate)
		assert.Equal(t, 10*time.Second, cfg.ConnectTimeout, "unset keys MUST keep defaults")
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("y_min: 10\ny_max: 5\n"), 0o644))

		_, err := LoadFile(path)

		assert.ErrorContains(t, err, "y_min")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestConfig_Level(t *testing.T) {
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{in: "", want: logrus.PanicLevel},
		{in: "debug", want: logrus.DebugLevel},
		{in: "INFO", want: logrus.InfoLevel},
		{in: "warn", want: logrus.WarnLevel},
		{in: "error", want: logrus.ErrorLevel},
		{in: "trace", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := (&Config{LogLevel: tt.in}).Level()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_DataPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	p, err := (&Config{DataDir: "~/.vitalink"}).DataPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".vitalink"), p)

	p, err = (&Config{DataDir: "/tmp/x"}).DataPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", p)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "silent by default", logLevel: "", want: logrus.PanicLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := (&Config{LogLevel: tt.logLevel}).NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
