package session

import (
	"regexp"
	"strings"
	"time"
)

var (
	unsafeNameChars   = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	unsafeDeviceChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// SanitizeName turns a user supplied recording name into a file name:
// characters outside [A-Za-z0-9._-] become '_' and ".csv" is appended unless
// present. An empty name falls back to fallback, then to "recording".
func SanitizeName(name, fallback string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = strings.TrimSpace(fallback)
	}
	if base == "" {
		base = "recording"
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")
	if strings.HasSuffix(strings.ToLower(base), ".csv") {
		return base
	}
	return base + ".csv"
}

// DefaultRecordingName proposes <device>_<YYYY-MM-DD-HH-MM-SS> with the
// device part reduced to [A-Za-z0-9_-] and the timestamp in UTC.
func DefaultRecordingName(deviceName string, t time.Time) string {
	if deviceName == "" {
		deviceName = "device"
	}
	return unsafeDeviceChars.ReplaceAllString(deviceName, "_") + "_" + t.UTC().Format("2006-01-02-15-04-05")
}
