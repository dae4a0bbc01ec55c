package device

import "strings"

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the lowercase, dash-free form used
// by the go-ble library. A 0x prefix is stripped and a full 128-bit UUID in
// the Bluetooth SIG base range is shortened to its 16-bit form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	for _, r := range u {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}
	switch len(u) {
	case 4, 8, 32:
		return u
	default:
		return ""
	}
}

// SameUUID compares two UUIDs after normalization. Empty or malformed
// values never match.
func SameUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}
