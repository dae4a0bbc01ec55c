//go:build windows

package session

import "os"

// renameio has no Windows support; a plain write is the best available.
func writeFileAtomic(path string, content []byte) error {
	return os.WriteFile(path, content, 0o644)
}
