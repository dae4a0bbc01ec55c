//go:build !windows

package session

import "github.com/google/renameio/v2"

func writeFileAtomic(path string, content []byte) error {
	return renameio.WriteFile(path, content, 0o644)
}
