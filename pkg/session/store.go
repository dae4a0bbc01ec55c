package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DataDir is the sub-directory recordings are written to.
const DataDir = "data"

// DestinationKind selects where a recording is saved.
type DestinationKind string

const (
	AppStorage DestinationKind = "app"
	Folder     DestinationKind = "folder"
)

// Destination is a save location. Dir is used only for Folder.
type Destination struct {
	Kind DestinationKind
	Dir  string
}

func (d Destination) String() string {
	if d.Kind == Folder {
		return d.Dir
	}
	return "app storage"
}

// Store persists finished recordings.
type Store interface {
	// Save writes content as filename under dest and returns the saved location.
	Save(dest Destination, filename string, content []byte) (string, error)
}

// PersistenceError reports a failed save. The recording is kept for a retry.
type PersistenceError struct {
	Dest     Destination
	Filename string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to save %s to %s: %v", e.Filename, e.Dest, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var ErrNoFolder = errors.New("folder destination without a directory")

// FileStore saves into <BaseDir>/data for app storage and <Dir>/data for a
// user folder. Each save is atomic: readers see the old file or the new one.
type FileStore struct {
	BaseDir string
}

func (f *FileStore) Save(dest Destination, filename string, content []byte) (string, error) {
	root := f.BaseDir
	if dest.Kind == Folder {
		if dest.Dir == "" {
			return "", ErrNoFolder
		}
		root = dest.Dir
	}
	dir := filepath.Join(root, DataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	target := filepath.Join(dir, filename)
	if err := writeFileAtomic(target, content); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	return target, nil
}
