package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"p2pscope/internal/report"
)

// ErrNotFound is returned when no snapshot exists at the given path.
var ErrNotFound = errors.New("snapshot not found")

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) (report.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return report.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return report.Snapshot{}, err
	}

	var snap report.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return report.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, nil
}

// SaveSnapshot writes snap to disk as YAML.
func SaveSnapshot(path string, snap report.Snapshot) error {
	if snap.GeneratedAt.IsZero() {
		snap.GeneratedAt = time.Now().UTC()
	}
	data, err := yaml.Marshal(&snap)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
