// Package persist stores engine state on disk: a whole-store JSON snapshot
// replaced atomically, append-only per-node CSV history, a retention sweep,
// and an optional off-site snapshot backup.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/icpmesh/meshwatch/internal/mesh"
)

// snapshotVersion is bumped when the document layout changes.
const snapshotVersion = 1

// snapshotDoc is the on-disk snapshot layout.
type snapshotDoc struct {
	Version int              `json:"version"`
	SavedAt int64            `json:"saved_at"`
	Nodes   []mesh.NodeState `json:"nodes"`
}

// SnapshotStore reads and writes the node snapshot file.
type SnapshotStore struct {
	path string
}

// NewSnapshotStore creates a snapshot store at path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string { return s.path }

// Save replaces the snapshot file. The document is written to a temp file
// and renamed into place so a crash mid-write never leaves a truncated
// snapshot.
func (s *SnapshotStore) Save(nodes []mesh.NodeState, savedAt int64) error {
	doc := snapshotDoc{
		Version: snapshotVersion,
		SavedAt: savedAt,
		Nodes:   nodes,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file is a fresh start, not an error.
func (s *SnapshotStore) Load() ([]mesh.NodeState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", s.path, err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	return doc.Nodes, nil
}
