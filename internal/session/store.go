package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/groundframe/client/internal/pose"
)

// ItemRecord is the persisted form of one placed content item.
type ItemRecord struct {
	Key      string    `json:"key"`
	Home     pose.Pose `json:"home"`
	Rendered pose.Pose `json:"rendered"`
	Stable   bool      `json:"stable"`
}

// Snapshot is the persisted session state: enough to restore placement
// continuity across a process restart within the same install.
type Snapshot struct {
	SessionID string       `json:"session_id"`
	SavedAt   time.Time    `json:"saved_at"`
	Reference pose.Pose    `json:"reference"`
	Items     []ItemRecord `json:"items"`
}

// Store reads and writes the session file. A corrupt or missing file is
// treated as an absent session, never as an error the caller must handle.
type Store struct {
	path      string
	sessionID string
}

// NewStore builds a store writing to path.
func NewStore(path string) *Store {
	return &Store{
		path:      path,
		sessionID: uuid.NewString(),
	}
}

// SessionID returns the identifier stamped on snapshots from this process.
func (s *Store) SessionID() string { return s.sessionID }

// Save writes a snapshot atomically: the JSON goes to a temp file in the
// same directory, then renames over the target.
func (s *Store) Save(reference pose.Pose, items []ItemRecord) error {
	snapshot := Snapshot{
		SessionID: s.sessionID,
		SavedAt:   time.Now(),
		Reference: reference,
		Items:     items,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".groundframe-session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot. Missing and corrupt files both return
// (nil, nil): the session proceeds as a cold start, and a corrupt file is
// deleted so it cannot poison the next start either.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Printf("[Session] discarding corrupt session file %s: %v", s.path, err)
		_ = os.Remove(s.path)
		return nil, nil
	}
	return &snapshot, nil
}

// Delete removes the session file; called on clean exit when the session is
// not configured to persist.
func (s *Store) Delete() {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Session] failed to delete session file %s: %v", s.path, err)
	}
}
