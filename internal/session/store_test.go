package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/groundframe/client/internal/pose"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore(path)

	reference := pose.Pose{Position: pose.Vec3{X: 1, Z: 2}, Rotation: pose.FromAxisAngle(pose.Vec3{Y: 1}, 45)}
	items := []ItemRecord{
		{Key: "chunk_0_0", Home: pose.Pose{Position: pose.Vec3{X: 3}, Rotation: pose.Identity()}, Stable: true},
		{Key: "chunk_1_0", Home: pose.Pose{Position: pose.Vec3{X: 9}, Rotation: pose.Identity()}},
	}
	if err := store.Save(reference, items); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	snapshot, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if snapshot == nil {
		t.Fatalf("expected a snapshot")
	}
	if snapshot.SessionID != store.SessionID() {
		t.Fatalf("expected session id %s, got %s", store.SessionID(), snapshot.SessionID)
	}
	if snapshot.Reference != reference {
		t.Fatalf("reference changed across round trip: %v", snapshot.Reference)
	}
	if len(snapshot.Items) != 2 || snapshot.Items[0].Key != "chunk_0_0" || !snapshot.Items[0].Stable {
		t.Fatalf("items changed across round trip: %#v", snapshot.Items)
	}
	if snapshot.SavedAt.IsZero() {
		t.Fatalf("expected save timestamp")
	}
}

func TestLoadMissingFileIsColdStart(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	snapshot, err := store.Load()
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if snapshot != nil {
		t.Fatalf("expected nil snapshot, got %#v", snapshot)
	}
}

func TestLoadCorruptFileIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to seed corrupt file: %v", err)
	}

	store := NewStore(path)
	snapshot, err := store.Load()
	if err != nil {
		t.Fatalf("corrupt file must not error: %v", err)
	}
	if snapshot != nil {
		t.Fatalf("expected nil snapshot, got %#v", snapshot)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("corrupt file must be removed, stat err %v", err)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	store := NewStore(path)

	if err := store.Save(pose.Pose{Rotation: pose.Identity()}, nil); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	second := pose.Pose{Position: pose.Vec3{X: 7}, Rotation: pose.Identity()}
	if err := store.Save(second, nil); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	snapshot, err := store.Load()
	if err != nil || snapshot == nil {
		t.Fatalf("expected latest snapshot, got %#v err %v", snapshot, err)
	}
	if snapshot.Reference != second {
		t.Fatalf("expected second reference, got %v", snapshot.Reference)
	}

	// No temp files may survive the rename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "session.json" {
		t.Fatalf("expected only the session file, got %v", entries)
	}
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore(path)
	if err := store.Save(pose.Pose{Rotation: pose.Identity()}, nil); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	store.Delete()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err %v", err)
	}

	// Deleting a missing file is quiet.
	store.Delete()
}
