package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	syncpkg "usersync/internal/sync"
)

func TestFilesReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	files := NewFiles()
	path := filepath.Join(dir, "settings.json")

	snap, err := files.WriteFile(context.Background(), path, []byte("v1"), nil)
	if err != nil {
		t.Fatalf("initial WriteFile: %v", err)
	}

	data, gotSnap, err := files.ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("content = %q, want v1", data)
	}
	if !gotSnap.Equal(*snap) {
		t.Fatalf("snapshot mismatch: %+v vs %+v", gotSnap, snap)
	}

	if _, err := files.WriteFile(context.Background(), path, []byte("v2"), nil); err != syncpkg.ErrFileModifiedSince {
		t.Fatalf("expected ErrFileModifiedSince writing over existing file with nil snapshot, got %v", err)
	}

	if _, err := files.WriteFile(context.Background(), path, []byte("v2"), snap); err != nil {
		t.Fatalf("conditional WriteFile with matching snapshot: %v", err)
	}
}

func TestFilesReadMissing(t *testing.T) {
	dir := t.TempDir()
	files := NewFiles()
	_, _, err := files.ReadFile(context.Background(), filepath.Join(dir, "absent.json"))
	if err != syncpkg.ErrFileNotFound {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestFilesDeleteMissing(t *testing.T) {
	dir := t.TempDir()
	files := NewFiles()
	err := files.Delete(context.Background(), filepath.Join(dir, "absent.json"))
	if err != syncpkg.ErrFileNotFound {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestMachineIDPersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	first, err := MachineID(dir)
	if err != nil {
		t.Fatalf("MachineID: %v", err)
	}
	if first == "" {
		t.Fatal("MachineID returned empty id")
	}

	second, err := MachineID(dir)
	if err != nil {
		t.Fatalf("MachineID (second call): %v", err)
	}
	if first != second {
		t.Fatalf("MachineID not stable: %q vs %q", first, second)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "machineId"))
	if err != nil {
		t.Fatalf("read machineId file: %v", err)
	}
	if string(raw) != first {
		t.Fatalf("persisted id %q != returned id %q", raw, first)
	}
}
