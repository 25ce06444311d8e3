// Package localstore provides filesystem-backed implementations of the
// collaborator contracts internal/sync consumes: the local backup
// store, the file accessor used for both the resource file and the
// last-sync record, and machine-id provisioning.
package localstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"usersync/internal/sync"
	"usersync/pkg/logging"
)

// Files implements sync.FileAccessor against the local filesystem,
// surfacing os.ErrNotExist and a file-modified-since condition the way
// sync.ErrFileNotFound/sync.ErrFileModifiedSince expect.
type Files struct {
	mu       sync.Mutex
	watchers []*fsnotify.Watcher
}

// NewFiles constructs a Files accessor.
func NewFiles() *Files {
	return &Files{}
}

// Close closes every watcher opened via Watch. Safe to call once at
// process shutdown.
func (f *Files) Close() error {
	f.mu.Lock()
	watchers := f.watchers
	f.watchers = nil
	f.mu.Unlock()

	var firstErr error
	for _, w := range watchers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func statSnapshot(info os.FileInfo) sync.FileSnapshot {
	return sync.FileSnapshot{ModTime: info.ModTime().UnixNano(), Size: info.Size()}
}

// ReadFile reads path and returns its content and snapshot.
func (f *Files) ReadFile(ctx context.Context, path string) ([]byte, *sync.FileSnapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, sync.ErrFileNotFound
		}
		return nil, nil, fmt.Errorf("localstore: stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, sync.ErrFileNotFound
		}
		return nil, nil, fmt.Errorf("localstore: read %s: %w", path, err)
	}
	snap := statSnapshot(info)
	return data, &snap, nil
}

// WriteFile writes data to path, conditional on oldSnapshot: nil means
// "the file must not already exist", non-nil means "the file must still
// match oldSnapshot".
func (f *Files) WriteFile(ctx context.Context, path string, data []byte, oldSnapshot *sync.FileSnapshot) (*sync.FileSnapshot, error) {
	info, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("localstore: stat %s: %w", path, statErr)
	}

	if oldSnapshot == nil {
		if exists {
			return nil, sync.ErrFileModifiedSince
		}
	} else {
		if !exists {
			return nil, sync.ErrFileNotFound
		}
		if !statSnapshot(info).Equal(*oldSnapshot) {
			return nil, sync.ErrFileModifiedSince
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("localstore: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("localstore: write %s: %w", path, err)
	}
	newInfo, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("localstore: stat after write %s: %w", path, err)
	}
	snap := statSnapshot(newInfo)
	return &snap, nil
}

// CreateFile creates path with data. When overwrite is false, an
// existing file is treated as a conflict.
func (f *Files) CreateFile(ctx context.Context, path string, data []byte, overwrite bool) (*sync.FileSnapshot, error) {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, sync.ErrFileModifiedSince
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("localstore: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("localstore: create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("localstore: stat after create %s: %w", path, err)
	}
	snap := statSnapshot(info)
	return &snap, nil
}

// Overwrite writes data to path unconditionally, used for engine-owned
// files (the last-sync record, the preview scratch file).
func (f *Files) Overwrite(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("localstore: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("localstore: overwrite %s: %w", path, err)
	}
	return nil
}

// Delete removes path, reporting sync.ErrFileNotFound if it's already
// gone.
func (f *Files) Delete(ctx context.Context, path string) error {
	err := os.Remove(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sync.ErrFileNotFound
		}
		return fmt.Errorf("localstore: delete %s: %w", path, err)
	}
	return nil
}

// Watch watches dir for changes with fsnotify: one watcher per call,
// raw Create/Write/Remove/Rename events translated to
// sync.FileChangeEvent. Collapsing a burst of events (Create+Write,
// Write+Remove, and so on) into a single signal is left to the
// coalescer upstream, since sync.Engine only needs to know "something
// happened to this path".
func (f *Files) Watch(ctx context.Context, dir string) (<-chan sync.FileChangeEvent, func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("localstore: mkdir watch dir %s: %w", dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("localstore: new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("localstore: watch %s: %w", dir, err)
	}

	f.mu.Lock()
	f.watchers = append(f.watchers, watcher)
	f.mu.Unlock()

	events := make(chan sync.FileChangeEvent)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				op, ok := translateOp(ev.Op)
				if !ok {
					continue
				}
				select {
				case events <- sync.FileChangeEvent{Path: ev.Name, Op: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("LocalFiles", "watcher error for %s: %v", dir, err)
			}
		}
	}()

	stop := func() error {
		return watcher.Close()
	}
	return events, stop, nil
}

func translateOp(op fsnotify.Op) (sync.FileChangeOp, bool) {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return sync.FileCreated, true
	case op&fsnotify.Write == fsnotify.Write:
		return sync.FileUpdated, true
	case op&fsnotify.Remove == fsnotify.Remove, op&fsnotify.Rename == fsnotify.Rename:
		return sync.FileDeleted, true
	default:
		return 0, false
	}
}

// MachineID returns the stable machine identifier recorded at
// <syncHome>/machineId, generating and persisting a uuid v4 the first
// time it's needed.
func MachineID(syncHome string) (string, error) {
	path := filepath.Join(syncHome, "machineId")
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("localstore: read machine id: %w", err)
	}

	id := newUUID()
	if err := os.MkdirAll(syncHome, 0o755); err != nil {
		return "", fmt.Errorf("localstore: mkdir sync home: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("localstore: persist machine id: %w", err)
	}
	return id, nil
}

func newUUID() string {
	return uuid.NewString()
}
