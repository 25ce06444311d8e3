package sync

import (
	"context"
	"path/filepath"

	"usersync/pkg/logging"
)

// Start begins watching this engine's backing file (if any) and wires
// its change events into the local-change coalescer. It is a no-op for
// non-file-backed resources.
func (e *Engine) Start(ctx context.Context) error {
	if e.filePath == "" {
		return nil
	}
	dir := filepath.Dir(e.filePath)
	events, stop, err := e.files.Watch(ctx, dir)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.watchStop = stop
	e.mu.Unlock()
	go e.watchLoop(events)
	return nil
}

// Close stops the coalescer timer and the directory watch, if any.
func (e *Engine) Close() error {
	e.coalescer.stop()
	e.mu.Lock()
	stop := e.watchStop
	e.watchStop = nil
	e.mu.Unlock()
	if stop != nil {
		return stop()
	}
	return nil
}

func (e *Engine) watchLoop(events <-chan FileChangeEvent) {
	want := filepath.Clean(e.filePath)
	for ev := range events {
		if filepath.Clean(ev.Path) != want {
			continue
		}
		e.coalescer.schedule()
	}
}

// onLocalChangeDebounced is the coalescer's single-shot task: it
// decides, after a debounce window has elapsed with no further file
// events, whether the engine needs to re-sync.
func (e *Engine) onLocalChangeDebounced() {
	ctx := context.Background()

	e.mu.Lock()
	status := e.status
	existing := e.preview
	e.mu.Unlock()

	if status == HasConflicts {
		var remote RemoteUserData
		var lastSync *LastSyncUserData
		if existing != nil {
			remote = existing.RemoteUserData()
			lastSync = existing.LastSyncUserData()
		} else {
			lastSync, _ = e.loadLastSync(ctx)
			remote, _ = e.fetchRemote(ctx, lastSync)
		}
		e.mu.Lock()
		e.clearPreview()
		e.mu.Unlock()

		opCtx, epoch := e.armCancel(ctx)
		if err := e.performSync(opCtx, remote, lastSync, 0); err != nil {
			logging.Warn("SyncEngine", "local-change re-sync failed for %s: %v", e.resource, err)
		}
		e.disarmCancel(epoch)
		return
	}

	// Speculative: reuse the last-sync record as the remote view rather
	// than issuing a live fetch, so a local-only change never touches
	// the network. A real remote change is only discovered once the
	// outer orchestrator runs a real sync in response to OnLocalChange.
	lastSync, _ := e.loadLastSync(ctx)
	remote := RemoteUserData{}
	if lastSync != nil {
		remote = RemoteUserData{Ref: lastSync.Ref, SyncData: lastSync.SyncData}
	}

	opCtx, epoch := e.armCancel(ctx)
	defer e.disarmCancel(epoch)
	preview, err := e.strategy.GeneratePreview(opCtx, e.handle(), remote, lastSync)
	if err != nil {
		e.cancelledToIdle(err)
		logging.Warn("SyncEngine", "local-change speculative preview failed for %s: %v", e.resource, err)
		return
	}
	e.mu.Lock()
	e.preview = preview
	e.mu.Unlock()

	if preview.HasRemoteChanged() {
		for _, obs := range e.snapshotObservers() {
			obs.OnLocalChange(e.resource)
		}
	}
}

// TriggerLocalChange is the hook a file watcher (or a test) calls to
// simulate/force a debounced local-change task run.
func (e *Engine) TriggerLocalChange() {
	e.coalescer.schedule()
}
