package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"usersync/pkg/logging"
)

const defaultDebounceInterval = 50 * time.Millisecond
const defaultMaxPreconditionRetries = 8

// EngineConfig bundles the per-resource collaborators and knobs needed
// to build one Engine instance.
type EngineConfig struct {
	Resource Resource
	Strategy Strategy
	Remote   RemoteStore
	Local    LocalBackupStore
	Files    FileAccessor // required: last-sync persistence always needs file I/O
	FilePath string       // non-empty for file-backed resources; enables watching

	SyncHome string

	// Enabled reports the resource-enablement flag. Nil means always
	// enabled.
	Enabled func() bool

	// DebounceInterval is the local-change coalescer's delay. Zero means
	// the default of 50ms.
	DebounceInterval time.Duration

	// MaxPreconditionRetries caps performSync's retry loop as a safety
	// backstop against a remote that never converges. Zero means the
	// default of 8.
	MaxPreconditionRetries int

	Observers []Observer
}

// Engine is the per-resource synchronization engine: it runs the
// three-way reconciliation driver, owns the status machine and the
// single in-flight preview future, and (for file-backed resources) the
// local-change coalescer.
type Engine struct {
	resource Resource
	strategy Strategy
	remote   RemoteStore
	local    LocalBackupStore
	files    FileAccessor
	filePath string
	syncHome string
	enabled  func() bool

	maxPreconditionRetries int
	debounceInterval       time.Duration

	mu            sync.Mutex
	status        Status
	conflicts     []Conflict
	preview       Preview
	previewCancel context.CancelFunc
	previewEpoch  int
	observers     []Observer

	coalescer *coalescer
	watchStop func() error
}

// NewEngine constructs an Engine from cfg. The engine is Idle and
// unwatched until Start is called (for file-backed resources).
func NewEngine(cfg EngineConfig) *Engine {
	enabled := cfg.Enabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	debounce := cfg.DebounceInterval
	if debounce <= 0 {
		debounce = defaultDebounceInterval
	}
	retries := cfg.MaxPreconditionRetries
	if retries <= 0 {
		retries = defaultMaxPreconditionRetries
	}

	e := &Engine{
		resource:               cfg.Resource,
		strategy:               cfg.Strategy,
		remote:                 cfg.Remote,
		local:                  cfg.Local,
		files:                  cfg.Files,
		filePath:               cfg.FilePath,
		syncHome:               cfg.SyncHome,
		enabled:                enabled,
		debounceInterval:       debounce,
		maxPreconditionRetries: retries,
		observers:              append([]Observer(nil), cfg.Observers...),
	}
	e.coalescer = newCoalescer(debounce, e.onLocalChangeDebounced)
	return e
}

// Subscribe registers an additional observer.
func (e *Engine) Subscribe(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

// Status returns the engine's current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Conflicts returns the current conflict list.
func (e *Engine) Conflicts() []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Conflict(nil), e.conflicts...)
}

func (e *Engine) handle() *Handle { return &Handle{engine: e} }

func (e *Engine) previewScratchPath() string {
	return filepath.Join(e.syncHome, string(e.resource), "preview"+titleCase(string(e.resource))+".json")
}

// resetToIdle cancels any in-flight preview and returns to Idle,
// without touching the filesystem. Shared by Stop and by Sync's disabled
// branch, which must still drop whatever preview state it was holding
// even though it skips Stop's own I/O.
func (e *Engine) resetToIdle() {
	e.mu.Lock()
	e.clearPreview()
	e.setStatus(Idle)
	e.mu.Unlock()
}

// Stop cancels any in-flight preview and returns to Idle. File-backed
// variants additionally delete their on-disk preview scratch file,
// ignoring not-found. A disabled engine is already at rest, so Stop is
// a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	e.resetToIdle()

	if e.filePath != "" {
		if err := e.files.Delete(ctx, e.previewScratchPath()); err != nil && !errors.Is(err, ErrFileNotFound) {
			logging.Warn("SyncEngine", "failed to clean up preview scratch file for %s: %v", e.resource, err)
		}
	}
	return nil
}

// fetchRemote issues a fresh remote read, using lastSync's ref as a
// conditional marker when present.
func (e *Engine) fetchRemote(ctx context.Context, lastSync *LastSyncUserData) (RemoteUserData, error) {
	lastRef := ""
	if lastSync != nil {
		lastRef = lastSync.Ref
	}
	ref, content, err := e.remote.Read(ctx, e.resource, lastRef)
	if err != nil {
		return RemoteUserData{}, newError(KindNetwork, e.resource, "fetch remote", err)
	}
	if content == nil {
		if lastRef != "" && ref == lastRef {
			// Unchanged since the last sync: its envelope is still current.
			return RemoteUserData{Ref: ref, SyncData: lastSync.SyncData}, nil
		}
		return RemoteUserData{Ref: ref}, nil
	}
	env, err := Decode(content)
	if err != nil {
		return RemoteUserData{}, newError(KindIncompatible, e.resource, "parse remote envelope", err)
	}
	return RemoteUserData{Ref: ref, SyncData: &env}, nil
}

// resolveRemoteForSync short-circuits a fresh remote fetch when the
// manifest already names the last-synced ref as current, or when
// neither side has ever seen this resource.
func (e *Engine) resolveRemoteForSync(ctx context.Context, manifest Manifest, lastSync *LastSyncUserData) (RemoteUserData, error) {
	if lastSync != nil {
		latestRef, known := manifest.Latest[e.resource]
		sameRef := known && latestRef == lastSync.Ref
		absentBoth := !known && lastSync.SyncData == nil
		if sameRef || absentBoth {
			return RemoteUserData{Ref: lastSync.Ref, SyncData: lastSync.SyncData}, nil
		}
	}
	return e.fetchRemote(ctx, lastSync)
}

// HasPreviouslySynced reports whether a last-sync record exists. A
// disabled engine reports false without touching local state.
func (e *Engine) HasPreviouslySynced(ctx context.Context) (bool, error) {
	if !e.enabled() {
		return false, nil
	}
	last, err := e.loadLastSync(ctx)
	if err != nil {
		return false, err
	}
	return last != nil, nil
}

// ResetLocal deletes the last-sync record, ignoring not-found. A
// disabled engine leaves local state untouched.
func (e *Engine) ResetLocal(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	return e.deleteLastSync(ctx)
}

// GetMachineID returns the originating machine id recorded on a
// remote-backup handle's envelope, if any. Only defined for
// remote-backup handles.
func (e *Engine) GetMachineID(ctx context.Context, h SyncResourceHandle) (string, error) {
	if !IsRemoteHandle(h.URI) {
		return "", newError(KindIncompatible, e.resource, "machine id only defined for remote-backup handles", nil)
	}
	ref, err := RefFromHandle(h.URI)
	if err != nil {
		return "", err
	}
	content, err := e.remote.ResolveContent(ctx, e.resource, ref)
	if err != nil {
		return "", err
	}
	env, err := Decode(content)
	if err != nil {
		return "", newError(KindIncompatible, e.resource, "parse handle envelope", err)
	}
	return env.MachineID, nil
}

// ResolveContent returns the raw envelope/content text a handle names:
// the stored envelope for remote handles, the local backup store's copy
// for local-backup handles, nil with no error for anything else.
func (e *Engine) ResolveContent(ctx context.Context, h SyncResourceHandle) ([]byte, error) {
	ref, err := RefFromHandle(h.URI)
	if err != nil {
		return nil, err
	}
	switch {
	case IsRemoteHandle(h.URI):
		return e.remote.ResolveContent(ctx, e.resource, ref)
	case IsLocalHandle(h.URI):
		return e.local.ResolveContent(ctx, e.resource, ref)
	default:
		return nil, nil
	}
}

// GetRemoteSyncResourceHandles lists every ref the remote store has for
// this resource, wrapped as handle URIs.
func (e *Engine) GetRemoteSyncResourceHandles(ctx context.Context) ([]SyncResourceHandle, error) {
	refs, err := e.remote.GetAllRefs(ctx, e.resource)
	if err != nil {
		return nil, err
	}
	handles := make([]SyncResourceHandle, 0, len(refs))
	for _, r := range refs {
		handles = append(handles, NewRemoteHandle(e.resource, r.Ref, r.Created))
	}
	return handles, nil
}

// GetLocalSyncResourceHandles lists every ref the local backup store has
// for this resource, wrapped as handle URIs.
func (e *Engine) GetLocalSyncResourceHandles(ctx context.Context) ([]SyncResourceHandle, error) {
	refs, err := e.local.GetAllRefs(ctx, e.resource)
	if err != nil {
		return nil, err
	}
	handles := make([]SyncResourceHandle, 0, len(refs))
	for _, r := range refs {
		handles = append(handles, NewLocalHandle(e.resource, r.Ref, r.Created))
	}
	return handles, nil
}

// GenerateSyncPreview is a read-only peek: it returns nil if disabled,
// else produces a fresh preview without applying it or touching engine
// state.
func (e *Engine) GenerateSyncPreview(ctx context.Context) (Preview, error) {
	if !e.enabled() {
		return nil, nil
	}
	lastSync, err := e.loadLastSync(ctx)
	if err != nil {
		return nil, err
	}
	remote, err := e.fetchRemote(ctx, lastSync)
	if err != nil {
		return nil, err
	}
	return e.strategy.GeneratePreview(ctx, e.handle(), remote, lastSync)
}

// cancelledToIdle is the shared "cancellation is not an error; silent"
// handling: it clears the preview future, returns to Idle, and reports
// whether err was in fact a cancellation (in which case the caller
// should swallow it rather than propagate it).
func (e *Engine) cancelledToIdle(err error) (wasCancelled bool) {
	e.mu.Lock()
	e.clearPreview()
	e.setStatus(Idle)
	e.mu.Unlock()
	return errors.Is(err, context.Canceled)
}

// Pull force-overwrites local from remote. A disabled engine makes no
// remote or local call.
func (e *Engine) Pull(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	if err := e.Stop(ctx); err != nil {
		return err
	}
	opCtx, epoch := e.armCancel(ctx)
	defer e.disarmCancel(epoch)
	e.mu.Lock()
	e.setStatus(Syncing)
	e.mu.Unlock()

	lastSync, _ := e.loadLastSync(opCtx)
	remote, err := e.fetchRemote(opCtx, lastSync)
	if err != nil {
		e.mu.Lock()
		e.setStatus(Idle)
		e.mu.Unlock()
		return err
	}

	preview, err := e.strategy.GeneratePullPreview(opCtx, e.handle(), remote, lastSync)
	if err != nil {
		if e.cancelledToIdle(err) {
			return nil
		}
		return err
	}
	e.mu.Lock()
	e.preview = preview
	e.mu.Unlock()
	return e.applyAndFinish(opCtx, preview, false)
}

// Push force-overwrites remote from local, symmetric to Pull. A
// disabled engine makes no remote or local call.
func (e *Engine) Push(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	if err := e.Stop(ctx); err != nil {
		return err
	}
	opCtx, epoch := e.armCancel(ctx)
	defer e.disarmCancel(epoch)
	e.mu.Lock()
	e.setStatus(Syncing)
	e.mu.Unlock()

	lastSync, _ := e.loadLastSync(opCtx)
	remote, err := e.fetchRemote(opCtx, lastSync)
	if err != nil {
		e.mu.Lock()
		e.setStatus(Idle)
		e.mu.Unlock()
		return err
	}

	preview, err := e.strategy.GeneratePushPreview(opCtx, e.handle(), remote, lastSync)
	if err != nil {
		if e.cancelledToIdle(err) {
			return nil
		}
		return err
	}
	e.mu.Lock()
	e.preview = preview
	e.mu.Unlock()
	return e.applyAndFinish(opCtx, preview, true)
}

// Replace replaces the resource from the content a handle names. A
// disabled engine makes no remote or local call.
func (e *Engine) Replace(ctx context.Context, h SyncResourceHandle) (bool, error) {
	if !e.enabled() {
		return false, nil
	}
	content, err := e.ResolveContent(ctx, h)
	if err != nil || content == nil {
		return false, nil
	}
	env, err := Decode(content)
	if err != nil {
		return false, nil
	}

	if err := e.Stop(ctx); err != nil {
		return false, err
	}
	opCtx, epoch := e.armCancel(ctx)
	defer e.disarmCancel(epoch)
	e.mu.Lock()
	e.setStatus(Syncing)
	e.mu.Unlock()

	lastSync, _ := e.loadLastSync(opCtx)
	remote, err := e.fetchRemote(opCtx, lastSync)
	if err != nil {
		e.mu.Lock()
		e.setStatus(Idle)
		e.mu.Unlock()
		return false, err
	}

	preview, err := e.strategy.GenerateReplacePreview(opCtx, e.handle(), env, remote, lastSync)
	if err != nil {
		if e.cancelledToIdle(err) {
			return false, nil
		}
		return false, err
	}
	e.mu.Lock()
	e.preview = preview
	e.mu.Unlock()
	if err := e.applyAndFinish(opCtx, preview, false); err != nil {
		return false, err
	}
	return true, nil
}

// AcceptConflict only acts if the current preview still has conflicts:
// it asks the strategy to merge the user's resolution in, then applies
// and returns to Idle once conflicts are gone. A disabled engine makes
// no remote or local call.
func (e *Engine) AcceptConflict(ctx context.Context, conflictURI string, content string) error {
	if !e.enabled() {
		return nil
	}
	e.mu.Lock()
	preview := e.preview
	e.mu.Unlock()
	if preview == nil || !preview.HasConflicts() {
		return nil
	}

	updated, err := e.strategy.UpdatePreviewWithConflict(ctx, e.handle(), preview, conflictURI, content)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.preview = updated
	e.mu.Unlock()

	if updated.HasConflicts() {
		e.mu.Lock()
		e.setConflicts(updated.Conflicts())
		e.mu.Unlock()
		return nil
	}
	return e.applyAndFinish(ctx, updated, false)
}

// commitPreview commits preview via the strategy and clears the preview
// future, but leaves the status transition to the caller: performSync's
// retry loop must not surface an Idle status mid-retry. The operation's
// context is not cancelled here, since a precondition retry keeps using
// it. The strategy is given a context with cancellation stripped, since
// once a write has started it must complete even if Stop() is called
// mid-apply.
func (e *Engine) commitPreview(ctx context.Context, preview Preview, forcePush bool) error {
	applyCtx := context.WithoutCancel(ctx)
	err := e.strategy.ApplyPreview(applyCtx, e.handle(), preview, forcePush)
	e.mu.Lock()
	e.preview = nil
	e.mu.Unlock()
	return err
}

// applyAndFinish is commitPreview for the non-retrying entry points
// (Pull/Push/Replace/AcceptConflict): it always returns to Idle once
// the strategy's apply attempt is done, whether it succeeded or failed.
func (e *Engine) applyAndFinish(ctx context.Context, preview Preview, forcePush bool) error {
	err := e.commitPreview(ctx, preview, forcePush)
	e.mu.Lock()
	e.setStatus(Idle)
	e.mu.Unlock()
	return err
}

// Sync is the normal periodic entry point.
func (e *Engine) Sync(ctx context.Context, manifest Manifest, headers map[string]string) error {
	ctx = WithHeaders(ctx, headers)

	if !e.enabled() {
		e.resetToIdle()
		return nil
	}

	e.mu.Lock()
	if e.status == Syncing || e.status == HasConflicts {
		e.mu.Unlock()
		return nil
	}
	opCtx, epoch := e.armCancelLocked(ctx)
	e.setStatus(Syncing)
	e.mu.Unlock()
	defer e.disarmCancel(epoch)

	lastSync, _ := e.loadLastSync(opCtx)
	remote, err := e.resolveRemoteForSync(opCtx, manifest, lastSync)
	if err != nil {
		e.mu.Lock()
		e.setStatus(Idle)
		e.mu.Unlock()
		return err
	}

	return e.performSync(opCtx, remote, lastSync, 0)
}

// performSync is the optimistic-concurrency retry loop: it retries the
// reconciliation step against a freshly fetched remote whenever a
// precondition check fails, up to maxPreconditionRetries.
func (e *Engine) performSync(ctx context.Context, remote RemoteUserData, lastSync *LastSyncUserData, attempt int) error {
	if remote.SyncData != nil && remote.SyncData.Version > e.strategy.Version() {
		e.mu.Lock()
		e.setStatus(Idle)
		e.mu.Unlock()
		for _, obs := range e.snapshotObservers() {
			obs.OnTelemetryEvent(e.resource, "sync/incompatible")
		}
		return newError(KindIncompatible, e.resource, "remote envelope version exceeds strategy version", nil)
	}

	status, err := e.doSync(ctx, remote, lastSync)
	if err == nil {
		e.mu.Lock()
		e.setStatus(status)
		e.mu.Unlock()
		return nil
	}

	if attempt >= e.maxPreconditionRetries &&
		(IsKind(err, KindPreconditionFailed) || IsKind(err, KindLocalPreconditionFailed)) {
		e.mu.Lock()
		e.setStatus(Idle)
		e.mu.Unlock()
		return newError(KindTooManyRetries, e.resource, "exceeded precondition retry limit", ErrTooManyRetries)
	}

	switch {
	case IsKind(err, KindLocalPreconditionFailed):
		return e.performSync(ctx, remote, lastSync, attempt+1)
	case IsKind(err, KindPreconditionFailed):
		newLastSync, _ := e.loadLastSync(ctx)
		newRemote, ferr := e.fetchRemote(ctx, newLastSync)
		if ferr != nil {
			e.mu.Lock()
			e.setStatus(Idle)
			e.mu.Unlock()
			return ferr
		}
		return e.performSync(ctx, newRemote, newLastSync, attempt+1)
	default:
		if e.cancelledToIdle(err) {
			return nil
		}
		e.mu.Lock()
		e.setStatus(Idle)
		e.mu.Unlock()
		return err
	}
}

// doSync is the single reconciliation step.
func (e *Engine) doSync(ctx context.Context, remote RemoteUserData, lastSync *LastSyncUserData) (Status, error) {
	e.mu.Lock()
	preview := e.preview
	e.mu.Unlock()

	if preview == nil {
		var err error
		preview, err = e.strategy.GeneratePreview(ctx, e.handle(), remote, lastSync)
		if err != nil {
			if e.cancelledToIdle(err) {
				return Idle, nil
			}
			e.mu.Lock()
			e.clearPreview()
			e.mu.Unlock()
			return Idle, err
		}
		e.mu.Lock()
		e.preview = preview
		e.mu.Unlock()
	}

	if preview.HasConflicts() {
		e.mu.Lock()
		e.setConflicts(preview.Conflicts())
		e.mu.Unlock()
		return HasConflicts, nil
	}

	if ctx.Err() != nil {
		e.cancelledToIdle(ctx.Err())
		return Idle, nil
	}

	err := e.commitPreview(ctx, preview, false)
	return Idle, err
}

func (e *Engine) snapshotObservers() []Observer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Observer(nil), e.observers...)
}

func (e *Engine) translateFileError(err error) error {
	switch {
	case errors.Is(err, ErrFileNotFound):
		return newError(KindLocalPreconditionFailed, e.resource, "local file not found", err)
	case errors.Is(err, ErrFileModifiedSince):
		return newError(KindLocalPreconditionFailed, e.resource, "local file modified since snapshot", err)
	default:
		return err
	}
}
