package sync

import "context"

// RemoteStore is the consumed remote-store contract. Headers supplied
// to Engine.Sync are threaded through ctx for the duration of that one
// call; implementations read them with HeadersFromContext.
type RemoteStore interface {
	// Read fetches the current envelope for resource. lastSyncRef, when
	// non-empty, is sent as a conditional marker (e.g. If-None-Match) so
	// an unchanged resource can be served cheaply. A nil content with ref
	// equal to a non-empty lastSyncRef means the resource is unchanged
	// since that ref, and the engine reuses its last-sync envelope;
	// otherwise nil content means the resource does not exist remotely.
	Read(ctx context.Context, resource Resource, lastSyncRef string) (ref string, content []byte, err error)

	// Write stores envelopeJSON as the new value of resource. ifMatchRef
	// is the ref the caller last observed; empty means "must not yet
	// exist". Implementations must fail with a *Error{Kind:
	// KindPreconditionFailed} if ifMatchRef no longer matches the
	// server's current ref.
	Write(ctx context.Context, resource Resource, envelopeJSON []byte, ifMatchRef string) (ref string, err error)

	ResolveContent(ctx context.Context, resource Resource, ref string) ([]byte, error)
	GetAllRefs(ctx context.Context, resource Resource) ([]RefEntry, error)
}

// LocalBackupStore is the consumed local-backup-store contract.
type LocalBackupStore interface {
	// Backup persists envelopeJSON as a new, store-assigned ref.
	Backup(ctx context.Context, resource Resource, envelopeJSON []byte) (ref string, err error)
	ResolveContent(ctx context.Context, resource Resource, ref string) ([]byte, error)
	GetAllRefs(ctx context.Context, resource Resource) ([]RefEntry, error)
}

// FileSnapshot is an opaque version token for a file's observed state:
// modtime plus size, as returned by os.Stat.
type FileSnapshot struct {
	ModTime int64 // unix nanoseconds
	Size    int64
}

// Equal reports whether two snapshots refer to the same observed file
// state.
func (s FileSnapshot) Equal(o FileSnapshot) bool {
	return s.ModTime == o.ModTime && s.Size == o.Size
}

// FileChangeOp classifies one fsnotify-derived event.
type FileChangeOp int

const (
	FileCreated FileChangeOp = iota
	FileUpdated
	FileDeleted
)

// FileChangeEvent is one change to a watched path, translated one-for-one
// from a raw file-system event; events are not merged.
type FileChangeEvent struct {
	Path string
	Op   FileChangeOp
}

// FileAccessor is the consumed file-service contract: read, write,
// create, delete, and watch.
type FileAccessor interface {
	// ReadFile returns the file's bytes and a snapshot of its state as
	// observed at read time. Returns a wrapped ErrFileNotFound if the
	// file does not exist.
	ReadFile(ctx context.Context, path string) ([]byte, *FileSnapshot, error)

	// WriteFile conditionally overwrites path. If oldSnapshot is
	// non-nil, the write only proceeds if the file's current state
	// still matches it (otherwise a wrapped ErrFileModifiedSince is
	// returned); if oldSnapshot is nil, the write only proceeds if the
	// file does not yet exist (otherwise ErrFileModifiedSince).
	WriteFile(ctx context.Context, path string, data []byte, oldSnapshot *FileSnapshot) (*FileSnapshot, error)

	// CreateFile writes path unconditionally when overwrite is true, or
	// only if absent when overwrite is false.
	CreateFile(ctx context.Context, path string, data []byte, overwrite bool) (*FileSnapshot, error)

	// Overwrite writes path unconditionally, used for files exclusively
	// owned by one engine instance (last-sync records, preview scratch
	// files) where no concurrent writer can race it.
	Overwrite(ctx context.Context, path string, data []byte) error

	Delete(ctx context.Context, path string) error

	// Watch starts watching dir, delivering one change event per raw
	// file-system event (events are not merged) on the returned channel
	// until the stop func is called or ctx is done.
	Watch(ctx context.Context, dir string) (events <-chan FileChangeEvent, stop func() error, err error)
}

// Handle is the set of engine utility primitives a Strategy receives
// instead of inheriting them from an abstract base. One Handle is bound
// to one Engine/resource pair and is only valid for the duration of the
// strategy call it was passed to.
type Handle struct {
	engine *Engine
}

// Resource returns the resource this handle's engine instance owns.
func (h *Handle) Resource() Resource { return h.engine.resource }

// UpdateRemoteUserData writes env to the remote store with the given
// If-Match ref (empty meaning "must not yet exist") and returns the
// resulting RemoteUserData.
func (h *Handle) UpdateRemoteUserData(ctx context.Context, env SyncData, ifMatchRef string) (RemoteUserData, error) {
	payload, err := Encode(env)
	if err != nil {
		return RemoteUserData{}, newError(KindIncompatible, h.engine.resource, "encode envelope", err)
	}
	ref, err := h.engine.remote.Write(ctx, h.engine.resource, payload, ifMatchRef)
	if err != nil {
		return RemoteUserData{}, err
	}
	return RemoteUserData{Ref: ref, SyncData: &env}, nil
}

// UpdateLastSyncUserData persists last as this engine's last-sync
// record.
func (h *Handle) UpdateLastSyncUserData(ctx context.Context, last LastSyncUserData) error {
	return h.engine.saveLastSync(ctx, last)
}

// BackupLocal copies env into the local backup store and returns the
// store-assigned ref, so a strategy can name the snapshot in a
// conflict's local handle URI.
func (h *Handle) BackupLocal(ctx context.Context, env SyncData) (string, error) {
	payload, err := Encode(env)
	if err != nil {
		return "", newError(KindIncompatible, h.engine.resource, "encode envelope", err)
	}
	return h.engine.local.Backup(ctx, h.engine.resource, payload)
}

// GetLocalFileContent reads the resource's backing file. Only valid for
// file-backed engines (FilePath non-empty).
func (h *Handle) GetLocalFileContent(ctx context.Context) ([]byte, *FileSnapshot, error) {
	if h.engine.filePath == "" {
		return nil, nil, newError(KindIncompatible, h.engine.resource, "resource is not file-backed", nil)
	}
	return h.engine.files.ReadFile(ctx, h.engine.filePath)
}

// UpdateLocalFileContent conditionally writes the resource's backing
// file, translating FileNotFound/FileModifiedSince into
// KindLocalPreconditionFailed to drive performSync's retry loop.
func (h *Handle) UpdateLocalFileContent(ctx context.Context, content []byte, oldSnapshot *FileSnapshot) (*FileSnapshot, error) {
	if h.engine.filePath == "" {
		return nil, newError(KindIncompatible, h.engine.resource, "resource is not file-backed", nil)
	}
	snap, err := h.engine.files.WriteFile(ctx, h.engine.filePath, content, oldSnapshot)
	if err != nil {
		return nil, h.engine.translateFileError(err)
	}
	return snap, nil
}

// Strategy supplies the per-resource merge logic the engine is
// otherwise generic over. Implementations receive a Handle bound to the
// engine instance calling them and must honor ctx cancellation promptly
// inside the Generate* methods.
type Strategy interface {
	// Version is the schema version of this strategy's content.
	// Envelopes with a greater version are incompatible.
	Version() uint32

	GeneratePreview(ctx context.Context, h *Handle, remote RemoteUserData, lastSync *LastSyncUserData) (Preview, error)
	GeneratePullPreview(ctx context.Context, h *Handle, remote RemoteUserData, lastSync *LastSyncUserData) (Preview, error)
	GeneratePushPreview(ctx context.Context, h *Handle, remote RemoteUserData, lastSync *LastSyncUserData) (Preview, error)
	GenerateReplacePreview(ctx context.Context, h *Handle, content SyncData, remote RemoteUserData, lastSync *LastSyncUserData) (Preview, error)

	// UpdatePreviewWithConflict incorporates a user-supplied conflict
	// resolution (read from conflictURI) into preview.
	UpdatePreviewWithConflict(ctx context.Context, h *Handle, preview Preview, conflictURI string, content string) (Preview, error)

	// ApplyPreview commits preview to local and remote. It is the only
	// place that calls Handle.UpdateLocalFileContent,
	// Handle.UpdateRemoteUserData, and Handle.UpdateLastSyncUserData.
	// Handle.BackupLocal is not limited to it: the Generate* methods may
	// call it too (settingssync does, to name a conflict's local snapshot).
	ApplyPreview(ctx context.Context, h *Handle, preview Preview, forcePush bool) error
}
