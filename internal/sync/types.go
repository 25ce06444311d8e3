// Package sync implements the per-resource synchronization engine: a
// three-way reconciliation loop between a local resource, a remote
// store, and the last successfully synchronized snapshot of it.
//
// The package defines the engine's contracts (RemoteStore,
// LocalBackupStore, FileAccessor, Strategy) as interfaces. Concrete
// implementations live in internal/remotestore, internal/localstore,
// and internal/settingssync; this package never imports them.
package sync

import (
	"encoding/json"
	"net/url"
	"time"
)

// Resource names one kind of synchronized user state. The engine never
// branches on its value; it only appears in paths, handle URIs, and log
// fields.
type Resource string

// Status is the engine's observable state machine value.
type Status int

const (
	Idle Status = iota
	Syncing
	HasConflicts
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Syncing:
		return "Syncing"
	case HasConflicts:
		return "HasConflicts"
	default:
		return "Unknown"
	}
}

// SyncData is the versioned envelope wrapping opaque, strategy-owned
// content. It round-trips through Encode/Decode in codec.go, which
// reject any shape other than {version,content} or
// {version,machineId,content}.
type SyncData struct {
	Version   uint32
	MachineID string // empty means absent
	Content   string
}

// RemoteUserData is the remote store's view of a resource at a point in
// time. SyncData is nil when the resource does not exist remotely.
type RemoteUserData struct {
	Ref      string
	SyncData *SyncData
}

// LastSyncUserData is the locally persisted record of the most recent
// successfully applied sync: the ref it was synced at, the envelope as
// it stood then (nil meaning "remote was absent at last sync"), and an
// open-ended bag of strategy-specific fields the engine passes through
// verbatim across load/save.
type LastSyncUserData struct {
	Ref      string
	SyncData *SyncData
	// Extras holds strategy-specific fields found alongside ref/content
	// in the persisted record, kept as raw JSON so an engine that
	// doesn't recognize them still round-trips them byte-for-byte.
	Extras map[string]json.RawMessage
}

// Conflict pairs the local and remote versions of one conflicting
// region or resource, both addressed as handle URIs.
type Conflict struct {
	Local  *url.URL
	Remote *url.URL
}

func conflictsEqual(a, b []Conflict) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Local.String() != b[i].Local.String() {
			return false
		}
		if a[i].Remote.String() != b[i].Remote.String() {
			return false
		}
	}
	return true
}

// SyncResourceHandle names a historical version of a resource stored
// remotely or locally.
type SyncResourceHandle struct {
	Created time.Time
	URI     *url.URL
}

// RefEntry is one entry returned by a store's GetAllRefs.
type RefEntry struct {
	Created time.Time
	Ref     string
}

// Preview is the strategy-produced, opaque-to-the-engine result of a
// three-way merge. The engine only ever looks at these flags plus the
// remote/last-sync data it handed the strategy; everything else about a
// concrete preview (loaded file content, merged candidate bytes,
// conflict detail) is strategy-private and reached via a type
// assertion from inside the strategy's own ApplyPreview/
// UpdatePreviewWithConflict.
type Preview interface {
	HasLocalChanged() bool
	HasRemoteChanged() bool
	HasConflicts() bool
	IsLastSyncFromCurrentMachine() bool
	RemoteUserData() RemoteUserData
	LastSyncUserData() *LastSyncUserData
	// Conflicts lists the local/remote handle pairs the status machine
	// exposes while HasConflicts() is true. Empty once resolved.
	Conflicts() []Conflict
}

// Manifest maps a resource to its current server ref, fetched once per
// sync round by the caller and passed into Sync.
type Manifest struct {
	Latest map[Resource]string
}
