// Package settingssync implements a concrete three-way JSON-settings
// merge strategy against internal/sync: the reference resource
// synchronizer used by the CLI and by tests.
package settingssync

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	syncpkg "usersync/internal/sync"
)

// CurrentVersion is the schema version this strategy's content uses.
const CurrentVersion uint32 = 1

// Strategy synchronizes a flat string-keyed settings map, stored as the
// envelope's content field (a minified JSON object).
type Strategy struct {
	// MachineID identifies this machine in written envelopes and is
	// used to answer Preview.IsLastSyncFromCurrentMachine.
	MachineID string
}

// New constructs a Strategy for machineID.
func New(machineID string) *Strategy {
	return &Strategy{MachineID: machineID}
}

func (s *Strategy) Version() uint32 { return CurrentVersion }

type settings map[string]string

func decodeSettings(content string) (settings, error) {
	if content == "" {
		return settings{}, nil
	}
	var m settings
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = settings{}
	}
	return m, nil
}

func encodeSettings(m settings) (string, error) {
	if m == nil {
		m = settings{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func settingsEqual(a, b settings) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// preview is this strategy's sync.Preview implementation.
type preview struct {
	hasLocalChanged  bool
	hasRemoteChanged bool
	hasConflicts     bool
	fromThisMachine  bool
	remote           syncpkg.RemoteUserData
	lastSync         *syncpkg.LastSyncUserData

	localSnapshot *syncpkg.FileSnapshot
	merged        settings
	conflicts     []syncpkg.Conflict
}

func (p *preview) HasLocalChanged() bool            { return p.hasLocalChanged }
func (p *preview) HasRemoteChanged() bool           { return p.hasRemoteChanged }
func (p *preview) HasConflicts() bool               { return p.hasConflicts }
func (p *preview) IsLastSyncFromCurrentMachine() bool { return p.fromThisMachine }
func (p *preview) RemoteUserData() syncpkg.RemoteUserData      { return p.remote }
func (p *preview) LastSyncUserData() *syncpkg.LastSyncUserData { return p.lastSync }
func (p *preview) Conflicts() []syncpkg.Conflict                { return p.conflicts }

func ancestorSettings(lastSync *syncpkg.LastSyncUserData) (settings, error) {
	if lastSync == nil || lastSync.SyncData == nil {
		return settings{}, nil
	}
	return decodeSettings(lastSync.SyncData.Content)
}

func remoteSettings(remote syncpkg.RemoteUserData) (settings, error) {
	if remote.SyncData == nil {
		return settings{}, nil
	}
	return decodeSettings(remote.SyncData.Content)
}

func localSettings(ctx context.Context, h *syncpkg.Handle) (settings, *syncpkg.FileSnapshot, error) {
	content, snap, err := h.GetLocalFileContent(ctx)
	if err != nil {
		if errors.Is(err, syncpkg.ErrFileNotFound) {
			return settings{}, nil, nil
		}
		return nil, nil, err
	}
	m, err := decodeSettings(string(content))
	if err != nil {
		return nil, nil, err
	}
	return m, snap, nil
}

// threeWayMerge computes the merged settings map and whether any key
// conflicts: both local and remote changed that key away from the
// ancestor, to different values.
func threeWayMerge(ancestor, local, remote settings) (settings, bool) {
	merged := settings{}
	conflicted := false

	keys := map[string]struct{}{}
	for k := range ancestor {
		keys[k] = struct{}{}
	}
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range remote {
		keys[k] = struct{}{}
	}

	for k := range keys {
		av, aok := ancestor[k]
		lv, lok := local[k]
		rv, rok := remote[k]

		localChanged := lok != aok || lv != av
		remoteChanged := rok != aok || rv != av

		switch {
		case !localChanged && !remoteChanged:
			if aok {
				merged[k] = av
			}
		case localChanged && !remoteChanged:
			if lok {
				merged[k] = lv
			}
		case !localChanged && remoteChanged:
			if rok {
				merged[k] = rv
			}
		default:
			if lok && rok && lv == rv {
				merged[k] = lv
				continue
			}
			conflicted = true
			if lok {
				merged[k] = lv
			}
		}
	}
	return merged, conflicted
}

func (s *Strategy) buildPreview(ctx context.Context, h *syncpkg.Handle, remote syncpkg.RemoteUserData, lastSync *syncpkg.LastSyncUserData) (*preview, error) {
	ancestor, err := ancestorSettings(lastSync)
	if err != nil {
		return nil, syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "parse last-sync settings", err)
	}
	remoteMap, err := remoteSettings(remote)
	if err != nil {
		return nil, syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "parse remote settings", err)
	}
	localMap, localSnap, err := localSettings(ctx, h)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	merged, conflicted := threeWayMerge(ancestor, localMap, remoteMap)

	p := &preview{
		hasLocalChanged:  !settingsEqual(localMap, ancestor),
		hasRemoteChanged: !settingsEqual(remoteMap, ancestor),
		hasConflicts:     conflicted,
		fromThisMachine:  lastSync != nil && lastSync.SyncData != nil && lastSync.SyncData.MachineID == s.MachineID,
		remote:           remote,
		lastSync:         lastSync,
		localSnapshot:    localSnap,
		merged:           merged,
	}

	if conflicted {
		localRef, err := h.BackupLocal(ctx, syncpkg.SyncData{Version: s.Version(), Content: mustEncode(localMap)})
		if err != nil {
			return nil, err
		}
		remoteRef := remote.Ref
		localURI := syncpkg.NewLocalHandle(h.Resource(), localRef, time.Now())
		remoteURI := syncpkg.NewRemoteHandle(h.Resource(), remoteRef, time.Now())
		p.conflicts = []syncpkg.Conflict{{Local: localURI.URI, Remote: remoteURI.URI}}
	}

	return p, nil
}

func (s *Strategy) GeneratePreview(ctx context.Context, h *syncpkg.Handle, remote syncpkg.RemoteUserData, lastSync *syncpkg.LastSyncUserData) (syncpkg.Preview, error) {
	return s.buildPreview(ctx, h, remote, lastSync)
}

// GeneratePullPreview force-overwrites local from remote: every key
// that differs is treated as a remote-side change, so no conflict is
// ever produced.
func (s *Strategy) GeneratePullPreview(ctx context.Context, h *syncpkg.Handle, remote syncpkg.RemoteUserData, lastSync *syncpkg.LastSyncUserData) (syncpkg.Preview, error) {
	remoteMap, err := remoteSettings(remote)
	if err != nil {
		return nil, syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "parse remote settings", err)
	}
	localMap, localSnap, err := localSettings(ctx, h)
	if err != nil {
		return nil, err
	}
	return &preview{
		hasLocalChanged:  !settingsEqual(localMap, remoteMap),
		hasRemoteChanged: false,
		remote:           remote,
		lastSync:         lastSync,
		localSnapshot:    localSnap,
		merged:           remoteMap,
	}, nil
}

// GeneratePushPreview force-overwrites remote from local, symmetric to
// GeneratePullPreview.
func (s *Strategy) GeneratePushPreview(ctx context.Context, h *syncpkg.Handle, remote syncpkg.RemoteUserData, lastSync *syncpkg.LastSyncUserData) (syncpkg.Preview, error) {
	remoteMap, err := remoteSettings(remote)
	if err != nil {
		return nil, syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "parse remote settings", err)
	}
	localMap, localSnap, err := localSettings(ctx, h)
	if err != nil {
		return nil, err
	}
	return &preview{
		hasLocalChanged:  false,
		hasRemoteChanged: !settingsEqual(localMap, remoteMap),
		remote:           remote,
		lastSync:         lastSync,
		localSnapshot:    localSnap,
		merged:           localMap,
	}, nil
}

// GenerateReplacePreview replaces the resource with content resolved
// from an external handle.
func (s *Strategy) GenerateReplacePreview(ctx context.Context, h *syncpkg.Handle, content syncpkg.SyncData, remote syncpkg.RemoteUserData, lastSync *syncpkg.LastSyncUserData) (syncpkg.Preview, error) {
	replacement, err := decodeSettings(content.Content)
	if err != nil {
		return nil, syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "parse replacement settings", err)
	}
	_, localSnap, err := localSettings(ctx, h)
	if err != nil {
		return nil, err
	}
	return &preview{
		hasLocalChanged:  true,
		hasRemoteChanged: true,
		remote:           remote,
		lastSync:         lastSync,
		localSnapshot:    localSnap,
		merged:           replacement,
	}, nil
}

// UpdatePreviewWithConflict incorporates the user's resolution (raw
// JSON settings text read from conflictURI's content) into preview,
// clearing conflicts once the resolution is applied.
func (s *Strategy) UpdatePreviewWithConflict(ctx context.Context, h *syncpkg.Handle, p syncpkg.Preview, conflictURI string, content string) (syncpkg.Preview, error) {
	sp, ok := p.(*preview)
	if !ok {
		return nil, syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "preview is not a settings preview", nil)
	}
	resolved := *sp
	if content == "" {
		return &resolved, nil
	}
	merged, err := decodeSettings(content)
	if err != nil {
		return nil, syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "parse conflict resolution", err)
	}
	resolved.merged = merged
	resolved.hasConflicts = false
	resolved.conflicts = nil
	return &resolved, nil
}

// ApplyPreview commits preview's merged settings to the local file and
// the remote store, backs the committed envelope up locally, then
// records the new last-sync record. It is the only method that writes
// the local file, the remote store, or the last-sync record; buildPreview
// also writes a local backup when it finds a conflict.
func (s *Strategy) ApplyPreview(ctx context.Context, h *syncpkg.Handle, p syncpkg.Preview, forcePush bool) error {
	sp, ok := p.(*preview)
	if !ok {
		return syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "preview is not a settings preview", nil)
	}

	mergedContent, err := encodeSettings(sp.merged)
	if err != nil {
		return syncpkg.NewError(syncpkg.KindIncompatible, h.Resource(), "encode merged settings", err)
	}

	if sp.hasLocalChanged || sp.hasRemoteChanged || forcePush {
		if _, err := h.UpdateLocalFileContent(ctx, []byte(mergedContent), sp.localSnapshot); err != nil {
			return err
		}
	}

	env := syncpkg.SyncData{Version: s.Version(), MachineID: s.MachineID, Content: mergedContent}
	ifMatch := ""
	if sp.remote.SyncData != nil {
		ifMatch = sp.remote.Ref
	}
	rud, err := h.UpdateRemoteUserData(ctx, env, ifMatch)
	if err != nil {
		return err
	}

	if _, err := h.BackupLocal(ctx, env); err != nil {
		return err
	}

	return h.UpdateLastSyncUserData(ctx, syncpkg.LastSyncUserData{Ref: rud.Ref, SyncData: rud.SyncData})
}

func mustEncode(m settings) string {
	data, err := encodeSettings(m)
	if err != nil {
		return "{}"
	}
	return data
}

// SortedKeys returns m's keys in sorted order, for deterministic rendering.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
