package sync

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"
)

// --- fakes -----------------------------------------------------------

type memFile struct {
	data []byte
	snap FileSnapshot
}

type fakeFiles struct {
	mu    sync.Mutex
	files map[string]memFile
	next  int64
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: map[string]memFile{}}
}

func (f *fakeFiles) snapshotFor(data []byte) FileSnapshot {
	f.next++
	return FileSnapshot{ModTime: f.next, Size: int64(len(data))}
}

func (f *fakeFiles) ReadFile(ctx context.Context, path string) ([]byte, *FileSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mf, ok := f.files[path]
	if !ok {
		return nil, nil, ErrFileNotFound
	}
	snap := mf.snap
	return append([]byte(nil), mf.data...), &snap, nil
}

func (f *fakeFiles) WriteFile(ctx context.Context, path string, data []byte, oldSnapshot *FileSnapshot) (*FileSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.files[path]
	if oldSnapshot == nil {
		if ok {
			return nil, ErrFileModifiedSince
		}
	} else {
		if !ok {
			return nil, ErrFileNotFound
		}
		if !existing.snap.Equal(*oldSnapshot) {
			return nil, ErrFileModifiedSince
		}
	}
	snap := f.snapshotFor(data)
	f.files[path] = memFile{data: append([]byte(nil), data...), snap: snap}
	return &snap, nil
}

func (f *fakeFiles) CreateFile(ctx context.Context, path string, data []byte, overwrite bool) (*FileSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; ok && !overwrite {
		return nil, ErrFileModifiedSince
	}
	snap := f.snapshotFor(data)
	f.files[path] = memFile{data: append([]byte(nil), data...), snap: snap}
	return &snap, nil
}

func (f *fakeFiles) Overwrite(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = memFile{data: append([]byte(nil), data...), snap: f.snapshotFor(data)}
	return nil
}

func (f *fakeFiles) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; !ok {
		return ErrFileNotFound
	}
	delete(f.files, path)
	return nil
}

func (f *fakeFiles) Watch(ctx context.Context, dir string) (<-chan FileChangeEvent, func() error, error) {
	ch := make(chan FileChangeEvent)
	return ch, func() error { return nil }, nil
}

type fakeRemote struct {
	mu                 sync.Mutex
	ref                string
	content            []byte
	calls              []string
	injectConflictOnce bool
}

func newFakeRemote(ref string, content []byte) *fakeRemote {
	return &fakeRemote{ref: ref, content: content}
}

func (r *fakeRemote) Read(ctx context.Context, resource Resource, lastSyncRef string) (string, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "GET")
	return r.ref, r.content, nil
}

func (r *fakeRemote) Write(ctx context.Context, resource Resource, envelopeJSON []byte, ifMatchRef string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "POST If-Match:"+ifMatchRef)

	if r.injectConflictOnce {
		r.injectConflictOnce = false
		r.ref = bumpRef(r.ref)
		return "", newError(KindPreconditionFailed, resource, "ref mismatch", nil)
	}
	if ifMatchRef != r.ref {
		return "", newError(KindPreconditionFailed, resource, "ref mismatch", nil)
	}
	r.ref = bumpRef(r.ref)
	r.content = envelopeJSON
	return r.ref, nil
}

func bumpRef(ref string) string {
	switch ref {
	case "":
		return "1"
	case "0":
		return "1"
	case "1":
		return "2"
	default:
		return ref + "0"
	}
}

func (r *fakeRemote) ResolveContent(ctx context.Context, resource Resource, ref string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content, nil
}

func (r *fakeRemote) GetAllRefs(ctx context.Context, resource Resource) ([]RefEntry, error) {
	return nil, nil
}

func (r *fakeRemote) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRemote) resetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

type fakeLocal struct{}

func (fakeLocal) Backup(ctx context.Context, resource Resource, envelopeJSON []byte) (string, error) {
	return "backup-1", nil
}
func (fakeLocal) ResolveContent(ctx context.Context, resource Resource, ref string) ([]byte, error) {
	return nil, nil
}
func (fakeLocal) GetAllRefs(ctx context.Context, resource Resource) ([]RefEntry, error) {
	return nil, nil
}

type fakePreview struct {
	hasConflicts    bool
	hasLocalChange  bool
	hasRemoteChange bool
	conflicts       []Conflict
	remote          RemoteUserData
	lastSync        *LastSyncUserData
}

func (p *fakePreview) HasLocalChanged() bool               { return p.hasLocalChange }
func (p *fakePreview) HasRemoteChanged() bool               { return p.hasRemoteChange }
func (p *fakePreview) HasConflicts() bool                   { return p.hasConflicts }
func (p *fakePreview) IsLastSyncFromCurrentMachine() bool    { return false }
func (p *fakePreview) RemoteUserData() RemoteUserData        { return p.remote }
func (p *fakePreview) LastSyncUserData() *LastSyncUserData   { return p.lastSync }
func (p *fakePreview) Conflicts() []Conflict                 { return p.conflicts }

type mockStrategy struct {
	mu           sync.Mutex
	version      uint32
	barrier      chan struct{}
	hasConflicts bool
	genErr       error
	applyErr     error
	applyCalls   int
	genCalls     int
}

func (m *mockStrategy) Version() uint32 { return m.version }

func (m *mockStrategy) waitBarrier(ctx context.Context) error {
	m.mu.Lock()
	b := m.barrier
	m.mu.Unlock()
	if b == nil {
		return nil
	}
	select {
	case <-b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockStrategy) GeneratePreview(ctx context.Context, h *Handle, remote RemoteUserData, lastSync *LastSyncUserData) (Preview, error) {
	if err := m.waitBarrier(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genCalls++
	if m.genErr != nil {
		return nil, m.genErr
	}
	return &fakePreview{hasConflicts: m.hasConflicts, conflicts: conflictsFor(m.hasConflicts), remote: remote, lastSync: lastSync}, nil
}

func (m *mockStrategy) generateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.genCalls
}

func (m *mockStrategy) GeneratePullPreview(ctx context.Context, h *Handle, remote RemoteUserData, lastSync *LastSyncUserData) (Preview, error) {
	return m.GeneratePreview(ctx, h, remote, lastSync)
}

func (m *mockStrategy) GeneratePushPreview(ctx context.Context, h *Handle, remote RemoteUserData, lastSync *LastSyncUserData) (Preview, error) {
	return m.GeneratePreview(ctx, h, remote, lastSync)
}

func (m *mockStrategy) GenerateReplacePreview(ctx context.Context, h *Handle, content SyncData, remote RemoteUserData, lastSync *LastSyncUserData) (Preview, error) {
	return m.GeneratePreview(ctx, h, remote, lastSync)
}

func (m *mockStrategy) UpdatePreviewWithConflict(ctx context.Context, h *Handle, preview Preview, conflictURI string, content string) (Preview, error) {
	fp := preview.(*fakePreview)
	resolved := *fp
	if content != "" {
		resolved.hasConflicts = false
		resolved.conflicts = nil
	}
	return &resolved, nil
}

func (m *mockStrategy) ApplyPreview(ctx context.Context, h *Handle, preview Preview, forcePush bool) error {
	m.mu.Lock()
	m.applyCalls++
	err := m.applyErr
	m.mu.Unlock()
	if err != nil {
		return err
	}

	fp := preview.(*fakePreview)
	env := SyncData{Version: m.version, Content: "merged"}
	rud, werr := h.UpdateRemoteUserData(ctx, env, fp.remote.Ref)
	if werr != nil {
		return werr
	}
	return h.UpdateLastSyncUserData(ctx, LastSyncUserData{Ref: rud.Ref, SyncData: &env})
}

func conflictsFor(has bool) []Conflict {
	if !has {
		return nil
	}
	local, _ := url.Parse("user-data-sync://local-backup/settings/l1")
	remote, _ := url.Parse("user-data-sync://remote-backup/settings/r1")
	return []Conflict{{Local: local, Remote: remote}}
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []Status
}

func (o *recordingObserver) OnSyncStatusChanged(resource Resource, status Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}
func (o *recordingObserver) OnConflictsChanged(resource Resource, conflicts []Conflict) {}
func (o *recordingObserver) OnLocalChange(resource Resource)                            {}
func (o *recordingObserver) OnTelemetryEvent(resource Resource, name string)            {}

func (o *recordingObserver) snapshot() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Status(nil), o.statuses...)
}

func newTestEngine(t *testing.T, strategy Strategy, remote *fakeRemote) (*Engine, *recordingObserver) {
	t.Helper()
	obs := &recordingObserver{}
	e := NewEngine(EngineConfig{
		Resource:               Resource("settings"),
		Strategy:                strategy,
		Remote:                  remote,
		Local:                   fakeLocal{},
		Files:                   newFakeFiles(),
		SyncHome:                "/sync-home",
		DebounceInterval:        time.Millisecond,
		MaxPreconditionRetries:  8,
		Observers:               []Observer{obs},
	})
	return e, obs
}

// --- scenario tests ----------------------------------------------------

func TestSyncingStatusObservable(t *testing.T) {
	barrier := make(chan struct{})
	strategy := &mockStrategy{version: 1, barrier: barrier}
	remote := newFakeRemote("0", nil)
	e, obs := newTestEngine(t, strategy, remote)

	done := make(chan error, 1)
	go func() { done <- e.Sync(context.Background(), Manifest{}, nil) }()

	waitFor(t, func() bool { return e.Status() == Syncing })
	if got := obs.snapshot(); len(got) != 1 || got[0] != Syncing {
		t.Fatalf("status sequence = %v, want [Syncing]", got)
	}

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-done

	if got := obs.snapshot(); len(got) != 2 || got[0] != Syncing || got[1] != Idle {
		t.Fatalf("status sequence = %v, want [Syncing Idle]", got)
	}
}

func TestCleanSyncFinishesIdle(t *testing.T) {
	strategy := &mockStrategy{version: 1}
	remote := newFakeRemote("0", nil)
	e, obs := newTestEngine(t, strategy, remote)

	if err := e.Sync(context.Background(), Manifest{}, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := obs.snapshot(); len(got) != 2 || got[0] != Syncing || got[1] != Idle {
		t.Fatalf("status sequence = %v, want [Syncing Idle]", got)
	}
	if e.Status() != Idle {
		t.Fatalf("status = %v, want Idle", e.Status())
	}
}

func TestConflictPath(t *testing.T) {
	strategy := &mockStrategy{version: 1, hasConflicts: true}
	remote := newFakeRemote("0", nil)
	e, obs := newTestEngine(t, strategy, remote)

	if err := e.Sync(context.Background(), Manifest{}, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := obs.snapshot(); len(got) != 2 || got[0] != Syncing || got[1] != HasConflicts {
		t.Fatalf("status sequence = %v, want [Syncing HasConflicts]", got)
	}

	before := len(obs.snapshot())
	if err := e.Sync(context.Background(), Manifest{}, nil); err != nil {
		t.Fatalf("re-entrant Sync: %v", err)
	}
	if len(obs.snapshot()) != before {
		t.Fatalf("sync while HasConflicts produced new status events")
	}

	if err := e.AcceptConflict(context.Background(), "user-data-sync://local-backup/settings/l1", "resolved"); err != nil {
		t.Fatalf("AcceptConflict: %v", err)
	}
	if e.Status() != Idle {
		t.Fatalf("status after AcceptConflict = %v, want Idle", e.Status())
	}
}

func TestErrorPath(t *testing.T) {
	strategy := &mockStrategy{version: 1, genErr: newError(KindIncompatible, "settings", "boom", nil)}
	remote := newFakeRemote("0", nil)
	e, obs := newTestEngine(t, strategy, remote)

	if err := e.Sync(context.Background(), Manifest{}, nil); err == nil {
		t.Fatal("expected Sync to fail")
	}
	if got := obs.snapshot(); len(got) != 2 || got[0] != Syncing || got[1] != Idle {
		t.Fatalf("status sequence = %v, want [Syncing Idle]", got)
	}
	e.mu.Lock()
	preview := e.preview
	e.mu.Unlock()
	if preview != nil {
		t.Fatal("preview future not cleared after error")
	}
}

func TestPreconditionFailedRetries(t *testing.T) {
	strategy := &mockStrategy{version: 1}
	remote := newFakeRemote("0", []byte(`{"version":1,"content":"x"}`))
	remote.injectConflictOnce = true
	e, _ := newTestEngine(t, strategy, remote)

	if err := e.Sync(context.Background(), Manifest{}, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	calls := remote.callLog()
	want := []string{"GET", "POST If-Match:0", "GET", "POST If-Match:1"}
	if !equalStrings(calls, want) {
		t.Fatalf("call log = %v, want %v", calls, want)
	}
}

func TestLocalChangeWithoutRemoteChangeMakesNoRequests(t *testing.T) {
	strategy := &mockStrategy{version: 1}
	remote := newFakeRemote("0", nil)
	e, _ := newTestEngine(t, strategy, remote)

	if err := e.Sync(context.Background(), Manifest{}, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	remote.resetCalls()

	e.TriggerLocalChange()
	waitFor(t, func() bool { return len(remote.callLog()) >= 0 })
	time.Sleep(20 * time.Millisecond)

	if calls := remote.callLog(); len(calls) != 0 {
		t.Fatalf("expected no remote calls after local-only change, got %v", calls)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []SyncData{
		{Version: 1, Content: "hello"},
		{Version: 2, MachineID: "m1", Content: "world"},
		{Version: 0, Content: ""},
	}
	for _, env := range cases {
		data, err := Encode(env)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", env, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", data, err)
		}
		if got != env {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, env)
		}
	}
}

func TestDecodeRejectsUnrecognizedShape(t *testing.T) {
	_, err := Decode([]byte(`{"version":1,"content":"x","extra":"y"}`))
	if err == nil {
		t.Fatal("expected decode to reject unrecognized key")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
