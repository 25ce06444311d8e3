package settingssync

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usersync/internal/localstore"
	syncpkg "usersync/internal/sync"
)

func TestThreeWayMergeNoChanges(t *testing.T) {
	ancestor := settings{"a": "1"}
	merged, conflicted := threeWayMerge(ancestor, settings{"a": "1"}, settings{"a": "1"})
	assert.False(t, conflicted)
	assert.True(t, settingsEqual(merged, ancestor))
}

func TestThreeWayMergeLocalOnlyChange(t *testing.T) {
	ancestor := settings{"a": "1"}
	merged, conflicted := threeWayMerge(ancestor, settings{"a": "2"}, settings{"a": "1"})
	assert.False(t, conflicted)
	assert.Equal(t, "2", merged["a"])
}

func TestThreeWayMergeRemoteOnlyChange(t *testing.T) {
	ancestor := settings{"a": "1"}
	merged, conflicted := threeWayMerge(ancestor, settings{"a": "1"}, settings{"a": "3"})
	assert.False(t, conflicted)
	assert.Equal(t, "3", merged["a"])
}

func TestThreeWayMergeSameChangeIsNotAConflict(t *testing.T) {
	ancestor := settings{"a": "1"}
	merged, conflicted := threeWayMerge(ancestor, settings{"a": "2"}, settings{"a": "2"})
	assert.False(t, conflicted, "both sides converging on the same value must not conflict")
	assert.Equal(t, "2", merged["a"])
}

func TestThreeWayMergeDivergentChangeConflicts(t *testing.T) {
	ancestor := settings{"a": "1"}
	merged, conflicted := threeWayMerge(ancestor, settings{"a": "2"}, settings{"a": "3"})
	assert.True(t, conflicted)
	assert.Equal(t, "2", merged["a"], "local value is kept as the provisional side")
}

func TestThreeWayMergeNewKeyAddedByBothSidesEqually(t *testing.T) {
	merged, conflicted := threeWayMerge(settings{}, settings{"a": "1"}, settings{"a": "1"})
	assert.False(t, conflicted)
	assert.Equal(t, "1", merged["a"])
}

func TestThreeWayMergeDeletedKeyWins(t *testing.T) {
	ancestor := settings{"a": "1"}
	merged, conflicted := threeWayMerge(ancestor, settings{}, settings{"a": "1"})
	assert.False(t, conflicted)
	_, ok := merged["a"]
	assert.False(t, ok, "expected key a to stay deleted")
}

// --- integration against a real engine ---------------------------------

type memRemote struct {
	mu      sync.Mutex
	ref     string
	content []byte
	refs    []syncpkg.RefEntry
}

func (r *memRemote) Read(ctx context.Context, resource syncpkg.Resource, lastSyncRef string) (string, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ref, r.content, nil
}

func (r *memRemote) Write(ctx context.Context, resource syncpkg.Resource, envelopeJSON []byte, ifMatchRef string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ifMatchRef != r.ref {
		return "", syncpkg.NewPreconditionFailedError(resource, "ref mismatch", nil)
	}
	if r.ref == "" {
		r.ref = "1"
	} else {
		r.ref = r.ref + "0"
	}
	r.content = envelopeJSON
	return r.ref, nil
}

func (r *memRemote) ResolveContent(ctx context.Context, resource syncpkg.Resource, ref string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content, nil
}

func (r *memRemote) GetAllRefs(ctx context.Context, resource syncpkg.Resource) ([]syncpkg.RefEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs, nil
}

func newTestEngine(t *testing.T, syncHome string, remote *memRemote) *syncpkg.Engine {
	t.Helper()
	resource := syncpkg.Resource("settings")
	return syncpkg.NewEngine(syncpkg.EngineConfig{
		Resource: resource,
		Strategy: New("machine-a"),
		Remote:   remote,
		Local:    localstore.NewBackup(syncHome),
		Files:    localstore.NewFiles(),
		FilePath: filepath.Join(syncHome, string(resource), "settings.json"),
		SyncHome: syncHome,
	})
}

func TestSettingsSyncPushesLocalOnlyChangeToEmptyRemote(t *testing.T) {
	home := t.TempDir()
	remote := &memRemote{}
	e := newTestEngine(t, home, remote)

	files := localstore.NewFiles()
	path := filepath.Join(home, "settings", "settings.json")
	_, err := files.CreateFile(context.Background(), path, []byte(`{"theme":"dark"}`), false)
	require.NoError(t, err)

	require.NoError(t, e.Sync(context.Background(), syncpkg.Manifest{}, nil))
	assert.Equal(t, syncpkg.Idle, e.Status())
	assert.NotNil(t, remote.content, "expected remote to have received the local settings")
}

func TestSettingsSyncDivergentEditsProduceConflict(t *testing.T) {
	home := t.TempDir()
	remote := &memRemote{}
	e := newTestEngine(t, home, remote)

	files := localstore.NewFiles()
	path := filepath.Join(home, "settings", "settings.json")
	_, err := files.CreateFile(context.Background(), path, []byte(`{"theme":"dark"}`), false)
	require.NoError(t, err)
	require.NoError(t, e.Sync(context.Background(), syncpkg.Manifest{}, nil))

	_, snap, err := files.ReadFile(context.Background(), path)
	require.NoError(t, err)
	_, err = files.WriteFile(context.Background(), path, []byte(`{"theme":"light"}`), snap)
	require.NoError(t, err)

	remote.mu.Lock()
	remote.content = []byte(`{"version":1,"machineId":"machine-b","content":"{\"theme\":\"solarized\"}"}`)
	remote.mu.Unlock()

	require.NoError(t, e.Sync(context.Background(), syncpkg.Manifest{}, nil))
	assert.Equal(t, syncpkg.HasConflicts, e.Status())
	assert.Len(t, e.Conflicts(), 1)
}

func TestSortedKeysIsDeterministic(t *testing.T) {
	got := SortedKeys(map[string]string{"c": "1", "a": "2", "b": "3"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
