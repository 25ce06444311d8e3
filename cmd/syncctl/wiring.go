package syncctl

import (
	"net/http"
	"path/filepath"
	"time"

	"usersync/internal/localstore"
	"usersync/internal/remotestore"
	"usersync/internal/settingssync"
	syncpkg "usersync/internal/sync"
)

// buildEngine wires one engine instance for flagResource against
// flagSyncHome/flagRemoteURL, exactly the collaborators a real usersync
// deployment would supply: a filesystem-backed local store, an
// HTTP-backed remote store, and the settings reference strategy.
func buildEngine() (*syncpkg.Engine, error) {
	machineID, err := localstore.MachineID(flagSyncHome)
	if err != nil {
		return nil, err
	}

	resource := syncpkg.Resource(flagResource)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	cfg := syncpkg.EngineConfig{
		Resource:  resource,
		Strategy:  settingssync.New(machineID),
		Remote:    remotestore.NewClient(flagRemoteURL, httpClient),
		Local:     localstore.NewBackup(flagSyncHome),
		Files:     localstore.NewFiles(),
		FilePath:  filepath.Join(flagSyncHome, flagResource, flagResource+".json"),
		SyncHome:  flagSyncHome,
		Observers: []syncpkg.Observer{loggingObserver{}},
	}
	return syncpkg.NewEngine(cfg), nil
}
