package syncctl

import (
	syncpkg "usersync/internal/sync"
	"usersync/pkg/logging"
)

// loggingObserver forwards every engine signal to structured logging, so
// a syncctl invocation leaves a trail even though it has no long-lived
// UI to render status changes into.
type loggingObserver struct{}

func (loggingObserver) OnSyncStatusChanged(resource syncpkg.Resource, status syncpkg.Status) {
	logging.Info("SyncEngine", "%s: status -> %s", resource, status)
}

func (loggingObserver) OnConflictsChanged(resource syncpkg.Resource, conflicts []syncpkg.Conflict) {
	logging.Info("SyncEngine", "%s: %d open conflict(s)", resource, len(conflicts))
}

func (loggingObserver) OnLocalChange(resource syncpkg.Resource) {
	logging.Debug("SyncEngine", "%s: local change needs a real sync", resource)
}

func (loggingObserver) OnTelemetryEvent(resource syncpkg.Resource, name string) {
	logging.TelemetryEvent("SyncEngine", name, map[string]string{"resource": string(resource)})
}
