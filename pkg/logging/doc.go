// Package logging provides the structured, subsystem-tagged logging used
// throughout usersync. It wraps log/slog with a small level type and a
// TelemetryEvent helper for the named pings the sync engine emits
// (conflictsDetected, conflictsResolved, sync/incompatible, ...).
//
// Usage:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("SyncEngine", "starting sync for %s", resource)
//	logging.Error("SyncEngine", err, "pull failed for %s", resource)
package logging
