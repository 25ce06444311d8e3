package sync

// Observer receives the engine's status, conflict, local-change, and
// telemetry signals: plain methods on a registered listener instead of
// a framework-owned event bus. Delivery is synchronous and same-goroutine
// as the call that produced the signal; implementations must not block.
type Observer interface {
	// OnSyncStatusChanged fires exactly once per status transition,
	// never for a no-op (status set to its current value).
	OnSyncStatusChanged(resource Resource, status Status)

	// OnConflictsChanged fires whenever the conflict list is replaced
	// wholesale (on entering HasConflicts, and on any exit from it,
	// where the list becomes empty).
	OnConflictsChanged(resource Resource, conflicts []Conflict)

	// OnLocalChange fires from the local-change coalescer when the
	// speculative preview built after a debounced file event (with the
	// last-sync record as its remote view) reports HasRemoteChanged,
	// signaling the outer orchestrator that a real sync is warranted.
	OnLocalChange(resource Resource)

	// OnTelemetryEvent fires named pings (conflictsDetected,
	// conflictsResolved, sync/incompatible) without the engine itself
	// depending on a telemetry sink.
	OnTelemetryEvent(resource Resource, name string)
}

// setStatus performs the one status transition allowed at a time,
// firing OnSyncStatusChanged exactly once plus the entry/exit telemetry
// pings, and clearing the conflict list on any exit from HasConflicts.
// Callers must hold e.mu.
func (e *Engine) setStatus(next Status) {
	prev := e.status
	if prev == next {
		return
	}
	e.status = next
	for _, obs := range e.observers {
		obs.OnSyncStatusChanged(e.resource, next)
	}

	switch {
	case next == HasConflicts:
		for _, obs := range e.observers {
			obs.OnTelemetryEvent(e.resource, "conflictsDetected")
		}
	case prev == HasConflicts:
		e.setConflicts(nil)
		for _, obs := range e.observers {
			obs.OnTelemetryEvent(e.resource, "conflictsResolved")
		}
	}
}

// setConflicts replaces the conflict list and notifies observers,
// unless the new list is equal to the current one. Callers must hold
// e.mu. Conflict events must be visible to observers before the status
// transition into HasConflicts completes, so callers set conflicts
// before calling setStatus(HasConflicts).
func (e *Engine) setConflicts(conflicts []Conflict) {
	if conflictsEqual(e.conflicts, conflicts) {
		return
	}
	e.conflicts = conflicts
	for _, obs := range e.observers {
		obs.OnConflictsChanged(e.resource, conflicts)
	}
}
