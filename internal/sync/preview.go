package sync

import "context"

// armCancel derives a cancellable context for one public operation
// (Sync/Pull/Push/Replace) and records its cancel func so a concurrent
// Stop() can cancel whatever strategy call is in flight, regardless of
// which precondition-retry attempt it's on. epoch lets disarmCancel
// avoid clobbering a cancel func a later, unrelated operation has since
// installed.
func (e *Engine) armCancel(ctx context.Context) (context.Context, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armCancelLocked(ctx)
}

// armCancelLocked is armCancel for callers that already hold e.mu (so
// the cancel func is installed atomically with the status transition
// into Syncing).
func (e *Engine) armCancelLocked(ctx context.Context) (context.Context, int) {
	derived, cancel := context.WithCancel(ctx)
	e.previewCancel = cancel
	e.previewEpoch++
	return derived, e.previewEpoch
}

// disarmCancel clears the cancel func installed by armCancel, unless a
// later operation has since replaced it.
func (e *Engine) disarmCancel(epoch int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.previewEpoch == epoch {
		e.previewCancel = nil
	}
}

// clearPreview nulls the in-flight preview future and cancels its
// context, if any. Callers must hold e.mu.
func (e *Engine) clearPreview() {
	if e.previewCancel != nil {
		e.previewCancel()
	}
	e.previewCancel = nil
	e.preview = nil
	e.previewEpoch++
}
