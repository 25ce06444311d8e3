package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"usersync/pkg/logging"
)

// titleCase upper-cases the first rune of s, used to build the
// lastSync<Resource>.json / preview<Resource>.json filenames.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// lastSyncPath returns <syncHome>/<resource>/lastSync<Resource>.json.
func (e *Engine) lastSyncPath() string {
	return filepath.Join(e.syncHome, string(e.resource), "lastSync"+titleCase(string(e.resource))+".json")
}

// loadLastSync reads and parses the last-sync record. A missing file
// means "no prior sync"; a read or parse failure is logged and treated
// the same way rather than propagated.
func (e *Engine) loadLastSync(ctx context.Context) (*LastSyncUserData, error) {
	raw, _, err := e.files.ReadFile(ctx, e.lastSyncPath())
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return nil, nil
		}
		logging.Warn("SyncEngine", "failed to read last-sync record for %s: %v", e.resource, err)
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		logging.Warn("SyncEngine", "failed to parse last-sync record for %s: %v", e.resource, err)
		return nil, nil
	}

	result := &LastSyncUserData{Extras: map[string]json.RawMessage{}}
	for key, value := range fields {
		switch key {
		case "ref":
			if err := json.Unmarshal(value, &result.Ref); err != nil {
				logging.Warn("SyncEngine", "last-sync record for %s has malformed ref: %v", e.resource, err)
				return nil, nil
			}
		case "content":
			var contentStr *string
			if err := json.Unmarshal(value, &contentStr); err != nil {
				logging.Warn("SyncEngine", "last-sync record for %s has malformed content: %v", e.resource, err)
				return nil, nil
			}
			if contentStr != nil {
				env, err := Decode([]byte(*contentStr))
				if err != nil {
					logging.Warn("SyncEngine", "last-sync record for %s has unparseable envelope: %v", e.resource, err)
					return nil, nil
				}
				result.SyncData = &env
			}
		default:
			result.Extras[key] = value
		}
	}
	return result, nil
}

// saveLastSync serializes last and overwrites the record unconditionally
// (it is owned exclusively by this engine instance, so no concurrent
// writer can race it).
func (e *Engine) saveLastSync(ctx context.Context, last LastSyncUserData) error {
	fields := map[string]json.RawMessage{}
	for key, value := range last.Extras {
		fields[key] = value
	}

	refJSON, err := json.Marshal(last.Ref)
	if err != nil {
		return fmt.Errorf("sync: encode last-sync ref: %w", err)
	}
	fields["ref"] = refJSON

	var contentJSON []byte
	if last.SyncData != nil {
		envelope, err := Encode(*last.SyncData)
		if err != nil {
			return fmt.Errorf("sync: encode last-sync envelope: %w", err)
		}
		contentJSON, err = json.Marshal(string(envelope))
		if err != nil {
			return fmt.Errorf("sync: encode last-sync content: %w", err)
		}
	} else {
		contentJSON = []byte("null")
	}
	fields["content"] = contentJSON

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sync: encode last-sync record: %w", err)
	}
	return e.files.Overwrite(ctx, e.lastSyncPath(), data)
}

// deleteLastSync removes the last-sync record, ignoring not-found, used
// by resetLocal.
func (e *Engine) deleteLastSync(ctx context.Context) error {
	err := e.files.Delete(ctx, e.lastSyncPath())
	if err != nil && !errors.Is(err, ErrFileNotFound) {
		return err
	}
	return nil
}
