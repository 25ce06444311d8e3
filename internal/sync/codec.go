package sync

import (
	"encoding/json"
	"fmt"
)

// envelopeWire is the exact wire shape accepted for a SyncData
// envelope. machineId is tagged omitempty so Encode never emits it for
// machine-less envelopes, matching the {version,content} legacy shape.
type envelopeWire struct {
	Version   uint32 `json:"version"`
	MachineID string `json:"machineId,omitempty"`
	Content   string `json:"content"`
}

// Encode serializes env to its canonical envelope JSON.
func Encode(env SyncData) ([]byte, error) {
	return json.Marshal(envelopeWire{Version: env.Version, MachineID: env.MachineID, Content: env.Content})
}

// Decode parses envelope JSON, accepting only the two recognized
// shapes: {version,content} or {version,machineId,content}. Any other
// key set is a parse failure: additional keys mean an incompatible
// envelope, not an envelope to merge around.
func Decode(data []byte) (SyncData, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return SyncData{}, fmt.Errorf("sync: malformed envelope: %w", err)
	}

	if _, ok := raw["version"]; !ok {
		return SyncData{}, fmt.Errorf("sync: envelope missing version")
	}
	if _, ok := raw["content"]; !ok {
		return SyncData{}, fmt.Errorf("sync: envelope missing content")
	}
	allowed := map[string]bool{"version": true, "content": true, "machineId": true}
	for key := range raw {
		if !allowed[key] {
			return SyncData{}, fmt.Errorf("sync: envelope has unrecognized key %q", key)
		}
	}

	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return SyncData{}, fmt.Errorf("sync: malformed envelope: %w", err)
	}
	return SyncData{Version: wire.Version, MachineID: wire.MachineID, Content: wire.Content}, nil
}
