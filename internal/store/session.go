package store

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/afero"
)

// SessionSnapshot is the read-only view the core takes of the CLI
// collaborator's persisted session state file (§6). The core never writes
// this file; only LoadSessionSnapshot is implemented here, matching the
// "core only reads it as a snapshot" requirement.
type SessionSnapshot struct {
	Version       int                        `json:"version"`
	Objects       map[string]json.RawMessage `json:"objects"`
	ObjectHistory map[string]json.RawMessage `json:"object_history"`
	Modules       map[string]json.RawMessage `json:"modules"`
	Packages      map[string]json.RawMessage `json:"packages"`
	CoinRegistry  map[string]json.RawMessage `json:"coin_registry"`
	Sender        string                     `json:"sender"`
	IDCounter     uint64                     `json:"id_counter"`
	TimestampMs   uint64                     `json:"timestamp_ms"`
	DynamicFields map[string]json.RawMessage `json:"dynamic_fields"`
	PendingRecv   json.RawMessage            `json:"pending_receives"`
	Config        json.RawMessage            `json:"config"`
	Metadata      json.RawMessage            `json:"metadata"`
	FetcherConfig json.RawMessage            `json:"fetcher_config"`
}

// maxSupportedSessionVersion is the newest session file format this core
// understands; newer files are rejected rather than partially parsed.
const maxSupportedSessionVersion = 1

// LoadSessionSnapshot reads and parses a session state file from fs at
// path. Files with a version newer than this core supports are rejected.
func LoadSessionSnapshot(fs afero.Fs, path string) (SessionSnapshot, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return SessionSnapshot{}, wrapIO(path, err)
	}
	var snap SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return SessionSnapshot{}, err
	}
	if snap.Version > maxSupportedSessionVersion {
		return SessionSnapshot{}, &UnsupportedSessionVersion{Version: snap.Version, MaxSupported: maxSupportedSessionVersion}
	}
	return snap, nil
}

// UnsupportedSessionVersion is returned when a session file declares a
// version newer than this build understands.
type UnsupportedSessionVersion struct {
	Version      int
	MaxSupported int
}

func (e *UnsupportedSessionVersion) Error() string {
	return "store: session file version " + strconv.Itoa(e.Version) + " newer than max supported " + strconv.Itoa(e.MaxSupported)
}
