package store

import (
	"encoding/json"
	"os"

	"github.com/spf13/afero"
)

// Progress is the periodically-saved progress tracker: the set of
// completed checkpoints and running counters. Saved atomically every 30s
// of activity by the caller (the store itself does not run a timer; the
// orchestrator decides cadence).
type Progress struct {
	CompletedCheckpoints []uint64       `json:"completed_checkpoints"`
	Counters             map[string]int `json:"counters"`
}

func (s *Store) progressPath() string {
	return s.path("progress", "state.json")
}

// LoadProgress reads the persisted progress file, returning a zero-valued
// Progress if none exists yet.
func (s *Store) LoadProgress() (Progress, error) {
	raw, err := afero.ReadFile(s.fs, s.progressPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Progress{Counters: map[string]int{}}, nil
		}
		return Progress{}, wrapIO(s.progressPath(), err)
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return Progress{Counters: map[string]int{}}, nil
	}
	if p.Counters == nil {
		p.Counters = map[string]int{}
	}
	return p, nil
}

// SaveProgress atomically writes p, creating the progress directory if
// needed.
func (s *Store) SaveProgress(p Progress) error {
	dir := s.path("progress")
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return wrapIO(dir, err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := atomicWrite(s.fs, s.progressPath(), raw); err != nil {
		return wrapIO(s.progressPath(), err)
	}
	return nil
}
