// Package journal implements the durable symbol -> PositionRecord mapping
// (spec C2): a recovery hint persisted as a single JSON document, rewritten
// in full on each mutation. It performs no locking of its own — callers
// write under the Trade Manager's mutex (spec §3 Ownership, §5).
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/web3guy0/fxengine/internal/position"
)

// Journal is a thin wrapper around a fixed file path.
type Journal struct {
	path string
	log  zerolog.Logger
}

// New returns a Journal backed by path. The parent directory is created
// lazily on first Save.
func New(path string, log zerolog.Logger) *Journal {
	return &Journal{path: path, log: log.With().Str("component", "journal").Logger()}
}

// Load reads the journal file, returning an empty map if it doesn't exist
// yet (first run). A malformed file is a startup error — it is never
// silently discarded, since that would destroy the recovery hint.
func (j *Journal) Load() (map[string]*position.Record, error) {
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return make(map[string]*position.Record), nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return make(map[string]*position.Record), nil
	}

	var records map[string]*position.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = make(map[string]*position.Record)
	}
	return records, nil
}

// Save rewrites the journal in full with the given snapshot. Called under
// the Trade Manager's mutex after every mutation (I4). A failure is
// surfaced as JournalWriteFailed; in-memory state is retained regardless.
func (j *Journal) Save(records map[string]*position.Record) error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return err
	}
	return nil
}
