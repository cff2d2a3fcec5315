// Package store persists the trailing-state document and the append-only
// closed-positions log as JSON under a data directory.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jAjiz/BoTC/types"
)

const (
	stateFile  = "trailing_state.json"
	closedFile = "closed_positions.jsonl"
)

// Store owns the on-disk trailing state. The state document is only ever
// rewritten whole, via atomic replace, so concurrent readers never observe
// a torn file.
type Store struct {
	dir string
}

// New creates the data directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) statePath() string {
	return filepath.Join(s.dir, stateFile)
}

func (s *Store) closedPath() string {
	return filepath.Join(s.dir, closedFile)
}

// Load reads the persisted state document. A missing or unreadable file is
// non-fatal and yields an empty state; the caller decides whether to log.
func (s *Store) Load() (types.State, error) {
	raw, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return types.State{}, nil
		}
		return types.State{}, err
	}
	var state types.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return types.State{}, err
	}
	if state == nil {
		state = types.State{}
	}
	return state, nil
}

// Save atomically rewrites the state document: write to a temp file in the
// same directory, fsync, rename over the old file.
func (s *Store) Save(state types.State) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, stateFile+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.statePath())
}

// IsProcessed reports whether a fill id is already part of any position in
// the pair scope, merged or originating. This is the ingestion idempotence
// guard.
func IsProcessed(fillID string, pairState types.PairState) bool {
	for _, pos := range pairState {
		for _, id := range pos.OpeningOrder {
			if id == fillID {
				return true
			}
		}
	}
	return false
}

// AppendClosed appends one record to the closed-positions log.
func (s *Store) AppendClosed(pos *types.Position, posID, closingOrderID, pair string) error {
	record := types.ClosedPosition{
		Pair:         pair,
		ID:           posID,
		ClosingOrder: closingOrderID,
		Position:     *pos,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal closed position: %w", err)
	}

	f, err := os.OpenFile(s.closedPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadClosed loads every record of the closed-positions log, oldest first.
func (s *Store) ReadClosed() ([]types.ClosedPosition, error) {
	raw, err := os.ReadFile(s.closedPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []types.ClosedPosition
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var rec types.ClosedPosition
		if err := dec.Decode(&rec); err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
