package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/osint-platform/crawler-core/pkg/failure"
	"github.com/osint-platform/crawler-core/pkg/fileutil"
)

/*
Responsibilities
- Persist a resumable snapshot of visited/frontier/stats under state_dir
- Restore that snapshot on startup when resumable is set
- Never fail the crawl on checkpoint I/O: writes and reads are best-effort

Output Characteristics
- One rolling {run_id}.checkpoint.json written during the run
- One {run_id}.json written at graceful stop / finalize
- Both removed on successful completion
*/

// Store persists and restores crawl snapshots under a single state
// directory, one pair of files per run id.
type Store struct {
	stateDir string
}

// NewStore binds a Store to stateDir; the directory is created lazily
// on first write, not here.
func NewStore(stateDir string) Store {
	return Store{stateDir: stateDir}
}

func (s Store) checkpointPath(runID string) string {
	return filepath.Join(s.stateDir, runID+".checkpoint.json")
}

func (s Store) finalPath(runID string) string {
	return filepath.Join(s.stateDir, runID+".json")
}

// SaveCheckpoint writes the rolling in-progress snapshot. A write
// failure is reported but must never halt the crawl; callers should
// log it and continue.
func (s Store) SaveCheckpoint(runID string, snap Snapshot) failure.ClassifiedError {
	snap.SchemaVersion = schemaVersion
	snap.RunID = runID
	return s.write(s.checkpointPath(runID), snap)
}

// SaveFinal writes the terminal snapshot (options and errors included)
// at graceful stop or finalize, before any resumable cleanup runs.
func (s Store) SaveFinal(runID string, snap Snapshot) failure.ClassifiedError {
	snap.SchemaVersion = schemaVersion
	snap.RunID = runID
	return s.write(s.finalPath(runID), snap)
}

func (s Store) write(path string, snap Snapshot) failure.ClassifiedError {
	if err := fileutil.EnsureDir(s.stateDir); err != nil {
		return &CheckpointError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: s.stateDir}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &CheckpointError{Message: err.Error(), Cause: ErrCauseEncodeFailure, Path: path}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &CheckpointError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: path}
	}
	return nil
}

// Load restores the most relevant snapshot for runID: the rolling
// checkpoint if present, otherwise the final state file. ok is false
// on any I/O or parse failure ("no state"), never an error the caller
// must handle - per the checkpoint store's failure-handling contract a
// failed read just means the run initializes normally.
func (s Store) Load(runID string) (Snapshot, bool) {
	if snap, ok := s.read(s.checkpointPath(runID)); ok {
		return snap, true
	}
	return s.read(s.finalPath(runID))
}

func (s Store) read(path string) (Snapshot, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// Delete removes both the rolling checkpoint and final state files for
// runID. Called after a successful, non-resumed-needed completion.
// Missing files are not an error.
func (s Store) Delete(runID string) {
	_ = os.Remove(s.checkpointPath(runID))
	_ = os.Remove(s.finalPath(runID))
}
