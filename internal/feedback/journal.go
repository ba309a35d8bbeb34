// Package feedback implements the append-only feedback journal: a JSON
// array of FeedbackEvent records, atomically replaced on every append.
//
// The atomic-write pattern (marshal -> write temp file 0600 -> rename) is
// adapted from the teacher's camouflage hint-file writer, the one place in
// the teacher repo that already solved "never leave a half-written file
// behind" for an operator-facing artifact.
package feedback

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/astraguard/astraguard/internal/decision"
	"github.com/astraguard/astraguard/internal/errs"
)

// Journal is an append-only, atomically-persisted FeedbackEvent log.
type Journal struct {
	mu     sync.Mutex
	path   string
	events []decision.FeedbackEvent
	log    *zap.Logger
}

// Open loads an existing journal from path, or starts a new empty one if
// the file is absent or its contents are not a valid FeedbackEvent array;
// corruption is logged as a warning and never returned as an error, since
// journal state must never block the decision path.
func Open(path string, log *zap.Logger) *Journal {
	j := &Journal{path: path, log: log}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("feedback journal unreadable, starting fresh", zap.String("path", path), zap.Error(err))
		}
		return j
	}

	var events []decision.FeedbackEvent
	if err := json.Unmarshal(data, &events); err != nil {
		log.Warn("feedback journal corrupt, starting fresh", zap.String("path", path), zap.Error(err))
		return j
	}
	j.events = events
	return j
}

// Append adds event and persists the full journal atomically. A write
// failure is returned as a ReportGenerationError for the caller to log;
// it must not be treated as fatal to the decision path.
func (j *Journal) Append(event decision.FeedbackEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, event)
	data, err := json.MarshalIndent(j.events, "", "  ")
	if err != nil {
		return errs.ReportGeneration("feedback.Append", err)
	}
	if err := atomicWrite(j.path, data); err != nil {
		return errs.ReportGeneration("feedback.Append", err)
	}
	return nil
}

// Events returns a defensive copy of all journalled events.
func (j *Journal) Events() []decision.FeedbackEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]decision.FeedbackEvent, len(j.events))
	copy(out, j.events)
	return out
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
