package sync

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Report summarizes one synchronization pass.
type Report struct {
	DirsCreated      int
	FilesCopied      int
	FilesOverwritten int
	FilesUpToDate    int
	Excluded         int
	Unsupported      int
	BytesCopied      int64
	Duration         time.Duration
	DryRun           bool
	// Failures holds every non-fatal error of the pass, each a *CopyError or
	// a *PathConflictError.
	Failures []error
}

func (r *Report) addErr(err error) {
	if err != nil {
		r.Failures = append(r.Failures, err)
	}
}

// Changed is the number of destination entries created or rewritten.
func (r Report) Changed() int {
	return r.DirsCreated + r.FilesCopied + r.FilesOverwritten
}

// Conflicts returns the failures caused by source/destination type mismatches.
func (r Report) Conflicts() []*PathConflictError {
	var conflicts []*PathConflictError
	for _, err := range r.Failures {
		var conflict *PathConflictError
		if errors.As(err, &conflict) {
			conflicts = append(conflicts, conflict)
		}
	}
	return conflicts
}

// Fields renders the counters as zap fields.
func (r Report) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("dirs_created", r.DirsCreated),
		zap.Int("files_copied", r.FilesCopied),
		zap.Int("files_overwritten", r.FilesOverwritten),
		zap.Int("files_up_to_date", r.FilesUpToDate),
		zap.Int("excluded", r.Excluded),
		zap.Int("unsupported", r.Unsupported),
		zap.Int64("bytes_copied", r.BytesCopied),
		zap.Int("failures", len(r.Failures)),
		zap.Duration("duration", r.Duration),
		zap.Bool("dry_run", r.DryRun),
	}
}

type reportFailure struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

type reportDocument struct {
	FinishedAt       time.Time       `json:"finished_at"`
	DirsCreated      int             `json:"dirs_created"`
	FilesCopied      int             `json:"files_copied"`
	FilesOverwritten int             `json:"files_overwritten"`
	FilesUpToDate    int             `json:"files_up_to_date"`
	Excluded         int             `json:"excluded"`
	Unsupported      int             `json:"unsupported"`
	BytesCopied      int64           `json:"bytes_copied"`
	DurationSeconds  float64         `json:"duration_seconds"`
	DryRun           bool            `json:"dry_run"`
	Failures         []reportFailure `json:"failures"`
}

// MarshalJSON implements json.Marshaler.
func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.document(time.Time{}))
}

func (r Report) document(finishedAt time.Time) reportDocument {
	doc := reportDocument{
		FinishedAt:       finishedAt,
		DirsCreated:      r.DirsCreated,
		FilesCopied:      r.FilesCopied,
		FilesOverwritten: r.FilesOverwritten,
		FilesUpToDate:    r.FilesUpToDate,
		Excluded:         r.Excluded,
		Unsupported:      r.Unsupported,
		BytesCopied:      r.BytesCopied,
		DurationSeconds:  r.Duration.Seconds(),
		DryRun:           r.DryRun,
		Failures:         make([]reportFailure, 0, len(r.Failures)),
	}
	for _, err := range r.Failures {
		doc.Failures = append(doc.Failures, describeFailure(err))
	}
	return doc
}

func describeFailure(err error) reportFailure {
	var conflict *PathConflictError
	if errors.As(err, &conflict) {
		return reportFailure{Kind: "conflict", Path: filepath.ToSlash(conflict.Path), Error: err.Error()}
	}
	var copyErr *CopyError
	if errors.As(err, &copyErr) {
		return reportFailure{Kind: "copy", Path: filepath.ToSlash(copyErr.Path), Error: err.Error()}
	}
	return reportFailure{Kind: "other", Error: err.Error()}
}

// WriteJSON stores the report at path. The file is replaced atomically so a
// reader never observes a partial document.
func (r Report) WriteJSON(path string, finishedAt time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, marshalErr := json.MarshalIndent(r.document(finishedAt), "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
