package sync

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"
)

// Decision is the action taken for one source entry.
type Decision int

const (
	DecisionExcluded Decision = iota
	DecisionCreateDir
	DecisionEnterDir
	DecisionCreateFile
	DecisionOverwriteFile
	DecisionSkipFile
	DecisionConflict
	DecisionUnsupported
)

var decisionNames = map[Decision]string{
	DecisionExcluded:      "excluded",
	DecisionCreateDir:     "create-dir",
	DecisionEnterDir:      "enter-dir",
	DecisionCreateFile:    "create-file",
	DecisionOverwriteFile: "overwrite-file",
	DecisionSkipFile:      "up-to-date",
	DecisionConflict:      "conflict",
	DecisionUnsupported:   "unsupported",
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}
	return "unknown"
}

// decide maps a source entry and the optional destination entry at the same
// relative path to a Decision. dst is nil when the destination is absent.
func decide(src, dst os.FileInfo) Decision {
	switch {
	case src.IsDir():
		if dst == nil {
			return DecisionCreateDir
		}
		if !dst.IsDir() {
			return DecisionConflict
		}
		return DecisionEnterDir
	case !src.Mode().IsRegular():
		return DecisionUnsupported
	case dst == nil:
		return DecisionCreateFile
	case dst.IsDir():
		return DecisionConflict
	case src.ModTime().After(dst.ModTime()):
		return DecisionOverwriteFile
	default:
		return DecisionSkipFile
	}
}

// Synchronizer mirrors one filesystem into another in a single depth-first
// pass.
type Synchronizer struct {
	source  billy.Filesystem
	dest    billy.Filesystem
	matcher Matcher
	logger  *zap.Logger
	dryRun  bool
}

// NewSynchronizer mirrors the root of source into the root of dest.
func NewSynchronizer(source, dest billy.Filesystem, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source: source,
		dest:   dest,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync validates task and mirrors task.SourceRoot into task.DestRoot.
// Configuration problems are reported as *ConfigurationError before anything
// is written. Per-entry failures are collected in the report and do not stop
// the pass. When ctx is cancelled the partial report is returned with the
// context error.
func Sync(ctx context.Context, task Task, logger *zap.Logger) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	sourceRoot, destRoot, err := resolveRoots(task)
	if err != nil {
		logger.Error("invalid task", zap.Error(err))
		return Report{DryRun: task.DryRun}, err
	}

	createdRoot := false
	if _, statErr := os.Stat(destRoot); errors.Is(statErr, fs.ErrNotExist) {
		if !task.DryRun {
			if err := os.MkdirAll(destRoot, 0o755); err != nil {
				logger.Error("create destination", zap.String("root", destRoot), zap.Error(err))
				return Report{}, NewConfigurationError("destination", destRoot, err)
			}
		}
		createdRoot = true
	}

	logger.Info("synchronization started",
		zap.String("source", sourceRoot),
		zap.String("destination", destRoot),
		zap.Bool("dry_run", task.DryRun),
	)

	s := NewSynchronizer(osfs.New(sourceRoot), newHostFS(destRoot),
		WithMatcher(task.Exclusions),
		WithLogger(logger),
		WithDryRun(task.DryRun),
	)
	report, err := s.Run(ctx)
	if createdRoot {
		report.DirsCreated++
	}
	report.Duration = time.Since(start)
	if err != nil {
		logger.Error("synchronization aborted", append(report.Fields(), zap.Error(err))...)
		return report, err
	}

	logger.Info("synchronization completed", report.Fields()...)
	return report, nil
}

// Run performs the pass. A source root that cannot be listed is a
// *ConfigurationError.
func (s *Synchronizer) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{DryRun: s.dryRun}

	err := walkTree(ctx, s.source, rootDir, s.matcher, func(entry Entry, walkErr error) error {
		return s.visit(ctx, &report, entry, walkErr)
	})
	report.Duration = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		// Besides cancellation only the root listing can end the walk early.
		return report, NewConfigurationError("source", s.source.Root(), err)
	}
	return report, nil
}

func (s *Synchronizer) visit(ctx context.Context, report *Report, entry Entry, walkErr error) error {
	rel := entry.RelPath
	if walkErr != nil {
		s.fail(report, &CopyError{Op: "read directory", Path: rel, Err: walkErr})
		return nil
	}
	if entry.Excluded {
		report.Excluded++
		s.logger.Debug("excluded", zap.String("path", rel), zap.Bool("dir", entry.Info.IsDir()))
		return nil
	}

	destInfo, err := statOptional(s.dest, rel)
	if err != nil {
		s.fail(report, &CopyError{Op: "stat destination", Path: rel, Err: err})
		return skipIfDir(entry)
	}

	decision := decide(entry.Info, destInfo)
	switch decision {
	case DecisionUnsupported:
		report.Unsupported++
		s.logger.Debug("unsupported entry", zap.String("path", rel), zap.Stringer("mode", entry.Info.Mode()))
		return nil

	case DecisionConflict:
		s.fail(report, &PathConflictError{Path: rel, SourceIsDir: entry.Info.IsDir()})
		return skipIfDir(entry)

	case DecisionCreateDir:
		if !s.dryRun {
			if err := s.dest.MkdirAll(rel, 0o755); err != nil {
				s.fail(report, &CopyError{Op: "create directory", Path: rel, Err: err})
				return SkipDir
			}
		}
		report.DirsCreated++
		s.logger.Debug("directory created", zap.String("path", rel))
		return nil

	case DecisionEnterDir:
		return nil

	case DecisionSkipFile:
		report.FilesUpToDate++
		return nil

	case DecisionCreateFile, DecisionOverwriteFile:
		written := entry.Info.Size()
		if !s.dryRun {
			n, err := copyFile(ctx, s.source, s.dest, rel, entry.Info)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.fail(report, &CopyError{Op: "copy", Path: rel, Err: err})
				return nil
			}
			written = n
		}
		report.BytesCopied += written
		if decision == DecisionCreateFile {
			report.FilesCopied++
		} else {
			report.FilesOverwritten++
		}
		s.logger.Debug("file mirrored",
			zap.String("path", rel),
			zap.Stringer("decision", decision),
			zap.Int64("bytes", written),
		)
		return nil
	}
	return nil
}

func (s *Synchronizer) fail(report *Report, err error) {
	report.addErr(err)
	s.logger.Warn("entry skipped", zap.Error(err))
}

func skipIfDir(entry Entry) error {
	if entry.Info.IsDir() {
		return SkipDir
	}
	return nil
}

// resolveRoots returns absolute, cleaned roots after checking the
// preconditions of a run.
func resolveRoots(task Task) (string, string, error) {
	if strings.TrimSpace(task.SourceRoot) == "" {
		return "", "", NewConfigurationError("source", "", ErrMissingValue)
	}
	if strings.TrimSpace(task.DestRoot) == "" {
		return "", "", NewConfigurationError("destination", "", ErrMissingValue)
	}

	sourceRoot, err := filepath.Abs(task.SourceRoot)
	if err != nil {
		return "", "", NewConfigurationError("source", task.SourceRoot, err)
	}
	destRoot, err := filepath.Abs(task.DestRoot)
	if err != nil {
		return "", "", NewConfigurationError("destination", task.DestRoot, err)
	}

	info, err := os.Stat(sourceRoot)
	if err != nil {
		return "", "", NewConfigurationError("source", sourceRoot, err)
	}
	if !info.IsDir() {
		return "", "", NewConfigurationError("source", sourceRoot, ErrSourceNotDirectory)
	}
	if err := checkReadable(sourceRoot); err != nil {
		return "", "", NewConfigurationError("source", sourceRoot, err)
	}

	if info, err := os.Stat(destRoot); err == nil && !info.IsDir() {
		return "", "", NewConfigurationError("destination", destRoot, ErrDestinationNotDirectory)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", "", NewConfigurationError("destination", destRoot, err)
	}

	if isWithin(realPath(sourceRoot), realPath(destRoot)) {
		return "", "", NewConfigurationError("destination", destRoot, ErrDestinationInsideSource)
	}
	return sourceRoot, destRoot, nil
}

func checkReadable(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// realPath resolves symlinks of the longest existing prefix of p.
func realPath(p string) string {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p
	}
	return filepath.Join(realPath(parent), filepath.Base(p))
}

func isWithin(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
