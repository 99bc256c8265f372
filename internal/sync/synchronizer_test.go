package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// timedFS is a memfs that keeps modification times and permission bits,
// which memfs itself does not track.
type timedFS struct {
	billy.Filesystem
	meta map[string]fileMeta
}

type fileMeta struct {
	mtime time.Time
	perm  os.FileMode
	// permSet distinguishes an explicit 0 permission from an unset one.
	permSet bool
}

func newMemFS() *timedFS {
	return &timedFS{Filesystem: memfs.New(), meta: map[string]fileMeta{}}
}

func metaKey(name string) string {
	return filepath.ToSlash(filepath.Clean(name))
}

func (m *timedFS) wrap(name string, info os.FileInfo) os.FileInfo {
	return timedInfo{FileInfo: info, meta: m.meta[metaKey(name)]}
}

func (m *timedFS) Stat(name string) (os.FileInfo, error) {
	info, err := m.Filesystem.Stat(name)
	if err != nil {
		return nil, err
	}
	return m.wrap(name, info), nil
}

func (m *timedFS) Lstat(name string) (os.FileInfo, error) {
	info, err := m.Filesystem.Lstat(name)
	if err != nil {
		return nil, err
	}
	return m.wrap(name, info), nil
}

func (m *timedFS) ReadDir(dir string) ([]os.FileInfo, error) {
	infos, err := m.Filesystem.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for i, info := range infos {
		infos[i] = m.wrap(m.Join(dir, info.Name()), info)
	}
	return infos, nil
}

func (m *timedFS) Rename(from, to string) error {
	if err := m.Filesystem.Rename(from, to); err != nil {
		return err
	}
	m.meta[metaKey(to)] = m.meta[metaKey(from)]
	delete(m.meta, metaKey(from))
	return nil
}

func (m *timedFS) Remove(name string) error {
	if err := m.Filesystem.Remove(name); err != nil {
		return err
	}
	delete(m.meta, metaKey(name))
	return nil
}

func (m *timedFS) Chmod(name string, mode os.FileMode) error {
	if _, err := m.Filesystem.Stat(name); err != nil {
		return err
	}
	meta := m.meta[metaKey(name)]
	meta.perm, meta.permSet = mode.Perm(), true
	m.meta[metaKey(name)] = meta
	return nil
}

func (m *timedFS) Lchown(string, int, int) error { return nil }

func (m *timedFS) Chown(string, int, int) error { return nil }

func (m *timedFS) Chtimes(name string, _, mtime time.Time) error {
	if _, err := m.Filesystem.Stat(name); err != nil {
		return err
	}
	meta := m.meta[metaKey(name)]
	meta.mtime = mtime
	m.meta[metaKey(name)] = meta
	return nil
}

type timedInfo struct {
	os.FileInfo
	meta fileMeta
}

func (t timedInfo) ModTime() time.Time {
	return t.meta.mtime
}

func (t timedInfo) Mode() os.FileMode {
	mode := t.FileInfo.Mode()
	if t.meta.permSet {
		mode = mode&^os.ModePerm | t.meta.perm
	}
	return mode
}

// plainFS hides every optional interface of the wrapped filesystem.
type plainFS struct {
	billy.Filesystem
}

// failingFS refuses to create temporary files in one directory.
type failingFS struct {
	*timedFS
	failDir string
}

func (f failingFS) TempFile(dir, prefix string) (billy.File, error) {
	if filepath.Clean(dir) == f.failDir {
		return nil, errors.New("no space left on device")
	}
	return f.timedFS.TempFile(dir, prefix)
}

// recordingFS remembers every directory it lists.
type recordingFS struct {
	*timedFS
	listed *[]string
}

func (r recordingFS) ReadDir(dir string) ([]os.FileInfo, error) {
	*r.listed = append(*r.listed, filepath.ToSlash(dir))
	return r.timedFS.ReadDir(dir)
}

// cancellingFS cancels a context as soon as any file is read.
type cancellingFS struct {
	*timedFS
	cancel context.CancelFunc
}

func (c cancellingFS) Open(name string) (billy.File, error) {
	f, err := c.timedFS.Open(name)
	if err != nil {
		return nil, err
	}
	return cancellingFile{File: f, cancel: c.cancel}, nil
}

type cancellingFile struct {
	billy.File
	cancel context.CancelFunc
}

func (c cancellingFile) Read(p []byte) (int, error) {
	n, err := c.File.Read(p)
	c.cancel()
	return n, err
}

func memWrite(t *testing.T, fsys *timedFS, name, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, util.WriteFile(fsys, name, []byte(content), 0o644))
	require.NoError(t, fsys.Chtimes(name, mtime, mtime))
}

func memRead(t *testing.T, fsys billy.Filesystem, name string) string {
	t.Helper()
	data, err := util.ReadFile(fsys, name)
	require.NoError(t, err)
	return string(data)
}

func memExists(t *testing.T, fsys billy.Filesystem, name string) bool {
	t.Helper()
	info, err := statOptional(fsys, name)
	require.NoError(t, err)
	return info != nil
}

func TestDecide(t *testing.T) {
	src := newMemFS()
	dst := newMemFS()
	old := time.Unix(1000, 0)
	newer := time.Unix(2000, 0)

	memWrite(t, src, "file", "x", newer)
	memWrite(t, src, "same", "x", old)
	memWrite(t, src, "older", "x", old)
	require.NoError(t, src.MkdirAll("dir", 0o755))
	memWrite(t, dst, "file", "y", old)
	memWrite(t, dst, "same", "y", old)
	memWrite(t, dst, "older", "y", newer)
	memWrite(t, dst, "dir", "y", old)
	require.NoError(t, dst.MkdirAll("dirdst", 0o755))

	stat := func(fsys billy.Filesystem, name string) os.FileInfo {
		info, err := statOptional(fsys, name)
		require.NoError(t, err)
		return info
	}

	cases := []struct {
		name string
		src  os.FileInfo
		dst  os.FileInfo
		want Decision
	}{
		{"DirAbsent", stat(src, "dir"), nil, DecisionCreateDir},
		{"DirPresent", stat(src, "dir"), stat(dst, "dirdst"), DecisionEnterDir},
		{"DirOverFile", stat(src, "dir"), stat(dst, "dir"), DecisionConflict},
		{"FileAbsent", stat(src, "file"), nil, DecisionCreateFile},
		{"FileNewer", stat(src, "file"), stat(dst, "file"), DecisionOverwriteFile},
		{"FileSameTime", stat(src, "same"), stat(dst, "same"), DecisionSkipFile},
		{"FileOlder", stat(src, "older"), stat(dst, "older"), DecisionSkipFile},
		{"FileOverDir", stat(src, "file"), stat(dst, "dirdst"), DecisionConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decide(tc.src, tc.dst)
			assert.Equal(t, tc.want, got, "got %s want %s", got, tc.want)
		})
	}
}

func TestRunPrunesExcludedDirectories(t *testing.T) {
	var listed []string
	src := newMemFS()
	dst := newMemFS()
	now := time.Unix(5000, 0)

	memWrite(t, src, "a.txt", "a", now)
	memWrite(t, src, "node_modules/pkg/index.js", "js", now)
	memWrite(t, src, "sub/node_modules/deep/x.js", "js", now)
	memWrite(t, src, "sub/b.txt", "b", now)

	s := NewSynchronizer(recordingFS{timedFS: src, listed: &listed}, dst,
		WithMatcher(NewNameSet("node_modules")),
		WithLogger(zap.NewNop()),
	)
	report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{".", "sub"}, listed)
	assert.Equal(t, 2, report.Excluded)
	assert.Equal(t, 2, report.FilesCopied)
	assert.False(t, memExists(t, dst, "node_modules"))
	assert.False(t, memExists(t, dst, "sub/node_modules"))
	assert.Equal(t, "b", memRead(t, dst, "sub/b.txt"))
}

func TestRunPartialFailureIsolation(t *testing.T) {
	src := newMemFS()
	dst := newMemFS()
	now := time.Unix(5000, 0)

	memWrite(t, src, "blocked/one.txt", "1", now)
	memWrite(t, src, "blocked/two.txt", "2", now)
	memWrite(t, src, "fine/three.txt", "3", now)
	memWrite(t, src, "top.txt", "top", now)

	s := NewSynchronizer(src, failingFS{timedFS: dst, failDir: "blocked"})
	report, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Failures, 2)
	for _, failure := range report.Failures {
		var copyErr *CopyError
		require.True(t, errors.As(failure, &copyErr))
		assert.True(t, strings.HasPrefix(filepath.ToSlash(copyErr.Path), "blocked/"))
		assert.Contains(t, copyErr.Error(), "no space left on device")
	}
	assert.Equal(t, 2, report.FilesCopied)
	assert.Equal(t, "3", memRead(t, dst, "fine/three.txt"))
	assert.Equal(t, "top", memRead(t, dst, "top.txt"))
	assert.False(t, memExists(t, dst, "blocked/one.txt"))
}

func TestRunCancelledMidCopyLeavesNoPartialFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := newMemFS()
	dst := newMemFS()

	memWrite(t, src, "big.bin", strings.Repeat("x", 128*1024), time.Unix(5000, 0))
	memWrite(t, src, "later.txt", "later", time.Unix(5000, 0))

	s := NewSynchronizer(cancellingFS{timedFS: src, cancel: cancel}, dst)
	report, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 0, report.FilesCopied)
	assert.Empty(t, report.Failures)
	infos, readErr := dst.ReadDir(".")
	if readErr == nil {
		for _, info := range infos {
			assert.False(t, strings.HasPrefix(info.Name(), tempPrefix), "temp file %s left behind", info.Name())
			assert.NotEqual(t, "big.bin", info.Name())
		}
	}
}

func TestRunOverwriteIsAtomicAndKeepsMode(t *testing.T) {
	src := newMemFS()
	dst := newMemFS()

	memWrite(t, src, "conf/app.yaml", "new: true\n", time.Unix(9000, 0))
	require.NoError(t, src.Chmod("conf/app.yaml", 0o600))
	memWrite(t, dst, "conf/app.yaml", "old: true\n", time.Unix(1000, 0))

	report, err := NewSynchronizer(src, dst).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesOverwritten)
	assert.Equal(t, "new: true\n", memRead(t, dst, "conf/app.yaml"))
	info, err := dst.Stat("conf/app.yaml")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(time.Unix(9000, 0)))
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	infos, err := dst.ReadDir("conf")
	require.NoError(t, err)
	require.Len(t, infos, 1)
}

func TestRunDryRunCountsWithoutWriting(t *testing.T) {
	src := newMemFS()
	dst := newMemFS()

	memWrite(t, src, "new.txt", "new", time.Unix(3000, 0))
	memWrite(t, src, "stale.txt", "fresh", time.Unix(3000, 0))
	memWrite(t, src, "dir/inner.txt", "inner", time.Unix(3000, 0))
	memWrite(t, dst, "stale.txt", "old", time.Unix(1000, 0))

	report, err := NewSynchronizer(src, dst, WithDryRun(true)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.DirsCreated)
	assert.Equal(t, 2, report.FilesCopied)
	assert.Equal(t, 1, report.FilesOverwritten)
	assert.False(t, memExists(t, dst, "new.txt"))
	assert.False(t, memExists(t, dst, "dir"))
	assert.Equal(t, "old", memRead(t, dst, "stale.txt"))
}

func TestRunCombinedMatchers(t *testing.T) {
	src := newMemFS()
	dst := newMemFS()
	now := time.Unix(5000, 0)

	memWrite(t, src, "main.go", "package main", now)
	memWrite(t, src, "debug.log", "noise", now)
	memWrite(t, src, "build/out.bin", "bin", now)
	memWrite(t, src, "docs/tmp/draft.md", "draft", now)
	memWrite(t, src, "docs/readme.md", "readme", now)

	matcher := AnyOf(
		NewNameSet("build"),
		NewExtensionSet("log"),
		NewGitIgnoreMatcher("docs/tmp/"),
		nil,
	)
	report, err := NewSynchronizer(src, dst, WithMatcher(matcher)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Excluded)
	assert.True(t, memExists(t, dst, "main.go"))
	assert.True(t, memExists(t, dst, "docs/readme.md"))
	assert.False(t, memExists(t, dst, "debug.log"))
	assert.False(t, memExists(t, dst, "build"))
	assert.False(t, memExists(t, dst, "docs/tmp"))
}

func TestChangeRequiresSupport(t *testing.T) {
	fsys := plainFS{newMemFS()}
	require.NoError(t, util.WriteFile(fsys, "a.txt", []byte("a"), 0o644))

	assert.ErrorIs(t, chtimes(fsys, "a.txt", time.Unix(1000, 0)), ErrChangeUnsupported)
	assert.ErrorIs(t, chmod(fsys, "a.txt", 0o600), ErrChangeUnsupported)
}

func TestRunDestinationWithoutChangeRecordsFailure(t *testing.T) {
	src := newMemFS()
	dst := newMemFS()
	memWrite(t, src, "a.txt", "a", time.Unix(5000, 0))

	report, err := NewSynchronizer(src, plainFS{dst}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], ErrChangeUnsupported)
	assert.Equal(t, 0, report.FilesCopied)
	infos, err := dst.ReadDir(".")
	require.NoError(t, err)
	assert.Empty(t, infos, "no target or temp file may remain")
}

func TestHostFSStaysBelowRoot(t *testing.T) {
	root := t.TempDir()
	h := newHostFS(root)

	assert.Equal(t, filepath.Join(root, "a", "b.txt"), h.hostPath(filepath.Join("a", "b.txt")))
	assert.Equal(t, filepath.Join(root, "escape.txt"), h.hostPath(filepath.Join("..", "..", "escape.txt")))

	require.NoError(t, util.WriteFile(h, "f.txt", []byte("x"), 0o644))
	mtime := time.Unix(1_500_000_000, 0)
	require.NoError(t, chtimes(h, "f.txt", mtime))
	require.NoError(t, chmod(h, "f.txt", 0o600))

	info, err := os.Stat(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
