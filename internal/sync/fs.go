package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

const tempPrefix = ".treesync-"

// statOptional returns nil info and no error when name does not exist.
func statOptional(fsys billy.Filesystem, name string) (os.FileInfo, error) {
	info, err := fsys.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

// ErrChangeUnsupported is returned when a destination filesystem cannot set
// modification times or permissions.
var ErrChangeUnsupported = errors.New("filesystem does not support Change")

func chtimes(fsys billy.Filesystem, name string, mtime time.Time) error {
	change, ok := fsys.(billy.Change)
	if !ok {
		return ErrChangeUnsupported
	}
	return change.Chtimes(name, mtime, mtime)
}

func chmod(fsys billy.Filesystem, name string, mode os.FileMode) error {
	change, ok := fsys.(billy.Change)
	if !ok {
		return ErrChangeUnsupported
	}
	return change.Chmod(name, mode)
}

// hostFS is an osfs rooted at a host directory that also implements
// billy.Change, which osfs itself does not.
type hostFS struct {
	billy.Filesystem
	root string
}

func newHostFS(root string) *hostFS {
	return &hostFS{Filesystem: osfs.New(root), root: root}
}

func (h *hostFS) hostPath(name string) string {
	return filepath.Join(h.root, filepath.Clean(string(filepath.Separator)+name))
}

func (h *hostFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(h.hostPath(name), mode)
}

func (h *hostFS) Lchown(name string, uid, gid int) error {
	return os.Lchown(h.hostPath(name), uid, gid)
}

func (h *hostFS) Chown(name string, uid, gid int) error {
	return os.Chown(h.hostPath(name), uid, gid)
}

func (h *hostFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(h.hostPath(name), atime, mtime)
}

// copyFile mirrors one regular file from src to dst at the same relative path.
// The content is written to a temporary file next to the target, which is
// renamed into place only after contents, permissions and modification time
// are final. On any failure the temporary file is removed and the target is
// left as it was.
func copyFile(ctx context.Context, src, dst billy.Filesystem, rel string, info os.FileInfo) (written int64, err error) {
	in, err := src.Open(rel)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	// The temp name carries no part of the target name so it stays within
	// NAME_MAX for any legal target.
	dir := filepath.Dir(rel)
	tmp, err := dst.TempFile(dir, tempPrefix)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := dst.Join(dir, filepath.Base(tmp.Name()))
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = dst.Remove(tmpName)
		}
	}()

	written, err = io.Copy(tmp, &contextReader{ctx: ctx, r: in})
	if err != nil {
		return written, fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err = chmod(dst, tmpName, info.Mode().Perm()); err != nil {
		return written, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err = chtimes(dst, tmpName, info.ModTime()); err != nil {
		return written, fmt.Errorf("chtimes %s: %w", tmpName, err)
	}
	if err = ctx.Err(); err != nil {
		return written, err
	}
	if err = dst.Rename(tmpName, rel); err != nil {
		return written, fmt.Errorf("rename into place: %w", err)
	}
	return written, nil
}

// contextReader stops a copy as soon as ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
