package sync

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
)

const rootDir = "."

// SkipDir is returned by a walkFunc to prevent descent into a directory.
var SkipDir = fs.SkipDir

// Entry is one source entry visited during a walk.
type Entry struct {
	// RelPath is relative to the walk root, using the filesystem separator.
	RelPath string
	Info    os.FileInfo
	// Excluded entries are reported once and never descended into.
	Excluded bool
}

// walkFunc follows the filepath.WalkDir contract: it is called once for every
// entry before descent and a second time, with err set, when a directory
// cannot be listed. Returning SkipDir for a directory prunes it.
type walkFunc func(entry Entry, err error) error

// walkTree performs a depth-first walk of fsys below root. Entries are matched
// against matcher while their parent is being listed, so an excluded
// directory is never opened. Only one directory listing is held per level of
// depth.
func walkTree(ctx context.Context, fsys billy.Filesystem, root string, matcher Matcher, fn walkFunc) error {
	infos, err := readDirSorted(fsys, root)
	if err != nil {
		return err
	}
	return walkEntries(ctx, fsys, root, infos, matcher, fn)
}

func walkEntries(ctx context.Context, fsys billy.Filesystem, dir string, infos []os.FileInfo, matcher Matcher, fn walkFunc) error {
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel := fsys.Join(dir, info.Name())
		entry := Entry{RelPath: rel, Info: info}

		if matcher != nil && matcher.Match(filepath.ToSlash(rel), info.IsDir()) {
			entry.Excluded = true
			if err := fn(entry, nil); err != nil && err != SkipDir {
				return err
			}
			continue
		}

		if err := fn(entry, nil); err != nil {
			if err == SkipDir {
				continue
			}
			return err
		}
		if !info.IsDir() {
			continue
		}

		children, err := readDirSorted(fsys, rel)
		if err != nil {
			if err := fn(entry, err); err != nil && err != SkipDir {
				return err
			}
			continue
		}
		if err := walkEntries(ctx, fsys, rel, children, matcher, fn); err != nil {
			return err
		}
	}
	return nil
}

func readDirSorted(fsys billy.Filesystem, dir string) ([]os.FileInfo, error) {
	infos, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name() < infos[j].Name()
	})
	return infos, nil
}
