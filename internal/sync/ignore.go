package sync

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/sabhiram/go-gitignore"
)

// Matcher decides whether an entry is excluded from the mirror. relPath is
// slash-separated and relative to the source root; it is never empty.
type Matcher interface {
	Match(relPath string, isDir bool) bool
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(relPath string, isDir bool) bool

// Match implements Matcher.
func (f MatcherFunc) Match(relPath string, isDir bool) bool {
	return f(relPath, isDir)
}

// NameSet excludes entries whose basename equals one of its members, at any
// depth. Matching is exact; no glob syntax is interpreted.
type NameSet map[string]struct{}

// NewNameSet builds a NameSet, ignoring blank names.
func NewNameSet(names ...string) NameSet {
	set := make(NameSet, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}

// Match implements Matcher.
func (n NameSet) Match(relPath string, _ bool) bool {
	_, ok := n[baseName(relPath)]
	return ok
}

// Names returns the members in no particular order.
func (n NameSet) Names() []string {
	names := make([]string, 0, len(n))
	for name := range n {
		names = append(names, name)
	}
	return names
}

// ExtensionSet excludes files by extension. Directories never match.
type ExtensionSet map[string]struct{}

// NewExtensionSet builds an ExtensionSet. Extensions are stored lowercase with
// a leading dot, so "log", ".log" and ".LOG" are equivalent.
func NewExtensionSet(extensions ...string) ExtensionSet {
	set := make(ExtensionSet, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

// Match implements Matcher.
func (e ExtensionSet) Match(relPath string, isDir bool) bool {
	if isDir {
		return false
	}
	ext := strings.ToLower(filepath.Ext(baseName(relPath)))
	if ext == "" {
		return false
	}
	_, ok := e[ext]
	return ok
}

// GitIgnoreMatcher excludes entries using gitignore syntax.
type GitIgnoreMatcher struct {
	ig *ignore.GitIgnore
}

// NewGitIgnoreMatcher compiles gitignore lines.
func NewGitIgnoreMatcher(lines ...string) *GitIgnoreMatcher {
	return &GitIgnoreMatcher{ig: ignore.CompileIgnoreLines(lines...)}
}

// LoadGitIgnoreFile compiles an ignore file. A missing file yields a matcher
// that excludes nothing.
func LoadGitIgnoreFile(path string) (*GitIgnoreMatcher, error) {
	ig, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewGitIgnoreMatcher(), nil
		}
		return nil, err
	}
	return &GitIgnoreMatcher{ig: ig}, nil
}

// Match implements Matcher.
func (g *GitIgnoreMatcher) Match(relPath string, isDir bool) bool {
	if g == nil {
		return false
	}
	return shouldIgnore(relPath, isDir, g.ig)
}

func shouldIgnore(rel string, isDir bool, ig *ignore.GitIgnore) bool {
	if ig == nil {
		return false
	}
	p := filepath.ToSlash(rel)
	if isDir {
		p += "/"
	}
	return ig.MatchesPath(p)
}

// AnyOf excludes an entry when any of the given matchers does. Nil matchers
// are dropped; with none left the result excludes nothing.
func AnyOf(matchers ...Matcher) Matcher {
	kept := make([]Matcher, 0, len(matchers))
	for _, m := range matchers {
		if m == nil {
			continue
		}
		kept = append(kept, m)
	}
	return MatcherFunc(func(relPath string, isDir bool) bool {
		for _, m := range kept {
			if m.Match(relPath, isDir) {
				return true
			}
		}
		return false
	})
}

// DirsOnly restricts m to directories.
func DirsOnly(m Matcher) Matcher {
	return MatcherFunc(func(relPath string, isDir bool) bool {
		return isDir && m.Match(relPath, isDir)
	})
}

// FilesOnly restricts m to non-directories.
func FilesOnly(m Matcher) Matcher {
	return MatcherFunc(func(relPath string, isDir bool) bool {
		return !isDir && m.Match(relPath, isDir)
	})
}

func baseName(relPath string) string {
	relPath = strings.TrimSuffix(filepath.ToSlash(relPath), "/")
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		return relPath[i+1:]
	}
	return relPath
}
