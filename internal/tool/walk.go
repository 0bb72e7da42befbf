package tool

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	ignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnorePatterns are skipped by glob, grep and list in addition to
// the root .gitignore.
var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	"__pycache__/",
	"dist/",
	"build/",
	"target/",
	"vendor/",
	".idea/",
	".vscode/",
	".cache/",
	".venv/",
	"venv/",
	"coverage/",
	".DS_Store",
}

// walker visits files below a root, honoring .gitignore and extra patterns.
type walker struct {
	root   string
	ignore *ignore.GitIgnore
	extra  []string
}

func newWalker(root string, extra ...string) *walker {
	lines := append([]string{}, defaultIgnorePatterns...)
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	}
	return &walker{
		root:   root,
		ignore: ignore.CompileIgnoreLines(lines...),
		extra:  extra,
	}
}

// ignored reports whether rel (slash separated, relative to root) is excluded.
func (w *walker) ignored(rel string, isDir bool) bool {
	candidate := rel
	if isDir {
		candidate += "/"
	}
	if w.ignore.MatchesPath(candidate) {
		return true
	}
	for _, pattern := range w.extra {
		pattern = strings.TrimSuffix(pattern, "/")
		if matchGlob(pattern, rel) {
			return true
		}
	}
	return false
}

// walk calls fn for every non-ignored regular file. fn may be called
// concurrently. Walking stops early when ctx is done.
func (w *walker) walk(ctx context.Context, fn func(path, rel string, d fs.DirEntry) error) error {
	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if w.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return fn(path, rel, d)
	})
	if errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

// matchGlob matches a doublestar pattern against a slash separated relative
// path. Patterns without a slash match the base name at any depth.
func matchGlob(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, pathBase(rel))
		return ok
	}
	return false
}

func pathBase(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

// resolvePath makes path absolute relative to dir.
func resolvePath(dir, path string) string {
	if path == "" {
		return dir
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
