package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/log"
)

// bundleGlob matches every file at <namespace>/<bundle>/<file>.
const bundleGlob = "*/*/*"

// FileLoader serves sources from a directory tree laid out as
// root/<namespace>/<bundle>/<file>. Lookups fall back to a case-insensitive
// match when the exact path is absent.
type FileLoader struct {
	root string
	fsys fs.FS
}

// NewFileLoader creates a loader rooted at root. The directory must exist.
func NewFileLoader(root string) (*FileLoader, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", root)
	}
	return &FileLoader{root: root, fsys: os.DirFS(root)}, nil
}

// Name implements Loader.
func (l *FileLoader) Name() string { return "file:" + l.root }

// Root returns the directory the loader serves.
func (l *FileLoader) Root() string { return l.root }

// Load implements Loader.
func (l *FileLoader) Load(d descriptor.Descriptor) (Source, error) {
	rel, ok := l.locate(d)
	if !ok {
		return Source{}, ErrNoSource
	}
	data, err := fs.ReadFile(l.fsys, rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Source{}, ErrNoSource
		}
		return Source{}, fmt.Errorf("reading %s: %w", rel, err)
	}
	src := Source{
		Descriptor: d,
		Contents:   data,
		Format:     FormatFor(d.DefType()),
		Origin:     path.Join(l.root, rel),
	}
	if info, err := fs.Stat(l.fsys, rel); err == nil {
		src.LastModified = info.ModTime()
	}
	return src, nil
}

// Exists implements Loader.
func (l *FileLoader) Exists(d descriptor.Descriptor) bool {
	_, ok := l.locate(d)
	return ok
}

func (l *FileLoader) locate(d descriptor.Descriptor) (string, bool) {
	rel, err := RelativePath(d)
	if err != nil {
		return "", false
	}
	if info, err := fs.Stat(l.fsys, rel); err == nil && !info.IsDir() {
		return rel, true
	}

	// Walk each segment with a case-insensitive comparison.
	dir := "."
	for _, seg := range strings.Split(rel, "/") {
		entries, err := fs.ReadDir(l.fsys, dir)
		if err != nil {
			return "", false
		}
		i := slices.IndexFunc(entries, func(e fs.DirEntry) bool {
			return strings.EqualFold(e.Name(), seg)
		})
		if i < 0 {
			return "", false
		}
		dir = path.Join(dir, entries[i].Name())
	}
	return dir, true
}

// Find implements Loader.
func (l *FileLoader) Find(f descriptor.Filter) ([]descriptor.Descriptor, error) {
	matches, err := doublestar.Glob(l.fsys, bundleGlob, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", l.root, err)
	}
	var out []descriptor.Descriptor
	for _, m := range matches {
		d := DescriptorForPath(m)
		if d == nil {
			continue
		}
		if f.Match(*d) {
			out = append(out, *d)
		}
	}
	slices.SortFunc(out, descriptor.Compare)
	log.Debug(log.CatSource, "filesystem find", "root", l.root, "filter", f.String(), "matches", len(out))
	return out, nil
}

// Namespaces implements Loader.
func (l *FileLoader) Namespaces() ([]string, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", l.root, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, strings.ToLower(e.Name()))
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
