package registry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// Default corpus patterns.
var (
	DefaultInclude = []string{"**/*.md"}
	DefaultExclude = []string{"**/.git/**", "**/node_modules/**"}
)

// Discovery finds skill files under corpus roots.
type Discovery struct {
	include []string
	exclude []string
}

// NewDiscovery validates the patterns and returns a Discovery.
func NewDiscovery(include, exclude []string) (*Discovery, error) {
	if len(include) == 0 {
		include = DefaultInclude
	}
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Errorf("invalid corpus pattern %q", p)
		}
	}
	return &Discovery{include: include, exclude: exclude}, nil
}

// Discover returns the sorted, de-duplicated skill files under roots. A root
// may be a directory, walked with the include and exclude patterns, or a
// single file, which is always included.
func (d *Discovery) Discover(roots []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, errors.Wrapf(err, "corpus path %s", root)
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		fsys := os.DirFS(root)
		for _, pattern := range d.include {
			matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, errors.Wrapf(err, "failed to glob %s in %s", pattern, root)
			}
			for _, rel := range matches {
				if d.excluded(rel) {
					continue
				}
				add(filepath.Join(root, filepath.FromSlash(rel)))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// Matches reports whether a file under root would be discovered.
func (d *Discovery) Matches(root, file string) bool {
	rel, err := filepath.Rel(root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if d.excluded(rel) {
		return false
	}
	for _, pattern := range d.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ExcludedDir reports whether a directory under root is pruned from watching.
func (d *Discovery) ExcludedDir(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return false
	}
	return d.excluded(filepath.ToSlash(rel) + "/x")
}

func (d *Discovery) excluded(rel string) bool {
	for _, pattern := range d.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
