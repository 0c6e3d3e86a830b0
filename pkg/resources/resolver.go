package resources

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

var (
	// ErrNoMatch is returned by ResolveOne when no file matches a fragment.
	ErrNoMatch = errors.New("no matching resource")

	// ErrAmbiguous is returned by ResolveOne when several files match a fragment.
	ErrAmbiguous = errors.New("multiple resources match")
)

// Resource is one file found by a Resolver.
type Resource struct {
	// Path is the slash-separated path relative to the resolver root.
	Path string
	Size int64
}

// Resolver finds files by path fragment.
type Resolver interface {
	// Resolve returns every resource matching fragment, sorted by path.
	Resolve(fragment string) ([]Resource, error)

	// ReadFile returns the contents of a resolved resource.
	ReadFile(res Resource) ([]byte, error)
}

// FSResolver resolves fragments against a file system tree.
type FSResolver struct {
	fsys fs.FS
}

// NewFSResolver creates a resolver rooted at fsys.
func NewFSResolver(fsys fs.FS) *FSResolver {
	return &FSResolver{fsys: fsys}
}

// Resolve walks the tree and collects files whose path ends with fragment.
func (r *FSResolver) Resolve(fragment string) ([]Resource, error) {
	want := strings.Trim(path.Clean("/"+strings.TrimSpace(fragment)), "/")
	if want == "" {
		return nil, fmt.Errorf("empty resource path")
	}

	var matches []Resource
	err := fs.WalkDir(r.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !matchesFragment(p, want) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		matches = append(matches, Resource{Path: p, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", fragment, err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	return matches, nil
}

// ReadFile reads a resolved resource from the tree.
func (r *FSResolver) ReadFile(res Resource) ([]byte, error) {
	data, err := fs.ReadFile(r.fsys, res.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource %s: %w", res.Path, err)
	}
	return data, nil
}

func matchesFragment(p, fragment string) bool {
	if p == fragment {
		return true
	}
	return strings.HasSuffix(p, "/"+fragment)
}

// ResolveOne resolves fragment to exactly one resource. It wraps ErrNoMatch
// or ErrAmbiguous when the fragment matches zero or several files.
func ResolveOne(r Resolver, fragment string) (Resource, error) {
	matches, err := r.Resolve(fragment)
	if err != nil {
		return Resource{}, err
	}

	switch len(matches) {
	case 0:
		return Resource{}, fmt.Errorf("%s: %w", fragment, ErrNoMatch)
	case 1:
		return matches[0], nil
	default:
		paths := make([]string, len(matches))
		for i, m := range matches {
			paths[i] = m.Path
		}
		return Resource{}, fmt.Errorf("%s: %w: %s", fragment, ErrAmbiguous, strings.Join(paths, ", "))
	}
}
