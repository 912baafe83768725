package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/artpar/layerpack/internal/core/domain"
)

// maxDepth bounds tree walks. Trees are assumed acyclic; the bound turns a
// cycle into an error instead of a hang.
const maxDepth = 64

// =============================================================================
// Backend Interface
// =============================================================================

// Entry describes one node in the tree.
type Entry struct {
	Path    string
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Backend is a hierarchical tree of named byte blobs.
//
// Paths are slash separated and relative to the backend root; "" is the
// root. Implementations normalise paths with domain.CleanPath.
type Backend interface {
	// String describes the backend for logs.
	String() string

	// Stat returns the entry at p or ErrNotFound.
	Stat(ctx context.Context, p string) (Entry, error)

	// List returns the immediate children of dir sorted by name. It returns
	// ErrNotFound if dir is missing and ErrNotDir if dir is a file.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Read returns the content of the file at p.
	Read(ctx context.Context, p string) ([]byte, error)

	// Write creates or replaces the file at p, creating parent directories.
	Write(ctx context.Context, p string, data []byte) error

	// MkdirAll creates dir and any missing parents.
	MkdirAll(ctx context.Context, dir string) error

	// Delete removes p and everything below it. A missing path is not an
	// error.
	Delete(ctx context.Context, p string) error

	// Rename moves the tree at from to to. It returns ErrExists if to is
	// already present and ErrNotFound if from is missing.
	Rename(ctx context.Context, from, to string) error

	// Close releases backend resources.
	Close() error
}

// Locator is implemented by backends that live on the local filesystem.
type Locator interface {
	// RealPath returns the OS path for a backend path. ok is false when the
	// backend is not backed by the OS filesystem.
	RealPath(p string) (real string, ok bool)
}

// =============================================================================
// Tree Helpers
// =============================================================================

// Index walks root and maps every file's path relative to root to its backend
// path. A missing root is a layer that contributes nothing and yields an
// empty index, not an error.
func Index(ctx context.Context, b Backend, root string) (domain.Index, error) {
	root = domain.CleanPath(root)
	idx := make(domain.Index)

	info, err := b.Stat(ctx, root)
	switch {
	case errors.Is(err, ErrNotFound):
		// Layer not present.
		return idx, nil
	case err != nil:
		return nil, err
	case !info.IsDir:
		return nil, NewBackendError("Index", root, "layer root is a file", ErrNotDir)
	}

	if err := walk(ctx, b, root, "", 0, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func walk(ctx context.Context, b Backend, root, rel string, depth int, idx domain.Index) error {
	if depth > maxDepth {
		return NewBackendError("Index", domain.JoinPath(root, rel), fmt.Sprintf("tree deeper than %d levels", maxDepth), ErrInvalidPath)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := b.List(ctx, domain.JoinPath(root, rel))
	if err != nil {
		return err
	}
	for _, e := range entries {
		childRel := path.Join(rel, e.Name)
		if e.IsDir {
			if err := walk(ctx, b, root, childRel, depth+1, idx); err != nil {
				return err
			}
			continue
		}
		idx[childRel] = domain.JoinPath(root, childRel)
	}
	return nil
}

// TreeStats summarises a copied tree.
type TreeStats struct {
	Files int
	Bytes int64
	// Digests maps relative path to the content digest when a digest
	// function was supplied.
	Digests map[string]string
}

// CopyTree copies every file under from to the same relative path under to.
// digest may be nil.
func CopyTree(ctx context.Context, b Backend, from, to string, digest func([]byte) string) (TreeStats, error) {
	stats := TreeStats{Digests: make(map[string]string)}

	idx, err := Index(ctx, b, from)
	if err != nil {
		return stats, err
	}
	if err := b.MkdirAll(ctx, to); err != nil {
		return stats, err
	}

	for _, e := range idx.Entries() {
		data, err := b.Read(ctx, e.Location)
		if err != nil {
			return stats, err
		}
		if err := b.Write(ctx, domain.JoinPath(to, e.RelativePath), data); err != nil {
			return stats, err
		}
		stats.Files++
		stats.Bytes += int64(len(data))
		if digest != nil {
			stats.Digests[e.RelativePath] = digest(data)
		}
	}
	return stats, nil
}

// ListDirs returns the names of the directories directly below dir. A
// missing dir yields no names.
func ListDirs(ctx context.Context, b Backend, dir string) ([]string, error) {
	entries, err := b.List(ctx, dir)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir {
			names = append(names, e.Name)
		}
	}
	return names, nil
}
