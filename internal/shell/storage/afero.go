package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/artpar/layerpack/internal/core/domain"
)

// =============================================================================
// AferoBackend
// =============================================================================

// AferoBackend implements Backend on an afero filesystem.
type AferoBackend struct {
	fs   afero.Fs
	root string // OS directory for local backends, "" otherwise
	name string
}

var (
	_ Backend = (*AferoBackend)(nil)
	_ Locator = (*AferoBackend)(nil)
)

// NewLocalBackend creates a backend rooted at an OS directory, creating the
// directory if needed.
func NewLocalBackend(root string) (*AferoBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, NewBackendError("NewLocalBackend", root, err.Error(), ErrInvalidPath)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, NewBackendError("NewLocalBackend", abs, err.Error(), err)
	}
	return &AferoBackend{
		fs:   afero.NewBasePathFs(afero.NewOsFs(), abs),
		root: abs,
		name: "local:" + abs,
	}, nil
}

// NewMemoryBackend creates an in-memory backend.
func NewMemoryBackend() *AferoBackend {
	return NewAferoBackend(afero.NewMemMapFs())
}

// NewAferoBackend wraps an arbitrary afero filesystem.
func NewAferoBackend(fsys afero.Fs) *AferoBackend {
	return &AferoBackend{fs: fsys, name: "afero:" + fsys.Name()}
}

func (b *AferoBackend) String() string {
	return b.name
}

// RealPath returns the OS path of p. Only backends created with
// NewLocalBackend have one.
func (b *AferoBackend) RealPath(p string) (string, bool) {
	if b.root == "" {
		return "", false
	}
	return filepath.Join(b.root, filepath.FromSlash(domain.CleanPath(p))), true
}

// Close is a no-op.
func (b *AferoBackend) Close() error {
	return nil
}

// fsPath maps a backend path to the afero path.
func fsPath(p string) string {
	return "/" + domain.CleanPath(p)
}

func (b *AferoBackend) Stat(ctx context.Context, p string) (Entry, error) {
	p = domain.CleanPath(p)
	info, err := b.fs.Stat(fsPath(p))
	if err != nil {
		return Entry{}, b.wrap("Stat", p, err)
	}
	return toEntry(p, info), nil
}

func (b *AferoBackend) List(ctx context.Context, dir string) ([]Entry, error) {
	dir = domain.CleanPath(dir)
	info, err := b.fs.Stat(fsPath(dir))
	if err != nil {
		return nil, b.wrap("List", dir, err)
	}
	if !info.IsDir() {
		return nil, NewBackendError("List", dir, "not a directory", ErrNotDir)
	}

	infos, err := afero.ReadDir(b.fs, fsPath(dir))
	if err != nil {
		return nil, b.wrap("List", dir, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, toEntry(path.Join(dir, fi.Name()), fi))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func (b *AferoBackend) Read(ctx context.Context, p string) ([]byte, error) {
	p = domain.CleanPath(p)
	info, err := b.fs.Stat(fsPath(p))
	if err != nil {
		return nil, b.wrap("Read", p, err)
	}
	if info.IsDir() {
		return nil, NewBackendError("Read", p, "is a directory", ErrIsDir)
	}
	data, err := afero.ReadFile(b.fs, fsPath(p))
	if err != nil {
		return nil, b.wrap("Read", p, err)
	}
	return data, nil
}

func (b *AferoBackend) Write(ctx context.Context, p string, data []byte) error {
	p = domain.CleanPath(p)
	if p == "" {
		return NewBackendError("Write", p, "cannot write to the root", ErrInvalidPath)
	}
	if info, err := b.fs.Stat(fsPath(p)); err == nil && info.IsDir() {
		return NewBackendError("Write", p, "is a directory", ErrIsDir)
	}
	if err := b.MkdirAll(ctx, path.Dir(p)); err != nil {
		return err
	}
	if err := afero.WriteFile(b.fs, fsPath(p), data, 0o644); err != nil {
		return b.wrap("Write", p, err)
	}
	return nil
}

func (b *AferoBackend) MkdirAll(ctx context.Context, dir string) error {
	dir = domain.CleanPath(dir)
	if dir == "" || dir == "." {
		return nil
	}
	// MemMapFs happily nests directories below files, so check every
	// ancestor up front.
	cur := ""
	for _, seg := range strings.Split(dir, "/") {
		cur = path.Join(cur, seg)
		info, err := b.fs.Stat(fsPath(cur))
		if err != nil {
			break
		}
		if !info.IsDir() {
			return NewBackendError("MkdirAll", cur, "not a directory", ErrNotDir)
		}
	}
	if err := b.fs.MkdirAll(fsPath(dir), 0o755); err != nil {
		return b.wrap("MkdirAll", dir, err)
	}
	return nil
}

func (b *AferoBackend) Delete(ctx context.Context, p string) error {
	p = domain.CleanPath(p)
	if p == "" {
		return NewBackendError("Delete", p, "cannot delete the root", ErrInvalidPath)
	}
	if err := b.fs.RemoveAll(fsPath(p)); err != nil {
		return b.wrap("Delete", p, err)
	}
	return nil
}

// Rename moves a tree. On the OS filesystem this is a single rename(2); on
// other filesystems directories are copied and the source removed.
func (b *AferoBackend) Rename(ctx context.Context, from, to string) error {
	from, to = domain.CleanPath(from), domain.CleanPath(to)
	if err := checkRename(from, to); err != nil {
		return err
	}

	info, err := b.fs.Stat(fsPath(from))
	if err != nil {
		return b.wrap("Rename", from, err)
	}
	if _, err := b.fs.Stat(fsPath(to)); err == nil {
		return NewBackendError("Rename", to, "target exists", ErrExists)
	}
	if err := b.MkdirAll(ctx, path.Dir(to)); err != nil {
		return err
	}

	if info.IsDir() && b.root == "" {
		if _, err := CopyTree(ctx, b, from, to, nil); err != nil {
			return err
		}
		return b.Delete(ctx, from)
	}
	if err := b.fs.Rename(fsPath(from), fsPath(to)); err != nil {
		return b.wrap("Rename", from, err)
	}
	return nil
}

func (b *AferoBackend) wrap(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return NewBackendError(op, p, "not found", ErrNotFound)
	}
	return NewBackendError(op, p, err.Error(), err)
}

func toEntry(p string, fi fs.FileInfo) Entry {
	e := Entry{
		Path:    p,
		Name:    path.Base(p),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime(),
	}
	if p == "" {
		e.Name = ""
	}
	if !e.IsDir {
		e.Size = fi.Size()
	}
	return e
}

// checkRename rejects renames of the root and into the source's own subtree.
func checkRename(from, to string) error {
	switch {
	case from == "" || to == "":
		return NewBackendError("Rename", from, "cannot rename the root", ErrInvalidPath)
	case from == to:
		return NewBackendError("Rename", to, "target exists", ErrExists)
	case len(to) > len(from) && to[:len(from)+1] == from+"/":
		return NewBackendError("Rename", to, "cannot move a tree into itself", ErrInvalidPath)
	}
	return nil
}
