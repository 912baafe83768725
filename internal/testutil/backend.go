package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artpar/layerpack/internal/shell/storage"
)

// ErrInjected is returned by FaultyBackend for failing operations.
var ErrInjected = errors.New("injected I/O failure")

// FaultyBackend wraps a backend and fails selected operations.
//
// A rule matches an operation name ("Write", "Delete", ...) and a path
// prefix. Rules are checked on every call, so tests can add and clear them
// between steps.
type FaultyBackend struct {
	storage.Backend

	mu    sync.Mutex
	rules map[string][]string
}

// NewFaultyBackend wraps b.
func NewFaultyBackend(b storage.Backend) *FaultyBackend {
	return &FaultyBackend{Backend: b, rules: make(map[string][]string)}
}

// Fail makes op fail for every path equal to or below prefix.
func (f *FaultyBackend) Fail(op, prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[op] = append(f.rules[op], prefix)
}

// Clear removes all rules.
func (f *FaultyBackend) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[string][]string)
}

func (f *FaultyBackend) fails(op, p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, prefix := range f.rules[op] {
		if p == prefix || strings.HasPrefix(p, prefix+"/") || prefix == "" {
			return true
		}
	}
	return false
}

func (f *FaultyBackend) Read(ctx context.Context, p string) ([]byte, error) {
	if f.fails("Read", p) {
		return nil, ErrInjected
	}
	return f.Backend.Read(ctx, p)
}

func (f *FaultyBackend) Write(ctx context.Context, p string, data []byte) error {
	if f.fails("Write", p) {
		return ErrInjected
	}
	return f.Backend.Write(ctx, p, data)
}

func (f *FaultyBackend) MkdirAll(ctx context.Context, p string) error {
	if f.fails("MkdirAll", p) {
		return ErrInjected
	}
	return f.Backend.MkdirAll(ctx, p)
}

func (f *FaultyBackend) Delete(ctx context.Context, p string) error {
	if f.fails("Delete", p) {
		return ErrInjected
	}
	return f.Backend.Delete(ctx, p)
}

func (f *FaultyBackend) Rename(ctx context.Context, from, to string) error {
	if f.fails("Rename", from) || f.fails("Rename", to) {
		return ErrInjected
	}
	return f.Backend.Rename(ctx, from, to)
}

func (f *FaultyBackend) List(ctx context.Context, p string) ([]storage.Entry, error) {
	if f.fails("List", p) {
		return nil, ErrInjected
	}
	return f.Backend.List(ctx, p)
}

// WriteFiles writes every path → content pair into b.
func WriteFiles(t *testing.T, b storage.Backend, files map[string]string) {
	t.Helper()
	for p, content := range files {
		require.NoError(t, b.Write(context.Background(), p, []byte(content)))
	}
}

// ReadTree returns every file below root keyed by relative path.
func ReadTree(t *testing.T, b storage.Backend, root string) map[string]string {
	t.Helper()
	ctx := context.Background()
	idx, err := storage.Index(ctx, b, root)
	require.NoError(t, err)

	out := make(map[string]string, len(idx))
	for rel, loc := range idx {
		data, err := b.Read(ctx, loc)
		require.NoError(t, err)
		out[rel] = string(data)
	}
	return out
}

// Paths returns the sorted keys of a tree.
func Paths(tree map[string]string) []string {
	out := make([]string, 0, len(tree))
	for p := range tree {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
