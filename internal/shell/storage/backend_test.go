package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/layerpack/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

type backendFactory struct {
	name string
	open func(t *testing.T) Backend
}

func backends() []backendFactory {
	return []backendFactory{
		{"memory", func(t *testing.T) Backend { return NewMemoryBackend() }},
		{"local", func(t *testing.T) Backend {
			b, err := NewLocalBackend(t.TempDir())
			require.NoError(t, err)
			return b
		}},
		{"sqlite", func(t *testing.T) Backend { return setupTestSQLite(t) }},
	}
}

func setupTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Close()
	})
	return b
}

// forEachBackend runs fn against every backend implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for _, f := range backends() {
		t.Run(f.name, func(t *testing.T) {
			fn(t, f.open(t))
		})
	}
}

func write(t *testing.T, b Backend, p, content string) {
	t.Helper()
	require.NoError(t, b.Write(context.Background(), p, []byte(content)))
}

// =============================================================================
// Backend Contract
// =============================================================================

func TestBackend_WriteRead(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "a/b/c.txt", "hello")

		data, err := b.Read(ctx, "a/b/c.txt")
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))

		info, err := b.Stat(ctx, "a/b")
		require.NoError(t, err)
		assert.True(t, info.IsDir)

		write(t, b, "a/b/c.txt", "replaced")
		data, err = b.Read(ctx, "/a//b/./c.txt")
		require.NoError(t, err)
		assert.Equal(t, "replaced", string(data))
	})
}

func TestBackend_EmptyFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "empty.txt", "")

		data, err := b.Read(ctx, "empty.txt")
		require.NoError(t, err)
		assert.Empty(t, data)

		info, err := b.Stat(ctx, "empty.txt")
		require.NoError(t, err)
		assert.False(t, info.IsDir)
		assert.Equal(t, int64(0), info.Size)
	})
}

func TestBackend_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		_, err := b.Stat(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = b.Read(ctx, "missing.txt")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = b.List(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBackend_TypeMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "dir/file.txt", "x")

		_, err := b.Read(ctx, "dir")
		assert.ErrorIs(t, err, ErrIsDir)

		_, err = b.List(ctx, "dir/file.txt")
		assert.ErrorIs(t, err, ErrNotDir)

		err = b.Write(ctx, "dir", []byte("x"))
		assert.ErrorIs(t, err, ErrIsDir)

		err = b.MkdirAll(ctx, "dir/file.txt/sub")
		assert.ErrorIs(t, err, ErrNotDir)
	})
}

func TestBackend_ListSorted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "root/b.txt", "bb")
		write(t, b, "root/a.txt", "a")
		write(t, b, "root/sub/c.txt", "c")

		entries, err := b.List(ctx, "root")
		require.NoError(t, err)
		require.Len(t, entries, 3)

		assert.Equal(t, "a.txt", entries[0].Name)
		assert.Equal(t, "root/a.txt", entries[0].Path)
		assert.Equal(t, int64(1), entries[0].Size)
		assert.Equal(t, "b.txt", entries[1].Name)
		assert.Equal(t, "sub", entries[2].Name)
		assert.True(t, entries[2].IsDir)
	})
}

func TestBackend_ListRoot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		write(t, b, "x/1.txt", "1")
		write(t, b, "y.txt", "y")

		entries, err := b.List(context.Background(), "")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "x", entries[0].Name)
		assert.Equal(t, "y.txt", entries[1].Name)
	})
}

func TestBackend_DeleteRecursive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "t/runtime/a.txt", "a")
		write(t, b, "t/runtime/sub/b.txt", "b")
		write(t, b, "t/runtime-other/c.txt", "c")

		require.NoError(t, b.Delete(ctx, "t/runtime"))

		_, err := b.Stat(ctx, "t/runtime")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = b.Stat(ctx, "t/runtime/sub/b.txt")
		assert.ErrorIs(t, err, ErrNotFound)

		// Siblings sharing the prefix survive.
		data, err := b.Read(ctx, "t/runtime-other/c.txt")
		require.NoError(t, err)
		assert.Equal(t, "c", string(data))

		// Missing paths are a no-op.
		assert.NoError(t, b.Delete(ctx, "t/never"))
		assert.ErrorIs(t, b.Delete(ctx, ""), ErrInvalidPath)
	})
}

func TestBackend_RenameTree(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "t/.runtime-staging/a.txt", "a")
		write(t, b, "t/.runtime-staging/sub/b.txt", "b")

		require.NoError(t, b.Rename(ctx, "t/.runtime-staging", "t/runtime"))

		_, err := b.Stat(ctx, "t/.runtime-staging")
		assert.ErrorIs(t, err, ErrNotFound)

		data, err := b.Read(ctx, "t/runtime/sub/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "b", string(data))

		entries, err := b.List(ctx, "t/runtime")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a.txt", entries[0].Name)
		assert.Equal(t, "sub", entries[1].Name)

		entries, err = b.List(ctx, "t")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "runtime", entries[0].Name)
	})
}

func TestBackend_RenameFileIntoNewDir(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "a.txt", "a")

		require.NoError(t, b.Rename(ctx, "a.txt", "deep/nested/b.txt"))

		data, err := b.Read(ctx, "deep/nested/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "a", string(data))
	})
}

func TestBackend_RenameErrors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "src/a.txt", "a")
		write(t, b, "dst/b.txt", "b")

		assert.ErrorIs(t, b.Rename(ctx, "src", "dst"), ErrExists)
		assert.ErrorIs(t, b.Rename(ctx, "missing", "other"), ErrNotFound)
		assert.ErrorIs(t, b.Rename(ctx, "src", "src/inner"), ErrInvalidPath)
		assert.ErrorIs(t, b.Rename(ctx, "", "x"), ErrInvalidPath)

		// Nothing moved.
		data, err := b.Read(ctx, "src/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "a", string(data))
	})
}

// =============================================================================
// Tree Helpers
// =============================================================================

func TestIndex_MissingRootIsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		idx, err := Index(context.Background(), b, "acme/customadhoc")
		require.NoError(t, err)
		assert.Empty(t, idx)
		assert.NotNil(t, idx)
	})
}

func TestIndex_Recursive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		write(t, b, "base/Dockerfile", "FROM x")
		write(t, b, "base/config/app.json", "{}")
		write(t, b, "base/config/db/init.sql", "SELECT 1;")
		require.NoError(t, b.MkdirAll(context.Background(), "base/empty"))

		idx, err := Index(context.Background(), b, "base")
		require.NoError(t, err)

		assert.Equal(t, domain.Index{
			"Dockerfile":         "base/Dockerfile",
			"config/app.json":    "base/config/app.json",
			"config/db/init.sql": "base/config/db/init.sql",
		}, idx)
	})
}

func TestIndex_RootIsFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		write(t, b, "base", "oops")

		_, err := Index(context.Background(), b, "base")
		assert.ErrorIs(t, err, ErrNotDir)
	})
}

func TestCopyTree(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		write(t, b, "acme/runtime/a.txt", "aa")
		write(t, b, "acme/runtime/sub/b.txt", "bbb")

		stats, err := CopyTree(ctx, b, "acme/runtime", "acme/snapshots/1.0.0-custom.1", func(data []byte) string {
			return string(data)
		})
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Files)
		assert.Equal(t, int64(5), stats.Bytes)
		assert.Equal(t, map[string]string{"a.txt": "aa", "sub/b.txt": "bbb"}, stats.Digests)

		data, err := b.Read(ctx, "acme/snapshots/1.0.0-custom.1/sub/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "bbb", string(data))

		// Source untouched.
		_, err = b.Stat(ctx, "acme/runtime/a.txt")
		assert.NoError(t, err)
	})
}

func TestListDirs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		write(t, b, "acme/customadhoc/x", "x")
		write(t, b, "globex/runtime/y", "y")
		write(t, b, "README", "r")

		names, err := ListDirs(context.Background(), b, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"acme", "globex"}, names)

		names, err = ListDirs(context.Background(), b, "missing")
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

// =============================================================================
// Backend Specifics
// =============================================================================

func TestLocalBackend_RealPath(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalBackend(dir)
	require.NoError(t, err)

	write(t, b, "acme/customadhoc/app.env", "A=1")

	real, ok := b.RealPath("acme/customadhoc/app.env")
	require.True(t, ok)
	data, err := os.ReadFile(real)
	require.NoError(t, err)
	assert.Equal(t, "A=1", string(data))
	assert.Equal(t, filepath.Join(dir, "acme", "customadhoc", "app.env"), real)

	_, ok = NewMemoryBackend().RealPath("acme")
	assert.False(t, ok)
}

func TestSQLiteBackend_Reopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "layers.db")

	b, err := NewSQLiteBackend(dsn)
	require.NoError(t, err)
	write(t, b, "base/a.txt", "persisted")
	require.NoError(t, b.Close())

	b, err = NewSQLiteBackend(dsn)
	require.NoError(t, err)
	defer b.Close()

	data, err := b.Read(context.Background(), "base/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}

func TestOpen(t *testing.T) {
	b, err := Open(Options{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Contains(t, b.String(), "afero:")

	b, err = Open(Options{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite::memory:", b.String())
	require.NoError(t, b.Close())

	_, err = Open(Options{Driver: "s3"})
	assert.Error(t, err)
}
