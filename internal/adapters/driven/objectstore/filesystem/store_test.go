package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/objectstore/storetest"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) driven.ObjectStore { return newTestStore(t) })
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "/abs/path", "a/../../b", "indexes/.tmp-x"} {
		err := s.Put(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "key %q", key)
	}
}

func TestStore_ListSkipsTempFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "indexes/v-a/index.bin", []byte("x")))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "indexes", "v-a", tempPrefix+"123"), []byte("partial"), 0o600))

	keys, err := s.List(ctx, "indexes/")
	require.NoError(t, err)
	assert.Equal(t, []string{"indexes/v-a/index.bin"}, keys)
}

func TestStore_DeletePrunesEmptyDirectories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "indexes/v-a/index.bin", []byte("x")))
	require.NoError(t, s.Put(ctx, "indexes/v-a/metadata.bin", []byte("y")))
	require.NoError(t, s.Put(ctx, "indexes/latest", []byte("v-a")))

	require.NoError(t, s.Delete(ctx, "indexes/v-a/index.bin"))
	assert.DirExists(t, filepath.Join(s.Root(), "indexes", "v-a"))

	require.NoError(t, s.Delete(ctx, "indexes/v-a/metadata.bin"))
	assert.NoDirExists(t, filepath.Join(s.Root(), "indexes", "v-a"))
	assert.FileExists(t, filepath.Join(s.Root(), "indexes", "latest"))
	assert.DirExists(t, s.Root())
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "batches/c/c.00000.bin", []byte("vectors")))

	second, err := NewStore(dir)
	require.NoError(t, err)
	got, err := second.Get(ctx, "batches/c/c.00000.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("vectors"), got)
}
