// Package storetest holds a conformance suite shared by every
// driven.ObjectStore implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Run executes the conformance suite against stores created by newStore.
func Run(t *testing.T, newStore func(t *testing.T) driven.ObjectStore) {
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "batches/c1/c1.00000.bin", []byte("one")))

		got, err := s.Get(ctx, "batches/c1/c1.00000.bin")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got)
	})

	t.Run("PutReplaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, domain.LatestPointerKey, []byte("v-1")))
		require.NoError(t, s.Put(ctx, domain.LatestPointerKey, []byte("v-2")))

		got, err := s.Get(ctx, domain.LatestPointerKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("v-2"), got)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "indexes/none/index.bin")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ListByPrefixSorted", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{
			"indexes/v-b/index.bin",
			"indexes/v-a/metadata.bin",
			"indexes/v-a/index.bin",
			"indexes/latest",
			"batches/c/c.00000.bin",
		} {
			require.NoError(t, s.Put(ctx, k, []byte(k)))
		}

		keys, err := s.List(ctx, "indexes/v-a/")
		require.NoError(t, err)
		assert.Equal(t, []string{"indexes/v-a/index.bin", "indexes/v-a/metadata.bin"}, keys)

		keys, err = s.List(ctx, "indexes/")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"indexes/latest",
			"indexes/v-a/index.bin",
			"indexes/v-a/metadata.bin",
			"indexes/v-b/index.bin",
		}, keys)

		keys, err = s.List(ctx, "nothing/")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "indexes/v-a/index.bin", []byte("x")))
		require.NoError(t, s.Delete(ctx, "indexes/v-a/index.bin"))
		require.NoError(t, s.Delete(ctx, "indexes/v-a/index.bin"))

		_, err := s.Get(ctx, "indexes/v-a/index.bin")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ReturnedDataIsNotAliased", func(t *testing.T) {
		s := newStore(t)
		data := []byte("abc")
		require.NoError(t, s.Put(ctx, "k/blob", data))
		data[0] = 'z'

		got, err := s.Get(ctx, "k/blob")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, fmt.Sprintf("batches/c/c.%05d.bin", i), []byte{byte(i)}))
			}(i)
		}
		wg.Wait()

		keys, err := s.List(ctx, "batches/c/")
		require.NoError(t, err)
		assert.Len(t, keys, 16)
	})
}
