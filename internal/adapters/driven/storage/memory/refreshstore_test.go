package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestRefreshStore_SaveAndGet(t *testing.T) {
	store := NewRefreshStore()
	ctx := context.Background()

	ids := []string{"c.00000"}
	require.NoError(t, store.Save(ctx, domain.RefreshStats{
		CycleID:  "c",
		State:    domain.RefreshEmbedding,
		BatchIDs: ids,
	}))
	ids[0] = "mutated"

	got, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.RefreshEmbedding, got.State)
	assert.Equal(t, []string{"c.00000"}, got.BatchIDs)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, store.Save(ctx, domain.RefreshStats{}), domain.ErrInvalidInput)
}

func TestRefreshStore_ListNewestFirst(t *testing.T) {
	store := NewRefreshStore()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.Save(ctx, domain.RefreshStats{
			CycleID:   id,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	cycles, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "new", cycles[0].CycleID)
	assert.Equal(t, "mid", cycles[1].CycleID)
}
