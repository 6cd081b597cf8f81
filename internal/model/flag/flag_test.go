package flag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreListsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Flag{ID: "a", Timestamp: "2026-10-19T09:00:00.000Z"}))
	require.NoError(t, store.Save(ctx, Flag{ID: "b", Timestamp: "2026-10-19T11:00:00.000Z"}))
	require.NoError(t, store.Save(ctx, Flag{ID: "c", Timestamp: "2026-10-19T10:00:00.000Z"}))

	flags, err := store.List(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(flags))
	for _, f := range flags {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

func TestMemoryStoreListReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, Flag{ID: "a", FlaggedText: "original"}))

	flags, err := store.List(ctx)
	require.NoError(t, err)
	flags[0].FlaggedText = "mutated"

	again, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].FlaggedText)
}
