package registry

import (
	"context"
	"testing"
	"time"

	"fab/enumerator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the behaviour every backend must share.
func runContract(t *testing.T, newRegistry func(t *testing.T) Registry) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("AddCategoryIsWriteOnce", func(t *testing.T) {
		reg := newRegistry(t)
		node := domain.CategoryNode{Name: "Characters", TypePath: "3d-model/characters", ItemCount: 120, DiscoveredAt: base}

		added, err := reg.AddCategory(ctx, node)
		require.NoError(t, err)
		assert.True(t, added)

		changed := node
		changed.ItemCount = 999
		added, err = reg.AddCategory(ctx, changed)
		require.NoError(t, err)
		assert.False(t, added)

		nodes, err := reg.Categories(ctx)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, 120, nodes[0].ItemCount)
	})

	t.Run("CategoriesInDiscoveryOrder", func(t *testing.T) {
		reg := newRegistry(t)
		names := []string{"Zeta", "Alpha", "Mid"}
		for i, name := range names {
			_, err := reg.AddCategory(ctx, domain.CategoryNode{
				Name:         name,
				TypePath:     "3d-model/" + name,
				DiscoveredAt: base.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
		}

		nodes, err := reg.Categories(ctx)
		require.NoError(t, err)
		require.Len(t, nodes, 3)
		for i, name := range names {
			assert.Equal(t, name, nodes[i].Name)
		}
	})

	t.Run("Expansion", func(t *testing.T) {
		reg := newRegistry(t)
		url := "https://example.com/category/3d-model"

		expanded, err := reg.IsExpanded(ctx, url)
		require.NoError(t, err)
		assert.False(t, expanded)

		require.NoError(t, reg.MarkExpanded(ctx, url))
		require.NoError(t, reg.MarkExpanded(ctx, url))

		expanded, err = reg.IsExpanded(ctx, url)
		require.NoError(t, err)
		assert.True(t, expanded)
	})

	t.Run("PartitionOutcomeFirstWins", func(t *testing.T) {
		reg := newRegistry(t)
		key := "Characters - 3d-model/characters|0-1|-relevance"

		outcome, err := reg.PartitionOutcome(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, outcome)

		require.NoError(t, reg.CompletePartition(ctx, domain.PartitionOutcome{
			Key: key, Termination: domain.TerminationExhausted, Pages: 3, Items: 25,
		}))
		require.NoError(t, reg.CompletePartition(ctx, domain.PartitionOutcome{
			Key: key, Termination: domain.TerminationEmpty,
		}))

		outcome, err = reg.PartitionOutcome(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, outcome)
		assert.Equal(t, domain.TerminationExhausted, outcome.Termination)
		assert.Equal(t, 25, outcome.Items)
	})

	t.Run("ClaimIsExclusiveUntilReleased", func(t *testing.T) {
		reg := newRegistry(t)
		key := "Characters - 3d-model/characters|any|-relevance"

		claimed, err := reg.ClaimPartition(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = reg.ClaimPartition(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed)

		require.NoError(t, reg.ReleasePartition(ctx, key))

		claimed, err = reg.ClaimPartition(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
	})
	t.Run("RenewOnlyWhileHeld", func(t *testing.T) {
		reg := newRegistry(t)
		key := "Characters - 3d-model/characters|0-1|price"

		renewed, err := reg.RenewPartition(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.False(t, renewed, "nothing to renew before a claim")

		claimed, err := reg.ClaimPartition(ctx, key, time.Minute)
		require.NoError(t, err)
		require.True(t, claimed)

		renewed, err = reg.RenewPartition(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, renewed)

		require.NoError(t, reg.ReleasePartition(ctx, key))

		renewed, err = reg.RenewPartition(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.False(t, renewed)
	})
}
