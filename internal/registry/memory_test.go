package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"fab/enumerator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Registry {
		return NewMemoryRegistry()
	})
}

func TestMemoryRegistry_ClaimExpires(t *testing.T) {
	reg := NewMemoryRegistry()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	ctx := context.Background()
	claimed, err := reg.ClaimPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	now = now.Add(2 * time.Minute)
	claimed, err = reg.ClaimPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "expired claim should be taken over")
}

func TestMemoryRegistry_RenewKeepsClaimPastTTL(t *testing.T) {
	reg := NewMemoryRegistry()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	other := reg.WithOwner("other")

	ctx := context.Background()
	claimed, err := reg.ClaimPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	for i := 0; i < 5; i++ {
		now = now.Add(40 * time.Second)
		renewed, err := reg.RenewPartition(ctx, "p", time.Minute)
		require.NoError(t, err)
		require.True(t, renewed)
	}

	claimed, err = other.ClaimPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "a renewed claim must not be taken over")
}

func TestMemoryRegistry_ExpiredOwnerCannotTouchSuccessor(t *testing.T) {
	reg := NewMemoryRegistry()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	first, second := reg.WithOwner("first"), reg.WithOwner("second")

	ctx := context.Background()
	claimed, err := first.ClaimPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	// Claims of another owner are neither renewed nor released
	renewed, err := second.RenewPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
	require.NoError(t, second.ReleasePartition(ctx, "p"))
	claimed, err = second.ClaimPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	now = now.Add(2 * time.Minute)
	claimed, err = second.ClaimPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	renewed, err = first.RenewPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed, "an expired claim is lost for good")

	require.NoError(t, first.ReleasePartition(ctx, "p"))
	claimed, err = first.ClaimPartition(ctx, "p", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "the successor's claim survives the old owner's release")
}

func TestMemoryRegistry_ConcurrentAddCategory(t *testing.T) {
	reg := NewMemoryRegistry()
	node := domain.CategoryNode{Name: "Props", TypePath: "3d-model/props"}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := reg.AddCategory(context.Background(), node)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, added)
}
