package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/sift/core"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := NewCache(0, 0)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

func TestCache_ResourceUsersRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	users := map[core.ID]struct{}{1: {}, 2: {}}
	cache.SetResourceUsers("acme", "doc-1", core.ResourceTypeDocument, users)
	cache.Wait()

	got, found := cache.GetResourceUsers("acme", "doc-1", core.ResourceTypeDocument)
	require.True(t, found)
	assert.Equal(t, users, got)

	// Same resource ID under a different tenant is a different entry.
	_, found = cache.GetResourceUsers("other", "doc-1", core.ResourceTypeDocument)
	assert.False(t, found)

	// Same ID, different resource type.
	_, found = cache.GetResourceUsers("acme", "doc-1", core.ResourceTypeEmail)
	assert.False(t, found)
}

func TestCache_PurgeIsVisibleAfterWait(t *testing.T) {
	cache := newTestCache(t)

	cache.SetUserResources("acme", 7, map[core.ResourceKey]struct{}{
		{ResourceID: "doc-1", ResourceType: core.ResourceTypeDocument}: {},
	})
	cache.Wait()
	_, found := cache.GetUserResources("acme", 7)
	require.True(t, found)

	cache.PurgeUser("acme", 7)
	cache.Wait()
	_, found = cache.GetUserResources("acme", 7)
	assert.False(t, found)
}

func TestCache_GroupExpansion(t *testing.T) {
	cache := newTestCache(t)

	expansion := &GroupExpansion{
		Members: map[core.ID]struct{}{11: {}},
		Groups:  []string{"eng", "platform"},
	}
	cache.SetGroupExpansion("acme", "gdrive", "eng", expansion)
	cache.Wait()

	got, found := cache.GetGroupExpansion("acme", "gdrive", "eng")
	require.True(t, found)
	assert.Equal(t, expansion, got)

	cache.PurgeGroup("acme", "gdrive", "eng")
	cache.Wait()
	_, found = cache.GetGroupExpansion("acme", "gdrive", "eng")
	assert.False(t, found)
}

func TestCache_EmptySetIsCacheable(t *testing.T) {
	cache := newTestCache(t)

	// A resource nobody may read caches as an empty set, not a miss;
	// negative answers must be as cheap as positive ones.
	cache.SetResourceUsers("acme", "doc-locked", core.ResourceTypeDocument, map[core.ID]struct{}{})
	cache.Wait()

	got, found := cache.GetResourceUsers("acme", "doc-locked", core.ResourceTypeDocument)
	require.True(t, found)
	assert.Empty(t, got)
}
