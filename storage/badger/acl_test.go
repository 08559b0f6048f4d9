package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

func newACL(tenantID, resourceID string, version uint64, users []core.ID, groups []string) *core.ExpandedACL {
	return &core.ExpandedACL{
		TenantID:         tenantID,
		ResourceID:       resourceID,
		ResourceType:     core.ResourceTypeDocument,
		AllowedUserIDs:   users,
		SourceGroups:     groups,
		ExpansionVersion: version,
		ExpandedAt:       time.Now().UTC(),
	}
}

func TestACLRepository_PutAndGet(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, err = store.ACLs.GetExpandedACL(ctx, "acme", "doc-1", core.ResourceTypeDocument)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	acl := newACL("acme", "doc-1", 1, []core.ID{10, 20}, []string{"eng"})
	require.NoError(t, store.ACLs.PutExpandedACL(ctx, acl, 0))

	got, err := store.ACLs.GetExpandedACL(ctx, "acme", "doc-1", core.ResourceTypeDocument)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.ExpansionVersion)
	assert.ElementsMatch(t, []core.ID{10, 20}, got.AllowedUserIDs)
	assert.Equal(t, []string{"eng"}, got.SourceGroups)
}

func TestACLRepository_VersionConflict(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.ACLs.PutExpandedACL(ctx, newACL("acme", "doc-1", 1, []core.ID{10}, nil), 0))

	// A writer that read version 0 lost the race and must be rejected.
	err = store.ACLs.PutExpandedACL(ctx, newACL("acme", "doc-1", 1, []core.ID{99}, nil), 0)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	// The stored row is untouched.
	got, err := store.ACLs.GetExpandedACL(ctx, "acme", "doc-1", core.ResourceTypeDocument)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{10}, got.AllowedUserIDs)

	// A writer that read version 1 succeeds.
	require.NoError(t, store.ACLs.PutExpandedACL(ctx, newACL("acme", "doc-1", 2, []core.ID{99}, nil), 1))
}

func TestACLRepository_ReverseIndexes(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.ACLs.PutExpandedACL(ctx, newACL("acme", "doc-1", 1, []core.ID{10, 20}, []string{"eng"}), 0))
	require.NoError(t, store.ACLs.PutExpandedACL(ctx, newACL("acme", "doc-2", 1, []core.ID{10}, []string{"eng", "sales"}), 0))

	docKey := func(id string) core.ResourceKey {
		return core.ResourceKey{ResourceID: id, ResourceType: core.ResourceTypeDocument}
	}

	resources, err := store.ACLs.GetResourcesForUser(ctx, "acme", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ResourceKey{docKey("doc-1"), docKey("doc-2")}, resources)

	resources, err = store.ACLs.GetResourcesForUser(ctx, "acme", 20)
	require.NoError(t, err)
	assert.Equal(t, []core.ResourceKey{docKey("doc-1")}, resources)

	resources, err = store.ACLs.GetResourcesForGroup(ctx, "acme", "eng")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ResourceKey{docKey("doc-1"), docKey("doc-2")}, resources)

	// Removing user 20 from doc-1 must remove its index entry.
	require.NoError(t, store.ACLs.PutExpandedACL(ctx, newACL("acme", "doc-1", 2, []core.ID{10}, []string{"eng"}), 1))
	resources, err = store.ACLs.GetResourcesForUser(ctx, "acme", 20)
	require.NoError(t, err)
	assert.Empty(t, resources)

	// Tenants do not leak into each other's indexes.
	resources, err = store.ACLs.GetResourcesForUser(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestACLRepository_Delete(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.ACLs.PutExpandedACL(ctx, newACL("acme", "doc-1", 1, []core.ID{10}, []string{"eng"}), 0))
	require.NoError(t, store.ACLs.DeleteExpandedACL(ctx, "acme", "doc-1", core.ResourceTypeDocument))

	_, err = store.ACLs.GetExpandedACL(ctx, "acme", "doc-1", core.ResourceTypeDocument)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	resources, err := store.ACLs.GetResourcesForUser(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Empty(t, resources)

	// Deleting a missing row is not an error.
	assert.NoError(t, store.ACLs.DeleteExpandedACL(ctx, "acme", "doc-1", core.ResourceTypeDocument))
}
