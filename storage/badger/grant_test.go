package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/sift/core"
)

func userGrant(tenantID, resourceID, principalID string) *core.GrantEntry {
	return &core.GrantEntry{
		TenantID:      tenantID,
		ResourceID:    resourceID,
		ResourceType:  core.ResourceTypeDocument,
		PrincipalID:   principalID,
		PrincipalType: core.PrincipalTypeUser,
		Permission:    core.PermissionRead,
	}
}

func TestGrantRepository_ReplaceAndGet(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	// Missing resource yields an empty list, not an error.
	grants, err := store.Grants.GetGrants(ctx, "acme", "doc-1", core.ResourceTypeDocument)
	require.NoError(t, err)
	assert.Empty(t, grants)

	first := []*core.GrantEntry{
		userGrant("acme", "doc-1", "alice@example.com"),
		userGrant("acme", "doc-1", "bob@example.com"),
	}
	require.NoError(t, store.Grants.ReplaceGrants(ctx, "acme", "doc-1", core.ResourceTypeDocument, first))

	grants, err = store.Grants.GetGrants(ctx, "acme", "doc-1", core.ResourceTypeDocument)
	require.NoError(t, err)
	require.Len(t, grants, 2)

	// Replacement is wholesale; the superseded entry must not survive.
	second := []*core.GrantEntry{userGrant("acme", "doc-1", "alice@example.com")}
	require.NoError(t, store.Grants.ReplaceGrants(ctx, "acme", "doc-1", core.ResourceTypeDocument, second))

	grants, err = store.Grants.GetGrants(ctx, "acme", "doc-1", core.ResourceTypeDocument)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "alice@example.com", grants[0].PrincipalID)

	// An empty list removes the row.
	require.NoError(t, store.Grants.ReplaceGrants(ctx, "acme", "doc-1", core.ResourceTypeDocument, nil))
	grants, err = store.Grants.GetGrants(ctx, "acme", "doc-1", core.ResourceTypeDocument)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestGrantRepository_TenantAndTypeScoping(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.Grants.ReplaceGrants(ctx, "acme", "r-1", core.ResourceTypeDocument,
		[]*core.GrantEntry{userGrant("acme", "r-1", "alice@example.com")}))

	grants, err := store.Grants.GetGrants(ctx, "other", "r-1", core.ResourceTypeDocument)
	require.NoError(t, err)
	assert.Empty(t, grants)

	// Same ID, different type, is a different resource.
	grants, err = store.Grants.GetGrants(ctx, "acme", "r-1", core.ResourceTypeEmail)
	require.NoError(t, err)
	assert.Empty(t, grants)
}
