package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage/badger"
)

func newTestResolver(t *testing.T) (*Resolver, *badger.Store) {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver, err := NewResolver(store.Identity)
	require.NoError(t, err)
	return resolver, store
}

func TestNewResolver(t *testing.T) {
	t.Run("nil repository", func(t *testing.T) {
		_, err := NewResolver(nil)
		assert.Equal(t, ErrIdentityRepositoryRequired, err)
	})

	t.Run("valid", func(t *testing.T) {
		resolver, _ := newTestResolver(t)
		assert.NotNil(t, resolver)
	})
}

func TestResolve_LinkMatch(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.Identity.PutLink(ctx, &core.IdentityLink{
		TenantID:   "acme",
		Provider:   "gdrive",
		ExternalID: "principal-9",
		UserID:     31,
		Verified:   true,
	}))

	userID, err := resolver.Resolve(ctx, "acme", "gdrive", "principal-9")
	require.NoError(t, err)
	assert.Equal(t, core.ID(31), userID)
}

func TestResolve_EmailFallbackCreatesUnverifiedLink(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.Identity.PutUser(ctx, &core.User{
		ID:       55,
		TenantID: "acme",
		Email:    "carol@example.com",
	}))

	userID, err := resolver.Resolve(ctx, "acme", "gdrive", "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, core.ID(55), userID)

	// The fallback recorded a link for the audit trail, marked unverified.
	link, err := store.Identity.GetLink(ctx, "acme", "gdrive", "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, core.ID(55), link.UserID)
	assert.False(t, link.Verified)

	// Second resolution hits the link directly.
	userID, err = resolver.Resolve(ctx, "acme", "gdrive", "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, core.ID(55), userID)
}

func TestResolve_NotFound(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	t.Run("opaque ID without link", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "acme", "gdrive", "principal-unknown")
		assert.ErrorIs(t, err, core.ErrPrincipalNotFound)
	})

	t.Run("email without user", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "acme", "gdrive", "nobody@example.com")
		assert.ErrorIs(t, err, core.ErrPrincipalNotFound)
	})

	t.Run("email in wrong tenant", func(t *testing.T) {
		require.NoError(t, store.Identity.PutUser(ctx, &core.User{
			ID:       8,
			TenantID: "globex",
			Email:    "dan@example.com",
		}))
		_, err := resolver.Resolve(ctx, "acme", "gdrive", "dan@example.com")
		assert.ErrorIs(t, err, core.ErrPrincipalNotFound)
	})

	t.Run("empty arguments", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "", "gdrive", "x")
		assert.ErrorIs(t, err, core.ErrEmptyTenant)
		_, err = resolver.Resolve(ctx, "acme", "gdrive", "")
		assert.ErrorIs(t, err, core.ErrEmptyPrincipal)
	})
}
