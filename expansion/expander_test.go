package expansion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/identity"
	"github.com/poiesic/sift/storage"
	"github.com/poiesic/sift/storage/badger"
)

const (
	testTenant   = "acme"
	testProvider = "gdrive"
)

type expanderFixture struct {
	store    *badger.Store
	expander *Expander
}

func newFixture(t *testing.T) *expanderFixture {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver, err := identity.NewResolver(store.Identity)
	require.NoError(t, err)
	expander, err := NewExpander(store.Groups, resolver)
	require.NoError(t, err)

	return &expanderFixture{store: store, expander: expander}
}

// addUser stores a user and a verified link so grants naming the email
// resolve directly.
func (fx *expanderFixture) addUser(t *testing.T, email string) core.ID {
	t.Helper()
	ctx := context.Background()
	userID := core.IDFromContent(testTenant + "\x00" + email)
	require.NoError(t, fx.store.Identity.PutUser(ctx, &core.User{
		ID: userID, TenantID: testTenant, Email: email,
	}))
	require.NoError(t, fx.store.Identity.PutLink(ctx, &core.IdentityLink{
		TenantID: testTenant, Provider: testProvider, ExternalID: email,
		UserID: userID, Verified: true,
	}))
	return userID
}

func (fx *expanderFixture) addGroup(t *testing.T, groupID string, users []string, subgroups []string) {
	t.Helper()
	record := &core.GroupRecord{
		TenantID:        testTenant,
		Provider:        testProvider,
		ExternalGroupID: groupID,
		LastSyncedAt:    time.Now().UTC(),
	}
	for _, u := range users {
		record.DirectMembers = append(record.DirectMembers, core.GroupMember{
			PrincipalType: core.PrincipalTypeUser, ExternalID: u,
		})
	}
	for _, g := range subgroups {
		record.DirectMembers = append(record.DirectMembers, core.GroupMember{
			PrincipalType: core.PrincipalTypeGroup, ExternalID: g,
		})
	}
	require.NoError(t, fx.store.Groups.PutGroup(context.Background(), record))
}

func memberIDs(result *Result) []core.ID {
	ids := make([]core.ID, 0, len(result.Members))
	for id := range result.Members {
		ids = append(ids, id)
	}
	return ids
}

func TestExpand_FlatGroup(t *testing.T) {
	fx := newFixture(t)
	alice := fx.addUser(t, "alice@example.com")
	bob := fx.addUser(t, "bob@example.com")
	fx.addGroup(t, "eng", []string{"alice@example.com", "bob@example.com"}, nil)

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "eng")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice, bob}, memberIDs(result))
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.Failed)
}

func TestExpand_NestedGroups(t *testing.T) {
	fx := newFixture(t)
	alice := fx.addUser(t, "alice@example.com")
	bob := fx.addUser(t, "bob@example.com")
	carol := fx.addUser(t, "carol@example.com")

	fx.addGroup(t, "eng", []string{"alice@example.com", "bob@example.com"}, nil)
	fx.addGroup(t, "all", []string{"carol@example.com"}, []string{"eng"})

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "all")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice, bob, carol}, memberIDs(result))
	assert.ElementsMatch(t, []string{"all", "eng"}, result.Groups,
		"nested groups must be reported so their changes can be traced")

	// The nested group's flattened set was cached for reuse, with its
	// own folded-group list.
	cached, err := fx.store.Groups.GetExpandedGroup(context.Background(), testTenant, testProvider, "eng")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice, bob}, cached.MemberUserIDs)
	assert.Equal(t, []string{"eng"}, cached.SourceGroupIDs)

	// The root row records both groups.
	cachedRoot, err := fx.store.Groups.GetExpandedGroup(context.Background(), testTenant, testProvider, "all")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"all", "eng"}, cachedRoot.SourceGroupIDs)
}

func TestExpand_CycleTerminates(t *testing.T) {
	fx := newFixture(t)
	alice := fx.addUser(t, "alice@example.com")
	bob := fx.addUser(t, "bob@example.com")

	// a -> b -> a
	fx.addGroup(t, "group-a", []string{"alice@example.com"}, []string{"group-b"})
	fx.addGroup(t, "group-b", []string{"bob@example.com"}, []string{"group-a"})

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "group-a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice, bob}, memberIDs(result))
	assert.NotEmpty(t, result.Warnings, "cycle should be recorded as a warning")
	assert.Empty(t, result.Failed)
}

func TestExpand_SelfReference(t *testing.T) {
	fx := newFixture(t)
	alice := fx.addUser(t, "alice@example.com")
	fx.addGroup(t, "loop", []string{"alice@example.com"}, []string{"loop"})

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "loop")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice}, memberIDs(result))
	assert.NotEmpty(t, result.Warnings)
}

func TestExpand_DiamondMembership(t *testing.T) {
	fx := newFixture(t)
	alice := fx.addUser(t, "alice@example.com")

	// top -> left -> shared, top -> right -> shared
	fx.addGroup(t, "shared", []string{"alice@example.com"}, nil)
	fx.addGroup(t, "left", nil, []string{"shared"})
	fx.addGroup(t, "right", nil, []string{"shared"})
	fx.addGroup(t, "top", nil, []string{"left", "right"})

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "top")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice}, memberIDs(result))
	assert.Empty(t, result.Warnings)
}

func TestExpand_UnresolvedMemberIsDroppedWithWarning(t *testing.T) {
	fx := newFixture(t)
	alice := fx.addUser(t, "alice@example.com")
	fx.addGroup(t, "eng", []string{"alice@example.com", "ghost-principal"}, nil)

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "eng")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice}, memberIDs(result))
	assert.Len(t, result.Warnings, 1)
	assert.Empty(t, result.Failed, "an unresolved principal is not a fetch failure")
}

func TestExpand_MissingSubgroupFailsSubtreeOnly(t *testing.T) {
	fx := newFixture(t)
	alice := fx.addUser(t, "alice@example.com")
	fx.addGroup(t, "all", []string{"alice@example.com"}, []string{"vanished"})

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "all")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice}, memberIDs(result))
	assert.Equal(t, []string{"vanished"}, result.Failed)

	// Incomplete expansions are not cached, so the failure is retried
	// rather than frozen.
	_, err = fx.store.Groups.GetExpandedGroup(context.Background(), testTenant, testProvider, "all")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExpand_SharedFailedSubtreeIsNotCached(t *testing.T) {
	fx := newFixture(t)
	alice := fx.addUser(t, "alice@example.com")
	// "broken" fails because of a missing subgroup; "wrapper" reaches it
	// only through the per-call memo, since "broken" has already been
	// walked by the time "wrapper" is expanded.
	fx.addGroup(t, "broken", []string{"alice@example.com"}, []string{"vanished"})
	fx.addGroup(t, "wrapper", nil, []string{"broken"})
	fx.addGroup(t, "all", nil, []string{"broken", "wrapper"})

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "all")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{alice}, memberIDs(result))
	assert.Equal(t, []string{"vanished"}, result.Failed)

	// Incompleteness must follow the memoized subtree: neither the
	// failed group nor anything that folded it in may be persisted.
	for _, groupID := range []string{"all", "wrapper", "broken"} {
		_, err := fx.store.Groups.GetExpandedGroup(context.Background(), testTenant, testProvider, groupID)
		assert.ErrorIs(t, err, storage.ErrNotFound, "group %q", groupID)
	}
}

func TestExpand_UnknownRootGroup(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExpand_UsesCachedExpansion(t *testing.T) {
	fx := newFixture(t)

	// A cached row short-circuits traversal even when the group record
	// itself is absent.
	require.NoError(t, fx.store.Groups.PutExpandedGroup(context.Background(), &core.ExpandedGroup{
		TenantID:        testTenant,
		Provider:        testProvider,
		ExternalGroupID: "cached",
		MemberUserIDs:   []core.ID{11, 22},
	}))

	result, err := fx.expander.Expand(context.Background(), testTenant, testProvider, "cached")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{11, 22}, memberIDs(result))
}
