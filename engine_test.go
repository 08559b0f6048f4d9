package sift

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/sift/ai/mock"
	"github.com/poiesic/sift/compose"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/search"
)

const (
	testTenant   = "acme"
	testProvider = "gdrive"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewMemoryEngine(WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func addUser(t *testing.T, engine *Engine, email string) core.ID {
	t.Helper()
	ctx := context.Background()
	userID := core.IDFromContent(testTenant + "\x00" + email)
	require.NoError(t, engine.IdentityRepository().PutUser(ctx, &core.User{
		ID: userID, TenantID: testTenant, Email: email,
	}))
	require.NoError(t, engine.IdentityRepository().PutLink(ctx, &core.IdentityLink{
		TenantID: testTenant, Provider: testProvider, ExternalID: email,
		UserID: userID, Verified: true,
	}))
	return userID
}

func addResource(t *testing.T, engine *Engine, resourceID, content string, grantedTo ...string) {
	t.Helper()
	ctx := context.Background()

	vector, err := engine.Provider().Embedder().EmbedText(ctx, content)
	require.NoError(t, err)
	_, err = engine.ChunkRepository().AddChunks(ctx, &core.Chunk{
		TenantID:     testTenant,
		ResourceID:   resourceID,
		ResourceType: core.ResourceTypeDocument,
		Content:      content,
		Vector:       vector,
	})
	require.NoError(t, err)

	grants := make([]*core.GrantEntry, 0, len(grantedTo))
	for _, email := range grantedTo {
		grants = append(grants, &core.GrantEntry{
			TenantID:      testTenant,
			PrincipalID:   email,
			PrincipalType: core.PrincipalTypeUser,
			Provider:      testProvider,
			Permission:    core.PermissionRead,
		})
	}
	require.NoError(t, engine.ACL().ApplyGrants(ctx, testTenant, resourceID, core.ResourceTypeDocument, grants))
	require.NoError(t, engine.ACL().Recompute(ctx, testTenant, resourceID, core.ResourceTypeDocument))
}

func TestEngine_PermissionAwareRetrieval(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	alice := addUser(t, engine, "alice@example.com")
	bob := addUser(t, engine, "bob@example.com")

	addResource(t, engine, "doc-open",
		"The travel policy allows economy flights under six hours.",
		"alice@example.com", "bob@example.com")
	addResource(t, engine, "doc-secret",
		"The travel budget for the acquisition trip is confidential.",
		"bob@example.com")

	query := "what does the travel policy say"

	aliceHits, err := engine.Retriever().Retrieve(ctx, testTenant, alice, query, 10, search.Filters{})
	require.NoError(t, err)
	require.Len(t, aliceHits, 1)
	assert.Equal(t, "doc-open", aliceHits[0].ResourceID)

	bobHits, err := engine.Retriever().Retrieve(ctx, testTenant, bob, query, 10, search.Filters{})
	require.NoError(t, err)
	assert.Len(t, bobHits, 2)
}

func TestEngine_RevocationIsImmediate(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	alice := addUser(t, engine, "alice@example.com")
	addResource(t, engine, "doc-1",
		"Vacation requests go through the HR portal.",
		"alice@example.com")

	hits, err := engine.Retriever().Retrieve(ctx, testTenant, alice, "vacation requests", 5, search.Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// Revoke and recompute; the very next query must come back empty.
	require.NoError(t, engine.ACL().ApplyGrants(ctx, testTenant, "doc-1", core.ResourceTypeDocument, nil))
	require.NoError(t, engine.ACL().Recompute(ctx, testTenant, "doc-1", core.ResourceTypeDocument))

	hits, err = engine.Retriever().Retrieve(ctx, testTenant, alice, "vacation requests", 5, search.Filters{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEngine_AskFlow(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	alice := addUser(t, engine, "alice@example.com")
	addResource(t, engine, "doc-1",
		"Expense reports are due by the fifth of each month.",
		"alice@example.com")

	hits, err := engine.Retriever().Retrieve(ctx, testTenant, alice, "when are expense reports due", 5, search.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	builder, err := engine.NewBuilder(compose.WithTokenCounter(func(text string) int {
		return len(strings.Fields(text))
	}))
	require.NoError(t, err)

	built, err := builder.BuildContext(hits, 200)
	require.NoError(t, err)
	require.Len(t, built.Chunks, 1)

	prompt := builder.RenderPrompt("When are expense reports due?", built)
	assert.Contains(t, prompt, "[1]")

	answer, err := engine.Provider().Generator().Generate(ctx, prompt)
	require.NoError(t, err)

	citations := builder.VerifyCitations(answer, builder.ExtractCitations(answer, built.Chunks), built.Chunks)
	require.Len(t, citations, 1)
	assert.Equal(t, "doc-1", citations[0].ResourceID)
}
