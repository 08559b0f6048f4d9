package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/sift/ai/mock"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage/badger"
)

// stubAccess allows exactly the listed resources. IsAllowed calls are
// counted so tests can observe the re-query widening the window.
type stubAccess struct {
	allowed map[core.ResourceKey]struct{}
	checks  int
}

func (s *stubAccess) IsAllowed(ctx context.Context, tenantID string, userID core.ID, resourceID string, resourceType core.ResourceType) bool {
	s.checks++
	_, ok := s.allowed[core.ResourceKey{ResourceID: resourceID, ResourceType: resourceType}]
	return ok
}

func (s *stubAccess) GetAllowedResources(ctx context.Context, tenantID string, userID core.ID) (map[core.ResourceKey]struct{}, error) {
	return s.allowed, nil
}

func allowDocs(resourceIDs ...string) *stubAccess {
	allowed := make(map[core.ResourceKey]struct{}, len(resourceIDs))
	for _, id := range resourceIDs {
		allowed[core.ResourceKey{ResourceID: id, ResourceType: core.ResourceTypeDocument}] = struct{}{}
	}
	return &stubAccess{allowed: allowed}
}

func newRetrieverFixture(t *testing.T, access AccessChecker, opts ...RetrieverOption) (*badger.Store, *Retriever) {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fuser, err := NewFuser(store.Chunks)
	require.NoError(t, err)
	retriever, err := NewRetriever(fuser, access, mock.NewMockEmbedder(), opts...)
	require.NoError(t, err)
	return store, retriever
}

func TestNewRetriever_Validation(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	fuser, err := NewFuser(store.Chunks)
	require.NoError(t, err)

	_, err = NewRetriever(nil, allowDocs(), mock.NewMockEmbedder())
	assert.Equal(t, ErrFuserRequired, err)
	_, err = NewRetriever(fuser, nil, mock.NewMockEmbedder())
	assert.Equal(t, ErrAccessCheckerRequired, err)
	_, err = NewRetriever(fuser, allowDocs(), nil)
	assert.Equal(t, ErrEmbedderRequired, err)
}

func TestRetrieve_FiltersByPermissionPreservingOrder(t *testing.T) {
	access := allowDocs("doc-1", "doc-3")
	store, retriever := newRetrieverFixture(t, access)
	ctx := context.Background()

	// All three rank for the query; only the permitted two may come back,
	// in fused order.
	seedChunk(t, store, "doc-1", "incident postmortem database outage", nil)
	seedChunk(t, store, "doc-2", "incident postmortem network outage", nil)
	seedChunk(t, store, "doc-3", "incident postmortem auth outage", nil)

	hits, err := retriever.Retrieve(ctx, testTenant, 1, "incident postmortem outage", 10, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, hit := range hits {
		assert.Contains(t, []string{"doc-1", "doc-3"}, hit.ResourceID)
	}
	assert.GreaterOrEqual(t, hits[0].FusedScore, hits[1].FusedScore)
}

func TestRetrieve_NoPermissionsMeansNoHits(t *testing.T) {
	access := allowDocs() // nothing allowed
	store, retriever := newRetrieverFixture(t, access)
	ctx := context.Background()

	seedChunk(t, store, "doc-1", "confidential board minutes", nil)

	hits, err := retriever.Retrieve(ctx, testTenant, 1, "board minutes", 5, Filters{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieve_RequeriesWhenWindowIsFullOfDeniedHits(t *testing.T) {
	// 12 resources match the query; the user may read only the last one
	// by chunk-ID order. With topK=1 and the default overfetch of 4 the
	// first window is 4 hits. If all 4 are denied and the window came
	// back full, one wider re-query must run.
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc-%02d", i)
	}

	access := &stubAccess{allowed: map[core.ResourceKey]struct{}{}}
	store, retriever := newRetrieverFixture(t, access)
	ctx := context.Background()

	var last *core.Chunk
	for i, id := range ids {
		chunk := seedChunk(t, store, id, fmt.Sprintf("release notes build %d", i), nil)
		if last == nil || chunk.ID > last.ID {
			last = chunk
		}
	}
	access.allowed[core.ResourceKey{ResourceID: last.ResourceID, ResourceType: core.ResourceTypeDocument}] = struct{}{}

	hits, err := retriever.Retrieve(ctx, testTenant, 1, "release notes", 1, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, last.ResourceID, hits[0].ResourceID)

	// First pass checked a full window of 4, the re-query up to 12 more.
	assert.Greater(t, access.checks, 4)
}

func TestRetrieve_PreFilterMode(t *testing.T) {
	access := allowDocs("doc-2")
	store, retriever := newRetrieverFixture(t, access, WithPreFilter(true))
	ctx := context.Background()

	seedChunk(t, store, "doc-1", "roadmap planning draft", nil)
	seedChunk(t, store, "doc-2", "roadmap planning final", nil)

	hits, err := retriever.Retrieve(ctx, testTenant, 1, "roadmap planning", 5, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-2", hits[0].ResourceID)

	// Pre-filtering restricts the branches; no per-hit checks ran.
	assert.Zero(t, access.checks)
}

func TestRetrieve_InvalidTopK(t *testing.T) {
	_, retriever := newRetrieverFixture(t, allowDocs())
	_, err := retriever.Retrieve(context.Background(), testTenant, 1, "query", 0, Filters{})
	assert.ErrorIs(t, err, ErrInvalidTopK)
}
