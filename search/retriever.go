package search

import (
	"context"
	"log/slog"

	"github.com/poiesic/sift/ai"
	"github.com/poiesic/sift/core"
)

const defaultOverfetchMultiplier = 4

// AccessChecker answers permission questions for retrieval. Satisfied
// by acl.Service.
type AccessChecker interface {
	// IsAllowed reports whether a user may read a resource, failing
	// closed on any internal error.
	IsAllowed(ctx context.Context, tenantID string, userID core.ID, resourceID string, resourceType core.ResourceType) bool

	// GetAllowedResources returns the set of resources the user may
	// read. Only consulted in pre-filter mode.
	GetAllowedResources(ctx context.Context, tenantID string, userID core.ID) (map[core.ResourceKey]struct{}, error)
}

// Retriever performs permission-aware retrieval: hybrid search followed
// by an ACL filter that preserves fused order.
type Retriever struct {
	fuser      *Fuser
	access     AccessChecker
	embedder   ai.Embedder
	overfetch  int
	preFilter  bool
	logger     *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever) error

// WithRetrieverLogger sets a custom logger.
// Default is slog.Default().
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithOverfetch sets the over-fetch multiplier applied to topK before
// permission filtering. Default is 4.
func WithOverfetch(multiplier int) RetrieverOption {
	return func(r *Retriever) error {
		if multiplier > 0 {
			r.overfetch = multiplier
		}
		return nil
	}
}

// WithPreFilter switches retrieval to restrict the search branches to
// the user's allowed resources up front instead of post-filtering the
// fused list. Post-filtering is the default; pre-filtering trades a
// per-query allowed-set lookup for a smaller candidate pool, which wins
// when users can read only a small slice of the tenant corpus.
func WithPreFilter(enabled bool) RetrieverOption {
	return func(r *Retriever) error {
		r.preFilter = enabled
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(fuser *Fuser, access AccessChecker, embedder ai.Embedder, opts ...RetrieverOption) (*Retriever, error) {
	if fuser == nil {
		return nil, ErrFuserRequired
	}
	if access == nil {
		return nil, ErrAccessCheckerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		fuser:     fuser,
		access:    access,
		embedder:  embedder,
		overfetch: defaultOverfetchMultiplier,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Retrieve returns up to topK hits the user is permitted to read,
// in fused relevance order. Permission checks fail closed per hit: a
// hit whose check cannot complete is dropped, never served.
func (r *Retriever) Retrieve(ctx context.Context, tenantID string, userID core.ID, queryText string, topK int, filters Filters) ([]*core.SearchHit, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}

	embedding, err := r.embedder.EmbedText(ctx, queryText)
	if err != nil {
		r.logger.Error("error generating embedding for query", "tenantID", tenantID, "err", err)
		return nil, err
	}

	if r.preFilter {
		allowed, err := r.access.GetAllowedResources(ctx, tenantID, userID)
		if err != nil {
			return nil, err
		}
		filters.AllowedResources = allowed
		hits, err := r.fuser.Search(ctx, tenantID, queryText, embedding, topK, filters)
		if err != nil {
			return nil, err
		}
		return hits, nil
	}

	window := topK * r.overfetch
	hits, err := r.fuser.Search(ctx, tenantID, queryText, embedding, window, filters)
	if err != nil {
		return nil, err
	}
	permitted := r.filterHits(ctx, tenantID, userID, hits, topK)

	// One bounded re-query: only worthwhile when the first window was
	// full, meaning more candidates may exist below the cut.
	if len(permitted) < topK && len(hits) == window {
		wider := window * r.overfetch
		hits, err = r.fuser.Search(ctx, tenantID, queryText, embedding, wider, filters)
		if err != nil {
			return nil, err
		}
		permitted = r.filterHits(ctx, tenantID, userID, hits, topK)
	}

	return permitted, nil
}

// filterHits keeps hits the user may read, preserving order, stopping
// once topK are collected.
func (r *Retriever) filterHits(ctx context.Context, tenantID string, userID core.ID, hits []*core.SearchHit, topK int) []*core.SearchHit {
	permitted := make([]*core.SearchHit, 0, topK)
	for _, hit := range hits {
		if !r.access.IsAllowed(ctx, tenantID, userID, hit.ResourceID, hit.ResourceType) {
			continue
		}
		permitted = append(permitted, hit)
		if len(permitted) == topK {
			break
		}
	}
	return permitted
}
