package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

const (
	// rrfConstant dampens the contribution of lower ranks in reciprocal
	// rank fusion. 60 is the value from the original RRF paper.
	rrfConstant = 60

	defaultStageTimeout = 300 * time.Millisecond
)

// Fuser runs the keyword and vector search branches concurrently and
// merges their rankings with reciprocal rank fusion.
type Fuser struct {
	chunks       storage.ChunkRepository
	stageTimeout time.Duration
	logger       *slog.Logger
}

// FuserOption configures a Fuser.
type FuserOption func(*Fuser) error

// WithFuserLogger sets a custom logger.
// Default is slog.Default().
func WithFuserLogger(logger *slog.Logger) FuserOption {
	return func(f *Fuser) error {
		if logger == nil {
			logger = slog.Default()
		}
		f.logger = logger
		return nil
	}
}

// WithStageTimeout bounds how long each search branch may run.
// Default is 300ms.
func WithStageTimeout(timeout time.Duration) FuserOption {
	return func(f *Fuser) error {
		if timeout > 0 {
			f.stageTimeout = timeout
		}
		return nil
	}
}

// NewFuser creates a new fuser.
func NewFuser(chunks storage.ChunkRepository, opts ...FuserOption) (*Fuser, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}

	f := &Fuser{
		chunks:       chunks,
		stageTimeout: defaultStageTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Search runs both branches over the tenant's chunks and returns up to
// topK fused hits. A branch that fails or times out degrades the result
// to single-source ranking; only both branches failing is an error.
//
// Fused order is deterministic: score descending, ties broken by the
// better single-branch rank, then by chunk ID.
func (f *Fuser) Search(ctx context.Context, tenantID, queryText string, queryEmbedding []float32, topK int, filters Filters) ([]*core.SearchHit, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}
	if tenantID == "" {
		return nil, core.ErrEmptyTenant
	}

	stageCtx, cancel := context.WithTimeout(ctx, f.stageTimeout)
	defer cancel()

	var (
		keywordResults []*core.Chunk
		vectorResults  []*core.Chunk
		keywordErr     error
		vectorErr      error
	)

	// Each branch keeps its own error so one failure cannot cancel the
	// other; degradation to a single source is decided after both
	// finish.
	group, groupCtx := errgroup.WithContext(stageCtx)
	group.Go(func() error {
		keywordResults, keywordErr = keywordSearch(groupCtx, f.chunks, tenantID, queryText, topK, filters)
		return nil
	})
	group.Go(func() error {
		vectorResults, vectorErr = vectorSearch(groupCtx, f.chunks, tenantID, queryEmbedding, topK, filters)
		return nil
	})
	_ = group.Wait()

	if keywordErr != nil && vectorErr != nil {
		return nil, fmt.Errorf("%w: keyword: %v; vector: %v", core.ErrUpstreamUnavailable, keywordErr, vectorErr)
	}
	if keywordErr != nil {
		f.logger.Warn("keyword branch failed, serving vector-only results", "tenantID", tenantID, "err", keywordErr)
	}
	if vectorErr != nil {
		f.logger.Warn("vector branch failed, serving keyword-only results", "tenantID", tenantID, "err", vectorErr)
	}

	hits := fuse(keywordResults, vectorResults)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// fuse merges two branch rankings with reciprocal rank fusion. Each
// chunk scores 1/(60+rank) per branch that returned it, ranks 1-based.
func fuse(keywordResults, vectorResults []*core.Chunk) []*core.SearchHit {
	byID := make(map[core.ID]*core.SearchHit, len(keywordResults)+len(vectorResults))

	register := func(chunk *core.Chunk) *core.SearchHit {
		hit, ok := byID[chunk.ID]
		if !ok {
			hit = &core.SearchHit{
				ChunkID:      chunk.ID,
				ResourceID:   chunk.ResourceID,
				ResourceType: chunk.ResourceType,
				Content:      chunk.Content,
				Location:     chunk.Location,
			}
			byID[chunk.ID] = hit
		}
		return hit
	}

	for i, chunk := range keywordResults {
		hit := register(chunk)
		hit.KeywordRank = i + 1
		hit.FusedScore += 1.0 / float64(rrfConstant+i+1)
	}
	for i, chunk := range vectorResults {
		hit := register(chunk)
		hit.VectorRank = i + 1
		hit.FusedScore += 1.0 / float64(rrfConstant+i+1)
	}

	hits := make([]*core.SearchHit, 0, len(byID))
	for _, hit := range byID {
		hits = append(hits, hit)
	}
	slices.SortFunc(hits, func(a, b *core.SearchHit) int {
		if a.FusedScore > b.FusedScore {
			return -1
		}
		if a.FusedScore < b.FusedScore {
			return 1
		}
		if ra, rb := bestRank(a), bestRank(b); ra != rb {
			return ra - rb
		}
		if a.ChunkID < b.ChunkID {
			return -1
		}
		if a.ChunkID > b.ChunkID {
			return 1
		}
		return 0
	})
	return hits
}

// bestRank returns the better (lower) of a hit's branch ranks, treating
// an absent branch as worst.
func bestRank(hit *core.SearchHit) int {
	best := int(^uint(0) >> 1)
	if hit.KeywordRank > 0 && hit.KeywordRank < best {
		best = hit.KeywordRank
	}
	if hit.VectorRank > 0 && hit.VectorRank < best {
		best = hit.VectorRank
	}
	return best
}
