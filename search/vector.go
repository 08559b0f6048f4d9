package search

import (
	"context"
	"math"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// vectorSearch ranks chunks by cosine similarity to the query
// embedding over a single corpus scan. Chunks without an embedding are
// skipped; they can still surface through the keyword branch.
func vectorSearch(ctx context.Context, chunks storage.ChunkRepository, tenantID string, queryEmbedding []float32, limit int, filters Filters) ([]*core.Chunk, error) {
	if len(queryEmbedding) == 0 {
		return nil, nil
	}

	var scored []scoredChunk
	err := chunks.ScanChunks(ctx, tenantID, func(chunk *core.Chunk) error {
		if !filters.match(chunk) {
			return nil
		}
		if len(chunk.Vector) == 0 {
			return nil
		}
		similarity := cosineSimilarity(queryEmbedding, chunk.Vector)
		scored = append(scored, scoredChunk{chunk: chunk, score: similarity})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	result := make([]*core.Chunk, len(scored))
	for i, sc := range scored {
		result[i] = sc.chunk
	}
	return result, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score zero rather than erroring;
// a malformed embedding should lose the ranking, not abort the search.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
