package search

import (
	"context"
	"math"
	"slices"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// BM25 parameters. Standard values from the literature; not worth
// tuning until a tenant corpus shows otherwise.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type scoredChunk struct {
	chunk *core.Chunk
	score float64
}

// keywordSearch ranks chunks against the query with BM25 over a single
// corpus scan. Term frequencies for the query terms and document
// lengths are collected during the scan; IDF is computed afterward from
// the observed document frequencies.
func keywordSearch(ctx context.Context, chunks storage.ChunkRepository, tenantID, queryText string, limit int, filters Filters) ([]*core.Chunk, error) {
	queryTerms := Tokenize(queryText)
	if len(queryTerms) == 0 {
		return nil, nil
	}
	// Dedupe query terms so a repeated word is not scored twice.
	queryTerms = dedupe(queryTerms)

	type docStats struct {
		chunk     *core.Chunk
		termFreqs map[string]int
		length    int
	}

	var docs []*docStats
	docFreq := make(map[string]int, len(queryTerms))
	totalLength := 0

	err := chunks.ScanChunks(ctx, tenantID, func(chunk *core.Chunk) error {
		if !filters.match(chunk) {
			return nil
		}
		tokens := Tokenize(chunk.Content)
		stats := &docStats{chunk: chunk, length: len(tokens)}
		for _, token := range tokens {
			for _, term := range queryTerms {
				if token == term {
					if stats.termFreqs == nil {
						stats.termFreqs = make(map[string]int, len(queryTerms))
					}
					stats.termFreqs[term]++
				}
			}
		}
		totalLength += stats.length
		docs = append(docs, stats)
		for term := range stats.termFreqs {
			docFreq[term]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	avgLength := float64(totalLength) / float64(len(docs))
	if avgLength == 0 {
		avgLength = 1
	}
	corpusSize := float64(len(docs))

	scored := make([]scoredChunk, 0, len(docs))
	for _, doc := range docs {
		if len(doc.termFreqs) == 0 {
			continue
		}
		var score float64
		for term, freq := range doc.termFreqs {
			idf := math.Log(1 + (corpusSize-float64(docFreq[term])+0.5)/(float64(docFreq[term])+0.5))
			tf := float64(freq)
			norm := bm25K1 * (1 - bm25B + bm25B*float64(doc.length)/avgLength)
			score += idf * (tf * (bm25K1 + 1)) / (tf + norm)
		}
		scored = append(scored, scoredChunk{chunk: doc.chunk, score: score})
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

// sortScored orders by score descending, ties broken by chunk ID so the
// ranking is deterministic across runs.
func sortScored(scored []scoredChunk) {
	slices.SortFunc(scored, func(a, b scoredChunk) int {
		if a.score > b.score {
			return -1
		}
		if a.score < b.score {
			return 1
		}
		if a.chunk.ID < b.chunk.ID {
			return -1
		}
		if a.chunk.ID > b.chunk.ID {
			return 1
		}
		return 0
	})
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
