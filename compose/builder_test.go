package compose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/sift/core"
)

// wordCounter keeps the tests hermetic; the default encoding fetches
// its BPE tables on first use.
func wordCounter(text string) int {
	return len(strings.Fields(text))
}

func newTestBuilder(t *testing.T, opts ...Option) *Builder {
	t.Helper()
	opts = append([]Option{WithTokenCounter(wordCounter)}, opts...)
	b, err := NewBuilder(opts...)
	require.NoError(t, err)
	return b
}

func hit(resourceID, content string) *core.SearchHit {
	return &core.SearchHit{
		ChunkID:    core.IDFromContent(resourceID + "\x00" + content),
		ResourceID: resourceID,
		Content:    content,
	}
}

func TestNewBuilder_InvalidThreshold(t *testing.T) {
	_, err := NewBuilder(WithTokenCounter(wordCounter), WithSupportThreshold(0))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	_, err = NewBuilder(WithTokenCounter(wordCounter), WithSupportThreshold(1.5))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestBuildContext_PacksWithinBudget(t *testing.T) {
	b := newTestBuilder(t)

	hits := []*core.SearchHit{
		hit("doc-1", "alpha beta gamma"),       // 3 tokens
		hit("doc-2", "delta epsilon"),          // 2 tokens
		hit("doc-3", "zeta eta theta iota"),    // 4 tokens
	}

	context, err := b.BuildContext(hits, 6)
	require.NoError(t, err)

	// doc-3 does not fit after the first two; it is skipped whole.
	require.Len(t, context.Chunks, 2)
	assert.Equal(t, "doc-1", context.Chunks[0].ResourceID)
	assert.Equal(t, "doc-2", context.Chunks[1].ResourceID)
	assert.Equal(t, 5, context.TotalTokens)
	assert.LessOrEqual(t, context.TotalTokens, 6)
}

func TestBuildContext_SkipsOversizedHitAndContinues(t *testing.T) {
	b := newTestBuilder(t)

	hits := []*core.SearchHit{
		hit("doc-big", "one two three four five six seven eight nine ten"),
		hit("doc-small", "fits fine"),
	}

	context, err := b.BuildContext(hits, 3)
	require.NoError(t, err)

	// The oversized leader is skipped, never truncated; the later hit
	// still gets in and the marker numbering stays dense from 1.
	require.Len(t, context.Chunks, 1)
	assert.Equal(t, "doc-small", context.Chunks[0].ResourceID)
	assert.Equal(t, 1, context.Chunks[0].CitationIndex)
	assert.Equal(t, 2, context.TotalTokens)
}

func TestBuildContext_CitationIndexesAreDense(t *testing.T) {
	b := newTestBuilder(t)

	hits := []*core.SearchHit{
		hit("doc-1", "one two"),
		hit("doc-2", "one two three four five"), // skipped at budget 6 after doc-1
		hit("doc-3", "three four"),
		hit("doc-4", "five six"),
	}

	context, err := b.BuildContext(hits, 6)
	require.NoError(t, err)
	require.Len(t, context.Chunks, 3)
	for i, chunk := range context.Chunks {
		assert.Equal(t, i+1, chunk.CitationIndex)
	}
}

func TestBuildContext_InvalidBudget(t *testing.T) {
	b := newTestBuilder(t)
	_, err := b.BuildContext(nil, 0)
	assert.ErrorIs(t, err, ErrInvalidBudget)
	_, err = b.BuildContext(nil, -10)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestBuildContext_EmptyHits(t *testing.T) {
	b := newTestBuilder(t)
	context, err := b.BuildContext(nil, 100)
	require.NoError(t, err)
	assert.Empty(t, context.Chunks)
	assert.Zero(t, context.TotalTokens)
}

func TestRenderPrompt(t *testing.T) {
	b := newTestBuilder(t)

	context := &Context{
		Chunks: []*core.ContextChunk{
			{
				CitationIndex: 1,
				ResourceID:    "doc-1",
				Content:       "The handbook covers expense policy.",
				Location:      core.ChunkLocation{Source: "handbook.pdf", Page: 12},
			},
			{
				CitationIndex: 2,
				ResourceID:    "mail-7",
				Content:       "Expenses above 500 need approval.",
			},
		},
	}

	prompt := b.RenderPrompt("What is the expense policy?", context)

	assert.Contains(t, prompt, "[1] (handbook.pdf, p.12) The handbook covers expense policy.")
	// A chunk without location metadata falls back to its resource ID.
	assert.Contains(t, prompt, "[2] (mail-7) Expenses above 500 need approval.")
	assert.Contains(t, prompt, "Question: What is the expense policy?")
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
}
