package compose

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/poiesic/sift/core"
)

const defaultSupportThreshold = 0.35

// Context is the set of chunks accepted under a token budget, ready to
// be rendered into a generation prompt.
type Context struct {
	Chunks      []*core.ContextChunk
	TotalTokens int
}

// Builder packs retrieval hits into generation contexts and handles the
// citation lifecycle for the resulting answers.
type Builder struct {
	countTokens      func(text string) int
	supportThreshold float64
	logger           *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// WithSupportThreshold sets the minimum support score below which a
// citation is flagged as weakly supported. Default is 0.35.
func WithSupportThreshold(threshold float64) Option {
	return func(b *Builder) error {
		if threshold <= 0 || threshold > 1 {
			return ErrInvalidThreshold
		}
		b.supportThreshold = threshold
		return nil
	}
}

// WithTokenCounter replaces the token costing function. Tests use a
// deterministic counter; production code keeps the default encoding.
func WithTokenCounter(counter func(text string) int) Option {
	return func(b *Builder) error {
		if counter != nil {
			b.countTokens = counter
		}
		return nil
	}
}

// NewBuilder creates a new context builder. Token costs come from the
// cl100k_base encoding, which matches the OpenAI embedding and chat
// model family.
func NewBuilder(opts ...Option) (*Builder, error) {
	b := &Builder{
		supportThreshold: defaultSupportThreshold,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	if b.countTokens == nil {
		encoder, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return nil, fmt.Errorf("loading token encoding: %w", err)
		}
		b.countTokens = func(text string) int {
			return len(encoder.Encode(text, nil, nil))
		}
	}
	return b, nil
}

// CountTokens returns the token cost of a text under the builder's
// encoding.
func (b *Builder) CountTokens(text string) int {
	return b.countTokens(text)
}

// BuildContext greedily packs hits into a context without exceeding the
// budget. Hits are considered in the given (relevance) order; a hit
// that does not fit whole is skipped, never truncated, and packing
// continues with the next hit. CitationIndex is the 1-based position in
// the accepted list, so rendered markers stay dense.
func (b *Builder) BuildContext(hits []*core.SearchHit, maxTokenBudget int) (*Context, error) {
	if maxTokenBudget <= 0 {
		return nil, ErrInvalidBudget
	}

	context := &Context{}
	for _, hit := range hits {
		cost := b.CountTokens(hit.Content)
		if context.TotalTokens+cost > maxTokenBudget {
			b.logger.Debug("skipping chunk over budget",
				"chunkID", uint64(hit.ChunkID), "cost", cost,
				"used", context.TotalTokens, "budget", maxTokenBudget)
			continue
		}
		context.Chunks = append(context.Chunks, &core.ContextChunk{
			ChunkID:       hit.ChunkID,
			ResourceID:    hit.ResourceID,
			Content:       hit.Content,
			CitationIndex: len(context.Chunks) + 1,
			TokenCount:    cost,
			Location:      hit.Location,
		})
		context.TotalTokens += cost
	}
	return context, nil
}

const answerPromptTemplate = `Answer the question using only the numbered sources below.
Cite every claim with the bracketed number of its source, like [1].
If the sources do not contain the answer, say so instead of guessing.

Sources:
%s
Question: %s

Answer:`

// RenderPrompt formats a context and question into a generation prompt.
// Each chunk is labeled with its citation marker so the model can cite
// by number.
func (b *Builder) RenderPrompt(question string, context *Context) string {
	var sources strings.Builder
	for _, chunk := range context.Chunks {
		fmt.Fprintf(&sources, "[%d] (%s) %s\n", chunk.CitationIndex, describeLocation(chunk), chunk.Content)
	}
	return fmt.Sprintf(answerPromptTemplate, sources.String(), question)
}

func describeLocation(chunk *core.ContextChunk) string {
	loc := chunk.Location
	parts := make([]string, 0, 3)
	if loc.Source != "" {
		parts = append(parts, loc.Source)
	}
	if loc.Section != "" {
		parts = append(parts, loc.Section)
	}
	if loc.Page > 0 {
		parts = append(parts, fmt.Sprintf("p.%d", loc.Page))
	}
	if len(parts) == 0 {
		return chunk.ResourceID
	}
	return strings.Join(parts, ", ")
}
