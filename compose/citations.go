package compose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/search"
)

// citationMarkerPattern matches bracketed numeric markers like [1].
var citationMarkerPattern = regexp.MustCompile(`\[(\d+)\]`)

const (
	// citationWindow is how much generated text preceding a marker is
	// compared against the cited chunk during verification.
	citationWindow = 240

	// fuzzyTokenThreshold is the Jaro-Winkler similarity above which
	// two tokens count as the same word. Catches inflections and minor
	// rewordings without matching unrelated terms.
	fuzzyTokenThreshold = 0.93

	snippetLength = 160
)

// ExtractCitations finds bracketed numeric markers in generated text
// and resolves them against the context chunks. Each distinct known
// index yields one citation, ordered by first occurrence; markers with
// no matching chunk are dropped and logged.
func (b *Builder) ExtractCitations(generatedText string, chunks []*core.ContextChunk) []core.Citation {
	byIndex := make(map[int]*core.ContextChunk, len(chunks))
	for _, chunk := range chunks {
		byIndex[chunk.CitationIndex] = chunk
	}

	seen := make(map[int]struct{})
	var citations []core.Citation
	for _, match := range citationMarkerPattern.FindAllStringSubmatch(generatedText, -1) {
		index, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if _, ok := seen[index]; ok {
			continue
		}
		chunk, ok := byIndex[index]
		if !ok {
			b.logger.Warn("generated text cites unknown source, dropping marker", "index", index)
			seen[index] = struct{}{}
			continue
		}
		seen[index] = struct{}{}
		citations = append(citations, core.Citation{
			Index:      index,
			ResourceID: chunk.ResourceID,
			ChunkID:    chunk.ChunkID,
			Snippet:    snippet(chunk.Content),
			Location:   chunk.Location,
		})
	}
	return citations
}

// VerifyCitations scores each citation by how well the generated text
// preceding its first marker is supported by the cited chunk. A score
// below the threshold sets WeakSupport; the citation is kept either
// way, because flagging a doubtful source is useful and hiding one is
// not.
func (b *Builder) VerifyCitations(generatedText string, citations []core.Citation, chunks []*core.ContextChunk) []core.Citation {
	byID := make(map[core.ID]*core.ContextChunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ChunkID] = chunk
	}

	for i := range citations {
		chunk, ok := byID[citations[i].ChunkID]
		if !ok {
			citations[i].WeakSupport = true
			continue
		}
		window := precedingWindow(generatedText, citations[i].Index)
		score := supportScore(window, chunk.Content)
		citations[i].SupportScore = score
		if score < b.supportThreshold {
			citations[i].WeakSupport = true
			b.logger.Debug("weakly supported citation",
				"index", citations[i].Index, "chunkID", uint64(citations[i].ChunkID),
				"score", score, "threshold", b.supportThreshold)
		}
	}
	return citations
}

// precedingWindow returns the stretch of generated text leading up to
// the first occurrence of the marker, bounded by citationWindow and by
// the previous marker so one claim is not verified against another's
// evidence.
func precedingWindow(generatedText string, index int) string {
	marker := fmt.Sprintf("[%d]", index)
	pos := strings.Index(generatedText, marker)
	if pos < 0 {
		return ""
	}
	start := pos - citationWindow
	if start < 0 {
		start = 0
	}
	window := generatedText[start:pos]
	if prev := citationMarkerPattern.FindAllStringIndex(window, -1); len(prev) > 0 {
		window = window[prev[len(prev)-1][1]:]
	}
	return window
}

// supportScore measures what fraction of the claim window's tokens
// appear in the cited chunk, with near-token matching so inflected
// forms still count.
func supportScore(window, chunkContent string) float64 {
	windowTokens := search.Tokenize(window)
	if len(windowTokens) == 0 {
		return 0
	}
	chunkTokens := search.Tokenize(chunkContent)
	chunkSet := make(map[string]struct{}, len(chunkTokens))
	for _, token := range chunkTokens {
		chunkSet[token] = struct{}{}
	}

	matched := 0
	for _, token := range windowTokens {
		if _, ok := chunkSet[token]; ok {
			matched++
			continue
		}
		for candidate := range chunkSet {
			if smetrics.JaroWinkler(token, candidate, 0.7, 4) >= fuzzyTokenThreshold {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(windowTokens))
}

func snippet(content string) string {
	if len(content) <= snippetLength {
		return content
	}
	cut := content[:snippetLength]
	if space := strings.LastIndexByte(cut, ' '); space > 0 {
		cut = cut[:space]
	}
	return cut + "..."
}
