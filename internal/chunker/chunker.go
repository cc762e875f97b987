package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"studyrag/internal/model"
)

const (
	defaultMaxTokens     = 512
	defaultMinChunkChars = 20
	defaultContextWindow = 150
	headingMaxChars      = 120
)

var (
	headingMarkerRe = regexp.MustCompile(`^(#{1,6}\s+|(?i:(chapter|section|unit|part|lecture)\s+\d+))`)
	bulletLineRe    = regexp.MustCompile(`^\s*([-*•]|\d{1,3}[.)]|[a-zA-Z][.)]|[ivxIVX]{1,5}[.)])\s+`)
	definitionRe    = regexp.MustCompile(`^[^:\n]{1,80}(:\s+|\s-\s+)\S`)
	sentenceRe      = regexp.MustCompile(`[^.!?]+[.!?]+(\s+|$)|[^.!?]+$`)
	blockSplitRe    = regexp.MustCompile(`\n\s*\n`)
	interrogativeRe = regexp.MustCompile(`(?i)^(what|why|how|when|where|who|which)\b`)
)

// Chunker converts raw text into an ordered sequence of typed, size-bounded
// semantic chunks. Token counts are estimated as len(content)/4, a cheap
// proxy, not tokenizer parity with any particular model.
type Chunker struct {
	maxTokens     int
	minChunkChars int
	contextWindow int
}

type Option func(*Chunker)

func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithMinChunkChars(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minChunkChars = n
		}
	}
}

func WithContextWindow(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.contextWindow = n
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxTokens:     defaultMaxTokens,
		minChunkChars: defaultMinChunkChars,
		contextWindow: defaultContextWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type block struct {
	content   string
	chunkType model.ChunkType
}

// Chunk segments text into semantic chunks. Empty or whitespace-only input
// yields an empty slice. Blocks shorter than the configured minimum are
// dropped silently.
func (c *Chunker) Chunk(text string, documentID uint, tags []string, metadata map[string]string) []model.SemanticChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	blocks := c.splitBlocks(text)
	blocks = c.normalizeSizes(blocks)

	var chunks []model.SemanticChunk
	for _, b := range blocks {
		if len(b.content) < c.minChunkChars {
			continue
		}
		chunks = append(chunks, model.SemanticChunk{
			Content:          b.content,
			ChunkType:        b.chunkType,
			SourceDocumentID: documentID,
			TokenCount:       EstimateTokens(b.content),
			SyllabusTags:     copyTags(tags),
			Metadata:         copyMetadata(metadata),
		})
	}

	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].ID = fmt.Sprintf("doc%d-chunk%d", documentID, i)
		if i > 0 {
			chunks[i].ContextBefore = tailPreview(chunks[i-1].Content, c.contextWindow)
		}
		if i < len(chunks)-1 {
			chunks[i].ContextAfter = headPreview(chunks[i+1].Content, c.contextWindow)
		}
	}
	return chunks
}

// EstimateTokens approximates the token count of s as len(s)/4.
func EstimateTokens(s string) int {
	return len(s) / 4
}

func (c *Chunker) splitBlocks(text string) []block {
	raw := blockSplitRe.Split(text, -1)
	blocks := make([]block, 0, len(raw))
	for _, r := range raw {
		trimmed := strings.TrimSpace(r)
		if trimmed == "" {
			continue
		}
		blocks = append(blocks, block{
			content:   trimmed,
			chunkType: classify(trimmed),
		})
	}
	return blocks
}

func classify(text string) model.ChunkType {
	lines := nonEmptyLines(text)
	lower := strings.ToLower(text)

	if isHeading(text, lines) {
		return model.ChunkTypeHeading
	}
	if isList(lines) {
		return model.ChunkTypeList
	}
	if isDefinition(text, lower) {
		return model.ChunkTypeDefinition
	}
	if strings.Contains(lower, "in summary") || strings.Contains(lower, "to summarize") ||
		strings.Contains(lower, "in conclusion") {
		return model.ChunkTypeSummary
	}
	if strings.Contains(lower, "for example") || strings.Contains(lower, "for instance") ||
		strings.Contains(lower, "such as") || strings.Contains(lower, "e.g.") {
		return model.ChunkTypeExample
	}
	if isQuestion(text) {
		return model.ChunkTypeQuestion
	}
	return model.ChunkTypeParagraph
}

func isHeading(text string, lines []string) bool {
	if len(lines) != 1 || len(text) > headingMaxChars {
		return false
	}
	line := lines[0]
	if headingMarkerRe.MatchString(line) {
		return true
	}
	// All-caps short lines read as headings, e.g. "PHOTOSYNTHESIS".
	letters := 0
	uppers := 0
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			letters++
			uppers++
		}
	}
	return letters >= 2
}

func isList(lines []string) bool {
	if len(lines) < 2 {
		return false
	}
	matched := 0
	for _, line := range lines {
		if bulletLineRe.MatchString(line) {
			matched++
		}
	}
	return matched*2 > len(lines)
}

func isDefinition(text, lower string) bool {
	if strings.Contains(lower, " is defined as ") || strings.Contains(lower, " means ") ||
		strings.Contains(lower, " refers to ") {
		return true
	}
	return definitionRe.MatchString(text)
}

func isQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	return interrogativeRe.MatchString(trimmed)
}

// normalizeSizes merges consecutive blocks into buffers while the cumulative
// token estimate stays within maxTokens, and splits oversized single blocks
// along sentence boundaries. Merged buffers keep the most specific type seen,
// preferring anything over paragraph.
func (c *Chunker) normalizeSizes(blocks []block) []block {
	var out []block
	var buf strings.Builder
	bufType := model.ChunkTypeParagraph

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, block{content: buf.String(), chunkType: bufType})
		buf.Reset()
		bufType = model.ChunkTypeParagraph
	}

	for _, b := range blocks {
		if EstimateTokens(b.content) > c.maxTokens {
			flush()
			for _, piece := range c.splitOversized(b.content) {
				out = append(out, block{content: piece, chunkType: b.chunkType})
			}
			continue
		}

		merged := b.content
		if buf.Len() > 0 {
			merged = buf.String() + "\n\n" + b.content
		}
		if EstimateTokens(merged) > c.maxTokens {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(b.content)
		if bufType == model.ChunkTypeParagraph && b.chunkType != model.ChunkTypeParagraph {
			bufType = b.chunkType
		}
	}
	flush()
	return out
}

// splitOversized greedily packs sentences into pieces within maxTokens. A
// block with no internal sentence boundary cannot be split and is returned
// whole even though it exceeds the budget.
func (c *Chunker) splitOversized(text string) []string {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) <= 1 {
		return []string{text}
	}

	var pieces []string
	var buf strings.Builder
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		candidate := s
		if buf.Len() > 0 {
			candidate = buf.String() + " " + s
		}
		if buf.Len() > 0 && EstimateTokens(candidate) > c.maxTokens {
			pieces = append(pieces, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		pieces = append(pieces, buf.String())
	}
	return pieces
}

func tailPreview(content string, window int) string {
	if len(content) <= window {
		return content
	}
	return "..." + content[len(content)-window:]
}

func headPreview(content string, window int) string {
	if len(content) <= window {
		return content
	}
	return content[:window] + "..."
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	return lines
}

func copyTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
