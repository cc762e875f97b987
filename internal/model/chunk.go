package model

// ChunkType classifies the structural role of a chunk within its source text.
type ChunkType string

const (
	ChunkTypeHeading    ChunkType = "heading"
	ChunkTypeParagraph  ChunkType = "paragraph"
	ChunkTypeList       ChunkType = "list"
	ChunkTypeDefinition ChunkType = "definition"
	ChunkTypeExample    ChunkType = "example"
	ChunkTypeSummary    ChunkType = "summary"
	ChunkTypeQuestion   ChunkType = "question"
)

// IsValid reports whether t is one of the known chunk types.
func (t ChunkType) IsValid() bool {
	switch t {
	case ChunkTypeHeading, ChunkTypeParagraph, ChunkTypeList,
		ChunkTypeDefinition, ChunkTypeExample, ChunkTypeSummary, ChunkTypeQuestion:
		return true
	}
	return false
}

// SemanticChunk is a typed, size-bounded span of source text. It is created
// once at ingestion time and immutable afterwards.
//
// TokenCount is an estimate (len(content)/4) and normally stays within the
// chunker's max_tokens; a single block with no internal sentence boundary
// cannot be split further and may exceed it.
type SemanticChunk struct {
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	ChunkType      ChunkType         `json:"chunk_type"`
	ChunkIndex     int               `json:"chunk_index"`
	SourceDocumentID uint            `json:"source_document_id,omitempty"`
	PageNumber     int               `json:"page_number,omitempty"`
	TokenCount     int               `json:"token_count"`
	ContextBefore  string            `json:"context_before,omitempty"`
	ContextAfter   string            `json:"context_after,omitempty"`
	SyllabusTags   []string          `json:"syllabus_tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
