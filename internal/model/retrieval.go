package model

// EmbeddingMetadata is the side-table record stored next to each indexed
// vector. UserID 0 and DocumentID 0 mean "not set".
type EmbeddingMetadata struct {
	ChunkID      string    `json:"chunk_id"`
	DocumentID   uint      `json:"document_id,omitempty"`
	UserID       uint      `json:"user_id,omitempty"`
	SyllabusTags []string  `json:"syllabus_tags,omitempty"`
	ChunkType    ChunkType `json:"chunk_type"`
	Source       string    `json:"source,omitempty"`
}

// SearchResult is one similarity hit. Score is a similarity value, higher is
// more similar. Results are produced by search only and never persisted.
type SearchResult struct {
	ChunkID  string            `json:"chunk_id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata EmbeddingMetadata `json:"metadata"`
}

// Citation points a generated answer back to one retrieved chunk.
type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	Source     string  `json:"source"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	PageNumber int     `json:"page_number,omitempty"`
}

// RAGResponse is the structured answer returned by the query pipeline.
// Confidence is the mean relevance score of the chunks used, clamped to
// [0,1]; it is exactly 0.0 when no chunk survived filtering.
type RAGResponse struct {
	Answer        string     `json:"answer"`
	Citations     []Citation `json:"citations"`
	Query         string     `json:"query"`
	ContextChunks int        `json:"context_chunks"`
	Model         string     `json:"model"`
	Confidence    float64    `json:"confidence"`
}
