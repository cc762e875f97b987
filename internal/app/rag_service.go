package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studyrag/internal/ai"
	"studyrag/internal/chunker"
	"studyrag/internal/model"
	"studyrag/internal/repository"
	"studyrag/internal/vectorstore"
)

const (
	defaultTopK     = 5
	citationSnippet = 200
	searchOverfetch = 2 // query-side over-fetch to absorb min-relevance discards
)

var (
	ErrRAGNoChunks      = errors.New("document produced no indexable chunks")
	ErrDocumentNotFound = errors.New("document not found")
)

// RAGServiceConfig carries the query-pipeline tunables and the index
// persistence directory.
type RAGServiceConfig struct {
	TopK              int
	MinRelevanceScore float64
	HistoryTurns      int
	DataDir           string
}

// RAGService is the retrieval-augmented answering core: it ingests study
// material into the vector index and answers questions with grounded,
// citable responses.
type RAGService struct {
	docRepo   *repository.StudyDocumentRepository
	chunker   *chunker.Chunker
	pipeline  *EmbeddingPipeline
	store     *vectorstore.Store
	embedder  ai.Embedder
	generator ai.Generator
	cfg       RAGServiceConfig
}

func NewRAGService(
	docRepo *repository.StudyDocumentRepository,
	chk *chunker.Chunker,
	pipeline *EmbeddingPipeline,
	store *vectorstore.Store,
	embedder ai.Embedder,
	generator ai.Generator,
	cfg RAGServiceConfig,
) *RAGService {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	return &RAGService{
		docRepo:   docRepo,
		chunker:   chk,
		pipeline:  pipeline,
		store:     store,
		embedder:  embedder,
		generator: generator,
		cfg:       cfg,
	}
}

// IngestInput is raw study material handed over by the document-processing
// side (upload handler or ingest worker).
type IngestInput struct {
	UserID       uint
	Name         string
	Source       string
	Content      string
	SyllabusTags []string
}

// IngestResult reports the registry row and how many vectors were indexed.
type IngestResult struct {
	Document   model.StudyDocument `json:"document"`
	ChunkCount int                 `json:"chunk_count"`
}

// Ingest registers the document, chunks its content, embeds and indexes the
// chunks, and marks the document indexed. The index is durably saved before
// Ingest returns.
func (s *RAGService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrInvalidInput
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "Untitled"
	}

	doc := &model.StudyDocument{
		UserID: input.UserID,
		Name:   name,
		Source: input.Source,
		Status: model.DocumentStatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, err
	}

	chunks := s.chunker.Chunk(content, doc.ID, input.SyllabusTags, map[string]string{"source": name})
	if len(chunks) == 0 {
		_ = s.docRepo.UpdateStatus(doc.ID, model.DocumentStatusFailed, 0)
		return nil, ErrRAGNoChunks
	}

	count, err := s.pipeline.IndexChunks(ctx, chunks, input.UserID)
	if err != nil {
		_ = s.docRepo.UpdateStatus(doc.ID, model.DocumentStatusFailed, 0)
		return nil, err
	}

	if err := s.docRepo.UpdateStatus(doc.ID, model.DocumentStatusIndexed, count); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentStatusIndexed
	doc.ChunkCount = count

	return &IngestResult{Document: *doc, ChunkCount: count}, nil
}

// ListDocuments returns the user's document registry rows.
func (s *RAGService) ListDocuments(userID uint) ([]model.StudyDocument, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListByUserID(userID)
}

// DeleteDocument removes the registry row and soft-deletes the document's
// chunks from the index, then persists the index.
func (s *RAGService) DeleteDocument(userID, documentID uint) (int, error) {
	if userID == 0 || documentID == 0 {
		return 0, ErrInvalidInput
	}
	doc, err := s.docRepo.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, ErrDocumentNotFound
	}
	removed := s.store.DeleteByDocument(documentID)
	if err := s.store.Save(s.cfg.DataDir); err != nil {
		return removed, err
	}
	if err := s.docRepo.Delete(documentID, userID); err != nil {
		return removed, err
	}
	return removed, nil
}

// QueryInput is a question with optional scope filters and mode.
type QueryInput struct {
	UserID       uint
	Question     string
	DocumentIDs  []uint
	SyllabusTags []string
	TopK         int
	Temperature  float64
	Mode         string
	History      []model.ConversationTurn
}

// Query runs the retrieval pipeline and returns a grounded answer.
//
// When no retrieved chunk clears the minimum relevance score, the response
// carries the deterministic insufficient-context answer with zero confidence
// and the generation backend is never invoked.
func (s *RAGService) Query(ctx context.Context, input QueryInput) (*model.RAGResponse, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}

	topK := input.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	mode := input.Mode
	if mode == "" {
		mode = ModeStandard
	}

	// Conversational follow-ups often drop the subject noun; retrieving on
	// the previous user turn plus the new question keeps retrieval on-topic.
	retrievalQuery := question
	if mode == ModeConversational {
		if prev := lastUserTurn(input.History); prev != "" {
			retrievalQuery = prev + "\n" + question
		}
	}

	vectors, err := s.embedder.EmbedBatch(ctx, []string{retrievalQuery})
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	fetch := topK * searchOverfetch
	if size := s.store.Size(); fetch > size {
		fetch = size
	}
	candidates, err := s.store.Search(vectors[0], fetch, vectorstore.SearchFilter{
		UserID:       input.UserID,
		DocumentIDs:  input.DocumentIDs,
		SyllabusTags: input.SyllabusTags,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	survivors := candidates[:0]
	for _, c := range candidates {
		if c.Score >= s.cfg.MinRelevanceScore {
			survivors = append(survivors, c)
		}
	}
	if len(survivors) > topK {
		survivors = survivors[:topK]
	}

	if len(survivors) == 0 {
		return &model.RAGResponse{
			Answer:        InsufficientContextAnswer,
			Citations:     []model.Citation{},
			Query:         question,
			ContextChunks: 0,
			Model:         s.generator.ModelName(),
			Confidence:    0.0,
		}, nil
	}

	contextBlock := buildContextBlock(survivors)
	prompt, system, maxTokens := buildPrompt(mode, question, contextBlock, input.History, s.cfg.HistoryTurns)

	answer, err := s.generator.Generate(ctx, prompt, system, maxTokens, input.Temperature)
	if err != nil {
		return nil, fmt.Errorf("generate answer failed: %w", err)
	}

	citations := make([]model.Citation, len(survivors))
	var scoreSum float64
	for i, r := range survivors {
		citations[i] = model.Citation{
			ChunkID: r.ChunkID,
			Source:  sourceLabel(r.Metadata),
			Snippet: truncate(r.Content, citationSnippet),
			Score:   r.Score,
		}
		scoreSum += r.Score
	}

	return &model.RAGResponse{
		Answer:        strings.TrimSpace(answer),
		Citations:     citations,
		Query:         question,
		ContextChunks: len(survivors),
		Model:         s.generator.ModelName(),
		Confidence:    clamp01(scoreSum / float64(len(survivors))),
	}, nil
}

// RebuildIndex repacks the vector arena and persists the result.
func (s *RAGService) RebuildIndex() (int, error) {
	purged := s.store.Rebuild()
	if err := s.store.Save(s.cfg.DataDir); err != nil {
		return purged, err
	}
	return purged, nil
}

func lastUserTurn(history []model.ConversationTurn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
