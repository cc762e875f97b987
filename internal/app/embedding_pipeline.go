package app

import (
	"context"
	"fmt"

	"studyrag/internal/ai"
	"studyrag/internal/model"
	"studyrag/internal/vectorstore"
)

const embeddingBatchSize = 10 // many embedding APIs cap batch size

// EmbeddingPipeline composes the embedding capability with the vector store.
// Every IndexChunks call persists the index before returning (write-through);
// ingestion pays the durability cost up front so a later cancelled or failed
// generation can never leave the index in an inconsistent state.
type EmbeddingPipeline struct {
	embedder ai.Embedder
	store    *vectorstore.Store
	dataDir  string
}

func NewEmbeddingPipeline(embedder ai.Embedder, store *vectorstore.Store, dataDir string) *EmbeddingPipeline {
	return &EmbeddingPipeline{
		embedder: embedder,
		store:    store,
		dataDir:  dataDir,
	}
}

// IndexChunks embeds the batch, adds it to the store and saves the index.
// Returns the number of vectors indexed.
func (p *EmbeddingPipeline) IndexChunks(ctx context.Context, chunks []model.SemanticChunk, userID uint) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}

	var embeddings [][]float32
	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.embedder.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return 0, fmt.Errorf("embed chunk batch failed: %w", err)
		}
		embeddings = append(embeddings, batch...)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(embeddings))
	}

	contents := make([]string, len(chunks))
	metas := make([]model.EmbeddingMetadata, len(chunks))
	for i, ch := range chunks {
		contents[i] = ch.Content
		metas[i] = model.EmbeddingMetadata{
			ChunkID:      ch.ID,
			DocumentID:   ch.SourceDocumentID,
			UserID:       userID,
			SyllabusTags: ch.SyllabusTags,
			ChunkType:    ch.ChunkType,
			Source:       ch.Metadata["source"],
		}
	}

	if _, err := p.store.Add(embeddings, contents, metas); err != nil {
		return 0, fmt.Errorf("index chunks failed: %w", err)
	}
	if err := p.store.Save(p.dataDir); err != nil {
		return 0, fmt.Errorf("persist index failed: %w", err)
	}
	return len(chunks), nil
}
