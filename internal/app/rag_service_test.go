package app

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"studyrag/internal/model"
	"studyrag/internal/vectorstore"
)

const testDim = 4

// fakeEmbedder returns canned vectors keyed by input text and records what it
// was asked to embed. Unknown texts embed to the first axis.
type fakeEmbedder struct {
	vectors    map[string][]float32
	lastInputs []string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.lastInputs = texts
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = axisVec(0)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return testDim }

type fakeGenerator struct {
	answer        string
	err           error
	calls         int
	lastPrompt    string
	lastSystem    string
	lastMaxTokens int
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, system string, maxTokens int, _ float64) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	f.lastSystem = system
	f.lastMaxTokens = maxTokens
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) ModelName() string { return "test-model" }

func axisVec(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis] = 1
	return v
}

// weightedVec scores exactly weight against axisVec(0) while staying unit
// length.
func weightedVec(weight float64) []float32 {
	v := make([]float32, testDim)
	v[0] = float32(weight)
	v[1] = float32(math.Sqrt(1 - weight*weight))
	return v
}

func addChunk(t *testing.T, store *vectorstore.Store, vec []float32, chunkID, content string, userID, docID uint, tags []string) {
	t.Helper()
	_, err := store.Add(
		[][]float32{vec},
		[]string{content},
		[]model.EmbeddingMetadata{{
			ChunkID:      chunkID,
			DocumentID:   docID,
			UserID:       userID,
			SyllabusTags: tags,
			ChunkType:    model.ChunkTypeParagraph,
			Source:       "notes.pdf",
		}},
	)
	if err != nil {
		t.Fatalf("add chunk %s failed: %v", chunkID, err)
	}
}

func newQueryService(t *testing.T, store *vectorstore.Store, emb *fakeEmbedder, gen *fakeGenerator, cfg RAGServiceConfig) *RAGService {
	t.Helper()
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	return NewRAGService(nil, nil, nil, store, emb, gen, cfg)
}

func newTestStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	store, err := vectorstore.New(testDim)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return store
}

func TestQueryRejectsEmptyQuestion(t *testing.T) {
	svc := newQueryService(t, newTestStore(t), &fakeEmbedder{}, &fakeGenerator{}, RAGServiceConfig{})

	if _, err := svc.Query(context.Background(), QueryInput{UserID: 1, Question: "   "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestQueryNoEvidenceSkipsGenerator(t *testing.T) {
	cases := []struct {
		name string
		seed func(t *testing.T, store *vectorstore.Store)
	}{
		{"empty index", func(*testing.T, *vectorstore.Store) {}},
		{"all below threshold", func(t *testing.T, store *vectorstore.Store) {
			addChunk(t, store, weightedVec(0.1), "c-low", "weakly related text", 1, 1, nil)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			tc.seed(t, store)
			gen := &fakeGenerator{answer: "should never appear"}
			svc := newQueryService(t, store, &fakeEmbedder{}, gen, RAGServiceConfig{MinRelevanceScore: 0.3})

			resp, err := svc.Query(context.Background(), QueryInput{UserID: 1, Question: "What is osmosis?"})
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if resp.Answer != InsufficientContextAnswer {
				t.Errorf("answer = %q, want insufficient-context answer", resp.Answer)
			}
			if resp.Confidence != 0.0 {
				t.Errorf("confidence = %v, want 0.0", resp.Confidence)
			}
			if resp.Citations == nil || len(resp.Citations) != 0 {
				t.Errorf("citations = %v, want empty non-nil slice", resp.Citations)
			}
			if resp.ContextChunks != 0 {
				t.Errorf("context chunks = %d, want 0", resp.ContextChunks)
			}
			if gen.calls != 0 {
				t.Fatalf("generator was invoked %d times with no evidence", gen.calls)
			}
		})
	}
}

func TestQueryGroundedAnswer(t *testing.T) {
	store := newTestStore(t)
	addChunk(t, store, weightedVec(0.9), "c-membrane", "Osmosis moves water across a membrane.", 1, 1, nil)
	addChunk(t, store, weightedVec(0.7), "c-gradient", "Water follows the concentration gradient.", 1, 1, nil)
	addChunk(t, store, weightedVec(0.1), "c-noise", "Unrelated trivia.", 1, 1, nil)

	gen := &fakeGenerator{answer: "  Water crosses the membrane toward higher solute concentration [1].  "}
	svc := newQueryService(t, store, &fakeEmbedder{}, gen, RAGServiceConfig{MinRelevanceScore: 0.3})

	resp, err := svc.Query(context.Background(), QueryInput{UserID: 1, Question: "What is osmosis?"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.calls)
	}
	if resp.Answer != "Water crosses the membrane toward higher solute concentration [1]." {
		t.Errorf("answer not trimmed: %q", resp.Answer)
	}
	if resp.ContextChunks != 2 {
		t.Fatalf("context chunks = %d, want 2 (noise chunk must be filtered)", resp.ContextChunks)
	}
	if resp.Model != "test-model" {
		t.Errorf("model = %q", resp.Model)
	}

	if len(resp.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(resp.Citations))
	}
	if resp.Citations[0].ChunkID != "c-membrane" || resp.Citations[1].ChunkID != "c-gradient" {
		t.Errorf("citations out of rank order: %v, %v", resp.Citations[0].ChunkID, resp.Citations[1].ChunkID)
	}
	if resp.Citations[0].Source != "notes.pdf" {
		t.Errorf("citation source = %q, want notes.pdf", resp.Citations[0].Source)
	}
	if resp.Citations[0].Snippet == "" {
		t.Error("citation snippet is empty")
	}
	if resp.Citations[0].Score < resp.Citations[1].Score {
		t.Error("citation scores not descending")
	}

	wantConf := (0.9 + 0.7) / 2
	if math.Abs(resp.Confidence-wantConf) > 1e-3 {
		t.Errorf("confidence = %v, want ~%v", resp.Confidence, wantConf)
	}

	if !strings.Contains(gen.lastPrompt, "[1] Source: notes.pdf") {
		t.Errorf("prompt missing numbered source label:\n%s", gen.lastPrompt)
	}
	if !strings.Contains(gen.lastPrompt, "Osmosis moves water across a membrane.") {
		t.Error("prompt missing top chunk content")
	}
	if gen.lastMaxTokens != standardMaxTokens {
		t.Errorf("max tokens = %d, want %d", gen.lastMaxTokens, standardMaxTokens)
	}
}

func TestQueryConfidenceClamped(t *testing.T) {
	store := newTestStore(t)
	// Denormalized vector pushes the inner product past 1.
	long := []float32{2, 0, 0, 0}
	addChunk(t, store, long, "c-long", "over-unit vector", 1, 1, nil)

	svc := newQueryService(t, store, &fakeEmbedder{}, &fakeGenerator{answer: "ok"}, RAGServiceConfig{MinRelevanceScore: 0.3})

	resp, err := svc.Query(context.Background(), QueryInput{UserID: 1, Question: "anything"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if resp.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", resp.Confidence)
	}
}

func TestQueryTopKCapsSurvivors(t *testing.T) {
	store := newTestStore(t)
	weights := []float64{0.95, 0.9, 0.85, 0.8, 0.75}
	for i, w := range weights {
		addChunk(t, store, weightedVec(w), "c-"+string(rune('a'+i)), "chunk", 1, 1, nil)
	}

	gen := &fakeGenerator{answer: "ok"}
	svc := newQueryService(t, store, &fakeEmbedder{}, gen, RAGServiceConfig{MinRelevanceScore: 0.3})

	resp, err := svc.Query(context.Background(), QueryInput{UserID: 1, Question: "q", TopK: 2})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if resp.ContextChunks != 2 || len(resp.Citations) != 2 {
		t.Fatalf("survivors = %d citations = %d, want 2 each", resp.ContextChunks, len(resp.Citations))
	}
	if resp.Citations[0].ChunkID != "c-a" || resp.Citations[1].ChunkID != "c-b" {
		t.Errorf("kept wrong chunks: %s, %s", resp.Citations[0].ChunkID, resp.Citations[1].ChunkID)
	}
}

func TestQueryScopedToUser(t *testing.T) {
	store := newTestStore(t)
	addChunk(t, store, weightedVec(0.9), "c-mine", "my notes", 7, 1, nil)
	addChunk(t, store, weightedVec(0.95), "c-theirs", "someone else's notes", 8, 2, nil)

	svc := newQueryService(t, store, &fakeEmbedder{}, &fakeGenerator{answer: "ok"}, RAGServiceConfig{MinRelevanceScore: 0.3})

	resp, err := svc.Query(context.Background(), QueryInput{UserID: 7, Question: "q"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].ChunkID != "c-mine" {
		t.Fatalf("citations = %+v, want only the querying user's chunk", resp.Citations)
	}
}

func TestQueryConversationalRetrievalUsesLastUserTurn(t *testing.T) {
	store := newTestStore(t)
	addChunk(t, store, axisVec(2), "c-photo", "Photosynthesis converts light into chemical energy.", 1, 1, nil)

	prev := "Tell me about photosynthesis"
	question := "What are its two stages?"
	emb := &fakeEmbedder{vectors: map[string][]float32{
		prev + "\n" + question: axisVec(2),
	}}
	gen := &fakeGenerator{answer: "Light reactions and the Calvin cycle [1]."}
	svc := newQueryService(t, store, emb, gen, RAGServiceConfig{MinRelevanceScore: 0.3, HistoryTurns: 6})

	history := []model.ConversationTurn{
		{Role: "user", Content: prev},
		{Role: "assistant", Content: "It is how plants make food."},
	}
	resp, err := svc.Query(context.Background(), QueryInput{
		UserID:   1,
		Question: question,
		Mode:     ModeConversational,
		History:  history,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if len(emb.lastInputs) != 1 || emb.lastInputs[0] != prev+"\n"+question {
		t.Fatalf("retrieval query = %q, want previous user turn prepended", emb.lastInputs)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].ChunkID != "c-photo" {
		t.Fatalf("citations = %+v, want the photosynthesis chunk", resp.Citations)
	}
	if resp.Query != question {
		t.Errorf("response query = %q, want the literal question", resp.Query)
	}
	if !strings.Contains(gen.lastPrompt, "Student: "+prev) {
		t.Errorf("prompt missing conversation history:\n%s", gen.lastPrompt)
	}
	if gen.lastSystem != conversationalSystem {
		t.Error("conversational mode did not select its system prompt")
	}
}

func TestQueryAnalyticalModeBudget(t *testing.T) {
	store := newTestStore(t)
	addChunk(t, store, weightedVec(0.9), "c-1", "evidence", 1, 1, nil)

	gen := &fakeGenerator{answer: "ok"}
	svc := newQueryService(t, store, &fakeEmbedder{}, gen, RAGServiceConfig{MinRelevanceScore: 0.3})

	if _, err := svc.Query(context.Background(), QueryInput{UserID: 1, Question: "q", Mode: ModeAnalytical}); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if gen.lastMaxTokens != analyticalMaxTokens {
		t.Errorf("max tokens = %d, want %d", gen.lastMaxTokens, analyticalMaxTokens)
	}
	if gen.lastSystem != analyticalSystem {
		t.Error("analytical mode did not select its system prompt")
	}
}

func TestQueryGeneratorFailurePropagates(t *testing.T) {
	store := newTestStore(t)
	addChunk(t, store, weightedVec(0.9), "c-1", "evidence", 1, 1, nil)

	genErr := errors.New("backend down")
	svc := newQueryService(t, store, &fakeEmbedder{}, &fakeGenerator{err: genErr}, RAGServiceConfig{MinRelevanceScore: 0.3})

	if _, err := svc.Query(context.Background(), QueryInput{UserID: 1, Question: "q"}); !errors.Is(err, genErr) {
		t.Fatalf("expected wrapped generator error, got %v", err)
	}
}

func TestIndexChunksWriteThrough(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	content := "Mitochondria are the site of aerobic respiration."
	emb := &fakeEmbedder{vectors: map[string][]float32{content: axisVec(3)}}
	pipeline := NewEmbeddingPipeline(emb, store, dir)

	chunks := []model.SemanticChunk{{
		ID:               "doc1-chunk0",
		Content:          content,
		ChunkType:        model.ChunkTypeParagraph,
		SourceDocumentID: 1,
		SyllabusTags:     []string{"bio"},
		Metadata:         map[string]string{"source": "cells.pdf"},
	}}
	count, err := pipeline.IndexChunks(context.Background(), chunks, 42)
	if err != nil {
		t.Fatalf("index chunks failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("indexed = %d, want 1", count)
	}

	// Persistence happened before IndexChunks returned: a fresh store must see
	// the chunk.
	reloaded := newTestStore(t)
	if err := reloaded.Load(dir); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	results, err := reloaded.Search(axisVec(3), 1, vectorstore.SearchFilter{UserID: 42})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "doc1-chunk0" {
		t.Fatalf("results = %+v, want the persisted chunk", results)
	}
	if results[0].Metadata.Source != "cells.pdf" {
		t.Errorf("metadata source = %q", results[0].Metadata.Source)
	}
	if results[0].Content != content {
		t.Errorf("content = %q", results[0].Content)
	}
}
