package chunker

import (
	"strings"
	"testing"

	"studyrag/internal/model"
)

func TestChunkEmptyInput(t *testing.T) {
	c := New()
	for _, input := range []string{"", "   ", "\n\n\t\n"} {
		if got := c.Chunk(input, 0, nil, nil); len(got) != 0 {
			t.Errorf("Chunk(%q) = %d chunks, want 0", input, len(got))
		}
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name string
		text string
		want model.ChunkType
	}{
		{"markdown heading", "## Cell Biology", model.ChunkTypeHeading},
		{"chapter heading", "Chapter 3 The Krebs Cycle", model.ChunkTypeHeading},
		{"all caps heading", "PHOTOSYNTHESIS OVERVIEW", model.ChunkTypeHeading},
		{"bullet list", "- mitochondria\n- ribosomes\n- golgi apparatus", model.ChunkTypeList},
		{"numbered list", "1. glycolysis happens first\n2. then the krebs cycle\n3. finally oxidative phosphorylation", model.ChunkTypeList},
		{"colon definition", "Osmosis: the movement of water across a semipermeable membrane from low to high solute concentration.", model.ChunkTypeDefinition},
		{"defining phrase", "The term homeostasis is defined as the tendency of an organism to maintain internal stability.", model.ChunkTypeDefinition},
		{"example", "Enzymes speed up reactions. For example, amylase breaks down starch in saliva.", model.ChunkTypeExample},
		{"question mark", "Given the structure of the membrane, which molecules pass freely?", model.ChunkTypeQuestion},
		{"interrogative opener", "What factors limit the rate of photosynthesis in low light conditions", model.ChunkTypeQuestion},
		{"summary", "In summary, cellular respiration converts glucose into usable energy through three linked stages.", model.ChunkTypeSummary},
		{"plain paragraph", "The mitochondrion contains its own DNA and replicates independently of the cell cycle.", model.ChunkTypeParagraph},
	}

	c := New(WithMinChunkChars(0))
	for _, tc := range cases {
		chunks := c.Chunk(tc.text, 0, nil, nil)
		if len(chunks) == 0 {
			t.Errorf("%s: no chunks produced", tc.name)
			continue
		}
		if chunks[0].ChunkType != tc.want {
			t.Errorf("%s: got type %q, want %q", tc.name, chunks[0].ChunkType, tc.want)
		}
	}
}

func TestMergeRetainsSpecificType(t *testing.T) {
	text := "A plain opening paragraph about membranes and their role in transport.\n\n" +
		"Diffusion: the net movement of particles from high to low concentration."

	c := New(WithMinChunkChars(0))
	chunks := c.Chunk(text, 0, nil, nil)
	if len(chunks) != 1 {
		t.Fatalf("expected blocks to merge into 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ChunkType != model.ChunkTypeDefinition {
		t.Errorf("merged chunk type = %q, want definition", chunks[0].ChunkType)
	}
}

func TestSizeBound(t *testing.T) {
	sentence := "The cell membrane regulates what enters and leaves the cell at all times. "
	text := strings.Repeat(sentence, 60) // ~4500 chars in one block

	maxTokens := 128
	c := New(WithMaxTokens(maxTokens), WithMinChunkChars(0))
	chunks := c.Chunk(text, 0, nil, nil)
	if len(chunks) < 2 {
		t.Fatalf("oversized block was not split, got %d chunks", len(chunks))
	}
	for _, ch := range chunks {
		if ch.TokenCount > maxTokens {
			t.Errorf("chunk %d token count %d exceeds max %d", ch.ChunkIndex, ch.TokenCount, maxTokens)
		}
	}
}

func TestNoSentenceBoundaryEscapeHatch(t *testing.T) {
	// A single run with no terminal punctuation cannot be split further and
	// is allowed to exceed the budget.
	text := strings.Repeat("gene ", 300)
	c := New(WithMaxTokens(64), WithMinChunkChars(0))
	chunks := c.Chunk(text, 0, nil, nil)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 unsplittable chunk, got %d", len(chunks))
	}
	if chunks[0].TokenCount <= 64 {
		t.Errorf("expected token count above budget, got %d", chunks[0].TokenCount)
	}
}

func TestSegmentationCompleteness(t *testing.T) {
	paragraphs := []string{
		"Photosynthesis converts light energy into chemical energy stored in glucose molecules.",
		"The light reactions occur in the thylakoid membranes and produce ATP and NADPH.",
		"The Calvin cycle fixes carbon dioxide into organic molecules in the stroma.",
		"C4 plants separate carbon fixation spatially to reduce photorespiration losses.",
	}
	text := strings.Join(paragraphs, "\n\n")

	c := New(WithMaxTokens(30), WithMinChunkChars(0))
	chunks := c.Chunk(text, 0, nil, nil)

	joined := ""
	for _, ch := range chunks {
		joined += ch.Content + "\n"
	}
	lastPos := -1
	for _, p := range paragraphs {
		pos := strings.Index(joined, p)
		if pos < 0 {
			t.Fatalf("paragraph dropped: %q", p)
		}
		if pos < lastPos {
			t.Fatalf("paragraph out of order: %q", p)
		}
		lastPos = pos
	}
}

func TestChunkCountScenario(t *testing.T) {
	// ~3000 chars with max_tokens=512 should land within +-1 of
	// ceil(estimated_tokens/512).
	paragraph := "Mitosis divides a single cell into two genetically identical daughter cells. " +
		"It proceeds through prophase, metaphase, anaphase and telophase in strict order. " +
		"Checkpoint proteins verify spindle attachment before anaphase begins."
	var sb strings.Builder
	for sb.Len() < 3000 {
		sb.WriteString(paragraph)
		sb.WriteString("\n\n")
	}
	text := sb.String()

	c := New(WithMaxTokens(512))
	chunks := c.Chunk(text, 0, nil, nil)

	estTokens := EstimateTokens(text)
	want := (estTokens + 511) / 512
	got := len(chunks)
	if got < want-1 || got > want+1 {
		t.Errorf("chunk count %d not within +-1 of %d (est tokens %d)", got, want, estTokens)
	}
}

func TestContextPreviews(t *testing.T) {
	long := strings.Repeat("The nucleus stores genetic material. ", 20)
	text := long + "\n\n" + long + "\n\n" + long

	window := 50
	c := New(WithMaxTokens(80), WithContextWindow(window), WithMinChunkChars(0))
	chunks := c.Chunk(text, 0, nil, nil)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}

	if chunks[0].ContextBefore != "" {
		t.Errorf("first chunk has context_before %q", chunks[0].ContextBefore)
	}
	if chunks[len(chunks)-1].ContextAfter != "" {
		t.Errorf("last chunk has context_after")
	}
	mid := chunks[1]
	if !strings.HasPrefix(mid.ContextBefore, "...") {
		t.Errorf("context_before not ellipsis-prefixed: %q", mid.ContextBefore)
	}
	if len(mid.ContextBefore) > window+3 {
		t.Errorf("context_before length %d exceeds window", len(mid.ContextBefore))
	}
	if !strings.HasSuffix(mid.ContextAfter, "...") {
		t.Errorf("context_after not ellipsis-suffixed: %q", mid.ContextAfter)
	}
}

func TestTagsAndIndexAssignment(t *testing.T) {
	text := "First paragraph about enzyme kinetics and reaction rates in cells.\n\n" +
		strings.Repeat("Substrate concentration affects reaction velocity up to saturation. ", 40)

	tags := []string{"biology", "enzymes"}
	c := New(WithMaxTokens(60))
	chunks := c.Chunk(text, 7, tags, map[string]string{"course": "bio101"})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, ch.ChunkIndex)
		}
		if ch.SourceDocumentID != 7 {
			t.Errorf("chunk %d document id = %d", i, ch.SourceDocumentID)
		}
		if len(ch.SyllabusTags) != 2 || ch.SyllabusTags[0] != "biology" {
			t.Errorf("chunk %d tags = %v", i, ch.SyllabusTags)
		}
		if ch.Metadata["course"] != "bio101" {
			t.Errorf("chunk %d metadata = %v", i, ch.Metadata)
		}
		if ch.ID == "" {
			t.Errorf("chunk %d missing id", i)
		}
	}
}

func TestMinSizeFiltering(t *testing.T) {
	text := "ok\n\n" + "A sufficiently long paragraph about the structure of ribosomes and translation."
	c := New(WithMinChunkChars(10))
	chunks := c.Chunk(text, 0, nil, nil)
	for _, ch := range chunks {
		if len(ch.Content) < 10 {
			t.Errorf("sub-minimum chunk survived: %q", ch.Content)
		}
	}
}
