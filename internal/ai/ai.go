package ai

import (
	"context"
	"errors"
	"math"
)

// ErrUnavailable marks transport-level generation failures (network errors,
// timeouts, upstream 5xx). Callers must be able to tell it apart from the
// "no relevant context" case, which never reaches the backend at all.
var ErrUnavailable = errors.New("generation backend unavailable")

// Embedder turns texts into unit-normalized fixed-dimension vectors. Output
// must be deterministic for identical input so the ingestion and query sides
// share one vector space.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generator produces text from an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error)
	ModelName() string
}

// NormalizeVector scales v to unit length in place. Zero vectors are left
// untouched.
func NormalizeVector(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
