// Package embed defines the Embedder and Reranker seams: veclite never
// ships a concrete embedding model, it calls out to whatever the caller
// configured a vector-enabled column with.
package embed

import "context"

// Embedder turns text into fixed-dimension vectors. Embed must return one
// vector per input text, in the same order, each of length Dim().
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	Name() string
}

// EmbedderFunc adapts a plain function to the Embedder interface for
// callers that don't need the Name/Dim bookkeeping of a full struct.
type EmbedderFunc struct {
	Fn    func(ctx context.Context, texts []string) ([][]float32, error)
	Dim_  int
	Name_ string
}

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f.Fn(ctx, texts)
}
func (f EmbedderFunc) Dim() int     { return f.Dim_ }
func (f EmbedderFunc) Name() string { return f.Name_ }

// ScoredRow is one ranked result surfaced to a Reranker: just enough for
// a reranker to re-score without knowing veclite's internal row shape.
type ScoredRow struct {
	RowID   int64
	Text    string
	Score   float64
	Columns map[string]any
}

// Reranker reorders a QueryPlanner result set using signals beyond
// vector/keyword score (e.g. a cross-encoder). It returns a new slice;
// implementations must not mutate results in place.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []ScoredRow) ([]ScoredRow, error)
}

// RerankerFunc adapts a plain function to the Reranker interface.
type RerankerFunc func(ctx context.Context, query string, results []ScoredRow) ([]ScoredRow, error)

func (f RerankerFunc) Rerank(ctx context.Context, query string, results []ScoredRow) ([]ScoredRow, error) {
	return f(ctx, query, results)
}
