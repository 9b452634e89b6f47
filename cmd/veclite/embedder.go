package main

import (
	"context"
	"hash/fnv"
	"math"

	veclite "github.com/lucasastorian/veclite"
	"github.com/lucasastorian/veclite/pkg/embed"
	"github.com/lucasastorian/veclite/pkg/schema"
)

// registerHashEmbedders registers a hashEmbedder for every distinct
// embedder name a vector-enabled column in sch declares, sized to that
// column's dimension.
func registerHashEmbedders(client *veclite.Client, sch *schema.Schema) {
	seen := map[string]bool{}
	for _, t := range sch.Tables {
		for _, col := range t.VectorColumns() {
			if seen[col.Vector.Embedder] {
				continue
			}
			seen[col.Vector.Embedder] = true
			client.RegisterEmbedder(col.Vector.Embedder, newHashEmbedder(col.Vector.Embedder, col.Vector.Dim))
		}
	}
}

// hashEmbedder is the CLI's built-in fallback: a deterministic,
// unit-normalized vector derived from a text's FNV hash, so ingest and
// query against a demo database work without wiring a real embedding
// model. Every embedder name in a --schema file resolves to one of
// these, sized to that column's declared dimension.
type hashEmbedder struct {
	name string
	dim  int
}

func newHashEmbedder(name string, dim int) *hashEmbedder {
	return &hashEmbedder{name: name, dim: dim}
}

func (e *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *hashEmbedder) embedOne(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dim)
	var sumSq float64
	for i := range vec {
		v := math.Sin(float64(seed)*float64(i+1)) * 0.5
		vec[i] = float32(v)
		sumSq += v * v
	}
	if sumSq > 0 {
		norm := float32(1 / math.Sqrt(sumSq))
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec
}

func (e *hashEmbedder) Dim() int     { return e.dim }
func (e *hashEmbedder) Name() string { return e.name }

var _ embed.Embedder = (*hashEmbedder)(nil)
