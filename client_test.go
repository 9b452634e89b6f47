package veclite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	veclite "github.com/lucasastorian/veclite"
	"github.com/lucasastorian/veclite/pkg/schema"
)

// lookupEmbedder maps specific known texts to specific known vectors, the
// way the literal end-to-end scenarios pin embed("x")=[1,0,0,0] and so on.
type lookupEmbedder struct {
	dim   int
	table map[string][]float32
}

func (e *lookupEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := e.table[t]
		if !ok {
			return nil, errors.New("lookupEmbedder: no fixture for text " + t)
		}
		out[i] = v
	}
	return out, nil
}
func (e *lookupEmbedder) Dim() int     { return e.dim }
func (e *lookupEmbedder) Name() string { return "identity" }

func documentsSchema() *schema.Schema {
	sch := schema.New()
	_ = sch.AddTable(schema.NewTable("documents",
		schema.Int("id", schema.WithPrimaryKey()),
		schema.Str("title", schema.WithFTS()),
		schema.Str("content", schema.WithFTS(), schema.WithVector("identity", 4)),
	))
	return sch
}

func newTestClient(t *testing.T, sch *schema.Schema) *veclite.Client {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	c, err := veclite.Create(context.Background(), sch, dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// Scenario 1: exact-match vector_search ranks the identical vector first
// with a cosine score at (approximately) 1.0.
func TestScenario1VectorSearchExactMatch(t *testing.T) {
	sch := documentsSchema()
	c := newTestClient(t, sch)
	c.RegisterEmbedder("identity", &lookupEmbedder{dim: 4, table: map[string][]float32{
		"x": {1, 0, 0, 0},
		"y": {0, 1, 0, 0},
	}})

	ctx := context.Background()
	_, err := c.Table("documents").Insert(
		map[string]any{"id": int64(1), "title": "a", "content": "x"},
		map[string]any{"id": int64(2), "title": "b", "content": "y"},
	).Execute(ctx)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := c.Table("documents").VectorSearch("x", 1).Execute(ctx)
	if err != nil {
		t.Fatalf("vector_search: %v", err)
	}
	if len(res.Data) != 1 || res.Data[0]["id"] != int64(1) {
		t.Fatalf("want [{id:1}], got %+v", res.Data)
	}
	if res.Scores[0] < 1-1e-6 {
		t.Fatalf("want score ~= 1.0, got %v", res.Scores[0])
	}
}

// Scenario 2: delete tombstones the row without shrinking the .vec file,
// and the deleted row no longer surfaces in vector_search.
func TestScenario2DeleteTombstonesRow(t *testing.T) {
	sch := documentsSchema()
	c := newTestClient(t, sch)
	c.RegisterEmbedder("identity", &lookupEmbedder{dim: 4, table: map[string][]float32{
		"x": {1, 0, 0, 0},
		"y": {0, 1, 0, 0},
	}})

	ctx := context.Background()
	if _, err := c.Table("documents").Insert(
		map[string]any{"id": int64(1), "title": "a", "content": "x"},
		map[string]any{"id": int64(2), "title": "b", "content": "y"},
	).Execute(ctx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	vf, ok := c.VectorFile("documents", "content")
	if !ok {
		t.Fatal("expected a registered VectorFile for documents.content")
	}
	preLen := vf.Len()

	if _, err := c.Table("documents").Delete().Eq("id", int64(1)).Execute(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res, err := c.Table("documents").VectorSearch("x", 2).Execute(ctx)
	if err != nil {
		t.Fatalf("vector_search: %v", err)
	}
	if len(res.Data) != 1 || res.Data[0]["id"] != int64(2) {
		t.Fatalf("want only [{id:2}] to survive, got %+v", res.Data)
	}
	if vf.Len() != preLen {
		t.Fatalf(".vec length changed on delete: pre=%d post=%d", preLen, vf.Len())
	}
}

// Scenario 3: keyword_search and an ilike("title", ...) filter agree on
// the same row.
func TestScenario3KeywordSearchMatchesILike(t *testing.T) {
	sch := documentsSchema()
	c := newTestClient(t, sch)
	c.RegisterEmbedder("identity", &lookupEmbedder{dim: 4, table: map[string][]float32{
		"z": {0, 0, 1, 0},
	}})

	ctx := context.Background()
	if _, err := c.Table("documents").Insert(
		map[string]any{"id": int64(3), "title": "Intro to Python", "content": "z"},
	).Execute(ctx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	kw, err := c.Table("documents").KeywordSearch("python", 10).Execute(ctx)
	if err != nil {
		t.Fatalf("keyword_search: %v", err)
	}
	if len(kw.Data) != 1 || kw.Data[0]["id"] != int64(3) {
		t.Fatalf("want [{id:3}], got %+v", kw.Data)
	}

	sel, err := c.Table("documents").Select().ILike("title", "python").Execute(ctx)
	if err != nil {
		t.Fatalf("select ilike: %v", err)
	}
	if len(sel.Data) != 1 || sel.Data[0]["id"] != int64(3) {
		t.Fatalf("want ilike to match the same row, got %+v", sel.Data)
	}
}

// Scenario 4: hybrid_search degenerates to pure vector or pure keyword
// ordering at the extremes of alpha.
func TestScenario4HybridSearchDegeneratesAtAlphaExtremes(t *testing.T) {
	sch := documentsSchema()
	c := newTestClient(t, sch)
	c.RegisterEmbedder("identity", &lookupEmbedder{dim: 4, table: map[string][]float32{
		"x":      {1, 0, 0, 0},
		"y":      {0, 1, 0, 0},
		"z":      {0, 0, 1, 0},
		"python": {0, 0, 0, 1},
	}})

	ctx := context.Background()
	if _, err := c.Table("documents").Insert(
		map[string]any{"id": int64(1), "title": "python basics", "content": "x"},
		map[string]any{"id": int64(2), "title": "golang basics", "content": "y"},
		map[string]any{"id": int64(3), "title": "python advanced", "content": "z"},
	).Execute(ctx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	vecOnly, err := c.Table("documents").HybridSearch("x", 3, 1.0).Execute(ctx)
	if err != nil {
		t.Fatalf("hybrid_search alpha=1.0: %v", err)
	}
	pureVec, err := c.Table("documents").VectorSearch("x", 3).Execute(ctx)
	if err != nil {
		t.Fatalf("vector_search: %v", err)
	}
	if !sameIDOrder(vecOnly.Data, pureVec.Data) {
		t.Fatalf("alpha=1.0 hybrid order %v != vector_search order %v", vecOnly.Data, pureVec.Data)
	}

	kwOnly, err := c.Table("documents").HybridSearch("python", 3, 0.0).Execute(ctx)
	if err != nil {
		t.Fatalf("hybrid_search alpha=0.0: %v", err)
	}
	pureKw, err := c.Table("documents").KeywordSearch("python", 3).Execute(ctx)
	if err != nil {
		t.Fatalf("keyword_search: %v", err)
	}
	if !sameIDOrder(kwOnly.Data, pureKw.Data) {
		t.Fatalf("alpha=0.0 hybrid order %v != keyword_search order %v", kwOnly.Data, pureKw.Data)
	}
}

func sameIDOrder(a, b []map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i]["id"] != b[i]["id"] {
			return false
		}
	}
	return true
}

// Scenario 5: an atomic batch insert whose embedder fails on the second
// row leaves RelStore and the VectorFile exactly as they were before the
// scope started.
func TestScenario5AtomicBatchRollsBackOnEmbedderFailure(t *testing.T) {
	sch := documentsSchema()
	c := newTestClient(t, sch)
	c.RegisterEmbedder("identity", &lookupEmbedder{dim: 4, table: map[string][]float32{
		"x": {1, 0, 0, 0},
		"z": {0, 0, 1, 0},
		// "y" deliberately has no fixture, so embedding row 2 fails.
	}})

	ctx := context.Background()
	vf, ok := c.VectorFile("documents", "content")
	if !ok {
		t.Fatal("expected a registered VectorFile for documents.content")
	}
	preLen := vf.Len()

	_, err := c.Table("documents").Insert(
		map[string]any{"id": int64(1), "title": "a", "content": "x"},
		map[string]any{"id": int64(2), "title": "b", "content": "y"},
		map[string]any{"id": int64(3), "title": "c", "content": "z"},
	).Execute(ctx)
	if err == nil {
		t.Fatal("expected the batch to fail on row 2's embedding")
	}

	if vf.Len() != preLen {
		t.Fatalf(".vec length changed after rollback: pre=%d post=%d", preLen, vf.Len())
	}
	sel, err := c.Table("documents").Select().Execute(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Data) != 0 {
		t.Fatalf("want 0 committed rows after rollback, got %d", len(sel.Data))
	}
}

func yearsSchema() *schema.Schema {
	sch := schema.New()
	_ = sch.AddTable(schema.NewTable("releases",
		schema.Int("id", schema.WithPrimaryKey()),
		schema.Int("year"),
	))
	return sch
}

// Scenario 6: between(...) combined with order(...) returns matching rows
// in ascending order.
func TestScenario6BetweenWithOrder(t *testing.T) {
	sch := yearsSchema()
	c := newTestClient(t, sch)

	ctx := context.Background()
	years := []int64{2017, 2018, 2020, 2022, 2023}
	rows := make([]map[string]any, len(years))
	for i, y := range years {
		rows[i] = map[string]any{"id": int64(i + 1), "year": y}
	}
	if _, err := c.Table("releases").Insert(rows...).Execute(ctx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := c.Table("releases").Select("year").Between("year", int64(2018), int64(2022)).Order("year", false).Execute(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	want := []int64{2018, 2020, 2022}
	if len(res.Data) != len(want) {
		t.Fatalf("want %d rows, got %d: %+v", len(want), len(res.Data), res.Data)
	}
	for i, w := range want {
		if res.Data[i]["year"] != w {
			t.Fatalf("row %d: want year %d, got %v", i, w, res.Data[i]["year"])
		}
	}
}
