package query

import (
	"testing"

	"github.com/lucasastorian/veclite/pkg/schema"
)

func twoTableSchema() *schema.Schema {
	sch := schema.New()
	docs := schema.NewTable("docs",
		schema.Int("id", schema.WithPrimaryKey()),
		schema.Str("title"),
	)
	chunks := schema.NewTable("chunks",
		schema.Int("id", schema.WithPrimaryKey()),
		schema.Int("doc_id", schema.WithForeignKey("docs.id")),
		schema.Str("body"),
	)
	_ = sch.AddTable(docs)
	_ = sch.AddTable(chunks)
	return sch
}

func TestViewResolverAcceptsConnectedJoin(t *testing.T) {
	sch := twoTableSchema()
	v := schema.NewView("doc_chunks", []string{"docs", "chunks"},
		schema.ViewField("id", "chunks", "id"),
		schema.ViewField("title", "docs", "title"),
		schema.ViewField("body", "chunks", "body"),
	)
	if err := NewViewResolver(sch).Register(v); err != nil {
		t.Fatalf("expected connected join to validate, got: %v", err)
	}
}

func TestViewResolverRejectsDisconnectedJoin(t *testing.T) {
	sch := twoTableSchema()
	_ = sch.AddTable(schema.NewTable("orphan", schema.Int("id", schema.WithPrimaryKey())))
	v := schema.NewView("bad_view", []string{"docs", "orphan"},
		schema.ViewField("id", "docs", "id"),
		schema.ViewField("x", "orphan", "id"),
	)
	if err := NewViewResolver(sch).Register(v); err == nil {
		t.Fatal("expected disconnected join to fail validation")
	}
}

func TestViewResolverRejectsUnknownTable(t *testing.T) {
	sch := twoTableSchema()
	v := schema.NewView("v", []string{"docs", "ghost"}, schema.ViewField("id", "docs", "id"))
	if err := NewViewResolver(sch).Register(v); err == nil {
		t.Fatal("expected unknown table to fail validation")
	}
}

func TestViewResolverRequiresIDAliasToMapToPrimaryKey(t *testing.T) {
	sch := twoTableSchema()
	v := schema.NewView("v", []string{"docs"}, schema.ViewField("id", "docs", "title"))
	if err := NewViewResolver(sch).Register(v); err == nil {
		t.Fatal("expected id alias mapped to a non-primary-key column to fail validation")
	}
}

func TestViewResolverVectorTableResolvesIDAlias(t *testing.T) {
	sch := twoTableSchema()
	v := schema.NewView("doc_chunks", []string{"docs", "chunks"},
		schema.ViewField("id", "chunks", "id"),
		schema.ViewField("title", "docs", "title"),
	)
	r := NewViewResolver(sch)
	if err := r.Register(v); err != nil {
		t.Fatalf("Register: %v", err)
	}
	table, err := r.VectorTable(v)
	if err != nil {
		t.Fatalf("VectorTable: %v", err)
	}
	if table.Name != "chunks" {
		t.Fatalf("expected vector table 'chunks', got %q", table.Name)
	}
}

func TestViewResolverVectorTableFailsWithoutIDAlias(t *testing.T) {
	sch := twoTableSchema()
	v := schema.NewView("v", []string{"docs"}, schema.ViewField("title", "docs", "title"))
	r := NewViewResolver(sch)
	if err := r.Register(v); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.VectorTable(v); err == nil {
		t.Fatal("expected missing id alias to fail VectorTable")
	}
}
