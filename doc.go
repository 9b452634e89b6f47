// Package veclite is a local-first, embeddable retrieval engine: a
// relational store, an exact-cosine vector index, and SQLite's FTS5
// keyword ranking, unified behind one schema-first data model and one
// chainable query surface.
//
// A veclite database is a single directory holding a SQLite file plus
// one vector file set per vector-enabled column. Tables and views are
// declared with pkg/schema, then handed to Create or Open:
//
//	sch := schema.New()
//	sch.AddTable(schema.NewTable("docs",
//		schema.Int("id", schema.WithPrimaryKey()),
//		schema.Str("title", schema.WithFTS()),
//		schema.Str("category", schema.WithIndex()),
//		schema.Str("body", schema.WithFTS(), schema.WithVector("openai", 1536)),
//	))
//
//	db, err := veclite.Create(ctx, sch, "./mydb")
//	db.RegisterEmbedder("openai", myEmbedder)
//	defer db.Close()
//
//	res, err := db.Table("docs").
//		VectorSearch("golang concurrency patterns", 10).
//		Eq("category", "articles").
//		Execute(ctx)
//
// # Batched ingestion
//
// Multi-row inserts run inside an atomic scope by default: RelStore rows
// and their columns' vectors become visible together or not at all.
// InsertNonAtomic trades that guarantee for row-by-row durability,
// routing embedding failures to a retriable outbox instead of failing
// the whole call.
package veclite
