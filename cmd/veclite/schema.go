package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lucasastorian/veclite/pkg/schema"
)

// jsonSchema is the on-disk shape --schema files use: a thin JSON
// mirror of pkg/schema's builder functions, since the CLI has no way
// to run arbitrary Go to declare a schema the way an embedding caller
// would.
type jsonSchema struct {
	Tables []jsonTable `json:"tables"`
}

type jsonTable struct {
	Name    string        `json:"name"`
	Columns []jsonColumn  `json:"columns"`
}

type jsonColumn struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	PrimaryKey bool    `json:"primary_key"`
	Index      bool    `json:"index"`
	FTS        bool    `json:"fts"`
	Unique     bool    `json:"unique"`
	Nullable   bool    `json:"nullable"`
	ForeignKey string  `json:"foreign_key"`
	Vector     *struct {
		Embedder string `json:"embedder"`
		Dim      int    `json:"dim"`
	} `json:"vector"`
}

func loadSchema(path string) (*schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var js jsonSchema
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}

	sch := schema.New()
	for _, jt := range js.Tables {
		cols := make([]schema.Column, len(jt.Columns))
		for i, jc := range jt.Columns {
			var opts []schema.ColumnOption
			if jc.PrimaryKey {
				opts = append(opts, schema.WithPrimaryKey())
			}
			if jc.Index {
				opts = append(opts, schema.WithIndex())
			}
			if jc.FTS {
				opts = append(opts, schema.WithFTS())
			}
			if jc.Unique {
				opts = append(opts, schema.WithUnique())
			}
			if jc.Nullable {
				opts = append(opts, schema.WithNullable())
			}
			if jc.ForeignKey != "" {
				opts = append(opts, schema.WithForeignKey(jc.ForeignKey))
			}
			if jc.Vector != nil {
				opts = append(opts, schema.WithVector(jc.Vector.Embedder, jc.Vector.Dim))
			}

			ctor, ok := columnCtors[jc.Type]
			if !ok {
				return nil, fmt.Errorf("table %q column %q: unknown type %q", jt.Name, jc.Name, jc.Type)
			}
			cols[i] = ctor(jc.Name, opts...)
		}
		if err := sch.AddTable(schema.NewTable(jt.Name, cols...)); err != nil {
			return nil, err
		}
	}
	return sch, nil
}

var columnCtors = map[string]func(string, ...schema.ColumnOption) schema.Column{
	"integer": schema.Int,
	"text":    schema.Str,
	"boolean": schema.Bool,
	"real":    schema.Flt,
	"blob":    schema.Bytes,
	"json":    schema.Obj,
}
