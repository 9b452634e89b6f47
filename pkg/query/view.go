package query

import (
	"fmt"

	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
)

// ViewResolver validates a view's structural requirements at
// registration time: every base table must be connected to the others
// by a declared foreign key (so the view's join is well-formed), and if
// the view is to be eligible for vector search it must declare an "id"
// alias mapped to the vector-bearing base table's primary key.
type ViewResolver struct {
	sch *schema.Schema
}

// NewViewResolver builds a resolver over sch.
func NewViewResolver(sch *schema.Schema) *ViewResolver {
	return &ViewResolver{sch: sch}
}

// Register validates v against the resolver's schema: every field
// references a real (table, column), every named table is connected to
// the rest of the join by a foreign key, and if v.IDField is present it
// must resolve to a primary key.
func (r *ViewResolver) Register(v *schema.View) error {
	tableSet := map[string]bool{}
	for _, t := range v.Tables {
		if _, ok := r.sch.Table(t); !ok {
			return verr.Wrap(verr.KindSchema, "view.Register",
				fmt.Errorf("%w: %q (view %q)", verr.ErrUnknownTable, t, v.Name))
		}
		tableSet[t] = true
	}

	for _, f := range v.Fields {
		if !tableSet[f.Table] {
			return verr.Wrap(verr.KindSchema, "view.Register",
				fmt.Errorf("%w: field %q references table %q not in view %q's table list", verr.ErrUnknownField, f.Alias, f.Table, v.Name))
		}
		table, _ := r.sch.Table(f.Table)
		if _, ok := table.Column(f.Column); !ok {
			return verr.Wrap(verr.KindSchema, "view.Register",
				fmt.Errorf("%w: %q.%q (view %q)", verr.ErrUnknownField, f.Table, f.Column, v.Name))
		}
	}

	if len(v.Tables) > 1 {
		if !joinConnected(r.sch, v.Tables) {
			return verr.Wrap(verr.KindSchema, "view.Register",
				fmt.Errorf("%w: view %q", verr.ErrDisconnectedJoin, v.Name))
		}
	}

	if idField, ok := v.IDField(); ok {
		table, _ := r.sch.Table(idField.Table)
		if table.PrimaryKey() != idField.Column {
			return verr.Wrap(verr.KindSchema, "view.Register",
				fmt.Errorf("%w: view %q's id alias maps to %q.%q, which is not that table's primary key",
					verr.ErrMissingVectorID, v.Name, idField.Table, idField.Column))
		}
	}

	return nil
}

// ValidateViews registers every view declared in sch against a resolver
// built over sch, surfacing the first structural failure
// (UnknownTable/UnknownField/DisconnectedJoin/MissingVectorID). Intended
// to run once, at store construction, before any view's SQL is created.
func ValidateViews(sch *schema.Schema) error {
	r := NewViewResolver(sch)
	for _, v := range sch.Views {
		if err := r.Register(v); err != nil {
			return err
		}
	}
	return nil
}

// VectorTable returns the base table a view's "id" alias resolves to,
// which is the table whose VectorFile a vector_search against the view
// must scan. Fails if the view declares no id alias.
func (r *ViewResolver) VectorTable(v *schema.View) (*schema.Table, error) {
	idField, ok := v.IDField()
	if !ok {
		return nil, verr.Wrap(verr.KindSchema, "view.VectorTable",
			fmt.Errorf("%w: view %q", verr.ErrMissingVectorID, v.Name))
	}
	table, ok := r.sch.Table(idField.Table)
	if !ok {
		return nil, verr.Wrap(verr.KindSchema, "view.VectorTable",
			fmt.Errorf("%w: %q", verr.ErrUnknownTable, idField.Table))
	}
	return table, nil
}

// joinConnected reports whether every table in tables is reachable from
// the others via declared foreign-key edges, using union-find over the
// edges restricted to this view's table set.
func joinConnected(sch *schema.Schema, tables []string) bool {
	parent := map[string]string{}
	for _, t := range tables {
		parent[t] = t
	}
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	inSet := map[string]bool{}
	for _, t := range tables {
		inSet[t] = true
	}
	for _, t := range tables {
		table, ok := sch.Table(t)
		if !ok {
			continue
		}
		for _, fk := range table.ForeignKeys() {
			if inSet[fk.ToTable] {
				union(fk.FromTable, fk.ToTable)
			}
		}
	}

	root := find(tables[0])
	for _, t := range tables[1:] {
		if find(t) != root {
			return false
		}
	}
	return true
}
