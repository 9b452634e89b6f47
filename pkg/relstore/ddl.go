package relstore

import (
	"fmt"
	"strings"

	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
)

// createTableSQL renders a CREATE TABLE statement for t. A vector-enabled
// column still stores its source text (or whatever its declared SQL type
// is) here like any other column; only the derived embedding lives
// out-of-band in a VectorFile, addressed by the table's primary key.
func createTableSQL(t *schema.Table) string {
	var cols []string
	for _, c := range t.Columns {
		cols = append(cols, columnDefSQL(c))
	}
	for _, fk := range t.ForeignKeys() {
		cols = append(cols, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE CASCADE",
			quoteIdent(fk.FromColumn), quoteIdent(fk.ToTable), quoteIdent(fk.ToColumn)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quoteIdent(t.Name), strings.Join(cols, ",\n  "))
}

func columnDefSQL(c schema.Column) string {
	parts := []string{quoteIdent(c.Name), c.Type.String()}
	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	} else if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if c.Unique && !c.PrimaryKey {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " ")
}

// createIndexSQL renders one CREATE INDEX statement per secondary-indexed
// non-primary-key column. Unique columns get no separate index here; their
// UNIQUE constraint is part of the column definition.
func createIndexSQL(t *schema.Table) []string {
	var stmts []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			continue
		}
		if c.Index {
			name := fmt.Sprintf("idx_%s_%s", t.Name, c.Name)
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quoteIdent(name), quoteIdent(t.Name), quoteIdent(c.Name)))
		}
	}
	return stmts
}

// createFTSSQL renders the FTS5 shadow table and sync triggers for a
// table's full-text-indexed columns. The shadow table runs in
// external-content mode, referencing the base table by rowid, so the
// indexed text is never duplicated on disk.
func createFTSSQL(t *schema.Table) []string {
	ftsCols := t.FTSColumns()
	if len(ftsCols) == 0 {
		return nil
	}
	names := make([]string, len(ftsCols))
	for i, c := range ftsCols {
		names[i] = c.Name
	}
	colList := strings.Join(names, ", ")
	ftsTable := fmt.Sprintf("%s_fts", t.Name)

	var stmts []string
	stmts = append(stmts, fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(%s, content='%s', content_rowid='rowid')",
		quoteIdent(ftsTable), colList, t.Name))

	newCols := make([]string, len(names))
	oldCols := make([]string, len(names))
	for i, n := range names {
		newCols[i] = "new." + quoteIdent(n)
		oldCols[i] = "old." + quoteIdent(n)
	}

	stmts = append(stmts, fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s BEGIN\n"+
			"  INSERT INTO %s(rowid, %s) VALUES (new.rowid, %s);\n"+
			"END",
		quoteIdent(t.Name+"_fts_ai"), quoteIdent(t.Name), quoteIdent(ftsTable), colList, strings.Join(newCols, ", ")))

	stmts = append(stmts, fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS %s AFTER DELETE ON %s BEGIN\n"+
			"  INSERT INTO %s(%s, rowid, %s) VALUES('delete', old.rowid, %s);\n"+
			"END",
		quoteIdent(t.Name+"_fts_ad"), quoteIdent(t.Name), quoteIdent(ftsTable), quoteIdent(ftsTable), colList, strings.Join(oldCols, ", ")))

	stmts = append(stmts, fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s BEGIN\n"+
			"  INSERT INTO %s(%s, rowid, %s) VALUES('delete', old.rowid, %s);\n"+
			"  INSERT INTO %s(rowid, %s) VALUES (new.rowid, %s);\n"+
			"END",
		quoteIdent(t.Name+"_fts_au"), quoteIdent(t.Name), quoteIdent(ftsTable), quoteIdent(ftsTable), colList, strings.Join(oldCols, ", "),
		quoteIdent(ftsTable), colList, strings.Join(newCols, ", ")))

	return stmts
}

// createViewSQL renders a CREATE VIEW statement for v, validating that
// every field references a table that's actually joinable: full
// structural validation (connectivity, vector-id requirement) lives in
// pkg/query.ViewResolver, which runs before this is called.
func createViewSQL(v *schema.View, sch *schema.Schema) (string, error) {
	var selects []string
	for _, f := range v.Fields {
		selects = append(selects, fmt.Sprintf("%s.%s AS %s", quoteIdent(f.Table), quoteIdent(f.Column), quoteIdent(f.Alias)))
	}
	if len(v.Tables) == 0 {
		return "", verr.Wrap(verr.KindSchema, "relstore.createViewSQL", fmt.Errorf("view %q declares no base tables", v.Name))
	}

	from := quoteIdent(v.Tables[0])
	var joins []string
	for _, tableName := range v.Tables[1:] {
		edge, ok := findJoinEdge(sch, v.Tables[0], tableName, v.Tables)
		if !ok {
			return "", verr.Wrap(verr.KindSchema, "relstore.createViewSQL",
				fmt.Errorf("view %q: no foreign key connects %q to the rest of the join", v.Name, tableName))
		}
		joins = append(joins, fmt.Sprintf("JOIN %s ON %s.%s = %s.%s",
			quoteIdent(tableName), quoteIdent(edge.FromTable), quoteIdent(edge.FromColumn), quoteIdent(edge.ToTable), quoteIdent(edge.ToColumn)))
	}

	stmt := fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS SELECT %s FROM %s", quoteIdent(v.Name), strings.Join(selects, ", "), from)
	if len(joins) > 0 {
		stmt += " " + strings.Join(joins, " ")
	}
	return stmt, nil
}

// findJoinEdge finds a foreign-key edge between target and any other
// table already part of the join, in either direction.
func findJoinEdge(sch *schema.Schema, _ string, target string, allTables []string) (schema.ForeignKeyEdge, bool) {
	for _, tableName := range allTables {
		if tableName == target {
			continue
		}
		if t, ok := sch.Table(tableName); ok {
			for _, fk := range t.ForeignKeys() {
				if fk.ToTable == target {
					return fk, true
				}
			}
		}
		if t, ok := sch.Table(target); ok {
			for _, fk := range t.ForeignKeys() {
				if fk.ToTable == tableName {
					return fk, true
				}
			}
		}
	}
	return schema.ForeignKeyEdge{}, false
}
