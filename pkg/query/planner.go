// Package query implements QueryPlanner: it turns a query request
// (select, keyword, vector, or hybrid search, each with an optional
// filter) into an execution over RelStore, VectorFile, and the
// InvertedIndex, including the join/alias rewriting views require.
package query

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lucasastorian/veclite/pkg/embed"
	"github.com/lucasastorian/veclite/pkg/filter"
	"github.com/lucasastorian/veclite/pkg/relstore"
	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
	"github.com/lucasastorian/veclite/pkg/vectorfile"
	"github.com/lucasastorian/veclite/pkg/vlog"
)

// Result is what every query mode returns: projected rows and, for
// scored modes, one score per row in the same order.
type Result struct {
	Data   []map[string]any
	Scores []float64
}

// Planner executes query requests against a schema-bound store.
type Planner struct {
	store     *relstore.Store
	sch       *schema.Schema
	resolver  *ViewResolver
	vectors   map[string]*vectorfile.VectorFile // keyed by "table.column"
	embedders map[string]embed.Embedder         // keyed by embedder name
	log       vlog.Logger
}

// New builds a Planner. vectors and embedders may be extended after
// construction via RegisterVectorFile/RegisterEmbedder.
func New(store *relstore.Store, sch *schema.Schema, log vlog.Logger) *Planner {
	if log == nil {
		log = vlog.Nop{}
	}
	return &Planner{
		store:     store,
		sch:       sch,
		resolver:  NewViewResolver(sch),
		vectors:   map[string]*vectorfile.VectorFile{},
		embedders: map[string]embed.Embedder{},
		log:       log,
	}
}

func vectorKey(table, column string) string { return table + "." + column }

// RegisterVectorFile associates an opened VectorFile with a vector-enabled column.
func (p *Planner) RegisterVectorFile(table, column string, vf *vectorfile.VectorFile) {
	p.vectors[vectorKey(table, column)] = vf
}

// RegisterEmbedder makes an Embedder available under name for columns
// whose schema.VectorConfig.Embedder references it.
func (p *Planner) RegisterEmbedder(name string, e embed.Embedder) {
	p.embedders[name] = e
}

// VectorFile returns the registered VectorFile for table.column, if any.
func (p *Planner) VectorFile(table, column string) (*vectorfile.VectorFile, bool) {
	vf, ok := p.vectors[vectorKey(table, column)]
	return vf, ok
}

// Select runs a plain filtered projection with no ranking.
func (p *Planner) Select(ctx context.Context, target string, f filter.Filter, cols []string) (Result, error) {
	tbl, err := p.tableForCompile(target)
	if err != nil {
		return Result{}, err
	}
	compiled, err := filter.Compile(f, tbl)
	if err != nil {
		return Result{}, err
	}

	colList := "*"
	if len(cols) > 0 {
		colList = quoteList(cols)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", colList, quoteIdent(target))
	if compiled.Where != "" {
		q += " WHERE " + compiled.Where
	}
	if compiled.OrderBy != "" {
		q += " ORDER BY " + compiled.OrderBy
	}
	if compiled.HasLimit {
		q += fmt.Sprintf(" LIMIT %d", compiled.Limit)
	}

	rows, err := p.store.Query(ctx, q, compiled.Bindings...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()
	data, err := scanRows(rows)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: data}, nil
}

// KeywordSearch runs BM25 ranking over table, restricted to ids that
// survive filter f. Views are not supported: FTS lives on the base
// table, and a view may span several base tables' FTS indexes with no
// single well-defined BM25 ranking.
func (p *Planner) KeywordSearch(ctx context.Context, table string, queryText string, f filter.Filter, topk int) (Result, error) {
	t, ok := p.sch.Table(table)
	if !ok {
		return Result{}, verr.Wrap(verr.KindSchema, "KeywordSearch", fmt.Errorf("%w: %q", verr.ErrUnknownTable, table))
	}

	candidates, hasFilter, err := p.candidateIDs(ctx, table, t, f)
	if err != nil {
		return Result{}, err
	}

	hits, err := p.store.BM25Search(ctx, t, queryText, -1)
	if err != nil {
		return Result{}, err
	}

	filtered := make([]relstore.KeywordHit, 0, len(hits))
	for _, h := range hits {
		if hasFilter {
			if _, ok := candidates[h.RowID]; !ok {
				continue
			}
		}
		filtered = append(filtered, h)
	}
	sortKeywordHits(filtered)
	if topk > 0 && len(filtered) > topk {
		filtered = filtered[:topk]
	}

	ids := make([]int64, len(filtered))
	scoreByID := make(map[int64]float64, len(filtered))
	for i, h := range filtered {
		ids[i] = h.RowID
		scoreByID[h.RowID] = h.Score
	}
	data, matched, err := p.projectByIDs(ctx, table, t.PrimaryKey(), ids)
	if err != nil {
		return Result{}, err
	}
	scores := make([]float64, len(matched))
	for i, id := range matched {
		scores[i] = scoreByID[id]
	}
	return Result{Data: data, Scores: scores}, nil
}

// VectorSearch embeds queryText, cosine-scans the vector column's
// VectorFile restricted to ids surviving filter f, and returns the top-k
// rows. target may be a table or a view; for a view the scan runs
// against the underlying vector-bearing table its "id" alias resolves
// to, and the final projection returns the view's alias set.
func (p *Planner) VectorSearch(ctx context.Context, target, column string, queryText string, f filter.Filter, topk int) (Result, error) {
	vecTable, pkName, err := p.resolveVectorTable(target)
	if err != nil {
		return Result{}, err
	}

	compileTbl, err := p.tableForCompile(target)
	if err != nil {
		return Result{}, err
	}
	candidates, hasFilter, err := p.candidateIDsForTable(ctx, target, compileTbl, f, pkName)
	if err != nil {
		return Result{}, err
	}

	vf, ok := p.VectorFile(vecTable.Name, column)
	if !ok {
		return Result{}, verr.Wrap(verr.KindSchema, "VectorSearch",
			fmt.Errorf("no VectorFile registered for %s.%s", vecTable.Name, column))
	}
	col, _ := vecTable.Column(column)
	if col.Vector == nil {
		return Result{}, verr.Wrap(verr.KindSchema, "VectorSearch",
			fmt.Errorf("column %q is not vector-enabled", column))
	}
	e, ok := p.embedders[col.Vector.Embedder]
	if !ok {
		return Result{}, verr.Wrap(verr.KindEmbedder, "VectorSearch",
			fmt.Errorf("no embedder registered under %q", col.Vector.Embedder))
	}
	vecs, err := e.Embed(ctx, []string{queryText})
	if err != nil {
		return Result{}, verr.Wrap(verr.KindEmbedder, "VectorSearch", err)
	}
	if len(vecs) != 1 {
		return Result{}, verr.Wrap(verr.KindEmbedder, "VectorSearch", fmt.Errorf("embedder returned %d vectors, want 1", len(vecs)))
	}

	var candSet map[int64]struct{}
	if hasFilter {
		candSet = candidates
	}
	scored, err := vf.VectorScan(ctx, vecs[0], candSet, topk)
	if err != nil {
		return Result{}, err
	}

	ids := make([]int64, len(scored))
	scoreByID := make(map[int64]float64, len(scored))
	for i, s := range scored {
		ids[i] = s.RowID
		scoreByID[s.RowID] = s.Score
	}
	data, matched, err := p.projectByIDs(ctx, target, pkName, ids)
	if err != nil {
		return Result{}, err
	}
	scores := make([]float64, len(matched))
	for i, id := range matched {
		scores[i] = scoreByID[id]
	}
	return Result{Data: data, Scores: scores}, nil
}

// HybridSearch fuses top keyword and vector candidates with min-max
// normalization and alpha weighting. Views are not supported, for the
// same reason KeywordSearch excludes them.
func (p *Planner) HybridSearch(ctx context.Context, table, column string, queryText string, f filter.Filter, topk int, alpha float64) (Result, error) {
	t, ok := p.sch.Table(table)
	if !ok {
		return Result{}, verr.Wrap(verr.KindSchema, "HybridSearch", fmt.Errorf("%w: %q", verr.ErrUnknownTable, table))
	}
	col, _ := t.Column(column)
	if col.Vector == nil {
		return Result{}, verr.Wrap(verr.KindSchema, "HybridSearch", fmt.Errorf("column %q is not vector-enabled", column))
	}
	vf, ok := p.VectorFile(table, column)
	if !ok {
		return Result{}, verr.Wrap(verr.KindSchema, "HybridSearch", fmt.Errorf("no VectorFile registered for %s.%s", table, column))
	}
	e, ok := p.embedders[col.Vector.Embedder]
	if !ok {
		return Result{}, verr.Wrap(verr.KindEmbedder, "HybridSearch", fmt.Errorf("no embedder registered under %q", col.Vector.Embedder))
	}

	candidates, hasFilter, err := p.candidateIDs(ctx, table, t, f)
	if err != nil {
		return Result{}, err
	}
	var candSet map[int64]struct{}
	if hasFilter {
		candSet = candidates
	}

	m := topk * 4
	if m < 50 {
		m = 50
	}

	vecs, err := e.Embed(ctx, []string{queryText})
	if err != nil {
		return Result{}, verr.Wrap(verr.KindEmbedder, "HybridSearch", err)
	}

	// The vector scan and the BM25 lookup read disjoint storage (the
	// VectorFile and SQLite's FTS5 shadow tables) and don't depend on
	// each other's results, so they run concurrently ahead of fusion.
	var vecHitsList []vectorfile.ScoredVector
	var kwHitsAll []relstore.KeywordHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHitsList, err = vf.VectorScan(gctx, vecs[0], candSet, m)
		return err
	})
	g.Go(func() error {
		var err error
		kwHitsAll, err = p.store.BM25Search(gctx, t, queryText, -1)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	vecHits := make(map[int64]float64, len(vecHitsList))
	for _, h := range vecHitsList {
		vecHits[h.RowID] = h.Score
	}

	kwHits := map[int64]float64{}
	count := 0
	for _, h := range kwHitsAll {
		if hasFilter {
			if _, ok := candidates[h.RowID]; !ok {
				continue
			}
		}
		kwHits[h.RowID] = h.Score
		count++
		if count >= m {
			break
		}
	}

	fused := fuse(vecHits, kwHits, alpha, topk)
	ids := make([]int64, len(fused))
	scoreByID := make(map[int64]float64, len(fused))
	for i, c := range fused {
		ids[i] = c.RowID
		scoreByID[c.RowID] = c.Fused
	}
	data, matched, err := p.projectByIDs(ctx, table, t.PrimaryKey(), ids)
	if err != nil {
		return Result{}, err
	}
	scores := make([]float64, len(matched))
	for i, id := range matched {
		scores[i] = scoreByID[id]
	}
	return Result{Data: data, Scores: scores}, nil
}

func sortKeywordHits(hits []relstore.KeywordHit) {
	// BM25Search already orders by score DESC; break remaining ties by
	// ascending row-id for a stable, spec-mandated order.
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && (hits[j-1].Score < hits[j].Score ||
			(hits[j-1].Score == hits[j].Score && hits[j-1].RowID > hits[j].RowID)) {
			hits[j-1], hits[j] = hits[j], hits[j-1]
			j--
		}
	}
}

// tableForCompile returns a *schema.Table suitable for filter.Compile:
// the table itself, or a synthetic table mirroring a view's alias set.
func (p *Planner) tableForCompile(target string) (*schema.Table, error) {
	if t, ok := p.sch.Table(target); ok {
		return t, nil
	}
	if v, ok := p.sch.View(target); ok {
		return viewAsTable(p.sch, v)
	}
	return nil, verr.Wrap(verr.KindSchema, "tableForCompile", fmt.Errorf("%w: %q", verr.ErrUnknownTable, target))
}

// resolveVectorTable returns the base table a vector search against
// target must scan, and the primary-key column name to use when
// building candidate id sets and final projections against target.
func (p *Planner) resolveVectorTable(target string) (*schema.Table, string, error) {
	if t, ok := p.sch.Table(target); ok {
		return t, t.PrimaryKey(), nil
	}
	if v, ok := p.sch.View(target); ok {
		vecTable, err := p.resolver.VectorTable(v)
		if err != nil {
			return nil, "", err
		}
		idField, _ := v.IDField()
		return vecTable, idField.Alias, nil
	}
	return nil, "", verr.Wrap(verr.KindSchema, "resolveVectorTable", fmt.Errorf("%w: %q", verr.ErrUnknownTable, target))
}

// candidateIDs compiles f against table t and returns the surviving
// primary-key values, or hasFilter=false if f has no predicates (meaning
// "scan everything").
func (p *Planner) candidateIDs(ctx context.Context, name string, t *schema.Table, f filter.Filter) (map[int64]struct{}, bool, error) {
	return p.candidateIDsForTable(ctx, name, t, f, t.PrimaryKey())
}

func (p *Planner) candidateIDsForTable(ctx context.Context, name string, t *schema.Table, f filter.Filter, pkName string) (map[int64]struct{}, bool, error) {
	compiled, err := filter.Compile(f, t)
	if err != nil {
		return nil, false, err
	}
	if compiled.Where == "" {
		return nil, false, nil
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", quoteIdent(pkName), quoteIdent(name), compiled.Where)
	rows, err := p.store.Query(ctx, q, compiled.Bindings...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	ids := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, false, verr.Wrap(verr.KindStorage, "candidateIDs", err)
		}
		ids[id] = struct{}{}
	}
	return ids, true, rows.Err()
}

// projectByIDs fetches the requested columns for ids, preserving ids'
// order (the caller's rank order), from target (table or view). Also
// returns the subset of ids that actually matched a row, in the same
// order as the returned data, so a caller scoring by id (rather than by
// position) doesn't desync when a ranked id has no projected row — a
// view's inner join can exclude an id a vector/keyword scan still saw.
func (p *Planner) projectByIDs(ctx context.Context, target, pkName string, ids []int64) ([]map[string]any, []int64, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)", quoteIdent(target), quoteIdent(pkName), joinStrings(placeholders, ","))
	rows, err := p.store.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	byID, err := scanRowsKeyedBy(rows, pkName)
	if err != nil {
		return nil, nil, err
	}

	out := make([]map[string]any, 0, len(ids))
	matched := make([]int64, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
			matched = append(matched, id)
		}
	}
	return out, matched, nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, verr.Wrap(verr.KindStorage, "scanRows", err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, verr.Wrap(verr.KindStorage, "scanRows", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanRowsKeyedBy(rows *sql.Rows, keyCol string) (map[int64]map[string]any, error) {
	all, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]map[string]any, len(all))
	for _, row := range all {
		switch v := row[keyCol].(type) {
		case int64:
			out[v] = row
		default:
			return nil, verr.Wrap(verr.KindConsistency, "scanRowsKeyedBy", fmt.Errorf("key column %q is not an integer id", keyCol))
		}
	}
	return out, nil
}

func quoteIdent(name string) string { return `"` + name + `"` }

func quoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return joinStrings(out, ", ")
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// viewAsTable builds a synthetic table descriptor mirroring a view's
// alias set, so filter.Compile can compile predicates against view
// aliases the same way it compiles them against real columns.
func viewAsTable(sch *schema.Schema, v *schema.View) (*schema.Table, error) {
	cols := make([]schema.Column, 0, len(v.Fields))
	idAlias, _ := v.IDField()
	for _, f := range v.Fields {
		base, ok := sch.Table(f.Table)
		if !ok {
			return nil, verr.Wrap(verr.KindSchema, "viewAsTable", fmt.Errorf("%w: %q", verr.ErrUnknownTable, f.Table))
		}
		baseCol, ok := base.Column(f.Column)
		if !ok {
			return nil, verr.Wrap(verr.KindSchema, "viewAsTable", fmt.Errorf("%w: %q.%q", verr.ErrUnknownField, f.Table, f.Column))
		}
		cols = append(cols, schema.Column{
			Name:       f.Alias,
			Type:       baseCol.Type,
			PrimaryKey: f.Alias == idAlias.Alias,
			Nullable:   f.Alias != idAlias.Alias,
		})
	}
	return schema.NewTable(v.Name, cols...), nil
}
