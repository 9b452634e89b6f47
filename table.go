package veclite

import (
	"context"
	"fmt"

	"github.com/lucasastorian/veclite/pkg/batch"
	"github.com/lucasastorian/veclite/pkg/filter"
	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
)

type opKind int

const (
	opSelect opKind = iota
	opInsert
	opUpsert
	opUpdate
	opDelete
	opVectorSearch
	opKeywordSearch
	opHybridSearch
)

// TableHandle builds a query or mutation against one table or view. Every
// chain method returns the same handle for fluent use; nothing executes
// until Execute is called.
type TableHandle struct {
	client *Client
	target string
	op     opKind
	f      filter.Filter

	selectCols []string

	insertRows  []map[string]any
	nonAtomic   bool
	onConflict  string
	updatePatch map[string]any

	queryText    string
	vectorColumn string
	topk         int
	alpha        float64
}

// Select projects cols (or every column, if none given) from rows
// surviving the filter chain.
func (h *TableHandle) Select(cols ...string) *TableHandle {
	h.op = opSelect
	h.selectCols = cols
	return h
}

// Insert queues rows for an atomic insert: every row and every vector it
// carries becomes visible together, or none do.
func (h *TableHandle) Insert(rows ...map[string]any) *TableHandle {
	h.op = opInsert
	h.insertRows = rows
	h.nonAtomic = false
	return h
}

// InsertNonAtomic commits rows one at a time; a row whose vector column
// fails to embed still commits its non-vector columns, with the failure
// routed to a retriable outbox instead of failing the call.
func (h *TableHandle) InsertNonAtomic(rows ...map[string]any) *TableHandle {
	h.op = opInsert
	h.insertRows = rows
	h.nonAtomic = true
	return h
}

// Upsert inserts row or updates it in place on a primary-key conflict.
// onConflict names the column the conflict is detected on; veclite's
// schema requires that column to be the table's integer primary key.
func (h *TableHandle) Upsert(row map[string]any, onConflict string) *TableHandle {
	h.op = opUpsert
	h.insertRows = []map[string]any{row}
	h.onConflict = onConflict
	return h
}

// Update applies patch to every row surviving the filter chain.
func (h *TableHandle) Update(patch map[string]any) *TableHandle {
	h.op = opUpdate
	h.updatePatch = patch
	return h
}

// Delete removes every row surviving the filter chain, tombstoning its
// entry in every vector-enabled column's VectorFile.
func (h *TableHandle) Delete() *TableHandle {
	h.op = opDelete
	return h
}

// VectorSearch ranks rows by cosine similarity to query, auto-resolving
// the table's sole vector-enabled column. Use VectorSearchColumn when a
// table has more than one.
func (h *TableHandle) VectorSearch(query string, topk int) *TableHandle {
	h.op = opVectorSearch
	h.queryText = query
	h.topk = topk
	return h
}

// VectorSearchColumn is VectorSearch against a named vector column.
func (h *TableHandle) VectorSearchColumn(query, column string, topk int) *TableHandle {
	h.op = opVectorSearch
	h.queryText = query
	h.vectorColumn = column
	h.topk = topk
	return h
}

// KeywordSearch ranks rows by BM25 relevance to query over the table's
// FTS-enabled columns.
func (h *TableHandle) KeywordSearch(query string, topk int) *TableHandle {
	h.op = opKeywordSearch
	h.queryText = query
	h.topk = topk
	return h
}

// HybridSearch fuses vector and keyword rankings with weight alpha
// (1.0 = pure vector, 0.0 = pure keyword), auto-resolving the table's
// sole vector-enabled column. Use HybridSearchColumn otherwise.
func (h *TableHandle) HybridSearch(query string, topk int, alpha float64) *TableHandle {
	h.op = opHybridSearch
	h.queryText = query
	h.topk = topk
	h.alpha = alpha
	return h
}

// HybridSearchColumn is HybridSearch against a named vector column.
func (h *TableHandle) HybridSearchColumn(query, column string, topk int, alpha float64) *TableHandle {
	h.op = opHybridSearch
	h.queryText = query
	h.vectorColumn = column
	h.topk = topk
	h.alpha = alpha
	return h
}

func (h *TableHandle) Eq(col string, v any) *TableHandle        { h.f = h.f.Eq(col, v); return h }
func (h *TableHandle) Neq(col string, v any) *TableHandle       { h.f = h.f.Neq(col, v); return h }
func (h *TableHandle) Gt(col string, v any) *TableHandle        { h.f = h.f.Gt(col, v); return h }
func (h *TableHandle) Gte(col string, v any) *TableHandle       { h.f = h.f.Gte(col, v); return h }
func (h *TableHandle) Lt(col string, v any) *TableHandle        { h.f = h.f.Lt(col, v); return h }
func (h *TableHandle) Lte(col string, v any) *TableHandle       { h.f = h.f.Lte(col, v); return h }
func (h *TableHandle) Between(col string, lo, hi any) *TableHandle {
	h.f = h.f.Between(col, lo, hi)
	return h
}
func (h *TableHandle) In(col string, vals []any) *TableHandle    { h.f = h.f.In(col, vals); return h }
func (h *TableHandle) NotIn(col string, vals []any) *TableHandle { h.f = h.f.NotIn(col, vals); return h }
func (h *TableHandle) IsNull(col string) *TableHandle            { h.f = h.f.IsNull(col); return h }
func (h *TableHandle) IsNotNull(col string) *TableHandle         { h.f = h.f.IsNotNull(col); return h }
func (h *TableHandle) Contains(col string, v any) *TableHandle   { h.f = h.f.Contains(col, v); return h }
func (h *TableHandle) ILike(col, pattern string) *TableHandle    { h.f = h.f.ILike(col, pattern); return h }
func (h *TableHandle) Regex(col, pattern string) *TableHandle    { h.f = h.f.Regex(col, pattern); return h }

// Order sets the (stable) sort column for Select and filtered mutations.
func (h *TableHandle) Order(col string, desc bool) *TableHandle {
	h.f = h.f.Order(col, desc)
	return h
}

// Limit caps the result count, applied after ordering.
func (h *TableHandle) Limit(n int) *TableHandle {
	h.f = h.f.Limit(n)
	return h
}

// Execute runs the queued operation and returns its result.
func (h *TableHandle) Execute(ctx context.Context) (Result, error) {
	switch h.op {
	case opSelect:
		return h.client.planner.Select(ctx, h.target, h.f, h.selectCols)
	case opInsert:
		return h.execInsert(ctx)
	case opUpsert:
		return h.execUpsert(ctx)
	case opUpdate:
		return h.execUpdate(ctx)
	case opDelete:
		return h.execDelete(ctx)
	case opVectorSearch:
		col, err := h.resolveVectorColumn()
		if err != nil {
			return Result{}, err
		}
		return h.client.planner.VectorSearch(ctx, h.target, col, h.queryText, h.f, h.topk)
	case opKeywordSearch:
		return h.client.planner.KeywordSearch(ctx, h.target, h.queryText, h.f, h.topk)
	case opHybridSearch:
		col, err := h.resolveVectorColumn()
		if err != nil {
			return Result{}, err
		}
		return h.client.planner.HybridSearch(ctx, h.target, col, h.queryText, h.f, h.topk, h.alpha)
	default:
		return Result{}, verr.Wrap(verr.KindSchema, "Execute", fmt.Errorf("no operation queued on table %q", h.target))
	}
}

func (h *TableHandle) resolveVectorColumn() (string, error) {
	if h.vectorColumn != "" {
		return h.vectorColumn, nil
	}
	return h.client.vectorColumnFor(h.target)
}

func (h *TableHandle) execInsert(ctx context.Context) (Result, error) {
	t, ok := h.client.sch.Table(h.target)
	if !ok {
		return Result{}, verr.Wrap(verr.KindSchema, "Insert", fmt.Errorf("%w: %q", verr.ErrUnknownTable, h.target))
	}
	inserts := make([]batch.Insert, len(h.insertRows))
	for i, row := range h.insertRows {
		inserts[i] = batch.Insert{Table: h.target, Cols: row, Vector: vectorTextFromRow(t, row)}
	}

	var ids []int64
	var err error
	if h.nonAtomic {
		ids, err = h.client.coordinator.NonAtomic(ctx, inserts)
	} else {
		ids, err = h.client.coordinator.Atomic(ctx, inserts)
	}
	if err != nil {
		return Result{}, err
	}

	pk := t.PrimaryKey()
	data := make([]map[string]any, len(ids))
	for i, id := range ids {
		data[i] = map[string]any{pk: id}
	}
	return Result{Data: data}, nil
}

func (h *TableHandle) execUpsert(ctx context.Context) (Result, error) {
	t, ok := h.client.sch.Table(h.target)
	if !ok {
		return Result{}, verr.Wrap(verr.KindSchema, "Upsert", fmt.Errorf("%w: %q", verr.ErrUnknownTable, h.target))
	}
	if h.onConflict != "" && h.onConflict != t.PrimaryKey() {
		return Result{}, verr.Wrap(verr.KindSchema, "Upsert",
			fmt.Errorf("on_conflict column %q must be the primary key %q", h.onConflict, t.PrimaryKey()))
	}
	row := h.insertRows[0]
	if err := h.client.coordinator.UpsertWithVector(ctx, h.target, row, vectorTextFromRow(t, row)); err != nil {
		return Result{}, err
	}
	return Result{Data: []map[string]any{row}}, nil
}

func (h *TableHandle) execUpdate(ctx context.Context) (Result, error) {
	t, ok := h.client.sch.Table(h.target)
	if !ok {
		return Result{}, verr.Wrap(verr.KindSchema, "Update", fmt.Errorf("%w: %q", verr.ErrUnknownTable, h.target))
	}
	pk := t.PrimaryKey()
	matched, err := h.client.planner.Select(ctx, h.target, h.f, []string{pk})
	if err != nil {
		return Result{}, err
	}

	updated := make([]map[string]any, 0, len(matched.Data))
	for _, row := range matched.Data {
		cols := make(map[string]any, len(h.updatePatch)+1)
		for k, v := range h.updatePatch {
			cols[k] = v
		}
		cols[pk] = row[pk]
		if err := h.client.coordinator.UpsertWithVector(ctx, h.target, cols, vectorTextFromRow(t, cols)); err != nil {
			return Result{}, err
		}
		updated = append(updated, cols)
	}
	return Result{Data: updated}, nil
}

func (h *TableHandle) execDelete(ctx context.Context) (Result, error) {
	t, ok := h.client.sch.Table(h.target)
	if !ok {
		return Result{}, verr.Wrap(verr.KindSchema, "Delete", fmt.Errorf("%w: %q", verr.ErrUnknownTable, h.target))
	}
	pk := t.PrimaryKey()
	matched, err := h.client.planner.Select(ctx, h.target, h.f, []string{pk})
	if err != nil {
		return Result{}, err
	}

	deleted := make([]map[string]any, 0, len(matched.Data))
	for _, row := range matched.Data {
		pkVal := row[pk]
		if err := h.client.store.DeleteByPK(ctx, t, pkVal); err != nil {
			return Result{}, err
		}
		rowID, err := toRowID(pkVal)
		if err != nil {
			return Result{}, verr.Wrap(verr.KindSchema, "Delete", err)
		}
		for _, col := range t.VectorColumns() {
			vf, ok := h.client.planner.VectorFile(h.target, col.Name)
			if !ok {
				continue
			}
			if err := vf.MarkDeleted(ctx, rowID); err != nil {
				return Result{}, err
			}
		}
		deleted = append(deleted, row)
	}
	return Result{Data: deleted}, nil
}

// vectorTextFromRow extracts the text source for every vector-enabled
// column present in row: the column stores its own text, which both
// RelStore and the embedder consume.
func vectorTextFromRow(t *schema.Table, row map[string]any) map[string]string {
	out := map[string]string{}
	for _, col := range t.VectorColumns() {
		if v, ok := row[col.Name]; ok {
			if s, ok := v.(string); ok {
				out[col.Name] = s
			}
		}
	}
	return out
}

func toRowID(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected an integer row id, got %T", v)
	}
}
