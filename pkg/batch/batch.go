// Package batch implements BatchCoordinator: grouping row inserts into
// atomic transactions spanning RelStore and VectorFile, or committing
// row-by-row with a durable retry outbox for embedding failures.
package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/lucasastorian/veclite/pkg/embed"
	"github.com/lucasastorian/veclite/pkg/relstore"
	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
	"github.com/lucasastorian/veclite/pkg/vectorfile"
	"github.com/lucasastorian/veclite/pkg/vlog"
)

// Insert is one row to add during a batch scope: Cols are the row's
// column values, and Vector maps a vector-enabled column's name to the
// text that column's Embedder should turn into a vector for this row.
type Insert struct {
	Table  string
	Cols   map[string]any
	Vector map[string]string
}

// Coordinator owns the VectorFile and Embedder registrations a batch
// scope needs, plus the intent log and outbox files that back its
// crash-recovery and non-atomic-mode failure paths.
type Coordinator struct {
	store *relstore.Store
	sch   *schema.Schema
	dir   string // vectors directory, matches vectorfile.Open's dir
	log   vlog.Logger

	vectors   map[string]*vectorfile.VectorFile // "table.column" -> file
	intents   map[string]*vectorfile.IntentLog  // "table.column" -> log
	embedders map[string]embed.Embedder
}

// New builds a Coordinator. dir is the same vectors directory every
// registered VectorFile was opened under.
func New(store *relstore.Store, sch *schema.Schema, dir string, log vlog.Logger) *Coordinator {
	if log == nil {
		log = vlog.Nop{}
	}
	return &Coordinator{
		store:     store,
		sch:       sch,
		dir:       dir,
		log:       log,
		vectors:   map[string]*vectorfile.VectorFile{},
		intents:   map[string]*vectorfile.IntentLog{},
		embedders: map[string]embed.Embedder{},
	}
}

func vectorKey(table, column string) string { return table + "." + column }

func splitVectorKey(key string) (table, column string) {
	parts := strings.SplitN(key, ".", 2)
	return parts[0], parts[1]
}

// RegisterVectorFile associates vf with table.column and opens its
// intent log, for use by both Atomic scopes and Reconcile.
func (c *Coordinator) RegisterVectorFile(table, column string, vf *vectorfile.VectorFile) error {
	key := vectorKey(table, column)
	c.vectors[key] = vf
	il, err := vectorfile.OpenIntentLog(c.dir, table, column)
	if err != nil {
		return err
	}
	c.intents[key] = il
	return nil
}

// RegisterEmbedder makes e available under name for columns whose
// schema.VectorConfig.Embedder references it.
func (c *Coordinator) RegisterEmbedder(name string, e embed.Embedder) {
	c.embedders[name] = e
}

// Close releases every registered intent log's file handle.
func (c *Coordinator) Close() error {
	var firstErr error
	for _, il := range c.intents {
		if err := il.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type pendingColumn struct {
	entries []vectorfile.IntentEntry
}

// Atomic runs the six-step atomic scope over inserts: begin a RelStore
// transaction, insert every row, bulk-embed each vector column's texts,
// append the resulting vectors to their VectorFiles, commit, then fsync.
// Any failure before the commit rolls the transaction back and truncates
// every touched VectorFile back to its pre-scope length, so the scope's
// writes become visible as a single all-or-nothing event.
func (c *Coordinator) Atomic(ctx context.Context, inserts []Insert) ([]int64, error) {
	if len(inserts) == 0 {
		return nil, nil
	}

	touched := map[string]*vectorfile.VectorFile{}
	preLen := map[string]int{}
	for _, ins := range inserts {
		for col := range ins.Vector {
			key := vectorKey(ins.Table, col)
			vf, ok := c.vectors[key]
			if !ok {
				return nil, verr.Wrap(verr.KindSchema, "batch.Atomic",
					fmt.Errorf("no VectorFile registered for %s.%s", ins.Table, col))
			}
			if _, seen := touched[key]; !seen {
				touched[key] = vf
				preLen[key] = vf.Len()
			}
		}
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback()
		for key, vf := range touched {
			if err := vf.TruncateTo(ctx, preLen[key]); err != nil {
				c.log.Error("failed to truncate vector file during atomic rollback", "key", key, "error", err)
			}
		}
	}()

	rowIDs := make([]int64, len(inserts))
	for i, ins := range inserts {
		id, err := c.store.Insert(ctx, tx, ins.Table, ins.Cols)
		if err != nil {
			return nil, err
		}
		rowIDs[i] = id
	}

	byColumn := map[string]*pendingColumn{}
	textByColumn := map[string][]string{}
	rowsByColumn := map[string][]int64{}
	var order []string

	for i, ins := range inserts {
		for col, text := range ins.Vector {
			key := vectorKey(ins.Table, col)
			if _, ok := byColumn[key]; !ok {
				byColumn[key] = &pendingColumn{}
				order = append(order, key)
			}
			textByColumn[key] = append(textByColumn[key], text)
			rowsByColumn[key] = append(rowsByColumn[key], rowIDs[i])
		}
	}

	for _, key := range order {
		table, column := splitVectorKey(key)
		t, ok := c.sch.Table(table)
		if !ok {
			return nil, verr.Wrap(verr.KindSchema, "batch.Atomic", fmt.Errorf("%w: %q", verr.ErrUnknownTable, table))
		}
		col, ok := t.Column(column)
		if !ok || col.Vector == nil {
			return nil, verr.Wrap(verr.KindSchema, "batch.Atomic", fmt.Errorf("column %q is not vector-enabled", column))
		}
		e, ok := c.embedders[col.Vector.Embedder]
		if !ok {
			return nil, verr.Wrap(verr.KindEmbedder, "batch.Atomic", fmt.Errorf("no embedder registered under %q", col.Vector.Embedder))
		}
		vecs, err := e.Embed(ctx, textByColumn[key])
		if err != nil {
			return nil, verr.Wrap(verr.KindEmbedder, "batch.Atomic", err)
		}
		if len(vecs) != len(textByColumn[key]) {
			return nil, verr.Wrap(verr.KindEmbedder, "batch.Atomic",
				fmt.Errorf("embedder %q returned %d vectors for %d texts", col.Vector.Embedder, len(vecs), len(textByColumn[key])))
		}
		entries := make([]vectorfile.IntentEntry, len(vecs))
		for i, v := range vecs {
			entries[i] = vectorfile.IntentEntry{RowID: rowsByColumn[key][i], Vector: v}
		}
		byColumn[key].entries = entries
	}

	// Record the intent before touching any VectorFile: a crash after
	// commit but before fsync can then be reconciled by replay.
	for _, key := range order {
		if il, ok := c.intents[key]; ok {
			if _, err := il.Write(byColumn[key].entries); err != nil {
				return nil, err
			}
		}
	}

	for _, key := range order {
		vf := touched[key]
		for _, entry := range byColumn[key].entries {
			if _, err := vf.Append(ctx, entry.RowID, entry.Vector); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	for _, key := range order {
		vf := touched[key]
		if err := vf.Fsync(); err != nil {
			c.log.Error("fsync failed after atomic batch commit", "key", key, "error", err)
			continue
		}
		if il, ok := c.intents[key]; ok {
			if err := il.Clear(); err != nil {
				c.log.Error("failed to clear intent log after fsync", "key", key, "error", err)
			}
		}
	}

	return rowIDs, nil
}

// NonAtomic commits each insert to RelStore immediately. A row whose
// vector-column embedding fails stays committed in RelStore; its id is
// appended to that column's outbox for a later RetryOutbox instead of
// failing the whole batch. Storage errors are never routed to the
// outbox — they fail the call outright.
func (c *Coordinator) NonAtomic(ctx context.Context, inserts []Insert) ([]int64, error) {
	rowIDs := make([]int64, len(inserts))
	for i, ins := range inserts {
		id, err := c.store.Insert(ctx, nil, ins.Table, ins.Cols)
		if err != nil {
			return nil, err
		}
		rowIDs[i] = id

		for col, text := range ins.Vector {
			if err := c.embedAndAppendOrOutbox(ctx, ins.Table, col, id, text); err != nil {
				return nil, err
			}
		}
	}
	return rowIDs, nil
}

func (c *Coordinator) embedAndAppendOrOutbox(ctx context.Context, table, column string, rowID int64, text string) error {
	key := vectorKey(table, column)
	vf, ok := c.vectors[key]
	if !ok {
		return verr.Wrap(verr.KindSchema, "batch.NonAtomic", fmt.Errorf("no VectorFile registered for %s.%s", table, column))
	}
	t, ok := c.sch.Table(table)
	if !ok {
		return verr.Wrap(verr.KindSchema, "batch.NonAtomic", fmt.Errorf("%w: %q", verr.ErrUnknownTable, table))
	}
	col, ok := t.Column(column)
	if !ok || col.Vector == nil {
		return verr.Wrap(verr.KindSchema, "batch.NonAtomic", fmt.Errorf("column %q is not vector-enabled", column))
	}
	e, ok := c.embedders[col.Vector.Embedder]
	if !ok {
		return verr.Wrap(verr.KindEmbedder, "batch.NonAtomic", fmt.Errorf("no embedder registered under %q", col.Vector.Embedder))
	}

	hash := murmur3.Sum64([]byte(text))
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return newOutbox(c.dir, table, column).Append(OutboxEntry{RowID: rowID, TextHash: hash, Attempts: 1})
	}
	if _, err := vf.Append(ctx, rowID, vecs[0]); err != nil {
		return err
	}
	return vf.Fsync()
}

// UpsertWithVector upserts a row's columns and, for each entry in
// vectorText, skips re-embedding when the text is unchanged since the
// row's last successful embed (per the text_hash sidecar), replaces the
// vector in place when the text changed for an existing row, and
// appends a fresh vector for a row seen for the first time.
func (c *Coordinator) UpsertWithVector(ctx context.Context, table string, cols map[string]any, vectorText map[string]string) error {
	t, ok := c.sch.Table(table)
	if !ok {
		return verr.Wrap(verr.KindSchema, "batch.UpsertWithVector", fmt.Errorf("%w: %q", verr.ErrUnknownTable, table))
	}
	rowID, err := asRowID(cols[t.PrimaryKey()])
	if err != nil {
		return verr.Wrap(verr.KindSchema, "batch.UpsertWithVector", fmt.Errorf("upsert requires primary key %q in cols: %w", t.PrimaryKey(), err))
	}

	if err := c.store.Upsert(ctx, nil, t, cols); err != nil {
		return err
	}

	for column, text := range vectorText {
		if err := c.ensureTextHashTable(ctx, table, column); err != nil {
			return err
		}
		hash := murmur3.Sum64([]byte(text))
		prior, existed, err := c.priorTextHash(ctx, table, column, rowID)
		if err != nil {
			return err
		}
		if existed && prior == hash {
			continue
		}

		key := vectorKey(table, column)
		vf, ok := c.vectors[key]
		if !ok {
			return verr.Wrap(verr.KindSchema, "batch.UpsertWithVector", fmt.Errorf("no VectorFile registered for %s.%s", table, column))
		}
		col, ok := t.Column(column)
		if !ok || col.Vector == nil {
			return verr.Wrap(verr.KindSchema, "batch.UpsertWithVector", fmt.Errorf("column %q is not vector-enabled", column))
		}
		e, ok := c.embedders[col.Vector.Embedder]
		if !ok {
			return verr.Wrap(verr.KindEmbedder, "batch.UpsertWithVector", fmt.Errorf("no embedder registered under %q", col.Vector.Embedder))
		}
		vecs, err := e.Embed(ctx, []string{text})
		if err != nil {
			return verr.Wrap(verr.KindEmbedder, "batch.UpsertWithVector", err)
		}

		if vf.Has(rowID) {
			if err := vf.Replace(ctx, rowID, vecs[0]); err != nil {
				return err
			}
		} else if _, err := vf.Append(ctx, rowID, vecs[0]); err != nil {
			return err
		}
		if err := vf.Fsync(); err != nil {
			return err
		}
		if err := c.recordTextHash(ctx, nil, table, column, rowID, hash); err != nil {
			return err
		}
	}
	return nil
}

func asRowID(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected an integer row id, got %T", v)
	}
}
