package veclite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasastorian/veclite/pkg/batch"
	"github.com/lucasastorian/veclite/pkg/embed"
	"github.com/lucasastorian/veclite/pkg/query"
	"github.com/lucasastorian/veclite/pkg/relstore"
	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
	"github.com/lucasastorian/veclite/pkg/vectorfile"
	"github.com/lucasastorian/veclite/pkg/vlog"
)

const sqliteFileName = "sqlite.db"
const vectorDirName = "vectors"

// Client is the single entry point into a veclite database: every table
// handle, query, and mutation is reached from one Client instance, and
// every piece of state (the SQLite connection, the vector files, the
// registered embedders) is owned by it. There is no global state.
type Client struct {
	sch         *schema.Schema
	store       *relstore.Store
	planner     *query.Planner
	coordinator *batch.Coordinator
	vectors     []*vectorfile.VectorFile
	dir         string
	log         vlog.Logger
}

// Create initializes a fresh database directory for sch at dir: a SQLite
// file, and one VectorFile set per vector-enabled column. It fails if
// dir already contains a database.
func Create(ctx context.Context, sch *schema.Schema, dir string) (*Client, error) {
	if _, err := os.Stat(filepath.Join(dir, sqliteFileName)); err == nil {
		return nil, verr.Wrap(verr.KindStorage, "Create", fmt.Errorf("database already exists at %s", dir))
	}
	return open(ctx, sch, dir, false)
}

// Open opens an existing database directory, replaying any intent-log
// entries left behind by an unclean shutdown before returning.
func Open(ctx context.Context, sch *schema.Schema, dir string) (*Client, error) {
	return open(ctx, sch, dir, true)
}

func open(ctx context.Context, sch *schema.Schema, dir string, reconcile bool) (*Client, error) {
	log := vlog.NewStd(vlog.LevelInfo)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, verr.Wrap(verr.KindStorage, "open", err)
	}

	if err := query.ValidateViews(sch); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, sqliteFileName)
	store, err := relstore.Open(ctx, dbPath, sch, log)
	if err != nil {
		return nil, err
	}

	vecDir := filepath.Join(dir, vectorDirName)
	planner := query.New(store, sch, log)
	coordinator := batch.New(store, sch, vecDir, log)

	c := &Client{
		sch:         sch,
		store:       store,
		planner:     planner,
		coordinator: coordinator,
		dir:         dir,
		log:         log,
	}

	for _, t := range sch.Tables {
		for _, col := range t.VectorColumns() {
			vf, err := vectorfile.Open(vecDir, t.Name, col.Name, col.Vector.Dim, log)
			if err != nil {
				store.Close()
				return nil, err
			}
			c.vectors = append(c.vectors, vf)
			planner.RegisterVectorFile(t.Name, col.Name, vf)
			if err := coordinator.RegisterVectorFile(t.Name, col.Name, vf); err != nil {
				store.Close()
				return nil, err
			}
		}
	}

	if reconcile {
		if err := coordinator.Reconcile(ctx); err != nil {
			c.Close()
			return nil, verr.Wrap(verr.KindConsistency, "Open", err)
		}
	}

	return c, nil
}

// VectorFile returns the registered VectorFile backing table.column, if
// any. Used by tooling (compaction, diagnostics) that needs to reach
// past the query surface.
func (c *Client) VectorFile(table, column string) (*vectorfile.VectorFile, bool) {
	return c.planner.VectorFile(table, column)
}

// RegisterEmbedder makes an Embedder available under name for every
// vector-enabled column whose schema declares that name.
func (c *Client) RegisterEmbedder(name string, e embed.Embedder) {
	c.planner.RegisterEmbedder(name, e)
	c.coordinator.RegisterEmbedder(name, e)
}

// RetryOutbox re-embeds every row queued in table.column's outbox (rows
// whose embedder failed during a non-atomic insert), using
// each row's current value in RelStore. Returns how many succeeded and
// how many remain queued for a later retry.
func (c *Client) RetryOutbox(ctx context.Context, table, column string) (succeeded, remaining int, err error) {
	return c.coordinator.RetryOutbox(ctx, table, column)
}

// Table returns a handle for building and executing queries against
// name, which may be a table or a registered view.
func (c *Client) Table(name string) *TableHandle {
	return &TableHandle{client: c, target: name}
}

// Close releases the coordinator's intent logs, every VectorFile, and
// finally the SQLite connection, in that order.
func (c *Client) Close() error {
	var firstErr error
	if err := c.coordinator.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, vf := range c.vectors {
		if err := vf.Fsync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := vf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Client) vectorColumnFor(target string) (string, error) {
	t, ok := c.sch.Table(target)
	if !ok {
		if v, ok := c.sch.View(target); ok {
			return c.vectorColumnForView(v)
		}
		return "", verr.Wrap(verr.KindSchema, "vectorColumnFor", fmt.Errorf("%w: %q", verr.ErrUnknownTable, target))
	}
	cols := t.VectorColumns()
	switch len(cols) {
	case 0:
		return "", verr.Wrap(verr.KindSchema, "vectorColumnFor", fmt.Errorf("table %q has no vector-enabled column", target))
	case 1:
		return cols[0].Name, nil
	default:
		return "", verr.Wrap(verr.KindSchema, "vectorColumnFor",
			fmt.Errorf("table %q has %d vector-enabled columns, specify one with the *Column variant", target, len(cols)))
	}
}

func (c *Client) vectorColumnForView(v *schema.View) (string, error) {
	var found []string
	for _, f := range v.Fields {
		base, ok := c.sch.Table(f.Table)
		if !ok {
			continue
		}
		if col, ok := base.Column(f.Column); ok && col.Vector != nil {
			found = append(found, col.Name)
		}
	}
	switch len(found) {
	case 0:
		return "", verr.Wrap(verr.KindSchema, "vectorColumnFor", fmt.Errorf("view %q has no vector-enabled column", v.Name))
	case 1:
		return found[0], nil
	default:
		return "", verr.Wrap(verr.KindSchema, "vectorColumnFor",
			fmt.Errorf("view %q has %d vector-enabled columns, specify one with the *Column variant", v.Name, len(found)))
	}
}
