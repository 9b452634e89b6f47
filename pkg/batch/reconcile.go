package batch

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
)

// Reconcile replays or discards every intent left over from an unclean
// shutdown, restoring agreement between RelStore and each registered
// VectorFile (invariant I3). Call once, after every VectorFile this
// Coordinator will use has been registered, before serving traffic.
//
// For each recorded intent entry: if the row still exists in RelStore
// and the VectorFile doesn't yet have a slot for it, the vector is
// replayed (the crash landed between RelStore's commit and the
// VectorFile's fsync). If the row is absent from RelStore, the entry
// belonged to a transaction that rolled back and is simply discarded —
// the atomic scope's own TruncateTo already removed any partial append.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	for key, il := range c.intents {
		intents, err := il.ReadAll()
		if err != nil {
			return err
		}
		if len(intents) == 0 {
			continue
		}

		table, column := splitVectorKey(key)
		t, ok := c.sch.Table(table)
		if !ok {
			return verr.Wrap(verr.KindSchema, "batch.Reconcile", fmt.Errorf("%w: %q", verr.ErrUnknownTable, table))
		}
		vf, ok := c.vectors[key]
		if !ok {
			continue
		}

		replayed := 0
		for _, intent := range intents {
			for _, entry := range intent.Entries {
				if vf.Has(entry.RowID) {
					continue
				}
				exists, err := c.rowExists(ctx, t, entry.RowID)
				if err != nil {
					return err
				}
				if !exists {
					continue
				}
				if _, err := vf.Append(ctx, entry.RowID, entry.Vector); err != nil {
					return err
				}
				replayed++
			}
		}
		if replayed > 0 {
			if err := vf.Fsync(); err != nil {
				return err
			}
			c.log.Info("reconciled intent log", "table", table, "column", column, "replayed", replayed)
		}
		if err := il.Clear(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) rowExists(ctx context.Context, t *schema.Table, rowID int64) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = ? LIMIT 1`, quoteIdent(t.Name), quoteIdent(t.PrimaryKey()))
	row := c.store.DB().QueryRowContext(ctx, q, rowID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, verr.Wrap(verr.KindStorage, "batch.rowExists", err)
	}
	return true, nil
}
