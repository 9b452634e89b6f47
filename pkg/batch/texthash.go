package batch

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lucasastorian/veclite/pkg/verr"
)

// textHashTable names the sidecar table storing the last embedded
// text's hash per row, so UpsertWithVector can skip re-embedding
// unchanged text.
func textHashTable(table, column string) string {
	return table + "__" + column + "_texthash"
}

func (c *Coordinator) ensureTextHashTable(ctx context.Context, table, column string) error {
	q := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (row_id INTEGER PRIMARY KEY, text_hash INTEGER NOT NULL)`,
		quoteIdent(textHashTable(table, column)))
	if _, err := c.store.DB().ExecContext(ctx, q); err != nil {
		return verr.Wrap(verr.KindStorage, "batch.ensureTextHashTable", err)
	}
	return nil
}

func (c *Coordinator) priorTextHash(ctx context.Context, table, column string, rowID int64) (hash uint64, existed bool, err error) {
	q := fmt.Sprintf(`SELECT text_hash FROM %s WHERE row_id = ?`, quoteIdent(textHashTable(table, column)))
	row := c.store.DB().QueryRowContext(ctx, q, rowID)
	var h int64
	if err := row.Scan(&h); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, verr.Wrap(verr.KindStorage, "batch.priorTextHash", err)
	}
	return uint64(h), true, nil
}

func (c *Coordinator) recordTextHash(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, table, column string, rowID int64, hash uint64) error {
	if execer == nil {
		execer = c.store.DB()
	}
	q := fmt.Sprintf(
		`INSERT INTO %s (row_id, text_hash) VALUES (?, ?) ON CONFLICT(row_id) DO UPDATE SET text_hash = excluded.text_hash`,
		quoteIdent(textHashTable(table, column)))
	if _, err := execer.ExecContext(ctx, q, rowID, int64(hash)); err != nil {
		return verr.Wrap(verr.KindStorage, "batch.recordTextHash", err)
	}
	return nil
}

func quoteIdent(name string) string { return `"` + name + `"` }
