package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spaolacci/murmur3"

	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
)

// OutboxEntry is one line of a vector column's durable retry outbox:
// a row whose embedding failed at insert time, recorded so a later
// RetryOutbox call can re-embed it without losing the row.
type OutboxEntry struct {
	RowID    int64  `json:"row_id"`
	TextHash uint64 `json:"text_hash"`
	Attempts int    `json:"attempts"`
}

type outbox struct {
	path string
}

func outboxPath(dir, table, column string) string {
	return filepath.Join(dir, table+"__"+column+".outbox")
}

func newOutbox(dir, table, column string) *outbox {
	return &outbox{path: outboxPath(dir, table, column)}
}

// Append adds one line to the outbox, fsyncing before returning.
func (o *outbox) Append(entry OutboxEntry) error {
	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return verr.Wrap(verr.KindStorage, "batch.outbox.Append", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return verr.Wrap(verr.KindStorage, "batch.outbox.Append", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return verr.Wrap(verr.KindStorage, "batch.outbox.Append", err)
	}
	return f.Sync()
}

// ReadAll parses every line currently in the outbox.
func (o *outbox) ReadAll() ([]OutboxEntry, error) {
	data, err := os.ReadFile(o.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, verr.Wrap(verr.KindStorage, "batch.outbox.ReadAll", err)
	}

	var out []OutboxEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry OutboxEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // skip a torn trailing line from a crash mid-append
		}
		out = append(out, entry)
	}
	return out, scanner.Err()
}

// Rewrite atomically replaces the outbox's contents with entries.
func (o *outbox) Rewrite(entries []OutboxEntry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return verr.Wrap(verr.KindStorage, "batch.outbox.Rewrite", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return verr.Wrap(verr.KindStorage, "batch.outbox.Rewrite", err)
	}
	if err := os.Rename(tmp, o.path); err != nil {
		return verr.Wrap(verr.KindStorage, "batch.outbox.Rewrite", err)
	}
	return nil
}

// RetryOutbox re-embeds every row currently in table.column's outbox
// using that row's current column value in RelStore (the vector
// column's text may have changed since it was queued). Rows that embed
// successfully get their vector appended and are dropped from the
// outbox; rows that fail again stay, with Attempts incremented.
func (c *Coordinator) RetryOutbox(ctx context.Context, table, column string) (succeeded, remaining int, err error) {
	ob := newOutbox(c.dir, table, column)
	entries, err := ob.ReadAll()
	if err != nil {
		return 0, 0, err
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	key := vectorKey(table, column)
	vf, ok := c.vectors[key]
	if !ok {
		return 0, 0, verr.Wrap(verr.KindSchema, "batch.RetryOutbox", fmt.Errorf("no VectorFile registered for %s.%s", table, column))
	}
	t, ok := c.sch.Table(table)
	if !ok {
		return 0, 0, verr.Wrap(verr.KindSchema, "batch.RetryOutbox", fmt.Errorf("%w: %q", verr.ErrUnknownTable, table))
	}
	col, ok := t.Column(column)
	if !ok || col.Vector == nil {
		return 0, 0, verr.Wrap(verr.KindSchema, "batch.RetryOutbox", fmt.Errorf("column %q is not vector-enabled", column))
	}
	e, ok := c.embedders[col.Vector.Embedder]
	if !ok {
		return 0, 0, verr.Wrap(verr.KindEmbedder, "batch.RetryOutbox", fmt.Errorf("no embedder registered under %q", col.Vector.Embedder))
	}

	var still []OutboxEntry
	for _, entry := range entries {
		text, err := c.currentText(ctx, t, column, entry.RowID)
		if err != nil {
			return succeeded, len(entries) - succeeded, err
		}
		vecs, embedErr := e.Embed(ctx, []string{text})
		if embedErr != nil {
			entry.Attempts++
			entry.TextHash = murmur3.Sum64([]byte(text))
			still = append(still, entry)
			continue
		}
		if vf.Has(entry.RowID) {
			if err := vf.Replace(ctx, entry.RowID, vecs[0]); err != nil {
				return succeeded, len(still), err
			}
		} else if _, err := vf.Append(ctx, entry.RowID, vecs[0]); err != nil {
			return succeeded, len(still), err
		}
		succeeded++
	}
	if err := vf.Fsync(); err != nil {
		return succeeded, len(still), err
	}
	if err := ob.Rewrite(still); err != nil {
		return succeeded, len(still), err
	}
	return succeeded, len(still), nil
}

func (c *Coordinator) currentText(ctx context.Context, t *schema.Table, column string, rowID int64) (string, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, quoteIdent(column), quoteIdent(t.Name), quoteIdent(t.PrimaryKey()))
	row := c.store.DB().QueryRowContext(ctx, q, rowID)
	var text string
	if err := row.Scan(&text); err != nil {
		return "", verr.Wrap(verr.KindStorage, "batch.currentText", err)
	}
	return text, nil
}
