package relstore

import (
	"context"
	"fmt"

	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
)

// KeywordHit is one result row from a BM25 full-text search.
type KeywordHit struct {
	RowID int64
	Score float64 // higher is better
}

// BM25Search runs table's FTS5 shadow table against query and returns up
// to limit hits ordered by descending score. FTS5's native bm25() is
// lower-is-better; this negates it so every score in veclite follows the
// same higher-is-better convention.
func (s *Store) BM25Search(ctx context.Context, table *schema.Table, query string, limit int) ([]KeywordHit, error) {
	if len(table.FTSColumns()) == 0 {
		return nil, verr.Wrap(verr.KindSchema, "relstore.BM25Search", fmt.Errorf("table %q has no FTS-indexed columns", table.Name))
	}
	ftsTable := quoteIdent(table.Name + "_fts")
	q := fmt.Sprintf("SELECT rowid, -bm25(%s) AS score FROM %s WHERE %s MATCH ? ORDER BY score DESC LIMIT ?",
		ftsTable, ftsTable, ftsTable)
	rows, err := s.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, verr.Wrap(verr.KindStorage, "relstore.BM25Search", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.RowID, &h.Score); err != nil {
			return nil, verr.Wrap(verr.KindStorage, "relstore.BM25Search", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, verr.Wrap(verr.KindStorage, "relstore.BM25Search", err)
	}
	return hits, nil
}
