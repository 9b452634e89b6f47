package vectorfile

import (
	"context"
	"testing"

	"github.com/lucasastorian/veclite/pkg/vlog"
)

func TestAppendAndIterLive(t *testing.T) {
	vf, err := Open(t.TempDir(), "docs", "embedding", 3, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()
	ctx := context.Background()

	slot, err := vf.Append(ctx, 1, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if slot != 0 {
		t.Fatalf("expected slot 0, got %d", slot)
	}
	if _, err := vf.Append(ctx, 2, []float32{0, 1, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	live, err := vf.IterLive(ctx)
	if err != nil {
		t.Fatalf("IterLive: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live vectors, got %d", len(live))
	}
}

func TestAppendRejectsWrongDimension(t *testing.T) {
	vf, err := Open(t.TempDir(), "docs", "embedding", 3, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	if _, err := vf.Append(context.Background(), 1, []float32{1, 0}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestMarkDeletedHidesFromIterLiveAndScan(t *testing.T) {
	ctx := context.Background()
	vf, err := Open(t.TempDir(), "docs", "embedding", 2, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	vf.Append(ctx, 1, []float32{1, 0})
	vf.Append(ctx, 2, []float32{0, 1})

	if err := vf.MarkDeleted(ctx, 1); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	// idempotent
	if err := vf.MarkDeleted(ctx, 1); err != nil {
		t.Fatalf("MarkDeleted (repeat): %v", err)
	}

	live, err := vf.IterLive(ctx)
	if err != nil {
		t.Fatalf("IterLive: %v", err)
	}
	if len(live) != 1 || live[0].RowID != 2 {
		t.Fatalf("expected only row 2 live, got %+v", live)
	}

	results, err := vf.VectorScan(ctx, []float32{1, 0}, nil, 10)
	if err != nil {
		t.Fatalf("VectorScan: %v", err)
	}
	if len(results) != 1 || results[0].RowID != 2 {
		t.Fatalf("expected tombstoned row excluded from scan, got %+v", results)
	}
}

func TestVectorScanRestrictedToCandidateSet(t *testing.T) {
	ctx := context.Background()
	vf, err := Open(t.TempDir(), "docs", "embedding", 2, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	vf.Append(ctx, 1, []float32{1, 0})
	vf.Append(ctx, 2, []float32{1, 0})
	vf.Append(ctx, 3, []float32{1, 0})

	candidates := map[int64]struct{}{2: {}}
	results, err := vf.VectorScan(ctx, []float32{1, 0}, candidates, 10)
	if err != nil {
		t.Fatalf("VectorScan: %v", err)
	}
	if len(results) != 1 || results[0].RowID != 2 {
		t.Fatalf("expected only row 2, got %+v", results)
	}
}

func TestExactMatchRanksFirstWithScoreNearOne(t *testing.T) {
	ctx := context.Background()
	vf, err := Open(t.TempDir(), "docs", "embedding", 4, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	q := []float32{0.5, 0.2, -0.3, 0.7}
	vf.Append(ctx, 1, []float32{1, 1, 1, 1})
	vf.Append(ctx, 2, q)

	results, err := vf.VectorScan(ctx, q, nil, 2)
	if err != nil {
		t.Fatalf("VectorScan: %v", err)
	}
	if results[0].RowID != 2 {
		t.Fatalf("expected exact match to rank first, got %+v", results)
	}
	if results[0].Score < 1-1e-6 {
		t.Fatalf("expected score near 1, got %v", results[0].Score)
	}
}

func TestTruncateToUnwindsFailedAppend(t *testing.T) {
	ctx := context.Background()
	vf, err := Open(t.TempDir(), "docs", "embedding", 2, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	vf.Append(ctx, 1, []float32{1, 0})
	preLen := vf.Len()
	vf.Append(ctx, 2, []float32{0, 1})
	vf.Append(ctx, 3, []float32{1, 1})

	if err := vf.TruncateTo(ctx, preLen); err != nil {
		t.Fatalf("TruncateTo: %v", err)
	}
	if vf.Len() != preLen {
		t.Fatalf("expected length %d after truncate, got %d", preLen, vf.Len())
	}

	// The truncated rows must be appendable again without a "duplicate slot" error.
	if _, err := vf.Append(ctx, 2, []float32{0, 1}); err != nil {
		t.Fatalf("expected re-append after truncate to succeed: %v", err)
	}
}

func TestCompactRewritesDenselyAndClearsTombstones(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vf, err := Open(dir, "docs", "embedding", 2, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	vf.Append(ctx, 1, []float32{1, 0})
	vf.Append(ctx, 2, []float32{0, 1})
	vf.Append(ctx, 3, []float32{1, 1})
	if err := vf.MarkDeleted(ctx, 2); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	if err := vf.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if vf.Len() != 2 {
		t.Fatalf("expected 2 live slots after compaction, got %d", vf.Len())
	}
	live, err := vf.IterLive(ctx)
	if err != nil {
		t.Fatalf("IterLive: %v", err)
	}
	seen := map[int64]bool{}
	for i, lv := range live {
		if lv.Slot != i {
			t.Fatalf("expected dense slot assignment, got slot %d at index %d", lv.Slot, i)
		}
		seen[lv.RowID] = true
	}
	if seen[2] {
		t.Fatal("tombstoned row 2 survived compaction")
	}
	if !seen[1] || !seen[3] {
		t.Fatalf("expected rows 1 and 3 to survive compaction, got %+v", live)
	}

	// Reopen to confirm the tombstone file was durably cleared.
	vf2, err := Open(dir, "docs", "embedding", 2, vlog.Nop{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer vf2.Close()
	if len(vf2.tombstones) != 0 {
		t.Fatalf("expected no tombstones after reopen, got %v", vf2.tombstones)
	}
	if err := vf2.MarkDeleted(ctx, 999); err != nil { // sanity: tombstone set is writable post-reopen
		t.Fatalf("MarkDeleted after reopen: %v", err)
	}
}

func TestReopenRebuildsSlotMapAndTombstones(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	vf, err := Open(dir, "docs", "embedding", 2, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	vf.Append(ctx, 1, []float32{1, 0})
	vf.Append(ctx, 2, []float32{0, 1})
	if err := vf.MarkDeleted(ctx, 1); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if err := vf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, "docs", "embedding", 2, vlog.Nop{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	live, err := reopened.IterLive(ctx)
	if err != nil {
		t.Fatalf("IterLive: %v", err)
	}
	if len(live) != 1 || live[0].RowID != 2 {
		t.Fatalf("expected tombstone to survive reopen, got %+v", live)
	}
}

func TestHasReportsSlotOccupancyIncludingTombstones(t *testing.T) {
	ctx := context.Background()
	vf, err := Open(t.TempDir(), "docs", "embedding", 3, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	if vf.Has(1) {
		t.Fatal("expected row 1 to have no slot before Append")
	}
	if _, err := vf.Append(ctx, 1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !vf.Has(1) {
		t.Fatal("expected row 1 to have a slot after Append")
	}
	if err := vf.MarkDeleted(ctx, 1); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if !vf.Has(1) {
		t.Fatal("expected a tombstoned row to still report a slot")
	}
}

func TestReplaceOverwritesVectorInPlace(t *testing.T) {
	ctx := context.Background()
	vf, err := Open(t.TempDir(), "docs", "embedding", 3, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	if _, err := vf.Append(ctx, 1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	preLen := vf.Len()

	if err := vf.Replace(ctx, 1, []float32{0, 1, 0}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if vf.Len() != preLen {
		t.Fatalf("expected Replace not to grow the file, len went from %d to %d", preLen, vf.Len())
	}

	results, err := vf.VectorScan(ctx, []float32{0, 1, 0}, nil, 1)
	if err != nil {
		t.Fatalf("VectorScan: %v", err)
	}
	if len(results) != 1 || results[0].RowID != 1 || results[0].Score < 1-1e-6 {
		t.Fatalf("expected replaced vector to score as an exact match, got %+v", results)
	}
}

func TestReplaceRejectsUnknownRow(t *testing.T) {
	vf, err := Open(t.TempDir(), "docs", "embedding", 3, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	if err := vf.Replace(context.Background(), 99, []float32{1, 0, 0}); err == nil {
		t.Fatal("expected Replace on a row with no slot to fail")
	}
}

func TestReplaceRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	vf, err := Open(t.TempDir(), "docs", "embedding", 3, vlog.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vf.Close()

	if _, err := vf.Append(ctx, 1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := vf.Replace(ctx, 1, []float32{1, 0}); err == nil {
		t.Fatal("expected Replace with the wrong dimension to fail")
	}
}
