package batch

import (
	"context"
	"testing"

	"github.com/lucasastorian/veclite/pkg/vectorfile"
)

func TestReconcileReplaysCommittedRowMissingFromVectorFile(t *testing.T) {
	c, _, vf := setupCoordinator(t)
	ctx := context.Background()

	id, err := c.store.Insert(ctx, nil, "docs", map[string]any{"id": 1, "title": "a", "body": "hello"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	il := c.intents[vectorKey("docs", "body")]
	if _, err := il.Write([]vectorfile.IntentEntry{{RowID: id, Vector: []float32{1, 2, 3}}}); err != nil {
		t.Fatalf("intent Write: %v", err)
	}
	// Simulate a crash between RelStore's commit and the VectorFile's fsync:
	// the row exists but the vector was never appended.
	if vf.Has(id) {
		t.Fatal("test setup invariant violated: vector should not exist yet")
	}

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !vf.Has(id) {
		t.Fatal("expected Reconcile to replay the vector for a row that exists in RelStore")
	}

	intents, err := il.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(intents) != 0 {
		t.Fatalf("expected the intent log cleared after reconciliation, got %+v", intents)
	}
}

func TestReconcileDiscardsIntentForRolledBackRow(t *testing.T) {
	c, _, vf := setupCoordinator(t)
	ctx := context.Background()

	// No row 42 was ever committed to RelStore (its transaction rolled back).
	il := c.intents[vectorKey("docs", "body")]
	if _, err := il.Write([]vectorfile.IntentEntry{{RowID: 42, Vector: []float32{1, 2, 3}}}); err != nil {
		t.Fatalf("intent Write: %v", err)
	}

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if vf.Has(42) {
		t.Fatal("expected Reconcile to discard an intent whose row was never committed")
	}
}

func TestReconcileIsNoOpWhenIntentLogEmpty(t *testing.T) {
	c, _, _ := setupCoordinator(t)
	if err := c.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile on empty log: %v", err)
	}
}
