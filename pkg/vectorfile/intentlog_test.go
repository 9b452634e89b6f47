package vectorfile

import (
	"os"
	"testing"
)

func TestIntentLogWriteReadAllRoundTrips(t *testing.T) {
	dir := t.TempDir()
	il, err := OpenIntentLog(dir, "docs", "embedding")
	if err != nil {
		t.Fatalf("OpenIntentLog: %v", err)
	}
	defer il.Close()

	entries := []IntentEntry{
		{RowID: 1, Vector: []float32{1, 0, 0}},
		{RowID: 2, Vector: []float32{0, 1, 0}},
	}
	id, err := il.Write(entries)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty intent id")
	}

	intents, err := il.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(intents) != 1 || intents[0].ID != id {
		t.Fatalf("expected 1 intent with id %q, got %+v", id, intents)
	}
	if len(intents[0].Entries) != 2 || intents[0].Entries[1].RowID != 2 {
		t.Fatalf("expected 2 entries round-tripped, got %+v", intents[0].Entries)
	}
}

func TestIntentLogClearEmptiesTheLog(t *testing.T) {
	dir := t.TempDir()
	il, err := OpenIntentLog(dir, "docs", "embedding")
	if err != nil {
		t.Fatalf("OpenIntentLog: %v", err)
	}
	defer il.Close()

	if _, err := il.Write([]IntentEntry{{RowID: 1, Vector: []float32{1}}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := il.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	intents, err := il.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(intents) != 0 {
		t.Fatalf("expected empty log after Clear, got %+v", intents)
	}
}

func TestIntentLogSurvivesTornTailOnReplay(t *testing.T) {
	dir := t.TempDir()
	il, err := OpenIntentLog(dir, "docs", "embedding")
	if err != nil {
		t.Fatalf("OpenIntentLog: %v", err)
	}
	if _, err := il.Write([]IntentEntry{{RowID: 1, Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := il.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := intentLogPath(dir, "docs__embedding")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	// Append a truncated trailing frame header to simulate a crash mid-write.
	if _, err := f.Write([]byte{0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}
	f.Close()

	il2, err := OpenIntentLog(dir, "docs", "embedding")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer il2.Close()

	intents, err := il2.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(intents) != 1 || intents[0].Entries[0].RowID != 1 {
		t.Fatalf("expected the one well-formed intent to survive, got %+v", intents)
	}
}
