// Package vectorfile implements the append-only, fixed-width vector
// store backing every vector-enabled column: a raw .vec file of packed
// little-endian float32s, a .id sidecar mapping slot to row-id, and a
// durable JSON tombstone set. New vectors are appended; Replace overwrites
// an existing slot in place. Deletion tombstones a slot and compaction
// later reclaims the space.
package vectorfile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lucasastorian/veclite/pkg/verr"
	"github.com/lucasastorian/veclite/pkg/vlog"
)

const rowIDSize = 8

// LiveVector is one non-tombstoned (row_id, slot, vector) triple.
type LiveVector struct {
	RowID  int64
	Slot   int
	Vector []float32
}

// ScoredVector is a candidate returned by VectorScan.
type ScoredVector struct {
	RowID int64
	Score float64 // cosine similarity, in [-1, 1]
}

// VectorFile is the on-disk vector store for one (table, column) pair.
type VectorFile struct {
	dim  int
	log  vlog.Logger
	dir  string
	name string // "<table>__<column>"

	mu         sync.RWMutex
	vecFile    *os.File
	idFile     *os.File
	rowToSlot  map[int64]int
	slotToRow  []int64
	tombstones map[int64]struct{}
}

func vecPath(dir, name string) string  { return filepath.Join(dir, name+".vec") }
func idPath(dir, name string) string   { return filepath.Join(dir, name+".id") }
func tombPath(dir, name string) string { return filepath.Join(dir, name+".tomb.json") }

// Open loads (creating if absent) the vector file set for table__column
// under dir, rebuilding the in-memory row-id↔slot map and tombstone set
// from disk.
func Open(dir, table, column string, dim int, log vlog.Logger) (*VectorFile, error) {
	if log == nil {
		log = vlog.Nop{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, verr.Wrap(verr.KindStorage, "vectorfile.Open", err)
	}
	name := table + "__" + column

	// Not opened with O_APPEND: Replace uses WriteAt, which Go rejects on
	// an O_APPEND file descriptor. Append instead seeks to EOF itself.
	vecFile, err := os.OpenFile(vecPath(dir, name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, verr.Wrap(verr.KindStorage, "vectorfile.Open", err)
	}
	idFile, err := os.OpenFile(idPath(dir, name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		vecFile.Close()
		return nil, verr.Wrap(verr.KindStorage, "vectorfile.Open", err)
	}

	vf := &VectorFile{
		dim: dim, log: log, dir: dir, name: name,
		vecFile: vecFile, idFile: idFile,
		rowToSlot:  map[int64]int{},
		tombstones: map[int64]struct{}{},
	}
	if err := vf.loadSlots(); err != nil {
		vf.Close()
		return nil, err
	}
	if err := vf.loadTombstones(); err != nil {
		vf.Close()
		return nil, err
	}
	return vf, nil
}

func (vf *VectorFile) loadSlots() error {
	data, err := os.ReadFile(idPath(vf.dir, vf.name))
	if err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.loadSlots", err)
	}
	if len(data)%rowIDSize != 0 {
		return verr.Wrap(verr.KindConsistency, "vectorfile.loadSlots",
			fmt.Errorf(".id file length %d is not a multiple of %d", len(data), rowIDSize))
	}
	n := len(data) / rowIDSize
	vf.slotToRow = make([]int64, n)
	for slot := 0; slot < n; slot++ {
		id := decodeRowID(data[slot*rowIDSize : (slot+1)*rowIDSize])
		vf.slotToRow[slot] = id
		vf.rowToSlot[id] = slot
	}
	return nil
}

func (vf *VectorFile) loadTombstones() error {
	data, err := os.ReadFile(tombPath(vf.dir, vf.name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.loadTombstones", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var payload struct {
		Tombstones []int64 `json:"tombstones"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return verr.Wrap(verr.KindConsistency, "vectorfile.loadTombstones", err)
	}
	for _, id := range payload.Tombstones {
		vf.tombstones[id] = struct{}{}
	}
	return nil
}

// Dim returns the fixed vector dimension this file was opened with.
func (vf *VectorFile) Dim() int { return vf.dim }

// Len returns the number of slots, including tombstoned ones.
func (vf *VectorFile) Len() int {
	vf.mu.RLock()
	defer vf.mu.RUnlock()
	return len(vf.slotToRow)
}

// Append validates the vector's dimension, writes it to EOF of .vec, and
// records row_id → slot in .id. Returns the assigned slot.
func (vf *VectorFile) Append(ctx context.Context, rowID int64, vector []float32) (int, error) {
	if len(vector) != vf.dim {
		return 0, verr.Wrap(verr.KindConsistency, "vectorfile.Append", verr.ErrDimensionMismatch)
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()

	if _, exists := vf.rowToSlot[rowID]; exists {
		return 0, verr.WrapHint(verr.KindConsistency, "vectorfile.Append",
			fmt.Errorf("row %d already has a vector slot", rowID),
			"call MarkDeleted before re-appending, or use compaction to reclaim slots")
	}

	if _, err := vf.vecFile.Seek(0, io.SeekEnd); err != nil {
		return 0, verr.Wrap(verr.KindStorage, "vectorfile.Append", err)
	}
	if _, err := vf.vecFile.Write(encodeVector(vector)); err != nil {
		return 0, verr.Wrap(verr.KindStorage, "vectorfile.Append", err)
	}
	if _, err := vf.idFile.Seek(0, io.SeekEnd); err != nil {
		return 0, verr.Wrap(verr.KindStorage, "vectorfile.Append", err)
	}
	if _, err := vf.idFile.Write(encodeRowID(rowID)); err != nil {
		return 0, verr.Wrap(verr.KindStorage, "vectorfile.Append", err)
	}

	slot := len(vf.slotToRow)
	vf.slotToRow = append(vf.slotToRow, rowID)
	vf.rowToSlot[rowID] = slot
	return slot, nil
}

// Has reports whether rowID currently occupies a slot, live or
// tombstoned.
func (vf *VectorFile) Has(rowID int64) bool {
	vf.mu.RLock()
	defer vf.mu.RUnlock()
	_, ok := vf.rowToSlot[rowID]
	return ok
}

// Replace overwrites the vector at rowID's existing slot in place,
// without allocating a new slot. Used when a vector-enabled column's
// source text changes for a row that keeps the same primary key: unlike
// Append, this never grows the file, so it can't be undone by
// TruncateTo and is not part of an atomic batch scope's rollback path.
func (vf *VectorFile) Replace(ctx context.Context, rowID int64, vector []float32) error {
	if len(vector) != vf.dim {
		return verr.Wrap(verr.KindConsistency, "vectorfile.Replace", verr.ErrDimensionMismatch)
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()

	slot, ok := vf.rowToSlot[rowID]
	if !ok {
		return verr.Wrap(verr.KindConsistency, "vectorfile.Replace", fmt.Errorf("row %d has no vector slot", rowID))
	}
	off := int64(slot) * int64(vf.dim) * 4
	if _, err := vf.vecFile.WriteAt(encodeVector(vector), off); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Replace", err)
	}
	return nil
}

// MarkDeleted adds row_id to the tombstone set, whether or not the row
// currently has a slot. Idempotent; a no-op if it is already tombstoned.
func (vf *VectorFile) MarkDeleted(ctx context.Context, rowID int64) error {
	vf.mu.Lock()
	defer vf.mu.Unlock()

	if _, ok := vf.tombstones[rowID]; ok {
		return nil
	}
	vf.tombstones[rowID] = struct{}{}
	return vf.persistTombstonesLocked()
}

func (vf *VectorFile) persistTombstonesLocked() error {
	ids := make([]int64, 0, len(vf.tombstones))
	for id := range vf.tombstones {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	payload := struct {
		Tombstones []int64 `json:"tombstones"`
	}{Tombstones: ids}
	data, err := json.Marshal(payload)
	if err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.persistTombstones", err)
	}
	return atomicWriteFile(tombPath(vf.dir, vf.name), data)
}

// IterLive returns every non-tombstoned (row_id, slot, vector) triple,
// in ascending slot order.
func (vf *VectorFile) IterLive(ctx context.Context) ([]LiveVector, error) {
	vf.mu.RLock()
	slotToRow := append([]int64(nil), vf.slotToRow...)
	tomb := make(map[int64]struct{}, len(vf.tombstones))
	for id := range vf.tombstones {
		tomb[id] = struct{}{}
	}
	vf.mu.RUnlock()

	out := make([]LiveVector, 0, len(slotToRow))
	for slot, rowID := range slotToRow {
		if _, dead := tomb[rowID]; dead {
			continue
		}
		vec, err := vf.readSlot(slot)
		if err != nil {
			return nil, err
		}
		out = append(out, LiveVector{RowID: rowID, Slot: slot, Vector: vec})
	}
	return out, nil
}

func (vf *VectorFile) readSlot(slot int) ([]float32, error) {
	buf := make([]byte, vf.dim*4)
	off := int64(slot) * int64(vf.dim) * 4
	if _, err := vf.vecFile.ReadAt(buf, off); err != nil {
		return nil, verr.Wrap(verr.KindStorage, "vectorfile.readSlot", err)
	}
	return decodeVector(buf, vf.dim)
}

// VectorScan computes cosine similarity between query and every live
// vector, optionally restricted to candidateRowIDs (nil means scan all
// live slots), and returns the topk highest-scoring rows in descending
// score order.
func (vf *VectorFile) VectorScan(ctx context.Context, query []float32, candidateRowIDs map[int64]struct{}, topk int) ([]ScoredVector, error) {
	if len(query) != vf.dim {
		return nil, verr.Wrap(verr.KindConsistency, "vectorfile.VectorScan", verr.ErrDimensionMismatch)
	}
	live, err := vf.IterLive(ctx)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredVector, 0, len(live))
	for _, lv := range live {
		if candidateRowIDs != nil {
			if _, ok := candidateRowIDs[lv.RowID]; !ok {
				continue
			}
		}
		scored = append(scored, ScoredVector{RowID: lv.RowID, Score: cosineSimilarity(query, lv.Vector)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].RowID < scored[j].RowID
	})
	if topk > 0 && len(scored) > topk {
		scored = scored[:topk]
	}
	return scored, nil
}

// TruncateTo discards slots at index >= n, used to unwind an atomic
// batch scope that failed after appending vectors but before commit.
// Row-ids truncated away are dropped from the in-memory index; any
// tombstone referencing them is left in place (harmless: it will simply
// never match a live slot again).
func (vf *VectorFile) TruncateTo(ctx context.Context, n int) error {
	vf.mu.Lock()
	defer vf.mu.Unlock()

	if n > len(vf.slotToRow) {
		return verr.Wrap(verr.KindConsistency, "vectorfile.TruncateTo",
			fmt.Errorf("target length %d exceeds current length %d", n, len(vf.slotToRow)))
	}
	if n == len(vf.slotToRow) {
		return nil
	}

	if err := vf.vecFile.Truncate(int64(n) * int64(vf.dim) * 4); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.TruncateTo", err)
	}
	if err := vf.idFile.Truncate(int64(n) * rowIDSize); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.TruncateTo", err)
	}
	for _, rowID := range vf.slotToRow[n:] {
		delete(vf.rowToSlot, rowID)
	}
	vf.slotToRow = vf.slotToRow[:n]

	if _, err := vf.vecFile.Seek(0, io.SeekEnd); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.TruncateTo", err)
	}
	if _, err := vf.idFile.Seek(0, io.SeekEnd); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.TruncateTo", err)
	}
	return nil
}

// Compact rewrites .vec and .id densely, dropping tombstoned rows, and
// clears the tombstone set. It is crash-safe: the new files are built as
// .vec.tmp/.id.tmp, fsynced, atomically renamed over the originals, and
// the containing directory is fsynced before the tombstone file is
// truncated, so a crash mid-compaction leaves either the pre- or
// post-compaction state, never a mix.
func (vf *VectorFile) Compact(ctx context.Context) error {
	vf.mu.Lock()
	defer vf.mu.Unlock()

	var newVec, newID bytes.Buffer
	newSlotToRow := make([]int64, 0, len(vf.slotToRow))
	newRowToSlot := make(map[int64]int, len(vf.slotToRow))

	for slot, rowID := range vf.slotToRow {
		if _, dead := vf.tombstones[rowID]; dead {
			continue
		}
		vec, err := vf.readSlot(slot)
		if err != nil {
			return err
		}
		newVec.Write(encodeVector(vec))
		newID.Write(encodeRowID(rowID))
		newRowToSlot[rowID] = len(newSlotToRow)
		newSlotToRow = append(newSlotToRow, rowID)
	}

	vecTmp := vecPath(vf.dir, vf.name) + ".tmp"
	idTmp := idPath(vf.dir, vf.name) + ".tmp"
	if err := writeAndSync(vecTmp, newVec.Bytes()); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}
	if err := writeAndSync(idTmp, newID.Bytes()); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}

	if err := vf.vecFile.Close(); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}
	if err := vf.idFile.Close(); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}

	if err := os.Rename(vecTmp, vecPath(vf.dir, vf.name)); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}
	if err := os.Rename(idTmp, idPath(vf.dir, vf.name)); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}
	if err := fsyncDir(vf.dir); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}

	vecFile, err := os.OpenFile(vecPath(vf.dir, vf.name), os.O_RDWR, 0o644)
	if err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}
	idFile, err := os.OpenFile(idPath(vf.dir, vf.name), os.O_RDWR, 0o644)
	if err != nil {
		vecFile.Close()
		return verr.Wrap(verr.KindStorage, "vectorfile.Compact", err)
	}
	vf.vecFile, vf.idFile = vecFile, idFile
	vf.slotToRow, vf.rowToSlot = newSlotToRow, newRowToSlot
	vf.tombstones = map[int64]struct{}{}

	return vf.persistTombstonesLocked()
}

// Fsync flushes .vec and .id to stable storage.
func (vf *VectorFile) Fsync() error {
	vf.mu.RLock()
	defer vf.mu.RUnlock()
	if err := vf.vecFile.Sync(); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Fsync", err)
	}
	if err := vf.idFile.Sync(); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.Fsync", err)
	}
	return nil
}

// Close releases the underlying file handles.
func (vf *VectorFile) Close() error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	var firstErr error
	if vf.vecFile != nil {
		if err := vf.vecFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if vf.idFile != nil {
		if err := vf.idFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := writeAndSync(tmp, data); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return fsyncDir(filepath.Dir(path))
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
