package vectorfile

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/lucasastorian/veclite/pkg/verr"
)

// IntentEntry records one row's pending vector append: BatchCoordinator
// writes a batch of these before step 4 of an atomic scope (appending to
// the VectorFile) so that a crash between commit and fsync can be
// reconciled by replay instead of leaving the VectorFile short.
type IntentEntry struct {
	RowID  int64     `json:"row_id"`
	Vector []float32 `json:"vector"`
}

// Intent is one written record: an id and the entries queued for append.
type Intent struct {
	ID      string        `json:"id"`
	Entries []IntentEntry `json:"entries"`
}

// IntentLog is a single-segment, length-framed, snappy-compressed journal
// of pending VectorFile appends, following the WAL discipline of
// [length:4][crc32:4][compressed payload] with an fsync after every
// write. It exists purely for crash recovery: a healthy shutdown clears
// it, so on a normal Open it is usually empty.
type IntentLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func intentLogPath(dir, name string) string { return filepath.Join(dir, name+".log") }

// OpenIntentLog opens (creating if absent) the intent log for table__column.
func OpenIntentLog(dir, table, column string) (*IntentLog, error) {
	name := table + "__" + column
	f, err := os.OpenFile(intentLogPath(dir, name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, verr.Wrap(verr.KindStorage, "vectorfile.OpenIntentLog", err)
	}
	return &IntentLog{path: intentLogPath(dir, name), f: f}, nil
}

// Write records entries as a new intent, fsyncing before returning so the
// record survives a crash immediately after this call. Returns the
// intent's id; Clear does not take it, and empties the whole log.
func (l *IntentLog) Write(entries []IntentEntry) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	payload, err := json.Marshal(Intent{ID: id, Entries: entries})
	if err != nil {
		return "", verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.Write", err)
	}
	compressed := snappy.Encode(nil, payload)
	crc := crc32.ChecksumIEEE(compressed)

	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return "", verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.Write", err)
	}
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(header[4:8], crc)
	if _, err := l.f.Write(header[:]); err != nil {
		return "", verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.Write", err)
	}
	if _, err := l.f.Write(compressed); err != nil {
		return "", verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.Write", err)
	}
	if err := l.f.Sync(); err != nil {
		return "", verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.Write", err)
	}
	return id, nil
}

// ReadAll replays every intent currently recorded, in write order, for
// crash reconciliation. Entries with a corrupt frame or CRC mismatch
// (a torn write from a crash mid-append) are skipped rather than failing
// the whole replay, matching the WAL's own torn-tail tolerance.
func (l *IntentLog) ReadAll() ([]Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return nil, verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.ReadAll", err)
	}
	var out []Intent
	for {
		var header [8]byte
		if _, err := io.ReadFull(l.f, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.ReadAll", err)
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		wantCRC := binary.LittleEndian.Uint32(header[4:8])

		compressed := make([]byte, length)
		if _, err := io.ReadFull(l.f, compressed); err != nil {
			break // truncated tail from a crash mid-write
		}
		if crc32.ChecksumIEEE(compressed) != wantCRC {
			continue
		}
		payload, err := snappy.Decode(nil, compressed)
		if err != nil {
			continue
		}
		var intent Intent
		if err := json.Unmarshal(payload, &intent); err != nil {
			continue
		}
		out = append(out, intent)
	}
	return out, nil
}

// Clear truncates the log to empty and fsyncs. Called once every intent
// written before a scope's VectorFile appends has itself been made
// durable (the scope's step 6 fsync), so a subsequent crash has nothing
// left to replay.
func (l *IntentLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.f.Truncate(0); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.Clear", err)
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return verr.Wrap(verr.KindStorage, "vectorfile.IntentLog.Clear", err)
	}
	return l.f.Sync()
}

// Close releases the underlying file handle.
func (l *IntentLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
