package vectorfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector writes v as D consecutive little-endian float32s, with no
// length prefix and no header — the file's dimension is carried by the
// schema, not by the bytes themselves.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector reads dim consecutive little-endian float32s from buf.
func decodeVector(buf []byte, dim int) ([]float32, error) {
	if len(buf) != dim*4 {
		return nil, fmt.Errorf("vectorfile: expected %d bytes for dim %d, got %d", dim*4, dim, len(buf))
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func encodeRowID(id int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeRowID(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// cosineSimilarity returns ⟨a,b⟩ / (‖a‖·‖b‖), in [-1, 1]. Zero vectors
// (undefined direction) score 0 against anything.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
