package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector packs a []float32 into a little-endian BLOB, grounded on
// 0xcro3dile-localrag-go's LanceDBStore embedding column — which instead
// JSON-encodes; here a fixed-width binary form is used since the Vector
// Index scans this column at every bootstrap and JSON re-parsing would
// dominate cold-start cost.
func encodeVector(vec []float32) ([]byte, error) {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("decode vector: blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
