package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

var vectorsMagic = [4]byte{'K', 'B', 'V', '1'}

const headerSize = 12

// encodeMatrix lays out a dense rows x dim matrix as the magic, two
// little-endian uint32 (rows, dim) and the row-major float32 values.
func encodeMatrix(rows, dim int, values []float32) ([]byte, error) {
	if rows < 0 || dim < 0 {
		return nil, fmt.Errorf("vectorstore: negative matrix shape %dx%d", rows, dim)
	}
	if len(values) != rows*dim {
		return nil, fmt.Errorf("vectorstore: matrix holds %d values, expected %d", len(values), rows*dim)
	}
	b := make([]byte, headerSize+len(values)*4)
	copy(b[0:4], vectorsMagic[:])
	binary.LittleEndian.PutUint32(b[4:8], uint32(rows))
	binary.LittleEndian.PutUint32(b[8:12], uint32(dim))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[headerSize+i*4:], math.Float32bits(v))
	}
	return b, nil
}

// decodeMatrix is the inverse of encodeMatrix. The payload length must match
// the header exactly.
func decodeMatrix(b []byte) (rows, dim int, values []float32, err error) {
	if len(b) < headerSize {
		return 0, 0, nil, fmt.Errorf("vectorstore: vectors file too short (%d bytes)", len(b))
	}
	if [4]byte(b[0:4]) != vectorsMagic {
		return 0, 0, nil, fmt.Errorf("vectorstore: bad vectors file magic %q", b[0:4])
	}
	rows = int(binary.LittleEndian.Uint32(b[4:8]))
	dim = int(binary.LittleEndian.Uint32(b[8:12]))
	payload := b[headerSize:]
	if want := rows * dim * 4; len(payload) != want {
		return 0, 0, nil, fmt.Errorf("vectorstore: vectors payload is %d bytes, header declares %d", len(payload), want)
	}
	values = make([]float32, rows*dim)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return rows, dim, values, nil
}
