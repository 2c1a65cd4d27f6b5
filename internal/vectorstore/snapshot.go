package vectorstore

import "github.com/cloo-solutions/kbrag/internal/domain"

// Snapshot is an immutable view of the index at one generation. Row i of the
// matrix belongs to record i. Slices handed out by Vector and Record share
// storage with the snapshot and must not be modified.
type Snapshot struct {
	dim     int
	values  []float32
	records []domain.ChunkRecord
	byClass map[domain.Class][]int
}

func newSnapshot(dim int, values []float32, records []domain.ChunkRecord) *Snapshot {
	if len(records) == 0 {
		dim = 0
		values = nil
	}
	byClass := make(map[domain.Class][]int)
	for i := range records {
		c := records[i].Class
		byClass[c] = append(byClass[c], i)
	}
	return &Snapshot{
		dim:     dim,
		values:  values,
		records: records,
		byClass: byClass,
	}
}

func emptySnapshot() *Snapshot {
	return newSnapshot(0, nil, nil)
}

// Len returns the number of rows.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Dim returns the vector dimension, or 0 for an empty snapshot.
func (s *Snapshot) Dim() int {
	return s.dim
}

// Vector returns row i.
func (s *Snapshot) Vector(i int) []float32 {
	return s.values[i*s.dim : (i+1)*s.dim : (i+1)*s.dim]
}

// Record returns the metadata of row i.
func (s *Snapshot) Record(i int) domain.ChunkRecord {
	return s.records[i]
}

// RowsForClass returns the row indexes whose record has class c, in row order.
func (s *Snapshot) RowsForClass(c domain.Class) []int {
	rows := s.byClass[c]
	out := make([]int, len(rows))
	copy(out, rows)
	return out
}

// AllRows returns every row index in order.
func (s *Snapshot) AllRows() []int {
	out := make([]int, len(s.records))
	for i := range out {
		out[i] = i
	}
	return out
}

// extend returns a new snapshot with rows appended. s is left untouched.
func (s *Snapshot) extend(dim int, vectors [][]float32, records []domain.ChunkRecord) *Snapshot {
	values := make([]float32, 0, len(s.values)+len(vectors)*dim)
	values = append(values, s.values...)
	for _, v := range vectors {
		values = append(values, v...)
	}
	all := make([]domain.ChunkRecord, 0, len(s.records)+len(records))
	all = append(all, s.records...)
	all = append(all, records...)
	return newSnapshot(dim, values, all)
}
