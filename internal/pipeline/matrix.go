package pipeline

import (
	"fmt"
	"time"
)

// Matrix is a dense row-major numeric table with named columns and an
// instant index. It is the shape handed to the model-fitting collaborator:
// X (features) and Y (targets) are both Matrix values with identical row
// indices after the training join.
type Matrix struct {
	Columns []string
	Index   []time.Time
	Values  [][]float64
}

// NewMatrix allocates a rows x len(columns) matrix.
func NewMatrix(columns []string, index []time.Time) *Matrix {
	values := make([][]float64, len(index))
	for i := range values {
		values[i] = make([]float64, len(columns))
	}
	return &Matrix{Columns: columns, Index: index, Values: values}
}

// Rows returns the row count.
func (m *Matrix) Rows() int { return len(m.Values) }

// Row returns row i. The slice aliases the matrix storage.
func (m *Matrix) Row(i int) []float64 { return m.Values[i] }

// Col returns the index of a named column, or -1.
func (m *Matrix) Col(name string) int {
	for i, c := range m.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// rowComplete reports whether row i contains no NaN.
func (m *Matrix) rowComplete(i int) bool {
	for _, v := range m.Values[i] {
		if isNaN(v) {
			return false
		}
	}
	return true
}

// selectRows builds a new matrix containing only the rows whose indices are
// listed in keep, in order.
func (m *Matrix) selectRows(keep []int) *Matrix {
	out := &Matrix{
		Columns: m.Columns,
		Index:   make([]time.Time, 0, len(keep)),
		Values:  make([][]float64, 0, len(keep)),
	}
	for _, i := range keep {
		out.Index = append(out.Index, m.Index[i])
		out.Values = append(out.Values, m.Values[i])
	}
	return out
}

// JoinTraining performs the strict inner join between a feature matrix and
// its target matrix: a row survives only when the feature vector and every
// target value at that instant are defined. Partial-horizon rows near the
// series boundary are rejected wholesale rather than silently mixed in.
func JoinTraining(x, y *Matrix) (*Matrix, *Matrix, error) {
	if x.Rows() != y.Rows() {
		return nil, nil, fmt.Errorf("feature/target row mismatch: %d vs %d", x.Rows(), y.Rows())
	}
	keep := make([]int, 0, x.Rows())
	for i := 0; i < x.Rows(); i++ {
		if !x.Index[i].Equal(y.Index[i]) {
			return nil, nil, fmt.Errorf("feature/target index mismatch at row %d: %s vs %s",
				i, x.Index[i], y.Index[i])
		}
		if x.rowComplete(i) && y.rowComplete(i) {
			keep = append(keep, i)
		}
	}
	return x.selectRows(keep), y.selectRows(keep), nil
}
