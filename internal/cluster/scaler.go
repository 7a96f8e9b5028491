package cluster

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres each feature and scales it to unit population
// variance. Zero-variance features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and population standard deviation.
func FitScaler(x [][]float64) (*StandardScaler, error) {
	if len(x) == 0 {
		return nil, eris.New("cluster: cannot fit scaler on empty matrix")
	}
	dims := len(x[0])
	s := &StandardScaler{Mean: make([]float64, dims), Scale: make([]float64, dims)}

	col := make([]float64, len(x))
	for j := 0; j < dims; j++ {
		for i, row := range x {
			if len(row) != dims {
				return nil, eris.Errorf("cluster: row %d has %d features, want %d", i, len(row), dims)
			}
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		if std == 0 {
			std = 1
		}
		s.Scale[j] = std
	}
	return s, nil
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out
}
