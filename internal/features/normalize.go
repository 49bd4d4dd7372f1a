package features

import (
	"gonum.org/v1/gonum/floats"
)

// NormalizeMinMax rescales every column of vectors to [0,1] in place using the
// column's observed range across the batch. A constant column becomes 0.
// All vectors must share one schema.
func NormalizeMinMax(vectors []FeatureVector) {
	if len(vectors) == 0 {
		return
	}
	dims := len(vectors[0].Values)
	column := make([]float64, len(vectors))

	for c := 0; c < dims; c++ {
		for i := range vectors {
			column[i] = vectors[i].Values[c]
		}
		lo, hi := floats.Min(column), floats.Max(column)
		span := hi - lo
		for i := range vectors {
			if span == 0 {
				vectors[i].Values[c] = 0
				continue
			}
			vectors[i].Values[c] = (vectors[i].Values[c] - lo) / span
		}
	}
}
