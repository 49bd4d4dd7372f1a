// Package similarity holds the vector-space and set similarity measures used
// by the similarity engines. Every function is total: degenerate input yields
// 0 (or NaN for Pearson) instead of an error.
package similarity

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Cosine returns the cosine of the angle between a and b in [-1,1]. Vectors of
// different length or with zero norm have similarity 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return bound(floats.Dot(a, b) / (na * nb))
}

// CosineSparse is Cosine over sparse maps; absent keys count as 0.
func CosineSparse(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for k, va := range a {
		na += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return bound(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Jaccard is |a∩b| / |a∪b|, defined as 0 when both sets are empty.
func Jaccard[T comparable](a, b map[T]struct{}) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// JaccardSlices builds sets from the slices and returns their Jaccard index.
func JaccardSlices[T comparable](a, b []T) float64 {
	return Jaccard(toSet(a), toSet(b))
}

// Pearson returns the correlation coefficient of x and y. It is NaN when
// either input is constant or the lengths differ; callers discard NaN.
func Pearson(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) || constant(x) || constant(y) {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

func constant(v []float64) bool {
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

// Clamp01 maps a raw score into [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// bound absorbs floating point drift just outside [-1,1].
func bound(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func toSet[T comparable](items []T) map[T]struct{} {
	set := make(map[T]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
