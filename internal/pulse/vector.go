package pulse

import (
	"maps"
	"math"
	"slices"
	"strings"
)

// OverallKey is the grid cell holding the free-text overall description.
const OverallKey = "overall_description"

// Depth weights: the deepest palpation level counts most.
var depthWeights = map[string]float64{
	"fu":    1.0,
	"zhong": 1.5,
	"chen":  2.0,
}

const overallWeight = 3.0

// maxDistance is the diagonal of the 4-D box with side 2.
var maxDistance = math.Sqrt(Dims * 2 * 2)

// TextVector sums the vectors of every keyword in text.
func TextVector(text string) Vector {
	var v Vector
	for _, k := range ExtractKeywords(text) {
		kv := keywordVectors[k]
		for i := range v {
			v[i] += kv[i]
		}
	}
	return v
}

// cellWeight returns the weight of a grid key, or 0 for keys that are not a
// pulse position. Position keys look like "[left-|right-]cun-chen".
func cellWeight(key string) float64 {
	if key == OverallKey {
		return overallWeight
	}
	i := strings.LastIndexByte(key, '-')
	if i < 0 {
		return 0
	}
	return depthWeights[key[i+1:]]
}

// GridVector combines every populated cell of grid into one vector: the
// weighted mean of the cell vectors, scaled so that the dominant axis is
// exactly ±1. A grid without usable text yields the zero vector. Cells are
// summed in key order so equal grids always give bit-identical vectors.
func GridVector(grid map[string]string) Vector {
	var sum Vector
	total := 0.0
	for _, key := range slices.Sorted(maps.Keys(grid)) {
		text := grid[key]
		w := cellWeight(key)
		if w == 0 || strings.TrimSpace(text) == "" {
			continue
		}
		tv := TextVector(text)
		for i := range sum {
			sum[i] += w * tv[i]
		}
		total += w
	}
	if total == 0 {
		return Vector{}
	}
	for i := range sum {
		sum[i] /= total
	}
	return sum.Normalize()
}

// Normalize divides every axis by the largest absolute axis value. The zero
// vector is returned unchanged.
func (v Vector) Normalize() Vector {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	if m == 0 {
		return v
	}
	for i := range v {
		v[i] /= m
	}
	return v
}

// IsZero reports whether every axis is zero.
func (v Vector) IsZero() bool {
	return v == Vector{}
}

// Similarity maps the Euclidean distance between a and b onto [0, 1]:
// identical vectors score 1, opposite corners of the box score 0.
func Similarity(a, b Vector) float64 {
	d := 0.0
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return 1 - math.Sqrt(d)/maxDistance
}

// VectorFrom converts a slice to a Vector. It reports false when the slice
// does not have exactly Dims elements or holds a non-finite value.
func VectorFrom(s []float64) (Vector, bool) {
	var v Vector
	if len(s) != Dims {
		return v, false
	}
	for i, x := range s {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Vector{}, false
		}
		v[i] = x
	}
	return v, true
}
