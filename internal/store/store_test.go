package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// genSimulations reproduces tests/utils.py's synthetic-ensemble builder:
// M identical paths of T steps starting at base and stepping by delta.
func genSimulations(m, t int, base, delta float64) [][]float64 {
	out := make([][]float64, m)
	for i := range out {
		path := make([]float64, t)
		for j := range path {
			path[j] = base + delta*float64(j)
		}
		out[i] = path
	}
	return out
}

func TestGenSimulationsFixture(t *testing.T) {
	sims := genSimulations(3, 4, 100, 10)
	assert.Len(t, sims, 3)
	assert.Equal(t, []float64{100, 110, 120, 130}, sims[0])
	assert.Equal(t, sims[0], sims[1])
}

func TestNormalizeNaNs(t *testing.T) {
	a := 1.5
	in := []*float64{&a, nil, ptrNaN()}
	out := normalizeNaNs(in)
	assert.Equal(t, 1.5, *out[0])
	assert.Nil(t, out[1])
	assert.Nil(t, out[2])
}

func ptrNaN() *float64 {
	v := nan()
	return &v
}

func nan() float64 {
	var zero float64
	return zero / zero
}
