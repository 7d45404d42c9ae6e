package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptScoring_CapAndShift(t *testing.T) {
	raw := []float64{1000, 1500, 2000, -1}
	valid := []float64{1000, 1500, 2000}

	p90 := percentile(valid, 90)
	assert.InDelta(t, 1900, p90, 1e-9)

	capped := make([]float64, len(raw))
	for i, v := range raw {
		if v == -1 {
			capped[i] = p90
		} else {
			capped[i] = math.Min(v, p90)
		}
	}
	assert.Equal(t, []float64{1000, 1500, 1900, 1900}, capped)

	lowest := minOf(capped)
	assert.Equal(t, 1000.0, lowest)

	shifted := make([]float64, len(capped))
	for i, v := range capped {
		shifted[i] = v - lowest
	}
	assert.Equal(t, []float64{0, 500, 900, 900}, shifted)
}
