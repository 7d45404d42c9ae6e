package crps_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightnet/voldy/internal/crps"
	"github.com/foresightnet/voldy/internal/domain"
)

func lowFrequencyIntervals() []domain.ScoringInterval {
	return []domain.ScoringInterval{
		{Label: "5min", IntervalSeconds: 300},
		{Label: "30min", IntervalSeconds: 1800},
		{Label: "3hour", IntervalSeconds: 10800},
		{Label: "24hour_abs", IntervalSeconds: 86400},
	}
}

func TestCompute_DeterministicTotals(t *testing.T) {
	cases := []struct {
		name        string
		simulations [][]float64
		real        []float64
		wantTotal   float64
	}{
		{
			name:        "two identical members",
			simulations: [][]float64{{90000, 91000, 92000}, {90000, 91000, 92000}},
			real:        []float64{92600, 92500, 93500},
			wantTotal:   284.1200564488584,
		},
		{
			name:        "single divergent member",
			simulations: [][]float64{{50000, 51000, 52000}},
			real:        []float64{92600, 92500, 93500},
			wantTotal:   4737.272133130346,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := crps.Compute(tc.simulations, tc.real, 300, lowFrequencyIntervals())
			assert.InDelta(t, tc.wantTotal, res.Total, 1e-6)
		})
	}
}

func TestCompute_GapsDoNotAlterNonGapPositions(t *testing.T) {
	simulations := [][]float64{{50, 60, 70, 80, 90, 100, 110, 120, 130}}
	real := []float64{50, 60, math.NaN(), 80, 90, math.NaN(), math.NaN(), 120, 130}
	intervals := []domain.ScoringInterval{{Label: "step", IntervalSeconds: 60}}

	res := crps.Compute(simulations, real, 60, intervals)
	assert.InDelta(t, 0, res.Total, 1e-9)
}

func TestCompute_ZeroSimulatedPriceIsSentinel(t *testing.T) {
	simulations := [][]float64{{0.0, 10, 20}}
	real := []float64{1, 2, 3}

	res := crps.Compute(simulations, real, 300, lowFrequencyIntervals())
	require.Equal(t, crps.Sentinel, res.Total)
}

func TestCompute_IdenticalEnsembleIsNonNegativeAndZeroWhenEqual(t *testing.T) {
	simulations := [][]float64{{100, 101, 102, 103}, {100, 101, 102, 103}}
	real := []float64{100, 101, 102, 103}
	intervals := []domain.ScoringInterval{{Label: "step", IntervalSeconds: 60}}

	res := crps.Compute(simulations, real, 60, intervals)
	assert.GreaterOrEqual(t, res.Total, 0.0)
	assert.InDelta(t, 0, res.Total, 1e-9)
}
