package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foresightnet/voldy/internal/config"
)

func TestRoundUpToMinute(t *testing.T) {
	exact := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, exact, roundUpToMinute(exact))

	inexact := time.Date(2024, 1, 1, 12, 30, 15, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 31, 0, 0, time.UTC), roundUpToMinute(inexact))
}

func TestParseSimulationOutput(t *testing.T) {
	raw := []interface{}{
		float64(1700000000),
		float64(300),
		[]interface{}{float64(100), float64(101), float64(102)},
		[]interface{}{float64(200), float64(201), float64(202)},
	}
	resp := parseSimulationOutput(raw)
	assert.NotNil(t, resp)
	assert.Equal(t, int64(1700000000), resp.StartUnix)
	assert.Equal(t, int64(300), resp.TimeIncrement)
	assert.Equal(t, [][]float64{{100, 101, 102}, {200, 201, 202}}, resp.Paths)
}

func TestParseSimulationOutput_MalformedReturnsNil(t *testing.T) {
	assert.Nil(t, parseSimulationOutput(nil))
	assert.Nil(t, parseSimulationOutput([]interface{}{float64(1)}))
}

func TestScaleWeights_NormalizesToMaxUint16(t *testing.T) {
	combined := map[int64]float64{1: 0.5, 2: 1.0}
	resolveUID := func(minerID int64) (int64, bool) { return minerID + 10, true }

	uids, weights, rawUIDs, rawWeights := scaleWeights(combined, resolveUID)
	assert.Len(t, uids, 2)
	assert.Len(t, weights, 2)
	assert.Len(t, rawUIDs, 2)
	assert.Len(t, rawWeights, 2)

	for i, uid := range uids {
		if rawUIDs[i] == 2 {
			assert.Equal(t, uint64(12), uid)
			assert.Equal(t, uint64(weightScaleMax), weights[i])
		}
		if rawUIDs[i] == 1 {
			assert.Equal(t, uint64(11), uid)
			assert.InDelta(t, weightScaleMax/2, weights[i], 1)
		}
	}
}

func TestPeriod_DistributesCycleAcrossAssets(t *testing.T) {
	cfg := config.PromptConfig{TotalCycleMinutes: 60}
	assert.Equal(t, 15*time.Minute, period(cfg, 4))
}
