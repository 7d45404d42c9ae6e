package reward

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/store"
)

func TestSoftmax_DeterministicWeights(t *testing.T) {
	smoothed := map[int64]float64{1: 1000, 2: 1500, 3: 2000}
	weights := Softmax(smoothed, -0.001, 1.0)

	assert.InDelta(t, 0.506, weights[1], 5e-4)
	assert.InDelta(t, 0.307, weights[2], 5e-4)
	assert.InDelta(t, 0.186, weights[3], 5e-4)
}

func TestSoftmax_SumsToHorizonCoefficient(t *testing.T) {
	smoothed := map[int64]float64{1: 100, 2: 200, 3: 300, 4: 400}
	weights := Softmax(smoothed, -0.2, 0.5)

	total := 0.0
	for _, w := range weights {
		total += w
	}
	assert.InDelta(t, 0.5, total, 1e-9)
}

func TestComputeHorizon_NewMinerFillsOldMinerDrops(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	t0 := now
	t1 := now.Add(time.Hour)

	details := domain.ScoreDetails{Percentile90: 2000, LowestScore: 1000}

	rows := []store.MinerScoreRow{
		// miner 1 (old): present at both times.
		{MinerID: 1, PromptScoreV3: 100, ScoredTime: t0, ScoreDetails: details, Asset: domain.AssetBTC},
		{MinerID: 1, PromptScoreV3: 150, ScoredTime: t1, ScoreDetails: details, Asset: domain.AssetBTC},
		// miner 2 (old, first seen at t0): missing at t1, cell dropped.
		{MinerID: 2, PromptScoreV3: 200, ScoredTime: t0, ScoreDetails: details, Asset: domain.AssetBTC},
		// miner 3 (new, first seen at t1): missing at t0, cell filled with
		// global worst (percentile90 - lowest_score = 1000) at t0.
		{MinerID: 3, PromptScoreV3: 50, ScoredTime: t1, ScoreDetails: details, Asset: domain.AssetBTC},
	}

	resolveUID := func(minerID int64) (int64, bool) { return minerID + 100, true }
	smoothed := ComputeHorizon(rows, resolveUID)

	// miner 2 contributes only its single real cell; miner 3 contributes
	// a filled cell (1000) at t0 plus its real cell (50) at t1.
	assert.Contains(t, smoothed, int64(1))
	assert.Contains(t, smoothed, int64(2))
	assert.Contains(t, smoothed, int64(3))

	// miner 3's smoothed score reflects the fill (1000) dominating its
	// real low score (50), so it should exceed miner 1's two genuine
	// mid-range cells once normalized by the same divisor.
	assert.Greater(t, smoothed[3], smoothed[1])
}

func TestCombineHorizons_OwnerRowSumsAllOthers(t *testing.T) {
	low := map[int64]float64{1: 0.3, 2: 0.2}
	high := map[int64]float64{1: 0.1, 3: 0.4}

	combined := CombineHorizons(low, high, 999)

	assert.InDelta(t, 0.4, combined[1], 1e-9)
	assert.InDelta(t, 0.2, combined[2], 1e-9)
	assert.InDelta(t, 0.4, combined[3], 1e-9)
	assert.InDelta(t, 1.0, combined[999], 1e-9)
}
