// Package reward is the Moving-Average & Weighter (§4.H): fills absences
// with the period's worst observed score, applies per-asset coefficients,
// sums into a smoothed score, then softmaxes into the weight vector
// submitted on-chain. Composition style (weighted sub-scores, clamped,
// decayed) is grounded on p2p/reputation/scorer.go's CalculateScore.
package reward

import (
	"math"
	"sort"
	"time"

	"github.com/foresightnet/voldy/internal/config"
	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/store"
)

// Row is one miner's final weighting output for one horizon (§4.H step 9).
type Row struct {
	MinerID       int64
	MinerUID      int64
	SmoothedScore float64
	RewardWeight  float64
	PromptName    domain.Horizon
}

// ComputeHorizon runs §4.H steps 1-6 (grid build, fill rule, coefficients,
// smoothed score) over one horizon's score rows. resolveUID resolves a
// miner_id to its current miner_uid (§4.H step 7); miners it can't
// resolve are dropped.
func ComputeHorizon(rows []store.MinerScoreRow, resolveUID func(minerID int64) (int64, bool)) map[int64]float64 {
	if len(rows) == 0 {
		return map[int64]float64{}
	}

	distinctTimes := distinctScoredTimes(rows)
	sort.Slice(distinctTimes, func(i, j int) bool { return distinctTimes[i].Before(distinctTimes[j]) })
	minTime := distinctTimes[0]

	type cell struct {
		promptScore float64
		asset       domain.Asset
	}
	rowsByMinerTime := make(map[int64]map[time.Time]cell)
	assetByTime := make(map[time.Time]domain.Asset)
	globalWorstByTime := make(map[time.Time]float64)

	for _, r := range rows {
		if _, ok := rowsByMinerTime[r.MinerID]; !ok {
			rowsByMinerTime[r.MinerID] = make(map[time.Time]cell)
		}
		rowsByMinerTime[r.MinerID][r.ScoredTime] = cell{promptScore: r.PromptScoreV3, asset: r.Asset}
		assetByTime[r.ScoredTime] = r.Asset
		globalWorstByTime[r.ScoredTime] = r.ScoreDetails.Percentile90 - r.ScoreDetails.LowestScore
	}

	firstSeen := make(map[int64]time.Time)
	for minerID, byTime := range rowsByMinerTime {
		var earliest time.Time
		for t := range byTime {
			if earliest.IsZero() || t.Before(earliest) {
				earliest = t
			}
		}
		firstSeen[minerID] = earliest
	}

	assetCounts := make(map[domain.Asset]int)
	type includedCell struct {
		minerID int64
		score   float64
		asset   domain.Asset
	}
	var included []includedCell

	for minerID, byTime := range rowsByMinerTime {
		isNew := firstSeen[minerID].After(minTime)
		for _, t := range distinctTimes {
			if c, ok := byTime[t]; ok {
				included = append(included, includedCell{minerID, c.promptScore, c.asset})
				assetCounts[c.asset]++
				continue
			}
			if isNew {
				included = append(included, includedCell{minerID, globalWorstByTime[t], assetByTime[t]})
				assetCounts[assetByTime[t]]++
			}
			// old miner: missing cell dropped (§4.H step 4).
		}
	}

	divisor := 0.0
	for asset, count := range assetCounts {
		divisor += config.AssetCoefficients[asset] * float64(count)
	}

	smoothed := make(map[int64]float64)
	seenMiner := make(map[int64]bool)
	for _, c := range included {
		seenMiner[c.minerID] = true
		if divisor == 0 {
			continue
		}
		smoothed[c.minerID] += c.score * config.AssetCoefficients[c.asset] / divisor
	}
	for minerID := range rowsByMinerTime {
		if !seenMiner[minerID] || len(included) == 0 {
			smoothed[minerID] = math.Inf(1)
		}
	}

	out := make(map[int64]float64, len(smoothed))
	for minerID, score := range smoothed {
		if _, ok := resolveUID(minerID); !ok {
			continue
		}
		out[minerID] = score
	}
	return out
}

func distinctScoredTimes(rows []store.MinerScoreRow) []time.Time {
	set := make(map[time.Time]bool)
	var out []time.Time
	for _, r := range rows {
		if !set[r.ScoredTime] {
			set[r.ScoredTime] = true
			out = append(out, r.ScoredTime)
		}
	}
	return out
}

// Softmax converts smoothed scores (keyed by miner_id) into reward
// weights scaled by the horizon coefficient (§4.H step 8): lower score
// => higher weight, since beta is negative. Zero-weight rows are dropped.
func Softmax(smoothed map[int64]float64, beta, horizonCoefficient float64) map[int64]float64 {
	exps := make(map[int64]float64, len(smoothed))
	sum := 0.0
	for minerID, s := range smoothed {
		e := math.Exp(beta * s)
		exps[minerID] = e
		sum += e
	}

	out := make(map[int64]float64, len(smoothed))
	if sum == 0 {
		return out
	}
	for minerID, e := range exps {
		w := (e / sum) * horizonCoefficient
		if w == 0 {
			continue
		}
		out[minerID] = w
	}
	return out
}

// CombineHorizons sums reward_weight per miner_id across both horizons,
// then appends a synthetic owner-uid row whose weight equals the sum of
// all other weights (§4.H, preserved per DESIGN.md Open Question
// decisions: the chain normalizer re-scales this doubling).
func CombineHorizons(low, high map[int64]float64, ownerMinerID int64) map[int64]float64 {
	combined := make(map[int64]float64)
	for minerID, w := range low {
		combined[minerID] += w
	}
	for minerID, w := range high {
		combined[minerID] += w
	}

	total := 0.0
	for _, w := range combined {
		total += w
	}
	combined[ownerMinerID] += total

	return combined
}
