// Package scoring is the Scorer (§4.G): per validator-request, loads
// ensembles, calls the CRPS engine, caps at the 90th percentile, shifts
// to a zero baseline, and upserts per-prediction scores. Orchestration
// style (load -> compute -> persist, log-and-continue on a single
// failure) is grounded on p2p/reputation/manager.go's RecordEvent.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"cosmossdk.io/log"

	"github.com/foresightnet/voldy/internal/config"
	"github.com/foresightnet/voldy/internal/crps"
	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/prices"
	"github.com/foresightnet/voldy/internal/store"
	"github.com/foresightnet/voldy/internal/telemetry"
)

// Scorer runs the CRPS/prompt-score pipeline for one request at a time.
type Scorer struct {
	store    *store.Store
	provider *prices.Provider
	logger   log.Logger
	metrics  *telemetry.Metrics
}

// New builds a Scorer.
func New(st *store.Store, provider *prices.Provider, logger log.Logger, metrics *telemetry.Metrics) *Scorer {
	return &Scorer{store: st, provider: provider, logger: logger, metrics: metrics}
}

// ScoreRequest runs §4.G's pipeline for one request; prompt is either the
// low- or high-frequency PromptConfig matching request.TimeLength.
func (sc *Scorer) ScoreRequest(ctx context.Context, req domain.ValidatorRequest, prompt config.PromptConfig, scoredTime time.Time) error {
	predictions, err := sc.store.GetPredictionsForRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("load predictions for request %d: %w", req.ID, err)
	}
	if len(predictions) == 0 {
		sc.metrics.SkippedRequests.WithLabelValues("no_predictions").Inc()
		return nil
	}

	realGrid, err := sc.provider.Fetch(ctx, req.Asset, req.StartTime, req.TimeLength, req.TimeIncrement)
	if err != nil || allNil(realGrid) {
		sc.metrics.SkippedRequests.WithLabelValues("price_fetch_failed").Inc()
		sc.logger.Warn("skipping request: realized prices unavailable", "request_id", req.ID, "error", err)
		return nil
	}
	realSeries := toFloatSeries(realGrid)

	type rawScore struct {
		predictionID int64
		totalCRPS    float64
	}
	raw := make([]rawScore, len(predictions))
	crpsResults := make([]crps.Result, len(predictions))

	for i, pw := range predictions {
		p := pw.Prediction
		if p.FormatValidation != domain.ValidationCorrect || len(p.Prediction) == 0 {
			raw[i] = rawScore{predictionID: p.ID, totalCRPS: crps.Sentinel}
			continue
		}
		result := sc.scoreOne(p.Prediction, realSeries, req.TimeIncrement, prompt.ScoringIntervals)
		crpsResults[i] = result
		total := result.Total
		if math.IsNaN(total) {
			total = crps.Sentinel
		}
		raw[i] = rawScore{predictionID: p.ID, totalCRPS: total}
	}

	valid := make([]float64, 0, len(raw))
	for _, r := range raw {
		if r.totalCRPS != crps.Sentinel {
			valid = append(valid, r.totalCRPS)
		}
	}
	if len(valid) == 0 {
		sc.metrics.SkippedRequests.WithLabelValues("all_scores_invalid").Inc()
		return nil
	}

	p90 := percentile(valid, 90)
	capped := make([]float64, len(raw))
	for i, r := range raw {
		if r.totalCRPS == crps.Sentinel {
			capped[i] = p90
		} else {
			capped[i] = math.Min(r.totalCRPS, p90)
		}
	}
	lowest := minOf(capped)

	details := make([]store.ScoreDetail, len(raw))
	for i, r := range raw {
		promptScore := capped[i] - lowest
		var points []domain.CRPSDataPoint
		if i < len(crpsResults) {
			points = crpsResults[i].Points
		}
		details[i] = store.ScoreDetail{
			MinerPredictionID: r.predictionID,
			PromptScoreV3:     promptScore,
			Details: domain.ScoreDetails{
				TotalCRPS:     r.totalCRPS,
				Percentile90:  p90,
				LowestScore:   lowest,
				PromptScoreV3: promptScore,
				CRPSData:      points,
			},
		}
	}

	if err := sc.store.SetMinerScores(ctx, req.ID, realGrid, details, scoredTime); err != nil {
		return fmt.Errorf("persist scores for request %d: %w", req.ID, err)
	}
	sc.metrics.ScoredRequests.Inc()
	return nil
}

func (sc *Scorer) scoreOne(paths [][]float64, real []float64, timeIncrement int64, intervals []domain.ScoringInterval) (result crps.Result) {
	defer func() {
		if r := recover(); r != nil {
			sc.logger.Error("crps computation panicked, scoring as sentinel", "panic", r)
			result = crps.Result{Total: crps.Sentinel, PerInterval: map[string]float64{}}
		}
	}()
	return crps.Compute(paths, real, timeIncrement, intervals)
}

func toFloatSeries(grid []*float64) []float64 {
	out := make([]float64, len(grid))
	for i, v := range grid {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	return out
}

func allNil(grid []*float64) bool {
	for _, v := range grid {
		if v != nil {
			return false
		}
	}
	return true
}

// percentile is a linear-interpolation percentile over valid (non-NaN)
// values, matching the "P90" used to cap scores (§4.G step 5).
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func minOf(values []float64) float64 {
	m := math.Inf(1)
	for _, v := range values {
		if v < m {
			m = v
		}
	}
	return m
}
