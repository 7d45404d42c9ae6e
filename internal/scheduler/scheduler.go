// Package scheduler is the single-threaded cooperative scheduler (§4.I):
// it multiplexes the low- and high-frequency cycles, rotating assets,
// fanning out prompts, scoring, weighting, and submitting to the chain.
// Structure (one goroutine driving a due-time loop, delegating blocking
// work to helper components) is grounded on
// explorer/indexer/internal/subscriber/subscriber.go's reconnect loop.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"cosmossdk.io/log"

	"github.com/foresightnet/voldy/internal/chain"
	"github.com/foresightnet/voldy/internal/config"
	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/reward"
	"github.com/foresightnet/voldy/internal/scoring"
	"github.com/foresightnet/voldy/internal/store"
	"github.com/foresightnet/voldy/internal/telemetry"
	"github.com/foresightnet/voldy/internal/transport"
	"github.com/foresightnet/voldy/internal/validate"
)

// Scheduler drives both cycles. It never runs the two concurrently: the
// Run loop always sleeps until the nearer of the two due times, then
// executes exactly one cycle before recomputing (§5 "never concurrent").
type Scheduler struct {
	store     *store.Store
	transport *transport.Client
	scorer    *scoring.Scorer
	chain     *chain.Client
	logger    log.Logger
	metrics   *telemetry.Metrics

	assets []domain.Asset
	low    config.PromptConfig
	high   config.PromptConfig

	ownerMinerID int64

	lastAssetLow  domain.Asset
	lastAssetHigh domain.Asset
}

// New builds a Scheduler over the given components.
func New(st *store.Store, tr *transport.Client, sc *scoring.Scorer, ch *chain.Client, logger log.Logger, metrics *telemetry.Metrics, assets []domain.Asset, low, high config.PromptConfig, ownerMinerID int64) *Scheduler {
	return &Scheduler{
		store:        st,
		transport:    tr,
		scorer:       sc,
		chain:        ch,
		logger:       logger,
		metrics:      metrics,
		assets:       assets,
		low:          low,
		high:         high,
		ownerMinerID: ownerMinerID,
	}
}

// Run blocks until ctx is cancelled, executing one cycle at a time
// (§4.I, §5 suspension points: sleeps, fan-out, DB, chain calls).
func (s *Scheduler) Run(ctx context.Context) error {
	now := time.Now()
	lowDue := now.Add(s.low.InitialDelay)
	highDue := now.Add(s.high.InitialDelay)

	for {
		var due time.Time
		var runLow bool
		if lowDue.Before(highDue) {
			due, runLow = lowDue, true
		} else {
			due, runLow = highDue, false
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(due)):
		}

		cycleStart := due
		if runLow {
			s.runLowCycle(ctx, cycleStart)
			lowDue = cycleStart.Add(period(s.low, len(s.assets)))
		} else {
			s.runHighCycle(ctx, cycleStart)
			highDue = cycleStart.Add(period(s.high, len(s.assets)))
		}
	}
}

func period(cfg config.PromptConfig, numAssets int) time.Duration {
	if numAssets == 0 {
		numAssets = 1
	}
	return time.Duration(cfg.TotalCycleMinutes) * time.Minute / time.Duration(numAssets)
}

func (s *Scheduler) runHighCycle(ctx context.Context, cycleStart time.Time) {
	if err := s.refreshDirectory(ctx); err != nil {
		s.logger.Error("refresh directory failed", "error", err)
	}

	asset := RotateSkippingClosedXAU(s.lastAssetHigh, s.assets, cycleStart)
	s.lastAssetHigh = asset

	req, ok, err := s.forwardPrompt(ctx, s.high, asset)
	if err != nil {
		s.logger.Error("forward prompt failed", "cycle", "high", "asset", asset, "error", err)
		return
	}
	if !ok {
		return
	}

	scoredTime := roundUpToMinute(time.Now())
	if err := s.scorer.ScoreRequest(ctx, req, s.high, scoredTime); err != nil {
		s.logger.Error("score request failed", "cycle", "high", "request_id", req.ID, "error", err)
	}
}

func (s *Scheduler) runLowCycle(ctx context.Context, cycleStart time.Time) {
	if err := s.refreshDirectory(ctx); err != nil {
		s.logger.Error("refresh directory failed", "error", err)
	}

	asset := RotateSkippingClosedXAU(s.lastAssetLow, s.assets, cycleStart)
	s.lastAssetLow = asset

	if _, ok, err := s.forwardPrompt(ctx, s.low, asset); err != nil {
		s.logger.Error("forward prompt failed", "cycle", "low", "asset", asset, "error", err)
	} else if ok {
		s.scoreDueRequests(ctx, s.low)
	}

	s.weightAndSubmit(ctx)
}

// forwardPrompt runs §4.I step 4a: build the input, skip a closed-market
// XAU tick, fan out, validate, and persist. The returned request carries
// the new request ID for immediate (high-frequency) scoring.
func (s *Scheduler) forwardPrompt(ctx context.Context, cfg config.PromptConfig, asset domain.Asset) (domain.ValidatorRequest, bool, error) {
	now := time.Now()
	startTime := roundUpToMinute(now).Add(time.Duration(cfg.TimeoutExtraSeconds) * time.Second)

	if asset == domain.AssetXAU && XAUClosed(startTime) {
		return domain.ValidatorRequest{}, false, nil
	}

	input := domain.SimulationInput{
		StartTime:      startTime,
		Asset:          asset,
		TimeIncrement:  cfg.TimeIncrement,
		TimeLength:     cfg.TimeLength,
		NumSimulations: cfg.NumSimulations,
	}

	axons, err := s.store.GetLatestAxons(ctx)
	if err != nil {
		return domain.ValidatorRequest{}, false, fmt.Errorf("load axons: %w", err)
	}

	timeout := time.Until(startTime)
	if timeout <= 0 {
		timeout = time.Duration(cfg.TimeoutExtraSeconds) * time.Second
	}
	results := s.transport.FanOut(ctx, axons, input, timeout)

	requestUnix := now.Unix()
	predictions := make([]store.PredictionInput, len(results))
	for i, r := range results {
		resp := parseSimulationOutput(r.SimulationOut)
		formatValidation := validate.Check(resp, r.ProcessTime, input, func() int64 { return requestUnix })
		prediction := [][]float64{}
		if resp != nil {
			prediction = resp.Paths
		}
		predictions[i] = store.PredictionInput{
			MinerUID:         r.MinerUID,
			Prediction:       prediction,
			FormatValidation: formatValidation,
			ProcessTime:      r.ProcessTime,
		}
	}

	requestID, err := s.store.SaveResponses(ctx, input, predictions, now)
	if err != nil {
		return domain.ValidatorRequest{}, false, fmt.Errorf("save responses: %w", err)
	}

	req := domain.ValidatorRequest{
		ID:             requestID,
		StartTime:      input.StartTime,
		Asset:          input.Asset,
		TimeIncrement:  input.TimeIncrement,
		TimeLength:     input.TimeLength,
		NumSimulations: input.NumSimulations,
		RequestTime:    now,
	}
	return req, true, nil
}

// scoreDueRequests scores every unscored low-frequency request whose
// window has elapsed (§4.I step 4c).
func (s *Scheduler) scoreDueRequests(ctx context.Context, cfg config.PromptConfig) {
	now := time.Now()
	due, err := s.store.GetValidatorRequestsToScore(ctx, now, cfg.WindowDays, cfg.TimeLength)
	if err != nil {
		s.logger.Error("load requests to score failed", "error", err)
		return
	}
	for _, req := range due {
		if err := s.scorer.ScoreRequest(ctx, req, cfg, now); err != nil {
			s.logger.Error("score request failed", "request_id", req.ID, "error", err)
		}
	}
}

// weightAndSubmit runs §4.H/§4.I step 4c's tail: compute both horizons'
// reward weights, persist them, combine, and submit to the chain.
func (s *Scheduler) weightAndSubmit(ctx context.Context) {
	now := time.Now()
	resolveUID := func(minerID int64) (int64, bool) {
		uid, ok, err := s.store.ResolveMinerUID(ctx, minerID)
		if err != nil {
			s.logger.Error("resolve miner uid failed", "miner_id", minerID, "error", err)
			return 0, false
		}
		return uid, ok
	}

	lowWeights := s.computeAndPersistWeights(ctx, s.low, now, resolveUID)
	highWeights := s.computeAndPersistWeights(ctx, s.high, now, resolveUID)

	combined := reward.CombineHorizons(lowWeights, highWeights, s.ownerMinerID)

	uids, weights, rawUIDs, rawWeights := scaleWeights(combined, resolveUID)
	if len(uids) == 0 {
		return
	}

	ok, msg, normUIDs, normWeights, err := s.chain.SetWeights(ctx, uids, weights)
	rec := domain.WeightsUpdateRecord{
		RawUIDs:        rawUIDs,
		RawWeights:     rawWeights,
		NormalizedUIDs: normUIDs,
		NormalizedWts:  normWeights,
		OK:             ok,
		Message:        msg,
		SubmittedAt:    now,
	}
	if err != nil {
		rec.Message = err.Error()
		s.logger.Error("set_weights failed", "error", err)
	} else if !ok {
		if chain.IsRateLimit(msg) {
			s.logger.Warn("set_weights rate-limited", "message", msg)
		} else {
			s.logger.Error("set_weights rejected", "message", msg)
		}
	}
	if histErr := s.store.UpdateWeightsHistory(ctx, rec); histErr != nil {
		s.logger.Error("record weights history failed", "error", histErr)
	}
}

func (s *Scheduler) computeAndPersistWeights(ctx context.Context, cfg config.PromptConfig, now time.Time, resolveUID func(int64) (int64, bool)) map[int64]float64 {
	rows, err := s.store.GetMinerScores(ctx, now, cfg.WindowDays, &cfg.TimeLength)
	if err != nil {
		s.logger.Error("load miner scores failed", "horizon", cfg.Horizon, "error", err)
		return nil
	}
	smoothed := reward.ComputeHorizon(rows, resolveUID)
	weights := reward.Softmax(smoothed, cfg.SoftmaxBeta, cfg.SmoothedScoreCoefficient)

	rewards := make([]domain.MinerReward, 0, len(smoothed))
	for minerID, score := range smoothed {
		rewards = append(rewards, domain.MinerReward{
			MinerID:       minerID,
			SmoothedScore: score,
			RewardWeight:  weights[minerID],
			PromptName:    cfg.Horizon,
			UpdatedAt:     now,
		})
	}
	if err := s.store.UpdateMinerRewards(ctx, rewards); err != nil {
		s.logger.Error("persist miner rewards failed", "horizon", cfg.Horizon, "error", err)
	}
	return weights
}

func (s *Scheduler) refreshDirectory(ctx context.Context) error {
	snapshots, err := s.chain.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("chain snapshot: %w", err)
	}

	miners := make([]domain.Miner, len(snapshots))
	for i, snap := range snapshots {
		miners[i] = domain.Miner{MinerUID: snap.UID, Coldkey: snap.Coldkey, Hotkey: snap.Hotkey}
		snapshots[i].RecordedAt = time.Now()
	}
	if err := s.store.RefreshDirectory(ctx, miners); err != nil {
		return fmt.Errorf("refresh directory: %w", err)
	}
	if err := s.store.UpdateMetagraphHistory(ctx, snapshots); err != nil {
		return fmt.Errorf("update metagraph history: %w", err)
	}
	return nil
}

// weightScaleMax mirrors the chain's uint16 weight-submission range.
const weightScaleMax = 65535

func scaleWeights(combined map[int64]float64, resolveUID func(int64) (int64, bool)) (uids, weights []uint64, rawUIDs []int64, rawWeights []float64) {
	max := 0.0
	for _, w := range combined {
		if w > max {
			max = w
		}
	}
	if max == 0 {
		return nil, nil, nil, nil
	}

	for minerID, w := range combined {
		uid, ok := resolveUID(minerID)
		if !ok {
			continue
		}
		uids = append(uids, uint64(uid))
		weights = append(weights, uint64(math.Round(w/max*weightScaleMax)))
		rawUIDs = append(rawUIDs, minerID)
		rawWeights = append(rawWeights, w)
	}
	return uids, weights, rawUIDs, rawWeights
}

func roundUpToMinute(t time.Time) time.Time {
	truncated := t.Truncate(time.Minute)
	if truncated.Equal(t) {
		return truncated
	}
	return truncated.Add(time.Minute)
}

func parseSimulationOutput(raw []interface{}) *validate.Response {
	if len(raw) < 2 {
		return nil
	}
	startUnix, ok1 := asInt64(raw[0])
	timeIncrement, ok2 := asInt64(raw[1])
	if !ok1 || !ok2 {
		return nil
	}

	paths := make([][]float64, 0, len(raw)-2)
	for _, p := range raw[2:] {
		items, ok := p.([]interface{})
		if !ok {
			return nil
		}
		path := make([]float64, len(items))
		for i, v := range items {
			f, ok := asFloat64(v)
			if !ok {
				return nil
			}
			path[i] = f
		}
		paths = append(paths, path)
	}

	return &validate.Response{StartUnix: startUnix, TimeIncrement: timeIncrement, Paths: paths}
}

func asInt64(v interface{}) (int64, bool) {
	f, ok := asFloat64(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
