// Package store is the Persistence Store (§4.A) and Miner Directory
// (§4.B): typed, transactional storage for requests, predictions, scores,
// rewards, metagraph snapshots, and weight-submission history, plus the
// live miner_uid -> miner_id mapping. Grounded on
// explorer/indexer/internal/database/db.go: database/sql + lib/pq,
// $N-placeholder raw SQL, ON CONFLICT upserts, explicit *sql.Tx for
// multi-row writes, and an embedded schema.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"

	"cosmossdk.io/log"

	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/retry"
)

//go:embed schema.sql
var schemaSQL string

// Config configures the underlying connection pool.
type Config struct {
	URL            string
	MaxConnections int
	MaxIdle        int
	ConnMaxLife    time.Duration
}

// Store wraps a *sql.DB with the validator's typed access methods.
type Store struct {
	db     *sql.DB
	logger log.Logger
	policy retry.Policy
}

// New opens the connection pool and pings it.
func New(cfg Config, logger log.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLife)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, logger: logger, policy: retry.DefaultDBPolicy()}, nil
}

// InitSchema applies the embedded schema; safe to call repeatedly.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// withRetry wraps a write path with bounded exponential-random backoff
// around transient connection errors; callers that detect a logical
// error must return retry.Permanent to stop early (§4.A).
func (s *Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.policy, fn)
}

// PredictionInput is one miner's raw response, keyed by miner_uid, before
// directory resolution.
type PredictionInput struct {
	MinerUID         int64
	Prediction       [][]float64
	FormatValidation string
	ProcessTime      *float64
}

// SaveResponses inserts one ValidatorRequest and one MinerPrediction per
// uid present in the current directory; uids absent from the directory
// are dropped with a warning (§4.A).
func (s *Store) SaveResponses(ctx context.Context, input domain.SimulationInput, predictions []PredictionInput, requestTime time.Time) (int64, error) {
	var requestID int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		err = tx.QueryRowContext(ctx,
			`INSERT INTO validator_requests (start_time, asset, time_increment, time_length, num_simulations, request_time)
			 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			input.StartTime, string(input.Asset), input.TimeIncrement, input.TimeLength, input.NumSimulations, requestTime,
		).Scan(&requestID)
		if err != nil {
			return fmt.Errorf("insert validator_request: %w", err)
		}

		for _, p := range predictions {
			minerID, ok, err := resolveMinerID(ctx, tx, p.MinerUID)
			if err != nil {
				return fmt.Errorf("resolve miner uid %d: %w", p.MinerUID, err)
			}
			if !ok {
				s.logger.Warn("dropping prediction for uid not in miner directory", "miner_uid", p.MinerUID)
				continue
			}

			var predictionJSON []byte
			if p.FormatValidation == domain.ValidationCorrect {
				predictionJSON, err = json.Marshal(p.Prediction)
				if err != nil {
					return fmt.Errorf("marshal prediction: %w", err)
				}
			} else {
				predictionJSON, _ = json.Marshal([][]float64{})
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO miner_predictions (validator_requests_id, miner_id, prediction, format_validation, process_time)
				 VALUES ($1,$2,$3,$4,$5)`,
				requestID, minerID, predictionJSON, p.FormatValidation, p.ProcessTime,
			); err != nil {
				return fmt.Errorf("insert miner_prediction: %w", err)
			}
		}

		return tx.Commit()
	})
	return requestID, err
}

// ScoreDetail is one miner's computed score, keyed by prediction id.
type ScoreDetail struct {
	MinerPredictionID int64
	PromptScoreV3     float64
	Details           domain.ScoreDetails
}

// SetMinerScores updates the request's realized prices (NaN normalized to
// null) and upserts one MinerScore per prediction, keyed by
// miner_predictions_id (§4.A).
func (s *Store) SetMinerScores(ctx context.Context, requestID int64, realPrices []*float64, details []ScoreDetail, scoredTime time.Time) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		normalized := normalizeNaNs(realPrices)
		if _, err := tx.ExecContext(ctx,
			`UPDATE validator_requests SET real_prices = $1 WHERE id = $2`,
			pqFloatArray(normalized), requestID,
		); err != nil {
			return fmt.Errorf("update real_prices: %w", err)
		}

		for _, d := range details {
			detailsJSON, err := json.Marshal(d.Details)
			if err != nil {
				return fmt.Errorf("marshal score details: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO miner_scores (miner_predictions_id, scored_time, prompt_score_v3, score_details_v3)
				 VALUES ($1,$2,$3,$4)
				 ON CONFLICT (miner_predictions_id) DO UPDATE SET
				   scored_time = EXCLUDED.scored_time,
				   prompt_score_v3 = EXCLUDED.prompt_score_v3,
				   score_details_v3 = EXCLUDED.score_details_v3`,
				d.MinerPredictionID, scoredTime, d.PromptScoreV3, detailsJSON,
			); err != nil {
				return fmt.Errorf("upsert miner_score: %w", err)
			}
		}

		return tx.Commit()
	})
}

// GetValidatorRequestsToScore returns unscored requests whose window has
// elapsed (§4.A).
func (s *Store) GetValidatorRequestsToScore(ctx context.Context, now time.Time, windowDays int, timeLength int64) ([]domain.ValidatorRequest, error) {
	windowStart := now.AddDate(0, 0, -windowDays)
	rows, err := s.db.QueryContext(ctx,
		`SELECT vr.id, vr.start_time, vr.asset, vr.time_increment, vr.time_length, vr.num_simulations, vr.request_time
		 FROM validator_requests vr
		 WHERE vr.time_length = $1
		   AND vr.start_time + (vr.time_length || ' seconds')::interval < $2
		   AND vr.start_time >= $3
		   AND NOT EXISTS (
		     SELECT 1 FROM miner_predictions mp
		     JOIN miner_scores ms ON ms.miner_predictions_id = mp.id
		     WHERE mp.validator_requests_id = vr.id
		   )
		 ORDER BY vr.start_time ASC`,
		timeLength, now, windowStart,
	)
	if err != nil {
		return nil, fmt.Errorf("query requests to score: %w", err)
	}
	defer rows.Close()

	var out []domain.ValidatorRequest
	for rows.Next() {
		var r domain.ValidatorRequest
		var asset string
		if err := rows.Scan(&r.ID, &r.StartTime, &asset, &r.TimeIncrement, &r.TimeLength, &r.NumSimulations, &r.RequestTime); err != nil {
			return nil, fmt.Errorf("scan validator_request: %w", err)
		}
		r.Asset = domain.Asset(asset)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MinerScoreRow is one row from GetMinerScores (§4.A).
type MinerScoreRow struct {
	MinerID       int64
	PromptScoreV3 float64
	ScoredTime    time.Time
	ScoreDetails  domain.ScoreDetails
	Asset         domain.Asset
}

// GetMinerScores returns scores newer than now-windowDays, optionally
// filtered by horizon time_length.
func (s *Store) GetMinerScores(ctx context.Context, now time.Time, windowDays int, timeLength *int64) ([]MinerScoreRow, error) {
	windowStart := now.AddDate(0, 0, -windowDays)
	query := `SELECT mp.miner_id, ms.prompt_score_v3, ms.scored_time, ms.score_details_v3, vr.asset
	          FROM miner_scores ms
	          JOIN miner_predictions mp ON mp.id = ms.miner_predictions_id
	          JOIN validator_requests vr ON vr.id = mp.validator_requests_id
	          WHERE ms.scored_time > $1`
	args := []interface{}{windowStart}
	if timeLength != nil {
		query += " AND vr.time_length = $2"
		args = append(args, *timeLength)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query miner scores: %w", err)
	}
	defer rows.Close()

	var out []MinerScoreRow
	for rows.Next() {
		var row MinerScoreRow
		var asset string
		var detailsJSON []byte
		if err := rows.Scan(&row.MinerID, &row.PromptScoreV3, &row.ScoredTime, &detailsJSON, &asset); err != nil {
			return nil, fmt.Errorf("scan miner score: %w", err)
		}
		if err := json.Unmarshal(detailsJSON, &row.ScoreDetails); err != nil {
			return nil, fmt.Errorf("unmarshal score details: %w", err)
		}
		row.Asset = domain.Asset(asset)
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetLatestAsset returns the most recent request's asset for a horizon.
func (s *Store) GetLatestAsset(ctx context.Context, timeLength int64) (domain.Asset, bool, error) {
	var asset string
	err := s.db.QueryRowContext(ctx,
		`SELECT asset FROM validator_requests WHERE time_length = $1 ORDER BY start_time DESC LIMIT 1`,
		timeLength,
	).Scan(&asset)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query latest asset: %w", err)
	}
	return domain.Asset(asset), true, nil
}

// GetMinerPrediction resolves miner_uid via the directory and returns the
// prediction row for a request.
func (s *Store) GetMinerPrediction(ctx context.Context, minerUID, requestID int64) (domain.MinerPrediction, error) {
	minerID, ok, err := resolveMinerID(ctx, s.db, minerUID)
	if err != nil {
		return domain.MinerPrediction{}, fmt.Errorf("resolve miner uid %d: %w", minerUID, err)
	}
	if !ok {
		return domain.MinerPrediction{}, fmt.Errorf("miner uid %d not in directory", minerUID)
	}

	var p domain.MinerPrediction
	var predictionJSON []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT id, validator_requests_id, miner_id, prediction, format_validation, process_time
		 FROM miner_predictions WHERE validator_requests_id = $1 AND miner_id = $2`,
		requestID, minerID,
	).Scan(&p.ID, &p.ValidatorRequestID, &p.MinerID, &predictionJSON, &p.FormatValidation, &p.ProcessTime)
	if err != nil {
		return domain.MinerPrediction{}, fmt.Errorf("query miner prediction: %w", err)
	}
	if p.FormatValidation == domain.ValidationCorrect {
		if err := json.Unmarshal(predictionJSON, &p.Prediction); err != nil {
			return domain.MinerPrediction{}, fmt.Errorf("unmarshal prediction: %w", err)
		}
	}
	return p, nil
}

// InsertNewMiners upserts on (miner_uid, coldkey, hotkey); on conflict,
// touches updated_at so the directory's ranking picks it up (§4.A).
func (s *Store) InsertNewMiners(ctx context.Context, batch []domain.Miner) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for _, m := range batch {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO miners (miner_uid, coldkey, hotkey, created_at, updated_at)
				 VALUES ($1,$2,$3,now(),now())
				 ON CONFLICT (miner_uid, coldkey, hotkey) DO UPDATE SET updated_at = now()`,
				m.MinerUID, m.Coldkey, m.Hotkey,
			); err != nil {
				return fmt.Errorf("upsert miner: %w", err)
			}
		}
		return tx.Commit()
	})
}

// UpdateMetagraphHistory appends one snapshot row per uid (§4.A).
func (s *Store) UpdateMetagraphHistory(ctx context.Context, snapshots []domain.MetagraphSnapshot) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for _, snap := range snapshots {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO metagraph_history (uid, incentive, rank, stake, trust, emission, pruning_score, ip, port, hotkey, coldkey, recorded_at)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				snap.UID, snap.Incentive, snap.Rank, snap.Stake, snap.Trust, snap.Emission,
				snap.PruningScore, snap.IP, snap.Port, snap.Hotkey, snap.Coldkey, snap.RecordedAt,
			); err != nil {
				return fmt.Errorf("insert metagraph snapshot: %w", err)
			}
		}
		return tx.Commit()
	})
}

// GetLatestAxons returns one AxonDescriptor per uid, from each uid's most
// recent metagraph_history row, for the scheduler's fan-out target list.
func (s *Store) GetLatestAxons(ctx context.Context) ([]domain.AxonDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT ON (uid) uid, ip, port, hotkey
		 FROM metagraph_history
		 ORDER BY uid, recorded_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest axons: %w", err)
	}
	defer rows.Close()

	var out []domain.AxonDescriptor
	for rows.Next() {
		var a domain.AxonDescriptor
		if err := rows.Scan(&a.MinerUID, &a.IP, &a.Port, &a.Hotkey); err != nil {
			return nil, fmt.Errorf("scan axon: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateMinerRewards appends one reward row per miner (§4.A).
func (s *Store) UpdateMinerRewards(ctx context.Context, rewards []domain.MinerReward) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for _, r := range rewards {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO miner_rewards (miner_id, smoothed_score, reward_weight, prompt_name, updated_at)
				 VALUES ($1,$2,$3,$4,$5)`,
				r.MinerID, r.SmoothedScore, r.RewardWeight, string(r.PromptName), r.UpdatedAt,
			); err != nil {
				return fmt.Errorf("insert miner reward: %w", err)
			}
		}
		return tx.Commit()
	})
}

// UpdateWeightsHistory appends one submission-attempt row (§4.A).
func (s *Store) UpdateWeightsHistory(ctx context.Context, rec domain.WeightsUpdateRecord) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO weights_update_history (raw_uids, raw_weights, normalized_uids, normalized_wts, ok, message, submitted_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			pqInt64Array(rec.RawUIDs), pqFloatArray(floatPtrs(rec.RawWeights)),
			pqUint64Array(rec.NormalizedUIDs), pqUint64Array(rec.NormalizedWts),
			rec.OK, rec.Message, rec.SubmittedAt,
		)
		if err != nil {
			return fmt.Errorf("insert weights_update_history: %w", err)
		}
		return nil
	})
}

func normalizeNaNs(in []*float64) []*float64 {
	out := make([]*float64, len(in))
	for i, v := range in {
		if v == nil || math.IsNaN(*v) {
			out[i] = nil
			continue
		}
		val := *v
		out[i] = &val
	}
	return out
}

func floatPtrs(in []float64) []*float64 {
	out := make([]*float64, len(in))
	for i, v := range in {
		val := v
		out[i] = &val
	}
	return out
}
