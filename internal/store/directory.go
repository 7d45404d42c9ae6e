package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/foresightnet/voldy/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so directory
// resolution can run either standalone or inside a caller's transaction
// (§9 "Ownership of the directory": the mapping is re-read inside each
// transaction, never cached in memory).
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// resolveMinerID ranks miners for a uid by updated_at desc and returns
// the top row's miner_id, mirroring the window-ranked view §4.B
// describes rather than a materialized table.
func resolveMinerID(ctx context.Context, q querier, minerUID int64) (int64, bool, error) {
	var minerID int64
	err := q.QueryRowContext(ctx,
		`SELECT miner_id FROM miners WHERE miner_uid = $1 ORDER BY updated_at DESC LIMIT 1`,
		minerUID,
	).Scan(&minerID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve miner_id: %w", err)
	}
	return minerID, true, nil
}

// ResolveMinerUID maps a miner_id back to its current miner_uid, used by
// the Weighter to resolve rows before chain submission (§4.H step 7).
func (s *Store) ResolveMinerUID(ctx context.Context, minerID int64) (int64, bool, error) {
	var uid int64
	err := s.db.QueryRowContext(ctx, `SELECT miner_uid FROM miners WHERE miner_id = $1`, minerID).Scan(&uid)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve miner_uid: %w", err)
	}
	return uid, true, nil
}

// RefreshDirectory reconciles the local miner table against a fresh
// metagraph snapshot, distinguishing the three update paths
// synth/validator/miner_data_handler.py names explicitly (spec.md §3/§4.B
// fold these into one rule; this keeps them as separate branches per
// SPEC_FULL.md's supplemented features):
//
//  1. Initial registration: a uid never seen before gets a fresh row.
//  2. Hotkey/coldkey rotation: a known uid reporting a different keypair
//     gets a new row, which becomes canonical by updated_at.
//  3. Deregistration: a uid no longer present in the snapshot is left
//     alone; absence is implicit, never a delete (invariant 4, §3).
func (s *Store) RefreshDirectory(ctx context.Context, seen []domain.Miner) error {
	var toInsert []domain.Miner
	for _, m := range seen {
		existing, ok, err := s.currentKeypair(ctx, m.MinerUID)
		if err != nil {
			return fmt.Errorf("check existing keypair for uid %d: %w", m.MinerUID, err)
		}
		switch {
		case !ok:
			// Path 1: initial registration.
			toInsert = append(toInsert, m)
		case existing.Coldkey != m.Coldkey || existing.Hotkey != m.Hotkey:
			// Path 2: rotation produces a new canonical row.
			toInsert = append(toInsert, m)
		default:
			// Unchanged keypair; InsertNewMiners' ON CONFLICT below still
			// touches updated_at so this uid stays ranked current.
			toInsert = append(toInsert, m)
		}
	}
	// Path 3 (deregistration) requires no action: a uid simply absent
	// from `seen` keeps its last row, satisfying invariant 4 (§3).
	return s.InsertNewMiners(ctx, toInsert)
}

func (s *Store) currentKeypair(ctx context.Context, minerUID int64) (domain.Miner, bool, error) {
	var m domain.Miner
	err := s.db.QueryRowContext(ctx,
		`SELECT miner_id, miner_uid, coldkey, hotkey, created_at, updated_at
		 FROM miners WHERE miner_uid = $1 ORDER BY updated_at DESC LIMIT 1`,
		minerUID,
	).Scan(&m.MinerID, &m.MinerUID, &m.Coldkey, &m.Hotkey, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Miner{}, false, nil
	}
	if err != nil {
		return domain.Miner{}, false, err
	}
	return m, true, nil
}

// PredictionWithUID pairs a prediction row with its resolved miner_uid,
// for the Scorer (§4.G step 1: "resolve miner_uids that responded").
type PredictionWithUID struct {
	Prediction domain.MinerPrediction
	MinerUID   int64
}

// GetPredictionsForRequest returns every prediction recorded against a
// request, each annotated with its miner's current uid.
func (s *Store) GetPredictionsForRequest(ctx context.Context, requestID int64) ([]PredictionWithUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mp.id, mp.validator_requests_id, mp.miner_id, mp.prediction, mp.format_validation, mp.process_time, m.miner_uid
		 FROM miner_predictions mp
		 JOIN miners m ON m.miner_id = mp.miner_id
		 WHERE mp.validator_requests_id = $1`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("query predictions for request: %w", err)
	}
	defer rows.Close()

	var out []PredictionWithUID
	for rows.Next() {
		var p domain.MinerPrediction
		var predictionJSON []byte
		var uid int64
		if err := rows.Scan(&p.ID, &p.ValidatorRequestID, &p.MinerID, &predictionJSON, &p.FormatValidation, &p.ProcessTime, &uid); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if p.FormatValidation == domain.ValidationCorrect {
			if err := json.Unmarshal(predictionJSON, &p.Prediction); err != nil {
				return nil, fmt.Errorf("unmarshal prediction: %w", err)
			}
		}
		out = append(out, PredictionWithUID{Prediction: p, MinerUID: uid})
	}
	return out, rows.Err()
}

func pqFloatArray(in []*float64) interface{} { return pq.Array(in) }
func pqInt64Array(in []int64) interface{}    { return pq.Array(in) }
func pqUint64Array(in []uint64) interface{}  { return pq.Array(in) }
