// Package domain holds the value types shared across the validator's
// components: requests, predictions, scores, rewards, and the chain-facing
// envelopes. Nothing here has behavior beyond simple derived accessors.
package domain

import "time"

// Asset is one of the four forecast markets the validator scores.
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
	AssetXAU Asset = "XAU"
	AssetSOL Asset = "SOL"
)

// Horizon selects which of the two scoring regimes a request belongs to.
type Horizon string

const (
	HorizonLow  Horizon = "low"
	HorizonHigh Horizon = "high"
)

// ValidationCorrect is the literal response-validator success string.
const ValidationCorrect = "CORRECT"

// Miner is one row of the canonical miner_uid -> miner_id mapping. A uid
// re-registering with a new keypair produces a new row; the row with the
// latest UpdatedAt for a given uid is canonical.
type Miner struct {
	MinerID   int64
	MinerUID  int64
	Coldkey   string
	Hotkey    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidatorRequest is one forward-prompt fan-out: the prediction window it
// asked miners to forecast, and (once scored) the realized price grid.
type ValidatorRequest struct {
	ID             int64
	StartTime      time.Time
	Asset          Asset
	TimeIncrement  int64 // seconds
	TimeLength     int64 // seconds
	NumSimulations int
	RequestTime    time.Time
	RealPrices     []*float64 // nil entries are gap markers; nil slice = unscored
}

// NumSteps is the number of grid points real_prices / any prediction path
// carries: time_length/time_increment + 1.
func (r ValidatorRequest) NumSteps() int {
	return int(r.TimeLength/r.TimeIncrement) + 1
}

// Horizon derives low/high from the request's time_length, matching the
// two configured cycles (§6 Configuration); callers needing the full
// config should resolve via internal/config instead of guessing.
func (r ValidatorRequest) Horizon(lowTimeLength int64) Horizon {
	if r.TimeLength == lowTimeLength {
		return HorizonLow
	}
	return HorizonHigh
}

// MinerPrediction is one miner's ensemble response to a ValidatorRequest,
// or an empty one annotated with why it was rejected.
type MinerPrediction struct {
	ID                 int64
	ValidatorRequestID int64
	MinerID            int64
	Prediction         [][]float64 // M paths of T steps each; nil iff FormatValidation != CORRECT
	FormatValidation   string
	ProcessTime        *float64 // seconds; nil if the miner never answered
}

// MinerScore is the upserted per-prediction score. Re-scoring the same
// prediction overwrites this row (unique on MinerPredictionID).
type MinerScore struct {
	ID                int64
	MinerPredictionID int64
	ScoredTime        time.Time
	PromptScoreV3     float64
	ScoreDetailsV3    ScoreDetails
}

// ScoreDetails is the JSON document persisted alongside PromptScoreV3.
type ScoreDetails struct {
	TotalCRPS     float64         `json:"total_crps"`
	Percentile90  float64         `json:"percentile90"`
	LowestScore   float64         `json:"lowest_score"`
	PromptScoreV3 float64         `json:"prompt_score_v3"`
	CRPSData      []CRPSDataPoint `json:"crps_data"`
}

// CRPSDataPoint is one scored position within one scoring interval.
type CRPSDataPoint struct {
	Interval  string  `json:"interval"`
	Increment int     `json:"increment"`
	CRPS      float64 `json:"crps"`
}

// MinerReward is one row of the append-only per-cycle weighting output.
type MinerReward struct {
	ID            int64
	MinerID       int64
	SmoothedScore float64
	RewardWeight  float64
	PromptName    Horizon
	UpdatedAt     time.Time
}

// MetagraphSnapshot is one append-only per-uid chain-state observation.
// JSON tags match the chain node's metagraph.snapshot() field names;
// RecordedAt is stamped locally, not decoded from the response.
type MetagraphSnapshot struct {
	UID          int64     `json:"uid"`
	Incentive    float64   `json:"incentive"`
	Rank         float64   `json:"rank"`
	Stake        float64   `json:"stake"`
	Trust        float64   `json:"trust"`
	Emission     float64   `json:"emission"`
	PruningScore float64   `json:"pruning_score"`
	IP           string    `json:"ip"`
	Port         int       `json:"port"`
	Hotkey       string    `json:"hotkey"`
	Coldkey      string    `json:"coldkey"`
	RecordedAt   time.Time `json:"-"`
}

// WeightsUpdateRecord is one append-only submission attempt.
type WeightsUpdateRecord struct {
	ID             int64
	RawUIDs        []int64
	RawWeights     []float64
	NormalizedUIDs []uint64
	NormalizedWts  []uint64
	OK             bool
	Message        string
	SubmittedAt    time.Time
}

// ScoringInterval is one named interval in a PromptConfig's scoring table.
// The label suffix selects the CRPS transform: no suffix => relative bps,
// "_abs" => absolute price, "_gap" => cumulative-from-start bps.
type ScoringInterval struct {
	Label           string
	IntervalSeconds int64
}

// AxonDescriptor is a miner endpoint the transport fans out to.
type AxonDescriptor struct {
	MinerUID int64
	IP       string
	Port     int
	Hotkey   string
}

// DendriteEnvelope identifies the calling validator in a fan-out request.
type DendriteEnvelope struct {
	IP        string `json:"ip"`
	Version   int    `json:"version"`
	Nonce     int64  `json:"nonce"`
	UUID      string `json:"uuid"`
	Hotkey    string `json:"hotkey"`
	Signature string `json:"signature"`
}

// AxonEnvelope identifies the target miner in a fan-out request.
type AxonEnvelope struct {
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	Hotkey string `json:"hotkey"`
}

// SimulationInput is the payload every axon in one fan-out receives.
type SimulationInput struct {
	StartTime      time.Time `json:"start_time"`
	Asset          Asset     `json:"asset"`
	TimeIncrement  int64     `json:"time_increment"`
	TimeLength     int64     `json:"time_length"`
	NumSimulations int       `json:"num_simulations"`
}
