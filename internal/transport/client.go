package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/telemetry"
)

// ErrorStatus classifies a fan-out failure the way §4.C's table does.
// The original exception never crosses the call boundary: only the
// classified status and a human message do.
type ErrorStatus int

const (
	StatusOK ErrorStatus = 200
	// StatusBadRequest covers payload, unsupported-protocol, and
	// decoding failures (§4.C: 400).
	StatusBadRequest ErrorStatus = 400
	// StatusTimeout covers a call exceeding its wall-clock timeout, or a
	// read/pool timeout (§4.C: 408).
	StatusTimeout ErrorStatus = 408
	// StatusBadGateway is the §4.C protocol-error code (502); it reaches a
	// CallResult only when a miner itself answers with status 502.
	StatusBadGateway ErrorStatus = 502
	// StatusServerError is the generic client failure bucket (§4.C: 500).
	StatusServerError ErrorStatus = 500
	// StatusUnavailable covers disconnects and connect failures, and
	// read/pool timeouts that present as connection resets (§4.C: 503).
	StatusUnavailable ErrorStatus = 503
	// StatusGatewayTimeout covers a server-side timeout (§4.C: 504).
	StatusGatewayTimeout ErrorStatus = 504
)

// CallResult is one axon's fan-out outcome.
type CallResult struct {
	MinerUID      int64
	SimulationOut []interface{} // (start_ts, time_increment, path1, path2, ...) or nil
	ProcessTime   *float64
	Status        ErrorStatus
	Message       string
}

// Client performs the signed fan-out (§4.C) over one shared HTTP
// transport; see NewClient for which protocol version is used.
type Client struct {
	signer     *Signer
	externalIP string
	pool       *http.Client
	logger     log.Logger
	metrics    *telemetry.Metrics
	nprocs     int
}

// NewClient builds a Client with a shared transport, keep-alive pool
// capped at poolSize (§4.C: "≤ 25"). http2.ConfigureTransport enables
// HTTP/2 only for TLS connections; the plain http:// axon URLs built in
// callOne are sent over HTTP/1.1. nprocs shards the axon list across
// that many logical workers (goroutine groups standing in for separate
// worker processes).
func NewClient(signer *Signer, externalIP string, poolSize, nprocs int, logger log.Logger, metrics *telemetry.Metrics) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return &Client{
		signer:     signer,
		externalIP: externalIP,
		pool:       &http.Client{Transport: transport},
		logger:     logger,
		metrics:    metrics,
		nprocs:     nprocs,
	}, nil
}

// FanOut queries every axon with a shared nonce/uuid within one deadline,
// sharding the axon list across c.nprocs worker groups (§4.C, §5).
func (c *Client) FanOut(ctx context.Context, axons []domain.AxonDescriptor, input domain.SimulationInput, perCallTimeout time.Duration) []CallResult {
	nonce := time.Now().UnixNano()
	requestUUID := uuid.NewString()

	results := make([]CallResult, len(axons))
	shards := shard(axons, c.nprocs)

	var wg sync.WaitGroup
	for _, shardAxons := range shards {
		shardAxons := shardAxons
		wg.Add(1)
		go func() {
			defer wg.Done()
			var inner sync.WaitGroup
			for _, ax := range shardAxons {
				ax := ax
				inner.Add(1)
				go func() {
					defer inner.Done()
					idx := indexOf(axons, ax)
					results[idx] = c.callOne(ctx, ax, input, nonce, requestUUID, perCallTimeout)
				}()
			}
			inner.Wait()
		}()
	}
	wg.Wait()

	return results
}

func shard(axons []domain.AxonDescriptor, nprocs int) [][]domain.AxonDescriptor {
	if nprocs < 1 {
		nprocs = 1
	}
	shards := make([][]domain.AxonDescriptor, 0, nprocs)
	chunk := (len(axons) + nprocs - 1) / nprocs
	if chunk == 0 {
		chunk = 1
	}
	for i := 0; i < len(axons); i += chunk {
		end := i + chunk
		if end > len(axons) {
			end = len(axons)
		}
		shards = append(shards, axons[i:end])
	}
	return shards
}

func indexOf(axons []domain.AxonDescriptor, target domain.AxonDescriptor) int {
	for i, a := range axons {
		if a.MinerUID == target.MinerUID {
			return i
		}
	}
	return -1
}

func (c *Client) callOne(ctx context.Context, axon domain.AxonDescriptor, input domain.SimulationInput, nonce int64, requestUUID string, timeout time.Duration) CallResult {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ip := axon.IP
	if ip == c.externalIP {
		ip = "0.0.0.0"
	}

	body, bodyHash, signature, err := c.buildBody(input, axon, nonce, requestUUID)
	if err != nil {
		return classified(axon.MinerUID, StatusBadRequest, fmt.Sprintf("failed to build request body: %v", err))
	}

	url := fmt.Sprintf("http://%s:%d/Simulation", ip, axon.Port)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return classified(axon.MinerUID, StatusBadRequest, fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Body-Hash", bodyHash)
	req.Header.Set("Dendrite-Signature", signature)

	resp, err := c.pool.Do(req)
	c.recordLatency(input.Asset, start)
	if err != nil {
		return classified(axon.MinerUID, classifyTransportError(err), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return classified(axon.MinerUID, ErrorStatus(resp.StatusCode), body.Message)
	}

	var decoded struct {
		SimulationOutput []interface{} `json:"simulation_output"`
		ProcessTime      *float64      `json:"process_time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return classified(axon.MinerUID, StatusBadRequest, fmt.Sprintf("failed to decode response: %v", err))
	}

	return CallResult{
		MinerUID:      axon.MinerUID,
		SimulationOut: decoded.SimulationOutput,
		ProcessTime:   decoded.ProcessTime,
		Status:        StatusOK,
	}
}

func (c *Client) buildBody(input domain.SimulationInput, axon domain.AxonDescriptor, nonce int64, requestUUID string) ([]byte, string, string, error) {
	dendrite := domain.DendriteEnvelope{
		IP:      c.externalIP,
		Version: 1,
		Nonce:   nonce,
		UUID:    requestUUID,
		Hotkey:  c.signer.Hotkey(),
	}
	axonEnvelope := domain.AxonEnvelope{IP: axon.IP, Port: axon.Port, Hotkey: axon.Hotkey}

	payload := struct {
		SimulationInput domain.SimulationInput  `json:"simulation_input"`
		Dendrite        domain.DendriteEnvelope `json:"dendrite"`
		Axon            domain.AxonEnvelope     `json:"axon"`
	}{input, dendrite, axonEnvelope}

	unsigned, err := json.Marshal(payload)
	if err != nil {
		return nil, "", "", err
	}
	bodyHash := BodyHash(unsigned)
	signature := c.signer.Sign(nonce, axon.Hotkey, requestUUID, bodyHash)
	dendrite.Signature = signature
	payload.Dendrite = dendrite

	signed, err := json.Marshal(payload)
	if err != nil {
		return nil, "", "", err
	}
	return signed, bodyHash, signature, nil
}

func (c *Client) recordLatency(asset domain.Asset, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.FanoutLatency.WithLabelValues(string(asset)).Observe(time.Since(start).Seconds())
}

func classified(minerUID int64, status ErrorStatus, message string) CallResult {
	return CallResult{MinerUID: minerUID, Status: status, Message: message}
}

// classifyTransportError maps a transport-level Go error onto §4.C's
// table: context deadline or net timeout -> 408, any other *net.OpError
// (connection refused/reset) -> 503, anything else -> 500. Protocol
// errors are not told apart and land in 503 or 500; no error is
// classified as 502 here.
func classifyTransportError(err error) ErrorStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return StatusUnavailable
	}
	return StatusServerError
}
