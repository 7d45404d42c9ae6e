// Package prices implements the Price Provider (§4.E): fetches realized
// prices for an (asset, start, length, increment) window from the
// external REST service and rebuilds a regular grid with explicit gaps.
// The rolling rate limiter is grounded on golang.org/x/time/rate, the
// library the teacher uses in api/middleware.go and p2p/security for
// per-caller limiting.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cosmossdk.io/log"
	"golang.org/x/time/rate"

	"github.com/foresightnet/voldy/internal/config"
	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/retry"
)

// rawHistory is the external endpoint's response shape (§6).
type rawHistory struct {
	T []int64   `json:"t"`
	C []float64 `json:"c"`
}

// Provider fetches realized price grids over HTTP.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     log.Logger
	policy     retry.Policy
	backtest   bool
}

// New builds a Provider. calls/period configure a token-bucket limiter
// (burst of calls, refilled at calls per period) shared by every Fetch on
// this Provider; it is not a rolling window of past call timestamps, so
// up to twice calls requests can start within one period. The live path
// issues one request per score cycle and rarely waits on the limiter.
func New(baseURL string, calls int, period time.Duration, logger log.Logger) *Provider {
	return &Provider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(calls)/period.Seconds()), calls),
		logger:     logger,
		policy:     retry.DefaultPricePolicy(),
	}
}

// Symbol resolves an asset to the provider's symbol, honoring the
// backtest-path XAU override (§6).
func (p *Provider) Symbol(asset domain.Asset) string {
	if asset == domain.AssetXAU && p.backtest {
		return config.PriceSymbolXAUBacktest
	}
	return config.PriceSymbols[asset]
}

// UseBacktestSymbols switches XAU lookups to the crypto-tracked proxy
// feed (§6, backtest path).
func (p *Provider) UseBacktestSymbols(v bool) { p.backtest = v }

// Fetch returns a regular grid of length timeLength/timeIncrement+1, with
// nil entries marking gaps, or an error if every retry failed.
func (p *Provider) Fetch(ctx context.Context, asset domain.Asset, start time.Time, timeLength, timeIncrement int64) ([]*float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("price rate limiter: %w", err)
	}

	numSteps := int(timeLength/timeIncrement) + 1
	from := start.Unix()
	to := from + timeLength

	var raw rawHistory
	err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		r, err := p.fetchOnce(ctx, asset, from, to)
		if err != nil {
			return err
		}
		raw = r
		return nil
	})
	if err != nil {
		p.logger.Error("price fetch exhausted retries", "asset", asset, "error", err)
		return nil, fmt.Errorf("fetch realized prices: %w", err)
	}

	return rebuildGrid(raw, from, timeIncrement, numSteps)
}

func (p *Provider) fetchOnce(ctx context.Context, asset domain.Asset, from, to int64) (rawHistory, error) {
	u, err := url.Parse(p.baseURL + "/history")
	if err != nil {
		return rawHistory{}, retry.Permanent{Err: err}
	}
	q := u.Query()
	q.Set("symbol", p.Symbol(asset))
	q.Set("resolution", "1")
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return rawHistory{}, retry.Permanent{Err: err}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return rawHistory{}, fmt.Errorf("price provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rawHistory{}, fmt.Errorf("price provider returned status %d", resp.StatusCode)
	}

	var raw rawHistory
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return rawHistory{}, fmt.Errorf("decode price provider response: %w", err)
	}
	return raw, nil
}

// rebuildGrid rebuilds the regular grid by exact timestamp match (§4.E).
// A response exactly one sample longer than expected has its out-of-range
// edge (leading or trailing) dropped; any other length mismatch yields a
// full-length grid of nil (all-gap) entries.
func rebuildGrid(raw rawHistory, from, increment int64, numSteps int) ([]*float64, error) {
	if len(raw.T) != len(raw.C) {
		return nil, fmt.Errorf("price provider returned mismatched t/c lengths")
	}

	t, c := raw.T, raw.C
	if len(t) == numSteps+1 {
		if len(t) > 0 && t[0] < from {
			t, c = t[1:], c[1:]
		} else if len(t) > 0 && t[len(t)-1] > from+increment*int64(numSteps-1) {
			t, c = t[:len(t)-1], c[:len(c)-1]
		}
	}
	if len(t) != numSteps {
		return make([]*float64, numSteps), nil
	}

	byTimestamp := make(map[int64]float64, len(t))
	for i, ts := range t {
		byTimestamp[ts] = c[i]
	}

	grid := make([]*float64, numSteps)
	for i := 0; i < numSteps; i++ {
		ts := from + int64(i)*increment
		if v, ok := byTimestamp[ts]; ok {
			val := v
			grid[i] = &val
		}
	}
	return grid, nil
}
