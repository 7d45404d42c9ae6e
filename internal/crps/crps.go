// Package crps computes the Continuous Ranked Probability Score
// decomposition over a predicted ensemble and a realized price grid, per
// interval, handling gaps, absolute-vs-relative intervals, and
// cumulative-gap intervals. This is the validator's novel numerical core
// (synth/validator/crps_calculation.py in the original source); it has no
// direct teacher analogue, so it is built straight from the algorithm
// rather than adapted from a teacher file — see DESIGN.md.
package crps

import (
	"math"

	"github.com/foresightnet/voldy/internal/domain"
)

// Sentinel is the score returned when any simulated price is zero, or
// when a request's simulations can't be scored at all (§4.F, §4.G).
const Sentinel = -1.0

// Result is the engine's output for one request/miner pair.
type Result struct {
	Total       float64
	PerInterval map[string]float64
	Points      []domain.CRPSDataPoint
}

// intervalKind distinguishes the three label-suffix transforms (§4.F).
type intervalKind int

const (
	kindPlain intervalKind = iota
	kindAbs
	kindGap
)

func classify(label string) intervalKind {
	if hasSuffix(label, "_abs") {
		return kindAbs
	}
	if hasSuffix(label, "_gap") {
		return kindGap
	}
	return kindPlain
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// Compute scores one miner's ensemble against the realized grid. real may
// contain NaN gap markers. simulations is M paths of T steps; every path
// must have the same length as real.
func Compute(simulations [][]float64, real []float64, timeIncrement int64, intervals []domain.ScoringInterval) Result {
	for _, path := range simulations {
		for _, p := range path {
			if p == 0 {
				return Result{Total: Sentinel, PerInterval: map[string]float64{}}
			}
		}
	}

	T := len(real)
	perInterval := make(map[string]float64, len(intervals))
	var points []domain.CRPSDataPoint
	total := 0.0

	for _, iv := range intervals {
		kind := classify(iv.Label)
		k := int(iv.IntervalSeconds / timeIncrement)
		if k < 1 {
			k = 1
		}

		if kind == kindAbs {
			if T-1 < 1 {
				perInterval[iv.Label] = 0
				continue
			}
			if k > T-1 {
				k = T - 1
			}
		}

		sum, pts := scoreInterval(iv.Label, kind, k, simulations, real)
		perInterval[iv.Label] = sum
		points = append(points, pts...)
		total += sum
	}

	if math.IsNaN(total) || math.IsInf(total, 0) {
		return Result{Total: math.NaN(), PerInterval: perInterval, Points: points}
	}
	return Result{Total: total, PerInterval: perInterval, Points: points}
}

// scoreInterval transforms simulations/real for one interval and sums the
// CRPS of every non-gap position.
func scoreInterval(label string, kind intervalKind, k int, simulations [][]float64, real []float64) (float64, []domain.CRPSDataPoint) {
	T := len(real)
	lastReal := real[T-1]

	var numPoints int
	switch kind {
	case kindGap:
		if k > T-1 {
			return 0, nil
		}
		numPoints = 1
	case kindAbs:
		numPoints = (T - 1) / k
	default:
		numPoints = (T - 1) / k
	}
	if numPoints <= 0 {
		return 0, nil
	}

	sum := 0.0
	var pts []domain.CRPSDataPoint

	for i := 0; i < numPoints; i++ {
		var obs float64
		var gap bool
		var forecasts []float64
		var rescale bool

		switch kind {
		case kindAbs:
			idx := k * (i + 1)
			obs = real[idx]
			gap = math.IsNaN(obs)
			forecasts = make([]float64, len(simulations))
			for m, path := range simulations {
				forecasts[m] = path[idx]
			}
			rescale = true
		default: // plain and gap share the relative-change transform
			lo := i * k
			hi := lo + k
			a, b := real[lo], real[hi]
			gap = math.IsNaN(a) || math.IsNaN(b)
			if !gap {
				obs = (b - a) / a * 10000
			}
			forecasts = make([]float64, len(simulations))
			for m, path := range simulations {
				forecasts[m] = (path[hi] - path[lo]) / path[lo] * 10000
			}
		}

		if gap {
			continue
		}

		crps := crpsEnsemble(obs, forecasts)
		if rescale {
			crps = crps / lastReal * 10000
		}
		sum += crps
		pts = append(pts, domain.CRPSDataPoint{Interval: label, Increment: (i + 1) * k, CRPS: crps})
	}

	return sum, pts
}

// crpsEnsemble is the standard ensemble CRPS (Glossary):
// CRPS = (1/M) Σ|xᵢ−y| − (1/(2M²)) ΣΣ|xᵢ−xⱼ|.
func crpsEnsemble(obs float64, forecasts []float64) float64 {
	m := len(forecasts)
	term1 := 0.0
	for _, x := range forecasts {
		term1 += math.Abs(x - obs)
	}
	term1 /= float64(m)

	term2 := 0.0
	for i := range forecasts {
		for j := range forecasts {
			term2 += math.Abs(forecasts[i] - forecasts[j])
		}
	}
	term2 /= 2 * float64(m) * float64(m)

	return term1 - term2
}
