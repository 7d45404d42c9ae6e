// Package validate holds the pure response-validator function (§4.D):
// given one miner's response and the request it answers, decide whether
// it is usable. Grounded on the teacher's preference for small, stateless
// validators (x/oracle/types/validation.go-style functions that return a
// diagnostic string, not a receiver method).
package validate

import (
	"fmt"
	"math"

	"github.com/foresightnet/voldy/internal/domain"
)

// MaxNonDecimalDigits bounds a predicted price's integer-part precision
// (§4.D: "at most 8 non-decimal digits of precision").
const MaxNonDecimalDigits = 8

// Response is the decoded miner payload the validator inspects.
type Response struct {
	StartUnix     int64
	TimeIncrement int64
	Paths         [][]float64
}

// Check runs the full §4.D policy and returns "CORRECT" or a diagnostic.
func Check(resp *Response, processTime *float64, input domain.SimulationInput, requestTime func() int64) string {
	if processTime == nil {
		return "time out or internal server error"
	}

	requestUnix := requestTime()
	if float64(requestUnix)+*processTime > float64(input.StartTime.Unix()) {
		return "Response received after the simulation start time, discarding"
	}

	if resp == nil {
		return "time out or internal server error"
	}

	if resp.StartUnix != input.StartTime.Unix() {
		return fmt.Sprintf("start time mismatch: got %d want %d", resp.StartUnix, input.StartTime.Unix())
	}
	if resp.TimeIncrement != input.TimeIncrement {
		return fmt.Sprintf("time increment mismatch: got %d want %d", resp.TimeIncrement, input.TimeIncrement)
	}

	if len(resp.Paths) != input.NumSimulations {
		return fmt.Sprintf("expected %d simulation paths, got %d", input.NumSimulations, len(resp.Paths))
	}

	wantSteps := int(input.TimeLength/input.TimeIncrement) + 1
	for i, path := range resp.Paths {
		if len(path) != wantSteps {
			return fmt.Sprintf("path %d has %d steps, want %d", i, len(path), wantSteps)
		}
		for _, price := range path {
			if !withinPrecision(price, MaxNonDecimalDigits) {
				return fmt.Sprintf("path %d contains a value exceeding %d non-decimal digits of precision", i, MaxNonDecimalDigits)
			}
		}
	}

	return domain.ValidationCorrect
}

func withinPrecision(v float64, maxDigits int) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	integerPart := math.Trunc(math.Abs(v))
	if integerPart == 0 {
		return true
	}
	digits := int(math.Floor(math.Log10(integerPart))) + 1
	return digits <= maxDigits
}
