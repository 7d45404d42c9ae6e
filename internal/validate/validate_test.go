package validate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foresightnet/voldy/internal/domain"
	"github.com/foresightnet/voldy/internal/validate"
)

func baseInput(start time.Time) domain.SimulationInput {
	return domain.SimulationInput{
		StartTime:      start,
		Asset:          domain.AssetBTC,
		TimeIncrement:  300,
		TimeLength:     900,
		NumSimulations: 2,
	}
}

func TestCheck_ProcessTimeAbsent(t *testing.T) {
	input := baseInput(time.Unix(2000, 0))
	got := validate.Check(nil, nil, input, func() int64 { return 1000 })
	assert.Equal(t, "time out or internal server error", got)
}

func TestCheck_ReceivedAfterStart(t *testing.T) {
	start := time.Unix(1000, 0)
	input := baseInput(start)
	pt := 10.0
	got := validate.Check(&validate.Response{StartUnix: 1000, TimeIncrement: 300, Paths: [][]float64{{1, 2, 3, 4}, {1, 2, 3, 4}}}, &pt, input, func() int64 { return 1000 })
	assert.Contains(t, got, "Response received after the simulation start time")
}

func TestCheck_Correct(t *testing.T) {
	start := time.Unix(10000, 0)
	input := baseInput(start)
	pt := 1.0
	paths := [][]float64{{1, 2, 3, 4}, {1, 2, 3, 4}}
	got := validate.Check(&validate.Response{StartUnix: 10000, TimeIncrement: 300, Paths: paths}, &pt, input, func() int64 { return 1000 })
	assert.Equal(t, domain.ValidationCorrect, got)
}

func TestCheck_WrongPathCount(t *testing.T) {
	start := time.Unix(10000, 0)
	input := baseInput(start)
	pt := 1.0
	paths := [][]float64{{1, 2, 3, 4}}
	got := validate.Check(&validate.Response{StartUnix: 10000, TimeIncrement: 300, Paths: paths}, &pt, input, func() int64 { return 1000 })
	assert.Contains(t, got, "expected 2 simulation paths")
}

func TestCheck_Idempotent(t *testing.T) {
	start := time.Unix(10000, 0)
	input := baseInput(start)
	pt := 1.0
	resp := &validate.Response{StartUnix: 10000, TimeIncrement: 300, Paths: [][]float64{{1, 2, 3, 4}, {1, 2, 3, 4}}}
	first := validate.Check(resp, &pt, input, func() int64 { return 1000 })
	second := validate.Check(resp, &pt, input, func() int64 { return 1000 })
	assert.Equal(t, first, second)
}
