package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit("Perhaps it is too soon to commit weights"))
	assert.True(t, IsRateLimit("error: Perhaps it is too soon to commit weights, try later"))
	assert.False(t, IsRateLimit("invalid signature"))
	assert.False(t, IsRateLimit(""))
}
