package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foresightnet/voldy/internal/domain"
)

func TestRotateSkippingClosedXAU_SkipsToNextWhenMarketClosed(t *testing.T) {
	assets := []domain.Asset{domain.AssetBTC, domain.AssetETH, domain.AssetXAU, domain.Asset("LTC")}
	// Saturday 10:00 America/New_York is inside the Fri17:00->Sat17:00
	// closed window.
	loc, _ := time.LoadLocation("America/New_York")
	closed := time.Date(2024, 3, 9, 10, 0, 0, 0, loc) // a Saturday

	next := RotateSkippingClosedXAU(domain.AssetETH, assets, closed)
	assert.Equal(t, domain.Asset("LTC"), next)
}

func TestRotateSkippingClosedXAU_KeepsXAUWhenMarketOpen(t *testing.T) {
	assets := []domain.Asset{domain.AssetBTC, domain.AssetETH, domain.AssetXAU, domain.Asset("LTC")}
	loc, _ := time.LoadLocation("America/New_York")
	open := time.Date(2024, 3, 11, 10, 0, 0, 0, loc) // a Monday

	next := RotateSkippingClosedXAU(domain.AssetETH, assets, open)
	assert.Equal(t, domain.AssetXAU, next)
}

func TestXAUClosed_Boundaries(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	assert.True(t, XAUClosed(time.Date(2024, 3, 8, 17, 0, 0, 0, loc)))  // Fri 17:00
	assert.True(t, XAUClosed(time.Date(2024, 3, 9, 16, 59, 0, 0, loc))) // Sat 16:59
	assert.False(t, XAUClosed(time.Date(2024, 3, 9, 17, 0, 0, 0, loc))) // Sat 17:00
	assert.False(t, XAUClosed(time.Date(2024, 3, 8, 16, 59, 0, 0, loc)))
}

func TestRotate_UnknownLastPicksFirst(t *testing.T) {
	assets := []domain.Asset{domain.AssetBTC, domain.AssetETH, domain.AssetXAU, domain.AssetSOL}
	assert.Equal(t, domain.AssetBTC, Rotate(domain.Asset("UNKNOWN"), assets))
}
