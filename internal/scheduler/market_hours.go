package scheduler

import (
	"time"

	"github.com/foresightnet/voldy/internal/domain"
)

// nyLocation is loaded once; America/New_York observes DST, so the
// closed-window check always compares against local wall-clock hours.
var nyLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// XAUClosed reports whether t falls inside the metals-market closed
// window: Friday 17:00 America/New_York through Saturday 17:00
// America/New_York (§4.I step 3, §6).
func XAUClosed(t time.Time) bool {
	local := t.In(nyLocation)
	weekday := local.Weekday()
	hour := local.Hour()

	switch weekday {
	case time.Friday:
		return hour >= 17
	case time.Saturday:
		return hour < 17
	default:
		return false
	}
}

// Rotate advances from last to the next asset in order, wrapping around;
// an unknown last picks the first asset (§4.I step 3).
func Rotate(last domain.Asset, assets []domain.Asset) domain.Asset {
	if len(assets) == 0 {
		return last
	}
	for i, a := range assets {
		if a == last {
			return assets[(i+1)%len(assets)]
		}
	}
	return assets[0]
}

// RotateSkippingClosedXAU rotates once, then rotates again if the result
// is XAU and futureStart falls inside the closed window (§4.I step 3).
func RotateSkippingClosedXAU(last domain.Asset, assets []domain.Asset, futureStart time.Time) domain.Asset {
	next := Rotate(last, assets)
	if next == domain.AssetXAU && XAUClosed(futureStart) {
		next = Rotate(next, assets)
	}
	return next
}
