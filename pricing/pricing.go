// Package pricing validates oracle quotes and converts the fixed USD ticket
// price into native units.
package pricing

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/fixedpoint"
)

const (
	// StalenessSeconds is the maximum accepted quote age.
	StalenessSeconds = 120
	// MaxConfidencePct bounds conf relative to |price|, in percent.
	MaxConfidencePct = 5
	// TicketUSD is the whole-dollar ticket price.
	TicketUSD = 5
	// UnitsPerWhole is the number of native units in one whole coin.
	UnitsPerWhole = 1_000_000_000
)

var (
	ErrPriceFeed         = errors.New("price feed unavailable or invalid")
	ErrPriceStale        = errors.New("price feed is stale")
	ErrConfidenceTooWide = errors.New("price confidence interval too wide")
)

// Quote is an oracle reading: value = Price * 10^Expo, with Conf in the same
// scale.
type Quote struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime int64
}

// Validate rejects quotes older than StalenessSeconds at nowUnix and quotes
// whose confidence exceeds MaxConfidencePct of |price|. A publish time in the
// future counts as age zero.
func Validate(q Quote, nowUnix int64) error {
	if age := nowUnix - q.PublishTime; age > StalenessSeconds {
		return fmt.Errorf("%w: age %ds", ErrPriceStale, age)
	}
	absPrice := uint64(q.Price)
	if q.Price < 0 {
		absPrice = uint64(-(q.Price + 1)) + 1
	}
	lhs, err := fixedpoint.From64(q.Conf).Mul64(100)
	if err != nil {
		return err
	}
	rhs, err := fixedpoint.From64(absPrice).Mul64(MaxConfidencePct)
	if err != nil {
		return err
	}
	if lhs.Cmp(rhs) > 0 {
		return fmt.Errorf("%w: conf %d price %d", ErrConfidenceTooWide, q.Conf, q.Price)
	}
	return nil
}

// UnitsForUSDCeil converts whole dollars into native units, rounding up so a
// payer never underpays by a fraction of a unit.
func UnitsForUSDCeil(usd uint64, price int64, expo int32) (uint64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %d", ErrPriceFeed, price)
	}
	numer, err := fixedpoint.From64(usd).Mul64(UnitsPerWhole)
	if err != nil {
		return 0, err
	}
	denom := fixedpoint.From64(uint64(price))

	switch {
	case expo < 0:
		scale, err := fixedpoint.Pow10(uint32(-int64(expo)))
		if err != nil {
			return 0, err
		}
		if numer, err = numer.Mul(scale); err != nil {
			return 0, err
		}
	case expo > 0:
		scale, err := fixedpoint.Pow10(uint32(expo))
		if err != nil {
			return 0, err
		}
		if denom, err = denom.Mul(scale); err != nil {
			return 0, err
		}
	}

	units, err := numer.CeilDiv(denom)
	if err != nil {
		return 0, err
	}
	return units.Uint64()
}

// MinimumTicket validates q and returns the larger of the USD-derived minimum
// and the configured floor.
func MinimumTicket(q Quote, nowUnix int64, floor uint64) (uint64, error) {
	if err := Validate(q, nowUnix); err != nil {
		return 0, err
	}
	usdMin, err := UnitsForUSDCeil(TicketUSD, q.Price, q.Expo)
	if err != nil {
		return 0, err
	}
	return max(usdMin, floor), nil
}
