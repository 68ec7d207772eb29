// Package pricing implements the dutch-auction price curve: a linear
// interpolation between a listing's start and end price across its sale
// window. All arithmetic is in integer cents with truncation toward zero,
// so a quote at a given instant is reproducible bit-for-bit.
package pricing

import (
	"time"

	"github.com/caskworks/barrelex/pkg/models"
)

// UnitPrice returns the price in cents of one unit of the listing at the
// given instant. Instants outside the sale window quote the boundary price;
// a zero-length window quotes the start price for all instants. Ascending
// and descending curves share the same path.
func UnitPrice(listing *models.Listing, at time.Time) int64 {
	start := listing.WindowStart.Unix()
	end := listing.WindowEnd.Unix()
	if end <= start {
		return listing.StartPriceCents
	}

	t := clamp(at.Unix(), start, end)
	// Integer division truncates toward zero, which is the defined
	// rounding rule for quotes.
	price := listing.StartPriceCents +
		(t-start)*(listing.EndPriceCents-listing.StartPriceCents)/(end-start)

	lo, hi := listing.StartPriceCents, listing.EndPriceCents
	if lo > hi {
		lo, hi = hi, lo
	}
	return clamp(price, lo, hi)
}

// GrossAmount returns the fee in cents and the gross charge in cents for
// purchasing quantity units at unitPrice with the given fee rate. The fee
// is floor(unitPrice * quantity * feeBps / 10000).
func GrossAmount(unitPrice, quantity, feeBps int64) (feeCents, grossCents int64) {
	feeCents = unitPrice * quantity * feeBps / 10000
	grossCents = unitPrice*quantity + feeCents
	return feeCents, grossCents
}

// BuybackAmount returns the buy-back payout in cents for returning quantity
// units at unitPrice with the given buy-back rate.
func BuybackAmount(unitPrice, quantity, buybackBps int64) int64 {
	return unitPrice * quantity * buybackBps / 10000
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
