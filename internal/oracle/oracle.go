// Package oracle converts reference-currency cents into settlement-currency
// atomic units. The engine treats the rate source as a collaborator: it
// queries a fresh rate inside every transaction and never caches a
// conversion across transactions.
package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateOracle converts an amount of reference-currency cents into settlement
// units at the given instant. Conversions are monotonic in amountCents.
type RateOracle interface {
	Convert(ctx context.Context, amountCents int64, at time.Time) (decimal.Decimal, error)
}

// referenceDecimals is the scale of the engine's internal prices (cents).
const referenceDecimals = 2

// unitsPerNative is the number of settlement atomic units in one native
// coin (wei per ether).
var unitsPerNative = decimal.New(1, 18)

// convertWithAnswer applies a price-feed answer (native coin priced in
// reference currency, scaled by 10^feedDecimals) to an amount of cents and
// floors to whole settlement units.
func convertWithAnswer(amountCents int64, answer decimal.Decimal, feedDecimals int32) decimal.Decimal {
	scale := decimal.New(1, feedDecimals-referenceDecimals)
	return decimal.NewFromInt(amountCents).
		Mul(unitsPerNative).
		Mul(scale).
		Div(answer).
		Floor()
}
