package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caskworks/barrelex/pkg/errors"
)

// Fixed is a RateOracle with a constant price-feed answer. Used for local
// runs and tests in place of a live feed.
type Fixed struct {
	answer       decimal.Decimal
	feedDecimals int32
}

var _ RateOracle = (*Fixed)(nil)

// NewFixed creates a fixed oracle from a feed answer (native coin priced in
// reference currency, scaled by 10^feedDecimals).
func NewFixed(answer int64, feedDecimals int32) *Fixed {
	return &Fixed{
		answer:       decimal.NewFromInt(answer),
		feedDecimals: feedDecimals,
	}
}

// Convert converts cents to settlement units at the fixed rate.
func (f *Fixed) Convert(_ context.Context, amountCents int64, _ time.Time) (decimal.Decimal, error) {
	if amountCents < 0 {
		return decimal.Zero, errors.New("amount must not be negative")
	}
	if !f.answer.IsPositive() {
		return decimal.Zero, errors.New("fixed oracle rate must be positive")
	}
	return convertWithAnswer(amountCents, f.answer, f.feedDecimals), nil
}
