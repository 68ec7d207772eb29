// Package reserve holds the protocol's fee escrow. The engine deposits the
// fee portion of every purchase here and withdraws buy-back payouts; the
// reserve collaborator owns principal tracking and yield accrual.
package reserve

import (
	"context"

	"github.com/shopspring/decimal"
)

// YieldReserve accepts fee deposits and releases funds on demand. Withdraw
// fails with ReserveInsufficient when the reserve cannot cover the amount.
type YieldReserve interface {
	Deposit(ctx context.Context, amount decimal.Decimal) error
	Withdraw(ctx context.Context, amount decimal.Decimal) error
	Balance(ctx context.Context) (decimal.Decimal, error)
}
