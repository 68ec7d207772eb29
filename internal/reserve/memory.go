package reserve

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/caskworks/barrelex/pkg/errors"
)

// Memory is an in-process YieldReserve for local runs and tests. It can be
// seeded with funds and accrue simulated yield.
type Memory struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

var _ YieldReserve = (*Memory)(nil)

// NewMemory creates a reserve seeded with the given balance.
func NewMemory(seed decimal.Decimal) *Memory {
	return &Memory{balance: seed}
}

func (m *Memory) Deposit(_ context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("deposit amount must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = m.balance.Add(amount)
	return nil
}

func (m *Memory) Withdraw(_ context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("withdrawal amount must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balance.LessThan(amount) {
		return errors.ReserveInsufficient.Explain("reserve holds %s, need %s", m.balance, amount)
	}
	m.balance = m.balance.Sub(amount)
	return nil
}

func (m *Memory) Balance(_ context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

// Accrue adds simulated yield at the given rate (0.05 grows the reserve by
// five percent), flooring to whole settlement units.
func (m *Memory) Accrue(rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = m.balance.Add(m.balance.Mul(rate).Floor())
}
