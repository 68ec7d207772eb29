package reserve

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caskworks/barrelex/pkg/errors"
)

func TestMemoryDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(decimal.Zero)

	require.NoError(t, m.Deposit(ctx, decimal.NewFromInt(1000)))
	require.NoError(t, m.Withdraw(ctx, decimal.NewFromInt(400)))

	balance, err := m.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(600).Equal(balance))

	err = m.Withdraw(ctx, decimal.NewFromInt(601))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ReserveInsufficient))

	// The failed withdrawal left the balance alone.
	balance, _ = m.Balance(ctx)
	assert.True(t, decimal.NewFromInt(600).Equal(balance))
}

func TestMemoryAccrue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(decimal.NewFromInt(1000))

	m.Accrue(decimal.NewFromFloat(0.05))

	balance, err := m.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1050).Equal(balance), "got %s", balance)
}
