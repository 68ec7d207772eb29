package reserve

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/caskworks/barrelex/pkg/errors"
)

// wethGatewayABI is the deposit/withdraw surface of Aave's WETH gateway.
const wethGatewayABI = `[
	{"inputs":[{"internalType":"address","name":"lendingPool","type":"address"},{"internalType":"address","name":"onBehalfOf","type":"address"},{"internalType":"uint16","name":"referralCode","type":"uint16"}],"name":"depositETH","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"address","name":"lendingPool","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"address","name":"to","type":"address"}],"name":"withdrawETH","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// aTokenABI is the balance surface of the interest-bearing aWETH token.
const aTokenABI = `[
	{"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// Backend is the subset of an ethclient used by the gateway adapter.
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.ContractFilterer
}

// AaveGateway deposits fee escrow into an Aave lending pool through the
// WETH gateway and reads the accrued balance from the aWETH token.
type AaveGateway struct {
	gateway     *bind.BoundContract
	aToken      *bind.BoundContract
	lendingPool common.Address
	opts        *bind.TransactOpts
}

var _ YieldReserve = (*AaveGateway)(nil)

// NewAaveGateway binds the WETH gateway and aWETH token contracts. opts
// carries the depositor identity and signer.
func NewAaveGateway(backend Backend, gateway, aToken, lendingPool common.Address, opts *bind.TransactOpts) (*AaveGateway, error) {
	gatewayABI, err := abi.JSON(strings.NewReader(wethGatewayABI))
	if err != nil {
		return nil, errors.Wrap(err).Explain("parse gateway ABI")
	}
	tokenABI, err := abi.JSON(strings.NewReader(aTokenABI))
	if err != nil {
		return nil, errors.Wrap(err).Explain("parse aToken ABI")
	}
	return &AaveGateway{
		gateway:     bind.NewBoundContract(gateway, gatewayABI, backend, backend, backend),
		aToken:      bind.NewBoundContract(aToken, tokenABI, backend, backend, backend),
		lendingPool: lendingPool,
		opts:        opts,
	}, nil
}

func (g *AaveGateway) Deposit(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("deposit amount must not be negative")
	}
	opts := *g.opts
	opts.Context = ctx
	opts.Value = amount.BigInt()
	if _, err := g.gateway.Transact(&opts, "depositETH", g.lendingPool, g.opts.From, uint16(0)); err != nil {
		return errors.Wrap(err).Explain("deposit into gateway")
	}
	return nil
}

func (g *AaveGateway) Withdraw(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("withdrawal amount must not be negative")
	}
	balance, err := g.Balance(ctx)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return errors.ReserveInsufficient.Explain("reserve holds %s, need %s", balance, amount)
	}
	opts := *g.opts
	opts.Context = ctx
	if _, err := g.gateway.Transact(&opts, "withdrawETH", g.lendingPool, amount.BigInt(), g.opts.From); err != nil {
		return errors.Wrap(err).Explain("withdraw from gateway")
	}
	return nil
}

func (g *AaveGateway) Balance(ctx context.Context) (decimal.Decimal, error) {
	var out []interface{}
	if err := g.aToken.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", g.opts.From); err != nil {
		return decimal.Zero, errors.Wrap(err).Explain("query aToken balance")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, errors.New("unexpected balance type from aToken")
	}
	return decimal.NewFromBigInt(balance, 0), nil
}
