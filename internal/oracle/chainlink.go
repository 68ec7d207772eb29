package oracle

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/caskworks/barrelex/pkg/errors"
)

// aggregatorABI is the read surface of a Chainlink AggregatorV3 feed.
const aggregatorABI = `[
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
	 "stateMutability":"view","type":"function"}
]`

// ContractBackend is the subset of an ethclient used by the adapter.
type ContractBackend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.ContractFilterer
}

// Chainlink reads a Chainlink price feed (native coin priced in the
// reference currency) and converts cents to settlement units.
type Chainlink struct {
	contract     *bind.BoundContract
	feedDecimals int32
}

var _ RateOracle = (*Chainlink)(nil)

// NewChainlink binds the aggregator at addr and queries its decimals once;
// the answer itself is fetched fresh on every conversion.
func NewChainlink(backend ContractBackend, addr common.Address) (*Chainlink, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, errors.Wrap(err).Explain("parse aggregator ABI")
	}
	contract := bind.NewBoundContract(addr, parsed, backend, backend, backend)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{}, &out, "decimals"); err != nil {
		return nil, errors.Wrap(err).Explain("query feed decimals")
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return nil, errors.New("unexpected decimals type from feed")
	}

	return &Chainlink{contract: contract, feedDecimals: int32(dec)}, nil
}

// Convert fetches the latest feed answer and converts cents to settlement
// units, floored.
func (c *Chainlink) Convert(ctx context.Context, amountCents int64, _ time.Time) (decimal.Decimal, error) {
	if amountCents < 0 {
		return decimal.Zero, errors.New("amount must not be negative")
	}

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestRoundData"); err != nil {
		return decimal.Zero, errors.Wrap(err).Explain("query latest round data")
	}
	answer, ok := out[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Zero, errors.New("feed returned a non-positive answer")
	}

	return convertWithAnswer(amountCents, decimal.NewFromBigInt(answer, 0), c.feedDecimals), nil
}
