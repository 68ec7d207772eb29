package platform

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/caskworks/barrelex/internal/ledger"
	"github.com/caskworks/barrelex/internal/oracle"
	"github.com/caskworks/barrelex/internal/reserve"
	"github.com/caskworks/barrelex/pkg/errors"
)

// unitsPerCent is the settlement units one cent buys at the test rate: the
// native coin is priced at $2.00 with 8 feed decimals, so one cent converts
// to 1e24/2e8 = 5e15 atomic units.
var unitsPerCent = decimal.New(5, 15)

type testRig struct {
	svc      *Service
	ledger   *ledger.Service
	reserve  *reserve.Memory
	admin    uuid.UUID
	platform uuid.UUID
}

func setupTestPlatform(t *testing.T) *testRig {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	admin := uuid.New()
	platformID := uuid.New()
	ctx := context.Background()

	lgr, err := ledger.NewService(zap.NewNop(), db, admin)
	require.NoError(t, err)
	require.NoError(t, lgr.AuthorizePlatform(ctx, admin, platformID, true))

	rates := oracle.NewFixed(2_0000_0000, 8)
	rsv := reserve.NewMemory(decimal.Zero)

	svc, err := NewService(zap.NewNop(), db, lgr, rates, rsv, platformID, admin)
	require.NoError(t, err)

	return &testRig{svc: svc, ledger: lgr, reserve: rsv, admin: admin, platform: platformID}
}

func flatListing(price, feeBps, totalUnits, buybackBps int64) *CreateListingRequest {
	t0 := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	return &CreateListingRequest{
		StartPriceCents: price,
		EndPriceCents:   price,
		FeeBps:          feeBps,
		TotalUnits:      totalUnits,
		BuybackBps:      buybackBps,
		WindowStart:     t0,
		WindowEnd:       t0.AddDate(5, 0, 0),
	}
}

func cents(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Mul(unitsPerCent)
}

func TestCreateListingRequiresApprovedProducer(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	producer := uuid.New()

	_, err := rig.svc.CreateListing(ctx, producer, flatListing(3500, 500, 250, 2500))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Unauthorized))

	require.NoError(t, rig.svc.ApproveDistillery(ctx, rig.admin, producer))

	id, err := rig.svc.CreateListing(ctx, producer, flatListing(3500, 500, 250, 2500))
	require.NoError(t, err)

	// The batch was minted into the producer's ledger balance.
	listing, err := rig.svc.loadListing(ctx, id)
	require.NoError(t, err)
	qty, err := rig.ledger.BalanceOf(ctx, producer, listing.AssetID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), qty)

	total, err := rig.svc.TotalBottles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(250), total)

	available, err := rig.svc.AvailableBottles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(250), available)
}

func TestCreateListingAdminIsAutoApproved(t *testing.T) {
	rig := setupTestPlatform(t)

	ok, err := rig.svc.IsApprovedProducer(context.Background(), rig.admin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateListingValidation(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()

	t0 := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		req  *CreateListingRequest
	}{
		{"fee rate above 10000", flatListing(3500, 10001, 250, 2500)},
		{"buyback rate above 10000", flatListing(3500, 500, 250, 10001)},
		{"zero units", flatListing(3500, 500, 0, 2500)},
		{"inverted window", &CreateListingRequest{
			StartPriceCents: 3500,
			EndPriceCents:   5500,
			FeeBps:          500,
			TotalUnits:      250,
			BuybackBps:      2500,
			WindowStart:     t0,
			WindowEnd:       t0.Add(-time.Hour),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rig.svc.CreateListing(ctx, rig.admin, tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.InvalidListing))
		})
	}
}

func TestRevokeDistilleryBlocksListing(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	producer := uuid.New()

	require.NoError(t, rig.svc.ApproveDistillery(ctx, rig.admin, producer))
	require.NoError(t, rig.svc.RevokeDistillery(ctx, rig.admin, producer))

	_, err := rig.svc.CreateListing(ctx, producer, flatListing(3500, 500, 250, 2500))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Unauthorized))

	// Only the admin may toggle the producer set.
	err = rig.svc.ApproveDistillery(ctx, producer, producer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Unauthorized))
}

func TestBottlePriceQuote(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 500, 250, 2500))
	require.NoError(t, err)

	quote, err := rig.svc.BottlePrice(ctx, id, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3500), quote.UnitPriceCents)
	assert.Equal(t, int64(500), quote.FeeBps)

	_, err = rig.svc.BottlePrice(ctx, 999, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestPurchaseSettlement(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	buyer := uuid.New()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 500, 250, 2500))
	require.NoError(t, err)

	// 10 units at 3500 cents with a 5% fee: fee 1750 cents, gross 36750.
	receipt, err := rig.svc.Purchase(ctx, buyer, id, 10, cents(36750))
	require.NoError(t, err)

	assert.Equal(t, int64(3500), receipt.UnitPriceCents)
	assert.Equal(t, int64(1750), receipt.FeeCents)
	assert.Equal(t, int64(36750), receipt.GrossCents)
	assert.True(t, cents(1750).Equal(receipt.Fee), "fee %s", receipt.Fee)
	assert.True(t, cents(35000).Equal(receipt.ProducerPayout), "payout %s", receipt.ProducerPayout)
	assert.True(t, receipt.Change.IsZero(), "change %s", receipt.Change)

	// Units moved to the buyer.
	listing, err := rig.svc.loadListing(ctx, id)
	require.NoError(t, err)
	qty, err := rig.ledger.BalanceOf(ctx, buyer, listing.AssetID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), qty)

	available, _ := rig.svc.AvailableBottles(ctx, id)
	assert.Equal(t, int64(240), available)

	// The fee landed in the reserve and the aggregate tracks it exactly.
	fees, err := rig.svc.TotalFeesDeposited(ctx)
	require.NoError(t, err)
	assert.True(t, cents(1750).Equal(fees), "fees %s", fees)

	reserveBalance, err := rig.reserve.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, fees.Equal(reserveBalance))
}

func TestPurchaseReturnsChange(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	buyer := uuid.New()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 500, 250, 2500))
	require.NoError(t, err)

	overpay := cents(36750).Add(cents(1000))
	receipt, err := rig.svc.Purchase(ctx, buyer, id, 10, overpay)
	require.NoError(t, err)
	assert.True(t, cents(1000).Equal(receipt.Change), "change %s", receipt.Change)
}

func TestPurchasePaymentInsufficientLeavesStateUntouched(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	buyer := uuid.New()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 500, 250, 2500))
	require.NoError(t, err)

	_, err = rig.svc.Purchase(ctx, buyer, id, 10, cents(36749))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.PaymentInsufficient))

	// Nothing changed: no units sold, no fees, no reserve deposit.
	available, _ := rig.svc.AvailableBottles(ctx, id)
	assert.Equal(t, int64(250), available)

	listing, _ := rig.svc.loadListing(ctx, id)
	qty, _ := rig.ledger.BalanceOf(ctx, buyer, listing.AssetID)
	assert.Equal(t, int64(0), qty)

	fees, _ := rig.svc.TotalFeesDeposited(ctx)
	assert.True(t, fees.IsZero())

	reserveBalance, _ := rig.reserve.Balance(ctx)
	assert.True(t, reserveBalance.IsZero())
}

func TestPurchaseSoldOut(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	buyer := uuid.New()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 0, 5, 2500))
	require.NoError(t, err)

	_, err = rig.svc.Purchase(ctx, buyer, id, 6, cents(3500*6))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.SoldOut))

	_, err = rig.svc.Purchase(ctx, buyer, id, 5, cents(3500*5))
	require.NoError(t, err)

	_, err = rig.svc.Purchase(ctx, buyer, id, 1, cents(3500))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.SoldOut))
}

func TestPurchaseUnknownListing(t *testing.T) {
	rig := setupTestPlatform(t)

	_, err := rig.svc.Purchase(context.Background(), uuid.New(), 424242, 1, cents(10000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestConcurrentPurchaseOfLastUnit(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 0, 1, 2500))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = rig.svc.Purchase(ctx, uuid.New(), id, 1, cents(3500))
		}(i)
	}
	wg.Wait()

	var succeeded, soldOut int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errors.SoldOut):
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one purchase must win the last unit")
	assert.Equal(t, 1, soldOut)

	available, _ := rig.svc.AvailableBottles(ctx, id)
	assert.Equal(t, int64(0), available)
}

func TestFeeAggregateAccumulates(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()

	expected := decimal.Zero
	for i := int64(0); i < 8; i++ {
		feeBps := 250 * (i + 1)
		id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, feeBps, 250, 2500))
		require.NoError(t, err)

		quantity := i + 1
		feeCents := 3500 * quantity * feeBps / 10000
		grossCents := 3500*quantity + feeCents

		_, err = rig.svc.Purchase(ctx, uuid.New(), id, quantity, cents(grossCents))
		require.NoError(t, err)
		expected = expected.Add(cents(feeCents))

		fees, err := rig.svc.TotalFeesDeposited(ctx)
		require.NoError(t, err)
		assert.True(t, expected.Equal(fees), "after %d purchases: want %s, got %s", i+1, expected, fees)
	}
}

func TestRedeem(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	buyer := uuid.New()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 500, 250, 2500))
	require.NoError(t, err)
	listing, err := rig.svc.loadListing(ctx, id)
	require.NoError(t, err)

	_, err = rig.svc.Purchase(ctx, buyer, id, 10, cents(36750))
	require.NoError(t, err)

	// A holder who never approved the platform as operator cannot redeem.
	_, err = rig.svc.Redeem(ctx, buyer, id, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Unauthorized))

	require.NoError(t, rig.ledger.SetOperatorApproval(ctx, buyer, buyer, rig.platform, true))

	// Payout 3500*2*2500/10000 = 1750 cents; the reserve holds the 1750
	// cent fee from the purchase, which covers it exactly.
	receipt, err := rig.svc.Redeem(ctx, buyer, id, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1750), receipt.PayoutCents)
	assert.True(t, cents(1750).Equal(receipt.Payout))

	// Units went back to the producer, supply unchanged.
	qty, _ := rig.ledger.BalanceOf(ctx, buyer, listing.AssetID)
	assert.Equal(t, int64(8), qty)
	producerQty, _ := rig.ledger.BalanceOf(ctx, rig.admin, listing.AssetID)
	assert.Equal(t, int64(242), producerQty)
	supply, _ := rig.ledger.TotalSupply(ctx, listing.AssetID)
	assert.Equal(t, int64(250), supply)
}

func TestRedeemReserveInsufficient(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	buyer := uuid.New()

	// Zero fee rate: nothing funds the reserve, so a buy-back cannot pay.
	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 0, 250, 2500))
	require.NoError(t, err)
	listing, err := rig.svc.loadListing(ctx, id)
	require.NoError(t, err)

	_, err = rig.svc.Purchase(ctx, buyer, id, 10, cents(35000))
	require.NoError(t, err)
	require.NoError(t, rig.ledger.SetOperatorApproval(ctx, buyer, buyer, rig.platform, true))

	_, err = rig.svc.Redeem(ctx, buyer, id, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ReserveInsufficient))

	// The failed redemption rolled back the unit transfer.
	qty, _ := rig.ledger.BalanceOf(ctx, buyer, listing.AssetID)
	assert.Equal(t, int64(10), qty)
}

func TestRedeemInsufficientBalance(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()
	holder := uuid.New()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 500, 250, 2500))
	require.NoError(t, err)

	require.NoError(t, rig.ledger.SetOperatorApproval(ctx, holder, holder, rig.platform, true))
	_, err = rig.svc.Redeem(ctx, holder, id, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InsufficientBalance))
}

func TestWithdrawFees(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()

	id, err := rig.svc.CreateListing(ctx, rig.admin, flatListing(3500, 500, 250, 2500))
	require.NoError(t, err)
	_, err = rig.svc.Purchase(ctx, uuid.New(), id, 10, cents(36750))
	require.NoError(t, err)

	err = rig.svc.WithdrawFees(ctx, uuid.New(), cents(100))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Unauthorized))

	require.NoError(t, rig.svc.WithdrawFees(ctx, rig.admin, cents(1000)))

	fees, _ := rig.svc.TotalFeesDeposited(ctx)
	assert.True(t, cents(750).Equal(fees), "fees %s", fees)

	err = rig.svc.WithdrawFees(ctx, rig.admin, cents(751))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ReserveInsufficient))
}

func TestPurchasePriceFollowsCurve(t *testing.T) {
	rig := setupTestPlatform(t)
	ctx := context.Background()

	t0 := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(5, 0, 0)
	req := &CreateListingRequest{
		StartPriceCents: 3500,
		EndPriceCents:   5500,
		FeeBps:          500,
		TotalUnits:      250,
		BuybackBps:      2500,
		WindowStart:     t0,
		WindowEnd:       t1,
	}
	id, err := rig.svc.CreateListing(ctx, rig.admin, req)
	require.NoError(t, err)

	// Pin the clock to the window midpoint: the quote is ~4500 cents.
	rig.svc.now = func() time.Time { return t0.Add(t1.Sub(t0) / 2) }

	quote, err := rig.svc.BottlePrice(ctx, id, rig.svc.now())
	require.NoError(t, err)
	assert.InDelta(t, 4500, quote.UnitPriceCents, 1)

	receipt, err := rig.svc.Purchase(ctx, uuid.New(), id, 1, cents(6000))
	require.NoError(t, err)
	assert.Equal(t, quote.UnitPriceCents, receipt.UnitPriceCents)
}
