// Package platform implements the listing and purchase orchestrator: it
// owns listing records and the fee escrow aggregate, prices purchases
// through the pricing curve, converts through the rate oracle, moves units
// through the inventory ledger and splits funds between the producer and
// the yield reserve. Every public operation is all-or-nothing.
package platform

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caskworks/barrelex/internal/ledger"
	"github.com/caskworks/barrelex/internal/oracle"
	"github.com/caskworks/barrelex/internal/pricing"
	"github.com/caskworks/barrelex/internal/reserve"
	"github.com/caskworks/barrelex/pkg/errors"
	"github.com/caskworks/barrelex/pkg/metrics"
	"github.com/caskworks/barrelex/pkg/models"
)

// feeEscrowRowID is the primary key of the single fee aggregate row.
const feeEscrowRowID = 1

// CreateListingRequest carries the parameters of a new listing.
type CreateListingRequest struct {
	StartPriceCents int64     `json:"start_price_cents" validate:"min=0"`
	EndPriceCents   int64     `json:"end_price_cents" validate:"min=0"`
	FeeBps          int64     `json:"fee_bps" validate:"min=0,max=10000"`
	TotalUnits      int64     `json:"total_units" validate:"required,gt=0"`
	BuybackBps      int64     `json:"buyback_bps" validate:"min=0,max=10000"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
}

// Platform defines the orchestrator operations
type Platform interface {
	// CreateListing registers a listing for an approved producer, minting
	// the batch into the producer's ledger balance with the platform
	// pre-approved as transfer operator.
	CreateListing(ctx context.Context, caller uuid.UUID, req *CreateListingRequest) (uint64, error)

	// Purchase sells quantity units to buyer at the current quoted price,
	// settling payment, fee deposit, producer payout and change atomically.
	Purchase(ctx context.Context, buyer uuid.UUID, listingID uint64, quantity int64, payment decimal.Decimal) (*models.PurchaseReceipt, error)

	// Redeem buys back quantity units from the caller at the buy-back
	// rate, returning them to the producer and paying out of the reserve.
	Redeem(ctx context.Context, caller uuid.UUID, listingID uint64, quantity int64) (*models.RedemptionReceipt, error)

	// ApproveDistillery and RevokeDistillery toggle listing-creation
	// rights. Admin-only.
	ApproveDistillery(ctx context.Context, caller, identity uuid.UUID) error
	RevokeDistillery(ctx context.Context, caller, identity uuid.UUID) error

	// WithdrawFees releases settlement funds from the reserve to the
	// admin, shrinking the fee aggregate. Admin-only.
	WithdrawFees(ctx context.Context, caller uuid.UUID, amount decimal.Decimal) error

	// Queries, no side effects.
	IsApprovedProducer(ctx context.Context, identity uuid.UUID) (bool, error)
	TotalBottles(ctx context.Context, listingID uint64) (int64, error)
	AvailableBottles(ctx context.Context, listingID uint64) (int64, error)
	BottlePrice(ctx context.Context, listingID uint64, at time.Time) (*models.Quote, error)
	TotalFeesDeposited(ctx context.Context) (decimal.Decimal, error)
}

// Service implements Platform
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	ledger   ledger.Ledger
	oracle   oracle.RateOracle
	reserve  reserve.YieldReserve
	validate *validator.Validate

	// identity is the platform's own ledger identity; it must be in the
	// ledger's platform set and is the operator for producer balances.
	identity uuid.UUID
	adminID  uuid.UUID

	now func() time.Time

	// listingMu serializes settlement per listing so two concurrent
	// purchases can never both take the last unit.
	mu        sync.Mutex
	listingMu map[uint64]*sync.Mutex
}

var _ Platform = (*Service)(nil)

// NewService creates the orchestrator. identity is the platform's ledger
// identity, adminID administers the producer set and is auto-approved as a
// producer.
func NewService(logger *zap.Logger, db *gorm.DB, lgr ledger.Ledger, rates oracle.RateOracle, rsv reserve.YieldReserve, identity, adminID uuid.UUID) (*Service, error) {
	if err := db.AutoMigrate(&models.Listing{}, &models.ApprovedProducer{}, &models.FeeEscrow{}, &models.Disbursement{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate platform tables")
	}

	s := &Service{
		logger:    logger,
		db:        db,
		ledger:    lgr,
		oracle:    rates,
		reserve:   rsv,
		validate:  validator.New(),
		identity:  identity,
		adminID:   adminID,
		now:       time.Now,
		listingMu: make(map[uint64]*sync.Mutex),
	}

	escrow := models.FeeEscrow{ID: feeEscrowRowID, TotalDeposited: decimal.Zero, UpdatedAt: time.Now()}
	if err := db.FirstOrCreate(&escrow, models.FeeEscrow{ID: feeEscrowRowID}).Error; err != nil {
		return nil, errors.Wrap(err).Explain("seed fee escrow row")
	}

	// The platform admin may list without an explicit approval.
	if err := s.setProducer(context.Background(), adminID, true); err != nil {
		return nil, err
	}

	return s, nil
}

// CreateListing validates the request, mints the batch and records the
// listing in one transaction.
func (s *Service) CreateListing(ctx context.Context, caller uuid.UUID, req *CreateListingRequest) (uint64, error) {
	approved, err := s.IsApprovedProducer(ctx, caller)
	if err != nil {
		return 0, err
	}
	if !approved {
		return 0, errors.Unauthorized.Explain("identity %s is not an approved producer", caller)
	}

	if err := s.validate.Struct(req); err != nil {
		return 0, errors.InvalidListing.Explain("invalid listing parameters").Wrap(err)
	}
	if req.WindowEnd.Before(req.WindowStart) {
		return 0, errors.InvalidListing.Explain("sale window ends before it starts")
	}

	listing := models.Listing{
		ProducerID:      caller,
		StartPriceCents: req.StartPriceCents,
		EndPriceCents:   req.EndPriceCents,
		FeeBps:          req.FeeBps,
		BuybackBps:      req.BuybackBps,
		TotalUnits:      req.TotalUnits,
		UnitsSold:       0,
		WindowStart:     req.WindowStart,
		WindowEnd:       req.WindowEnd,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txLedger := s.ledger.WithTx(tx)
		assetID, err := txLedger.Mint(ctx, s.identity, caller, req.TotalUnits)
		if err != nil {
			return err
		}
		// The producer initiated this call, so the owner-only approval is
		// granted on their behalf.
		if err := txLedger.SetOperatorApproval(ctx, caller, caller, s.identity, true); err != nil {
			return err
		}
		listing.AssetID = assetID
		return tx.Create(&listing).Error
	})
	if err != nil {
		return 0, err
	}

	metrics.ListingsCreated.Inc()
	s.logger.Info("listing created",
		zap.Uint64("listing_id", listing.ID),
		zap.String("producer", caller.String()),
		zap.Uint64("asset_id", listing.AssetID),
		zap.Int64("total_units", listing.TotalUnits),
		zap.Int64("start_price_cents", listing.StartPriceCents),
		zap.Int64("end_price_cents", listing.EndPriceCents))
	return listing.ID, nil
}

// Purchase settles a sale of quantity units against the listing's current
// quote. The ledger transfer, fee deposit, producer payout, change and the
// unitsSold bump commit together or not at all.
func (s *Service) Purchase(ctx context.Context, buyer uuid.UUID, listingID uint64, quantity int64, payment decimal.Decimal) (*models.PurchaseReceipt, error) {
	started := time.Now()
	receipt, err := s.purchase(ctx, buyer, listingID, quantity, payment)
	metrics.PurchaseLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.PurchasesProcessed.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.PurchasesProcessed.WithLabelValues("ok").Inc()
	return receipt, nil
}

func (s *Service) purchase(ctx context.Context, buyer uuid.UUID, listingID uint64, quantity int64, payment decimal.Decimal) (*models.PurchaseReceipt, error) {
	if quantity <= 0 {
		return nil, errors.InvalidListing.Explain("purchase quantity must be positive")
	}

	unlock := s.lockListing(listingID)
	defer unlock()

	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UnitsSold+quantity > listing.TotalUnits {
		return nil, errors.SoldOut.Explain("listing %d has %d units left, want %d", listingID, listing.AvailableUnits(), quantity)
	}

	now := s.now()
	unitPrice := pricing.UnitPrice(listing, now)
	feeCents, grossCents := pricing.GrossAmount(unitPrice, quantity, listing.FeeBps)

	gross, err := s.oracle.Convert(ctx, grossCents, now)
	if err != nil {
		return nil, err
	}
	fee, err := s.oracle.Convert(ctx, feeCents, now)
	if err != nil {
		return nil, err
	}
	if payment.LessThan(gross) {
		return nil, errors.PaymentInsufficient.Explain("payment %s below gross %s", payment, gross)
	}
	payout := gross.Sub(fee)
	change := payment.Sub(gross)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.WithTx(tx).Transfer(ctx, s.identity, listing.ProducerID, buyer, listing.AssetID, quantity); err != nil {
			return err
		}
		if err := addToEscrow(tx, fee); err != nil {
			return err
		}
		if err := s.recordDisbursement(tx, listingID, listing.ProducerID, models.DisbursementProducerPayout, payout); err != nil {
			return err
		}
		if change.IsPositive() {
			if err := s.recordDisbursement(tx, listingID, buyer, models.DisbursementBuyerChange, change); err != nil {
				return err
			}
		}
		listing.UnitsSold += quantity
		listing.UpdatedAt = time.Now()
		if err := tx.Save(listing).Error; err != nil {
			return errors.Wrap(err).Explain("save listing")
		}
		// External deposit goes last so an adapter fault aborts the whole
		// transaction.
		return s.reserve.Deposit(ctx, fee)
	})
	if err != nil {
		return nil, err
	}

	metrics.BottlesSold.WithLabelValues(listingIDLabel(listingID)).Add(float64(quantity))
	metrics.FeesDeposited.Add(feeAsFloat(fee))

	receipt := &models.PurchaseReceipt{
		ListingID:      listingID,
		BuyerID:        buyer,
		Quantity:       quantity,
		UnitPriceCents: unitPrice,
		FeeCents:       feeCents,
		GrossCents:     grossCents,
		Gross:          gross,
		Fee:            fee,
		ProducerPayout: payout,
		Change:         change,
		SettledAt:      now,
	}
	s.logger.Info("purchase settled",
		zap.Uint64("listing_id", listingID),
		zap.String("buyer", buyer.String()),
		zap.Int64("quantity", quantity),
		zap.Int64("unit_price_cents", unitPrice),
		zap.Int64("fee_cents", feeCents),
		zap.String("gross", gross.String()),
		zap.String("change", change.String()))
	return receipt, nil
}

// Redeem buys back quantity units from the caller. The units return to the
// producer; the payout is withdrawn from the yield reserve.
func (s *Service) Redeem(ctx context.Context, caller uuid.UUID, listingID uint64, quantity int64) (*models.RedemptionReceipt, error) {
	receipt, err := s.redeem(ctx, caller, listingID, quantity)
	if err != nil {
		metrics.RedemptionsProcessed.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.RedemptionsProcessed.WithLabelValues("ok").Inc()
	return receipt, nil
}

func (s *Service) redeem(ctx context.Context, caller uuid.UUID, listingID uint64, quantity int64) (*models.RedemptionReceipt, error) {
	if quantity <= 0 {
		return nil, errors.InvalidListing.Explain("redemption quantity must be positive")
	}

	unlock := s.lockListing(listingID)
	defer unlock()

	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	unitPrice := pricing.UnitPrice(listing, now)
	payoutCents := pricing.BuybackAmount(unitPrice, quantity, listing.BuybackBps)
	payout, err := s.oracle.Convert(ctx, payoutCents, now)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The caller must have approved the platform as operator, same as
		// the producer did at listing time.
		if err := s.ledger.WithTx(tx).Transfer(ctx, s.identity, caller, listing.ProducerID, listing.AssetID, quantity); err != nil {
			return err
		}
		if err := s.recordDisbursement(tx, listingID, caller, models.DisbursementBuybackPayout, payout); err != nil {
			return err
		}
		return s.reserve.Withdraw(ctx, payout)
	})
	if err != nil {
		return nil, err
	}

	receipt := &models.RedemptionReceipt{
		ListingID:      listingID,
		HolderID:       caller,
		Quantity:       quantity,
		UnitPriceCents: unitPrice,
		PayoutCents:    payoutCents,
		Payout:         payout,
		SettledAt:      now,
	}
	s.logger.Info("redemption settled",
		zap.Uint64("listing_id", listingID),
		zap.String("holder", caller.String()),
		zap.Int64("quantity", quantity),
		zap.Int64("payout_cents", payoutCents),
		zap.String("payout", payout.String()))
	return receipt, nil
}

// ApproveDistillery grants listing-creation rights to an identity.
func (s *Service) ApproveDistillery(ctx context.Context, caller, identity uuid.UUID) error {
	if caller != s.adminID {
		return errors.Unauthorized.Explain("only the platform admin may approve producers")
	}
	return s.setProducer(ctx, identity, true)
}

// RevokeDistillery removes listing-creation rights from an identity.
func (s *Service) RevokeDistillery(ctx context.Context, caller, identity uuid.UUID) error {
	if caller != s.adminID {
		return errors.Unauthorized.Explain("only the platform admin may revoke producers")
	}
	return s.setProducer(ctx, identity, false)
}

// WithdrawFees pulls settlement funds out of the reserve and shrinks the
// fee aggregate by the same amount.
func (s *Service) WithdrawFees(ctx context.Context, caller uuid.UUID, amount decimal.Decimal) error {
	if caller != s.adminID {
		return errors.Unauthorized.Explain("only the platform admin may withdraw fees")
	}
	if amount.IsNegative() {
		return errors.New("withdrawal amount must not be negative")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var escrow models.FeeEscrow
		if err := tx.First(&escrow, "id = ?", feeEscrowRowID).Error; err != nil {
			return errors.Wrap(err).Explain("load fee escrow")
		}
		if escrow.TotalDeposited.LessThan(amount) {
			return errors.ReserveInsufficient.Explain("fee aggregate %s below %s", escrow.TotalDeposited, amount)
		}
		escrow.TotalDeposited = escrow.TotalDeposited.Sub(amount)
		escrow.UpdatedAt = time.Now()
		if err := tx.Save(&escrow).Error; err != nil {
			return errors.Wrap(err).Explain("save fee escrow")
		}
		return s.reserve.Withdraw(ctx, amount)
	})
}

// IsApprovedProducer reports membership in the producer set. Membership is
// re-checked on every call, never cached.
func (s *Service) IsApprovedProducer(ctx context.Context, identity uuid.UUID) (bool, error) {
	var producer models.ApprovedProducer
	err := s.db.WithContext(ctx).Where("identity_id = ?", identity).First(&producer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err).Explain("find producer approval")
	}
	return producer.Approved, nil
}

// TotalBottles returns the batch size of a listing.
func (s *Service) TotalBottles(ctx context.Context, listingID uint64) (int64, error) {
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return 0, err
	}
	return listing.TotalUnits, nil
}

// AvailableBottles returns the unsold remainder of a listing.
func (s *Service) AvailableBottles(ctx context.Context, listingID uint64) (int64, error) {
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return 0, err
	}
	return listing.AvailableUnits(), nil
}

// BottlePrice quotes one unit of a listing at the given instant, with the
// fee rate disclosed alongside.
func (s *Service) BottlePrice(ctx context.Context, listingID uint64, at time.Time) (*models.Quote, error) {
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return &models.Quote{
		ListingID:      listingID,
		UnitPriceCents: pricing.UnitPrice(listing, at),
		FeeBps:         listing.FeeBps,
		At:             at,
	}, nil
}

// TotalFeesDeposited returns the running fee aggregate in settlement units.
func (s *Service) TotalFeesDeposited(ctx context.Context) (decimal.Decimal, error) {
	var escrow models.FeeEscrow
	if err := s.db.WithContext(ctx).First(&escrow, "id = ?", feeEscrowRowID).Error; err != nil {
		return decimal.Zero, errors.Wrap(err).Explain("load fee escrow")
	}
	return escrow.TotalDeposited, nil
}

func (s *Service) setProducer(ctx context.Context, identity uuid.UUID, approved bool) error {
	producer := models.ApprovedProducer{
		IdentityID: identity,
		Approved:   approved,
		UpdatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&producer).Error; err != nil {
		return errors.Wrap(err).Explain("save producer approval")
	}
	s.logger.Info("producer approval changed",
		zap.String("identity", identity.String()),
		zap.Bool("approved", approved))
	return nil
}

func (s *Service) loadListing(ctx context.Context, listingID uint64) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.WithContext(ctx).First(&listing, "id = ?", listingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound.Explain("listing %d", listingID)
		}
		return nil, errors.Wrap(err).Explain("find listing")
	}
	return &listing, nil
}

func (s *Service) recordDisbursement(tx *gorm.DB, listingID uint64, recipient uuid.UUID, kind string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("disbursement amount must not be negative")
	}
	d := models.Disbursement{
		ID:          uuid.New(),
		ListingID:   listingID,
		RecipientID: recipient,
		Kind:        kind,
		Amount:      amount,
		CreatedAt:   time.Now(),
	}
	if err := tx.Create(&d).Error; err != nil {
		return errors.Wrap(err).Explain("record disbursement")
	}
	return nil
}

// addToEscrow grows the fee aggregate inside the caller's transaction.
func addToEscrow(tx *gorm.DB, amount decimal.Decimal) error {
	var escrow models.FeeEscrow
	if err := tx.First(&escrow, "id = ?", feeEscrowRowID).Error; err != nil {
		return errors.Wrap(err).Explain("load fee escrow")
	}
	escrow.TotalDeposited = escrow.TotalDeposited.Add(amount)
	escrow.UpdatedAt = time.Now()
	if err := tx.Save(&escrow).Error; err != nil {
		return errors.Wrap(err).Explain("save fee escrow")
	}
	return nil
}

// lockListing serializes settlement against one listing.
func (s *Service) lockListing(listingID uint64) func() {
	s.mu.Lock()
	mu, ok := s.listingMu[listingID]
	if !ok {
		mu = &sync.Mutex{}
		s.listingMu[listingID] = mu
	}
	s.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func listingIDLabel(listingID uint64) string {
	return strconv.FormatUint(listingID, 10)
}

func feeAsFloat(fee decimal.Decimal) float64 {
	f, _ := fee.Float64()
	return f
}
