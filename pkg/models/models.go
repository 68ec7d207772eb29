package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset represents a fungible unit class tracked by the inventory ledger,
// one per listing. Supply grows only through mint and shrinks only through
// explicit burn.
type Asset struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TotalSupply int64     `json:"total_supply" validate:"min=0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Balance represents the quantity of one asset held by one identity
type Balance struct {
	OwnerID   uuid.UUID `json:"owner_id" gorm:"type:uuid;primaryKey" validate:"required,uuid"`
	AssetID   uint64    `json:"asset_id" gorm:"primaryKey"`
	Quantity  int64     `json:"quantity" validate:"min=0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OperatorApproval records that operator may move owner's balances
type OperatorApproval struct {
	OwnerID    uuid.UUID `json:"owner_id" gorm:"type:uuid;primaryKey" validate:"required,uuid"`
	OperatorID uuid.UUID `json:"operator_id" gorm:"type:uuid;primaryKey" validate:"required,uuid"`
	Approved   bool      `json:"approved"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PlatformAuthorization records ledger-level mint/transfer rights for a
// platform identity. Revocation takes effect on the next mint.
type PlatformAuthorization struct {
	IdentityID uuid.UUID `json:"identity_id" gorm:"type:uuid;primaryKey" validate:"required,uuid"`
	Authorized bool      `json:"authorized"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Listing represents a producer's batch-for-sale record with a linear
// time-based price curve. Immutable after creation except for UnitsSold.
type Listing struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ProducerID      uuid.UUID `json:"producer_id" gorm:"type:uuid;index" validate:"required,uuid"`
	AssetID         uint64    `json:"asset_id" gorm:"uniqueIndex"`
	StartPriceCents int64     `json:"start_price_cents" validate:"min=0"`
	EndPriceCents   int64     `json:"end_price_cents" validate:"min=0"`
	FeeBps          int64     `json:"fee_bps" validate:"min=0,max=10000"`
	BuybackBps      int64     `json:"buyback_bps" validate:"min=0,max=10000"`
	TotalUnits      int64     `json:"total_units" validate:"required,gt=0"`
	UnitsSold       int64     `json:"units_sold" validate:"min=0"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AvailableUnits returns the unsold remainder of the batch.
func (l *Listing) AvailableUnits() int64 {
	return l.TotalUnits - l.UnitsSold
}

// ApprovedProducer records listing-creation rights for a producer identity
type ApprovedProducer struct {
	IdentityID uuid.UUID `json:"identity_id" gorm:"type:uuid;primaryKey" validate:"required,uuid"`
	Approved   bool      `json:"approved"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FeeEscrow is the running total of settlement-currency fees deposited into
// the yield reserve. A single-row aggregate, exact by construction: it only
// grows by each purchase's converted fee and shrinks on explicit withdrawal.
type FeeEscrow struct {
	ID             uint64          `json:"id" gorm:"primaryKey"`
	TotalDeposited decimal.Decimal `json:"total_deposited" gorm:"type:text"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Disbursement records a settlement-currency payment made by a purchase or
// redemption: producer revenue, buyer change or a buy-back payout. The
// platform holds no funds of its own, so every purchase fully disburses.
type Disbursement struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey" validate:"required,uuid"`
	ListingID   uint64          `json:"listing_id" gorm:"index"`
	RecipientID uuid.UUID       `json:"recipient_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Kind        string          `json:"kind" validate:"required,oneof=producer_payout buyer_change buyback_payout"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:text"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Disbursement kinds
const (
	DisbursementProducerPayout = "producer_payout"
	DisbursementBuyerChange    = "buyer_change"
	DisbursementBuybackPayout  = "buyback_payout"
)

// PurchaseReceipt carries every figure of a settled purchase, enough for
// external bookkeeping to produce a purchase event.
type PurchaseReceipt struct {
	ListingID      uint64          `json:"listing_id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	Quantity       int64           `json:"quantity"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	FeeCents       int64           `json:"fee_cents"`
	GrossCents     int64           `json:"gross_cents"`
	Gross          decimal.Decimal `json:"gross"`
	Fee            decimal.Decimal `json:"fee"`
	ProducerPayout decimal.Decimal `json:"producer_payout"`
	Change         decimal.Decimal `json:"change"`
	SettledAt      time.Time       `json:"settled_at"`
}

// RedemptionReceipt carries the figures of a settled buy-back.
type RedemptionReceipt struct {
	ListingID      uint64          `json:"listing_id"`
	HolderID       uuid.UUID       `json:"holder_id"`
	Quantity       int64           `json:"quantity"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	PayoutCents    int64           `json:"payout_cents"`
	Payout         decimal.Decimal `json:"payout"`
	SettledAt      time.Time       `json:"settled_at"`
}

// Quote is a point-in-time price for one unit of a listing, with the fee
// rate disclosed for transparency.
type Quote struct {
	ListingID      uint64    `json:"listing_id"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	FeeBps         int64     `json:"fee_bps"`
	At             time.Time `json:"at"`
}
