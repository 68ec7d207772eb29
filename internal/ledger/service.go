// Package ledger implements the multi-asset inventory ledger backing the
// settlement platform. Balances are keyed by (owner, asset) and every
// mutation goes through a checked, transactional entry point: minting is
// gated by the platform authorization set, transfers by ownership or
// operator approval. For each asset the sum of balances always equals
// total minted minus total burned.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caskworks/barrelex/pkg/errors"
	"github.com/caskworks/barrelex/pkg/models"
)

// Ledger defines the inventory ledger operations
type Ledger interface {
	// Mint creates a fresh asset class, credits quantity units to the
	// receiving identity and returns the new asset id. Caller must be an
	// authorized platform.
	Mint(ctx context.Context, caller, to uuid.UUID, quantity int64) (uint64, error)

	// Transfer moves quantity units of an asset between identities. Caller
	// must be the owner or an operator approved by the owner.
	Transfer(ctx context.Context, caller, from, to uuid.UUID, assetID uint64, quantity int64) error

	// Burn retires quantity units from an identity's balance, shrinking
	// the asset's total supply. Same authorization as Transfer.
	Burn(ctx context.Context, caller, from uuid.UUID, assetID uint64, quantity int64) error

	// SetOperatorApproval lets owner grant or revoke an operator's right
	// to move their balances. Owner-only, idempotent.
	SetOperatorApproval(ctx context.Context, caller, owner, operator uuid.UUID, approved bool) error

	// AuthorizePlatform toggles an identity's membership in the platform
	// set. Admin-only; revocation applies to the next mint.
	AuthorizePlatform(ctx context.Context, caller, identity uuid.UUID, approved bool) error

	BalanceOf(ctx context.Context, owner uuid.UUID, assetID uint64) (int64, error)
	TotalSupply(ctx context.Context, assetID uint64) (int64, error)
	IsPlatform(ctx context.Context, identity uuid.UUID) (bool, error)
	IsOperator(ctx context.Context, owner, operator uuid.UUID) (bool, error)

	// WithTx returns a view of the ledger bound to an enclosing database
	// transaction, so a caller can make ledger writes atomic with its own.
	WithTx(tx *gorm.DB) Ledger
}

// Service implements Ledger on gorm
type Service struct {
	logger  *zap.Logger
	db      *gorm.DB
	adminID uuid.UUID

	// mu serializes mutations across all views of this ledger, including
	// transaction-bound ones created by WithTx.
	mu *sync.Mutex
}

var _ Ledger = (*Service)(nil)

// NewService creates a ledger service administered by adminID and migrates
// its tables.
func NewService(logger *zap.Logger, db *gorm.DB, adminID uuid.UUID) (*Service, error) {
	if err := db.AutoMigrate(&models.Asset{}, &models.Balance{}, &models.OperatorApproval{}, &models.PlatformAuthorization{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate ledger tables")
	}
	return &Service{
		logger:  logger,
		db:      db,
		adminID: adminID,
		mu:      &sync.Mutex{},
	}, nil
}

// WithTx returns a ledger view whose writes join the given transaction.
func (s *Service) WithTx(tx *gorm.DB) Ledger {
	return &Service{
		logger:  s.logger,
		db:      tx,
		adminID: s.adminID,
		mu:      s.mu,
	}
}

// Mint creates a new asset and credits the full supply to `to`.
func (s *Service) Mint(ctx context.Context, caller, to uuid.UUID, quantity int64) (uint64, error) {
	if quantity <= 0 {
		return 0, errors.New("mint quantity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	authorized, err := s.isPlatform(s.db, caller)
	if err != nil {
		return 0, err
	}
	if !authorized {
		return 0, errors.Unauthorized.Explain("identity %s is not an authorized platform", caller)
	}

	asset := models.Asset{TotalSupply: quantity}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&asset).Error; err != nil {
			return errors.Wrap(err).Explain("create asset")
		}
		return creditBalance(tx, to, asset.ID, quantity)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("minted asset",
		zap.Uint64("asset_id", asset.ID),
		zap.String("to", to.String()),
		zap.Int64("quantity", quantity))
	return asset.ID, nil
}

// Transfer moves units between identities inside one transaction, so a
// debit is never observable without its matching credit.
func (s *Service) Transfer(ctx context.Context, caller, from, to uuid.UUID, assetID uint64, quantity int64) error {
	if quantity <= 0 {
		return errors.New("transfer quantity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOperator(s.db, caller, from); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := assetExists(tx, assetID); err != nil {
			return err
		}
		if err := debitBalance(tx, from, assetID, quantity); err != nil {
			return err
		}
		return creditBalance(tx, to, assetID, quantity)
	})
}

// Burn retires units and shrinks the asset supply.
func (s *Service) Burn(ctx context.Context, caller, from uuid.UUID, assetID uint64, quantity int64) error {
	if quantity <= 0 {
		return errors.New("burn quantity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOperator(s.db, caller, from); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset models.Asset
		if err := tx.First(&asset, "id = ?", assetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.NotFound.Explain("asset %d", assetID)
			}
			return errors.Wrap(err).Explain("find asset")
		}
		if err := debitBalance(tx, from, assetID, quantity); err != nil {
			return err
		}
		asset.TotalSupply -= quantity
		asset.UpdatedAt = time.Now()
		if err := tx.Save(&asset).Error; err != nil {
			return errors.Wrap(err).Explain("save asset supply")
		}
		return nil
	})
}

// SetOperatorApproval grants or revokes operator rights over owner. Only
// the owner may change their own approvals; repeated calls are idempotent.
func (s *Service) SetOperatorApproval(ctx context.Context, caller, owner, operator uuid.UUID, approved bool) error {
	if caller != owner {
		return errors.Unauthorized.Explain("only the owner may change operator approvals")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	approval := models.OperatorApproval{
		OwnerID:    owner,
		OperatorID: operator,
		Approved:   approved,
		UpdatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&approval).Error; err != nil {
		return errors.Wrap(err).Explain("save operator approval")
	}
	return nil
}

// AuthorizePlatform toggles platform membership for an identity. Revoking
// takes effect immediately: the next mint from that identity fails.
func (s *Service) AuthorizePlatform(ctx context.Context, caller, identity uuid.UUID, approved bool) error {
	if caller != s.adminID {
		return errors.Unauthorized.Explain("only the ledger admin may authorize platforms")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auth := models.PlatformAuthorization{
		IdentityID: identity,
		Authorized: approved,
		UpdatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&auth).Error; err != nil {
		return errors.Wrap(err).Explain("save platform authorization")
	}

	s.logger.Info("platform authorization changed",
		zap.String("identity", identity.String()),
		zap.Bool("authorized", approved))
	return nil
}

// BalanceOf returns the quantity of an asset held by owner. Unknown
// (owner, asset) pairs hold zero.
func (s *Service) BalanceOf(ctx context.Context, owner uuid.UUID, assetID uint64) (int64, error) {
	var balance models.Balance
	err := s.db.WithContext(ctx).Where("owner_id = ? AND asset_id = ?", owner, assetID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(err).Explain("find balance")
	}
	return balance.Quantity, nil
}

// TotalSupply returns the current supply of an asset.
func (s *Service) TotalSupply(ctx context.Context, assetID uint64) (int64, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).First(&asset, "id = ?", assetID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, errors.NotFound.Explain("asset %d", assetID)
		}
		return 0, errors.Wrap(err).Explain("find asset")
	}
	return asset.TotalSupply, nil
}

// IsPlatform reports whether identity is currently in the platform set.
func (s *Service) IsPlatform(ctx context.Context, identity uuid.UUID) (bool, error) {
	return s.isPlatform(s.db.WithContext(ctx), identity)
}

// IsOperator reports whether operator may move owner's balances.
func (s *Service) IsOperator(ctx context.Context, owner, operator uuid.UUID) (bool, error) {
	return isOperator(s.db.WithContext(ctx), owner, operator)
}

func (s *Service) isPlatform(db *gorm.DB, identity uuid.UUID) (bool, error) {
	var auth models.PlatformAuthorization
	err := db.Where("identity_id = ?", identity).First(&auth).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err).Explain("find platform authorization")
	}
	return auth.Authorized, nil
}

// checkOperator fails with Unauthorized unless caller is from or an
// operator approved by from.
func (s *Service) checkOperator(db *gorm.DB, caller, from uuid.UUID) error {
	if caller == from {
		return nil
	}
	approved, err := isOperator(db, from, caller)
	if err != nil {
		return err
	}
	if !approved {
		return errors.Unauthorized.Explain("identity %s may not move balances of %s", caller, from)
	}
	return nil
}

func isOperator(db *gorm.DB, owner, operator uuid.UUID) (bool, error) {
	var approval models.OperatorApproval
	err := db.Where("owner_id = ? AND operator_id = ?", owner, operator).First(&approval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err).Explain("find operator approval")
	}
	return approval.Approved, nil
}

func assetExists(tx *gorm.DB, assetID uint64) error {
	var count int64
	if err := tx.Model(&models.Asset{}).Where("id = ?", assetID).Count(&count).Error; err != nil {
		return errors.Wrap(err).Explain("count assets")
	}
	if count == 0 {
		return errors.NotFound.Explain("asset %d", assetID)
	}
	return nil
}

func creditBalance(tx *gorm.DB, owner uuid.UUID, assetID uint64, quantity int64) error {
	var balance models.Balance
	err := tx.Where("owner_id = ? AND asset_id = ?", owner, assetID).First(&balance).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err).Explain("find balance")
		}
		balance = models.Balance{OwnerID: owner, AssetID: assetID}
	}
	balance.Quantity += quantity
	balance.UpdatedAt = time.Now()
	if err := tx.Save(&balance).Error; err != nil {
		return errors.Wrap(err).Explain("save balance")
	}
	return nil
}

func debitBalance(tx *gorm.DB, owner uuid.UUID, assetID uint64, quantity int64) error {
	var balance models.Balance
	err := tx.Where("owner_id = ? AND asset_id = ?", owner, assetID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.InsufficientBalance.Explain("identity %s holds no asset %d", owner, assetID)
		}
		return errors.Wrap(err).Explain("find balance")
	}
	if balance.Quantity < quantity {
		return errors.InsufficientBalance.Explain("identity %s holds %d of asset %d, need %d", owner, balance.Quantity, assetID, quantity)
	}
	balance.Quantity -= quantity
	balance.UpdatedAt = time.Now()
	if err := tx.Save(&balance).Error; err != nil {
		return errors.Wrap(err).Explain("save balance")
	}
	return nil
}
