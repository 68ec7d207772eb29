package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/caskworks/barrelex/internal/config"
	"github.com/caskworks/barrelex/internal/ledger"
	"github.com/caskworks/barrelex/internal/oracle"
	"github.com/caskworks/barrelex/internal/platform"
	"github.com/caskworks/barrelex/internal/reserve"
	"github.com/caskworks/barrelex/pkg/logger"
)

func main() {
	seed := flag.Bool("seed", false, "create demo listings after startup")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger, *seed); err != nil {
		zapLogger.Fatal("barrelex failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger, seed bool) error {
	ctx := context.Background()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}

	adminID := identityOrNew(cfg.Admin.AdminID, "admin", zapLogger)
	platformID := identityOrNew(cfg.Admin.PlatformID, "platform", zapLogger)

	ledgerSvc, err := ledger.NewService(zapLogger.Named("ledger"), db, adminID)
	if err != nil {
		return err
	}
	if err := ledgerSvc.AuthorizePlatform(ctx, adminID, platformID, true); err != nil {
		return err
	}

	rates, err := buildOracle(cfg.Oracle)
	if err != nil {
		return err
	}
	rsv, err := buildReserve(ctx, cfg.Reserve)
	if err != nil {
		return err
	}

	svc, err := platform.NewService(zapLogger.Named("platform"), db, ledgerSvc, rates, rsv, platformID, adminID)
	if err != nil {
		return err
	}

	zapLogger.Info("barrelex platform ready",
		zap.String("admin", adminID.String()),
		zap.String("platform_identity", platformID.String()),
		zap.String("database", cfg.Database.Driver),
		zap.String("oracle", cfg.Oracle.Mode),
		zap.String("reserve", cfg.Reserve.Mode))

	if seed {
		return seedListings(ctx, svc, adminID, zapLogger)
	}
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func buildOracle(cfg config.OracleConfig) (oracle.RateOracle, error) {
	switch cfg.Mode {
	case "chainlink":
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, err
		}
		return oracle.NewChainlink(client, common.HexToAddress(cfg.FeedAddress))
	default:
		return oracle.NewFixed(cfg.FixedAnswer, cfg.FeedDecimals), nil
	}
}

func buildReserve(ctx context.Context, cfg config.ReserveConfig) (reserve.YieldReserve, error) {
	switch cfg.Mode {
	case "aave":
		client, err := ethclient.Dial(os.Getenv("BARRELEX_RESERVE_RPC_URL"))
		if err != nil {
			return nil, err
		}
		key, err := crypto.HexToECDSA(os.Getenv("BARRELEX_RESERVE_KEY"))
		if err != nil {
			return nil, err
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, err
		}
		return reserve.NewAaveGateway(client,
			common.HexToAddress(cfg.GatewayAddress),
			common.HexToAddress(cfg.ATokenAddress),
			common.HexToAddress(cfg.LendingPoolAddress),
			opts)
	default:
		return reserve.NewMemory(decimal.Zero), nil
	}
}

func identityOrNew(raw, role string, zapLogger *zap.Logger) uuid.UUID {
	if raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id
		}
		zapLogger.Warn("invalid identity in config, generating one", zap.String("role", role))
	}
	id := uuid.New()
	zapLogger.Info("generated identity", zap.String("role", role), zap.String("id", id.String()))
	return id
}

// seedListings registers a spread of demo listings and logs their opening
// quotes.
func seedListings(ctx context.Context, svc platform.Platform, producer uuid.UUID, zapLogger *zap.Logger) error {
	windowStart := time.Now()
	windowEnd := windowStart.AddDate(5, 0, 0)

	for i := int64(0); i < 16; i++ {
		id, err := svc.CreateListing(ctx, producer, &platform.CreateListingRequest{
			StartPriceCents: 3500 + i*500,
			EndPriceCents:   5500 + i*800,
			FeeBps:          500,
			TotalUnits:      200 + i*30,
			BuybackBps:      2500,
			WindowStart:     windowStart,
			WindowEnd:       windowEnd,
		})
		if err != nil {
			return err
		}
		quote, err := svc.BottlePrice(ctx, id, windowStart)
		if err != nil {
			return err
		}
		zapLogger.Info("seeded listing",
			zap.Uint64("listing_id", id),
			zap.Int64("unit_price_cents", quote.UnitPriceCents),
			zap.Int64("fee_bps", quote.FeeBps))
	}
	return nil
}
