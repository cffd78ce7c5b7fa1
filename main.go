package main

import (
	"encoding/hex"
	"os"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/crypto_gateway/chain"
	"github.com/crypto_gateway/handler"
	"github.com/crypto_gateway/model"
	"github.com/crypto_gateway/repository"
	"github.com/crypto_gateway/router"
	"github.com/crypto_gateway/service"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	dsn := envOr("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=gateway port=5432 sslmode=disable")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	sealKey, err := hex.DecodeString(envOr("SEED_STORAGE_KEY", ""))
	if err != nil || len(sealKey) != 32 {
		log.Fatal().Msg("SEED_STORAGE_KEY must be 64 hex chars (32 bytes)")
	}

	adapters, err := chain.BuildAdapters(chain.Endpoints{
		Blockbook: map[string]string{
			"BTC":  envOr("BLOCKBOOK_BTC_URL", ""),
			"LTC":  envOr("BLOCKBOOK_LTC_URL", ""),
			"DOGE": envOr("BLOCKBOOK_DOGE_URL", ""),
		},
		EthRPC: envOr("ETH_RPC_URL", ""),
		WalletRPC: map[string]string{
			"XMR": envOr("XMR_WALLET_RPC_URL", ""),
		},
	}, chain.DefaultRetryPolicy(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("build adapters")
	}

	walletRepo := repository.NewWalletRepository(db)
	addressRepo := repository.NewAddressRepository(db)
	jobRepo := repository.NewMonitoringJobRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	requestRepo := repository.NewPaymentRequestRepository(db)
	poolRepo := repository.NewPoolAddressRepository(db)

	deriver := service.NewDerivationService()
	notifier := service.NewNotifier(walletRepo, txRepo, nil, service.DefaultNotifyConfig(), log)
	// rates come from an external collaborator; wire a real feed behind
	// RateProvider in deployments that need live snapshots
	rates := service.NewStaticRateProvider(map[string]decimal.Decimal{})

	walletSvc := service.NewWalletService(walletRepo, addressRepo, deriver, notifier, sealKey, log)
	monitor := service.NewMonitor(adapters, walletRepo, addressRepo, jobRepo, txRepo, requestRepo,
		rates, notifier, service.DefaultMonitorConfig(), log)
	paymentSvc := service.NewPaymentRequestService(adapters, requestRepo, poolRepo, nil,
		service.DefaultPaymentRequestConfig(), log)

	r := router.SetupRouter(
		handler.NewWalletHandler(walletSvc),
		handler.NewPaymentRequestHandler(paymentSvc),
		handler.NewMonitorHandler(monitor, notifier),
	)

	addr := envOr("LISTEN_ADDR", ":8080")
	log.Info().Str("addr", addr).Strs("chains", chain.Supported()).Msg("payment gateway listening")
	if err := r.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
