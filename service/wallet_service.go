package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crypto_gateway/chain"
	"github.com/crypto_gateway/model"
	"github.com/crypto_gateway/repository"
)

// WalletService owns wallet creation and HD address issuance.
type WalletService struct {
	wallets  *repository.WalletRepository
	addrs    *repository.AddressRepository
	deriver  *DerivationService
	notifier *Notifier
	sealKey  []byte
	log      zerolog.Logger
}

func NewWalletService(
	wallets *repository.WalletRepository,
	addrs *repository.AddressRepository,
	deriver *DerivationService,
	notifier *Notifier,
	sealKey []byte,
	log zerolog.Logger,
) *WalletService {
	return &WalletService{
		wallets:  wallets,
		addrs:    addrs,
		deriver:  deriver,
		notifier: notifier,
		sealKey:  sealKey,
		log:      log.With().Str("component", "wallets").Logger(),
	}
}

// CreateWallet generates a fresh mnemonic, stores the seed encrypted and
// returns the mnemonic exactly once; it is never persisted in clear. One
// wallet per owner, immutable after creation.
func (s *WalletService) CreateWallet(ctx context.Context, ownerID uint64, webhookURL, webhookSecret string) (*model.Wallet, string, error) {
	mnemonic, err := s.deriver.GenerateMnemonic()
	if err != nil {
		return nil, "", err
	}
	seed := s.deriver.SeedFromMnemonic(mnemonic, "")
	sealed, err := sealSeed(s.sealKey, seed)
	if err != nil {
		return nil, "", fmt.Errorf("seal seed: %w", err)
	}
	xpub, err := s.deriver.MasterPublicKey(seed)
	if err != nil {
		return nil, "", err
	}
	w := &model.Wallet{
		OwnerID:              ownerID,
		EncryptedSeed:        sealed,
		SeedFingerprint:      s.deriver.Fingerprint(seed),
		MasterPublicKey:      xpub,
		WebhookURL:           webhookURL,
		WebhookSecret:        webhookSecret,
		NotificationsEnabled: true,
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		return nil, "", fmt.Errorf("persist wallet: %w", err)
	}
	return w, mnemonic, nil
}

// GenerateAddress derives the next address for (wallet, chain), persists it
// with its monitoring job atomically and emits address_generated.
func (s *WalletService) GenerateAddress(ctx context.Context, walletID uint64, chainSym, label string) (*model.DerivedAddress, error) {
	if _, err := chain.Lookup(chainSym); err != nil {
		return nil, err
	}
	w, err := s.wallets.FindByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	seed, err := openSeed(s.sealKey, w.EncryptedSeed)
	if err != nil {
		return nil, fmt.Errorf("unseal seed: %w", err)
	}
	addr, err := s.addrs.CreateNext(ctx, walletID, chainSym, func(index uint32) (*model.DerivedAddress, error) {
		key, err := s.deriver.Derive(seed, chainSym, index)
		if err != nil {
			return nil, err
		}
		sealedPriv, err := sealSeed(s.sealKey, key.PrivateKey)
		if err != nil {
			return nil, err
		}
		return &model.DerivedAddress{
			WalletID:            walletID,
			Chain:               chainSym,
			AddressIndex:        index,
			Address:             key.Address,
			DerivationPath:      key.DerivationPath,
			PublicKey:           key.PublicKey,
			EncryptedPrivateKey: sealedPriv,
			Balance:             decimal.Zero,
			Active:              true,
			Label:               label,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint64("wallet", walletID).Str("chain", chainSym).
		Str("address", addr.Address).Str("path", addr.DerivationPath).Msg("address generated")
	s.notifier.NotifyAddress(ctx, w, addr, EventAddressGenerated)
	return addr, nil
}

func (s *WalletService) ListAddresses(ctx context.Context, walletID uint64, chainSym string) ([]model.DerivedAddress, error) {
	return s.addrs.ListByWallet(ctx, walletID, chainSym)
}

// GetCachedBalance returns the ledger's last known balance; refreshing it is
// the monitor's job.
func (s *WalletService) GetCachedBalance(ctx context.Context, address string) (*model.DerivedAddress, error) {
	return s.addrs.FindByAddress(ctx, address)
}

func (s *WalletService) DeactivateAddress(ctx context.Context, addressID uint64) error {
	return s.addrs.Deactivate(ctx, addressID)
}
