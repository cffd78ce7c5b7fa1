package repository

import (
	"context"

	"github.com/crypto_gateway/model"
	"gorm.io/gorm"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(ctx context.Context, w *model.Wallet) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *WalletRepository) FindByID(ctx context.Context, id uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).First(&w, id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) FindByOwner(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// FindByAddress resolves the wallet owning a derived address; the dispatcher
// uses it to read webhook settings for a detected transaction.
func (r *WalletRepository) FindByAddress(ctx context.Context, address string) (*model.Wallet, error) {
	var w model.Wallet
	err := r.db.WithContext(ctx).
		Joins("JOIN derived_addresses ON derived_addresses.wallet_id = wallets.id").
		Where("derived_addresses.address = ?", address).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) UpdateWebhookSettings(ctx context.Context, id uint64, url, secret string, enabled bool, events string) error {
	return r.db.WithContext(ctx).Model(&model.Wallet{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"webhook_url":           url,
			"webhook_secret":        secret,
			"notifications_enabled": enabled,
			"subscribed_events":     events,
		}).Error
}
