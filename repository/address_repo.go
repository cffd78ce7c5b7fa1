package repository

import (
	"context"
	"time"

	"github.com/crypto_gateway/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AddressRepository struct {
	db *gorm.DB
}

func NewAddressRepository(db *gorm.DB) *AddressRepository {
	return &AddressRepository{db: db}
}

// CreateNext assigns the next address index for (wallet, chain) as
// max(existing)+1 starting at 0, calls derive to build the row, and persists
// the address together with its monitoring job in one transaction. The unique
// index on (wallet_id, chain, address_index) catches concurrent assignment.
func (r *AddressRepository) CreateNext(ctx context.Context, walletID uint64, chainSym string,
	derive func(index uint32) (*model.DerivedAddress, error)) (*model.DerivedAddress, error) {

	var created *model.DerivedAddress
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next uint32
		row := tx.Model(&model.DerivedAddress{}).
			Select("COALESCE(MAX(address_index) + 1, 0)").
			Where("wallet_id = ? AND chain = ?", walletID, chainSym).
			Row()
		if err := row.Scan(&next); err != nil {
			return err
		}
		addr, err := derive(next)
		if err != nil {
			return err
		}
		if err := tx.Create(addr).Error; err != nil {
			return err
		}
		job := model.MonitoringJob{
			AddressID: addr.ID,
			Chain:     addr.Chain,
			Address:   addr.Address,
			Active:    true,
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		created = addr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *AddressRepository) FindByID(ctx context.Context, id uint64) (*model.DerivedAddress, error) {
	var a model.DerivedAddress
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AddressRepository) FindByAddress(ctx context.Context, address string) (*model.DerivedAddress, error) {
	var a model.DerivedAddress
	if err := r.db.WithContext(ctx).Where("address = ?", address).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AddressRepository) ListByWallet(ctx context.Context, walletID uint64, chainSym string) ([]model.DerivedAddress, error) {
	var list []model.DerivedAddress
	q := r.db.WithContext(ctx).Where("wallet_id = ?", walletID)
	if chainSym != "" {
		q = q.Where("chain = ?", chainSym)
	}
	if err := q.Order("chain, address_index").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *AddressRepository) UpdateBalance(ctx context.Context, id uint64, balance decimal.Decimal, checkedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.DerivedAddress{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"balance":            balance,
			"balance_checked_at": checkedAt,
		}).Error
}

// Deactivate flips the address and its monitoring job inactive; neither row
// is deleted.
func (r *AddressRepository) Deactivate(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.DerivedAddress{}).Where("id = ?", id).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Model(&model.MonitoringJob{}).Where("address_id = ?", id).
			Update("active", false).Error
	})
}
