package repository

import (
	"context"
	"errors"
	"time"

	"github.com/crypto_gateway/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrPoolExhausted means no free pool address remains for the chain. The
// caller reports it as a count, never as a crash.
var ErrPoolExhausted = errors.New("address pool exhausted")

type PaymentRequestRepository struct {
	db *gorm.DB
}

func NewPaymentRequestRepository(db *gorm.DB) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db}
}

func (r *PaymentRequestRepository) Create(ctx context.Context, pr *model.PaymentRequest) error {
	return r.db.WithContext(ctx).Create(pr).Error
}

func (r *PaymentRequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.PaymentRequest, error) {
	var pr model.PaymentRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pr).Error; err != nil {
		return nil, err
	}
	return &pr, nil
}

// ExpirePending flips every pending request past its deadline to expired in
// one bulk update, independent of per-address polling.
func (r *PaymentRequestRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.PaymentRequest{}).
		Where("status = ? AND expires_at < ?", model.RequestStatusPending, now).
		Update("status", model.RequestStatusExpired)
	return res.RowsAffected, res.Error
}

// MarkConfirmed transitions pending -> confirmed; the guard keeps the
// transition one-directional and tells the caller whether this call crossed
// the threshold (for the single callback).
func (r *PaymentRequestRepository) MarkConfirmed(ctx context.Context, id uuid.UUID, txid string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.PaymentRequest{}).
		Where("id = ? AND status = ?", id, model.RequestStatusPending).
		Updates(map[string]interface{}{
			"status":       model.RequestStatusConfirmed,
			"tx_id":        txid,
			"confirmed_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkExpired expires a single pending request, same guard as the sweep.
func (r *PaymentRequestRepository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.PaymentRequest{}).
		Where("id = ? AND status = ?", id, model.RequestStatusPending).
		Update("status", model.RequestStatusExpired)
	return res.RowsAffected > 0, res.Error
}

func (r *PaymentRequestRepository) MarkCallbackSent(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&model.PaymentRequest{}).Where("id = ?", id).
		Update("callback_sent", true).Error
}

func (r *PaymentRequestRepository) FindPendingByAddress(ctx context.Context, address string) (*model.PaymentRequest, error) {
	var pr model.PaymentRequest
	err := r.db.WithContext(ctx).
		Where("address = ? AND status = ?", address, model.RequestStatusPending).
		First(&pr).Error
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

type PoolAddressRepository struct {
	db *gorm.DB
}

func NewPoolAddressRepository(db *gorm.DB) *PoolAddressRepository {
	return &PoolAddressRepository{db: db}
}

func (r *PoolAddressRepository) Add(ctx context.Context, chainSym, address string) error {
	return r.db.WithContext(ctx).Create(&model.PoolAddress{Chain: chainSym, Address: address}).Error
}

// Reserve claims one unused pool address for the chain. The used-flag update
// inside the transaction keeps two concurrent reservations off the same row.
func (r *PoolAddressRepository) Reserve(ctx context.Context, chainSym string, now time.Time) (*model.PoolAddress, error) {
	var pa model.PoolAddress
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chain = ? AND used = ?", chainSym, false).
			Order("id ASC").First(&pa).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPoolExhausted
			}
			return err
		}
		res := tx.Model(&model.PoolAddress{}).
			Where("id = ? AND used = ?", pa.ID, false).
			Updates(map[string]interface{}{"used": true, "reserved_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPoolExhausted
		}
		pa.Used = true
		pa.ReservedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pa, nil
}
