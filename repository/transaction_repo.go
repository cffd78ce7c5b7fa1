package repository

import (
	"context"
	"time"

	"github.com/crypto_gateway/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// CreateIfAbsent inserts a detected transaction. A duplicate on
// (chain, tx_id, address) is a benign no-op: the method reports created=false
// and no error, so a second concurrent pass fails safe instead of producing
// a duplicate row and a duplicate notification.
func (r *TransactionRepository) CreateIfAbsent(ctx context.Context, tx *model.Transaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain"}, {Name: "tx_id"}, {Name: "address"}},
			DoNothing: true,
		}).
		Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// KnownTxIDs returns the txids already recorded for an address, used to diff
// freshly fetched history against what the ledger has seen.
func (r *TransactionRepository) KnownTxIDs(ctx context.Context, chainSym, address string) (map[string]struct{}, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("chain = ? AND address = ?", chainSym, address).
		Pluck("tx_id", &ids).Error
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return known, nil
}

func (r *TransactionRepository) PendingBatch(ctx context.Context, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ?", model.TxStatusPending).
		Order("updated_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *TransactionRepository) UpdateConfirmations(ctx context.Context, id uint64, confirmations int64) error {
	return r.db.WithContext(ctx).Model(&model.Transaction{}).Where("id = ?", id).
		Update("confirmations", confirmations).Error
}

// MarkConfirmed flips pending -> confirmed. The status guard in the WHERE
// clause keeps the transition monotonic and makes the caller's "crossed the
// threshold just now" check race-free: only one pass observes rows=1.
func (r *TransactionRepository) MarkConfirmed(ctx context.Context, id uint64, confirmations int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxStatusPending).
		Updates(map[string]interface{}{
			"status":        model.TxStatusConfirmed,
			"confirmations": confirmations,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *TransactionRepository) MarkFailed(ctx context.Context, id uint64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxStatusPending).
		Update("status", model.TxStatusFailed)
	return res.RowsAffected > 0, res.Error
}

func (r *TransactionRepository) FindByID(ctx context.Context, id uint64) (*model.Transaction, error) {
	var tx model.Transaction
	if err := r.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepository) FindByChainTxIDAddress(ctx context.Context, chainSym, txid, address string) (*model.Transaction, error) {
	var tx model.Transaction
	err := r.db.WithContext(ctx).
		Where("chain = ? AND tx_id = ? AND address = ?", chainSym, txid, address).
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepository) ListByAddress(ctx context.Context, address string) ([]model.Transaction, error) {
	var txs []model.Transaction
	if err := r.db.WithContext(ctx).Where("address = ?", address).Order("created_at DESC").Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

// MarkWebhookSent records a verified 2xx delivery of one event. Called only
// after the response has been read; never before.
func (r *TransactionRepository) MarkWebhookSent(ctx context.Context, id uint64, event string, attempts int, sentAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Transaction{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"webhook_sent":       true,
			"webhook_event":      event,
			"webhook_attempts":   attempts,
			"webhook_last_error": "",
			"webhook_sent_at":    sentAt,
		}).Error
}

// RecordWebhookFailure persists the attempt count and last error after an
// exhausted delivery cycle, leaving the row eligible for the retry pass.
func (r *TransactionRepository) RecordWebhookFailure(ctx context.Context, id uint64, event string, attempts int, lastErr string) error {
	return r.db.WithContext(ctx).Model(&model.Transaction{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"webhook_sent":       false,
			"webhook_event":      event,
			"webhook_attempts":   attempts,
			"webhook_last_error": lastErr,
		}).Error
}

// FailedWebhookBatch selects transactions with undelivered webhooks that have
// retry budget left.
func (r *TransactionRepository) FailedWebhookBatch(ctx context.Context, maxAttempts, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("webhook_sent = ? AND webhook_attempts > 0 AND webhook_attempts < ?", false, maxAttempts).
		Order("updated_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}
