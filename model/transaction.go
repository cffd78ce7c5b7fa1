package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction status values. Transitions are one-directional:
// pending -> confirmed or pending -> failed, never back.
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
)

// Transaction is a detected inbound payment. (chain, tx_id, address) is
// unique, which makes re-detection by a concurrent or repeated monitoring
// pass a benign insert conflict rather than a duplicate row.
type Transaction struct {
	ID        uint64 `gorm:"primaryKey" json:"id"`
	AddressID uint64 `gorm:"index;not null" json:"address_id"`
	Chain     string `gorm:"size:16;not null;index:idx_chain_txid_addr,unique,priority:1" json:"chain"`
	TxID      string `gorm:"size:128;not null;index:idx_chain_txid_addr,unique,priority:2" json:"tx_id"`
	Address   string `gorm:"size:128;not null;index:idx_chain_txid_addr,unique,priority:3" json:"address"`

	Amount    decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	AmountUSD decimal.Decimal `gorm:"type:decimal(18,2)" json:"amount_usd"`

	Confirmations         int64  `gorm:"default:0" json:"confirmations"`
	RequiredConfirmations int64  `gorm:"not null" json:"required_confirmations"`
	Status                string `gorm:"size:16;not null;default:pending;index" json:"status"`

	BlockHash   string `gorm:"size:128" json:"block_hash"`
	BlockHeight int64  `json:"block_height"`
	RawPayload  []byte `gorm:"type:bytea" json:"-"`

	// Webhook delivery state for the most recent lifecycle event. Written
	// only after the outcome of a delivery attempt is known; sent flips to
	// true strictly after a 2xx response. WebhookEvent names the event the
	// state refers to, so the confirmed notification is not suppressed by an
	// earlier delivered received notification.
	WebhookSent      bool       `gorm:"default:false;index" json:"webhook_sent"`
	WebhookEvent     string     `gorm:"size:32" json:"webhook_event"`
	WebhookAttempts  int        `gorm:"default:0" json:"webhook_attempts"`
	WebhookLastError string     `gorm:"type:text" json:"webhook_last_error"`
	WebhookSentAt    *time.Time `json:"webhook_sent_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
