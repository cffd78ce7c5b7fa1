package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRequest status values. Expiry is enforced independently of
// confirmation progress: a pending request past expires_at becomes expired
// on the next sweep no matter what the chain says.
const (
	RequestStatusPending   = "pending"
	RequestStatusConfirmed = "confirmed"
	RequestStatusExpired   = "expired"
	RequestStatusFailed    = "failed"
)

// PaymentRequest is a one-shot expiring payment intent bound to a single
// pool address.
type PaymentRequest struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Chain   string    `gorm:"size:16;not null;index" json:"chain"`
	Address string    `gorm:"size:128;not null;index" json:"address"`

	Amount                decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	RequiredConfirmations int64           `gorm:"not null" json:"required_confirmations"`
	Status                string          `gorm:"size:16;not null;default:pending;index" json:"status"`

	TxID         string     `gorm:"size:128" json:"tx_id"`
	CallbackURL  string     `gorm:"size:512" json:"callback_url"`
	CallbackSent bool       `gorm:"default:false" json:"callback_sent"`
	ConfirmedAt  *time.Time `json:"confirmed_at"`

	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the request is past its deadline at t.
func (p *PaymentRequest) Expired(t time.Time) bool {
	return t.After(p.ExpiresAt)
}

// PoolAddress is a static, non-HD address reserved for a single payment
// request use.
type PoolAddress struct {
	ID         uint64     `gorm:"primaryKey" json:"id"`
	Chain      string     `gorm:"size:16;not null;index" json:"chain"`
	Address    string     `gorm:"size:128;uniqueIndex;not null" json:"address"`
	Used       bool       `gorm:"default:false;index" json:"used"`
	ReservedAt *time.Time `json:"reserved_at"`
	CreatedAt  time.Time  `json:"created_at"`
}
