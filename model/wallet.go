package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet is the per-owner HD wallet root. Seed material is stored encrypted
// and is never rotated after creation.
type Wallet struct {
	ID              uint64 `gorm:"primaryKey" json:"id"`
	OwnerID         uint64 `gorm:"uniqueIndex;not null" json:"owner_id"`
	EncryptedSeed   []byte `gorm:"type:bytea;not null" json:"-"`
	SeedFingerprint string `gorm:"size:64" json:"seed_fingerprint"`
	MasterPublicKey string `gorm:"size:256" json:"master_public_key"`

	WebhookURL           string `gorm:"size:512" json:"webhook_url"`
	WebhookSecret        string `gorm:"size:128" json:"-"`
	NotificationsEnabled bool   `gorm:"default:true" json:"notifications_enabled"`
	// SubscribedEvents is a comma-separated list of event kinds; empty means all.
	SubscribedEvents string `gorm:"size:256" json:"subscribed_events"`

	Addresses []DerivedAddress `gorm:"foreignKey:WalletID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time        `json:"created_at"`
}

// SubscribedTo reports whether the wallet owner wants webhooks for the event kind.
func (w *Wallet) SubscribedTo(event string) bool {
	if !w.NotificationsEnabled {
		return false
	}
	if w.SubscribedEvents == "" {
		return true
	}
	for _, e := range strings.Split(w.SubscribedEvents, ",") {
		if strings.TrimSpace(e) == event {
			return true
		}
	}
	return false
}

// DerivedAddress is one HD-derived deposit address. (wallet_id, chain,
// address_index) is unique and indexes are assigned strictly increasing per
// wallet/chain; the address string itself is globally unique.
type DerivedAddress struct {
	ID           uint64 `gorm:"primaryKey" json:"id"`
	WalletID     uint64 `gorm:"not null;index:idx_wallet_chain_index,unique,priority:1" json:"wallet_id"`
	Chain        string `gorm:"size:16;not null;index:idx_wallet_chain_index,unique,priority:2" json:"chain"`
	AddressIndex uint32 `gorm:"not null;index:idx_wallet_chain_index,unique,priority:3" json:"address_index"`

	Address             string `gorm:"size:128;uniqueIndex;not null" json:"address"`
	DerivationPath      string `gorm:"size:64;not null" json:"derivation_path"`
	PublicKey           string `gorm:"size:256" json:"public_key"`
	EncryptedPrivateKey []byte `gorm:"type:bytea" json:"-"`

	Balance          decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"balance"`
	BalanceCheckedAt *time.Time      `json:"balance_checked_at"`
	Active           bool            `gorm:"default:true;index" json:"active"`
	Label            string          `gorm:"size:128" json:"label"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MonitoringJob holds the polling cursor for one derived address. Jobs are
// created alongside their address and deactivated rather than deleted; the
// cursor only advances when a check completes.
type MonitoringJob struct {
	ID        uint64 `gorm:"primaryKey" json:"id"`
	AddressID uint64 `gorm:"uniqueIndex;not null" json:"address_id"`
	Chain     string `gorm:"size:16;not null" json:"chain"`
	Address   string `gorm:"size:128;not null" json:"address"`

	LastCheckedAt   *time.Time `gorm:"index" json:"last_checked_at"`
	LastBlockHash   string     `gorm:"size:128" json:"last_block_hash"`
	LastBlockHeight int64      `json:"last_block_height"`
	Active          bool       `gorm:"default:true;index" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutoMigrate creates all gateway tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Wallet{},
		&DerivedAddress{},
		&MonitoringJob{},
		&Transaction{},
		&PaymentRequest{},
		&PoolAddress{},
	)
}
