package chain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TxSummary is one entry of an address's recent history. Raw carries the
// adapter-native payload and is what ClassifyIncoming parses; it is also
// persisted verbatim on detected transactions.
type TxSummary struct {
	TxID        string
	BlockHash   string
	BlockHeight int64
	Timestamp   time.Time
	Raw         json.RawMessage
}

// TxDetail is a single-transaction lookup result.
type TxDetail struct {
	TxID          string
	Confirmations int64
	BlockHash     string
	BlockHeight   int64
	Raw           json.RawMessage
}

// Adapter unifies heterogeneous chain backends behind one contract. All
// amounts are in the chain's display unit (scaling by 10^decimals happens
// inside each adapter, in exactly one place).
//
// Errors carry a Kind; callers branch on it: transient/rate-limited failures
// have already been retried by the adapter's policy, not-supported means a
// permanent capability gap, invalid-input and not-found are terminal for the
// single call.
type Adapter interface {
	Symbol() string

	// GetBalance returns the confirmed balance of the address. View-key
	// chains cannot resolve per-address balances and report the wallet
	// account total instead, whatever address is passed.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// GetConfirmations returns the confirmation count for a transaction.
	// An unconfirmed (mempool) transaction yields 0.
	GetConfirmations(ctx context.Context, txid string) (int64, error)

	// FindIncomingTransaction looks for a payment of at least amount to the
	// address within the time window. Returns "" with a nil error when no
	// match exists.
	FindIncomingTransaction(ctx context.Context, address string, amount decimal.Decimal, within time.Duration) (string, error)

	// ListRecentTransactions pages through the address history, newest
	// first. Adapters without history listing return a not-supported error;
	// callers fall back to FindIncomingTransaction.
	ListRecentTransactions(ctx context.Context, address string, page int) ([]TxSummary, error)

	// ClassifyIncoming decides whether the summarized transaction pays the
	// address and with how much. Pure parse over the raw payload.
	ClassifyIncoming(address string, tx TxSummary) (decimal.Decimal, bool, error)

	// IsValidAddress syntactically validates an address for this chain.
	IsValidAddress(address string) bool

	// GetTransaction fetches one transaction by id.
	GetTransaction(ctx context.Context, txid string) (*TxDetail, error)
}
