package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Backend is the subset of ethclient.Client the account and token adapters
// need; tests inject a fake.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// AccountAdapter covers account-model chains via JSON-RPC. Incoming payments
// are classified by direct equality on the transaction destination.
//
// The node exposes no per-address history, so ListRecentTransactions reports
// not-supported and FindIncomingTransaction scans recent blocks instead.
type AccountAdapter struct {
	spec      Spec
	backend   Backend
	retry     RetryPolicy
	log       zerolog.Logger
	scanDepth uint64
}

func NewAccountAdapter(spec Spec, backend Backend, retry RetryPolicy, log zerolog.Logger) *AccountAdapter {
	return &AccountAdapter{
		spec:      spec,
		backend:   backend,
		retry:     retry,
		log:       log.With().Str("adapter", spec.Symbol).Logger(),
		scanDepth: 120,
	}
}

func (a *AccountAdapter) Symbol() string { return a.spec.Symbol }

// accountTx is the persisted raw payload for account-chain transactions.
type accountTx struct {
	Hash        string `json:"hash"`
	To          string `json:"to"`
	Value       string `json:"value"` // base units, decimal string
	BlockHash   string `json:"blockHash"`
	BlockNumber int64  `json:"blockNumber"`
}

func (a *AccountAdapter) scale(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, 0).Shift(-a.spec.Decimals)
}

func (a *AccountAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	const op = "account.GetBalance"
	if !common.IsHexAddress(address) {
		return decimal.Zero, Errf(KindInvalidInput, op, "malformed address %q", address)
	}
	var bal *big.Int
	err := a.retry.Do(ctx, a.log, op, func() error {
		var err error
		bal, err = a.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return Wrap(KindTransient, op, err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return a.scale(bal), nil
}

// confirmations is the receipt-based count shared with the token adapter:
// latest height - tx height + 1, zero while the tx sits in the mempool.
func confirmations(ctx context.Context, backend Backend, retry RetryPolicy, log zerolog.Logger, op, txid string) (int64, error) {
	var confs int64
	err := retry.Do(ctx, log, op, func() error {
		rec, err := backend.TransactionReceipt(ctx, common.HexToHash(txid))
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				confs = 0
				return nil
			}
			return Wrap(KindTransient, op, err)
		}
		head, err := backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return Wrap(KindTransient, op, err)
		}
		txBlock := rec.BlockNumber.Int64()
		latest := head.Number.Int64()
		if latest < txBlock {
			confs = 0
			return nil
		}
		confs = latest - txBlock + 1
		return nil
	})
	return confs, err
}

func (a *AccountAdapter) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	return confirmations(ctx, a.backend, a.retry, a.log, "account.GetConfirmations", txid)
}

func (a *AccountAdapter) ListRecentTransactions(ctx context.Context, address string, page int) ([]TxSummary, error) {
	return nil, Errf(KindNotSupported, "account.ListRecentTransactions",
		"%s node exposes no address history; use FindIncomingTransaction", a.spec.Symbol)
}

// FindIncomingTransaction walks recent blocks looking for a plain transfer to
// the address of at least the given amount. The block-time window bounds the
// walk in addition to the fixed depth cap.
func (a *AccountAdapter) FindIncomingTransaction(ctx context.Context, address string, amount decimal.Decimal, within time.Duration) (string, error) {
	const op = "account.FindIncomingTransaction"
	if !common.IsHexAddress(address) {
		return "", Errf(KindInvalidInput, op, "malformed address %q", address)
	}
	target := common.HexToAddress(address)
	cutoff := time.Now().Add(-within).Unix()

	var head *types.Header
	err := a.retry.Do(ctx, a.log, op, func() error {
		var err error
		head, err = a.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return Wrap(KindTransient, op, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	latest := head.Number.Uint64()
	floor := uint64(0)
	if latest > a.scanDepth {
		floor = latest - a.scanDepth
	}
	for n := latest; n > floor; n-- {
		var block *types.Block
		err := a.retry.Do(ctx, a.log, op, func() error {
			var err error
			block, err = a.backend.BlockByNumber(ctx, new(big.Int).SetUint64(n))
			if err != nil {
				return Wrap(KindTransient, op, err)
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		if int64(block.Time()) < cutoff {
			return "", nil
		}
		for _, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != target {
				continue
			}
			if a.scale(tx.Value()).GreaterThanOrEqual(amount) {
				return tx.Hash().Hex(), nil
			}
		}
	}
	return "", nil
}

func (a *AccountAdapter) ClassifyIncoming(address string, summary TxSummary) (decimal.Decimal, bool, error) {
	const op = "account.ClassifyIncoming"
	var tx accountTx
	if err := json.Unmarshal(summary.Raw, &tx); err != nil {
		return decimal.Zero, false, Wrap(KindInvalidInput, op, err)
	}
	if !common.IsHexAddress(tx.To) || common.HexToAddress(tx.To) != common.HexToAddress(address) {
		return decimal.Zero, false, nil
	}
	v, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok {
		return decimal.Zero, false, Errf(KindInvalidInput, op, "bad value %q", tx.Value)
	}
	return a.scale(v), true, nil
}

func (a *AccountAdapter) IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (a *AccountAdapter) GetTransaction(ctx context.Context, txid string) (*TxDetail, error) {
	const op = "account.GetTransaction"
	var detail *TxDetail
	err := a.retry.Do(ctx, a.log, op, func() error {
		tx, pending, err := a.backend.TransactionByHash(ctx, common.HexToHash(txid))
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return Errf(KindNotFound, op, "tx %s", txid)
			}
			return Wrap(KindTransient, op, err)
		}
		to := ""
		if tx.To() != nil {
			to = tx.To().Hex()
		}
		at := accountTx{Hash: tx.Hash().Hex(), To: to, Value: tx.Value().String()}
		var confs int64
		if !pending {
			rec, err := a.backend.TransactionReceipt(ctx, tx.Hash())
			if err == nil {
				at.BlockHash = rec.BlockHash.Hex()
				at.BlockNumber = rec.BlockNumber.Int64()
				if head, herr := a.backend.HeaderByNumber(ctx, nil); herr == nil {
					confs = head.Number.Int64() - at.BlockNumber + 1
				}
			}
		}
		raw, _ := json.Marshal(at)
		detail = &TxDetail{
			TxID:          at.Hash,
			Confirmations: confs,
			BlockHash:     at.BlockHash,
			BlockHeight:   at.BlockNumber,
			Raw:           raw,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}
