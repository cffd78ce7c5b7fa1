package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Transfer(address,address,uint256)
var transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const erc20ABIJSON = `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"from","type":"address"},{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"value","type":"uint256"}],"name":"Transfer","type":"event"},
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// TokenAdapter covers ERC-20 style tokens on an account host chain. Incoming
// payments are classified from parsed Transfer event logs matching both the
// recipient and the token contract, with the amount read from the event value
// scaled by the token's declared decimal count.
type TokenAdapter struct {
	spec      Spec
	backend   Backend
	contract  common.Address
	erc       abi.ABI
	retry     RetryPolicy
	log       zerolog.Logger
	scanDepth uint64
}

func NewTokenAdapter(spec Spec, backend Backend, retry RetryPolicy, log zerolog.Logger) (*TokenAdapter, error) {
	if spec.TokenContract == "" || !common.IsHexAddress(spec.TokenContract) {
		return nil, Errf(KindInvalidInput, "chain.NewTokenAdapter", "chain %s has no token contract", spec.Symbol)
	}
	erc, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &TokenAdapter{
		spec:      spec,
		backend:   backend,
		contract:  common.HexToAddress(spec.TokenContract),
		erc:       erc,
		retry:     retry,
		log:       log.With().Str("adapter", spec.Symbol).Logger(),
		scanDepth: 2000,
	}, nil
}

func (a *TokenAdapter) Symbol() string { return a.spec.Symbol }

func (a *TokenAdapter) scale(units *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(units, 0).Shift(-a.spec.Decimals)
}

func (a *TokenAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	const op = "token.GetBalance"
	if !common.IsHexAddress(address) {
		return decimal.Zero, Errf(KindInvalidInput, op, "malformed address %q", address)
	}
	data, err := a.erc.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, Wrap(KindInvalidInput, op, err)
	}
	var out []byte
	err = a.retry.Do(ctx, a.log, op, func() error {
		var err error
		out, err = a.backend.CallContract(ctx, ethereum.CallMsg{To: &a.contract, Data: data}, nil)
		if err != nil {
			return Wrap(KindTransient, op, err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	vals, err := a.erc.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return decimal.Zero, Errf(KindTransient, op, "unpack balanceOf: %v", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return decimal.Zero, Errf(KindTransient, op, "unexpected balanceOf result type %T", vals[0])
	}
	return a.scale(bal), nil
}

func (a *TokenAdapter) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	return confirmations(ctx, a.backend, a.retry, a.log, "token.GetConfirmations", txid)
}

// ListRecentTransactions filters Transfer logs to the address over a recent
// block window. Each summary's raw payload is the log itself.
func (a *TokenAdapter) ListRecentTransactions(ctx context.Context, address string, page int) ([]TxSummary, error) {
	const op = "token.ListRecentTransactions"
	if !common.IsHexAddress(address) {
		return nil, Errf(KindInvalidInput, op, "malformed address %q", address)
	}
	if page > 1 {
		// one filter window only; older history is out of reach of the node
		return nil, nil
	}
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
		return nil, err
	}
	latest := head.Number.Uint64()
	from := uint64(0)
	if latest > a.scanDepth {
		from = latest - a.scanDepth
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{a.contract},
		Topics: [][]common.Hash{
			{transferEventSig},
			nil,
			{common.BytesToHash(common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32))},
		},
	}
	var logs []types.Log
	err = a.retry.Do(ctx, a.log, op, func() error {
		var err error
		logs, err = a.backend.FilterLogs(ctx, q)
		if err != nil {
			return Wrap(KindTransient, op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]TxSummary, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- { // newest first
		l := logs[i]
		raw, err := json.Marshal(l)
		if err != nil {
			continue
		}
		out = append(out, TxSummary{
			TxID:        l.TxHash.Hex(),
			BlockHash:   l.BlockHash.Hex(),
			BlockHeight: int64(l.BlockNumber),
			Raw:         raw,
		})
	}
	return out, nil
}

// ClassifyIncoming decodes a Transfer log: topic[1]=from, topic[2]=to, value
// in data. The log must come from the token's own contract.
func (a *TokenAdapter) ClassifyIncoming(address string, summary TxSummary) (decimal.Decimal, bool, error) {
	const op = "token.ClassifyIncoming"
	var l types.Log
	if err := json.Unmarshal(summary.Raw, &l); err != nil {
		return decimal.Zero, false, Wrap(KindInvalidInput, op, err)
	}
	if l.Address != a.contract {
		return decimal.Zero, false, nil
	}
	if len(l.Topics) < 3 || l.Topics[0] != transferEventSig {
		return decimal.Zero, false, nil
	}
	to := common.BytesToAddress(l.Topics[2].Bytes()[12:])
	if to != common.HexToAddress(address) {
		return decimal.Zero, false, nil
	}
	var out struct{ Value *big.Int }
	if err := a.erc.UnpackIntoInterface(&out, "Transfer", l.Data); err != nil {
		return decimal.Zero, false, Wrap(KindInvalidInput, op, fmt.Errorf("abi unpack: %w", err))
	}
	return a.scale(out.Value), true, nil
}

func (a *TokenAdapter) FindIncomingTransaction(ctx context.Context, address string, amount decimal.Decimal, within time.Duration) (string, error) {
	txs, err := a.ListRecentTransactions(ctx, address, 1)
	if err != nil {
		return "", err
	}
	for _, tx := range txs {
		received, ok, err := a.ClassifyIncoming(address, tx)
		if err != nil || !ok {
			continue
		}
		if received.GreaterThanOrEqual(amount) {
			return tx.TxID, nil
		}
	}
	return "", nil
}

func (a *TokenAdapter) IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (a *TokenAdapter) GetTransaction(ctx context.Context, txid string) (*TxDetail, error) {
	const op = "token.GetTransaction"
	confs, err := a.GetConfirmations(ctx, txid)
	if err != nil {
		return nil, err
	}
	rec, err := a.backend.TransactionReceipt(ctx, common.HexToHash(txid))
	if err != nil {
		return nil, Wrap(KindNotFound, op, err)
	}
	raw, _ := json.Marshal(rec.Logs)
	return &TxDetail{
		TxID:          txid,
		Confirmations: confs,
		BlockHash:     rec.BlockHash.Hex(),
		BlockHeight:   rec.BlockNumber.Int64(),
		Raw:           raw,
	}, nil
}
