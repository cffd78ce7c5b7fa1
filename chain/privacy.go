package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PrivacyAdapter talks to a view-key wallet RPC (monero-wallet-rpc style
// JSON envelope: method, params, id=1). Balances and per-txid confirmation
// lookups work; classifying arbitrary transactions by destination or amount
// is impossible with a view key only, so those operations report a permanent
// capability gap rather than returning an incorrect result.
type PrivacyAdapter struct {
	spec    Spec
	rpcURL  string
	client  *http.Client
	retry   RetryPolicy
	log     zerolog.Logger
	account uint32
}

func NewPrivacyAdapter(spec Spec, rpcURL string, client *http.Client, retry RetryPolicy, log zerolog.Logger) *PrivacyAdapter {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &PrivacyAdapter{
		spec:   spec,
		rpcURL: rpcURL,
		client: client,
		retry:  retry,
		log:    log.With().Str("adapter", spec.Symbol).Logger(),
	}
}

func (a *PrivacyAdapter) Symbol() string { return a.spec.Symbol }

type walletRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type walletRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type walletRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *walletRPCError `json:"error"`
}

func (a *PrivacyAdapter) call(ctx context.Context, op, method string, params, out any) error {
	return a.retry.Do(ctx, a.log, op, func() error {
		body, err := json.Marshal(walletRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
		if err != nil {
			return Wrap(KindInvalidInput, op, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.rpcURL, bytes.NewReader(body))
		if err != nil {
			return Wrap(KindInvalidInput, op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.client.Do(req)
		if err != nil {
			return Wrap(KindTransient, op, err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return Errf(KindRateLimited, op, "status %d", resp.StatusCode)
		case resp.StatusCode >= 500:
			return Errf(KindTransient, op, "status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return Errf(KindInvalidInput, op, "status %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return Wrap(KindTransient, op, err)
		}
		var envelope walletRPCResponse
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return Wrap(KindTransient, op, fmt.Errorf("decode: %w", err))
		}
		if envelope.Error != nil {
			return Errf(KindInvalidInput, op, "rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
		}
		if out != nil {
			if err := json.Unmarshal(envelope.Result, out); err != nil {
				return Wrap(KindTransient, op, fmt.Errorf("decode result: %w", err))
			}
		}
		return nil
	})
}

// scale converts atomic units; this chain uses 12 decimals.
func (a *PrivacyAdapter) scale(atomic uint64) decimal.Decimal {
	return decimal.NewFromUint64(atomic).Shift(-a.spec.Decimals)
}

// GetBalance returns the wallet account's balance, not a per-address one: the
// wallet RPC tracks funds per account index, and subaddress attribution is
// not available through a view key. The address argument is ignored, so any
// caller caching balances per address ends up with the account total on each
// of that wallet's addresses.
func (a *PrivacyAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var result struct {
		Balance uint64 `json:"balance"`
	}
	params := map[string]any{"account_index": a.account}
	if err := a.call(ctx, "privacy.GetBalance", "get_balance", params, &result); err != nil {
		return decimal.Zero, err
	}
	return a.scale(result.Balance), nil
}

func (a *PrivacyAdapter) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	var result struct {
		Transfer struct {
			Confirmations int64 `json:"confirmations"`
		} `json:"transfer"`
	}
	params := map[string]any{"txid": txid, "account_index": a.account}
	if err := a.call(ctx, "privacy.GetConfirmations", "get_transfer_by_txid", params, &result); err != nil {
		return 0, err
	}
	return result.Transfer.Confirmations, nil
}

func (a *PrivacyAdapter) ListRecentTransactions(ctx context.Context, address string, page int) ([]TxSummary, error) {
	return nil, Errf(KindNotSupported, "privacy.ListRecentTransactions",
		"%s is view-key-only; per-address history is not available", a.spec.Symbol)
}

func (a *PrivacyAdapter) ClassifyIncoming(address string, tx TxSummary) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, Errf(KindNotSupported, "privacy.ClassifyIncoming",
		"%s cannot classify by destination or amount", a.spec.Symbol)
}

func (a *PrivacyAdapter) FindIncomingTransaction(ctx context.Context, address string, amount decimal.Decimal, within time.Duration) (string, error) {
	return "", Errf(KindNotSupported, "privacy.FindIncomingTransaction",
		"%s cannot match payments by amount", a.spec.Symbol)
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func (a *PrivacyAdapter) IsValidAddress(address string) bool {
	if len(address) < 90 || len(address) > 110 {
		return false
	}
	if address[0] != '4' && address[0] != '8' {
		return false
	}
	for _, c := range address {
		if !strings.ContainsRune(base58Alphabet, c) {
			return false
		}
	}
	return true
}

func (a *PrivacyAdapter) GetTransaction(ctx context.Context, txid string) (*TxDetail, error) {
	var result struct {
		Transfer struct {
			TxID          string `json:"txid"`
			Confirmations int64  `json:"confirmations"`
			Height        int64  `json:"height"`
		} `json:"transfer"`
	}
	params := map[string]any{"txid": txid, "account_index": a.account}
	if err := a.call(ctx, "privacy.GetTransaction", "get_transfer_by_txid", params, &result); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(result.Transfer)
	return &TxDetail{
		TxID:          result.Transfer.TxID,
		Confirmations: result.Transfer.Confirmations,
		BlockHeight:   result.Transfer.Height,
		Raw:           raw,
	}, nil
}
