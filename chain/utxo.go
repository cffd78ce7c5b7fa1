package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// UTXOAdapter talks to a Blockbook-style REST index. Incoming payments are
// classified by scanning transaction outputs for the target address and
// summing the matching output values.
type UTXOAdapter struct {
	spec    Spec
	baseURL string
	client  *http.Client
	retry   RetryPolicy
	log     zerolog.Logger
}

func NewUTXOAdapter(spec Spec, baseURL string, client *http.Client, retry RetryPolicy, log zerolog.Logger) *UTXOAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &UTXOAdapter{
		spec:    spec,
		baseURL: baseURL,
		client:  client,
		retry:   retry,
		log:     log.With().Str("adapter", spec.Symbol).Logger(),
	}
}

func (a *UTXOAdapter) Symbol() string { return a.spec.Symbol }

// Blockbook wire types. Values are integer strings in base units.
type utxoVout struct {
	Value     string   `json:"value"`
	Addresses []string `json:"addresses"`
}

type utxoTx struct {
	TxID          string     `json:"txid"`
	Vout          []utxoVout `json:"vout"`
	BlockHash     string     `json:"blockHash"`
	BlockHeight   int64      `json:"blockHeight"`
	Confirmations int64      `json:"confirmations"`
	BlockTime     int64      `json:"blockTime"`
}

type utxoAddressResp struct {
	Address      string   `json:"address"`
	Balance      string   `json:"balance"`
	TotalPages   int      `json:"totalPages"`
	Transactions []utxoTx `json:"transactions"`
}

func (a *UTXOAdapter) getJSON(ctx context.Context, op, path string, out any) error {
	return a.retry.Do(ctx, a.log, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
		if err != nil {
			return Wrap(KindInvalidInput, op, err)
		}
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
		case resp.StatusCode == http.StatusNotFound:
			return Errf(KindNotFound, op, "status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return Errf(KindInvalidInput, op, "status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Wrap(KindTransient, op, err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return Wrap(KindTransient, op, fmt.Errorf("decode: %w", err))
		}
		return nil
	})
}

// scale converts an integer base-unit string to the display unit. The single
// place this chain's 10^decimals division happens.
func (a *UTXOAdapter) scale(baseUnits string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(baseUnits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", baseUnits, err)
	}
	return v.Shift(-a.spec.Decimals), nil
}

func (a *UTXOAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var resp utxoAddressResp
	if err := a.getJSON(ctx, "utxo.GetBalance", "/api/v2/address/"+address+"?details=basic", &resp); err != nil {
		return decimal.Zero, err
	}
	bal, err := a.scale(resp.Balance)
	if err != nil {
		return decimal.Zero, Wrap(KindTransient, "utxo.GetBalance", err)
	}
	return bal, nil
}

func (a *UTXOAdapter) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	var tx utxoTx
	if err := a.getJSON(ctx, "utxo.GetConfirmations", "/api/v2/tx/"+txid, &tx); err != nil {
		return 0, err
	}
	return tx.Confirmations, nil
}

func (a *UTXOAdapter) ListRecentTransactions(ctx context.Context, address string, page int) ([]TxSummary, error) {
	if page < 1 {
		page = 1
	}
	var resp utxoAddressResp
	path := fmt.Sprintf("/api/v2/address/%s?details=txs&page=%d", address, page)
	if err := a.getJSON(ctx, "utxo.ListRecentTransactions", path, &resp); err != nil {
		return nil, err
	}
	out := make([]TxSummary, 0, len(resp.Transactions))
	for _, tx := range resp.Transactions {
		raw, err := json.Marshal(tx)
		if err != nil {
			continue
		}
		out = append(out, TxSummary{
			TxID:        tx.TxID,
			BlockHash:   tx.BlockHash,
			BlockHeight: tx.BlockHeight,
			Timestamp:   time.Unix(tx.BlockTime, 0),
			Raw:         raw,
		})
	}
	return out, nil
}

func (a *UTXOAdapter) ClassifyIncoming(address string, summary TxSummary) (decimal.Decimal, bool, error) {
	var tx utxoTx
	if err := json.Unmarshal(summary.Raw, &tx); err != nil {
		return decimal.Zero, false, Wrap(KindInvalidInput, "utxo.ClassifyIncoming", err)
	}
	total := decimal.Zero
	matched := false
	for _, vout := range tx.Vout {
		for _, addr := range vout.Addresses {
			if addr != address {
				continue
			}
			v, err := a.scale(vout.Value)
			if err != nil {
				return decimal.Zero, false, Wrap(KindInvalidInput, "utxo.ClassifyIncoming", err)
			}
			total = total.Add(v)
			matched = true
		}
	}
	return total, matched, nil
}

func (a *UTXOAdapter) FindIncomingTransaction(ctx context.Context, address string, amount decimal.Decimal, within time.Duration) (string, error) {
	cutoff := time.Now().Add(-within)
	for page := 1; page <= 3; page++ {
		txs, err := a.ListRecentTransactions(ctx, address, page)
		if err != nil {
			return "", err
		}
		if len(txs) == 0 {
			return "", nil
		}
		for _, tx := range txs {
			if !tx.Timestamp.IsZero() && tx.Timestamp.Before(cutoff) {
				return "", nil
			}
			received, ok, err := a.ClassifyIncoming(address, tx)
			if err != nil || !ok {
				continue
			}
			if received.GreaterThanOrEqual(amount) {
				return tx.TxID, nil
			}
		}
	}
	return "", nil
}

func (a *UTXOAdapter) IsValidAddress(address string) bool {
	_, version, err := base58.CheckDecode(address)
	return err == nil && version == a.spec.P2PKHVersion
}

func (a *UTXOAdapter) GetTransaction(ctx context.Context, txid string) (*TxDetail, error) {
	var tx utxoTx
	if err := a.getJSON(ctx, "utxo.GetTransaction", "/api/v2/tx/"+txid, &tx); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(tx)
	return &TxDetail{
		TxID:          tx.TxID,
		Confirmations: tx.Confirmations,
		BlockHash:     tx.BlockHash,
		BlockHeight:   tx.BlockHeight,
		Raw:           raw,
	}, nil
}
