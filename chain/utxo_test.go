package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBTCAddr  = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	otherBTCAddr = "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"
	testBTCTxID  = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func newBTCAdapter(t *testing.T, handler http.Handler) (*UTXOAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	spec, err := Lookup("BTC")
	require.NoError(t, err)
	return NewUTXOAdapter(spec, srv.URL, srv.Client(), testPolicy(), zerolog.Nop()), srv
}

func TestUTXOGetBalanceScaling(t *testing.T) {
	a, _ := newBTCAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/address/"+testBTCAddr, r.URL.Path)
		fmt.Fprintf(w, `{"address":%q,"balance":"150000000"}`, testBTCAddr)
	}))

	bal, err := a.GetBalance(context.Background(), testBTCAddr)
	require.NoError(t, err)
	assert.Equal(t, "1.5", bal.String())
}

func TestUTXOGetBalanceRetriesServerError(t *testing.T) {
	calls := 0
	a, _ := newBTCAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"balance":"100000000"}`)
	}))

	bal, err := a.GetBalance(context.Background(), testBTCAddr)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "1", bal.String())
}

func TestUTXOGetBalanceNotFound(t *testing.T) {
	calls := 0
	a, _ := newBTCAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := a.GetBalance(context.Background(), testBTCAddr)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, calls, "not-found is terminal, no retry")
}

func TestUTXOClassifyIncomingSumsMatchingOutputs(t *testing.T) {
	a, _ := newBTCAdapter(t, nil)

	raw, err := json.Marshal(utxoTx{
		TxID: testBTCTxID,
		Vout: []utxoVout{
			{Value: "100000", Addresses: []string{testBTCAddr}},
			{Value: "250000", Addresses: []string{otherBTCAddr}},
			{Value: "50000", Addresses: []string{testBTCAddr}},
		},
	})
	require.NoError(t, err)

	amount, ok, err := a.ClassifyIncoming(testBTCAddr, TxSummary{TxID: testBTCTxID, Raw: raw})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.0015", amount.String())
}

func TestUTXOClassifyIncomingNoMatch(t *testing.T) {
	a, _ := newBTCAdapter(t, nil)

	raw, err := json.Marshal(utxoTx{
		TxID: testBTCTxID,
		Vout: []utxoVout{{Value: "100000", Addresses: []string{otherBTCAddr}}},
	})
	require.NoError(t, err)

	amount, ok, err := a.ClassifyIncoming(testBTCAddr, TxSummary{TxID: testBTCTxID, Raw: raw})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, amount.IsZero())
}

func TestUTXOListRecentTransactions(t *testing.T) {
	now := time.Now().Unix()
	a, _ := newBTCAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "txs", r.URL.Query().Get("details"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		resp := utxoAddressResp{
			Address: testBTCAddr,
			Transactions: []utxoTx{
				{TxID: "tx-new", BlockHeight: 900, BlockTime: now},
				{TxID: "tx-old", BlockHeight: 880, BlockTime: now - 3600},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))

	txs, err := a.ListRecentTransactions(context.Background(), testBTCAddr, 1)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-new", txs[0].TxID)
	assert.Equal(t, int64(900), txs[0].BlockHeight)
	assert.NotEmpty(t, txs[0].Raw)
}

func TestUTXOFindIncomingTransaction(t *testing.T) {
	now := time.Now().Unix()
	a, _ := newBTCAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			json.NewEncoder(w).Encode(utxoAddressResp{})
			return
		}
		json.NewEncoder(w).Encode(utxoAddressResp{
			Transactions: []utxoTx{
				{TxID: "tx-small", BlockTime: now, Vout: []utxoVout{{Value: "1000", Addresses: []string{testBTCAddr}}}},
				{TxID: "tx-paid", BlockTime: now, Vout: []utxoVout{{Value: "100000", Addresses: []string{testBTCAddr}}}},
			},
		})
	}))

	txid, err := a.FindIncomingTransaction(context.Background(), testBTCAddr, mustDecimal(t, "0.001"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "tx-paid", txid)
}

func TestUTXOFindIncomingTransactionRespectsWindow(t *testing.T) {
	stale := time.Now().Add(-48 * time.Hour).Unix()
	a, _ := newBTCAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(utxoAddressResp{
			Transactions: []utxoTx{
				{TxID: "tx-stale", BlockTime: stale, Vout: []utxoVout{{Value: "100000", Addresses: []string{testBTCAddr}}}},
			},
		})
	}))

	txid, err := a.FindIncomingTransaction(context.Background(), testBTCAddr, mustDecimal(t, "0.001"), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, txid)
}

func TestUTXOGetConfirmations(t *testing.T) {
	a, _ := newBTCAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/tx/"+testBTCTxID, r.URL.Path)
		fmt.Fprintf(w, `{"txid":%q,"confirmations":5}`, testBTCTxID)
	}))

	confs, err := a.GetConfirmations(context.Background(), testBTCTxID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), confs)
}

func TestUTXOIsValidAddress(t *testing.T) {
	a, _ := newBTCAdapter(t, nil)

	assert.True(t, a.IsValidAddress(testBTCAddr))
	assert.False(t, a.IsValidAddress("not-an-address"))
	assert.False(t, a.IsValidAddress(""))
	// valid base58check but a litecoin version byte
	assert.False(t, a.IsValidAddress("LaMT348PWRnrqeeWArpwQPbuanpXDZGEUz"))
}
