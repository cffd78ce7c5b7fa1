package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newXMRAdapter(t *testing.T, handler http.Handler) *PrivacyAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	spec, err := Lookup("XMR")
	require.NoError(t, err)
	return NewPrivacyAdapter(spec, srv.URL, srv.Client(), testPolicy(), zerolog.Nop())
}

func TestPrivacyGetBalance(t *testing.T) {
	a := newXMRAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req walletRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "get_balance", req.Method)
		fmt.Fprint(w, `{"result":{"balance":2500000000000}}`)
	}))

	bal, err := a.GetBalance(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "2.5", bal.String(), "twelve atomic decimals")

	// the balance is wallet-account-scoped; any address yields the same total
	other, err := a.GetBalance(context.Background(), "another-address")
	require.NoError(t, err)
	assert.True(t, bal.Equal(other))
}

func TestPrivacyGetConfirmations(t *testing.T) {
	a := newXMRAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req walletRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "get_transfer_by_txid", req.Method)
		fmt.Fprint(w, `{"result":{"transfer":{"txid":"deadbeef","confirmations":7,"height":310000}}}`)
	}))

	confs, err := a.GetConfirmations(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, int64(7), confs)
}

func TestPrivacyRPCError(t *testing.T) {
	a := newXMRAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":-8,"message":"no such txid"}}`)
	}))

	_, err := a.GetConfirmations(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestPrivacyCapabilityGaps(t *testing.T) {
	a := newXMRAdapter(t, nil)

	_, err := a.ListRecentTransactions(context.Background(), "addr", 1)
	assert.True(t, IsNotSupported(err))

	_, _, err = a.ClassifyIncoming("addr", TxSummary{})
	assert.True(t, IsNotSupported(err))

	_, err = a.FindIncomingTransaction(context.Background(), "addr", mustDecimal(t, "1"), time.Hour)
	assert.True(t, IsNotSupported(err))
}

func TestPrivacyIsValidAddress(t *testing.T) {
	a := newXMRAdapter(t, nil)

	valid := "4" + strings.Repeat("A1b2", 23) + "zz" // 95 chars in the alphabet
	assert.True(t, a.IsValidAddress(valid))
	assert.False(t, a.IsValidAddress("4short"))
	assert.False(t, a.IsValidAddress("x"+strings.Repeat("A1b2", 23)+"zz"), "wrong prefix")
	assert.False(t, a.IsValidAddress("4"+strings.Repeat("A0b2", 23)+"zz"), "zero is not base58")
}
