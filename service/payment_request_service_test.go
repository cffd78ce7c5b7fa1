package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/crypto_gateway/chain"
	"github.com/crypto_gateway/model"
	"github.com/crypto_gateway/repository"
)

func newPaymentRequest(t *testing.T, db *gorm.DB, chainSym, address string, expiresAt time.Time) *model.PaymentRequest {
	t.Helper()
	pr := &model.PaymentRequest{
		ID:                    uuid.New(),
		Chain:                 chainSym,
		Address:               address,
		Amount:                decimal.RequireFromString("0.001"),
		RequiredConfirmations: 2,
		Status:                model.RequestStatusPending,
		ExpiresAt:             expiresAt,
	}
	require.NoError(t, db.Create(pr).Error)
	return pr
}

func newRequestService(db *gorm.DB, adapters map[string]chain.Adapter, client *http.Client) (*PaymentRequestService, repos) {
	r := newRepos(db)
	svc := NewPaymentRequestService(adapters, r.requests, r.pool, client,
		DefaultPaymentRequestConfig(), zerolog.Nop())
	return svc, r
}

func TestCreateReservesPoolAddress(t *testing.T) {
	db := testDB(t)
	fa := &fakeChain{symbol: "BTC"}
	svc, _ := newRequestService(db, map[string]chain.Adapter{"BTC": fa}, nil)
	require.NoError(t, svc.AddPoolAddress(context.Background(), "BTC", "pool-a"))
	require.NoError(t, svc.AddPoolAddress(context.Background(), "BTC", "pool-b"))

	first, err := svc.Create(context.Background(), "BTC", decimal.RequireFromString("0.01"), "", 0)
	require.NoError(t, err)
	assert.Equal(t, "pool-a", first.Address)
	assert.Equal(t, model.RequestStatusPending, first.Status)
	assert.Equal(t, int64(2), first.RequiredConfirmations)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), first.ExpiresAt, time.Minute,
		"default expiry applies when none requested")

	second, err := svc.Create(context.Background(), "BTC", decimal.RequireFromString("0.02"), "", 0)
	require.NoError(t, err)
	assert.Equal(t, "pool-b", second.Address, "each request claims its own address")

	_, err = svc.Create(context.Background(), "BTC", decimal.RequireFromString("0.03"), "", 0)
	assert.ErrorIs(t, err, repository.ErrPoolExhausted)
}

func TestCreateValidatesAmountBounds(t *testing.T) {
	db := testDB(t)
	svc, _ := newRequestService(db, map[string]chain.Adapter{"BTC": &fakeChain{symbol: "BTC"}}, nil)

	_, err := svc.Create(context.Background(), "BTC", decimal.RequireFromString("0.000000001"), "", 0)
	require.Error(t, err)
	assert.Equal(t, chain.KindInvalidInput, chain.KindOf(err))

	_, err = svc.Create(context.Background(), "BTC", decimal.NewFromInt(2_000_000), "", 0)
	require.Error(t, err)
	assert.Equal(t, chain.KindInvalidInput, chain.KindOf(err))

	_, err = svc.Create(context.Background(), "WAT", decimal.NewFromInt(1), "", 0)
	require.Error(t, err)
	assert.Equal(t, chain.KindInvalidInput, chain.KindOf(err))
}

func TestCreateCapsExpiry(t *testing.T) {
	db := testDB(t)
	svc, _ := newRequestService(db, map[string]chain.Adapter{"BTC": &fakeChain{symbol: "BTC"}}, nil)
	require.NoError(t, svc.AddPoolAddress(context.Background(), "BTC", "pool-a"))

	pr, err := svc.Create(context.Background(), "BTC", decimal.NewFromInt(1), "", 100*time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), pr.ExpiresAt, time.Minute)
}

func TestCheckStatusExpiryWinsOverChainState(t *testing.T) {
	db := testDB(t)
	// the chain already has a qualifying payment, but the deadline passed
	fa := &fakeChain{symbol: "BTC", findTxID: "tx-late", confs: map[string]int64{"tx-late": 10}}
	svc, r := newRequestService(db, map[string]chain.Adapter{"BTC": fa}, nil)
	pr := newPaymentRequest(t, db, "BTC", "pool-a", time.Now().Add(-time.Minute))

	got, err := svc.CheckStatus(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusExpired, got.Status)

	persisted, err := r.requests.FindByID(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusExpired, persisted.Status)
	assert.Empty(t, persisted.TxID)

	// expired is terminal; later confirmations never resurrect the request
	got, err = svc.CheckStatus(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusExpired, got.Status)
}

func TestCheckStatusConfirmsAndFiresCallbackOnce(t *testing.T) {
	db := testDB(t)
	var calls int
	var lastBody map[string]any
	cb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, json.NewDecoder(r.Body).Decode(&lastBody))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cb.Close)

	fa := &fakeChain{symbol: "BTC", findTxID: "tx-paid", confs: map[string]int64{"tx-paid": 5}}
	svc, r := newRequestService(db, map[string]chain.Adapter{"BTC": fa}, cb.Client())
	pr := newPaymentRequest(t, db, "BTC", "pool-a", time.Now().Add(time.Hour))
	require.NoError(t, db.Model(pr).Update("callback_url", cb.URL).Error)

	got, err := svc.CheckStatus(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusConfirmed, got.Status)
	assert.Equal(t, "tx-paid", got.TxID)
	assert.True(t, got.CallbackSent)
	assert.Equal(t, 1, calls)
	assert.Equal(t, pr.ID.String(), lastBody["payment_request_id"])
	assert.Equal(t, "confirmed", lastBody["status"])

	// the transition already happened; re-checking must not re-fire
	got, err = svc.CheckStatus(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusConfirmed, got.Status)
	assert.Equal(t, 1, calls)

	persisted, err := r.requests.FindByID(context.Background(), pr.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.ConfirmedAt)
}

func TestCheckStatusCallbackFailureIsNotTerminal(t *testing.T) {
	db := testDB(t)
	cb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(cb.Close)

	fa := &fakeChain{symbol: "BTC", findTxID: "tx-paid", confs: map[string]int64{"tx-paid": 5}}
	svc, r := newRequestService(db, map[string]chain.Adapter{"BTC": fa}, cb.Client())
	pr := newPaymentRequest(t, db, "BTC", "pool-a", time.Now().Add(time.Hour))
	require.NoError(t, db.Model(pr).Update("callback_url", cb.URL).Error)

	got, err := svc.CheckStatus(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusConfirmed, got.Status, "confirmation stands even when the callback fails")
	assert.False(t, got.CallbackSent)

	persisted, err := r.requests.FindByID(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.False(t, persisted.CallbackSent)
}

func TestCheckStatusBelowThresholdStaysPending(t *testing.T) {
	db := testDB(t)
	fa := &fakeChain{symbol: "BTC", findTxID: "tx-young", confs: map[string]int64{"tx-young": 1}}
	svc, _ := newRequestService(db, map[string]chain.Adapter{"BTC": fa}, nil)
	pr := newPaymentRequest(t, db, "BTC", "pool-a", time.Now().Add(time.Hour))

	got, err := svc.CheckStatus(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
	assert.Empty(t, got.TxID)
}

func TestCheckStatusNoPaymentYet(t *testing.T) {
	db := testDB(t)
	fa := &fakeChain{symbol: "BTC"}
	svc, _ := newRequestService(db, map[string]chain.Adapter{"BTC": fa}, nil)
	pr := newPaymentRequest(t, db, "BTC", "pool-a", time.Now().Add(time.Hour))

	got, err := svc.CheckStatus(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
}

func TestAddPoolAddressValidates(t *testing.T) {
	db := testDB(t)
	fa := &fakeChain{symbol: "BTC", invalid: true}
	svc, _ := newRequestService(db, map[string]chain.Adapter{"BTC": fa}, nil)

	err := svc.AddPoolAddress(context.Background(), "BTC", "garbage")
	require.Error(t, err)
	assert.Equal(t, chain.KindInvalidInput, chain.KindOf(err))

	err = svc.AddPoolAddress(context.Background(), "NOPE", "addr")
	require.Error(t, err)
	assert.Equal(t, chain.KindInvalidInput, chain.KindOf(err))
}
