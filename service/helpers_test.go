package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/crypto_gateway/chain"
	"github.com/crypto_gateway/model"
	"github.com/crypto_gateway/repository"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

type repos struct {
	wallets  *repository.WalletRepository
	addrs    *repository.AddressRepository
	jobs     *repository.MonitoringJobRepository
	txs      *repository.TransactionRepository
	requests *repository.PaymentRequestRepository
	pool     *repository.PoolAddressRepository
}

func newRepos(db *gorm.DB) repos {
	return repos{
		wallets:  repository.NewWalletRepository(db),
		addrs:    repository.NewAddressRepository(db),
		jobs:     repository.NewMonitoringJobRepository(db),
		txs:      repository.NewTransactionRepository(db),
		requests: repository.NewPaymentRequestRepository(db),
		pool:     repository.NewPoolAddressRepository(db),
	}
}

func fastNotifyConfig() NotifyConfig {
	return NotifyConfig{MaxAttempts: 3, MaxTotalAttempts: 9, BaseBackoff: time.Millisecond}
}

func testMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:    0, // every job is always due
		InterCallDelay:   0,
		PendingBatchSize: 50,
		LookbackWindow:   24 * time.Hour,
	}
}

var ownerSeq atomic.Uint64

// seedDeposit creates a wallet, one derived address and its monitoring job.
func seedDeposit(t *testing.T, db *gorm.DB, chainSym, address, webhookURL string) (*model.Wallet, *model.DerivedAddress) {
	t.Helper()
	w := &model.Wallet{
		OwnerID:              ownerSeq.Add(1),
		EncryptedSeed:        []byte("sealed"),
		WebhookURL:           webhookURL,
		WebhookSecret:        "s3cret",
		NotificationsEnabled: true,
	}
	require.NoError(t, db.Create(w).Error)
	addr := &model.DerivedAddress{
		WalletID:       w.ID,
		Chain:          chainSym,
		AddressIndex:   0,
		Address:        address,
		DerivationPath: "m/44'/0'/0'/0/0",
		Balance:        decimal.Zero,
		Active:         true,
	}
	require.NoError(t, db.Create(addr).Error)
	job := &model.MonitoringJob{AddressID: addr.ID, Chain: chainSym, Address: address, Active: true}
	require.NoError(t, db.Create(job).Error)
	return w, addr
}

// recordedHook is a webhook endpoint that records deliveries and answers with
// a scripted status per call (last status repeats).
type recordedHook struct {
	mu       sync.Mutex
	statuses []int
	calls    int
	events   []string
	attempts []string
	sigs     []string
	bodies   [][]byte
}

func newRecordedHook(t *testing.T, statuses ...int) (*recordedHook, *httptest.Server) {
	t.Helper()
	h := &recordedHook{statuses: statuses}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		h.bodies = append(h.bodies, body)
		h.events = append(h.events, r.Header.Get("X-Webhook-Event"))
		h.attempts = append(h.attempts, r.Header.Get("X-Webhook-Attempt"))
		h.sigs = append(h.sigs, r.Header.Get("X-Webhook-Signature"))
		status := h.statuses[len(h.statuses)-1]
		if h.calls < len(h.statuses) {
			status = h.statuses[h.calls]
		}
		h.calls++
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func (h *recordedHook) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *recordedHook) eventSeen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// fakeChain is a scriptable chain.Adapter.
type fakeChain struct {
	symbol     string
	balance    decimal.Decimal
	balanceErr error
	summaries  []chain.TxSummary
	listErr    error
	confs      map[string]int64
	confErr    error
	incoming   map[string]decimal.Decimal
	findTxID   string
	findErr    error
	invalid    bool
}

func (f *fakeChain) Symbol() string { return f.symbol }

func (f *fakeChain) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return f.balance, f.balanceErr
}

func (f *fakeChain) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	if f.confErr != nil {
		return 0, f.confErr
	}
	return f.confs[txid], nil
}

func (f *fakeChain) FindIncomingTransaction(ctx context.Context, address string, amount decimal.Decimal, within time.Duration) (string, error) {
	return f.findTxID, f.findErr
}

func (f *fakeChain) ListRecentTransactions(ctx context.Context, address string, page int) ([]chain.TxSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if page > 1 {
		return nil, nil
	}
	return f.summaries, nil
}

func (f *fakeChain) ClassifyIncoming(address string, tx chain.TxSummary) (decimal.Decimal, bool, error) {
	amt, ok := f.incoming[tx.TxID]
	return amt, ok, nil
}

func (f *fakeChain) IsValidAddress(address string) bool { return !f.invalid }

func (f *fakeChain) GetTransaction(ctx context.Context, txid string) (*chain.TxDetail, error) {
	return &chain.TxDetail{TxID: txid, Confirmations: f.confs[txid]}, nil
}
