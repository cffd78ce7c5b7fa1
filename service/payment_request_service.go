package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crypto_gateway/chain"
	"github.com/crypto_gateway/model"
	"github.com/crypto_gateway/repository"
)

// PaymentRequestConfig bounds one-shot payment intents.
type PaymentRequestConfig struct {
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	DefaultExpiry time.Duration
	MaxExpiry     time.Duration
}

func DefaultPaymentRequestConfig() PaymentRequestConfig {
	return PaymentRequestConfig{
		MinAmount:     decimal.NewFromFloat(0.00000001),
		MaxAmount:     decimal.NewFromInt(1_000_000),
		DefaultExpiry: 30 * time.Minute,
		MaxExpiry:     24 * time.Hour,
	}
}

// PaymentRequestService is a thin layer over the same ledger and adapters
// for one-shot, expiring payment intents bound to pool addresses.
type PaymentRequestService struct {
	adapters map[string]chain.Adapter
	requests *repository.PaymentRequestRepository
	pool     *repository.PoolAddressRepository
	client   *http.Client
	cfg      PaymentRequestConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewPaymentRequestService(
	adapters map[string]chain.Adapter,
	requests *repository.PaymentRequestRepository,
	pool *repository.PoolAddressRepository,
	client *http.Client,
	cfg PaymentRequestConfig,
	log zerolog.Logger,
) *PaymentRequestService {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PaymentRequestService{
		adapters: adapters,
		requests: requests,
		pool:     pool,
		client:   client,
		cfg:      cfg,
		log:      log.With().Str("component", "payment_requests").Logger(),
		now:      time.Now,
	}
}

// Create validates the currency and amount, reserves a single-use pool
// address and persists the intent. Pool exhaustion surfaces as
// repository.ErrPoolExhausted for the caller to report.
func (s *PaymentRequestService) Create(ctx context.Context, chainSym string, amount decimal.Decimal,
	callbackURL string, expiresIn time.Duration) (*model.PaymentRequest, error) {

	spec, err := chain.Lookup(chainSym)
	if err != nil {
		return nil, err
	}
	if !spec.Active {
		return nil, chain.Errf(chain.KindInvalidInput, "paymentrequest.Create", "chain %s is not active", chainSym)
	}
	if amount.LessThan(s.cfg.MinAmount) || amount.GreaterThan(s.cfg.MaxAmount) {
		return nil, chain.Errf(chain.KindInvalidInput, "paymentrequest.Create",
			"amount %s outside bounds [%s, %s]", amount, s.cfg.MinAmount, s.cfg.MaxAmount)
	}
	if expiresIn <= 0 {
		expiresIn = s.cfg.DefaultExpiry
	}
	if expiresIn > s.cfg.MaxExpiry {
		expiresIn = s.cfg.MaxExpiry
	}

	pa, err := s.pool.Reserve(ctx, chainSym, s.now())
	if err != nil {
		return nil, err
	}
	pr := &model.PaymentRequest{
		ID:                    uuid.New(),
		Chain:                 chainSym,
		Address:               pa.Address,
		Amount:                amount,
		RequiredConfirmations: spec.RequiredConfirmations,
		Status:                model.RequestStatusPending,
		CallbackURL:           callbackURL,
		ExpiresAt:             s.now().Add(expiresIn),
	}
	if err := s.requests.Create(ctx, pr); err != nil {
		return nil, fmt.Errorf("persist payment request: %w", err)
	}
	return pr, nil
}

// CheckStatus re-runs the single-address confirmation logic for a request.
// Expiry wins over any chain state; on the first threshold crossing the
// best-effort callback fires once (single attempt, no retry ceiling).
func (s *PaymentRequestService) CheckStatus(ctx context.Context, id uuid.UUID) (*model.PaymentRequest, error) {
	pr, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.Status != model.RequestStatusPending {
		return pr, nil
	}
	if pr.Expired(s.now()) {
		if _, err := s.requests.MarkExpired(ctx, pr.ID); err != nil {
			return nil, err
		}
		pr.Status = model.RequestStatusExpired
		return pr, nil
	}

	adapter, ok := s.adapters[pr.Chain]
	if !ok {
		return nil, chain.Errf(chain.KindInvalidInput, "paymentrequest.CheckStatus", "no adapter for chain %q", pr.Chain)
	}
	window := s.now().Sub(pr.CreatedAt) + time.Hour
	txid, err := adapter.FindIncomingTransaction(ctx, pr.Address, pr.Amount, window)
	if err != nil {
		if chain.IsNotSupported(err) {
			return pr, err
		}
		return nil, err
	}
	if txid == "" {
		return pr, nil
	}
	confs, err := adapter.GetConfirmations(ctx, txid)
	if err != nil {
		return nil, err
	}
	if confs < pr.RequiredConfirmations {
		return pr, nil
	}
	crossed, err := s.requests.MarkConfirmed(ctx, pr.ID, txid, s.now())
	if err != nil {
		return nil, err
	}
	pr.Status = model.RequestStatusConfirmed
	pr.TxID = txid
	if crossed && pr.CallbackURL != "" {
		if s.fireCallback(ctx, pr) {
			if err := s.requests.MarkCallbackSent(ctx, pr.ID); err != nil {
				s.log.Error().Err(err).Str("request", pr.ID.String()).Msg("persist callback state")
			} else {
				pr.CallbackSent = true
			}
		}
	}
	return pr, nil
}

// fireCallback is fire-and-forget: one POST, success only on 2xx.
func (s *PaymentRequestService) fireCallback(ctx context.Context, pr *model.PaymentRequest) bool {
	body, err := json.Marshal(map[string]any{
		"payment_request_id": pr.ID.String(),
		"status":             pr.Status,
		"chain":              pr.Chain,
		"address":            pr.Address,
		"amount":             pr.Amount.String(),
		"tx_id":              pr.TxID,
	})
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pr.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("request", pr.ID.String()).Msg("callback failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Warn().Int("status", resp.StatusCode).Str("request", pr.ID.String()).Msg("callback rejected")
		return false
	}
	return true
}

// AddPoolAddress loads one static address into the pool after validating it
// for the chain.
func (s *PaymentRequestService) AddPoolAddress(ctx context.Context, chainSym, address string) error {
	adapter, ok := s.adapters[chainSym]
	if !ok {
		return chain.Errf(chain.KindInvalidInput, "paymentrequest.AddPoolAddress", "no adapter for chain %q", chainSym)
	}
	if !adapter.IsValidAddress(address) {
		return chain.Errf(chain.KindInvalidInput, "paymentrequest.AddPoolAddress", "malformed %s address %q", chainSym, address)
	}
	return s.pool.Add(ctx, chainSym, address)
}
