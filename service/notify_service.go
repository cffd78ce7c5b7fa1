package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/crypto_gateway/model"
	"github.com/crypto_gateway/repository"
)

// Event kinds delivered to subscriber webhooks.
type Event string

const (
	EventPaymentReceived  Event = "payment_received"
	EventPaymentConfirmed Event = "payment_confirmed"
	EventBalanceUpdate    Event = "balance_update"
	EventAddressGenerated Event = "address_generated"
)

// NotifyConfig bounds webhook delivery. MaxAttempts is the per-cycle ceiling
// with doubling backoff between attempts; MaxTotalAttempts caps how far the
// periodic retry pass will keep trying across cycles.
type NotifyConfig struct {
	MaxAttempts      int
	MaxTotalAttempts int
	BaseBackoff      time.Duration
}

func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		MaxAttempts:      3,
		MaxTotalAttempts: 9,
		BaseBackoff:      2 * time.Second,
	}
}

// RetryStats is returned from a retry-failed-notifications pass.
type RetryStats struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Notifier delivers signed webhook notifications at-least-once. Delivery
// state lives on the transaction row and is written only after the outcome
// of an attempt cycle is known; subscribers must dedupe on (tx, event).
type Notifier struct {
	wallets *repository.WalletRepository
	txs     *repository.TransactionRepository
	client  *http.Client
	cfg     NotifyConfig
	log     zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewNotifier(wallets *repository.WalletRepository, txs *repository.TransactionRepository,
	client *http.Client, cfg NotifyConfig, log zerolog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		wallets: wallets,
		txs:     txs,
		client:  client,
		cfg:     cfg,
		log:     log.With().Str("component", "notifier").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type webhookPayload struct {
	Event     Event          `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Notify delivers one event for a transaction. No-op (not an error) when the
// owning wallet has notifications off, is not subscribed to the event kind,
// or cannot be resolved (pool addresses have no wallet).
func (n *Notifier) Notify(ctx context.Context, tx *model.Transaction, event Event) error {
	wallet, err := n.wallets.FindByAddress(ctx, tx.Address)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("resolve wallet for %s: %w", tx.Address, err)
	}
	if wallet.WebhookURL == "" || !wallet.SubscribedTo(string(event)) {
		return nil
	}

	// Re-read the delivery state immediately before sending; another pass
	// may have delivered this event since the row was selected. The sent
	// flag is scoped to one event: a delivered received notification never
	// suppresses the later confirmed one.
	fresh, err := n.txs.FindByID(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("reload transaction %d: %w", tx.ID, err)
	}
	if fresh.WebhookSent && fresh.WebhookEvent == string(event) {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Event:     event,
		Timestamp: n.now().UTC(),
		Data: map[string]any{
			"tx_id":                  fresh.TxID,
			"chain":                  fresh.Chain,
			"address":                fresh.Address,
			"amount":                 fresh.Amount.String(),
			"amount_usd":             fresh.AmountUSD.String(),
			"confirmations":          fresh.Confirmations,
			"required_confirmations": fresh.RequiredConfirmations,
			"status":                 fresh.Status,
			"block_height":           fresh.BlockHeight,
			"block_hash":             fresh.BlockHash,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// Attempt numbering runs per event; it continues across retry cycles of
	// the same event and restarts when the lifecycle moves on.
	base := fresh.WebhookAttempts
	if fresh.WebhookEvent != string(event) {
		base = 0
	}
	used, deliverErr := n.deliver(ctx, wallet.WebhookURL, wallet.WebhookSecret, event, body, base)
	if deliverErr == nil {
		// Success state is recorded strictly after the verified 2xx.
		return n.txs.MarkWebhookSent(ctx, fresh.ID, string(event), base+used, n.now())
	}
	if err := n.txs.RecordWebhookFailure(ctx, fresh.ID, string(event), base+used, deliverErr.Error()); err != nil {
		n.log.Error().Err(err).Uint64("tx", fresh.ID).Msg("persist webhook failure state")
	}
	// Terminal for this cycle only; the retry pass picks the row up again.
	return fmt.Errorf("webhook delivery for tx %d (%s): %w", fresh.ID, event, deliverErr)
}

// NotifyAddress delivers address-scoped events (balance_update,
// address_generated). These carry no per-row delivery state; failures are
// logged and dropped after the attempt cycle.
func (n *Notifier) NotifyAddress(ctx context.Context, wallet *model.Wallet, addr *model.DerivedAddress, event Event) {
	if wallet.WebhookURL == "" || !wallet.SubscribedTo(string(event)) {
		return
	}
	body, err := json.Marshal(webhookPayload{
		Event:     event,
		Timestamp: n.now().UTC(),
		Data: map[string]any{
			"chain":           addr.Chain,
			"address":         addr.Address,
			"address_index":   addr.AddressIndex,
			"derivation_path": addr.DerivationPath,
			"balance":         addr.Balance.String(),
			"label":           addr.Label,
		},
	})
	if err != nil {
		return
	}
	if _, err := n.deliver(ctx, wallet.WebhookURL, wallet.WebhookSecret, event, body, 0); err != nil {
		n.log.Warn().Err(err).Str("event", string(event)).Str("address", addr.Address).
			Msg("address event delivery failed")
	}
}

// deliver POSTs the signed payload with doubling backoff between attempts.
// Returns how many attempts were used and the last error, nil on a 2xx.
func (n *Notifier) deliver(ctx context.Context, url, secret string, event Event, body []byte, baseAttempt int) (int, error) {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	maxAttempts := n.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return attempt, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Webhook-Event", string(event))
		req.Header.Set("X-Webhook-Attempt", strconv.Itoa(baseAttempt+attempt))

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return attempt, nil
			}
			lastErr = fmt.Errorf("subscriber returned %d", resp.StatusCode)
		}
		n.log.Warn().Err(lastErr).Str("event", string(event)).Int("attempt", baseAttempt+attempt).
			Msg("webhook attempt failed")
		if attempt < maxAttempts {
			backoff := n.cfg.BaseBackoff << (attempt - 1)
			if err := n.sleep(ctx, backoff); err != nil {
				return attempt, err
			}
		}
	}
	return maxAttempts, lastErr
}

// RetryFailed re-selects transactions with undelivered webhooks and retry
// budget left and runs another delivery cycle for each. Combined with the
// per-cycle retries this makes delivery at-least-once, never exactly-once.
func (n *Notifier) RetryFailed(ctx context.Context, limit int) (RetryStats, error) {
	var stats RetryStats
	batch, err := n.txs.FailedWebhookBatch(ctx, n.cfg.MaxTotalAttempts, limit)
	if err != nil {
		return stats, err
	}
	for i := range batch {
		tx := &batch[i]
		stats.Retried++
		event := EventPaymentReceived
		if tx.Status == model.TxStatusConfirmed {
			event = EventPaymentConfirmed
		}
		// A failure recorded for an earlier lifecycle event wins: a received
		// delivery that exhausted its cycle before the transaction confirmed
		// must still go out, not be replaced by the confirmed event.
		if tx.WebhookEvent != "" && tx.WebhookEvent != string(event) {
			event = Event(tx.WebhookEvent)
		}
		if err := n.Notify(ctx, tx, event); err != nil {
			stats.Failed++
			n.log.Warn().Err(err).Uint64("tx", tx.ID).Msg("webhook retry failed")
			continue
		}
		stats.Succeeded++
	}
	return stats, nil
}
