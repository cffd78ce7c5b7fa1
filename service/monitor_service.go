package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crypto_gateway/chain"
	"github.com/crypto_gateway/model"
	"github.com/crypto_gateway/repository"
)

// MonitorConfig tunes one monitoring pass.
type MonitorConfig struct {
	// CheckInterval is how stale a job's cursor must be before it is due.
	CheckInterval time.Duration
	// InterCallDelay is the pause between consecutive adapter calls within
	// one pass, to respect upstream rate limits.
	InterCallDelay time.Duration
	// PendingBatchSize bounds the confirmation re-check batch.
	PendingBatchSize int
	// LookbackWindow bounds the fallback incoming-transaction search on
	// chains without address history.
	LookbackWindow time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:    2 * time.Minute,
		InterCallDelay:   200 * time.Millisecond,
		PendingBatchSize: 50,
		LookbackWindow:   24 * time.Hour,
	}
}

// PassStats is returned to the external trigger after one monitoring pass.
type PassStats struct {
	Checked             int   `json:"checked"`
	NewTransactions     int   `json:"new_transactions"`
	UpdatedTransactions int   `json:"updated_transactions"`
	Errors              int   `json:"errors"`
	ExpiredRequests     int64 `json:"expired_requests"`
}

// Monitor runs the detection and confirmation state machine. It owns no
// scheduler: an external trigger invokes RunPass periodically and the pass
// runs to completion or until its timeout budget is spent, leaving unfinished
// jobs for the next invocation.
type Monitor struct {
	adapters map[string]chain.Adapter
	wallets  *repository.WalletRepository
	addrs    *repository.AddressRepository
	jobs     *repository.MonitoringJobRepository
	txs      *repository.TransactionRepository
	requests *repository.PaymentRequestRepository
	rates    RateProvider
	notifier *Notifier
	cfg      MonitorConfig
	log      zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewMonitor(
	adapters map[string]chain.Adapter,
	wallets *repository.WalletRepository,
	addrs *repository.AddressRepository,
	jobs *repository.MonitoringJobRepository,
	txs *repository.TransactionRepository,
	requests *repository.PaymentRequestRepository,
	rates RateProvider,
	notifier *Notifier,
	cfg MonitorConfig,
	log zerolog.Logger,
) *Monitor {
	return &Monitor{
		adapters: adapters,
		wallets:  wallets,
		addrs:    addrs,
		jobs:     jobs,
		txs:      txs,
		requests: requests,
		rates:    rates,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "monitor").Logger(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// RunPass executes one bounded monitoring pass: due jobs oldest-first, then
// the pending-confirmation re-check, then the payment-request expiry sweep.
// A failing job increments the error count and never aborts the batch; its
// cursor stays put so the next pass retries it.
func (m *Monitor) RunPass(ctx context.Context, limit int, timeout time.Duration) (PassStats, error) {
	var stats PassStats
	if limit <= 0 {
		limit = 50
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	jobs, err := m.jobs.Due(ctx, m.cfg.CheckInterval, limit, m.now())
	if err != nil {
		return stats, fmt.Errorf("select due jobs: %w", err)
	}
	for i := range jobs {
		if ctx.Err() != nil {
			// budget exhausted: stop cleanly between jobs
			break
		}
		job := &jobs[i]
		cursor, err := m.checkJob(ctx, job, &stats)
		if err != nil {
			stats.Errors++
			m.log.Warn().Err(err).Str("chain", job.Chain).Str("address", job.Address).
				Msg("job check failed")
			continue
		}
		if err := m.jobs.AdvanceCursor(ctx, job.ID, m.now(), cursor.blockHash, cursor.blockHeight); err != nil {
			stats.Errors++
			m.log.Error().Err(err).Uint64("job", job.ID).Msg("advance cursor")
			continue
		}
		stats.Checked++
		if m.cfg.InterCallDelay > 0 && i < len(jobs)-1 {
			if err := m.sleep(ctx, m.cfg.InterCallDelay); err != nil {
				break
			}
		}
	}

	m.recheckPending(ctx, &stats)

	expired, err := m.requests.ExpirePending(ctx, m.now())
	if err != nil {
		stats.Errors++
		m.log.Error().Err(err).Msg("expiry sweep")
	}
	stats.ExpiredRequests = expired
	return stats, nil
}

type cursorUpdate struct {
	blockHash   string
	blockHeight int64
}

func (m *Monitor) checkJob(ctx context.Context, job *model.MonitoringJob, stats *PassStats) (cursorUpdate, error) {
	var cursor cursorUpdate
	adapter, ok := m.adapters[job.Chain]
	if !ok {
		return cursor, chain.Errf(chain.KindInvalidInput, "monitor.checkJob", "no adapter for chain %q", job.Chain)
	}
	spec, err := chain.Lookup(job.Chain)
	if err != nil {
		return cursor, err
	}
	addr, err := m.addrs.FindByAddress(ctx, job.Address)
	if err != nil {
		return cursor, fmt.Errorf("load address %s: %w", job.Address, err)
	}

	balanceDelta := m.refreshBalance(ctx, adapter, addr)

	summaries, err := adapter.ListRecentTransactions(ctx, job.Address, 1)
	if chain.IsNotSupported(err) {
		summaries, err = m.fallbackLookup(ctx, adapter, addr, balanceDelta)
	}
	if err != nil {
		return cursor, fmt.Errorf("fetch history: %w", err)
	}

	known, err := m.txs.KnownTxIDs(ctx, job.Chain, job.Address)
	if err != nil {
		return cursor, fmt.Errorf("known txids: %w", err)
	}

	for _, summary := range summaries {
		if summary.BlockHeight > cursor.blockHeight {
			cursor.blockHeight = summary.BlockHeight
			cursor.blockHash = summary.BlockHash
		}
		if _, seen := known[summary.TxID]; seen {
			continue
		}
		amount, incoming, err := adapter.ClassifyIncoming(job.Address, summary)
		if chain.IsNotSupported(err) {
			// permanent capability gap for this chain, nothing more to do
			break
		}
		if err != nil {
			stats.Errors++
			m.log.Warn().Err(err).Str("txid", summary.TxID).Msg("classify failed")
			continue
		}
		if !incoming || amount.IsZero() {
			continue
		}
		if err := m.recordIncoming(ctx, spec, addr, summary, amount, stats); err != nil {
			stats.Errors++
			m.log.Warn().Err(err).Str("txid", summary.TxID).Msg("record incoming")
		}
	}
	return cursor, nil
}

// refreshBalance updates the cached balance and fires balance_update when it
// moved. A failed balance read degrades to the cached value: the read is
// idempotent and a stale number is acceptable, so the failure is only logged.
func (m *Monitor) refreshBalance(ctx context.Context, adapter chain.Adapter, addr *model.DerivedAddress) decimal.Decimal {
	bal, err := adapter.GetBalance(ctx, addr.Address)
	if err != nil {
		m.log.Warn().Err(err).Str("address", addr.Address).Msg("balance read failed, keeping cached value")
		return decimal.Zero
	}
	delta := bal.Sub(addr.Balance)
	if delta.IsZero() {
		return decimal.Zero
	}
	if err := m.addrs.UpdateBalance(ctx, addr.ID, bal, m.now()); err != nil {
		m.log.Error().Err(err).Uint64("address", addr.ID).Msg("persist balance")
		return decimal.Zero
	}
	addr.Balance = bal
	if wallet, err := m.wallets.FindByAddress(ctx, addr.Address); err == nil {
		m.notifier.NotifyAddress(ctx, wallet, addr, EventBalanceUpdate)
	}
	return delta
}

// fallbackLookup is the documented path for chains without address history:
// when the balance just grew, search the lookback window for a payment of at
// least the delta and summarize that single transaction.
func (m *Monitor) fallbackLookup(ctx context.Context, adapter chain.Adapter, addr *model.DerivedAddress, delta decimal.Decimal) ([]chain.TxSummary, error) {
	if !delta.IsPositive() {
		return nil, nil
	}
	txid, err := adapter.FindIncomingTransaction(ctx, addr.Address, delta, m.cfg.LookbackWindow)
	if chain.IsNotSupported(err) {
		// view-key-only chain: balance is refreshed, detection stays off
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if txid == "" {
		return nil, nil
	}
	detail, err := adapter.GetTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	return []chain.TxSummary{{
		TxID:        detail.TxID,
		BlockHash:   detail.BlockHash,
		BlockHeight: detail.BlockHeight,
		Raw:         detail.Raw,
	}}, nil
}

// recordIncoming creates the transaction row. Confirmations are fetched
// before the insert and the status is computed from the threshold at insert
// time, so a deposit that is already final starts life as confirmed and the
// received/confirmed events fire from the same atomic decision. A duplicate
// insert is a no-op and fires nothing.
func (m *Monitor) recordIncoming(ctx context.Context, spec chain.Spec, addr *model.DerivedAddress,
	summary chain.TxSummary, amount decimal.Decimal, stats *PassStats) error {

	adapter := m.adapters[spec.Symbol]
	confs, err := adapter.GetConfirmations(ctx, summary.TxID)
	if err != nil {
		// write-triggering call: surface rather than guess
		return fmt.Errorf("confirmations for %s: %w", summary.TxID, err)
	}
	rate, err := m.rates.USDRate(ctx, spec.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("chain", spec.Symbol).Msg("usd rate unavailable, snapshotting zero")
		rate = decimal.Zero
	}
	status := model.TxStatusPending
	if confs >= spec.RequiredConfirmations {
		status = model.TxStatusConfirmed
	}
	tx := &model.Transaction{
		AddressID:             addr.ID,
		Chain:                 spec.Symbol,
		TxID:                  summary.TxID,
		Address:               addr.Address,
		Amount:                amount,
		AmountUSD:             amount.Mul(rate).Round(2),
		Confirmations:         confs,
		RequiredConfirmations: spec.RequiredConfirmations,
		Status:                status,
		BlockHash:             summary.BlockHash,
		BlockHeight:           summary.BlockHeight,
		RawPayload:            summary.Raw,
	}
	created, err := m.txs.CreateIfAbsent(ctx, tx)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if !created {
		return nil
	}
	stats.NewTransactions++
	m.log.Info().Str("chain", spec.Symbol).Str("txid", tx.TxID).Str("amount", amount.String()).
		Str("status", status).Msg("incoming payment detected")

	if err := m.notifier.Notify(ctx, tx, EventPaymentReceived); err != nil {
		m.log.Warn().Err(err).Uint64("tx", tx.ID).Msg("received webhook undelivered")
	}
	if status == model.TxStatusConfirmed {
		if err := m.notifier.Notify(ctx, tx, EventPaymentConfirmed); err != nil {
			m.log.Warn().Err(err).Uint64("tx", tx.ID).Msg("confirmed webhook undelivered")
		}
	}
	return nil
}

// recheckPending re-fetches confirmations for a bounded batch of pending
// transactions. The confirmed event fires exactly once, derived from the
// guarded pending->confirmed transition this pass observed, never re-derived
// from the stored count.
func (m *Monitor) recheckPending(ctx context.Context, stats *PassStats) {
	batch, err := m.txs.PendingBatch(ctx, m.cfg.PendingBatchSize)
	if err != nil {
		stats.Errors++
		m.log.Error().Err(err).Msg("select pending batch")
		return
	}
	for i := range batch {
		tx := &batch[i]
		if ctx.Err() != nil {
			return
		}
		adapter, ok := m.adapters[tx.Chain]
		if !ok {
			continue
		}
		confs, err := adapter.GetConfirmations(ctx, tx.TxID)
		if err != nil {
			stats.Errors++
			m.log.Warn().Err(err).Str("txid", tx.TxID).Msg("confirmation recheck failed")
			continue
		}
		if confs == tx.Confirmations {
			continue
		}
		if confs >= tx.RequiredConfirmations {
			crossed, err := m.txs.MarkConfirmed(ctx, tx.ID, confs)
			if err != nil {
				stats.Errors++
				m.log.Error().Err(err).Uint64("tx", tx.ID).Msg("mark confirmed")
				continue
			}
			stats.UpdatedTransactions++
			if crossed {
				tx.Confirmations = confs
				tx.Status = model.TxStatusConfirmed
				if err := m.notifier.Notify(ctx, tx, EventPaymentConfirmed); err != nil {
					m.log.Warn().Err(err).Uint64("tx", tx.ID).Msg("confirmed webhook undelivered")
				}
			}
			continue
		}
		if err := m.txs.UpdateConfirmations(ctx, tx.ID, confs); err != nil {
			stats.Errors++
			m.log.Error().Err(err).Uint64("tx", tx.ID).Msg("persist confirmations")
			continue
		}
		stats.UpdatedTransactions++
	}
}
