// Package checkout tracks a submitted payment transaction from submission
// through confirmation and drives the side effects of a confirmed purchase.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/b3trbeach/storefront/service/beat"
	"github.com/b3trbeach/storefront/service/db"
	"github.com/b3trbeach/storefront/service/governor"
	"github.com/b3trbeach/storefront/service/mail"
	"github.com/b3trbeach/storefront/service/metrics"
	"github.com/b3trbeach/storefront/service/nats"
	"github.com/b3trbeach/storefront/service/thor"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TxStatus is the lifecycle state of a tracked transaction.
type TxStatus string

const (
	// StatusPending means the transaction was accepted by the node but has
	// no receipt yet.
	StatusPending TxStatus = "pending"

	// StatusConfirmedSuccess and StatusConfirmedReverted are terminal.
	// Receipts do not flap, so a tracked transaction never leaves either.
	StatusConfirmedSuccess  TxStatus = "confirmed_success"
	StatusConfirmedReverted TxStatus = "confirmed_reverted"
)

// User-visible status messages. The storefront UI renders these verbatim.
const (
	msgAwaiting       = "Transaction sent: %s. Awaiting confirmation..."
	msgSuccess        = "Transaction completed successfully!"
	msgReverted       = "Payment failed: Transaction reverted."
	msgRecordFailed   = "Transaction completed, but we could not record your purchase. Please contact support."
	msgEmailFailed    = "Transaction completed, but the confirmation email could not be sent."
	warnBalanceShort  = "Warning: balance change less than expected."
	warnBalanceUnread = "Transaction confirmed, but balance verification failed."
)

// ErrCheckoutInFlight is returned by Submit while another checkout for this
// tracker is still pending.
var ErrCheckoutInFlight = errors.New("a checkout is already awaiting confirmation")

// ErrInsufficientBalance is returned when the payer's token balance does not
// cover the purchase price.
var ErrInsufficientBalance = errors.New("insufficient token balance")

// ErrInsufficientEnergy is returned when the payer cannot cover gas.
var ErrInsufficientEnergy = errors.New("insufficient energy to pay for gas")

// ErrBalanceUnavailable is returned when the payer's balance cannot be
// established before submission. An unknown balance is never treated as zero,
// but it is also never treated as sufficient.
var ErrBalanceUnavailable = errors.New("token balance unavailable")

// ChainClient is the chain surface the tracker needs.
type ChainClient interface {
	GetBalance(ctx context.Context, addr common.Address) (*thor.BalanceSnapshot, error)
	GetAccountEnergy(ctx context.Context, addr common.Address) (*thor.BalanceSnapshot, error)
	GetReceipt(ctx context.Context, txID string) (*thor.Receipt, error)
	SubmitTransfer(ctx context.Context, signer thor.Signer, to common.Address, amount *big.Int) (string, error)
	Decimals() int
}

// BeatWatcher delivers block events relevant to a set of addresses.
type BeatWatcher interface {
	Watch(addrs ...common.Address) (<-chan beat.Beat, func())
}

// PurchaseStore persists confirmed purchases.
type PurchaseStore interface {
	CreatePurchase(ctx context.Context, params db.CreatePurchaseParams) (*db.Purchase, error)
}

// Mailer sends the order confirmation email.
type Mailer interface {
	SendConfirmation(ctx context.Context, conf mail.Confirmation) error
}

// Buyer is the contact information collected at checkout.
type Buyer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// PendingTransaction is the tracker's record of a submitted payment.
type PendingTransaction struct {
	TxID          string    `json:"tx_id"`
	Payer         string    `json:"payer"`
	Item          string    `json:"item"`
	Amount        string    `json:"amount"` // display units
	Status        TxStatus  `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
	expectedDebit *big.Int
	balanceBefore *big.Int
	buyer         Buyer
}

// SubmitParams contains everything needed to submit and track one payment.
type SubmitParams struct {
	Signer thor.Signer
	Payer  common.Address
	Item   string
	Price  string // display units, e.g. "50.00"
	Buyer  Buyer
}

// State is a snapshot of the tracker for status reporting.
type State struct {
	Active  *PendingTransaction `json:"active,omitempty"`
	Message string              `json:"message,omitempty"`
	Warning string              `json:"warning,omitempty"`
}

// Tracker drives a payment from submission to a terminal state. It holds at
// most one active transaction; side effects of confirmation run exactly once
// because the pending -> terminal transition is latched under the lock before
// any of them start.
type Tracker struct {
	chain     ChainClient
	beats     BeatWatcher
	gov       *governor.Governor
	store     PurchaseStore
	mailer    Mailer
	publisher nats.Publisher
	recipient common.Address
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu          sync.Mutex
	active      *PendingTransaction
	message     string
	warning     string
	cancelWatch func()
	balances    map[common.Address]*thor.BalanceSnapshot
	energies    map[common.Address]*thor.BalanceSnapshot
}

// NewTracker creates a checkout tracker. The governor must be the shared
// process-wide instance so receipt and balance refetches stay bounded across
// all triggers.
func NewTracker(
	chain ChainClient,
	beats BeatWatcher,
	gov *governor.Governor,
	store PurchaseStore,
	mailer Mailer,
	publisher nats.Publisher,
	recipient common.Address,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Tracker{
		chain:     chain,
		beats:     beats,
		gov:       gov,
		store:     store,
		mailer:    mailer,
		publisher: publisher,
		recipient: recipient,
		logger:    logger,
		metrics:   m,
		balances:  make(map[common.Address]*thor.BalanceSnapshot),
		energies:  make(map[common.Address]*thor.BalanceSnapshot),
	}
}

// oneEnergyUnit is the minimum energy required to attempt a transfer.
var oneEnergyUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Submit checks funds, submits the transfer and begins tracking it. While a
// previous checkout is still pending it returns ErrCheckoutInFlight rather
// than queueing; the caller retries after the active transaction settles.
func (t *Tracker) Submit(ctx context.Context, params SubmitParams) (*PendingTransaction, error) {
	amount, err := thor.ParseUnits(params.Price, t.chain.Decimals())
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", params.Price, err)
	}

	t.mu.Lock()
	if t.active != nil && t.active.Status == StatusPending {
		t.mu.Unlock()
		return nil, ErrCheckoutInFlight
	}
	// Reserve the slot so a concurrent Submit cannot pass the check above
	// while this one is mid-flight.
	reservation := &PendingTransaction{Status: StatusPending, Payer: strings.ToLower(params.Payer.Hex())}
	t.active = reservation
	t.warning = ""
	t.mu.Unlock()

	release := func() {
		t.mu.Lock()
		if t.active == reservation {
			t.active = nil
		}
		t.mu.Unlock()
	}

	balance, err := t.refreshBalance(ctx, params.Payer)
	if err != nil || balance == nil {
		release()
		return nil, ErrBalanceUnavailable
	}
	if balance.Raw.Cmp(amount) < 0 {
		release()
		return nil, ErrInsufficientBalance
	}

	energy, err := t.refreshEnergy(ctx, params.Payer)
	if err != nil || energy == nil || energy.Raw.Cmp(oneEnergyUnit) < 0 {
		release()
		return nil, ErrInsufficientEnergy
	}

	txID, err := t.chain.SubmitTransfer(ctx, params.Signer, t.recipient, amount)
	if err != nil {
		t.mu.Lock()
		if t.active == reservation {
			t.active = nil
		}
		var subErr *thor.SubmissionError
		if errors.As(err, &subErr) {
			t.message = "Payment failed: " + subErr.Reason + "."
		} else {
			t.message = "Payment failed: transaction could not be submitted."
		}
		t.mu.Unlock()
		return nil, err
	}

	pending := &PendingTransaction{
		TxID:          txID,
		Payer:         strings.ToLower(params.Payer.Hex()),
		Item:          params.Item,
		Amount:        thor.FormatUnits(amount, t.chain.Decimals()),
		Status:        StatusPending,
		SubmittedAt:   time.Now().UTC(),
		expectedDebit: amount,
		balanceBefore: new(big.Int).Set(balance.Raw),
		buyer:         params.Buyer,
	}

	ch, cancel := t.beats.Watch(params.Payer)

	t.mu.Lock()
	t.active = pending
	t.message = fmt.Sprintf(msgAwaiting, txID)
	t.cancelWatch = cancel
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordCheckoutTransition(string(StatusPending))
	}
	t.logger.InfoContext(ctx, "checkout submitted",
		"tx_id", txID,
		"payer", pending.Payer,
		"item", params.Item,
		"amount", pending.Amount,
	)

	go t.watch(ch, txID, params.Payer)

	snapshot := *pending
	return &snapshot, nil
}

// watch polls the receipt on each relevant block event until the
// transaction settles. Polling goes through the governor, so a burst of
// beats collapses into at most one receipt fetch per cooldown window.
func (t *Tracker) watch(ch <-chan beat.Beat, txID string, payer common.Address) {
	// Side effects must complete even if the submitting request has ended,
	// so the watch runs on a background context.
	ctx := context.Background()
	for range ch {
		if t.checkReceipt(ctx, txID, payer) {
			return
		}
	}
}

// checkReceipt attempts one governed receipt fetch. It reports true once
// the transaction is no longer the active pending one.
func (t *Tracker) checkReceipt(ctx context.Context, txID string, payer common.Address) bool {
	if !t.isPending(txID) {
		return true
	}

	_, err := t.gov.TryRefetch(ctx, "receipt:"+txID, func(ctx context.Context) error {
		receipt, err := t.chain.GetReceipt(ctx, txID)
		if err != nil {
			return err
		}
		if receipt != nil {
			t.applyReceipt(ctx, txID, payer, receipt)
		}
		return nil
	})
	if err != nil {
		// A failed fetch already consumed the governor window; the next
		// beat outside the window retries.
		t.logger.WarnContext(ctx, "receipt fetch failed", "tx_id", txID, "error", err)
	}

	return !t.isPending(txID)
}

func (t *Tracker) isPending(txID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil && t.active.TxID == txID && t.active.Status == StatusPending
}

// applyReceipt transitions the active transaction to a terminal state and,
// on success, runs the confirmation side effects. A duplicate receipt for a
// transaction already in a terminal state is a no-op, which is what makes
// the side effects exactly-once.
func (t *Tracker) applyReceipt(ctx context.Context, txID string, payer common.Address, receipt *thor.Receipt) {
	t.mu.Lock()
	if t.active == nil || t.active.TxID != txID || t.active.Status != StatusPending {
		t.mu.Unlock()
		return
	}

	cancel := t.cancelWatch
	t.cancelWatch = nil

	if receipt.Reverted {
		t.active.Status = StatusConfirmedReverted
		t.active = nil
		t.message = msgReverted
		t.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if t.metrics != nil {
			t.metrics.RecordCheckoutTransition(string(StatusConfirmedReverted))
		}
		t.logger.InfoContext(ctx, "transaction reverted", "tx_id", txID, "block", receipt.BlockNumber)
		return
	}

	t.active.Status = StatusConfirmedSuccess
	t.message = msgSuccess
	confirmed := *t.active
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t.metrics != nil {
		t.metrics.RecordCheckoutTransition(string(StatusConfirmedSuccess))
	}
	t.logger.InfoContext(ctx, "transaction confirmed", "tx_id", txID, "block", receipt.BlockNumber)

	t.recordPurchase(ctx, &confirmed)
	t.reconcileBalance(ctx, payer, &confirmed)
}

// recordPurchase persists the purchase and sends the confirmation email.
// The email is only attempted once the record is durably written, and
// neither failure undoes the confirmed payment; both degrade the status
// message instead.
func (t *Tracker) recordPurchase(ctx context.Context, confirmed *PendingTransaction) {
	purchase, err := t.store.CreatePurchase(ctx, db.CreatePurchaseParams{
		ID:           uuid.NewString(),
		Item:         confirmed.Item,
		Amount:       confirmed.Amount,
		PayerAddress: confirmed.Payer,
		TxID:         confirmed.TxID,
		PurchasedAt:  time.Now().UTC(),
		BuyerName:    confirmed.buyer.Name,
		BuyerEmail:   confirmed.buyer.Email,
		BuyerAddress: confirmed.buyer.Address,
	})
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to record purchase", "tx_id", confirmed.TxID, "error", err)
		t.setMessage(msgRecordFailed)
		return
	}
	if t.metrics != nil {
		t.metrics.RecordPurchaseWritten()
	}

	if err := t.mailer.SendConfirmation(ctx, mail.Confirmation{
		BuyerName:    confirmed.buyer.Name,
		BuyerEmail:   confirmed.buyer.Email,
		BuyerAddress: confirmed.buyer.Address,
		ItemName:     confirmed.Item,
		Amount:       confirmed.Amount,
		TxID:         confirmed.TxID,
		Timestamp:    purchase.PurchasedAt,
	}); err != nil {
		t.logger.ErrorContext(ctx, "failed to send confirmation email", "tx_id", confirmed.TxID, "error", err)
		if t.metrics != nil {
			t.metrics.RecordEmailSend("error")
		}
		t.setMessage(msgEmailFailed)
	} else if t.metrics != nil {
		t.metrics.RecordEmailSend("success")
	}

	if t.publisher != nil {
		start := time.Now()
		event := nats.FromDBPurchase(purchase)
		if err := t.publisher.PublishPurchase(ctx, event); err != nil {
			t.logger.ErrorContext(ctx, "failed to publish purchase event", "tx_id", confirmed.TxID, "error", err)
			if t.metrics != nil {
				t.metrics.RecordNATSPublish("purchases", "error", time.Since(start).Seconds())
			}
		} else if t.metrics != nil {
			t.metrics.RecordNATSPublish("purchases", "success", time.Since(start).Seconds())
		}
	}
}

// reconcileBalance refetches the payer's balance after confirmation and
// warns if it moved less than the purchase debited. The refetch is governed
// like any other, and a skipped or failed fetch degrades to a warning, never
// to a status change.
func (t *Tracker) reconcileBalance(ctx context.Context, payer common.Address, confirmed *PendingTransaction) {
	after, err := t.refreshBalance(ctx, payer)
	if err != nil || after == nil {
		t.logger.WarnContext(ctx, "post-confirmation balance unavailable", "tx_id", confirmed.TxID, "error", err)
		t.warn(warnBalanceUnread)
		return
	}
	if confirmed.balanceBefore == nil {
		return
	}
	// A governed skip can hand back the pre-submission snapshot; comparing
	// against that would always look like a missing debit.
	if !after.FetchedAt.After(confirmed.SubmittedAt) {
		return
	}

	diff := new(big.Int).Sub(confirmed.balanceBefore, after.Raw)
	if diff.Cmp(confirmed.expectedDebit) < 0 {
		t.logger.WarnContext(ctx, "balance change less than expected",
			"tx_id", confirmed.TxID,
			"expected", thor.FormatUnits(confirmed.expectedDebit, t.chain.Decimals()),
			"observed", thor.FormatUnits(diff, t.chain.Decimals()),
		)
		if t.metrics != nil {
			t.metrics.RecordBalanceMismatch()
		}
		t.warn(warnBalanceShort)
	}
}

// Balance returns an account's token balance through the shared refetch
// governor. Inside the cooldown window it serves the cached snapshot, so
// callers such as the balance endpoint cannot fetch past the bound the
// checkout path already holds. nil with a nil error means the account is
// unknown to the node, never that it holds zero.
func (t *Tracker) Balance(ctx context.Context, addr common.Address) (*thor.BalanceSnapshot, error) {
	return t.refreshBalance(ctx, addr)
}

// Energy is Balance for the gas-paying balance.
func (t *Tracker) Energy(ctx context.Context, addr common.Address) (*thor.BalanceSnapshot, error) {
	return t.refreshEnergy(ctx, addr)
}

// refreshBalance fetches the payer's token balance through the governor and
// returns the freshest snapshot available. A skipped refetch falls back to
// the cached snapshot; no snapshot at all returns nil. nil means unknown,
// never zero.
func (t *Tracker) refreshBalance(ctx context.Context, addr common.Address) (*thor.BalanceSnapshot, error) {
	_, err := t.gov.TryRefetch(ctx, "balance:"+strings.ToLower(addr.Hex()), func(ctx context.Context) error {
		snap, err := t.chain.GetBalance(ctx, addr)
		if err != nil {
			return err
		}
		if snap != nil {
			t.mu.Lock()
			t.balances[addr] = snap
			t.mu.Unlock()
		}
		return nil
	})

	t.mu.Lock()
	snap := t.balances[addr]
	t.mu.Unlock()
	if snap == nil && err != nil {
		return nil, err
	}
	return snap, nil
}

// refreshEnergy is refreshBalance for the gas-paying balance.
func (t *Tracker) refreshEnergy(ctx context.Context, addr common.Address) (*thor.BalanceSnapshot, error) {
	_, err := t.gov.TryRefetch(ctx, "energy:"+strings.ToLower(addr.Hex()), func(ctx context.Context) error {
		snap, err := t.chain.GetAccountEnergy(ctx, addr)
		if err != nil {
			return err
		}
		if snap != nil {
			t.mu.Lock()
			t.energies[addr] = snap
			t.mu.Unlock()
		}
		return nil
	})

	t.mu.Lock()
	snap := t.energies[addr]
	t.mu.Unlock()
	if snap == nil && err != nil {
		return nil, err
	}
	return snap, nil
}

// State returns a snapshot of the tracker for the status endpoint.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := State{Message: t.message, Warning: t.warning}
	if t.active != nil {
		snapshot := *t.active
		state.Active = &snapshot
	}
	return state
}

// Abandon stops tracking the active transaction and clears the status. The
// chain transaction itself cannot be recalled; abandoning only means the
// storefront stops watching it, so no purchase record or email will be
// produced if it later confirms.
func (t *Tracker) Abandon() bool {
	t.mu.Lock()
	cancel := t.cancelWatch
	had := t.active != nil || t.message != ""
	t.cancelWatch = nil
	t.active = nil
	t.message = ""
	t.warning = ""
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return had
}

// setMessage replaces the status message under the lock.
func (t *Tracker) setMessage(msg string) {
	t.mu.Lock()
	t.message = msg
	t.mu.Unlock()
}

// warn sets the warning without touching the status message.
func (t *Tracker) warn(w string) {
	t.mu.Lock()
	t.warning = w
	t.mu.Unlock()
}
