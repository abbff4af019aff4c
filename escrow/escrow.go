/*
Package escrow implements the class-session escrow account: the holding
area between a registrant's wallet and the coach's payout.

PURPOSE:
  Money a member pays to join a class session does not go to the coach
  immediately. Deposit debits the payer's wallet and parks the amount as an
  ESCROWED payment row keyed by the session's correlation prefix. At
  settlement time, Settle gathers every still-escrowed row for the session,
  splits the sum by the configured policy, credits the coach's wallet with
  the provider share, and records the platform fee. Refund returns escrowed
  money to a payer when a session is cancelled.

CRITICAL INVARIANTS:
  1. Idempotent settlement: each deposit row is flipped ESCROWED -> SETTLED
     with a check-and-set; a row that lost the race aborts the settlement
     transaction, and a session whose rows are all settled (or refunded)
     settles again as a zero-row no-op.
  2. Conservation: provider share + platform fee == escrowed sum, and the
     provider share is asserted <= the sum before any credit is written.
  3. Refund flips the payer's escrowed rows to REFUNDED in the same
     transaction as the wallet credit, so settlement cannot later pay the
     coach out of refunded money.

SEE ALSO:
  - wallet/ledger.go: InWalletTx, which scopes all of the above to one
    store transaction
  - scheduler: the jobs that drive Settle and Refund on session lifecycle
*/
package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/wallet"
)

// =============================================================================
// SPLIT POLICY
// =============================================================================

// SplitPolicy fixes how a settled escrow sum divides between the session's
// provider (coach) and the platform. Shares must sum to exactly 1.
type SplitPolicy struct {
	ProviderShare decimal.Decimal
	PlatformShare decimal.Decimal
}

// NewSplitPolicy builds a policy from the provider's fraction, e.g. 0.80.
func NewSplitPolicy(providerShare decimal.Decimal) (SplitPolicy, error) {
	one := decimal.NewFromInt(1)
	if providerShare.LessThanOrEqual(decimal.Zero) || providerShare.GreaterThan(one) {
		return SplitPolicy{}, fmt.Errorf("provider share must be in (0, 1], got %s", providerShare)
	}
	return SplitPolicy{
		ProviderShare: providerShare,
		PlatformShare: one.Sub(providerShare),
	}, nil
}

// DefaultSplitPolicy is the standard 80/20 coach/platform split.
func DefaultSplitPolicy() SplitPolicy {
	p, _ := NewSplitPolicy(decimal.NewFromFloat(0.80))
	return p
}

// Split divides total into (provider, platform). The platform share is
// computed by subtraction so the two always sum back to total exactly.
func (p SplitPolicy) Split(total booking.Money) (booking.Money, booking.Money) {
	provider := total.Mul(p.ProviderShare).Round2()
	platform := total.Sub(provider)
	return provider, platform
}

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	store  booking.Store
	ledger *wallet.Ledger
	split  SplitPolicy
	clock  booking.Clock

	mu    sync.Mutex
	locks map[booking.SessionID]*sync.Mutex
}

func NewAccount(store booking.Store, ledger *wallet.Ledger, split SplitPolicy, clock booking.Clock) *Account {
	return &Account{
		store:  store,
		ledger: ledger,
		split:  split,
		clock:  clock,
		locks:  make(map[booking.SessionID]*sync.Mutex),
	}
}

func (a *Account) lockFor(id booking.SessionID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[id] = lock
	}
	return lock
}

// Deposit moves amount from the payer's wallet into escrow for sessionID.
// The wallet debit and the ESCROWED payment row commit atomically; an
// insufficient balance rejects the whole deposit with no trace. Callers
// that must move alongside the deposit (counting a registrant, say) pass
// an inTx hook, which runs inside the same transaction and aborts the
// deposit if it fails.
func (a *Account) Deposit(ctx context.Context, payerID booking.MemberID, amount booking.Money, sessionID booking.SessionID, inTx ...func(s booking.Store) error) (*booking.Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive, got %s", amount)
	}

	w, err := a.ledger.WalletFor(ctx, payerID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	payment := booking.Payment{
		ID:             booking.NewPaymentID(),
		PayerID:        payerID,
		Amount:         amount,
		Type:           booking.PaymentSessionEscrow,
		Status:         booking.PaymentEscrowed,
		Method:         booking.MethodWallet,
		CorrelationKey: booking.NewSessionCorrelationKey(sessionID, payerID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = a.ledger.InWalletTx(ctx, w.ID, func(s booking.Store, ops *wallet.Ops) error {
		if _, err := ops.Debit(ctx, w.ID, wallet.Entry{
			Type:          booking.WalletTxWithdrawal,
			Amount:        amount,
			ReferenceType: "class_session",
			ReferenceID:   string(sessionID),
			Note:          "escrow deposit",
		}); err != nil {
			return err
		}
		if err := s.SavePayment(ctx, payment); err != nil {
			return err
		}
		for _, fn := range inTx {
			if err := fn(s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Settlement reports what one Settle call moved.
type Settlement struct {
	SessionID     booking.SessionID
	Total         booking.Money
	ProviderShare booking.Money
	PlatformShare booking.Money
	SettledCount  int
}

// Settle gathers every still-ESCROWED deposit for sessionID, flips each to
// SETTLED, credits providerID's wallet with the provider share, and records
// the payout and fee as COMPLETED payment rows. A session with no escrowed
// rows left settles as a no-op, which makes repeated calls harmless.
func (a *Account) Settle(ctx context.Context, sessionID booking.SessionID, providerID booking.MemberID) (*Settlement, error) {
	lock := a.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	w, err := a.ledger.WalletFor(ctx, providerID)
	if err != nil {
		return nil, err
	}

	result := &Settlement{
		SessionID:     sessionID,
		Total:         booking.ZeroMoney(),
		ProviderShare: booking.ZeroMoney(),
		PlatformShare: booking.ZeroMoney(),
	}

	err = a.ledger.InWalletTx(ctx, w.ID, func(s booking.Store, ops *wallet.Ops) error {
		escrowed, err := a.escrowedDeposits(ctx, s, sessionID)
		if err != nil {
			return err
		}
		if len(escrowed) == 0 {
			return nil
		}

		total := booking.ZeroMoney()
		for _, p := range escrowed {
			total = total.Add(p.Amount)
		}

		provider, platform := a.split.Split(total)
		if provider.GreaterThan(total) {
			return fmt.Errorf("session %s: provider share %s exceeds escrowed sum %s",
				sessionID, provider, total)
		}

		// Flip every deposit first; a row already moved by a concurrent
		// path aborts the whole transaction before any money is credited.
		for _, p := range escrowed {
			if err := s.TransitionPayment(ctx, p.ID, booking.PaymentEscrowed, booking.PaymentSettled); err != nil {
				return err
			}
		}

		if _, err := ops.Credit(ctx, w.ID, wallet.Entry{
			Type:          booking.WalletTxCoachIncome,
			Amount:        provider,
			ReferenceType: "class_session",
			ReferenceID:   string(sessionID),
			Note:          "session settlement payout",
		}); err != nil {
			return err
		}

		now := a.clock.Now()
		payout := booking.Payment{
			ID:             booking.NewPaymentID(),
			PayerID:        providerID,
			Amount:         provider,
			Type:           booking.PaymentCoachIncome,
			Status:         booking.PaymentCompleted,
			Method:         booking.MethodWallet,
			CorrelationKey: booking.SessionCorrelationPrefix(sessionID) + "PAYOUT",
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		fee := booking.Payment{
			ID:             booking.NewPaymentID(),
			PayerID:        providerID,
			Amount:         platform,
			Type:           booking.PaymentPlatformFee,
			Status:         booking.PaymentCompleted,
			Method:         booking.MethodWallet,
			CorrelationKey: booking.SessionCorrelationPrefix(sessionID) + "FEE",
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.SavePayment(ctx, payout); err != nil {
			return err
		}
		if err := s.SavePayment(ctx, fee); err != nil {
			return err
		}

		result.Total = total
		result.ProviderShare = provider
		result.PlatformShare = platform
		result.SettledCount = len(escrowed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund returns amount to payerID's wallet and flips that payer's escrowed
// deposits for sessionID to REFUNDED, all in one transaction. Refunded rows
// are invisible to Settle, so the same money can never also reach the coach.
func (a *Account) Refund(ctx context.Context, payerID booking.MemberID, amount booking.Money, sessionID booking.SessionID) (*booking.Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive, got %s", amount)
	}

	lock := a.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	w, err := a.ledger.WalletFor(ctx, payerID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	record := booking.Payment{
		ID:             booking.NewPaymentID(),
		PayerID:        payerID,
		Amount:         amount,
		Type:           booking.PaymentRefund,
		Status:         booking.PaymentRefunded,
		Method:         booking.MethodWallet,
		CorrelationKey: booking.NewSessionCorrelationKey(sessionID, payerID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = a.ledger.InWalletTx(ctx, w.ID, func(s booking.Store, ops *wallet.Ops) error {
		escrowed, err := a.escrowedDeposits(ctx, s, sessionID)
		if err != nil {
			return err
		}
		for _, p := range escrowed {
			if p.PayerID != payerID {
				continue
			}
			if err := s.TransitionPayment(ctx, p.ID, booking.PaymentEscrowed, booking.PaymentRefunded); err != nil {
				return err
			}
		}

		if _, err := ops.Credit(ctx, w.ID, wallet.Entry{
			Type:          booking.WalletTxRefund,
			Amount:        amount,
			ReferenceType: "class_session",
			ReferenceID:   string(sessionID),
			Note:          "session refund",
		}); err != nil {
			return err
		}
		return s.SavePayment(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// RefundAll returns every escrowed deposit for sessionID to its payer,
// one Refund per payer. Used when an underfilled session is cancelled.
func (a *Account) RefundAll(ctx context.Context, sessionID booking.SessionID) ([]booking.Payment, error) {
	deposits, err := a.escrowedDeposits(ctx, a.store, sessionID)
	if err != nil {
		return nil, err
	}

	owed := make(map[booking.MemberID]booking.Money)
	order := make([]booking.MemberID, 0, len(deposits))
	for _, p := range deposits {
		if _, ok := owed[p.PayerID]; !ok {
			order = append(order, p.PayerID)
		}
		owed[p.PayerID] = owed[p.PayerID].Add(p.Amount)
	}

	var refunds []booking.Payment
	for _, payer := range order {
		r, err := a.Refund(ctx, payer, owed[payer], sessionID)
		if err != nil {
			return refunds, fmt.Errorf("refund payer %s for session %s: %w", payer, sessionID, err)
		}
		refunds = append(refunds, *r)
	}
	return refunds, nil
}

// EscrowedSum reports how much money currently sits in escrow for a session.
func (a *Account) EscrowedSum(ctx context.Context, sessionID booking.SessionID) (booking.Money, error) {
	deposits, err := a.escrowedDeposits(ctx, a.store, sessionID)
	if err != nil {
		return booking.ZeroMoney(), err
	}
	total := booking.ZeroMoney()
	for _, p := range deposits {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// escrowedDeposits selects the session's deposit rows still awaiting
// settlement. Payout and fee rows share the correlation prefix but carry
// other types and never match.
func (a *Account) escrowedDeposits(ctx context.Context, s booking.Store, sessionID booking.SessionID) ([]booking.Payment, error) {
	all, err := s.PaymentsByCorrelationPrefix(ctx, booking.SessionCorrelationPrefix(sessionID))
	if err != nil {
		return nil, err
	}
	out := make([]booking.Payment, 0, len(all))
	for _, p := range all {
		if p.Type == booking.PaymentSessionEscrow && p.Status == booking.PaymentEscrowed {
			out = append(out, p)
		}
	}
	return out, nil
}
