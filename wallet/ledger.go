/*
Package wallet implements the Wallet Ledger: a member's spendable balance,
its frozen sub-balance, and the append-only transaction log that audits
every mutation.

PURPOSE:
  Every balance change flows through Debit/Credit (or Freeze/Unfreeze) and
  produces exactly one WalletTransaction row carrying before/after snapshots,
  written in the same store transaction as the balance itself. The chain of
  a wallet's transactions, replayed in creation order from zero, reproduces
  its current balance.

CRITICAL INVARIANTS:
  1. Balance >= 0 always; Debit rejects with InsufficientFundsError and
     makes no changes when amount > balance. There is no overdraft.
  2. Per-wallet serialization: every mutation for one wallet id runs under
     that wallet's lock, so the funds check and the write are one atomic
     unit - no check-then-act race across goroutines.
  3. Pairing: the wallet row and its WalletTransaction row commit together
     or not at all.

COMPOSED OPERATIONS:
  Flows that must group a ledger mutation with other writes (a booking's
  debit + payment + slot flips, a settlement's credit + payment restates)
  use InWalletTx: it takes the wallet's lock, opens one store transaction,
  and hands the caller an Ops view whose Debit/Credit apply inside it.

NOTE ON CREDIT:
  Credit has no upper-bound check in this design. The escrow settlement
  path compensates with its own share <= escrowed-sum assertion.

SEE ALSO:
  - booking/types.go: Wallet, WalletTransaction, WalletTxType
  - escrow: the dominant hold mechanism; Freeze/Unfreeze cover the
    remaining frozen-balance flows
*/
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/warp/booking-engine/booking"
)

// =============================================================================
// LEDGER
// =============================================================================

// Entry describes one intended balance mutation.
type Entry struct {
	Type          booking.WalletTxType
	Amount        booking.Money
	ReferenceType string
	ReferenceID   string
	Note          string
}

type Ledger struct {
	store booking.Store
	clock booking.Clock

	mu    sync.Mutex
	locks map[booking.WalletID]*sync.Mutex
}

func NewLedger(store booking.Store, clock booking.Clock) *Ledger {
	return &Ledger{
		store: store,
		clock: clock,
		locks: make(map[booking.WalletID]*sync.Mutex),
	}
}

// lockFor returns the serialization lock for one wallet id.
func (l *Ledger) lockFor(id booking.WalletID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// WalletFor resolves a member's wallet, creating an empty one on first use.
// Lazy creation is deliberate: any money-touching operation starts here.
func (l *Ledger) WalletFor(ctx context.Context, memberID booking.MemberID) (*booking.Wallet, error) {
	return l.store.GetOrCreateWallet(ctx, memberID)
}

// Debit removes spendable funds. Rejects with InsufficientFundsError when
// amount exceeds balance, leaving no trace.
func (l *Ledger) Debit(ctx context.Context, walletID booking.WalletID, e Entry) (*booking.WalletTransaction, error) {
	var out *booking.WalletTransaction
	err := l.InWalletTx(ctx, walletID, func(_ booking.Store, ops *Ops) error {
		tx, err := ops.Debit(ctx, walletID, e)
		out = tx
		return err
	})
	return out, err
}

// Credit adds spendable funds.
func (l *Ledger) Credit(ctx context.Context, walletID booking.WalletID, e Entry) (*booking.WalletTransaction, error) {
	var out *booking.WalletTransaction
	err := l.InWalletTx(ctx, walletID, func(_ booking.Store, ops *Ops) error {
		tx, err := ops.Credit(ctx, walletID, e)
		out = tx
		return err
	})
	return out, err
}

// Freeze moves spendable funds into the frozen sub-balance.
func (l *Ledger) Freeze(ctx context.Context, walletID booking.WalletID, amount booking.Money, refType, refID string) (*booking.WalletTransaction, error) {
	return l.moveFrozen(ctx, walletID, amount, refType, refID, booking.WalletTxFreeze)
}

// Unfreeze returns frozen funds to the spendable balance.
func (l *Ledger) Unfreeze(ctx context.Context, walletID booking.WalletID, amount booking.Money, refType, refID string) (*booking.WalletTransaction, error) {
	return l.moveFrozen(ctx, walletID, amount, refType, refID, booking.WalletTxUnfreeze)
}

// InWalletTx serializes on walletID and opens one store transaction. fn may
// combine Ops.Debit/Ops.Credit with any other store writes; everything
// commits or rolls back as a unit.
func (l *Ledger) InWalletTx(ctx context.Context, walletID booking.WalletID, fn func(s booking.Store, ops *Ops) error) error {
	lock := l.lockFor(walletID)
	lock.Lock()
	defer lock.Unlock()

	return l.store.WithTx(ctx, func(s booking.Store) error {
		return fn(s, &Ops{ledger: l, store: s})
	})
}

// =============================================================================
// OPS - Ledger mutations scoped to one store transaction
// =============================================================================

// Ops applies ledger mutations inside the store transaction it was created
// for. Only obtainable through InWalletTx, which holds the wallet lock.
type Ops struct {
	ledger *Ledger
	store  booking.Store
}

func (o *Ops) Debit(ctx context.Context, walletID booking.WalletID, e Entry) (*booking.WalletTransaction, error) {
	if err := validateEntry(e, false); err != nil {
		return nil, err
	}

	w, err := o.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if e.Amount.GreaterThan(w.Balance) {
		return nil, &booking.InsufficientFundsError{
			WalletID:  walletID,
			Available: w.Balance,
			Requested: e.Amount,
		}
	}

	tx := o.ledger.newTx(*w, e)
	tx.BalanceAfter = w.Balance.Sub(e.Amount)

	w.Balance = tx.BalanceAfter
	w.TotalSpent = w.TotalSpent.Add(e.Amount)
	w.UpdatedAt = o.ledger.clock.Now()

	if err := o.write(ctx, *w, tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (o *Ops) Credit(ctx context.Context, walletID booking.WalletID, e Entry) (*booking.WalletTransaction, error) {
	if err := validateEntry(e, true); err != nil {
		return nil, err
	}

	w, err := o.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	tx := o.ledger.newTx(*w, e)
	tx.BalanceAfter = w.Balance.Add(e.Amount)

	w.Balance = tx.BalanceAfter
	if e.Type == booking.WalletTxDeposit {
		w.TotalDeposited = w.TotalDeposited.Add(e.Amount)
	}
	w.UpdatedAt = o.ledger.clock.Now()

	if err := o.write(ctx, *w, tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (o *Ops) write(ctx context.Context, w booking.Wallet, tx booking.WalletTransaction) error {
	if err := o.store.AppendWalletTransaction(ctx, tx); err != nil {
		return err
	}
	return o.store.UpdateWallet(ctx, w)
}

// =============================================================================
// FROZEN BALANCE
// =============================================================================

func (l *Ledger) moveFrozen(ctx context.Context, walletID booking.WalletID, amount booking.Money, refType, refID string, typ booking.WalletTxType) (*booking.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}

	lock := l.lockFor(walletID)
	lock.Lock()
	defer lock.Unlock()

	var out *booking.WalletTransaction
	err := l.store.WithTx(ctx, func(s booking.Store) error {
		w, err := s.GetWallet(ctx, walletID)
		if err != nil {
			return err
		}

		e := Entry{Type: typ, Amount: amount, ReferenceType: refType, ReferenceID: refID}
		tx := l.newTx(*w, e)

		switch typ {
		case booking.WalletTxFreeze:
			if amount.GreaterThan(w.Balance) {
				return &booking.InsufficientFundsError{WalletID: walletID, Available: w.Balance, Requested: amount}
			}
			tx.BalanceAfter = w.Balance.Sub(amount)
			tx.FrozenAfter = w.Frozen.Add(amount)
		case booking.WalletTxUnfreeze:
			if amount.GreaterThan(w.Frozen) {
				return &booking.InsufficientFundsError{WalletID: walletID, Available: w.Frozen, Requested: amount}
			}
			tx.BalanceAfter = w.Balance.Add(amount)
			tx.FrozenAfter = w.Frozen.Sub(amount)
		}

		w.Balance = tx.BalanceAfter
		w.Frozen = tx.FrozenAfter
		w.UpdatedAt = l.clock.Now()

		if err := s.AppendWalletTransaction(ctx, tx); err != nil {
			return err
		}
		if err := s.UpdateWallet(ctx, *w); err != nil {
			return err
		}
		out = &tx
		return nil
	})
	return out, err
}

// =============================================================================
// AUDIT
// =============================================================================

// History returns a wallet's transactions in creation order.
func (l *Ledger) History(ctx context.Context, walletID booking.WalletID) ([]booking.WalletTransaction, error) {
	return l.store.WalletTransactions(ctx, walletID)
}

// Replay recomputes a wallet's spendable balance from its transaction
// history, starting at zero.
func (l *Ledger) Replay(ctx context.Context, walletID booking.WalletID) (booking.Money, error) {
	txs, err := l.store.WalletTransactions(ctx, walletID)
	if err != nil {
		return booking.ZeroMoney(), err
	}

	balance := booking.ZeroMoney()
	for _, tx := range txs {
		if tx.Type.Credits() {
			balance = balance.Add(tx.Amount)
		} else {
			balance = balance.Sub(tx.Amount)
		}
	}
	return balance, nil
}

// VerifyBalance replays the ledger and compares against the stored balance.
func (l *Ledger) VerifyBalance(ctx context.Context, walletID booking.WalletID) error {
	replayed, err := l.Replay(ctx, walletID)
	if err != nil {
		return err
	}
	w, err := l.store.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if !replayed.Equal(w.Balance) {
		return fmt.Errorf("wallet %s: replayed balance %s does not match stored %s",
			walletID, replayed, w.Balance)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) newTx(w booking.Wallet, e Entry) booking.WalletTransaction {
	return booking.WalletTransaction{
		ID:            booking.NewWalletTxID(),
		WalletID:      w.ID,
		Type:          e.Type,
		Amount:        e.Amount,
		BalanceBefore: w.Balance,
		BalanceAfter:  w.Balance, // overwritten by the operation
		FrozenBefore:  w.Frozen,
		FrozenAfter:   w.Frozen,
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		Note:          e.Note,
		CreatedAt:     l.clock.Now(),
	}
}

func validateEntry(e Entry, credit bool) error {
	if !e.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", e.Amount)
	}
	if credit != e.Type.Credits() {
		return errors.New("transaction type direction does not match operation")
	}
	return nil
}
