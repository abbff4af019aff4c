/*
store.go - Persistence interfaces for the booking engine

PURPOSE:
  Defines the interface between domain logic and the database. Two
  implementations exist: store/sqlite (production) and store/memory
  (tests/dev). The interfaces encode the atomicity the domain needs:

ATOMIC CONTRACTS:
  ReserveSlot:            compare-and-swap on the availability flag; two
                          concurrent reservations of one slot cannot both
                          succeed
  TransitionPayment:      check-and-set on payment status against the
                          transition table; the guard for settlement
                          idempotence
  TransitionSession:      same, for session status; the guard for the
                          cancellation vs auto-settlement race
  MarkRevenueDistributed: test-and-set on the session flag; the marker that
                          keeps the early-distribution sweep disjoint from
                          the settle-on-start sweep
  WithTx:                 all-or-nothing grouping for multi-step writes
                          (debit + payment + booking + slot flips)

NOT-FOUND SEMANTICS:
  Lookups return the matching sentinel error (ErrSlotNotFound etc.) when the
  id does not exist, so callers classify with errors.Is.

SEE ALSO:
  - store/memory: in-memory implementation with snapshot/rollback WithTx
  - store/sqlite: production implementation
*/
package booking

import (
	"context"
	"time"
)

// =============================================================================
// PER-ENTITY STORES
// =============================================================================

type CourtStore interface {
	SaveCourt(ctx context.Context, c Court) error
	GetCourt(ctx context.Context, id CourtID) (*Court, error)
	ListCourts(ctx context.Context) ([]Court, error)
}

type SlotStore interface {
	// SaveSlots persists a batch of provisioned slots.
	SaveSlots(ctx context.Context, slots []Slot) error

	GetSlot(ctx context.Context, id SlotID) (*Slot, error)

	// GetSlots loads the named slots; ErrSlotNotFound if any id is missing.
	GetSlots(ctx context.Context, ids []SlotID) ([]Slot, error)

	// FindAvailableSlots returns available slots for a court in [from, to).
	FindAvailableSlots(ctx context.Context, courtID CourtID, from, to time.Time) ([]Slot, error)

	// ReserveSlot atomically flips Available true -> false.
	// Returns *SlotConflictError if the slot is already taken and
	// ErrCourtArchived if its court is no longer active.
	ReserveSlot(ctx context.Context, id SlotID) error

	// ReleaseSlot flips Available to true. Releasing an already-available
	// slot is a no-op.
	ReleaseSlot(ctx context.Context, id SlotID) error
}

type BookingStore interface {
	SaveBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)
	ListBookingsByStatus(ctx context.Context, status BookingStatus) ([]Booking, error)

	// TransitionBooking moves a booking from -> to, rejecting transitions
	// not in the table or when the current status is not `from`.
	TransitionBooking(ctx context.Context, id BookingID, from, to BookingStatus) error

	SaveLink(ctx context.Context, l BookingSlotLink) error
	LinksByBooking(ctx context.Context, id BookingID) ([]BookingSlotLink, error)

	// ActiveLinkForSlot returns the link with status BOOKED for a slot,
	// or nil if none.
	ActiveLinkForSlot(ctx context.Context, id SlotID) (*BookingSlotLink, error)
}

type PaymentStore interface {
	// SavePayment inserts a payment. Amount and CorrelationKey are fixed at
	// creation and never updated afterwards.
	SavePayment(ctx context.Context, p Payment) error

	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// PaymentsByCorrelationPrefix returns payments whose correlation key
	// starts with the prefix, ordered by creation time.
	PaymentsByCorrelationPrefix(ctx context.Context, prefix string) ([]Payment, error)

	// TransitionPayment moves a payment from -> to atomically. Returns
	// *TransitionError when the transition is not allowed or the current
	// status is not `from`.
	TransitionPayment(ctx context.Context, id PaymentID, from, to PaymentStatus) error
}

type WalletStore interface {
	// GetOrCreateWallet resolves a member's wallet, creating an empty active
	// one on first use. This is the single deliberate entry point for lazy
	// wallet creation.
	GetOrCreateWallet(ctx context.Context, memberID MemberID) (*Wallet, error)

	GetWallet(ctx context.Context, id WalletID) (*Wallet, error)

	// UpdateWallet writes new balances. Must be paired with
	// AppendWalletTransaction inside the same WithTx.
	UpdateWallet(ctx context.Context, w Wallet) error

	AppendWalletTransaction(ctx context.Context, tx WalletTransaction) error

	// WalletTransactions returns a wallet's audit rows in creation order.
	WalletTransactions(ctx context.Context, id WalletID) ([]WalletTransaction, error)
}

type SessionStore interface {
	SaveSession(ctx context.Context, s ClassSession) error
	GetSession(ctx context.Context, id SessionID) (*ClassSession, error)
	ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]ClassSession, error)

	// TransitionSession moves a session from -> to atomically; the session
	// status is the single authoritative field both the scheduler and
	// cancellation flows contend on.
	TransitionSession(ctx context.Context, id SessionID, from, to SessionStatus) error

	// AddRegistrant increments the registrant count.
	AddRegistrant(ctx context.Context, id SessionID) error

	// MarkRevenueDistributed sets the flag and reports whether this call was
	// the one that set it (false = already distributed).
	MarkRevenueDistributed(ctx context.Context, id SessionID) (bool, error)
}

type CancellationStore interface {
	SaveCancellation(ctx context.Context, r CancellationRequest) error
	GetCancellation(ctx context.Context, id CancellationID) (*CancellationRequest, error)
	CancellationByBooking(ctx context.Context, id BookingID) (*CancellationRequest, error)
	ListPendingCancellations(ctx context.Context) ([]CancellationRequest, error)
}

// =============================================================================
// STORE - The full persistence surface
// =============================================================================

// Store aggregates every entity store plus transactional grouping.
type Store interface {
	CourtStore
	SlotStore
	BookingStore
	PaymentStore
	WalletStore
	SessionStore
	CancellationStore

	// WithTx executes fn against a transactional view of the store.
	// If fn returns an error every write inside it is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
