/*
errors.go - Centralized error types for the booking engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is / the helpers at the bottom; the HTTP
  layer maps the classes to status codes (validation 400, not found 404,
  conflict 409, everything else 500).

ERROR CATEGORIES:
  1. Validation errors - malformed or policy-violating input; surfaced
     before any durable write, never retried automatically
  2. Not-found errors - referenced id does not exist
  3. Conflict errors - a concurrently-lost race or an already-processed
     request; the caller may retry with fresh data
  4. Everything else - storage failures etc.; atomicity guarantees no
     partial ledger mutation persists

SEE ALSO:
  - allocator.go, wallet/ledger.go, escrow/escrow.go: producers
  - api/handlers.go: HTTP mapping
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSlotsNotConsecutive is returned when a multi-slot booking has a gap
	// or overlap between its slots.
	ErrSlotsNotConsecutive = errors.New("slots not consecutive")

	// ErrInsufficientFunds is returned when a debit exceeds the wallet balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSlotTaken is returned when a reservation loses the race for a slot.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrCourtArchived is returned when reserving a slot on an archived court.
	ErrCourtArchived = errors.New("court unavailable")

	// ErrCourtNotFound is returned when a referenced court does not exist.
	ErrCourtNotFound = errors.New("court not found")

	// ErrSlotNotFound is returned when a referenced slot id does not exist.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrBookingNotFound is returned when a referenced booking does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrWalletNotFound is returned when a wallet id does not exist. Member
	// wallets are created lazily, so this only fires for direct wallet-id
	// lookups, never for member lookups.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrSessionNotFound is returned when a referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPaymentNotFound is returned when a referenced payment does not exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrCancellationNotFound is returned when a cancellation request id does
	// not exist.
	ErrCancellationNotFound = errors.New("cancellation request not found")

	// ErrInvalidTransition is returned when a status change is not in the
	// transition table, including re-processing of terminal payments.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyProcessed is returned when a request that can only be handled
	// once (cancellation approval, settlement) arrives a second time.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrNotOwner is returned when a requester acts on a booking that is not
	// theirs.
	ErrNotOwner = errors.New("requester does not own this booking")

	// ErrCancellationCutoff is returned when a cancellation is requested too
	// close to the booking's start.
	ErrCancellationCutoff = errors.New("cancellation window closed")

	// ErrEmptySlotSet is returned when a booking names no slots.
	ErrEmptySlotSet = errors.New("no slots requested")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError details a balance shortage.
type InsufficientFundsError struct {
	WalletID  WalletID
	Available Money
	Requested Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s",
		e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// SlotConflictError identifies which slot lost a reservation race.
type SlotConflictError struct {
	SlotID SlotID
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot %s already taken", e.SlotID)
}

func (e *SlotConflictError) Unwrap() error { return ErrSlotTaken }

// ContiguityError identifies where a multi-slot run breaks.
type ContiguityError struct {
	PrevSlot SlotID
	NextSlot SlotID
}

func (e *ContiguityError) Error() string {
	return fmt.Sprintf("slots not consecutive: %s does not start where %s ends",
		e.NextSlot, e.PrevSlot)
}

func (e *ContiguityError) Unwrap() error { return ErrSlotsNotConsecutive }

// TransitionError details a rejected status transition.
type TransitionError struct {
	Entity string // "booking", "payment", "session", ...
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsValidation reports whether the error is a policy-violating input the
// caller should fix rather than retry.
func IsValidation(err error) bool {
	return errors.Is(err, ErrSlotsNotConsecutive) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCancellationCutoff) ||
		errors.Is(err, ErrEmptySlotSet)
}

// IsNotFound reports whether the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCourtNotFound) ||
		errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrCancellationNotFound)
}

// IsConflict reports whether the error is a concurrently-lost race the
// caller may retry with fresh data.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotTaken) ||
		errors.Is(err, ErrCourtArchived) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrNotOwner)
}
