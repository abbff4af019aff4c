/*
status.go - Closed status sets with explicit transition tables

PURPOSE:
  Every lifecycle status in the domain is a typed constant, and every legal
  transition is listed in a table. Writes go through check-and-set store
  operations that reject anything not in the table. This removes the class
  of "typo status never matched by any query" bugs that free-text statuses
  invite.

TRANSITION RULES:
  Booking:  PENDING -> CONFIRMED -> COMPLETED
            PENDING -> CANCELLED (expiry)
            CONFIRMED -> CANCELLATION_REQUESTED -> CANCELLED | CONFIRMED
  Payment:  PENDING -> COMPLETED | ESCROWED | FAILED | CANCELLED
            ESCROWED -> SETTLED | REFUNDED     (both terminal)
  Session:  SCHEDULED -> CONFIRMED -> IN_PROGRESS -> COMPLETED
            SCHEDULED | CONFIRMED -> CANCELLED
  Link:     BOOKED -> CANCELLED | COMPLETED
  Cancellation request: PENDING -> APPROVED | REJECTED

SEE ALSO:
  - errors.go: TransitionError returned on rejected transitions
  - store.go: TransitionPayment / TransitionSession check-and-set contracts
*/
package booking

// =============================================================================
// BOOKING STATUS
// =============================================================================

type BookingStatus string

const (
	BookingPending               BookingStatus = "PENDING"
	BookingConfirmed             BookingStatus = "CONFIRMED"
	BookingCompleted             BookingStatus = "COMPLETED"
	BookingCancellationRequested BookingStatus = "CANCELLATION_REQUESTED"
	BookingCancelled             BookingStatus = "CANCELLED"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:               {BookingConfirmed, BookingCancelled},
	BookingConfirmed:             {BookingCompleted, BookingCancellationRequested},
	BookingCancellationRequested: {BookingCancelled, BookingConfirmed},
}

func (s BookingStatus) CanTransition(to BookingStatus) bool {
	return transitionAllowed(bookingTransitions[s], to)
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool { return len(bookingTransitions[s]) == 0 }

// =============================================================================
// PAYMENT STATUS
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentEscrowed  PaymentStatus = "ESCROWED"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentSettled   PaymentStatus = "SETTLED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentCompleted, PaymentEscrowed, PaymentFailed, PaymentCancelled},
	PaymentEscrowed: {PaymentSettled, PaymentRefunded},
}

func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return transitionAllowed(paymentTransitions[s], to)
}

func (s PaymentStatus) IsTerminal() bool { return len(paymentTransitions[s]) == 0 }

// =============================================================================
// SESSION STATUS
// =============================================================================

type SessionStatus string

const (
	SessionScheduled  SessionStatus = "SCHEDULED"
	SessionConfirmed  SessionStatus = "CONFIRMED"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionCancelled  SessionStatus = "CANCELLED"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled:  {SessionConfirmed, SessionCancelled},
	SessionConfirmed:  {SessionInProgress, SessionCancelled},
	SessionInProgress: {SessionCompleted},
}

func (s SessionStatus) CanTransition(to SessionStatus) bool {
	return transitionAllowed(sessionTransitions[s], to)
}

func (s SessionStatus) IsTerminal() bool { return len(sessionTransitions[s]) == 0 }

// =============================================================================
// BOOKING-SLOT LINK STATUS
// =============================================================================

type LinkStatus string

const (
	LinkBooked    LinkStatus = "BOOKED"
	LinkCancelled LinkStatus = "CANCELLED"
	LinkCompleted LinkStatus = "COMPLETED"
)

var linkTransitions = map[LinkStatus][]LinkStatus{
	LinkBooked: {LinkCancelled, LinkCompleted},
}

func (s LinkStatus) CanTransition(to LinkStatus) bool {
	return transitionAllowed(linkTransitions[s], to)
}

// =============================================================================
// CANCELLATION REQUEST STATUS
// =============================================================================

type CancellationStatus string

const (
	CancellationPending  CancellationStatus = "PENDING"
	CancellationApproved CancellationStatus = "APPROVED"
	CancellationRejected CancellationStatus = "REJECTED"
)

var cancellationTransitions = map[CancellationStatus][]CancellationStatus{
	CancellationPending: {CancellationApproved, CancellationRejected},
}

func (s CancellationStatus) CanTransition(to CancellationStatus) bool {
	return transitionAllowed(cancellationTransitions[s], to)
}

func transitionAllowed[S comparable](allowed []S, to S) bool {
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
