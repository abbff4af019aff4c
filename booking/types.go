/*
Package booking provides the core court-booking and escrow-ledger domain.

PURPOSE:
  This package contains the domain types and algorithms that carry the
  platform's real invariants: money must balance, a slot must never be held
  by two confirmed bookings, and settlement must be idempotent. Everything
  else (profiles, feedback, chat, notifications) is an external collaborator
  reached through narrow interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount backed by decimal.Decimal (never float)
  - Court/Slot: The bookable resource and its indivisible time units
  - Booking/BookingSlotLink: A member's reservation over contiguous slots
  - Payment: Append-mostly monetary record with a correlation key
  - Wallet/WalletTransaction: Spendable balance and its audit trail
  - ClassSession: A deferred obligation whose funds flow through escrow
  - Typed identifiers for every entity

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all amounts, no floating-point drift
  2. Closed status sets: every status is a typed constant with an explicit
     transition table (see status.go) - no free-text statuses
  3. Immutability: Payment amount and correlation key never change after
     creation; WalletTransaction rows are never edited
  4. Type Safety: Strong ID types prevent mixing member/wallet/slot ids

SEE ALSO:
  - status.go: Transition tables for every status enum
  - errors.go: Sentinel and structured error types
  - store.go: Persistence interfaces
  - allocator: The slot reservation and pricing flow built on these types
*/
package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount (single currency)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func MoneyFromInt(value int) Money {
	return Money{Value: decimal.NewFromInt(int64(value))}
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney()
	}
	return Money{Value: d}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money              { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money              { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money    { return Money{Value: m.Value.Mul(s)} }
func (m Money) MulInt(n int) Money             { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) Neg() Money                     { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool               { return m.Value.IsNegative() }
func (m Money) IsZero() bool                   { return m.Value.IsZero() }
func (m Money) IsPositive() bool               { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool       { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool          { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool             { return m.Value.Equal(o.Value) }
func (m Money) Round2() Money                  { return Money{Value: m.Value.Round(2)} }
func (m Money) String() string                 { return m.Value.StringFixed(2) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

// MemberID references a member owned by the external user subsystem;
// this package performs no authentication, only ownership checks.
type (
	MemberID       string
	CourtID        string
	SlotID         string
	BookingID      string
	PaymentID      string
	WalletID       string
	WalletTxID     string
	SessionID      string
	CancellationID string
)

// newID builds a prefixed unique identifier, e.g. "bkg-5f3a...".
func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func NewBookingID() BookingID           { return BookingID(newID("bkg")) }
func NewPaymentID() PaymentID           { return PaymentID(newID("pay")) }
func NewWalletID() WalletID             { return WalletID(newID("wal")) }
func NewWalletTxID() WalletTxID         { return WalletTxID(newID("wtx")) }
func NewSlotID() SlotID                 { return SlotID(newID("slot")) }
func NewSessionID() SessionID           { return SessionID(newID("ses")) }
func NewCancellationID() CancellationID { return CancellationID(newID("cr")) }

// =============================================================================
// COURT & SLOT - The bookable resource and its time units
// =============================================================================

type CourtStatus string

const (
	CourtActive   CourtStatus = "ACTIVE"
	CourtArchived CourtStatus = "ARCHIVED"
)

type Court struct {
	ID        CourtID
	Name      string
	Status    CourtStatus
	CreatedAt time.Time
}

// Slot is a single indivisible bookable interval on one court.
// Availability is the only mutable field; it is flipped by the allocator
// (reserve) and by cancellation/refund flows (release), never deleted
// while referenced.
type Slot struct {
	ID        SlotID
	CourtID   CourtID
	Date      time.Time // midnight UTC of the slot's day
	StartHour int
	EndHour   int
	Available bool
	CreatedAt time.Time
}

func (s Slot) StartAt() time.Time {
	return time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(), s.StartHour, 0, 0, 0, time.UTC)
}

func (s Slot) EndAt() time.Time {
	return time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(), s.EndHour, 0, 0, 0, time.UTC)
}

// Hours returns the slot duration in whole hours.
func (s Slot) Hours() int { return s.EndHour - s.StartHour }

// OperatingStatus is the derived availability tag shown to clients.
// It is computed, not persisted.
type OperatingStatus string

const (
	SlotOpen        OperatingStatus = "AVAILABLE"
	SlotBooked      OperatingStatus = "BOOKED"
	SlotClosed      OperatingStatus = "CLOSED"
	SlotMaintenance OperatingStatus = "MAINTENANCE"
)

func (s Slot) OperatingStatus(court *Court) OperatingStatus {
	if court != nil && court.Status == CourtArchived {
		return SlotClosed
	}
	if !s.Available {
		return SlotBooked
	}
	return SlotOpen
}

// GenerateDay provisions one day's slots for a court over [openHour, closeHour),
// one hour each. Used when a court is created or its schedule regenerated.
func GenerateDay(courtID CourtID, date time.Time, openHour, closeHour int, now time.Time) []Slot {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	var slots []Slot
	for h := openHour; h < closeHour; h++ {
		slots = append(slots, Slot{
			ID:        NewSlotID(),
			CourtID:   courtID,
			Date:      day,
			StartHour: h,
			EndHour:   h + 1,
			Available: true,
			CreatedAt: now,
		})
	}
	return slots
}

// =============================================================================
// BOOKING - Aggregate of contiguous slots reserved together
// =============================================================================

// AddOns are ancillary rentals that contribute to the booking price.
type AddOns struct {
	Rackets     int // priced per unit
	ShuttleSets int // priced per set (flat fee each)
}

type Booking struct {
	ID          BookingID
	MemberID    MemberID
	CourtID     CourtID
	TotalAmount Money
	Status      BookingStatus
	Purpose     string
	PlayerCount int
	AddOns      AddOns
	PaymentID   PaymentID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BookingSlotLink joins a booking to one of its slots. It carries its own
// status independent of the parent booking because a multi-slot booking may
// partially complete or cancel.
//
// INVARIANT: (BookingID, SlotID) is unique; a slot has at most one link with
// status BOOKED at any time.
type BookingSlotLink struct {
	BookingID BookingID
	SlotID    SlotID
	Status    LinkStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// PAYMENT - Generic monetary record with correlation key
// =============================================================================

type PaymentType string

const (
	PaymentBooking       PaymentType = "BOOKING"
	PaymentTopUp         PaymentType = "TOP_UP"
	PaymentSessionEscrow PaymentType = "CLASS_SESSION_ESCROW"
	PaymentCoachIncome   PaymentType = "COACH_INCOME"
	PaymentPlatformFee   PaymentType = "PLATFORM_FEE"
	PaymentRefund        PaymentType = "REFUND"
)

type PaymentMethod string

const (
	MethodWallet   PaymentMethod = "WALLET"
	MethodExternal PaymentMethod = "EXTERNAL"
)

// Payment is append-mostly: status transitions are recorded in place, but
// Amount and CorrelationKey never change after creation. The correlation
// key is how escrow discovers all deposits for one obligation without a
// separate join table.
type Payment struct {
	ID             PaymentID
	PayerID        MemberID
	Amount         Money
	Type           PaymentType
	Status         PaymentStatus
	Method         PaymentMethod
	CorrelationKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionCorrelationPrefix is shared by every escrow deposit for a session.
func SessionCorrelationPrefix(sessionID SessionID) string {
	return fmt.Sprintf("SESSION_%s_", sessionID)
}

// NewSessionCorrelationKey builds the full key for one deposit.
func NewSessionCorrelationKey(sessionID SessionID, payerID MemberID) string {
	return SessionCorrelationPrefix(sessionID) + string(payerID) + "_" + uuid.NewString()
}

// =============================================================================
// WALLET - Spendable balance with audit trail
// =============================================================================

type WalletStatus string

const (
	WalletActive    WalletStatus = "ACTIVE"
	WalletSuspended WalletStatus = "SUSPENDED"
)

// Wallet holds a member's spendable balance plus a frozen sub-balance.
//
// INVARIANT: Balance >= 0 always. Every mutation is paired with a
// WalletTransaction row written in the same store transaction.
type Wallet struct {
	ID             WalletID
	MemberID       MemberID
	Balance        Money
	Frozen         Money
	TotalDeposited Money
	TotalSpent     Money
	Status         WalletStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type WalletTxType string

const (
	WalletTxDeposit     WalletTxType = "DEPOSIT"
	WalletTxWithdrawal  WalletTxType = "WITHDRAWAL"
	WalletTxFreeze      WalletTxType = "FREEZE"
	WalletTxUnfreeze    WalletTxType = "UNFREEZE"
	WalletTxRefund      WalletTxType = "REFUND"
	WalletTxCoachIncome WalletTxType = "COACH_INCOME"
)

// Credits returns true if this transaction type increases spendable balance.
func (t WalletTxType) Credits() bool {
	switch t {
	case WalletTxDeposit, WalletTxRefund, WalletTxCoachIncome, WalletTxUnfreeze:
		return true
	}
	return false
}

// WalletTransaction is an immutable audit row.
//
// INVARIANT: BalanceAfter = BalanceBefore +/- Amount consistent with Type;
// replaying a wallet's transactions in creation order from zero reproduces
// its current balance.
type WalletTransaction struct {
	ID            WalletTxID
	WalletID      WalletID
	Type          WalletTxType
	Amount        Money
	BalanceBefore Money
	BalanceAfter  Money
	FrozenBefore  Money
	FrozenAfter   Money
	ReferenceType string // e.g. "booking", "session", "top_up"
	ReferenceID   string
	Note          string
	CreatedAt     time.Time
}

// =============================================================================
// CANCELLATION REQUEST - The only path from CONFIRMED to CANCELLED
// =============================================================================

type CancellationRequest struct {
	ID          CancellationID
	BookingID   BookingID
	RequesterID MemberID
	Reason      string
	Status      CancellationStatus
	AdminRemark string
	ReviewedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// CLASS SESSION - Deferred obligation settled through escrow
// =============================================================================

type ClassSession struct {
	ID                 SessionID
	CoachID            MemberID
	Title              string
	StartAt            time.Time
	EndAt              time.Time
	Price              Money
	MinRegistrants     int
	Registrants        int
	Status             SessionStatus
	RevenueDistributed bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
