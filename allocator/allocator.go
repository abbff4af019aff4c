/*
Package allocator implements the booking allocation flow: turning a
member's request for a set of court slots into a reserved, priced, and
paid booking, all-or-nothing.

PURPOSE:
  BookSlots is the single write path for creating a booking. It validates
  the requested slots (existence, one court, contiguity), prices them,
  reserves each slot with a compare-and-swap, takes payment, and persists
  the booking with its slot links - inside one store transaction, so a
  failure at any step (a lost slot race, an insufficient balance) leaves
  no partial reservation behind.

CRITICAL INVARIANTS:
  1. All-or-nothing: either every requested slot flips to unavailable and
     the booking + payment + links commit together, or nothing changes.
  2. Contiguity: a multi-slot booking must cover consecutive hours on one
     court; any gap rejects the whole request before money moves.
  3. Pricing: total = first slot's hourly rate x total hours + add-on
     fees. The first-slot rate applies uniformly even when later slots
     would price differently on their own.

PAYMENT MODES:
  WALLET:   the wallet is debited immediately; payment COMPLETED, booking
            CONFIRMED.
  EXTERNAL: payment and booking start PENDING; ConfirmPayment (gateway
            callback) or the expiry sweep finishes the lifecycle.

SEE ALSO:
  - cancellation.go: the request/approve/reject path out of CONFIRMED
  - wallet/ledger.go: InWalletTx, the transactional scope used here
  - pricing: RateTable and FeeTable implementations
*/
package allocator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/notify"
	"github.com/warp/booking-engine/pricing"
	"github.com/warp/booking-engine/wallet"
)

// =============================================================================
// ALLOCATOR
// =============================================================================

type Allocator struct {
	store    booking.Store
	ledger   *wallet.Ledger
	rates    pricing.RateTable
	fees     pricing.FeeTable
	notifier notify.Notifier
	clock    booking.Clock
}

func New(store booking.Store, ledger *wallet.Ledger, rates pricing.RateTable, fees pricing.FeeTable, notifier notify.Notifier, clock booking.Clock) *Allocator {
	return &Allocator{
		store:    store,
		ledger:   ledger,
		rates:    rates,
		fees:     fees,
		notifier: notifier,
		clock:    clock,
	}
}

// Request describes one booking attempt.
type Request struct {
	MemberID    booking.MemberID
	CourtID     booking.CourtID
	SlotIDs     []booking.SlotID
	Method      booking.PaymentMethod
	Purpose     string
	PlayerCount int
	AddOns      booking.AddOns

	// NotifyEmail, when set, receives the confirmation message. Member
	// contact data lives in the external user subsystem, so the caller
	// supplies it.
	NotifyEmail string
}

// Result reports what BookSlots created.
type Result struct {
	Booking booking.Booking
	Payment booking.Payment
	Slots   []booking.Slot
}

// BookSlots reserves the requested slots for a member and takes payment.
// See the package comment for the full contract.
func (a *Allocator) BookSlots(ctx context.Context, req Request) (*Result, error) {
	if len(req.SlotIDs) == 0 {
		return nil, booking.ErrEmptySlotSet
	}

	court, err := a.store.GetCourt(ctx, req.CourtID)
	if err != nil {
		return nil, err
	}
	if court.Status == booking.CourtArchived {
		return nil, booking.ErrCourtArchived
	}

	slots, err := a.store.GetSlots(ctx, req.SlotIDs)
	if err != nil {
		return nil, err
	}
	for _, s := range slots {
		if s.CourtID != req.CourtID {
			return nil, fmt.Errorf("slot %s belongs to court %s, not %s: %w",
				s.ID, s.CourtID, req.CourtID, booking.ErrSlotsNotConsecutive)
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartAt().Before(slots[j].StartAt())
	})
	if err := validateContiguity(slots); err != nil {
		return nil, err
	}

	total := a.price(req.CourtID, slots, req.AddOns)

	w, err := a.ledger.WalletFor(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	bk := booking.Booking{
		ID:          booking.NewBookingID(),
		MemberID:    req.MemberID,
		CourtID:     req.CourtID,
		TotalAmount: total,
		Status:      booking.BookingConfirmed,
		Purpose:     req.Purpose,
		PlayerCount: req.PlayerCount,
		AddOns:      req.AddOns,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	pay := booking.Payment{
		ID:             booking.NewPaymentID(),
		PayerID:        req.MemberID,
		Amount:         total,
		Type:           booking.PaymentBooking,
		Status:         booking.PaymentCompleted,
		Method:         req.Method,
		CorrelationKey: bookingCorrelationKey(bk.ID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Method == booking.MethodExternal {
		// External payments settle through a gateway callback; until then
		// the booking holds its slots in PENDING.
		bk.Status = booking.BookingPending
		pay.Status = booking.PaymentPending
	}
	bk.PaymentID = pay.ID

	err = a.ledger.InWalletTx(ctx, w.ID, func(s booking.Store, ops *wallet.Ops) error {
		// Reserve first: a lost race aborts before any money moves, and
		// the transaction rollback releases slots already flipped.
		for _, slot := range slots {
			if err := s.ReserveSlot(ctx, slot.ID); err != nil {
				return err
			}
		}

		if req.Method == booking.MethodWallet {
			if _, err := ops.Debit(ctx, w.ID, wallet.Entry{
				Type:          booking.WalletTxWithdrawal,
				Amount:        total,
				ReferenceType: "booking",
				ReferenceID:   string(bk.ID),
				Note:          "court booking",
			}); err != nil {
				return err
			}
		}

		if err := s.SavePayment(ctx, pay); err != nil {
			return err
		}
		if err := s.SaveBooking(ctx, bk); err != nil {
			return err
		}
		for _, slot := range slots {
			link := booking.BookingSlotLink{
				BookingID: bk.ID,
				SlotID:    slot.ID,
				Status:    booking.LinkBooked,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.SaveLink(ctx, link); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.notifyAsync(req.NotifyEmail, "booking_confirmed", map[string]any{
		"booking_id": string(bk.ID),
		"court":      court.Name,
		"total":      total.String(),
		"status":     string(bk.Status),
	})

	return &Result{Booking: bk, Payment: pay, Slots: slots}, nil
}

// ConfirmPayment finishes an EXTERNAL-method booking once the gateway
// reports success: payment PENDING -> COMPLETED, booking PENDING ->
// CONFIRMED. A second callback for the same booking fails the payment
// transition and changes nothing.
func (a *Allocator) ConfirmPayment(ctx context.Context, bookingID booking.BookingID) error {
	bk, err := a.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	return a.store.WithTx(ctx, func(s booking.Store) error {
		if err := s.TransitionPayment(ctx, bk.PaymentID, booking.PaymentPending, booking.PaymentCompleted); err != nil {
			return err
		}
		return s.TransitionBooking(ctx, bookingID, booking.BookingPending, booking.BookingConfirmed)
	})
}

// ExpirePending abandons a PENDING booking whose external payment never
// arrived: payment and booking move to CANCELLED, links close, and every
// slot is released for rebooking.
func (a *Allocator) ExpirePending(ctx context.Context, bookingID booking.BookingID) error {
	bk, err := a.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	return a.store.WithTx(ctx, func(s booking.Store) error {
		if err := s.TransitionBooking(ctx, bookingID, booking.BookingPending, booking.BookingCancelled); err != nil {
			return err
		}
		if err := s.TransitionPayment(ctx, bk.PaymentID, booking.PaymentPending, booking.PaymentCancelled); err != nil {
			return err
		}
		return a.closeLinks(ctx, s, bookingID, booking.LinkCancelled, true)
	})
}

// CompleteBooking marks a CONFIRMED booking whose slots have all passed as
// COMPLETED. Slots stay unavailable; their time is spent.
func (a *Allocator) CompleteBooking(ctx context.Context, bookingID booking.BookingID) error {
	return a.store.WithTx(ctx, func(s booking.Store) error {
		if err := s.TransitionBooking(ctx, bookingID, booking.BookingConfirmed, booking.BookingCompleted); err != nil {
			return err
		}
		return a.closeLinks(ctx, s, bookingID, booking.LinkCompleted, false)
	})
}

// LastSlotEnd returns when the booking's final slot ends.
func (a *Allocator) LastSlotEnd(ctx context.Context, bookingID booking.BookingID) (time.Time, error) {
	slots, err := a.bookedSlots(ctx, a.store, bookingID)
	if err != nil {
		return time.Time{}, err
	}
	var end time.Time
	for _, s := range slots {
		if e := s.EndAt(); end.IsZero() || e.After(end) {
			end = e
		}
	}
	return end, nil
}

// FirstSlotStart returns when the booking's earliest slot starts.
func (a *Allocator) FirstSlotStart(ctx context.Context, bookingID booking.BookingID) (time.Time, error) {
	slots, err := a.bookedSlots(ctx, a.store, bookingID)
	if err != nil {
		return time.Time{}, err
	}
	var start time.Time
	for _, s := range slots {
		if st := s.StartAt(); start.IsZero() || st.Before(start) {
			start = st
		}
	}
	return start, nil
}

func (a *Allocator) bookedSlots(ctx context.Context, s booking.Store, bookingID booking.BookingID) ([]booking.Slot, error) {
	links, err := s.LinksByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	ids := make([]booking.SlotID, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.SlotID)
	}
	return s.GetSlots(ctx, ids)
}

// =============================================================================
// INTERNALS
// =============================================================================

// closeLinks moves every BOOKED link of a booking to the given terminal
// status, optionally releasing the underlying slots.
func (a *Allocator) closeLinks(ctx context.Context, s booking.Store, bookingID booking.BookingID, to booking.LinkStatus, release bool) error {
	links, err := s.LinksByBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	now := a.clock.Now()
	for _, l := range links {
		if l.Status != booking.LinkBooked {
			continue
		}
		l.Status = to
		l.UpdatedAt = now
		if err := s.SaveLink(ctx, l); err != nil {
			return err
		}
		if release {
			if err := s.ReleaseSlot(ctx, l.SlotID); err != nil {
				return err
			}
		}
	}
	return nil
}

// price applies the first slot's rate across the booking's total hours.
// Slots arrive sorted, so slots[0] is the earliest.
func (a *Allocator) price(courtID booking.CourtID, slots []booking.Slot, addOns booking.AddOns) booking.Money {
	rate := a.rates.Rate(courtID, slots[0])
	hours := 0
	for _, s := range slots {
		hours += s.Hours()
	}
	return rate.MulInt(hours).Add(a.fees.AddOnTotal(addOns))
}

func (a *Allocator) notifyAsync(email, template string, data map[string]any) {
	if email == "" {
		return
	}
	go func() {
		if err := a.notifier.Notify(email, template, data); err != nil {
			log.Printf("[Allocator] notify %s failed: %v", template, err)
		}
	}()
}

func validateContiguity(sorted []booking.Slot) error {
	for i := 1; i < len(sorted); i++ {
		if !sorted[i].StartAt().Equal(sorted[i-1].EndAt()) {
			return &booking.ContiguityError{
				PrevSlot: sorted[i-1].ID,
				NextSlot: sorted[i].ID,
			}
		}
	}
	return nil
}

func bookingCorrelationKey(id booking.BookingID) string {
	return "BOOKING_" + string(id)
}
