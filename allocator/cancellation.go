/*
cancellation.go - The request/approve/reject path out of a confirmed booking

PURPOSE:
  A member cannot cancel a CONFIRMED booking unilaterally. They file a
  CancellationRequest; an operator approves or rejects it. Approval is the
  only transition to CANCELLED: it releases the slots, closes the links,
  and refunds the booking total to the member's wallet - atomically.
  Rejection puts the booking back to CONFIRMED untouched.

CRITICAL INVARIANTS:
  1. Only the booking's owner may request cancellation.
  2. Requests are rejected inside the cutoff window before the first
     slot's start.
  3. A request is reviewed at most once; a second review returns
     ErrAlreadyProcessed.

SEE ALSO:
  - booking/status.go: BookingCancellationRequested and its transitions
*/
package allocator

import (
	"context"
	"time"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/wallet"
)

// DefaultCancellationCutoff is how long before the first slot a
// cancellation request must arrive.
const DefaultCancellationCutoff = 24 * time.Hour

// Canceller drives the cancellation workflow. Its cutoff is configurable;
// zero means no cutoff.
type Canceller struct {
	store  booking.Store
	ledger *wallet.Ledger
	clock  booking.Clock
	cutoff time.Duration
	alloc  *Allocator
}

func NewCanceller(store booking.Store, ledger *wallet.Ledger, alloc *Allocator, clock booking.Clock, cutoff time.Duration) *Canceller {
	return &Canceller{
		store:  store,
		ledger: ledger,
		clock:  clock,
		cutoff: cutoff,
		alloc:  alloc,
	}
}

// Request files a cancellation request for a CONFIRMED booking and parks
// the booking in CANCELLATION_REQUESTED while it awaits review.
func (c *Canceller) Request(ctx context.Context, bookingID booking.BookingID, requesterID booking.MemberID, reason string) (*booking.CancellationRequest, error) {
	bk, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if bk.MemberID != requesterID {
		return nil, booking.ErrNotOwner
	}

	if c.cutoff > 0 {
		start, err := c.alloc.FirstSlotStart(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if !start.IsZero() && c.clock.Now().Add(c.cutoff).After(start) {
			return nil, booking.ErrCancellationCutoff
		}
	}

	now := c.clock.Now()
	req := booking.CancellationRequest{
		ID:          booking.NewCancellationID(),
		BookingID:   bookingID,
		RequesterID: requesterID,
		Reason:      reason,
		Status:      booking.CancellationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = c.store.WithTx(ctx, func(s booking.Store) error {
		if err := s.TransitionBooking(ctx, bookingID, booking.BookingConfirmed, booking.BookingCancellationRequested); err != nil {
			return err
		}
		return s.SaveCancellation(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Approve finalizes a pending request: booking to CANCELLED, links closed,
// slots released, and the full booking amount refunded to the member's
// wallet, in one transaction.
func (c *Canceller) Approve(ctx context.Context, requestID booking.CancellationID, reviewer, remark string) error {
	req, err := c.store.GetCancellation(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != booking.CancellationPending {
		return booking.ErrAlreadyProcessed
	}
	bk, err := c.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return err
	}
	w, err := c.ledger.WalletFor(ctx, bk.MemberID)
	if err != nil {
		return err
	}

	now := c.clock.Now()
	return c.ledger.InWalletTx(ctx, w.ID, func(s booking.Store, ops *wallet.Ops) error {
		if err := s.TransitionBooking(ctx, req.BookingID, booking.BookingCancellationRequested, booking.BookingCancelled); err != nil {
			return err
		}
		if err := c.alloc.closeLinks(ctx, s, req.BookingID, booking.LinkCancelled, true); err != nil {
			return err
		}

		if bk.TotalAmount.IsPositive() {
			if _, err := ops.Credit(ctx, w.ID, wallet.Entry{
				Type:          booking.WalletTxRefund,
				Amount:        bk.TotalAmount,
				ReferenceType: "booking",
				ReferenceID:   string(bk.ID),
				Note:          "booking cancellation refund",
			}); err != nil {
				return err
			}
			refund := booking.Payment{
				ID:             booking.NewPaymentID(),
				PayerID:        bk.MemberID,
				Amount:         bk.TotalAmount,
				Type:           booking.PaymentRefund,
				Status:         booking.PaymentRefunded,
				Method:         booking.MethodWallet,
				CorrelationKey: bookingCorrelationKey(bk.ID) + "_REFUND",
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.SavePayment(ctx, refund); err != nil {
				return err
			}
		}

		req.Status = booking.CancellationApproved
		req.ReviewedBy = reviewer
		req.AdminRemark = remark
		req.UpdatedAt = now
		return s.SaveCancellation(ctx, *req)
	})
}

// Reject denies a pending request and restores the booking to CONFIRMED.
func (c *Canceller) Reject(ctx context.Context, requestID booking.CancellationID, reviewer, remark string) error {
	req, err := c.store.GetCancellation(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != booking.CancellationPending {
		return booking.ErrAlreadyProcessed
	}

	now := c.clock.Now()
	return c.store.WithTx(ctx, func(s booking.Store) error {
		if err := s.TransitionBooking(ctx, req.BookingID, booking.BookingCancellationRequested, booking.BookingConfirmed); err != nil {
			return err
		}
		req.Status = booking.CancellationRejected
		req.ReviewedBy = reviewer
		req.AdminRemark = remark
		req.UpdatedAt = now
		return s.SaveCancellation(ctx, *req)
	})
}
