/*
jobs.go - The periodic sweeps

PURPOSE:
  Six sweeps keep sessions and bookings moving without human input:

  distribute-early-revenue:      SCHEDULED sessions that reached their
                                 registrant minimum confirm and settle
                                 immediately, so the coach is paid as soon
                                 as the session is assured.
  settle-started-sessions:       CONFIRMED sessions whose start time has
                                 passed move to IN_PROGRESS; any revenue
                                 not yet distributed settles now.
  settle-completed-sessions:     IN_PROGRESS sessions past their end time
                                 move to COMPLETED; a final settlement
                                 backstop runs for stragglers.
  cancel-underfilled-sessions:   SCHEDULED sessions that reached start
                                 time below the registrant minimum cancel,
                                 and every escrowed deposit is refunded.
  complete-finished-bookings:    CONFIRMED bookings whose last slot has
                                 ended move to COMPLETED.
  expire-stale-pending-bookings: PENDING bookings whose external payment
                                 never arrived within the TTL are
                                 cancelled and their slots released.

DISJOINTNESS:
  The session status transition claims a session for exactly one sweep.
  Settlement is idempotent on its own (each deposit row is flipped
  ESCROWED -> SETTLED under check-and-set in one transaction), and the
  RevenueDistributed marker is written only after that transaction
  commits, so an interrupted settlement is retried by a later sweep and
  revenue still moves exactly once.
*/
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/warp/booking-engine/allocator"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/escrow"
)

// =============================================================================
// SESSION SWEEPS
// =============================================================================

// DistributeEarlyRevenue confirms sessions that met their registrant
// minimum and settles their escrow without waiting for start time.
type DistributeEarlyRevenue struct {
	Store  booking.Store
	Escrow *escrow.Account
}

func (j *DistributeEarlyRevenue) Name() string { return "distribute-early-revenue" }

func (j *DistributeEarlyRevenue) Run(ctx context.Context, now time.Time) error {
	sessions, err := j.Store.ListSessionsByStatus(ctx, booking.SessionScheduled)
	if err != nil {
		return err
	}
	for _, ses := range sessions {
		if ses.Registrants < ses.MinRegistrants {
			continue
		}
		// Revenue is released early only once the session is imminent;
		// further out, registrants may still cancel.
		if ses.StartAt.Sub(now) > 24*time.Hour {
			continue
		}
		if err := j.Store.TransitionSession(ctx, ses.ID, booking.SessionScheduled, booking.SessionConfirmed); err != nil {
			log.Printf("[Scheduler] distribute-early-revenue: confirm %s: %v", ses.ID, err)
			continue
		}
		settleOnce(ctx, j.Store, j.Escrow, ses, "distribute-early-revenue")
	}
	return nil
}

// SettleStartedSessions moves confirmed sessions past their start time to
// IN_PROGRESS and settles any revenue the early sweep did not reach.
type SettleStartedSessions struct {
	Store  booking.Store
	Escrow *escrow.Account
}

func (j *SettleStartedSessions) Name() string { return "settle-started-sessions" }

func (j *SettleStartedSessions) Run(ctx context.Context, now time.Time) error {
	sessions, err := j.Store.ListSessionsByStatus(ctx, booking.SessionConfirmed)
	if err != nil {
		return err
	}
	for _, ses := range sessions {
		if ses.StartAt.After(now) {
			continue
		}
		if err := j.Store.TransitionSession(ctx, ses.ID, booking.SessionConfirmed, booking.SessionInProgress); err != nil {
			log.Printf("[Scheduler] settle-started-sessions: start %s: %v", ses.ID, err)
			continue
		}
		settleOnce(ctx, j.Store, j.Escrow, ses, "settle-started-sessions")
	}
	return nil
}

// SettleCompletedSessions closes out sessions past their end time.
type SettleCompletedSessions struct {
	Store  booking.Store
	Escrow *escrow.Account
}

func (j *SettleCompletedSessions) Name() string { return "settle-completed-sessions" }

func (j *SettleCompletedSessions) Run(ctx context.Context, now time.Time) error {
	sessions, err := j.Store.ListSessionsByStatus(ctx, booking.SessionInProgress)
	if err != nil {
		return err
	}
	for _, ses := range sessions {
		if ses.EndAt.After(now) {
			continue
		}
		if err := j.Store.TransitionSession(ctx, ses.ID, booking.SessionInProgress, booking.SessionCompleted); err != nil {
			log.Printf("[Scheduler] settle-completed-sessions: complete %s: %v", ses.ID, err)
			continue
		}
		settleOnce(ctx, j.Store, j.Escrow, ses, "settle-completed-sessions")
	}
	return nil
}

// CancelUnderfilledSessions cancels sessions that reached start time below
// their registrant minimum and refunds every escrowed deposit.
type CancelUnderfilledSessions struct {
	Store  booking.Store
	Escrow *escrow.Account
}

func (j *CancelUnderfilledSessions) Name() string { return "cancel-underfilled-sessions" }

func (j *CancelUnderfilledSessions) Run(ctx context.Context, now time.Time) error {
	sessions, err := j.Store.ListSessionsByStatus(ctx, booking.SessionScheduled)
	if err != nil {
		return err
	}
	for _, ses := range sessions {
		if ses.StartAt.After(now) || ses.Registrants >= ses.MinRegistrants {
			continue
		}
		if err := j.Store.TransitionSession(ctx, ses.ID, booking.SessionScheduled, booking.SessionCancelled); err != nil {
			log.Printf("[Scheduler] cancel-underfilled-sessions: cancel %s: %v", ses.ID, err)
			continue
		}
		if _, err := j.Escrow.RefundAll(ctx, ses.ID); err != nil {
			log.Printf("[Scheduler] cancel-underfilled-sessions: refund %s: %v", ses.ID, err)
		}
	}
	return nil
}

// settleOnce settles the session's escrow, then records the revenue flag.
// The settlement itself is the idempotence point: every deposit row flips
// ESCROWED -> SETTLED under check-and-set inside one transaction, so a
// repeat call moves no money. The flag is written only after that
// transaction commits; if the process dies first, the deposits are still
// ESCROWED and the next sweep retries instead of stranding them. Settle
// always runs, so a deposit made after an early distribution is picked
// up by the start or completion sweep.
func settleOnce(ctx context.Context, store booking.Store, account *escrow.Account, ses booking.ClassSession, job string) {
	stl, err := account.Settle(ctx, ses.ID, ses.CoachID)
	if err != nil {
		log.Printf("[Scheduler] %s: settle %s: %v", job, ses.ID, err)
		return
	}
	if _, err := store.MarkRevenueDistributed(ctx, ses.ID); err != nil {
		log.Printf("[Scheduler] %s: mark %s: %v", job, ses.ID, err)
		return
	}
	if stl.SettledCount > 0 {
		log.Printf("[Scheduler] %s: settled %s: %s to coach, %s platform fee (%d deposits)",
			job, ses.ID, stl.ProviderShare, stl.PlatformShare, stl.SettledCount)
	}
}

// =============================================================================
// BOOKING SWEEPS
// =============================================================================

// CompleteFinishedBookings closes confirmed bookings whose last slot has
// ended.
type CompleteFinishedBookings struct {
	Store booking.Store
	Alloc *allocator.Allocator
}

func (j *CompleteFinishedBookings) Name() string { return "complete-finished-bookings" }

func (j *CompleteFinishedBookings) Run(ctx context.Context, now time.Time) error {
	bookings, err := j.Store.ListBookingsByStatus(ctx, booking.BookingConfirmed)
	if err != nil {
		return err
	}
	for _, bk := range bookings {
		end, err := j.Alloc.LastSlotEnd(ctx, bk.ID)
		if err != nil {
			log.Printf("[Scheduler] complete-finished-bookings: slots %s: %v", bk.ID, err)
			continue
		}
		if end.IsZero() || end.After(now) {
			continue
		}
		if err := j.Alloc.CompleteBooking(ctx, bk.ID); err != nil {
			log.Printf("[Scheduler] complete-finished-bookings: complete %s: %v", bk.ID, err)
		}
	}
	return nil
}

// ExpireStalePendingBookings abandons bookings whose external payment did
// not arrive within TTL.
type ExpireStalePendingBookings struct {
	Store booking.Store
	Alloc *allocator.Allocator
	TTL   time.Duration
}

func (j *ExpireStalePendingBookings) Name() string { return "expire-stale-pending-bookings" }

func (j *ExpireStalePendingBookings) Run(ctx context.Context, now time.Time) error {
	bookings, err := j.Store.ListBookingsByStatus(ctx, booking.BookingPending)
	if err != nil {
		return err
	}
	for _, bk := range bookings {
		if bk.CreatedAt.Add(j.TTL).After(now) {
			continue
		}
		if err := j.Alloc.ExpirePending(ctx, bk.ID); err != nil {
			log.Printf("[Scheduler] expire-stale-pending-bookings: expire %s: %v", bk.ID, err)
		}
	}
	return nil
}
