/*
sqlite_test.go - Unit tests for the SQLite store's atomic contracts

CORE DESIGN:
- ReserveSlot is a compare-and-swap: exactly one caller wins a slot
- Transition* are check-and-set against both the transition table and the
  row's current status
- WithTx is all-or-nothing: an error inside rolls every write back
*/
package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var testDay = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func addCourtWithSlot(t *testing.T, store *sqlite.Store, status booking.CourtStatus) booking.Slot {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveCourt(ctx, booking.Court{
		ID:        "court-1",
		Name:      "Court 1",
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}))
	slots := booking.GenerateDay("court-1", testDay, 9, 10, time.Now().UTC())
	require.NoError(t, store.SaveSlots(ctx, slots))
	return slots[0]
}

// =============================================================================
// SLOT RESERVATION
// =============================================================================

func TestReserveSlot_FlipsAvailability(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	slot := addCourtWithSlot(t, store, booking.CourtActive)

	require.NoError(t, store.ReserveSlot(ctx, slot.ID))

	got, err := store.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)
}

func TestReserveSlot_AlreadyTaken_Conflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	slot := addCourtWithSlot(t, store, booking.CourtActive)

	require.NoError(t, store.ReserveSlot(ctx, slot.ID))

	err := store.ReserveSlot(ctx, slot.ID)
	var conflict *booking.SlotConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, slot.ID, conflict.SlotID)
	assert.True(t, booking.IsConflict(err))
}

func TestReserveSlot_ArchivedCourt_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	slot := addCourtWithSlot(t, store, booking.CourtArchived)

	err := store.ReserveSlot(ctx, slot.ID)
	assert.ErrorIs(t, err, booking.ErrCourtArchived)
}

func TestReserveSlot_MissingSlot_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.ReserveSlot(context.Background(), "slot-nope")
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)
}

func TestReserveSlot_Concurrent_OneWinner(t *testing.T) {
	// GIVEN: Ten goroutines racing on one slot
	// WHEN: All reserve concurrently
	// THEN: Exactly one succeeds

	store := newTestStore(t)
	ctx := context.Background()
	slot := addCourtWithSlot(t, store, booking.CourtActive)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.ReserveSlot(ctx, slot.ID)
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestReleaseSlot_RestoresAvailability(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	slot := addCourtWithSlot(t, store, booking.CourtActive)

	require.NoError(t, store.ReserveSlot(ctx, slot.ID))
	require.NoError(t, store.ReleaseSlot(ctx, slot.ID))

	got, err := store.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
}

func TestFindAvailableSlots_FiltersWindowAndAvailability(t *testing.T) {
	// GIVEN: Slots 9:00-12:00; the 10:00 one reserved
	// WHEN: Searching 9:00-12:00
	// THEN: Only 9:00 and 11:00 come back, in start order

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCourt(ctx, booking.Court{ID: "court-1", Name: "Court 1", Status: booking.CourtActive, CreatedAt: time.Now().UTC()}))
	slots := booking.GenerateDay("court-1", testDay, 9, 12, time.Now().UTC())
	require.NoError(t, store.SaveSlots(ctx, slots))
	require.NoError(t, store.ReserveSlot(ctx, slots[1].ID))

	found, err := store.FindAvailableSlots(ctx, "court-1",
		testDay.Add(9*time.Hour), testDay.Add(12*time.Hour))
	require.NoError(t, err)

	require.Len(t, found, 2)
	assert.Equal(t, 9, found[0].StartHour)
	assert.Equal(t, 11, found[1].StartHour)
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func savedBooking(t *testing.T, store *sqlite.Store, status booking.BookingStatus) booking.Booking {
	t.Helper()
	now := time.Now().UTC()
	bk := booking.Booking{
		ID:          booking.NewBookingID(),
		MemberID:    "member-1",
		CourtID:     "court-1",
		TotalAmount: booking.MustParseMoney("20.00"),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.SaveBooking(context.Background(), bk))
	return bk
}

func TestTransitionBooking_CheckAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bk := savedBooking(t, store, booking.BookingPending)

	require.NoError(t, store.TransitionBooking(ctx, bk.ID, booking.BookingPending, booking.BookingConfirmed))

	got, err := store.GetBooking(ctx, bk.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.BookingConfirmed, got.Status)

	// Same transition again: the row is no longer PENDING.
	err = store.TransitionBooking(ctx, bk.ID, booking.BookingPending, booking.BookingConfirmed)
	var te *booking.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, string(booking.BookingConfirmed), te.From, "error reports the actual current status")
}

func TestTransitionBooking_IllegalMove_RejectedBeforeWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bk := savedBooking(t, store, booking.BookingPending)

	err := store.TransitionBooking(ctx, bk.ID, booking.BookingPending, booking.BookingCompleted)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	got, err := store.GetBooking(ctx, bk.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.BookingPending, got.Status)
}

func TestTransitionPayment_TerminalStatusStaysPut(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := booking.Payment{
		ID:             booking.NewPaymentID(),
		PayerID:        "member-1",
		Amount:         booking.MustParseMoney("25.00"),
		Type:           booking.PaymentSessionEscrow,
		Status:         booking.PaymentEscrowed,
		Method:         booking.MethodWallet,
		CorrelationKey: "SESSION_ses-1_member-1_x",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.SavePayment(ctx, p))

	require.NoError(t, store.TransitionPayment(ctx, p.ID, booking.PaymentEscrowed, booking.PaymentSettled))

	err := store.TransitionPayment(ctx, p.ID, booking.PaymentEscrowed, booking.PaymentRefunded)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	got, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.PaymentSettled, got.Status)
}

// =============================================================================
// PAYMENT CORRELATION
// =============================================================================

func TestPaymentsByCorrelationPrefix_MatchesLiterally(t *testing.T) {
	// GIVEN: Payments keyed for two sessions, one with a LIKE
	//        metacharacter in its id
	// WHEN: Querying one session's prefix
	// THEN: Only that session's rows match

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	save := func(key string) {
		require.NoError(t, store.SavePayment(ctx, booking.Payment{
			ID:             booking.NewPaymentID(),
			PayerID:        "member-1",
			Amount:         booking.MustParseMoney("25.00"),
			Type:           booking.PaymentSessionEscrow,
			Status:         booking.PaymentEscrowed,
			Method:         booking.MethodWallet,
			CorrelationKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		}))
	}
	save("SESSION_ses-a_member-1_1")
	save("SESSION_ses-a_member-2_2")
	save("SESSION_ses-ab_member-1_3")
	save("SESSION_ses-x%y_member-1_4")

	got, err := store.PaymentsByCorrelationPrefix(ctx, "SESSION_ses-a_")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// The % in the prefix must not act as a wildcard.
	got, err = store.PaymentsByCorrelationPrefix(ctx, "SESSION_ses-x%y_")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SESSION_ses-x%y_member-1_4", got[0].CorrelationKey)
}

// =============================================================================
// WALLETS
// =============================================================================

func TestGetOrCreateWallet_OneWalletPerMember(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w1, err := store.GetOrCreateWallet(ctx, "member-1")
	require.NoError(t, err)
	w2, err := store.GetOrCreateWallet(ctx, "member-1")
	require.NoError(t, err)

	assert.Equal(t, w1.ID, w2.ID)
	assert.True(t, w1.Balance.IsZero())
}

func TestGetOrCreateWallet_ConcurrentFirstUse_SingleWallet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan booking.WalletID, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := store.GetOrCreateWallet(ctx, "member-1")
			if err == nil {
				ids <- w.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[booking.WalletID]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "every caller must resolve to the same wallet")
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestMarkRevenueDistributed_TestAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ses := booking.ClassSession{
		ID:        booking.NewSessionID(),
		CoachID:   "coach-1",
		StartAt:   now.Add(time.Hour),
		EndAt:     now.Add(2 * time.Hour),
		Price:     booking.MustParseMoney("25.00"),
		Status:    booking.SessionScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.SaveSession(ctx, ses))

	won, err := store.MarkRevenueDistributed(ctx, ses.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.MarkRevenueDistributed(ctx, ses.ID)
	require.NoError(t, err)
	assert.False(t, won, "the flag is claimed exactly once")

	_, err = store.MarkRevenueDistributed(ctx, "ses-nope")
	assert.ErrorIs(t, err, booking.ErrSessionNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_ErrorRollsBackEveryWrite(t *testing.T) {
	// GIVEN: A transaction that reserves a slot and saves a booking
	// WHEN: The callback returns an error afterwards
	// THEN: Neither write survives

	store := newTestStore(t)
	ctx := context.Background()
	slot := addCourtWithSlot(t, store, booking.CourtActive)

	bkID := booking.NewBookingID()
	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(s booking.Store) error {
		if err := s.ReserveSlot(ctx, slot.ID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := s.SaveBooking(ctx, booking.Booking{
			ID:          bkID,
			MemberID:    "member-1",
			CourtID:     "court-1",
			TotalAmount: booking.MustParseMoney("20.00"),
			Status:      booking.BookingPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := store.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available, "slot flip rolled back")

	_, err = store.GetBooking(ctx, bkID)
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

func TestWithTx_NestedRunsInSameTransaction(t *testing.T) {
	// GIVEN: A WithTx callback that opens another WithTx
	// WHEN: The outer callback fails after the inner commits logically
	// THEN: The inner writes roll back too - one transaction end to end

	store := newTestStore(t)
	ctx := context.Background()
	slot := addCourtWithSlot(t, store, booking.CourtActive)

	sentinel := errors.New("outer failure")
	err := store.WithTx(ctx, func(s booking.Store) error {
		if err := s.WithTx(ctx, func(inner booking.Store) error {
			return inner.ReserveSlot(ctx, slot.ID)
		}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := store.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
}

func TestWalletTransactions_RoundTripPreservesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	w, err := store.GetOrCreateWallet(ctx, "member-1")
	require.NoError(t, err)

	tx := booking.WalletTransaction{
		ID:            booking.NewWalletTxID(),
		WalletID:      w.ID,
		Type:          booking.WalletTxDeposit,
		Amount:        booking.MustParseMoney("100.00"),
		BalanceBefore: booking.ZeroMoney(),
		BalanceAfter:  booking.MustParseMoney("100.00"),
		FrozenBefore:  booking.ZeroMoney(),
		FrozenAfter:   booking.ZeroMoney(),
		ReferenceType: "top_up",
		ReferenceID:   "pay-1",
		Note:          "first deposit",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.AppendWalletTransaction(ctx, tx))

	got, err := store.WalletTransactions(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, tx.ID, got[0].ID)
	assert.Equal(t, booking.WalletTxDeposit, got[0].Type)
	assert.True(t, got[0].Amount.Equal(tx.Amount))
	assert.True(t, got[0].BalanceAfter.Equal(tx.BalanceAfter))
	assert.Equal(t, "top_up", got[0].ReferenceType)
	assert.Equal(t, "first deposit", got[0].Note)
}
