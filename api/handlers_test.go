/*
handlers_test.go - HTTP-level tests for the booking API

CORE DESIGN:
- Full stack behind the router: chi -> handlers -> allocator/ledger/escrow
  -> in-memory store, driven by a ManualClock
- Domain errors surface as the documented status codes (400/404/409)
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/booking-engine/allocator"
	"github.com/warp/booking-engine/api"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/escrow"
	"github.com/warp/booking-engine/notify"
	"github.com/warp/booking-engine/pricing"
	"github.com/warp/booking-engine/scheduler"
	"github.com/warp/booking-engine/store/memory"
	"github.com/warp/booking-engine/wallet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	router http.Handler
	store  *memory.Store
	clock  *booking.ManualClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	clock := booking.NewManualClock(time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC))
	ledger := wallet.NewLedger(store, clock)
	account := escrow.NewAccount(store, ledger, escrow.DefaultSplitPolicy(), clock)

	rates := pricing.PeakTable{
		PeakStartHour: 17,
		PeakEndHour:   22,
		PeakRate:      booking.MustParseMoney("30.00"),
		OffPeakRate:   booking.MustParseMoney("20.00"),
	}
	alloc := allocator.New(store, ledger, rates, pricing.FeeTable{
		RacketFee:     booking.MustParseMoney("5.00"),
		ShuttleSetFee: booking.MustParseMoney("8.00"),
	}, notify.Discard{}, clock)

	sched := scheduler.New(clock, time.Minute,
		&scheduler.DistributeEarlyRevenue{Store: store, Escrow: account},
		&scheduler.CancelUnderfilledSessions{Store: store, Escrow: account},
	)

	h := &api.Handler{
		Store:     store,
		Ledger:    ledger,
		Escrow:    account,
		Alloc:     alloc,
		Canceller: allocator.NewCanceller(store, ledger, alloc, clock, time.Hour),
		Scheduler: sched,
		Clock:     clock,
	}
	return &env{
		router: api.NewRouter(h, []string{"*"}),
		store:  store,
		clock:  clock,
	}
}

func (e *env) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

// createCourtWithSlots drives the API itself: create a court, generate a
// day of slots, and return the slot ids in start order.
func (e *env) createCourtWithSlots(t *testing.T, name, date string, open, close int) (string, []string) {
	t.Helper()
	var court struct {
		ID string `json:"id"`
	}
	rec := e.do(t, http.MethodPost, "/api/courts", map[string]any{"name": name}, &court)
	require.Equal(t, http.StatusCreated, rec.Code)

	var slots []struct {
		ID string `json:"id"`
	}
	rec = e.do(t, http.MethodPost, "/api/courts/"+court.ID+"/slots", map[string]any{
		"date": date, "open_hour": open, "close_hour": close,
	}, &slots)
	require.Equal(t, http.StatusCreated, rec.Code)

	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}
	return court.ID, ids
}

func (e *env) topUp(t *testing.T, memberID, amount string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/wallets/"+memberID+"/topup", map[string]any{"amount": amount}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// COURTS & SLOTS
// =============================================================================

func TestCreateCourt_MissingName_BadRequest(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/courts", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateSlots_ThenListAvailable(t *testing.T) {
	// GIVEN: A court with slots for March 2
	// WHEN: Listing availability for that date
	// THEN: Every generated slot is AVAILABLE

	e := newEnv(t)
	courtID, ids := e.createCourtWithSlots(t, "center", "2026-03-02", 9, 12)
	require.Len(t, ids, 3)

	var listed []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	rec := e.do(t, http.MethodGet, "/api/courts/"+courtID+"/slots?date=2026-03-02", nil, &listed)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, listed, 3)
	for _, s := range listed {
		assert.Equal(t, "AVAILABLE", s.Status)
	}
}

func TestGenerateSlots_UnknownCourt_NotFound(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/courts/crt-nope/slots", map[string]any{
		"date": "2026-03-02", "open_hour": 9, "close_hour": 12,
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// BOOKING FLOW
// =============================================================================

func TestCreateBooking_WalletFlow(t *testing.T) {
	// GIVEN: A funded member and two contiguous slots
	// WHEN: Booking them via the API
	// THEN: 201 with a CONFIRMED booking priced at 40.00

	e := newEnv(t)
	courtID, ids := e.createCourtWithSlots(t, "center", "2026-03-02", 9, 11)
	e.topUp(t, "member-1", "100.00")

	var bk struct {
		ID          string   `json:"id"`
		Status      string   `json:"status"`
		TotalAmount string   `json:"total_amount"`
		SlotIDs     []string `json:"slot_ids"`
	}
	rec := e.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"member_id": "member-1",
		"court_id":  courtID,
		"slot_ids":  ids,
	}, &bk)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, "CONFIRMED", bk.Status)
	assert.Equal(t, "40.00", bk.TotalAmount)
	assert.Len(t, bk.SlotIDs, 2)

	var w struct {
		Balance string `json:"balance"`
	}
	rec = e.do(t, http.MethodGet, "/api/wallets/member-1", nil, &w)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60.00", w.Balance)
}

func TestCreateBooking_InsufficientFunds_BadRequest(t *testing.T) {
	e := newEnv(t)
	courtID, ids := e.createCourtWithSlots(t, "center", "2026-03-02", 9, 11)
	e.topUp(t, "member-1", "5.00")

	rec := e.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"member_id": "member-1",
		"court_id":  courtID,
		"slot_ids":  ids,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBooking_TakenSlot_Conflict(t *testing.T) {
	e := newEnv(t)
	courtID, ids := e.createCourtWithSlots(t, "center", "2026-03-02", 9, 10)
	e.topUp(t, "member-1", "100.00")
	e.topUp(t, "member-2", "100.00")

	rec := e.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"member_id": "member-1", "court_id": courtID, "slot_ids": ids,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"member_id": "member-2", "court_id": courtID, "slot_ids": ids,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmBookingPayment_ExternalFlow(t *testing.T) {
	// GIVEN: An EXTERNAL booking parked PENDING
	// WHEN: The gateway callback confirms it
	// THEN: 200 and the booking reads back CONFIRMED; a second callback 409s

	e := newEnv(t)
	courtID, ids := e.createCourtWithSlots(t, "center", "2026-03-02", 9, 10)

	var bk struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	rec := e.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"member_id": "member-1", "court_id": courtID, "slot_ids": ids, "method": "EXTERNAL",
	}, &bk)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "PENDING", bk.Status)

	rec = e.do(t, http.MethodPost, "/api/bookings/"+bk.ID+"/confirm-payment", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/bookings/"+bk.ID+"/confirm-payment", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// CANCELLATION FLOW
// =============================================================================

func TestCancellationFlow_RequestApproveRefund(t *testing.T) {
	// GIVEN: A confirmed 20.00 booking
	// WHEN: The owner requests cancellation and an admin approves
	// THEN: The wallet is made whole and the request reads APPROVED

	e := newEnv(t)
	courtID, ids := e.createCourtWithSlots(t, "center", "2026-03-02", 9, 10)
	e.topUp(t, "member-1", "100.00")

	var bk struct {
		ID string `json:"id"`
	}
	rec := e.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"member_id": "member-1", "court_id": courtID, "slot_ids": ids,
	}, &bk)
	require.Equal(t, http.StatusCreated, rec.Code)

	var cr struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	rec = e.do(t, http.MethodPost, "/api/bookings/"+bk.ID+"/cancellation", map[string]any{
		"requester_id": "member-1", "reason": "schedule conflict",
	}, &cr)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "PENDING", cr.Status)

	var pending []struct {
		ID string `json:"id"`
	}
	rec = e.do(t, http.MethodGet, "/api/cancellations/pending", nil, &pending)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pending, 1)

	var reviewed struct {
		Status     string `json:"status"`
		ReviewedBy string `json:"reviewed_by"`
	}
	rec = e.do(t, http.MethodPost, "/api/cancellations/"+cr.ID+"/approve", map[string]any{
		"reviewer": "admin-1", "remark": "ok",
	}, &reviewed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "APPROVED", reviewed.Status)
	assert.Equal(t, "admin-1", reviewed.ReviewedBy)

	var w struct {
		Balance string `json:"balance"`
	}
	rec = e.do(t, http.MethodGet, "/api/wallets/member-1", nil, &w)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100.00", w.Balance)
}

func TestCancellation_WrongRequester_Conflict(t *testing.T) {
	e := newEnv(t)
	courtID, ids := e.createCourtWithSlots(t, "center", "2026-03-02", 9, 10)
	e.topUp(t, "member-1", "100.00")

	var bk struct {
		ID string `json:"id"`
	}
	rec := e.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"member_id": "member-1", "court_id": courtID, "slot_ids": ids,
	}, &bk)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/bookings/"+bk.ID+"/cancellation", map[string]any{
		"requester_id": "member-2", "reason": "not mine",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// WALLET ENDPOINTS
// =============================================================================

func TestTopUp_ThenTransactionsShowAuditRow(t *testing.T) {
	e := newEnv(t)
	e.topUp(t, "member-1", "75.50")

	var txs []struct {
		Type         string `json:"type"`
		Amount       string `json:"amount"`
		BalanceAfter string `json:"balance_after"`
	}
	rec := e.do(t, http.MethodGet, "/api/wallets/member-1/transactions", nil, &txs)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, txs, 1)
	assert.Equal(t, "DEPOSIT", txs[0].Type)
	assert.Equal(t, "75.50", txs[0].Amount)
	assert.Equal(t, "75.50", txs[0].BalanceAfter)
}

func TestTopUp_NonPositiveAmount_BadRequest(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/wallets/member-1/topup", map[string]any{"amount": "-5.00"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/wallets/member-1/topup", map[string]any{"amount": "abc"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

func createSession(t *testing.T, e *env, price string, minRegistrants int) string {
	t.Helper()
	var ses struct {
		ID string `json:"id"`
	}
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"coach_id":        "coach-1",
		"title":           "Footwork drills",
		"start_at":        "2026-03-01T20:00:00Z",
		"end_at":          "2026-03-01T21:00:00Z",
		"price":           price,
		"min_registrants": minRegistrants,
	}, &ses)
	require.Equal(t, http.StatusCreated, rec.Code)
	return ses.ID
}

func TestSessionRegistration_EscrowsAndCounts(t *testing.T) {
	// GIVEN: A 25.00 session and a funded member
	// WHEN: The member registers
	// THEN: 201, registrants = 1, and the wallet is down 25.00

	e := newEnv(t)
	sesID := createSession(t, e, "25.00", 3)
	e.topUp(t, "member-1", "30.00")

	var ses struct {
		Registrants int    `json:"registrants"`
		Status      string `json:"status"`
	}
	rec := e.do(t, http.MethodPost, "/api/sessions/"+sesID+"/register", map[string]any{
		"member_id": "member-1",
	}, &ses)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, ses.Registrants)
	assert.Equal(t, "SCHEDULED", ses.Status)

	var w struct {
		Balance string `json:"balance"`
	}
	rec = e.do(t, http.MethodGet, "/api/wallets/member-1", nil, &w)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5.00", w.Balance)
}

func TestSessionRegistration_AfterStart_Conflict(t *testing.T) {
	e := newEnv(t)
	sesID := createSession(t, e, "25.00", 3)
	e.topUp(t, "member-1", "30.00")

	e.clock.Set(time.Date(2026, time.March, 1, 20, 0, 0, 0, time.UTC))

	rec := e.do(t, http.MethodPost, "/api/sessions/"+sesID+"/register", map[string]any{
		"member_id": "member-1",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateSession_EndBeforeStart_BadRequest(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"coach_id": "coach-1",
		"start_at": "2026-03-03T11:00:00Z",
		"end_at":   "2026-03-03T10:00:00Z",
		"price":    "25.00",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestRunScheduler_SettlesEligibleSession(t *testing.T) {
	// GIVEN: A session that met its minimum with registered escrow
	// WHEN: The admin trigger runs the sweeps
	// THEN: The coach's wallet holds the provider share

	e := newEnv(t)
	sesID := createSession(t, e, "25.00", 2)
	for _, m := range []string{"member-1", "member-2"} {
		e.topUp(t, m, "25.00")
		rec := e.do(t, http.MethodPost, "/api/sessions/"+sesID+"/register", map[string]any{"member_id": m}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := e.do(t, http.MethodPost, "/api/admin/scheduler/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var w struct {
		Balance string `json:"balance"`
	}
	rec = e.do(t, http.MethodGet, "/api/wallets/coach-1", nil, &w)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "40.00", w.Balance)

	var ses struct {
		Status             string `json:"status"`
		RevenueDistributed bool   `json:"revenue_distributed"`
	}
	rec = e.do(t, http.MethodGet, "/api/sessions/"+sesID, nil, &ses)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CONFIRMED", ses.Status)
	assert.True(t, ses.RevenueDistributed)
}

func TestErrorPayloadShape(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/bookings/bkg-nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Not found", resp.Error)
	assert.Contains(t, resp.Details, "booking not found")
}
