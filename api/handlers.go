/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Courts:
    GET    /api/courts                      List courts
    POST   /api/courts                      Create court
    POST   /api/courts/{id}/slots           Generate a day's slots
    GET    /api/courts/{id}/slots           List available slots

  Bookings:
    POST   /api/bookings                    Book contiguous slots
    GET    /api/bookings/{id}               Get booking with its slots
    POST   /api/bookings/{id}/confirm-payment  External payment callback
    POST   /api/bookings/{id}/cancellation  File a cancellation request

  Cancellations:
    GET    /api/cancellations/pending       List requests awaiting review
    POST   /api/cancellations/{id}/approve  Approve (refund + release)
    POST   /api/cancellations/{id}/reject   Reject (back to confirmed)

  Wallets:
    GET    /api/wallets/{memberID}              Balance summary
    POST   /api/wallets/{memberID}/topup        Deposit funds
    GET    /api/wallets/{memberID}/transactions Audit trail

  Sessions:
    POST   /api/sessions                    Create a class session
    GET    /api/sessions/{id}               Get session
    POST   /api/sessions/{id}/register      Pay into escrow and register

  Admin:
    POST   /api/admin/scheduler/run         Trigger all sweeps now

ERROR HANDLING:
  Domain errors map to HTTP status via the error taxonomy:
  - 400: Validation errors (gaps, insufficient funds, bad input)
  - 404: Unknown entity
  - 409: Lost races and rejected transitions
  - 500: Everything else

SECURITY NOTE:
  No authentication middleware. Member identity arrives in the request
  body; ownership checks are the only enforcement.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/booking-engine/allocator"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/escrow"
	"github.com/warp/booking-engine/scheduler"
	"github.com/warp/booking-engine/wallet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     booking.Store
	Ledger    *wallet.Ledger
	Escrow    *escrow.Account
	Alloc     *allocator.Allocator
	Canceller *allocator.Canceller
	Scheduler *scheduler.Scheduler
	Clock     booking.Clock
}

// =============================================================================
// COURT & SLOT HANDLERS
// =============================================================================

func (h *Handler) ListCourts(w http.ResponseWriter, r *http.Request) {
	courts, err := h.Store.ListCourts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CourtDTO, 0, len(courts))
	for _, c := range courts {
		dtos = append(dtos, CourtDTO{ID: string(c.ID), Name: c.Name, Status: string(c.Status)})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCourt(w http.ResponseWriter, r *http.Request) {
	var req CreateCourtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Court name is required", nil)
		return
	}

	c := booking.Court{
		ID:        booking.CourtID("crt-" + req.Name),
		Name:      req.Name,
		Status:    booking.CourtActive,
		CreatedAt: h.Clock.Now(),
	}
	if err := h.Store.SaveCourt(r.Context(), c); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CourtDTO{ID: string(c.ID), Name: c.Name, Status: string(c.Status)})
}

func (h *Handler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	courtID := booking.CourtID(chi.URLParam(r, "id"))

	var req GenerateSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if req.OpenHour < 0 || req.CloseHour > 24 || req.OpenHour >= req.CloseHour {
		writeError(w, http.StatusBadRequest, "Invalid operating hours", nil)
		return
	}

	court, err := h.Store.GetCourt(r.Context(), courtID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slots := booking.GenerateDay(courtID, date, req.OpenHour, req.CloseHour, h.Clock.Now())
	if err := h.Store.SaveSlots(r.Context(), slots); err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]SlotDTO, 0, len(slots))
	for _, s := range slots {
		dtos = append(dtos, toSlotDTO(s, court))
	}
	writeJSON(w, http.StatusCreated, dtos)
}

func (h *Handler) ListAvailableSlots(w http.ResponseWriter, r *http.Request) {
	courtID := booking.CourtID(chi.URLParam(r, "id"))

	court, err := h.Store.GetCourt(r.Context(), courtID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	from := h.Clock.Now()
	to := from.AddDate(0, 0, 14)
	if d := r.URL.Query().Get("date"); d != "" {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		from = day
		to = day.AddDate(0, 0, 1)
	}

	slots, err := h.Store.FindAvailableSlots(r.Context(), courtID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]SlotDTO, 0, len(slots))
	for _, s := range slots {
		dtos = append(dtos, toSlotDTO(s, court))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MemberID == "" || req.CourtID == "" {
		writeError(w, http.StatusBadRequest, "member_id and court_id are required", nil)
		return
	}
	method := booking.PaymentMethod(req.Method)
	if method == "" {
		method = booking.MethodWallet
	}
	if method != booking.MethodWallet && method != booking.MethodExternal {
		writeError(w, http.StatusBadRequest, "Unknown payment method", nil)
		return
	}

	slotIDs := make([]booking.SlotID, 0, len(req.SlotIDs))
	for _, id := range req.SlotIDs {
		slotIDs = append(slotIDs, booking.SlotID(id))
	}

	result, err := h.Alloc.BookSlots(r.Context(), allocator.Request{
		MemberID:    booking.MemberID(req.MemberID),
		CourtID:     booking.CourtID(req.CourtID),
		SlotIDs:     slotIDs,
		Method:      method,
		Purpose:     req.Purpose,
		PlayerCount: req.PlayerCount,
		AddOns:      booking.AddOns{Rackets: req.Rackets, ShuttleSets: req.ShuttleSets},
		NotifyEmail: req.Email,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	links := make([]booking.BookingSlotLink, 0, len(result.Slots))
	for _, s := range result.Slots {
		links = append(links, booking.BookingSlotLink{BookingID: result.Booking.ID, SlotID: s.ID})
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(result.Booking, links))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))

	b, err := h.Store.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	links, err := h.Store.LinksByBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b, links))
}

func (h *Handler) ConfirmBookingPayment(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	if err := h.Alloc.ConfirmPayment(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking_id": string(id), "status": string(booking.BookingConfirmed)})
}

func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))

	var req CancellationRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "requester_id is required", nil)
		return
	}

	cr, err := h.Canceller.Request(r.Context(), id, booking.MemberID(req.RequesterID), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCancellationDTO(*cr))
}

// =============================================================================
// CANCELLATION REVIEW HANDLERS
// =============================================================================

func (h *Handler) ListPendingCancellations(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Store.ListPendingCancellations(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CancellationDTO, 0, len(pending))
	for _, cr := range pending {
		dtos = append(dtos, toCancellationDTO(cr))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ApproveCancellation(w http.ResponseWriter, r *http.Request) {
	h.reviewCancellation(w, r, h.Canceller.Approve)
}

func (h *Handler) RejectCancellation(w http.ResponseWriter, r *http.Request) {
	h.reviewCancellation(w, r, h.Canceller.Reject)
}

func (h *Handler) reviewCancellation(w http.ResponseWriter, r *http.Request,
	review func(ctx context.Context, id booking.CancellationID, reviewer, remark string) error) {
	id := booking.CancellationID(chi.URLParam(r, "id"))

	var req ReviewCancellationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := review(r.Context(), id, req.Reviewer, req.Remark); err != nil {
		writeDomainError(w, err)
		return
	}
	cr, err := h.Store.GetCancellation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCancellationDTO(*cr))
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	memberID := booking.MemberID(chi.URLParam(r, "memberID"))

	wlt, err := h.Ledger.WalletFor(r.Context(), memberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wlt))
}

func (h *Handler) TopUpWallet(w http.ResponseWriter, r *http.Request) {
	memberID := booking.MemberID(chi.URLParam(r, "memberID"))

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount := booking.MustParseMoney(req.Amount)
	if !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be a positive decimal string", nil)
		return
	}

	wlt, err := h.Ledger.WalletFor(r.Context(), memberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := h.Clock.Now()
	payment := booking.Payment{
		ID:             booking.NewPaymentID(),
		PayerID:        memberID,
		Amount:         amount,
		Type:           booking.PaymentTopUp,
		Status:         booking.PaymentCompleted,
		Method:         booking.MethodExternal,
		CorrelationKey: "TOP_UP_" + string(memberID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = h.Ledger.InWalletTx(r.Context(), wlt.ID, func(s booking.Store, ops *wallet.Ops) error {
		if _, err := ops.Credit(r.Context(), wlt.ID, wallet.Entry{
			Type:          booking.WalletTxDeposit,
			Amount:        amount,
			ReferenceType: "top_up",
			ReferenceID:   string(payment.ID),
		}); err != nil {
			return err
		}
		return s.SavePayment(r.Context(), payment)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	updated, err := h.Ledger.WalletFor(r.Context(), memberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*updated))
}

func (h *Handler) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	memberID := booking.MemberID(chi.URLParam(r, "memberID"))

	wlt, err := h.Ledger.WalletFor(r.Context(), memberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	txs, err := h.Ledger.History(r.Context(), wlt.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]WalletTransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toWalletTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CoachID == "" {
		writeError(w, http.StatusBadRequest, "coach_id is required", nil)
		return
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_at (use RFC3339)", err)
		return
	}
	endAt, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_at (use RFC3339)", err)
		return
	}
	if !endAt.After(startAt) {
		writeError(w, http.StatusBadRequest, "end_at must be after start_at", nil)
		return
	}
	price := booking.MustParseMoney(req.Price)
	if !price.IsPositive() {
		writeError(w, http.StatusBadRequest, "Price must be a positive decimal string", nil)
		return
	}

	now := h.Clock.Now()
	s := booking.ClassSession{
		ID:             booking.NewSessionID(),
		CoachID:        booking.MemberID(req.CoachID),
		Title:          req.Title,
		StartAt:        startAt.UTC(),
		EndAt:          endAt.UTC(),
		Price:          price,
		MinRegistrants: req.MinRegistrants,
		Status:         booking.SessionScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.Store.SaveSession(r.Context(), s); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(s))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := booking.SessionID(chi.URLParam(r, "id"))
	s, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*s))
}

// RegisterForSession debits the member's wallet into escrow and counts
// them toward the session's registrant minimum.
func (h *Handler) RegisterForSession(w http.ResponseWriter, r *http.Request) {
	id := booking.SessionID(chi.URLParam(r, "id"))

	var req RegisterSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "member_id is required", nil)
		return
	}

	s, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.Status != booking.SessionScheduled && s.Status != booking.SessionConfirmed {
		writeError(w, http.StatusConflict, "Session is not open for registration", nil)
		return
	}
	if !h.Clock.Now().Before(s.StartAt) {
		writeError(w, http.StatusConflict, "Session has already started", nil)
		return
	}

	// The deposit and the registrant count commit together, so a member
	// who paid is always counted toward the minimum.
	_, err = h.Escrow.Deposit(r.Context(), booking.MemberID(req.MemberID), s.Price, id,
		func(tx booking.Store) error {
			return tx.AddRegistrant(r.Context(), id)
		})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	updated, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(*updated))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunScheduler triggers every sweep immediately (admin/testing).
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.RunAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error onto the HTTP status taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case booking.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case booking.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case booking.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
