/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All monetary fields travel as fixed two-decimal strings ("60.00"),
  never floats.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/booking-engine/booking"
)

// =============================================================================
// COURTS & SLOTS
// =============================================================================

type CreateCourtRequest struct {
	Name string `json:"name"`
}

type CourtDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type GenerateSlotsRequest struct {
	Date      string `json:"date"` // YYYY-MM-DD
	OpenHour  int    `json:"open_hour"`
	CloseHour int    `json:"close_hour"`
}

type SlotDTO struct {
	ID        string `json:"id"`
	CourtID   string `json:"court_id"`
	Date      string `json:"date"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Status    string `json:"status"`
}

func toSlotDTO(s booking.Slot, court *booking.Court) SlotDTO {
	return SlotDTO{
		ID:        string(s.ID),
		CourtID:   string(s.CourtID),
		Date:      s.Date.Format("2006-01-02"),
		StartHour: s.StartHour,
		EndHour:   s.EndHour,
		Status:    string(s.OperatingStatus(court)),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

type CreateBookingRequest struct {
	MemberID    string   `json:"member_id"`
	CourtID     string   `json:"court_id"`
	SlotIDs     []string `json:"slot_ids"`
	Method      string   `json:"method"` // WALLET or EXTERNAL
	Purpose     string   `json:"purpose"`
	PlayerCount int      `json:"player_count"`
	Rackets     int      `json:"rackets"`
	ShuttleSets int      `json:"shuttle_sets"`
	Email       string   `json:"email"`
}

type BookingDTO struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	CourtID     string    `json:"court_id"`
	TotalAmount string    `json:"total_amount"`
	Status      string    `json:"status"`
	Purpose     string    `json:"purpose,omitempty"`
	PlayerCount int       `json:"player_count"`
	Rackets     int       `json:"rackets"`
	ShuttleSets int       `json:"shuttle_sets"`
	PaymentID   string    `json:"payment_id,omitempty"`
	SlotIDs     []string  `json:"slot_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toBookingDTO(b booking.Booking, links []booking.BookingSlotLink) BookingDTO {
	dto := BookingDTO{
		ID:          string(b.ID),
		MemberID:    string(b.MemberID),
		CourtID:     string(b.CourtID),
		TotalAmount: b.TotalAmount.String(),
		Status:      string(b.Status),
		Purpose:     b.Purpose,
		PlayerCount: b.PlayerCount,
		Rackets:     b.AddOns.Rackets,
		ShuttleSets: b.AddOns.ShuttleSets,
		PaymentID:   string(b.PaymentID),
		CreatedAt:   b.CreatedAt,
	}
	for _, l := range links {
		dto.SlotIDs = append(dto.SlotIDs, string(l.SlotID))
	}
	return dto
}

// =============================================================================
// CANCELLATIONS
// =============================================================================

type CancellationRequestDTO struct {
	RequesterID string `json:"requester_id"`
	Reason      string `json:"reason"`
}

type ReviewCancellationRequest struct {
	Reviewer string `json:"reviewer"`
	Remark   string `json:"remark"`
}

type CancellationDTO struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	RequesterID string    `json:"requester_id"`
	Reason      string    `json:"reason,omitempty"`
	Status      string    `json:"status"`
	AdminRemark string    `json:"admin_remark,omitempty"`
	ReviewedBy  string    `json:"reviewed_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toCancellationDTO(r booking.CancellationRequest) CancellationDTO {
	return CancellationDTO{
		ID:          string(r.ID),
		BookingID:   string(r.BookingID),
		RequesterID: string(r.RequesterID),
		Reason:      r.Reason,
		Status:      string(r.Status),
		AdminRemark: r.AdminRemark,
		ReviewedBy:  r.ReviewedBy,
		CreatedAt:   r.CreatedAt,
	}
}

// =============================================================================
// WALLETS
// =============================================================================

type TopUpRequest struct {
	Amount string `json:"amount"`
}

type WalletDTO struct {
	ID             string `json:"id"`
	MemberID       string `json:"member_id"`
	Balance        string `json:"balance"`
	Frozen         string `json:"frozen"`
	TotalDeposited string `json:"total_deposited"`
	TotalSpent     string `json:"total_spent"`
	Status         string `json:"status"`
}

func toWalletDTO(w booking.Wallet) WalletDTO {
	return WalletDTO{
		ID:             string(w.ID),
		MemberID:       string(w.MemberID),
		Balance:        w.Balance.String(),
		Frozen:         w.Frozen.String(),
		TotalDeposited: w.TotalDeposited.String(),
		TotalSpent:     w.TotalSpent.String(),
		Status:         string(w.Status),
	}
}

type WalletTransactionDTO struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	ReferenceType string    `json:"reference_type,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toWalletTransactionDTO(tx booking.WalletTransaction) WalletTransactionDTO {
	return WalletTransactionDTO{
		ID:            string(tx.ID),
		Type:          string(tx.Type),
		Amount:        tx.Amount.String(),
		BalanceBefore: tx.BalanceBefore.String(),
		BalanceAfter:  tx.BalanceAfter.String(),
		ReferenceType: tx.ReferenceType,
		ReferenceID:   tx.ReferenceID,
		Note:          tx.Note,
		CreatedAt:     tx.CreatedAt,
	}
}

// =============================================================================
// CLASS SESSIONS
// =============================================================================

type CreateSessionRequest struct {
	CoachID        string `json:"coach_id"`
	Title          string `json:"title"`
	StartAt        string `json:"start_at"` // RFC3339
	EndAt          string `json:"end_at"`
	Price          string `json:"price"`
	MinRegistrants int    `json:"min_registrants"`
}

type RegisterSessionRequest struct {
	MemberID string `json:"member_id"`
}

type SessionDTO struct {
	ID                 string    `json:"id"`
	CoachID            string    `json:"coach_id"`
	Title              string    `json:"title,omitempty"`
	StartAt            time.Time `json:"start_at"`
	EndAt              time.Time `json:"end_at"`
	Price              string    `json:"price"`
	MinRegistrants     int       `json:"min_registrants"`
	Registrants        int       `json:"registrants"`
	Status             string    `json:"status"`
	RevenueDistributed bool      `json:"revenue_distributed"`
}

func toSessionDTO(s booking.ClassSession) SessionDTO {
	return SessionDTO{
		ID:                 string(s.ID),
		CoachID:            string(s.CoachID),
		Title:              s.Title,
		StartAt:            s.StartAt,
		EndAt:              s.EndAt,
		Price:              s.Price.String(),
		MinRegistrants:     s.MinRegistrants,
		Registrants:        s.Registrants,
		Status:             string(s.Status),
		RevenueDistributed: s.RevenueDistributed,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
