/*
Package memory provides the in-memory booking.Store implementation used in
tests and local development.

DESIGN:
  - One RWMutex guards all maps per operation.
  - WithTx is simulated: a transaction mutex serializes transactions, a
    deep snapshot is taken up front, and an error from fn restores it.
    The atomic contracts (ReserveSlot CAS, status check-and-set,
    MarkRevenueDistributed test-and-set) hold the same as in sqlite.
    CAVEAT: restore rewinds the whole store, so a non-transactional
    write that lands between a failing transaction's snapshot and its
    restore is rolled back with it. Route concurrent writers through
    WithTx (or lean on the row-level check-and-sets, which re-verify
    state) rather than racing bare Save calls against a transaction.
  - Lookups return the booking package's sentinel errors.

SEE ALSO:
  - store/sqlite: the production implementation with the same semantics
*/
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/booking-engine/booking"
)

type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	courts          map[booking.CourtID]booking.Court
	slots           map[booking.SlotID]booking.Slot
	bookings        map[booking.BookingID]booking.Booking
	links           map[booking.BookingID][]booking.BookingSlotLink
	payments        map[booking.PaymentID]booking.Payment
	paymentOrder    []booking.PaymentID
	wallets         map[booking.WalletID]booking.Wallet
	walletByMember  map[booking.MemberID]booking.WalletID
	walletTxs       map[booking.WalletID][]booking.WalletTransaction
	sessions        map[booking.SessionID]booking.ClassSession
	cancellations   map[booking.CancellationID]booking.CancellationRequest
	cancelByBooking map[booking.BookingID]booking.CancellationID
}

func New() *Store {
	return &Store{
		courts:          make(map[booking.CourtID]booking.Court),
		slots:           make(map[booking.SlotID]booking.Slot),
		bookings:        make(map[booking.BookingID]booking.Booking),
		links:           make(map[booking.BookingID][]booking.BookingSlotLink),
		payments:        make(map[booking.PaymentID]booking.Payment),
		wallets:         make(map[booking.WalletID]booking.Wallet),
		walletByMember:  make(map[booking.MemberID]booking.WalletID),
		walletTxs:       make(map[booking.WalletID][]booking.WalletTransaction),
		sessions:        make(map[booking.SessionID]booking.ClassSession),
		cancellations:   make(map[booking.CancellationID]booking.CancellationRequest),
		cancelByBooking: make(map[booking.BookingID]booking.CancellationID),
	}
}

// =============================================================================
// COURTS
// =============================================================================

func (m *Store) SaveCourt(_ context.Context, c booking.Court) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courts[c.ID] = c
	return nil
}

func (m *Store) GetCourt(_ context.Context, id booking.CourtID) (*booking.Court, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courts[id]
	if !ok {
		return nil, booking.ErrCourtNotFound
	}
	return &c, nil
}

func (m *Store) ListCourts(_ context.Context) ([]booking.Court, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]booking.Court, 0, len(m.courts))
	for _, c := range m.courts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// SLOTS
// =============================================================================

func (m *Store) SaveSlots(_ context.Context, slots []booking.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range slots {
		m.slots[s.ID] = s
	}
	return nil
}

func (m *Store) GetSlot(_ context.Context, id booking.SlotID) (*booking.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, booking.ErrSlotNotFound
	}
	return &s, nil
}

func (m *Store) GetSlots(_ context.Context, ids []booking.SlotID) ([]booking.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]booking.Slot, 0, len(ids))
	for _, id := range ids {
		s, ok := m.slots[id]
		if !ok {
			return nil, booking.ErrSlotNotFound
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Store) FindAvailableSlots(_ context.Context, courtID booking.CourtID, from, to time.Time) ([]booking.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.Slot
	for _, s := range m.slots {
		if s.CourtID != courtID || !s.Available {
			continue
		}
		if s.StartAt().Before(from) || !s.StartAt().Before(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt().Before(out[j].StartAt()) })
	return out, nil
}

func (m *Store) ReserveSlot(_ context.Context, id booking.SlotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return booking.ErrSlotNotFound
	}
	if c, ok := m.courts[s.CourtID]; ok && c.Status == booking.CourtArchived {
		return booking.ErrCourtArchived
	}
	if !s.Available {
		return &booking.SlotConflictError{SlotID: id}
	}
	s.Available = false
	m.slots[id] = s
	return nil
}

func (m *Store) ReleaseSlot(_ context.Context, id booking.SlotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return booking.ErrSlotNotFound
	}
	s.Available = true
	m.slots[id] = s
	return nil
}

// =============================================================================
// BOOKINGS & LINKS
// =============================================================================

func (m *Store) SaveBooking(_ context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return nil
}

func (m *Store) GetBooking(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return &b, nil
}

func (m *Store) ListBookingsByStatus(_ context.Context, status booking.BookingStatus) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.Booking
	for _, b := range m.bookings {
		if b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) TransitionBooking(_ context.Context, id booking.BookingID, from, to booking.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return booking.ErrBookingNotFound
	}
	if b.Status != from || !from.CanTransition(to) {
		return &booking.TransitionError{Entity: "booking", ID: string(id), From: string(b.Status), To: string(to)}
	}
	b.Status = to
	m.bookings[id] = b
	return nil
}

func (m *Store) SaveLink(_ context.Context, l booking.BookingSlotLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := m.links[l.BookingID]
	for i, existing := range links {
		if existing.SlotID == l.SlotID {
			links[i] = l
			return nil
		}
	}
	m.links[l.BookingID] = append(links, l)
	return nil
}

func (m *Store) LinksByBooking(_ context.Context, id booking.BookingID) ([]booking.BookingSlotLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]booking.BookingSlotLink, len(m.links[id]))
	copy(out, m.links[id])
	return out, nil
}

func (m *Store) ActiveLinkForSlot(_ context.Context, id booking.SlotID) (*booking.BookingSlotLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, links := range m.links {
		for _, l := range links {
			if l.SlotID == id && l.Status == booking.LinkBooked {
				link := l
				return &link, nil
			}
		}
	}
	return nil, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Store) SavePayment(_ context.Context, p booking.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.ID]; !exists {
		m.paymentOrder = append(m.paymentOrder, p.ID)
	}
	m.payments[p.ID] = p
	return nil
}

func (m *Store) GetPayment(_ context.Context, id booking.PaymentID) (*booking.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, booking.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *Store) PaymentsByCorrelationPrefix(_ context.Context, prefix string) ([]booking.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.Payment
	for _, id := range m.paymentOrder {
		p := m.payments[id]
		if strings.HasPrefix(p.CorrelationKey, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Store) TransitionPayment(_ context.Context, id booking.PaymentID, from, to booking.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return booking.ErrPaymentNotFound
	}
	if p.Status != from || !from.CanTransition(to) {
		return &booking.TransitionError{Entity: "payment", ID: string(id), From: string(p.Status), To: string(to)}
	}
	p.Status = to
	m.payments[id] = p
	return nil
}

// =============================================================================
// WALLETS
// =============================================================================

func (m *Store) GetOrCreateWallet(_ context.Context, memberID booking.MemberID) (*booking.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.walletByMember[memberID]; ok {
		w := m.wallets[id]
		return &w, nil
	}
	w := booking.Wallet{
		ID:             booking.NewWalletID(),
		MemberID:       memberID,
		Balance:        booking.ZeroMoney(),
		Frozen:         booking.ZeroMoney(),
		TotalDeposited: booking.ZeroMoney(),
		TotalSpent:     booking.ZeroMoney(),
		Status:         booking.WalletActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	m.wallets[w.ID] = w
	m.walletByMember[memberID] = w.ID
	return &w, nil
}

func (m *Store) GetWallet(_ context.Context, id booking.WalletID) (*booking.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, booking.ErrWalletNotFound
	}
	return &w, nil
}

func (m *Store) UpdateWallet(_ context.Context, w booking.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[w.ID]; !ok {
		return booking.ErrWalletNotFound
	}
	m.wallets[w.ID] = w
	return nil
}

func (m *Store) AppendWalletTransaction(_ context.Context, tx booking.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletTxs[tx.WalletID] = append(m.walletTxs[tx.WalletID], tx)
	return nil
}

func (m *Store) WalletTransactions(_ context.Context, id booking.WalletID) ([]booking.WalletTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]booking.WalletTransaction, len(m.walletTxs[id]))
	copy(out, m.walletTxs[id])
	return out, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Store) SaveSession(_ context.Context, s booking.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Store) GetSession(_ context.Context, id booking.SessionID) (*booking.ClassSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, booking.ErrSessionNotFound
	}
	return &s, nil
}

func (m *Store) ListSessionsByStatus(_ context.Context, status booking.SessionStatus) ([]booking.ClassSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.ClassSession
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (m *Store) TransitionSession(_ context.Context, id booking.SessionID, from, to booking.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return booking.ErrSessionNotFound
	}
	if s.Status != from || !from.CanTransition(to) {
		return &booking.TransitionError{Entity: "session", ID: string(id), From: string(s.Status), To: string(to)}
	}
	s.Status = to
	m.sessions[id] = s
	return nil
}

func (m *Store) AddRegistrant(_ context.Context, id booking.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return booking.ErrSessionNotFound
	}
	s.Registrants++
	m.sessions[id] = s
	return nil
}

func (m *Store) MarkRevenueDistributed(_ context.Context, id booking.SessionID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, booking.ErrSessionNotFound
	}
	if s.RevenueDistributed {
		return false, nil
	}
	s.RevenueDistributed = true
	m.sessions[id] = s
	return true, nil
}

// =============================================================================
// CANCELLATION REQUESTS
// =============================================================================

func (m *Store) SaveCancellation(_ context.Context, r booking.CancellationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancellations[r.ID] = r
	m.cancelByBooking[r.BookingID] = r.ID
	return nil
}

func (m *Store) GetCancellation(_ context.Context, id booking.CancellationID) (*booking.CancellationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.cancellations[id]
	if !ok {
		return nil, booking.ErrCancellationNotFound
	}
	return &r, nil
}

func (m *Store) CancellationByBooking(_ context.Context, id booking.BookingID) (*booking.CancellationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rid, ok := m.cancelByBooking[id]
	if !ok {
		return nil, booking.ErrCancellationNotFound
	}
	r := m.cancellations[rid]
	return &r, nil
}

func (m *Store) ListPendingCancellations(_ context.Context) ([]booking.CancellationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.CancellationRequest
	for _, r := range m.cancellations {
		if r.Status == booking.CancellationPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx simulates a transaction with snapshot + rollback on error.
// Transactions are serialized; the atomic contracts behave as in sqlite.
func (m *Store) WithTx(_ context.Context, fn func(booking.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	courts          map[booking.CourtID]booking.Court
	slots           map[booking.SlotID]booking.Slot
	bookings        map[booking.BookingID]booking.Booking
	links           map[booking.BookingID][]booking.BookingSlotLink
	payments        map[booking.PaymentID]booking.Payment
	paymentOrder    []booking.PaymentID
	wallets         map[booking.WalletID]booking.Wallet
	walletByMember  map[booking.MemberID]booking.WalletID
	walletTxs       map[booking.WalletID][]booking.WalletTransaction
	sessions        map[booking.SessionID]booking.ClassSession
	cancellations   map[booking.CancellationID]booking.CancellationRequest
	cancelByBooking map[booking.BookingID]booking.CancellationID
}

func (m *Store) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot{
		courts:          cloneMap(m.courts),
		slots:           cloneMap(m.slots),
		bookings:        cloneMap(m.bookings),
		links:           cloneSliceMap(m.links),
		payments:        cloneMap(m.payments),
		paymentOrder:    append([]booking.PaymentID{}, m.paymentOrder...),
		wallets:         cloneMap(m.wallets),
		walletByMember:  cloneMap(m.walletByMember),
		walletTxs:       cloneSliceMap(m.walletTxs),
		sessions:        cloneMap(m.sessions),
		cancellations:   cloneMap(m.cancellations),
		cancelByBooking: cloneMap(m.cancelByBooking),
	}
}

func (m *Store) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courts = s.courts
	m.slots = s.slots
	m.bookings = s.bookings
	m.links = s.links
	m.payments = s.payments
	m.paymentOrder = s.paymentOrder
	m.wallets = s.wallets
	m.walletByMember = s.walletByMember
	m.walletTxs = s.walletTxs
	m.sessions = s.sessions
	m.cancellations = s.cancellations
	m.cancelByBooking = s.cancelByBooking
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSliceMap[K comparable, V any](in map[K][]V) map[K][]V {
	out := make(map[K][]V, len(in))
	for k, v := range in {
		out[k] = append([]V{}, v...)
	}
	return out
}
