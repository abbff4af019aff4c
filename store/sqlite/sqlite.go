/*
Package sqlite provides the SQLite-backed booking.Store implementation.

PURPOSE:
  Implements the full persistence surface: courts, slots, bookings and
  their slot links, payments, wallets and their transaction log, class
  sessions, and cancellation requests. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

ATOMIC CONTRACTS (how they map to SQL):
  ReserveSlot:            UPDATE ... WHERE available = 1, checked via
                          RowsAffected - the compare-and-swap
  Transition*:            UPDATE ... WHERE status = ?, after validating
                          the move against the transition table
  MarkRevenueDistributed: UPDATE ... WHERE revenue_distributed = 0
  WithTx:                 one sql.Tx; every write inside commits or
                          rolls back together

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block and there is a single writer at a time.
  A busy timeout absorbs short writer contention.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

USAGE:
  st, err := sqlite.New(":memory:")
  if err != nil { ... }
  defer st.Close()

SEE ALSO:
  - booking/store.go: Interface definitions and contracts
  - store/memory: In-memory implementation for quick tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/booking-engine/booking"
)

// Store implements booking.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
	queries
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection avoids lock
	// errors and keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, queries: queries{db: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS courts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS slots (
		id TEXT PRIMARY KEY,
		court_id TEXT NOT NULL,
		date TEXT NOT NULL,
		start_hour INTEGER NOT NULL,
		end_hour INTEGER NOT NULL,
		available INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_slots_court_date ON slots(court_id, date);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		court_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		purpose TEXT,
		player_count INTEGER NOT NULL DEFAULT 0,
		rackets INTEGER NOT NULL DEFAULT 0,
		shuttle_sets INTEGER NOT NULL DEFAULT 0,
		payment_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);
	CREATE INDEX IF NOT EXISTS idx_bookings_member ON bookings(member_id);

	-- One link row per (booking, slot); a slot has at most one BOOKED link.
	CREATE TABLE IF NOT EXISTS booking_slots (
		booking_id TEXT NOT NULL,
		slot_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (booking_id, slot_id)
	);
	CREATE INDEX IF NOT EXISTS idx_booking_slots_slot ON booking_slots(slot_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		payer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		correlation_key TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_correlation ON payments(correlation_key);

	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL UNIQUE,
		balance TEXT NOT NULL,
		frozen TEXT NOT NULL,
		total_deposited TEXT NOT NULL,
		total_spent TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only: no UPDATE or DELETE is ever issued on this table.
	CREATE TABLE IF NOT EXISTS wallet_transactions (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		frozen_before TEXT NOT NULL,
		frozen_after TEXT NOT NULL,
		reference_type TEXT,
		reference_id TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallet_transactions_wallet ON wallet_transactions(wallet_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		coach_id TEXT NOT NULL,
		title TEXT,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		price TEXT NOT NULL,
		min_registrants INTEGER NOT NULL DEFAULT 0,
		registrants INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		revenue_distributed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS cancellation_requests (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		admin_remark TEXT,
		reviewed_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cancellations_booking ON cancellation_requests(booking_id);
	CREATE INDEX IF NOT EXISTS idx_cancellations_status ON cancellation_requests(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txView{queries{db: sqlTx}}
	if err := fn(view); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txView is the transactional store handed to WithTx callbacks.
type txView struct {
	queries
}

// WithTx on an already-transactional view runs fn in the same transaction.
func (v *txView) WithTx(_ context.Context, fn func(booking.Store) error) error {
	return fn(v)
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every entity operation, bound either to the raw DB or to
// an open transaction.
type queries struct {
	db dbtx
}

// =============================================================================
// COURTS
// =============================================================================

func (q queries) SaveCourt(ctx context.Context, c booking.Court) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO courts (id, name, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status`,
		c.ID, c.Name, c.Status, fmtTime(c.CreatedAt))
	return err
}

func (q queries) GetCourt(ctx context.Context, id booking.CourtID) (*booking.Court, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at FROM courts WHERE id = ?`, id)

	var c booking.Court
	var createdAt string
	if err := row.Scan(&c.ID, &c.Name, &c.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrCourtNotFound
		}
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (q queries) ListCourts(ctx context.Context) ([]booking.Court, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, status, created_at FROM courts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Court
	for rows.Next() {
		var c booking.Court
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// SLOTS
// =============================================================================

func (q queries) SaveSlots(ctx context.Context, slots []booking.Slot) error {
	for _, s := range slots {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO slots (id, court_id, date, start_hour, end_hour, available, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET available = excluded.available`,
			s.ID, s.CourtID, fmtTime(s.Date), s.StartHour, s.EndHour, boolInt(s.Available), fmtTime(s.CreatedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

const slotColumns = `id, court_id, date, start_hour, end_hour, available, created_at`

func (q queries) GetSlot(ctx context.Context, id booking.SlotID) (*booking.Slot, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	s, err := scanSlot(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (q queries) GetSlots(ctx context.Context, ids []booking.SlotID) ([]booking.Slot, error) {
	out := make([]booking.Slot, 0, len(ids))
	for _, id := range ids {
		s, err := q.GetSlot(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func (q queries) FindAvailableSlots(ctx context.Context, courtID booking.CourtID, from, to time.Time) ([]booking.Slot, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE court_id = ? AND available = 1
		ORDER BY date, start_hour`, courtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Slot
	for rows.Next() {
		s, err := scanSlot(rows.Scan)
		if err != nil {
			return nil, err
		}
		if s.StartAt().Before(from) || !s.StartAt().Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q queries) ReserveSlot(ctx context.Context, id booking.SlotID) error {
	var courtStatus string
	err := q.db.QueryRowContext(ctx, `
		SELECT c.status FROM slots s JOIN courts c ON c.id = s.court_id
		WHERE s.id = ?`, id).Scan(&courtStatus)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the slot or its court is missing; disambiguate.
		if _, slotErr := q.GetSlot(ctx, id); slotErr != nil {
			return slotErr
		}
		return booking.ErrCourtNotFound
	}
	if err != nil {
		return err
	}
	if booking.CourtStatus(courtStatus) == booking.CourtArchived {
		return booking.ErrCourtArchived
	}

	res, err := q.db.ExecContext(ctx,
		`UPDATE slots SET available = 0 WHERE id = ? AND available = 1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &booking.SlotConflictError{SlotID: id}
	}
	return nil
}

func (q queries) ReleaseSlot(ctx context.Context, id booking.SlotID) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE slots SET available = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrSlotNotFound
	}
	return nil
}

func scanSlot(scan func(...any) error) (booking.Slot, error) {
	var s booking.Slot
	var date, createdAt string
	var available int
	if err := scan(&s.ID, &s.CourtID, &date, &s.StartHour, &s.EndHour, &available, &createdAt); err != nil {
		return booking.Slot{}, err
	}
	s.Date = parseTime(date)
	s.Available = available == 1
	s.CreatedAt = parseTime(createdAt)
	return s, nil
}

// =============================================================================
// BOOKINGS & LINKS
// =============================================================================

func (q queries) SaveBooking(ctx context.Context, b booking.Booking) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bookings (id, member_id, court_id, total_amount, status, purpose,
			player_count, rackets, shuttle_sets, payment_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, updated_at = excluded.updated_at`,
		b.ID, b.MemberID, b.CourtID, b.TotalAmount.String(), b.Status, nullString(b.Purpose),
		b.PlayerCount, b.AddOns.Rackets, b.AddOns.ShuttleSets, nullString(string(b.PaymentID)),
		fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt))
	return err
}

const bookingColumns = `id, member_id, court_id, total_amount, status, purpose,
	player_count, rackets, shuttle_sets, payment_id, created_at, updated_at`

func (q queries) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (q queries) ListBookingsByStatus(ctx context.Context, status booking.BookingStatus) ([]booking.Booking, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q queries) TransitionBooking(ctx context.Context, id booking.BookingID, from, to booking.BookingStatus) error {
	if !from.CanTransition(to) {
		return &booking.TransitionError{Entity: "booking", ID: string(id), From: string(from), To: string(to)}
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, fmtTime(time.Now().UTC()), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := q.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		return &booking.TransitionError{Entity: "booking", ID: string(id), From: string(current.Status), To: string(to)}
	}
	return nil
}

func scanBooking(scan func(...any) error) (booking.Booking, error) {
	var b booking.Booking
	var amount, createdAt, updatedAt string
	var purpose, paymentID sql.NullString
	if err := scan(&b.ID, &b.MemberID, &b.CourtID, &amount, &b.Status, &purpose,
		&b.PlayerCount, &b.AddOns.Rackets, &b.AddOns.ShuttleSets, &paymentID,
		&createdAt, &updatedAt); err != nil {
		return booking.Booking{}, err
	}
	b.TotalAmount = booking.MustParseMoney(amount)
	b.Purpose = purpose.String
	b.PaymentID = booking.PaymentID(paymentID.String)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (q queries) SaveLink(ctx context.Context, l booking.BookingSlotLink) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO booking_slots (booking_id, slot_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(booking_id, slot_id) DO UPDATE SET
			status = excluded.status, updated_at = excluded.updated_at`,
		l.BookingID, l.SlotID, l.Status, fmtTime(l.CreatedAt), fmtTime(l.UpdatedAt))
	return err
}

func (q queries) LinksByBooking(ctx context.Context, id booking.BookingID) ([]booking.BookingSlotLink, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT booking_id, slot_id, status, created_at, updated_at
		FROM booking_slots WHERE booking_id = ? ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.BookingSlotLink
	for rows.Next() {
		l, err := scanLink(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q queries) ActiveLinkForSlot(ctx context.Context, id booking.SlotID) (*booking.BookingSlotLink, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT booking_id, slot_id, status, created_at, updated_at
		FROM booking_slots WHERE slot_id = ? AND status = ?`, id, booking.LinkBooked)
	l, err := scanLink(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func scanLink(scan func(...any) error) (booking.BookingSlotLink, error) {
	var l booking.BookingSlotLink
	var createdAt, updatedAt string
	if err := scan(&l.BookingID, &l.SlotID, &l.Status, &createdAt, &updatedAt); err != nil {
		return booking.BookingSlotLink{}, err
	}
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return l, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (q queries) SavePayment(ctx context.Context, p booking.Payment) error {
	// Amount and correlation key are immutable; only status may move, and
	// that path is TransitionPayment. SavePayment therefore only inserts.
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (id, payer_id, amount, type, status, method, correlation_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PayerID, p.Amount.String(), p.Type, p.Status, p.Method,
		p.CorrelationKey, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	return err
}

const paymentColumns = `id, payer_id, amount, type, status, method, correlation_key, created_at, updated_at`

func (q queries) GetPayment(ctx context.Context, id booking.PaymentID) (*booking.Payment, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (q queries) PaymentsByCorrelationPrefix(ctx context.Context, prefix string) ([]booking.Payment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE correlation_key LIKE ? ESCAPE '\'
		ORDER BY created_at, rowid`, likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) TransitionPayment(ctx context.Context, id booking.PaymentID, from, to booking.PaymentStatus) error {
	if !from.CanTransition(to) {
		return &booking.TransitionError{Entity: "payment", ID: string(id), From: string(from), To: string(to)}
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, fmtTime(time.Now().UTC()), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := q.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		return &booking.TransitionError{Entity: "payment", ID: string(id), From: string(current.Status), To: string(to)}
	}
	return nil
}

func scanPayment(scan func(...any) error) (booking.Payment, error) {
	var p booking.Payment
	var amount, createdAt, updatedAt string
	if err := scan(&p.ID, &p.PayerID, &amount, &p.Type, &p.Status, &p.Method,
		&p.CorrelationKey, &createdAt, &updatedAt); err != nil {
		return booking.Payment{}, err
	}
	p.Amount = booking.MustParseMoney(amount)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// WALLETS
// =============================================================================

func (q queries) GetOrCreateWallet(ctx context.Context, memberID booking.MemberID) (*booking.Wallet, error) {
	if w, err := q.walletByMember(ctx, memberID); err == nil {
		return w, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	w := booking.Wallet{
		ID:             booking.NewWalletID(),
		MemberID:       memberID,
		Balance:        booking.ZeroMoney(),
		Frozen:         booking.ZeroMoney(),
		TotalDeposited: booking.ZeroMoney(),
		TotalSpent:     booking.ZeroMoney(),
		Status:         booking.WalletActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO wallets (id, member_id, balance, frozen, total_deposited, total_spent, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.MemberID, w.Balance.String(), w.Frozen.String(), w.TotalDeposited.String(),
		w.TotalSpent.String(), w.Status, fmtTime(w.CreatedAt), fmtTime(w.UpdatedAt))
	if err != nil {
		// Lost a creation race on the member_id unique index; the winner's
		// row is the wallet.
		if w, raceErr := q.walletByMember(ctx, memberID); raceErr == nil {
			return w, nil
		}
		return nil, err
	}
	return &w, nil
}

const walletColumns = `id, member_id, balance, frozen, total_deposited, total_spent, status, created_at, updated_at`

func (q queries) walletByMember(ctx context.Context, memberID booking.MemberID) (*booking.Wallet, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE member_id = ?`, memberID)
	w, err := scanWallet(row.Scan)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (q queries) GetWallet(ctx context.Context, id booking.WalletID) (*booking.Wallet, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
	w, err := scanWallet(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (q queries) UpdateWallet(ctx context.Context, w booking.Wallet) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE wallets SET balance = ?, frozen = ?, total_deposited = ?, total_spent = ?,
			status = ?, updated_at = ?
		WHERE id = ?`,
		w.Balance.String(), w.Frozen.String(), w.TotalDeposited.String(), w.TotalSpent.String(),
		w.Status, fmtTime(w.UpdatedAt), w.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrWalletNotFound
	}
	return nil
}

func (q queries) AppendWalletTransaction(ctx context.Context, tx booking.WalletTransaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, balance_before, balance_after,
			frozen_before, frozen_after, reference_type, reference_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.WalletID, tx.Type, tx.Amount.String(), tx.BalanceBefore.String(), tx.BalanceAfter.String(),
		tx.FrozenBefore.String(), tx.FrozenAfter.String(), nullString(tx.ReferenceType),
		nullString(tx.ReferenceID), nullString(tx.Note), fmtTime(tx.CreatedAt))
	return err
}

func (q queries) WalletTransactions(ctx context.Context, id booking.WalletID) ([]booking.WalletTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, wallet_id, type, amount, balance_before, balance_after,
			frozen_before, frozen_after, reference_type, reference_id, note, created_at
		FROM wallet_transactions WHERE wallet_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.WalletTransaction
	for rows.Next() {
		var tx booking.WalletTransaction
		var amount, balBefore, balAfter, frBefore, frAfter, createdAt string
		var refType, refID, note sql.NullString
		if err := rows.Scan(&tx.ID, &tx.WalletID, &tx.Type, &amount, &balBefore, &balAfter,
			&frBefore, &frAfter, &refType, &refID, &note, &createdAt); err != nil {
			return nil, err
		}
		tx.Amount = booking.MustParseMoney(amount)
		tx.BalanceBefore = booking.MustParseMoney(balBefore)
		tx.BalanceAfter = booking.MustParseMoney(balAfter)
		tx.FrozenBefore = booking.MustParseMoney(frBefore)
		tx.FrozenAfter = booking.MustParseMoney(frAfter)
		tx.ReferenceType = refType.String
		tx.ReferenceID = refID.String
		tx.Note = note.String
		tx.CreatedAt = parseTime(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanWallet(scan func(...any) error) (booking.Wallet, error) {
	var w booking.Wallet
	var balance, frozen, deposited, spent, createdAt, updatedAt string
	if err := scan(&w.ID, &w.MemberID, &balance, &frozen, &deposited, &spent,
		&w.Status, &createdAt, &updatedAt); err != nil {
		return booking.Wallet{}, err
	}
	w.Balance = booking.MustParseMoney(balance)
	w.Frozen = booking.MustParseMoney(frozen)
	w.TotalDeposited = booking.MustParseMoney(deposited)
	w.TotalSpent = booking.MustParseMoney(spent)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return w, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (q queries) SaveSession(ctx context.Context, s booking.ClassSession) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sessions (id, coach_id, title, start_at, end_at, price, min_registrants,
			registrants, status, revenue_distributed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, start_at = excluded.start_at, end_at = excluded.end_at,
			price = excluded.price, min_registrants = excluded.min_registrants,
			updated_at = excluded.updated_at`,
		s.ID, s.CoachID, nullString(s.Title), fmtTime(s.StartAt), fmtTime(s.EndAt),
		s.Price.String(), s.MinRegistrants, s.Registrants, s.Status,
		boolInt(s.RevenueDistributed), fmtTime(s.CreatedAt), fmtTime(s.UpdatedAt))
	return err
}

const sessionColumns = `id, coach_id, title, start_at, end_at, price, min_registrants,
	registrants, status, revenue_distributed, created_at, updated_at`

func (q queries) GetSession(ctx context.Context, id booking.SessionID) (*booking.ClassSession, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (q queries) ListSessionsByStatus(ctx context.Context, status booking.SessionStatus) ([]booking.ClassSession, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY start_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.ClassSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q queries) TransitionSession(ctx context.Context, id booking.SessionID, from, to booking.SessionStatus) error {
	if !from.CanTransition(to) {
		return &booking.TransitionError{Entity: "session", ID: string(id), From: string(from), To: string(to)}
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, fmtTime(time.Now().UTC()), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := q.GetSession(ctx, id)
		if err != nil {
			return err
		}
		return &booking.TransitionError{Entity: "session", ID: string(id), From: string(current.Status), To: string(to)}
	}
	return nil
}

func (q queries) AddRegistrant(ctx context.Context, id booking.SessionID) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sessions SET registrants = registrants + 1, updated_at = ? WHERE id = ?`,
		fmtTime(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrSessionNotFound
	}
	return nil
}

func (q queries) MarkRevenueDistributed(ctx context.Context, id booking.SessionID) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sessions SET revenue_distributed = 1, updated_at = ? WHERE id = ? AND revenue_distributed = 0`,
		fmtTime(time.Now().UTC()), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := q.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func scanSession(scan func(...any) error) (booking.ClassSession, error) {
	var s booking.ClassSession
	var title sql.NullString
	var startAt, endAt, price, createdAt, updatedAt string
	var distributed int
	if err := scan(&s.ID, &s.CoachID, &title, &startAt, &endAt, &price, &s.MinRegistrants,
		&s.Registrants, &s.Status, &distributed, &createdAt, &updatedAt); err != nil {
		return booking.ClassSession{}, err
	}
	s.Title = title.String
	s.StartAt = parseTime(startAt)
	s.EndAt = parseTime(endAt)
	s.Price = booking.MustParseMoney(price)
	s.RevenueDistributed = distributed == 1
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

// =============================================================================
// CANCELLATION REQUESTS
// =============================================================================

func (q queries) SaveCancellation(ctx context.Context, r booking.CancellationRequest) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cancellation_requests (id, booking_id, requester_id, reason, status,
			admin_remark, reviewed_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, admin_remark = excluded.admin_remark,
			reviewed_by = excluded.reviewed_by, updated_at = excluded.updated_at`,
		r.ID, r.BookingID, r.RequesterID, nullString(r.Reason), r.Status,
		nullString(r.AdminRemark), nullString(r.ReviewedBy), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	return err
}

const cancellationColumns = `id, booking_id, requester_id, reason, status, admin_remark, reviewed_by, created_at, updated_at`

func (q queries) GetCancellation(ctx context.Context, id booking.CancellationID) (*booking.CancellationRequest, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+cancellationColumns+` FROM cancellation_requests WHERE id = ?`, id)
	r, err := scanCancellation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrCancellationNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (q queries) CancellationByBooking(ctx context.Context, id booking.BookingID) (*booking.CancellationRequest, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+cancellationColumns+` FROM cancellation_requests
		WHERE booking_id = ? ORDER BY created_at DESC LIMIT 1`, id)
	r, err := scanCancellation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrCancellationNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (q queries) ListPendingCancellations(ctx context.Context) ([]booking.CancellationRequest, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+cancellationColumns+` FROM cancellation_requests
		WHERE status = ? ORDER BY created_at`, booking.CancellationPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.CancellationRequest
	for rows.Next() {
		r, err := scanCancellation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanCancellation(scan func(...any) error) (booking.CancellationRequest, error) {
	var r booking.CancellationRequest
	var reason, remark, reviewedBy sql.NullString
	var createdAt, updatedAt string
	if err := scan(&r.ID, &r.BookingID, &r.RequesterID, &reason, &r.Status,
		&remark, &reviewedBy, &createdAt, &updatedAt); err != nil {
		return booking.CancellationRequest{}, err
	}
	r.Reason = reason.String
	r.AdminRemark = remark.String
	r.ReviewedBy = reviewedBy.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// likePrefix escapes LIKE metacharacters so the prefix matches literally.
func likePrefix(prefix string) string {
	escaped := ""
	for _, r := range prefix {
		switch r {
		case '%', '_', '\\':
			escaped += `\` + string(r)
		default:
			escaped += string(r)
		}
	}
	return escaped + "%"
}
