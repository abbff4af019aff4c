/*
escrow_test.go - Unit tests for the session escrow account

CORE DESIGN:
- Deposits park money as ESCROWED payment rows keyed by the session prefix
- Settle flips the rows to SETTLED and splits the sum coach/platform
- Refunded rows are invisible to Settle; the same money moves exactly once
*/
package escrow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/escrow"
	"github.com/warp/booking-engine/store/sqlite"
	"github.com/warp/booking-engine/wallet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAccount(t *testing.T) (*escrow.Account, *wallet.Ledger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := booking.NewManualClock(time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC))
	ledger := wallet.NewLedger(store, clock)
	account := escrow.NewAccount(store, ledger, escrow.DefaultSplitPolicy(), clock)
	return account, ledger, store
}

func fundMember(t *testing.T, ledger *wallet.Ledger, memberID booking.MemberID, amount string) *booking.Wallet {
	ctx := context.Background()
	w, err := ledger.WalletFor(ctx, memberID)
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, w.ID, wallet.Entry{
		Type:   booking.WalletTxDeposit,
		Amount: booking.MustParseMoney(amount),
	})
	require.NoError(t, err)
	return w
}

func balanceOf(t *testing.T, store *sqlite.Store, id booking.WalletID) string {
	w, err := store.GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w.Balance.String()
}

// =============================================================================
// SPLIT POLICY
// =============================================================================

func TestSplitPolicy_SharesSumBackToTotal(t *testing.T) {
	// GIVEN: The default 80/20 split and an awkward total
	// WHEN: Splitting 100.01
	// THEN: provider + platform == total exactly, despite rounding

	total := booking.MustParseMoney("100.01")
	provider, platform := escrow.DefaultSplitPolicy().Split(total)

	assert.Equal(t, "80.01", provider.String())
	assert.Equal(t, "20.00", platform.String())
	assert.True(t, provider.Add(platform).Equal(total))
}

func TestNewSplitPolicy_RejectsSharesOutsideUnitInterval(t *testing.T) {
	_, err := escrow.NewSplitPolicy(decimal.Zero)
	assert.Error(t, err)

	_, err = escrow.NewSplitPolicy(decimal.NewFromFloat(1.1))
	assert.Error(t, err)

	p, err := escrow.NewSplitPolicy(decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, p.PlatformShare.IsZero())
}

// =============================================================================
// DEPOSIT
// =============================================================================

func TestDeposit_DebitsWalletAndParksEscrowRow(t *testing.T) {
	// GIVEN: A member holding 50.00
	// WHEN: Depositing 25.00 toward a session
	// THEN: Wallet shows 25.00 and an ESCROWED payment row exists

	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	w := fundMember(t, ledger, "member-1", "50.00")
	sessionID := booking.NewSessionID()

	p, err := account.Deposit(ctx, "member-1", booking.MustParseMoney("25.00"), sessionID)
	require.NoError(t, err)

	assert.Equal(t, booking.PaymentEscrowed, p.Status)
	assert.Equal(t, booking.PaymentSessionEscrow, p.Type)
	assert.Equal(t, "25.00", balanceOf(t, store, w.ID))

	sum, err := account.EscrowedSum(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", sum.String())
}

func TestDeposit_InsufficientFunds_NoTrace(t *testing.T) {
	// GIVEN: A member holding 10.00
	// WHEN: Depositing 25.00
	// THEN: Rejected; no escrow row and no wallet change

	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	w := fundMember(t, ledger, "member-1", "10.00")
	sessionID := booking.NewSessionID()

	_, err := account.Deposit(ctx, "member-1", booking.MustParseMoney("25.00"), sessionID)
	var insufficient *booking.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)

	assert.Equal(t, "10.00", balanceOf(t, store, w.ID))
	sum, err := account.EscrowedSum(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestDeposit_NonPositiveAmount_Rejected(t *testing.T) {
	account, _, _ := newTestAccount(t)

	_, err := account.Deposit(context.Background(), "member-1", booking.ZeroMoney(), booking.NewSessionID())
	assert.Error(t, err)
}

func TestDeposit_InTxHook_CommitsWithTheDeposit(t *testing.T) {
	// GIVEN: A session and a funded member
	// WHEN: Depositing with a hook that counts the registrant
	// THEN: Debit, escrow row, and registrant count land together

	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	w := fundMember(t, ledger, "member-1", "30.00")

	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	ses := booking.ClassSession{
		ID:             booking.NewSessionID(),
		CoachID:        "coach-1",
		StartAt:        now.Add(12 * time.Hour),
		EndAt:          now.Add(13 * time.Hour),
		Price:          booking.MustParseMoney("25.00"),
		MinRegistrants: 1,
		Status:         booking.SessionScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.SaveSession(ctx, ses))

	_, err := account.Deposit(ctx, "member-1", ses.Price, ses.ID, func(tx booking.Store) error {
		return tx.AddRegistrant(ctx, ses.ID)
	})
	require.NoError(t, err)

	assert.Equal(t, "5.00", balanceOf(t, store, w.ID))
	fresh, err := store.GetSession(ctx, ses.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Registrants)
}

func TestDeposit_InTxHookFails_NothingCommits(t *testing.T) {
	// A failing hook must take the wallet debit and the escrow row down
	// with it; a member is never charged without being counted.

	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	w := fundMember(t, ledger, "member-1", "30.00")
	sesID := booking.NewSessionID()

	boom := errors.New("registrant count failed")
	_, err := account.Deposit(ctx, "member-1", booking.MustParseMoney("25.00"), sesID, func(tx booking.Store) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, "30.00", balanceOf(t, store, w.ID))
	sum, err := account.EscrowedSum(ctx, sesID)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestSettle_ThreeDeposits_SplitsEscrowedSum(t *testing.T) {
	// GIVEN: Three members each escrow 25.00 for one session
	// WHEN: Settling for the coach
	// THEN: Coach receives 60.00, platform keeps 15.00, all rows SETTLED

	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	sessionID := booking.NewSessionID()

	for _, member := range []booking.MemberID{"member-1", "member-2", "member-3"} {
		fundMember(t, ledger, member, "30.00")
		_, err := account.Deposit(ctx, member, booking.MustParseMoney("25.00"), sessionID)
		require.NoError(t, err)
	}

	result, err := account.Settle(ctx, sessionID, "coach-1")
	require.NoError(t, err)

	assert.Equal(t, "75.00", result.Total.String())
	assert.Equal(t, "60.00", result.ProviderShare.String())
	assert.Equal(t, "15.00", result.PlatformShare.String())
	assert.Equal(t, 3, result.SettledCount)

	coach, err := ledger.WalletFor(ctx, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, "60.00", balanceOf(t, store, coach.ID))

	// Nothing left in escrow for this session.
	sum, err := account.EscrowedSum(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestSettle_RecordsPayoutAndFeeRows(t *testing.T) {
	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	sessionID := booking.NewSessionID()

	fundMember(t, ledger, "member-1", "30.00")
	_, err := account.Deposit(ctx, "member-1", booking.MustParseMoney("25.00"), sessionID)
	require.NoError(t, err)

	_, err = account.Settle(ctx, sessionID, "coach-1")
	require.NoError(t, err)

	payments, err := store.PaymentsByCorrelationPrefix(ctx, booking.SessionCorrelationPrefix(sessionID))
	require.NoError(t, err)

	var payout, fee *booking.Payment
	for i := range payments {
		switch payments[i].Type {
		case booking.PaymentCoachIncome:
			payout = &payments[i]
		case booking.PaymentPlatformFee:
			fee = &payments[i]
		}
	}
	require.NotNil(t, payout)
	require.NotNil(t, fee)
	assert.Equal(t, "20.00", payout.Amount.String())
	assert.Equal(t, "5.00", fee.Amount.String())
	assert.True(t, payout.Amount.Add(fee.Amount).Equal(booking.MustParseMoney("25.00")))
}

func TestSettle_SecondCall_ZeroRowNoOp(t *testing.T) {
	// GIVEN: A session already settled
	// WHEN: Settling again
	// THEN: No error, zero rows moved, coach balance unchanged

	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	sessionID := booking.NewSessionID()

	fundMember(t, ledger, "member-1", "30.00")
	_, err := account.Deposit(ctx, "member-1", booking.MustParseMoney("25.00"), sessionID)
	require.NoError(t, err)

	_, err = account.Settle(ctx, sessionID, "coach-1")
	require.NoError(t, err)

	again, err := account.Settle(ctx, sessionID, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.SettledCount)
	assert.True(t, again.Total.IsZero())

	coach, err := ledger.WalletFor(ctx, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, "20.00", balanceOf(t, store, coach.ID))
}

func TestSettle_NoDeposits_NoOp(t *testing.T) {
	account, ledger, store := newTestAccount(t)
	ctx := context.Background()

	result, err := account.Settle(ctx, booking.NewSessionID(), "coach-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.SettledCount)

	coach, err := ledger.WalletFor(ctx, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, "0.00", balanceOf(t, store, coach.ID))
}

// =============================================================================
// REFUND
// =============================================================================

func TestRefund_CreditsPayerAndHidesRowsFromSettle(t *testing.T) {
	// GIVEN: member-1 escrowed 40.00 and member-2 escrowed 25.00
	// WHEN: member-1 is refunded, then the session settles
	// THEN: member-1 has their 40.00 back and only 25.00 is split

	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	sessionID := booking.NewSessionID()

	w1 := fundMember(t, ledger, "member-1", "40.00")
	fundMember(t, ledger, "member-2", "25.00")
	_, err := account.Deposit(ctx, "member-1", booking.MustParseMoney("40.00"), sessionID)
	require.NoError(t, err)
	_, err = account.Deposit(ctx, "member-2", booking.MustParseMoney("25.00"), sessionID)
	require.NoError(t, err)

	refund, err := account.Refund(ctx, "member-1", booking.MustParseMoney("40.00"), sessionID)
	require.NoError(t, err)
	assert.Equal(t, booking.PaymentRefunded, refund.Status)
	assert.Equal(t, "40.00", balanceOf(t, store, w1.ID))

	result, err := account.Settle(ctx, sessionID, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, "25.00", result.Total.String())
	assert.Equal(t, 1, result.SettledCount)
}

func TestRefundAll_ReturnsEveryDepositToItsPayer(t *testing.T) {
	// GIVEN: Two members escrowed different amounts
	// WHEN: RefundAll runs (session cancelled)
	// THEN: Each member has their money back; settle finds nothing

	account, ledger, store := newTestAccount(t)
	ctx := context.Background()
	sessionID := booking.NewSessionID()

	w1 := fundMember(t, ledger, "member-1", "25.00")
	w2 := fundMember(t, ledger, "member-2", "35.00")
	_, err := account.Deposit(ctx, "member-1", booking.MustParseMoney("25.00"), sessionID)
	require.NoError(t, err)
	_, err = account.Deposit(ctx, "member-2", booking.MustParseMoney("35.00"), sessionID)
	require.NoError(t, err)

	refunds, err := account.RefundAll(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, refunds, 2)

	assert.Equal(t, "25.00", balanceOf(t, store, w1.ID))
	assert.Equal(t, "35.00", balanceOf(t, store, w2.ID))

	result, err := account.Settle(ctx, sessionID, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.SettledCount)
}

func TestRefund_OnlyTouchesTargetSession(t *testing.T) {
	// GIVEN: One member escrowed into two different sessions
	// WHEN: Refunding one session
	// THEN: The other session's escrow is untouched

	account, ledger, _ := newTestAccount(t)
	ctx := context.Background()
	sessionA := booking.NewSessionID()
	sessionB := booking.NewSessionID()

	fundMember(t, ledger, "member-1", "50.00")
	_, err := account.Deposit(ctx, "member-1", booking.MustParseMoney("20.00"), sessionA)
	require.NoError(t, err)
	_, err = account.Deposit(ctx, "member-1", booking.MustParseMoney("30.00"), sessionB)
	require.NoError(t, err)

	_, err = account.Refund(ctx, "member-1", booking.MustParseMoney("20.00"), sessionA)
	require.NoError(t, err)

	sum, err := account.EscrowedSum(ctx, sessionB)
	require.NoError(t, err)
	assert.Equal(t, "30.00", sum.String())
}
