package trading

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/audit/audittest"
	"github.com/ksred/daytrader-api/internal/ledger"
	"github.com/ksred/daytrader-api/internal/quote/quotetest"
	"github.com/ksred/daytrader-api/internal/testutil"
)

type fixture struct {
	svc    *Service
	db     *gorm.DB
	store  *Database
	ledger *ledger.Service
	oracle *quotetest.Oracle
	audit  *audittest.Recorder

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	auditLog, rec := audittest.NewLog()

	f := &fixture{
		db:     db,
		store:  NewDatabase(db),
		ledger: ledger.NewService(db, auditLog),
		oracle: quotetest.NewOracle(),
		audit:  rec,
		now:    time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	f.svc = NewService(db, f.oracle, auditLog, WithClock(f.clock))
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) fund(t *testing.T, username, amount string) {
	t.Helper()
	_, err := f.ledger.AddFunds(context.Background(), username, testutil.Dec(amount))
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, username string) decimal.Decimal {
	t.Helper()
	user, err := f.ledger.GetUser(context.Background(), username)
	require.NoError(t, err)
	return user.Balance
}

func (f *fixture) shares(t *testing.T, username, symbol string) decimal.Decimal {
	t.Helper()
	position, err := ledger.NewDatabase(f.db).GetPosition(context.Background(), username, symbol)
	require.NoError(t, err)
	if position == nil {
		return decimal.Zero
	}
	return position.Shares
}

func TestBuyCommitScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	buy, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	assert.True(t, buy.Success)
	testutil.AssertDecimal(t, "10", buy.Shares)
	testutil.AssertDecimal(t, "500", f.balance(t, "alice"))

	commit, err := f.svc.CommitBuy(ctx, "alice")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "400", commit.Balance)
	testutil.AssertDecimal(t, "10", commit.SharesOwned)

	user, err := f.ledger.GetUser(ctx, "alice")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "400", user.Balance)
	require.Len(t, user.OwnedStock, 1)
	assert.Equal(t, "ABC", user.OwnedStock[0].Symbol)
	testutil.AssertDecimal(t, "10", user.OwnedStock[0].Shares)

	pending, err := f.store.GetPendingBuy(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, pending)

	assert.Len(t, f.audit.OfType(audit.ErrorEventEvent), 0)
}

func TestCommitBuyAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)

	f.advance(61 * time.Second)
	_, err = f.svc.CommitBuy(ctx, "alice")
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
	testutil.AssertDecimal(t, "500", f.balance(t, "alice"))
	assert.True(t, f.shares(t, "alice", "ABC").IsZero())

	// The expired reservation was reaped
	_, err = f.svc.CommitBuy(ctx, "alice")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestCommitSellAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	_, err = f.svc.CommitBuy(ctx, "alice")
	require.NoError(t, err)

	_, err = f.svc.Sell(ctx, "alice", "ABC", testutil.Dec("50"))
	require.NoError(t, err)

	f.advance(61 * time.Second)
	_, err = f.svc.CommitSell(ctx, "alice")
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
	testutil.AssertDecimal(t, "400", f.balance(t, "alice"))
	testutil.AssertDecimal(t, "10", f.shares(t, "alice", "ABC"))

	pending, err := f.store.GetPendingSell(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, pending)

	_, err = f.svc.CommitSell(ctx, "alice")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestCommitAtExactExpiryStillSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)

	f.advance(DefaultReservationTTL)
	_, err = f.svc.CommitBuy(ctx, "alice")
	assert.NoError(t, err)
}

func TestSellWithoutPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "bob", "100")
	f.oracle.SetPrice("GHI", "5.00")

	_, err := f.svc.Sell(ctx, "bob", "GHI", testutil.Dec("50"))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	pending, err := f.store.GetPendingSell(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, pending)

	errs := f.audit.OfType(audit.ErrorEventEvent)
	require.Len(t, errs, 1)
	assert.Equal(t, audit.CmdSell, errs[0].Command)
	assert.Equal(t, "GHI", errs[0].StockSymbol)
	assert.Equal(t, "50.00", errs[0].Funds)
}

func TestBuyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	tests := []struct {
		name     string
		username string
		symbol   string
		amount   string
		want     codes.Code
	}{
		{"empty user", "", "ABC", "10", codes.InvalidArgument},
		{"empty symbol", "alice", "", "10", codes.InvalidArgument},
		{"zero amount", "alice", "ABC", "0", codes.InvalidArgument},
		{"negative amount", "alice", "ABC", "-5", codes.InvalidArgument},
		{"unknown user", "zed", "ABC", "10", codes.NotFound},
		{"over balance", "alice", "ABC", "500.01", codes.FailedPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Buy(ctx, tt.username, tt.symbol, testutil.Dec(tt.amount))
			assert.Equal(t, tt.want, status.Code(err))
		})
	}

	pending, err := f.store.GetPendingBuy(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, pending, "failed buys must not leave a reservation")
}

func TestSecondBuyReplacesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")
	f.oracle.SetPrice("DEF", "20.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	_, err = f.svc.Buy(ctx, "alice", "DEF", testutil.Dec("200"))
	require.NoError(t, err)

	commit, err := f.svc.CommitBuy(ctx, "alice")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "300", commit.Balance)
	testutil.AssertDecimal(t, "10", commit.SharesOwned)
	assert.True(t, f.shares(t, "alice", "ABC").IsZero())
	testutil.AssertDecimal(t, "10", f.shares(t, "alice", "DEF"))
}

func TestSellEntirePositionRemovesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	_, err = f.svc.CommitBuy(ctx, "alice")
	require.NoError(t, err)

	_, err = f.svc.Sell(ctx, "alice", "ABC", testutil.Dec("100.01"))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	sell, err := f.svc.Sell(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	testutil.AssertDecimal(t, "10", sell.Shares)
	testutil.AssertDecimal(t, "100", sell.Amount)

	commit, err := f.svc.CommitSell(ctx, "alice")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "500", commit.Balance)
	assert.True(t, commit.SharesOwned.IsZero())

	position, err := ledger.NewDatabase(f.db).GetPosition(ctx, "alice", "ABC")
	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestCommitSellRollsBackWhenSharesGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	_, err = f.svc.CommitBuy(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Sell(ctx, "alice", "ABC", testutil.Dec("80"))
	require.NoError(t, err)

	// Shares leave the position between reserve and commit
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.AdjustShares(tx, "alice", "ABC", testutil.Dec("-5"))
		return err
	}))

	_, err = f.svc.CommitSell(ctx, "alice")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	testutil.AssertDecimal(t, "400", f.balance(t, "alice"))
	testutil.AssertDecimal(t, "5", f.shares(t, "alice", "ABC"))

	pending, err := f.store.GetPendingSell(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, pending, "a failed commit keeps the reservation")
}

func TestCommitBuyRollsBackWhenFundsGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("450"))
	require.NoError(t, err)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.AdjustBalance(tx, "alice", testutil.Dec("-100"))
		return err
	}))

	_, err = f.svc.CommitBuy(ctx, "alice")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	testutil.AssertDecimal(t, "400", f.balance(t, "alice"))
	assert.True(t, f.shares(t, "alice", "ABC").IsZero())
}

func TestCommitWithoutReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")

	_, err := f.svc.CommitBuy(ctx, "alice")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	_, err = f.svc.CommitSell(ctx, "alice")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	_, err = f.svc.CommitBuy(ctx, " ")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.CancelBuy(ctx, "alice")
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = f.svc.CancelSell(ctx, "alice")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	resp, err := f.svc.CancelBuy(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	_, err = f.svc.CommitBuy(ctx, "alice")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	testutil.AssertDecimal(t, "500", f.balance(t, "alice"))
}

func TestQuoteFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.Fail(errors.New("quote server down"))

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, status.Convert(err).Message(), "quote server down")

	errs := f.audit.OfType(audit.ErrorEventEvent)
	require.Len(t, errs, 1)
	assert.Equal(t, audit.CmdBuy, errs[0].Command)
}

func TestReapExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.fund(t, "bob", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	f.advance(30 * time.Second)
	_, err = f.svc.Buy(ctx, "bob", "ABC", testutil.Dec("100"))
	require.NoError(t, err)
	f.advance(31 * time.Second)

	n, err := f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	alice, err := f.store.GetPendingBuy(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, alice)
	bob, err := f.store.GetPendingBuy(ctx, "bob")
	require.NoError(t, err)
	assert.NotNil(t, bob)
}

func TestConcurrentCommitAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec("100"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CommitBuy(ctx, "alice")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.Equal(t, codes.FailedPrecondition, status.Code(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	testutil.AssertDecimal(t, "400", f.balance(t, "alice"))
	testutil.AssertDecimal(t, "10", f.shares(t, "alice", "ABC"))
}

func TestConcurrentBuysLastWriterWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	amounts := []string{"50", "100", "150", "200", "250", "300", "350", "400"}
	var wg sync.WaitGroup
	for _, amount := range amounts {
		wg.Add(1)
		go func(amount string) {
			defer wg.Done()
			_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec(amount))
			assert.NoError(t, err)
		}(amount)
	}
	wg.Wait()

	// Exactly one reservation survives and it is one of the requests, whole
	pending, err := f.store.GetPendingBuy(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, pending)
	matched := false
	for _, amount := range amounts {
		if pending.Amount.Equal(testutil.Dec(amount)) {
			matched = true
		}
	}
	assert.True(t, matched, "pending amount %s was never requested", pending.Amount)
	testutil.AssertDecimal(t, pending.Amount.Div(testutil.Dec("10")).String(), pending.Shares)

	commit, err := f.svc.CommitBuy(ctx, "alice")
	require.NoError(t, err)
	value := commit.Balance.Add(commit.SharesOwned.Mul(testutil.Dec("10")))
	testutil.AssertDecimal(t, "500", value)
	testutil.AssertDecimal(t, "500", f.balance(t, "alice").Add(pending.Amount))
}

func TestValueConservedAtFixedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "1000")
	f.oracle.SetPrice("ABC", "7.00")
	price := testutil.Dec("7.00")

	worth := func() decimal.Decimal {
		return f.balance(t, "alice").Add(f.shares(t, "alice", "ABC").Mul(price))
	}
	before := worth()

	for _, amount := range []string{"100", "250", "33.33"} {
		_, err := f.svc.Buy(ctx, "alice", "ABC", testutil.Dec(amount))
		require.NoError(t, err)
		_, err = f.svc.CommitBuy(ctx, "alice")
		require.NoError(t, err)
	}
	_, err := f.svc.Sell(ctx, "alice", "ABC", testutil.Dec("120"))
	require.NoError(t, err)
	_, err = f.svc.CommitSell(ctx, "alice")
	require.NoError(t, err)

	diff := worth().Sub(before).Abs()
	assert.True(t, diff.LessThan(testutil.Dec("0.0001")), "value drifted by %s", diff)
}

func TestBuyHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	f.fund(t, "alice", "500")
	f.oracle.SetPrice("ABC", "10.00")

	h := NewGinHandlers(f.svc)
	router := gin.New()
	router.POST("/users/:user_id/buy", h.BuyHandler())
	router.POST("/users/:user_id/buy/commit", h.CommitBuyHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/users/alice/buy", strings.NewReader(`{"symbol":"ABC","amount":"100"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Shares decimal.Decimal `json:"shares"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	testutil.AssertDecimal(t, "10", body.Data.Shares)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users/bob/buy/commit", nil))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}
