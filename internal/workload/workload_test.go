package workload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr error
	}{
		{line: "[1] ADD,alice,100.00", want: Command{Num: 1, Name: Add, User: "alice", Amount: dec("100.00")}},
		{line: "[2] QUOTE,alice,ABC", want: Command{Num: 2, Name: Quote, User: "alice", Symbol: "ABC"}},
		{line: "[3] BUY,alice,ABC,55.5", want: Command{Num: 3, Name: Buy, User: "alice", Symbol: "ABC", Amount: dec("55.5")}},
		{line: " [4] commit_buy,alice ", want: Command{Num: 4, Name: CommitBuy, User: "alice"}},
		{line: "[5] CANCEL_SET_SELL,bob,XYZ", want: Command{Num: 5, Name: CancelSetSell, User: "bob", Symbol: "XYZ"}},
		{line: "[6] DUMPLOG,./out.xml", want: Command{Num: 6, Name: DumpLog, File: "./out.xml"}},
		{line: "[7] DUMPLOG,bob,./bob.xml", want: Command{Num: 7, Name: DumpLog, User: "bob", File: "./bob.xml"}},
		{line: "ADD,alice,100", wantErr: ErrMissingSpace},
		{line: "[x] ADD,alice,100", wantErr: ErrBadNumber},
		{line: "[1] TRADE,alice", wantErr: ErrUnknownCommand},
		{line: "[1] BUY,alice,ABC", wantErr: ErrMissingArgument},
		{line: "[1] COMMIT_BUY,alice,ABC", wantErr: ErrTooManyArguments},
		{line: "[1] ADD,alice,lots", wantErr: ErrBadAmount},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Num, got.Num)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.User, got.User)
			assert.Equal(t, tt.want.Symbol, got.Symbol)
			assert.Equal(t, tt.want.File, got.File)
			assert.True(t, tt.want.Amount.Equal(got.Amount), "amount %s", got.Amount)
		})
	}
}

func TestParseReportsLine(t *testing.T) {
	input := "[1] ADD,alice,10\n\n[2] BUY,alice,ABC,5\n[3] NOPE,alice\n"
	_, err := Parse(strings.NewReader(input))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), "line 4")

	commands, err := Parse(strings.NewReader("[1] ADD,alice,10\n\n[2] BUY,alice,ABC,5\n"))
	require.NoError(t, err)
	assert.Len(t, commands, 2)
}

type recorded struct {
	method string
	path   string
	query  string
	txn    string
	body   map[string]interface{}
}

func recordingServer(t *testing.T, status int) (*httptest.Server, func() []recorded) {
	t.Helper()
	var mu sync.Mutex
	var requests []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, txn: r.Header.Get("X-Transaction-Num")}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		mu.Lock()
		requests = append(requests, rec)
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), requests...)
	}
}

func TestClientRoutes(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusOK)
	stats := NewStats()
	client := NewClient(srv.URL, time.Second, stats)
	ctx := context.Background()

	lines := []string{
		"[1] ADD,alice,100.00",
		"[2] QUOTE,alice,ABC",
		"[3] BUY,alice,ABC,50",
		"[4] COMMIT_BUY,alice",
		"[5] SET_BUY_TRIGGER,alice,ABC,9.5",
		"[6] CANCEL_SET_BUY,alice,ABC",
		"[7] SET_SELL_AMOUNT,alice,ABC,2",
		"[8] DISPLAY_SUMMARY,alice",
	}
	for _, line := range lines {
		cmd, err := ParseLine(line)
		require.NoError(t, err)
		require.NoError(t, client.Execute(ctx, cmd))
	}

	got := requests()
	require.Len(t, got, len(lines))

	assert.Equal(t, http.MethodPost, got[0].method)
	assert.Equal(t, "/api/v1/users/alice/funds", got[0].path)
	assert.Equal(t, "100", got[0].body["amount"])
	assert.Equal(t, "1", got[0].txn)

	assert.Equal(t, http.MethodGet, got[1].method)
	assert.Equal(t, "/api/v1/quotes/ABC", got[1].path)
	assert.Equal(t, "user_id=alice", got[1].query)

	assert.Equal(t, "/api/v1/users/alice/buy", got[2].path)
	assert.Equal(t, "ABC", got[2].body["symbol"])
	assert.Equal(t, "/api/v1/users/alice/buy/commit", got[3].path)
	assert.Equal(t, "/api/v1/users/alice/triggers/buy", got[4].path)
	assert.Equal(t, "9.5", got[4].body["trigger_price"])
	assert.Equal(t, http.MethodDelete, got[5].method)
	assert.Equal(t, "/api/v1/users/alice/triggers/buy/ABC", got[5].path)
	assert.Equal(t, "2", got[6].body["shares"])
	assert.Equal(t, http.MethodGet, got[7].method)
	assert.Equal(t, "/api/v1/users/alice", got[7].path)

	calls, failures := stats.Calls(Add)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, failures)

	var out bytes.Buffer
	stats.Print(&out)
	assert.Contains(t, out.String(), "COMMIT_BUY")
}

func TestClientFailureAndSkip(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusPreconditionFailed)
	stats := NewStats()
	client := NewClient(srv.URL, time.Second, stats)

	err := client.Execute(context.Background(), Command{Num: 1, Name: CommitBuy, User: "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "412")
	_, failures := stats.Calls(CommitBuy)
	assert.Equal(t, 1, failures)

	err = client.Execute(context.Background(), Command{Num: 2, Name: DumpLog, File: "out.xml"})
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Len(t, requests(), 1)
}

type orderingExecutor struct {
	mu     sync.Mutex
	seen   map[string][]int
	failOn int
}

func (e *orderingExecutor) Execute(_ context.Context, cmd Command) error {
	time.Sleep(time.Millisecond)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen[cmd.User] = append(e.seen[cmd.User], cmd.Num)
	switch {
	case cmd.Name == DumpLog:
		return ErrSkipped
	case cmd.Num == e.failOn:
		return errors.New("boom")
	}
	return nil
}

func TestRunKeepsPerUserOrder(t *testing.T) {
	var commands []Command
	users := []string{"alice", "bob", "carol", "dave"}
	for i := 1; i <= 40; i++ {
		commands = append(commands, Command{Num: i, Name: Quote, User: users[i%len(users)], Symbol: "ABC"})
	}
	commands = append(commands, Command{Num: 41, Name: DumpLog, File: "out.xml"})

	exec := &orderingExecutor{seen: make(map[string][]int), failOn: 7}
	summary := Run(context.Background(), exec, commands, 3)

	assert.Equal(t, 41, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	for _, user := range users {
		nums := exec.seen[user]
		require.Len(t, nums, 10)
		for i := 1; i < len(nums); i++ {
			assert.Less(t, nums[i-1], nums[i], "commands for %s ran out of order", user)
		}
	}
}

func TestFixtureCommands(t *testing.T) {
	fixture, err := LoadFixture(strings.NewReader(`
users:
  - name: alice
    funds: "1000.00"
    buys:
      - symbol: ABC
        amount: "100"
    buy_triggers:
      - symbol: XYZ
        amount: "200"
        price: "48"
  - name: bob
    sell_triggers:
      - symbol: ABC
        amount: "2"
        price: "12"
`))
	require.NoError(t, err)

	commands, err := fixture.Commands()
	require.NoError(t, err)

	var names []Name
	for _, cmd := range commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []Name{Add, Buy, CommitBuy, SetBuyAmount, SetBuyTrigger, Add, SetSellAmount, SetSellTrigger}, names)
	assert.True(t, dec("48").Equal(commands[4].Amount))
	assert.True(t, commands[5].Amount.IsZero())
	assert.Equal(t, 8, commands[7].Num)

	_, err = (&Fixture{Users: []FixtureUser{{Name: "x", Funds: "lots"}}}).Commands()
	assert.ErrorIs(t, err, ErrBadAmount)
}
