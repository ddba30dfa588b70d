package workload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrSkipped is returned for commands the API does not serve
var ErrSkipped = errors.New("command skipped")

// Client sends workload commands to the HTTP API
type Client struct {
	baseURL string
	client  *http.Client
	stats   *Stats
}

// NewClient creates a client for the API at baseURL. stats may be nil.
func NewClient(baseURL string, timeout time.Duration, stats *Stats) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		stats: stats,
	}
}

// Execute sends cmd and returns an error for transport failures and non-2xx
// responses. DUMPLOG returns ErrSkipped.
func (c *Client) Execute(ctx context.Context, cmd Command) error {
	method, path, body, err := route(cmd)
	if err != nil {
		return err
	}

	start := time.Now()
	err = c.do(ctx, cmd, method, path, body)
	if c.stats != nil {
		c.stats.Record(cmd.Name, time.Since(start), err != nil)
	}
	return err
}

func route(cmd Command) (method, path string, body interface{}, err error) {
	user := "/api/v1/users/" + url.PathEscape(cmd.User)
	symbol := url.PathEscape(cmd.Symbol)

	switch cmd.Name {
	case Add:
		return http.MethodPost, user + "/funds", map[string]decimal.Decimal{"amount": cmd.Amount}, nil
	case Quote:
		return http.MethodGet, "/api/v1/quotes/" + symbol + "?user_id=" + url.QueryEscape(cmd.User), nil, nil
	case Buy:
		return http.MethodPost, user + "/buy", tradeBody(cmd, "amount"), nil
	case CommitBuy:
		return http.MethodPost, user + "/buy/commit", nil, nil
	case CancelBuy:
		return http.MethodPost, user + "/buy/cancel", nil, nil
	case Sell:
		return http.MethodPost, user + "/sell", tradeBody(cmd, "amount"), nil
	case CommitSell:
		return http.MethodPost, user + "/sell/commit", nil, nil
	case CancelSell:
		return http.MethodPost, user + "/sell/cancel", nil, nil
	case SetBuyAmount:
		return http.MethodPost, user + "/triggers/buy/amount", tradeBody(cmd, "amount"), nil
	case SetBuyTrigger:
		return http.MethodPost, user + "/triggers/buy", tradeBody(cmd, "trigger_price"), nil
	case CancelSetBuy:
		return http.MethodDelete, user + "/triggers/buy/" + symbol, nil, nil
	case SetSellAmount:
		return http.MethodPost, user + "/triggers/sell/amount", tradeBody(cmd, "shares"), nil
	case SetSellTrigger:
		return http.MethodPost, user + "/triggers/sell", tradeBody(cmd, "trigger_price"), nil
	case CancelSetSell:
		return http.MethodDelete, user + "/triggers/sell/" + symbol, nil, nil
	case DisplaySummary:
		return http.MethodGet, user, nil, nil
	case DumpLog:
		return "", "", nil, ErrSkipped
	default:
		return "", "", nil, fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Name)
	}
}

func tradeBody(cmd Command, amountField string) map[string]interface{} {
	return map[string]interface{}{
		"symbol":    cmd.Symbol,
		amountField: cmd.Amount,
	}
}

func (c *Client) do(ctx context.Context, cmd Command, method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Transaction-Num", strconv.Itoa(cmd.Num))

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().
		Int("transaction_num", cmd.Num).
		Str("command", string(cmd.Name)).
		Int("status", resp.StatusCode).
		Str("response", string(respBody)).
		Msg("workload response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed with status %d: %s", cmd.Name, resp.StatusCode, string(respBody))
	}
	return nil
}
