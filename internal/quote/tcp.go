package quote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// TCPOracle speaks the legacy quote server line protocol, one connection
// per request
type TCPOracle struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

func NewTCPOracle(addr string, timeout time.Duration) *TCPOracle {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TCPOracle{
		addr:    addr,
		timeout: timeout,
	}
}

func (o *TCPOracle) Quote(ctx context.Context, username, symbol string) (Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	conn, err := o.dialer.DialContext(ctx, "tcp", o.addr)
	if err != nil {
		return Quote{}, fmt.Errorf("dial quote server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Quote{}, fmt.Errorf("set deadline: %w", err)
		}
	}

	if _, err := io.WriteString(conn, FormatRequest(username, symbol)); err != nil {
		return Quote{}, fmt.Errorf("write quote request: %w", err)
	}

	// Some servers close the connection instead of terminating the line
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return Quote{}, fmt.Errorf("read quote response: %w", err)
	}

	q, err := ParseResponse(line)
	if err != nil {
		return Quote{}, err
	}
	if q.Symbol != symbol {
		return Quote{}, fmt.Errorf("%w: asked for %s, got %s", ErrMalformedResponse, symbol, q.Symbol)
	}
	return q, nil
}
