package mtbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trade-copier-go/broker"
)

// Client is a broker.Session over the bridge websocket. Not safe for
// concurrent use: the reconciliation loop is the single caller by
// design. Every call carries a deadline so a dead bridge surfaces as
// an error instead of a hang.
type Client struct {
	endpoint string
	timeout  time.Duration
	dialer   *websocket.Dialer
	conn     *websocket.Conn
	seq      int64
}

// New builds a client; the connection is dialed lazily on first use.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
		dialer:   websocket.DefaultDialer,
	}
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", c.endpoint, err)
	}
	c.conn = conn
	return nil
}

// call sends one request and reads frames until the matching id
// arrives. Any transport error drops the connection so the next call
// redials.
func (c *Client) call(ctx context.Context, method string, params, result interface{}) (*response, error) {
	if err := c.ensureConn(ctx); err != nil {
		return nil, err
	}
	c.seq++
	req := request{ID: c.seq, Method: method, Params: params}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		c.drop()
		return nil, fmt.Errorf("%s: write: %w", method, err)
	}

	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.drop()
			return nil, fmt.Errorf("%s: read: %w", method, err)
		}
		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.drop()
			return nil, fmt.Errorf("%s: decode: %w", method, err)
		}
		if resp.ID != req.ID {
			continue // stale frame from an earlier timed-out call
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return nil, fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return &resp, nil
	}
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts the websocket down.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) Authenticate(ctx context.Context, creds broker.Credentials) error {
	resp, err := c.call(ctx, "login", loginParams{
		Login:    creds.Login,
		Password: creds.Password,
		Server:   creds.Server,
	}, nil)
	if err != nil {
		return &broker.AuthError{Login: creds.Login, Server: creds.Server, Reason: err.Error()}
	}
	if resp.Retcode != 0 {
		return &broker.AuthError{Login: creds.Login, Server: creds.Server, Reason: resp.Error}
	}
	return nil
}

func (c *Client) Positions(ctx context.Context) ([]broker.Position, error) {
	var wire []wirePosition
	resp, err := c.call(ctx, "positions", nil, &wire)
	if err != nil {
		return nil, err
	}
	if resp.Retcode != 0 {
		return nil, fmt.Errorf("positions: %s", resp.Error)
	}
	out := make([]broker.Position, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toPosition())
	}
	return out, nil
}

func (c *Client) SymbolConstraints(ctx context.Context, symbol string) (broker.SymbolConstraints, error) {
	var info wireSymbolInfo
	resp, err := c.call(ctx, "symbol_info", symbolParams{Symbol: symbol}, &info)
	if err != nil {
		return broker.SymbolConstraints{}, err
	}
	if resp.Retcode != 0 {
		return broker.SymbolConstraints{}, fmt.Errorf("symbol_info %s: %s", symbol, resp.Error)
	}
	return broker.SymbolConstraints{
		MinVolume:  info.VolumeMin,
		MaxVolume:  info.VolumeMax,
		VolumeStep: info.VolumeStep,
		MarginRate: info.MarginRate,
	}, nil
}

func (c *Client) AccountState(ctx context.Context) (broker.AccountState, error) {
	var info wireAccountInfo
	resp, err := c.call(ctx, "account_info", nil, &info)
	if err != nil {
		return broker.AccountState{}, err
	}
	if resp.Retcode != 0 {
		return broker.AccountState{}, fmt.Errorf("account_info: %s", resp.Error)
	}
	return broker.AccountState{Balance: info.Balance, FreeMargin: info.MarginFree}, nil
}

// CurrentPrice returns the side a replayed deal would execute at:
// ask for a long open, bid for a short open.
func (c *Client) CurrentPrice(ctx context.Context, symbol string, side broker.Side) (decimal.Decimal, error) {
	var tick wireTick
	resp, err := c.call(ctx, "tick", symbolParams{Symbol: symbol}, &tick)
	if err != nil {
		return decimal.Zero, err
	}
	if resp.Retcode != 0 {
		return decimal.Zero, fmt.Errorf("tick %s: %s", symbol, resp.Error)
	}
	if side == broker.Short {
		return tick.Bid, nil
	}
	return tick.Ask, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (int64, error) {
	var result wireOrderResult
	resp, err := c.call(ctx, "order_send", orderParams{
		Symbol:    req.Symbol,
		Type:      sideType(req.Side),
		Volume:    req.Volume,
		Price:     req.Price,
		Deviation: req.Deviation,
		Comment:   req.Comment,
	}, &result)
	if err != nil {
		return 0, &broker.OrderError{Op: "place", Symbol: req.Symbol, Reason: err.Error()}
	}
	if resp.Retcode != RetcodeDone {
		return 0, &broker.OrderError{Op: "place", Symbol: req.Symbol, Retcode: resp.Retcode, Reason: resp.Error}
	}
	return result.Order, nil
}

func (c *Client) ClosePosition(ctx context.Context, ticket int64) error {
	resp, err := c.call(ctx, "position_close", ticketParams{Ticket: ticket}, nil)
	if err != nil {
		return &broker.OrderError{Op: "close", Ticket: ticket, Reason: err.Error()}
	}
	if resp.Retcode != RetcodeDone {
		return &broker.OrderError{Op: "close", Ticket: ticket, Retcode: resp.Retcode, Reason: resp.Error}
	}
	return nil
}

func (c *Client) ModifyStops(ctx context.Context, ticket int64, stopLoss, takeProfit decimal.Decimal) error {
	resp, err := c.call(ctx, "position_modify", modifyParams{
		Ticket:     ticket,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}, nil)
	if err != nil {
		return &broker.OrderError{Op: "modify", Ticket: ticket, Reason: err.Error()}
	}
	if resp.Retcode != RetcodeDone {
		return &broker.OrderError{Op: "modify", Ticket: ticket, Retcode: resp.Retcode, Reason: resp.Error}
	}
	return nil
}
