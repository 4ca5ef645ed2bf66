package integration

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trade-copier-go/broker"
)

// ModifyCall records one replayed stop modification.
type ModifyCall struct {
	Ticket     int64
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// MockSession simulates the shared terminal handle for end-to-end loop
// tests. The master's position set can be swapped mid-run; all methods
// are safe to call while the loop goroutine is polling.
type MockSession struct {
	mu sync.Mutex

	masterLogin int64
	slaveLogin  int64
	active      int64

	positions   []broker.Position
	constraints broker.SymbolConstraints
	masterState broker.AccountState
	slaveState  broker.AccountState
	price       decimal.Decimal

	placeFailures int // fail this many placements before succeeding

	nextTicket int64
	placed     []broker.OrderRequest
	closed     []int64
	modified   []ModifyCall
}

func NewMockSession(masterLogin, slaveLogin int64) *MockSession {
	return &MockSession{
		masterLogin: masterLogin,
		slaveLogin:  slaveLogin,
		constraints: broker.SymbolConstraints{
			MinVolume:  decimal.RequireFromString("0.01"),
			MaxVolume:  decimal.RequireFromString("100"),
			VolumeStep: decimal.RequireFromString("0.01"),
			MarginRate: decimal.RequireFromString("1000"),
		},
		masterState: broker.AccountState{
			Balance:    decimal.RequireFromString("10000"),
			FreeMargin: decimal.RequireFromString("10000"),
		},
		slaveState: broker.AccountState{
			Balance:    decimal.RequireFromString("2000"),
			FreeMargin: decimal.RequireFromString("1000000"),
		},
		price:      decimal.RequireFromString("1.1000"),
		nextTicket: 9000,
	}
}

// SetMasterPositions replaces the master's open position set.
func (m *MockSession) SetMasterPositions(positions []broker.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append([]broker.Position(nil), positions...)
}

// FailNextPlacements makes the next n placements return an order error.
func (m *MockSession) FailNextPlacements(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeFailures = n
}

func (m *MockSession) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placed)
}

func (m *MockSession) Placed() []broker.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broker.OrderRequest(nil), m.placed...)
}

func (m *MockSession) Closed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.closed...)
}

func (m *MockSession) Modified() []ModifyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModifyCall(nil), m.modified...)
}

func (m *MockSession) Authenticate(_ context.Context, creds broker.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = creds.Login
	return nil
}

func (m *MockSession) Positions(context.Context) ([]broker.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broker.Position(nil), m.positions...), nil
}

func (m *MockSession) SymbolConstraints(context.Context, string) (broker.SymbolConstraints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.constraints, nil
}

func (m *MockSession) AccountState(context.Context) (broker.AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == m.masterLogin {
		return m.masterState, nil
	}
	return m.slaveState, nil
}

func (m *MockSession) CurrentPrice(context.Context, string, broker.Side) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

func (m *MockSession) PlaceOrder(_ context.Context, req broker.OrderRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, req)
	if m.placeFailures > 0 {
		m.placeFailures--
		return 0, &broker.OrderError{Op: "place", Symbol: req.Symbol, Retcode: 10019, Reason: "no money"}
	}
	m.nextTicket++
	return m.nextTicket, nil
}

func (m *MockSession) ClosePosition(_ context.Context, ticket int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, ticket)
	return nil
}

func (m *MockSession) ModifyStops(_ context.Context, ticket int64, sl, tp decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modified = append(m.modified, ModifyCall{Ticket: ticket, StopLoss: sl, TakeProfit: tp})
	return nil
}
