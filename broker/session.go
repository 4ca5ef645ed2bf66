package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRequest describes a market order to replay on the slave account.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Volume    decimal.Decimal
	Price     decimal.Decimal
	Deviation int    // max slippage in points
	Comment   string // traceability label attached to the order
}

// Session is the single terminal handle shared by both accounts. Only
// one account is active at a time; callers switch by re-authenticating.
// All calls are synchronous and must not hang: implementations own
// their timeouts.
type Session interface {
	Authenticate(ctx context.Context, creds Credentials) error
	Positions(ctx context.Context) ([]Position, error)
	SymbolConstraints(ctx context.Context, symbol string) (SymbolConstraints, error)
	AccountState(ctx context.Context) (AccountState, error)
	CurrentPrice(ctx context.Context, symbol string, side Side) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (int64, error)
	ClosePosition(ctx context.Context, ticket int64) error
	ModifyStops(ctx context.Context, ticket int64, stopLoss, takeProfit decimal.Decimal) error
}
