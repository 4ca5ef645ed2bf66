// Package mtbridge implements broker.Session over a websocket JSON
// bridge running next to the terminal.
package mtbridge

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"trade-copier-go/broker"
)

// RetcodeDone is the terminal return code for a completed deal.
const RetcodeDone = 10009

// request/response frame the bridge's JSON protocol. The bridge
// answers every request with the matching id; Retcode is 0 for
// successful queries and the terminal trade retcode for trade ops.
type request struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type response struct {
	ID      int64           `json:"id"`
	Retcode int             `json:"retcode"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type loginParams struct {
	Login    int64  `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

type symbolParams struct {
	Symbol string `json:"symbol"`
}

type orderParams struct {
	Symbol    string          `json:"symbol"`
	Type      int             `json:"type"` // 0 buy, 1 sell
	Volume    decimal.Decimal `json:"volume"`
	Price     decimal.Decimal `json:"price"`
	Deviation int             `json:"deviation"`
	Comment   string          `json:"comment,omitempty"`
}

type ticketParams struct {
	Ticket int64 `json:"ticket"`
}

type modifyParams struct {
	Ticket     int64           `json:"ticket"`
	StopLoss   decimal.Decimal `json:"sl"`
	TakeProfit decimal.Decimal `json:"tp"`
}

type wirePosition struct {
	Ticket     int64           `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Type       int             `json:"type"` // 0 buy, 1 sell
	Volume     decimal.Decimal `json:"volume"`
	StopLoss   decimal.Decimal `json:"sl"`
	TakeProfit decimal.Decimal `json:"tp"`
	Time       int64           `json:"time"` // unix seconds
}

func (w wirePosition) toPosition() broker.Position {
	side := broker.Long
	if w.Type == 1 {
		side = broker.Short
	}
	return broker.Position{
		Ticket:     w.Ticket,
		Symbol:     w.Symbol,
		Side:       side,
		Volume:     w.Volume,
		StopLoss:   w.StopLoss,
		TakeProfit: w.TakeProfit,
		OpenTime:   time.Unix(w.Time, 0).UTC(),
	}
}

func sideType(s broker.Side) int {
	if s == broker.Short {
		return 1
	}
	return 0
}

type wireSymbolInfo struct {
	VolumeMin  decimal.Decimal `json:"volume_min"`
	VolumeMax  decimal.Decimal `json:"volume_max"`
	VolumeStep decimal.Decimal `json:"volume_step"`
	MarginRate decimal.Decimal `json:"margin_rate"`
}

type wireAccountInfo struct {
	Balance    decimal.Decimal `json:"balance"`
	MarginFree decimal.Decimal `json:"margin_free"`
}

type wireTick struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

type wireOrderResult struct {
	Order int64 `json:"order"`
}
