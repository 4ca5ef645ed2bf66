package copier

import (
	"sort"

	"github.com/shopspring/decimal"

	"trade-copier-go/broker"
)

// ChangeType classifies what happened to one master position between
// two polls.
type ChangeType string

const (
	ChangeOpened   ChangeType = "OPENED"
	ChangeClosed   ChangeType = "CLOSED"
	ChangeModified ChangeType = "MODIFIED"
)

// ChangeEvent is produced once per poll cycle per changed position and
// consumed immediately. Position carries the full view for Opened and
// the last known view for Closed; StopLoss/TakeProfit carry the new
// levels for Modified.
type ChangeEvent struct {
	Type       ChangeType
	Ticket     int64
	Position   broker.Position
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Snapshot is an immutable view of one account's open positions at a
// poll instant, keyed by ticket.
type Snapshot map[int64]broker.Position

// SnapshotOf indexes a position list by ticket.
func SnapshotOf(positions []broker.Position) Snapshot {
	s := make(Snapshot, len(positions))
	for _, p := range positions {
		s[p.Ticket] = p
	}
	return s
}

// Diff compares two consecutive master snapshots and classifies every
// changed ticket. Neither input is mutated. Events are ordered Opened,
// Closed, Modified, each group sorted by ticket, so output is
// deterministic for a given input pair.
//
// Volume, symbol and side changes on a live ticket are not detected:
// the terminal never changes these without issuing a new ticket.
func Diff(previous, current Snapshot) []ChangeEvent {
	var opened, closed, modified []ChangeEvent

	for ticket, pos := range current {
		prev, ok := previous[ticket]
		if !ok {
			opened = append(opened, ChangeEvent{Type: ChangeOpened, Ticket: ticket, Position: pos})
			continue
		}
		if !pos.StopLoss.Equal(prev.StopLoss) || !pos.TakeProfit.Equal(prev.TakeProfit) {
			modified = append(modified, ChangeEvent{
				Type:       ChangeModified,
				Ticket:     ticket,
				Position:   pos,
				StopLoss:   pos.StopLoss,
				TakeProfit: pos.TakeProfit,
			})
		}
	}
	for ticket, pos := range previous {
		if _, ok := current[ticket]; !ok {
			closed = append(closed, ChangeEvent{Type: ChangeClosed, Ticket: ticket, Position: pos})
		}
	}

	byTicket := func(events []ChangeEvent) {
		sort.Slice(events, func(i, j int) bool { return events[i].Ticket < events[j].Ticket })
	}
	byTicket(opened)
	byTicket(closed)
	byTicket(modified)

	out := make([]ChangeEvent, 0, len(opened)+len(closed)+len(modified))
	out = append(out, opened...)
	out = append(out, closed...)
	out = append(out, modified...)
	return out
}
