package copier

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// LedgerEntry correlates one live master position with the slave
// position that mirrors it. StopLoss/TakeProfit are the last levels
// successfully replayed to the slave (zero meaning not set).
type LedgerEntry struct {
	SlaveTicket int64
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
}

// Ledger maps master tickets to slave tickets. Single writer: only the
// reconciliation loop mutates it, and only after the corresponding
// terminal action succeeded. An entry exists if and only if a live
// slave position mirrors a live master position. The lock exists for
// readers on other goroutines (status, tests), not for writers.
type Ledger struct {
	mu      sync.RWMutex
	entries map[int64]LedgerEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[int64]LedgerEntry)}
}

// RecordOpen creates the mapping after a confirmed order placement.
// Stops start unset; the level-triggered modify scan brings them in
// line with the master on the next cycle.
func (l *Ledger) RecordOpen(masterTicket, slaveTicket int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[masterTicket] = LedgerEntry{SlaveTicket: slaveTicket}
}

// RecordModify stores the levels just replayed to the slave.
func (l *Ledger) RecordModify(masterTicket int64, stopLoss, takeProfit decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[masterTicket]
	if !ok {
		return
	}
	e.StopLoss = stopLoss
	e.TakeProfit = takeProfit
	l.entries[masterTicket] = e
}

// RecordClose removes the mapping after the slave position was closed.
func (l *Ledger) RecordClose(masterTicket int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, masterTicket)
}

// Lookup returns the entry for a master ticket, if mirrored.
func (l *Ledger) Lookup(masterTicket int64) (LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[masterTicket]
	return e, ok
}

// Restore seeds the ledger from persisted state at startup.
func (l *Ledger) Restore(entries map[int64]LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ticket, e := range entries {
		l.entries[ticket] = e
	}
}

// Tickets lists mapped master tickets in ascending order.
func (l *Ledger) Tickets() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]int64, 0, len(l.entries))
	for t := range l.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports the number of mirrored positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
