package copier

import (
	"testing"

	"github.com/shopspring/decimal"

	"trade-copier-go/broker"
)

func pos(ticket int64, symbol string, volume, sl, tp string) broker.Position {
	return broker.Position{
		Ticket:     ticket,
		Symbol:     symbol,
		Side:       broker.Long,
		Volume:     decimal.RequireFromString(volume),
		StopLoss:   decimal.RequireFromString(sl),
		TakeProfit: decimal.RequireFromString(tp),
	}
}

func TestDiffPartition(t *testing.T) {
	prev := SnapshotOf([]broker.Position{
		pos(1, "EURUSD", "1.0", "0", "0"),   // unchanged
		pos(2, "EURUSD", "0.5", "0", "0"),   // closed
		pos(3, "GBPUSD", "0.2", "0", "0"),   // modified (sl set)
		pos(4, "USDJPY", "0.1", "150", "0"), // modified (tp set)
	})
	curr := SnapshotOf([]broker.Position{
		pos(1, "EURUSD", "1.0", "0", "0"),
		pos(3, "GBPUSD", "0.2", "1.2500", "0"),
		pos(4, "USDJPY", "0.1", "150", "155"),
		pos(5, "EURUSD", "0.3", "0", "0"), // opened
	})

	events := Diff(prev, curr)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}

	// Opened first, then Closed, then Modified; each sorted by ticket.
	want := []struct {
		typ    ChangeType
		ticket int64
	}{
		{ChangeOpened, 5},
		{ChangeClosed, 2},
		{ChangeModified, 3},
		{ChangeModified, 4},
	}
	for i, w := range want {
		if events[i].Type != w.typ || events[i].Ticket != w.ticket {
			t.Fatalf("event %d: want %s/%d, got %s/%d", i, w.typ, w.ticket, events[i].Type, events[i].Ticket)
		}
	}

	// No ticket appears twice.
	seen := make(map[int64]bool)
	for _, ev := range events {
		if seen[ev.Ticket] {
			t.Fatalf("ticket %d classified twice", ev.Ticket)
		}
		seen[ev.Ticket] = true
	}
}

func TestDiffFirstPollAdoptsEverything(t *testing.T) {
	curr := SnapshotOf([]broker.Position{
		pos(10, "EURUSD", "1.0", "0", "0"),
		pos(11, "GBPUSD", "0.5", "1.2", "1.3"),
	})
	events := Diff(Snapshot{}, curr)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Type != ChangeOpened {
			t.Fatalf("expected all Opened on first poll, got %s for %d", ev.Type, ev.Ticket)
		}
	}
}

func TestDiffIgnoresVolumeChange(t *testing.T) {
	// A live ticket never changes volume without a new ticket; the diff
	// must not classify it as Modified.
	prev := SnapshotOf([]broker.Position{pos(1, "EURUSD", "1.0", "0", "0")})
	curr := SnapshotOf([]broker.Position{pos(1, "EURUSD", "0.7", "0", "0")})
	if events := Diff(prev, curr); len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestDiffUnchangedProducesNothing(t *testing.T) {
	snap := SnapshotOf([]broker.Position{
		pos(1, "EURUSD", "1.0", "1.1", "1.2"),
		pos(2, "GBPUSD", "0.5", "0", "0"),
	})
	if events := Diff(snap, snap); len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestDiffModifiedCarriesNewLevels(t *testing.T) {
	prev := SnapshotOf([]broker.Position{pos(7, "EURUSD", "1.0", "0", "0")})
	curr := SnapshotOf([]broker.Position{pos(7, "EURUSD", "1.0", "1.2000", "0")})
	events := Diff(prev, curr)
	if len(events) != 1 || events[0].Type != ChangeModified {
		t.Fatalf("expected one Modified, got %+v", events)
	}
	if events[0].StopLoss.String() != "1.2" || !events[0].TakeProfit.IsZero() {
		t.Fatalf("wrong levels: sl=%s tp=%s", events[0].StopLoss, events[0].TakeProfit)
	}
}
