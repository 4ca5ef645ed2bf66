package copier

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trade-copier-go/broker"
	"trade-copier-go/infrastructure/logger"
	"trade-copier-go/metrics"
)

// Settings are the runtime-tunable knobs. They may be swapped between
// cycles by the config watcher; credentials and the sizing strategy
// are start-only.
type Settings struct {
	PollInterval time.Duration
	Deviation    int    // max slippage in points for replayed orders
	Comment      string // traceability label prefix on replayed orders
}

// Journal persists the master->slave mapping across restarts. Upsert
// and Remove are best effort: failures are logged and the loop keeps
// going. A Load failure at startup is fatal: replaying without the
// persisted mapping risks mirroring the same master position twice.
type Journal interface {
	Load() (map[int64]LedgerEntry, error)
	Upsert(masterTicket int64, entry LedgerEntry) error
	Remove(masterTicket int64) error
}

// LoopConfig wires a reconciliation loop.
type LoopConfig struct {
	Session  broker.Session
	Master   broker.Credentials
	Slave    broker.Credentials
	Sizer    *Sizer
	Journal  Journal // optional
	Logger   *logger.Logger
	Settings Settings
	// Symbols lists the instruments to validate the fixed volume
	// against at startup. Required for the fixed sizing strategy.
	Symbols []string
}

// Loop polls the master account at a fixed interval and replays
// position changes onto the slave account. Reconciliation is level
// triggered: every cycle the actionable set is derived from the
// current master snapshot and the ledger, so a failed replay is
// naturally retried on the next cycle without any in-cycle retry.
type Loop struct {
	session broker.Session
	master  broker.Credentials
	slave   broker.Credentials
	sizer   *Sizer
	ledger  *Ledger
	journal Journal
	log     *logger.Logger
	symbols []string

	mu       sync.RWMutex
	settings Settings
	state    State

	prev Snapshot
}

type closeAction struct {
	masterTicket int64
	entry        LedgerEntry
}

type modifyAction struct {
	masterTicket int64
	entry        LedgerEntry
	stopLoss     decimal.Decimal
	takeProfit   decimal.Decimal
}

// NewLoop builds a loop. The session handle is shared between both
// accounts; the loop switches the active account by re-authenticating.
func NewLoop(cfg LoopConfig) *Loop {
	settings := cfg.Settings
	if settings.PollInterval <= 0 {
		settings.PollInterval = time.Second
	}
	return &Loop{
		session:  cfg.Session,
		master:   cfg.Master,
		slave:    cfg.Slave,
		sizer:    cfg.Sizer,
		ledger:   NewLedger(),
		journal:  cfg.Journal,
		log:      cfg.Logger,
		symbols:  cfg.Symbols,
		settings: settings,
		state:    StateIdle,
		prev:     Snapshot{},
	}
}

// State reports the loop's current lifecycle state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Ledger exposes the mapping for inspection (tests, status commands).
func (l *Loop) Ledger() *Ledger { return l.ledger }

// UpdateSettings swaps the runtime-tunable settings; the next cycle
// picks them up.
func (l *Loop) UpdateSettings(s Settings) {
	if s.PollInterval <= 0 {
		s.PollInterval = time.Second
	}
	l.mu.Lock()
	l.settings = s
	l.mu.Unlock()
}

func (l *Loop) currentSettings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	metrics.LoopState.Set(s.gaugeValue())
}

// Run drives the loop until ctx is cancelled (Stopped) or a session
// failure occurs (Fatal). Authentication failures are fatal
// immediately: credentials are operator-fixed and never retried.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.session.Authenticate(ctx, l.master); err != nil {
		l.setState(StateFatal)
		return fmt.Errorf("master login: %w", err)
	}
	l.setState(StateMaster)

	if err := l.validateFixedSizing(ctx); err != nil {
		l.setState(StateFatal)
		return err
	}
	if err := l.restoreJournal(ctx); err != nil {
		l.setState(StateFatal)
		return err
	}

	for {
		if err := l.cycle(ctx); err != nil {
			l.setState(StateFatal)
			return err
		}
		select {
		case <-ctx.Done():
			l.setState(StateStopped)
			return nil
		case <-time.After(l.currentSettings().PollInterval):
		}
	}
}

// validateFixedSizing rejects an invalid operator-supplied fixed
// volume before any replay happens, per symbol, against the slave's
// live constraints.
func (l *Loop) validateFixedSizing(ctx context.Context) error {
	if l.sizer.Strategy() != SizingFixed {
		return nil
	}
	if len(l.symbols) == 0 {
		return fmt.Errorf("fixed sizing requires at least one symbol to validate against")
	}
	if err := l.session.Authenticate(ctx, l.slave); err != nil {
		return fmt.Errorf("switch to slave: %w", err)
	}
	for _, symbol := range l.symbols {
		cons, err := l.session.SymbolConstraints(ctx, symbol)
		if err != nil {
			return fmt.Errorf("constraints for %s: %w", symbol, err)
		}
		if err := l.sizer.ValidateFixed(symbol, cons); err != nil {
			return err
		}
	}
	if err := l.session.Authenticate(ctx, l.master); err != nil {
		return fmt.Errorf("switch to master: %w", err)
	}
	return nil
}

// restoreJournal seeds the ledger with persisted mappings for master
// tickets that are still open; stale rows are pruned. Unmapped master
// positions stay subject to the normal startup adoption.
func (l *Loop) restoreJournal(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}
	entries, err := l.journal.Load()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	positions, err := l.session.Positions(ctx)
	if err != nil {
		return fmt.Errorf("initial position fetch: %w", err)
	}
	open := SnapshotOf(positions)
	live := make(map[int64]LedgerEntry, len(entries))
	for ticket, entry := range entries {
		if _, ok := open[ticket]; ok {
			live[ticket] = entry
			continue
		}
		if err := l.journal.Remove(ticket); err != nil {
			l.log.LogError(err, map[string]interface{}{"master_ticket": ticket, "op": "journal_prune"})
		}
	}
	l.ledger.Restore(live)
	if len(live) > 0 {
		l.log.Info(fmt.Sprintf("restored %d mirrored positions from journal", len(live)))
	}
	return nil
}

// cycle runs one full reconciliation pass. A nil return means the loop
// keeps going; a non-nil return is fatal (session switch failure).
func (l *Loop) cycle(ctx context.Context) error {
	l.setState(StatePolling)

	positions, err := l.session.Positions(ctx)
	if err != nil {
		// Transient fetch failure: skip this cycle, keep the previous
		// snapshot so no change is lost.
		l.log.LogError(err, map[string]interface{}{"op": "poll"})
		l.setState(StateMaster)
		return nil
	}
	curr := SnapshotOf(positions)

	for _, ev := range Diff(l.prev, curr) {
		metrics.ChangeEvents.WithLabelValues(string(ev.Type)).Inc()
		l.log.LogChange(string(ev.Type), ev.Ticket, map[string]interface{}{
			"symbol": ev.Position.Symbol,
			"side":   ev.Position.Side.String(),
			"volume": ev.Position.Volume.String(),
		})
	}

	opens, closes, modifies := l.plan(curr)

	var masterState broker.AccountState
	if len(opens) > 0 && l.sizer.Strategy() == SizingProportional {
		masterState, err = l.session.AccountState(ctx)
		if err != nil {
			// Opens need the master balance; skip them this cycle.
			l.log.LogError(err, map[string]interface{}{"op": "master_account_state"})
			opens = nil
		}
	}

	for _, pos := range opens {
		if err := l.onSlave(ctx, func(c context.Context) { l.replayOpen(c, pos, masterState) }); err != nil {
			return err
		}
	}
	for _, act := range closes {
		if err := l.onSlave(ctx, func(c context.Context) { l.replayClose(c, act) }); err != nil {
			return err
		}
	}
	for _, act := range modifies {
		if err := l.onSlave(ctx, func(c context.Context) { l.replayModify(c, act) }); err != nil {
			return err
		}
	}

	l.prev = curr
	metrics.PollCycles.Inc()
	metrics.MirroredPositions.Set(float64(l.ledger.Len()))
	l.setState(StateMaster)
	return nil
}

// plan derives the actionable set from the current snapshot and the
// ledger. Opens cover both fresh Opened events and earlier replay
// failures: anything open on the master without a ledger entry.
// Closes cover every ledger entry whose master ticket is gone.
// Modifies fire when the master's stops differ from the last levels
// replayed to the slave.
func (l *Loop) plan(curr Snapshot) ([]broker.Position, []closeAction, []modifyAction) {
	var opens []broker.Position
	var closes []closeAction
	var modifies []modifyAction

	for _, ticket := range l.ledger.Tickets() {
		if _, ok := curr[ticket]; !ok {
			entry, _ := l.ledger.Lookup(ticket)
			closes = append(closes, closeAction{masterTicket: ticket, entry: entry})
		}
	}

	for _, ticket := range sortedTickets(curr) {
		pos := curr[ticket]
		entry, ok := l.ledger.Lookup(ticket)
		if !ok {
			opens = append(opens, pos)
			continue
		}
		if !pos.StopLoss.Equal(entry.StopLoss) || !pos.TakeProfit.Equal(entry.TakeProfit) {
			modifies = append(modifies, modifyAction{
				masterTicket: ticket,
				entry:        entry,
				stopLoss:     pos.StopLoss,
				takeProfit:   pos.TakeProfit,
			})
		}
	}
	return opens, closes, modifies
}

// onSlave brackets one replay action with the two session switches.
// A failed switch aborts the remainder of the cycle and is fatal;
// actions already applied stay committed.
func (l *Loop) onSlave(ctx context.Context, fn func(context.Context)) error {
	start := time.Now()
	l.setState(StateReplaying)
	if err := l.session.Authenticate(ctx, l.slave); err != nil {
		return fmt.Errorf("switch to slave: %w", err)
	}
	fn(ctx)
	if err := l.session.Authenticate(ctx, l.master); err != nil {
		return fmt.Errorf("switch to master: %w", err)
	}
	l.setState(StateMaster)
	metrics.ReplayLatency.Observe(time.Since(start).Seconds())
	return nil
}

func (l *Loop) replayOpen(ctx context.Context, pos broker.Position, masterState broker.AccountState) {
	fields := map[string]interface{}{
		"symbol": pos.Symbol,
		"side":   pos.Side.String(),
	}

	cons, err := l.session.SymbolConstraints(ctx, pos.Symbol)
	if err != nil {
		l.log.LogError(err, withTicket(fields, pos.Ticket))
		metrics.IncReplay("open", "error")
		return
	}
	slaveState, err := l.session.AccountState(ctx)
	if err != nil {
		l.log.LogError(err, withTicket(fields, pos.Ticket))
		metrics.IncReplay("open", "error")
		return
	}
	price, err := l.session.CurrentPrice(ctx, pos.Symbol, pos.Side)
	if err != nil {
		l.log.LogError(err, withTicket(fields, pos.Ticket))
		metrics.IncReplay("open", "error")
		return
	}

	volume, err := l.sizer.Volume(pos, masterState, slaveState, cons, price)
	if err != nil {
		if se, ok := err.(*SizingError); ok {
			metrics.SizingSkips.WithLabelValues(string(se.Reason)).Inc()
		}
		l.log.LogError(err, withTicket(fields, pos.Ticket))
		metrics.IncReplay("open", "skipped")
		return
	}

	settings := l.currentSettings()
	slaveTicket, err := l.session.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Volume:    volume,
		Price:     price,
		Deviation: settings.Deviation,
		Comment:   orderComment(settings.Comment),
	})
	if err != nil {
		fields["volume"] = volume.String()
		l.log.LogError(err, withTicket(fields, pos.Ticket))
		metrics.IncReplay("open", "failed")
		return
	}

	l.ledger.RecordOpen(pos.Ticket, slaveTicket)
	l.journalUpsert(pos.Ticket)
	metrics.IncReplay("open", "ok")
	fields["slave_ticket"] = slaveTicket
	fields["volume"] = volume.String()
	l.log.LogReplay("open", pos.Ticket, fields)
}

func (l *Loop) replayClose(ctx context.Context, act closeAction) {
	if err := l.session.ClosePosition(ctx, act.entry.SlaveTicket); err != nil {
		l.log.LogError(err, map[string]interface{}{
			"master_ticket": act.masterTicket,
			"slave_ticket":  act.entry.SlaveTicket,
		})
		metrics.IncReplay("close", "failed")
		return
	}
	l.ledger.RecordClose(act.masterTicket)
	l.journalRemove(act.masterTicket)
	metrics.IncReplay("close", "ok")
	l.log.LogReplay("close", act.masterTicket, map[string]interface{}{
		"slave_ticket": act.entry.SlaveTicket,
	})
}

func (l *Loop) replayModify(ctx context.Context, act modifyAction) {
	err := l.session.ModifyStops(ctx, act.entry.SlaveTicket, act.stopLoss, act.takeProfit)
	if err != nil {
		l.log.LogError(err, map[string]interface{}{
			"master_ticket": act.masterTicket,
			"slave_ticket":  act.entry.SlaveTicket,
			"stop_loss":     act.stopLoss.String(),
			"take_profit":   act.takeProfit.String(),
		})
		metrics.IncReplay("modify", "failed")
		return
	}
	l.ledger.RecordModify(act.masterTicket, act.stopLoss, act.takeProfit)
	l.journalUpsert(act.masterTicket)
	metrics.IncReplay("modify", "ok")
	l.log.LogReplay("modify", act.masterTicket, map[string]interface{}{
		"slave_ticket": act.entry.SlaveTicket,
		"stop_loss":    act.stopLoss.String(),
		"take_profit":  act.takeProfit.String(),
	})
}

func (l *Loop) journalUpsert(masterTicket int64) {
	if l.journal == nil {
		return
	}
	entry, ok := l.ledger.Lookup(masterTicket)
	if !ok {
		return
	}
	if err := l.journal.Upsert(masterTicket, entry); err != nil {
		l.log.LogError(err, map[string]interface{}{"master_ticket": masterTicket, "op": "journal_upsert"})
	}
}

func (l *Loop) journalRemove(masterTicket int64) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Remove(masterTicket); err != nil {
		l.log.LogError(err, map[string]interface{}{"master_ticket": masterTicket, "op": "journal_remove"})
	}
}

// orderComment appends a short random id to the configured label so
// each replayed order can be traced back to one replay attempt.
func orderComment(prefix string) string {
	id := uuid.NewString()[:8]
	if prefix == "" {
		return id
	}
	return prefix + " " + id
}

func withTicket(fields map[string]interface{}, ticket int64) map[string]interface{} {
	fields["master_ticket"] = ticket
	return fields
}

func sortedTickets(s Snapshot) []int64 {
	out := make([]int64, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
