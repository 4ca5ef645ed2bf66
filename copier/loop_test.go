package copier

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-copier-go/broker"
	"trade-copier-go/infrastructure/logger"
)

const (
	masterLogin = 1001
	slaveLogin  = 2002
)

type modifyCall struct {
	ticket int64
	sl, tp decimal.Decimal
}

// fakeSession simulates the shared terminal handle: the active account
// is whichever login authenticated last.
type fakeSession struct {
	active     int64
	failAuth   map[int64]bool
	positions  []broker.Position // master account
	cons       broker.SymbolConstraints
	masterAcct broker.AccountState
	slaveAcct  broker.AccountState
	price      decimal.Decimal

	placeErr  error
	modifyErr error
	closeErr  error

	nextTicket int64
	placed     []broker.OrderRequest
	closed     []int64
	modified   []modifyCall
	consCalls  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		failAuth:   make(map[int64]bool),
		cons:       eurusdConstraints(),
		masterAcct: account("10000", "1000000"),
		slaveAcct:  account("2000", "1000000"),
		price:      d("1.1000"),
		nextTicket: 9000,
	}
}

func (f *fakeSession) Authenticate(_ context.Context, creds broker.Credentials) error {
	if f.failAuth[creds.Login] {
		return &broker.AuthError{Login: creds.Login, Server: creds.Server, Reason: "invalid credentials"}
	}
	f.active = creds.Login
	return nil
}

func (f *fakeSession) Positions(context.Context) ([]broker.Position, error) {
	return f.positions, nil
}

func (f *fakeSession) SymbolConstraints(context.Context, string) (broker.SymbolConstraints, error) {
	f.consCalls++
	return f.cons, nil
}

func (f *fakeSession) AccountState(context.Context) (broker.AccountState, error) {
	if f.active == masterLogin {
		return f.masterAcct, nil
	}
	return f.slaveAcct, nil
}

func (f *fakeSession) CurrentPrice(context.Context, string, broker.Side) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeSession) PlaceOrder(_ context.Context, req broker.OrderRequest) (int64, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return 0, f.placeErr
	}
	f.nextTicket++
	return f.nextTicket, nil
}

func (f *fakeSession) ClosePosition(_ context.Context, ticket int64) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, ticket)
	return nil
}

func (f *fakeSession) ModifyStops(_ context.Context, ticket int64, sl, tp decimal.Decimal) error {
	if f.modifyErr != nil {
		return f.modifyErr
	}
	f.modified = append(f.modified, modifyCall{ticket: ticket, sl: sl, tp: tp})
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func newTestLoop(t *testing.T, fake *fakeSession, strategy SizingStrategy) *Loop {
	t.Helper()
	fixed := decimal.Zero
	if strategy == SizingFixed {
		fixed = d("0.10")
	}
	sizer, err := NewSizer(strategy, fixed)
	require.NoError(t, err)
	fake.active = masterLogin
	return NewLoop(LoopConfig{
		Session:  fake,
		Master:   broker.Credentials{Login: masterLogin, Server: "demo"},
		Slave:    broker.Credentials{Login: slaveLogin, Server: "demo"},
		Sizer:    sizer,
		Logger:   testLogger(t),
		Settings: Settings{Deviation: 20, Comment: "Copied trade"},
		Symbols:  []string{"EURUSD"},
	})
}

func TestLoopOpensProportionally(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	loop := newTestLoop(t, fake, SizingProportional)

	require.NoError(t, loop.cycle(context.Background()))

	require.Len(t, fake.placed, 1)
	assert.True(t, fake.placed[0].Volume.Equal(d("0.20")), "got %s", fake.placed[0].Volume)
	assert.Equal(t, "EURUSD", fake.placed[0].Symbol)
	assert.Equal(t, 20, fake.placed[0].Deviation)
	assert.Contains(t, fake.placed[0].Comment, "Copied trade")

	entry, ok := loop.Ledger().Lookup(1)
	require.True(t, ok)
	assert.Equal(t, int64(9001), entry.SlaveTicket)
	// Session ends back on the master account.
	assert.Equal(t, int64(masterLogin), fake.active)
}

func TestLoopSecondCycleIsIdempotent(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	loop := newTestLoop(t, fake, SizingProportional)

	require.NoError(t, loop.cycle(context.Background()))
	require.NoError(t, loop.cycle(context.Background()))

	assert.Len(t, fake.placed, 1, "unchanged master state must replay nothing")
	assert.Empty(t, fake.closed)
	assert.Empty(t, fake.modified)
	assert.Equal(t, 1, loop.Ledger().Len())
}

func TestLoopRetriesFailedOpenNextCycle(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	fake.placeErr = &broker.OrderError{Op: "place", Symbol: "EURUSD", Retcode: 10019, Reason: "no money"}
	loop := newTestLoop(t, fake, SizingProportional)

	require.NoError(t, loop.cycle(context.Background()))
	assert.Len(t, fake.placed, 1)
	assert.Equal(t, 0, loop.Ledger().Len(), "failed placement must not create an entry")

	// Master state unchanged; the ledger-absence scan re-attempts once.
	fake.placeErr = nil
	require.NoError(t, loop.cycle(context.Background()))
	assert.Len(t, fake.placed, 2)
	assert.Equal(t, 1, loop.Ledger().Len())

	// And never again once mirrored.
	require.NoError(t, loop.cycle(context.Background()))
	assert.Len(t, fake.placed, 2)
}

func TestLoopClosesWhenMasterCloses(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	loop := newTestLoop(t, fake, SizingProportional)
	require.NoError(t, loop.cycle(context.Background()))
	entry, _ := loop.Ledger().Lookup(1)

	fake.positions = nil
	require.NoError(t, loop.cycle(context.Background()))

	require.Len(t, fake.closed, 1)
	assert.Equal(t, entry.SlaveTicket, fake.closed[0])
	assert.Equal(t, 0, loop.Ledger().Len())

	// A further cycle with the ticket absent everywhere does nothing.
	require.NoError(t, loop.cycle(context.Background()))
	assert.Len(t, fake.closed, 1)
}

func TestLoopRetriesFailedCloseNextCycle(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	loop := newTestLoop(t, fake, SizingProportional)
	require.NoError(t, loop.cycle(context.Background()))

	fake.positions = nil
	fake.closeErr = &broker.OrderError{Op: "close", Ticket: 9001, Retcode: 10004, Reason: "requote"}
	require.NoError(t, loop.cycle(context.Background()))
	assert.Equal(t, 1, loop.Ledger().Len(), "failed close must keep the entry")

	fake.closeErr = nil
	require.NoError(t, loop.cycle(context.Background()))
	require.Len(t, fake.closed, 1)
	assert.Equal(t, 0, loop.Ledger().Len())
}

func TestLoopReplaysStopModification(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	loop := newTestLoop(t, fake, SizingProportional)
	require.NoError(t, loop.cycle(context.Background()))

	modified := masterPos("1.0")
	modified.StopLoss = d("1.2000")
	fake.positions = []broker.Position{modified}
	require.NoError(t, loop.cycle(context.Background()))

	require.Len(t, fake.modified, 1)
	assert.Equal(t, int64(9001), fake.modified[0].ticket)
	assert.True(t, fake.modified[0].sl.Equal(d("1.2000")))
	assert.True(t, fake.modified[0].tp.IsZero())

	// Same levels again: nothing to replay.
	require.NoError(t, loop.cycle(context.Background()))
	assert.Len(t, fake.modified, 1)
}

func TestLoopRetriesFailedModifyNextCycle(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	loop := newTestLoop(t, fake, SizingProportional)
	require.NoError(t, loop.cycle(context.Background()))

	modified := masterPos("1.0")
	modified.StopLoss = d("1.2000")
	fake.positions = []broker.Position{modified}
	fake.modifyErr = &broker.OrderError{Op: "modify", Ticket: 9001, Retcode: 10006, Reason: "rejected"}
	require.NoError(t, loop.cycle(context.Background()))
	assert.Empty(t, fake.modified)

	fake.modifyErr = nil
	require.NoError(t, loop.cycle(context.Background()))
	require.Len(t, fake.modified, 1)
}

func TestLoopSizingSkipRetriedEachCycle(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	fake.slaveAcct = account("2000", "5") // not enough margin for anything
	loop := newTestLoop(t, fake, SizingProportional)

	require.NoError(t, loop.cycle(context.Background()))
	require.NoError(t, loop.cycle(context.Background()))

	assert.Empty(t, fake.placed, "sizing failure must not place orders")
	assert.Equal(t, 0, loop.Ledger().Len())
	assert.GreaterOrEqual(t, fake.consCalls, 2, "skip must be re-evaluated every cycle")
}

func TestLoopFatalOnSlaveAuthFailure(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	fake.failAuth[slaveLogin] = true
	loop := newTestLoop(t, fake, SizingProportional)

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatal, loop.State())
	assert.Empty(t, fake.placed)
}

func TestLoopFatalOnMasterAuthFailure(t *testing.T) {
	fake := newFakeSession()
	fake.failAuth[masterLogin] = true
	loop := newTestLoop(t, fake, SizingProportional)

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatal, loop.State())
}

func TestLoopStopsOnCancel(t *testing.T) {
	fake := newFakeSession()
	loop := newTestLoop(t, fake, SizingProportional)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, StateStopped, loop.State())
}

func TestLoopFixedSizingValidatedAtStartup(t *testing.T) {
	fake := newFakeSession()
	fake.cons.VolumeStep = d("0.03") // 0.10 not aligned
	loop := newTestLoop(t, fake, SizingFixed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := loop.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StateFatal, loop.State())
	assert.Empty(t, fake.placed)
}

type mapJournal struct {
	entries map[int64]LedgerEntry
	loadErr error
	upserts int
	removes []int64
}

func (m *mapJournal) Load() (map[int64]LedgerEntry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.entries, nil
}
func (m *mapJournal) Upsert(ticket int64, e LedgerEntry) error {
	m.entries[ticket] = e
	m.upserts++
	return nil
}
func (m *mapJournal) Remove(ticket int64) error {
	delete(m.entries, ticket)
	m.removes = append(m.removes, ticket)
	return nil
}

func TestLoopFatalOnJournalLoadFailure(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	loop := newTestLoop(t, fake, SizingProportional)
	loop.journal = &mapJournal{loadErr: errors.New("disk gone")}

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatal, loop.State())
	assert.Empty(t, fake.placed, "nothing may replay without the persisted mapping")
}

func TestLoopRestoresJournalAndPrunesStaleRows(t *testing.T) {
	fake := newFakeSession()
	fake.positions = []broker.Position{masterPos("1.0")}
	loop := newTestLoop(t, fake, SizingProportional)
	j := &mapJournal{entries: map[int64]LedgerEntry{
		1:  {SlaveTicket: 9001},
		99: {SlaveTicket: 9099}, // master ticket no longer open
	}}
	loop.journal = j

	require.NoError(t, loop.restoreJournal(context.Background()))
	assert.Equal(t, 1, loop.Ledger().Len())
	assert.Equal(t, []int64{99}, j.removes)

	// Restored mapping means no re-open on the next cycle.
	require.NoError(t, loop.cycle(context.Background()))
	assert.Empty(t, fake.placed)
}
