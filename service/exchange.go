// Package service is the single write path into the exchange.
//
// Every command runs under one lock inside a ledger transaction. The
// command is journaled as the last step of that transaction, so a journal
// failure rolls the command back. Events emitted by a committed command go
// to the outbox for the broadcaster.
package service

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"tradebook/domain/amm"
	"tradebook/domain/chain"
	"tradebook/domain/escrow"
	"tradebook/domain/event"
	"tradebook/domain/fault"
	"tradebook/domain/incinerator"
	"tradebook/domain/market"
	"tradebook/domain/orderbook"
	"tradebook/domain/staking"
	"tradebook/infra/metrics"
	"tradebook/infra/sequence"
	entrywal "tradebook/infra/wal/entry"
	exitwal "tradebook/infra/wal/exit"
	"tradebook/snapshot"
)

var (
	WETH               = TokenAddress("WETH")
	EscrowAccount      = chain.Derive("tradebook/orderbook")
	DeskAccount        = chain.Derive("tradebook/market")
	IncineratorAccount = chain.Derive("tradebook/incinerator")
)

var (
	ErrUnknownStaker  = fault.New(fault.NotFound, "unknown staker")
	ErrSnapshotLayout = errors.New("snapshot does not match exchange layout")
)

// TokenAddress is the ledger address of the token registered as symbol.
func TokenAddress(symbol string) common.Address {
	return chain.Derive("token/" + strings.ToUpper(symbol))
}

func stakerAddress(n int) common.Address {
	return chain.Derive(fmt.Sprintf("tradebook/staker/%d", n))
}

// Options fix the genesis state. They must not change between runs that
// share a journal.
type Options struct {
	Owner        common.Address
	Exchange     orderbook.Config
	StakeToken   string
	LockPeriod   time.Duration
	BurnToken    string
	BurnInterval time.Duration
	Genesis      time.Time
}

func DefaultOptions() Options {
	return Options{
		Exchange:     orderbook.DefaultConfig(),
		StakeToken:   "TRADE",
		LockPeriod:   staking.DefaultLockPeriod,
		BurnToken:    "TRADE",
		BurnInterval: incinerator.DefaultInterval,
		Genesis:      time.Unix(0, 0).UTC(),
	}
}

// Deps are optional collaborators. Without a journal or outbox the
// exchange runs in memory only.
type Deps struct {
	Journal *entrywal.WAL
	Outbox  *exitwal.ExitWAL
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

type Exchange struct {
	mu   sync.Mutex
	opts Options

	clock       *chain.ManualClock
	now         func() time.Time
	state       *chain.State
	router      *amm.Router
	engine      *orderbook.Engine
	stakers     map[common.Address]*staking.Staker
	stakerOrder []common.Address
	incinerator *incinerator.Incinerator
	desk        *market.Desk
	events      *event.Buffer

	seq     *sequence.Sequencer
	journal *entrywal.WAL
	outbox  *exitwal.ExitWAL
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func New(opts Options, d Deps) (*Exchange, error) {
	if d.Now == nil {
		d.Now = time.Now
	}
	clock := chain.NewManualClock(opts.Genesis)
	state := chain.NewState(clock)
	events := &event.Buffer{}

	router, err := amm.New(state, WETH)
	if err != nil {
		return nil, errors.Wrap(err, "genesis router")
	}
	stakeToken := TokenAddress(opts.StakeToken)
	burnToken := TokenAddress(opts.BurnToken)
	for _, sym := range []string{opts.StakeToken, opts.BurnToken} {
		if _, ok := state.Token(TokenAddress(sym)); ok {
			continue
		}
		if err := state.RegisterToken(TokenAddress(sym), strings.ToUpper(sym), 0); err != nil {
			return nil, errors.Wrapf(err, "genesis token %s", sym)
		}
	}

	x := &Exchange{
		opts:    opts,
		clock:   clock,
		now:     d.Now,
		state:   state,
		router:  router,
		stakers: make(map[common.Address]*staking.Staker),
		events:  events,
		seq:     sequence.New(0),
		journal: d.Journal,
		outbox:  d.Outbox,
		metrics: d.Metrics,
		log:     d.Log.With().Str("module", "service").Logger(),
	}
	first := x.addStaker(stakeToken)

	x.incinerator = incinerator.New(state, router, IncineratorAccount, burnToken, opts.BurnInterval, events, d.Log)
	x.engine, err = orderbook.New(orderbook.Deps{
		State:  state,
		Escrow: escrow.New(state, EscrowAccount),
		Router: router,
		Burner: x.incinerator,
		Staker: first,
		Owner:  opts.Owner,
		Config: opts.Exchange,
		Events: events,
	})
	if err != nil {
		return nil, errors.Wrap(err, "genesis engine")
	}
	x.desk = market.New(state, DeskAccount, router, x.engine, events)
	return x, nil
}

func (x *Exchange) addStaker(stakeToken common.Address) *staking.Staker {
	addr := stakerAddress(len(x.stakerOrder))
	s := staking.New(x.state, addr, staking.Config{StakeToken: stakeToken, LockPeriod: x.opts.LockPeriod}, x.events)
	x.stakers[addr] = s
	x.stakerOrder = append(x.stakerOrder, addr)
	return s
}

// exec runs cmd as the next committed command.
func (x *Exchange) exec(cmd *Command) (any, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	start := time.Now()
	at := x.now().UTC()
	res, err := x.commit(cmd, at)
	x.observe(cmd, res, err, time.Since(start))
	if err != nil {
		x.log.Debug().Err(err).Stringer("command", cmd.Type).Str("caller", cmd.Caller.Hex()).Msg("rejected")
		return nil, err
	}
	x.logCommitted(cmd, res)
	return res, nil
}

// logCommitted logs the order or stake account a committed command touched.
func (x *Exchange) logCommitted(cmd *Command, res any) {
	ev := x.log.Debug()
	if !ev.Enabled() {
		return
	}
	ev = ev.Stringer("command", cmd.Type).Uint64("seq", x.seq.Current()).Str("caller", cmd.Caller.Hex())
	switch cmd.Type {
	case entrywal.RecordPlace, entrywal.RecordUpdate, entrywal.RecordCancel, entrywal.RecordExecute:
		id := cmd.u64(0)
		if placed, ok := res.(uint64); ok {
			id = placed
		}
		if o, err := x.engine.Order(id); err == nil {
			ev = ev.Object("order", &o)
		}
	case entrywal.RecordStake, entrywal.RecordWithdraw, entrywal.RecordPayout:
		if s, err := x.ledger(cmd.addr(0)); err == nil {
			if a, ok := s.Account(cmd.Caller); ok {
				ev = ev.Str("ledger", s.Address().Hex()).Object("account", a)
			}
		}
	}
	ev.Msg("committed")
}

func (x *Exchange) commit(cmd *Command, at time.Time) (res any, err error) {
	x.clock.Set(at)
	var seq uint64
	err = x.state.Atomic(func() error {
		r, err := x.apply(cmd)
		if err != nil {
			return err
		}
		res = r
		seq = x.seq.Next()
		if x.journal == nil {
			return nil
		}
		if err := x.journal.Append(entrywal.NewRecord(cmd.Type, seq, at, cmd.Marshal())); err != nil {
			return errors.Mark(errors.Wrap(err, "journal"), fault.External)
		}
		return nil
	})
	evs := x.events.Drain()
	if err != nil {
		return nil, err
	}
	// The command is durable; a lost outbox write is rebuilt by Replay.
	if err := x.publish(seq, at, evs); err != nil {
		x.log.Error().Err(err).Uint64("seq", seq).Int("events", len(evs)).Msg("outbox write failed")
	}
	return res, nil
}

// eventSeq numbers the i-th event of command seq. A command emits far
// fewer than 1024 events.
func eventSeq(seq uint64, i int) uint64 { return seq<<10 | uint64(i) }

// publish stores the events of command seq in the outbox.
func (x *Exchange) publish(seq uint64, at time.Time, evs []event.Event) error {
	if x.outbox == nil || len(evs) == 0 {
		return nil
	}
	entries := make([]exitwal.Entry, 0, len(evs))
	for i, e := range evs {
		b, err := event.Marshal(eventSeq(seq, i), at, e)
		if err != nil {
			x.log.Error().Err(err).Str("event", e.Name()).Msg("encode event")
			continue
		}
		entries = append(entries, exitwal.Entry{Seq: eventSeq(seq, i), Key: e.Name(), Payload: b})
	}
	return x.outbox.PutCommand(seq, entries)
}

func (x *Exchange) observe(cmd *Command, res any, err error, took time.Duration) {
	if x.metrics == nil {
		return
	}
	name := cmd.Type.String()
	result := "ok"
	if err != nil {
		result = "error"
		if k := fault.Kind(err); k != nil {
			result = strings.ReplaceAll(k.Error(), " ", "_")
		}
	}
	x.metrics.Commands.WithLabelValues(name, result).Inc()
	x.metrics.CommandLatency.WithLabelValues(name).Observe(took.Seconds())
	x.metrics.JournalSeq.Set(float64(x.seq.Current()))
	if err != nil {
		return
	}

	switch cmd.Type {
	case entrywal.RecordPlace:
		x.metrics.OrdersPlaced.WithLabelValues(orderbook.SwapType(cmd.u64(1)).String()).Inc()
	case entrywal.RecordCancel:
		if o, err := x.engine.Order(cmd.u64(0)); err == nil {
			x.metrics.OrdersCancelled.WithLabelValues(o.SwapType.String()).Inc()
		}
	case entrywal.RecordExecute:
		if o, err := x.engine.Order(cmd.u64(0)); err == nil {
			x.metrics.OrdersExecuted.WithLabelValues(o.SwapType.String()).Inc()
		}
		if ex, ok := res.(orderbook.Execution); ok {
			f, _ := new(big.Float).SetInt(ex.NativeFee).Float64()
			x.metrics.FeesCollected.Add(f)
		}
	}
	x.metrics.ActiveOrders.Set(float64(x.engine.ActiveOrdersLength()))
	if s, ok := x.stakers[x.engine.Staker().Address()]; ok {
		f, _ := new(big.Float).SetInt(s.TotalStake()).Float64()
		x.metrics.TotalStake.Set(f)
	}
}

// ---- Snapshots ----

// Snapshot captures the state after the last committed command.
func (x *Exchange) Snapshot() *snapshot.State {
	x.mu.Lock()
	defer x.mu.Unlock()

	s := &snapshot.State{
		Seq:          x.seq.Current(),
		Created:      x.now().UTC(),
		Chain:        x.state.Export(),
		Router:       x.router.Export(),
		Book:         x.engine.Export(),
		ActiveStaker: x.engine.Staker().Address(),
		Incinerator:  x.incinerator.Export(),
		Desk:         x.desk.Address(),
	}
	for _, a := range x.stakerOrder {
		s.Stakers = append(s.Stakers, x.stakers[a].Export())
	}
	return s
}

// Restore replaces the whole state with s. Journal records up to s.Seq
// are then considered applied.
func (x *Exchange) Restore(s *snapshot.State) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if s.Desk != x.desk.Address() {
		return errors.Wrapf(ErrSnapshotLayout, "desk %s", s.Desk.Hex())
	}
	stakers := make(map[common.Address]*staking.Staker, len(s.Stakers))
	order := make([]common.Address, 0, len(s.Stakers))
	for _, snap := range s.Stakers {
		st := staking.New(x.state, snap.Address, snap.Config, x.events)
		st.Restore(snap)
		stakers[snap.Address] = st
		order = append(order, snap.Address)
	}
	active, ok := stakers[s.ActiveStaker]
	if !ok {
		return errors.Wrapf(ErrSnapshotLayout, "active staker %s missing", s.ActiveStaker.Hex())
	}

	x.state.Restore(s.Chain)
	x.router.Restore(s.Router)
	x.stakers, x.stakerOrder = stakers, order
	x.engine.Restore(s.Book, active)
	x.incinerator.Restore(s.Incinerator)
	x.seq.Reset(s.Seq)
	x.log.Info().Uint64("seq", s.Seq).Int("orders", len(s.Book.Orders)).Msg("snapshot restored")
	return nil
}

// LastSeq is the seq of the last committed command.
func (x *Exchange) LastSeq() uint64 { return x.seq.Current() }
