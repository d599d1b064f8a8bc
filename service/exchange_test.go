package service

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebook/domain/chain"
	"tradebook/domain/fault"
	"tradebook/domain/orderbook"
	"tradebook/domain/staking"
	"tradebook/infra/metrics"
	entrywal "tradebook/infra/wal/entry"
	exitwal "tradebook/infra/wal/exit"
	"tradebook/snapshot"
)

var (
	owner    = chain.Derive("owner")
	maker    = chain.Derive("maker")
	executor = chain.Derive("executor")
	staker1  = chain.Derive("staker")
	provider = chain.Derive("provider")
	dai      = TokenAddress("DAI")
	trade    = TokenAddress("TRADE")
)

func n(v int64) *big.Int { return big.NewInt(v) }

type fixture struct {
	t   testing.TB
	now time.Time
	x   *Exchange
}

func newFixture(t testing.TB, d Deps) *fixture {
	t.Helper()
	d.Log = zerolog.Nop()
	return buildFixture(t, d)
}

func buildFixture(t testing.TB, d Deps) *fixture {
	t.Helper()
	f := &fixture{t: t, now: time.Unix(1_700_000_000, 0).UTC()}
	opts := DefaultOptions()
	opts.Owner = owner
	d.Now = func() time.Time { return f.now }
	x, err := New(opts, d)
	require.NoError(t, err)
	f.x = x
	return f
}

func (f *fixture) tick(d time.Duration) { f.now = f.now.Add(d) }

// seed builds a WETH/DAI pool, a staker and a funded maker.
func (f *fixture) seed() {
	t := f.t
	t.Helper()
	x := f.x
	addr, err := x.RegisterToken(owner, "DAI", 0)
	require.NoError(t, err)
	require.Equal(t, dai, addr)

	require.NoError(t, x.Fund(owner, provider, n(1_000_000_000)))
	require.NoError(t, x.Mint(owner, dai, provider, n(1_000_000_000)))
	require.NoError(t, x.AddLiquidity(provider, WETH, dai, n(100_000_000), n(100_000_000)))
	f.tick(time.Second)

	require.NoError(t, x.Mint(owner, trade, staker1, n(1000)))
	require.NoError(t, x.Approve(staker1, trade, stakerAddress(0), n(1000)))
	require.NoError(t, x.Stake(staker1, common.Address{}, n(100)))
	f.tick(time.Second)

	require.NoError(t, x.Fund(owner, maker, n(10_000_000)))
	require.NoError(t, x.Fund(owner, executor, n(1)))
}

func (f *fixture) placeEthForDai(amountIn, amountOut int64) uint64 {
	f.t.Helper()
	id, err := f.x.Place(maker, orderbook.PlaceParams{
		OrderType:         orderbook.Limit,
		SwapType:          orderbook.EthForTokens,
		TokenIn:           WETH,
		TokenOut:          dai,
		AmountInOffered:   n(amountIn),
		AmountOutExpected: n(amountOut),
		ExecutorFee:       n(500),
	}, n(amountIn+500))
	require.NoError(f.t, err)
	return id
}

func TestPlaceExecuteThroughService(t *testing.T) {
	f := newFixture(t, Deps{Metrics: metrics.New()})
	f.seed()

	id := f.placeEthForDai(100_000, 90_000)
	assert.Equal(t, uint64(0), id)
	orders, total := f.x.ActiveOrders(0, 0)
	assert.Equal(t, 1, total)
	assert.Equal(t, maker, orders[0].Maker)

	ids, err := f.x.OrdersForAddress(maker)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids)

	x, err := f.x.Execute(executor, id)
	require.NoError(t, err)
	assert.Equal(t, "200", x.Fee.String())
	assert.Equal(t, "501", f.x.Balance(common.Address{}, executor).String())
	assert.Equal(t, x.AmountOut.String(), f.x.Balance(dai, maker).String())

	info, err := f.x.StakeInfo(common.Address{}, staker1)
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, "80", info.Owed.String())

	report, err := f.x.Audit()
	require.NoError(t, err)
	assert.Zero(t, report.ActiveOrders)
	assert.Equal(t, "120", report.BurnBatch.String())
}

func TestCommittedCommandsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	f := buildFixture(t, Deps{Log: zerolog.New(&buf).Level(zerolog.DebugLevel)})
	f.seed()
	buf.Reset()

	f.placeEthForDai(100_000, 90_000)
	assert.Contains(t, buf.String(), `"command":"place"`)
	assert.Contains(t, buf.String(), `"order":{"id":0,"orderType":"LIMIT"`)

	buf.Reset()
	f.tick(staking.DefaultLockPeriod)
	_, err := f.x.Payout(staker1, common.Address{})
	assert.Error(t, err)
	assert.Contains(t, buf.String(), `"message":"rejected"`)
}

func TestRejectedCommandLeavesNoTrace(t *testing.T) {
	dir := t.TempDir()
	journal, err := entrywal.Open(entrywal.Config{Dir: dir})
	require.NoError(t, err)
	f := newFixture(t, Deps{Journal: journal})
	f.seed()
	before := f.x.LastSeq()

	_, err = f.x.Place(maker, orderbook.PlaceParams{
		SwapType:          orderbook.EthForTokens,
		TokenIn:           WETH,
		TokenOut:          dai,
		AmountInOffered:   n(1000),
		AmountOutExpected: n(1),
		ExecutorFee:       n(1),
	}, n(5))
	assert.True(t, errors.Is(err, orderbook.ErrValueMismatch))
	assert.True(t, errors.Is(err, fault.Validation))
	assert.Equal(t, before, f.x.LastSeq())

	err = f.x.Mint(maker, dai, maker, n(1))
	assert.True(t, errors.Is(err, orderbook.ErrNotOwner))
	assert.Equal(t, before, f.x.LastSeq())
	require.NoError(t, journal.Close())
}

func TestPayoutWaitsForTimelock(t *testing.T) {
	f := newFixture(t, Deps{})
	f.seed()
	id := f.placeEthForDai(100_000, 1)
	_, err := f.x.Execute(executor, id)
	require.NoError(t, err)

	_, err = f.x.Payout(staker1, common.Address{})
	assert.True(t, errors.Is(err, staking.ErrStakeLocked))

	f.tick(staking.DefaultLockPeriod)
	before := f.x.Balance(common.Address{}, staker1)
	paid, err := f.x.Payout(staker1, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, "80", paid.String())
	assert.Equal(t, new(big.Int).Add(before, paid).String(), f.x.Balance(common.Address{}, staker1).String())

	info, err := f.x.StakeInfo(common.Address{}, staker1)
	require.NoError(t, err)
	assert.Equal(t, "100", info.Principal.String())
	assert.True(t, info.Timelock.Equal(f.now.Add(staking.DefaultLockPeriod)))
}

func TestDeployAndSwitchStaker(t *testing.T) {
	f := newFixture(t, Deps{})
	f.seed()

	_, err := f.x.DeployStaker(maker)
	assert.True(t, errors.Is(err, orderbook.ErrNotOwner))

	next, err := f.x.DeployStaker(owner)
	require.NoError(t, err)
	assert.Equal(t, stakerAddress(1), next)
	assert.Equal(t, []common.Address{stakerAddress(0), next}, f.x.Stakers())

	err = f.x.UpdateStaker(owner, chain.Derive("nowhere"))
	assert.True(t, errors.Is(err, ErrUnknownStaker))
	require.NoError(t, f.x.UpdateStaker(owner, next))

	// fees now accrue in the reward pool until someone stakes in the new ledger
	id := f.placeEthForDai(100_000, 1)
	_, err = f.x.Execute(executor, id)
	require.NoError(t, err)
	report, err := f.x.Audit()
	require.NoError(t, err)
	assert.Equal(t, next, report.ActiveStaker)
	assert.Equal(t, "80", report.RewardPool.String())

	// the old ledger keeps working for withdrawals
	f.tick(staking.DefaultLockPeriod)
	principal, _, err := f.x.Withdraw(staker1, stakerAddress(0))
	require.NoError(t, err)
	assert.Equal(t, "100", principal.String())
}

func TestMarketDeskThroughService(t *testing.T) {
	f := newFixture(t, Deps{})
	f.seed()

	fill, err := f.x.MarketOrder(maker, orderbook.EthForTokens, []common.Address{WETH, dai}, n(100_000), n(0), n(100_000))
	require.NoError(t, err)
	assert.Equal(t, "200", fill.Fee.String())

	burn, reward, err := f.x.StakeAndBurn(executor)
	require.NoError(t, err)
	assert.Equal(t, "120", burn.String())
	assert.Equal(t, "80", reward.String())
}

func TestEventsReachOutbox(t *testing.T) {
	out, err := exitwal.Open(t.TempDir())
	require.NoError(t, err)
	defer out.Close()

	f := newFixture(t, Deps{Outbox: out})
	f.seed()
	f.placeEthForDai(100_000, 1)

	var names []string
	require.NoError(t, out.ScanByState(exitwal.StateNew, func(rec exitwal.ExitRecord) error {
		names = append(names, rec.Key)
		return nil
	}))
	assert.Equal(t, []string{"Stake", "OrderPlaced"}, names)
}

func outboxKeys(t *testing.T, out *exitwal.ExitWAL) map[uint64]string {
	t.Helper()
	keys := map[uint64]string{}
	require.NoError(t, out.ScanByState(exitwal.StateNew, func(rec exitwal.ExitRecord) error {
		keys[rec.Seq] = rec.Key
		return nil
	}))
	return keys
}

func TestReplayRebuildsLostOutboxWrites(t *testing.T) {
	walDir := t.TempDir()
	journal, err := entrywal.Open(entrywal.Config{Dir: walDir})
	require.NoError(t, err)
	out, err := exitwal.Open(t.TempDir())
	require.NoError(t, err)
	defer out.Close()

	f := newFixture(t, Deps{Journal: journal, Outbox: out})
	f.seed()
	stored := outboxKeys(t, f.x.outbox)
	mark, err := out.Mark()
	require.NoError(t, err)
	require.NotZero(t, mark)
	require.Contains(t, stored, eventSeq(mark, 0))

	// The process dies after journaling the order but before its outbox write.
	f.x.outbox = nil
	f.placeEthForDai(100_000, 1)
	placed := f.x.LastSeq()
	require.NoError(t, journal.Close())
	assert.Equal(t, stored, outboxKeys(t, out))

	g := newFixture(t, Deps{Outbox: out})
	_, err = g.x.Replay(walDir)
	require.NoError(t, err)

	want := map[uint64]string{eventSeq(placed, 0): "OrderPlaced"}
	for seq, key := range stored {
		want[seq] = key
	}
	assert.Equal(t, want, outboxKeys(t, out))
	mark, err = out.Mark()
	require.NoError(t, err)
	assert.Equal(t, placed, mark)

	// A second recovery finds nothing missing.
	h := newFixture(t, Deps{Outbox: out})
	_, err = h.x.Replay(walDir)
	require.NoError(t, err)
	assert.Equal(t, want, outboxKeys(t, out))
}

func stateJSON(t *testing.T, s *snapshot.State) string {
	t.Helper()
	cp := *s
	cp.Created = time.Time{}
	b, err := json.Marshal(cp)
	require.NoError(t, err)
	return string(b)
}

func TestReplayRebuildsState(t *testing.T) {
	walDir := t.TempDir()
	journal, err := entrywal.Open(entrywal.Config{Dir: walDir, SegmentSize: 512})
	require.NoError(t, err)

	f := newFixture(t, Deps{Journal: journal})
	f.seed()
	first := f.placeEthForDai(100_000, 90_000)
	f.placeEthForDai(50_000, 1_000_000_000)
	f.tick(time.Hour)
	_, err = f.x.Execute(executor, first)
	require.NoError(t, err)
	_, err = f.x.Execute(executor, 1)
	require.Error(t, err)
	require.NoError(t, f.x.Update(maker, 1, orderbook.UpdateParams{
		AmountInOffered:   n(60_000),
		AmountOutExpected: n(1),
		ExecutorFee:       n(500),
	}, n(10_000)))
	want := f.x.Snapshot()
	require.NoError(t, journal.Close())

	g := newFixture(t, Deps{})
	applied, err := g.x.Replay(walDir)
	require.NoError(t, err)
	assert.Equal(t, int(want.Seq), applied)
	assert.Equal(t, want.Seq, g.x.LastSeq())
	assert.Equal(t, stateJSON(t, want), stateJSON(t, g.x.Snapshot()))
	_, err = g.x.Audit()
	require.NoError(t, err)
}

func TestRecoverFromSnapshotAndJournal(t *testing.T) {
	walDir, snapDir := t.TempDir(), t.TempDir()
	journal, err := entrywal.Open(entrywal.Config{Dir: walDir, SegmentSize: 256})
	require.NoError(t, err)

	f := newFixture(t, Deps{Journal: journal})
	f.seed()
	id := f.placeEthForDai(100_000, 90_000)

	seq, err := f.x.WriteSnapshot(&snapshot.Writer{Dir: snapDir})
	require.NoError(t, err)
	assert.Equal(t, f.x.LastSeq(), seq)

	f.tick(time.Minute)
	_, err = f.x.Execute(executor, id)
	require.NoError(t, err)
	f.placeEthForDai(10_000, 1)
	want := f.x.Snapshot()
	require.NoError(t, journal.Close())

	g := newFixture(t, Deps{})
	applied, err := g.x.Recover(snapDir, walDir)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, stateJSON(t, want), stateJSON(t, g.x.Snapshot()))
}
