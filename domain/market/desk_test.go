package market

import (
	"math/big"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebook/domain/amm"
	"tradebook/domain/chain"
	"tradebook/domain/event"
	"tradebook/domain/orderbook"
	"tradebook/domain/staking"
)

var (
	weth     = chain.Derive("token/WETH")
	dai      = chain.Derive("token/DAI")
	trade    = chain.Derive("token/TRADE")
	trader   = chain.Derive("trader")
	provider = chain.Derive("provider")
	staker1  = chain.Derive("staker")
	burnAcct = chain.Derive("burn")
)

type schedule struct {
	state  *chain.State
	ledger *staking.Staker
}

func (s *schedule) Config() orderbook.Config     { return orderbook.DefaultConfig() }
func (s *schedule) Burner() orderbook.BurnSink   { return s }
func (s *schedule) Staker() orderbook.RewardSink { return s.ledger }
func (s *schedule) Burn(from common.Address, v *big.Int) error {
	return s.state.TransferNative(from, burnAcct, v)
}

type fixture struct {
	state  *chain.State
	router *amm.Router
	ledger *staking.Staker
	desk   *Desk
	events *event.Buffer
}

func n(v int64) *big.Int { return big.NewInt(v) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := chain.NewState(chain.NewManualClock(time.Unix(1_700_000_000, 0)))
	router, err := amm.New(state, weth)
	require.NoError(t, err)
	require.NoError(t, state.RegisterToken(dai, "DAI", 0))
	require.NoError(t, state.RegisterToken(trade, "TRADE", 0))
	require.NoError(t, state.Fund(provider, n(1_000_000_000)))
	require.NoError(t, state.Mint(dai, provider, n(1_000_000_000)))
	require.NoError(t, router.AddLiquidityETH(provider, dai, n(100_000_000), n(100_000_000)))

	buf := &event.Buffer{}
	ledger := staking.New(state, chain.Derive("staker/0"), staking.Config{StakeToken: trade}, buf)
	desk := New(state, chain.Derive("market"), router, &schedule{state: state, ledger: ledger}, buf)

	require.NoError(t, state.Fund(trader, n(10_000_000)))
	require.NoError(t, state.Mint(dai, trader, n(10_000_000)))
	require.NoError(t, state.Approve(dai, trader, desk.Address(), n(10_000_000)))
	require.NoError(t, state.Mint(trade, staker1, n(100)))
	require.NoError(t, state.Approve(trade, staker1, ledger.Address(), n(100)))
	return &fixture{state: state, router: router, ledger: ledger, desk: desk, events: buf}
}

func TestExecuteEthForTokensRetainsFee(t *testing.T) {
	f := newFixture(t)
	quote, err := f.router.GetAmountsOut(n(99_800), []common.Address{weth, dai})
	require.NoError(t, err)
	daiBefore := f.state.BalanceOf(dai, trader)

	fill, err := f.desk.Execute(trader, orderbook.EthForTokens, []common.Address{weth, dai}, n(100_000), n(90_000), n(100_000))
	require.NoError(t, err)
	assert.Equal(t, "200", fill.Fee.String())
	assert.Equal(t, quote[1].String(), fill.AmountOut.String())
	assert.Equal(t, "200", f.desk.Retained().String())
	assert.Equal(t, new(big.Int).Add(daiBefore, quote[1]).String(), f.state.BalanceOf(dai, trader).String())

	evs := f.events.Drain()
	require.Len(t, evs, 1)
	x, ok := evs[0].(event.MarketOrderExecuted)
	require.True(t, ok)
	assert.Equal(t, trader, x.Trader)
	assert.Equal(t, "90000", x.AmountOutExpected.String())
}

func TestExecuteTokensForEthTakesFeeFromOutput(t *testing.T) {
	f := newFixture(t)
	quote, err := f.router.GetAmountsOut(n(100_000), []common.Address{dai, weth})
	require.NoError(t, err)
	before := f.state.NativeBalance(trader)

	fill, err := f.desk.Execute(trader, orderbook.TokensForEth, []common.Address{dai, weth}, n(100_000), n(0), nil)
	require.NoError(t, err)
	fee := orderbook.DefaultConfig().Fee(quote[1])
	assert.Equal(t, fee.String(), fill.Fee.String())
	want := new(big.Int).Add(before, new(big.Int).Sub(quote[1], fee))
	assert.Equal(t, want.String(), f.state.NativeBalance(trader).String())
	assert.Equal(t, fee.String(), f.desk.Retained().String())
}

func TestExecuteRejectsAndRollsBack(t *testing.T) {
	f := newFixture(t)
	before := f.state.NativeBalance(trader)

	_, err := f.desk.Execute(trader, orderbook.EthForTokens, []common.Address{weth, dai}, n(100_000), n(1_000_000), n(100_000))
	assert.True(t, errors.Is(err, amm.ErrInsufficientOutput))
	assert.Equal(t, before.String(), f.state.NativeBalance(trader).String())
	assert.Equal(t, "0", f.desk.Retained().String())

	_, err = f.desk.Execute(trader, orderbook.EthForTokens, []common.Address{weth, dai}, n(100_000), n(0), n(5))
	assert.True(t, errors.Is(err, orderbook.ErrValueMismatch))
	_, err = f.desk.Execute(trader, orderbook.TokensForEth, []common.Address{weth}, n(100_000), n(0), nil)
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.desk.Execute(trader, orderbook.TokensForTokens, []common.Address{dai, weth}, n(100_000), n(0), nil)
	assert.True(t, errors.Is(err, orderbook.ErrWrongTokenSide))
	assert.Zero(t, f.events.Len())
}

func TestStakeAndBurn(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.desk.StakeAndBurn()
	assert.True(t, errors.Is(err, ErrNothingToDistribute))

	_, err = f.desk.Execute(trader, orderbook.EthForTokens, []common.Address{weth, dai}, n(100_000), n(0), n(100_000))
	require.NoError(t, err)

	_, _, err = f.desk.StakeAndBurn()
	assert.True(t, errors.Is(err, staking.ErrNothingStaked))
	assert.Equal(t, "200", f.desk.Retained().String())
	assert.Equal(t, "0", f.state.NativeBalance(burnAcct).String())

	require.NoError(t, f.ledger.Stake(staker1, n(100)))
	burn, reward, err := f.desk.StakeAndBurn()
	require.NoError(t, err)
	assert.Equal(t, "120", burn.String())
	assert.Equal(t, "80", reward.String())
	assert.Equal(t, "120", f.state.NativeBalance(burnAcct).String())
	assert.Equal(t, "80", f.ledger.Owed(staker1).String())
	assert.Equal(t, "0", f.desk.Retained().String())
}
