package orderbook

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tradebook/domain/amm"
	"tradebook/domain/chain"
	"tradebook/domain/escrow"
	"tradebook/domain/event"
	"tradebook/domain/staking"
)

var (
	weth     = chain.Derive("token/WETH")
	dai      = chain.Derive("token/DAI")
	rocket   = chain.Derive("token/RKT")
	trade    = chain.Derive("token/TRADE")
	owner    = chain.Derive("owner")
	maker    = chain.Derive("maker")
	other    = chain.Derive("other")
	executor = chain.Derive("executor")
	staker1  = chain.Derive("staker")
	provider = chain.Derive("provider")
	burnAcct = chain.Derive("burn")
)

type burnSink struct {
	state *chain.State
}

func (b *burnSink) Burn(from common.Address, value *big.Int) error {
	return b.state.TransferNative(from, burnAcct, value)
}

type harness struct {
	t      testing.TB
	clock  *chain.ManualClock
	state  *chain.State
	router *amm.Router
	ledger *staking.Staker
	engine *Engine
	events *event.Buffer
}

func n(v int64) *big.Int { return big.NewInt(v) }

func newHarness(t testing.TB) *harness {
	t.Helper()
	clock := chain.NewManualClock(time.Unix(1_700_000_000, 0))
	state := chain.NewState(clock)

	router, err := amm.New(state, weth)
	require.NoError(t, err)
	require.NoError(t, state.RegisterToken(dai, "DAI", 0))
	require.NoError(t, state.RegisterToken(rocket, "RKT", 300))
	require.NoError(t, state.RegisterToken(trade, "TRADE", 0))

	require.NoError(t, state.Fund(provider, n(1_000_000_000)))
	for _, tok := range []common.Address{dai, rocket} {
		require.NoError(t, state.Mint(tok, provider, n(1_000_000_000)))
	}
	require.NoError(t, router.AddLiquidityETH(provider, dai, n(100_000_000), n(100_000_000)))
	require.NoError(t, router.AddLiquidityETH(provider, rocket, n(100_000_000), n(100_000_000)))
	require.NoError(t, router.AddLiquidity(provider, rocket, dai, n(100_000_000), n(100_000_000)))

	buf := &event.Buffer{}
	ledger := staking.New(state, chain.Derive("staker/0"), staking.Config{StakeToken: trade}, buf)
	engine, err := New(Deps{
		State:  state,
		Escrow: escrow.New(state, chain.Derive("orderbook")),
		Router: router,
		Burner: &burnSink{state: state},
		Staker: ledger,
		Owner:  owner,
		Config: DefaultConfig(),
		Events: buf,
	})
	require.NoError(t, err)

	for _, who := range []common.Address{maker, other} {
		require.NoError(t, state.Fund(who, n(10_000_000)))
		for _, tok := range []common.Address{dai, rocket} {
			require.NoError(t, state.Mint(tok, who, n(10_000_000)))
			require.NoError(t, state.Approve(tok, who, engine.Address(), n(10_000_000)))
		}
	}
	require.NoError(t, state.Mint(trade, staker1, n(1000)))
	require.NoError(t, state.Approve(trade, staker1, ledger.Address(), n(1000)))

	buf.Drain()
	return &harness{t: t, clock: clock, state: state, router: router, ledger: ledger, engine: engine, events: buf}
}

func (h *harness) stake(amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.ledger.Stake(staker1, n(amount)))
}

func (h *harness) place(p PlaceParams, value int64) uint64 {
	h.t.Helper()
	id, err := h.engine.Place(maker, p, n(value))
	require.NoError(h.t, err)
	return id
}

func (h *harness) quote(amountIn *big.Int, in, out common.Address) *big.Int {
	h.t.Helper()
	amounts, err := h.router.GetAmountsOut(amountIn, []common.Address{in, out})
	require.NoError(h.t, err)
	return amounts[1]
}

func (h *harness) audit() {
	h.t.Helper()
	require.NoError(h.t, h.engine.Audit())
	require.NoError(h.t, h.ledger.Audit())
}

func ethForDai(orderType OrderType, amountIn, amountOut, fee int64) PlaceParams {
	return PlaceParams{
		OrderType:         orderType,
		SwapType:          EthForTokens,
		TokenIn:           weth,
		TokenOut:          dai,
		AmountInOffered:   n(amountIn),
		AmountOutExpected: n(amountOut),
		ExecutorFee:       n(fee),
	}
}

func tokenForEth(orderType OrderType, tok common.Address, amountIn, amountOut, fee int64) PlaceParams {
	return PlaceParams{
		OrderType:         orderType,
		SwapType:          TokensForEth,
		TokenIn:           tok,
		TokenOut:          weth,
		AmountInOffered:   n(amountIn),
		AmountOutExpected: n(amountOut),
		ExecutorFee:       n(fee),
	}
}

func tokenForToken(orderType OrderType, in, out common.Address, amountIn, amountOut, fee int64) PlaceParams {
	return PlaceParams{
		OrderType:         orderType,
		SwapType:          TokensForTokens,
		TokenIn:           in,
		TokenOut:          out,
		AmountInOffered:   n(amountIn),
		AmountOutExpected: n(amountOut),
		ExecutorFee:       n(fee),
	}
}
