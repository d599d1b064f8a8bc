package staking

import (
	"math/big"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebook/domain/chain"
	"tradebook/domain/event"
)

var (
	stakeToken = chain.Derive("token/TRADE")
	exchange   = chain.Derive("exchange")
	alice      = chain.Derive("alice")
	bob        = chain.Derive("bob")
	carol      = chain.Derive("carol")
)

type fixture struct {
	clock  *chain.ManualClock
	state  *chain.State
	ledger *Staker
	events *event.Buffer
}

func newFixture(t require.TestingT) *fixture {
	clock := chain.NewManualClock(time.Unix(1_700_000_000, 0))
	state := chain.NewState(clock)
	require.NoError(t, state.RegisterToken(stakeToken, "TRADE", 0))
	require.NoError(t, state.Fund(exchange, big.NewInt(1_000_000_000_000)))

	buf := &event.Buffer{}
	ledger := New(state, chain.Derive("staker/0"), Config{StakeToken: stakeToken}, buf)
	for _, who := range []common.Address{alice, bob, carol} {
		require.NoError(t, state.Mint(stakeToken, who, big.NewInt(1_000_000_000)))
		require.NoError(t, state.Approve(stakeToken, who, ledger.Address(), big.NewInt(1_000_000_000)))
	}
	return &fixture{clock: clock, state: state, ledger: ledger, events: buf}
}

func (f *fixture) stake(t *testing.T, who common.Address, amount int64) {
	t.Helper()
	require.NoError(t, f.ledger.Stake(who, big.NewInt(amount)))
}

func (f *fixture) deposit(t *testing.T, value int64) {
	t.Helper()
	require.NoError(t, f.ledger.Deposit(exchange, big.NewInt(value)))
}

func (f *fixture) withdraw(t *testing.T, who common.Address) (string, string) {
	t.Helper()
	p, r, err := f.ledger.Withdraw(who)
	require.NoError(t, err)
	return p.String(), r.String()
}

func TestProportionalRewards(t *testing.T) {
	f := newFixture(t)
	f.stake(t, alice, 500)
	f.stake(t, bob, 1000)
	f.deposit(t, 10000)

	f.clock.Advance(DefaultLockPeriod)

	p, r := f.withdraw(t, alice)
	assert.Equal(t, "500", p)
	assert.Equal(t, "3333", r)

	p, r = f.withdraw(t, bob)
	assert.Equal(t, "1000", p)
	assert.Equal(t, "6666", r)

	assert.Equal(t, "0", f.ledger.TotalStake().String())
	assert.Equal(t, "1", f.ledger.Unattributed().String())
}

func TestAddingStakeSettlesPendingReward(t *testing.T) {
	f := newFixture(t)
	f.stake(t, alice, 500)
	f.stake(t, bob, 1000)
	f.deposit(t, 10000)
	f.stake(t, alice, 500)

	acct, ok := f.ledger.Account(alice)
	require.True(t, ok)
	assert.Equal(t, "3333", acct.Pending.String())
	assert.Equal(t, "1000", acct.Principal.String())

	f.clock.Advance(DefaultLockPeriod)
	p, r := f.withdraw(t, alice)
	assert.Equal(t, "1000", p)
	assert.Equal(t, "3333", r)
}

func TestRewardsAcrossMidStreamStake(t *testing.T) {
	f := newFixture(t)
	f.stake(t, alice, 500)
	f.stake(t, bob, 1000)
	f.deposit(t, 10000)
	f.stake(t, alice, 500)
	f.deposit(t, 20000)

	f.clock.Advance(DefaultLockPeriod)

	_, r := f.withdraw(t, alice)
	assert.Equal(t, "13333", r)
	_, r = f.withdraw(t, bob)
	assert.Equal(t, "16666", r)
}

func TestLateStakerGetsNothingFromEarlierDeposit(t *testing.T) {
	f := newFixture(t)
	f.stake(t, alice, 500)
	f.deposit(t, 1000)
	f.stake(t, carol, 500)

	assert.Equal(t, "0", f.ledger.Owed(carol).String())
	assert.Equal(t, "1000", f.ledger.Owed(alice).String())

	f.clock.Advance(DefaultLockPeriod)
	_, r := f.withdraw(t, carol)
	assert.Equal(t, "0", r)
}

func TestLockedStakeCannotLeave(t *testing.T) {
	f := newFixture(t)
	f.stake(t, alice, 500)
	f.deposit(t, 100)
	f.clock.Advance(DefaultLockPeriod - time.Second)

	before := f.ledger.Export()
	_, _, err := f.ledger.Withdraw(alice)
	assert.True(t, errors.Is(err, ErrStakeLocked))
	_, err = f.ledger.Payout(alice)
	assert.True(t, errors.Is(err, ErrStakeLocked))
	assert.Equal(t, before, f.ledger.Export())

	f.clock.Advance(time.Second)
	p, r := f.withdraw(t, alice)
	assert.Equal(t, "500", p)
	assert.Equal(t, "100", r)
}

func TestTimelockExtendsOnEveryStake(t *testing.T) {
	f := newFixture(t)
	f.stake(t, alice, 500)
	first, _ := f.ledger.Account(alice)

	f.clock.Advance(10 * 24 * time.Hour)
	f.stake(t, alice, 1)
	second, _ := f.ledger.Account(alice)
	assert.Equal(t, first.Timelock.Add(10*24*time.Hour), second.Timelock)
}

func TestPayoutRestakes(t *testing.T) {
	f := newFixture(t)
	f.stake(t, alice, 500)
	f.stake(t, bob, 1000)
	f.deposit(t, 10000)
	f.clock.Advance(DefaultLockPeriod)
	f.events.Drain()

	reward, err := f.ledger.Payout(alice)
	require.NoError(t, err)
	assert.Equal(t, "3333", reward.String())
	assert.Equal(t, "3333", f.state.NativeBalance(alice).String())

	acct, _ := f.ledger.Account(alice)
	assert.Equal(t, "500", acct.Principal.String())
	assert.Equal(t, f.clock.Now().Add(DefaultLockPeriod), acct.Timelock)
	assert.Equal(t, "1500", f.ledger.TotalStake().String())

	evs := f.events.Drain()
	require.Len(t, evs, 2)
	assert.Equal(t, event.Withdraw{Staker: alice, Principal: big.NewInt(500), Reward: big.NewInt(3333)}, evs[0])
	assert.Equal(t, event.Stake{Staker: alice, Amount: big.NewInt(500)}, evs[1])

	f.clock.Advance(DefaultLockPeriod)
	_, err = f.ledger.Payout(alice)
	assert.True(t, errors.Is(err, ErrNothingToPayOut))
}

func TestRejectedCalls(t *testing.T) {
	f := newFixture(t)

	err := f.ledger.Deposit(exchange, big.NewInt(10))
	assert.True(t, errors.Is(err, ErrNothingStaked))

	err = f.ledger.Stake(alice, big.NewInt(0))
	assert.True(t, errors.Is(err, ErrNothingToStake))

	f.stake(t, alice, 1)
	err = f.ledger.Deposit(exchange, big.NewInt(0))
	assert.True(t, errors.Is(err, ErrNothingToDeposit))

	_, _, err = f.ledger.Withdraw(bob)
	assert.True(t, errors.Is(err, ErrNothingStaked))
	_, err = f.ledger.Payout(bob)
	assert.True(t, errors.Is(err, ErrNothingStaked))
}

func TestFailedCallRollsBackInsideTransaction(t *testing.T) {
	f := newFixture(t)
	f.stake(t, alice, 500)
	before := f.ledger.Export()

	err := f.state.Atomic(func() error {
		if err := f.ledger.Stake(alice, big.NewInt(100)); err != nil {
			return err
		}
		return f.ledger.Deposit(carol, big.NewInt(5))
	})
	require.Error(t, err)
	assert.Equal(t, before, f.ledger.Export())
	require.NoError(t, f.ledger.Audit())
}
