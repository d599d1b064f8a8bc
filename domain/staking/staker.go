// Package staking is the reward ledger funded by exchange fees.
//
// Rewards are pulled, never pushed. Each deposit raises a global
// accumulator by value/totalStake (scaled by 1e18, rounded down) and every
// account remembers the accumulator it last observed. A staker's unsettled
// reward is principal*(acc-checkpoint)/1e18, again rounded down, so the
// ledger can never pay out more than was deposited. What rounding leaves
// behind stays in the ledger account as unattributed dust.
package staking

import (
	"math/big"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"tradebook/domain/chain"
	"tradebook/domain/event"
	"tradebook/domain/fault"
)

// DefaultLockPeriod is how long a stake stays locked after each stake call.
const DefaultLockPeriod = 30 * 24 * time.Hour

// Scale is the fixed-point precision of the accumulator.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	ErrNothingToStake   = fault.New(fault.Validation, "nothing to stake")
	ErrNothingToDeposit = fault.New(fault.Validation, "nothing to deposit")
	ErrNothingStaked    = fault.New(fault.Condition, "nothing staked")
	ErrStakeLocked      = fault.New(fault.Condition, "stake is locked")
	ErrNothingToPayOut  = fault.New(fault.Condition, "nothing to pay out")
)

// Account is one staker's position.
type Account struct {
	Principal  *big.Int
	Checkpoint *big.Int
	Pending    *big.Int
	Timelock   time.Time
}

func (a Account) MarshalZerologObject(e *zerolog.Event) {
	e.Str("principal", a.Principal.String()).
		Str("checkpoint", a.Checkpoint.String()).
		Str("pending", a.Pending.String()).
		Time("timelock", a.Timelock)
}

func zeroAccount() Account {
	return Account{Principal: new(big.Int), Checkpoint: new(big.Int), Pending: new(big.Int)}
}

func (a Account) clone() Account {
	return Account{
		Principal:  new(big.Int).Set(a.Principal),
		Checkpoint: new(big.Int).Set(a.Checkpoint),
		Pending:    new(big.Int).Set(a.Pending),
		Timelock:   a.Timelock,
	}
}

type Config struct {
	StakeToken common.Address
	LockPeriod time.Duration
}

type Staker struct {
	state      *chain.State
	address    common.Address
	cfg        Config
	acc        *big.Int
	totalStake *big.Int
	accounts   map[common.Address]*Account
	events     event.Sink
}

// New creates a ledger whose funds are held by address.
func New(state *chain.State, address common.Address, cfg Config, sink event.Sink) *Staker {
	if cfg.LockPeriod == 0 {
		cfg.LockPeriod = DefaultLockPeriod
	}
	if sink == nil {
		sink = event.Discard{}
	}
	return &Staker{
		state:      state,
		address:    address,
		cfg:        cfg,
		acc:        new(big.Int),
		totalStake: new(big.Int),
		accounts:   make(map[common.Address]*Account),
		events:     sink,
	}
}

// ---- Commands ----

// Stake settles the caller's account, pulls amount of the stake token and
// extends the timelock.
func (s *Staker) Stake(staker common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNothingToStake
	}
	if err := s.state.TransferFrom(s.cfg.StakeToken, s.address, staker, s.address, amount); err != nil {
		return errors.Wrap(err, "pull stake")
	}

	cur := s.get(staker)
	next := Account{
		Pending:    s.owed(cur),
		Principal:  new(big.Int).Add(cur.Principal, amount),
		Checkpoint: new(big.Int).Set(s.acc),
		Timelock:   s.extend(cur.Timelock),
	}
	s.save(staker, &next)
	s.setTotal(new(big.Int).Add(s.totalStake, amount))

	s.events.Emit(event.Stake{Staker: staker, Amount: new(big.Int).Set(amount)})
	return nil
}

// Deposit moves value of native currency from from into the ledger and
// attributes it to current stakers.
func (s *Staker) Deposit(from common.Address, value *big.Int) error {
	if value == nil || value.Sign() <= 0 {
		return ErrNothingToDeposit
	}
	if s.totalStake.Sign() == 0 {
		return ErrNothingStaked
	}
	if err := s.state.TransferNative(from, s.address, value); err != nil {
		return errors.Wrap(err, "reward deposit")
	}

	inc := new(big.Int).Mul(value, Scale)
	inc.Quo(inc, s.totalStake)
	s.setAcc(new(big.Int).Add(s.acc, inc))

	s.events.Emit(event.Deposit{Depositor: from, Value: new(big.Int).Set(value)})
	return nil
}

// Withdraw returns the principal and every owed reward and closes the account.
func (s *Staker) Withdraw(staker common.Address) (principal, reward *big.Int, err error) {
	cur, err := s.unlocked(staker)
	if err != nil {
		return nil, nil, err
	}
	principal = new(big.Int).Set(cur.Principal)
	reward = s.owed(cur)

	if err := s.state.Transfer(s.cfg.StakeToken, s.address, staker, principal); err != nil {
		return nil, nil, errors.Wrap(err, "return principal")
	}
	if err := s.state.TransferNative(s.address, staker, reward); err != nil {
		return nil, nil, errors.Wrap(err, "pay reward")
	}

	s.save(staker, nil)
	s.setTotal(new(big.Int).Sub(s.totalStake, principal))

	s.events.Emit(event.Withdraw{Staker: staker, Principal: new(big.Int).Set(principal), Reward: new(big.Int).Set(reward)})
	return principal, reward, nil
}

// Payout pays every owed reward and restakes the unchanged principal.
func (s *Staker) Payout(staker common.Address) (*big.Int, error) {
	cur, err := s.unlocked(staker)
	if err != nil {
		return nil, err
	}
	reward := s.owed(cur)
	if reward.Sign() == 0 {
		return nil, ErrNothingToPayOut
	}
	if err := s.state.TransferNative(s.address, staker, reward); err != nil {
		return nil, errors.Wrap(err, "pay reward")
	}

	next := Account{
		Principal:  new(big.Int).Set(cur.Principal),
		Checkpoint: new(big.Int).Set(s.acc),
		Pending:    new(big.Int),
		Timelock:   s.extend(cur.Timelock),
	}
	s.save(staker, &next)

	s.events.Emit(event.Withdraw{Staker: staker, Principal: new(big.Int).Set(cur.Principal), Reward: new(big.Int).Set(reward)})
	s.events.Emit(event.Stake{Staker: staker, Amount: new(big.Int).Set(cur.Principal)})
	return reward, nil
}

func (s *Staker) unlocked(staker common.Address) (Account, error) {
	cur := s.get(staker)
	if cur.Principal.Sign() == 0 {
		return Account{}, ErrNothingStaked
	}
	if s.state.Now().Before(cur.Timelock) {
		return Account{}, errors.Wrapf(ErrStakeLocked, "until %s", cur.Timelock.UTC().Format(time.RFC3339))
	}
	return cur, nil
}

// ---- Views ----

func (s *Staker) Address() common.Address    { return s.address }
func (s *Staker) StakeToken() common.Address { return s.cfg.StakeToken }
func (s *Staker) LockPeriod() time.Duration  { return s.cfg.LockPeriod }

func (s *Staker) TotalStake() *big.Int {
	return new(big.Int).Set(s.totalStake)
}

func (s *Staker) Accumulator() *big.Int {
	return new(big.Int).Set(s.acc)
}

// Account returns a copy of staker's position.
func (s *Staker) Account(staker common.Address) (Account, bool) {
	a, ok := s.accounts[staker]
	if !ok {
		return zeroAccount(), false
	}
	return a.clone(), true
}

// Owed is the reward staker would receive if settled now.
func (s *Staker) Owed(staker common.Address) *big.Int {
	return s.owed(s.get(staker))
}

// Unattributed is the native held by the ledger that no account is owed.
func (s *Staker) Unattributed() *big.Int {
	total := new(big.Int)
	for _, a := range s.accounts {
		total.Add(total, s.owed(*a))
	}
	return total.Sub(s.state.NativeBalance(s.address), total)
}

// Stakers lists accounts with a position, ordered by address.
func (s *Staker) Stakers() []common.Address {
	out := make([]common.Address, 0, len(s.accounts))
	for a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// ---- Internals ----

func (s *Staker) owed(a Account) *big.Int {
	r := new(big.Int).Sub(s.acc, a.Checkpoint)
	r.Mul(r, a.Principal)
	r.Quo(r, Scale)
	return r.Add(r, a.Pending)
}

func (s *Staker) extend(current time.Time) time.Time {
	next := s.state.Now().Add(s.cfg.LockPeriod)
	if current.After(next) {
		return current
	}
	return next
}

func (s *Staker) get(staker common.Address) Account {
	if a, ok := s.accounts[staker]; ok {
		return a.clone()
	}
	return zeroAccount()
}

// save replaces staker's account, deleting it when next is nil.
func (s *Staker) save(staker common.Address, next *Account) {
	prev, had := s.accounts[staker]
	if next == nil {
		delete(s.accounts, staker)
	} else {
		s.accounts[staker] = next
	}
	s.state.Record(func() {
		if had {
			s.accounts[staker] = prev
		} else {
			delete(s.accounts, staker)
		}
	})
}

func (s *Staker) setAcc(v *big.Int) {
	prev := s.acc
	s.acc = v
	s.state.Record(func() { s.acc = prev })
}

func (s *Staker) setTotal(v *big.Int) {
	prev := s.totalStake
	s.totalStake = v
	s.state.Record(func() { s.totalStake = prev })
}
