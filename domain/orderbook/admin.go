package orderbook

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/event"
)

// ---- Owner configuration ----
//
// Changes apply to executions that happen after the call. Orders already
// resting keep no copy of the configuration.

func (e *Engine) UpdateFee(caller common.Address, mul, div uint64) error {
	return e.configure(caller, func(c *Config) event.Event {
		c.FeeMul, c.FeeDiv = mul, div
		return event.FeeUpdated{Mul: mul, Div: div}
	})
}

func (e *Engine) UpdateSplit(caller common.Address, mul, div uint64) error {
	return e.configure(caller, func(c *Config) event.Event {
		c.SplitMul, c.SplitDiv = mul, div
		return event.SplitUpdated{Mul: mul, Div: div}
	})
}

func (e *Engine) UpdateStopMargin(caller common.Address, margin uint64) error {
	return e.configure(caller, func(c *Config) event.Event {
		c.StopMargin = margin
		return event.StopMarginUpdated{Margin: margin}
	})
}

func (e *Engine) configure(caller common.Address, apply func(*Config) event.Event) error {
	return e.state.Atomic(func() error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		next := e.cfg
		ev := apply(&next)
		if err := next.Validate(); err != nil {
			return err
		}
		prev := e.cfg
		e.cfg = next
		e.state.Record(func() { e.cfg = prev })
		e.events.Emit(ev)
		return nil
	})
}

// UpdateStaker redirects future fee deposits to another reward ledger.
// Balances held by the previous ledger stay where they are.
func (e *Engine) UpdateStaker(caller common.Address, staker RewardSink) error {
	return e.state.Atomic(func() error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		if staker == nil {
			return errors.Wrap(ErrInvalidConfig, "nil staker")
		}
		prev := e.staker
		e.staker = staker
		e.state.Record(func() { e.staker = prev })
		e.events.Emit(event.StakerUpdated{Staker: staker.Address()})
		return nil
	})
}

func (e *Engine) TransferOwnership(caller, newOwner common.Address) error {
	return e.state.Atomic(func() error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		if newOwner == (common.Address{}) {
			return errors.Wrap(ErrInvalidConfig, "new owner is the zero address")
		}
		e.setOwner(newOwner)
		return nil
	})
}

// RenounceOwnership leaves the engine without an owner. Configuration is
// frozen afterwards.
func (e *Engine) RenounceOwnership(caller common.Address) error {
	return e.state.Atomic(func() error {
		if err := e.onlyOwner(caller); err != nil {
			return err
		}
		e.setOwner(common.Address{})
		return nil
	})
}

func (e *Engine) setOwner(next common.Address) {
	prev := e.owner
	e.owner = next
	e.state.Record(func() { e.owner = prev })
	e.events.Emit(event.OwnershipTransferred{PreviousOwner: prev, NewOwner: next})
}

func (e *Engine) onlyOwner(caller common.Address) error {
	if e.owner == (common.Address{}) || caller != e.owner {
		return ErrNotOwner
	}
	return nil
}

// ---- Queries ----

// Order returns a copy of the order with id.
func (e *Engine) Order(id uint64) (Order, error) {
	o, err := e.lookup(id)
	if err != nil {
		return Order{}, err
	}
	return *o.Clone(), nil
}

func (e *Engine) ActiveOrdersLength() int {
	return e.registry.ActiveLen()
}

// ActiveOrders lists active orders in active-set order.
func (e *Engine) ActiveOrders(offset, limit int) []Order {
	ids := e.registry.Active(offset, limit)
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, _ := e.registry.Get(id)
		out = append(out, *o.Clone())
	}
	return out
}

// OrdersForAddressLength counts orders indexed under a, which may be a
// maker or a PairKey.
func (e *Engine) OrdersForAddressLength(a common.Address) int {
	return e.registry.AddressLen(a)
}

func (e *Engine) OrderIDForAddress(a common.Address, index int) (uint64, error) {
	return e.registry.IDForAddress(a, index)
}

func (e *Engine) Config() Config                { return e.cfg }
func (e *Engine) Owner() common.Address         { return e.owner }
func (e *Engine) Staker() RewardSink            { return e.staker }
func (e *Engine) NextID() uint64                { return e.nextID }
func (e *Engine) RewardPool() *big.Int          { return new(big.Int).Set(e.rewardPool) }
func (e *Engine) Router() Router                { return e.router }
func (e *Engine) Burner() BurnSink              { return e.burner }
func (e *Engine) EscrowAccount() common.Address { return e.escrow.Account() }

// Audit checks that escrow holds exactly what active orders and the reward
// pool account for.
func (e *Engine) Audit() error {
	native := new(big.Int).Set(e.rewardPool)
	tokens := make(map[common.Address]*big.Int)
	for _, id := range e.registry.Active(0, 0) {
		o, _ := e.registry.Get(id)
		native.Add(native, o.TotalEthDeposited)
		if !o.SwapType.NativeIn() {
			sum, ok := tokens[o.TokenIn]
			if !ok {
				sum = new(big.Int)
				tokens[o.TokenIn] = sum
			}
			sum.Add(sum, o.AmountInOffered)
		}
	}

	if held := e.escrow.NativeBalance(); held.Cmp(native) != 0 {
		return errors.Wrapf(ErrEscrowMismatch, "native held %s, accounted %s", held, native)
	}
	for tok, want := range tokens {
		if held := e.escrow.TokenBalance(tok); held.Cmp(want) != 0 {
			return errors.Wrapf(ErrEscrowMismatch, "token %s held %s, accounted %s", tok.Hex(), held, want)
		}
	}
	return nil
}
