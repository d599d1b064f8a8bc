package orderbook

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/chain"
	"tradebook/domain/event"
	"tradebook/domain/fault"
)

// Execution is the realized result of a filled order.
type Execution struct {
	AmountIn  *big.Int
	AmountOut *big.Int
	// Fee is denominated in the native currency, except for token to token
	// swaps where it is in the output token.
	Fee *big.Int
	// NativeFee is what was split between the burn sink and the stakers.
	NativeFee *big.Int
}

// Execute fills an Active order through the router. Anyone may call it and
// the caller earns the order's executor fee. Stop orders re-check the
// router quote against their band first.
func (e *Engine) Execute(executor common.Address, id uint64) (x Execution, err error) {
	err = e.state.Atomic(func() error {
		cur, err := e.lookup(id)
		if err != nil {
			return err
		}
		if cur.State != Active {
			return errors.Wrapf(ErrOrderNotActive, "order %d is %s", id, cur.State)
		}
		o := cur.Clone()
		path := []common.Address{o.TokenIn, o.TokenOut}

		if o.OrderType == Stop {
			if err := e.checkStopBand(o, path); err != nil {
				return err
			}
		}

		switch o.SwapType {
		case EthForTokens:
			x, err = e.fillEthForTokens(o, path)
		case TokensForEth:
			x, err = e.fillTokensForEth(o, path)
		default:
			x, err = e.fillTokensForTokens(o, path)
		}
		if err != nil {
			return err
		}

		if err := e.distribute(x.NativeFee); err != nil {
			return err
		}
		if err := e.escrow.PayNative(executor, o.ExecutorFee); err != nil {
			return err
		}

		o.State = Executed
		e.registry.Replace(o)
		e.registry.Deactivate(o.ID)

		e.events.Emit(event.OrderExecuted{
			ID:       o.ID,
			Executor: executor,
			Amounts:  [2]*big.Int{new(big.Int).Set(x.AmountIn), new(big.Int).Set(x.AmountOut)},
			Fee:      new(big.Int).Set(x.Fee),
		})
		return nil
	})
	return x, err
}

func (e *Engine) checkStopBand(o *Order, path []common.Address) error {
	out, err := e.quote(o.AmountInOffered, path)
	if err != nil {
		return err
	}
	if out.Cmp(o.AmountOutExpected) > 0 {
		return errors.Wrapf(ErrAboveTarget, "quote %s, target %s", out, o.AmountOutExpected)
	}
	if floor := e.cfg.StopFloor(o.AmountOutExpected); out.Cmp(floor) < 0 {
		return errors.Wrapf(ErrBelowMargin, "quote %s, floor %s", out, floor)
	}
	return nil
}

// minOut is the slippage floor handed to the router: the target for limit
// orders, the achievable amount for the exact swap input for stop orders.
// The achievable amount is what the pair receives and what reaches the
// recipient once fee-on-transfer tokens have taken their cut.
func (e *Engine) minOut(o *Order, swapIn *big.Int, path []common.Address) (*big.Int, error) {
	if o.OrderType == Limit {
		return o.AmountOutExpected, nil
	}
	in := swapIn
	if !o.SwapType.NativeIn() {
		in = e.afterTax(o.TokenIn, swapIn)
	}
	out, err := e.quote(in, path)
	if err != nil {
		return nil, err
	}
	return e.afterTax(o.TokenOut, out), nil
}

// afterTax is what a transfer of amount delivers for tok.
func (e *Engine) afterTax(tok common.Address, amount *big.Int) *big.Int {
	info, ok := e.state.Token(tok)
	if !ok || info.TransferFeeBps == 0 {
		return new(big.Int).Set(amount)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(info.TransferFeeBps))
	fee.Quo(fee, big.NewInt(chain.FeeDenominator))
	return fee.Sub(amount, fee)
}

func (e *Engine) quote(amountIn *big.Int, path []common.Address) (*big.Int, error) {
	amounts, err := e.router.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, external(err, "quote")
	}
	return amounts[len(amounts)-1], nil
}

func (e *Engine) fillEthForTokens(o *Order, path []common.Address) (Execution, error) {
	fee := e.cfg.Fee(o.AmountInOffered)
	swapIn := new(big.Int).Sub(o.AmountInOffered, fee)

	floor, err := e.minOut(o, swapIn, path)
	if err != nil {
		return Execution{}, err
	}
	amounts, err := e.router.SwapExactETHForTokens(e.escrow.Account(), swapIn, floor, path, o.Maker, MaxDeadline)
	if err != nil {
		return Execution{}, external(err, "swap")
	}
	return Execution{AmountIn: amounts[0], AmountOut: amounts[len(amounts)-1], Fee: fee, NativeFee: fee}, nil
}

func (e *Engine) fillTokensForEth(o *Order, path []common.Address) (Execution, error) {
	floor, err := e.minOut(o, o.AmountInOffered, path)
	if err != nil {
		return Execution{}, err
	}
	if err := e.escrow.Approve(o.TokenIn, e.router.Address(), o.AmountInOffered); err != nil {
		return Execution{}, err
	}
	amounts, err := e.router.SwapExactTokensForETH(e.escrow.Account(), o.AmountInOffered, floor, path, e.escrow.Account(), MaxDeadline)
	if err != nil {
		return Execution{}, external(err, "swap")
	}
	out := amounts[len(amounts)-1]
	fee := e.cfg.Fee(out)
	if err := e.escrow.PayNative(o.Maker, new(big.Int).Sub(out, fee)); err != nil {
		return Execution{}, err
	}
	return Execution{AmountIn: amounts[0], AmountOut: out, Fee: fee, NativeFee: fee}, nil
}

// fillTokensForTokens takes the fee in the output token and converts it to
// native currency through the router so it can be split like any other fee.
func (e *Engine) fillTokensForTokens(o *Order, path []common.Address) (Execution, error) {
	floor, err := e.minOut(o, o.AmountInOffered, path)
	if err != nil {
		return Execution{}, err
	}
	if err := e.escrow.Approve(o.TokenIn, e.router.Address(), o.AmountInOffered); err != nil {
		return Execution{}, err
	}
	before := e.escrow.TokenBalance(o.TokenOut)
	amounts, err := e.router.SwapExactTokensForTokens(e.escrow.Account(), o.AmountInOffered, floor, path, e.escrow.Account(), MaxDeadline)
	if err != nil {
		return Execution{}, external(err, "swap")
	}
	delivered := new(big.Int).Sub(e.escrow.TokenBalance(o.TokenOut), before)

	fee := e.cfg.Fee(delivered)
	if err := e.escrow.PayToken(o.TokenOut, o.Maker, new(big.Int).Sub(delivered, fee)); err != nil {
		return Execution{}, err
	}

	native := new(big.Int)
	if fee.Sign() > 0 {
		if err := e.escrow.Approve(o.TokenOut, e.router.Address(), fee); err != nil {
			return Execution{}, err
		}
		feePath := []common.Address{o.TokenOut, e.router.WETH()}
		feeAmounts, err := e.router.SwapExactTokensForETH(e.escrow.Account(), fee, new(big.Int), feePath, e.escrow.Account(), MaxDeadline)
		if err != nil {
			return Execution{}, external(err, "fee conversion")
		}
		native = feeAmounts[len(feeAmounts)-1]
	}
	return Execution{AmountIn: amounts[0], AmountOut: amounts[len(amounts)-1], Fee: fee, NativeFee: native}, nil
}

// distribute splits a native fee held in escrow between the burn sink and
// the reward ledger. The staker share waits in the reward pool while
// nothing is staked.
func (e *Engine) distribute(fee *big.Int) error {
	burn, reward := e.cfg.Split(fee)
	if burn.Sign() > 0 {
		if err := e.burner.Burn(e.escrow.Account(), burn); err != nil {
			return errors.Wrap(err, "burn fee")
		}
	}

	pool := new(big.Int).Add(e.rewardPool, reward)
	if pool.Sign() > 0 && e.staker.TotalStake().Sign() > 0 {
		if err := e.staker.Deposit(e.escrow.Account(), pool); err != nil {
			return errors.Wrap(err, "deposit reward")
		}
		pool = new(big.Int)
	}
	e.setRewardPool(pool)
	return nil
}

// FlushRewards deposits the pending reward pool into the reward ledger.
func (e *Engine) FlushRewards() (*big.Int, error) {
	flushed := new(big.Int).Set(e.rewardPool)
	err := e.state.Atomic(func() error {
		if flushed.Sign() == 0 {
			return nil
		}
		if err := e.staker.Deposit(e.escrow.Account(), flushed); err != nil {
			return err
		}
		e.setRewardPool(new(big.Int))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flushed, nil
}

func (e *Engine) setRewardPool(v *big.Int) {
	prev := e.rewardPool
	e.rewardPool = v
	e.state.Record(func() { e.rewardPool = prev })
}

// external marks collaborator failures that carry no kind of their own.
func external(err error, op string) error {
	err = errors.Wrap(err, op)
	if fault.Kind(err) == nil {
		err = errors.Mark(err, fault.External)
	}
	return err
}
