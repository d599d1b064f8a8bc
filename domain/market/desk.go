// Package market executes immediate swaps through the router under the
// order engine's fee schedule. Fees stay in the desk account until
// StakeAndBurn hands them to the burn sink and the reward ledger.
package market

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/chain"
	"tradebook/domain/escrow"
	"tradebook/domain/event"
	"tradebook/domain/fault"
	"tradebook/domain/orderbook"
)

var (
	ErrNothingToDistribute = fault.New(fault.Condition, "nothing to distribute")
	ErrInvalidPath         = fault.New(fault.Validation, "market path needs at least two tokens")
)

// Schedule supplies the fee rules and the fee destinations. The order
// engine implements it.
type Schedule interface {
	Config() orderbook.Config
	Burner() orderbook.BurnSink
	Staker() orderbook.RewardSink
}

type Desk struct {
	state    *chain.State
	escrow   *escrow.Escrow
	router   orderbook.Router
	schedule Schedule
	events   event.Sink
}

func New(state *chain.State, account common.Address, router orderbook.Router, schedule Schedule, sink event.Sink) *Desk {
	if sink == nil {
		sink = event.Discard{}
	}
	return &Desk{
		state:    state,
		escrow:   escrow.New(state, account),
		router:   router,
		schedule: schedule,
		events:   sink,
	}
}

// Address is the account traders approve for token-in swaps.
func (d *Desk) Address() common.Address { return d.escrow.Account() }

// Retained is the native fee waiting for StakeAndBurn.
func (d *Desk) Retained() *big.Int { return d.escrow.NativeBalance() }

type Fill struct {
	AmountIn  *big.Int
	AmountOut *big.Int
	Fee       *big.Int
}

// Execute swaps amountIn along path for trader. value must equal amountIn
// for native input and be zero otherwise. amountOutMin bounds what the
// trader receives before the fee.
func (d *Desk) Execute(trader common.Address, swapType orderbook.SwapType, path []common.Address, amountIn, amountOutMin, value *big.Int) (f Fill, err error) {
	err = d.state.Atomic(func() error {
		if err := d.validate(swapType, path, amountIn, amountOutMin, value); err != nil {
			return err
		}
		switch swapType {
		case orderbook.EthForTokens:
			f, err = d.ethForTokens(trader, path, amountIn, amountOutMin)
		case orderbook.TokensForEth:
			f, err = d.tokensForEth(trader, path, amountIn, amountOutMin)
		default:
			f, err = d.tokensForTokens(trader, path, amountIn, amountOutMin)
		}
		if err != nil {
			return err
		}
		d.events.Emit(event.MarketOrderExecuted{
			Trader:            trader,
			Path:              append([]common.Address(nil), path...),
			AmountIn:          new(big.Int).Set(amountIn),
			AmountOutExpected: new(big.Int).Set(amountOutMin),
			Amounts:           [2]*big.Int{new(big.Int).Set(f.AmountIn), new(big.Int).Set(f.AmountOut)},
			Fee:               new(big.Int).Set(f.Fee),
		})
		return nil
	})
	return f, err
}

func (d *Desk) validate(swapType orderbook.SwapType, path []common.Address, amountIn, amountOutMin, value *big.Int) error {
	if !swapType.Valid() {
		return errors.Wrapf(orderbook.ErrInvalidSwapType, "swap type %d", swapType)
	}
	if len(path) < 2 {
		return ErrInvalidPath
	}
	if amountIn == nil || amountIn.Sign() <= 0 || amountOutMin == nil || amountOutMin.Sign() < 0 {
		return orderbook.ErrInvalidAmount
	}
	if value == nil {
		value = new(big.Int)
	}
	weth := d.router.WETH()
	first, last := path[0], path[len(path)-1]
	switch swapType {
	case orderbook.EthForTokens:
		if first != weth || last == weth {
			return errors.Wrap(orderbook.ErrWrongTokenSide, "native input must be the first hop only")
		}
		if value.Cmp(amountIn) != 0 {
			return errors.Wrap(orderbook.ErrValueMismatch, "transaction value must match amount in")
		}
	case orderbook.TokensForEth:
		if last != weth || first == weth {
			return errors.Wrap(orderbook.ErrWrongTokenSide, "native output must be the last hop only")
		}
	default:
		if first == weth || last == weth {
			return errors.Wrap(orderbook.ErrWrongTokenSide, "token swap cannot start or end native")
		}
	}
	if swapType != orderbook.EthForTokens && value.Sign() != 0 {
		return errors.Wrap(orderbook.ErrValueMismatch, "no value expected for token input")
	}
	return nil
}

func (d *Desk) ethForTokens(trader common.Address, path []common.Address, amountIn, amountOutMin *big.Int) (Fill, error) {
	if err := d.escrow.DepositNative(trader, amountIn); err != nil {
		return Fill{}, err
	}
	fee := d.schedule.Config().Fee(amountIn)
	swapIn := new(big.Int).Sub(amountIn, fee)
	amounts, err := d.router.SwapExactETHForTokens(d.escrow.Account(), swapIn, amountOutMin, path, trader, orderbook.MaxDeadline)
	if err != nil {
		return Fill{}, errors.Wrap(err, "swap")
	}
	return Fill{AmountIn: amounts[0], AmountOut: amounts[len(amounts)-1], Fee: fee}, nil
}

func (d *Desk) tokensForEth(trader common.Address, path []common.Address, amountIn, amountOutMin *big.Int) (Fill, error) {
	received, err := d.pull(path[0], trader, amountIn)
	if err != nil {
		return Fill{}, err
	}
	amounts, err := d.router.SwapExactTokensForETH(d.escrow.Account(), received, amountOutMin, path, d.escrow.Account(), orderbook.MaxDeadline)
	if err != nil {
		return Fill{}, errors.Wrap(err, "swap")
	}
	out := amounts[len(amounts)-1]
	fee := d.schedule.Config().Fee(out)
	if err := d.escrow.PayNative(trader, new(big.Int).Sub(out, fee)); err != nil {
		return Fill{}, err
	}
	return Fill{AmountIn: amounts[0], AmountOut: out, Fee: fee}, nil
}

// tokensForTokens keeps the fee in the output token and converts it to
// native currency so the retained balance stays in one denomination.
func (d *Desk) tokensForTokens(trader common.Address, path []common.Address, amountIn, amountOutMin *big.Int) (Fill, error) {
	tokenOut := path[len(path)-1]
	received, err := d.pull(path[0], trader, amountIn)
	if err != nil {
		return Fill{}, err
	}
	before := d.escrow.TokenBalance(tokenOut)
	amounts, err := d.router.SwapExactTokensForTokens(d.escrow.Account(), received, amountOutMin, path, d.escrow.Account(), orderbook.MaxDeadline)
	if err != nil {
		return Fill{}, errors.Wrap(err, "swap")
	}
	delivered := new(big.Int).Sub(d.escrow.TokenBalance(tokenOut), before)
	fee := d.schedule.Config().Fee(delivered)
	if err := d.escrow.PayToken(tokenOut, trader, new(big.Int).Sub(delivered, fee)); err != nil {
		return Fill{}, err
	}
	if fee.Sign() > 0 {
		if err := d.escrow.Approve(tokenOut, d.router.Address(), fee); err != nil {
			return Fill{}, err
		}
		feePath := []common.Address{tokenOut, d.router.WETH()}
		if _, err := d.router.SwapExactTokensForETH(d.escrow.Account(), fee, new(big.Int), feePath, d.escrow.Account(), orderbook.MaxDeadline); err != nil {
			return Fill{}, errors.Wrap(err, "fee conversion")
		}
	}
	return Fill{AmountIn: amounts[0], AmountOut: amounts[len(amounts)-1], Fee: fee}, nil
}

// pull takes amount of token from trader and approves the router for what
// actually arrived.
func (d *Desk) pull(token, trader common.Address, amount *big.Int) (*big.Int, error) {
	received, err := d.escrow.PullToken(token, trader, amount)
	if err != nil {
		return nil, err
	}
	if err := d.escrow.Approve(token, d.router.Address(), received); err != nil {
		return nil, err
	}
	return received, nil
}

// StakeAndBurn splits the retained fees between the burn sink and the
// active reward ledger.
func (d *Desk) StakeAndBurn() (burn, reward *big.Int, err error) {
	err = d.state.Atomic(func() error {
		retained := d.Retained()
		if retained.Sign() == 0 {
			return ErrNothingToDistribute
		}
		burn, reward = d.schedule.Config().Split(retained)
		if burn.Sign() > 0 {
			if err := d.schedule.Burner().Burn(d.escrow.Account(), burn); err != nil {
				return errors.Wrap(err, "burn fee")
			}
		}
		if reward.Sign() > 0 {
			if err := d.schedule.Staker().Deposit(d.escrow.Account(), reward); err != nil {
				return errors.Wrap(err, "deposit reward")
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return burn, reward, nil
}
