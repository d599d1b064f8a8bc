package service

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/market"
	"tradebook/domain/orderbook"
	"tradebook/domain/staking"
	entrywal "tradebook/infra/wal/entry"
)

// Operand layout per command type:
//
//	place              uints[orderType swapType] addrs[tokenIn tokenOut] amounts[in out executorFee value]
//	update             uints[id] amounts[in out executorFee value]
//	cancel, execute    uints[id]
//	stake              addrs[ledger] amounts[amount]
//	deposit            addrs[ledger] amounts[value]
//	withdraw, payout   addrs[ledger]
//	market_order       uints[swapType] addrs[path...] amounts[in minOut value]
//	burn               amounts[value]
//	update_fee/split   uints[mul div]
//	update_stop_margin uints[margin]
//	update_staker      addrs[ledger]
//	transfer_ownership addrs[newOwner]
//	register_token     strs[symbol] uints[feeBps]
//	mint               addrs[token to] amounts[amount]
//	fund               addrs[to] amounts[value]
//	approve            addrs[token spender] amounts[amount]
//	add_liquidity      addrs[tokenA tokenB] amounts[amountA amountB]
//
// An empty ledger address means the active reward ledger.
func (x *Exchange) apply(c *Command) (any, error) {
	switch c.Type {
	case entrywal.RecordPlace:
		return x.engine.Place(c.Caller, orderbook.PlaceParams{
			OrderType:         orderbook.OrderType(c.u64(0)),
			SwapType:          orderbook.SwapType(c.u64(1)),
			TokenIn:           c.addr(0),
			TokenOut:          c.addr(1),
			AmountInOffered:   c.amount(0),
			AmountOutExpected: c.amount(1),
			ExecutorFee:       c.amount(2),
		}, c.amount(3))
	case entrywal.RecordUpdate:
		return nil, x.engine.Update(c.Caller, c.u64(0), orderbook.UpdateParams{
			AmountInOffered:   c.amount(0),
			AmountOutExpected: c.amount(1),
			ExecutorFee:       c.amount(2),
		}, c.amount(3))
	case entrywal.RecordCancel:
		return nil, x.engine.Cancel(c.Caller, c.u64(0))
	case entrywal.RecordExecute:
		return x.engine.Execute(c.Caller, c.u64(0))

	case entrywal.RecordStake:
		s, err := x.ledger(c.addr(0))
		if err != nil {
			return nil, err
		}
		return nil, s.Stake(c.Caller, c.amount(0))
	case entrywal.RecordDeposit:
		s, err := x.ledger(c.addr(0))
		if err != nil {
			return nil, err
		}
		return nil, s.Deposit(c.Caller, c.amount(0))
	case entrywal.RecordWithdraw:
		s, err := x.ledger(c.addr(0))
		if err != nil {
			return nil, err
		}
		principal, reward, err := s.Withdraw(c.Caller)
		return [2]*big.Int{principal, reward}, err
	case entrywal.RecordPayout:
		s, err := x.ledger(c.addr(0))
		if err != nil {
			return nil, err
		}
		return s.Payout(c.Caller)

	case entrywal.RecordMarketOrder:
		return x.desk.Execute(c.Caller, orderbook.SwapType(c.u64(0)), c.Addrs, c.amount(0), c.amount(1), c.amount(2))
	case entrywal.RecordStakeAndBurn:
		burn, reward, err := x.desk.StakeAndBurn()
		return [2]*big.Int{burn, reward}, err
	case entrywal.RecordBurn:
		return nil, x.incinerator.Burn(c.Caller, c.amount(0))

	case entrywal.RecordUpdateFee:
		return nil, x.engine.UpdateFee(c.Caller, c.u64(0), c.u64(1))
	case entrywal.RecordUpdateSplit:
		return nil, x.engine.UpdateSplit(c.Caller, c.u64(0), c.u64(1))
	case entrywal.RecordUpdateStopMargin:
		return nil, x.engine.UpdateStopMargin(c.Caller, c.u64(0))
	case entrywal.RecordUpdateStaker:
		s, ok := x.stakers[c.addr(0)]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownStaker, "%s", c.addr(0).Hex())
		}
		return nil, x.engine.UpdateStaker(c.Caller, s)
	case entrywal.RecordDeployStaker:
		return x.deployStaker(c.Caller)
	case entrywal.RecordTransferOwnership:
		return nil, x.engine.TransferOwnership(c.Caller, c.addr(0))
	case entrywal.RecordRenounceOwnership:
		return nil, x.engine.RenounceOwnership(c.Caller)

	case entrywal.RecordRegisterToken:
		if err := x.onlyOwner(c.Caller); err != nil {
			return nil, err
		}
		addr := TokenAddress(c.str(0))
		return addr, x.state.RegisterToken(addr, c.str(0), c.u64(0))
	case entrywal.RecordMint:
		if err := x.onlyOwner(c.Caller); err != nil {
			return nil, err
		}
		return nil, x.state.Mint(c.addr(0), c.addr(1), c.amount(0))
	case entrywal.RecordFund:
		if err := x.onlyOwner(c.Caller); err != nil {
			return nil, err
		}
		return nil, x.state.Fund(c.addr(0), c.amount(0))
	case entrywal.RecordApprove:
		return nil, x.state.Approve(c.addr(0), c.Caller, c.addr(1), c.amount(0))
	case entrywal.RecordAddLiquidity:
		return nil, x.addLiquidity(c.Caller, c.addr(0), c.addr(1), c.amount(0), c.amount(1))
	}
	return nil, errors.Wrapf(ErrBadCommand, "unknown command %s", c.Type)
}

func (x *Exchange) ledger(addr common.Address) (*staking.Staker, error) {
	if addr == (common.Address{}) {
		addr = x.engine.Staker().Address()
	}
	s, ok := x.stakers[addr]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownStaker, "%s", addr.Hex())
	}
	return s, nil
}

func (x *Exchange) onlyOwner(caller common.Address) error {
	owner := x.engine.Owner()
	if owner == (common.Address{}) || caller != owner {
		return orderbook.ErrNotOwner
	}
	return nil
}

func (x *Exchange) deployStaker(caller common.Address) (common.Address, error) {
	if err := x.onlyOwner(caller); err != nil {
		return common.Address{}, err
	}
	s := x.addStaker(TokenAddress(x.opts.StakeToken))
	x.state.Record(func() {
		delete(x.stakers, s.Address())
		x.stakerOrder = x.stakerOrder[:len(x.stakerOrder)-1]
	})
	return s.Address(), nil
}

// addLiquidity routes pools with WETH on one side through the native path.
func (x *Exchange) addLiquidity(provider, a, b common.Address, amountA, amountB *big.Int) error {
	switch WETH {
	case a:
		return x.router.AddLiquidityETH(provider, b, amountB, amountA)
	case b:
		return x.router.AddLiquidityETH(provider, a, amountA, amountB)
	}
	return x.router.AddLiquidity(provider, a, b, amountA, amountB)
}

// ---- Order commands ----

func (x *Exchange) Place(caller common.Address, p orderbook.PlaceParams, value *big.Int) (uint64, error) {
	res, err := x.exec(&Command{
		Type:    entrywal.RecordPlace,
		Caller:  caller,
		Uints:   []uint64{uint64(p.OrderType), uint64(p.SwapType)},
		Addrs:   []common.Address{p.TokenIn, p.TokenOut},
		Amounts: []*big.Int{p.AmountInOffered, p.AmountOutExpected, p.ExecutorFee, value},
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (x *Exchange) Update(caller common.Address, id uint64, p orderbook.UpdateParams, value *big.Int) error {
	_, err := x.exec(&Command{
		Type:    entrywal.RecordUpdate,
		Caller:  caller,
		Uints:   []uint64{id},
		Amounts: []*big.Int{p.AmountInOffered, p.AmountOutExpected, p.ExecutorFee, value},
	})
	return err
}

func (x *Exchange) Cancel(caller common.Address, id uint64) error {
	_, err := x.exec(&Command{Type: entrywal.RecordCancel, Caller: caller, Uints: []uint64{id}})
	return err
}

func (x *Exchange) Execute(executor common.Address, id uint64) (orderbook.Execution, error) {
	res, err := x.exec(&Command{Type: entrywal.RecordExecute, Caller: executor, Uints: []uint64{id}})
	if err != nil {
		return orderbook.Execution{}, err
	}
	return res.(orderbook.Execution), nil
}

// ---- Reward ledger commands ----

func (x *Exchange) Stake(caller, ledger common.Address, amount *big.Int) error {
	_, err := x.exec(&Command{Type: entrywal.RecordStake, Caller: caller, Addrs: []common.Address{ledger}, Amounts: []*big.Int{amount}})
	return err
}

func (x *Exchange) Deposit(caller, ledger common.Address, value *big.Int) error {
	_, err := x.exec(&Command{Type: entrywal.RecordDeposit, Caller: caller, Addrs: []common.Address{ledger}, Amounts: []*big.Int{value}})
	return err
}

func (x *Exchange) Withdraw(caller, ledger common.Address) (principal, reward *big.Int, err error) {
	res, err := x.exec(&Command{Type: entrywal.RecordWithdraw, Caller: caller, Addrs: []common.Address{ledger}})
	if err != nil {
		return nil, nil, err
	}
	pr := res.([2]*big.Int)
	return pr[0], pr[1], nil
}

func (x *Exchange) Payout(caller, ledger common.Address) (*big.Int, error) {
	res, err := x.exec(&Command{Type: entrywal.RecordPayout, Caller: caller, Addrs: []common.Address{ledger}})
	if err != nil {
		return nil, err
	}
	return res.(*big.Int), nil
}

// ---- Market desk and incinerator ----

func (x *Exchange) MarketOrder(trader common.Address, swapType orderbook.SwapType, path []common.Address, amountIn, amountOutMin, value *big.Int) (market.Fill, error) {
	res, err := x.exec(&Command{
		Type:    entrywal.RecordMarketOrder,
		Caller:  trader,
		Uints:   []uint64{uint64(swapType)},
		Addrs:   path,
		Amounts: []*big.Int{amountIn, amountOutMin, value},
	})
	if err != nil {
		return market.Fill{}, err
	}
	return res.(market.Fill), nil
}

func (x *Exchange) StakeAndBurn(caller common.Address) (burn, reward *big.Int, err error) {
	res, err := x.exec(&Command{Type: entrywal.RecordStakeAndBurn, Caller: caller})
	if err != nil {
		return nil, nil, err
	}
	br := res.([2]*big.Int)
	return br[0], br[1], nil
}

func (x *Exchange) Burn(caller common.Address, value *big.Int) error {
	_, err := x.exec(&Command{Type: entrywal.RecordBurn, Caller: caller, Amounts: []*big.Int{value}})
	return err
}

// ---- Owner commands ----

func (x *Exchange) UpdateFee(caller common.Address, mul, div uint64) error {
	_, err := x.exec(&Command{Type: entrywal.RecordUpdateFee, Caller: caller, Uints: []uint64{mul, div}})
	return err
}

func (x *Exchange) UpdateSplit(caller common.Address, mul, div uint64) error {
	_, err := x.exec(&Command{Type: entrywal.RecordUpdateSplit, Caller: caller, Uints: []uint64{mul, div}})
	return err
}

func (x *Exchange) UpdateStopMargin(caller common.Address, margin uint64) error {
	_, err := x.exec(&Command{Type: entrywal.RecordUpdateStopMargin, Caller: caller, Uints: []uint64{margin}})
	return err
}

func (x *Exchange) UpdateStaker(caller, ledger common.Address) error {
	_, err := x.exec(&Command{Type: entrywal.RecordUpdateStaker, Caller: caller, Addrs: []common.Address{ledger}})
	return err
}

// DeployStaker creates a new, empty reward ledger and returns its address.
// It does not become active until UpdateStaker points the engine at it.
func (x *Exchange) DeployStaker(caller common.Address) (common.Address, error) {
	res, err := x.exec(&Command{Type: entrywal.RecordDeployStaker, Caller: caller})
	if err != nil {
		return common.Address{}, err
	}
	return res.(common.Address), nil
}

func (x *Exchange) TransferOwnership(caller, newOwner common.Address) error {
	_, err := x.exec(&Command{Type: entrywal.RecordTransferOwnership, Caller: caller, Addrs: []common.Address{newOwner}})
	return err
}

func (x *Exchange) RenounceOwnership(caller common.Address) error {
	_, err := x.exec(&Command{Type: entrywal.RecordRenounceOwnership, Caller: caller})
	return err
}

// ---- Ledger administration ----

func (x *Exchange) RegisterToken(caller common.Address, symbol string, feeBps uint64) (common.Address, error) {
	res, err := x.exec(&Command{Type: entrywal.RecordRegisterToken, Caller: caller, Strs: []string{symbol}, Uints: []uint64{feeBps}})
	if err != nil {
		return common.Address{}, err
	}
	return res.(common.Address), nil
}

func (x *Exchange) Mint(caller, token, to common.Address, amount *big.Int) error {
	_, err := x.exec(&Command{Type: entrywal.RecordMint, Caller: caller, Addrs: []common.Address{token, to}, Amounts: []*big.Int{amount}})
	return err
}

func (x *Exchange) Fund(caller, to common.Address, value *big.Int) error {
	_, err := x.exec(&Command{Type: entrywal.RecordFund, Caller: caller, Addrs: []common.Address{to}, Amounts: []*big.Int{value}})
	return err
}

// Approve lets spender move caller's token.
func (x *Exchange) Approve(caller, token, spender common.Address, amount *big.Int) error {
	_, err := x.exec(&Command{Type: entrywal.RecordApprove, Caller: caller, Addrs: []common.Address{token, spender}, Amounts: []*big.Int{amount}})
	return err
}

func (x *Exchange) AddLiquidity(caller, tokenA, tokenB common.Address, amountA, amountB *big.Int) error {
	_, err := x.exec(&Command{
		Type:    entrywal.RecordAddLiquidity,
		Caller:  caller,
		Addrs:   []common.Address{tokenA, tokenB},
		Amounts: []*big.Int{amountA, amountB},
	})
	return err
}
