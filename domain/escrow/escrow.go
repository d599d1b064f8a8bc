// Package escrow holds the exchange's assets on the host ledger.
//
// The escrow account is the only custody point for order funds. Token pulls
// report the amount actually received so fee-on-transfer tokens are
// accounted for what arrived, not what was requested.
package escrow

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/chain"
)

type Escrow struct {
	state   *chain.State
	account common.Address
}

func New(state *chain.State, account common.Address) *Escrow {
	return &Escrow{state: state, account: account}
}

func (e *Escrow) Account() common.Address {
	return e.account
}

func (e *Escrow) NativeBalance() *big.Int {
	return e.state.NativeBalance(e.account)
}

func (e *Escrow) TokenBalance(token common.Address) *big.Int {
	return e.state.BalanceOf(token, e.account)
}

// DepositNative moves value from the caller into escrow.
func (e *Escrow) DepositNative(from common.Address, value *big.Int) error {
	if err := e.state.TransferNative(from, e.account, value); err != nil {
		return errors.Wrap(err, "escrow native deposit")
	}
	return nil
}

// PayNative sends value out of escrow.
func (e *Escrow) PayNative(to common.Address, value *big.Int) error {
	if err := e.state.TransferNative(e.account, to, value); err != nil {
		return errors.Wrap(err, "escrow native payment")
	}
	return nil
}

// PullToken spends from's allowance to the escrow account and returns the
// balance delta the escrow observed.
func (e *Escrow) PullToken(token, from common.Address, amount *big.Int) (*big.Int, error) {
	before := e.TokenBalance(token)
	if err := e.state.TransferFrom(token, e.account, from, e.account, amount); err != nil {
		return nil, errors.Wrap(err, "escrow token pull")
	}
	return new(big.Int).Sub(e.TokenBalance(token), before), nil
}

// PayToken sends amount of token out of escrow.
func (e *Escrow) PayToken(token, to common.Address, amount *big.Int) error {
	if err := e.state.Transfer(token, e.account, to, amount); err != nil {
		return errors.Wrap(err, "escrow token payment")
	}
	return nil
}

// Approve lets spender pull amount of token from escrow.
func (e *Escrow) Approve(token, spender common.Address, amount *big.Int) error {
	if err := e.state.Approve(token, e.account, spender, amount); err != nil {
		return errors.Wrap(err, "escrow approve")
	}
	return nil
}
