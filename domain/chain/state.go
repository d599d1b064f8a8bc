// Package chain is the host ledger the exchange runs on: native balances,
// fungible tokens with allowance based pulls, block time and an undo
// journal that makes every command all-or-nothing.
//
// State is not safe for concurrent use. The service layer is the single
// writer and serializes every call.
package chain

import (
	"math/big"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"tradebook/domain/fault"
)

var (
	ErrInsufficientBalance   = fault.New(fault.External, "transfer amount exceeds balance")
	ErrInsufficientAllowance = fault.New(fault.External, "transfer amount exceeds allowance")
	ErrUnknownToken          = fault.New(fault.Validation, "unknown token")
	ErrTokenExists           = fault.New(fault.Validation, "token already registered")
	ErrNegativeAmount        = fault.New(fault.Validation, "negative amount")
	ErrInvalidTransferFee    = fault.New(fault.Validation, "transfer fee above 100%")
)

// DeadAddress receives burned tokens.
var DeadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// FeeDenominator is the basis point denominator for fee-on-transfer tokens.
const FeeDenominator = 10_000

// Derive returns a deterministic system account for label.
func Derive(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

type token struct {
	symbol     string
	feeBps     uint64
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// TokenInfo describes a registered token.
type TokenInfo struct {
	Address        common.Address
	Symbol         string
	TransferFeeBps uint64
	Supply         *big.Int
}

type State struct {
	clock   Clock
	native  map[common.Address]*big.Int
	tokens  map[common.Address]*token
	journal []func()
	depth   int
}

func NewState(clock Clock) *State {
	return &State{
		clock:  clock,
		native: make(map[common.Address]*big.Int),
		tokens: make(map[common.Address]*token),
	}
}

func (s *State) Now() time.Time {
	return s.clock.Now()
}

// ---- Transactions ----

// Record registers undo to run if the enclosing Atomic call fails.
// Outside of Atomic it is a no-op.
func (s *State) Record(undo func()) {
	if s.depth == 0 {
		return
	}
	s.journal = append(s.journal, undo)
}

// Atomic runs fn as one transaction. If fn returns an error or panics every
// mutation recorded since the call started is undone in reverse order.
// Nested calls roll back only their own mutations.
func (s *State) Atomic(fn func() error) (err error) {
	mark := len(s.journal)
	s.depth++

	committed := false
	defer func() {
		s.depth--
		if !committed {
			s.rollback(mark)
		}
		if s.depth == 0 {
			s.journal = s.journal[:0]
		}
	}()

	if err = fn(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *State) rollback(mark int) {
	for i := len(s.journal) - 1; i >= mark; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:mark]
}

// ---- Native currency ----

func (s *State) NativeBalance(a common.Address) *big.Int {
	return copyOrZero(s.native[a])
}

// Fund mints native currency to a. It models the genesis allocation.
func (s *State) Fund(to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	s.setNative(to, new(big.Int).Add(s.NativeBalance(to), amount))
	return nil
}

func (s *State) TransferNative(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := s.NativeBalance(from)
	if bal.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "native: %s has %s, needs %s", from.Hex(), bal, amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	s.setNative(from, bal.Sub(bal, amount))
	s.setNative(to, new(big.Int).Add(s.NativeBalance(to), amount))
	return nil
}

func (s *State) setNative(a common.Address, v *big.Int) {
	prev, had := s.native[a]
	s.native[a] = v
	s.Record(func() {
		if had {
			s.native[a] = prev
		} else {
			delete(s.native, a)
		}
	})
}

// ---- Tokens ----

// RegisterToken creates a token at addr. feeBps is the share of every
// transfer that is burned in flight, in basis points.
func (s *State) RegisterToken(addr common.Address, symbol string, feeBps uint64) error {
	if _, ok := s.tokens[addr]; ok {
		return errors.Wrapf(ErrTokenExists, "%s", addr.Hex())
	}
	if feeBps > FeeDenominator {
		return ErrInvalidTransferFee
	}
	s.tokens[addr] = &token{
		symbol:     symbol,
		feeBps:     feeBps,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	s.Record(func() { delete(s.tokens, addr) })
	return nil
}

func (s *State) Token(addr common.Address) (TokenInfo, bool) {
	t, ok := s.tokens[addr]
	if !ok {
		return TokenInfo{}, false
	}
	return TokenInfo{
		Address:        addr,
		Symbol:         t.symbol,
		TransferFeeBps: t.feeBps,
		Supply:         new(big.Int).Set(t.supply),
	}, true
}

// Tokens lists registered tokens ordered by address.
func (s *State) Tokens() []TokenInfo {
	out := make([]TokenInfo, 0, len(s.tokens))
	for addr := range s.tokens {
		info, _ := s.Token(addr)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

func (s *State) BalanceOf(tok, a common.Address) *big.Int {
	t, ok := s.tokens[tok]
	if !ok {
		return new(big.Int)
	}
	return copyOrZero(t.balances[a])
}

func (s *State) Allowance(tok, owner, spender common.Address) *big.Int {
	t, ok := s.tokens[tok]
	if !ok {
		return new(big.Int)
	}
	return copyOrZero(t.allowances[owner][spender])
}

func (s *State) Mint(tok, to common.Address, amount *big.Int) error {
	t, err := s.token(tok)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	s.setBalance(tok, t, to, new(big.Int).Add(s.BalanceOf(tok, to), amount))
	s.setSupply(t, new(big.Int).Add(t.supply, amount))
	return nil
}

// Burn destroys amount of tok held by from.
func (s *State) Burn(tok, from common.Address, amount *big.Int) error {
	t, err := s.token(tok)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := s.BalanceOf(tok, from)
	if bal.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "%s: %s has %s, burns %s", t.symbol, from.Hex(), bal, amount)
	}
	s.setBalance(tok, t, from, bal.Sub(bal, amount))
	s.setSupply(t, new(big.Int).Sub(t.supply, amount))
	return nil
}

func (s *State) Approve(tok, owner, spender common.Address, amount *big.Int) error {
	t, err := s.token(tok)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	s.setAllowance(t, owner, spender, new(big.Int).Set(amount))
	return nil
}

// Transfer moves amount from from to to. Fee-on-transfer tokens deliver
// amount minus the fee; callers that need the received amount must
// measure the recipient balance.
func (s *State) Transfer(tok, from, to common.Address, amount *big.Int) error {
	t, err := s.token(tok)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := s.BalanceOf(tok, from)
	if bal.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "%s: %s has %s, needs %s", t.symbol, from.Hex(), bal, amount)
	}
	if amount.Sign() == 0 {
		return nil
	}

	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(t.feeBps))
	fee.Quo(fee, big.NewInt(FeeDenominator))
	received := new(big.Int).Sub(amount, fee)

	s.setBalance(tok, t, from, bal.Sub(bal, amount))
	s.setBalance(tok, t, to, new(big.Int).Add(s.BalanceOf(tok, to), received))
	if fee.Sign() > 0 {
		s.setSupply(t, new(big.Int).Sub(t.supply, fee))
	}
	return nil
}

// TransferFrom moves amount on behalf of owner, spending spender's allowance.
func (s *State) TransferFrom(tok, spender, owner, to common.Address, amount *big.Int) error {
	t, err := s.token(tok)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowed := s.Allowance(tok, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientAllowance, "%s: %s allows %s to %s, needs %s",
			t.symbol, owner.Hex(), allowed, spender.Hex(), amount)
	}
	s.setAllowance(t, owner, spender, allowed.Sub(allowed, amount))
	return s.Transfer(tok, owner, to, amount)
}

func (s *State) token(addr common.Address) (*token, error) {
	t, ok := s.tokens[addr]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownToken, "%s", addr.Hex())
	}
	return t, nil
}

func (s *State) setBalance(tok common.Address, t *token, a common.Address, v *big.Int) {
	prev, had := t.balances[a]
	t.balances[a] = v
	s.Record(func() {
		if had {
			t.balances[a] = prev
		} else {
			delete(t.balances, a)
		}
	})
}

func (s *State) setSupply(t *token, v *big.Int) {
	prev := t.supply
	t.supply = v
	s.Record(func() { t.supply = prev })
}

func (s *State) setAllowance(t *token, owner, spender common.Address, v *big.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	prev, had := m[spender]
	m[spender] = v
	s.Record(func() {
		if had {
			m[spender] = prev
		} else {
			delete(m, spender)
		}
	})
}

func checkAmount(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
