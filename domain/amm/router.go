// Package amm is a constant-product router living on the host ledger.
//
// Pools hold their reserves as ordinary token balances of the pair account,
// wrapped native currency is a token backed one to one by native held at
// the WETH address, and every swap supports fee-on-transfer inputs by
// pricing each hop from what the pair actually received.
package amm

import (
	"math/big"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"tradebook/domain/chain"
	"tradebook/domain/fault"
)

var (
	ErrExpired               = fault.New(fault.External, "router: expired")
	ErrInvalidPath           = fault.New(fault.External, "router: invalid path")
	ErrPairNotFound          = fault.New(fault.External, "router: pair not found")
	ErrInsufficientLiquidity = fault.New(fault.External, "router: insufficient liquidity")
	ErrInsufficientInput     = fault.New(fault.External, "router: insufficient input amount")
	ErrInsufficientOutput    = fault.New(fault.External, "router: insufficient output amount")
	ErrIdenticalTokens       = fault.New(fault.Validation, "router: identical tokens")
)

// MaxDeadline is later than any block time the ledger will reach.
var MaxDeadline = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

const (
	feeNumerator   = 997
	feeDenominator = 1000
)

type Pair struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

type Router struct {
	state   *chain.State
	weth    common.Address
	account common.Address
	pairs   map[common.Address]*Pair
}

// New creates a router and registers its wrapped native token at weth.
func New(state *chain.State, weth common.Address) (*Router, error) {
	if _, ok := state.Token(weth); !ok {
		if err := state.RegisterToken(weth, "WETH", 0); err != nil {
			return nil, errors.Wrap(err, "register wrapped native")
		}
	}
	return &Router{
		state:   state,
		weth:    weth,
		account: chain.Derive("amm/router"),
		pairs:   make(map[common.Address]*Pair),
	}, nil
}

// WETH is the token standing in for native currency on swap paths.
func (r *Router) WETH() common.Address {
	return r.weth
}

// Address is the spender that must be approved before token-in swaps.
func (r *Router) Address() common.Address {
	return r.account
}

// SortTokens orders a pair the way pools store it.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) < 0 {
		return a, b
	}
	return b, a
}

// PairAddress is the deterministic pool account for {a, b}.
func PairAddress(a, b common.Address) common.Address {
	t0, t1 := SortTokens(a, b)
	return common.BytesToAddress(crypto.Keccak256([]byte("amm/pair"), t0.Bytes(), t1.Bytes())[12:])
}

// ---- Pools ----

func (r *Router) CreatePair(a, b common.Address) (common.Address, error) {
	if a == b {
		return common.Address{}, ErrIdenticalTokens
	}
	for _, tok := range []common.Address{a, b} {
		if _, ok := r.state.Token(tok); !ok {
			return common.Address{}, errors.Wrapf(chain.ErrUnknownToken, "%s", tok.Hex())
		}
	}
	addr := PairAddress(a, b)
	if _, ok := r.pairs[addr]; ok {
		return addr, nil
	}
	t0, t1 := SortTokens(a, b)
	r.pairs[addr] = &Pair{Address: addr, Token0: t0, Token1: t1, Reserve0: new(big.Int), Reserve1: new(big.Int)}
	r.state.Record(func() { delete(r.pairs, addr) })
	return addr, nil
}

func (r *Router) Pair(a, b common.Address) (Pair, bool) {
	p, ok := r.pairs[PairAddress(a, b)]
	if !ok {
		return Pair{}, false
	}
	return copyPair(p), true
}

// HasPair reports whether a pool for a and b exists.
func (r *Router) HasPair(a, b common.Address) bool {
	_, ok := r.pairs[PairAddress(a, b)]
	return ok
}

func (r *Router) Pairs() []Pair {
	out := make([]Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, copyPair(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}

// AddLiquidity moves amountA and amountB from provider into the {a, b}
// pool, creating it when needed. Native liquidity is given as the WETH
// token; AddLiquidityETH wraps it first.
func (r *Router) AddLiquidity(provider, a, b common.Address, amountA, amountB *big.Int) error {
	addr, err := r.CreatePair(a, b)
	if err != nil {
		return err
	}
	if err := r.state.Transfer(a, provider, addr, amountA); err != nil {
		return errors.Wrap(err, "add liquidity")
	}
	if err := r.state.Transfer(b, provider, addr, amountB); err != nil {
		return errors.Wrap(err, "add liquidity")
	}
	r.sync(r.pairs[addr])
	return nil
}

func (r *Router) AddLiquidityETH(provider, tok common.Address, amountToken, value *big.Int) error {
	if err := r.wrap(provider, value, provider); err != nil {
		return err
	}
	return r.AddLiquidity(provider, tok, r.weth, amountToken, value)
}

// ---- Quotes ----

// GetAmountOut prices one hop with the 0.3% pool fee.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInput
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(feeNumerator))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator))
	den.Add(den, inWithFee)
	return num.Quo(num, den), nil
}

func (r *Router) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		rIn, rOut, err := r.reserves(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		out, err := GetAmountOut(amounts[i], rIn, rOut)
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// ---- Swaps ----

func (r *Router) SwapExactTokensForTokens(from common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) ([]*big.Int, error) {
	if err := r.checkSwap(path, deadline); err != nil {
		return nil, err
	}
	first := PairAddress(path[0], path[1])
	if err := r.state.TransferFrom(path[0], r.account, from, first, amountIn); err != nil {
		return nil, errors.Wrap(err, "router: pull input")
	}
	return r.swapAndCheck(amountIn, amountOutMin, path, to)
}

func (r *Router) SwapExactETHForTokens(from common.Address, value, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) ([]*big.Int, error) {
	if err := r.checkSwap(path, deadline); err != nil {
		return nil, err
	}
	if path[0] != r.weth {
		return nil, errors.Wrap(ErrInvalidPath, "path must start with WETH")
	}
	if err := r.wrap(from, value, PairAddress(path[0], path[1])); err != nil {
		return nil, err
	}
	return r.swapAndCheck(value, amountOutMin, path, to)
}

func (r *Router) SwapExactTokensForETH(from common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) ([]*big.Int, error) {
	if err := r.checkSwap(path, deadline); err != nil {
		return nil, err
	}
	if path[len(path)-1] != r.weth {
		return nil, errors.Wrap(ErrInvalidPath, "path must end with WETH")
	}
	first := PairAddress(path[0], path[1])
	if err := r.state.TransferFrom(path[0], r.account, from, first, amountIn); err != nil {
		return nil, errors.Wrap(err, "router: pull input")
	}
	amounts, err := r.swapAndCheck(amountIn, amountOutMin, path, r.account)
	if err != nil {
		return nil, err
	}
	if err := r.unwrap(r.account, amounts[len(amounts)-1], to); err != nil {
		return nil, err
	}
	return amounts, nil
}

func (r *Router) checkSwap(path []common.Address, deadline time.Time) error {
	if r.state.Now().After(deadline) {
		return ErrExpired
	}
	if len(path) < 2 {
		return ErrInvalidPath
	}
	for i := 0; i < len(path)-1; i++ {
		if _, ok := r.pairs[PairAddress(path[i], path[i+1])]; !ok {
			return errors.Wrapf(ErrPairNotFound, "%s/%s", path[i].Hex(), path[i+1].Hex())
		}
	}
	return nil
}

// swapAndCheck runs the hops once the input sits in the first pair and
// enforces amountOutMin against what to actually received.
func (r *Router) swapAndCheck(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address) ([]*big.Int, error) {
	last := path[len(path)-1]
	before := r.state.BalanceOf(last, to)

	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		in, out := path[i], path[i+1]
		p := r.pairs[PairAddress(in, out)]

		rIn, rOut := p.Reserve0, p.Reserve1
		if in != p.Token0 {
			rIn, rOut = p.Reserve1, p.Reserve0
		}
		received := new(big.Int).Sub(r.state.BalanceOf(in, p.Address), rIn)
		amountOut, err := GetAmountOut(received, rIn, rOut)
		if err != nil {
			return nil, err
		}

		recipient := to
		if i < len(path)-2 {
			recipient = PairAddress(out, path[i+2])
		}
		if err := r.state.Transfer(out, p.Address, recipient, amountOut); err != nil {
			return nil, errors.Wrap(err, "router: pay output")
		}
		r.sync(p)
		amounts[i+1] = amountOut
	}

	delivered := new(big.Int).Sub(r.state.BalanceOf(last, to), before)
	if delivered.Cmp(amountOutMin) < 0 {
		return nil, errors.Wrapf(ErrInsufficientOutput, "got %s, want at least %s", delivered, amountOutMin)
	}
	return amounts, nil
}

func (r *Router) reserves(in, out common.Address) (*big.Int, *big.Int, error) {
	p, ok := r.pairs[PairAddress(in, out)]
	if !ok {
		return nil, nil, errors.Wrapf(ErrPairNotFound, "%s/%s", in.Hex(), out.Hex())
	}
	if in == p.Token0 {
		return p.Reserve0, p.Reserve1, nil
	}
	return p.Reserve1, p.Reserve0, nil
}

func (r *Router) sync(p *Pair) {
	prev0, prev1 := p.Reserve0, p.Reserve1
	p.Reserve0 = r.state.BalanceOf(p.Token0, p.Address)
	p.Reserve1 = r.state.BalanceOf(p.Token1, p.Address)
	r.state.Record(func() { p.Reserve0, p.Reserve1 = prev0, prev1 })
}

// ---- Wrapped native ----

func (r *Router) wrap(from common.Address, value *big.Int, to common.Address) error {
	if err := r.state.TransferNative(from, r.weth, value); err != nil {
		return errors.Wrap(err, "router: wrap")
	}
	return r.state.Mint(r.weth, to, value)
}

func (r *Router) unwrap(holder common.Address, amount *big.Int, to common.Address) error {
	if err := r.state.Burn(r.weth, holder, amount); err != nil {
		return errors.Wrap(err, "router: unwrap")
	}
	return r.state.TransferNative(r.weth, to, amount)
}

// ---- Snapshot ----

type Snapshot struct {
	Pairs []Pair
}

func (r *Router) Export() Snapshot {
	return Snapshot{Pairs: r.Pairs()}
}

func (r *Router) Restore(s Snapshot) {
	r.pairs = make(map[common.Address]*Pair, len(s.Pairs))
	for _, p := range s.Pairs {
		cp := copyPair(&p)
		r.pairs[p.Address] = &cp
	}
}

func copyPair(p *Pair) Pair {
	return Pair{
		Address:  p.Address,
		Token0:   p.Token0,
		Token1:   p.Token1,
		Reserve0: new(big.Int).Set(p.Reserve0),
		Reserve1: new(big.Int).Set(p.Reserve1),
	}
}
