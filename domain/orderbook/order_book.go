// Package orderbook is the order engine: limit and stop orders escrowed on
// the host ledger and filled against an AMM router by whoever calls
// Execute.
//
// Engine is single-writer. Every command runs inside chain.State.Atomic so
// a failure anywhere, including inside the router, leaves escrow, the
// registry and the configuration exactly as they were.
package orderbook

import (
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/chain"
	"tradebook/domain/escrow"
	"tradebook/domain/event"
)

// MaxDeadline is passed to every router call.
var MaxDeadline = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Router is the AMM the engine swaps through.
type Router interface {
	WETH() common.Address
	Address() common.Address
	HasPair(a, b common.Address) bool
	GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	SwapExactTokensForTokens(from common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) ([]*big.Int, error)
	SwapExactETHForTokens(from common.Address, value, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) ([]*big.Int, error)
	SwapExactTokensForETH(from common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) ([]*big.Int, error)
}

// BurnSink accepts the burn share of every fee.
type BurnSink interface {
	Burn(from common.Address, value *big.Int) error
}

// RewardSink accepts the staker share of every fee.
type RewardSink interface {
	Address() common.Address
	TotalStake() *big.Int
	Deposit(from common.Address, value *big.Int) error
}

type Deps struct {
	State  *chain.State
	Escrow *escrow.Escrow
	Router Router
	Burner BurnSink
	Staker RewardSink
	Owner  common.Address
	Config Config
	Events event.Sink
}

type Engine struct {
	state    *chain.State
	escrow   *escrow.Escrow
	router   Router
	burner   BurnSink
	staker   RewardSink
	owner    common.Address
	cfg      Config
	registry *Registry
	nextID   uint64

	// rewardPool is the staker share of fees collected while nobody was
	// staked. It stays in escrow until a deposit can be made.
	rewardPool *big.Int

	events event.Sink
}

func New(d Deps) (*Engine, error) {
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	if d.Events == nil {
		d.Events = event.Discard{}
	}
	return &Engine{
		state:      d.State,
		escrow:     d.Escrow,
		router:     d.Router,
		burner:     d.Burner,
		staker:     d.Staker,
		owner:      d.Owner,
		cfg:        d.Config,
		registry:   NewRegistry(d.State),
		rewardPool: new(big.Int),
		events:     d.Events,
	}, nil
}

// Address is the escrow account makers approve for token-in orders.
func (e *Engine) Address() common.Address {
	return e.escrow.Account()
}

// ---- Place ----

type PlaceParams struct {
	OrderType         OrderType
	SwapType          SwapType
	TokenIn           common.Address
	TokenOut          common.Address
	AmountInOffered   *big.Int
	AmountOutExpected *big.Int
	ExecutorFee       *big.Int
}

// Place escrows the maker's input and executor fee and stores an Active
// order. value is the native currency attached to the call.
func (e *Engine) Place(maker common.Address, p PlaceParams, value *big.Int) (id uint64, err error) {
	err = e.state.Atomic(func() error {
		if err := e.validatePlace(p); err != nil {
			return err
		}

		required := new(big.Int).Set(p.ExecutorFee)
		if p.SwapType.NativeIn() {
			required.Add(required, p.AmountInOffered)
		}
		if value == nil || value.Cmp(required) != 0 {
			if p.SwapType.NativeIn() {
				return errors.Wrap(ErrValueMismatch, "transaction value must match offer and fee")
			}
			return errors.Wrap(ErrValueMismatch, "transaction value must match executor fee")
		}
		if err := e.escrow.DepositNative(maker, value); err != nil {
			return err
		}

		amountIn := new(big.Int).Set(p.AmountInOffered)
		deflationary := false
		if !p.SwapType.NativeIn() {
			received, err := e.escrow.PullToken(p.TokenIn, maker, p.AmountInOffered)
			if err != nil {
				return err
			}
			if received.Sign() == 0 {
				return errors.Wrap(ErrInvalidAmount, "nothing received")
			}
			deflationary = received.Cmp(p.AmountInOffered) < 0
			amountIn = received
		}

		o := &Order{
			ID:                e.nextID,
			OrderType:         p.OrderType,
			SwapType:          p.SwapType,
			Maker:             maker,
			TokenIn:           p.TokenIn,
			TokenOut:          p.TokenOut,
			AmountInOffered:   amountIn,
			AmountOutExpected: new(big.Int).Set(p.AmountOutExpected),
			ExecutorFee:       new(big.Int).Set(p.ExecutorFee),
			TotalEthDeposited: new(big.Int).Set(value),
			State:             Active,
			Deflationary:      deflationary,
		}
		e.registry.Insert(o, maker, PairKey(p.TokenIn, p.TokenOut))
		e.setNextID(e.nextID + 1)
		id = o.ID

		e.events.Emit(event.OrderPlaced{
			ID:                o.ID,
			OrderType:         uint8(o.OrderType),
			SwapType:          uint8(o.SwapType),
			Maker:             maker,
			TokenIn:           o.TokenIn,
			TokenOut:          o.TokenOut,
			AmountInOffered:   new(big.Int).Set(o.AmountInOffered),
			AmountOutExpected: new(big.Int).Set(o.AmountOutExpected),
			ExecutorFee:       new(big.Int).Set(o.ExecutorFee),
			TotalEthDeposited: new(big.Int).Set(o.TotalEthDeposited),
		})
		return nil
	})
	return id, err
}

func (e *Engine) validatePlace(p PlaceParams) error {
	if !p.OrderType.Valid() {
		return ErrInvalidOrderType
	}
	if !p.SwapType.Valid() {
		return ErrInvalidSwapType
	}
	if err := positive(p.AmountInOffered, p.AmountOutExpected, p.ExecutorFee); err != nil {
		return err
	}
	if p.TokenIn == p.TokenOut {
		return ErrSameToken
	}

	native := e.router.WETH()
	switch p.SwapType {
	case EthForTokens:
		if p.TokenIn != native {
			return errors.Wrap(ErrWrongTokenSide, "token in must be the native currency")
		}
	case TokensForEth:
		if p.TokenOut != native {
			return errors.Wrap(ErrWrongTokenSide, "token out must be the native currency")
		}
	case TokensForTokens:
		if p.TokenIn == native || p.TokenOut == native {
			return errors.Wrap(ErrWrongTokenSide, "token swaps cannot involve the native currency")
		}
	}

	if !e.router.HasPair(p.TokenIn, p.TokenOut) {
		return errors.Wrapf(ErrUnavailablePair, "%s/%s", p.TokenIn.Hex(), p.TokenOut.Hex())
	}
	// Token to token fees are converted to native through tokenOut/WETH.
	if p.SwapType == TokensForTokens && !e.router.HasPair(p.TokenOut, native) {
		return errors.Wrapf(ErrUnavailablePair, "%s/%s", p.TokenOut.Hex(), native.Hex())
	}
	return nil
}

// ---- Update ----

type UpdateParams struct {
	AmountInOffered   *big.Int
	AmountOutExpected *big.Int
	ExecutorFee       *big.Int
}

// Update changes an Active order's amounts. Increases are pulled from the
// maker, decreases refunded.
func (e *Engine) Update(caller common.Address, id uint64, p UpdateParams, value *big.Int) error {
	return e.state.Atomic(func() error {
		cur, err := e.ownedActive(caller, id)
		if err != nil {
			return err
		}
		if err := positive(p.AmountInOffered, p.AmountOutExpected, p.ExecutorFee); err != nil {
			return err
		}
		if value == nil {
			value = new(big.Int)
		}
		o := cur.Clone()
		nativeIn := o.SwapType.NativeIn()

		required := new(big.Int).Set(p.ExecutorFee)
		if nativeIn {
			required.Add(required, p.AmountInOffered)
		}
		delta := new(big.Int).Sub(required, o.TotalEthDeposited)
		switch delta.Sign() {
		case 1:
			if value.Cmp(delta) != 0 {
				if nativeIn {
					return errors.Wrap(ErrValueMismatch, "additional deposit must match")
				}
				return errors.Wrap(ErrValueMismatch, "additional fee must match")
			}
			if err := e.escrow.DepositNative(caller, value); err != nil {
				return err
			}
		default:
			if value.Sign() != 0 {
				return errors.Wrap(ErrValueMismatch, "no value expected when the deposit does not grow")
			}
			if delta.Sign() < 0 {
				if err := e.escrow.PayNative(o.Maker, new(big.Int).Neg(delta)); err != nil {
					return err
				}
			}
		}

		amountIn := new(big.Int).Set(p.AmountInOffered)
		if !nativeIn {
			tokDelta := new(big.Int).Sub(p.AmountInOffered, o.AmountInOffered)
			switch tokDelta.Sign() {
			case 1:
				received, err := e.escrow.PullToken(o.TokenIn, caller, tokDelta)
				if err != nil {
					return err
				}
				if received.Cmp(tokDelta) < 0 {
					o.Deflationary = true
				}
				amountIn = received.Add(received, o.AmountInOffered)
			case -1:
				if err := e.escrow.PayToken(o.TokenIn, o.Maker, tokDelta.Neg(tokDelta)); err != nil {
					return err
				}
			}
		}

		o.AmountInOffered = amountIn
		o.AmountOutExpected = new(big.Int).Set(p.AmountOutExpected)
		o.ExecutorFee = new(big.Int).Set(p.ExecutorFee)
		o.TotalEthDeposited = required
		e.registry.Replace(o)

		e.events.Emit(event.OrderUpdated{
			ID:                o.ID,
			AmountInOffered:   new(big.Int).Set(o.AmountInOffered),
			AmountOutExpected: new(big.Int).Set(o.AmountOutExpected),
			ExecutorFee:       new(big.Int).Set(o.ExecutorFee),
		})
		return nil
	})
}

// ---- Cancel ----

// Cancel refunds the whole escrow of an Active order to its maker.
func (e *Engine) Cancel(caller common.Address, id uint64) error {
	return e.state.Atomic(func() error {
		cur, err := e.ownedActive(caller, id)
		if err != nil {
			return err
		}
		o := cur.Clone()

		if err := e.escrow.PayNative(o.Maker, o.TotalEthDeposited); err != nil {
			return err
		}
		if !o.SwapType.NativeIn() {
			if err := e.escrow.PayToken(o.TokenIn, o.Maker, o.AmountInOffered); err != nil {
				return err
			}
		}

		o.State = Cancelled
		e.registry.Replace(o)
		e.registry.Deactivate(o.ID)

		e.events.Emit(event.OrderCancelled{ID: o.ID})
		return nil
	})
}

// ---- Helpers ----

func (e *Engine) lookup(id uint64) (*Order, error) {
	o, ok := e.registry.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrOrderNotFound, "id %d", id)
	}
	return o, nil
}

func (e *Engine) ownedActive(caller common.Address, id uint64) (*Order, error) {
	o, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if o.Maker != caller {
		return nil, ErrPermissionDenied
	}
	if o.State != Active {
		return nil, errors.Wrapf(ErrOrderNotActive, "order %d is %s", id, o.State)
	}
	return o, nil
}

func (e *Engine) setNextID(v uint64) {
	prev := e.nextID
	e.nextID = v
	e.state.Record(func() { e.nextID = prev })
}

func positive(vs ...*big.Int) error {
	for _, v := range vs {
		if v == nil || v.Sign() <= 0 {
			return ErrInvalidAmount
		}
	}
	return nil
}
