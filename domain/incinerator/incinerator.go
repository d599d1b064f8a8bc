// Package incinerator is the burn sink for the burn share of exchange fees.
//
// Payments are batched in the incinerator account. Once per interval the
// whole batch is swapped into the burn token and sent to the dead address.
package incinerator

import (
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"tradebook/domain/chain"
	"tradebook/domain/event"
	"tradebook/domain/fault"
	"tradebook/domain/orderbook"
)

// DefaultInterval is the minimum time between two burns.
const DefaultInterval = 24 * time.Hour

var ErrNothingToBurn = fault.New(fault.Validation, "nothing to burn")

type Incinerator struct {
	state     *chain.State
	router    orderbook.Router
	account   common.Address
	burnToken common.Address
	interval  time.Duration
	lastBurn  time.Time
	events    event.Sink
	log       zerolog.Logger
}

func New(state *chain.State, router orderbook.Router, account, burnToken common.Address, interval time.Duration, sink event.Sink, log zerolog.Logger) *Incinerator {
	if interval == 0 {
		interval = DefaultInterval
	}
	if sink == nil {
		sink = event.Discard{}
	}
	return &Incinerator{
		state:     state,
		router:    router,
		account:   account,
		burnToken: burnToken,
		interval:  interval,
		lastBurn:  state.Now(),
		events:    sink,
		log:       log.With().Str("module", "incinerator").Logger(),
	}
}

func (i *Incinerator) Address() common.Address   { return i.account }
func (i *Incinerator) BurnToken() common.Address { return i.burnToken }
func (i *Incinerator) LastBurn() time.Time       { return i.lastBurn }

// Batch is the native currency waiting for the next burn.
func (i *Incinerator) Batch() *big.Int {
	return i.state.NativeBalance(i.account)
}

// Burn takes value from from. When the interval has passed the batch is
// burned. A failed swap does not fail the payment: the batch is kept for
// the next call and BurnDeferred is emitted.
func (i *Incinerator) Burn(from common.Address, value *big.Int) error {
	if value == nil || value.Sign() <= 0 {
		return ErrNothingToBurn
	}
	if err := i.state.TransferNative(from, i.account, value); err != nil {
		return errors.Wrap(err, "collect burn")
	}
	i.events.Emit(event.ToBurn{Value: new(big.Int).Set(value)})

	now := i.state.Now()
	if now.Sub(i.lastBurn) < i.interval {
		return nil
	}

	batch := i.Batch()
	var burned *big.Int
	err := i.state.Atomic(func() error {
		path := []common.Address{i.router.WETH(), i.burnToken}
		amounts, err := i.router.SwapExactETHForTokens(i.account, batch, new(big.Int), path, chain.DeadAddress, orderbook.MaxDeadline)
		if err != nil {
			return err
		}
		burned = amounts[len(amounts)-1]
		return nil
	})
	if err != nil {
		i.log.Warn().Err(err).Str("batch", batch.String()).Msg("burn swap failed, batch kept")
		i.events.Emit(event.BurnDeferred{Batch: new(big.Int).Set(batch), Reason: err.Error()})
		return nil
	}

	prev := i.lastBurn
	i.lastBurn = now
	i.state.Record(func() { i.lastBurn = prev })
	i.events.Emit(event.Burned{NativeIn: batch, TokensBurned: burned})
	return nil
}

type Snapshot struct {
	Account   common.Address
	BurnToken common.Address
	Interval  time.Duration
	LastBurn  time.Time
}

func (i *Incinerator) Export() Snapshot {
	return Snapshot{Account: i.account, BurnToken: i.burnToken, Interval: i.interval, LastBurn: i.lastBurn}
}

func (i *Incinerator) Restore(s Snapshot) {
	i.account = s.Account
	i.burnToken = s.BurnToken
	i.interval = s.Interval
	i.lastBurn = s.LastBurn
}
