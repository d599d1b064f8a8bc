// Package event defines the observable events of the exchange and the sink
// components emit them into.
//
// Components never publish directly. The service hands each command a fresh
// Buffer and only drains it into the outbox after the command committed, so
// a rolled back command leaves no events behind.
package event

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

type Event interface {
	Name() string
}

type Sink interface {
	Emit(Event)
}

// Buffer collects events for a single command.
type Buffer struct {
	events []Event
}

func (b *Buffer) Emit(e Event) {
	b.events = append(b.events, e)
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	out := b.events
	b.events = nil
	return out
}

func (b *Buffer) Len() int {
	return len(b.events)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// ---- Orders ----

type OrderPlaced struct {
	ID                uint64         `json:"id"`
	OrderType         uint8          `json:"orderType"`
	SwapType          uint8          `json:"swapType"`
	Maker             common.Address `json:"maker"`
	TokenIn           common.Address `json:"tokenIn"`
	TokenOut          common.Address `json:"tokenOut"`
	AmountInOffered   *big.Int       `json:"amountInOffered"`
	AmountOutExpected *big.Int       `json:"amountOutExpected"`
	ExecutorFee       *big.Int       `json:"executorFee"`
	TotalEthDeposited *big.Int       `json:"totalEthDeposited"`
}

type OrderCancelled struct {
	ID uint64 `json:"id"`
}

type OrderUpdated struct {
	ID                uint64   `json:"id"`
	AmountInOffered   *big.Int `json:"amountInOffered"`
	AmountOutExpected *big.Int `json:"amountOutExpected"`
	ExecutorFee       *big.Int `json:"executorFee"`
}

type OrderExecuted struct {
	ID       uint64         `json:"id"`
	Executor common.Address `json:"executor"`
	Amounts  [2]*big.Int    `json:"amounts"`
	Fee      *big.Int       `json:"fee"`
}

func (OrderPlaced) Name() string    { return "OrderPlaced" }
func (OrderCancelled) Name() string { return "OrderCancelled" }
func (OrderUpdated) Name() string   { return "OrderUpdated" }
func (OrderExecuted) Name() string  { return "OrderExecuted" }

// ---- Staking ----

type Stake struct {
	Staker common.Address `json:"staker"`
	Amount *big.Int       `json:"amount"`
}

type Withdraw struct {
	Staker    common.Address `json:"staker"`
	Principal *big.Int       `json:"principal"`
	Reward    *big.Int       `json:"reward"`
}

type Deposit struct {
	Depositor common.Address `json:"depositor"`
	Value     *big.Int       `json:"value"`
}

func (Stake) Name() string    { return "Stake" }
func (Withdraw) Name() string { return "Withdraw" }
func (Deposit) Name() string  { return "Deposit" }

// ---- Configuration ----

type StakerUpdated struct {
	Staker common.Address `json:"staker"`
}

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previousOwner"`
	NewOwner      common.Address `json:"newOwner"`
}

type FeeUpdated struct {
	Mul uint64 `json:"mul"`
	Div uint64 `json:"div"`
}

type SplitUpdated struct {
	Mul uint64 `json:"mul"`
	Div uint64 `json:"div"`
}

type StopMarginUpdated struct {
	Margin uint64 `json:"margin"`
}

func (StakerUpdated) Name() string        { return "StakerUpdated" }
func (OwnershipTransferred) Name() string { return "OwnershipTransferred" }
func (FeeUpdated) Name() string           { return "FeeUpdated" }
func (SplitUpdated) Name() string         { return "SplitUpdated" }
func (StopMarginUpdated) Name() string    { return "StopMarginUpdated" }

// ---- Burn sink and market desk ----

type ToBurn struct {
	Value *big.Int `json:"value"`
}

type Burned struct {
	NativeIn     *big.Int `json:"nativeIn"`
	TokensBurned *big.Int `json:"tokensBurned"`
}

// BurnDeferred reports a burn swap that failed; the batch waits for the
// next payment.
type BurnDeferred struct {
	Batch  *big.Int `json:"batch"`
	Reason string   `json:"reason"`
}

type MarketOrderExecuted struct {
	Trader            common.Address   `json:"trader"`
	Path              []common.Address `json:"path"`
	AmountIn          *big.Int         `json:"amountIn"`
	AmountOutExpected *big.Int         `json:"amountOutExpected"`
	Amounts           [2]*big.Int      `json:"amounts"`
	Fee               *big.Int         `json:"fee"`
}

func (ToBurn) Name() string              { return "ToBurn" }
func (Burned) Name() string              { return "Burned" }
func (BurnDeferred) Name() string        { return "BurnDeferred" }
func (MarketOrderExecuted) Name() string { return "MarketOrderExecuted" }

// ---- Wire form ----

// Envelope is the published form of an event.
type Envelope struct {
	Seq  uint64          `json:"seq"`
	Name string          `json:"name"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Marshal encodes e with its outbox sequence and commit time. Integers are
// written as JSON numbers so no precision is lost.
func Marshal(seq uint64, at time.Time, e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", e.Name())
	}
	return json.Marshal(Envelope{Seq: seq, Name: e.Name(), Time: at.UTC(), Data: data})
}

func Unmarshal(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}
