package grpcserver

import (
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/fault"
	"tradebook/domain/orderbook"
)

// Amounts travel as base-10 strings and addresses as 0x hex. An empty
// amount is zero; an empty address is the zero address.

var ErrBadRequest = fault.New(fault.Validation, "malformed request")

type Empty struct{}

type Order struct {
	ID                uint64 `json:"id"`
	OrderType         string `json:"orderType"`
	SwapType          string `json:"swapType"`
	Maker             string `json:"maker"`
	TokenIn           string `json:"tokenIn"`
	TokenOut          string `json:"tokenOut"`
	AmountInOffered   string `json:"amountInOffered"`
	AmountOutExpected string `json:"amountOutExpected"`
	ExecutorFee       string `json:"executorFee"`
	TotalEthDeposited string `json:"totalEthDeposited"`
	State             string `json:"state"`
	Deflationary      bool   `json:"deflationary"`
}

func fromOrder(o orderbook.Order) Order {
	return Order{
		ID:                o.ID,
		OrderType:         o.OrderType.String(),
		SwapType:          o.SwapType.String(),
		Maker:             o.Maker.Hex(),
		TokenIn:           o.TokenIn.Hex(),
		TokenOut:          o.TokenOut.Hex(),
		AmountInOffered:   o.AmountInOffered.String(),
		AmountOutExpected: o.AmountOutExpected.String(),
		ExecutorFee:       o.ExecutorFee.String(),
		TotalEthDeposited: o.TotalEthDeposited.String(),
		State:             o.State.String(),
		Deflationary:      o.Deflationary,
	}
}

// ---- Orders ----

type PlaceOrderRequest struct {
	Caller      string `json:"caller"`
	OrderType   string `json:"orderType"`
	SwapType    string `json:"swapType"`
	TokenIn     string `json:"tokenIn"`
	TokenOut    string `json:"tokenOut"`
	AmountIn    string `json:"amountIn"`
	AmountOut   string `json:"amountOut"`
	ExecutorFee string `json:"executorFee"`
	Value       string `json:"value"`
}

type PlaceOrderResponse struct {
	ID uint64 `json:"id"`
}

type UpdateOrderRequest struct {
	Caller      string `json:"caller"`
	ID          uint64 `json:"id"`
	AmountIn    string `json:"amountIn"`
	AmountOut   string `json:"amountOut"`
	ExecutorFee string `json:"executorFee"`
	Value       string `json:"value"`
}

type OrderRef struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type ExecuteOrderResponse struct {
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Fee       string `json:"fee"`
	NativeFee string `json:"nativeFee"`
}

type ListActiveOrdersRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type ListActiveOrdersResponse struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
}

type AddressRequest struct {
	Address string `json:"address"`
}

type OrderIDsResponse struct {
	IDs []uint64 `json:"ids"`
}

// ---- Reward ledger ----

// LedgerRequest addresses a reward ledger; an empty Ledger is the active one.
type LedgerRequest struct {
	Caller string `json:"caller"`
	Ledger string `json:"ledger"`
	Amount string `json:"amount"`
}

type WithdrawResponse struct {
	Principal string `json:"principal"`
	Reward    string `json:"reward"`
}

type AmountResponse struct {
	Amount string `json:"amount"`
}

type StakeInfoRequest struct {
	Ledger string `json:"ledger"`
	Staker string `json:"staker"`
}

type StakeInfoResponse struct {
	Ledger     string    `json:"ledger"`
	Active     bool      `json:"active"`
	Principal  string    `json:"principal"`
	Owed       string    `json:"owed"`
	Timelock   time.Time `json:"timelock"`
	TotalStake string    `json:"totalStake"`
}

// ---- Market desk and incinerator ----

type MarketOrderRequest struct {
	Caller       string   `json:"caller"`
	SwapType     string   `json:"swapType"`
	Path         []string `json:"path"`
	AmountIn     string   `json:"amountIn"`
	AmountOutMin string   `json:"amountOutMin"`
	Value        string   `json:"value"`
}

type MarketOrderResponse struct {
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Fee       string `json:"fee"`
}

type CallerRequest struct {
	Caller string `json:"caller"`
}

type StakeAndBurnResponse struct {
	Burn   string `json:"burn"`
	Reward string `json:"reward"`
}

type BurnRequest struct {
	Caller string `json:"caller"`
	Value  string `json:"value"`
}

// ---- Owner ----

type Fraction struct {
	Mul uint64 `json:"mul"`
	Div uint64 `json:"div"`
}

// UpdateConfigRequest changes each field that is set, fee first. Fields
// are applied as separate commands.
type UpdateConfigRequest struct {
	Caller     string    `json:"caller"`
	Fee        *Fraction `json:"fee,omitempty"`
	Split      *Fraction `json:"split,omitempty"`
	StopMargin *uint64   `json:"stopMargin,omitempty"`
}

type ConfigResponse struct {
	Fee        Fraction `json:"fee"`
	Split      Fraction `json:"split"`
	StopMargin uint64   `json:"stopMargin"`
	Owner      string   `json:"owner"`
}

type TargetRequest struct {
	Caller string `json:"caller"`
	Target string `json:"target"`
}

type AddressResponse struct {
	Address string `json:"address"`
}

// ---- Ledger administration ----

type RegisterTokenRequest struct {
	Caller         string `json:"caller"`
	Symbol         string `json:"symbol"`
	TransferFeeBps uint64 `json:"transferFeeBps"`
}

type MintRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type ApproveRequest struct {
	Caller  string `json:"caller"`
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type AddLiquidityRequest struct {
	Caller  string `json:"caller"`
	TokenA  string `json:"tokenA"`
	TokenB  string `json:"tokenB"`
	AmountA string `json:"amountA"`
	AmountB string `json:"amountB"`
}

type BalanceRequest struct {
	Token   string `json:"token"`
	Account string `json:"account"`
}

type AuditResponse struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	Seq          uint64 `json:"seq"`
	ActiveOrders int    `json:"activeOrders"`
	NextID       uint64 `json:"nextId"`
	EscrowNative string `json:"escrowNative"`
	RewardPool   string `json:"rewardPool"`
	DeskRetained string `json:"deskRetained"`
	BurnBatch    string `json:"burnBatch"`
	ActiveStaker string `json:"activeStaker"`
	TotalStake   string `json:"totalStake"`
	Unattributed string `json:"unattributed"`
	LedgerCount  int    `json:"ledgerCount"`
}

// ---- Parsing ----

func parseAddr(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(ErrBadRequest, "%s: %q is not an address", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.Wrapf(ErrBadRequest, "%s: %q is not a non-negative integer", field, s)
	}
	return v, nil
}

// parser collects the first error across several fields.
type parser struct{ err error }

func (p *parser) addr(field, s string) common.Address {
	if p.err != nil {
		return common.Address{}
	}
	a, err := parseAddr(field, s)
	p.err = err
	return a
}

func (p *parser) amount(field, s string) *big.Int {
	if p.err != nil {
		return nil
	}
	v, err := parseAmount(field, s)
	p.err = err
	return v
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
