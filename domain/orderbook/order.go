package orderbook

import (
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

type OrderType uint8
type SwapType uint8
type OrderState uint8

const (
	Limit OrderType = iota
	Stop
)

const (
	TokensForTokens SwapType = iota
	EthForTokens
	TokensForEth
)

const (
	Active OrderState = iota
	Cancelled
	Executed
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Stop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

func (t OrderType) Valid() bool { return t <= Stop }

func (t SwapType) String() string {
	switch t {
	case TokensForTokens:
		return "TOKENS_FOR_TOKENS"
	case EthForTokens:
		return "ETH_FOR_TOKENS"
	case TokensForEth:
		return "TOKENS_FOR_ETH"
	default:
		return "UNKNOWN"
	}
}

func (t SwapType) Valid() bool { return t <= TokensForEth }

// NativeIn reports whether the maker pays with native currency.
func (t SwapType) NativeIn() bool { return t == EthForTokens }

func (s OrderState) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Cancelled:
		return "CANCELLED"
	case Executed:
		return "EXECUTED"
	default:
		return "UNKNOWN"
	}
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(s) {
	case "LIMIT", "0":
		return Limit, nil
	case "STOP", "1":
		return Stop, nil
	}
	return 0, errors.Wrapf(ErrInvalidOrderType, "%q", s)
}

func ParseSwapType(s string) (SwapType, error) {
	switch strings.ToUpper(s) {
	case "TOKENS_FOR_TOKENS", "0":
		return TokensForTokens, nil
	case "ETH_FOR_TOKENS", "1":
		return EthForTokens, nil
	case "TOKENS_FOR_ETH", "2":
		return TokensForEth, nil
	}
	return 0, errors.Wrapf(ErrInvalidSwapType, "%q", s)
}

// Order is a standing swap request whose input sits in escrow.
//
// AmountInOffered is what escrow actually received, which is less than the
// request for fee-on-transfer tokens. TotalEthDeposited is the native
// currency escrowed for the order: the executor fee, plus the offered
// amount when the input is native.
type Order struct {
	ID                uint64
	OrderType         OrderType
	SwapType          SwapType
	Maker             common.Address
	TokenIn           common.Address
	TokenOut          common.Address
	AmountInOffered   *big.Int
	AmountOutExpected *big.Int
	ExecutorFee       *big.Int
	TotalEthDeposited *big.Int
	State             OrderState
	Deflationary      bool
}

func (o *Order) Clone() *Order {
	cp := *o
	cp.AmountInOffered = new(big.Int).Set(o.AmountInOffered)
	cp.AmountOutExpected = new(big.Int).Set(o.AmountOutExpected)
	cp.ExecutorFee = new(big.Int).Set(o.ExecutorFee)
	cp.TotalEthDeposited = new(big.Int).Set(o.TotalEthDeposited)
	return &cp
}

func (o *Order) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("id", o.ID).
		Stringer("orderType", o.OrderType).
		Stringer("swapType", o.SwapType).
		Str("maker", o.Maker.Hex()).
		Str("tokenIn", o.TokenIn.Hex()).
		Str("tokenOut", o.TokenOut.Hex()).
		Str("amountIn", o.AmountInOffered.String()).
		Str("amountOut", o.AmountOutExpected.String()).
		Str("executorFee", o.ExecutorFee.String()).
		Stringer("state", o.State).
		Bool("deflationary", o.Deflationary)
}

// PairKey indexes orders by trading pair regardless of direction.
func PairKey(a, b common.Address) common.Address {
	if b.Cmp(a) < 0 {
		a, b = b, a
	}
	return common.BytesToAddress(crypto.Keccak256(a.Bytes(), b.Bytes())[12:])
}
