// Package grpcserver exposes the exchange over gRPC.
//
// The service is described by a hand-built ServiceDesc and speaks the JSON
// codec, so no generated stubs are needed on either side.
package grpcserver

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"tradebook/domain/orderbook"
	"tradebook/service"
)

const ServiceName = "tradebook.v1.Exchange"

type Server struct {
	x      *service.Exchange
	log    zerolog.Logger
	window time.Duration
	now    func() time.Time
}

type Option func(*Server)

// WithSignatureWindow sets how far a request's signing time may be from
// the server clock.
func WithSignatureWindow(d time.Duration) Option {
	return func(s *Server) { s.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(x *service.Exchange, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		x:      x,
		log:    log.With().Str("module", "grpc").Logger(),
		window: DefaultSignatureWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Exchange returns the exchange the server drives.
func (s *Server) Exchange() *service.Exchange { return s.x }

// exchangeServer is the handler type registered with grpc.
type exchangeServer interface {
	Exchange() *service.Exchange
}

// NewGRPCServer builds a grpc.Server with the logging and signature
// interceptors and the exchange service registered.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	chain := grpc.ChainUnaryInterceptor(Logging(s.log), Authenticate(s.window, s.now))
	opts = append([]grpc.ServerOption{chain}, opts...)
	g := grpc.NewServer(opts...)
	Register(g, s)
	return g
}

func Register(r grpc.ServiceRegistrar, s *Server) {
	r.RegisterService(&ServiceDesc, s)
}

// ---- Orders ----

func (s *Server) PlaceOrder(_ context.Context, in *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ot, err := orderbook.ParseOrderType(in.OrderType)
	if err != nil {
		return nil, err
	}
	st, err := orderbook.ParseSwapType(in.SwapType)
	if err != nil {
		return nil, err
	}
	var p parser
	caller := p.addr("caller", in.Caller)
	params := orderbook.PlaceParams{
		OrderType:         ot,
		SwapType:          st,
		TokenIn:           p.addr("tokenIn", in.TokenIn),
		TokenOut:          p.addr("tokenOut", in.TokenOut),
		AmountInOffered:   p.amount("amountIn", in.AmountIn),
		AmountOutExpected: p.amount("amountOut", in.AmountOut),
		ExecutorFee:       p.amount("executorFee", in.ExecutorFee),
	}
	value := p.amount("value", in.Value)
	if p.err != nil {
		return nil, p.err
	}
	id, err := s.x.Place(caller, params, value)
	if err != nil {
		return nil, err
	}
	return &PlaceOrderResponse{ID: id}, nil
}

func (s *Server) UpdateOrder(_ context.Context, in *UpdateOrderRequest) (*Empty, error) {
	var p parser
	caller := p.addr("caller", in.Caller)
	params := orderbook.UpdateParams{
		AmountInOffered:   p.amount("amountIn", in.AmountIn),
		AmountOutExpected: p.amount("amountOut", in.AmountOut),
		ExecutorFee:       p.amount("executorFee", in.ExecutorFee),
	}
	value := p.amount("value", in.Value)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.Update(caller, in.ID, params, value)
}

func (s *Server) CancelOrder(_ context.Context, in *OrderRef) (*Empty, error) {
	caller, err := parseAddr("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	return &Empty{}, s.x.Cancel(caller, in.ID)
}

func (s *Server) ExecuteOrder(_ context.Context, in *OrderRef) (*ExecuteOrderResponse, error) {
	caller, err := parseAddr("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	ex, err := s.x.Execute(caller, in.ID)
	if err != nil {
		return nil, err
	}
	return &ExecuteOrderResponse{
		AmountIn:  str(ex.AmountIn),
		AmountOut: str(ex.AmountOut),
		Fee:       str(ex.Fee),
		NativeFee: str(ex.NativeFee),
	}, nil
}

func (s *Server) GetOrder(_ context.Context, in *OrderRef) (*Order, error) {
	o, err := s.x.Order(in.ID)
	if err != nil {
		return nil, err
	}
	out := fromOrder(o)
	return &out, nil
}

func (s *Server) ListActiveOrders(_ context.Context, in *ListActiveOrdersRequest) (*ListActiveOrdersResponse, error) {
	if in.Offset < 0 || in.Limit < 0 {
		return nil, ErrBadRequest
	}
	orders, total := s.x.ActiveOrders(in.Offset, in.Limit)
	out := &ListActiveOrdersResponse{Orders: make([]Order, 0, len(orders)), Total: total}
	for _, o := range orders {
		out.Orders = append(out.Orders, fromOrder(o))
	}
	return out, nil
}

func (s *Server) OrdersForAddress(_ context.Context, in *AddressRequest) (*OrderIDsResponse, error) {
	a, err := parseAddr("address", in.Address)
	if err != nil {
		return nil, err
	}
	ids, err := s.x.OrdersForAddress(a)
	if err != nil {
		return nil, err
	}
	return &OrderIDsResponse{IDs: ids}, nil
}

// ---- Reward ledger ----

func (s *Server) Stake(_ context.Context, in *LedgerRequest) (*Empty, error) {
	var p parser
	caller, ledger, amount := p.addr("caller", in.Caller), p.addr("ledger", in.Ledger), p.amount("amount", in.Amount)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.Stake(caller, ledger, amount)
}

func (s *Server) Deposit(_ context.Context, in *LedgerRequest) (*Empty, error) {
	var p parser
	caller, ledger, amount := p.addr("caller", in.Caller), p.addr("ledger", in.Ledger), p.amount("amount", in.Amount)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.Deposit(caller, ledger, amount)
}

func (s *Server) Withdraw(_ context.Context, in *LedgerRequest) (*WithdrawResponse, error) {
	var p parser
	caller, ledger := p.addr("caller", in.Caller), p.addr("ledger", in.Ledger)
	if p.err != nil {
		return nil, p.err
	}
	principal, reward, err := s.x.Withdraw(caller, ledger)
	if err != nil {
		return nil, err
	}
	return &WithdrawResponse{Principal: str(principal), Reward: str(reward)}, nil
}

func (s *Server) Payout(_ context.Context, in *LedgerRequest) (*AmountResponse, error) {
	var p parser
	caller, ledger := p.addr("caller", in.Caller), p.addr("ledger", in.Ledger)
	if p.err != nil {
		return nil, p.err
	}
	reward, err := s.x.Payout(caller, ledger)
	if err != nil {
		return nil, err
	}
	return &AmountResponse{Amount: str(reward)}, nil
}

func (s *Server) StakeInfo(_ context.Context, in *StakeInfoRequest) (*StakeInfoResponse, error) {
	var p parser
	ledger, staker := p.addr("ledger", in.Ledger), p.addr("staker", in.Staker)
	if p.err != nil {
		return nil, p.err
	}
	info, err := s.x.StakeInfo(ledger, staker)
	if err != nil {
		return nil, err
	}
	return &StakeInfoResponse{
		Ledger:     info.Ledger.Hex(),
		Active:     info.Active,
		Principal:  str(info.Principal),
		Owed:       str(info.Owed),
		Timelock:   info.Timelock,
		TotalStake: str(info.TotalStake),
	}, nil
}

// ---- Market desk and incinerator ----

func (s *Server) MarketOrder(_ context.Context, in *MarketOrderRequest) (*MarketOrderResponse, error) {
	st, err := orderbook.ParseSwapType(in.SwapType)
	if err != nil {
		return nil, err
	}
	var p parser
	caller := p.addr("caller", in.Caller)
	path := make([]common.Address, 0, len(in.Path))
	for _, h := range in.Path {
		path = append(path, p.addr("path", h))
	}
	amountIn, minOut, value := p.amount("amountIn", in.AmountIn), p.amount("amountOutMin", in.AmountOutMin), p.amount("value", in.Value)
	if p.err != nil {
		return nil, p.err
	}
	fill, err := s.x.MarketOrder(caller, st, path, amountIn, minOut, value)
	if err != nil {
		return nil, err
	}
	return &MarketOrderResponse{AmountIn: str(fill.AmountIn), AmountOut: str(fill.AmountOut), Fee: str(fill.Fee)}, nil
}

func (s *Server) StakeAndBurn(_ context.Context, in *CallerRequest) (*StakeAndBurnResponse, error) {
	caller, err := parseAddr("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	burn, reward, err := s.x.StakeAndBurn(caller)
	if err != nil {
		return nil, err
	}
	return &StakeAndBurnResponse{Burn: str(burn), Reward: str(reward)}, nil
}

func (s *Server) Burn(_ context.Context, in *BurnRequest) (*Empty, error) {
	var p parser
	caller, value := p.addr("caller", in.Caller), p.amount("value", in.Value)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.Burn(caller, value)
}

// ---- Owner ----

func (s *Server) UpdateConfig(ctx context.Context, in *UpdateConfigRequest) (*ConfigResponse, error) {
	caller, err := parseAddr("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	if in.Fee != nil {
		if err := s.x.UpdateFee(caller, in.Fee.Mul, in.Fee.Div); err != nil {
			return nil, err
		}
	}
	if in.Split != nil {
		if err := s.x.UpdateSplit(caller, in.Split.Mul, in.Split.Div); err != nil {
			return nil, err
		}
	}
	if in.StopMargin != nil {
		if err := s.x.UpdateStopMargin(caller, *in.StopMargin); err != nil {
			return nil, err
		}
	}
	return s.GetConfig(ctx, &Empty{})
}

func (s *Server) GetConfig(context.Context, *Empty) (*ConfigResponse, error) {
	c := s.x.Config()
	return &ConfigResponse{
		Fee:        Fraction{Mul: c.FeeMul, Div: c.FeeDiv},
		Split:      Fraction{Mul: c.SplitMul, Div: c.SplitDiv},
		StopMargin: c.StopMargin,
		Owner:      s.x.Owner().Hex(),
	}, nil
}

func (s *Server) UpdateStaker(_ context.Context, in *TargetRequest) (*Empty, error) {
	var p parser
	caller, target := p.addr("caller", in.Caller), p.addr("target", in.Target)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.UpdateStaker(caller, target)
}

func (s *Server) DeployStaker(_ context.Context, in *CallerRequest) (*AddressResponse, error) {
	caller, err := parseAddr("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	addr, err := s.x.DeployStaker(caller)
	if err != nil {
		return nil, err
	}
	return &AddressResponse{Address: addr.Hex()}, nil
}

func (s *Server) TransferOwnership(_ context.Context, in *TargetRequest) (*Empty, error) {
	var p parser
	caller, target := p.addr("caller", in.Caller), p.addr("target", in.Target)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.TransferOwnership(caller, target)
}

func (s *Server) RenounceOwnership(_ context.Context, in *CallerRequest) (*Empty, error) {
	caller, err := parseAddr("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	return &Empty{}, s.x.RenounceOwnership(caller)
}

// ---- Ledger administration ----

func (s *Server) RegisterToken(_ context.Context, in *RegisterTokenRequest) (*AddressResponse, error) {
	caller, err := parseAddr("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	addr, err := s.x.RegisterToken(caller, in.Symbol, in.TransferFeeBps)
	if err != nil {
		return nil, err
	}
	return &AddressResponse{Address: addr.Hex()}, nil
}

func (s *Server) Mint(_ context.Context, in *MintRequest) (*Empty, error) {
	var p parser
	caller, token, to, amount := p.addr("caller", in.Caller), p.addr("token", in.Token), p.addr("to", in.To), p.amount("amount", in.Amount)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.Mint(caller, token, to, amount)
}

// Fund credits native currency. Token is ignored.
func (s *Server) Fund(_ context.Context, in *MintRequest) (*Empty, error) {
	var p parser
	caller, to, amount := p.addr("caller", in.Caller), p.addr("to", in.To), p.amount("amount", in.Amount)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.Fund(caller, to, amount)
}

func (s *Server) Approve(_ context.Context, in *ApproveRequest) (*Empty, error) {
	var p parser
	caller, token, spender, amount := p.addr("caller", in.Caller), p.addr("token", in.Token), p.addr("spender", in.Spender), p.amount("amount", in.Amount)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.Approve(caller, token, spender, amount)
}

func (s *Server) AddLiquidity(_ context.Context, in *AddLiquidityRequest) (*Empty, error) {
	var p parser
	caller, a, b := p.addr("caller", in.Caller), p.addr("tokenA", in.TokenA), p.addr("tokenB", in.TokenB)
	amountA, amountB := p.amount("amountA", in.AmountA), p.amount("amountB", in.AmountB)
	if p.err != nil {
		return nil, p.err
	}
	return &Empty{}, s.x.AddLiquidity(caller, a, b, amountA, amountB)
}

// Balance reads a token balance, or the native balance when Token is empty.
func (s *Server) Balance(_ context.Context, in *BalanceRequest) (*AmountResponse, error) {
	var p parser
	token, account := p.addr("token", in.Token), p.addr("account", in.Account)
	if p.err != nil {
		return nil, p.err
	}
	return &AmountResponse{Amount: str(s.x.Balance(token, account))}, nil
}

// Audit never fails; a violated invariant is reported in the response.
func (s *Server) Audit(context.Context, *Empty) (*AuditResponse, error) {
	r, err := s.x.Audit()
	out := &AuditResponse{
		OK:           err == nil,
		Seq:          r.Seq,
		ActiveOrders: r.ActiveOrders,
		NextID:       r.NextID,
		EscrowNative: str(r.EscrowNative),
		RewardPool:   str(r.RewardPool),
		DeskRetained: str(r.DeskRetained),
		BurnBatch:    str(r.BurnBatch),
		ActiveStaker: r.ActiveStaker.Hex(),
		TotalStake:   str(r.TotalStake),
		Unattributed: str(r.Unattributed),
		LedgerCount:  r.LedgerCount,
	}
	if err != nil {
		out.Error = err.Error()
		s.log.Error().Err(err).Msg("audit failed")
	}
	return out, nil
}
