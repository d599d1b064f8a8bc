package grpcserver

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client calls the exchange service over an existing connection. Requests
// whose caller has a key in the client are signed with it.
type Client struct {
	cc   grpc.ClientConnInterface
	keys map[common.Address]*ecdsa.PrivateKey
}

func NewClient(cc grpc.ClientConnInterface, keys ...*ecdsa.PrivateKey) *Client {
	c := &Client{cc: cc, keys: make(map[common.Address]*ecdsa.PrivateKey, len(keys))}
	for _, k := range keys {
		c.keys[crypto.PubkeyToAddress(k.PublicKey)] = k
	}
	return c
}

func (c *Client) sign(ctx context.Context, fullMethod string, in any) (context.Context, error) {
	cr, ok := in.(callerRequest)
	if !ok || !common.IsHexAddress(cr.caller()) {
		return ctx, nil
	}
	key, ok := c.keys[common.HexToAddress(cr.caller())]
	if !ok {
		return ctx, nil
	}
	md, err := SignRequest(key, fullMethod, time.Now(), in)
	if err != nil {
		return nil, err
	}
	for k, v := range md {
		ctx = metadata.AppendToOutgoingContext(ctx, k, v[0])
	}
	return ctx, nil
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	full := "/" + ServiceName + "/" + method
	ctx, err := c.sign(ctx, full, in)
	if err != nil {
		return nil, err
	}
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, full, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	return invoke[PlaceOrderResponse](ctx, c, "PlaceOrder", in, opts)
}

func (c *Client) UpdateOrder(ctx context.Context, in *UpdateOrderRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "UpdateOrder", in, opts)
}

func (c *Client) CancelOrder(ctx context.Context, in *OrderRef, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "CancelOrder", in, opts)
}

func (c *Client) ExecuteOrder(ctx context.Context, in *OrderRef, opts ...grpc.CallOption) (*ExecuteOrderResponse, error) {
	return invoke[ExecuteOrderResponse](ctx, c, "ExecuteOrder", in, opts)
}

func (c *Client) GetOrder(ctx context.Context, in *OrderRef, opts ...grpc.CallOption) (*Order, error) {
	return invoke[Order](ctx, c, "GetOrder", in, opts)
}

func (c *Client) ListActiveOrders(ctx context.Context, in *ListActiveOrdersRequest, opts ...grpc.CallOption) (*ListActiveOrdersResponse, error) {
	return invoke[ListActiveOrdersResponse](ctx, c, "ListActiveOrders", in, opts)
}

func (c *Client) OrdersForAddress(ctx context.Context, in *AddressRequest, opts ...grpc.CallOption) (*OrderIDsResponse, error) {
	return invoke[OrderIDsResponse](ctx, c, "OrdersForAddress", in, opts)
}

func (c *Client) Stake(ctx context.Context, in *LedgerRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "Stake", in, opts)
}

func (c *Client) Deposit(ctx context.Context, in *LedgerRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "Deposit", in, opts)
}

func (c *Client) Withdraw(ctx context.Context, in *LedgerRequest, opts ...grpc.CallOption) (*WithdrawResponse, error) {
	return invoke[WithdrawResponse](ctx, c, "Withdraw", in, opts)
}

func (c *Client) Payout(ctx context.Context, in *LedgerRequest, opts ...grpc.CallOption) (*AmountResponse, error) {
	return invoke[AmountResponse](ctx, c, "Payout", in, opts)
}

func (c *Client) StakeInfo(ctx context.Context, in *StakeInfoRequest, opts ...grpc.CallOption) (*StakeInfoResponse, error) {
	return invoke[StakeInfoResponse](ctx, c, "StakeInfo", in, opts)
}

func (c *Client) MarketOrder(ctx context.Context, in *MarketOrderRequest, opts ...grpc.CallOption) (*MarketOrderResponse, error) {
	return invoke[MarketOrderResponse](ctx, c, "MarketOrder", in, opts)
}

func (c *Client) StakeAndBurn(ctx context.Context, in *CallerRequest, opts ...grpc.CallOption) (*StakeAndBurnResponse, error) {
	return invoke[StakeAndBurnResponse](ctx, c, "StakeAndBurn", in, opts)
}

func (c *Client) Burn(ctx context.Context, in *BurnRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "Burn", in, opts)
}

func (c *Client) UpdateConfig(ctx context.Context, in *UpdateConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	return invoke[ConfigResponse](ctx, c, "UpdateConfig", in, opts)
}

func (c *Client) GetConfig(ctx context.Context, opts ...grpc.CallOption) (*ConfigResponse, error) {
	return invoke[ConfigResponse](ctx, c, "GetConfig", &Empty{}, opts)
}

func (c *Client) UpdateStaker(ctx context.Context, in *TargetRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "UpdateStaker", in, opts)
}

func (c *Client) DeployStaker(ctx context.Context, in *CallerRequest, opts ...grpc.CallOption) (*AddressResponse, error) {
	return invoke[AddressResponse](ctx, c, "DeployStaker", in, opts)
}

func (c *Client) TransferOwnership(ctx context.Context, in *TargetRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "TransferOwnership", in, opts)
}

func (c *Client) RenounceOwnership(ctx context.Context, in *CallerRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "RenounceOwnership", in, opts)
}

func (c *Client) RegisterToken(ctx context.Context, in *RegisterTokenRequest, opts ...grpc.CallOption) (*AddressResponse, error) {
	return invoke[AddressResponse](ctx, c, "RegisterToken", in, opts)
}

func (c *Client) Mint(ctx context.Context, in *MintRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "Mint", in, opts)
}

func (c *Client) Fund(ctx context.Context, in *MintRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "Fund", in, opts)
}

func (c *Client) Approve(ctx context.Context, in *ApproveRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "Approve", in, opts)
}

func (c *Client) AddLiquidity(ctx context.Context, in *AddLiquidityRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "AddLiquidity", in, opts)
}

func (c *Client) Balance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*AmountResponse, error) {
	return invoke[AmountResponse](ctx, c, "Balance", in, opts)
}

func (c *Client) Audit(ctx context.Context, opts ...grpc.CallOption) (*AuditResponse, error) {
	return invoke[AuditResponse](ctx, c, "Audit", &Empty{}, opts)
}
