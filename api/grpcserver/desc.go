package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// unary adapts a typed Server method to a grpc.MethodDesc. Errors leave
// the handler already converted to a status.
func unary[Req, Resp any](name string, call func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(s, ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*exchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PlaceOrder", (*Server).PlaceOrder),
		unary("UpdateOrder", (*Server).UpdateOrder),
		unary("CancelOrder", (*Server).CancelOrder),
		unary("ExecuteOrder", (*Server).ExecuteOrder),
		unary("GetOrder", (*Server).GetOrder),
		unary("ListActiveOrders", (*Server).ListActiveOrders),
		unary("OrdersForAddress", (*Server).OrdersForAddress),
		unary("Stake", (*Server).Stake),
		unary("Deposit", (*Server).Deposit),
		unary("Withdraw", (*Server).Withdraw),
		unary("Payout", (*Server).Payout),
		unary("StakeInfo", (*Server).StakeInfo),
		unary("MarketOrder", (*Server).MarketOrder),
		unary("StakeAndBurn", (*Server).StakeAndBurn),
		unary("Burn", (*Server).Burn),
		unary("UpdateConfig", (*Server).UpdateConfig),
		unary("GetConfig", (*Server).GetConfig),
		unary("UpdateStaker", (*Server).UpdateStaker),
		unary("DeployStaker", (*Server).DeployStaker),
		unary("TransferOwnership", (*Server).TransferOwnership),
		unary("RenounceOwnership", (*Server).RenounceOwnership),
		unary("RegisterToken", (*Server).RegisterToken),
		unary("Mint", (*Server).Mint),
		unary("Fund", (*Server).Fund),
		unary("Approve", (*Server).Approve),
		unary("AddLiquidity", (*Server).AddLiquidity),
		unary("Balance", (*Server).Balance),
		unary("Audit", (*Server).Audit),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradebook/v1/exchange",
}
