package grpcserver

import (
	"context"
	"crypto/ecdsa"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"tradebook/service"
)

func mustKey() *ecdsa.PrivateKey {
	k, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return k
}

func hexAddr(k *ecdsa.PrivateKey) string { return crypto.PubkeyToAddress(k.PublicKey).Hex() }

var (
	ownerKey    = mustKey()
	makerKey    = mustKey()
	executorKey = mustKey()
	providerKey = mustKey()

	owner    = hexAddr(ownerKey)
	maker    = hexAddr(makerKey)
	executor = hexAddr(executorKey)
	provider = hexAddr(providerKey)
)

// startServer returns a client that signs for every test account.
func startServer(t *testing.T) *Client {
	t.Helper()
	return NewClient(dialServer(t), ownerKey, makerKey, executorKey, providerKey)
}

func dialServer(t *testing.T) *grpc.ClientConn {
	t.Helper()

	opts := service.DefaultOptions()
	opts.Owner = common.HexToAddress(owner)
	x, err := service.New(opts, service.Deps{Log: zerolog.Nop()})
	require.NoError(t, err)

	lis := bufconn.Listen(1024 * 1024)
	srv := NewGRPCServer(New(x, zerolog.Nop()))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(lis)
	}()
	t.Cleanup(func() {
		srv.Stop()
		_ = lis.Close()
		<-serveErr
	})

	dialer := func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// seedPool lists DAI and builds a WETH/DAI pool.
func seedPool(t *testing.T, ctx context.Context, c *Client) string {
	t.Helper()
	tok, err := c.RegisterToken(ctx, &RegisterTokenRequest{Caller: owner, Symbol: "DAI"})
	require.NoError(t, err)
	dai := tok.Address

	_, err = c.Fund(ctx, &MintRequest{Caller: owner, To: provider, Amount: "1000000000"})
	require.NoError(t, err)
	_, err = c.Mint(ctx, &MintRequest{Caller: owner, Token: dai, To: provider, Amount: "1000000000"})
	require.NoError(t, err)
	_, err = c.AddLiquidity(ctx, &AddLiquidityRequest{
		Caller:  provider,
		TokenA:  service.WETH.Hex(),
		TokenB:  dai,
		AmountA: "100000000",
		AmountB: "100000000",
	})
	require.NoError(t, err)
	_, err = c.Fund(ctx, &MintRequest{Caller: owner, To: maker, Amount: "10000000"})
	require.NoError(t, err)
	return dai
}

func TestOrderLifecycleOverGRPC(t *testing.T) {
	c := startServer(t)
	ctx := testContext(t)
	dai := seedPool(t, ctx, c)

	placed, err := c.PlaceOrder(ctx, &PlaceOrderRequest{
		Caller:      maker,
		OrderType:   "LIMIT",
		SwapType:    "ETH_FOR_TOKENS",
		TokenIn:     service.WETH.Hex(),
		TokenOut:    dai,
		AmountIn:    "100000",
		AmountOut:   "90000",
		ExecutorFee: "500",
		Value:       "100500",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), placed.ID)

	o, err := c.GetOrder(ctx, &OrderRef{ID: placed.ID})
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", o.State)
	assert.Equal(t, "100500", o.TotalEthDeposited)

	list, err := c.ListActiveOrders(ctx, &ListActiveOrdersRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	ids, err := c.OrdersForAddress(ctx, &AddressRequest{Address: maker})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids.IDs)

	ex, err := c.ExecuteOrder(ctx, &OrderRef{Caller: executor, ID: placed.ID})
	require.NoError(t, err)
	assert.Equal(t, "200", ex.Fee)

	bal, err := c.Balance(ctx, &BalanceRequest{Account: executor})
	require.NoError(t, err)
	assert.Equal(t, "500", bal.Amount)
	bal, err = c.Balance(ctx, &BalanceRequest{Token: dai, Account: maker})
	require.NoError(t, err)
	assert.Equal(t, ex.AmountOut, bal.Amount)

	audit, err := c.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, audit.OK, audit.Error)
	// nobody staked, so the staker share waits in the reward pool
	assert.Equal(t, "80", audit.RewardPool)
}

func TestErrorCodes(t *testing.T) {
	c := startServer(t)
	ctx := testContext(t)

	_, err := c.Mint(ctx, &MintRequest{Caller: "not-an-address"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Mint(ctx, &MintRequest{Caller: maker, Token: maker, To: maker, Amount: "1"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = c.GetOrder(ctx, &OrderRef{ID: 42})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.PlaceOrder(ctx, &PlaceOrderRequest{Caller: maker, OrderType: "LIMIT", SwapType: "SIDEWAYS"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.StakeAndBurn(ctx, &CallerRequest{Caller: maker})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestConfigUpdate(t *testing.T) {
	c := startServer(t)
	ctx := testContext(t)

	margin := uint64(10)
	cfg, err := c.UpdateConfig(ctx, &UpdateConfigRequest{
		Caller:     owner,
		Fee:        &Fraction{Mul: 3, Div: 1000},
		StopMargin: &margin,
	})
	require.NoError(t, err)
	assert.Equal(t, Fraction{Mul: 3, Div: 1000}, cfg.Fee)
	assert.Equal(t, Fraction{Mul: 6, Div: 10}, cfg.Split)
	assert.Equal(t, uint64(10), cfg.StopMargin)

	_, err = c.UpdateConfig(ctx, &UpdateConfigRequest{Caller: owner, Split: &Fraction{Mul: 11, Div: 10}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.RenounceOwnership(ctx, &CallerRequest{Caller: owner})
	require.NoError(t, err)
	got, err := c.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}.Hex(), got.Owner)
}

func TestRequestIDRoundTrip(t *testing.T) {
	c := startServer(t)
	ctx := metadata.AppendToOutgoingContext(testContext(t), RequestIDHeader, "req-1")

	var header metadata.MD
	_, err := c.GetConfig(ctx, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, []string{"req-1"}, header.Get(RequestIDHeader))

	header = nil
	_, err = c.GetConfig(testContext(t), grpc.Header(&header))
	require.NoError(t, err)
	require.Len(t, header.Get(RequestIDHeader), 1)
	assert.Len(t, header.Get(RequestIDHeader)[0], 36)
}

func TestSignaturesGuardCallers(t *testing.T) {
	conn := dialServer(t)
	c := NewClient(conn, ownerKey, makerKey, providerKey)
	raw := NewClient(conn)
	ctx := testContext(t)
	dai := seedPool(t, ctx, c)

	placed, err := c.PlaceOrder(ctx, &PlaceOrderRequest{
		Caller:      maker,
		OrderType:   "LIMIT",
		SwapType:    "ETH_FOR_TOKENS",
		TokenIn:     service.WETH.Hex(),
		TokenOut:    dai,
		AmountIn:    "100000",
		AmountOut:   "1",
		ExecutorFee: "500",
		Value:       "100500",
	})
	require.NoError(t, err)
	cancel := &OrderRef{Caller: maker, ID: placed.ID}
	method := "/" + ServiceName + "/CancelOrder"

	signedBy := func(k *ecdsa.PrivateKey, at time.Time, req any) context.Context {
		md, err := SignRequest(k, method, at, req)
		require.NoError(t, err)
		return metadata.NewOutgoingContext(ctx, md)
	}

	_, err = raw.CancelOrder(ctx, cancel)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	mallory := mustKey()
	_, err = raw.CancelOrder(signedBy(mallory, time.Now(), cancel), cancel)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	other := &OrderRef{Caller: maker, ID: placed.ID + 1}
	_, err = raw.CancelOrder(signedBy(makerKey, time.Now(), other), cancel)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = raw.CancelOrder(signedBy(makerKey, time.Now().Add(-time.Hour), cancel), cancel)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	renounce := &CallerRequest{Caller: owner}
	md, err := SignRequest(mallory, "/"+ServiceName+"/RenounceOwnership", time.Now(), renounce)
	require.NoError(t, err)
	_, err = raw.RenounceOwnership(metadata.NewOutgoingContext(ctx, md), renounce)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	// Queries need no signature.
	cfg, err := raw.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, cfg.Owner)
	o, err := raw.GetOrder(ctx, &OrderRef{ID: placed.ID})
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", o.State)

	_, err = raw.CancelOrder(signedBy(makerKey, time.Now(), cancel), cancel)
	require.NoError(t, err)
	o, err = raw.GetOrder(ctx, &OrderRef{ID: placed.ID})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", o.State)
}
