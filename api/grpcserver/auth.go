package grpcserver

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Every call that acts for a caller carries a secp256k1 signature by that
// caller's key over the method, the signing time and the JSON request.
const (
	SignatureHeader = "x-signature"
	SignedAtHeader  = "x-signed-at"
)

const DefaultSignatureWindow = 5 * time.Minute

// readOnly methods need no signature.
var readOnly = map[string]bool{
	"GetOrder":         true,
	"ListActiveOrders": true,
	"OrdersForAddress": true,
	"StakeInfo":        true,
	"GetConfig":        true,
	"Balance":          true,
	"Audit":            true,
}

// callerRequest is implemented by every request that names a caller.
type callerRequest interface {
	caller() string
}

func (r *PlaceOrderRequest) caller() string    { return r.Caller }
func (r *UpdateOrderRequest) caller() string   { return r.Caller }
func (r *OrderRef) caller() string             { return r.Caller }
func (r *LedgerRequest) caller() string        { return r.Caller }
func (r *MarketOrderRequest) caller() string   { return r.Caller }
func (r *CallerRequest) caller() string        { return r.Caller }
func (r *BurnRequest) caller() string          { return r.Caller }
func (r *UpdateConfigRequest) caller() string  { return r.Caller }
func (r *TargetRequest) caller() string        { return r.Caller }
func (r *RegisterTokenRequest) caller() string { return r.Caller }
func (r *MintRequest) caller() string          { return r.Caller }
func (r *ApproveRequest) caller() string       { return r.Caller }
func (r *AddLiquidityRequest) caller() string  { return r.Caller }

func methodName(full string) string {
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '/' {
			return full[i+1:]
		}
	}
	return full
}

func signingDigest(fullMethod string, signedAt int64, req any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	return crypto.Keccak256([]byte(fullMethod), []byte("\n"), []byte(strconv.FormatInt(signedAt, 10)), []byte("\n"), body), nil
}

// SignRequest returns the metadata that authenticates req as sent by key.
func SignRequest(key *ecdsa.PrivateKey, fullMethod string, at time.Time, req any) (metadata.MD, error) {
	digest, err := signingDigest(fullMethod, at.Unix(), req)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, errors.Wrap(err, "sign request")
	}
	return metadata.Pairs(
		SignatureHeader, hexutil.Encode(sig),
		SignedAtHeader, strconv.FormatInt(at.Unix(), 10),
	), nil
}

// signer recovers the address that signed req.
func signer(ctx context.Context, fullMethod string, req any, now time.Time, window time.Duration) (common.Address, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	sigs, ats := md.Get(SignatureHeader), md.Get(SignedAtHeader)
	if len(sigs) == 0 || len(ats) == 0 {
		return common.Address{}, status.Error(codes.Unauthenticated, "missing request signature")
	}
	signedAt, err := strconv.ParseInt(ats[0], 10, 64)
	if err != nil {
		return common.Address{}, status.Errorf(codes.Unauthenticated, "bad %s", SignedAtHeader)
	}
	if skew := now.Sub(time.Unix(signedAt, 0)); skew > window || skew < -window {
		return common.Address{}, status.Error(codes.Unauthenticated, "request signature expired")
	}
	sig, err := hexutil.Decode(sigs[0])
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, status.Errorf(codes.Unauthenticated, "bad %s", SignatureHeader)
	}
	digest, err := signingDigest(fullMethod, signedAt, req)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, status.Error(codes.Unauthenticated, "unrecoverable signature")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Authenticate rejects calls whose caller field is not the address that
// signed them. Read-only methods pass through.
func Authenticate(window time.Duration, now func() time.Time) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if readOnly[methodName(info.FullMethod)] {
			return handler(ctx, req)
		}
		cr, ok := req.(callerRequest)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "%s names no caller", info.FullMethod)
		}
		claimed, err := parseAddr("caller", cr.caller())
		if err != nil {
			return nil, toStatus(err)
		}
		got, err := signer(ctx, info.FullMethod, req, now(), window)
		if err != nil {
			return nil, err
		}
		if got != claimed {
			return nil, status.Errorf(codes.PermissionDenied, "signed by %s, not caller %s", got.Hex(), claimed.Hex())
		}
		return handler(ctx, req)
	}
}
