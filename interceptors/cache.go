// Package interceptors adapts the transparent cache to gRPC servers.
package interceptors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	gorawrcache "github.com/Keksclan/goRawrCache"
	"github.com/Keksclan/goRawrCache/cache"
)

// unaryCall is the argument of a cached RPC. Only req takes part in the key.
type unaryCall struct {
	req     proto.Message
	handler grpc.UnaryHandler
}

// CacheUnary returns a unary server interceptor that serves the listed full
// method names (e.g. "/users.v1.Users/Get") through tc. The method name is
// the function id, so policy groups can match on it. Responses must be
// proto messages; handler errors are returned unchanged and never cached.
// Other methods and non-proto requests pass straight through.
func CacheUnary(tc *gorawrcache.TransparentCache, methods ...string) (grpc.UnaryServerInterceptor, error) {
	cached := make(map[string]*gorawrcache.Cached[unaryCall, *anypb.Any], len(methods))
	for _, m := range methods {
		if m == "" {
			return nil, fmt.Errorf("%w: empty method name", gorawrcache.ErrInvalidConfig)
		}
		c, err := gorawrcache.Wrap(tc, invoke,
			gorawrcache.WithFunctionID(m),
			gorawrcache.WithKeyFunc(requestKey),
			gorawrcache.WithCodec(anyCodec),
		)
		if err != nil {
			return nil, err
		}
		cached[m] = c
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		c, ok := cached[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}
		msg, ok := req.(proto.Message)
		if !ok {
			return handler(ctx, req)
		}

		resp, err := c.Call(ctx, unaryCall{req: msg, handler: handler})
		if err != nil {
			return nil, err
		}
		out, err := resp.UnmarshalNew()
		if err != nil {
			return nil, status.Errorf(codes.Internal, "decode cached response: %v", err)
		}
		return out, nil
	}, nil
}

func invoke(ctx context.Context, call unaryCall) (*anypb.Any, error) {
	resp, err := call.handler(ctx, call.req)
	if err != nil {
		return nil, err
	}
	msg, ok := resp.(proto.Message)
	if !ok {
		return nil, status.Errorf(codes.Internal, "cached method returned %T, not a proto message", resp)
	}
	return anypb.New(msg)
}

// requestKey encodes the request with deterministic proto marshaling.
func requestKey(args any) (string, error) {
	call, ok := args.(unaryCall)
	if !ok {
		return "", fmt.Errorf("unexpected argument %T", args)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(call.req)
	if err != nil {
		return "", err
	}
	return ":" + base64.RawURLEncoding.EncodeToString(b), nil
}

// anyCodec stores responses as their proto wire bytes inside the JSON
// envelope.
var anyCodec = cache.FuncCodec[*anypb.Any]{
	To: func(a *anypb.Any) (any, error) {
		return proto.Marshal(a)
	},
	From: func(raw json.RawMessage) (*anypb.Any, error) {
		var b []byte
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		a := new(anypb.Any)
		if err := proto.Unmarshal(b, a); err != nil {
			return nil, err
		}
		return a, nil
	},
}
