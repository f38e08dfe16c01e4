package cerr

import (
	"context"

	"connectrpc.com/connect"
)

// Validator is implemented by request messages that can check themselves.
type Validator interface {
	Validate() error
}

type convertConnectErrorInterceptor struct{}

// NewConvertConnectErrorInterceptor rejects requests whose Validate fails
// and converts every handler error into a *connect.Error.
func NewConvertConnectErrorInterceptor() connect.Interceptor {
	return &convertConnectErrorInterceptor{}
}

func (i *convertConnectErrorInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if v, ok := req.Any().(Validator); ok && !req.Spec().IsClient {
			if err := v.Validate(); err != nil {
				return nil, ExtractConnectError(ctx, err)
			}
		}
		resp, err := next(ctx, req)
		return resp, ExtractConnectError(ctx, err)
	}
}

func (i *convertConnectErrorInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *convertConnectErrorInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		err := next(ctx, conn)
		return ExtractConnectError(ctx, err)
	}
}
