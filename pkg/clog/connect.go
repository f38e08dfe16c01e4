package clog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/proto"
)

type connectConfig struct {
	Filter func(spec connect.Spec) bool
}

type ConnectOption func(*connectConfig)

func WithConnectFilter(filter func(connect.Spec) bool) ConnectOption {
	return func(cfg *connectConfig) {
		cfg.Filter = filter
	}
}

func DefaultConnectHealthCheckUnaryFilter(spec connect.Spec) bool {
	return spec.Procedure != "/grpc.health.v1.Health/Check"
}

type slogConnectInterceptor struct {
	cfg connectConfig
}

// NewSlogConnectInterceptor logs one record per unary call and per handled
// stream, carrying the procedure, resulting code and duration.
func NewSlogConnectInterceptor(opts ...ConnectOption) connect.Interceptor {
	cfg := connectConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &slogConnectInterceptor{cfg: cfg}
}

func (s *slogConnectInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		start := time.Now()
		ctx = s.scope(ctx, req.Spec())
		AddAttribute(ctx, "method", req.HTTPMethod())
		resp, err := next(ctx, req)
		s.finish(ctx, req.Spec(), start, err)
		return resp, err
	}
}

func (s *slogConnectInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (s *slogConnectInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		ctx = s.scope(ctx, conn.Spec())
		slog.InfoContext(ctx, "Connected")
		err := next(ctx, conn)
		s.finish(ctx, conn.Spec(), start, err)
		return err
	}
}

func (s *slogConnectInterceptor) scope(ctx context.Context, spec connect.Spec) context.Context {
	return WithAttributes(ctx, map[string]any{
		"procedure":   spec.Procedure,
		"stream_type": spec.StreamType.String(),
	})
}

func (s *slogConnectInterceptor) finish(ctx context.Context, spec connect.Spec, start time.Time, err error) {
	if s.cfg.Filter != nil && !s.cfg.Filter(spec) {
		return
	}
	code := "ok"
	var cerr *connect.Error
	if err != nil {
		if !errors.As(err, &cerr) {
			cerr = connect.NewError(connect.CodeUnknown, err)
		}
		code = cerr.Code().String()
	}
	AddAttributes(ctx, map[string]any{
		"code":     code,
		"duration": time.Since(start),
	})
	if cerr == nil {
		slog.InfoContext(ctx, "Finished")
		return
	}
	logConnectError(ctx, cerr)
}

func logConnectError(ctx context.Context, cerr *connect.Error) {
	if errDetails := cerr.Details(); len(errDetails) > 0 {
		details := make([]proto.Message, 0, len(errDetails))
		for _, detail := range errDetails {
			val, err := detail.Value()
			if err != nil {
				slog.ErrorContext(ctx, "failed to decode error detail", ErrorAttributeKey, err)
				continue
			}
			details = append(details, val)
		}
		AddAttribute(ctx, "err_details", details)
	}
	ConnectCodeToLevel(cerr.Code()).Log(ctx, cerr.Message())
}
