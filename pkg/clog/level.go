package clog

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
)

type Level int

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
)

func HTTPStatusToLevel(status int) Level {
	switch {
	case status >= 100 && status < 400:
		return LevelInfo
	case status == 499:
		return LevelInfo
	case status >= 400 && status < 500:
		return LevelWarn
	default:
		return LevelError
	}
}

// ConnectCodeToLevel treats caller mistakes as info and server-side
// failures as errors.
func ConnectCodeToLevel(code connect.Code) Level {
	switch code {
	case connect.CodeCanceled,
		connect.CodeInvalidArgument,
		connect.CodeDeadlineExceeded,
		connect.CodeNotFound,
		connect.CodeAlreadyExists,
		connect.CodePermissionDenied,
		connect.CodeFailedPrecondition,
		connect.CodeAborted,
		connect.CodeOutOfRange,
		connect.CodeUnauthenticated:
		return LevelInfo
	default:
		return LevelError
	}
}

// Log emits msg at level l.
func (l Level) Log(ctx context.Context, msg string, args ...any) {
	switch l {
	case LevelError:
		slog.ErrorContext(ctx, msg, args...)
	case LevelWarn:
		slog.WarnContext(ctx, msg, args...)
	case LevelInfo:
		slog.InfoContext(ctx, msg, args...)
	default:
		slog.DebugContext(ctx, msg, args...)
	}
}
