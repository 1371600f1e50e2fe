package runtime

import (
	"context"
	"log/slog"
	"time"
)

type Middleware func(Handler) Handler

// applies a series of middlewares to a final Handler.
// The middlewares are applied in reverse order, so the first middleware in the
// list is the outermost one, seeing the message first.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewTrafficLogger creates a middleware that logs every delivered message.
func NewTrafficLogger(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message, respond RespondFunc) {
			logger.Debug("message delivered",
				slog.String("type", msg.Type),
				slog.String("sender", msg.Sender.String()),
				slog.String("id", msg.ID),
			)
			next(ctx, msg, respond)
		}
	}
}

// NewStamper creates a middleware that fills in SentAt when the sender
// left it zero, so queue expiry always has a timestamp to work from.
func NewStamper() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message, respond RespondFunc) {
			if msg.SentAt.IsZero() {
				msg.SentAt = time.Now()
			}
			next(ctx, msg, respond)
		}
	}
}
