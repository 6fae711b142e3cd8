package notify

import (
	"context"
	"log/slog"
)

// LogDispatcher writes notifications to a logger instead of a transport.
// It is the default when no broker is configured.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.Logger.InfoContext(ctx, "notification",
		slog.String("user_id", n.UserID),
		slog.String("kind", string(n.Kind)),
		slog.String("product_id", n.ProductID),
		slog.String("amount", n.Amount.String()),
		slog.String("title", n.Title),
	)
	return nil
}
