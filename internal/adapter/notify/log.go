package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

// LogChannel writes notifications to the log instead of delivering them.
// Used in development and wherever no broker is configured.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With(slog.String("component", "log_channel"))}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(ctx context.Context, n domain.Notification, attemptID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.logger.Info("notification delivered",
		slog.String("attempt_id", attemptID),
		slog.String("type", string(n.Type)),
		slog.String("order_id", n.OrderID),
		slog.String("recipient", n.Recipient),
		slog.String("subject", n.Subject),
	)
	return "log-" + uuid.NewString(), nil
}
