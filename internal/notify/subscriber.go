// Package notify consumes the notifications fanout and hands events to the
// outbound email/notification collaborator. Delivery itself is out of
// scope; this is the drain point.
package notify

import (
	"context"

	"livekitchen/internal/common/logger"
	"livekitchen/internal/connections/rabbitmq"
)

func Run(ctx context.Context, mq *rabbitmq.Client) error {
	lg := logger.New("notification-subscriber")

	if err := mq.DeclareTopology(); err != nil {
		return err
	}
	msgs, err := mq.Consume(rabbitmq.NotificationsQueue, "notification-subscriber", 10)
	if err != nil {
		return err
	}

	lg.Info("subscriber_started", map[string]any{"queue": rabbitmq.NotificationsQueue})
	for {
		select {
		case <-ctx.Done():
			lg.Info("subscriber_stopped", nil)
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			lg.Info("notification_received", map[string]any{
				"correlation_id": d.CorrelationId,
				"body":           string(d.Body),
			})
			_ = d.Ack(false)
		}
	}
}
