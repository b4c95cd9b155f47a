package listener

import (
	"context"
	"fmt"

	"github.com/diagnosis/luxsuv-confirmations/pkg/events"
	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
)

// NATSListener queue-subscribes to booking change events so that each event
// is handled by one replica of the service.
type NATSListener struct {
	bus     events.Subscriber
	subject string
	queue   string
	handler Handler
}

func NewNATSListener(bus events.Subscriber, subject, queue string, handler Handler) *NATSListener {
	return &NATSListener{bus: bus, subject: subject, queue: queue, handler: handler}
}

// Run blocks until ctx is done, then drains the subscription.
func (l *NATSListener) Run(ctx context.Context) error {
	sub, err := l.bus.QueueSubscribe(l.subject, l.queue, func(msg *events.Message) {
		ev, err := DecodeChangeEvent(msg.Data, "")
		if err != nil {
			logger.WarnContext(ctx, "Dropping malformed booking event", "subject", msg.Subject, "message_id", msg.ID, "error", err)
			return
		}
		if ev.ID == "" {
			ev.ID = msg.ID
		}
		l.handler.HandleChange(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.subject, err)
	}
	logger.InfoContext(ctx, "Listening for booking events", "subject", l.subject, "queue", l.queue)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		logger.Warn("Failed to drain subscription", "subject", l.subject, "error", err)
	}
	return nil
}
