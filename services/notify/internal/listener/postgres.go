package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/repository"
)

// BookingChangesChannel is the NOTIFY channel fed by the bookings trigger.
const BookingChangesChannel = "booking_changes"

type notification struct {
	ID string `json:"id"`
	Op string `json:"op"`
}

// PostgresListener holds one pooled connection in LISTEN mode. Notifications
// only carry the booking id, so the current document is read from the store.
type PostgresListener struct {
	pool    *pgxpool.Pool
	store   repository.BookingStore
	handler Handler
	channel string
}

func NewPostgresListener(pool *pgxpool.Pool, store repository.BookingStore, handler Handler) *PostgresListener {
	return &PostgresListener{pool: pool, store: store, handler: handler, channel: BookingChangesChannel}
}

func (l *PostgresListener) Run(ctx context.Context) error {
	return runWithReconnect(ctx, "postgres", l.listen)
}

func (l *PostgresListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	logger.InfoContext(ctx, "Listening for booking notifications", "channel", l.channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var msg notification
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil || msg.ID == "" {
			logger.WarnContext(ctx, "Dropping malformed booking notification", "payload", n.Payload, "error", err)
			continue
		}
		l.dispatch(ctx, msg)
	}
}

func (l *PostgresListener) dispatch(ctx context.Context, msg notification) {
	ev := domain.ChangeEvent{ID: uuid.NewString(), BookingID: msg.ID}

	if msg.Op != "DELETE" {
		doc, err := l.store.Get(ctx, msg.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			logger.ErrorContext(ctx, "Failed to load booking for notification", "booking_id", msg.ID, "error", err)
			return
		default:
			ev.After = doc
		}
	}
	l.handler.HandleChange(ctx, ev)
}
