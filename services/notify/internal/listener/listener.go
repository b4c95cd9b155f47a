// Package listener adapts change feeds (NATS, Postgres LISTEN/NOTIFY, MongoDB
// change streams) to the confirmation coordinator.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-confirmations/pkg/events"
	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

var ErrInvalidEvent = errors.New("invalid booking change event")

// Handler consumes change events. Implementations must not block on errors;
// the coordinator's HandleChange absorbs them.
type Handler interface {
	HandleChange(ctx context.Context, ev domain.ChangeEvent)
}

const reconnectDelay = 2 * time.Second

// DecodeChangeEvent parses a booking.changed payload. fallbackID is used when
// the payload does not name the booking itself.
func DecodeChangeEvent(data []byte, fallbackID string) (domain.ChangeEvent, error) {
	var payload events.BookingChangedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	id := strings.TrimSpace(payload.BookingID)
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: missing booking_id", ErrInvalidEvent)
	}
	if fallbackID != "" && id != fallbackID {
		return domain.ChangeEvent{}, fmt.Errorf("%w: booking_id %q does not match %q", ErrInvalidEvent, id, fallbackID)
	}

	before, err := decodeSide(payload.Before, "before")
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	after, err := decodeSide(payload.After, "after")
	if err != nil {
		return domain.ChangeEvent{}, err
	}

	return domain.ChangeEvent{ID: payload.EventID, BookingID: id, Before: before, After: after}, nil
}

func decodeSide(raw json.RawMessage, name string) (domain.Snapshot, error) {
	s, err := domain.DecodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, name, err)
	}
	return s, nil
}

// runWithReconnect calls connect until ctx is done, pausing between failures.
func runWithReconnect(ctx context.Context, name string, connect func(context.Context) error) error {
	for {
		err := connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.WarnContext(ctx, "listener disconnected, reconnecting", "listener", name, "error", err, "delay", reconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Mirror is a process-local store that follows upstream snapshots it cannot
// read from anywhere else.
type Mirror interface {
	Mirror(id string, after domain.Snapshot)
}

type mirrored struct {
	mirror Mirror
	next   Handler
}

// Mirrored returns a handler that records each event's snapshot in m before
// passing the event on.
func Mirrored(m Mirror, next Handler) Handler {
	return mirrored{mirror: m, next: next}
}

func (h mirrored) HandleChange(ctx context.Context, ev domain.ChangeEvent) {
	h.mirror.Mirror(ev.BookingID, ev.After)
	h.next.HandleChange(ctx, ev)
}
