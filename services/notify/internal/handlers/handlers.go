package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
	mw "github.com/diagnosis/luxsuv-confirmations/pkg/middleware"
	"github.com/diagnosis/luxsuv-confirmations/pkg/response"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/listener"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/service"
)

const maxEventBytes = 1 << 20

type Handlers struct {
	confirmations service.ConfirmationService
	mirror        listener.Mirror
}

type Option func(*Handlers)

// WithMirror records every pushed snapshot in m before it is processed.
func WithMirror(m listener.Mirror) Option {
	return func(h *Handlers) { h.mirror = m }
}

func New(confirmations service.ConfirmationService, opts ...Option) *Handlers {
	h := &Handlers{confirmations: confirmations}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the status endpoint and, when push is enabled, the HTTP event adapter.
func (h *Handlers) Routes(r chi.Router, push bool) {
	if push {
		r.Post("/events/bookings/{id}", h.BookingChanged)
	}
	r.Get("/bookings/{id}/confirmation", h.ConfirmationStatus)
}

type processResponse struct {
	BookingID string           `json:"booking_id"`
	EventID   string           `json:"event_id"`
	Decision  service.Decision `json:"decision"`
	Reason    string           `json:"reason,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
}

// BookingChanged is the push adapter: the body is a booking change event for
// the booking named in the path. Delivery failures are recorded on the booking
// and still answer 200; only a failed claim asks the caller to redeliver.
func (h *Handlers) BookingChanged(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		response.BadRequest(w, "Could not read request body", err.Error())
		return
	}

	ev, err := listener.DecodeChangeEvent(body, id)
	if err != nil {
		response.BadRequest(w, "Invalid booking change event", err.Error())
		return
	}
	if ev.ID == "" {
		ev.ID = mw.RequestIDFrom(r.Context())
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if h.mirror != nil {
		h.mirror.Mirror(ev.BookingID, ev.After)
	}

	res := h.confirmations.Process(r.Context(), ev)
	if res.Decision == service.DecisionClaimError {
		response.Unavailable(w, "Booking store unavailable, retry later", res.Reason)
		return
	}

	response.JSON(w, http.StatusOK, processResponse{
		BookingID: res.BookingID,
		EventID:   ev.ID,
		Decision:  res.Decision,
		Reason:    res.Reason,
		MessageID: res.MessageID,
	})
}

type statusResponse struct {
	BookingID   string     `json:"booking_id"`
	State       string     `json:"state"`
	Sent        bool       `json:"sent"`
	AttemptedAt *time.Time `json:"attempted_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	MessageID   string     `json:"message_id,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (h *Handlers) ConfirmationStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	st, err := h.confirmations.Status(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		response.NotFound(w, "Booking not found")
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to load confirmation status", "booking_id", id, "error", err)
		response.InternalError(w, "Failed to load confirmation status")
		return
	}

	state := string(st.State)
	if state == "" {
		state = "unset"
	}
	resp := statusResponse{
		BookingID: id,
		State:     state,
		Sent:      st.Sent,
		MessageID: st.MessageID,
		Error:     st.Error,
	}
	if st.HasAttemptedAt {
		at := st.AttemptedAt.UTC()
		resp.AttemptedAt = &at
	}
	if !st.SentAt.IsZero() {
		at := st.SentAt.UTC()
		resp.SentAt = &at
	}
	response.JSON(w, http.StatusOK, resp)
}
