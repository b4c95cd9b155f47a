// Package service coordinates confirmation emails: it turns a possibly
// redelivered, possibly concurrent stream of booking changes into at most one
// send per booking.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/diagnosis/luxsuv-confirmations/pkg/events"
	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/composer"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/mailer"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/repository"
)

type Decision string

const (
	// DecisionSkipped: the event's own snapshot is ineligible. Nothing was read or written.
	DecisionSkipped Decision = "skipped"
	// DecisionNotClaimed: the claim transaction re-read the booking and declined.
	DecisionNotClaimed Decision = "not_claimed"
	// DecisionClaimError: the claim transaction failed; no state changed.
	DecisionClaimError Decision = "claim_error"
	DecisionSent       Decision = "sent"
	// DecisionFailed: the booking was claimed but recipient resolution or delivery failed.
	DecisionFailed Decision = "failed"
)

// Result describes how one change event was handled.
type Result struct {
	BookingID string
	Decision  Decision
	Reason    string
	MessageID string
	// Err is the claim or delivery error behind DecisionClaimError and DecisionFailed.
	Err error
	// OutcomeErr is set when the terminal outcome could not be recorded.
	OutcomeErr error
}

type Stats struct {
	Events        uint64
	Skipped       uint64
	NotClaimed    uint64
	ClaimErrors   uint64
	Sent          uint64
	Failed        uint64
	OutcomeErrors uint64
}

type Options struct {
	// StaleAfter enables reclaiming a send left in progress for at least this long. Zero disables it.
	StaleAfter      time.Duration
	DeliveryTimeout time.Duration
	OutcomeTimeout  time.Duration
	Now             func() time.Time
}

type ConfirmationService interface {
	// Process handles one change event and reports what happened.
	Process(ctx context.Context, ev domain.ChangeEvent) Result
	// HandleChange is Process for event adapters: it never fails.
	HandleChange(ctx context.Context, ev domain.ChangeEvent)
	Status(ctx context.Context, bookingID string) (domain.EmailControl, error)
	Stats() Stats
}

type confirmationService struct {
	store     repository.BookingStore
	users     repository.UserDirectory
	sender    mailer.Sender
	composer  *composer.Composer
	publisher events.Publisher
	opts      Options

	events        atomic.Uint64
	skipped       atomic.Uint64
	notClaimed    atomic.Uint64
	claimErrors   atomic.Uint64
	sent          atomic.Uint64
	failed        atomic.Uint64
	outcomeErrors atomic.Uint64
}

// NewConfirmationService wires the coordinator. users and publisher may be nil.
func NewConfirmationService(
	store repository.BookingStore,
	users repository.UserDirectory,
	sender mailer.Sender,
	composer *composer.Composer,
	publisher events.Publisher,
	opts Options,
) ConfirmationService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OutcomeTimeout <= 0 {
		opts.OutcomeTimeout = 5 * time.Second
	}
	return &confirmationService{
		store:     store,
		users:     users,
		sender:    sender,
		composer:  composer,
		publisher: publisher,
		opts:      opts,
	}
}

func (s *confirmationService) HandleChange(ctx context.Context, ev domain.ChangeEvent) {
	_ = s.Process(ctx, ev)
}

func (s *confirmationService) Process(ctx context.Context, ev domain.ChangeEvent) Result {
	s.events.Add(1)
	ctx = logger.WithBooking(ctx, ev.BookingID, ev.ID)
	res := Result{BookingID: ev.BookingID}

	policy := s.policy()

	if ev.After == nil {
		return s.skip(ctx, res, domain.ReasonDeleted)
	}
	if ok, reason := domain.Eligibility(domain.BookingFromSnapshot(ev.BookingID, ev.After), policy); !ok {
		return s.skip(ctx, res, reason)
	}

	claim, err := s.store.Claim(ctx, ev.BookingID, policy)
	if err != nil {
		s.claimErrors.Add(1)
		logger.ErrorContext(ctx, "confirmation claim failed", "decision", DecisionClaimError, "error", err)
		res.Decision, res.Reason, res.Err = DecisionClaimError, err.Error(), err
		return res
	}
	if !claim.Claimed {
		s.notClaimed.Add(1)
		logger.InfoContext(ctx, "confirmation not claimed", "decision", DecisionNotClaimed, "reason", claim.Reason)
		res.Decision, res.Reason = DecisionNotClaimed, claim.Reason
		return res
	}
	logger.InfoContext(ctx, "confirmation claimed", "reason", claim.Reason)

	recipient, messageID, sendErr := s.deliver(ctx, claim.Booking)

	var outcome domain.Outcome
	if sendErr != nil {
		s.failed.Add(1)
		outcome = domain.FailedOutcome(s.opts.Now(), sendErr)
		logger.ErrorContext(ctx, "confirmation email failed", "decision", DecisionFailed, "error", sendErr)
		res.Decision, res.Reason, res.Err = DecisionFailed, sendErr.Error(), sendErr
	} else {
		s.sent.Add(1)
		outcome = domain.SentOutcome(s.opts.Now(), messageID)
		logger.InfoContext(ctx, "confirmation email sent", "decision", DecisionSent, "message_id", messageID)
		res.Decision, res.Reason, res.MessageID = DecisionSent, domain.ReasonEligible, messageID
	}

	res.OutcomeErr = s.commit(ctx, ev.BookingID, outcome)
	if sendErr == nil && res.OutcomeErr == nil {
		s.announce(ctx, ev.BookingID, recipient, outcome)
	}
	return res
}

func (s *confirmationService) Status(ctx context.Context, bookingID string) (domain.EmailControl, error) {
	doc, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return domain.EmailControl{}, err
	}
	return domain.BookingFromSnapshot(bookingID, doc).Email, nil
}

func (s *confirmationService) Stats() Stats {
	return Stats{
		Events:        s.events.Load(),
		Skipped:       s.skipped.Load(),
		NotClaimed:    s.notClaimed.Load(),
		ClaimErrors:   s.claimErrors.Load(),
		Sent:          s.sent.Load(),
		Failed:        s.failed.Load(),
		OutcomeErrors: s.outcomeErrors.Load(),
	}
}

func (s *confirmationService) policy() domain.ClaimPolicy {
	return domain.ClaimPolicy{Now: s.opts.Now(), StaleAfter: s.opts.StaleAfter}
}

func (s *confirmationService) skip(ctx context.Context, res Result, reason string) Result {
	s.skipped.Add(1)
	logger.DebugContext(ctx, "confirmation skipped", "decision", DecisionSkipped, "reason", reason)
	res.Decision, res.Reason = DecisionSkipped, reason
	return res
}

// deliver resolves the recipient, composes the message and calls the sender
// exactly once. It returns the address used and the provider message id.
func (s *confirmationService) deliver(ctx context.Context, b domain.Booking) (string, string, error) {
	to, err := s.recipient(ctx, b)
	if err != nil {
		return "", "", err
	}

	msg := s.composer.Compose(b)

	if s.opts.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DeliveryTimeout)
		defer cancel()
	}

	id, err := s.sender.Send(ctx, mailer.Message{
		To:      to,
		ToName:  b.UserName,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	})
	if err != nil {
		return to, "", err
	}
	return to, id, nil
}

// recipient prefers the address on the booking and falls back to the user directory.
func (s *confirmationService) recipient(ctx context.Context, b domain.Booking) (string, error) {
	if email := strings.TrimSpace(b.UserEmail); email != "" {
		return email, nil
	}
	if b.UserID == "" || s.users == nil {
		return "", domain.ErrNoRecipient
	}

	email, err := s.users.LookupEmail(ctx, b.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return "", domain.ErrNoRecipient
	}
	if err != nil {
		return "", fmt.Errorf("lookup email for user %s: %w", b.UserID, err)
	}
	return email, nil
}

// commit records the outcome on a context that survives cancellation of the
// invocation, bounded by its own timeout.
func (s *confirmationService) commit(ctx context.Context, id string, outcome domain.Outcome) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OutcomeTimeout)
	defer cancel()

	err := s.store.CommitOutcome(ctx, id, outcome)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		logger.WarnContext(ctx, "booking deleted before outcome was recorded; update lost", "outcome", outcome.State)
	case errors.Is(err, domain.ErrAlreadySent):
		logger.WarnContext(ctx, "booking already marked sent; outcome discarded", "outcome", outcome.State)
	default:
		logger.ErrorContext(ctx, "failed to record confirmation outcome; booking left in sending", "outcome", outcome.State, "error", err)
	}
	s.outcomeErrors.Add(1)
	return err
}

func (s *confirmationService) announce(ctx context.Context, id, recipient string, outcome domain.Outcome) {
	if s.publisher == nil {
		return
	}
	ev := events.BookingConfirmationSentEvent{
		BookingID: id,
		MessageID: outcome.MessageID,
		Recipient: recipient,
		SentAt:    outcome.At.UTC(),
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), events.BookingConfirmationSent, ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish confirmation sent event", "error", err)
	}
}
