package domain

import "time"

// SendState is the confirmation email lifecycle stored in emailSendState.
// The zero value means the field was never written.
type SendState string

const (
	SendUnset   SendState = ""
	SendSending SendState = "sending"
	SendSent    SendState = "sent"
	SendError   SendState = "error"
)

var sendTransitions = map[SendState][]SendState{
	SendUnset:   {SendSending},
	SendError:   {SendSending},
	SendSending: {SendSent, SendError, SendSending},
}

// CanTransition reports whether from -> to is allowed. Sent is absorbing;
// sending -> sending is only used when a stale claim is taken over.
func CanTransition(from, to SendState) bool {
	for _, next := range sendTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reasons reported when a booking is not eligible for a send attempt.
const (
	ReasonDeleted       = "booking deleted"
	ReasonNotCompleted  = "status is not completed"
	ReasonNotPaid       = "booking is not paid"
	ReasonAlreadySent   = "confirmation already sent"
	ReasonInProgress    = "send already in progress"
	ReasonStaleReclaim  = "reclaiming stale send"
	ReasonEligible      = "eligible"
	ReasonClaimConflict = "claim conflict"
)

// ClaimPolicy carries the clock reading and the optional staleness threshold
// used to decide whether a booking may be claimed. A zero StaleAfter never
// reclaims a send left in progress.
type ClaimPolicy struct {
	Now        time.Time
	StaleAfter time.Duration
}

// Eligibility applies the send predicate to a booking.
func Eligibility(b Booking, p ClaimPolicy) (bool, string) {
	if b.Status != BookingCompleted {
		return false, ReasonNotCompleted
	}
	if !b.IsPaid {
		return false, ReasonNotPaid
	}
	if b.Email.Sent || b.Email.State == SendSent {
		return false, ReasonAlreadySent
	}
	if b.Email.State == SendSending {
		if p.stale(b.Email) {
			return true, ReasonStaleReclaim
		}
		return false, ReasonInProgress
	}
	return true, ReasonEligible
}

// IsEligible is Eligibility without stale reclaim.
func IsEligible(b Booking) bool {
	ok, _ := Eligibility(b, ClaimPolicy{})
	return ok
}

func (p ClaimPolicy) stale(c EmailControl) bool {
	if p.StaleAfter <= 0 || !c.HasAttemptedAt {
		return false
	}
	return p.Now.Sub(c.AttemptedAt) >= p.StaleAfter
}

// Patch is a set of field writes and removals applied to one document.
type Patch struct {
	Set   map[string]any
	Unset []string
}

// ClaimPatch marks a booking as being sent.
func ClaimPatch(now time.Time) Patch {
	return Patch{
		Set: map[string]any{
			FieldEmailSendState:       string(SendSending),
			FieldEmailSendAttemptedAt: now.UTC(),
		},
		Unset: []string{FieldEmailSendError},
	}
}

// Outcome is the terminal result of one delivery attempt.
type Outcome struct {
	State     SendState
	At        time.Time
	MessageID string
	Error     string
}

func SentOutcome(at time.Time, messageID string) Outcome {
	return Outcome{State: SendSent, At: at, MessageID: messageID}
}

func FailedOutcome(at time.Time, err error) Outcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{State: SendError, At: at, Error: msg}
}

// Patch converts the outcome to field writes. A failed attempt leaves emailSent untouched.
func (o Outcome) Patch() Patch {
	if o.State == SendSent {
		var messageID any
		if o.MessageID != "" {
			messageID = o.MessageID
		}
		return Patch{
			Set: map[string]any{
				FieldEmailSent:      true,
				FieldEmailSendState: string(SendSent),
				FieldEmailSentAt:    o.At.UTC(),
				FieldEmailMessageID: messageID,
			},
			Unset: []string{FieldEmailSendError},
		}
	}
	return Patch{
		Set: map[string]any{
			FieldEmailSendState: string(SendError),
			FieldEmailSendError: o.Error,
		},
	}
}

// CheckOutcome rejects an outcome write against a booking whose confirmation
// is already recorded as sent.
func CheckOutcome(current Booking) error {
	if current.Email.State == SendSent || current.Email.Sent {
		return ErrAlreadySent
	}
	return nil
}

// Apply returns a copy of the snapshot with the patch applied.
func (s Snapshot) Apply(p Patch) Snapshot {
	out := make(Snapshot, len(s)+len(p.Set))
	for k, v := range s {
		out[k] = v
	}
	for _, k := range p.Unset {
		delete(out, k)
	}
	for k, v := range p.Set {
		out[k] = v
	}
	return out
}

// WithControlOf returns a copy of s whose control fields are those of prev.
// Control fields present in s itself are discarded.
func (s Snapshot) WithControlOf(prev Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		if !IsControlField(k) {
			out[k] = v
		}
	}
	for _, k := range ControlFields {
		if v, ok := prev[k]; ok {
			out[k] = v
		}
	}
	return out
}
