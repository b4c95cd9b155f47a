package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

func eligibleSnapshot() domain.Snapshot {
	return domain.Snapshot{
		"status":     "completed",
		"isPaid":     true,
		"emailSent":  false,
		"totalPrice": 1500.0,
	}
}

func TestEligibility_IneligibleRecords(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(domain.Snapshot)
		reason string
	}{
		{"pending", func(s domain.Snapshot) { s["status"] = "pending" }, domain.ReasonNotCompleted},
		{"cancelled", func(s domain.Snapshot) { s["status"] = "cancelled" }, domain.ReasonNotCompleted},
		{"missing status", func(s domain.Snapshot) { delete(s, "status") }, domain.ReasonNotCompleted},
		{"unpaid", func(s domain.Snapshot) { s["isPaid"] = false }, domain.ReasonNotPaid},
		{"isPaid as string", func(s domain.Snapshot) { s["isPaid"] = "true" }, domain.ReasonNotPaid},
		{"missing isPaid", func(s domain.Snapshot) { delete(s, "isPaid") }, domain.ReasonNotPaid},
		{"already sent flag", func(s domain.Snapshot) { s["emailSent"] = true }, domain.ReasonAlreadySent},
		{"sent state", func(s domain.Snapshot) { s["emailSendState"] = "sent" }, domain.ReasonAlreadySent},
		{"sending state", func(s domain.Snapshot) { s["emailSendState"] = "sending" }, domain.ReasonInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := eligibleSnapshot()
			tt.mutate(s)
			b := domain.BookingFromSnapshot("b1", s)

			ok, reason := domain.Eligibility(b, domain.ClaimPolicy{Now: time.Now()})
			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
			assert.False(t, domain.IsEligible(b))
		})
	}
}

func TestEligibility_EligibleRecords(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(domain.Snapshot)
	}{
		{"fresh", func(domain.Snapshot) {}},
		{"missing emailSent", func(s domain.Snapshot) { delete(s, "emailSent") }},
		{"previous error", func(s domain.Snapshot) {
			s["emailSendState"] = "error"
			s["emailSendError"] = "smtp down"
		}},
		{"emailSent mistyped", func(s domain.Snapshot) { s["emailSent"] = "yes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := eligibleSnapshot()
			tt.mutate(s)
			assert.True(t, domain.IsEligible(domain.BookingFromSnapshot("b1", s)))
		})
	}
}

func TestEligibility_StaleSendingReclaim(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := eligibleSnapshot()
	s["emailSendState"] = "sending"
	s["emailSendAttemptedAt"] = now.Add(-20 * time.Minute).Format(time.RFC3339)
	b := domain.BookingFromSnapshot("b1", s)

	ok, reason := domain.Eligibility(b, domain.ClaimPolicy{Now: now})
	assert.False(t, ok, "reclaim is disabled without a threshold")
	assert.Equal(t, domain.ReasonInProgress, reason)

	ok, reason = domain.Eligibility(b, domain.ClaimPolicy{Now: now, StaleAfter: time.Hour})
	assert.False(t, ok)
	assert.Equal(t, domain.ReasonInProgress, reason)

	ok, reason = domain.Eligibility(b, domain.ClaimPolicy{Now: now, StaleAfter: 15 * time.Minute})
	assert.True(t, ok)
	assert.Equal(t, domain.ReasonStaleReclaim, reason)

	delete(s, "emailSendAttemptedAt")
	ok, _ = domain.Eligibility(domain.BookingFromSnapshot("b1", s), domain.ClaimPolicy{Now: now, StaleAfter: time.Minute})
	assert.False(t, ok, "a send without attempt time is never considered stale")
}

func TestCanTransition(t *testing.T) {
	assert.True(t, domain.CanTransition(domain.SendUnset, domain.SendSending))
	assert.True(t, domain.CanTransition(domain.SendError, domain.SendSending))
	assert.True(t, domain.CanTransition(domain.SendSending, domain.SendSent))
	assert.True(t, domain.CanTransition(domain.SendSending, domain.SendError))

	assert.False(t, domain.CanTransition(domain.SendUnset, domain.SendSent))
	assert.False(t, domain.CanTransition(domain.SendError, domain.SendSent))
	for _, to := range []domain.SendState{domain.SendUnset, domain.SendSending, domain.SendError, domain.SendSent} {
		assert.False(t, domain.CanTransition(domain.SendSent, to), "sent must be absorbing")
	}
}

func TestBookingFromSnapshot_TypedDefaults(t *testing.T) {
	b := domain.BookingFromSnapshot("b1", domain.Snapshot{
		"userName":   42,
		"carName":    nil,
		"totalPrice": "abc",
		"startDate":  "not a date",
		"createdAt":  "2024-01-05T10:00:00Z",
	})

	assert.Equal(t, "b1", b.ID)
	assert.Empty(t, b.UserName)
	assert.Empty(t, b.CarName)
	assert.False(t, b.HasTotalPrice)
	assert.False(t, b.HasStartDate)
	assert.True(t, b.HasBookingDate, "bookingDate falls back to createdAt")
	assert.Equal(t, time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC), b.BookingDate)
	assert.Equal(t, domain.SendUnset, b.Email.State)
}

func TestSnapshot_TimeForms(t *testing.T) {
	native := time.Date(2024, 2, 29, 8, 30, 0, 0, time.UTC)
	s := domain.Snapshot{
		"native":    native,
		"pointer":   &native,
		"rfc3339":   "2024-02-29T08:30:00Z",
		"date":      "2024-02-29",
		"timestamp": map[string]any{"_seconds": float64(native.Unix()), "_nanoseconds": float64(0)},
		"number":    12345,
	}

	for _, key := range []string{"native", "pointer", "rfc3339", "timestamp"} {
		got, ok := s.Time(key)
		require.True(t, ok, key)
		assert.True(t, native.Equal(got), key)
	}

	got, ok := s.Time("date")
	require.True(t, ok)
	assert.Equal(t, "2024-02-29", got.Format("2006-01-02"))

	_, ok = s.Time("number")
	assert.False(t, ok)
	_, ok = s.Time("missing")
	assert.False(t, ok)
}

func TestSnapshot_Number(t *testing.T) {
	s := domain.Snapshot{
		"float":  1500.5,
		"int":    int64(7),
		"string": " 99.90 ",
		"json":   json.Number("12.25"),
		"bad":    "twelve",
		"bool":   true,
	}

	tests := map[string]float64{"float": 1500.5, "int": 7, "string": 99.9, "json": 12.25}
	for key, want := range tests {
		got, ok := s.Number(key)
		require.True(t, ok, key)
		assert.InDelta(t, want, got, 1e-9, key)
	}

	for _, key := range []string{"bad", "bool", "missing"} {
		_, ok := s.Number(key)
		assert.False(t, ok, key)
	}
}

func TestDecodeSnapshot(t *testing.T) {
	s, err := domain.DecodeSnapshot([]byte(`{"status":"completed","isPaid":true}`))
	require.NoError(t, err)
	assert.Equal(t, "completed", s.String("status"))
	assert.True(t, s.Bool("isPaid"))

	s, err = domain.DecodeSnapshot([]byte(`null`))
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = domain.DecodeSnapshot([]byte(`{`))
	assert.Error(t, err)
}

func TestOutcomePatch(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base := domain.Snapshot{"emailSendState": "sending", "emailSendError": "old failure"}

	sent := base.Apply(domain.SentOutcome(at, "msg-1").Patch())
	assert.Equal(t, true, sent["emailSent"])
	assert.Equal(t, "sent", sent["emailSendState"])
	assert.Equal(t, "msg-1", sent["emailMessageId"])
	assert.NotContains(t, sent, "emailSendError")

	noID := base.Apply(domain.SentOutcome(at, "").Patch())
	assert.Contains(t, noID, "emailMessageId")
	assert.Nil(t, noID["emailMessageId"])

	failed := base.Apply(domain.FailedOutcome(at, assert.AnError).Patch())
	assert.Equal(t, "error", failed["emailSendState"])
	assert.Equal(t, assert.AnError.Error(), failed["emailSendError"])
	assert.NotContains(t, failed, "emailSent")

	assert.Equal(t, "sending", base["emailSendState"], "Apply must not mutate the receiver")
}

func TestCheckOutcome(t *testing.T) {
	assert.NoError(t, domain.CheckOutcome(domain.BookingFromSnapshot("b", domain.Snapshot{"emailSendState": "sending"})))
	assert.ErrorIs(t, domain.CheckOutcome(domain.BookingFromSnapshot("b", domain.Snapshot{"emailSendState": "sent"})), domain.ErrAlreadySent)
	assert.ErrorIs(t, domain.CheckOutcome(domain.BookingFromSnapshot("b", domain.Snapshot{"emailSent": true})), domain.ErrAlreadySent)
}

func TestIsControlField(t *testing.T) {
	for _, f := range domain.ControlFields {
		assert.True(t, domain.IsControlField(f), f)
	}
	assert.True(t, domain.IsControlField("emailSendError.message"))
	assert.False(t, domain.IsControlField("status"))
	assert.False(t, domain.IsControlField("emailSendStateX"))
	assert.False(t, domain.IsControlField("userEmail"))
}

func TestWithControlOf(t *testing.T) {
	prev := domain.Snapshot{"status": "pending", "emailSendState": "sent", "emailSent": true}
	next := domain.Snapshot{"status": "completed", "isPaid": true, "emailSendState": "error"}

	got := next.WithControlOf(prev)
	assert.Equal(t, domain.Snapshot{"status": "completed", "isPaid": true, "emailSendState": "sent", "emailSent": true}, got)
	assert.Equal(t, "error", next["emailSendState"], "receiver must not be mutated")

	assert.Equal(t, domain.Snapshot{"status": "completed", "isPaid": true}, next.WithControlOf(nil))
}
