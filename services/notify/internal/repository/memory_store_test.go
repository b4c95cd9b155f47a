package repository_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/repository"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func paidBooking() domain.Snapshot {
	return domain.Snapshot{
		"status":    "completed",
		"isPaid":    true,
		"userEmail": "asha@example.com",
		"carName":   "Nexon",
	}
}

func TestMemoryStore_ClaimWritesSending(t *testing.T) {
	store := repository.NewMemoryStore()
	store.Put("b1", paidBooking().Apply(domain.Patch{Set: map[string]any{"emailSendError": "old"}}))

	res, err := store.Claim(context.Background(), "b1", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, domain.ReasonEligible, res.Reason)
	assert.Equal(t, domain.SendSending, res.Booking.Email.State)
	assert.Equal(t, "Nexon", res.Booking.CarName)

	doc, err := store.Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "sending", doc["emailSendState"])
	assert.Equal(t, now, doc["emailSendAttemptedAt"])
	assert.NotContains(t, doc, "emailSendError")
}

func TestMemoryStore_ClaimIneligible(t *testing.T) {
	store := repository.NewMemoryStore()
	pending := paidBooking()
	pending["status"] = "pending"
	store.Put("pending", pending)

	res, err := store.Claim(context.Background(), "pending", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, domain.ReasonNotCompleted, res.Reason)

	doc, _ := store.Get(context.Background(), "pending")
	assert.NotContains(t, doc, "emailSendState", "an ineligible claim must not write")

	res, err = store.Claim(context.Background(), "missing", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, domain.ReasonDeleted, res.Reason)
}

func TestMemoryStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	store := repository.NewMemoryStore()
	store.Put("b1", paidBooking())

	var claimed atomic.Int32
	var g errgroup.Group
	for range 50 {
		g.Go(func() error {
			res, err := store.Claim(context.Background(), "b1", domain.ClaimPolicy{Now: now})
			if res.Claimed {
				claimed.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), claimed.Load())
}

func TestMemoryStore_CommitOutcome(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	store.Put("b1", paidBooking())

	_, err := store.Claim(ctx, "b1", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)

	require.NoError(t, store.CommitOutcome(ctx, "b1", domain.SentOutcome(now, "<m1@example.com>")))
	doc, _ := store.Get(ctx, "b1")
	assert.Equal(t, true, doc["emailSent"])
	assert.Equal(t, "sent", doc["emailSendState"])
	assert.Equal(t, "<m1@example.com>", doc["emailMessageId"])

	err = store.CommitOutcome(ctx, "b1", domain.FailedOutcome(now, assert.AnError))
	assert.ErrorIs(t, err, domain.ErrAlreadySent)
	doc, _ = store.Get(ctx, "b1")
	assert.Equal(t, "sent", doc["emailSendState"], "sent is absorbing")

	store.Delete("b1")
	err = store.CommitOutcome(ctx, "b1", domain.SentOutcome(now, ""))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := repository.NewMemoryStore()
	store.Put("b1", paidBooking())

	doc, err := store.Get(context.Background(), "b1")
	require.NoError(t, err)
	doc["status"] = "cancelled"

	again, _ := store.Get(context.Background(), "b1")
	assert.Equal(t, "completed", again["status"])

	_, err = store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := repository.NewMemoryStore()
	store.Put("b1", paidBooking())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Claim(ctx, "b1", domain.ClaimPolicy{Now: now})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_MirrorKeepsControlFields(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	store.Mirror("b1", paidBooking())
	res, err := store.Claim(ctx, "b1", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	require.True(t, res.Claimed)
	require.NoError(t, store.CommitOutcome(ctx, "b1", domain.SentOutcome(now, "msg-1")))

	replay := paidBooking()
	replay["carName"] = "Harrier"
	replay["emailSendState"] = "error"
	store.Mirror("b1", replay)

	doc, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Harrier", doc["carName"])
	assert.Equal(t, "sent", doc["emailSendState"])
	assert.Equal(t, true, doc["emailSent"])

	store.Mirror("b1", nil)
	_, err = store.Get(ctx, "b1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
