package repository_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/repository"
)

func newRedisStore(t *testing.T) (*repository.RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repository.NewRedisStore(client, "bookings:"), mr, client
}

// interleave writes to a watched key right before the first MULTI/EXEC goes
// out, which makes that transaction fail.
type interleave struct {
	once  sync.Once
	write func()
}

func (h *interleave) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *interleave) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h *interleave) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.once.Do(h.write)
		return next(ctx, cmds)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestRedisStore_Claim(t *testing.T) {
	store, _, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "b1", paidBooking()))

	res, err := store.Claim(ctx, "b1", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, domain.SendSending, res.Booking.Email.State)

	doc, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "sending", doc["emailSendState"])

	res, err = store.Claim(ctx, "b1", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, domain.ReasonInProgress, res.Reason)
}

func TestRedisStore_ClaimMissingKey(t *testing.T) {
	store, mr, _ := newRedisStore(t)

	res, err := store.Claim(context.Background(), "ghost", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, domain.ReasonDeleted, res.Reason)
	assert.False(t, mr.Exists("bookings:ghost"), "a declined claim must not create the key")
}

func TestRedisStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	store, _, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "b1", paidBooking()))

	var winners atomic.Int32
	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			res, err := store.Claim(ctx, "b1", domain.ClaimPolicy{Now: now})
			if err != nil {
				return err
			}
			if res.Claimed {
				winners.Add(1)
			} else {
				assert.Contains(t, []string{domain.ReasonInProgress, domain.ReasonClaimConflict}, res.Reason)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisStore_ClaimConflictIsNotAnError(t *testing.T) {
	store, mr, client := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "b1", paidBooking()))

	rival := paidBooking().Apply(domain.ClaimPatch(now))
	client.AddHook(&interleave{write: func() { mr.Set("bookings:b1", mustJSON(t, rival)) }})

	res, err := store.Claim(ctx, "b1", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, domain.ReasonClaimConflict, res.Reason)

	stored, err := mr.Get("bookings:b1")
	require.NoError(t, err)
	assert.JSONEq(t, mustJSON(t, rival), stored, "the rival's write must win")
}

func TestRedisStore_CommitOutcome(t *testing.T) {
	store, _, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "b1", paidBooking()))

	_, err := store.Claim(ctx, "b1", domain.ClaimPolicy{Now: now})
	require.NoError(t, err)
	require.NoError(t, store.CommitOutcome(ctx, "b1", domain.SentOutcome(now, "msg-1")))

	doc, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "sent", doc["emailSendState"])
	assert.Equal(t, true, doc["emailSent"])
	assert.Equal(t, "msg-1", doc["emailMessageId"])

	err = store.CommitOutcome(ctx, "b1", domain.FailedOutcome(now, assert.AnError))
	assert.ErrorIs(t, err, domain.ErrAlreadySent)

	doc, err = store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "sent", doc["emailSendState"], "sent is absorbing")

	err = store.CommitOutcome(ctx, "ghost", domain.SentOutcome(now, "msg-2"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisStore_CommitOutcomeRetriesConflict(t *testing.T) {
	store, mr, client := newRedisStore(t)
	ctx := context.Background()
	claimed := paidBooking().Apply(domain.ClaimPatch(now))
	require.NoError(t, store.Put(ctx, "b1", claimed))

	edited := claimed.Apply(domain.Patch{Set: map[string]any{"pickupLocation": "Airport"}})
	client.AddHook(&interleave{write: func() { mr.Set("bookings:b1", mustJSON(t, edited)) }})

	require.NoError(t, store.CommitOutcome(ctx, "b1", domain.SentOutcome(now, "msg-1")))

	doc, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "sent", doc["emailSendState"])
	assert.Equal(t, "Airport", doc["pickupLocation"], "the retry must apply on top of the concurrent edit")
}
