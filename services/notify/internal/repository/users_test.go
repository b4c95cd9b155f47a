package repository_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/repository"
)

func TestMemoryUsers(t *testing.T) {
	users := repository.NewMemoryUsers()
	users.Put("u1", " asha@example.com ")
	users.Put("u2", "")

	email, err := users.LookupEmail(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", email)

	_, err = users.LookupEmail(context.Background(), "u2")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = users.LookupEmail(context.Background(), "u3")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestCachedDirectory_FallsThroughWhenCacheIsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { client.Close() })

	users := repository.NewMemoryUsers()
	users.Put("u1", "asha@example.com")
	dir := repository.NewCachedDirectory(users, client, time.Minute)

	email, err := dir.LookupEmail(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", email)

	_, err = dir.LookupEmail(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSnapshotFromBSON(t *testing.T) {
	at := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	price, err := bson.ParseDecimal128("1500.50")
	require.NoError(t, err)

	snap := repository.SnapshotFromBSON(bson.M{
		"_id":         "b1",
		"status":      "completed",
		"isPaid":      true,
		"bookingDate": bson.NewDateTimeFromTime(at),
		"totalPrice":  price,
		"startDate":   bson.D{{Key: "_seconds", Value: int64(at.Unix())}, {Key: "_nanoseconds", Value: int32(0)}},
	})

	assert.NotContains(t, snap, "_id")
	b := domain.BookingFromSnapshot("b1", snap)
	assert.True(t, domain.IsEligible(b))
	assert.True(t, b.HasBookingDate)
	assert.True(t, at.Equal(b.BookingDate))
	assert.True(t, b.HasStartDate)
	assert.True(t, at.Equal(b.StartDate))
	assert.InDelta(t, 1500.5, b.TotalPrice, 1e-9)

	assert.Nil(t, repository.SnapshotFromBSON(nil))
}
