package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

// RedisStore keeps each booking as a JSON string under prefix+id. Writes use
// WATCH/MULTI, so a concurrent modification aborts the transaction.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Key(id string) string { return s.prefix + id }

// Put writes a whole document. It exists for seeding and for writers that
// share the keyspace.
func (s *RedisStore) Put(ctx context.Context, id string, doc domain.Snapshot) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.Key(id), raw, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.Snapshot, error) {
	doc, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

// Claim loses cleanly when another writer touches the key between WATCH and
// EXEC: the result is not claimed and the other writer's state wins.
func (s *RedisStore) Claim(ctx context.Context, id string, policy domain.ClaimPolicy) (ClaimResult, error) {
	var res ClaimResult
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}

		var patch *domain.Patch
		res, patch = decideClaim(id, current, policy)
		if patch == nil {
			return nil
		}
		return s.write(ctx, tx, id, current.Apply(*patch))
	}, s.Key(id))

	if errors.Is(err, redis.TxFailedErr) {
		return ClaimResult{Reason: domain.ReasonClaimConflict}, nil
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim booking %s: %w", id, err)
	}
	return res, nil
}

// CommitOutcome retries on WATCH conflicts since an outcome must land.
func (s *RedisStore) CommitOutcome(ctx context.Context, id string, outcome domain.Outcome) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(20*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.read(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := checkOutcome(id, current); err != nil {
				return err
			}
			return s.write(ctx, tx, id, current.Apply(outcome.Patch()))
		}, s.Key(id))
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) read(ctx context.Context, c redis.Cmdable, id string) (domain.Snapshot, error) {
	raw, err := c.Get(ctx, s.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := domain.DecodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("decode booking %s: %w", id, err)
	}
	if doc == nil {
		doc = domain.Snapshot{}
	}
	return doc, nil
}

func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, id string, doc domain.Snapshot) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode booking %s: %w", id, err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.Key(id), raw, redis.KeepTTL)
		return nil
	})
	return err
}
