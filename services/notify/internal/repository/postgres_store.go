package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

// PostgresStore keeps each booking as a JSONB document in the bookings table.
// Claims and outcomes lock the row with SELECT ... FOR UPDATE.
type PostgresStore struct{ pool *pgxpool.Pool }

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore { return &PostgresStore{pool: pool} }

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Snapshot, error) {
	const q = `SELECT data FROM bookings WHERE id = $1`

	var raw []byte
	if err := s.pool.QueryRow(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return domain.DecodeSnapshot(raw)
}

func (s *PostgresStore) Claim(ctx context.Context, id string, policy domain.ClaimPolicy) (ClaimResult, error) {
	var res ClaimResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := lockBooking(ctx, tx, id)
		if err != nil {
			return err
		}

		var patch *domain.Patch
		res, patch = decideClaim(id, current, policy)
		if patch == nil {
			return nil
		}
		return patchBooking(ctx, tx, id, *patch)
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim booking %s: %w", id, err)
	}
	return res, nil
}

func (s *PostgresStore) CommitOutcome(ctx context.Context, id string, outcome domain.Outcome) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := lockBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkOutcome(id, current); err != nil {
			return err
		}
		return patchBooking(ctx, tx, id, outcome.Patch())
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// lockBooking reads the document under a row lock. A missing row is a nil snapshot.
func lockBooking(ctx context.Context, tx pgx.Tx, id string) (domain.Snapshot, error) {
	const q = `SELECT data FROM bookings WHERE id = $1 FOR UPDATE`

	var raw []byte
	if err := tx.QueryRow(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
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

func patchBooking(ctx context.Context, tx pgx.Tx, id string, p domain.Patch) error {
	const q = `
UPDATE bookings
SET data = (data - $2::text[]) || $3::jsonb,
    updated_at = now()
WHERE id = $1`

	set, err := json.Marshal(p.Set)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	// A nil slice would be sent as NULL and null out the whole document.
	unset := append(make([]string, 0, len(p.Unset)), p.Unset...)

	_, err = tx.Exec(ctx, q, id, unset, string(set))
	return err
}
