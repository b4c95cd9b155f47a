// Package repository holds the record stores that own booking documents and
// the identity lookups used to resolve a recipient address.
package repository

import (
	"context"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

// ClaimResult reports whether this caller won the right to send. Booking is
// the record as it was committed by the claim and is only set when Claimed.
type ClaimResult struct {
	Claimed bool
	Reason  string
	Booking domain.Booking
}

// BookingStore is a transactional document store for bookings.
//
// Claim re-reads the record inside a transaction, re-applies the eligibility
// predicate and, when it holds, commits the claim patch before returning. A
// record that does not exist yields Claimed=false without an error.
//
// CommitOutcome records the terminal result of a delivery attempt. It returns
// domain.ErrNotFound when the record is gone and domain.ErrAlreadySent when the
// record already carries a sent outcome.
type BookingStore interface {
	Get(ctx context.Context, id string) (domain.Snapshot, error)
	Claim(ctx context.Context, id string, policy domain.ClaimPolicy) (ClaimResult, error)
	CommitOutcome(ctx context.Context, id string, outcome domain.Outcome) error
	Ping(ctx context.Context) error
}

// decideClaim evaluates the freshly read snapshot. It returns the patch to
// commit, or nil when the booking must not be claimed.
func decideClaim(id string, current domain.Snapshot, policy domain.ClaimPolicy) (ClaimResult, *domain.Patch) {
	if current == nil {
		return ClaimResult{Reason: domain.ReasonDeleted}, nil
	}

	ok, reason := domain.Eligibility(domain.BookingFromSnapshot(id, current), policy)
	if !ok {
		return ClaimResult{Reason: reason}, nil
	}

	patch := domain.ClaimPatch(policy.Now)
	return ClaimResult{
		Claimed: true,
		Reason:  reason,
		Booking: domain.BookingFromSnapshot(id, current.Apply(patch)),
	}, &patch
}

// checkOutcome guards an outcome write against the current snapshot.
func checkOutcome(id string, current domain.Snapshot) error {
	if current == nil {
		return domain.ErrNotFound
	}
	return domain.CheckOutcome(domain.BookingFromSnapshot(id, current))
}
