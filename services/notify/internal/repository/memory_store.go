package repository

import (
	"context"
	"sync"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

// MemoryStore keeps bookings in process. A single mutex serialises claims,
// which gives the same guarantees as a serializable transaction.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]domain.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]domain.Snapshot)}
}

// Put replaces the document stored under id.
func (s *MemoryStore) Put(id string, doc domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = doc.Apply(domain.Patch{})
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc.Apply(domain.Patch{}), nil
}

func (s *MemoryStore) Claim(ctx context.Context, id string, policy domain.ClaimPolicy) (ClaimResult, error) {
	if err := ctx.Err(); err != nil {
		return ClaimResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, patch := decideClaim(id, s.docs[id], policy)
	if patch != nil {
		s.docs[id] = s.docs[id].Apply(*patch)
	}
	return res, nil
}

func (s *MemoryStore) CommitOutcome(ctx context.Context, id string, outcome domain.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.docs[id]
	if err := checkOutcome(id, current); err != nil {
		return err
	}
	s.docs[id] = current.Apply(outcome.Patch())
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Mirror applies an upstream change to the stored document. A nil snapshot
// deletes it; otherwise the business fields are replaced and the control
// fields already stored are kept, so a replayed snapshot cannot undo a claim
// or a sent outcome.
func (s *MemoryStore) Mirror(id string, after domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if after == nil {
		delete(s.docs, id)
		return
	}
	s.docs[id] = after.WithControlOf(s.docs[id])
}
