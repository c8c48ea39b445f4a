package repo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
)

// MemoryStore keeps accounts in process. Updates are serialized by a single
// mutex, which makes it suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[int64]*entity.Account
	byEmail map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[int64]*entity.Account{}, byEmail: map[string]int64{}}
}

func (s *MemoryStore) Create(_ context.Context, a *entity.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrDuplicate
	}
	if _, ok := s.byID[a.ID]; ok {
		return ErrDuplicate
	}
	c := a.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.byID[c.ID] = c
	s.byEmail[c.Email] = c.ID
	a.Version = c.Version
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*entity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*entity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// Update runs fn on a copy of the account and commits it only if fn succeeds.
func (s *MemoryStore) Update(_ context.Context, id int64, fn func(*entity.Account) error) (*entity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cur.Clone(), nil
		}
		return nil, err
	}
	next.ID = cur.ID
	next.Email = cur.Email
	next.Version = cur.Version + 1
	s.byID[id] = next
	return next.Clone(), nil
}

// ExpiredLocks lists accounts whose stored lock ended at or before now.
func (s *MemoryStore) ExpiredLocks(_ context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, a := range s.byID {
		if a.LockedUntil != nil && !now.Before(*a.LockedUntil) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
