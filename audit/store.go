package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liamcoop/creditapproval/credit"
)

// ErrNotFound is returned when a decision id is unknown to a store
var ErrNotFound = errors.New("decision not found")

// Sink receives completed decisions
type Sink interface {
	Write(ctx context.Context, d credit.Decision) error
}

// Store is a Sink that can read decisions back
type Store interface {
	Sink

	// Get returns the decision with the given id
	Get(ctx context.Context, id string) (*credit.Decision, error)

	// Recent returns up to limit decisions, newest first
	Recent(ctx context.Context, limit int) ([]credit.Decision, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// MemoryStore keeps the newest decisions in process memory. Once capacity is
// reached each write evicts the oldest stored decision.
type MemoryStore struct {
	decisions map[string]credit.Decision
	order     []string // ids in write order
	capacity  int
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty store holding at most capacity decisions;
// capacity <= 0 means unbounded
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		decisions: make(map[string]credit.Decision),
		capacity:  capacity,
	}
}

// Write stores d; ids must be unique
func (s *MemoryStore) Write(_ context.Context, d credit.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.decisions[d.ID]; exists {
		return fmt.Errorf("decision with ID %s already exists", d.ID)
	}
	s.decisions[d.ID] = d
	s.order = append(s.order, d.ID)

	if s.capacity > 0 && len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.decisions, oldest)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*credit.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.decisions[id]
	if !exists {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]credit.Decision, error) {
	s.mu.RLock()
	all := make([]credit.Decision, 0, len(s.decisions))
	for _, d := range s.decisions {
		all = append(all, d)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Len returns the number of stored decisions
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.decisions)
}
