// Package pool implements the privacy pool state machine: the commitment
// accumulator, the spent-nullifier set, the association gate, custody, and
// withdrawal proof verification.
package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/opaque/core/pkg/types"
)

// Nullifier errors
var (
	ErrNullifierAlreadyUsed = errors.New("nullifier already used")
	ErrNullifierUnknown     = errors.New("nullifier not found")
)

// SpentRecord describes one consumed nullifier
type SpentRecord struct {
	// NullifierHash is the public nullifier hash from the proof
	NullifierHash types.Hash

	// Recipient received the withdrawn funds
	Recipient types.Address

	// Value is the withdrawn amount in base units
	Value uint64
}

// NullifierStore defines the interface for persistent nullifier storage
type NullifierStore interface {
	// HasNullifier checks if a nullifier hash has been consumed
	HasNullifier(ctx context.Context, nullifierHash types.Hash) (bool, error)

	// AddNullifier records a consumed nullifier
	AddNullifier(ctx context.Context, record *SpentRecord) error

	// ListNullifiers returns all consumed nullifier hashes
	ListNullifiers(ctx context.Context) ([]types.Hash, error)

	// GetNullifier returns the record for a consumed nullifier
	GetNullifier(ctx context.Context, nullifierHash types.Hash) (*SpentRecord, error)
}

// NullifierSet tracks consumed nullifiers to prevent double-spending. A
// small in-memory cache fronts the store for the common hot-path check.
type NullifierSet struct {
	mu sync.RWMutex

	cache map[types.Hash]struct{}
	store NullifierStore

	maxCacheSize int
}

// DefaultNullifierCacheSize bounds the in-memory cache
const DefaultNullifierCacheSize = 100000

// NewNullifierSet creates a nullifier set over the given store
func NewNullifierSet(store NullifierStore) *NullifierSet {
	return &NullifierSet{
		cache:        make(map[types.Hash]struct{}),
		store:        store,
		maxCacheSize: DefaultNullifierCacheSize,
	}
}

// IsSpent checks if a nullifier hash has been consumed
func (ns *NullifierSet) IsSpent(ctx context.Context, nullifierHash types.Hash) (bool, error) {
	ns.mu.RLock()
	_, inCache := ns.cache[nullifierHash]
	ns.mu.RUnlock()
	if inCache {
		return true, nil
	}
	return ns.store.HasNullifier(ctx, nullifierHash)
}

// MarkSpent records a consumed nullifier
func (ns *NullifierSet) MarkSpent(ctx context.Context, record *SpentRecord) error {
	spent, err := ns.IsSpent(ctx, record.NullifierHash)
	if err != nil {
		return err
	}
	if spent {
		return ErrNullifierAlreadyUsed
	}

	if err := ns.store.AddNullifier(ctx, record); err != nil {
		return err
	}

	ns.mu.Lock()
	ns.cache[record.NullifierHash] = struct{}{}
	if len(ns.cache) > ns.maxCacheSize {
		for k := range ns.cache {
			delete(ns.cache, k)
			break
		}
	}
	ns.mu.Unlock()

	return nil
}

// List returns all consumed nullifier hashes
func (ns *NullifierSet) List(ctx context.Context) ([]types.Hash, error) {
	return ns.store.ListNullifiers(ctx)
}

// Record returns the spend record for a consumed nullifier
func (ns *NullifierSet) Record(ctx context.Context, nullifierHash types.Hash) (*SpentRecord, error) {
	return ns.store.GetNullifier(ctx, nullifierHash)
}

// InMemoryNullifierStore is a map-backed nullifier store for tests
type InMemoryNullifierStore struct {
	mu      sync.RWMutex
	records map[types.Hash]*SpentRecord
	order   []types.Hash
}

// NewInMemoryNullifierStore creates an empty in-memory nullifier store
func NewInMemoryNullifierStore() *InMemoryNullifierStore {
	return &InMemoryNullifierStore{
		records: make(map[types.Hash]*SpentRecord),
	}
}

// HasNullifier checks if a nullifier hash exists
func (s *InMemoryNullifierStore) HasNullifier(ctx context.Context, nullifierHash types.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.records[nullifierHash]
	return exists, nil
}

// AddNullifier records a consumed nullifier
func (s *InMemoryNullifierStore) AddNullifier(ctx context.Context, record *SpentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.NullifierHash]; exists {
		return ErrNullifierAlreadyUsed
	}
	s.records[record.NullifierHash] = record
	s.order = append(s.order, record.NullifierHash)
	return nil
}

// ListNullifiers returns consumed nullifier hashes in insertion order
func (s *InMemoryNullifierStore) ListNullifiers(ctx context.Context) ([]types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Hash, len(s.order))
	copy(out, s.order)
	return out, nil
}

// GetNullifier returns the record for a consumed nullifier
func (s *InMemoryNullifierStore) GetNullifier(ctx context.Context, nullifierHash types.Hash) (*SpentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[nullifierHash]
	if !exists {
		return nil, ErrNullifierUnknown
	}
	return record, nil
}
