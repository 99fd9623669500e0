// Package association implements the approved-label set used for
// compliance-gated withdrawals.
//
// An association set provider curates a small Merkle tree of approved labels
// and publishes its root to the pool. Withdrawal proofs must show membership
// of the note's label in the published tree.
package association

import (
	"context"
	"errors"
	"sync"

	"github.com/opaque/core/internal/merkle"
	"github.com/opaque/core/pkg/types"
)

// Association set errors
var (
	ErrOnlyAuthority            = errors.New("caller is not the association authority")
	ErrAssociationNotConfigured = errors.New("association root is not configured")
)

// RootStore defines the interface for published-root persistence
type RootStore interface {
	// GetRoot returns the published root; found is false before first publish
	GetRoot(ctx context.Context) (types.Hash, bool, error)

	// SetRoot publishes a root
	SetRoot(ctx context.Context, root types.Hash) error
}

// Set is an authority-curated tree of approved labels. All mutations are
// gated on the authority address; reads are open.
type Set struct {
	mu sync.RWMutex

	authority types.Address
	tree      *merkle.Tree
	store     RootStore
	published types.Hash
	hasRoot   bool
}

// NewSet creates an association set owned by the given authority
func NewSet(authority types.Address, treeStore merkle.TreeStore, rootStore RootStore, depth int) (*Set, error) {
	tree, err := merkle.NewTree(treeStore, depth)
	if err != nil {
		return nil, err
	}
	return &Set{
		authority: authority,
		tree:      tree,
		store:     rootStore,
	}, nil
}

// Initialize loads tree size and any previously published root
func (s *Set) Initialize(ctx context.Context) error {
	if err := s.tree.Initialize(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	root, found, err := s.store.GetRoot(ctx)
	if err != nil {
		return err
	}
	s.published = root
	s.hasRoot = found && !root.IsZero()
	return nil
}

// Authority returns the authority address
func (s *Set) Authority() types.Address {
	return s.authority
}

// AddLabel appends an approved label to the tree and returns its index.
// Adding a label does not republish the root; the authority calls
// PublishRoot once a batch of labels is in place.
func (s *Set) AddLabel(ctx context.Context, caller types.Address, label types.Hash) (uint64, error) {
	if caller != s.authority {
		return 0, ErrOnlyAuthority
	}
	return s.tree.Insert(ctx, label)
}

// PublishRoot publishes the tree's current root to the store
func (s *Set) PublishRoot(ctx context.Context, caller types.Address) (types.Hash, error) {
	if caller != s.authority {
		return types.EmptyHash, ErrOnlyAuthority
	}

	root, err := s.tree.Root(ctx)
	if err != nil {
		return types.EmptyHash, err
	}
	return root, s.setRoot(ctx, root)
}

// SetRoot publishes an externally computed root. A provider that maintains
// its tree off-node pushes only the root through this path.
func (s *Set) SetRoot(ctx context.Context, caller types.Address, root types.Hash) error {
	if caller != s.authority {
		return ErrOnlyAuthority
	}
	return s.setRoot(ctx, root)
}

func (s *Set) setRoot(ctx context.Context, root types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetRoot(ctx, root); err != nil {
		return err
	}
	s.published = root
	s.hasRoot = !root.IsZero()
	return nil
}

// Root returns the published root. A zero or never-published root means the
// set is not configured and withdrawals must not proceed against it.
func (s *Set) Root() (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasRoot {
		return types.EmptyHash, ErrAssociationNotConfigured
	}
	return s.published, nil
}

// LabelPath returns the inclusion path for an approved label index
func (s *Set) LabelPath(ctx context.Context, index uint64) (*merkle.Path, error) {
	return s.tree.Path(ctx, index)
}

// Labels returns the approved labels in insertion order
func (s *Set) Labels(ctx context.Context) ([]types.Hash, error) {
	return s.tree.Leaves(ctx)
}

// Depth returns the association tree depth
func (s *Set) Depth() int {
	return s.tree.Depth()
}

// InMemoryRootStore is a map-backed root store for tests
type InMemoryRootStore struct {
	mu      sync.RWMutex
	root    types.Hash
	hasRoot bool
}

// NewInMemoryRootStore creates an empty in-memory root store
func NewInMemoryRootStore() *InMemoryRootStore {
	return &InMemoryRootStore{}
}

// GetRoot returns the published root
func (s *InMemoryRootStore) GetRoot(ctx context.Context) (types.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, s.hasRoot, nil
}

// SetRoot publishes a root
func (s *InMemoryRootStore) SetRoot(ctx context.Context, root types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = root
	s.hasRoot = true
	return nil
}
