// Package merkle implements the append-only lean incremental Merkle tree
// that accumulates note commitments.
//
// The tree never materializes empty subtrees: a layer with an odd number of
// occupied nodes pairs its last node with the precomputed zero hash for that
// level. Leaf index equals insertion order and the tree is never pruned or
// reordered, so the root is a pure function of the leaf sequence.
package merkle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opaque/core/internal/poseidon"
	"github.com/opaque/core/pkg/types"
)

// Merkle tree errors
var (
	ErrTreeFull          = errors.New("merkle tree is full")
	ErrLeafNotFound      = errors.New("leaf not found in tree")
	ErrInvalidProofShape = errors.New("proof shape does not match tree depth")
	ErrInvalidDepth      = errors.New("invalid tree depth")
)

// MaxDepth bounds the configurable tree depth. Depth is a deployment
// parameter fixed at genesis, never hardcoded in verification paths.
const MaxDepth = 32

// TreeStore defines the interface for Merkle node persistence.
// Nodes are keyed by (level, index); level 0 holds the leaves.
type TreeStore interface {
	// GetNode retrieves a node; found is false for never-written positions
	GetNode(ctx context.Context, level int, index uint64) (types.Hash, bool, error)

	// SetNode stores a node
	SetNode(ctx context.Context, level int, index uint64, node types.Hash) error

	// GetSize returns the number of leaves
	GetSize(ctx context.Context) (uint64, error)

	// SetSize updates the leaf count
	SetSize(ctx context.Context, size uint64) error
}

// Path is an inclusion path from a leaf to the root.
type Path struct {
	// Siblings are the sibling nodes, leaf level first
	Siblings []types.Hash

	// Bits indicates, per level, whether the path node is a right child
	Bits []bool

	// LeafIndex is the position of the leaf
	LeafIndex uint64
}

// Tree is an append-only Merkle accumulator of fixed depth.
type Tree struct {
	mu sync.RWMutex

	depth int
	size  uint64
	zeros []types.Hash
	store TreeStore
}

// NewTree creates a tree of the given depth over the given store and
// precomputes the zero hashes: zero[0] = 0, zero[i] = H(zero[i-1], zero[i-1]).
func NewTree(store TreeStore, depth int) (*Tree, error) {
	if depth <= 0 || depth > MaxDepth {
		return nil, ErrInvalidDepth
	}

	zeros, err := ZeroHashes(depth)
	if err != nil {
		return nil, err
	}

	return &Tree{
		depth: depth,
		zeros: zeros,
		store: store,
	}, nil
}

// ZeroHashes returns the zero-subtree hashes for levels 0..depth.
func ZeroHashes(depth int) ([]types.Hash, error) {
	zeros := make([]types.Hash, depth+1)
	zeros[0] = types.EmptyHash
	for i := 1; i <= depth; i++ {
		z, err := hashPair(zeros[i-1], zeros[i-1])
		if err != nil {
			return nil, err
		}
		zeros[i] = z
	}
	return zeros, nil
}

// Initialize loads the leaf count from the store
func (t *Tree) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	size, err := t.store.GetSize(ctx)
	if err != nil {
		return err
	}
	t.size = size
	return nil
}

// Depth returns the fixed tree depth
func (t *Tree) Depth() int {
	return t.depth
}

// Size returns the number of leaves
func (t *Tree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// ZeroHash returns the precomputed empty-subtree hash for a level
func (t *Tree) ZeroHash(level int) types.Hash {
	return t.zeros[level]
}

// Insert appends a leaf and returns its index. Only the O(depth) ancestors
// of the new leaf are recomputed.
func (t *Tree) Insert(ctx context.Context, leaf types.Hash) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size >= uint64(1)<<t.depth {
		return 0, ErrTreeFull
	}

	index := t.size
	if err := t.store.SetNode(ctx, 0, index, leaf); err != nil {
		return 0, err
	}

	current := leaf
	currentIndex := index
	for level := 0; level < t.depth; level++ {
		sibling, err := t.node(ctx, level, currentIndex^1)
		if err != nil {
			return 0, err
		}

		var parent types.Hash
		if currentIndex%2 == 0 {
			parent, err = hashPair(current, sibling)
		} else {
			parent, err = hashPair(sibling, current)
		}
		if err != nil {
			return 0, err
		}

		currentIndex /= 2
		current = parent
		if err := t.store.SetNode(ctx, level+1, currentIndex, current); err != nil {
			return 0, err
		}
	}

	t.size = index + 1
	if err := t.store.SetSize(ctx, t.size); err != nil {
		return 0, err
	}
	return index, nil
}

// Root returns the current root. An empty tree has root zero[depth].
func (t *Tree) Root(ctx context.Context) (types.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.size == 0 {
		return t.zeros[t.depth], nil
	}
	return t.node(ctx, t.depth, 0)
}

// Path returns the inclusion path for a leaf index. The sibling at a level
// is the zero hash when that subtree is still empty.
func (t *Tree) Path(ctx context.Context, index uint64) (*Path, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index >= t.size {
		return nil, ErrLeafNotFound
	}

	siblings := make([]types.Hash, t.depth)
	bits := make([]bool, t.depth)

	currentIndex := index
	for level := 0; level < t.depth; level++ {
		sibling, err := t.node(ctx, level, currentIndex^1)
		if err != nil {
			return nil, err
		}
		siblings[level] = sibling
		bits[level] = currentIndex%2 == 1
		currentIndex /= 2
	}

	return &Path{
		Siblings:  siblings,
		Bits:      bits,
		LeafIndex: index,
	}, nil
}

// Leaf returns the leaf at a given index
func (t *Tree) Leaf(ctx context.Context, index uint64) (types.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index >= t.size {
		return types.EmptyHash, ErrLeafNotFound
	}
	return t.node(ctx, 0, index)
}

// Leaves returns the full leaf sequence in insertion order
func (t *Tree) Leaves(ctx context.Context) ([]types.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaves := make([]types.Hash, 0, t.size)
	for i := uint64(0); i < t.size; i++ {
		leaf, err := t.node(ctx, 0, i)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

// VerifyPath checks a path against this tree's depth and an expected root
func (t *Tree) VerifyPath(leaf types.Hash, path *Path, root types.Hash) (bool, error) {
	return VerifyPath(t.depth, leaf, path, root)
}

// node reads a stored node, substituting the zero hash for empty positions
func (t *Tree) node(ctx context.Context, level int, index uint64) (types.Hash, error) {
	n, found, err := t.store.GetNode(ctx, level, index)
	if err != nil {
		return types.EmptyHash, err
	}
	if !found {
		return t.zeros[level], nil
	}
	return n, nil
}

// VerifyPath recomputes the root from a leaf and its path and compares it to
// the expected root. It is a pure function with no tree state. A path whose
// length disagrees with the stated depth is rejected rather than truncated
// or padded.
func VerifyPath(depth int, leaf types.Hash, path *Path, root types.Hash) (bool, error) {
	if path == nil || len(path.Siblings) != depth || len(path.Bits) != depth {
		return false, ErrInvalidProofShape
	}

	current := leaf
	for i := 0; i < depth; i++ {
		var err error
		if path.Bits[i] {
			current, err = hashPair(path.Siblings[i], current)
		} else {
			current, err = hashPair(current, path.Siblings[i])
		}
		if err != nil {
			return false, err
		}
	}
	return current == root, nil
}

// hashPair hashes two nodes as H(left, right)
func hashPair(left, right types.Hash) (types.Hash, error) {
	h, err := poseidon.HashTwo(left.Big(), right.Big())
	if err != nil {
		return types.EmptyHash, fmt.Errorf("merkle: %w", err)
	}
	return types.HashFromBig(h)
}

// InMemoryTreeStore is a map-backed tree store for tests and client mirrors
type InMemoryTreeStore struct {
	mu    sync.RWMutex
	nodes map[int]map[uint64]types.Hash
	size  uint64
}

// NewInMemoryTreeStore creates an empty in-memory tree store
func NewInMemoryTreeStore() *InMemoryTreeStore {
	return &InMemoryTreeStore{
		nodes: make(map[int]map[uint64]types.Hash),
	}
}

// GetNode retrieves a node
func (s *InMemoryTreeStore) GetNode(ctx context.Context, level int, index uint64) (types.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levelMap, ok := s.nodes[level]
	if !ok {
		return types.EmptyHash, false, nil
	}
	n, ok := levelMap[index]
	return n, ok, nil
}

// SetNode stores a node
func (s *InMemoryTreeStore) SetNode(ctx context.Context, level int, index uint64, node types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodes[level] == nil {
		s.nodes[level] = make(map[uint64]types.Hash)
	}
	s.nodes[level][index] = node
	return nil
}

// GetSize returns the leaf count
func (s *InMemoryTreeStore) GetSize(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size, nil
}

// SetSize updates the leaf count
func (s *InMemoryTreeStore) SetSize(ctx context.Context, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = size
	return nil
}
