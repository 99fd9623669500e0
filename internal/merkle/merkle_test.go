package merkle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/opaque/core/internal/poseidon"
	"github.com/opaque/core/pkg/types"
)

func leafFromInt(t *testing.T, v int64) types.Hash {
	t.Helper()
	h, err := types.HashFromBig(big.NewInt(v))
	if err != nil {
		t.Fatalf("leafFromInt: %v", err)
	}
	return h
}

func mustHashPair(t *testing.T, left, right types.Hash) types.Hash {
	t.Helper()
	v, err := poseidon.HashTwo(left.Big(), right.Big())
	if err != nil {
		t.Fatalf("hash pair: %v", err)
	}
	h, err := types.HashFromBig(v)
	if err != nil {
		t.Fatalf("hash pair encode: %v", err)
	}
	return h
}

// referenceRoot computes the root of a full depth-D tree over the first n
// leaves padded with zero subtrees, by direct recursion.
func referenceRoot(t *testing.T, depth int, leaves []types.Hash, zeros []types.Hash) types.Hash {
	t.Helper()

	var node func(level int, index uint64) types.Hash
	node = func(level int, index uint64) types.Hash {
		if level == 0 {
			if index < uint64(len(leaves)) {
				return leaves[index]
			}
			return zeros[0]
		}
		return mustHashPair(t, node(level-1, 2*index), node(level-1, 2*index+1))
	}
	return node(depth, 0)
}

func newTestTree(t *testing.T, depth int) *Tree {
	t.Helper()
	tree, err := NewTree(NewInMemoryTreeStore(), depth)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree
}

// Empty tree of depth 3 has root zero[3]
func TestEmptyTreeRoot(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 3)

	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != tree.ZeroHash(3) {
		t.Errorf("empty root = %s, want zero[3] = %s", root.Hex(), tree.ZeroHash(3).Hex())
	}
	if tree.ZeroHash(0) != types.EmptyHash {
		t.Error("zero[0] should be 0")
	}
}

// Depth-3 tree: insert 5, then 7, checking roots against the hand-built chain
func TestInsertConcreteScenario(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 3)

	l0 := leafFromInt(t, 5)
	idx, err := tree.Insert(ctx, l0)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx != 0 {
		t.Errorf("first leaf index = %d, want 0", idx)
	}

	// root = H(H(H(5, zero[0]), zero[1]), zero[2])
	want := mustHashPair(t, l0, tree.ZeroHash(0))
	want = mustHashPair(t, want, tree.ZeroHash(1))
	want = mustHashPair(t, want, tree.ZeroHash(2))

	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != want {
		t.Errorf("root after one insert = %s, want %s", root.Hex(), want.Hex())
	}

	l1 := leafFromInt(t, 7)
	idx, err = tree.Insert(ctx, l1)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx != 1 {
		t.Errorf("second leaf index = %d, want 1", idx)
	}

	// root = H(H(H(5, 7), zero[1]), zero[2])
	want = mustHashPair(t, l0, l1)
	want = mustHashPair(t, want, tree.ZeroHash(1))
	want = mustHashPair(t, want, tree.ZeroHash(2))

	root, err = tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != want {
		t.Errorf("root after two inserts = %s, want %s", root.Hex(), want.Hex())
	}
}

// Incremental roots match a reference full-tree hash for every leaf count
func TestRootMatchesReference(t *testing.T) {
	ctx := context.Background()
	const depth = 3

	tree := newTestTree(t, depth)
	zeros, err := ZeroHashes(depth)
	if err != nil {
		t.Fatalf("ZeroHashes: %v", err)
	}

	var leaves []types.Hash
	for n := 0; n <= 1<<depth; n++ {
		root, err := tree.Root(ctx)
		if err != nil {
			t.Fatalf("Root: %v", err)
		}
		want := referenceRoot(t, depth, leaves, zeros)
		if root != want {
			t.Errorf("n=%d: root = %s, want %s", n, root.Hex(), want.Hex())
		}

		if n == 1<<depth {
			break
		}
		leaf := leafFromInt(t, int64(100+n))
		if _, err := tree.Insert(ctx, leaf); err != nil {
			t.Fatalf("Insert %d: %v", n, err)
		}
		leaves = append(leaves, leaf)
	}
}

// Every inserted leaf's path verifies against the current root
func TestPathVerifiesForAllLeaves(t *testing.T) {
	ctx := context.Background()
	const depth = 4

	tree := newTestTree(t, depth)
	var leaves []types.Hash
	for i := 0; i < 11; i++ {
		leaf := leafFromInt(t, int64(1000+i*7))
		if _, err := tree.Insert(ctx, leaf); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		leaves = append(leaves, leaf)

		root, err := tree.Root(ctx)
		if err != nil {
			t.Fatalf("Root: %v", err)
		}
		for j, l := range leaves {
			path, err := tree.Path(ctx, uint64(j))
			if err != nil {
				t.Fatalf("Path(%d): %v", j, err)
			}
			ok, err := tree.VerifyPath(l, path, root)
			if err != nil {
				t.Fatalf("VerifyPath(%d): %v", j, err)
			}
			if !ok {
				t.Errorf("path for leaf %d should verify after %d inserts", j, i+1)
			}
		}
	}
}

// A path for the wrong leaf must not verify
func TestPathRejectsWrongLeaf(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 3)

	if _, err := tree.Insert(ctx, leafFromInt(t, 5)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	path, err := tree.Path(ctx, 0)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}

	ok, err := tree.VerifyPath(leafFromInt(t, 6), path, root)
	if err != nil {
		t.Fatalf("VerifyPath: %v", err)
	}
	if ok {
		t.Error("path should not verify for a different leaf")
	}
}

// Tree rejects inserts beyond capacity
func TestTreeFull(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)

	for i := 0; i < 4; i++ {
		if _, err := tree.Insert(ctx, leafFromInt(t, int64(i+1))); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if _, err := tree.Insert(ctx, leafFromInt(t, 99)); !errors.Is(err, ErrTreeFull) {
		t.Errorf("expected ErrTreeFull, got %v", err)
	}
	if tree.Size() != 4 {
		t.Errorf("size = %d after rejected insert, want 4", tree.Size())
	}
}

// Path for an index outside [0, size) fails
func TestPathLeafNotFound(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 3)

	if _, err := tree.Path(ctx, 0); !errors.Is(err, ErrLeafNotFound) {
		t.Errorf("empty tree: expected ErrLeafNotFound, got %v", err)
	}

	if _, err := tree.Insert(ctx, leafFromInt(t, 5)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tree.Path(ctx, 1); !errors.Is(err, ErrLeafNotFound) {
		t.Errorf("out-of-range index: expected ErrLeafNotFound, got %v", err)
	}
}

// A path built for one depth must not verify against another
func TestVerifyPathDepthMismatch(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 3)

	leaf := leafFromInt(t, 5)
	if _, err := tree.Insert(ctx, leaf); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	path, err := tree.Path(ctx, 0)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}

	if _, err := VerifyPath(4, leaf, path, root); !errors.Is(err, ErrInvalidProofShape) {
		t.Errorf("expected ErrInvalidProofShape, got %v", err)
	}
	if _, err := VerifyPath(3, leaf, nil, root); !errors.Is(err, ErrInvalidProofShape) {
		t.Errorf("nil path: expected ErrInvalidProofShape, got %v", err)
	}
}

// Leaves round-trips the insertion sequence
func TestLeaves(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 3)

	want := []types.Hash{leafFromInt(t, 3), leafFromInt(t, 9), leafFromInt(t, 27)}
	for _, l := range want {
		if _, err := tree.Insert(ctx, l); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := tree.Leaves(ctx)
	if err != nil {
		t.Fatalf("Leaves: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(leaves) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("leaf %d = %s, want %s", i, got[i].Hex(), want[i].Hex())
		}
	}
}

// Invalid depths are rejected at construction
func TestNewTreeInvalidDepth(t *testing.T) {
	for _, depth := range []int{0, -1, MaxDepth + 1} {
		if _, err := NewTree(NewInMemoryTreeStore(), depth); !errors.Is(err, ErrInvalidDepth) {
			t.Errorf("depth %d: expected ErrInvalidDepth, got %v", depth, err)
		}
	}
}
