package client

import (
	"context"
	"errors"
	"testing"

	"github.com/opaque/core/internal/merkle"
	"github.com/opaque/core/internal/note"
	"github.com/opaque/core/internal/zkproof"
	"github.com/opaque/core/pkg/types"
)

const testDepth = 4

// newTestWallet builds a wallet over an uncompiled manager; tests that do
// not prove never pay for the ceremony.
func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	w, err := NewWallet(zkproof.NewManager(testDepth))
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

// Notes move Created -> Deposited -> Spent, with Rejected recoverable
func TestNoteLifecycle(t *testing.T) {
	w := newTestWallet(t)

	tracked, err := w.CreateNote(note.GenerateLabel("exchange-a", 1))
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if tracked.Status != types.NoteStatusCreated {
		t.Errorf("new note status = %s, want created", tracked.Status)
	}

	if err := w.ConfirmDeposit(tracked.Commitment, 3); err != nil {
		t.Fatalf("ConfirmDeposit: %v", err)
	}
	got, err := w.Note(tracked.Commitment)
	if err != nil {
		t.Fatalf("Note: %v", err)
	}
	if got.Status != types.NoteStatusDeposited || got.LeafIndex != 3 {
		t.Errorf("after deposit: status %s index %d", got.Status, got.LeafIndex)
	}

	if err := w.MarkRejected(tracked.Commitment); err != nil {
		t.Fatalf("MarkRejected: %v", err)
	}
	if err := w.MarkSpent(tracked.Commitment); err != nil {
		t.Fatalf("MarkSpent: %v", err)
	}
	got, _ = w.Note(tracked.Commitment)
	if got.Status != types.NoteStatusSpent {
		t.Errorf("final status = %s, want spent", got.Status)
	}

	if err := w.ConfirmDeposit(types.Hash{0x99}, 0); !errors.Is(err, ErrNoteUnknown) {
		t.Errorf("unknown commitment: expected ErrNoteUnknown, got %v", err)
	}
}

// Backup strings round-trip through export and import
func TestExportImport(t *testing.T) {
	w := newTestWallet(t)

	tracked, err := w.CreateNote(note.GenerateLabel("exchange-a", 1))
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if err := w.ConfirmDeposit(tracked.Commitment, 5); err != nil {
		t.Fatalf("ConfirmDeposit: %v", err)
	}

	backup, err := w.ExportNote(tracked.Commitment)
	if err != nil {
		t.Fatalf("ExportNote: %v", err)
	}

	other := newTestWallet(t)
	restored, err := other.ImportNote(backup)
	if err != nil {
		t.Fatalf("ImportNote: %v", err)
	}
	if restored.Commitment != tracked.Commitment {
		t.Error("restored note commitment differs")
	}
	if restored.LeafIndex != 5 {
		t.Errorf("restored leaf index = %d, want 5", restored.LeafIndex)
	}
	if restored.Status != types.NoteStatusDeposited {
		t.Errorf("restored status = %s, want deposited", restored.Status)
	}
}

// Sync rebuilds the mirror to the pool's root
func TestSyncRebuildsMirror(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(t)

	// a reference pool-side tree
	poolTree, err := merkle.NewTree(merkle.NewInMemoryTreeStore(), testDepth)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	var commitments []types.Hash
	for i := 0; i < 5; i++ {
		n, err := note.New(note.GenerateLabel("exchange-a", uint64(i)))
		if err != nil {
			t.Fatalf("note.New: %v", err)
		}
		c, err := note.Commitment(n)
		if err != nil {
			t.Fatalf("Commitment: %v", err)
		}
		if _, err := poolTree.Insert(ctx, c); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		commitments = append(commitments, c)
	}
	poolRoot, err := poolTree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	if err := w.Sync(ctx, commitments); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	mirrorRoot, err := w.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if mirrorRoot != poolRoot {
		t.Errorf("mirror root = %s, want %s", mirrorRoot.Hex(), poolRoot.Hex())
	}
}

// Sync fails when a deposited note is missing from the commitment list
func TestSyncDetectsDivergence(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(t)

	tracked, err := w.CreateNote(note.GenerateLabel("exchange-a", 1))
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if err := w.ConfirmDeposit(tracked.Commitment, 0); err != nil {
		t.Fatalf("ConfirmDeposit: %v", err)
	}

	// the list holds someone else's commitment at our leaf
	stranger, err := note.New(note.GenerateLabel("exchange-b", 1))
	if err != nil {
		t.Fatalf("note.New: %v", err)
	}
	strangerCommitment, err := note.Commitment(stranger)
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if err := w.Sync(ctx, []types.Hash{strangerCommitment}); !errors.Is(err, ErrMirrorDiverged) {
		t.Errorf("expected ErrMirrorDiverged, got %v", err)
	}

	// an empty list cannot contain the deposit either
	if err := w.Sync(ctx, nil); !errors.Is(err, ErrMirrorDiverged) {
		t.Errorf("empty list: expected ErrMirrorDiverged, got %v", err)
	}
}

// Only deposited or rejected notes can be withdrawn
func TestBuildWithdrawalStateGate(t *testing.T) {
	ctx := context.Background()
	w := newTestWallet(t)

	tracked, err := w.CreateNote(note.GenerateLabel("exchange-a", 1))
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	if _, err := w.BuildWithdrawal(ctx, tracked.Commitment, tracked.Note.Value, nil, types.EmptyHash); !errors.Is(err, ErrNoteNotSpendable) {
		t.Errorf("created note: expected ErrNoteNotSpendable, got %v", err)
	}
	if _, err := w.BuildWithdrawal(ctx, types.Hash{0x01}, 0, nil, types.EmptyHash); !errors.Is(err, ErrNoteUnknown) {
		t.Errorf("unknown note: expected ErrNoteUnknown, got %v", err)
	}
}

// A built withdrawal proves against the mirror and verifies
func TestBuildWithdrawalEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping groth16 ceremony in short mode")
	}
	ctx := context.Background()

	prover := zkproof.NewManager(testDepth)
	if err := prover.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	w, err := NewWallet(prover)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}

	label := note.GenerateLabel("exchange-a", 1)
	tracked, err := w.CreateNote(label)
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if err := w.ConfirmDeposit(tracked.Commitment, 0); err != nil {
		t.Fatalf("ConfirmDeposit: %v", err)
	}
	if err := w.Sync(ctx, []types.Hash{tracked.Commitment}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// association material as published by the authority
	labelTree, err := merkle.NewTree(merkle.NewInMemoryTreeStore(), zkproof.AssociationDepth)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	labelHash, err := types.HashFromBig(label)
	if err != nil {
		t.Fatalf("HashFromBig: %v", err)
	}
	if _, err := labelTree.Insert(ctx, labelHash); err != nil {
		t.Fatalf("Insert label: %v", err)
	}
	labelPath, err := labelTree.Path(ctx, 0)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	associationRoot, err := labelTree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	withdrawal, err := w.BuildWithdrawal(ctx, tracked.Commitment, tracked.Note.Value, labelPath, associationRoot)
	if err != nil {
		t.Fatalf("BuildWithdrawal: %v", err)
	}

	got, _ := w.Note(tracked.Commitment)
	if got.Status != types.NoteStatusProofReady {
		t.Errorf("status = %s, want proof-ready", got.Status)
	}

	proof, err := zkproof.DecodeProof(withdrawal.ProofBytes)
	if err != nil {
		t.Fatalf("DecodeProof: %v", err)
	}
	signals, err := zkproof.DecodeSignals(withdrawal.SignalsBytes)
	if err != nil {
		t.Fatalf("DecodeSignals: %v", err)
	}
	if err := prover.Verify(proof, signals); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	mirrorRoot, err := w.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if signals.StateRoot != mirrorRoot {
		t.Error("signals should carry the mirror root")
	}
}
