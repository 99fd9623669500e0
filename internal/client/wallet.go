// Package client implements the spender's side of the pool: note custody,
// a local mirror of the commitment accumulator, and withdrawal building.
//
// The wallet never sends secrets anywhere. It rebuilds the accumulator from
// the public commitment list, recomputes inclusion paths locally, and hands
// the node only the proof and its public signals.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/opaque/core/internal/merkle"
	"github.com/opaque/core/internal/note"
	"github.com/opaque/core/internal/zkproof"
	"github.com/opaque/core/pkg/types"
)

// Wallet errors
var (
	ErrNoteUnknown      = errors.New("note not tracked by wallet")
	ErrNoteNotSpendable = errors.New("note is not in a spendable state")
	ErrMirrorDiverged   = errors.New("local mirror diverged from commitment list")
)

// TrackedNote is a note under wallet custody with its lifecycle state
type TrackedNote struct {
	Note       *types.Note
	Commitment types.Hash
	LeafIndex  uint32
	Status     types.NoteStatus
}

// Withdrawal is a built withdrawal ready to submit
type Withdrawal struct {
	ProofBytes   []byte
	SignalsBytes []byte
	Signals      *zkproof.PublicSignals
}

// Wallet tracks notes and mirrors the pool accumulator
type Wallet struct {
	mu sync.RWMutex

	prover *zkproof.Manager
	mirror *merkle.Tree
	notes  map[types.Hash]*TrackedNote
}

// NewWallet creates a wallet proving against the given circuit manager
func NewWallet(prover *zkproof.Manager) (*Wallet, error) {
	mirror, err := merkle.NewTree(merkle.NewInMemoryTreeStore(), prover.StateDepth())
	if err != nil {
		return nil, err
	}
	return &Wallet{
		prover: prover,
		mirror: mirror,
		notes:  make(map[types.Hash]*TrackedNote),
	}, nil
}

// CreateNote mints a fresh note for the fixed denomination under a label.
// The note starts in the Created state until its deposit confirms.
func (w *Wallet) CreateNote(label *big.Int) (*TrackedNote, error) {
	n, err := note.New(label)
	if err != nil {
		return nil, err
	}
	commitment, err := note.Commitment(n)
	if err != nil {
		return nil, err
	}

	tracked := &TrackedNote{
		Note:       n,
		Commitment: commitment,
		Status:     types.NoteStatusCreated,
	}

	w.mu.Lock()
	w.notes[commitment] = tracked
	w.mu.Unlock()
	return tracked, nil
}

// ImportNote restores a note from its backup string
func (w *Wallet) ImportNote(s string) (*TrackedNote, error) {
	n, leafIndex, err := note.DecodeString(s)
	if err != nil {
		return nil, err
	}
	commitment, err := note.Commitment(n)
	if err != nil {
		return nil, err
	}

	tracked := &TrackedNote{
		Note:       n,
		Commitment: commitment,
		LeafIndex:  leafIndex,
		Status:     types.NoteStatusDeposited,
	}

	w.mu.Lock()
	w.notes[commitment] = tracked
	w.mu.Unlock()
	return tracked, nil
}

// ExportNote serializes a tracked note to its backup string
func (w *Wallet) ExportNote(commitment types.Hash) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	tracked, ok := w.notes[commitment]
	if !ok {
		return "", ErrNoteUnknown
	}
	return note.EncodeString(tracked.Note, tracked.LeafIndex), nil
}

// Note returns a tracked note
func (w *Wallet) Note(commitment types.Hash) (*TrackedNote, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	tracked, ok := w.notes[commitment]
	if !ok {
		return nil, ErrNoteUnknown
	}
	return tracked, nil
}

// Notes returns all tracked notes
func (w *Wallet) Notes() []*TrackedNote {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*TrackedNote, 0, len(w.notes))
	for _, tracked := range w.notes {
		out = append(out, tracked)
	}
	return out
}

// ConfirmDeposit moves a note to Deposited once its on-pool leaf index is
// known, from the deposit response or a gossiped event.
func (w *Wallet) ConfirmDeposit(commitment types.Hash, leafIndex uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tracked, ok := w.notes[commitment]
	if !ok {
		return ErrNoteUnknown
	}
	tracked.LeafIndex = leafIndex
	tracked.Status = types.NoteStatusDeposited
	return nil
}

// Sync rebuilds the local mirror from the pool's full commitment list and
// checks that every deposited note still sits at its recorded leaf.
func (w *Wallet) Sync(ctx context.Context, commitments []types.Hash) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	mirror, err := merkle.NewTree(merkle.NewInMemoryTreeStore(), w.prover.StateDepth())
	if err != nil {
		return err
	}
	for i, c := range commitments {
		if _, err := mirror.Insert(ctx, c); err != nil {
			return fmt.Errorf("rebuild leaf %d: %w", i, err)
		}
	}

	for _, tracked := range w.notes {
		if tracked.Status == types.NoteStatusCreated {
			continue
		}
		idx := uint64(tracked.LeafIndex)
		if idx >= uint64(len(commitments)) || commitments[idx] != tracked.Commitment {
			return fmt.Errorf("%w: note at leaf %d", ErrMirrorDiverged, idx)
		}
	}

	w.mirror = mirror
	return nil
}

// Root returns the mirror's current root
func (w *Wallet) Root(ctx context.Context) (types.Hash, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mirror.Root(ctx)
}

// BuildWithdrawal proves a withdrawal of amount from a deposited note
// against the mirror's current root and the given association material.
// Cancellation abandons the proof and leaves the note Deposited, so a
// rejected or abandoned attempt can simply be rebuilt.
func (w *Wallet) BuildWithdrawal(ctx context.Context, commitment types.Hash, amount uint64, labelPath *merkle.Path, associationRoot types.Hash) (*Withdrawal, error) {
	w.mu.Lock()
	tracked, ok := w.notes[commitment]
	if !ok {
		w.mu.Unlock()
		return nil, ErrNoteUnknown
	}
	if tracked.Status != types.NoteStatusDeposited && tracked.Status != types.NoteStatusRejected {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: status %s", ErrNoteNotSpendable, tracked.Status)
	}
	mirror := w.mirror
	w.mu.Unlock()

	statePath, err := mirror.Path(ctx, uint64(tracked.LeafIndex))
	if err != nil {
		return nil, err
	}
	stateRoot, err := mirror.Root(ctx)
	if err != nil {
		return nil, err
	}

	witness := &zkproof.WithdrawWitness{
		Note:            tracked.Note,
		WithdrawnValue:  amount,
		StatePath:       statePath,
		StateRoot:       stateRoot,
		LabelPath:       labelPath,
		AssociationRoot: associationRoot,
	}
	proof, signals, err := w.prover.Prove(ctx, witness)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	tracked.Status = types.NoteStatusProofReady
	w.mu.Unlock()

	return &Withdrawal{
		ProofBytes:   zkproof.EncodeProof(proof),
		SignalsBytes: zkproof.EncodeSignals(signals),
		Signals:      signals,
	}, nil
}

// MarkSpent finalizes a note after its withdrawal was accepted
func (w *Wallet) MarkSpent(commitment types.Hash) error {
	return w.setStatus(commitment, types.NoteStatusSpent)
}

// MarkRejected records a recoverable rejection. The note stays spendable;
// the caller syncs the mirror and rebuilds against the fresh root.
func (w *Wallet) MarkRejected(commitment types.Hash) error {
	return w.setStatus(commitment, types.NoteStatusRejected)
}

func (w *Wallet) setStatus(commitment types.Hash, status types.NoteStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tracked, ok := w.notes[commitment]
	if !ok {
		return ErrNoteUnknown
	}
	tracked.Status = status
	return nil
}
