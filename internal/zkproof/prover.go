package zkproof

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/opaque/core/internal/merkle"
	"github.com/opaque/core/internal/poseidon"
	"github.com/opaque/core/pkg/types"
)

// Prover errors
var (
	ErrCircuitNotCompiled    = errors.New("circuit not compiled")
	ErrProofGenerationFailed = errors.New("proof generation failed")
)

// WithdrawWitness is the material needed to prove one withdrawal
type WithdrawWitness struct {
	// Note opening
	Note *types.Note

	// WithdrawnValue is the amount being withdrawn, at most the note value
	WithdrawnValue uint64

	// StatePath proves the commitment's membership in the state tree
	StatePath *merkle.Path

	// StateRoot is the state root the path was computed against
	StateRoot types.Hash

	// LabelPath proves the label's membership in the association tree
	LabelPath *merkle.Path

	// AssociationRoot is the published association root
	AssociationRoot types.Hash
}

// Manager owns the compiled withdrawal circuit and its Groth16 keys.
// Setup is a one-time trusted ceremony stand-in; the keys are held in memory
// for the node's lifetime.
type Manager struct {
	mu sync.RWMutex

	stateDepth int
	ccs        constraint.ConstraintSystem
	pk         groth16.ProvingKey
	vk         groth16.VerifyingKey
}

// NewManager creates a manager for a given state tree depth
func NewManager(stateDepth int) *Manager {
	return &Manager{stateDepth: stateDepth}
}

// StateDepth returns the state tree depth the circuit was sized for
func (m *Manager) StateDepth() int {
	return m.stateDepth
}

// Setup compiles the withdrawal circuit and runs the Groth16 key ceremony
func (m *Manager) Setup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewWithdrawCircuit(m.stateDepth))
	if err != nil {
		return fmt.Errorf("compile withdrawal circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return fmt.Errorf("groth16 setup: %w", err)
	}

	m.ccs = ccs
	m.pk = pk
	m.vk = vk
	return nil
}

// Prove generates a withdrawal proof and its public signals. Proving runs in
// a separate goroutine; cancelling the context abandons the proof without
// side effects.
func (m *Manager) Prove(ctx context.Context, w *WithdrawWitness) (*Proof, *PublicSignals, error) {
	m.mu.RLock()
	ccs, pk := m.ccs, m.pk
	m.mu.RUnlock()
	if ccs == nil || pk == nil {
		return nil, nil, ErrCircuitNotCompiled
	}

	signals, err := m.signalsFor(w)
	if err != nil {
		return nil, nil, err
	}
	assignment, err := m.assignmentFor(w, signals)
	if err != nil {
		return nil, nil, err
	}

	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: witness: %v", ErrProofGenerationFailed, err)
	}

	type result struct {
		proof groth16.Proof
		err   error
	}
	done := make(chan result, 1)
	go func() {
		p, err := groth16.Prove(ccs, pk, fullWitness)
		done <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, r.err)
		}
		bn, ok := r.proof.(*groth16bn254.Proof)
		if !ok {
			return nil, nil, fmt.Errorf("%w: unexpected proof backend", ErrProofGenerationFailed)
		}
		return &Proof{A: bn.Ar, B: bn.Bs, C: bn.Krs}, signals, nil
	}
}

// Verify checks a proof against its public signals
func (m *Manager) Verify(proof *Proof, signals *PublicSignals) error {
	m.mu.RLock()
	vk := m.vk
	m.mu.RUnlock()
	if vk == nil {
		return ErrCircuitNotCompiled
	}

	public := NewWithdrawCircuit(m.stateDepth)
	public.NullifierHash = signals.NullifierHash.Big()
	public.WithdrawnValue = signals.WithdrawnValue.Big()
	public.StateRoot = signals.StateRoot.Big()
	public.AssociationRoot = signals.AssociationRoot.Big()

	publicWitness, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: public witness: %v", ErrProofInvalid, err)
	}

	bn := &groth16bn254.Proof{Ar: proof.A, Bs: proof.B, Krs: proof.C}
	if err := groth16.Verify(bn, vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	return nil
}

// signalsFor derives the public signals from a witness
func (m *Manager) signalsFor(w *WithdrawWitness) (*PublicSignals, error) {
	nh, err := poseidon.HashOne(w.Note.Nullifier)
	if err != nil {
		return nil, err
	}
	nullifierHash, err := types.HashFromBig(nh)
	if err != nil {
		return nil, err
	}
	withdrawnValue, err := types.HashFromBig(new(big.Int).SetUint64(w.WithdrawnValue))
	if err != nil {
		return nil, err
	}
	return &PublicSignals{
		NullifierHash:   nullifierHash,
		WithdrawnValue:  withdrawnValue,
		StateRoot:       w.StateRoot,
		AssociationRoot: w.AssociationRoot,
	}, nil
}

// assignmentFor builds the full circuit assignment from a witness
func (m *Manager) assignmentFor(w *WithdrawWitness, signals *PublicSignals) (*WithdrawCircuit, error) {
	if w.StatePath == nil || len(w.StatePath.Siblings) != m.stateDepth {
		return nil, fmt.Errorf("%w: state path length", ErrInvalidProofShape)
	}
	if w.LabelPath == nil || len(w.LabelPath.Siblings) != AssociationDepth {
		return nil, fmt.Errorf("%w: label path length", ErrInvalidProofShape)
	}

	c := NewWithdrawCircuit(m.stateDepth)
	c.NullifierHash = signals.NullifierHash.Big()
	c.WithdrawnValue = signals.WithdrawnValue.Big()
	c.StateRoot = signals.StateRoot.Big()
	c.AssociationRoot = signals.AssociationRoot.Big()

	c.Label = w.Note.Label
	c.Value = new(big.Int).SetUint64(w.Note.Value)
	c.Nullifier = w.Note.Nullifier
	c.Secret = w.Note.Secret

	for i, s := range w.StatePath.Siblings {
		c.StateSiblings[i] = s.Big()
	}
	c.StateIndex = new(big.Int).SetUint64(w.StatePath.LeafIndex)

	for i, s := range w.LabelPath.Siblings {
		c.LabelSiblings[i] = s.Big()
	}
	c.LabelIndex = new(big.Int).SetUint64(w.LabelPath.LeafIndex)

	return c, nil
}
