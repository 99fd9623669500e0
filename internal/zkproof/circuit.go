package zkproof

import (
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/gnark-crypto-primitives/hash/native/bn254/poseidon"
)

// AssociationDepth is the depth of the association membership proof inside
// the circuit. It matches the on-node association tree.
const AssociationDepth = 2

// WithdrawCircuit proves, without revealing the note, that:
//
//  1. the prover knows (value, label, nullifier, secret) opening a commitment
//     that is a leaf of the state tree under StateRoot,
//  2. the note's label is a leaf of the association tree under AssociationRoot,
//  3. NullifierHash = H(nullifier), and
//  4. WithdrawnValue <= value.
//
// The in-circuit hash is the circom-compatible Poseidon, so commitments made
// natively verify in-circuit without translation.
type WithdrawCircuit struct {
	// Public inputs, in wire signal order
	NullifierHash   frontend.Variable `gnark:",public"`
	WithdrawnValue  frontend.Variable `gnark:",public"`
	StateRoot       frontend.Variable `gnark:",public"`
	AssociationRoot frontend.Variable `gnark:",public"`

	// Private witness
	Label     frontend.Variable
	Value     frontend.Variable
	Nullifier frontend.Variable
	Secret    frontend.Variable

	StateSiblings []frontend.Variable
	StateIndex    frontend.Variable

	LabelSiblings [AssociationDepth]frontend.Variable
	LabelIndex    frontend.Variable
}

// NewWithdrawCircuit returns a circuit shell for a given state tree depth,
// suitable for compilation or witness assignment.
func NewWithdrawCircuit(stateDepth int) *WithdrawCircuit {
	return &WithdrawCircuit{
		StateSiblings: make([]frontend.Variable, stateDepth),
	}
}

// Define implements the circuit constraints
func (c *WithdrawCircuit) Define(api frontend.API) error {
	// nullifier binding
	nh, err := poseidon.Hash(api, c.Nullifier)
	if err != nil {
		return err
	}
	api.AssertIsEqual(nh, c.NullifierHash)

	// commitment = H(H(value, label), H(nullifier, secret))
	valueLabel, err := poseidon.Hash(api, c.Value, c.Label)
	if err != nil {
		return err
	}
	precommitment, err := poseidon.Hash(api, c.Nullifier, c.Secret)
	if err != nil {
		return err
	}
	commitment, err := poseidon.Hash(api, valueLabel, precommitment)
	if err != nil {
		return err
	}

	// state membership
	if err := verifyMerklePath(api, commitment, c.StateIndex, c.StateSiblings, c.StateRoot); err != nil {
		return err
	}

	// association membership of the label
	if err := verifyMerklePath(api, c.Label, c.LabelIndex, c.LabelSiblings[:], c.AssociationRoot); err != nil {
		return err
	}

	// partial withdrawals may not exceed the note value
	api.AssertIsLessOrEqual(c.WithdrawnValue, c.Value)

	return nil
}

// verifyMerklePath recomputes the root from a leaf, its index, and its
// sibling list (leaf level first), constraining it to equal root. The index
// bits select left/right at each level, mirroring the native tree's layout.
func verifyMerklePath(api frontend.API, leaf, index frontend.Variable, siblings []frontend.Variable, root frontend.Variable) error {
	bits := api.ToBinary(index, len(siblings))

	current := leaf
	for i, sibling := range siblings {
		left := api.Select(bits[i], sibling, current)
		right := api.Select(bits[i], current, sibling)
		h, err := poseidon.Hash(api, left, right)
		if err != nil {
			return err
		}
		current = h
	}

	api.AssertIsEqual(current, root)
	return nil
}
