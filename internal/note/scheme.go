// Package note implements the commitment and nullifier scheme for pool
// notes, along with the portable note string encoding clients use for
// secret backup.
//
// A note binds (value, label, nullifier, secret); its public commitment is
//
//	commitment = H(H(value, label), H(nullifier, secret))
//
// and its spend authorization is nullifierHash = H(nullifier).
package note

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/opaque/core/internal/poseidon"
	"github.com/opaque/core/pkg/common"
	"github.com/opaque/core/pkg/types"
)

// Note scheme errors
var (
	ErrInsufficientRandomness = errors.New("insufficient randomness")
)

// GenerateSecrets samples a fresh (nullifier, secret) pair. Each is a
// uniform 256-bit value from the system CSPRNG reduced into the field.
// Randomness failure is fatal for the caller; there is no fallback source.
func GenerateSecrets() (nullifier, secret *big.Int, err error) {
	nb := make([]byte, 32)
	if _, err := rand.Read(nb); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientRandomness, err)
	}
	sb := make([]byte, 32)
	if _, err := rand.Read(sb); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientRandomness, err)
	}
	return types.ReduceBytes(nb), types.ReduceBytes(sb), nil
}

// New creates a note for the pool's fixed deposit amount under a label
func New(label *big.Int) (*types.Note, error) {
	nullifier, secret, err := GenerateSecrets()
	if err != nil {
		return nil, err
	}
	return &types.Note{
		Value:     types.FixedDepositAmount,
		Label:     label,
		Nullifier: nullifier,
		Secret:    secret,
	}, nil
}

// ComputeCommitment derives the public commitment of a note.
// Pure and deterministic; out-of-field inputs are rejected.
func ComputeCommitment(value uint64, label, nullifier, secret *big.Int) (*big.Int, error) {
	valueLabel, err := poseidon.HashTwo(new(big.Int).SetUint64(value), label)
	if err != nil {
		return nil, err
	}
	precommitment, err := poseidon.HashTwo(nullifier, secret)
	if err != nil {
		return nil, err
	}
	return poseidon.HashTwo(valueLabel, precommitment)
}

// Commitment derives the public commitment of a note
func Commitment(n *types.Note) (types.Hash, error) {
	c, err := ComputeCommitment(n.Value, n.Label, n.Nullifier, n.Secret)
	if err != nil {
		return types.EmptyHash, err
	}
	return types.HashFromBig(c)
}

// ComputeNullifierHash derives the public nullifier hash H(nullifier)
func ComputeNullifierHash(nullifier *big.Int) (*big.Int, error) {
	return poseidon.HashOne(nullifier)
}

// NullifierHash derives the public nullifier hash of a note
func NullifierHash(n *types.Note) (types.Hash, error) {
	h, err := ComputeNullifierHash(n.Nullifier)
	if err != nil {
		return types.EmptyHash, err
	}
	return types.HashFromBig(h)
}

// GenerateLabel derives the compliance label for a scope and nonce:
// Keccak-256(scope || nonce) reduced into the scalar field. Deterministic,
// so a scope authority can reproduce the labels it has approved.
func GenerateLabel(scope string, nonce uint64) *big.Int {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(scope))
	h.Write(common.Uint64ToBytes(nonce))
	return types.ReduceBytes(h.Sum(nil))
}
