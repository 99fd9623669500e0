// Package poseidon implements the pool's hash domain: a circom-compatible
// Poseidon hash over the BN254 scalar field, with a fixed left-fold
// convention for more than two inputs.
//
// Every hash in the protocol (commitments, nullifier hashes, tree nodes,
// labels) goes through this package so the bracketing convention is defined
// in exactly one place.
package poseidon

import (
	"errors"
	"fmt"
	"math/big"

	iden3 "github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/opaque/core/pkg/types"
)

// Hash domain errors
var (
	ErrNoInputs = errors.New("poseidon: no inputs")
)

// inField checks a single input is a canonical field element.
// Out-of-range inputs are a usage error, not something to reduce silently.
func inField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(types.FieldModulus()) < 0
}

// HashTwo computes the two-input Poseidon primitive H(a, b)
func HashTwo(a, b *big.Int) (*big.Int, error) {
	if !inField(a) || !inField(b) {
		return nil, types.ErrInvalidFieldElement
	}
	h, err := iden3.Hash([]*big.Int{a, b})
	if err != nil {
		return nil, fmt.Errorf("poseidon: %w", err)
	}
	return h, nil
}

// HashOne computes the single-input Poseidon primitive H(a)
func HashOne(a *big.Int) (*big.Int, error) {
	if !inField(a) {
		return nil, types.ErrInvalidFieldElement
	}
	h, err := iden3.Hash([]*big.Int{a})
	if err != nil {
		return nil, fmt.Errorf("poseidon: %w", err)
	}
	return h, nil
}

// Hash hashes a sequence of field elements. One and two inputs hit the
// primitive directly. For more, the inputs fold left to right:
//
//	h = H(in[0], in[1]); h = H(h, in[2]); h = H(h, in[3]); ...
//
// The fold is an explicit reduction so the bracketing is unambiguous; any
// other bracketing produces a different digest and breaks compatibility
// with a verifier expecting this convention.
func Hash(inputs []*big.Int) (*big.Int, error) {
	switch len(inputs) {
	case 0:
		return nil, ErrNoInputs
	case 1:
		return HashOne(inputs[0])
	}
	for _, in := range inputs {
		if !inField(in) {
			return nil, types.ErrInvalidFieldElement
		}
	}
	h, err := HashTwo(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	for _, in := range inputs[2:] {
		h, err = HashTwo(h, in)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}
