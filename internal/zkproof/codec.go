// Package zkproof implements the withdrawal circuit, the Groth16 prover and
// verifier, and the wire codec for proofs and public signals.
package zkproof

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/opaque/core/pkg/types"
)

// Proof and signal codec errors
var (
	ErrInvalidProofShape = errors.New("invalid proof shape")
	ErrProofInvalid      = errors.New("proof verification failed")
)

// Wire sizes. Field elements are 32-byte big-endian canonical encodings.
const (
	// G1Size is x||y
	G1Size = 64

	// G2Size is x.A1||x.A0||y.A1||y.A0
	G2Size = 128

	// ProofSize is A||B||C
	ProofSize = G1Size + G2Size + G1Size

	// SignalCount is the number of public signals of the withdrawal circuit
	SignalCount = 4

	// SignalsSize is a u32 big-endian count followed by the signal elements
	SignalsSize = 4 + SignalCount*types.HashSize
)

// Proof is a Groth16 proof over BN254
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// PublicSignals are the withdrawal circuit's public inputs in wire order
type PublicSignals struct {
	NullifierHash   types.Hash
	WithdrawnValue  types.Hash
	StateRoot       types.Hash
	AssociationRoot types.Hash
}

// WithdrawnAmount returns the withdrawn value as a base-unit amount.
// Signal values beyond 64 bits cannot correspond to any vault balance.
func (s *PublicSignals) WithdrawnAmount() (uint64, error) {
	v := s.WithdrawnValue.Big()
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: withdrawn value exceeds 64 bits", ErrInvalidProofShape)
	}
	return v.Uint64(), nil
}

// EncodeProof serializes a proof to its 256-byte wire form
func EncodeProof(p *Proof) []byte {
	out := make([]byte, ProofSize)
	encodeG1(out[0:G1Size], &p.A)
	encodeG2(out[G1Size:G1Size+G2Size], &p.B)
	encodeG1(out[G1Size+G2Size:], &p.C)
	return out
}

// DecodeProof parses a 256-byte wire proof. Non-canonical coordinates,
// off-curve points, and G2 points outside the subgroup are rejected.
func DecodeProof(b []byte) (*Proof, error) {
	if len(b) != ProofSize {
		return nil, fmt.Errorf("%w: proof must be %d bytes, got %d", ErrInvalidProofShape, ProofSize, len(b))
	}

	var p Proof
	if err := decodeG1(b[0:G1Size], &p.A); err != nil {
		return nil, fmt.Errorf("%w: A: %v", ErrInvalidProofShape, err)
	}
	if err := decodeG2(b[G1Size:G1Size+G2Size], &p.B); err != nil {
		return nil, fmt.Errorf("%w: B: %v", ErrInvalidProofShape, err)
	}
	if err := decodeG1(b[G1Size+G2Size:], &p.C); err != nil {
		return nil, fmt.Errorf("%w: C: %v", ErrInvalidProofShape, err)
	}
	return &p, nil
}

// EncodeSignals serializes public signals: u32 big-endian count followed by
// the elements in order [nullifierHash, withdrawnValue, stateRoot,
// associationRoot]. Every element is reduced into the scalar field before
// serialization, so the output always decodes.
func EncodeSignals(s *PublicSignals) []byte {
	out := make([]byte, SignalsSize)
	binary.BigEndian.PutUint32(out[0:4], SignalCount)
	off := 4
	for _, h := range [SignalCount]types.Hash{s.NullifierHash, s.WithdrawnValue, s.StateRoot, s.AssociationRoot} {
		types.ReduceBytes(h[:]).FillBytes(out[off : off+types.HashSize])
		off += types.HashSize
	}
	return out
}

// DecodeSignals parses the public signal block. The count must be exactly
// SignalCount and every element must be a canonical field encoding.
func DecodeSignals(b []byte) (*PublicSignals, error) {
	if len(b) != SignalsSize {
		return nil, fmt.Errorf("%w: signals must be %d bytes, got %d", ErrInvalidProofShape, SignalsSize, len(b))
	}
	if count := binary.BigEndian.Uint32(b[0:4]); count != SignalCount {
		return nil, fmt.Errorf("%w: signal count %d, want %d", ErrInvalidProofShape, count, SignalCount)
	}

	elems := make([]types.Hash, SignalCount)
	off := 4
	for i := range elems {
		var buf [types.HashSize]byte
		copy(buf[:], b[off:off+types.HashSize])
		if _, err := fr.BigEndian.Element(&buf); err != nil {
			return nil, fmt.Errorf("%w: signal %d: non-canonical field element", ErrInvalidProofShape, i)
		}
		elems[i] = buf
		off += types.HashSize
	}

	return &PublicSignals{
		NullifierHash:   elems[0],
		WithdrawnValue:  elems[1],
		StateRoot:       elems[2],
		AssociationRoot: elems[3],
	}, nil
}

func encodeG1(dst []byte, p *bn254.G1Affine) {
	x := p.X.Bytes()
	y := p.Y.Bytes()
	copy(dst[0:32], x[:])
	copy(dst[32:64], y[:])
}

func decodeG1(src []byte, p *bn254.G1Affine) error {
	x, err := decodeFp(src[0:32])
	if err != nil {
		return err
	}
	y, err := decodeFp(src[32:64])
	if err != nil {
		return err
	}
	p.X, p.Y = x, y
	if !p.IsOnCurve() {
		return errors.New("point not on curve")
	}
	return nil
}

func encodeG2(dst []byte, p *bn254.G2Affine) {
	xa1 := p.X.A1.Bytes()
	xa0 := p.X.A0.Bytes()
	ya1 := p.Y.A1.Bytes()
	ya0 := p.Y.A0.Bytes()
	copy(dst[0:32], xa1[:])
	copy(dst[32:64], xa0[:])
	copy(dst[64:96], ya1[:])
	copy(dst[96:128], ya0[:])
}

func decodeG2(src []byte, p *bn254.G2Affine) error {
	xa1, err := decodeFp(src[0:32])
	if err != nil {
		return err
	}
	xa0, err := decodeFp(src[32:64])
	if err != nil {
		return err
	}
	ya1, err := decodeFp(src[64:96])
	if err != nil {
		return err
	}
	ya0, err := decodeFp(src[96:128])
	if err != nil {
		return err
	}
	p.X.A1, p.X.A0 = xa1, xa0
	p.Y.A1, p.Y.A0 = ya1, ya0
	if !p.IsOnCurve() {
		return errors.New("point not on curve")
	}
	if !p.IsInSubGroup() {
		return errors.New("point not in subgroup")
	}
	return nil
}

// decodeFp parses a canonical 32-byte big-endian base field element
func decodeFp(src []byte) (fp.Element, error) {
	var buf [32]byte
	copy(buf[:], src)
	return fp.BigEndian.Element(&buf)
}
