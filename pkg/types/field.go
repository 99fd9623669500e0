// Package types defines core data structures for the Opaque privacy pool.
// This includes field elements, notes, and the public events emitted by the pool.
package types

import (
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Constants for the Opaque protocol
const (
	// HashSize is the size of a serialized field element in bytes
	HashSize = 32

	// AddressSize is the size of an address in bytes
	AddressSize = 20

	// FixedDepositAmount is the only deposit denomination the pool accepts,
	// in base units. A single denomination preserves amount-based unlinkability.
	FixedDepositAmount uint64 = 1_000_000_000

	// DefaultStateDepth is the default depth of the commitment accumulator
	DefaultStateDepth = 20

	// DefaultAssociationDepth is the default depth of the association set
	DefaultAssociationDepth = 2
)

// Field element errors
var (
	ErrInvalidFieldElement = errors.New("invalid field element")
)

// Hash represents a 32-byte big-endian BN254 scalar field element
type Hash [HashSize]byte

// Address represents a 20-byte address
type Address [AddressSize]byte

// EmptyHash is the zero hash
var EmptyHash = Hash{}

// EmptyAddress is the zero address
var EmptyAddress = Address{}

// FieldModulus returns the BN254 scalar field modulus r
func FieldModulus() *big.Int {
	return fr.Modulus()
}

// IsZero returns true if the hash is the zero hash
func (h Hash) IsZero() bool {
	return h == EmptyHash
}

// Big returns the hash interpreted as a big-endian integer
func (h Hash) Big() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// Hex returns the hash as a 0x-prefixed hex string
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// InField returns true if the hash encodes a canonical field element
func (h Hash) InField() bool {
	return h.Big().Cmp(fr.Modulus()) < 0
}

// HashFromBig converts a non-negative integer in [0, r) to its canonical
// 32-byte big-endian encoding. Values outside the field are a usage error.
func HashFromBig(v *big.Int) (Hash, error) {
	var h Hash
	if v == nil || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return h, ErrInvalidFieldElement
	}
	v.FillBytes(h[:])
	return h, nil
}

// HashFromBytes parses a 32-byte big-endian encoding of a canonical field
// element. Wrong lengths and non-canonical values are rejected.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, ErrInvalidFieldElement
	}
	copy(h[:], b)
	if !h.InField() {
		return h, ErrInvalidFieldElement
	}
	return h, nil
}

// ReduceBytes interprets b as a big-endian integer and reduces it into the
// field. Used when deriving field elements from raw hash output or CSPRNG
// bytes; canonical inputs pass through unchanged.
func ReduceBytes(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	return v.Mod(v, fr.Modulus())
}

// AddressFromHex parses a 0x-prefixed or bare hex address
func AddressFromHex(s string) (Address, error) {
	var a Address
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != AddressSize {
		return a, errors.New("invalid address")
	}
	copy(a[:], b)
	return a, nil
}

// Hex returns the address as a 0x-prefixed hex string
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}
