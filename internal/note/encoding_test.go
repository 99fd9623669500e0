package note

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/opaque/core/pkg/types"
)

// Note strings round-trip through decode/encode unchanged
func TestNoteStringRoundTrip(t *testing.T) {
	label := GenerateLabel("pool-scope", 3)
	n, err := New(label)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s := EncodeString(n, 42)
	if !strings.HasPrefix(s, "opaque-1-") {
		t.Fatalf("note string %q should carry the opaque-1 prefix", s)
	}

	decoded, leafIndex, err := DecodeString(s)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if leafIndex != 42 {
		t.Errorf("leaf index = %d, want 42", leafIndex)
	}
	if decoded.Value != n.Value {
		t.Errorf("value = %d, want %d", decoded.Value, n.Value)
	}
	if decoded.Nullifier.Cmp(n.Nullifier) != 0 {
		t.Error("nullifier did not round-trip")
	}
	if decoded.Secret.Cmp(n.Secret) != 0 {
		t.Error("secret did not round-trip")
	}
	if decoded.Label.Cmp(n.Label) != 0 {
		t.Error("label did not round-trip")
	}

	if EncodeString(decoded, leafIndex) != s {
		t.Error("re-encoding a decoded note should reproduce the string")
	}
}

// Malformed note strings are rejected with ErrInvalidNoteFormat
func TestDecodeStringRejectsMalformed(t *testing.T) {
	n := &types.Note{
		Value:     types.FixedDepositAmount,
		Label:     big.NewInt(10),
		Nullifier: big.NewInt(20),
		Secret:    big.NewInt(30),
	}
	good := EncodeString(n, 0)

	fields := strings.Split(good, "-")
	sixFields := strings.Join(fields[:6], "-")
	eightFields := good + "-ff"

	overField := new(big.Int).Add(types.FieldModulus(), big.NewInt(1))

	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"six fields", sixFields},
		{"eight fields", eightFields},
		{"wrong tag", strings.Replace(good, "opaque", "shroud", 1)},
		{"wrong version", strings.Replace(good, "opaque-1-", "opaque-2-", 1)},
		{"empty nullifier", "opaque-1--1e-3b9aca00-a-0"},
		{"uppercase hex", "opaque-1-14-1E-3b9aca00-a-0"},
		{"non-hex field", "opaque-1-zz-1e-3b9aca00-a-0"},
		{"nullifier above modulus", "opaque-1-" + overField.Text(16) + "-1e-3b9aca00-a-0"},
		{"value overflows 64 bits", "opaque-1-14-1e-1ffffffffffffffff-a-0"},
		{"leaf index overflows 32 bits", "opaque-1-14-1e-3b9aca00-a-1ffffffff"},
	}
	for _, tc := range cases {
		if _, _, err := DecodeString(tc.input); !errors.Is(err, ErrInvalidNoteFormat) {
			t.Errorf("%s: expected ErrInvalidNoteFormat, got %v", tc.name, err)
		}
	}
}

// The commitment of a decoded note matches the original's
func TestDecodedNoteCommitmentMatches(t *testing.T) {
	n, err := New(GenerateLabel("pool-scope", 9))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want, err := Commitment(n)
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}

	decoded, _, err := DecodeString(EncodeString(n, 7))
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	got, err := Commitment(decoded)
	if err != nil {
		t.Fatalf("Commitment decoded: %v", err)
	}
	if got != want {
		t.Error("decoded note should commit to the same value")
	}
}
