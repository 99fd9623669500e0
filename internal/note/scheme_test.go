package note

import (
	"math/big"
	"testing"

	"github.com/opaque/core/pkg/types"
)

// Commitments are deterministic functions of the note
func TestCommitmentDeterministic(t *testing.T) {
	label := GenerateLabel("pool-scope", 1)
	n := &types.Note{
		Value:     types.FixedDepositAmount,
		Label:     label,
		Nullifier: big.NewInt(12345),
		Secret:    big.NewInt(67890),
	}

	c1, err := Commitment(n)
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	c2, err := Commitment(n)
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if c1 != c2 {
		t.Error("commitment should be deterministic")
	}
}

// Distinct secrets never collide across a large random sample
func TestCommitmentCollisionFree(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping collision sweep in short mode")
	}

	label := GenerateLabel("pool-scope", 1)
	seen := make(map[types.Hash]int, 10000)
	for i := 0; i < 10000; i++ {
		nullifier, secret, err := GenerateSecrets()
		if err != nil {
			t.Fatalf("GenerateSecrets: %v", err)
		}
		n := &types.Note{
			Value:     types.FixedDepositAmount,
			Label:     label,
			Nullifier: nullifier,
			Secret:    secret,
		}
		c, err := Commitment(n)
		if err != nil {
			t.Fatalf("Commitment: %v", err)
		}
		if prev, dup := seen[c]; dup {
			t.Fatalf("commitment collision between samples %d and %d", prev, i)
		}
		seen[c] = i
	}
}

// Secrets are fresh field elements on every call
func TestGenerateSecrets(t *testing.T) {
	n1, s1, err := GenerateSecrets()
	if err != nil {
		t.Fatalf("GenerateSecrets: %v", err)
	}
	n2, s2, err := GenerateSecrets()
	if err != nil {
		t.Fatalf("GenerateSecrets: %v", err)
	}

	mod := types.FieldModulus()
	for _, v := range []*big.Int{n1, s1, n2, s2} {
		if v.Sign() < 0 || v.Cmp(mod) >= 0 {
			t.Error("secret outside field")
		}
	}
	if n1.Cmp(n2) == 0 || s1.Cmp(s2) == 0 {
		t.Error("consecutive secrets should differ")
	}
	if n1.Cmp(s1) == 0 {
		t.Error("nullifier and secret should be sampled independently")
	}
}

// The commitment separates every input
func TestCommitmentBindsAllFields(t *testing.T) {
	base := &types.Note{
		Value:     types.FixedDepositAmount,
		Label:     big.NewInt(77),
		Nullifier: big.NewInt(111),
		Secret:    big.NewInt(222),
	}
	baseC, err := Commitment(base)
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}

	variants := []*types.Note{
		{Value: base.Value + 1, Label: base.Label, Nullifier: base.Nullifier, Secret: base.Secret},
		{Value: base.Value, Label: big.NewInt(78), Nullifier: base.Nullifier, Secret: base.Secret},
		{Value: base.Value, Label: base.Label, Nullifier: big.NewInt(112), Secret: base.Secret},
		{Value: base.Value, Label: base.Label, Nullifier: base.Nullifier, Secret: big.NewInt(223)},
	}
	for i, v := range variants {
		c, err := Commitment(v)
		if err != nil {
			t.Fatalf("Commitment variant %d: %v", i, err)
		}
		if c == baseC {
			t.Errorf("variant %d should change the commitment", i)
		}
	}
}

// Nullifier hash depends only on the nullifier
func TestNullifierHash(t *testing.T) {
	a := &types.Note{Value: 1, Label: big.NewInt(1), Nullifier: big.NewInt(42), Secret: big.NewInt(2)}
	b := &types.Note{Value: 9, Label: big.NewInt(9), Nullifier: big.NewInt(42), Secret: big.NewInt(8)}

	ha, err := NullifierHash(a)
	if err != nil {
		t.Fatalf("NullifierHash: %v", err)
	}
	hb, err := NullifierHash(b)
	if err != nil {
		t.Fatalf("NullifierHash: %v", err)
	}
	if ha != hb {
		t.Error("nullifier hash should depend only on the nullifier")
	}

	c := &types.Note{Value: 1, Label: big.NewInt(1), Nullifier: big.NewInt(43), Secret: big.NewInt(2)}
	hc, err := NullifierHash(c)
	if err != nil {
		t.Fatalf("NullifierHash: %v", err)
	}
	if ha == hc {
		t.Error("different nullifiers should give different hashes")
	}
}

// Labels are deterministic per (scope, nonce) and live in the field
func TestGenerateLabel(t *testing.T) {
	l1 := GenerateLabel("exchange-a", 7)
	l2 := GenerateLabel("exchange-a", 7)
	if l1.Cmp(l2) != 0 {
		t.Error("label generation should be deterministic")
	}

	if GenerateLabel("exchange-a", 8).Cmp(l1) == 0 {
		t.Error("nonce should change the label")
	}
	if GenerateLabel("exchange-b", 7).Cmp(l1) == 0 {
		t.Error("scope should change the label")
	}

	if l1.Sign() < 0 || l1.Cmp(types.FieldModulus()) >= 0 {
		t.Error("label outside field")
	}
}
