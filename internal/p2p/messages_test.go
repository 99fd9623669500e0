package p2p

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opaque/core/pkg/types"
)

func TestMessageFraming(t *testing.T) {
	msg := &Message{Type: MsgTypeDeposit, Payload: []byte("payload")}

	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded Message
	if err := decoded.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != msg.Type || !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Error("framed message did not round-trip")
	}
}

func TestDepositEventCodec(t *testing.T) {
	event := &types.DepositEvent{
		Commitment: types.Hash{0x01, 0x02},
		LeafIndex:  42,
		Depositor:  types.Address{0xaa},
	}

	decoded, err := DecodeDepositEvent(EncodeDepositEvent(event))
	if err != nil {
		t.Fatalf("DecodeDepositEvent: %v", err)
	}
	if *decoded != *event {
		t.Error("deposit event did not round-trip")
	}

	if _, err := DecodeDepositEvent([]byte{0x01}); !errors.Is(err, ErrMessageTooShort) {
		t.Errorf("expected ErrMessageTooShort, got %v", err)
	}
}

func TestWithdrawEventCodec(t *testing.T) {
	event := &types.WithdrawEvent{
		NullifierHash: types.Hash{0x07},
		Recipient:     types.Address{0x0e},
		Value:         types.FixedDepositAmount,
	}

	decoded, err := DecodeWithdrawEvent(EncodeWithdrawEvent(event))
	if err != nil {
		t.Fatalf("DecodeWithdrawEvent: %v", err)
	}
	if *decoded != *event {
		t.Error("withdraw event did not round-trip")
	}

	if _, err := DecodeWithdrawEvent(nil); !errors.Is(err, ErrMessageTooShort) {
		t.Errorf("expected ErrMessageTooShort, got %v", err)
	}
}

func TestAssociationRootCodec(t *testing.T) {
	root := types.Hash{0x11, 0x22}

	decoded, err := DecodeAssociationRoot(EncodeAssociationRoot(root))
	if err != nil {
		t.Fatalf("DecodeAssociationRoot: %v", err)
	}
	if decoded != root {
		t.Error("association root did not round-trip")
	}

	if _, err := DecodeAssociationRoot([]byte{0x01, 0x02}); !errors.Is(err, ErrMessageTooShort) {
		t.Errorf("expected ErrMessageTooShort, got %v", err)
	}
}
