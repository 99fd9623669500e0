// Package p2p provides message serialization for network communication.
package p2p

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/opaque/core/pkg/types"
)

// Message types
const (
	MsgTypeDeposit         uint8 = 0x01
	MsgTypeWithdraw        uint8 = 0x02
	MsgTypeAssociationRoot uint8 = 0x03
)

// Message errors
var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooLarge    = errors.New("message too large")
	ErrMessageTooShort    = errors.New("message too short")
)

// MaxMessageSize is the maximum size of a network message
const MaxMessageSize = 1 << 20 // 1 MB

// Wire sizes of the fixed-layout event payloads
const (
	depositEventSize  = types.HashSize + 4 + types.AddressSize
	withdrawEventSize = types.HashSize + types.AddressSize + 8
)

// Message represents a framed network message
type Message struct {
	Type    uint8
	Payload []byte
}

// Encode serializes a message for network transmission
func (m *Message) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, m.Type); err != nil {
		return err
	}

	payloadLen := uint32(len(m.Payload))
	if err := binary.Write(w, binary.BigEndian, payloadLen); err != nil {
		return err
	}

	if _, err := w.Write(m.Payload); err != nil {
		return err
	}
	return nil
}

// Decode deserializes a message from network data
func (m *Message) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.BigEndian, &m.Type); err != nil {
		return err
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return err
	}
	if payloadLen > MaxMessageSize {
		return ErrMessageTooLarge
	}

	m.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, m.Payload); err != nil {
		return err
	}
	return nil
}

// EncodeDepositEvent serializes a deposit event:
// commitment || leafIndex || depositor
func EncodeDepositEvent(event *types.DepositEvent) []byte {
	buf := make([]byte, 0, depositEventSize)
	buf = append(buf, event.Commitment[:]...)
	buf = binary.BigEndian.AppendUint32(buf, event.LeafIndex)
	buf = append(buf, event.Depositor[:]...)
	return buf
}

// DecodeDepositEvent deserializes a deposit event
func DecodeDepositEvent(data []byte) (*types.DepositEvent, error) {
	if len(data) != depositEventSize {
		return nil, ErrMessageTooShort
	}

	var event types.DepositEvent
	copy(event.Commitment[:], data[0:types.HashSize])
	event.LeafIndex = binary.BigEndian.Uint32(data[types.HashSize : types.HashSize+4])
	copy(event.Depositor[:], data[types.HashSize+4:])
	return &event, nil
}

// EncodeWithdrawEvent serializes a withdrawal event:
// nullifierHash || recipient || value
func EncodeWithdrawEvent(event *types.WithdrawEvent) []byte {
	buf := make([]byte, 0, withdrawEventSize)
	buf = append(buf, event.NullifierHash[:]...)
	buf = append(buf, event.Recipient[:]...)
	buf = binary.BigEndian.AppendUint64(buf, event.Value)
	return buf
}

// DecodeWithdrawEvent deserializes a withdrawal event
func DecodeWithdrawEvent(data []byte) (*types.WithdrawEvent, error) {
	if len(data) != withdrawEventSize {
		return nil, ErrMessageTooShort
	}

	var event types.WithdrawEvent
	copy(event.NullifierHash[:], data[0:types.HashSize])
	copy(event.Recipient[:], data[types.HashSize:types.HashSize+types.AddressSize])
	event.Value = binary.BigEndian.Uint64(data[types.HashSize+types.AddressSize:])
	return &event, nil
}

// EncodeAssociationRoot serializes an association root announcement
func EncodeAssociationRoot(root types.Hash) []byte {
	buf := make([]byte, types.HashSize)
	copy(buf, root[:])
	return buf
}

// DecodeAssociationRoot deserializes an association root announcement
func DecodeAssociationRoot(data []byte) (types.Hash, error) {
	if len(data) != types.HashSize {
		return types.EmptyHash, ErrMessageTooShort
	}

	var root types.Hash
	copy(root[:], data)
	return root, nil
}
