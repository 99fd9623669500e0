package note

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/opaque/core/pkg/types"
)

// Note string errors
var (
	ErrInvalidNoteFormat = errors.New("invalid note format")
)

// Note string layout, dash-delimited:
//
//	opaque-1-<hex nullifier>-<hex secret>-<hex value>-<hex label>-<hex leafIndex>
//
// The tag and version are literal; everything else is lowercase hex with no
// 0x prefix. Exactly noteFieldCount fields; unknown versions and malformed
// field counts are rejected rather than guessed at.
const (
	noteTag        = "opaque"
	noteVersion    = "1"
	noteFieldCount = 7
)

// EncodeString serializes a note and its leaf index into the portable
// backup string
func EncodeString(n *types.Note, leafIndex uint32) string {
	return strings.Join([]string{
		noteTag,
		noteVersion,
		n.Nullifier.Text(16),
		n.Secret.Text(16),
		strconv.FormatUint(n.Value, 16),
		n.Label.Text(16),
		strconv.FormatUint(uint64(leafIndex), 16),
	}, "-")
}

// DecodeString parses a note backup string. The field count, tag, version,
// and every hex field are validated strictly.
func DecodeString(s string) (*types.Note, uint32, error) {
	fields := strings.Split(s, "-")
	if len(fields) != noteFieldCount {
		return nil, 0, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidNoteFormat, noteFieldCount, len(fields))
	}
	if fields[0] != noteTag {
		return nil, 0, fmt.Errorf("%w: unknown tag %q", ErrInvalidNoteFormat, fields[0])
	}
	if fields[1] != noteVersion {
		return nil, 0, fmt.Errorf("%w: unknown version %q", ErrInvalidNoteFormat, fields[1])
	}

	nullifier, err := parseFieldHex(fields[2])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: nullifier: %v", ErrInvalidNoteFormat, err)
	}
	secret, err := parseFieldHex(fields[3])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: secret: %v", ErrInvalidNoteFormat, err)
	}
	value, err := strconv.ParseUint(fields[4], 16, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: value: %v", ErrInvalidNoteFormat, err)
	}
	label, err := parseFieldHex(fields[5])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: label: %v", ErrInvalidNoteFormat, err)
	}
	leafIndex, err := strconv.ParseUint(fields[6], 16, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: leaf index: %v", ErrInvalidNoteFormat, err)
	}

	n := &types.Note{
		Value:     value,
		Label:     label,
		Nullifier: nullifier,
		Secret:    secret,
	}
	return n, uint32(leafIndex), nil
}

// parseFieldHex parses a bare lowercase hex field element
func parseFieldHex(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty field")
	}
	if strings.ToLower(s) != s {
		return nil, errors.New("uppercase hex")
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("not a hex integer")
	}
	if v.Cmp(types.FieldModulus()) >= 0 {
		return nil, types.ErrInvalidFieldElement
	}
	return v, nil
}
