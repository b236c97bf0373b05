package codec

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gep-client/register"
)

// HexBinary decodes/encodes a raw byte sequence as a hex-digit string.
// Decoding a wire length outside [MinLength, MaxLength] is rejected as
// a decode failure, signaled by a nil Value with a nil error. Encoding
// a malformed hex string (odd digit count, for instance) or one whose
// byte length is outside the bounds fails with ErrNotConvertible.
type HexBinary struct {
	MinLength int
	MaxLength int
	// Spaces inserts one space between each encoded byte pair when
	// true, and tolerates (skips) spaces in decoded input.
	Spaces bool
}

var _ register.BinaryCodec = HexBinary{}

// NewHexBinary validates 0 <= MinLength <= MaxLength.
func NewHexBinary(minLength, maxLength int, spaces bool) (HexBinary, error) {
	if minLength < 0 || maxLength < minLength {
		return HexBinary{}, fmt.Errorf("%w: invalid hex-binary length bounds", register.ErrInvalidArgument)
	}
	return HexBinary{MinLength: minLength, MaxLength: maxLength, Spaces: spaces}, nil
}

func (HexBinary) ValueType() register.ValueType { return register.ValueTypeBinary }

// DecodeBinary returns the wire bytes unchanged as their hex-digit
// string representation, rejecting lengths outside [MinLength,
// MaxLength].
func (c HexBinary) DecodeBinary(wire []byte) (register.Value, error) {
	if len(wire) < c.MinLength || len(wire) > c.MaxLength {
		return nil, nil
	}
	s := hex.EncodeToString(wire)
	if c.Spaces {
		s = spaceOutHex(s)
	}
	return s, nil
}

// EncodeBinary parses local as a hex-digit string (tolerating spaces
// if Spaces is set) and returns the decoded bytes, rejecting an odd
// digit count or a length outside [MinLength, MaxLength].
func (c HexBinary) EncodeBinary(local register.Value) ([]byte, error) {
	s, ok := local.(string)
	if !ok {
		return nil, register.ErrNotConvertible
	}
	if c.Spaces {
		s = strings.ReplaceAll(s, " ", "")
	}
	if len(s)%2 != 0 {
		return nil, register.ErrNotConvertible
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, register.ErrNotConvertible
	}
	if len(b) < c.MinLength || len(b) > c.MaxLength {
		return nil, register.ErrNotConvertible
	}
	return b, nil
}

func spaceOutHex(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		end := i + 2
		if end > len(s) {
			end = len(s)
		}
		sb.WriteString(s[i:end])
	}
	return sb.String()
}
