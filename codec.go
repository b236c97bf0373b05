package register

// ValueType is a runtime descriptor of the kind of local value a Codec
// produces.
type ValueType int

const (
	ValueTypeInt ValueType = iota
	ValueTypeBinary
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeInt:
		return "int"
	case ValueTypeBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Value is whatever a Register caches locally once decoded by a Codec —
// a number, a bool, a hex string, or anything else a concrete codec
// chooses to produce. A nil Value from a decoder is always treated as a
// DecodeRejection, never as a successful "zero" value.
type Value = any

// Codec is the abstract decode/encode contract between wire-level
// register values and local typed values. Concrete codecs implement
// exactly one of IntCodec or BinaryCodec, never both — the Gateway
// wrapper to use (integer or binary opcode) depends on which.
type Codec interface {
	ValueType() ValueType
}

// IntCodec decodes/encodes a signed 32-bit wire value. EncodeInt fails
// with ErrNotConvertible when local cannot be represented on the wire.
type IntCodec interface {
	Codec
	DecodeInt(wire int32) (Value, error)
	EncodeInt(local Value) (int32, error)
}

// BinaryCodec decodes/encodes a raw wire byte sequence.
type BinaryCodec interface {
	Codec
	DecodeBinary(wire []byte) (Value, error)
	EncodeBinary(local Value) ([]byte, error)
}
