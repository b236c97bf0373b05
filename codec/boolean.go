package codec

import "github.com/gep-client/register"

// boolean is the Boolean codec: wire 0 is false, any non-zero wire is
// true; local true encodes to 1, false to 0. It is immutable and
// shared across every register that uses it, so it is exposed only as
// a singleton.
type boolean struct{}

// Boolean is the shared Boolean codec instance. Use this value
// directly; there is no constructor.
var Boolean register.IntCodec = boolean{}

func (boolean) ValueType() register.ValueType { return register.ValueTypeInt }

func (boolean) DecodeInt(wire int32) (register.Value, error) {
	return wire != 0, nil
}

func (boolean) EncodeInt(local register.Value) (int32, error) {
	b, ok := local.(bool)
	if !ok {
		return 0, register.ErrNotConvertible
	}
	if b {
		return 1, nil
	}
	return 0, nil
}
