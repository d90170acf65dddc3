package value

import (
	"fmt"
	"math"

	"github.com/wippyai/plugin-runtime/errors"
)

// Kind identifies the concrete type held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindHandle:
		return "handle"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged variant covering the types tasks exchange.
// The zero value is nil.
type Value struct {
	handle any
	str    string
	bytes  []byte
	num    uint64
	kind   Kind
}

// Nil returns the nil value.
func Nil() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

// Int wraps a 64-bit integer.
func Int(i int64) Value { return Value{kind: KindInt, num: uint64(i)} }

// Float wraps a 64-bit float.
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bytes wraps a byte slice. The slice is not copied.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bytes: b} }

// Handle wraps an opaque reference, typically a plugin or kernel passed
// into a service task. A nil reference yields the nil value.
func Handle(h any) Value {
	if h == nil {
		return Value{}
	}
	return Value{kind: KindHandle, handle: h}
}

// Kind reports the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v holds nothing.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsBool returns the boolean held by v, or a conversion error.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, errors.TypeMismatch(KindBool.String(), v.kind.String())
	}
	return v.num != 0, nil
}

// AsInt returns the integer held by v, or a conversion error.
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, errors.TypeMismatch(KindInt.String(), v.kind.String())
	}
	return int64(v.num), nil
}

// AsFloat returns the float held by v, or a conversion error.
func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, errors.TypeMismatch(KindFloat.String(), v.kind.String())
	}
	return math.Float64frombits(v.num), nil
}

// AsString returns the string held by v, or a conversion error.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", errors.TypeMismatch(KindString.String(), v.kind.String())
	}
	return v.str, nil
}

// AsBytes returns the byte slice held by v, or a conversion error.
func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, errors.TypeMismatch(KindBytes.String(), v.kind.String())
	}
	return v.bytes, nil
}

// AsHandle returns the opaque reference held by v, or a conversion error.
func (v Value) AsHandle() (any, error) {
	if v.kind != KindHandle {
		return nil, errors.TypeMismatch(KindHandle.String(), v.kind.String())
	}
	return v.handle, nil
}

// String implements fmt.Stringer for logs and the interactive inspector.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "<nil>"
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", int64(v.num))
	case KindFloat:
		return fmt.Sprintf("%g", math.Float64frombits(v.num))
	case KindString:
		return v.str
	case KindBytes:
		return fmt.Sprintf("%d bytes", len(v.bytes))
	case KindHandle:
		return fmt.Sprintf("handle(%T)", v.handle)
	default:
		return "unknown"
	}
}
