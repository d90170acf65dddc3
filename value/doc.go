// Package value provides the dynamic value carrier exchanged by plugin tasks.
//
// Task arguments and results are transient in-process values with no wire
// format. Instead of an open-ended any, Value is a closed variant over the
// types tasks actually exchange: nil, bool, int, float, string, bytes, and
// opaque handles. Downcasts are explicit and report a typed conversion error
// on mismatch rather than panicking; task bodies that receive a mismatched
// argument are expected to return value.Nil() as a benign sentinel.
package value
