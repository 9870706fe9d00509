package node

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/teranos/gimbal/camera"
)

var (
	// ErrArchiveTruncated is reported when a loading archive runs out of data.
	ErrArchiveTruncated = errors.New("archive truncated")
	// ErrArchiveMismatch is reported when the next field is not of the kind
	// the reader asked for.
	ErrArchiveMismatch = errors.New("archive field mismatch")
)

// Field numbers identify the value kind of each record in the stream.
const (
	fieldBool protowire.Number = iota + 1
	fieldInt
	fieldFloat
	fieldVec3
	fieldString
	fieldValue
)

// Archive is a bidirectional, sequential archive. The same code path saves
// and loads: every method reads into its pointer when loading and writes from
// it when saving.
//
//	func (e *orbit) OnSerialize(ar *node.Archive) {
//		ar.Float(&e.yaw)
//		ar.Float(&e.pitch)
//	}
//
// Records are protobuf wire-format fields, so the stream can be inspected with
// stock protobuf tooling. Errors are sticky; check Err once at the end.
type Archive struct {
	loading bool
	buf     []byte
	err     error
}

// NewWriter returns a saving archive.
func NewWriter() *Archive { return &Archive{} }

// NewReader returns a loading archive over data.
func NewReader(data []byte) *Archive { return &Archive{loading: true, buf: data} }

func (ar *Archive) IsLoading() bool { return ar.loading }

// Bytes returns what a saving archive has written so far.
func (ar *Archive) Bytes() []byte { return ar.buf }

// Remaining is the number of unread bytes of a loading archive.
func (ar *Archive) Remaining() int {
	if !ar.loading {
		return 0
	}
	return len(ar.buf)
}

// Err returns the first error encountered.
func (ar *Archive) Err() error { return ar.err }

// Fail records err unless an earlier error is already recorded.
func (ar *Archive) Fail(err error) {
	if ar.err == nil {
		ar.err = err
	}
}

func (ar *Archive) readTag(want protowire.Number, typ protowire.Type) bool {
	if ar.err != nil {
		return false
	}
	if len(ar.buf) == 0 {
		ar.err = ErrArchiveTruncated
		return false
	}
	num, got, n := protowire.ConsumeTag(ar.buf)
	if n < 0 {
		ar.err = fmt.Errorf("read tag: %w", protowire.ParseError(n))
		return false
	}
	if num != want || got != typ {
		ar.err = fmt.Errorf("%w: want field %d, got %d", ErrArchiveMismatch, want, num)
		return false
	}
	ar.buf = ar.buf[n:]
	return true
}

func (ar *Archive) consumed(n int) bool {
	if n < 0 {
		ar.Fail(fmt.Errorf("%w: %v", ErrArchiveTruncated, protowire.ParseError(n)))
		return false
	}
	ar.buf = ar.buf[n:]
	return true
}

func (ar *Archive) varint(num protowire.Number, v *uint64) {
	if !ar.loading {
		ar.buf = protowire.AppendTag(ar.buf, num, protowire.VarintType)
		ar.buf = protowire.AppendVarint(ar.buf, *v)
		return
	}
	if !ar.readTag(num, protowire.VarintType) {
		return
	}
	x, n := protowire.ConsumeVarint(ar.buf)
	if ar.consumed(n) {
		*v = x
	}
}

func (ar *Archive) Bool(v *bool) {
	x := protowire.EncodeBool(*v)
	ar.varint(fieldBool, &x)
	if ar.loading && ar.err == nil {
		*v = protowire.DecodeBool(x)
	}
}

func (ar *Archive) Int(v *int64) {
	x := protowire.EncodeZigZag(*v)
	ar.varint(fieldInt, &x)
	if ar.loading && ar.err == nil {
		*v = protowire.DecodeZigZag(x)
	}
}

// Uint32 stores counts and identifiers.
func (ar *Archive) Uint32(v *uint32) {
	x := uint64(*v)
	ar.varint(fieldInt, &x)
	if ar.loading && ar.err == nil {
		*v = uint32(x)
	}
}

func (ar *Archive) Float(v *float64) {
	if !ar.loading {
		ar.buf = protowire.AppendTag(ar.buf, fieldFloat, protowire.Fixed64Type)
		ar.buf = protowire.AppendFixed64(ar.buf, math.Float64bits(*v))
		return
	}
	if !ar.readTag(fieldFloat, protowire.Fixed64Type) {
		return
	}
	x, n := protowire.ConsumeFixed64(ar.buf)
	if ar.consumed(n) {
		*v = math.Float64frombits(x)
	}
}

func (ar *Archive) Vec3(v *f64.Vec3) {
	if !ar.loading {
		var packed []byte
		for _, c := range v {
			packed = protowire.AppendFixed64(packed, math.Float64bits(c))
		}
		ar.buf = protowire.AppendTag(ar.buf, fieldVec3, protowire.BytesType)
		ar.buf = protowire.AppendBytes(ar.buf, packed)
		return
	}
	if !ar.readTag(fieldVec3, protowire.BytesType) {
		return
	}
	packed, n := protowire.ConsumeBytes(ar.buf)
	if !ar.consumed(n) {
		return
	}
	var out f64.Vec3
	for i := range out {
		x, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			ar.Fail(ErrArchiveTruncated)
			return
		}
		out[i] = math.Float64frombits(x)
		packed = packed[m:]
	}
	*v = out
}

func (ar *Archive) Text(v *string) {
	if !ar.loading {
		ar.buf = protowire.AppendTag(ar.buf, fieldString, protowire.BytesType)
		ar.buf = protowire.AppendString(ar.buf, *v)
		return
	}
	if !ar.readTag(fieldString, protowire.BytesType) {
		return
	}
	s, n := protowire.ConsumeString(ar.buf)
	if ar.consumed(n) {
		*v = s
	}
}

// Value round-trips a tagged variable value.
func (ar *Archive) Value(v *camera.Value) {
	typ := uint64(v.Type)
	ar.varint(fieldValue, &typ)
	if ar.err != nil {
		return
	}
	if ar.loading {
		*v = camera.Value{Type: camera.VariableType(typ)}
	}
	switch v.Type {
	case camera.VariableBool:
		ar.Bool(&v.Bool)
	case camera.VariableInt:
		ar.Int(&v.Int)
	case camera.VariableFloat:
		ar.Float(&v.Float)
	case camera.VariableVec3:
		ar.Vec3(&v.Vec3)
	}
}
