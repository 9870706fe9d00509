package camera

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// VariableType is the value kind stored in a variable slot.
type VariableType uint8

const (
	VariableBool VariableType = iota + 1
	VariableInt
	VariableFloat
	VariableVec3
)

func (t VariableType) String() string {
	switch t {
	case VariableBool:
		return "bool"
	case VariableInt:
		return "int"
	case VariableFloat:
		return "float"
	case VariableVec3:
		return "vec3"
	default:
		return "unknown"
	}
}

// Value is a tagged variable value. Only the field matching Type is meaningful.
type Value struct {
	Type  VariableType
	Bool  bool
	Int   int64
	Float float64
	Vec3  f64.Vec3
}

func BoolValue(b bool) Value     { return Value{Type: VariableBool, Bool: b} }
func IntValue(i int64) Value     { return Value{Type: VariableInt, Int: i} }
func FloatValue(f float64) Value { return Value{Type: VariableFloat, Float: f} }
func Vec3Value(v f64.Vec3) Value { return Value{Type: VariableVec3, Vec3: v} }

// Equal compares type and the active field.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case VariableBool:
		return v.Bool == o.Bool
	case VariableInt:
		return v.Int == o.Int
	case VariableFloat:
		return v.Float == o.Float
	case VariableVec3:
		return v.Vec3 == o.Vec3
	}
	return true
}

func (v Value) String() string {
	switch v.Type {
	case VariableBool:
		return fmt.Sprintf("%t", v.Bool)
	case VariableInt:
		return fmt.Sprintf("%d", v.Int)
	case VariableFloat:
		return fmt.Sprintf("%.3f", v.Float)
	case VariableVec3:
		return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.Vec3[0], v.Vec3[1], v.Vec3[2])
	}
	return "<unset>"
}

// LerpValue blends two values of the same type. Discrete values (bools, and
// anything with mismatched types) switch to b at the half-way point.
func LerpValue(a, b Value, t float64) Value {
	if a.Type != b.Type {
		if t >= 0.5 {
			return b
		}
		return a
	}
	switch a.Type {
	case VariableInt:
		return IntValue(int64(math.Round(Lerp(float64(a.Int), float64(b.Int), t))))
	case VariableFloat:
		return FloatValue(Lerp(a.Float, b.Float, t))
	case VariableVec3:
		return Vec3Value(LerpVec3(a.Vec3, b.Vec3, t))
	}
	if t >= 0.5 {
		return b
	}
	return a
}

// VariableID identifies a variable inside a rig's variable table.
type VariableID uint32

// VariableDefinition declares a rig parameter.
type VariableDefinition struct {
	ID         VariableID
	Name       string
	Default    Value
	Blendable  bool // interpolated by LerpAll instead of snapping
	PreBlended bool // resolved across transient entries before node evaluation
}

type slotFlags uint8

const (
	slotWritten slotFlags = 1 << iota
	slotWrittenThisFrame
	slotChanged
)

type variableSlot struct {
	id        VariableID
	blendable bool
	value     Value
	flags     slotFlags
}

// VariableReader is the read-only view of a variable table.
type VariableReader interface {
	Get(id VariableID) (Value, bool)
	IsWritten(id VariableID) bool
	Len() int
}

// VariableTable stores named typed values with per-frame bookkeeping:
// a slot is "written" once any value was set, "written this frame" when
// Set was called since the last ResetFrameFlags, and "changed" when that
// write actually modified the value.
type VariableTable struct {
	slots []variableSlot
	index map[VariableID]int
}

// Initialize reserves room for capacity slots and drops any existing content.
func (t *VariableTable) Initialize(capacity int) {
	t.slots = make([]variableSlot, 0, capacity)
	t.index = make(map[VariableID]int, capacity)
}

// Reset clears every slot but keeps the allocations.
func (t *VariableTable) Reset() {
	t.slots = t.slots[:0]
	for k := range t.index {
		delete(t.index, k)
	}
}

func (t *VariableTable) slot(id VariableID, blendable bool) *variableSlot {
	if i, ok := t.index[id]; ok {
		s := &t.slots[i]
		s.blendable = s.blendable || blendable
		return s
	}
	if t.index == nil {
		t.index = make(map[VariableID]int)
	}
	t.index[id] = len(t.slots)
	t.slots = append(t.slots, variableSlot{id: id, blendable: blendable})
	return &t.slots[len(t.slots)-1]
}

// Define declares a slot without writing it.
func (t *VariableTable) Define(def VariableDefinition) {
	t.slot(def.ID, def.Blendable)
}

// Set writes a value.
func (t *VariableTable) Set(id VariableID, v Value) {
	t.set(t.slot(id, false), v)
}

func (t *VariableTable) set(s *variableSlot, v Value) {
	if s.flags&slotWritten == 0 || !s.value.Equal(v) {
		s.flags |= slotChanged
	}
	s.value = v
	s.flags |= slotWritten | slotWrittenThisFrame
}

// Get returns the value of a written slot.
func (t *VariableTable) Get(id VariableID) (Value, bool) {
	i, ok := t.index[id]
	if !ok || t.slots[i].flags&slotWritten == 0 {
		return Value{}, false
	}
	return t.slots[i].value, true
}

func (t *VariableTable) IsWritten(id VariableID) bool {
	_, ok := t.Get(id)
	return ok
}

func (t *VariableTable) IsChanged(id VariableID) bool {
	i, ok := t.index[id]
	return ok && t.slots[i].flags&slotChanged != 0
}

func (t *VariableTable) IsWrittenThisFrame(id VariableID) bool {
	i, ok := t.index[id]
	return ok && t.slots[i].flags&slotWrittenThisFrame != 0
}

// Len counts slots, written or not.
func (t *VariableTable) Len() int { return len(t.slots) }

// ForEach visits every written slot in definition order.
func (t *VariableTable) ForEach(fn func(id VariableID, v Value)) {
	for i := range t.slots {
		if t.slots[i].flags&slotWritten != 0 {
			fn(t.slots[i].id, t.slots[i].value)
		}
	}
}

// TrySetDefault writes def.Default if the slot was never written.
func (t *VariableTable) TrySetDefault(def VariableDefinition) bool {
	s := t.slot(def.ID, def.Blendable)
	if s.flags&slotWritten != 0 || def.Default.Type == 0 {
		return false
	}
	t.set(s, def.Default)
	return true
}

// OverrideAll copies other's written slots. With changedOnly, only slots
// other marks as changed are copied.
func (t *VariableTable) OverrideAll(other *VariableTable, changedOnly bool) {
	for i := range other.slots {
		o := &other.slots[i]
		if o.flags&slotWritten == 0 {
			continue
		}
		if changedOnly && o.flags&slotChanged == 0 {
			continue
		}
		t.set(t.slot(o.id, o.blendable), o.value)
	}
}

// LerpAll blends other's written slots into this table. Slots this table
// never wrote are copied; blendable slots interpolate; the rest snap at 0.5.
func (t *VariableTable) LerpAll(other *VariableTable, factor float64) {
	factor = Clamp01(factor)
	for i := range other.slots {
		o := &other.slots[i]
		if o.flags&slotWritten == 0 {
			continue
		}
		s := t.slot(o.id, o.blendable)
		switch {
		case s.flags&slotWritten == 0:
			t.set(s, o.value)
		case factor == 0:
		case s.blendable:
			t.set(s, LerpValue(s.value, o.value, factor))
		case factor >= 0.5:
			t.set(s, o.value)
		}
	}
}

// ResetFrameFlags clears written-this-frame and changed bits.
func (t *VariableTable) ResetFrameFlags() {
	for i := range t.slots {
		t.slots[i].flags &^= slotWrittenThisFrame | slotChanged
	}
}
