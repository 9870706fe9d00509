// Package evalctx provides evaluation contexts, the external owners that feed
// camera rigs their per-frame input, and the weak handles blend stack entries
// hold on them.
//
// Contexts live in a Registry. Entries keep a Weak handle, which stops
// resolving as soon as the context is destroyed:
//
//	reg := evalctx.NewRegistry()
//	player := evalctx.NewBasic("player")
//	handle := reg.Register(player)
//
//	ctx, ok := handle.Pin() // ok until reg.Destroy(handle)
package evalctx

import (
	"github.com/google/uuid"

	"github.com/teranos/gimbal/camera"
)

// Condition selects optional data a context only exposes in some situations.
type Condition int

const (
	// ActiveRigOnly is data meant for the rig that is about to become the
	// active one.
	ActiveRigOnly Condition = iota + 1
)

// Context is what an evaluation context must expose to blend stacks.
type Context interface {
	ID() uuid.UUID
	Name() string
	// InitialResult is this frame's snapshot before any rig runs. Its
	// IsValid flag reports whether the snapshot can be used.
	InitialResult() *camera.EvaluationResult
	// ConditionalResult returns nil when the context has nothing for c.
	ConditionalResult(c Condition) *camera.EvaluationResult
}

// Basic is a plain Context driven by game code.
type Basic struct {
	id          uuid.UUID
	name        string
	initial     camera.EvaluationResult
	conditional map[Condition]*camera.EvaluationResult
}

// NewBasic returns a valid context with a default pose.
func NewBasic(name string) *Basic {
	return &Basic{
		id:      uuid.New(),
		name:    name,
		initial: camera.NewEvaluationResult(),
	}
}

func (b *Basic) ID() uuid.UUID { return b.id }
func (b *Basic) Name() string  { return b.name }

func (b *Basic) InitialResult() *camera.EvaluationResult { return &b.initial }

func (b *Basic) ConditionalResult(c Condition) *camera.EvaluationResult {
	return b.conditional[c]
}

// SetConditionalResult installs r for c; nil removes it.
func (b *Basic) SetConditionalResult(c Condition, r *camera.EvaluationResult) {
	if r == nil {
		delete(b.conditional, c)
		return
	}
	if b.conditional == nil {
		b.conditional = make(map[Condition]*camera.EvaluationResult)
	}
	b.conditional[c] = r
}

// SetValid marks the snapshot usable or not.
func (b *Basic) SetValid(valid bool) { b.initial.IsValid = valid }

// BeginFrame clears last frame's change tracking. Call it before writing
// this frame's values.
func (b *Basic) BeginFrame() {
	b.initial.ResetFrameFlags()
	b.initial.IsCameraCut = false
}
