package gimbal

import (
	"fmt"
	"strconv"

	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/node"
	"github.com/teranos/gimbal/rig"
)

// EntryID identifies an entry within one blend stack. IDs increase
// monotonically and are never reused.
type EntryID uint32

// InvalidEntryID is never issued.
const InvalidEntryID EntryID = 0

func (id EntryID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Layer names the four stacks of a RootEvaluator.
type Layer uint8

const (
	LayerBase Layer = iota
	LayerMain
	LayerGlobal
	LayerVisual
)

func (l Layer) String() string {
	switch l {
	case LayerBase:
		return "base"
	case LayerMain:
		return "main"
	case LayerGlobal:
		return "global"
	case LayerVisual:
		return "visual"
	default:
		return fmt.Sprintf("layer(%d)", uint8(l))
	}
}

// ParseLayer is the inverse of Layer.String.
func ParseLayer(s string) (Layer, error) {
	for l := LayerBase; l <= LayerVisual; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown layer %q", s)
}

// InstanceID is a root-wide rig instance handle: the layer in the high 32
// bits, the entry ID in the low 32.
type InstanceID uint64

// InvalidInstanceID is never issued.
const InvalidInstanceID InstanceID = 0

func MakeInstanceID(layer Layer, id EntryID) InstanceID {
	if id == InvalidEntryID {
		return InvalidInstanceID
	}
	return InstanceID(uint64(layer)<<32 | uint64(id))
}

func (i InstanceID) Layer() Layer     { return Layer(i >> 32) }
func (i InstanceID) EntryID() EntryID { return EntryID(uint32(i)) }
func (i InstanceID) IsValid() bool    { return i.EntryID() != InvalidEntryID }

func (i InstanceID) String() string {
	if !i.IsValid() {
		return "invalid"
	}
	return i.Layer().String() + "/" + i.EntryID().String()
}

// EvaluationInfo is a read-only view of one entry. The zero value is invalid.
type EvaluationInfo struct {
	Layer   Layer
	EntryID EntryID
	Context evalctx.Weak
	Rig     *rig.Rig
	Result  *camera.EvaluationResult // last computed result
	Root    node.Evaluator           // nil once frozen
}

func (i EvaluationInfo) IsValid() bool { return i.EntryID != InvalidEntryID }

// Instance is the root-level ID of the entry.
func (i EvaluationInfo) Instance() InstanceID { return MakeInstanceID(i.Layer, i.EntryID) }

// IsFrozen reports whether the entry stopped updating.
func (i EvaluationInfo) IsFrozen() bool { return i.IsValid() && i.Root == nil }

// entryFlags are the per-entry lifecycle bits.
type entryFlags struct {
	isFirstFrame             bool
	wasContextValidLastFrame bool
	forceCameraCut           bool
	isFrozen                 bool
	logWarnings              bool // cleared after a warning, set again on recovery
	isActive                 bool
}

// entry is one rig instance living in a blend stack.
type entry struct {
	id        EntryID
	context   evalctx.Weak
	rig       *rig.Rig
	root      node.Evaluator
	storage   node.Storage
	hierarchy node.Hierarchy

	contextResult camera.EvaluationResult // what the context fed in
	result        camera.EvaluationResult // what the rig produced
	flags         entryFlags

	// blending
	blend       blend.Blend
	outBlend    blend.Blend
	blendingOut bool
	stackOrder  int

	blendInFinished  bool
	blendOutFinished bool

	// transient pre-blend inputs gathered this frame
	preBlend camera.VariableTable
}

// tag names the entry's range in hierarchies.
func (e *entry) tag() string { return "entry-" + e.id.String() }

func (e *entry) matches(ctx evalctx.Weak, r *rig.Rig) bool {
	return e.context == ctx && e.rig == r
}

// weight is the entry's current contribution to its stack.
func (e *entry) weight() float64 {
	w := e.blend.Factor()
	if e.blendingOut {
		w *= 1 - e.outBlend.Factor()
	}
	return w
}

func (e *entry) advanceBlend(dt float64) {
	if e.blendingOut {
		e.outBlend.Advance(dt)
	} else {
		e.blend.Advance(dt)
	}
	e.blendInFinished = e.blend.IsFinished()
	e.blendOutFinished = e.blendingOut && e.outBlend.IsFinished()
}

func (e *entry) info(layer Layer) EvaluationInfo {
	return EvaluationInfo{
		Layer:   layer,
		EntryID: e.id,
		Context: e.context,
		Rig:     e.rig,
		Result:  &e.result,
		Root:    e.root,
	}
}

func (e *entry) runParams(p *StackRunParams, trailSink node.TrailSink) *node.RunParams {
	return &node.RunParams{
		DeltaTime:      p.DeltaTime,
		IsFirstFrame:   e.flags.isFirstFrame,
		IsActive:       e.flags.isActive,
		EvaluationType: p.EvaluationType,
		Trail:          trailSink,
	}
}

// StackRunParams drives one blend stack frame.
type StackRunParams struct {
	DeltaTime      float64
	EvaluationType node.EvaluationType
}
