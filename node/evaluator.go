// Package node defines the evaluation tree that camera rigs are instantiated
// into: the Evaluator contract, the Storage arena that owns a whole tree, and
// the Hierarchy cache used for cross-cutting passes.
//
// A rig node definition is immutable authored data. Building a definition
// produces an Evaluator carved out of a Storage arena:
//
//	var storage node.Storage
//	root := storage.BuildTree(rig.Root, &rig.EvaluatorAllocation)
//
//	var hierarchy node.Hierarchy
//	node.Initialize(root, &node.InitializeParams{Hierarchy: &hierarchy, InitialResult: initial}, &result)
//
//	// every frame
//	node.Run(root, &node.RunParams{DeltaTime: dt}, &result)
//
//	// teardown
//	storage.DestroyTree(true)
//
// Initialize recurses on its own. Run does not: each evaluator decides when
// and in which order its children run, usually through RunChildren.
package node

import (
	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal/camera"
)

// Flags are the optional capabilities an evaluator opts into.
type Flags uint8

const (
	FlagNeedsParameterUpdate Flags = 1 << iota
	FlagNeedsSerialize
	FlagSupportsOperations

	FlagNone Flags = 0
)

// Has reports whether every bit of f is set.
func (f Flags) Has(other Flags) bool { return f&other == other }

// EvaluationType selects which passes a root evaluation performs.
type EvaluationType int

const (
	EvaluationStandard EvaluationType = iota
	EvaluationIK
	EvaluationViewRotationPreview
	EvaluationSingleRig
)

func (t EvaluationType) String() string {
	switch t {
	case EvaluationStandard:
		return "standard"
	case EvaluationIK:
		return "ik"
	case EvaluationViewRotationPreview:
		return "view-rotation-preview"
	case EvaluationSingleRig:
		return "single-rig"
	default:
		return "unknown"
	}
}

// Definition is an immutable authored rig node.
type Definition interface {
	Name() string
	Enabled() bool
	// NewEvaluator allocates this definition's evaluator out of s,
	// normally through Alloc.
	NewEvaluator(s *Storage) Evaluator
}

// Children is a view over an evaluator's children. Entries may be nil.
type Children []Evaluator

// Evaluator is one live node of an evaluation tree. Concrete evaluators embed
// Base and override the On* hooks they need.
type Evaluator interface {
	base() *Base

	Definition() Definition
	Flags() Flags
	Children() Children

	OnBuild(params *BuildParams)
	OnInitialize(params *InitializeParams, out *camera.EvaluationResult)
	OnRun(params *RunParams, out *camera.EvaluationResult)
	OnUpdateParameters(params *UpdateParams, vars *camera.VariableTable)
	OnSerialize(ar *Archive)
	OnExecute(op Operation) bool
	OnDestroy()
}

// Base carries the state every evaluator shares.
type Base struct {
	definition Definition
	flags      Flags
	children   Children
}

func (b *Base) base() *Base { return b }

// Definition returns the rig node this evaluator was built from.
func (b *Base) Definition() Definition { return b.definition }

func (b *Base) Flags() Flags { return b.flags }

// SetFlags declares the evaluator's capabilities. Call it from OnBuild.
func (b *Base) SetFlags(f Flags) { b.flags = f }

func (b *Base) Children() Children { return b.children }

// SetChildren installs the children view, normally obtained from
// BuildParams.AllocChildren.
func (b *Base) SetChildren(c Children) { b.children = c }

func (b *Base) OnBuild(*BuildParams)                                     {}
func (b *Base) OnInitialize(*InitializeParams, *camera.EvaluationResult) {}
func (b *Base) OnRun(*RunParams, *camera.EvaluationResult)               {}
func (b *Base) OnUpdateParameters(*UpdateParams, *camera.VariableTable)  {}
func (b *Base) OnSerialize(*Archive)                                     {}
func (b *Base) OnExecute(Operation) bool                                 { return false }
func (b *Base) OnDestroy()                                               {}

// BuildParams is handed to OnBuild so evaluators can build their children
// into the same arena.
type BuildParams struct {
	storage *Storage
}

// Storage is the arena the tree is being built into.
func (p *BuildParams) Storage() *Storage { return p.storage }

// BuildEvaluator builds def and its subtree. A nil definition yields nil.
func (p *BuildParams) BuildEvaluator(def Definition) Evaluator {
	if def == nil {
		return nil
	}
	e := def.NewEvaluator(p.storage)
	if e == nil {
		return nil
	}
	e.base().definition = def
	p.storage.track(e)
	e.OnBuild(p)
	return e
}

// AllocChildren returns an n-slot children view carved from the arena.
func (p *BuildParams) AllocChildren(n int) Children {
	return p.storage.allocChildren(n)
}

// BuildChildren builds each definition into a fresh children view.
func (p *BuildParams) BuildChildren(defs []Definition) Children {
	children := p.AllocChildren(len(defs))
	for i, def := range defs {
		children[i] = p.BuildEvaluator(def)
	}
	return children
}

// InitializeParams is handed to OnInitialize.
type InitializeParams struct {
	// Hierarchy, when set, receives every initialized evaluator in pre-order.
	Hierarchy *Hierarchy
	// InitialResult is the owning evaluation context's snapshot for this frame.
	InitialResult *camera.EvaluationResult
}

// TrailSink receives debug locations appended while running.
type TrailSink interface {
	AppendLocation(label string, location f64.Vec3)
}

// RunParams is handed to OnRun every frame.
type RunParams struct {
	DeltaTime      float64
	IsFirstFrame   bool
	IsActive       bool
	EvaluationType EvaluationType
	Trail          TrailSink // optional
}

// UpdateParams is handed to the parameter pre-update pass.
type UpdateParams struct {
	DeltaTime  float64
	LastResult *camera.EvaluationResult
}

// Operation is a request executed against evaluators that support operations.
type Operation interface {
	OperationName() string
}

// Initialize registers e into the optional hierarchy, initializes it and then
// recurses into its children.
func Initialize(e Evaluator, params *InitializeParams, out *camera.EvaluationResult) {
	if e == nil {
		return
	}
	if params.Hierarchy != nil {
		params.Hierarchy.Register(e)
	}
	e.OnInitialize(params, out)
	for _, child := range e.Children() {
		Initialize(child, params, out)
	}
}

// Run runs e unless its definition is disabled. Children are e's business.
func Run(e Evaluator, params *RunParams, out *camera.EvaluationResult) {
	if e == nil {
		return
	}
	if def := e.Definition(); def != nil && !def.Enabled() {
		return
	}
	e.OnRun(params, out)
}

// RunChildren runs every child of e in order.
func RunChildren(e Evaluator, params *RunParams, out *camera.EvaluationResult) {
	for _, child := range e.Children() {
		Run(child, params, out)
	}
}

// UpdateParameters runs the pre-update pass on e if it asked for it.
func UpdateParameters(e Evaluator, params *UpdateParams, vars *camera.VariableTable) {
	if e == nil || !e.Flags().Has(FlagNeedsParameterUpdate) {
		return
	}
	e.OnUpdateParameters(params, vars)
}

// Serialize round-trips e's persistent state if it asked for it.
func Serialize(e Evaluator, ar *Archive) {
	if e == nil || !e.Flags().Has(FlagNeedsSerialize) {
		return
	}
	e.OnSerialize(ar)
}

// Execute offers op to e. It returns false if e does not support operations
// or did not handle op.
func Execute(e Evaluator, op Operation) bool {
	if e == nil || !e.Flags().Has(FlagSupportsOperations) {
		return false
	}
	return e.OnExecute(op)
}
