package rig

import (
	"math"

	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/node"
)

// Common carries the label and enable bit shared by every catalogue node.
type Common struct {
	Label    string
	Disabled bool
}

func (c *Common) Name() string  { return c.Label }
func (c *Common) Enabled() bool { return !c.Disabled }

// #region sequence

// Sequence runs its nodes in order, each one seeing what the previous wrote.
type Sequence struct {
	Common
	Nodes []node.Definition
}

func (d *Sequence) NewEvaluator(s *node.Storage) node.Evaluator {
	return node.Alloc[sequenceEvaluator](s)
}

type sequenceEvaluator struct {
	node.Base
}

func (e *sequenceEvaluator) OnBuild(p *node.BuildParams) {
	e.SetChildren(p.BuildChildren(e.Definition().(*Sequence).Nodes))
}

func (e *sequenceEvaluator) OnRun(p *node.RunParams, out *camera.EvaluationResult) {
	node.RunChildren(e, p, out)
}

// #endregion

// #region pose

// Fixed places the camera at an absolute location and rotation.
type Fixed struct {
	Common
	Location f64.Vec3
	Rotation f64.Vec3
}

func (d *Fixed) NewEvaluator(s *node.Storage) node.Evaluator {
	return node.Alloc[fixedEvaluator](s)
}

type fixedEvaluator struct {
	node.Base
}

func (e *fixedEvaluator) OnRun(p *node.RunParams, out *camera.EvaluationResult) {
	def := e.Definition().(*Fixed)
	out.Pose.SetLocation(def.Location)
	out.Pose.SetRotation(def.Rotation)
	if p.Trail != nil {
		p.Trail.AppendLocation(def.Label, def.Location)
	}
}

// Offset moves the camera by Location, or by the vec3 variable Variable when
// that variable is written.
type Offset struct {
	Common
	Location f64.Vec3
	Variable camera.VariableID
}

func (d *Offset) NewEvaluator(s *node.Storage) node.Evaluator {
	return node.Alloc[offsetEvaluator](s)
}

type offsetEvaluator struct {
	node.Base
}

func (e *offsetEvaluator) OnRun(_ *node.RunParams, out *camera.EvaluationResult) {
	def := e.Definition().(*Offset)
	offset := def.Location
	if def.Variable != 0 {
		if v, ok := out.Variables.Get(def.Variable); ok && v.Type == camera.VariableVec3 {
			offset = v.Vec3
		}
	}
	out.Pose.SetLocation(camera.AddVec3(out.Pose.Location(), offset))
}

// FieldOfView sets the lens angle, from Variable when it is written.
type FieldOfView struct {
	Common
	Degrees  float64
	Variable camera.VariableID
}

func (d *FieldOfView) NewEvaluator(s *node.Storage) node.Evaluator {
	return node.Alloc[fieldOfViewEvaluator](s)
}

type fieldOfViewEvaluator struct {
	node.Base
}

func (e *fieldOfViewEvaluator) OnRun(_ *node.RunParams, out *camera.EvaluationResult) {
	def := e.Definition().(*FieldOfView)
	fov := def.Degrees
	if def.Variable != 0 {
		if v, ok := out.Variables.Get(def.Variable); ok && v.Type == camera.VariableFloat {
			fov = v.Float
		}
	}
	out.Pose.SetFieldOfView(fov)
}

// #endregion

// #region variables

// SetVariable writes a constant into the result's variable table.
type SetVariable struct {
	Common
	ID    camera.VariableID
	Value camera.Value
}

func (d *SetVariable) NewEvaluator(s *node.Storage) node.Evaluator {
	return node.Alloc[setVariableEvaluator](s)
}

type setVariableEvaluator struct {
	node.Base
}

func (e *setVariableEvaluator) OnRun(_ *node.RunParams, out *camera.EvaluationResult) {
	def := e.Definition().(*SetVariable)
	out.Variables.Set(def.ID, def.Value)
}

// #endregion

// #region boom

// Boom swings the camera around the incoming location at Length, Height
// above it. The yaw advances by the float variable YawRateVariable (degrees
// per second) and survives save/load.
type Boom struct {
	Common
	Length          float64
	Height          float64
	InitialYaw      float64
	YawRateVariable camera.VariableID
}

func (d *Boom) NewEvaluator(s *node.Storage) node.Evaluator {
	return node.Alloc[boomEvaluator](s)
}

// SetYaw is an operation snapping a boom to an absolute yaw.
type SetYaw struct {
	Degrees float64
}

func (SetYaw) OperationName() string { return "set-yaw" }

type boomEvaluator struct {
	node.Base
	yaw float64
}

func (e *boomEvaluator) OnBuild(*node.BuildParams) {
	e.SetFlags(node.FlagNeedsParameterUpdate | node.FlagNeedsSerialize | node.FlagSupportsOperations)
}

func (e *boomEvaluator) OnInitialize(*node.InitializeParams, *camera.EvaluationResult) {
	e.yaw = e.Definition().(*Boom).InitialYaw
}

// OnUpdateParameters picks the yaw back up from the last pose this rig produced.
func (e *boomEvaluator) OnUpdateParameters(p *node.UpdateParams, _ *camera.VariableTable) {
	if p.LastResult != nil && p.LastResult.IsValid {
		e.yaw = p.LastResult.Pose.Rotation()[1]
	}
}

func (e *boomEvaluator) OnRun(p *node.RunParams, out *camera.EvaluationResult) {
	def := e.Definition().(*Boom)
	if v, ok := out.Variables.Get(def.YawRateVariable); ok && v.Type == camera.VariableFloat {
		e.yaw = math.Mod(e.yaw+v.Float*p.DeltaTime, 360)
	}

	rad := e.yaw * math.Pi / 180
	pivot := out.Pose.Location()
	location := f64.Vec3{
		pivot[0] - math.Cos(rad)*def.Length,
		pivot[1] - math.Sin(rad)*def.Length,
		pivot[2] + def.Height,
	}
	out.Pose.SetLocation(location)
	rotation := out.Pose.Rotation()
	rotation[1] = e.yaw
	out.Pose.SetRotation(rotation)

	if p.Trail != nil {
		p.Trail.AppendLocation(def.Label, location)
	}
}

func (e *boomEvaluator) OnSerialize(ar *node.Archive) {
	ar.Float(&e.yaw)
}

func (e *boomEvaluator) OnExecute(op node.Operation) bool {
	set, ok := op.(SetYaw)
	if !ok {
		return false
	}
	e.yaw = set.Degrees
	return true
}

// #endregion
