// Package rig holds camera rig assets: an immutable tree of node definitions
// plus the sizing information and parameter defaults needed to instantiate it
// on a blend stack.
//
// A rig is authored once and shared by every entry that runs it:
//
//	r := rig.New("third-person", &rig.Sequence{Nodes: []node.Definition{
//		&rig.Fixed{Location: f64.Vec3{0, -400, 180}},
//		&rig.Boom{Length: 250, YawRateVariable: yawRate},
//		&rig.FieldOfView{Degrees: 75},
//	}})
//	r.DefineVariable(camera.VariableDefinition{ID: yawRate, Blendable: true, PreBlended: true,
//		Default: camera.FloatValue(0)})
//
// New measures the tree once so every later build is pre-sized.
package rig

import (
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/node"
)

// TableAllocation sizes the variable and context data tables of an entry.
type TableAllocation struct {
	Variables   int
	ContextData int
}

// Rig is a camera rig asset. Entries reference it, they never own it.
type Rig struct {
	Name                string
	Root                node.Definition
	EvaluatorAllocation node.AllocationInfo
	TableAllocation     TableAllocation
	Variables           []camera.VariableDefinition
}

// New returns a rig with its evaluator allocation measured.
func New(name string, root node.Definition) *Rig {
	r := &Rig{Name: name, Root: root}
	r.Measure()
	return r
}

// Measure builds the tree into a scratch arena and records what it used.
// Call it again after editing Root.
func (r *Rig) Measure() {
	var s node.Storage
	s.BuildTree(r.Root, nil)
	r.EvaluatorAllocation = s.AllocationInfo()
	s.DestroyTree(true)
}

// DefineVariable declares a rig parameter and grows the table allocation.
func (r *Rig) DefineVariable(def camera.VariableDefinition) {
	for i := range r.Variables {
		if r.Variables[i].ID == def.ID {
			r.Variables[i] = def
			return
		}
	}
	r.Variables = append(r.Variables, def)
	r.TableAllocation.Variables = max(r.TableAllocation.Variables, len(r.Variables))
}

// Variable returns the definition of id.
func (r *Rig) Variable(id camera.VariableID) (camera.VariableDefinition, bool) {
	for _, def := range r.Variables {
		if def.ID == id {
			return def, true
		}
	}
	return camera.VariableDefinition{}, false
}

// PreBlendedVariables returns the parameters resolved across transient
// entries before the rig runs.
func (r *Rig) PreBlendedVariables() []camera.VariableDefinition {
	var out []camera.VariableDefinition
	for _, def := range r.Variables {
		if def.PreBlended {
			out = append(out, def)
		}
	}
	return out
}

func (r *Rig) String() string {
	if r == nil {
		return "<nil rig>"
	}
	return r.Name
}
