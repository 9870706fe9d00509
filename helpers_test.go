package gimbal

import (
	"io"
	"log/slog"

	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/node"
	"github.com/teranos/gimbal/rig"
)

const (
	varYawRate camera.VariableID = iota + 1
	varOffset
)

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func linear(seconds float64) *blend.Transition {
	return &blend.Transition{Curve: blend.Linear, Duration: seconds}
}

func fixedRig(name string, x float64) *rig.Rig {
	return rig.New(name, &rig.Fixed{Common: rig.Common{Label: name}, Location: f64.Vec3{x, 0, 0}})
}

func offsetRig(name string, dz float64) *rig.Rig {
	return rig.New(name, &rig.Offset{Common: rig.Common{Label: name}, Location: f64.Vec3{0, 0, dz}})
}

func boomRig(name string) *rig.Rig {
	r := rig.New(name, &rig.Sequence{Nodes: []node.Definition{
		&rig.Fixed{Common: rig.Common{Label: "anchor"}},
		&rig.Boom{Common: rig.Common{Label: "boom"}, Length: 10, YawRateVariable: varYawRate},
	}})
	r.DefineVariable(camera.VariableDefinition{
		ID:         varYawRate,
		Name:       "yaw_rate",
		Blendable:  true,
		PreBlended: true,
		Default:    camera.FloatValue(0),
	})
	return r
}

type contexts struct {
	reg *evalctx.Registry
}

func newContexts() *contexts { return &contexts{reg: evalctx.NewRegistry()} }

func (c *contexts) add(name string) (*evalctx.Basic, evalctx.Weak) {
	ctx := evalctx.NewBasic(name)
	return ctx, c.reg.Register(ctx)
}

type fakeReloadListener struct {
	registered map[InstanceID]*rig.Rig
}

func (f *fakeReloadListener) Register(r *rig.Rig, id InstanceID) {
	if f.registered == nil {
		f.registered = make(map[InstanceID]*rig.Rig)
	}
	f.registered[id] = r
}

func (f *fakeReloadListener) Unregister(_ *rig.Rig, id InstanceID) {
	delete(f.registered, id)
}

func runPersistent(s *PersistentBlendStack, dt float64) camera.EvaluationResult {
	result := camera.NewEvaluationResult()
	s.Run(&StackRunParams{DeltaTime: dt}, &result)
	return result
}

func runTransient(s *TransientBlendStack, dt float64) camera.EvaluationResult {
	result := camera.NewEvaluationResult()
	s.Run(&StackRunParams{DeltaTime: dt}, &result)
	return result
}

func locX(r *camera.EvaluationResult) float64 { return r.Pose.Location()[0] }
