package scene

import (
	"fmt"
	"log/slog"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/rig"
	"github.com/teranos/gimbal/trip"
)

// cueEpsilon absorbs accumulated frame time error when comparing cue times.
const cueEpsilon = 1e-9

// Player fires a scene's cues against a RootEvaluator.
//
// Call Advance once per frame before running the evaluator. Cue failures are
// recorded as trips and never stop playback.
type Player struct {
	scene  *Scene
	root   *gimbal.RootEvaluator
	logger *slog.Logger
	trips  *trip.Handler

	registry  *evalctx.Registry
	contexts  map[string]*evalctx.Basic
	handles   map[string]evalctx.Weak
	rigs      map[string]*rig.Rig
	instances map[string]gimbal.InstanceID

	next int
}

// RootConfig returns base with the scene's blend table installed.
func (s *Scene) RootConfig(base gimbal.Config) gimbal.Config {
	if table, err := s.Table(); err == nil {
		base.Transitions = table
	}
	return base
}

// NewPlayer registers the scene's contexts and builds its rigs. root should
// have been created from RootConfig so scene transitions apply.
func NewPlayer(s *Scene, root *gimbal.RootEvaluator, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{
		scene:     s,
		root:      root,
		logger:    logger.With(slog.String("scene", s.Name)),
		trips:     trip.NewHandler("scene", trip.DefaultPolicy()),
		registry:  evalctx.NewRegistry(),
		contexts:  make(map[string]*evalctx.Basic, len(s.Contexts)),
		handles:   make(map[string]evalctx.Weak, len(s.Contexts)),
		rigs:      s.BuildRigs(),
		instances: make(map[string]gimbal.InstanceID),
	}

	for _, spec := range s.Contexts {
		ctx := evalctx.NewBasic(spec.Name)
		initial := ctx.InitialResult()
		location, _ := vec3(spec.Location)
		rotation, _ := vec3(spec.Rotation)
		initial.Pose.SetLocation(location)
		initial.Pose.SetRotation(rotation)
		for name, value := range spec.Variables {
			initial.Variables.Set(s.variableIDs[name], camera.FloatValue(value))
		}
		p.contexts[spec.Name] = ctx
		p.handles[spec.Name] = p.registry.Register(ctx)
	}
	return p
}

// Trips returns the cue failures recorded so far.
func (p *Player) Trips() *trip.Handler { return p.trips }

// Done reports whether every cue has fired.
func (p *Player) Done() bool { return p.next >= len(p.scene.Cues) }

// Pending is the number of cues still to fire.
func (p *Player) Pending() int { return len(p.scene.Cues) - p.next }

// Instance returns the instance activated under label.
func (p *Player) Instance(label string) gimbal.InstanceID { return p.instances[label] }

// Context returns the context declared as name, or nil.
func (p *Player) Context(name string) *evalctx.Basic { return p.contexts[name] }

// Rig returns the catalogue rig called name, or nil.
func (p *Player) Rig(name string) *rig.Rig { return p.rigs[name] }

// Advance begins a new context frame and fires every cue due at elapsed
// seconds. frame is only used for trip reporting.
func (p *Player) Advance(frame uint64, elapsed float64) {
	for _, ctx := range p.contexts {
		ctx.BeginFrame()
	}
	for p.next < len(p.scene.Cues) && p.scene.Cues[p.next].At <= elapsed+cueEpsilon {
		cue := p.scene.Cues[p.next]
		p.next++
		if err := p.fire(cue); err != nil {
			t := trip.NewTrip("cue", err.Error(), trip.Context{"at": cue.At}).WithFrame(frame)
			p.trips.Record(t)
			p.logger.Warn("cue failed",
				slog.Float64("at", cue.At),
				slog.Uint64("frame", frame),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Player) fire(c Cue) error {
	var transition *blend.Transition
	if c.Transition != nil {
		tr, err := c.Transition.transition()
		if err != nil {
			return err
		}
		transition = &tr
	}

	switch {
	case c.Activate != nil:
		a := c.Activate
		layer, err := gimbal.ParseLayer(a.Layer)
		if err != nil {
			return err
		}
		id := p.root.ActivateRig(gimbal.ActivateParams{
			Layer:      layer,
			Context:    p.handles[a.Context],
			Rig:        p.rigs[a.Rig],
			StackOrder: a.StackOrder,
			Force:      a.Force,
			Transition: transition,
		})
		if !id.IsValid() {
			return fmt.Errorf("activate %s: rejected", a.Label)
		}
		p.instances[a.Label] = id
		p.logger.Debug("cue activated rig",
			slog.String("label", a.Label),
			slog.String("rig", a.Rig),
			slog.String("instance", id.String()),
		)

	case c.Deactivate != nil:
		if !p.root.DeactivateRig(gimbal.DeactivateParams{
			Instance:   p.instances[c.Deactivate.Label],
			Transition: transition,
			Immediate:  c.Deactivate.Immediate,
		}) {
			return fmt.Errorf("deactivate %s: no such instance", c.Deactivate.Label)
		}

	case c.SetYaw != nil:
		handled, err := p.root.ExecuteOperation(p.instances[c.SetYaw.Label], rig.SetYaw{Degrees: c.SetYaw.Degrees})
		if err != nil {
			return fmt.Errorf("set yaw on %s: %w", c.SetYaw.Label, err)
		}
		if !handled {
			return fmt.Errorf("set yaw on %s: no node handled it", c.SetYaw.Label)
		}

	case c.Move != nil:
		location, _ := vec3(c.Move.Location)
		p.contexts[c.Move.Context].InitialResult().Pose.SetLocation(location)

	case c.Set != nil:
		p.contexts[c.Set.Context].InitialResult().Variables.Set(p.scene.variableIDs[c.Set.Variable], camera.FloatValue(c.Set.Value))

	case c.Invalidate != "":
		p.contexts[c.Invalidate].SetValid(false)

	case c.Restore != "":
		p.contexts[c.Restore].SetValid(true)

	case c.Destroy != "":
		if !p.registry.Destroy(p.handles[c.Destroy]) {
			return fmt.Errorf("destroy %s: already destroyed", c.Destroy)
		}
	}
	return nil
}
