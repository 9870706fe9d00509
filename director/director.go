package director

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/node"
	"github.com/teranos/gimbal/rig"
	"github.com/teranos/gimbal/savestate"
	"github.com/teranos/gimbal/trip"
)

// WithFrameRate sets the frames per second used for every run step.
// Must be called before Start().
func (d *Director) WithFrameRate(fps float64) *Director {
	if d.started {
		d.t.Logf("cannot change frame rate after the director has started, ignoring WithFrameRate(%v)", fps)
		return d
	}
	if fps > 0 {
		d.config.FrameRate = fps
	}
	return d
}

// WithSnapshots enables or disables per-step snapshots.
func (d *Director) WithSnapshots(enabled bool) *Director {
	d.config.CaptureSnapshots = enabled
	return d
}

// WithStore makes Save and Restore use persistent save slots.
func (d *Director) WithStore(store *savestate.Store) *Director {
	d.store = store
	return d
}

// Start begins recording.
func (d *Director) Start() *Director {
	if d.started {
		d.t.Logf("director already started")
		return d
	}
	d.started = true
	d.startTime = time.Now()
	d.captureSnapshot("start")
	return d
}

// Stop ends the session and returns the collected results.
func (d *Director) Stop() *Result {
	d.captureSnapshot("stop")

	var report strings.Builder
	if d.tripHandler.HasTrips() || d.tripHandler.HasStumbles() {
		report.WriteString(d.tripHandler.DetailedReport())
	}
	if rootTrips := d.root.Trips(); rootTrips.HasTrips() || rootTrips.HasStumbles() {
		if report.Len() > 0 {
			report.WriteString("\n")
		}
		report.WriteString(rootTrips.DetailedReport())
	}

	var duration time.Duration
	if !d.startTime.IsZero() {
		duration = time.Since(d.startTime)
	}

	return &Result{
		Actions:      d.actions,
		Snapshots:    d.snapshots,
		Success:      !d.HasFailed(),
		Frames:       d.frame,
		Duration:     duration,
		ErrorMessage: d.getErrorMessage(),
		Error:        d.GetError(),
		TripReport:   report.String(),
	}
}

// Root returns the evaluator under direction.
func (d *Director) Root() *gimbal.RootEvaluator { return d.root }

// Frame is the number of frames evaluated so far.
func (d *Director) Frame() uint64 { return d.frame }

// DeltaTime is the fixed duration of one frame in seconds.
func (d *Director) DeltaTime() float64 { return 1 / d.config.FrameRate }

// #region contexts

// AddContext registers a new evaluation context under name.
func (d *Director) AddContext(name string) *Director {
	if _, ok := d.sources[name]; ok {
		d.recordTrip(newScriptTrip("script", "context already exists: "+name, trip.Context{"context": name}))
		return d
	}
	ctx := evalctx.NewBasic(name)
	d.sources[name] = ctx
	d.handles[name] = d.contexts.Register(ctx)
	d.recordAction("context", "add="+name)
	return d
}

// MoveContext sets the location the context feeds into its rigs.
func (d *Director) MoveContext(name string, location f64.Vec3) *Director {
	if ctx := d.source(name); ctx != nil {
		ctx.InitialResult().Pose.SetLocation(location)
		d.recordAction("context", fmt.Sprintf("move=%s %v", name, location))
	}
	return d
}

// SetVariable writes a variable into the context's snapshot.
func (d *Director) SetVariable(name string, id camera.VariableID, value camera.Value) *Director {
	if ctx := d.source(name); ctx != nil {
		ctx.InitialResult().Variables.Set(id, value)
		d.recordAction("context", fmt.Sprintf("set=%s %d=%s", name, id, value))
	}
	return d
}

// InvalidateContext marks the context's snapshot unusable until
// RestoreContext.
func (d *Director) InvalidateContext(name string) *Director {
	if ctx := d.source(name); ctx != nil {
		ctx.SetValid(false)
		d.recordAction("context", "invalidate="+name)
	}
	return d
}

// RestoreContext marks the context's snapshot usable again.
func (d *Director) RestoreContext(name string) *Director {
	if ctx := d.source(name); ctx != nil {
		ctx.SetValid(true)
		d.recordAction("context", "restore="+name)
	}
	return d
}

// DestroyContext drops the context. Its entries freeze on the next frame.
func (d *Director) DestroyContext(name string) *Director {
	if d.source(name) == nil {
		return d
	}
	d.contexts.Destroy(d.handles[name])
	delete(d.sources, name)
	d.recordAction("context", "destroy="+name)
	return d
}

// Handle returns the weak handle of a context, or the zero handle.
func (d *Director) Handle(name string) evalctx.Weak { return d.handles[name] }

func (d *Director) source(name string) *evalctx.Basic {
	ctx, ok := d.sources[name]
	if !ok {
		d.recordTrip(newScriptTrip("script", "unknown context: "+name, trip.Context{"context": name}))
		return nil
	}
	return ctx
}

// #endregion

// #region rigs

// Activate runs r for a context on a layer and remembers the instance under
// label.
func (d *Director) Activate(label string, layer gimbal.Layer, context string, r *rig.Rig) *Director {
	return d.ActivateWith(label, context, gimbal.ActivateParams{Layer: layer, Rig: r})
}

// ActivateWith is Activate with full control over the parameters. The
// context field is filled from context.
func (d *Director) ActivateWith(label, context string, p gimbal.ActivateParams) *Director {
	if d.source(context) == nil {
		return d
	}
	p.Context = d.handles[context]
	id := d.root.ActivateRig(p)
	if !id.IsValid() {
		d.recordTrip(newScriptTrip("script", "activation failed: "+label, trip.Context{
			"label": label,
			"layer": p.Layer.String(),
			"rig":   p.Rig.String(),
		}))
		return d
	}
	d.instances[label] = id
	d.recordAction("activate", fmt.Sprintf("%s=%s %s", label, id, p.Rig))
	return d
}

// Deactivate removes the instance called label with its default exit.
func (d *Director) Deactivate(label string) *Director {
	return d.DeactivateWith(label, gimbal.DeactivateParams{})
}

// DeactivateWith removes the instance called label. The instance field is
// filled from label.
func (d *Director) DeactivateWith(label string, p gimbal.DeactivateParams) *Director {
	id, ok := d.instance(label)
	if !ok {
		return d
	}
	p.Instance = id
	if !d.root.DeactivateRig(p) {
		d.recordTrip(newScriptTrip("script", "deactivation matched nothing: "+label, trip.Context{
			"label":    label,
			"instance": id.String(),
		}))
		return d
	}
	d.recordAction("deactivate", label)
	return d
}

// Execute offers an operation to the instance called label.
func (d *Director) Execute(label string, op node.Operation) *Director {
	id, ok := d.instance(label)
	if !ok {
		return d
	}
	handled, err := d.root.ExecuteOperation(id, op)
	if err != nil {
		d.recordTrip(newScriptTrip("script", err.Error(), trip.Context{"label": label}).WithCause(err))
		return d
	}
	d.recordAction("execute", fmt.Sprintf("%s %s handled=%t", label, op.OperationName(), handled))
	return d
}

// Instance returns the instance ID activated under label.
func (d *Director) Instance(label string) gimbal.InstanceID { return d.instances[label] }

func (d *Director) instance(label string) (gimbal.InstanceID, bool) {
	id, ok := d.instances[label]
	if !ok {
		d.recordTrip(newScriptTrip("script", "unknown instance label: "+label, trip.Context{"label": label}))
	}
	return id, ok
}

// #endregion

// #region frames

// Run evaluates frames standard frames.
func (d *Director) Run(frames int) *Director {
	return d.RunAs(frames, node.EvaluationStandard)
}

// RunFor evaluates frames until seconds of evaluated time have passed.
func (d *Director) RunFor(seconds float64) *Director {
	frames := int(seconds*d.config.FrameRate + 0.5)
	return d.Run(frames)
}

// RunAs evaluates frames frames of the given evaluation type.
func (d *Director) RunAs(frames int, evaluation node.EvaluationType) *Director {
	params := gimbal.RunParams{DeltaTime: d.DeltaTime(), EvaluationType: evaluation}
	for range frames {
		if !d.step(func() { d.root.Run(params) }) {
			break
		}
	}
	d.recordAction("run", fmt.Sprintf("%d %s", frames, evaluation))
	d.captureSnapshot("run")
	return d
}

// Preview evaluates frames frames of only the instance called label.
func (d *Director) Preview(label string, frames int) *Director {
	id, ok := d.instance(label)
	if !ok {
		return d
	}
	params := gimbal.SingleRigParams{Instance: id, DeltaTime: d.DeltaTime()}
	for range frames {
		ran := true
		if !d.step(func() { ran = d.root.RunSingleRig(params) }) {
			break
		}
		if !ran {
			d.recordTrip(newScriptTrip("script", "preview instance is gone: "+label, trip.Context{
				"label":    label,
				"instance": id.String(),
			}))
			break
		}
	}
	d.recordAction("preview", fmt.Sprintf("%s %d", label, frames))
	d.captureSnapshot("preview")
	return d
}

// WaitForBlend runs frames until the instance called label reaches full
// weight.
func (d *Director) WaitForBlend(label string) *Director {
	id, ok := d.instance(label)
	if !ok {
		return d
	}
	return d.waitFor("blend", label, func() bool { return d.blendWeight(id) >= 1 })
}

// WaitForRetired runs frames until the instance called label has left its
// stack.
func (d *Director) WaitForRetired(label string) *Director {
	id, ok := d.instance(label)
	if !ok {
		return d
	}
	return d.waitFor("retired", label, func() bool { return !d.root.Info(id).IsValid() })
}

func (d *Director) waitFor(what, label string, done func() bool) *Director {
	params := gimbal.RunParams{DeltaTime: d.DeltaTime()}
	for i := 0; i < d.config.MaxWaitFrames; i++ {
		if done() {
			d.recordAction("wait", fmt.Sprintf("%s=%s frames=%d", what, label, i))
			d.captureSnapshot("wait")
			return d
		}
		if !d.step(func() { d.root.Run(params) }) {
			return d
		}
	}
	if done() {
		return d
	}
	d.recordTrip(newScriptTrip("timeout", fmt.Sprintf("timeout waiting for %s of %s", what, label), trip.Context{
		"label":  label,
		"frames": d.config.MaxWaitFrames,
	}))
	return d
}

type weighted interface {
	BlendWeight(id gimbal.EntryID) float64
}

func (d *Director) blendWeight(id gimbal.InstanceID) float64 {
	var s weighted
	switch id.Layer() {
	case gimbal.LayerBase:
		s = d.root.Base()
	case gimbal.LayerMain:
		s = d.root.Main()
	case gimbal.LayerGlobal:
		s = d.root.Global()
	case gimbal.LayerVisual:
		s = d.root.Visual()
	default:
		return 0
	}
	return s.BlendWeight(id.EntryID())
}

// step evaluates one frame, converting a raised fall into a recorded trip.
func (d *Director) step(run func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.handleRunPanic(r)
			ok = false
		}
	}()
	if d.halted {
		return false
	}
	run()
	d.frame++
	d.elapsed += d.DeltaTime()
	for _, ctx := range d.sources {
		ctx.BeginFrame()
	}
	return true
}

// #endregion

// #region save state

// Save stores the root state under name.
func (d *Director) Save(name string) *Director {
	if d.store != nil {
		if _, err := d.store.Save(name, d.root); err != nil {
			d.recordTrip(newScriptTrip("save", err.Error(), trip.Context{"slot": name}).WithCause(err))
			return d
		}
	} else {
		data, err := d.root.SaveState()
		if err != nil {
			d.recordTrip(newScriptTrip("save", err.Error(), trip.Context{"slot": name}).WithCause(err))
			return d
		}
		d.saves[name] = data
	}
	d.recordAction("save", name)
	return d
}

// Restore loads the root state saved under name.
func (d *Director) Restore(name string) *Director {
	var err error
	if d.store != nil {
		_, err = d.store.Load(name, d.root)
	} else if data, ok := d.saves[name]; ok {
		err = d.root.LoadState(data)
	} else {
		err = fmt.Errorf("restore %s: %w", name, savestate.ErrSlotNotFound)
	}
	if err != nil {
		d.recordTrip(newScriptTrip("save", err.Error(), trip.Context{"slot": name}).WithCause(err))
		return d
	}
	d.recordAction("restore", name)
	return d
}

// #endregion
