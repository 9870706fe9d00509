package gimbal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/node"
	"github.com/teranos/gimbal/rig"
	"github.com/teranos/gimbal/trip"
)

// RootEvaluator owns the four layers of a camera system and runs them in
// order every frame: Base, Main, Global, then Visual.
//
// Base, Global and Visual are persistent stacks; their rigs apply on top of
// whatever was evaluated before them. Main is a transient stack holding the
// gameplay rigs, blended in isolation and then written over the Base result.
// While Main has entries its pose replaces the Base pose; from Base only the
// variables and context data Main does not write carry through.
//
// Example usage:
//
//	root := gimbal.NewRootEvaluator(gimbal.DefaultConfig())
//	id := root.ActivateRig(gimbal.ActivateParams{
//		Layer:   gimbal.LayerMain,
//		Context: contexts.Register(player),
//		Rig:     followRig,
//	})
//	root.Run(gimbal.RunParams{DeltaTime: 1.0 / 60})
//	pose := root.Result().Pose
type RootEvaluator struct {
	config  Config
	logger  *slog.Logger
	trips   *trip.Handler
	metrics *stackMetrics

	base   PersistentBlendStack
	main   TransientBlendStack
	global PersistentBlendStack
	visual PersistentBlendStack

	result     camera.EvaluationResult
	mainResult camera.EvaluationResult

	// preview holds the tagged subtree of the rig run by RunSingleRig.
	preview node.Hierarchy

	active   map[InstanceID]struct{}
	observer observers[RigEvent]
	frames   uint64
}

// NewRootEvaluator creates a root evaluator with four empty layers sharing
// one trip handler and one set of metric instruments.
func NewRootEvaluator(config Config) *RootEvaluator {
	config = config.withDefaults()
	r := &RootEvaluator{
		config:     config,
		logger:     config.Logger.With(slog.String("component", "root")),
		trips:      trip.NewHandler("root", config.tripPolicy()),
		metrics:    newStackMetrics(config.MeterProvider, config.Logger),
		result:     camera.NewEvaluationResult(),
		mainResult: camera.NewEvaluationResult(),
		active:     make(map[InstanceID]struct{}),
	}
	r.base.init(LayerBase, config, r.trips, r.metrics)
	r.main.init(LayerMain, config, r.trips, r.metrics)
	r.global.init(LayerGlobal, config, r.trips, r.metrics)
	r.visual.init(LayerVisual, config, r.trips, r.metrics)
	for _, s := range r.stacks() {
		s.OnEvent(r.onStackEvent)
	}
	return r
}

// Base returns the base layer.
func (r *RootEvaluator) Base() *PersistentBlendStack { return &r.base }

// Main returns the main layer.
func (r *RootEvaluator) Main() *TransientBlendStack { return &r.main }

// Global returns the global layer.
func (r *RootEvaluator) Global() *PersistentBlendStack { return &r.global }

// Visual returns the visual layer.
func (r *RootEvaluator) Visual() *PersistentBlendStack { return &r.visual }

// Trips returns the trip handler shared by all layers.
func (r *RootEvaluator) Trips() *trip.Handler { return r.trips }

// Frames counts completed Run and RunSingleRig calls.
func (r *RootEvaluator) Frames() uint64 { return r.frames }

func (r *RootEvaluator) stacks() [4]*blendStack {
	return [4]*blendStack{&r.base.blendStack, &r.main.blendStack, &r.global.blendStack, &r.visual.blendStack}
}

func (r *RootEvaluator) stack(l Layer) *blendStack {
	if l > LayerVisual {
		return nil
	}
	return r.stacks()[l]
}

func (r *RootEvaluator) persistent(l Layer) *PersistentBlendStack {
	switch l {
	case LayerBase:
		return &r.base
	case LayerGlobal:
		return &r.global
	case LayerVisual:
		return &r.visual
	default:
		return nil
	}
}

// #region activation

// ActivateParams describes a rig to activate on a layer.
type ActivateParams struct {
	Layer   Layer
	Context evalctx.Weak
	Rig     *rig.Rig
	// StackOrder sorts entries of persistent layers. Ignored on Main.
	StackOrder int
	// Force creates a new instance even if ctx already runs Rig there.
	Force bool
	// Transition overrides the enter transition lookup.
	Transition *blend.Transition
}

// ActivateRig pushes or inserts a rig and returns its instance ID.
func (r *RootEvaluator) ActivateRig(p ActivateParams) InstanceID {
	if p.Layer == LayerMain {
		id := r.main.Push(PushParams{
			Context:    p.Context,
			Rig:        p.Rig,
			ForcePush:  p.Force,
			Transition: p.Transition,
		})
		return MakeInstanceID(LayerMain, id)
	}

	s := r.persistent(p.Layer)
	if s == nil {
		r.fall("activate on unknown layer", trip.Context{"layer": p.Layer.String()})
		return InvalidInstanceID
	}
	id := s.Insert(InsertParams{
		Context:     p.Context,
		Rig:         p.Rig,
		StackOrder:  p.StackOrder,
		ForceInsert: p.Force,
		Transition:  p.Transition,
	})
	return MakeInstanceID(p.Layer, id)
}

// DeactivateParams describes a rig instance to deactivate, either by
// Instance or by Layer, Context and Rig.
type DeactivateParams struct {
	Instance InstanceID
	Layer    Layer
	Context  evalctx.Weak
	Rig      *rig.Rig
	// Transition overrides the exit transition on persistent layers.
	Transition *blend.Transition
	// Immediate pops persistent entries synchronously.
	Immediate bool
}

// DeactivateRig removes a rig instance. On Main the entry is frozen and
// stays until a newer rig fully blends over it; on the other layers it is
// removed. It returns false when nothing matched.
func (r *RootEvaluator) DeactivateRig(p DeactivateParams) bool {
	layer := p.Layer
	var id EntryID
	if p.Instance.IsValid() {
		layer = p.Instance.Layer()
		id = p.Instance.EntryID()
	}

	if layer == LayerMain {
		if id != InvalidEntryID {
			return r.main.Freeze(id)
		}
		return r.main.freezeRig(p.Context, p.Rig)
	}

	s := r.persistent(layer)
	if s == nil {
		return false
	}
	return s.Remove(RemoveParams{
		EntryID:    id,
		Context:    p.Context,
		Rig:        p.Rig,
		Transition: p.Transition,
		Immediate:  p.Immediate,
	})
}

// #endregion

// #region evaluation

// RunParams drives one root frame.
type RunParams struct {
	DeltaTime      float64
	EvaluationType node.EvaluationType
}

// Run evaluates every layer into Result.
func (r *RootEvaluator) Run(p RunParams) {
	start := time.Now()
	sp := StackRunParams{DeltaTime: p.DeltaTime, EvaluationType: p.EvaluationType}

	r.result.Reset()
	r.result.IsValid = true

	r.base.Run(&sp, &r.result)

	r.mainResult.Reset()
	r.main.Run(&sp, &r.mainResult)
	if r.main.Len() > 0 && r.mainResult.IsValid {
		r.result.OverrideAll(&r.mainResult, false)
	}

	r.global.Run(&sp, &r.result)

	switch p.EvaluationType {
	case node.EvaluationIK, node.EvaluationViewRotationPreview:
	default:
		r.visual.Run(&sp, &r.result)
	}

	r.frames++
	r.metrics.frame(p.EvaluationType.String(), time.Since(start))
}

// SingleRigParams selects the instance RunSingleRig previews.
type SingleRigParams struct {
	Instance  InstanceID
	DeltaTime float64
}

// RunSingleRig evaluates Base, then only the given instance, then Global.
// Main and Visual are skipped. The instance's parameters are first updated
// from its last result so the preview starts where the rig left off.
// It returns false when the instance does not exist or is frozen.
func (r *RootEvaluator) RunSingleRig(p SingleRigParams) bool {
	s := r.stack(p.Instance.Layer())
	if s == nil {
		return false
	}
	e := s.find(p.Instance.EntryID())
	if e == nil || e.flags.isFrozen {
		return false
	}

	start := time.Now()
	sp := StackRunParams{DeltaTime: p.DeltaTime, EvaluationType: node.EvaluationSingleRig}

	r.result.Reset()
	r.result.IsValid = true
	r.base.Run(&sp, &r.result)

	// Base may have frozen or popped the target if it lives there.
	if e = s.find(p.Instance.EntryID()); e == nil || e.flags.isFrozen {
		return false
	}

	r.preview.Reset()
	r.preview.AppendTagged(e.tag(), e.root)
	update := &node.UpdateParams{DeltaTime: p.DeltaTime, LastResult: &e.result}
	r.preview.ForEachEvaluatorIn(e.tag(), node.FlagNeedsParameterUpdate, func(ev node.Evaluator) {
		node.UpdateParameters(ev, update, &e.contextResult.Variables)
	})

	s.resolveEntry(e)
	if !e.flags.isFrozen {
		e.flags.isActive = true
		e.result.OverrideAll(&e.contextResult, false)
		s.runEntry(e, &sp)
		r.result.OverrideAll(&e.result, false)
		e.flags.isFirstFrame = false
		e.flags.forceCameraCut = false
		e.contextResult.ResetFrameFlags()
	}
	r.preview.Reset()

	r.global.Run(&sp, &r.result)

	r.frames++
	r.metrics.frame(sp.EvaluationType.String(), time.Since(start))
	return true
}

// Result is the output of the last Run or RunSingleRig. Callers must not
// modify it.
func (r *RootEvaluator) Result() *camera.EvaluationResult { return &r.result }

// #endregion

// #region inspection

// ActiveInfo describes the active rig of the Main layer.
func (r *RootEvaluator) ActiveInfo() EvaluationInfo { return r.main.ActiveInfo() }

// Info describes any instance, or is invalid when it does not exist.
func (r *RootEvaluator) Info(id InstanceID) EvaluationInfo {
	s := r.stack(id.Layer())
	if s == nil {
		return EvaluationInfo{}
	}
	return s.Info(id.EntryID())
}

// HasAnyRunningRig reports whether ctx owns a live entry on any layer.
func (r *RootEvaluator) HasAnyRunningRig(ctx evalctx.Weak) bool {
	for _, s := range r.stacks() {
		if s.HasAnyRunningRig(ctx) {
			return true
		}
	}
	return false
}

// OnRigEvent subscribes to activation changes on every layer. A rig is
// activated when pushed and deactivated once, when it is first frozen or
// popped.
func (r *RootEvaluator) OnRigEvent(listener func(RigEvent)) (cancel func()) {
	return r.observer.add(listener)
}

func (r *RootEvaluator) onStackEvent(ev StackEvent) {
	id := ev.Instance()
	var t RigEventType
	switch ev.Type {
	case EventPushed:
		if _, ok := r.active[id]; ok {
			return
		}
		r.active[id] = struct{}{}
		t = RigActivated
	case EventFrozen, EventPopped:
		if _, ok := r.active[id]; !ok {
			return
		}
		delete(r.active, id)
		t = RigDeactivated
	default:
		return
	}
	r.observer.emit(RigEvent{Type: t, Instance: id, Rig: ev.Rig, Context: ev.Context})
}

// ExecuteOperation offers op to the instance's nodes that support operations
// until one handles it. It returns ErrEntryNotFound for unknown instances.
func (r *RootEvaluator) ExecuteOperation(id InstanceID, op node.Operation) (bool, error) {
	s := r.stack(id.Layer())
	if s == nil {
		return false, fmt.Errorf("execute %s on %s: %w", op.OperationName(), id, ErrEntryNotFound)
	}
	e := s.find(id.EntryID())
	if e == nil {
		return false, fmt.Errorf("execute %s on %s: %w", op.OperationName(), id, ErrEntryNotFound)
	}
	handled := false
	e.hierarchy.ForEachEvaluator(node.FlagSupportsOperations, func(ev node.Evaluator) {
		if !handled {
			handled = node.Execute(ev, op)
		}
	})
	return handled, nil
}

// #endregion

// #region hot reload and save state

// NotifyRigChanged rebuilds every live instance of a rig whose asset changed
// and returns how many were rebuilt.
func (r *RootEvaluator) NotifyRigChanged(changed *rig.Rig) int {
	changed.Measure()
	rebuilt := 0
	for _, s := range r.stacks() {
		rebuilt += s.rebuildRig(changed)
	}
	if rebuilt > 0 {
		r.logger.Info("rig reloaded", slog.String("rig", changed.Name), slog.Int("instances", rebuilt))
	}
	return rebuilt
}

// Serialize saves or restores every layer, in run order.
func (r *RootEvaluator) Serialize(ar *node.Archive) {
	for _, s := range r.stacks() {
		s.serialize(ar)
		if ar.Err() != nil {
			return
		}
	}
}

// SaveState encodes the state needed to resume blending.
func (r *RootEvaluator) SaveState() ([]byte, error) {
	ar := node.NewWriter()
	r.Serialize(ar)
	if err := ar.Err(); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return ar.Bytes(), nil
}

// LoadState restores state produced by SaveState on a root running the same
// rigs.
// A failed load is also recorded as an archive trip.
func (r *RootEvaluator) LoadState(data []byte) error {
	ar := node.NewReader(data)
	r.Serialize(ar)
	err := ar.Err()
	if err == nil {
		if n := ar.Remaining(); n > 0 {
			err = fmt.Errorf("%d trailing bytes: %w", n, node.ErrArchiveMismatch)
		}
	}
	if err != nil {
		r.record(trip.NewTrip(trip.TypeArchive, "save state not applied",
			trip.Context{"bytes": len(data)}).WithCause(err))
		return fmt.Errorf("load state: %w", err)
	}
	return nil
}

// #endregion

func (r *RootEvaluator) record(t *trip.Trip) {
	t.WithFrame(r.frames)
	r.logger.Log(context.Background(), t.Severity.Level(), t.Message, slog.Any("trip", t))
	r.trips.Record(t)
}

func (r *RootEvaluator) fall(message string, ctx trip.Context) {
	r.record(trip.NewFall(trip.TypeContract, message, ctx))
}
