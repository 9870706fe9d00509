package gimbal

import (
	"context"
	"log/slog"
	"slices"

	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/node"
	"github.com/teranos/gimbal/rig"
	"github.com/teranos/gimbal/trip"
)

// blendStack is the entry lifecycle shared by both stack disciplines:
// created, resolved every frame, optionally frozen, popped.
//
// Entries are ordered lowest priority first; the last one is the active one.
type blendStack struct {
	layer    Layer
	config   Config
	logger   *slog.Logger
	trips    *trip.Handler
	metrics  *stackMetrics
	trailer  node.TrailSink
	entries  []*entry
	lastID   EntryID
	frame    uint64
	observer observers[StackEvent]
}

func (s *blendStack) init(layer Layer, config Config, trips *trip.Handler, metrics *stackMetrics) {
	config = config.withDefaults()
	s.layer = layer
	s.config = config
	s.logger = config.Logger.With(slog.String("layer", layer.String()))
	if trips == nil {
		trips = trip.NewHandler(layer.String(), config.tripPolicy())
	}
	s.trips = trips
	if metrics == nil {
		metrics = newStackMetrics(config.MeterProvider, config.Logger)
	}
	s.metrics = metrics
	if config.Trail != nil {
		s.trailer = config.Trail
	}
}

// Layer returns the layer this stack was created for.
func (s *blendStack) Layer() Layer { return s.layer }

// Len is the number of entries, frozen ones included.
func (s *blendStack) Len() int { return len(s.entries) }

// Trips returns the stack's trip handler.
func (s *blendStack) Trips() *trip.Handler { return s.trips }

// OnEvent subscribes to pushed, frozen and popped events.
func (s *blendStack) OnEvent(listener func(StackEvent)) (cancel func()) {
	return s.observer.add(listener)
}

// Entries lists every entry, lowest priority first.
func (s *blendStack) Entries() []EvaluationInfo {
	out := make([]EvaluationInfo, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.info(s.layer)
	}
	return out
}

// ActiveInfo describes the last entry, or is invalid when the stack is empty.
func (s *blendStack) ActiveInfo() EvaluationInfo {
	if len(s.entries) == 0 {
		return EvaluationInfo{}
	}
	return s.entries[len(s.entries)-1].info(s.layer)
}

// Info describes the entry with the given ID, or is invalid.
func (s *blendStack) Info(id EntryID) EvaluationInfo {
	if e := s.find(id); e != nil {
		return e.info(s.layer)
	}
	return EvaluationInfo{}
}

// HasAnyRunningRig reports whether ctx owns a live entry here.
func (s *blendStack) HasAnyRunningRig(ctx evalctx.Weak) bool {
	for _, e := range s.entries {
		if e.context == ctx && !e.flags.isFrozen {
			return true
		}
	}
	return false
}

// IsFrozen reports whether the entry exists and is frozen.
func (s *blendStack) IsFrozen(id EntryID) bool {
	e := s.find(id)
	return e != nil && e.flags.isFrozen
}

// BlendWeight is the entry's current contribution, 0 when unknown.
func (s *blendStack) BlendWeight(id EntryID) float64 {
	if e := s.find(id); e != nil {
		return e.weight()
	}
	return 0
}

func (s *blendStack) find(id EntryID) *entry {
	if i := s.indexOf(id); i >= 0 {
		return s.entries[i]
	}
	return nil
}

func (s *blendStack) indexOf(id EntryID) int {
	if id == InvalidEntryID {
		return -1
	}
	return slices.IndexFunc(s.entries, func(e *entry) bool { return e.id == id })
}

// #region entry lifecycle

// initializeEntry instantiates r for ctx into e. becomesActive says whether
// e is about to be the top entry.
func (s *blendStack) initializeEntry(e *entry, ctx evalctx.Weak, r *rig.Rig, tr blend.Transition, becomesActive bool) {
	s.lastID++
	e.id = s.lastID
	e.context = ctx
	e.rig = r
	e.blend = blend.New(tr)
	e.flags = entryFlags{isFirstFrame: true, logWarnings: true}

	e.contextResult = camera.NewEvaluationResult()
	e.contextResult.Variables.Initialize(r.TableAllocation.Variables)
	e.contextResult.ContextData.Initialize(r.TableAllocation.ContextData)
	e.result = camera.NewEvaluationResult()
	e.result.Variables.Initialize(r.TableAllocation.Variables)
	e.result.ContextData.Initialize(r.TableAllocation.ContextData)

	if c, ok := ctx.Pin(); ok {
		initial := c.InitialResult()
		e.contextResult.OverrideAll(initial, false)
		e.flags.wasContextValidLastFrame = initial.IsValid
		if becomesActive {
			if extra := c.ConditionalResult(evalctx.ActiveRigOnly); extra != nil {
				e.contextResult.Overlay(extra)
			}
		}
	}
	for _, def := range r.Variables {
		if def.Blendable {
			e.contextResult.Variables.TrySetDefault(def)
		}
	}

	s.buildEntryTree(e)
	if s.config.ReloadListener != nil {
		s.config.ReloadListener.Register(r, MakeInstanceID(s.layer, e.id))
	}

	s.metrics.entryPushed(s.layer)
	s.logger.Debug("entry pushed",
		slog.Uint64("entry_id", uint64(e.id)),
		slog.String("rig", r.Name),
		slog.String("context", ctx.Name()),
		slog.String("transition", tr.String()),
	)
	s.emit(EventPushed, e)
}

// buildEntryTree builds and initializes the entry's node tree, registering
// every node into the entry hierarchy under the entry's tag.
func (s *blendStack) buildEntryTree(e *entry) {
	e.root = e.storage.BuildTree(e.rig.Root, &e.rig.EvaluatorAllocation)
	e.hierarchy.Reset()
	e.result.OverrideAll(&e.contextResult, false)
	node.Initialize(e.root, &node.InitializeParams{
		Hierarchy:     &e.hierarchy,
		InitialResult: &e.contextResult,
	}, &e.result)
	e.hierarchy.Tag(e.tag(), node.Range{Start: 0, End: e.hierarchy.Len()})
}

// releaseEntry tears down the entry's live subtree.
func (s *blendStack) releaseEntry(e *entry) {
	if e.flags.isFrozen {
		return
	}
	e.hierarchy.Reset()
	e.storage.DestroyTree(true)
	e.root = nil
	if s.config.ReloadListener != nil {
		s.config.ReloadListener.Unregister(e.rig, MakeInstanceID(s.layer, e.id))
	}
}

// freezeEntry releases the entry's subtree but keeps the entry, and its last
// result, in the stack.
func (s *blendStack) freezeEntry(e *entry) {
	if e.flags.isFrozen {
		return
	}
	s.releaseEntry(e)
	e.flags.isFrozen = true
	s.metrics.entryFrozen(s.layer)
	s.logger.Debug("entry frozen",
		slog.Uint64("entry_id", uint64(e.id)),
		slog.String("rig", e.rig.Name),
	)
	s.emit(EventFrozen, e)
}

// popEntry removes the entry at index i.
func (s *blendStack) popEntry(i int) {
	if i < 0 || i >= len(s.entries) {
		s.fall("pop index out of range", trip.Context{"index": i, "len": len(s.entries)})
		return
	}
	e := s.entries[i]
	s.releaseEntry(e)
	s.entries = slices.Delete(s.entries, i, i+1)
	s.metrics.entryPopped(s.layer)
	s.logger.Debug("entry popped",
		slog.Uint64("entry_id", uint64(e.id)),
		slog.String("rig", e.rig.Name),
	)
	s.emit(EventPopped, e)
}

// popEntries removes every entry below keepFrom, oldest first.
func (s *blendStack) popEntries(keepFrom int) {
	if keepFrom < 0 || keepFrom > len(s.entries) {
		s.fall("pop range out of bounds", trip.Context{"keep_from": keepFrom, "len": len(s.entries)})
		return
	}
	for range keepFrom {
		s.popEntry(0)
	}
}

// #endregion

// #region per-frame

// resolveEntries pins every live entry's context and pulls this frame's
// changed inputs. It runs once per frame before any rig.
func (s *blendStack) resolveEntries() {
	s.frame++
	for _, e := range s.entries {
		e.flags.isActive = false
		if e.flags.isFrozen {
			continue
		}
		s.resolveEntry(e)
	}
	if n := len(s.entries); n > 0 {
		s.entries[n-1].flags.isActive = true
	}
}

func (s *blendStack) resolveEntry(e *entry) {
	ctx, ok := e.context.Pin()
	if !ok {
		if e.flags.logWarnings {
			s.record(trip.NewTrip(trip.TypeContext, "evaluation context destroyed, freezing entry", e.tripContext()))
			e.flags.logWarnings = false
		}
		s.freezeEntry(e)
		return
	}

	initial := ctx.InitialResult()
	if !initial.IsValid {
		if e.flags.logWarnings {
			s.record(trip.NewStumble(trip.TypeContext, "evaluation context snapshot invalid, running on stale data", e.tripContext()))
			e.flags.logWarnings = false
		}
		e.flags.wasContextValidLastFrame = false
		s.metrics.staleSkip(s.layer)
		return
	}

	e.flags.logWarnings = true
	if !e.flags.wasContextValidLastFrame && !e.flags.isFirstFrame {
		e.flags.forceCameraCut = true
	}
	e.flags.wasContextValidLastFrame = true
	e.contextResult.OverrideAll(initial, true)
}

// runEntry runs the entry's tree into its result. Frozen entries keep their
// last result.
func (s *blendStack) runEntry(e *entry, p *StackRunParams) {
	if e.flags.isFrozen {
		return
	}
	node.Run(e.root, e.runParams(p, s.trailer), &e.result)
	if e.flags.forceCameraCut {
		e.result.IsCameraCut = true
	}
}

// onRunFinished clears the one-frame flags after the discipline ran.
func (s *blendStack) onRunFinished() {
	for _, e := range s.entries {
		e.flags.isFirstFrame = false
		e.flags.forceCameraCut = false
		e.contextResult.ResetFrameFlags()
		e.contextResult.IsCameraCut = false
	}
	if s.config.Trail != nil && len(s.entries) > 0 {
		active := s.entries[len(s.entries)-1]
		s.config.Trail.Record(s.layer.String(), active.result.Pose.Location())
	}
}

// #endregion

// #region hot reload

// rebuildRig rebuilds every live entry of r in place, reusing its arena.
// Rebuilt entries snap to full weight instead of blending in again. Frozen
// entries keep their old tree.
func (s *blendStack) rebuildRig(r *rig.Rig) int {
	rebuilt := 0
	for _, e := range s.entries {
		if e.rig != r {
			continue
		}
		if e.flags.isFrozen {
			s.record(trip.NewStumble(trip.TypeReload, "frozen entry not rebuilt", e.tripContext()))
			continue
		}
		if !e.blendInFinished && !e.blend.IsFinished() {
			s.record(trip.NewStumble(trip.TypeReload, "rebuilt entry snapped to full weight", e.tripContext()))
		}
		e.hierarchy.Reset()
		e.storage.DestroyTree(false)
		s.buildEntryTree(e)
		e.blend = blend.New(blend.PopTransition())
		rebuilt++
		s.logger.Info("entry rebuilt",
			slog.Uint64("entry_id", uint64(e.id)),
			slog.String("rig", r.Name),
		)
	}
	return rebuilt
}

// #endregion

// #region save state

// serialize round-trips what is needed to resume blending: per entry its
// frozen bit, blend progress and the state of serializable nodes.
func (s *blendStack) serialize(ar *node.Archive) {
	count := uint32(len(s.entries))
	ar.Uint32(&count)
	if ar.Err() != nil {
		return
	}
	if ar.IsLoading() && int(count) != len(s.entries) {
		s.fall("serialized entry count mismatch", trip.Context{"saved": count, "live": len(s.entries)})
		ar.Fail(ErrEntryCountMismatch)
		return
	}
	for _, e := range s.entries {
		frozen := e.flags.isFrozen
		ar.Bool(&frozen)
		if ar.IsLoading() && frozen != e.flags.isFrozen {
			s.fall("serialized entry frozen state mismatch", e.tripContext())
			ar.Fail(ErrEntryCountMismatch)
			return
		}
		e.blend.Serialize(ar)
		ar.Bool(&e.blendingOut)
		e.outBlend.Serialize(ar)
		e.hierarchy.ForEachEvaluator(node.FlagNeedsSerialize, func(ev node.Evaluator) {
			node.Serialize(ev, ar)
		})
		if ar.Err() != nil {
			return
		}
		if ar.IsLoading() {
			e.blendInFinished = e.blend.IsFinished()
			e.blendOutFinished = e.blendingOut && e.outBlend.IsFinished()
		}
	}
}

// #endregion

// #region reporting

func (s *blendStack) emit(t StackEventType, e *entry) {
	if s.observer.len() == 0 {
		return
	}
	s.observer.emit(StackEvent{
		Type:     t,
		Layer:    s.layer,
		EntryID:  e.id,
		Rig:      e.rig,
		Context:  e.context,
		IsFrozen: e.flags.isFrozen,
	})
}

func (e *entry) tripContext() trip.Context {
	return trip.Context{
		"entry_id": uint32(e.id),
		"rig":      e.rig.Name,
		"context":  e.context.Name(),
	}
}

// record logs t at its severity and hands it to the trip handler, which
// panics on falls under a debug policy.
func (s *blendStack) record(t *trip.Trip) {
	t.WithFrame(s.frame)
	s.logger.Log(context.Background(), t.Severity.Level(), t.Message, slog.Any("trip", t))
	s.trips.Record(t)
}

func (s *blendStack) fall(message string, ctx trip.Context) {
	s.record(trip.NewFall(trip.TypeContract, message, ctx))
}

// #endregion
