package gimbal

import (
	"log/slog"
	"slices"

	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/node"
	"github.com/teranos/gimbal/rig"
	"github.com/teranos/gimbal/trip"
)

// TransientBlendStack evaluates its rigs in isolation and blends their
// results bottom to top. Once an entry reaches full weight, everything below
// it is popped.
type TransientBlendStack struct {
	blendStack
	preBlended camera.VariableTable
}

// NewTransientBlendStack creates a standalone transient stack.
func NewTransientBlendStack(layer Layer, config Config) *TransientBlendStack {
	s := &TransientBlendStack{}
	s.init(layer, config, nil, nil)
	return s
}

// PushParams describes a rig to push.
type PushParams struct {
	Context evalctx.Weak
	Rig     *rig.Rig
	// ForcePush always creates a new top entry.
	ForcePush bool
	// Transition overrides the enter transition lookup.
	Transition *blend.Transition
}

// Push makes a rig the active one and returns its entry ID.
//
// Without ForcePush a context runs at most one instance of a rig: pushing the
// rig that is already on top is a no-op, and pushing one that sits lower in
// the stack moves that entry back to the top and blends it in again.
func (s *TransientBlendStack) Push(p PushParams) EntryID {
	if p.Rig == nil {
		s.fall("push without a rig", trip.Context{"context": p.Context.Name()})
		return InvalidEntryID
	}

	var top *entry
	if n := len(s.entries); n > 0 {
		top = s.entries[n-1]
	}

	if !p.ForcePush {
		if top != nil && !top.flags.isFrozen && top.matches(p.Context, p.Rig) {
			return top.id
		}
		i := slices.IndexFunc(s.entries, func(e *entry) bool {
			return !e.flags.isFrozen && e.matches(p.Context, p.Rig)
		})
		if i >= 0 {
			e := s.entries[i]
			s.entries = append(slices.Delete(s.entries, i, i+1), e)
			e.blend = blend.New(s.enterTransition(p, top))
			e.blendingOut = false
			s.logger.Debug("entry reactivated",
				slog.Uint64("entry_id", uint64(e.id)),
				slog.String("rig", e.rig.Name),
			)
			return e.id
		}
	}

	e := &entry{}
	s.initializeEntry(e, p.Context, p.Rig, s.enterTransition(p, top), true)
	s.entries = append(s.entries, e)
	return e.id
}

func (s *TransientBlendStack) enterTransition(p PushParams, top *entry) blend.Transition {
	if p.Transition != nil {
		return *p.Transition
	}
	var from *rig.Rig
	if top != nil {
		from = top.rig
	}
	return s.config.Transitions.EnterTransition(from, p.Rig)
}

// Freeze stops updating an entry. It keeps blending with its last result
// until something above it reaches full weight.
func (s *TransientBlendStack) Freeze(id EntryID) bool {
	e := s.find(id)
	if e == nil {
		return false
	}
	s.freezeEntry(e)
	return true
}

// FreezeAll freezes every entry owned by ctx and returns how many matched.
func (s *TransientBlendStack) FreezeAll(ctx evalctx.Weak) int {
	frozen := 0
	for _, e := range s.entries {
		if e.context == ctx && !e.flags.isFrozen {
			s.freezeEntry(e)
			frozen++
		}
	}
	return frozen
}

// BlendedParameters exposes this frame's pre-blended parameter values.
func (s *TransientBlendStack) BlendedParameters() camera.VariableReader {
	return &s.preBlended
}

// Run evaluates one frame into result.
func (s *TransientBlendStack) Run(p *StackRunParams, result *camera.EvaluationResult) {
	s.resolveEntries()
	s.preBlendPrepare()
	s.preBlendExecute(p.DeltaTime)
	s.update(p)
	s.postBlendExecute(result)
	s.onRunFinished()
}

// preBlendPrepare gathers each live entry's pre-blended inputs from its
// context, falling back to what it had, then to the rig default.
func (s *TransientBlendStack) preBlendPrepare() {
	for _, e := range s.entries {
		if e.flags.isFrozen {
			continue
		}
		var source *camera.VariableTable
		if ctx, ok := e.context.Pin(); ok && ctx.InitialResult().IsValid {
			source = &ctx.InitialResult().Variables
		}
		for _, def := range e.rig.PreBlendedVariables() {
			e.preBlend.Define(def)
			if source != nil {
				if v, ok := source.Get(def.ID); ok {
					e.preBlend.Set(def.ID, v)
					continue
				}
			}
			e.preBlend.TrySetDefault(def)
		}
	}
}

// preBlendExecute advances every blend and resolves the pre-blended table,
// then writes the blended values back into each live entry's inputs.
func (s *TransientBlendStack) preBlendExecute(dt float64) {
	s.preBlended.Reset()
	for _, e := range s.entries {
		e.advanceBlend(dt)
	}

	start := s.fullyBlendedIndex()
	for i := start; i < len(s.entries); i++ {
		e := s.entries[i]
		if i == start {
			s.preBlended.OverrideAll(&e.preBlend, false)
		} else {
			s.preBlended.LerpAll(&e.preBlend, e.weight())
		}
	}

	for _, e := range s.entries {
		if e.flags.isFrozen {
			continue
		}
		for _, def := range e.rig.PreBlendedVariables() {
			if v, ok := s.preBlended.Get(def.ID); ok {
				e.contextResult.Variables.Set(def.ID, v)
			}
		}
	}
}

// update runs every live entry in isolation on its own inputs.
func (s *TransientBlendStack) update(p *StackRunParams) {
	for _, e := range s.entries {
		if e.flags.isFrozen {
			continue
		}
		e.result.OverrideAll(&e.contextResult, false)
		s.runEntry(e, p)
	}
}

// postBlendExecute blends the entry results from the highest fully blended
// entry upwards and pops everything below it.
func (s *TransientBlendStack) postBlendExecute(result *camera.EvaluationResult) {
	if len(s.entries) == 0 {
		return
	}
	start := s.fullyBlendedIndex()
	result.OverrideAll(&s.entries[start].result, false)
	for _, e := range s.entries[start+1:] {
		result.LerpAll(&e.result, e.weight())
	}
	if start > 0 {
		s.popEntries(start)
	}
}

// fullyBlendedIndex is the highest entry at full weight, or 0.
func (s *TransientBlendStack) fullyBlendedIndex() int {
	for i := len(s.entries) - 1; i > 0; i-- {
		if s.entries[i].blendInFinished {
			return i
		}
	}
	return 0
}

// Serialize saves or restores blend progress and node state.
func (s *TransientBlendStack) Serialize(ar *node.Archive) { s.serialize(ar) }

// freezeRig freezes the live entry running r for ctx.
func (s *TransientBlendStack) freezeRig(ctx evalctx.Weak, r *rig.Rig) bool {
	for _, e := range s.entries {
		if !e.flags.isFrozen && e.matches(ctx, r) {
			s.freezeEntry(e)
			return true
		}
	}
	return false
}
