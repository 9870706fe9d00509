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

// PersistentBlendStack evaluates its rigs additively: every rig runs on top
// of the blended result of the rigs below it. Entries stay until removed.
type PersistentBlendStack struct {
	blendStack
}

// NewPersistentBlendStack creates a standalone persistent stack.
func NewPersistentBlendStack(layer Layer, config Config) *PersistentBlendStack {
	s := &PersistentBlendStack{}
	s.init(layer, config, nil, nil)
	return s
}

// InsertParams describes a rig to insert.
type InsertParams struct {
	Context evalctx.Weak
	Rig     *rig.Rig
	// StackOrder sorts entries; equal orders go above existing ones.
	StackOrder int
	// ForceInsert always creates a new entry, even when the same rig and
	// context already have one.
	ForceInsert bool
	// Transition overrides the enter transition lookup.
	Transition *blend.Transition
}

// Insert adds a rig and returns its entry ID. Without ForceInsert, inserting
// a rig the context already has returns the existing entry; if that entry was
// blending out, it blends back in from its current weight.
func (s *PersistentBlendStack) Insert(p InsertParams) EntryID {
	if p.Rig == nil {
		s.fall("insert without a rig", trip.Context{"context": p.Context.Name()})
		return InvalidEntryID
	}

	if !p.ForceInsert {
		for i, e := range s.entries {
			if e.flags.isFrozen || !e.matches(p.Context, p.Rig) {
				continue
			}
			if e.blendingOut {
				weight := e.weight()
				e.blendingOut = false
				e.blendOutFinished = false
				e.blend = blend.NewFrom(s.enterTransition(p, i), weight)
				e.blendInFinished = e.blend.IsFinished()
				s.logger.Debug("entry blend-out cancelled", slog.Uint64("entry_id", uint64(e.id)))
			}
			return e.id
		}
	}

	index := slices.IndexFunc(s.entries, func(e *entry) bool { return e.stackOrder > p.StackOrder })
	if index < 0 {
		index = len(s.entries)
	}

	e := &entry{stackOrder: p.StackOrder}
	s.initializeEntry(e, p.Context, p.Rig, s.enterTransition(p, index), index == len(s.entries))
	s.entries = slices.Insert(s.entries, index, e)
	return e.id
}

// enterTransition looks up the blend for entering at index, from the rig
// currently just below it.
func (s *PersistentBlendStack) enterTransition(p InsertParams, index int) blend.Transition {
	if p.Transition != nil {
		return *p.Transition
	}
	var from *rig.Rig
	if index > 0 {
		from = s.entries[index-1].rig
	}
	return s.config.Transitions.EnterTransition(from, p.Rig)
}

// RemoveParams describes an entry to remove, by ID or else by context and rig.
type RemoveParams struct {
	EntryID EntryID
	Context evalctx.Weak
	Rig     *rig.Rig
	// Transition overrides the exit transition lookup.
	Transition *blend.Transition
	// Immediate pops synchronously.
	Immediate bool
}

// Remove starts blending an entry out, or pops it right away when Immediate
// or when the exit transition is a pop. It returns false when nothing matched.
func (s *PersistentBlendStack) Remove(p RemoveParams) bool {
	var i int
	if p.EntryID != InvalidEntryID {
		i = s.indexOf(p.EntryID)
	} else {
		i = slices.IndexFunc(s.entries, func(e *entry) bool { return e.matches(p.Context, p.Rig) })
	}
	if i < 0 {
		return false
	}
	s.removeAt(i, p.Transition, p.Immediate)
	return true
}

func (s *PersistentBlendStack) removeAt(i int, override *blend.Transition, immediate bool) {
	e := s.entries[i]
	var tr blend.Transition
	switch {
	case immediate:
		tr = blend.PopTransition()
	case override != nil:
		tr = *override
	default:
		var to *rig.Rig
		if i > 0 {
			to = s.entries[i-1].rig
		}
		tr = s.config.Transitions.ExitTransition(e.rig, to)
	}

	if tr.IsPop() {
		s.popEntry(i)
		return
	}
	if !e.blendingOut {
		e.blendingOut = true
		e.outBlend = blend.New(tr)
		s.logger.Debug("entry blending out",
			slog.Uint64("entry_id", uint64(e.id)),
			slog.String("transition", tr.String()),
		)
	}
}

// RemoveAll removes every entry owned by ctx and returns how many matched.
func (s *PersistentBlendStack) RemoveAll(ctx evalctx.Weak, immediate bool) int {
	removed := 0
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].context == ctx {
			s.removeAt(i, nil, immediate)
			removed++
		}
	}
	return removed
}

// Run evaluates one frame. result is both the input the bottom rig builds
// on and the blended output.
func (s *PersistentBlendStack) Run(p *StackRunParams, result *camera.EvaluationResult) {
	s.resolveEntries()

	for _, e := range s.entries {
		if !e.flags.isFrozen {
			e.result.OverrideAll(result, false)
			e.result.Variables.OverrideAll(&e.contextResult.Variables, false)
			e.result.ContextData.OverrideAll(&e.contextResult.ContextData, false)
			s.runEntry(e, p)
		}
		e.advanceBlend(p.DeltaTime)
		result.LerpAll(&e.result, e.weight())
	}

	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].blendOutFinished {
			s.popEntry(i)
		}
	}

	s.onRunFinished()
}

// Serialize saves or restores blend progress and node state.
func (s *PersistentBlendStack) Serialize(ar *node.Archive) { s.serialize(ar) }
