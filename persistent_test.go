package gimbal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/rig"
)

// TestPersistentInsert_IDsNeverReused tests that entry IDs keep increasing across removals
func TestPersistentInsert_IDsNeverReused(t *testing.T) {
	_, w := newContexts().add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	a, b := fixedRig("a", 1), fixedRig("b", 2)

	id1 := s.Insert(InsertParams{Context: w, Rig: a})
	id2 := s.Insert(InsertParams{Context: w, Rig: b})
	assert.Equal(t, EntryID(1), id1)
	assert.Equal(t, EntryID(2), id2)

	require.True(t, s.Remove(RemoveParams{EntryID: id2, Immediate: true}))
	id3 := s.Insert(InsertParams{Context: w, Rig: b})
	assert.Equal(t, EntryID(3), id3)
	assert.Equal(t, 2, s.Len())
}

// TestPersistentInsert_StackOrder tests ordering with ties placed above existing entries
func TestPersistentInsert_StackOrder(t *testing.T) {
	_, w := newContexts().add("player")
	s := NewPersistentBlendStack(LayerGlobal, quietConfig())

	s.Insert(InsertParams{Context: w, Rig: fixedRig("a", 1), StackOrder: 10})
	s.Insert(InsertParams{Context: w, Rig: fixedRig("b", 2), StackOrder: 0})
	s.Insert(InsertParams{Context: w, Rig: fixedRig("c", 3), StackOrder: 10})

	var names []string
	for _, info := range s.Entries() {
		names = append(names, info.Rig.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
	assert.Equal(t, "c", s.ActiveInfo().Rig.Name)
}

// TestPersistentInsert_SameRigAndContext tests the already-present short-circuit and ForceInsert
func TestPersistentInsert_SameRigAndContext(t *testing.T) {
	c := newContexts()
	_, player := c.add("player")
	_, npc := c.add("npc")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	r := fixedRig("shake", 1)

	id := s.Insert(InsertParams{Context: player, Rig: r})
	assert.Equal(t, id, s.Insert(InsertParams{Context: player, Rig: r}))
	assert.Equal(t, 1, s.Len())

	forced := s.Insert(InsertParams{Context: player, Rig: r, ForceInsert: true})
	assert.NotEqual(t, id, forced)

	other := s.Insert(InsertParams{Context: npc, Rig: r})
	assert.NotEqual(t, id, other)
	assert.Equal(t, 3, s.Len())
}

// TestPersistentRemove tests removal by ID, by context and rig, and of unknown entries
func TestPersistentRemove(t *testing.T) {
	_, w := newContexts().add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	a, b := fixedRig("a", 1), fixedRig("b", 2)

	s.Insert(InsertParams{Context: w, Rig: a})
	s.Insert(InsertParams{Context: w, Rig: b})

	assert.False(t, s.Remove(RemoveParams{EntryID: 42}))
	assert.True(t, s.Remove(RemoveParams{Context: w, Rig: a}))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.RemoveAll(w, true))
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.ActiveInfo().IsValid())
}

// TestPersistentRun_IsAdditive tests that every rig runs on the result of the rigs below it
func TestPersistentRun_IsAdditive(t *testing.T) {
	_, w := newContexts().add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	s.Insert(InsertParams{Context: w, Rig: fixedRig("anchor", 10)})
	s.Insert(InsertParams{Context: w, Rig: offsetRig("lift", 5), StackOrder: 1})

	result := runPersistent(s, 1.0/60)

	loc := result.Pose.Location()
	assert.InDelta(t, 10, loc[0], 1e-9)
	assert.InDelta(t, 5, loc[2], 1e-9)
}

// TestPersistentRun_BlendsIn tests that a timed enter transition weights the entry
func TestPersistentRun_BlendsIn(t *testing.T) {
	_, w := newContexts().add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	id := s.Insert(InsertParams{Context: w, Rig: fixedRig("a", 10), Transition: linear(1)})

	result := runPersistent(s, 0.25)
	assert.InDelta(t, 2.5, locX(&result), 1e-9)
	assert.InDelta(t, 0.25, s.BlendWeight(id), 1e-9)

	result = runPersistent(s, 1)
	assert.InDelta(t, 10, locX(&result), 1e-9)
}

// TestPersistentRemove_BlendsOutThenPops tests exit transitions
func TestPersistentRemove_BlendsOutThenPops(t *testing.T) {
	_, w := newContexts().add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	id := s.Insert(InsertParams{Context: w, Rig: fixedRig("a", 10)})

	require.True(t, s.Remove(RemoveParams{EntryID: id, Transition: linear(1)}))
	assert.Equal(t, 1, s.Len())

	result := runPersistent(s, 0.5)
	assert.InDelta(t, 5, locX(&result), 1e-9)
	assert.Equal(t, 1, s.Len())

	runPersistent(s, 0.6)
	assert.Equal(t, 0, s.Len())
}

// TestPersistentInsert_CancelsBlendOut tests re-inserting an entry that is leaving
func TestPersistentInsert_CancelsBlendOut(t *testing.T) {
	_, w := newContexts().add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	r := fixedRig("a", 10)
	id := s.Insert(InsertParams{Context: w, Rig: r})

	s.Remove(RemoveParams{EntryID: id, Transition: linear(1)})
	runPersistent(s, 0.5)

	assert.Equal(t, id, s.Insert(InsertParams{Context: w, Rig: r}))
	result := runPersistent(s, 0.6)
	assert.Equal(t, 1, s.Len())
	assert.InDelta(t, 10, locX(&result), 1e-9)
}

// TestPersistentInsert_CancelsBlendOutFromCurrentWeight tests that a re-inserted entry resumes from its weight
func TestPersistentInsert_CancelsBlendOutFromCurrentWeight(t *testing.T) {
	_, w := newContexts().add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	r := fixedRig("a", 10)
	id := s.Insert(InsertParams{Context: w, Rig: r})

	s.Remove(RemoveParams{EntryID: id, Transition: linear(1)})
	result := runPersistent(s, 0.4)
	assert.InDelta(t, 6, locX(&result), 1e-9)

	s.Insert(InsertParams{Context: w, Rig: r, Transition: linear(1)})
	assert.InDelta(t, 0.6, s.BlendWeight(id), 1e-9)

	result = runPersistent(s, 0.1)
	assert.InDelta(t, 7, locX(&result), 1e-9)
	result = runPersistent(s, 0.5)
	assert.InDelta(t, 10, locX(&result), 1e-9)
}

// TestPersistentInsert_ActiveRigOnlyData tests that only an entry inserted on top receives active-rig data
func TestPersistentInsert_ActiveRigOnlyData(t *testing.T) {
	ctx, w := newContexts().add("player")
	extra := camera.NewEvaluationResult()
	extra.Variables.Set(varOffset, camera.FloatValue(3))
	ctx.SetConditionalResult(evalctx.ActiveRigOnly, &extra)

	s := NewPersistentBlendStack(LayerBase, quietConfig())
	top := s.Insert(InsertParams{Context: w, Rig: fixedRig("top", 1), StackOrder: 10})
	below := s.Insert(InsertParams{Context: w, Rig: fixedRig("below", 2), StackOrder: 0})

	runPersistent(s, 1.0/60)

	topEntry, belowEntry := s.find(top), s.find(below)
	require.NotNil(t, topEntry)
	require.NotNil(t, belowEntry)

	v, ok := topEntry.result.Variables.Get(varOffset)
	require.True(t, ok)
	assert.Equal(t, 3.0, v.Float)
	assert.False(t, belowEntry.result.Variables.IsWritten(varOffset))
}

// TestPersistentRemove_ExitTransitionLookup tests that the configured exit lookup is used
func TestPersistentRemove_ExitTransitionLookup(t *testing.T) {
	_, w := newContexts().add("player")
	cfg := quietConfig()
	table := blend.NewTable(blend.PopTransition(), blend.PopTransition())
	table.SetExit("a", "", blend.Transition{Curve: blend.Linear, Duration: 2})
	cfg.Transitions = table
	s := NewPersistentBlendStack(LayerBase, cfg)

	id := s.Insert(InsertParams{Context: w, Rig: fixedRig("a", 10)})
	s.Remove(RemoveParams{EntryID: id})
	runPersistent(s, 1)
	assert.Equal(t, 1, s.Len())
	assert.InDelta(t, 0.5, s.BlendWeight(id), 1e-9)

	runPersistent(s, 1)
	assert.Equal(t, 0, s.Len())
}

// TestPersistentRun_FreezesOnDestroyedContext tests the dead context path
func TestPersistentRun_FreezesOnDestroyedContext(t *testing.T) {
	c := newContexts()
	_, w := c.add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	id := s.Insert(InsertParams{Context: w, Rig: fixedRig("a", 10)})

	var events []StackEvent
	s.OnEvent(func(ev StackEvent) { events = append(events, ev) })

	runPersistent(s, 0.1)
	require.True(t, c.reg.Destroy(w))
	result := runPersistent(s, 0.1)
	runPersistent(s, 0.1)

	assert.True(t, s.IsFrozen(id))
	assert.Nil(t, s.Info(id).Root)
	assert.InDelta(t, 10, locX(&result), 1e-9, "frozen entry keeps its last result")
	assert.False(t, s.HasAnyRunningRig(w))
	require.Len(t, events, 1)
	assert.Equal(t, EventFrozen, events[0].Type)
	assert.True(t, events[0].IsFrozen)
	require.Len(t, s.Trips().GetTrips(), 1)
	assert.Equal(t, "context", s.Trips().GetTrips()[0].Type)
}

// TestPersistentRun_StaleContextCutsOnRecovery tests the invalid snapshot path
func TestPersistentRun_StaleContextCutsOnRecovery(t *testing.T) {
	c := newContexts()
	ctx, w := c.add("player")
	s := NewPersistentBlendStack(LayerBase, quietConfig())
	s.Insert(InsertParams{Context: w, Rig: fixedRig("a", 10)})

	result := runPersistent(s, 0.1)
	assert.False(t, result.IsCameraCut)

	ctx.SetValid(false)
	runPersistent(s, 0.1)
	runPersistent(s, 0.1)
	assert.Len(t, s.Trips().GetStumbles(), 1, "stale warning is logged once")
	assert.True(t, s.HasAnyRunningRig(w))

	ctx.SetValid(true)
	result = runPersistent(s, 0.1)
	assert.True(t, result.IsCameraCut)

	result = runPersistent(s, 0.1)
	assert.False(t, result.IsCameraCut)
}

// TestPersistentStack_ReloadListener tests register and unregister calls
func TestPersistentStack_ReloadListener(t *testing.T) {
	_, w := newContexts().add("player")
	listener := &fakeReloadListener{}
	cfg := quietConfig()
	cfg.ReloadListener = listener
	s := NewPersistentBlendStack(LayerVisual, cfg)
	r := fixedRig("a", 1)

	id := s.Insert(InsertParams{Context: w, Rig: r})
	assert.Equal(t, map[InstanceID]*rig.Rig{MakeInstanceID(LayerVisual, id): r}, listener.registered)

	s.Remove(RemoveParams{EntryID: id, Immediate: true})
	assert.Empty(t, listener.registered)
}

// TestPersistentInsert_NilRigFalls tests that a missing rig is a contract violation
func TestPersistentInsert_NilRigFalls(t *testing.T) {
	_, w := newContexts().add("player")
	cfg := quietConfig()
	s := NewPersistentBlendStack(LayerBase, cfg)
	assert.Equal(t, InvalidEntryID, s.Insert(InsertParams{Context: w}))
	assert.False(t, s.Trips().ShouldContinue())

	cfg.PanicOnFall = true
	debug := NewPersistentBlendStack(LayerBase, cfg)
	assert.Panics(t, func() { debug.Insert(InsertParams{Context: w}) })
}
