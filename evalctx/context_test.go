package evalctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal/camera"
)

// TestRegistry_PinAndDestroy tests handle resolution across destruction
func TestRegistry_PinAndDestroy(t *testing.T) {
	reg := NewRegistry()
	player := NewBasic("player")
	w := reg.Register(player)

	ctx, ok := w.Pin()
	require.True(t, ok)
	assert.Same(t, player, ctx)
	assert.Equal(t, "player", w.Name())
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Destroy(w))
	_, ok = w.Pin()
	assert.False(t, ok)
	assert.Equal(t, "<destroyed>", w.Name())
	assert.False(t, reg.Destroy(w), "double destroy is refused")
	assert.Equal(t, 0, reg.Len())
}

// TestRegistry_RecycledSlot tests that stale handles never see the new occupant
func TestRegistry_RecycledSlot(t *testing.T) {
	reg := NewRegistry()
	old := reg.Register(NewBasic("old"))
	reg.Destroy(old)

	fresh := reg.Register(NewBasic("fresh"))
	assert.Equal(t, old.index, fresh.index)
	assert.NotEqual(t, old, fresh)

	_, ok := old.Pin()
	assert.False(t, ok)
	ctx, ok := fresh.Pin()
	require.True(t, ok)
	assert.Equal(t, "fresh", ctx.Name())
}

// TestWeak_Zero tests the zero handle
func TestWeak_Zero(t *testing.T) {
	var w Weak
	assert.True(t, w.IsZero())
	_, ok := w.Pin()
	assert.False(t, ok)
}

// TestBasic_Frames tests validity, conditional data and frame flags
func TestBasic_Frames(t *testing.T) {
	b := NewBasic("npc")
	assert.NotEqual(t, b.ID(), NewBasic("npc").ID())
	assert.True(t, b.InitialResult().IsValid)

	b.InitialResult().Pose.SetLocation(f64.Vec3{1, 2, 3})
	assert.True(t, b.InitialResult().Pose.ChangedFlags().Has(camera.PoseLocation))
	b.BeginFrame()
	assert.Equal(t, camera.PoseNone, b.InitialResult().Pose.ChangedFlags())

	b.SetValid(false)
	assert.False(t, b.InitialResult().IsValid)

	assert.Nil(t, b.ConditionalResult(ActiveRigOnly))
	extra := camera.NewEvaluationResult()
	b.SetConditionalResult(ActiveRigOnly, &extra)
	assert.Same(t, &extra, b.ConditionalResult(ActiveRigOnly))
	b.SetConditionalResult(ActiveRigOnly, nil)
	assert.Nil(t, b.ConditionalResult(ActiveRigOnly))
}
