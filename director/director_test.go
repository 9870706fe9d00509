package director

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/rig"
	"github.com/teranos/gimbal/savestate"
)

func quietRoot() gimbal.Config {
	cfg := gimbal.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func fixed(name string, x float64) *rig.Rig {
	return rig.New(name, &rig.Fixed{Common: rig.Common{Label: name}, Location: f64.Vec3{x, 0, 0}})
}

func boom(name string, yaw float64) *rig.Rig {
	return rig.New(name, &rig.Boom{Common: rig.Common{Label: name}, Length: 5, InitialYaw: yaw})
}

func linear(seconds float64) *blend.Transition {
	return &blend.Transition{Curve: blend.Linear, Duration: seconds}
}

// TestDirector_BlendsBetweenRigs tests a scripted switch between two main rigs
func TestDirector_BlendsBetweenRigs(t *testing.T) {
	d := New(t, quietRoot()).
		Start().
		AddContext("player").
		Activate("follow", gimbal.LayerMain, "player", fixed("follow", 10)).
		Run(1).
		AssertActiveRig("follow").
		AssertLocation(f64.Vec3{10, 0, 0}, 1e-9).
		ActivateWith("aim", "player", gimbal.ActivateParams{
			Layer:      gimbal.LayerMain,
			Rig:        fixed("aim", 20),
			Transition: linear(0.5),
		}).
		Run(15).
		AssertLocation(f64.Vec3{15, 0, 0}, 1e-6).
		AssertStackLen(gimbal.LayerMain, 2).
		WaitForBlend("aim").
		AssertActiveRig("aim").
		AssertLocation(f64.Vec3{20, 0, 0}, 1e-9).
		AssertStackLen(gimbal.LayerMain, 1)

	result := d.Stop()
	assert.True(t, result.Success, result.ErrorMessage)
	assert.Empty(t, result.TripReport)
	assert.GreaterOrEqual(t, result.Frames, uint64(30))
	require.NotEmpty(t, result.Snapshots)
	last := result.Snapshots[len(result.Snapshots)-1]
	assert.Equal(t, "stop", last.Reason)
	assert.Equal(t, "aim", last.ActiveRig)
}

// TestDirector_AssertionFailure tests that a failed assertion fails the session
func TestDirector_AssertionFailure(t *testing.T) {
	result := New(t, quietRoot()).
		Start().
		AddContext("player").
		Activate("follow", gimbal.LayerMain, "player", fixed("follow", 10)).
		Run(1).
		AssertLocation(f64.Vec3{99, 0, 0}, 0.1).
		Run(1).
		Stop()

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "[assertion]")
	assert.Equal(t, uint64(2), result.Frames, "assertion failures do not stop evaluation")
	require.Error(t, result.Error)
}

// TestDirector_DestroyedContextFreezes tests the dead context path through the root
func TestDirector_DestroyedContextFreezes(t *testing.T) {
	d := New(t, quietRoot()).
		Start().
		AddContext("player").
		AddContext("npc").
		Activate("follow", gimbal.LayerMain, "player", fixed("follow", 10)).
		Activate("shake", gimbal.LayerBase, "npc", fixed("shake", 1)).
		Run(2).
		AssertRunning("shake").
		DestroyContext("npc").
		Run(1).
		AssertFrozen("shake").
		AssertRunning("follow")

	result := d.Stop()
	assert.True(t, result.Success, result.ErrorMessage)
	assert.Contains(t, result.TripReport, "context")
	assert.True(t, d.Root().Trips().HasTrips())
}

// TestDirector_InvalidContextCuts tests that a recovering context flags a camera cut
func TestDirector_InvalidContextCuts(t *testing.T) {
	result := New(t, quietRoot()).
		Start().
		AddContext("player").
		Activate("follow", gimbal.LayerMain, "player", fixed("follow", 10)).
		Run(2).
		AssertCameraCut(false).
		InvalidateContext("player").
		Run(2).
		RestoreContext("player").
		Run(1).
		AssertCameraCut(true).
		Run(1).
		AssertCameraCut(false).
		Stop()

	assert.True(t, result.Success, result.ErrorMessage)
}

// TestDirector_Deactivate tests removal and waiting for retirement
func TestDirector_Deactivate(t *testing.T) {
	result := New(t, quietRoot()).
		Start().
		AddContext("player").
		Activate("shake", gimbal.LayerGlobal, "player", fixed("shake", 1)).
		Run(1).
		AssertStackLen(gimbal.LayerGlobal, 1).
		DeactivateWith("shake", gimbal.DeactivateParams{Transition: linear(0.25)}).
		AssertStackLen(gimbal.LayerGlobal, 1).
		WaitForRetired("shake").
		AssertStackLen(gimbal.LayerGlobal, 0).
		Stop()

	assert.True(t, result.Success, result.ErrorMessage)
}

// TestDirector_WaitTimeout tests that waits give up after MaxWaitFrames
func TestDirector_WaitTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Root = quietRoot()
	cfg.MaxWaitFrames = 5

	result := NewWithConfig(t, cfg).
		Start().
		AddContext("player").
		ActivateWith("slow", "player", gimbal.ActivateParams{
			Layer:      gimbal.LayerBase,
			Rig:        fixed("slow", 1),
			Transition: linear(10),
		}).
		WaitForBlend("slow").
		Stop()

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "[timeout]")
	assert.Equal(t, uint64(5), result.Frames)
}

// TestDirector_UnknownNames tests script errors for labels and contexts never added
func TestDirector_UnknownNames(t *testing.T) {
	d := New(t, quietRoot()).
		Start().
		Activate("follow", gimbal.LayerMain, "ghost", fixed("follow", 10))
	assert.True(t, d.HasFailed())

	result := d.Deactivate("follow").Stop()
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "unknown instance label")
	assert.Len(t, d.GetTripHandler().GetTrips(), 2)
}

// TestDirector_Preview tests single rig evaluation while a blend is in flight
func TestDirector_Preview(t *testing.T) {
	result := New(t, quietRoot()).
		Start().
		AddContext("player").
		Activate("aim", gimbal.LayerMain, "player", fixed("aim", 20)).
		Run(1).
		ActivateWith("follow", "player", gimbal.ActivateParams{
			Layer:      gimbal.LayerMain,
			Rig:        fixed("follow", 10),
			Transition: linear(10),
		}).
		Run(1).
		AssertLocation(f64.Vec3{20, 0, 0}, 0.1).
		Preview("follow", 1).
		AssertLocation(f64.Vec3{10, 0, 0}, 1e-9).
		Preview("aim", 1).
		AssertLocation(f64.Vec3{20, 0, 0}, 1e-9).
		AssertStackLen(gimbal.LayerMain, 2).
		Stop()

	assert.True(t, result.Success, result.ErrorMessage)
}

// TestDirector_ExecuteAndRestore tests operations and in-memory save slots
func TestDirector_ExecuteAndRestore(t *testing.T) {
	result := New(t, quietRoot()).
		Start().
		AddContext("player").
		Activate("follow", gimbal.LayerMain, "player", boom("follow", 30)).
		Run(1).
		Save("checkpoint").
		Execute("follow", rig.SetYaw{Degrees: 120}).
		Run(1).
		AssertRotation(f64.Vec3{0, 120, 0}, 1e-9).
		Restore("checkpoint").
		Run(1).
		AssertRotation(f64.Vec3{0, 30, 0}, 1e-9).
		Stop()

	assert.True(t, result.Success, result.ErrorMessage)
}

// TestDirector_StoreBackedSlots tests save slots persisted through SQLite
func TestDirector_StoreBackedSlots(t *testing.T) {
	store, err := savestate.Open(filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := New(t, quietRoot()).
		WithStore(store).
		Start().
		AddContext("player").
		Activate("follow", gimbal.LayerMain, "player", boom("follow", 45)).
		Run(1).
		Save("checkpoint")

	slot, err := store.Get("checkpoint")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), slot.Frame)

	result := d.Restore("missing").Stop()
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, savestate.ErrSlotNotFound)
}

// TestDirector_FrameRate tests fixed delta time configuration
func TestDirector_FrameRate(t *testing.T) {
	d := New(t, quietRoot()).WithFrameRate(30).Start()
	assert.InDelta(t, 1.0/30, d.DeltaTime(), 1e-12)

	d.WithFrameRate(120)
	assert.InDelta(t, 1.0/30, d.DeltaTime(), 1e-12, "frame rate is fixed once started")

	d.AddContext("player").
		Activate("follow", gimbal.LayerMain, "player", fixed("follow", 1)).
		RunFor(1)
	assert.Equal(t, uint64(30), d.Frame())
	assert.Equal(t, uint64(30), d.Root().Frames())
}
