package scene

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/rig"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestLoad_OrbitScene tests parsing the sample scene
func TestLoad_OrbitScene(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "orbit.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "orbit-demo", s.Name)
	assert.Equal(t, 30.0, s.FrameRate)
	assert.Equal(t, 5.0, s.Duration())
	assert.Len(t, s.Cues, 8)

	id, ok := s.VariableID("zoom")
	require.True(t, ok)
	assert.EqualValues(t, 2, id)

	rigs := s.BuildRigs()
	require.Len(t, rigs, 3)
	assert.IsType(t, &rig.Sequence{}, rigs["follow"].Root)
	assert.IsType(t, &rig.Offset{}, rigs["shake"].Root)
	assert.Equal(t, "jitter", rigs["shake"].Root.(*rig.Offset).Label)
	require.Len(t, rigs["orbit"].PreBlendedVariables(), 1)
	assert.Equal(t, "yaw_rate", rigs["orbit"].PreBlendedVariables()[0].Name)
}

// TestScene_Table tests the blend lookup built from transitions
func TestScene_Table(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "orbit.yaml"))
	require.NoError(t, err)
	table, err := s.Table()
	require.NoError(t, err)

	rigs := s.BuildRigs()
	assert.Equal(t, blend.Transition{Curve: blend.Linear, Duration: 1}, table.EnterTransition(rigs["follow"], rigs["orbit"]))
	assert.Equal(t, blend.Transition{Curve: blend.Smooth, Duration: 0.5}, table.EnterTransition(nil, rigs["follow"]))
	assert.Equal(t, blend.Transition{Curve: blend.Linear, Duration: 0.25}, table.ExitTransition(rigs["shake"], nil))
}

// TestLoad_Errors tests file level failures
func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	big := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(big, make([]byte, MaxFileSize+1), 0o644))
	_, err = Load(big)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte("name: [unterminated"))
	assert.Error(t, err)
}

// TestParse_Invalid tests scene validation
func TestParse_Invalid(t *testing.T) {
	const base = `
contexts: [{name: player}]
rigs: [{name: follow, nodes: [{type: fixed}]}]
`
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown rig", base + `cues: [{at: 0, activate: {label: a, layer: main, context: player, rig: ghost}}]`},
		{"unknown context", base + `cues: [{at: 0, activate: {label: a, layer: main, context: ghost, rig: follow}}]`},
		{"unknown layer", base + `cues: [{at: 0, activate: {label: a, layer: sky, context: player, rig: follow}}]`},
		{"label before activate", base + `cues: [{at: 0, deactivate: {label: a}}]`},
		{"two actions", base + `cues: [{at: 0, invalidate: player, restore: player}]`},
		{"no action", base + `cues: [{at: 0}]`},
		{"out of order", base + `cues: [{at: 1, invalidate: player}, {at: 0, restore: player}]`},
		{"bad curve", base + `cues: [{at: 0, invalidate: player, transition: {curve: bounce, duration: 1}}]`},
		{"bad move", base + `cues: [{at: 0, move: {context: player, location: [1, 2]}}]`},
		{"unknown set variable", base + `cues: [{at: 0, set: {context: player, variable: zoom, value: 1}}]`},
		{"duplicate context", `contexts: [{name: a}, {name: a}]`},
		{"context location", `contexts: [{name: a, location: [1]}]`},
		{"unknown node type", `rigs: [{name: r, nodes: [{type: crane}]}]`},
		{"rig without nodes", `rigs: [{name: r}]`},
		{"duplicate rig", `rigs: [{name: r, nodes: [{type: fixed}]}, {name: r, nodes: [{type: fixed}]}]`},
		{"node variable", `rigs: [{name: r, nodes: [{type: fov, variable: zoom}]}]`},
		{"set without variable", `rigs: [{name: r, nodes: [{type: set, value: 1}]}]`},
		{"negative duration", `transitions: {enter: {curve: linear, duration: -1}}`},
		{"duplicate variable", `variables: [{name: v}, {name: v}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

// TestPlayer_RunsScene tests cues firing against a root evaluator
func TestPlayer_RunsScene(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "orbit.yaml"))
	require.NoError(t, err)

	cfg := gimbal.DefaultConfig()
	cfg.Logger = quietLogger()
	root := gimbal.NewRootEvaluator(s.RootConfig(cfg))
	p := NewPlayer(s, root, quietLogger())

	dt := 1 / s.FrameRate
	run := func(until float64) {
		for root.Frames() < uint64(until*s.FrameRate+0.5) {
			frame := root.Frames()
			p.Advance(frame, float64(frame)/s.FrameRate)
			root.Run(gimbal.RunParams{DeltaTime: dt})
		}
	}

	run(0.5)
	loc := root.Result().Pose.Location()
	assert.InDelta(t, 0, loc[0], 1e-9)
	assert.InDelta(t, -4, loc[1], 1e-9)
	assert.InDelta(t, 2, loc[2], 1e-9)
	assert.InDelta(t, 70, root.Result().Pose.FieldOfView(), 1e-9)
	assert.True(t, p.Instance("cam").IsValid())

	run(2.2)
	assert.Equal(t, "orbit", root.ActiveInfo().Rig.Name)
	assert.Equal(t, 1, root.Main().Len(), "follow pops once orbit is fully blended")
	assert.Equal(t, 1, root.Global().Len())
	assert.InDelta(t, 50, root.Result().Pose.FieldOfView(), 1e-9)

	run(3.2)
	assert.InDelta(t, 35, root.Result().Pose.FieldOfView(), 1e-9)
	assert.InDelta(t, 2.25, root.Result().Pose.Location()[2], 1e-9, "boom height plus shake")

	run(3.6)
	assert.InDelta(t, 94.5, root.Result().Pose.Rotation()[1], 1e-6, "set to 90 then three frames at 45 deg/s")

	run(4.5)
	assert.Equal(t, 0, root.Global().Len())

	run(5.1)
	assert.True(t, p.Done())
	assert.Equal(t, 0, p.Pending())
	assert.False(t, p.Trips().HasTrips())
	assert.False(t, root.Trips().HasTrips())
}

// TestPlayer_CueFailure tests that a failing cue is recorded and playback continues
func TestPlayer_CueFailure(t *testing.T) {
	s, err := Parse([]byte(`
name: broken
contexts: [{name: player}]
rigs: [{name: follow, nodes: [{type: fixed, location: [1, 0, 0]}]}]
cues:
  - {at: 0, activate: {label: cam, layer: global, context: player, rig: follow}}
  - {at: 0, deactivate: {label: cam, immediate: true}}
  - {at: 0.1, deactivate: {label: cam}}
  - {at: 0.1, set_yaw: {label: cam, degrees: 10}}
  - {at: 0.2, destroy: player}
  - {at: 0.2, destroy: player}
`))
	require.NoError(t, err)

	root := gimbal.NewRootEvaluator(s.RootConfig(gimbal.DefaultConfig()))
	p := NewPlayer(s, root, quietLogger())

	p.Advance(0, 0)
	assert.Equal(t, 0, root.Global().Len())
	p.Advance(1, 0.1)
	p.Advance(2, 0.2)

	assert.True(t, p.Done())
	trips := p.Trips().GetTrips()
	require.Len(t, trips, 3)
	assert.Contains(t, trips[0].Message, "no such instance")
	assert.Contains(t, trips[1].Message, "set yaw on cam")
	assert.Contains(t, trips[2].Message, "already destroyed")
	assert.Equal(t, uint64(2), trips[2].Frame)
}
