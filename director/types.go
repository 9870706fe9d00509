// Package director scripts camera rig evaluation frame by frame.
//
// A Director owns a RootEvaluator and the evaluation contexts feeding it, and
// exposes a fluent API to activate rigs, advance frames, and assert on the
// blended camera. It runs headlessly with a fixed frame rate, which makes it
// suitable for CI and for reproducing blend bugs deterministically.
//
// Basic usage:
//
//	result := director.New(t, gimbal.DefaultConfig()).
//		Start().
//		AddContext("player").
//		Activate("follow", gimbal.LayerMain, "player", followRig).
//		Run(10).
//		AssertActiveRig("follow").
//		Activate("aim", gimbal.LayerMain, "player", aimRig).
//		WaitForBlend("aim").
//		AssertLocation(f64.Vec3{0, 50, 180}, 0.01).
//		Stop()
//
//	assert.True(t, result.Success)
//
// For visual debugging with motion trail captures:
//
//	director.NewOperator(t, gimbal.DefaultConfig(), "trails/").
//		Start().
//		AddContext("player").
//		Activate("follow", gimbal.LayerMain, "player", followRig).
//		RunWithTrackingShot(120, "orbit").
//		Stop()
package director

import (
	"testing"
	"time"

	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/savestate"
	"github.com/teranos/gimbal/trip"
)

// Director drives a RootEvaluator through a scripted sequence of frames.
//
// Failed assertions and evaluation problems are collected as trips and
// returned in the final Result rather than failing the test immediately.
// Falls, which are programmer errors, are also reported to the test.
type Director struct {
	t    testing.TB
	root *gimbal.RootEvaluator

	// Contexts by name
	contexts *evalctx.Registry
	handles  map[string]evalctx.Weak
	sources  map[string]*evalctx.Basic

	// Rig instances by label
	instances map[string]gimbal.InstanceID

	// Save slots
	saves map[string][]byte
	store *savestate.Store

	// Recording
	actions   []Action
	snapshots []Snapshot

	// Error tracking with trip package
	tripHandler *trip.Handler
	lastTrip    *trip.Trip
	failed      bool
	halted      bool

	config    Config
	started   bool
	frame     uint64
	elapsed   float64
	startTime time.Time
}

// Action records a single scripted step.
type Action struct {
	Timestamp time.Time
	Frame     uint64
	Type      string // "context", "activate", "deactivate", "run", "assertion", "save", ...
	Details   any
}

// Snapshot captures the root result at a specific frame.
//
// Snapshots are taken after every run step when enabled and can be used to
// inspect how a blend evolved when an assertion fails.
type Snapshot struct {
	Frame       uint64
	Time        float64 // seconds of evaluated time
	Reason      string
	Location    f64.Vec3
	Rotation    f64.Vec3
	FieldOfView float64
	ActiveRig   string
	CameraCut   bool
}

// Result contains the outcome of a scripted session.
//
// Example usage:
//
//	result := d.Stop()
//	if !result.Success {
//		t.Logf("Script failed at frame %d: %s", result.Frames, result.ErrorMessage)
//		t.Log(result.TripReport)
//	}
type Result struct {
	Actions      []Action
	Snapshots    []Snapshot
	Success      bool
	Frames       uint64
	Duration     time.Duration // wall time between Start and Stop
	ErrorMessage string
	Error        error
	TripReport   string
}

// Config configures a Director.
//
// Example usage:
//
//	cfg := director.DefaultConfig()
//	cfg.FrameRate = 30
//	cfg.Root.PanicOnFall = true
//
//	d := director.NewWithConfig(t, cfg)
type Config struct {
	// FrameRate sets the fixed delta time of every frame.
	FrameRate float64
	// CaptureSnapshots records a Snapshot after each run step.
	CaptureSnapshots bool
	// MaxWaitFrames bounds WaitForBlend and WaitForRetired.
	MaxWaitFrames int
	// Root configures the evaluator under test.
	Root gimbal.Config
}

// DefaultConfig returns a Config with sensible defaults:
//   - 60 frames per second
//   - snapshots enabled
//   - waits give up after 10 seconds of evaluated time
func DefaultConfig() Config {
	return Config{
		FrameRate:        60,
		CaptureSnapshots: true,
		MaxWaitFrames:    600,
		Root:             gimbal.DefaultConfig(),
	}
}

// New creates a Director over a fresh RootEvaluator built from rootConfig.
func New(t testing.TB, rootConfig gimbal.Config) *Director {
	cfg := DefaultConfig()
	cfg.Root = rootConfig
	return NewWithConfig(t, cfg)
}

// NewWithConfig creates a Director with custom configuration.
func NewWithConfig(t testing.TB, config Config) *Director {
	if config.FrameRate <= 0 {
		config.FrameRate = 60
	}
	if config.MaxWaitFrames <= 0 {
		config.MaxWaitFrames = 600
	}
	return &Director{
		t:           t,
		root:        gimbal.NewRootEvaluator(config.Root),
		contexts:    evalctx.NewRegistry(),
		handles:     make(map[string]evalctx.Weak),
		sources:     make(map[string]*evalctx.Basic),
		instances:   make(map[string]gimbal.InstanceID),
		saves:       make(map[string][]byte),
		tripHandler: trip.NewHandler("director", trip.DefaultPolicy()),
		config:      config,
	}
}

// newScriptTrip creates a trip for script failures.
func newScriptTrip(errorType, message string, context trip.Context) *trip.Trip {
	return trip.NewTrip(errorType, message, context)
}
