package gimbal

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/rig"
	"github.com/teranos/gimbal/trail"
	"github.com/teranos/gimbal/trip"
)

// ReloadListener is told which rigs have live entries so it can watch their
// assets and call RootEvaluator.NotifyRigChanged when one is edited.
type ReloadListener interface {
	Register(r *rig.Rig, instance InstanceID)
	Unregister(r *rig.Rig, instance InstanceID)
}

// Config configures blend stacks and the root evaluator.
//
// Example usage:
//
//	cfg := gimbal.DefaultConfig()
//	cfg.Transitions = blend.NewTable(
//		blend.Transition{Curve: blend.Smooth, Duration: 0.4},
//		blend.Transition{Curve: blend.Linear, Duration: 0.2},
//	)
//	cfg.PanicOnFall = testing.Testing()
//
//	root := gimbal.NewRootEvaluator(cfg)
type Config struct {
	// Logger receives entry lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
	// Transitions picks enter and exit blends. Defaults to always popping.
	Transitions blend.Lookup
	// ReloadListener is optional.
	ReloadListener ReloadListener
	// Trail, when set, records the active entry of every stack each frame
	// and is handed to rig nodes as their debug trail.
	Trail *trail.Recorder
	// PanicOnFall raises contract violations instead of only recording them.
	PanicOnFall bool
	// TripPolicy overrides the trip handling policy.
	TripPolicy *trip.Policy
	// MeterProvider defaults to the global otel provider.
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns a Config with sensible defaults:
//   - slog.Default() logging
//   - pop transitions
//   - falls recorded, not raised
func DefaultConfig() Config {
	return Config{
		Logger:      slog.Default(),
		Transitions: blend.PopLookup{},
	}
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Transitions == nil {
		c.Transitions = blend.PopLookup{}
	}
	return c
}

func (c Config) tripPolicy() *trip.Policy {
	policy := trip.DefaultPolicy()
	if c.TripPolicy != nil {
		p := *c.TripPolicy
		policy = &p
	}
	policy.PanicOnFall = policy.PanicOnFall || c.PanicOnFall
	return policy
}
