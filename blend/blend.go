// Package blend provides the transitions blend stacks use to bring camera
// rigs in and out, and the lookup policy that picks them.
//
// A Blend is a small value-type state machine advanced by frame time:
//
//	b := blend.New(blend.Transition{Curve: blend.Smooth, Duration: 0.5})
//	for !b.IsFinished() {
//		b.Advance(dt)
//		result.LerpAll(&next, b.Factor())
//	}
package blend

import (
	"fmt"
	"math"

	"github.com/teranos/gimbal/node"
)

// Curve shapes a blend over its duration.
type Curve uint8

const (
	// Pop switches immediately.
	Pop Curve = iota
	// Linear ramps at a constant rate.
	Linear
	// Smooth eases in and out (smoothstep).
	Smooth
	// SmoothOut eases out only.
	SmoothOut
)

func (c Curve) String() string {
	switch c {
	case Pop:
		return "pop"
	case Linear:
		return "linear"
	case Smooth:
		return "smooth"
	case SmoothOut:
		return "smooth-out"
	default:
		return fmt.Sprintf("curve(%d)", uint8(c))
	}
}

// ParseCurve is the inverse of Curve.String.
func ParseCurve(s string) (Curve, error) {
	for c := Pop; c <= SmoothOut; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return Pop, fmt.Errorf("unknown blend curve %q", s)
}

// Transition is an authored blend: a curve and a duration in seconds.
type Transition struct {
	Curve    Curve
	Duration float64
}

// PopTransition is the zero-duration transition.
func PopTransition() Transition { return Transition{Curve: Pop} }

// IsPop reports whether t completes on its first frame.
func (t Transition) IsPop() bool { return t.Curve == Pop || t.Duration <= 0 }

func (t Transition) String() string {
	if t.IsPop() {
		return "pop"
	}
	return fmt.Sprintf("%s %.2fs", t.Curve, t.Duration)
}

// Blend is the running state of a transition.
type Blend struct {
	transition Transition
	elapsed    float64
}

func New(t Transition) Blend { return Blend{transition: t} }

// NewFrom starts t part way, at the elapsed time where its factor equals
// weight. A blend that reverses direction mid-way continues from the weight
// it had instead of jumping back to zero.
func NewFrom(t Transition, weight float64) Blend {
	b := New(t)
	if t.IsPop() || weight <= 0 {
		return b
	}
	if weight >= 1 {
		b.elapsed = t.Duration
		return b
	}

	var progress float64
	switch t.Curve {
	case Smooth:
		progress = 0.5 - math.Sin(math.Asin(1-2*weight)/3)
	case SmoothOut:
		progress = 1 - math.Sqrt(1-weight)
	default:
		progress = weight
	}
	b.elapsed = progress * t.Duration
	return b
}

func (b *Blend) Transition() Transition { return b.transition }

// Advance moves the blend forward by dt seconds.
func (b *Blend) Advance(dt float64) {
	if dt > 0 {
		b.elapsed += dt
	}
}

// Reset restarts the blend from zero.
func (b *Blend) Reset() { b.elapsed = 0 }

// Restart replaces the transition and restarts.
func (b *Blend) Restart(t Transition) { *b = New(t) }

// Progress is the linear completion in [0,1].
func (b *Blend) Progress() float64 {
	if b.transition.IsPop() {
		return 1
	}
	return min(b.elapsed/b.transition.Duration, 1)
}

// Factor is the eased weight in [0,1].
func (b *Blend) Factor() float64 {
	t := b.Progress()
	switch b.transition.Curve {
	case Smooth:
		return t * t * (3 - 2*t)
	case SmoothOut:
		return 1 - (1-t)*(1-t)
	}
	return t
}

func (b *Blend) IsFinished() bool { return b.Progress() >= 1 }

// Serialize round-trips the blend's elapsed time and transition.
func (b *Blend) Serialize(ar *node.Archive) {
	curve := int64(b.transition.Curve)
	ar.Int(&curve)
	ar.Float(&b.transition.Duration)
	ar.Float(&b.elapsed)
	if ar.IsLoading() {
		b.transition.Curve = Curve(curve)
	}
}
