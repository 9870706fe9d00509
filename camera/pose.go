// Package camera holds the per-frame data that flows through a camera rig
// evaluation tree: the camera pose, the variable table, auxiliary context data,
// joints and post-process settings, bundled as an EvaluationResult.
//
// Basic usage:
//
//	var result camera.EvaluationResult
//	result.Pose.SetLocation(f64.Vec3{0, -300, 150})
//	result.Pose.SetFieldOfView(75)
//
//	var blended camera.EvaluationResult
//	blended.OverrideAll(&from, false)
//	blended.LerpAll(&to, 0.25)
package camera

import (
	"math"

	"golang.org/x/image/math/f64"
)

// PoseFlags records which pose fields were changed since the flags were last cleared.
type PoseFlags uint8

const (
	PoseLocation PoseFlags = 1 << iota
	PoseRotation
	PoseFieldOfView
	PoseAspectRatio
	PoseNearClip

	PoseNone PoseFlags = 0
	PoseAll            = PoseLocation | PoseRotation | PoseFieldOfView | PoseAspectRatio | PoseNearClip
)

// Has reports whether every bit of f is set.
func (p PoseFlags) Has(f PoseFlags) bool { return p&f == f }

// Default pose values used by a freshly reset pose.
const (
	DefaultFieldOfView = 90.0
	DefaultAspectRatio = 16.0 / 9.0
	DefaultNearClip    = 10.0
)

// Pose is the camera transform and lens state produced by a rig.
//
// Every setter marks the matching changed bit so that OverrideChanged can
// copy only what moved this frame.
type Pose struct {
	location    f64.Vec3 // world location
	rotation    f64.Vec3 // pitch, yaw, roll in degrees
	fieldOfView float64  // horizontal, degrees
	aspectRatio float64
	nearClip    float64
	changed     PoseFlags
}

// NewPose returns a pose with default lens values and no changed bits.
func NewPose() Pose {
	return Pose{
		fieldOfView: DefaultFieldOfView,
		aspectRatio: DefaultAspectRatio,
		nearClip:    DefaultNearClip,
	}
}

func (p *Pose) Location() f64.Vec3      { return p.location }
func (p *Pose) Rotation() f64.Vec3      { return p.rotation }
func (p *Pose) FieldOfView() float64    { return p.fieldOfView }
func (p *Pose) AspectRatio() float64    { return p.aspectRatio }
func (p *Pose) NearClip() float64       { return p.nearClip }
func (p *Pose) ChangedFlags() PoseFlags { return p.changed }

func (p *Pose) SetLocation(v f64.Vec3) {
	p.location = v
	p.changed |= PoseLocation
}

func (p *Pose) SetRotation(v f64.Vec3) {
	p.rotation = v
	p.changed |= PoseRotation
}

func (p *Pose) SetFieldOfView(v float64) {
	p.fieldOfView = v
	p.changed |= PoseFieldOfView
}

func (p *Pose) SetAspectRatio(v float64) {
	p.aspectRatio = v
	p.changed |= PoseAspectRatio
}

func (p *Pose) SetNearClip(v float64) {
	p.nearClip = v
	p.changed |= PoseNearClip
}

// ClearChanged drops all changed bits without touching values.
func (p *Pose) ClearChanged() { p.changed = PoseNone }

// Reset restores default values and clears changed bits.
func (p *Pose) Reset() { *p = NewPose() }

// Override copies every field of other, including its changed bits.
func (p *Pose) Override(other *Pose) { *p = *other }

// OverrideChanged copies only the fields other marks as changed.
func (p *Pose) OverrideChanged(other *Pose) {
	f := other.changed
	if f.Has(PoseLocation) {
		p.SetLocation(other.location)
	}
	if f.Has(PoseRotation) {
		p.SetRotation(other.rotation)
	}
	if f.Has(PoseFieldOfView) {
		p.SetFieldOfView(other.fieldOfView)
	}
	if f.Has(PoseAspectRatio) {
		p.SetAspectRatio(other.aspectRatio)
	}
	if f.Has(PoseNearClip) {
		p.SetNearClip(other.nearClip)
	}
}

// Lerp interpolates every field towards other. Rotation takes the shortest
// way around on each axis.
func (p *Pose) Lerp(other *Pose, factor float64) {
	if factor <= 0 {
		return
	}
	if factor >= 1 {
		changed := p.changed | other.changed
		*p = *other
		p.changed = changed
		return
	}
	p.SetLocation(LerpVec3(p.location, other.location, factor))
	p.SetRotation(f64.Vec3{
		LerpAngle(p.rotation[0], other.rotation[0], factor),
		LerpAngle(p.rotation[1], other.rotation[1], factor),
		LerpAngle(p.rotation[2], other.rotation[2], factor),
	})
	p.SetFieldOfView(Lerp(p.fieldOfView, other.fieldOfView, factor))
	p.SetAspectRatio(Lerp(p.aspectRatio, other.aspectRatio, factor))
	p.SetNearClip(Lerp(p.nearClip, other.nearClip, factor))
}

// Lerp is the scalar linear interpolation a + (b-a)*t, exact at both ends.
func Lerp(a, b, t float64) float64 {
	if t >= 1 {
		return b
	}
	return a + (b-a)*t
}

// LerpVec3 interpolates each component.
func LerpVec3(a, b f64.Vec3, t float64) f64.Vec3 {
	return f64.Vec3{Lerp(a[0], b[0], t), Lerp(a[1], b[1], t), Lerp(a[2], b[2], t)}
}

// LerpAngle interpolates two angles in degrees along the shortest arc.
func LerpAngle(a, b, t float64) float64 {
	if t >= 1 {
		return b
	}
	d := math.Mod(b-a, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return a + d*t
}

// AddVec3 returns a+b.
func AddVec3(a, b f64.Vec3) f64.Vec3 {
	return f64.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Clamp01 clamps t to [0,1].
func Clamp01(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
