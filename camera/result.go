package camera

import "golang.org/x/image/math/f64"

// ContextDataID identifies an auxiliary context data slot.
type ContextDataID uint32

type contextDataSlot struct {
	id    ContextDataID
	value any
	flags slotFlags
}

// ContextDataTable holds opaque values that travel with a result but are
// never interpolated.
type ContextDataTable struct {
	slots []contextDataSlot
	index map[ContextDataID]int
}

func (t *ContextDataTable) Initialize(capacity int) {
	t.slots = make([]contextDataSlot, 0, capacity)
	t.index = make(map[ContextDataID]int, capacity)
}

func (t *ContextDataTable) Reset() {
	t.slots = t.slots[:0]
	for k := range t.index {
		delete(t.index, k)
	}
}

func (t *ContextDataTable) slot(id ContextDataID) *contextDataSlot {
	if i, ok := t.index[id]; ok {
		return &t.slots[i]
	}
	if t.index == nil {
		t.index = make(map[ContextDataID]int)
	}
	t.index[id] = len(t.slots)
	t.slots = append(t.slots, contextDataSlot{id: id})
	return &t.slots[len(t.slots)-1]
}

func (t *ContextDataTable) Set(id ContextDataID, v any) {
	s := t.slot(id)
	s.value = v
	s.flags |= slotWritten | slotWrittenThisFrame | slotChanged
}

func (t *ContextDataTable) Get(id ContextDataID) (any, bool) {
	i, ok := t.index[id]
	if !ok || t.slots[i].flags&slotWritten == 0 {
		return nil, false
	}
	return t.slots[i].value, true
}

func (t *ContextDataTable) Len() int { return len(t.slots) }

func (t *ContextDataTable) OverrideAll(other *ContextDataTable, changedOnly bool) {
	for i := range other.slots {
		o := &other.slots[i]
		if o.flags&slotWritten == 0 || (changedOnly && o.flags&slotChanged == 0) {
			continue
		}
		t.Set(o.id, o.value)
	}
}

// LerpAll copies slots this table lacks and switches the rest to other's
// value from the half-way point.
func (t *ContextDataTable) LerpAll(other *ContextDataTable, factor float64) {
	for i := range other.slots {
		o := &other.slots[i]
		if o.flags&slotWritten == 0 {
			continue
		}
		if _, ok := t.Get(o.id); !ok || factor >= 0.5 {
			t.Set(o.id, o.value)
		}
	}
}

func (t *ContextDataTable) ResetFrameFlags() {
	for i := range t.slots {
		t.slots[i].flags &^= slotWrittenThisFrame | slotChanged
	}
}

// Joint is one camera joint transform, used by rigs that drive a camera
// boom or chain.
type Joint struct {
	Location f64.Vec3
	Rotation f64.Vec3
}

// PostProcessFlags marks which post-process fields are set.
type PostProcessFlags uint8

const (
	PostProcessFocalDistance PostProcessFlags = 1 << iota
	PostProcessAperture
	PostProcessExposure
	PostProcessVignette
)

// PostProcessSettings is the subset of lens effects rigs may drive.
type PostProcessSettings struct {
	FocalDistance float64
	Aperture      float64
	Exposure      float64
	Vignette      float64
	Set           PostProcessFlags
}

func (p *PostProcessSettings) SetFocalDistance(v float64) {
	p.FocalDistance = v
	p.Set |= PostProcessFocalDistance
}

func (p *PostProcessSettings) SetExposure(v float64) {
	p.Exposure = v
	p.Set |= PostProcessExposure
}

// Lerp blends fields other has set. Fields unset here are copied.
func (p *PostProcessSettings) Lerp(other *PostProcessSettings, factor float64) {
	lerpField := func(flag PostProcessFlags, dst *float64, src float64) {
		if other.Set&flag == 0 {
			return
		}
		if p.Set&flag == 0 {
			*dst = src
		} else {
			*dst = Lerp(*dst, src, factor)
		}
		p.Set |= flag
	}
	lerpField(PostProcessFocalDistance, &p.FocalDistance, other.FocalDistance)
	lerpField(PostProcessAperture, &p.Aperture, other.Aperture)
	lerpField(PostProcessExposure, &p.Exposure, other.Exposure)
	lerpField(PostProcessVignette, &p.Vignette, other.Vignette)
}

// EvaluationResult is everything a rig produces for one frame.
type EvaluationResult struct {
	Pose        Pose
	Variables   VariableTable
	ContextData ContextDataTable
	Joints      []Joint
	PostProcess PostProcessSettings
	IsCameraCut bool
	IsValid     bool
}

// NewEvaluationResult returns a valid result with a default pose.
func NewEvaluationResult() EvaluationResult {
	return EvaluationResult{Pose: NewPose(), IsValid: true}
}

// Reset restores the default pose and empties the tables, keeping capacity.
func (r *EvaluationResult) Reset() {
	r.Pose.Reset()
	r.Variables.Reset()
	r.ContextData.Reset()
	r.Joints = r.Joints[:0]
	r.PostProcess = PostProcessSettings{}
	r.IsCameraCut = false
	r.IsValid = false
}

// OverrideAll replaces this result with other. With changedOnly, only the
// pose fields, variables and context data other flags as changed are taken;
// joints, post-process and the cut/valid bits are always taken.
func (r *EvaluationResult) OverrideAll(other *EvaluationResult, changedOnly bool) {
	if changedOnly {
		r.Pose.OverrideChanged(&other.Pose)
	} else {
		r.Pose.Override(&other.Pose)
	}
	r.Variables.OverrideAll(&other.Variables, changedOnly)
	r.ContextData.OverrideAll(&other.ContextData, changedOnly)
	r.Joints = append(r.Joints[:0], other.Joints...)
	r.PostProcess = other.PostProcess
	r.IsCameraCut = other.IsCameraCut
	r.IsValid = other.IsValid
}

// LerpAll blends other into this result by factor.
func (r *EvaluationResult) LerpAll(other *EvaluationResult, factor float64) {
	factor = Clamp01(factor)
	r.Pose.Lerp(&other.Pose, factor)
	r.Variables.LerpAll(&other.Variables, factor)
	r.ContextData.LerpAll(&other.ContextData, factor)
	if factor >= 0.5 || len(r.Joints) == 0 {
		r.Joints = append(r.Joints[:0], other.Joints...)
	}
	if factor > 0 {
		r.PostProcess.Lerp(&other.PostProcess, factor)
	}
	r.IsCameraCut = r.IsCameraCut || (other.IsCameraCut && factor > 0)
	r.IsValid = r.IsValid && other.IsValid
}

// ResetFrameFlags clears all per-frame change tracking.
func (r *EvaluationResult) ResetFrameFlags() {
	r.Pose.ClearChanged()
	r.Variables.ResetFrameFlags()
	r.ContextData.ResetFrameFlags()
}

// Overlay copies only what other changed: pose fields with changed bits,
// and changed variables and context data. Flags and the other fields stay.
func (r *EvaluationResult) Overlay(other *EvaluationResult) {
	r.Pose.OverrideChanged(&other.Pose)
	r.Variables.OverrideAll(&other.Variables, true)
	r.ContextData.OverrideAll(&other.ContextData, true)
}
