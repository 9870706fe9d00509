package director

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/trip"
)

// AssertLocation verifies the blended camera location within tolerance.
func (d *Director) AssertLocation(want f64.Vec3, tolerance float64) *Director {
	got := d.root.Result().Pose.Location()
	for i := range got {
		if math.Abs(got[i]-want[i]) > tolerance {
			d.recordTrip(newScriptTrip("assertion", fmt.Sprintf("expected location %v, got %v", want, got), trip.Context{
				"expected":  want,
				"actual":    got,
				"tolerance": tolerance,
			}).WithFrame(d.frame))
			return d
		}
	}
	d.recordAction("assertion", fmt.Sprintf("location=%v", want))
	return d
}

// AssertRotation verifies the blended camera rotation within tolerance.
func (d *Director) AssertRotation(want f64.Vec3, tolerance float64) *Director {
	got := d.root.Result().Pose.Rotation()
	for i := range got {
		if math.Abs(got[i]-want[i]) > tolerance {
			d.recordTrip(newScriptTrip("assertion", fmt.Sprintf("expected rotation %v, got %v", want, got), trip.Context{
				"expected":  want,
				"actual":    got,
				"tolerance": tolerance,
			}).WithFrame(d.frame))
			return d
		}
	}
	d.recordAction("assertion", fmt.Sprintf("rotation=%v", want))
	return d
}

// AssertFieldOfView verifies the blended field of view within tolerance.
func (d *Director) AssertFieldOfView(want, tolerance float64) *Director {
	got := d.root.Result().Pose.FieldOfView()
	if math.Abs(got-want) > tolerance {
		d.recordTrip(newScriptTrip("assertion", fmt.Sprintf("expected field of view %g, got %g", want, got), trip.Context{
			"expected": want,
			"actual":   got,
		}).WithFrame(d.frame))
		return d
	}
	d.recordAction("assertion", fmt.Sprintf("fov=%g", want))
	return d
}

// AssertActiveRig verifies that the instance called label is on top of the
// main layer.
func (d *Director) AssertActiveRig(label string) *Director {
	want, ok := d.instance(label)
	if !ok {
		return d
	}
	got := d.root.ActiveInfo().Instance()
	if got != want {
		d.recordTrip(newScriptTrip("assertion", "expected active rig "+label+", got "+d.labelOf(got), trip.Context{
			"expected": want.String(),
			"actual":   got.String(),
		}).WithFrame(d.frame))
		return d
	}
	d.recordAction("assertion", "active="+label)
	return d
}

// AssertCameraCut verifies whether the last frame was flagged as a cut.
func (d *Director) AssertCameraCut(want bool) *Director {
	if got := d.root.Result().IsCameraCut; got != want {
		d.recordTrip(newScriptTrip("assertion", fmt.Sprintf("expected camera cut %t, got %t", want, got), trip.Context{
			"expected": want,
			"actual":   got,
		}).WithFrame(d.frame))
		return d
	}
	d.recordAction("assertion", fmt.Sprintf("cut=%t", want))
	return d
}

// AssertStackLen verifies how many entries a layer holds.
func (d *Director) AssertStackLen(layer gimbal.Layer, want int) *Director {
	got := d.stackLen(layer)
	if got != want {
		d.recordTrip(newScriptTrip("assertion", fmt.Sprintf("expected %d entries on %s, got %d", want, layer, got), trip.Context{
			"layer":    layer.String(),
			"expected": want,
			"actual":   got,
		}).WithFrame(d.frame))
		return d
	}
	d.recordAction("assertion", fmt.Sprintf("%s.len=%d", layer, want))
	return d
}

// AssertRunning verifies that the instance called label is still evaluated.
func (d *Director) AssertRunning(label string) *Director {
	id, ok := d.instance(label)
	if !ok {
		return d
	}
	info := d.root.Info(id)
	if !info.IsValid() || info.IsFrozen() {
		d.recordTrip(newScriptTrip("assertion", "expected "+label+" to be running", trip.Context{
			"instance": id.String(),
			"present":  info.IsValid(),
			"frozen":   info.IsFrozen(),
		}).WithFrame(d.frame))
		return d
	}
	d.recordAction("assertion", "running="+label)
	return d
}

// AssertFrozen verifies that the instance called label stopped updating.
func (d *Director) AssertFrozen(label string) *Director {
	id, ok := d.instance(label)
	if !ok {
		return d
	}
	if !d.root.Info(id).IsFrozen() {
		d.recordTrip(newScriptTrip("assertion", "expected "+label+" to be frozen", trip.Context{
			"instance": id.String(),
		}).WithFrame(d.frame))
		return d
	}
	d.recordAction("assertion", "frozen="+label)
	return d
}

// AssertNoRootTrips verifies that the evaluator recorded no errors or falls.
func (d *Director) AssertNoRootTrips() *Director {
	if rootTrips := d.root.Trips(); rootTrips.HasTrips() {
		d.recordTrip(newScriptTrip("assertion", rootTrips.Summary(), trip.Context{
			"trips": len(rootTrips.GetTrips()),
		}).WithFrame(d.frame))
		return d
	}
	d.recordAction("assertion", "no_root_trips")
	return d
}

func (d *Director) stackLen(layer gimbal.Layer) int {
	switch layer {
	case gimbal.LayerBase:
		return d.root.Base().Len()
	case gimbal.LayerMain:
		return d.root.Main().Len()
	case gimbal.LayerGlobal:
		return d.root.Global().Len()
	case gimbal.LayerVisual:
		return d.root.Visual().Len()
	default:
		return 0
	}
}

func (d *Director) labelOf(id gimbal.InstanceID) string {
	for label, known := range d.instances {
		if known == id {
			return label
		}
	}
	if info := d.root.Info(id); info.IsValid() {
		return info.Rig.String()
	}
	return "none"
}

// recordAction records an action performed by the director
func (d *Director) recordAction(actionType string, details any) {
	d.actions = append(d.actions, Action{
		Timestamp: time.Now(),
		Frame:     d.frame,
		Type:      actionType,
		Details:   details,
	})
}

// captureSnapshot records the current root result
func (d *Director) captureSnapshot(reason string) {
	if !d.config.CaptureSnapshots {
		return
	}

	result := d.root.Result()
	snapshot := Snapshot{
		Frame:       d.frame,
		Time:        d.elapsed,
		Reason:      reason,
		Location:    result.Pose.Location(),
		Rotation:    result.Pose.Rotation(),
		FieldOfView: result.Pose.FieldOfView(),
		CameraCut:   result.IsCameraCut,
	}
	if active := d.root.ActiveInfo(); active.IsValid() {
		snapshot.ActiveRig = d.labelOf(active.Instance())
	}

	d.snapshots = append(d.snapshots, snapshot)
}

// recordTrip records a trip using the trip handler and marks the session as
// failed if needed
func (d *Director) recordTrip(t *trip.Trip) {
	d.tripHandler.Record(t)
	d.lastTrip = t

	// Only mark as failed for non-recoverable trips
	if !t.CanRecover() {
		d.failed = true
	}

	if d.t != nil {
		d.t.Helper()
		if t.IsFall() {
			d.t.Error(t)
		} else {
			d.t.Log(t.DetailedString())
		}
	}
}

// handleRunPanic stops the session after a frame raised.
func (d *Director) handleRunPanic(value any) {
	d.halted = true

	cause, _ := value.(error)
	panicTrip := newScriptTrip("panic", fmt.Sprintf("frame %d panicked: %v", d.frame+1, value), trip.Context{
		"panic_value": fmt.Sprintf("%v", value),
		"frame":       d.frame + 1,
	}).WithSeverity(trip.Fall).WithFrame(d.frame + 1)
	if cause != nil {
		panicTrip = panicTrip.WithCause(cause)
	}

	d.captureSnapshot("panic")
	d.recordTrip(panicTrip)
}

// getErrorMessage returns the last error message
func (d *Director) getErrorMessage() string {
	if d.lastTrip != nil {
		return fmt.Sprintf("[%s] %s", strings.ToLower(d.lastTrip.Type), d.lastTrip.Message)
	}
	return ""
}

// HasFailed returns true if the script recorded a non-recoverable trip.
func (d *Director) HasFailed() bool {
	return d.failed || !d.tripHandler.ShouldContinue()
}

// GetError returns the last trip encountered.
func (d *Director) GetError() error {
	if d.lastTrip != nil {
		return d.lastTrip
	}
	return nil
}

// GetTripHandler returns the trip handler for detailed error analysis
func (d *Director) GetTripHandler() *trip.Handler {
	return d.tripHandler
}
