package director

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/rig"
	"github.com/teranos/gimbal/trail"
)

// Operator extends Director with motion trail tracking shots.
//
// Every stack records its active entry into a trail recorder while frames
// run, and CaptureTrackingShot renders the trails so far to a PNG.
type Operator struct {
	*Director
	recorder   *trail.Recorder
	outputDir  string
	frameCount int
	shots      []string
}

// NewOperator creates a director whose evaluator records motion trails.
// Captured frames land in outputDir.
func NewOperator(t testing.TB, rootConfig gimbal.Config, outputDir string) *Operator {
	trailConfig := trail.DefaultConfig()
	trailConfig.OutputDir = outputDir
	recorder := trail.NewRecorder(trailConfig)

	rootConfig.Trail = recorder
	return &Operator{
		Director:  New(t, rootConfig),
		recorder:  recorder,
		outputDir: outputDir,
	}
}

// Recorder returns the trail recorder fed by the evaluator.
func (op *Operator) Recorder() *trail.Recorder { return op.recorder }

// Start wraps the base Start method to return *Operator
func (op *Operator) Start() *Operator {
	op.Director.Start()
	return op
}

// AddContext wraps the base method to return *Operator
func (op *Operator) AddContext(name string) *Operator {
	op.Director.AddContext(name)
	return op
}

// Activate wraps the base method to return *Operator
func (op *Operator) Activate(label string, layer gimbal.Layer, context string, r *rig.Rig) *Operator {
	op.Director.Activate(label, layer, context, r)
	return op
}

// Deactivate wraps the base method to return *Operator
func (op *Operator) Deactivate(label string) *Operator {
	op.Director.Deactivate(label)
	return op
}

// Run wraps the base method to return *Operator
func (op *Operator) Run(frames int) *Operator {
	op.Director.Run(frames)
	return op
}

// WaitForBlend wraps the base method to return *Operator
func (op *Operator) WaitForBlend(label string) *Operator {
	op.Director.WaitForBlend(label)
	return op
}

// CaptureTrackingShot renders every trail recorded so far to a PNG named
// after label.
func (op *Operator) CaptureTrackingShot(label string) *Operator {
	filename := fmt.Sprintf("frame_%03d_%06d_%s.png", op.frameCount, op.frame, label)
	if err := op.recorder.CaptureFrame(filename); err != nil {
		op.recordTrip(newScriptTrip("capture", err.Error(), map[string]any{
			"label":    label,
			"filename": filename,
		}).WithCause(err))
		return op
	}

	op.frameCount++
	op.shots = append(op.shots, filename)
	op.recordAction("tracking_shot", filename)
	return op
}

// RunWithTrackingShot runs frames and captures the result.
func (op *Operator) RunWithTrackingShot(frames int, label string) *Operator {
	op.Run(frames)
	op.CaptureTrackingShot(label)
	return op
}

// ActivateWithTrackingShot activates a rig, waits for it to blend in and
// captures the transition.
func (op *Operator) ActivateWithTrackingShot(label string, layer gimbal.Layer, context string, r *rig.Rig) *Operator {
	op.Activate(label, layer, context, r)
	op.WaitForBlend(label)
	op.CaptureTrackingShot(label)
	return op
}

// Minimap renders the trails as text, one row per line.
func (op *Operator) Minimap(cols, rows int) string {
	return strings.Join(op.recorder.Minimap(cols, rows), "\n")
}

// CaptureCount returns how many tracking shots were written.
func (op *Operator) CaptureCount() int { return op.frameCount }

// AssertMatchesBaseline captures the trails as name.png and compares the shot
// with the approved one in baselineDir. A missing baseline is approved from
// this capture.
func (op *Operator) AssertMatchesBaseline(name, baselineDir string) *Operator {
	if err := op.recorder.CaptureFrame(name + ".png"); err != nil {
		op.recordTrip(newScriptTrip("capture", err.Error(), map[string]any{"label": name}).WithCause(err))
		return op
	}

	supervisor := trail.NewSupervisor(baselineDir, op.outputDir)
	if !supervisor.HasBaseline(name) {
		if err := supervisor.Approve(name); err != nil {
			op.recordTrip(newScriptTrip("baseline", err.Error(), map[string]any{"label": name}).WithCause(err))
			return op
		}
		op.recordAction("baseline", name)
		return op
	}

	diff, err := supervisor.Compare(name)
	if err != nil {
		tripType := "baseline"
		if errors.Is(err, trail.ErrRegression) {
			tripType = "assertion"
		}
		op.recordTrip(newScriptTrip(tripType, err.Error(), map[string]any{
			"label":      name,
			"difference": diff,
		}).WithCause(err))
		return op
	}
	op.recordAction("assertion", fmt.Sprintf("baseline %s matches (%.2f%%)", name, diff*100))
	return op
}

// WriteReport stops the session and writes an HTML report with every
// tracking shot embedded to path.
func (op *Operator) WriteReport(path, title string) (*Result, error) {
	result := op.Stop()
	report := result.Report(title)
	for _, name := range op.shots {
		shot, err := loadShot(filepath.Join(op.outputDir, name))
		if err != nil {
			return result, err
		}
		report.Shots = append(report.Shots, shot)
	}
	return result, WriteReport(path, report)
}
