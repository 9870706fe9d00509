package trail

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
)

// ErrRegression is returned when a tracking shot drifted from its baseline.
var ErrRegression = errors.New("tracking shot differs from baseline")

// Supervisor compares tracking shots against approved baselines, so that a
// change in blend timing or rig motion shows up as a visual diff.
type Supervisor struct {
	baselineDir string
	currentDir  string
	// Tolerance is the fraction of drawn pixels allowed to differ.
	Tolerance float64
}

// NewSupervisor creates a supervisor reading baselines from baselineDir and
// fresh captures from currentDir.
func NewSupervisor(baselineDir, currentDir string) *Supervisor {
	return &Supervisor{
		baselineDir: baselineDir,
		currentDir:  currentDir,
		Tolerance:   0.05,
	}
}

// HasBaseline reports whether a baseline exists for name.
func (s *Supervisor) HasBaseline(name string) bool {
	_, err := os.Stat(s.baselinePath(name))
	return err == nil
}

// Compare checks the current capture of name against its baseline and
// returns the fraction of drawn pixels that differ. Past the tolerance it writes
// name_diff.png next to the capture and returns ErrRegression.
func (s *Supervisor) Compare(name string) (float64, error) {
	baseline, err := loadImage(s.baselinePath(name))
	if err != nil {
		return 1, fmt.Errorf("load baseline: %w", err)
	}
	current, err := loadImage(s.currentPath(name))
	if err != nil {
		return 1, fmt.Errorf("load capture: %w", err)
	}

	difference := pixelDifference(baseline, current)
	if difference <= s.Tolerance {
		return difference, nil
	}

	diffPath := filepath.Join(s.currentDir, name+"_diff.png")
	if err := writeDiff(baseline, current, diffPath); err != nil {
		return difference, fmt.Errorf("%w: %.2f%% (write diff: %v)", ErrRegression, difference*100, err)
	}
	return difference, fmt.Errorf("%w: %.2f%% of pixels changed, tolerance %.2f%%",
		ErrRegression, difference*100, s.Tolerance*100)
}

// Approve copies the current capture of name over its baseline.
func (s *Supervisor) Approve(name string) error {
	if err := os.MkdirAll(s.baselineDir, 0o755); err != nil {
		return fmt.Errorf("create baseline dir: %w", err)
	}

	input, err := os.Open(s.currentPath(name))
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.Create(s.baselinePath(name))
	if err != nil {
		return err
	}
	defer output.Close()

	_, err = io.Copy(output, input)
	return err
}

func (s *Supervisor) baselinePath(name string) string {
	return filepath.Join(s.baselineDir, name+".png")
}

func (s *Supervisor) currentPath(name string) string {
	return filepath.Join(s.currentDir, name+".png")
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := png.Decode(file)
	return img, err
}

// pixelDifference is the fraction of drawn pixels that differ. A pixel is
// drawn when it differs from the background in either image; the background
// is the baseline's top-left pixel, which lies in the capture margin.
// Images of different size are entirely different.
func pixelDifference(a, b image.Image) float64 {
	bounds := a.Bounds()
	if bounds != b.Bounds() || bounds.Empty() {
		return 1
	}

	background := a.At(bounds.Min.X, bounds.Min.Y)
	drawn, different := 0, 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			ca, cb := a.At(x, y), b.At(x, y)
			if sameColor(ca, background) && sameColor(cb, background) {
				continue
			}
			drawn++
			if !sameColor(ca, cb) {
				different++
			}
		}
	}
	if drawn == 0 {
		return 0
	}
	return float64(different) / float64(drawn)
}

func sameColor(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}

// writeDiff marks changed pixels red over a dimmed copy of the baseline.
func writeDiff(baseline, current image.Image, path string) error {
	bounds := baseline.Bounds()
	diff := image.NewRGBA(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			base := baseline.At(x, y)
			if !sameColor(base, current.At(x, y)) {
				diff.Set(x, y, color.RGBA{R: 255, A: 255})
				continue
			}
			r, g, b, a := base.RGBA()
			diff.Set(x, y, color.RGBA{R: uint8(r >> 9), G: uint8(g >> 9), B: uint8(b >> 9), A: uint8(a >> 8)})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, diff)
}
