// Package trail records camera motion trails for diagnostics and renders
// them as top-down tracking shots.
//
// Blend stacks record the active entry's location every frame, and rig nodes
// may drop labelled markers while they run:
//
//	rec := trail.NewRecorder(trail.DefaultConfig())
//	cfg := gimbal.DefaultConfig()
//	cfg.Trail = rec
//
//	// ... run frames ...
//
//	rec.CaptureFrame("shots/orbit.png")
package trail

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

// ErrEmpty is returned when there is nothing to draw.
var ErrEmpty = errors.New("trail is empty")

// Config defines the look of a tracking shot and how much history is kept.
type Config struct {
	Width      int          // Image width in pixels
	Height     int          // Image height in pixels
	Margin     int          // Border around the plotted area in pixels
	MaxPoints  int          // Points kept per track, oldest dropped first
	MaxMarkers int          // Markers kept, oldest dropped first
	Background color.RGBA   // Background color
	Foreground color.RGBA   // Label color
	Palette    []color.RGBA // Track colors, cycled in track order
	OutputDir  string       // Directory relative capture names resolve to
}

// DefaultConfig returns a 640x480 dark tracking shot keeping ten seconds of
// history at 60 frames per second.
func DefaultConfig() Config {
	return Config{
		Width:      640,
		Height:     480,
		Margin:     24,
		MaxPoints:  600,
		MaxMarkers: 64,
		Background: color.RGBA{R: 16, G: 18, B: 24, A: 255},
		Foreground: color.RGBA{R: 220, G: 220, B: 220, A: 255},
		Palette: []color.RGBA{
			{R: 97, G: 175, B: 239, A: 255},
			{R: 229, G: 192, B: 123, A: 255},
			{R: 152, G: 195, B: 121, A: 255},
			{R: 224, G: 108, B: 117, A: 255},
		},
	}
}

// Track is the recorded polyline of one source, oldest point first.
type Track struct {
	Name   string
	Points []f64.Vec3
}

// Marker is a labelled location dropped by a rig node.
type Marker struct {
	Label    string
	Location f64.Vec3
}

// Recorder accumulates tracks and markers. It is not safe for concurrent use;
// like the blend stacks feeding it, it lives on the evaluation thread.
type Recorder struct {
	config  Config
	tracks  []*Track
	byName  map[string]*Track
	markers []Marker
}

// NewRecorder creates an empty recorder.
func NewRecorder(config Config) *Recorder {
	if config.OutputDir != "" {
		os.MkdirAll(config.OutputDir, 0o755)
	}
	return &Recorder{config: config, byName: make(map[string]*Track)}
}

// Record appends loc to the named track.
func (r *Recorder) Record(track string, loc f64.Vec3) {
	t, ok := r.byName[track]
	if !ok {
		t = &Track{Name: track}
		r.byName[track] = t
		r.tracks = append(r.tracks, t)
	}
	if r.config.MaxPoints > 0 && len(t.Points) >= r.config.MaxPoints {
		copy(t.Points, t.Points[1:])
		t.Points = t.Points[:len(t.Points)-1]
	}
	t.Points = append(t.Points, loc)
}

// AppendLocation drops a labelled marker. Rig nodes call it through
// node.RunParams.Trail.
func (r *Recorder) AppendLocation(label string, loc f64.Vec3) {
	if r.config.MaxMarkers > 0 && len(r.markers) >= r.config.MaxMarkers {
		copy(r.markers, r.markers[1:])
		r.markers = r.markers[:len(r.markers)-1]
	}
	r.markers = append(r.markers, Marker{Label: label, Location: loc})
}

// Tracks returns the tracks in creation order.
func (r *Recorder) Tracks() []Track {
	out := make([]Track, len(r.tracks))
	for i, t := range r.tracks {
		out[i] = Track{Name: t.Name, Points: append([]f64.Vec3(nil), t.Points...)}
	}
	return out
}

func (r *Recorder) Markers() []Marker { return append([]Marker(nil), r.markers...) }

// Last returns the newest point of a track.
func (r *Recorder) Last(track string) (f64.Vec3, bool) {
	t, ok := r.byName[track]
	if !ok || len(t.Points) == 0 {
		return f64.Vec3{}, false
	}
	return t.Points[len(t.Points)-1], true
}

// Reset drops all history.
func (r *Recorder) Reset() {
	r.tracks = r.tracks[:0]
	clear(r.byName)
	r.markers = r.markers[:0]
}

// bounds is the X/Y extent of everything recorded.
type bounds struct {
	minX, minY, maxX, maxY float64
}

func (r *Recorder) bounds() (bounds, bool) {
	b := bounds{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	found := false
	grow := func(p f64.Vec3) {
		b.minX, b.maxX = min(b.minX, p[0]), max(b.maxX, p[0])
		b.minY, b.maxY = min(b.minY, p[1]), max(b.maxY, p[1])
		found = true
	}
	for _, t := range r.tracks {
		for _, p := range t.Points {
			grow(p)
		}
	}
	for _, m := range r.markers {
		grow(m.Location)
	}
	if !found {
		return b, false
	}
	// keep a degenerate extent drawable
	if b.maxX-b.minX < 1 {
		b.minX, b.maxX = b.minX-0.5, b.maxX+0.5
	}
	if b.maxY-b.minY < 1 {
		b.minY, b.maxY = b.minY-0.5, b.maxY+0.5
	}
	return b, true
}

// project maps world X/Y into a w x h grid, Y up.
func (b bounds) project(p f64.Vec3, w, h int) (int, int) {
	scale := min(float64(w-1)/(b.maxX-b.minX), float64(h-1)/(b.maxY-b.minY))
	x := int(math.Round((p[0] - b.minX) * scale))
	y := (h - 1) - int(math.Round((p[1]-b.minY)*scale))
	return x, y
}

// CaptureFrame renders a top-down view of every track and marker to a PNG.
// Relative names resolve against Config.OutputDir.
func (r *Recorder) CaptureFrame(filename string) error {
	b, ok := r.bounds()
	if !ok {
		return ErrEmpty
	}

	width, height, margin := r.config.Width, r.config.Height, r.config.Margin
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Fill background
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, r.config.Background)
		}
	}

	plotW, plotH := width-2*margin, height-2*margin
	at := func(p f64.Vec3) (int, int) {
		x, y := b.project(p, plotW, plotH)
		return x + margin, y + margin
	}

	for i, t := range r.tracks {
		c := r.color(i)
		for j := 1; j < len(t.Points); j++ {
			x0, y0 := at(t.Points[j-1])
			x1, y1 := at(t.Points[j])
			drawLine(img, x0, y0, x1, y1, c)
		}
	}

	// Draw labels
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(r.config.Foreground),
		Face: basicfont.Face7x13,
	}
	label := func(x, y int, text string) {
		drawer.Dot = fixed.Point26_6{
			X: fixed.Int26_6((x + 4) << 6),
			Y: fixed.Int26_6((y - 4) << 6),
		}
		drawer.DrawString(text)
	}

	for _, m := range r.markers {
		x, y := at(m.Location)
		drawCross(img, x, y, r.config.Foreground)
		if m.Label != "" {
			label(x, y, m.Label)
		}
	}
	for i, t := range r.tracks {
		if len(t.Points) == 0 {
			continue
		}
		x, y := at(t.Points[len(t.Points)-1])
		drawCross(img, x, y, r.color(i))
		label(x, y, t.Name)
	}

	if !filepath.IsAbs(filename) && r.config.OutputDir != "" {
		filename = filepath.Join(r.config.OutputDir, filename)
	}

	// Save to file
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create tracking shot: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encode tracking shot: %w", err)
	}
	return nil
}

// Minimap renders the tracks as a cols x rows character grid. Each track is
// drawn with the first letter of its name; the newest point is upper-cased.
func (r *Recorder) Minimap(cols, rows int) []string {
	grid := make([][]rune, rows)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(".", cols))
	}
	b, ok := r.bounds()
	if ok && cols > 0 && rows > 0 {
		for _, t := range r.tracks {
			glyph := []rune(strings.ToLower(t.Name) + "*")[0]
			for j, p := range t.Points {
				x, y := b.project(p, cols, rows)
				if j == len(t.Points)-1 {
					grid[y][x] = []rune(strings.ToUpper(string(glyph)))[0]
				} else if grid[y][x] == '.' {
					grid[y][x] = glyph
				}
			}
		}
	}
	out := make([]string, rows)
	for i, row := range grid {
		out[i] = string(row)
	}
	return out
}

func (r *Recorder) color(i int) color.RGBA {
	if len(r.config.Palette) == 0 {
		return r.config.Foreground
	}
	return r.config.Palette[i%len(r.config.Palette)]
}

// drawLine is Bresenham's line.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		img.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawCross(img *image.RGBA, x, y int, c color.RGBA) {
	for d := -3; d <= 3; d++ {
		img.SetRGBA(x+d, y, c)
		img.SetRGBA(x, y+d, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
