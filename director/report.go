package director

import (
	_ "embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/math/f64"
)

//go:embed templates/report.html
var reportTemplate string

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"vec": func(v f64.Vec3) string { return fmt.Sprintf("(%.2f, %.2f, %.2f)", v[0], v[1], v[2]) },
}).Parse(reportTemplate))

// Report is the data rendered into an HTML session report.
type Report struct {
	Title        string
	GeneratedAt  time.Time
	Success      bool
	Frames       uint64
	Duration     time.Duration
	ErrorMessage string
	TripReport   string
	Snapshots    []Snapshot
	Actions      []Action
	Shots        []Shot
}

// Shot is a tracking shot embedded in a report.
type Shot struct {
	Name    string
	DataURL template.URL
}

// Report converts a result into report data. Shots are added by the caller.
func (r *Result) Report(title string) Report {
	return Report{
		Title:        title,
		GeneratedAt:  time.Now(),
		Success:      r.Success,
		Frames:       r.Frames,
		Duration:     r.Duration,
		ErrorMessage: r.ErrorMessage,
		TripReport:   r.TripReport,
		Snapshots:    r.Snapshots,
		Actions:      r.Actions,
	}
}

// WriteReport renders report as a standalone HTML file at path.
func WriteReport(path string, report Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer file.Close()

	if err := reportTmpl.Execute(file, report); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// loadShot reads a PNG tracking shot into a data URL.
func loadShot(path string) (Shot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Shot{}, fmt.Errorf("read tracking shot: %w", err)
	}
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	return Shot{Name: filepath.Base(path), DataURL: template.URL(url)}, nil
}
