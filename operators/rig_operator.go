// Package operators provides a live terminal view of a RootEvaluator.
//
// RigOperator is a bubbletea model that advances the evaluator at a fixed
// frame rate and shows every layer's blend stack, the blended pose, a
// top-down minimap of the motion trails and the trip log:
//
//	root := gimbal.NewRootEvaluator(cfg)
//	op := operators.NewRigOperator(root, recorder, operators.DefaultConfig())
//	tea.NewProgram(op, tea.WithAltScreen()).Run()
//
// The model is single-threaded like the evaluator it drives. Do not touch the
// evaluator from other goroutines while the program runs.
package operators

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/trail"
)

// Config configures a RigOperator.
type Config struct {
	// FrameRate sets the tick rate and the delta time of every frame.
	FrameRate float64
	// MinimapCols and MinimapRows size the trail minimap.
	MinimapCols int
	MinimapRows int
	// StartPaused holds the first frame until space is pressed.
	StartPaused bool
}

// DefaultConfig returns 30 frames per second and a 48x12 minimap.
func DefaultConfig() Config {
	return Config{
		FrameRate:   30,
		MinimapCols: 48,
		MinimapRows: 12,
	}
}

// TickMsg advances the evaluator by one frame.
type TickMsg time.Time

// CueFunc runs before every frame with the frame about to be evaluated and
// the evaluated time so far. Scene players hook in here.
type CueFunc func(frame uint64, elapsed float64)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	layerStyle  = lipgloss.NewStyle().Bold(true).Width(8)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	frozenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	tripStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// stackView is what both blend stack kinds expose for display.
type stackView interface {
	Layer() gimbal.Layer
	Entries() []gimbal.EvaluationInfo
	BlendWeight(id gimbal.EntryID) float64
}

// RigOperator is the bubbletea model driving a RootEvaluator.
type RigOperator struct {
	root     *gimbal.RootEvaluator
	recorder *trail.Recorder
	config   Config
	cue      CueFunc

	paused  bool
	elapsed float64

	// Trip log
	viewport viewport.Model
	ready    bool
	width    int
	height   int

	quitting bool
}

// NewRigOperator creates a model over root. recorder may be nil, in which
// case no minimap is drawn.
func NewRigOperator(root *gimbal.RootEvaluator, recorder *trail.Recorder, config Config) *RigOperator {
	if config.FrameRate <= 0 {
		config.FrameRate = DefaultConfig().FrameRate
	}
	return &RigOperator{
		root:     root,
		recorder: recorder,
		config:   config,
		paused:   config.StartPaused,
	}
}

// WithCue installs the per-frame cue hook.
func (m *RigOperator) WithCue(cue CueFunc) *RigOperator {
	m.cue = cue
	return m
}

// Frames returns how many frames the evaluator ran.
func (m *RigOperator) Frames() uint64 { return m.root.Frames() }

// Paused reports whether ticks are ignored.
func (m *RigOperator) Paused() bool { return m.paused }

func (m *RigOperator) frameDuration() time.Duration {
	return time.Duration(float64(time.Second) / m.config.FrameRate)
}

func (m *RigOperator) tick() tea.Cmd {
	return tea.Tick(m.frameDuration(), func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Init implements tea.Model.
func (m *RigOperator) Init() tea.Cmd {
	return m.tick()
}

// Update implements tea.Model.
func (m *RigOperator) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case TickMsg:
		if !m.paused {
			m.step()
		}
		return m, m.tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logHeight := max(msg.Height/4, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, logHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = logHeight
		}
		m.refreshLog()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
		case "n":
			if m.paused {
				m.step()
			}
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// step evaluates one frame.
func (m *RigOperator) step() {
	dt := 1 / m.config.FrameRate
	if m.cue != nil {
		m.cue(m.root.Frames(), m.elapsed)
	}
	m.root.Run(gimbal.RunParams{DeltaTime: dt})
	m.elapsed += dt
	m.refreshLog()
}

func (m *RigOperator) refreshLog() {
	if !m.ready {
		return
	}
	var lines []string
	trips := m.root.Trips()
	for _, t := range trips.GetTrips() {
		lines = append(lines, tripStyle.Render(fmt.Sprintf("%s [%s] %s", t.Severity, t.Type, t.Message)))
	}
	for _, t := range trips.GetStumbles() {
		lines = append(lines, fmt.Sprintf("%s [%s] %s", t.Severity, t.Type, t.Message))
	}
	if len(lines) == 0 {
		lines = append(lines, helpStyle.Render(trips.Summary()))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m *RigOperator) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	status := fmt.Sprintf("gimbal  frame %d  t=%.2fs", m.root.Frames(), m.elapsed)
	if m.paused {
		status += "  [paused]"
	}
	b.WriteString(titleStyle.Render(status))
	b.WriteString("\n\n")

	for _, s := range m.stacks() {
		b.WriteString(m.renderStack(s))
		b.WriteString("\n")
	}

	pose := &m.root.Result().Pose
	b.WriteString(fmt.Sprintf("\nlocation %s  rotation %s  fov %.1f",
		formatVec(pose.Location()), formatVec(pose.Rotation()), pose.FieldOfView()))
	if m.root.Result().IsCameraCut {
		b.WriteString("  " + tripStyle.Render("CUT"))
	}
	b.WriteString("\n")

	if m.recorder != nil {
		minimap := strings.Join(m.recorder.Minimap(m.config.MinimapCols, m.config.MinimapRows), "\n")
		b.WriteString(boxStyle.Render(minimap))
		b.WriteString("\n")
	}

	if m.ready {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("space pause  n step  q quit"))
	return b.String()
}

func (m *RigOperator) stacks() []stackView {
	return []stackView{m.root.Base(), m.root.Main(), m.root.Global(), m.root.Visual()}
}

func (m *RigOperator) renderStack(s stackView) string {
	entries := s.Entries()
	parts := make([]string, 0, len(entries))
	for i, info := range entries {
		label := fmt.Sprintf("%s#%s %3.0f%%", info.Rig, info.EntryID, s.BlendWeight(info.EntryID)*100)
		switch {
		case info.IsFrozen():
			parts = append(parts, frozenStyle.Render(label+" frozen"))
		case i == len(entries)-1:
			parts = append(parts, activeStyle.Render(label))
		default:
			parts = append(parts, label)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, helpStyle.Render("empty"))
	}
	return layerStyle.Render(s.Layer().String()) + strings.Join(parts, " > ")
}

func formatVec(v [3]float64) string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", v[0], v[1], v[2])
}
