// Package scene loads YAML scene scripts for the rig preview tools.
//
// A scene declares evaluation contexts, a catalogue of rigs built from a
// small set of node types, the blend transitions between them and a list of
// timed cues:
//
//	name: orbit-demo
//	variables:
//	  - name: yaw_rate
//	    default: 0
//	    blendable: true
//	    pre_blended: true
//	contexts:
//	  - name: player
//	    location: [0, 0, 0]
//	    variables: {yaw_rate: 45}
//	rigs:
//	  - name: orbit
//	    variables: [yaw_rate]
//	    nodes:
//	      - {type: boom, length: 8, height: 2, yaw_rate_variable: yaw_rate}
//	transitions:
//	  enter: {curve: smooth, duration: 0.5}
//	cues:
//	  - at: 0
//	    activate: {label: cam, layer: main, context: player, rig: orbit}
//
// A Player fires the cues against a RootEvaluator as evaluated time passes.
package scene

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"golang.org/x/image/math/f64"
	"gopkg.in/yaml.v3"

	"github.com/teranos/gimbal"
	"github.com/teranos/gimbal/blend"
	"github.com/teranos/gimbal/camera"
	"github.com/teranos/gimbal/node"
	"github.com/teranos/gimbal/rig"
)

// MaxFileSize bounds scene files read by Load.
const MaxFileSize = 1024 * 1024

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid scene")

// Scene is a parsed scene script.
type Scene struct {
	Name        string          `yaml:"name"`
	FrameRate   float64         `yaml:"frame_rate,omitempty"`
	Variables   []VariableSpec  `yaml:"variables,omitempty"`
	Contexts    []ContextSpec   `yaml:"contexts"`
	Rigs        []RigSpec       `yaml:"rigs"`
	Transitions TransitionsSpec `yaml:"transitions,omitempty"`
	Cues        []Cue           `yaml:"cues"`

	variableIDs map[string]camera.VariableID
}

// VariableSpec declares a float rig parameter shared by the scene's rigs.
type VariableSpec struct {
	Name       string  `yaml:"name"`
	Default    float64 `yaml:"default"`
	Blendable  bool    `yaml:"blendable,omitempty"`
	PreBlended bool    `yaml:"pre_blended,omitempty"`
}

// ContextSpec declares an evaluation context and its initial snapshot.
type ContextSpec struct {
	Name      string             `yaml:"name"`
	Location  []float64          `yaml:"location,omitempty"`
	Rotation  []float64          `yaml:"rotation,omitempty"`
	Variables map[string]float64 `yaml:"variables,omitempty"`
}

// RigSpec declares a rig. More than one node runs as a sequence.
type RigSpec struct {
	Name      string     `yaml:"name"`
	Variables []string   `yaml:"variables,omitempty"`
	Nodes     []NodeSpec `yaml:"nodes"`
}

// NodeSpec is one rig node. Type selects which fields apply:
// fixed (location, rotation), offset (location, variable), fov (degrees,
// variable), set (variable, value) and boom (length, height, yaw,
// yaw_rate_variable).
type NodeSpec struct {
	Type            string    `yaml:"type"`
	Label           string    `yaml:"label,omitempty"`
	Disabled        bool      `yaml:"disabled,omitempty"`
	Location        []float64 `yaml:"location,omitempty"`
	Rotation        []float64 `yaml:"rotation,omitempty"`
	Degrees         float64   `yaml:"degrees,omitempty"`
	Variable        string    `yaml:"variable,omitempty"`
	Value           float64   `yaml:"value,omitempty"`
	Length          float64   `yaml:"length,omitempty"`
	Height          float64   `yaml:"height,omitempty"`
	Yaw             float64   `yaml:"yaw,omitempty"`
	YawRateVariable string    `yaml:"yaw_rate_variable,omitempty"`
}

// TransitionSpec is an authored blend.
type TransitionSpec struct {
	Curve    string  `yaml:"curve"`
	Duration float64 `yaml:"duration"`
}

// PairSpec overrides the transition between two rigs. An empty side matches
// any rig.
type PairSpec struct {
	TransitionSpec `yaml:",inline"`

	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`
}

// PairsSpec lists the per-pair overrides.
type PairsSpec struct {
	Enter []PairSpec `yaml:"enter,omitempty"`
	Exit  []PairSpec `yaml:"exit,omitempty"`
}

// TransitionsSpec is the scene's blend lookup table.
type TransitionsSpec struct {
	Enter *TransitionSpec `yaml:"enter,omitempty"`
	Exit  *TransitionSpec `yaml:"exit,omitempty"`
	Pairs PairsSpec       `yaml:"pairs,omitempty"`
}

// Cue is one timed scene action. Exactly one action field is set.
type Cue struct {
	At         float64         `yaml:"at"`
	Activate   *ActivateCue    `yaml:"activate,omitempty"`
	Deactivate *DeactivateCue  `yaml:"deactivate,omitempty"`
	Move       *MoveCue        `yaml:"move,omitempty"`
	Set        *SetCue         `yaml:"set,omitempty"`
	Invalidate string          `yaml:"invalidate,omitempty"`
	Restore    string          `yaml:"restore,omitempty"`
	Destroy    string          `yaml:"destroy,omitempty"`
	SetYaw     *SetYawCue      `yaml:"set_yaw,omitempty"`
	Transition *TransitionSpec `yaml:"transition,omitempty"`
}

// ActivateCue activates a catalogue rig for a context under a label.
type ActivateCue struct {
	Label      string `yaml:"label"`
	Layer      string `yaml:"layer"`
	Context    string `yaml:"context"`
	Rig        string `yaml:"rig"`
	StackOrder int    `yaml:"stack_order,omitempty"`
	Force      bool   `yaml:"force,omitempty"`
}

// DeactivateCue removes a labelled instance.
type DeactivateCue struct {
	Label     string `yaml:"label"`
	Immediate bool   `yaml:"immediate,omitempty"`
}

// MoveCue moves a context.
type MoveCue struct {
	Context  string    `yaml:"context"`
	Location []float64 `yaml:"location"`
}

// SetCue writes a scene variable into a context.
type SetCue struct {
	Context  string  `yaml:"context"`
	Variable string  `yaml:"variable"`
	Value    float64 `yaml:"value"`
}

// SetYawCue sends rig.SetYaw to a labelled instance.
type SetYawCue struct {
	Label   string  `yaml:"label"`
	Degrees float64 `yaml:"degrees"`
}

// #region load

// Load reads and parses the scene at path.
func Load(path string) (*Scene, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load scene: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("load scene %s: %d bytes exceeds %d: %w", path, info.Size(), MaxFileSize, ErrInvalid)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scene: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scene.
func Parse(data []byte) (*Scene, error) {
	var s Scene
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling scene: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
}

func (s *Scene) validate() error {
	s.variableIDs = make(map[string]camera.VariableID, len(s.Variables))
	for i, v := range s.Variables {
		if v.Name == "" {
			return invalid("variable at index %d has empty name", i)
		}
		if _, dup := s.variableIDs[v.Name]; dup {
			return invalid("duplicate variable %q", v.Name)
		}
		s.variableIDs[v.Name] = camera.VariableID(i + 1)
	}

	contexts := make(map[string]bool, len(s.Contexts))
	for i, c := range s.Contexts {
		if c.Name == "" {
			return invalid("context at index %d has empty name", i)
		}
		if contexts[c.Name] {
			return invalid("duplicate context %q", c.Name)
		}
		contexts[c.Name] = true
		if _, err := vec3(c.Location); err != nil {
			return invalid("context %s location: %v", c.Name, err)
		}
		if _, err := vec3(c.Rotation); err != nil {
			return invalid("context %s rotation: %v", c.Name, err)
		}
		for name := range c.Variables {
			if _, ok := s.variableIDs[name]; !ok {
				return invalid("context %s sets unknown variable %q", c.Name, name)
			}
		}
	}

	rigs := make(map[string]bool, len(s.Rigs))
	for i, r := range s.Rigs {
		if r.Name == "" {
			return invalid("rig at index %d has empty name", i)
		}
		if rigs[r.Name] {
			return invalid("duplicate rig %q", r.Name)
		}
		rigs[r.Name] = true
		if len(r.Nodes) == 0 {
			return invalid("rig %s has no nodes", r.Name)
		}
		for _, name := range r.Variables {
			if _, ok := s.variableIDs[name]; !ok {
				return invalid("rig %s declares unknown variable %q", r.Name, name)
			}
		}
		for j, n := range r.Nodes {
			if _, err := s.buildNode(n); err != nil {
				return invalid("rig %s node %d: %v", r.Name, j, err)
			}
		}
	}

	if _, err := s.Table(); err != nil {
		return err
	}

	labels := make(map[string]bool)
	for i, c := range s.Cues {
		if i > 0 && c.At < s.Cues[i-1].At {
			return invalid("cue %d at %gs is before the previous cue", i, c.At)
		}
		if err := s.validateCue(c, contexts, rigs, labels); err != nil {
			return invalid("cue %d at %gs: %v", i, c.At, err)
		}
	}
	return nil
}

func (s *Scene) validateCue(c Cue, contexts, rigs, labels map[string]bool) error {
	actions := 0
	count := func(set bool) {
		if set {
			actions++
		}
	}
	count(c.Activate != nil)
	count(c.Deactivate != nil)
	count(c.Move != nil)
	count(c.Set != nil)
	count(c.Invalidate != "")
	count(c.Restore != "")
	count(c.Destroy != "")
	count(c.SetYaw != nil)
	if actions != 1 {
		return fmt.Errorf("expected exactly one action, got %d", actions)
	}
	if c.Transition != nil {
		if _, err := c.Transition.transition(); err != nil {
			return err
		}
	}

	context := func(name string) error {
		if !contexts[name] {
			return fmt.Errorf("unknown context %q", name)
		}
		return nil
	}
	label := func(name string) error {
		if !labels[name] {
			return fmt.Errorf("unknown label %q", name)
		}
		return nil
	}

	switch {
	case c.Activate != nil:
		a := c.Activate
		if a.Label == "" {
			return errors.New("activate without a label")
		}
		if _, err := gimbal.ParseLayer(a.Layer); err != nil {
			return err
		}
		if !rigs[a.Rig] {
			return fmt.Errorf("unknown rig %q", a.Rig)
		}
		labels[a.Label] = true
		return context(a.Context)
	case c.Deactivate != nil:
		return label(c.Deactivate.Label)
	case c.SetYaw != nil:
		return label(c.SetYaw.Label)
	case c.Move != nil:
		if len(c.Move.Location) != 3 {
			return errors.New("move location needs 3 components")
		}
		return context(c.Move.Context)
	case c.Set != nil:
		if _, ok := s.variableIDs[c.Set.Variable]; !ok {
			return fmt.Errorf("unknown variable %q", c.Set.Variable)
		}
		return context(c.Set.Context)
	case c.Invalidate != "":
		return context(c.Invalidate)
	case c.Restore != "":
		return context(c.Restore)
	default:
		return context(c.Destroy)
	}
}

// #endregion load

// #region build

// Duration is the time of the last cue in seconds.
func (s *Scene) Duration() float64 {
	if len(s.Cues) == 0 {
		return 0
	}
	return s.Cues[len(s.Cues)-1].At
}

// VariableID returns the ID a scene variable is assigned.
func (s *Scene) VariableID(name string) (camera.VariableID, bool) {
	id, ok := s.variableIDs[name]
	return id, ok
}

// Table builds the scene's blend lookup.
func (s *Scene) Table() (*blend.Table, error) {
	enter, exit := blend.PopTransition(), blend.PopTransition()
	var err error
	if s.Transitions.Enter != nil {
		if enter, err = s.Transitions.Enter.transition(); err != nil {
			return nil, invalid("enter transition: %v", err)
		}
	}
	if s.Transitions.Exit != nil {
		if exit, err = s.Transitions.Exit.transition(); err != nil {
			return nil, invalid("exit transition: %v", err)
		}
	}
	table := blend.NewTable(enter, exit)
	for _, p := range s.Transitions.Pairs.Enter {
		tr, err := p.transition()
		if err != nil {
			return nil, invalid("enter %s->%s: %v", p.From, p.To, err)
		}
		table.SetEnter(p.From, p.To, tr)
	}
	for _, p := range s.Transitions.Pairs.Exit {
		tr, err := p.transition()
		if err != nil {
			return nil, invalid("exit %s->%s: %v", p.From, p.To, err)
		}
		table.SetExit(p.From, p.To, tr)
	}
	return table, nil
}

func (t TransitionSpec) transition() (blend.Transition, error) {
	curve, err := blend.ParseCurve(t.Curve)
	if err != nil {
		return blend.Transition{}, err
	}
	if t.Duration < 0 {
		return blend.Transition{}, fmt.Errorf("negative duration %g", t.Duration)
	}
	return blend.Transition{Curve: curve, Duration: t.Duration}, nil
}

// BuildRigs builds the rig catalogue keyed by name.
func (s *Scene) BuildRigs() map[string]*rig.Rig {
	out := make(map[string]*rig.Rig, len(s.Rigs))
	for _, spec := range s.Rigs {
		out[spec.Name] = s.buildRig(spec)
	}
	return out
}

func (s *Scene) buildRig(spec RigSpec) *rig.Rig {
	nodes := make([]node.Definition, 0, len(spec.Nodes))
	for _, n := range spec.Nodes {
		def, _ := s.buildNode(n)
		nodes = append(nodes, def)
	}

	root := nodes[0]
	if len(nodes) > 1 {
		root = &rig.Sequence{Common: rig.Common{Label: spec.Name}, Nodes: nodes}
	}
	r := rig.New(spec.Name, root)

	for _, name := range spec.Variables {
		i := slices.IndexFunc(s.Variables, func(v VariableSpec) bool { return v.Name == name })
		v := s.Variables[i]
		r.DefineVariable(camera.VariableDefinition{
			ID:         s.variableIDs[name],
			Name:       name,
			Default:    camera.FloatValue(v.Default),
			Blendable:  v.Blendable,
			PreBlended: v.PreBlended,
		})
	}
	return r
}

func (s *Scene) buildNode(n NodeSpec) (node.Definition, error) {
	common := rig.Common{Label: n.Label, Disabled: n.Disabled}
	if common.Label == "" {
		common.Label = n.Type
	}

	variable := func(name string) (camera.VariableID, error) {
		if name == "" {
			return 0, nil
		}
		id, ok := s.variableIDs[name]
		if !ok {
			return 0, fmt.Errorf("unknown variable %q", name)
		}
		return id, nil
	}

	location, err := vec3(n.Location)
	if err != nil {
		return nil, fmt.Errorf("location: %w", err)
	}
	rotation, err := vec3(n.Rotation)
	if err != nil {
		return nil, fmt.Errorf("rotation: %w", err)
	}

	switch n.Type {
	case "fixed":
		return &rig.Fixed{Common: common, Location: location, Rotation: rotation}, nil
	case "offset":
		id, err := variable(n.Variable)
		if err != nil {
			return nil, err
		}
		return &rig.Offset{Common: common, Location: location, Variable: id}, nil
	case "fov":
		id, err := variable(n.Variable)
		if err != nil {
			return nil, err
		}
		return &rig.FieldOfView{Common: common, Degrees: n.Degrees, Variable: id}, nil
	case "set":
		id, err := variable(n.Variable)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, errors.New("set node without a variable")
		}
		return &rig.SetVariable{Common: common, ID: id, Value: camera.FloatValue(n.Value)}, nil
	case "boom":
		id, err := variable(n.YawRateVariable)
		if err != nil {
			return nil, err
		}
		return &rig.Boom{Common: common, Length: n.Length, Height: n.Height, InitialYaw: n.Yaw, YawRateVariable: id}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}
}

func vec3(v []float64) (f64.Vec3, error) {
	switch len(v) {
	case 0:
		return f64.Vec3{}, nil
	case 3:
		return f64.Vec3{v[0], v[1], v[2]}, nil
	default:
		return f64.Vec3{}, fmt.Errorf("expected 3 components, got %d", len(v))
	}
}

// #endregion build
