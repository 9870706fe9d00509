package blend

import "github.com/teranos/gimbal/rig"

// Lookup picks the transition used when a rig enters or leaves a blend stack.
// from is nil when nothing is blending underneath; to is nil when the stack
// becomes empty.
type Lookup interface {
	EnterTransition(from, to *rig.Rig) Transition
	ExitTransition(from, to *rig.Rig) Transition
}

// Pair names a from/to rig pair. An empty name matches any rig.
type Pair struct {
	From string
	To   string
}

// Table is a Lookup keyed by rig names. Exact pairs win over wildcards,
// and "to" wildcards win over "from" wildcards.
type Table struct {
	Enter        map[Pair]Transition
	Exit         map[Pair]Transition
	DefaultEnter Transition
	DefaultExit  Transition
}

// NewTable returns a table whose defaults are the given transitions.
func NewTable(enter, exit Transition) *Table {
	return &Table{
		Enter:        make(map[Pair]Transition),
		Exit:         make(map[Pair]Transition),
		DefaultEnter: enter,
		DefaultExit:  exit,
	}
}

func (t *Table) SetEnter(from, to string, tr Transition) { t.Enter[Pair{from, to}] = tr }
func (t *Table) SetExit(from, to string, tr Transition)  { t.Exit[Pair{from, to}] = tr }

func (t *Table) EnterTransition(from, to *rig.Rig) Transition {
	return find(t.Enter, from, to, t.DefaultEnter)
}

func (t *Table) ExitTransition(from, to *rig.Rig) Transition {
	return find(t.Exit, from, to, t.DefaultExit)
}

func find(m map[Pair]Transition, from, to *rig.Rig, fallback Transition) Transition {
	f, d := name(from), name(to)
	for _, p := range [...]Pair{{f, d}, {"", d}, {f, ""}} {
		if tr, ok := m[p]; ok {
			return tr
		}
	}
	return fallback
}

func name(r *rig.Rig) string {
	if r == nil {
		return ""
	}
	return r.Name
}

// PopLookup always pops.
type PopLookup struct{}

func (PopLookup) EnterTransition(_, _ *rig.Rig) Transition { return PopTransition() }
func (PopLookup) ExitTransition(_, _ *rig.Rig) Transition  { return PopTransition() }
