package blend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/gimbal/node"
	"github.com/teranos/gimbal/rig"
)

// TestBlend_Curves tests factor shapes over a one second transition
func TestBlend_Curves(t *testing.T) {
	cases := []struct {
		curve Curve
		want  float64
	}{
		{Linear, 0.25},
		{Smooth, 0.15625},
		{SmoothOut, 0.4375},
	}
	for _, tc := range cases {
		t.Run(tc.curve.String(), func(t *testing.T) {
			b := New(Transition{Curve: tc.curve, Duration: 1})
			assert.Equal(t, 0.0, b.Factor())
			b.Advance(0.25)
			assert.InDelta(t, tc.want, b.Factor(), 1e-9)
			assert.False(t, b.IsFinished())
			b.Advance(1)
			assert.Equal(t, 1.0, b.Factor())
			assert.True(t, b.IsFinished())
		})
	}
}

// TestBlend_NewFrom tests starting a blend at a given weight on every curve
func TestBlend_NewFrom(t *testing.T) {
	for _, curve := range []Curve{Linear, Smooth, SmoothOut} {
		t.Run(curve.String(), func(t *testing.T) {
			for _, weight := range []float64{0.1, 0.5, 0.9} {
				b := NewFrom(Transition{Curve: curve, Duration: 2}, weight)
				assert.InDelta(t, weight, b.Factor(), 1e-9)
				assert.False(t, b.IsFinished())
			}

			full := NewFrom(Transition{Curve: curve, Duration: 2}, 1.5)
			assert.True(t, full.IsFinished())
			empty := NewFrom(Transition{Curve: curve, Duration: 2}, -1)
			assert.Zero(t, empty.Progress())
		})
	}

	pop := NewFrom(PopTransition(), 0.3)
	assert.True(t, pop.IsFinished())
}

// TestBlend_Pop tests that pops finish before any time passes
func TestBlend_Pop(t *testing.T) {
	b := New(PopTransition())
	assert.True(t, b.IsFinished())
	assert.Equal(t, 1.0, b.Factor())

	zero := New(Transition{Curve: Linear})
	assert.True(t, zero.IsFinished(), "zero duration behaves as a pop")
}

// TestBlend_RestartAndNegativeTime tests restarting and ignoring negative deltas
func TestBlend_RestartAndNegativeTime(t *testing.T) {
	b := New(Transition{Curve: Linear, Duration: 2})
	b.Advance(1)
	b.Advance(-5)
	assert.Equal(t, 0.5, b.Progress())

	b.Restart(Transition{Curve: Linear, Duration: 4})
	assert.Equal(t, 0.0, b.Progress())
	b.Advance(1)
	assert.Equal(t, 0.25, b.Progress())
	b.Reset()
	assert.Equal(t, 0.0, b.Progress())
}

// TestBlend_Serialize tests blend progress survives an archive round trip
func TestBlend_Serialize(t *testing.T) {
	b := New(Transition{Curve: Smooth, Duration: 3})
	b.Advance(1.5)

	w := node.NewWriter()
	b.Serialize(w)
	require.NoError(t, w.Err())

	var loaded Blend
	r := node.NewReader(w.Bytes())
	loaded.Serialize(r)
	require.NoError(t, r.Err())
	assert.Equal(t, b, loaded)
}

// TestParseCurve tests curve names
func TestParseCurve(t *testing.T) {
	c, err := ParseCurve("smooth")
	require.NoError(t, err)
	assert.Equal(t, Smooth, c)

	_, err = ParseCurve("bouncy")
	assert.Error(t, err)
}

// TestTable_Lookup tests exact and wildcard precedence
func TestTable_Lookup(t *testing.T) {
	walk := &rig.Rig{Name: "walk"}
	aim := &rig.Rig{Name: "aim"}
	car := &rig.Rig{Name: "car"}

	slow := Transition{Curve: Smooth, Duration: 1}
	fast := Transition{Curve: Linear, Duration: 0.2}
	exact := Transition{Curve: SmoothOut, Duration: 0.5}

	table := NewTable(slow, PopTransition())
	table.SetEnter("", "aim", fast)
	table.SetEnter("walk", "aim", exact)
	table.SetEnter("car", "", fast)
	table.SetExit("aim", "", fast)

	assert.Equal(t, exact, table.EnterTransition(walk, aim))
	assert.Equal(t, fast, table.EnterTransition(car, aim))
	assert.Equal(t, fast, table.EnterTransition(nil, aim))
	assert.Equal(t, fast, table.EnterTransition(car, walk))
	assert.Equal(t, slow, table.EnterTransition(walk, car))

	assert.Equal(t, fast, table.ExitTransition(aim, nil))
	assert.True(t, table.ExitTransition(walk, nil).IsPop())

	var pops PopLookup
	assert.True(t, pops.EnterTransition(walk, aim).IsPop())
}
