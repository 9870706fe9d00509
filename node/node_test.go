package node

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f64"

	"github.com/teranos/gimbal/camera"
)

// testDef is a minimal definition building testEvaluator nodes.
type testDef struct {
	name     string
	disabled bool
	flags    Flags
	children []Definition
}

func (d *testDef) Name() string  { return d.name }
func (d *testDef) Enabled() bool { return !d.disabled }
func (d *testDef) NewEvaluator(s *Storage) Evaluator {
	return Alloc[testEvaluator](s)
}

type testEvaluator struct {
	Base
	runs      int
	destroyed *int
	value     float64
}

func (e *testEvaluator) OnBuild(p *BuildParams) {
	def := e.Definition().(*testDef)
	e.SetFlags(def.flags)
	e.SetChildren(p.BuildChildren(def.children))
}

func (e *testEvaluator) OnRun(p *RunParams, out *camera.EvaluationResult) {
	e.runs++
	RunChildren(e, p, out)
}

func (e *testEvaluator) OnSerialize(ar *Archive) { ar.Float(&e.value) }

func (e *testEvaluator) OnDestroy() {
	if e.destroyed != nil {
		*e.destroyed++
	}
}

func tree() *testDef {
	return &testDef{name: "root", children: []Definition{
		&testDef{name: "a", flags: FlagNeedsSerialize, children: []Definition{
			&testDef{name: "a1"},
			nil,
			&testDef{name: "a2", flags: FlagNeedsParameterUpdate},
		}},
		&testDef{name: "b", flags: FlagNeedsSerialize | FlagNeedsParameterUpdate},
	}}
}

func names(h *Hierarchy) []string {
	var out []string
	h.ForEachEvaluator(FlagNone, func(e Evaluator) { out = append(out, e.Definition().Name()) })
	return out
}

// TestStorage_BuildTree tests building a tree and the reported allocation info
func TestStorage_BuildTree(t *testing.T) {
	var s Storage
	root := s.BuildTree(tree(), nil)
	require.NotNil(t, root)

	assert.Equal(t, 5, s.Len())
	assert.Len(t, root.Children(), 2)
	assert.Len(t, root.Children()[0].Children(), 3)
	assert.Nil(t, root.Children()[0].Children()[1])

	info := s.AllocationInfo()
	assert.Equal(t, 5, info.Evaluators)
	assert.Equal(t, 5, info.Children)
	assert.Equal(t, 5, info.TypeCounts[reflect.TypeFor[testEvaluator]()])
	assert.Equal(t, 5*reflect.TypeFor[testEvaluator]().Size(), info.TotalSize)
	assert.NotZero(t, info.MaxAlign)
}

// TestStorage_ChildrenAcrossBlocks tests that children usage spans every pool block and pre-sizes the next build
func TestStorage_ChildrenAcrossBlocks(t *testing.T) {
	var s Storage
	s.BuildTree(tree(), nil)
	require.NotEmpty(t, s.spent, "the first build outgrows the initial children block")
	info := s.AllocationInfo()
	assert.Equal(t, 5, info.Children)

	var sized Storage
	root := sized.BuildTree(tree(), &info)
	assert.Empty(t, sized.spent)
	assert.Len(t, root.Children()[0].Children(), 3)
	assert.Equal(t, 5, sized.AllocationInfo().Children)

	s.DestroyTree(false)
	assert.Equal(t, 0, s.AllocationInfo().Children)
	s.BuildTree(tree(), nil)
	assert.Empty(t, s.spent, "a rebuild lands in the folded block")
	assert.Equal(t, 5, s.AllocationInfo().Children)
}

// TestStorage_NilRoot tests that an empty rig builds nothing
func TestStorage_NilRoot(t *testing.T) {
	var s Storage
	assert.Nil(t, s.BuildTree(nil, nil))
	assert.Equal(t, 0, s.Len())
}

// TestStorage_DestroyTree tests destroy hooks, zeroing and generations
func TestStorage_DestroyTree(t *testing.T) {
	var s Storage
	root := s.BuildTree(tree(), nil)
	destroyed := 0
	e := root.(*testEvaluator)
	e.destroyed = &destroyed
	e.value = 12

	s.DestroyTree(false)

	assert.Equal(t, 1, destroyed)
	assert.Nil(t, s.Root())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint32(1), s.Generation())
	assert.Zero(t, e.value, "destroyed evaluators are zeroed")
	assert.Nil(t, e.Definition())

	s.BuildTree(tree(), nil)
	s.DestroyTree(true)
	assert.Equal(t, uint32(2), s.Generation())
	assert.Empty(t, s.AllocationInfo().TypeCounts)
}

// TestStorage_ReuseWithAllocationInfo tests that a sized rebuild lands in one chunk
func TestStorage_ReuseWithAllocationInfo(t *testing.T) {
	var first Storage
	first.BuildTree(tree(), nil)
	info := first.AllocationInfo()

	var s Storage
	s.BuildTree(tree(), &info)
	sl := s.slabs[reflect.TypeFor[testEvaluator]()].(*typedSlab[testEvaluator])
	require.Len(t, sl.chunks, 1)
	assert.Equal(t, 5, cap(sl.chunks[0]))

	s.DestroyTree(false)
	s.BuildTree(tree(), nil)
	assert.Len(t, sl.chunks, 1, "kept memory is reused")
	assert.Equal(t, info.TotalSize, s.AllocationInfo().TotalSize)
}

// TestHierarchy_PreOrder tests the iterative depth-first ordering
func TestHierarchy_PreOrder(t *testing.T) {
	var s Storage
	root := s.BuildTree(tree(), nil)

	var h Hierarchy
	h.Build(root)
	assert.Equal(t, []string{"root", "a", "a1", "a2", "b"}, names(&h))

	var viaInit Hierarchy
	result := camera.NewEvaluationResult()
	Initialize(root, &InitializeParams{Hierarchy: &viaInit}, &result)
	assert.Equal(t, names(&h), names(&viaInit))
}

// TestHierarchy_Tagged tests restricting passes to a tagged range
func TestHierarchy_Tagged(t *testing.T) {
	var s1, s2 Storage
	r1 := s1.BuildTree(tree(), nil)
	r2 := s2.BuildTree(&testDef{name: "solo", flags: FlagNeedsParameterUpdate}, nil)

	var h Hierarchy
	h.AppendTagged("first", r1)
	rng := h.AppendTagged("second", r2)
	assert.Equal(t, Range{Start: 5, End: 6}, rng)
	assert.Equal(t, 6, h.Len())

	var visited []string
	ok := h.ForEachEvaluatorIn("second", FlagNeedsParameterUpdate, func(e Evaluator) {
		visited = append(visited, e.Definition().Name())
	})
	assert.True(t, ok)
	assert.Equal(t, []string{"solo"}, visited)

	visited = nil
	h.ForEachEvaluatorIn("first", FlagNeedsParameterUpdate, func(e Evaluator) {
		visited = append(visited, e.Definition().Name())
	})
	assert.Equal(t, []string{"a2", "b"}, visited)

	assert.False(t, h.ForEachEvaluatorIn("missing", FlagNone, func(Evaluator) {}))

	h.Reset()
	assert.Equal(t, 0, h.Len())
	_, ok = h.Range("first")
	assert.False(t, ok)
}

// TestRun_SkipsDisabled tests that disabled definitions never run
func TestRun_SkipsDisabled(t *testing.T) {
	def := tree()
	def.children[1].(*testDef).disabled = true

	var s Storage
	root := s.BuildTree(def, nil)
	result := camera.NewEvaluationResult()
	Run(root, &RunParams{DeltaTime: 1.0 / 60}, &result)

	assert.Equal(t, 1, root.(*testEvaluator).runs)
	assert.Equal(t, 1, root.Children()[0].(*testEvaluator).runs)
	assert.Equal(t, 0, root.Children()[1].(*testEvaluator).runs)
}

// TestSerialize_RoundTrip tests flag-gated serialization through an archive
func TestSerialize_RoundTrip(t *testing.T) {
	var s Storage
	root := s.BuildTree(tree(), nil)
	var h Hierarchy
	h.Build(root)

	i := 0.0
	h.ForEachEvaluator(FlagNone, func(e Evaluator) {
		i++
		e.(*testEvaluator).value = i
	})

	w := NewWriter()
	h.ForEachEvaluator(FlagNeedsSerialize, func(e Evaluator) { Serialize(e, w) })
	require.NoError(t, w.Err())

	var s2 Storage
	root2 := s2.BuildTree(tree(), nil)
	var h2 Hierarchy
	h2.Build(root2)
	r := NewReader(w.Bytes())
	h2.ForEachEvaluator(FlagNeedsSerialize, func(e Evaluator) { Serialize(e, r) })
	require.NoError(t, r.Err())
	assert.Equal(t, 0, r.Remaining())

	assert.Equal(t, 2.0, root2.Children()[0].(*testEvaluator).value)
	assert.Equal(t, 5.0, root2.Children()[1].(*testEvaluator).value)
	assert.Zero(t, root2.(*testEvaluator).value, "root does not serialize")
}

// TestArchive_Values tests every archive value kind
func TestArchive_Values(t *testing.T) {
	b, i, f := true, int64(-42), 3.25
	v := f64.Vec3{1, -2, 3.5}
	str := "boom"
	u := uint32(7)
	val := camera.Vec3Value(f64.Vec3{4, 5, 6})

	w := NewWriter()
	w.Bool(&b)
	w.Int(&i)
	w.Float(&f)
	w.Vec3(&v)
	w.Text(&str)
	w.Uint32(&u)
	w.Value(&val)
	require.NoError(t, w.Err())

	var (
		b2   bool
		i2   int64
		f2   float64
		v2   f64.Vec3
		str2 string
		u2   uint32
		val2 camera.Value
	)
	r := NewReader(w.Bytes())
	assert.True(t, r.IsLoading())
	r.Bool(&b2)
	r.Int(&i2)
	r.Float(&f2)
	r.Vec3(&v2)
	r.Text(&str2)
	r.Uint32(&u2)
	r.Value(&val2)
	require.NoError(t, r.Err())

	assert.Equal(t, b, b2)
	assert.Equal(t, i, i2)
	assert.Equal(t, f, f2)
	assert.Equal(t, v, v2)
	assert.Equal(t, str, str2)
	assert.Equal(t, u, u2)
	assert.True(t, val.Equal(val2))
}

// TestArchive_Errors tests truncated and mismatched input
func TestArchive_Errors(t *testing.T) {
	f := 1.5
	w := NewWriter()
	w.Float(&f)

	r := NewReader(w.Bytes()[:4])
	r.Float(&f)
	assert.ErrorIs(t, r.Err(), ErrArchiveTruncated)

	r = NewReader(nil)
	var b bool
	r.Bool(&b)
	assert.ErrorIs(t, r.Err(), ErrArchiveTruncated)

	r = NewReader(w.Bytes())
	r.Bool(&b)
	assert.ErrorIs(t, r.Err(), ErrArchiveMismatch)
}
