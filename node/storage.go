package node

import (
	"reflect"
)

const minSlabChunk = 4

// AllocationInfo sizes a Storage ahead of a build. Storage.AllocationInfo
// reports the figures of the last build so a rig can cache them.
type AllocationInfo struct {
	Evaluators int
	Children   int
	TotalSize  uintptr
	MaxAlign   uintptr
	TypeCounts map[reflect.Type]int
}

type slab interface {
	destroy()
	release()
	usage() (count int, size, align uintptr)
}

// typedSlab hands out *T from chunks that are never re-sliced past their
// capacity, so returned pointers stay put until destroy.
type typedSlab[T any] struct {
	chunks [][]T
	hint   int
}

func (s *typedSlab[T]) alloc() *T {
	n := len(s.chunks)
	if n == 0 || len(s.chunks[n-1]) == cap(s.chunks[n-1]) {
		size := max(s.hint, minSlabChunk)
		if n > 0 {
			size = max(size, 2*cap(s.chunks[n-1]))
		}
		s.chunks = append(s.chunks, make([]T, 0, size))
		n++
	}
	var zero T
	s.chunks[n-1] = append(s.chunks[n-1], zero)
	return &s.chunks[n-1][len(s.chunks[n-1])-1]
}

// destroy zeroes every element and folds the chunks into one so the next
// build of the same tree lands in a single block.
func (s *typedSlab[T]) destroy() {
	total := 0
	for _, c := range s.chunks {
		clear(c[:cap(c)])
		total += cap(c)
	}
	if len(s.chunks) > 1 {
		s.chunks = [][]T{make([]T, 0, total)}
		return
	}
	if len(s.chunks) == 1 {
		s.chunks[0] = s.chunks[0][:0]
	}
}

func (s *typedSlab[T]) release() {
	for _, c := range s.chunks {
		clear(c)
	}
	s.chunks = nil
}

func (s *typedSlab[T]) usage() (int, uintptr, uintptr) {
	count := 0
	for _, c := range s.chunks {
		count += len(c)
	}
	t := reflect.TypeFor[T]()
	return count, uintptr(count) * t.Size(), uintptr(t.Align())
}

// Storage is the arena owning one evaluator tree. Evaluators are allocated in
// typed slabs and children views in a shared pool; DestroyTree tears the whole
// tree down at once.
//
// The zero value is ready to use. A Storage is owned by exactly one blend
// stack entry and is not safe for concurrent use.
type Storage struct {
	slabs      map[reflect.Type]slab
	hints      map[reflect.Type]int
	evaluators []Evaluator
	children   []Evaluator
	// spent holds full children blocks still aliased by live views.
	spent        [][]Evaluator
	childrenUsed int
	root         Evaluator
	generation   uint32
}

// Alloc returns a zeroed *T carved out of s.
func Alloc[T any](s *Storage) *T {
	key := reflect.TypeFor[T]()
	if s.slabs == nil {
		s.slabs = make(map[reflect.Type]slab)
	}
	sl, ok := s.slabs[key]
	if !ok {
		sl = &typedSlab[T]{hint: s.hints[key]}
		s.slabs[key] = sl
	}
	return sl.(*typedSlab[T]).alloc()
}

// BuildTree builds root into the arena and returns the root evaluator, or nil
// when root is nil. info, when given, pre-sizes the arena.
func (s *Storage) BuildTree(root Definition, info *AllocationInfo) Evaluator {
	if root == nil {
		return nil
	}
	if info != nil {
		s.reserve(info)
	}
	params := &BuildParams{storage: s}
	s.root = params.BuildEvaluator(root)
	return s.root
}

func (s *Storage) reserve(info *AllocationInfo) {
	if cap(s.evaluators) < info.Evaluators {
		s.evaluators = make([]Evaluator, 0, info.Evaluators)
	}
	if cap(s.children)-len(s.children) < info.Children {
		s.children = make([]Evaluator, 0, info.Children)
	}
	if len(info.TypeCounts) > 0 {
		s.hints = make(map[reflect.Type]int, len(info.TypeCounts))
		for t, n := range info.TypeCounts {
			s.hints[t] = n
		}
	}
}

func (s *Storage) track(e Evaluator) {
	s.evaluators = append(s.evaluators, e)
}

func (s *Storage) allocChildren(n int) Children {
	if n == 0 {
		return nil
	}
	if cap(s.children)-len(s.children) < n {
		if len(s.children) > 0 {
			s.spent = append(s.spent, s.children)
		}
		s.children = make([]Evaluator, 0, max(n, 2*cap(s.children), minSlabChunk))
	}
	start := len(s.children)
	s.children = s.children[:start+n]
	s.childrenUsed += n
	return Children(s.children[start : start+n : start+n])
}

// Root returns the root of the current tree, nil after DestroyTree.
func (s *Storage) Root() Evaluator { return s.root }

// Generation increments on every DestroyTree.
func (s *Storage) Generation() uint32 { return s.generation }

// Len is the number of live evaluators.
func (s *Storage) Len() int { return len(s.evaluators) }

// DestroyTree destroys every evaluator, leaf-most first. Their memory is
// zeroed; with freeAllocations the backing slabs are released too, otherwise
// they are kept for the next BuildTree.
func (s *Storage) DestroyTree(freeAllocations bool) {
	for i := len(s.evaluators) - 1; i >= 0; i-- {
		s.evaluators[i].OnDestroy()
	}
	clear(s.evaluators)
	s.evaluators = s.evaluators[:0]
	for _, block := range s.spent {
		clear(block)
	}
	clear(s.children[:cap(s.children)])
	s.children = s.children[:0]
	if len(s.spent) > 0 && !freeAllocations {
		s.children = make([]Evaluator, 0, s.childrenUsed)
	}
	clear(s.spent)
	s.spent = s.spent[:0]
	s.childrenUsed = 0
	for _, sl := range s.slabs {
		if freeAllocations {
			sl.release()
		} else {
			sl.destroy()
		}
	}
	if freeAllocations {
		s.slabs = nil
		s.hints = nil
		s.evaluators = nil
		s.children = nil
		s.spent = nil
	}
	s.root = nil
	s.generation++
}

// AllocationInfo reports what the current tree actually uses.
func (s *Storage) AllocationInfo() AllocationInfo {
	info := AllocationInfo{
		Evaluators: len(s.evaluators),
		Children:   s.childrenUsed,
		TypeCounts: make(map[reflect.Type]int, len(s.slabs)),
	}
	for t, sl := range s.slabs {
		count, size, align := sl.usage()
		if count == 0 {
			continue
		}
		info.TypeCounts[t] = count
		info.TotalSize += size
		info.MaxAlign = max(info.MaxAlign, align)
	}
	return info
}
