package node

// Range is a half-open [Start, End) span of a Hierarchy.
type Range struct {
	Start int
	End   int
}

// Len is the number of evaluators in the range.
func (r Range) Len() int { return r.End - r.Start }

// Hierarchy is a flattened pre-order list of evaluators. Cross-cutting passes
// (parameter pre-update, serialization) walk it instead of the tree.
type Hierarchy struct {
	evaluators []Evaluator
	tagged     map[string]Range
	stack      []Evaluator
}

// Build resets the hierarchy and appends root's subtree.
func (h *Hierarchy) Build(root Evaluator) {
	h.Reset()
	h.Append(root)
}

// Append adds root's subtree in depth-first pre-order. The walk uses an
// explicit stack so arbitrarily deep rigs are fine.
func (h *Hierarchy) Append(root Evaluator) {
	if root == nil {
		return
	}
	h.stack = append(h.stack[:0], root)
	for len(h.stack) > 0 {
		e := h.stack[len(h.stack)-1]
		h.stack = h.stack[:len(h.stack)-1]
		h.evaluators = append(h.evaluators, e)

		children := e.Children()
		for i := len(children) - 1; i >= 0; i-- {
			if children[i] != nil {
				h.stack = append(h.stack, children[i])
			}
		}
	}
	clear(h.stack)
	h.stack = h.stack[:0]
}

// AppendTagged appends root's subtree and records its range under name.
// Tagging the same name again replaces the earlier range.
func (h *Hierarchy) AppendTagged(name string, root Evaluator) Range {
	start := len(h.evaluators)
	h.Append(root)
	r := Range{Start: start, End: len(h.evaluators)}
	h.Tag(name, r)
	return r
}

// Register appends a single evaluator. node.Initialize calls it for every
// node it visits, which yields the same pre-order as Append.
func (h *Hierarchy) Register(e Evaluator) {
	if e != nil {
		h.evaluators = append(h.evaluators, e)
	}
}

// Tag records r under name. Tagging the same name again replaces it.
func (h *Hierarchy) Tag(name string, r Range) {
	if h.tagged == nil {
		h.tagged = make(map[string]Range)
	}
	h.tagged[name] = r
}

// Range returns the range tagged with name.
func (h *Hierarchy) Range(name string) (Range, bool) {
	r, ok := h.tagged[name]
	return r, ok
}

func (h *Hierarchy) Len() int { return len(h.evaluators) }

// At returns the i-th evaluator in pre-order.
func (h *Hierarchy) At(i int) Evaluator { return h.evaluators[i] }

// Reset empties the hierarchy, keeping its capacity.
func (h *Hierarchy) Reset() {
	clear(h.evaluators)
	h.evaluators = h.evaluators[:0]
	clear(h.tagged)
}

// ForEachEvaluator visits every evaluator whose flags include filter.
// FlagNone visits everything.
func (h *Hierarchy) ForEachEvaluator(filter Flags, fn func(Evaluator)) {
	h.forEach(Range{Start: 0, End: len(h.evaluators)}, filter, fn)
}

// ForEachEvaluatorIn is ForEachEvaluator restricted to the range tagged with
// name. It returns false when no such tag exists.
func (h *Hierarchy) ForEachEvaluatorIn(name string, filter Flags, fn func(Evaluator)) bool {
	r, ok := h.tagged[name]
	if !ok {
		return false
	}
	h.forEach(r, filter, fn)
	return true
}

func (h *Hierarchy) forEach(r Range, filter Flags, fn func(Evaluator)) {
	end := min(r.End, len(h.evaluators))
	for i := r.Start; i < end; i++ {
		e := h.evaluators[i]
		if filter == FlagNone || e.Flags().Has(filter) {
			fn(e)
		}
	}
}
