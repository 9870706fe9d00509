package evalctx

type registrySlot struct {
	ctx        Context
	generation uint32
}

// Registry owns evaluation contexts and hands out generational weak handles.
// Slots are recycled; a recycled slot gets a new generation so stale handles
// never resolve to the new occupant.
type Registry struct {
	slots []registrySlot
	free  []uint32
	live  int
}

func NewRegistry() *Registry { return &Registry{} }

// Register adds ctx and returns a handle on it.
func (r *Registry) Register(ctx Context) Weak {
	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, registrySlot{})
	}
	s := &r.slots[index]
	s.ctx = ctx
	s.generation++
	r.live++
	return Weak{registry: r, index: index, generation: s.generation}
}

// Destroy drops the context behind w. Every handle on it stops resolving.
// It returns false when w was already dead.
func (r *Registry) Destroy(w Weak) bool {
	if _, ok := w.Pin(); !ok || w.registry != r {
		return false
	}
	s := &r.slots[w.index]
	s.ctx = nil
	s.generation++
	r.free = append(r.free, w.index)
	r.live--
	return true
}

// Len is the number of live contexts.
func (r *Registry) Len() int { return r.live }

// Weak is a non-owning handle on a registered context. The zero value never
// resolves. Weak is comparable: two handles are equal when they were issued
// by the same Register call.
type Weak struct {
	registry   *Registry
	index      uint32
	generation uint32
}

// Pin resolves the handle. It fails once the context has been destroyed.
func (w Weak) Pin() (Context, bool) {
	if w.registry == nil || int(w.index) >= len(w.registry.slots) {
		return nil, false
	}
	s := &w.registry.slots[w.index]
	if s.generation != w.generation || s.ctx == nil {
		return nil, false
	}
	return s.ctx, true
}

// IsZero reports whether w was never issued.
func (w Weak) IsZero() bool { return w.registry == nil }

// Name is the context name, or "<destroyed>".
func (w Weak) Name() string {
	if ctx, ok := w.Pin(); ok {
		return ctx.Name()
	}
	return "<destroyed>"
}
