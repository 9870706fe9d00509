package gimbal

import (
	"github.com/teranos/gimbal/evalctx"
	"github.com/teranos/gimbal/rig"
)

// StackEventType is what happened to a blend stack entry.
type StackEventType uint8

const (
	EventPushed StackEventType = iota + 1
	EventFrozen
	EventPopped
)

func (t StackEventType) String() string {
	switch t {
	case EventPushed:
		return "pushed"
	case EventFrozen:
		return "frozen"
	case EventPopped:
		return "popped"
	default:
		return "unknown"
	}
}

// StackEvent is a snapshot of an entry at the time of the event. It is a
// value so listeners cannot reach into the stack.
type StackEvent struct {
	Type     StackEventType
	Layer    Layer
	EntryID  EntryID
	Rig      *rig.Rig
	Context  evalctx.Weak
	IsFrozen bool
}

// Instance is the root-level ID of the entry.
func (e StackEvent) Instance() InstanceID { return MakeInstanceID(e.Layer, e.EntryID) }

// RigEventType is what happened to a rig instance at the root level.
type RigEventType uint8

const (
	RigActivated RigEventType = iota + 1
	RigDeactivated
)

func (t RigEventType) String() string {
	switch t {
	case RigActivated:
		return "activated"
	case RigDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// RigEvent reports root-level activation changes.
type RigEvent struct {
	Type     RigEventType
	Instance InstanceID
	Rig      *rig.Rig
	Context  evalctx.Weak
}

// observers is a multicast callback list with removable subscriptions.
type observers[E any] struct {
	next      int
	listeners []observer[E]
}

type observer[E any] struct {
	id int
	fn func(E)
}

func (o *observers[E]) add(fn func(E)) (cancel func()) {
	o.next++
	id := o.next
	o.listeners = append(o.listeners, observer[E]{id: id, fn: fn})
	return func() {
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

func (o *observers[E]) emit(ev E) {
	for _, l := range o.listeners {
		l.fn(ev)
	}
}

func (o *observers[E]) len() int { return len(o.listeners) }
