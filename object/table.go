package object

import (
	"sync"

	"github.com/wippyai/wasm-bridge/errors"
)

// Table maps handles to host objects. Freed indices are reused in LIFO order.
// Each execution context owns one table; handles are meaningless elsewhere.
type Table struct {
	slots     []Object
	free      []Handle
	observers []Observer
	mu        sync.Mutex
	live      int
	closed    bool
}

// NewTable creates a table whose Root handle resolves to root.
func NewTable(root Object) *Table {
	slots := make([]Object, 2, 64)
	slots[Root] = root
	return &Table{
		slots: slots,
		free:  make([]Handle, 0, 16),
	}
}

// Register stores obj and returns its handle. A nil object maps to Null
// without allocating a slot, as does any object once the table is closed.
func (t *Table) Register(obj Object) Handle {
	if obj == nil {
		return Null
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Null
	}
	var h Handle
	if n := len(t.free); n > 0 {
		h = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[h] = obj
	} else {
		t.slots = append(t.slots, obj)
		h = Handle(len(t.slots) - 1)
	}
	t.live++
	observers := t.observers
	t.mu.Unlock()

	notify(observers, Event{Type: EventRegistered, Handle: h, Object: obj})
	return h
}

// Resolve returns the object for h. Null resolves to nil.
func (t *Table) Resolve(h Handle) (Object, error) {
	if h == Null {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if int(h) >= len(t.slots) {
		return nil, errors.InvalidHandle(errors.PhaseHandle, uint32(h), "never issued")
	}
	obj := t.slots[h]
	if obj == nil {
		return nil, errors.InvalidHandle(errors.PhaseHandle, uint32(h), "released")
	}
	return obj, nil
}

// Release frees h for reuse. Null and Root are ignored. Releasing a handle
// that is not live fails and leaves the free list untouched.
func (t *Table) Release(h Handle) error {
	if h <= Root {
		return nil
	}

	t.mu.Lock()
	if int(h) >= len(t.slots) {
		t.mu.Unlock()
		return errors.InvalidHandle(errors.PhaseHandle, uint32(h), "never issued")
	}
	obj := t.slots[h]
	if obj == nil {
		t.mu.Unlock()
		return errors.InvalidHandle(errors.PhaseHandle, uint32(h), "already released")
	}
	t.slots[h] = nil
	t.free = append(t.free, h)
	t.live--
	observers := t.observers
	t.mu.Unlock()

	notify(observers, Event{Type: EventReleased, Handle: h, Object: obj})
	return nil
}

// Len returns the number of live handles, excluding Null and Root.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Each calls fn for every live handle except Root, in handle order.
func (t *Table) Each(fn func(Handle, Object) bool) {
	t.mu.Lock()
	snapshot := make([]Object, len(t.slots))
	copy(snapshot, t.slots)
	t.mu.Unlock()

	for i := int(Root) + 1; i < len(snapshot); i++ {
		if snapshot[i] == nil {
			continue
		}
		if !fn(Handle(i), snapshot[i]) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]Observer, len(t.observers), len(t.observers)+1)
	copy(next, t.observers)
	t.observers = append(next, o)
}

// Close drops every live object and empties the table. The root stays
// resolvable.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	slots := t.slots
	t.slots = slots[:2:2]
	t.free = nil
	t.live = 0
	t.mu.Unlock()

	for i := int(Root) + 1; i < len(slots); i++ {
		if d, ok := slots[i].(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

// As resolves h and asserts its concrete type.
func As[T Object](t *Table, h Handle) (T, error) {
	var zero T
	obj, err := t.Resolve(h)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		var want Object = zero
		return zero, errors.TypeMismatch(errors.PhaseHandle, uint32(h), wantName(want), KindOf(obj).String())
	}
	return v, nil
}

func wantName(o Object) string {
	if o == nil {
		return "object"
	}
	return o.Kind().String()
}

func notify(observers []Observer, e Event) {
	for _, o := range observers {
		o.OnObjectEvent(e)
	}
}
