package object

import "fmt"

// Handle is an opaque reference to a host object, minted by a Table.
type Handle uint32

const (
	// Null means "no object".
	Null Handle = 0
	// Root is the host's global object. It is never released.
	Root Handle = 1
)

// Kind tags the closed set of host object shapes.
type Kind uint32

const (
	KindNull Kind = iota
	KindBuffer
	KindTexture
	KindProgram
	KindFramebuffer
	KindRenderbuffer
	KindUniform
	KindText
	KindBytes
	KindCallable
	KindPending
	KindNumeric
	KindError
	KindOther
)

var kindNames = [...]string{
	KindNull:         "null",
	KindBuffer:       "buffer",
	KindTexture:      "texture",
	KindProgram:      "program",
	KindFramebuffer:  "framebuffer",
	KindRenderbuffer: "renderbuffer",
	KindUniform:      "uniform",
	KindText:         "text",
	KindBytes:        "bytes",
	KindCallable:     "callable",
	KindPending:      "pending",
	KindNumeric:      "numeric",
	KindError:        "error",
	KindOther:        "other",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Object is a host value reachable through a handle.
type Object interface {
	Kind() Kind
}

// KindOf returns the kind of o, treating nil as KindNull.
func KindOf(o Object) Kind {
	if o == nil {
		return KindNull
	}
	return o.Kind()
}

// EventType identifies a table lifecycle event.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventReleased
)

// Event is delivered to observers after the table changes.
type Event struct {
	Object Object
	Handle Handle
	Type   EventType
}

// Observer receives table lifecycle events.
type Observer interface {
	OnObjectEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnObjectEvent calls f.
func (f ObserverFunc) OnObjectEvent(e Event) { f(e) }

// Dropper is optionally implemented by objects that hold resources to free
// when the table is closed.
type Dropper interface {
	Drop()
}
