package object

import (
	"context"
	"math"
	"sort"
	"sync"

	wasmbridge "github.com/wippyai/wasm-bridge"
)

// Text is a decoded UTF-8 string.
type Text string

func (Text) Kind() Kind { return KindText }

// Bytes is an opaque byte payload, such as a fetched asset.
type Bytes []byte

func (Bytes) Kind() Kind { return KindBytes }

// Numeric is a number the compute side reads back with get_u32 or get_f64.
type Numeric float64

func (Numeric) Kind() Kind { return KindNumeric }

// U32 converts the value the way a host number is truncated to u32.
func (n Numeric) U32() uint32 {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Mod(math.Trunc(f), 1<<32)
	if f < 0 {
		f += 1 << 32
	}
	return uint32(f)
}

// F64 returns the value as float64.
func (n Numeric) F64() float64 { return float64(n) }

// Call carries the receiver and arguments of a callable invocation.
type Call struct {
	This Object
	// Args holds resolved objects. Raw words arrive as Numeric values.
	Args []Object
	// Raw holds the argument words exactly as the compute side passed them.
	Raw    []uint32
	Memory wasmbridge.Memory
	Table  *Table
}

// Arg returns argument i or nil when absent.
func (c Call) Arg(i int) Object {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Func is a host callable.
type Func func(ctx context.Context, call Call) (Object, error)

func (Func) Kind() Kind { return KindCallable }

// Pending is a host-native asynchronous operation. It is started at most
// once; Await blocks until it settles.
type Pending struct {
	start  func(ctx context.Context) (Object, error)
	result Object
	err    error
	done   chan struct{}
	name   string
	once   sync.Once
}

// NewPending wraps start as a pending operation.
func NewPending(name string, start func(ctx context.Context) (Object, error)) *Pending {
	return &Pending{name: name, start: start, done: make(chan struct{})}
}

// Resolved returns an already settled pending operation.
func Resolved(name string, v Object, err error) *Pending {
	p := &Pending{name: name, result: v, err: err, done: make(chan struct{})}
	p.once.Do(func() { close(p.done) })
	return p
}

func (*Pending) Kind() Kind { return KindPending }

// Name describes the operation for diagnostics.
func (p *Pending) Name() string { return p.name }

// Await starts the operation on first use and waits for its settlement.
func (p *Pending) Await(ctx context.Context) (Object, error) {
	p.once.Do(func() {
		p.result, p.err = p.start(ctx)
		close(p.done)
	})
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Record is a named property bag. The root object is a record.
type Record struct {
	props map[string]Object
	name  string
	mu    sync.RWMutex
}

// NewRecord creates an empty record.
func NewRecord(name string) *Record {
	return &Record{name: name, props: make(map[string]Object)}
}

func (*Record) Kind() Kind { return KindOther }

// Name returns the record's diagnostic name.
func (r *Record) Name() string { return r.name }

// Set assigns a property and returns r for chaining.
func (r *Record) Set(name string, v Object) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props[name] = v
	return r
}

// Property looks up a named property.
func (r *Record) Property(name string) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.props[name]
	return v, ok
}

// Names returns the property names in sorted order.
func (r *Record) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.props))
	for n := range r.props {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PropertyHolder is implemented by objects with named properties.
type PropertyHolder interface {
	Object
	Property(name string) (Object, bool)
}

// Failure is the settled value of a rejected asynchronous operation.
type Failure struct {
	Err error
}

func (*Failure) Kind() Kind { return KindError }

// Message returns the rejection reason.
func (f *Failure) Message() string {
	if f.Err == nil {
		return "rejected"
	}
	return f.Err.Error()
}
