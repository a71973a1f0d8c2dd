package runtime

import (
	"sync"
	"time"

	"github.com/wippyai/wasm-bridge/object"
)

type message interface{}

// asyncRequest is a request_async forwarded by a secondary context.
type asyncRequest struct {
	token uint32
	from  string
}

type settlement struct {
	token uint32
	value object.Object
	err   error
}

type inputMessage struct {
	event InputEvent
}

type frameRate struct {
	interval time.Duration
}

type contextDone struct {
	id  string
	err error
}

// mailbox is an unbounded queue drained by the primary event loop. Pushing
// never blocks, so host calls and settling goroutines can post at any time.
type mailbox struct {
	mu    sync.Mutex
	queue []message
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
