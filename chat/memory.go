package chat

import (
	"context"
	"sync"
)

// Sent is a message recorded by MemoryTransport.
type Sent struct {
	To  Address
	Msg Message
}

// MemoryTransport records sends and replays scripted failures. It backs
// the tests of every package that delivers messages.
type MemoryTransport struct {
	mu       sync.Mutex
	sent     []Sent
	attempts map[Address]int
	failures map[Address][]error
	always   map[Address]error
}

// NewMemoryTransport creates an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		attempts: make(map[Address]int),
		failures: make(map[Address][]error),
		always:   make(map[Address]error),
	}
}

// FailNext queues errors returned by the next sends to addr, in order.
func (m *MemoryTransport) FailNext(addr Address, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[addr] = append(m.failures[addr], errs...)
}

// FailAlways makes every send to addr return err. A nil err clears it.
func (m *MemoryTransport) FailAlways(addr Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.always, addr)
		return
	}
	m.always[addr] = err
}

// Send records the message or returns a scripted failure.
func (m *MemoryTransport) Send(ctx context.Context, to Address, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[to]++
	if err, ok := m.always[to]; ok {
		return err
	}
	if q := m.failures[to]; len(q) > 0 {
		m.failures[to] = q[1:]
		return q[0]
	}
	m.sent = append(m.sent, Sent{To: to, Msg: msg})
	return nil
}

// Sent returns a copy of the delivered messages.
func (m *MemoryTransport) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns messages delivered to addr.
func (m *MemoryTransport) SentTo(addr Address) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, s := range m.sent {
		if s.To == addr {
			out = append(out, s.Msg)
		}
	}
	return out
}

// Attempts returns how many sends to addr were tried, including failures.
func (m *MemoryTransport) Attempts(addr Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[addr]
}

// Reset forgets recorded messages and attempts.
func (m *MemoryTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.attempts = make(map[Address]int)
}
