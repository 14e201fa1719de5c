package bus

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBus implements MessageBus in process.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	next   map[string]int // round-robin cursor per subject/queue
	closed atomic.Bool

	replyMu  sync.Mutex
	replies  map[string]chan *Message
	replySeq atomic.Uint64
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	queue   string
	ch      chan *Message
	closed  atomic.Bool
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		config:  cfg,
		subs:    make(map[string][]*memorySub),
		next:    make(map[string]int),
		replies: make(map[string]chan *Message),
	}
}

// Publish delivers to every plain subscriber, one member per queue and a
// waiting requester if subject is a reply inbox.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.replyMu.Lock()
	ch, ok := b.replies[subject]
	if ok {
		delete(b.replies, subject)
	}
	b.replyMu.Unlock()
	if ok {
		ch <- &Message{Subject: subject, Data: data}
		return nil
	}

	b.deliver(&Message{Subject: subject, Data: data})
	return nil
}

// deliver returns the number of subscribers that received msg.
func (b *MemoryBus) deliver(msg *Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	queues := make(map[string][]*memorySub)
	for _, s := range b.subs[msg.Subject] {
		if s.closed.Load() {
			continue
		}
		if s.queue != "" {
			queues[s.queue] = append(queues[s.queue], s)
			continue
		}
		if s.offer(msg) {
			delivered++
		}
	}
	for queue, members := range queues {
		cursor := msg.Subject + "|" + queue
		start := b.next[cursor]
		for i := range members {
			s := members[(start+i)%len(members)]
			if s.offer(msg) {
				b.next[cursor] = start + i + 1
				delivered++
				break
			}
		}
	}
	return delivered
}

func (s *memorySub) offer(msg *Message) bool {
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// Subscribe creates a subscription.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	return b.subscribe(subject, "")
}

// QueueSubscribe creates a queue subscription.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	return b.subscribe(subject, queue)
}

func (b *MemoryBus) subscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	s := &memorySub{
		bus:     b,
		subject: subject,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
	}
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], s)
	b.mu.Unlock()
	return s, nil
}

// Request publishes data with a private reply inbox and waits for the answer.
func (b *MemoryBus) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	inbox := "_INBOX." + strconv.FormatUint(b.replySeq.Add(1), 10)
	ch := make(chan *Message, 1)
	b.replyMu.Lock()
	b.replies[inbox] = ch
	b.replyMu.Unlock()

	cleanup := func() {
		b.replyMu.Lock()
		delete(b.replies, inbox)
		b.replyMu.Unlock()
	}

	if b.deliver(&Message{Subject: subject, Data: data, Reply: inbox}) == 0 {
		cleanup()
		return nil, ErrNoResponders
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		cleanup()
		return nil, ErrTimeout
	}
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			if !s.closed.Swap(true) {
				close(s.ch)
			}
		}
	}
	b.subs = make(map[string][]*memorySub)
	return nil
}

func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

func (s *memorySub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	subs := b.subs[s.subject]
	for i, other := range subs {
		if other == s {
			b.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(s.ch)
	return nil
}
