// Package bus carries taskbot traffic between the core and the chat
// gateway: outbound messages as request/reply on chat.send and inbound
// JSON-RPC intents on taskbot.rpc.
//
//	chat.send     request/reply, core -> gateway, one outbound chat message
//	taskbot.rpc   request/reply, gateway -> core, one JSON-RPC intent
//
// NATSBus is used in deployments and MemoryBus in tests and single-process
// runs.
package bus

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrClosed         = errors.New("bus closed")
	ErrTimeout        = errors.New("request timeout")
	ErrNoResponders   = errors.New("no responders")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Message is a payload received from the bus.
type Message struct {
	Subject string
	Data    []byte

	// Reply is set for requests; publish the answer there.
	Reply string
}

// MessageBus provides pub/sub and request/reply messaging.
type MessageBus interface {
	// Publish sends data to all subscribers of subject.
	Publish(subject string, data []byte) error

	// Subscribe receives every message on subject.
	Subscribe(subject string) (Subscription, error)

	// QueueSubscribe shares messages on subject among members of queue.
	QueueSubscribe(subject, queue string) (Subscription, error)

	// Request sends data and waits for a single reply.
	// Returns ErrTimeout if no reply arrives in time and ErrNoResponders
	// if nobody listens on subject.
	Request(subject string, data []byte, timeout time.Duration) (*Message, error)

	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan *Message

	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels. Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 256}
}

// ValidateSubject rejects empty subjects and subjects with whitespace.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	return nil
}
