// Package chat defines the outbound side of the chat platform: addresses,
// messages with inline actions, and transports that deliver them.
package chat

import (
	"context"
	"strconv"
)

// Address identifies a send destination. Positive values are private
// conversations with one user, negative values are group conversations.
type Address int64

// IsGroup reports whether the address is a group conversation.
func (a Address) IsGroup() bool {
	return a < 0
}

func (a Address) String() string {
	return strconv.FormatInt(int64(a), 10)
}

// Action is an inline affordance attached to a message. Data is returned
// to the core verbatim when the user presses it, for example "claim:12".
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Message is one outbound chat message.
type Message struct {
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// Text builds an action-less message.
func Text(text string) Message {
	return Message{Text: text}
}

// Transport delivers a message to an address. Implementations return an
// errors.Error with code RATE_LIMITED and a retry-after when throttled,
// and any other error when the address cannot be reached.
type Transport interface {
	Send(ctx context.Context, to Address, msg Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, to Address, msg Message) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, to Address, msg Message) error {
	return f(ctx, to, msg)
}
