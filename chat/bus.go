package chat

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/vinayprograms/taskbot/bus"
	"github.com/vinayprograms/taskbot/errors"
)

// SendSubject is the bus subject the chat gateway answers on.
const SendSubject = "chat.send"

// SendRequest is the payload published on SendSubject.
type SendRequest struct {
	Address Address  `json:"address"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// SendReply is the gateway's answer. Error is set when OK is false.
type SendReply struct {
	OK    bool          `json:"ok"`
	Error *errors.Error `json:"error,omitempty"`
}

// BusTransport sends messages through the chat gateway over a MessageBus.
type BusTransport struct {
	bus     bus.MessageBus
	subject string
	timeout time.Duration
}

// NewBusTransport creates a transport publishing requests on SendSubject.
func NewBusTransport(b bus.MessageBus, timeout time.Duration) *BusTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BusTransport{bus: b, subject: SendSubject, timeout: timeout}
}

// Send publishes the request and maps the gateway reply to an error.
func (t *BusTransport) Send(ctx context.Context, to Address, msg Message) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "send canceled")
	}
	data, err := json.Marshal(SendRequest{Address: to, Text: msg.Text, Actions: msg.Actions})
	if err != nil {
		return errors.Wrap(err, "encode send request")
	}

	timeout := t.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	reply, err := t.bus.Request(t.subject, data, timeout)
	switch {
	case stderrors.Is(err, bus.ErrNoResponders):
		return errors.New(errors.ErrCodeUnavailable, "chat gateway not connected", errors.WithCause(err))
	case stderrors.Is(err, bus.ErrTimeout):
		return errors.New(errors.ErrCodeTimeout, "chat gateway did not answer", errors.WithCause(err))
	case err != nil:
		return errors.New(errors.ErrCodeUnavailable, "chat gateway request failed", errors.WithCause(err))
	}

	var r SendReply
	if err := json.Unmarshal(reply.Data, &r); err != nil {
		return errors.Wrap(err, "decode send reply")
	}
	if r.OK {
		return nil
	}
	if r.Error == nil {
		return errors.Undeliverable(fmt.Sprintf("gateway refused message to %s", to))
	}
	return r.Error
}
