package chat

import (
	"context"

	"github.com/vinayprograms/taskbot/logging"
)

// LogTransport writes messages to the log instead of a chat platform.
// It always succeeds and is meant for local runs without a gateway.
type LogTransport struct {
	logger *logging.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(logger *logging.Logger) *LogTransport {
	return &LogTransport{logger: logger.WithComponent("chat")}
}

// Send logs the message.
func (t *LogTransport) Send(_ context.Context, to Address, msg Message) error {
	actions := make([]string, 0, len(msg.Actions))
	for _, a := range msg.Actions {
		actions = append(actions, a.Data)
	}
	t.logger.Info("send", map[string]interface{}{
		"to":      int64(to),
		"text":    msg.Text,
		"actions": actions,
	})
	return nil
}
