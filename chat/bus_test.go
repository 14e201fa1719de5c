package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vinayprograms/taskbot/bus"
	"github.com/vinayprograms/taskbot/errors"
)

// gateway answers chat.send requests with the reply produced by answer.
func gateway(t *testing.T, b bus.MessageBus, answer func(SendRequest) SendReply) {
	t.Helper()
	sub, err := b.Subscribe(SendSubject)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	go func() {
		for msg := range sub.Messages() {
			var req SendRequest
			json.Unmarshal(msg.Data, &req)
			data, _ := json.Marshal(answer(req))
			b.Publish(msg.Reply, data)
		}
	}()
}

func TestBusTransport_Send(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	got := make(chan SendRequest, 1)
	gateway(t, b, func(req SendRequest) SendReply {
		got <- req
		return SendReply{OK: true}
	})

	tr := NewBusTransport(b, time.Second)
	msg := Message{Text: "hello", Actions: []Action{{Label: "Claim", Data: "claim:1"}}}
	if err := tr.Send(context.Background(), -100, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	req := <-got
	if req.Address != -100 || req.Text != "hello" || len(req.Actions) != 1 {
		t.Errorf("gateway saw %+v", req)
	}
}

func TestBusTransport_RateLimited(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	gateway(t, b, func(SendRequest) SendReply {
		return SendReply{Error: errors.RateLimited("429", errors.WithRetryAfter(3*time.Second))}
	})

	err := NewBusTransport(b, time.Second).Send(context.Background(), 5, Text("x"))
	if !errors.Is(err, errors.ErrCodeRateLimit) {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
	if errors.RetryAfter(err) != 3*time.Second {
		t.Errorf("RetryAfter = %v", errors.RetryAfter(err))
	}
}

func TestBusTransport_Refused(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	gateway(t, b, func(SendRequest) SendReply { return SendReply{} })

	err := NewBusTransport(b, time.Second).Send(context.Background(), 5, Text("x"))
	if !errors.Is(err, errors.ErrCodeUndeliverable) {
		t.Errorf("expected UNDELIVERABLE, got %v", err)
	}
}

func TestBusTransport_NoGateway(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	err := NewBusTransport(b, 50*time.Millisecond).Send(context.Background(), 5, Text("x"))
	if !errors.Is(err, errors.ErrCodeUnavailable) {
		t.Errorf("expected UNAVAILABLE, got %v", err)
	}
}

func TestMemoryTransport_ScriptedFailures(t *testing.T) {
	m := NewMemoryTransport()
	boom := errors.Undeliverable("blocked")
	m.FailNext(1, boom)

	if err := m.Send(context.Background(), 1, Text("a")); err != boom {
		t.Errorf("first send = %v, want scripted failure", err)
	}
	if err := m.Send(context.Background(), 1, Text("b")); err != nil {
		t.Errorf("second send = %v", err)
	}
	if m.Attempts(1) != 2 {
		t.Errorf("Attempts = %d", m.Attempts(1))
	}
	if msgs := m.SentTo(1); len(msgs) != 1 || msgs[0].Text != "b" {
		t.Errorf("SentTo = %+v", msgs)
	}

	m.FailAlways(2, boom)
	m.Send(context.Background(), 2, Text("c"))
	m.Send(context.Background(), 2, Text("d"))
	if len(m.SentTo(2)) != 0 || m.Attempts(2) != 2 {
		t.Errorf("FailAlways leaked sends")
	}
}

func TestAddress(t *testing.T) {
	if !Address(-100).IsGroup() || Address(42).IsGroup() {
		t.Error("IsGroup sign convention broken")
	}
	if Address(-100).String() != "-100" {
		t.Errorf("String = %s", Address(-100).String())
	}
}
