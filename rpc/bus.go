package rpc

import (
	"context"
	"sync"

	"github.com/vinayprograms/taskbot/bus"
	"github.com/vinayprograms/taskbot/logging"
)

// Subject is the bus subject the gateway sends requests on.
const Subject = "taskbot.rpc"

// QueueGroup lets several core replicas share the subject.
const QueueGroup = "taskbot"

// BusServer answers JSON-RPC requests arriving on the bus.
type BusServer struct {
	bus     bus.MessageBus
	handler Handler
	logger  *logging.Logger

	mu  sync.Mutex
	sub bus.Subscription
	wg  sync.WaitGroup
}

// NewBusServer creates a server for Subject.
func NewBusServer(b bus.MessageBus, handler Handler, logger *logging.Logger) *BusServer {
	if logger == nil {
		logger = logging.New()
	}
	return &BusServer{bus: b, handler: handler, logger: logger.WithComponent("rpc.bus")}
}

// Start subscribes and serves requests in the background until Stop is
// called or ctx is canceled. Requests are handled one at a time.
func (s *BusServer) Start(ctx context.Context) error {
	sub, err := s.bus.QueueSubscribe(Subject, QueueGroup)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				s.unsubscribe()
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				s.handle(ctx, msg)
			}
		}
	}()
	return nil
}

func (s *BusServer) handle(ctx context.Context, msg *bus.Message) {
	out := ServeBytes(ctx, s.handler, msg.Data)
	if out == nil || msg.Reply == "" {
		return
	}
	if err := s.bus.Publish(msg.Reply, out); err != nil {
		s.logger.Warn("rpc reply failed", map[string]interface{}{"error": err.Error()})
	}
}

// Stop unsubscribes and waits for the request in flight.
func (s *BusServer) Stop() error {
	err := s.unsubscribe()
	s.wg.Wait()
	return err
}

func (s *BusServer) unsubscribe() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
