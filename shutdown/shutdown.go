// Package shutdown stops taskbot components in phases when the process
// receives SIGTERM or SIGINT.
//
// Lower phases stop first and handlers within a phase stop concurrently.
// taskbot serve registers:
//
//	PhaseIngress    http server, websocket connections, rpc bus subscription
//	PhaseWorkers    reminder scheduler, digest aggregator, dispatcher, calendar mirror
//	PhaseState      search index, task store backend
//	PhaseTransport  nats connection, telemetry exporters
package shutdown

import (
	"context"
	stderrors "errors"
	"time"
)

const (
	PhaseIngress   = 10
	PhaseWorkers   = 20
	PhaseState     = 30
	PhaseTransport = 40
)

var (
	// ErrAlreadyShutdown is returned by concurrent callers while a shutdown
	// is running.
	ErrAlreadyShutdown = stderrors.New("shutdown already initiated")

	// ErrTimeout means the context expired before every phase ran.
	ErrTimeout = stderrors.New("shutdown timeout exceeded")

	// ErrHandlerFailed wraps the names of handlers that returned an error.
	ErrHandlerFailed = stderrors.New("one or more handlers failed")

	ErrInvalidConfig = stderrors.New("invalid configuration")
)

// Handler is implemented by components that hold goroutines, connections
// or unflushed state.
type Handler interface {
	// OnShutdown stops the component. ctx expires at the shutdown timeout.
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult
	Err           error
}

func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that returned an error.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds a signal-triggered shutdown. Default: 30s.
	Timeout time.Duration

	// DefaultPhase is used by Register. Default: PhaseWorkers.
	DefaultPhase int

	// ContinueOnError runs later phases after a handler fails.
	ContinueOnError bool
}

func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		DefaultPhase:    PhaseWorkers,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
