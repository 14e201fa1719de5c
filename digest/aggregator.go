package digest

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/delivery"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/state"
	"github.com/vinayprograms/taskbot/tasks"
	"github.com/vinayprograms/taskbot/telemetry"
)

// LastRunKey holds the local date (YYYY-MM-DD) of the last digest.
const LastRunKey = "digest.last_run"

const dateLayout = "2006-01-02"

// Aggregator sends the daily digest.
type Aggregator struct {
	store      *tasks.Store
	state      state.StateStore
	registry   identity.Registry
	router     *delivery.Router
	dispatcher *delivery.Dispatcher
	logger     *logging.Logger
	tracer     *telemetry.Tracer

	loc      *time.Location
	hour     int
	minute   int
	window   time.Duration
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	lastRun string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTime sets the local time of day the digest goes out.
func WithTime(hour, minute int) Option {
	return func(a *Aggregator) {
		a.hour = hour
		a.minute = minute
	}
}

// WithWindow sets how long after the configured time a missed digest is
// still sent.
func WithWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		a.window = d
	}
}

// WithInterval sets how often Run checks the clock.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		a.interval = d
	}
}

// WithClock overrides time.Now for Run.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithLocation sets the zone that defines "today".
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		a.loc = loc
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// WithTracer sets the tracer. Defaults to the global one.
func WithTracer(t *telemetry.Tracer) Option {
	return func(a *Aggregator) {
		a.tracer = t
	}
}

// NewAggregator creates an aggregator. The last-run date lives in st.
func NewAggregator(store *tasks.Store, st state.StateStore, registry identity.Registry,
	router *delivery.Router, dispatcher *delivery.Dispatcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:      store,
		state:      st,
		registry:   registry,
		router:     router,
		dispatcher: dispatcher,
		logger:     logging.New(),
		loc:        time.Local,
		hour:       18,
		window:     60 * time.Minute,
		interval:   time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = telemetry.GetTracer()
	}
	a.logger = a.logger.WithComponent("digest")
	return a
}

// Run checks the clock every interval until ctx is canceled.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	a.RunAt(ctx, a.now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.RunAt(ctx, a.now())
		}
	}
}

// Due reports whether now falls inside today's send window.
func (a *Aggregator) Due(now time.Time) bool {
	local := now.In(a.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), a.hour, a.minute, 0, 0, a.loc)
	return !local.Before(start) && local.Before(start.Add(a.window))
}

// RunAt sends today's digests if now is inside the send window and they
// were not sent yet. It returns the number of messages started.
func (a *Aggregator) RunAt(ctx context.Context, now time.Time) int {
	if !a.Due(now) {
		return 0
	}
	today := now.In(a.loc).Format(dateLayout)
	if !a.claimDay(today) {
		return 0
	}

	traceID := uuid.NewString()
	logger := a.logger.WithTraceID(traceID)
	spanCtx, span := a.tracer.StartTickSpan(ctx, "digest.run", traceID)

	list := a.store.List(tasks.Filter{})
	groups := BuildGroups(list, now, a.loc)
	sent := 0
	for _, g := range groups {
		text := Render(g, a.loc)
		recipients := Recipients(g, a.registry)
		for _, to := range recipients {
			to := to
			scope := g.Scope()
			ok := a.dispatcher.Go(func(dctx context.Context) {
				dctx = telemetry.WithParentSpan(dctx, spanCtx)
				if err := a.router.Send(dctx, to, chat.Text(text)); err != nil {
					logger.Warn("digest not delivered", map[string]interface{}{
						"scope":   scope,
						"address": int64(to),
						"error":   err.Error(),
					})
				}
			})
			if !ok {
				logger.Warn("digest dropped, dispatcher stopped", map[string]interface{}{
					"scope":   scope,
					"address": int64(to),
				})
				continue
			}
			sent++
		}
		logger.DigestSent(g.Scope(), len(recipients))
	}

	a.tracer.EndTickSpan(span, telemetry.TickSpanOptions{Scanned: len(list), Fired: sent}, nil)
	return sent
}

// claimDay records today as done. The in-memory copy keeps the guard
// effective when the state store is failing.
func (a *Aggregator) claimDay(today string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastRun == today {
		return false
	}
	last, err := a.state.Get(LastRunKey)
	switch {
	case err == nil && string(last) == today:
		a.lastRun = today
		return false
	case err != nil && !stderrors.Is(err, state.ErrNotFound):
		a.logger.Warn("reading last digest date failed", map[string]interface{}{"error": err.Error()})
	}

	a.lastRun = today
	if err := a.state.Put(LastRunKey, []byte(today)); err != nil {
		a.logger.PersistFailed(err)
	}
	return true
}
