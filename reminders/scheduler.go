// Package reminders sweeps the task set on a fixed tick and sends
// deadline reminders and unclaimed-task escalations.
package reminders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/delivery"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/tasks"
	"github.com/vinayprograms/taskbot/telemetry"
)

const (
	DefaultInterval = time.Minute
	DefaultCatchUp  = 60 * time.Minute
)

type jobKind int

const (
	jobDefault jobKind = iota
	jobCustom
	jobEscalation
)

// job is one send decided during a sweep. The task is a snapshot taken
// under the store lock.
type job struct {
	kind jobKind
	key  string
	task *tasks.Task
	left time.Duration
}

// Scheduler evaluates reminders for every active task.
type Scheduler struct {
	store      *tasks.Store
	router     *delivery.Router
	dispatcher *delivery.Dispatcher
	logger     *logging.Logger
	tracer     *telemetry.Tracer
	loc        *time.Location
	interval   time.Duration
	catchUp    time.Duration
	now        func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithCatchUp bounds how late a custom instant may still fire.
func WithCatchUp(d time.Duration) Option {
	return func(s *Scheduler) {
		s.catchUp = d
	}
}

// WithClock overrides time.Now for Run.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLocation sets the zone used to render deadlines.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.loc = loc
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = t
	}
}

// NewScheduler creates a scheduler. Sends run on dispatcher.
func NewScheduler(store *tasks.Store, router *delivery.Router, dispatcher *delivery.Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		router:     router,
		dispatcher: dispatcher,
		logger:     logging.New(),
		loc:        time.Local,
		interval:   DefaultInterval,
		catchUp:    DefaultCatchUp,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = telemetry.GetTracer()
	}
	s.logger = s.logger.WithComponent("scheduler")
	return s
}

// Run ticks until ctx is canceled. The first sweep runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
		"catch_up": s.catchUp.String(),
	})
	s.Tick(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick runs one sweep at now and returns how many sends it started.
// Keys are consumed under the store lock before anything is sent, so a
// concurrent or repeated tick never fires the same key twice.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	traceID := uuid.NewString()
	logger := s.logger.WithTraceID(traceID)
	ctx, span := s.tracer.StartTickSpan(ctx, "reminders.tick", traceID)

	var (
		jobs    []job
		scanned int
	)
	s.store.Sweep(func(t *tasks.Task) bool {
		if t.Status.IsTerminal() || t.Deadline == nil || !t.Deadline.After(now) {
			return false
		}
		scanned++
		found := s.evaluate(t, now)
		if len(found) == 0 {
			return false
		}
		snapshot := t.Clone()
		for i := range found {
			found[i].task = snapshot
			logger.ReminderFired(t.ID, found[i].key)
		}
		jobs = append(jobs, found...)
		return true
	})

	// Keys stay marked when the dispatcher refuses a job; a stopped
	// dispatcher means the process is shutting down.
	started := 0
	for _, j := range jobs {
		j := j
		ok := s.dispatcher.Go(func(dctx context.Context) {
			s.send(telemetry.WithParentSpan(dctx, ctx), logger, j)
		})
		if !ok {
			logger.Warn("reminder dropped, dispatcher stopped", map[string]interface{}{
				"task_id": j.task.ID,
				"key":     j.key,
			})
			continue
		}
		started++
	}

	s.tracer.EndTickSpan(span, telemetry.TickSpanOptions{Scanned: scanned, Fired: started}, nil)
	if len(jobs) > 0 {
		logger.Debug("tick complete", map[string]interface{}{
			"scanned": scanned,
			"fired":   started,
			"dropped": len(jobs) - started,
		})
	}
	return started
}

// evaluate decides what is due for t and marks it fired. t is the live
// task; the caller holds the store lock.
func (s *Scheduler) evaluate(t *tasks.Task, now time.Time) []job {
	var out []job
	left := t.Deadline.Sub(now)

	customActive := !t.Reminders.UseDefault && len(t.Reminders.CustomInstants) > 0
	if customActive {
		for _, at := range t.Reminders.CustomInstants {
			key := tasks.CustomKey(at)
			if t.Reminders.HasFiredCustom(key) {
				continue
			}
			if now.Before(at) || !now.Before(at.Add(s.catchUp)) {
				continue
			}
			t.Reminders.MarkCustom(key)
			out = append(out, job{kind: jobCustom, key: key, left: left})
		}
	} else if key, ok := DueThreshold(t.Category, HoursLeft(*t.Deadline, now)); ok && !t.Reminders.HasFiredDefault(key) {
		t.Reminders.MarkDefault(key)
		out = append(out, job{kind: jobDefault, key: key, left: left})
	}

	if t.ClaimantID == nil && !t.Reminders.NotTakenSent && !now.Before(t.CreatedAt.Add(EscalationWait(t.Category))) {
		t.Reminders.NotTakenSent = true
		out = append(out, job{kind: jobEscalation, key: "not_taken", left: left})
	}
	return out
}

func (s *Scheduler) send(ctx context.Context, logger *logging.Logger, j job) {
	if j.kind == jobEscalation {
		targets := s.router.EscalationTargets(j.task)
		if _, err := s.router.DeliverTo(ctx, j.task, targets, func(delivery.Target) chat.Message {
			return escalationMessage(j.task)
		}); err != nil {
			logger.Warn("escalation undeliverable", map[string]interface{}{
				"task_id": j.task.ID,
				"error":   err.Error(),
			})
		}
		return
	}

	res, err := s.router.DeliverComposed(ctx, j.task, func(target delivery.Target) chat.Message {
		return reminderMessage(j.task, target, j.left, s.loc)
	})
	if err != nil {
		logger.Warn("reminder undeliverable", map[string]interface{}{
			"task_id": j.task.ID,
			"key":     j.key,
			"error":   err.Error(),
		})
	}

	if res.Delivered != nil && res.Delivered.Address == j.task.AuthorID {
		return
	}
	if err := s.router.Send(ctx, j.task.AuthorID, summaryMessage(j.task, res)); err != nil {
		logger.Debug("author summary failed", map[string]interface{}{
			"task_id": j.task.ID,
			"error":   err.Error(),
		})
	}
}
