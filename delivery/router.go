// Package delivery routes task notifications to the right person with a
// guaranteed fallback.
//
// A notification goes to the claimant, or to the mentioned handle when
// nobody has claimed the task and the handle is registered. When that
// fails it falls back to the origin conversation for group tasks, or to
// the author for private ones. Rate-limited sends are retried against the
// same address after the transport's retry-after; any other error moves
// on to the next target.
package delivery

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/ratelimit"
	"github.com/vinayprograms/taskbot/tasks"
	"github.com/vinayprograms/taskbot/telemetry"
)

// TargetKind names why an address was chosen.
type TargetKind string

const (
	TargetClaimant     TargetKind = "claimant"
	TargetMentioned    TargetKind = "mentioned"
	TargetConversation TargetKind = "conversation"
	TargetAuthor       TargetKind = "author"
)

// Target is one candidate recipient.
type Target struct {
	Kind    TargetKind
	Address chat.Address
}

// Composer renders the message for a target. Reminders read differently
// in a group than in a private chat.
type Composer func(Target) chat.Message

// Attempt records one target tried by Deliver.
type Attempt struct {
	Target Target
	Err    error
}

// Result is the outcome of routing one notification.
type Result struct {
	Delivered *Target
	Attempts  []Attempt
}

// OK reports whether some target received the message.
func (r Result) OK() bool {
	return r.Delivered != nil
}

const (
	DefaultMaxRateLimitRetries = 3
	DefaultRetryAfter          = 5 * time.Second
)

// Router implements the fallback chain.
type Router struct {
	transport  chat.Transport
	registry   identity.Registry
	limiter    ratelimit.RateLimiter
	logger     *logging.Logger
	tracer     *telemetry.Tracer
	maxRetries int
	retryAfter time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Router.
type Option func(*Router)

// WithLimiter paces sends per address.
func WithLimiter(l ratelimit.RateLimiter) Option {
	return func(r *Router) {
		r.limiter = l
	}
}

// WithMaxRateLimitRetries bounds re-sends after RATE_LIMITED.
func WithMaxRateLimitRetries(n int) Option {
	return func(r *Router) {
		r.maxRetries = n
	}
}

// WithDefaultRetryAfter is the backoff used when a RATE_LIMITED error
// carries none.
func WithDefaultRetryAfter(d time.Duration) Option {
	return func(r *Router) {
		r.retryAfter = d
	}
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Router) {
		r.sleep = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithTracer sets the tracer. Defaults to the global one.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Router) {
		r.tracer = t
	}
}

// NewRouter creates a Router. registry may be nil, in which case mentioned
// handles never resolve.
func NewRouter(transport chat.Transport, registry identity.Registry, opts ...Option) *Router {
	r := &Router{
		transport:  transport,
		registry:   registry,
		logger:     logging.New(),
		maxRetries: DefaultMaxRateLimitRetries,
		retryAfter: DefaultRetryAfter,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = telemetry.GetTracer()
	}
	r.logger = r.logger.WithComponent("delivery")
	return r
}

type targetList []Target

func (l *targetList) add(kind TargetKind, addr chat.Address) {
	for _, existing := range *l {
		if existing.Address == addr {
			return
		}
	}
	*l = append(*l, Target{Kind: kind, Address: addr})
}

// Targets returns the ordered candidates for t, without duplicates.
func (r *Router) Targets(t *tasks.Task) []Target {
	var out targetList
	if t.ClaimantID != nil {
		out.add(TargetClaimant, *t.ClaimantID)
	} else if addr, ok := r.resolve(t.MentionedHandle); ok {
		out.add(TargetMentioned, addr)
	}
	addFallback(&out, t)
	return out
}

// EscalationTargets skips the claimant and mentioned handle: escalations
// are for the people who can reassign the task.
func (r *Router) EscalationTargets(t *tasks.Task) []Target {
	var out targetList
	if !t.IsPrivate && t.OriginConversation != nil {
		out.add(TargetConversation, *t.OriginConversation)
	}
	out.add(TargetAuthor, t.AuthorID)
	return out
}

func addFallback(out *targetList, t *tasks.Task) {
	if !t.IsPrivate && t.OriginConversation != nil {
		out.add(TargetConversation, *t.OriginConversation)
	} else {
		out.add(TargetAuthor, t.AuthorID)
	}
}

func (r *Router) resolve(handle string) (chat.Address, bool) {
	if handle == "" || r.registry == nil {
		return 0, false
	}
	return r.registry.Resolve(handle)
}

// Deliver routes msg for t.
func (r *Router) Deliver(ctx context.Context, t *tasks.Task, msg chat.Message) (Result, error) {
	return r.DeliverComposed(ctx, t, func(Target) chat.Message { return msg })
}

// DeliverComposed routes a per-target message for t.
func (r *Router) DeliverComposed(ctx context.Context, t *tasks.Task, compose Composer) (Result, error) {
	return r.DeliverTo(ctx, t, r.Targets(t), compose)
}

// DeliverTo tries targets in order and stops at the first success. The
// error is UNDELIVERABLE when every target failed.
func (r *Router) DeliverTo(ctx context.Context, t *tasks.Task, targets []Target, compose Composer) (Result, error) {
	ctx, span := r.tracer.StartDeliverySpan(ctx, t.ID)

	var res Result
	for _, target := range targets {
		msg := compose(target)
		err := r.Send(ctx, target.Address, msg)
		res.Attempts = append(res.Attempts, Attempt{Target: target, Err: err})
		if err == nil {
			delivered := target
			res.Delivered = &delivered
			r.tracer.EndDeliverySpan(span, telemetry.DeliverySpanOptions{
				TaskID:   t.ID,
				Target:   string(target.Kind),
				Address:  int64(target.Address),
				Attempts: len(res.Attempts),
				Text:     msg.Text,
			}, nil)
			return res, nil
		}
		r.logger.DeliveryFailed(t.ID, string(target.Kind), int64(target.Address), err)
		if ctx.Err() != nil {
			break
		}
	}

	err := errors.Undeliverable("no recipient reachable for task #"+strconv.FormatInt(t.ID, 10), errors.WithTaskID(t.ID))
	if cerr := ctx.Err(); cerr != nil {
		err = errors.Wrap(cerr, "delivery canceled", errors.WithTaskID(t.ID))
	}
	r.tracer.EndDeliverySpan(span, telemetry.DeliverySpanOptions{TaskID: t.ID, Attempts: len(res.Attempts)}, err)
	return res, err
}

// Send delivers msg to one address, re-sending after rate limits. It
// satisfies tasks.Notifier so direct notifications share the pacing and
// backoff.
func (r *Router) Send(ctx context.Context, to chat.Address, msg chat.Message) error {
	resource := "chat." + to.String()
	for retries := 0; ; retries++ {
		if r.limiter != nil {
			if err := r.limiter.Acquire(ctx, resource); err != nil && !stderrors.Is(err, ratelimit.ErrResourceUnknown) {
				return err
			}
		}
		err := r.transport.Send(ctx, to, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errors.ErrCodeRateLimit) || retries >= r.maxRetries {
			return err
		}

		wait := errors.RetryAfter(err)
		if wait <= 0 {
			wait = r.retryAfter
		}
		if r.limiter != nil {
			r.limiter.Penalize(resource, wait)
		}
		r.logger.Warn("rate limited, retrying", map[string]interface{}{
			"address":     int64(to),
			"retry_after": wait.String(),
			"retry":       retries + 1,
		})
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
