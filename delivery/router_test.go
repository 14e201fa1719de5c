package delivery

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/ratelimit"
	"github.com/vinayprograms/taskbot/state"
	"github.com/vinayprograms/taskbot/tasks"
)

const (
	author    chat.Address = 100
	claimant  chat.Address = 200
	mentioned chat.Address = 300
	group     chat.Address = -1000
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(discard{})
	return l
}

type sleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newRouter(t *testing.T, opts ...Option) (*Router, *chat.MemoryTransport, *sleeper) {
	t.Helper()
	reg, err := identity.NewStoreRegistry(state.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewStoreRegistry failed: %v", err)
	}
	reg.Register("carol", mentioned)

	transport := chat.NewMemoryTransport()
	s := &sleeper{}
	opts = append([]Option{WithSleep(s.sleep), WithLogger(quietLogger())}, opts...)
	return NewRouter(transport, reg, opts...), transport, s
}

func addr(a chat.Address) *chat.Address { return &a }

func groupTask() *tasks.Task {
	return &tasks.Task{ID: 1, Title: "t", AuthorID: author, OriginConversation: addr(group)}
}

func TestTargets(t *testing.T) {
	r, _, _ := newRouter(t)

	tests := []struct {
		name string
		task *tasks.Task
		want []Target
	}{
		{
			name: "claimed group task",
			task: &tasks.Task{AuthorID: author, ClaimantID: addr(claimant), MentionedHandle: "carol", OriginConversation: addr(group)},
			want: []Target{{TargetClaimant, claimant}, {TargetConversation, group}},
		},
		{
			name: "registered mention",
			task: &tasks.Task{AuthorID: author, MentionedHandle: "@Carol", OriginConversation: addr(group)},
			want: []Target{{TargetMentioned, mentioned}, {TargetConversation, group}},
		},
		{
			name: "unregistered mention in private",
			task: &tasks.Task{AuthorID: author, MentionedHandle: "dave", IsPrivate: true, OriginConversation: addr(author)},
			want: []Target{{TargetAuthor, author}},
		},
		{
			name: "author claimed own private task",
			task: &tasks.Task{AuthorID: author, ClaimantID: addr(author), IsPrivate: true},
			want: []Target{{TargetClaimant, author}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Targets(tt.task); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Targets() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeliver_FallsBackOnPermanentError(t *testing.T) {
	r, transport, s := newRouter(t)
	task := groupTask()
	task.ClaimantID = addr(claimant)
	transport.FailAlways(claimant, errors.New(errors.ErrCodeUndeliverable, "blocked the bot"))

	res, err := r.Deliver(context.Background(), task, chat.Text("ping"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !res.OK() || res.Delivered.Kind != TargetConversation {
		t.Errorf("delivered to %+v, want conversation", res.Delivered)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Err == nil {
		t.Errorf("attempts = %+v", res.Attempts)
	}
	if transport.Attempts(claimant) != 1 {
		t.Errorf("permanent errors are not retried: %d attempts", transport.Attempts(claimant))
	}
	if len(s.waits) != 0 {
		t.Errorf("unexpected backoff: %v", s.waits)
	}
}

func TestDeliver_RetriesRateLimitOnSameTarget(t *testing.T) {
	r, transport, s := newRouter(t)
	task := groupTask()
	task.ClaimantID = addr(claimant)
	transport.FailNext(claimant,
		errors.RateLimited("slow down", errors.WithRetryAfter(2*time.Second)),
		errors.RateLimited("slow down"))

	res, err := r.Deliver(context.Background(), task, chat.Text("ping"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Delivered.Kind != TargetClaimant {
		t.Errorf("delivered to %v, want claimant", res.Delivered.Kind)
	}
	if transport.Attempts(claimant) != 3 || transport.Attempts(group) != 0 {
		t.Errorf("attempts claimant=%d group=%d", transport.Attempts(claimant), transport.Attempts(group))
	}
	want := []time.Duration{2 * time.Second, DefaultRetryAfter}
	if !reflect.DeepEqual(s.waits, want) {
		t.Errorf("waits = %v, want %v", s.waits, want)
	}
	if len(transport.SentTo(claimant)) != 1 {
		t.Error("message should be sent exactly once")
	}
}

func TestDeliver_RateLimitExhaustedFallsBack(t *testing.T) {
	r, transport, s := newRouter(t, WithMaxRateLimitRetries(1))
	task := groupTask()
	task.ClaimantID = addr(claimant)
	transport.FailAlways(claimant, errors.RateLimited("slow down", errors.WithRetryAfter(time.Second)))

	res, err := r.Deliver(context.Background(), task, chat.Text("ping"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Delivered.Kind != TargetConversation {
		t.Errorf("delivered to %v", res.Delivered.Kind)
	}
	if transport.Attempts(claimant) != 2 || len(s.waits) != 1 {
		t.Errorf("attempts=%d waits=%v", transport.Attempts(claimant), s.waits)
	}
}

func TestDeliver_Undeliverable(t *testing.T) {
	r, transport, _ := newRouter(t)
	task := groupTask()
	task.MentionedHandle = "carol"
	transport.FailAlways(mentioned, errors.New(errors.ErrCodeUnavailable, "down"))
	transport.FailAlways(group, errors.New(errors.ErrCodeUnavailable, "down"))

	res, err := r.Deliver(context.Background(), task, chat.Text("ping"))
	if !errors.Is(err, errors.ErrCodeUndeliverable) {
		t.Fatalf("expected UNDELIVERABLE, got %v", err)
	}
	if res.OK() || len(res.Attempts) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestDeliverComposed_PerTarget(t *testing.T) {
	r, transport, _ := newRouter(t)
	task := groupTask()
	task.MentionedHandle = "carol"
	transport.FailAlways(mentioned, errors.New(errors.ErrCodeUndeliverable, "blocked"))

	_, err := r.DeliverComposed(context.Background(), task, func(target Target) chat.Message {
		if target.Kind == TargetConversation {
			return chat.Text("@carol has not claimed it")
		}
		return chat.Text("please claim it")
	})
	if err != nil {
		t.Fatalf("DeliverComposed failed: %v", err)
	}
	got := transport.SentTo(group)
	if len(got) != 1 || got[0].Text != "@carol has not claimed it" {
		t.Errorf("group got %+v", got)
	}
}

func TestDeliver_CanceledContext(t *testing.T) {
	r, _, _ := newRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Deliver(ctx, groupTask(), chat.Text("ping"))
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Errorf("expected CANCELED, got %v", err)
	}
}

func TestSend_PenalizesLimiter(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.WithDefaultCapacity(10, time.Second))
	defer limiter.Close()
	r, transport, _ := newRouter(t, WithLimiter(limiter))
	transport.FailNext(claimant, errors.RateLimited("slow down", errors.WithRetryAfter(20*time.Millisecond)))

	start := time.Now()
	if err := r.Send(context.Background(), claimant, chat.Text("ping")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("retry should wait for the penalized bucket")
	}
	c := limiter.GetCapacity("chat.200")
	if c == nil || c.BlockedUntil.IsZero() {
		t.Errorf("limiter not penalized: %+v", c)
	}
}

func TestSend_UnknownResourceIsUnpaced(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	r, transport, _ := newRouter(t, WithLimiter(limiter))
	if err := r.Send(context.Background(), author, chat.Text("hi")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(transport.SentTo(author)) != 1 {
		t.Error("message not sent")
	}
}
