package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/search"
	"github.com/vinayprograms/taskbot/state"
	"github.com/vinayprograms/taskbot/tasks"
)

var testLoc = time.FixedZone("EET", 2*60*60)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(discard{})
	return l
}

type fixture struct {
	svc       *Service
	store     *tasks.Store
	registry  *identity.StoreRegistry
	transport *chat.MemoryTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := state.NewMemoryStore()
	registry, err := identity.NewStoreRegistry(backend)
	if err != nil {
		t.Fatalf("NewStoreRegistry failed: %v", err)
	}
	store := tasks.NewStore(backend, tasks.WithStoreLogger(quietLogger()))
	transport := chat.NewMemoryTransport()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, testLoc)
	mgr := tasks.NewManager(store, transport,
		tasks.WithClock(func() time.Time { return now }),
		tasks.WithLocation(testLoc),
		tasks.WithRegistry(registry),
		tasks.WithLogger(quietLogger()))

	idx, err := search.New(store, quietLogger())
	if err != nil {
		t.Fatalf("search.New failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	svc := NewService(mgr, registry, WithSearch(idx), WithLogger(quietLogger()))
	return &fixture{svc: svc, store: store, registry: registry, transport: transport}
}

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func (f *fixture) call(t *testing.T, method string, params interface{}) rawResponse {
	t.Helper()
	p, _ := json.Marshal(params)
	req, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: method, Params: p})
	out := ServeBytes(context.Background(), f.svc, req)
	var resp rawResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("bad response %s: %v", out, err)
	}
	return resp
}

func (f *fixture) task(t *testing.T, method string, params interface{}) *tasks.Task {
	t.Helper()
	resp := f.call(t, method, params)
	if resp.Error != nil {
		t.Fatalf("%s failed: %d %s %s", method, resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}
	var task tasks.Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return &task
}

var (
	alice = tasks.Actor{ID: 100, Handle: "alice"}
	bob   = tasks.Actor{ID: 200, Handle: "bob"}
	group = chat.Address(-1000)
)

func TestService_Lifecycle(t *testing.T) {
	f := newFixture(t)

	created := f.task(t, MethodTaskCreate, CreateParams{
		Author: alice, Title: "Renew domain", Category: "urgent", Conversation: &group,
	})
	if created.ID != 1 || created.Status != tasks.StatusNew || created.Category != tasks.CategoryUrgent {
		t.Fatalf("created = %+v", created)
	}

	claimed := f.task(t, MethodTaskClaim, TaskRef{ID: 1, Actor: bob})
	if claimed.Status != tasks.StatusClaimed || claimed.ClaimantHandle != "bob" {
		t.Errorf("claimed = %+v", claimed)
	}
	done := f.task(t, MethodTaskComplete, TaskRef{ID: 1, Actor: bob})
	if done.Status != tasks.StatusCompleted {
		t.Errorf("status = %s", done.Status)
	}

	resp := f.call(t, MethodTaskClaim, TaskRef{ID: 1, Actor: bob})
	if resp.Error == nil || resp.Error.Code != DomainError {
		t.Fatalf("expected a domain error, got %+v", resp)
	}
	var data struct {
		Code   string `json:"code"`
		TaskID int64  `json:"task_id"`
	}
	json.Unmarshal(resp.Error.Data, &data)
	if data.Code != "ALREADY_TERMINAL" || data.TaskID != 1 {
		t.Errorf("error data = %s", resp.Error.Data)
	}
}

func TestService_ListAndGet(t *testing.T) {
	f := newFixture(t)
	other := chat.Address(-2000)
	f.task(t, MethodTaskCreate, CreateParams{Author: alice, Title: "one", Conversation: &group})
	f.task(t, MethodTaskCreate, CreateParams{Author: alice, Title: "two", Conversation: &other})

	resp := f.call(t, MethodTaskList, ListParams{Conversation: &group})
	var list []tasks.Task
	json.Unmarshal(resp.Result, &list)
	if len(list) != 1 || list[0].Title != "one" {
		t.Errorf("list = %+v", list)
	}

	if got := f.task(t, MethodTaskGet, TaskRef{ID: 2}); got.Title != "two" {
		t.Errorf("get = %+v", got)
	}
	if resp := f.call(t, MethodTaskGet, TaskRef{ID: 9}); resp.Error == nil || resp.Error.Code != DomainError {
		t.Errorf("missing task should be a domain error: %+v", resp)
	}
}

func TestService_DeadlineFlowThroughInput(t *testing.T) {
	f := newFixture(t)
	f.task(t, MethodTaskCreate, CreateParams{Author: alice, Title: "Report", Conversation: &group})
	f.task(t, MethodDeadlineBegin, TaskRef{ID: 1, Actor: alice})

	resp := f.call(t, MethodInputSubmit, InputParams{Actor: alice, Text: "12.03 18:00"})
	if resp.Error != nil {
		t.Fatalf("input.submit failed: %s", resp.Error.Data)
	}
	var result InputResult
	json.Unmarshal(resp.Result, &result)
	if result.Answered != tasks.InputNewDeadline {
		t.Errorf("answered = %q", result.Answered)
	}
	want := time.Date(2026, 3, 12, 18, 0, 0, 0, testLoc)
	if result.Task == nil || result.Task.Deadline == nil || !result.Task.Deadline.Equal(want) {
		t.Errorf("deadline = %v", result.Task)
	}
}

func TestService_ProposalAndPress(t *testing.T) {
	f := newFixture(t)
	f.task(t, MethodTaskCreate, CreateParams{Author: alice, Title: "Report", Conversation: &group})
	f.task(t, MethodTaskClaim, TaskRef{ID: 1, Actor: bob})

	proposed := f.task(t, MethodDeadlinePropose, TextParams{ID: 1, Actor: bob, Text: "13.03 12:00", Reason: "waiting on data"})
	if proposed.PendingChange == nil || !proposed.PendingChange.Ready() {
		t.Fatalf("proposal not ready: %+v", proposed.PendingChange)
	}

	confirmed := f.task(t, MethodActionPress, InputParams{Actor: alice, Data: "deadline_confirm:1"})
	if confirmed.PendingChange != nil {
		t.Errorf("proposal still pending after confirm")
	}
}

func TestService_RemindersMode(t *testing.T) {
	f := newFixture(t)
	f.task(t, MethodTaskCreate, CreateParams{Author: alice, Title: "Report", Conversation: &group})

	if resp := f.call(t, MethodRemindersMode, ModeParams{ID: 1, Actor: alice, Mode: "weekly"}); resp.Error == nil {
		t.Error("unknown mode accepted")
	}
	opened := f.task(t, MethodRemindersMode, ModeParams{ID: 1, Actor: alice, Mode: "custom"})
	if opened.PendingInput == nil || opened.PendingInput.Kind != tasks.InputCustomSchedule {
		t.Fatalf("prompt = %+v", opened.PendingInput)
	}
	custom := f.task(t, MethodRemindersCustom, TextParams{ID: 1, Actor: alice, Text: "12:00\n15:30"})
	if len(custom.Reminders.CustomInstants) != 2 || custom.Reminders.UseDefault {
		t.Errorf("reminders = %+v", custom.Reminders)
	}
}

func TestService_Search(t *testing.T) {
	f := newFixture(t)
	f.task(t, MethodTaskCreate, CreateParams{Author: alice, Title: "Renew passport", Conversation: &group})
	f.task(t, MethodTaskCreate, CreateParams{Author: alice, Title: "Buy milk", Conversation: &group})

	resp := f.call(t, MethodTaskSearch, SearchParams{Query: "passport"})
	var found []tasks.Task
	json.Unmarshal(resp.Result, &found)
	if len(found) != 1 || found[0].ID != 1 {
		t.Errorf("search = %+v", found)
	}
}

func TestService_Identity(t *testing.T) {
	f := newFixture(t)

	if resp := f.call(t, MethodIdentityRegister, RegisterParams{Handle: "@Carol", Address: 300}); resp.Error != nil {
		t.Fatalf("register failed: %s", resp.Error.Data)
	}
	if addr, ok := f.registry.Resolve("carol"); !ok || addr != 300 {
		t.Errorf("Resolve(carol) = %v, %v", addr, ok)
	}
	if resp := f.call(t, MethodIdentityRegister, RegisterParams{Handle: "team", Address: -5}); resp.Error == nil {
		t.Error("group address registered")
	}

	resp := f.call(t, MethodIdentityList, nil)
	var entries []identity.Entry
	json.Unmarshal(resp.Result, &entries)
	if len(entries) != 1 || entries[0].Handle != "carol" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestServeBytes_ProtocolErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   string
		code int
	}{
		{"parse", `{not json`, ParseError},
		{"version", `{"jsonrpc":"1.0","id":1,"method":"task.get"}`, InvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"task.fly"}`, MethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"task.claim"}`, InvalidParams},
		{"bad params", `{"jsonrpc":"2.0","id":1,"method":"task.claim","params":{"id":"x"}}`, InvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp rawResponse
			json.Unmarshal(ServeBytes(context.Background(), f.svc, []byte(tt.in)), &resp)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("got %+v, want code %d", resp.Error, tt.code)
			}
		})
	}
}

func TestServeBytes_NotificationHasNoResponse(t *testing.T) {
	f := newFixture(t)
	params, _ := json.Marshal(CreateParams{Author: alice, Title: "quiet", Conversation: &group})
	req, _ := json.Marshal(Request{JSONRPC: "2.0", Method: MethodTaskCreate, Params: params})
	if out := ServeBytes(context.Background(), f.svc, req); out != nil {
		t.Errorf("notification answered: %s", out)
	}
	if f.store.Len() != 1 {
		t.Error("notification was not executed")
	}
}

func TestService_Methods(t *testing.T) {
	f := newFixture(t)
	if got := len(f.svc.Methods()); got != 20 {
		t.Errorf("Methods() has %d entries", got)
	}
}
