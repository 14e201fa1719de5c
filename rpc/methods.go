package rpc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/search"
	"github.com/vinayprograms/taskbot/tasks"
	"github.com/vinayprograms/taskbot/telemetry"
)

// Method names.
const (
	MethodTaskCreate       = "task.create"
	MethodTaskClaim        = "task.claim"
	MethodTaskComplete     = "task.complete"
	MethodTaskReject       = "task.reject"
	MethodTaskDelete       = "task.delete"
	MethodTaskGet          = "task.get"
	MethodTaskList         = "task.list"
	MethodTaskSearch       = "task.search"
	MethodDeadlineBegin    = "deadline.begin"
	MethodDeadlineChange   = "deadline.change"
	MethodDeadlinePropose  = "deadline.propose"
	MethodDeadlineReason   = "deadline.reason"
	MethodDeadlineConfirm  = "deadline.confirm"
	MethodDeadlineReject   = "deadline.reject"
	MethodRemindersMode    = "reminders.mode"
	MethodRemindersCustom  = "reminders.custom"
	MethodInputSubmit      = "input.submit"
	MethodActionPress      = "action.press"
	MethodIdentityRegister = "identity.register"
	MethodIdentityList     = "identity.list"
)

// TaskRef names a task and who acts on it.
type TaskRef struct {
	ID    int64       `json:"id"`
	Actor tasks.Actor `json:"actor"`
}

// CreateParams are the parameters of task.create.
type CreateParams struct {
	Author       tasks.Actor   `json:"author"`
	Title        string        `json:"title"`
	Category     string        `json:"category,omitempty"`
	Deadline     string        `json:"deadline,omitempty"`
	Mentioned    string        `json:"mentioned,omitempty"`
	Conversation *chat.Address `json:"conversation,omitempty"`
	Private      bool          `json:"private,omitempty"`
}

// ListParams are the parameters of task.list.
type ListParams struct {
	Conversation *chat.Address  `json:"conversation,omitempty"`
	Author       *chat.Address  `json:"author,omitempty"`
	Statuses     []tasks.Status `json:"statuses,omitempty"`
	ActiveOnly   bool           `json:"active_only,omitempty"`
}

// SearchParams are the parameters of task.search.
type SearchParams struct {
	Query        string        `json:"query"`
	Conversation *chat.Address `json:"conversation,omitempty"`
	ActiveOnly   bool          `json:"active_only,omitempty"`
	Limit        int           `json:"limit,omitempty"`
}

// TextParams carry free text for a task: a deadline, a reason or a schedule.
type TextParams struct {
	ID     int64       `json:"id"`
	Actor  tasks.Actor `json:"actor"`
	Text   string      `json:"text"`
	Reason string      `json:"reason,omitempty"`
}

// ModeParams are the parameters of reminders.mode.
type ModeParams struct {
	ID    int64       `json:"id"`
	Actor tasks.Actor `json:"actor"`
	Mode  string      `json:"mode"`
}

// InputParams are the parameters of input.submit and action.press.
type InputParams struct {
	Actor tasks.Actor `json:"actor"`
	Text  string      `json:"text,omitempty"`
	Data  string      `json:"data,omitempty"`
}

// InputResult tells the gateway which prompt a free-text reply answered.
type InputResult struct {
	Task     *tasks.Task     `json:"task"`
	Answered tasks.InputKind `json:"answered"`
}

// RegisterParams are the parameters of identity.register.
type RegisterParams struct {
	Handle  string       `json:"handle"`
	Address chat.Address `json:"address"`
}

// Service dispatches JSON-RPC methods to the task manager.
type Service struct {
	manager  *tasks.Manager
	registry identity.Registry
	index    *search.Index
	logger   *logging.Logger
	tracer   *telemetry.Tracer

	methods map[string]func(context.Context, json.RawMessage) (interface{}, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSearch enables task.search.
func WithSearch(idx *search.Index) ServiceOption {
	return func(s *Service) {
		s.index = idx
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithTracer sets the tracer. Defaults to the global one.
func WithTracer(t *telemetry.Tracer) ServiceOption {
	return func(s *Service) {
		s.tracer = t
	}
}

// NewService builds the method table.
func NewService(manager *tasks.Manager, registry identity.Registry, opts ...ServiceOption) *Service {
	s := &Service{
		manager:  manager,
		registry: registry,
		logger:   logging.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = telemetry.GetTracer()
	}
	s.logger = s.logger.WithComponent("rpc")

	m := manager
	s.methods = map[string]func(context.Context, json.RawMessage) (interface{}, error){
		MethodTaskCreate:       s.create,
		MethodTaskClaim:        onTask(m.Claim),
		MethodTaskComplete:     onTask(m.Complete),
		MethodTaskReject:       onTask(m.Reject),
		MethodTaskDelete:       onTask(m.Delete),
		MethodTaskGet:          s.get,
		MethodTaskList:         s.list,
		MethodTaskSearch:       s.search,
		MethodDeadlineBegin:    onTask(m.BeginDeadlineChange),
		MethodDeadlineChange:   withText(m.ChangeDeadline),
		MethodDeadlinePropose:  s.propose,
		MethodDeadlineReason:   withText(m.SupplyReason),
		MethodDeadlineConfirm:  onTask(m.ConfirmDeadlineChange),
		MethodDeadlineReject:   onTask(m.RejectDeadlineChange),
		MethodRemindersMode:    s.mode,
		MethodRemindersCustom:  withText(m.SupplyCustomSchedule),
		MethodInputSubmit:      s.submit,
		MethodActionPress:      s.press,
		MethodIdentityRegister: s.register,
		MethodIdentityList:     s.identities,
	}
	return s
}

// Methods lists the supported method names.
func (s *Service) Methods() []string {
	out := make([]string, 0, len(s.methods))
	for name := range s.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handle implements Handler.
func (s *Service) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	fn, ok := s.methods[method]
	if !ok {
		return nil, &Error{Code: MethodNotFound, Message: "Method not found", Data: method}
	}

	ctx, span := s.tracer.StartRPCSpan(ctx, method)
	result, err := fn(ctx, params)
	s.tracer.EndRPCSpan(span, err)

	if err != nil {
		s.logger.Debug("rpc call failed", map[string]interface{}{
			"method": method,
			"code":   string(errors.Code(err)),
			"error":  err.Error(),
		})
	}
	return result, err
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return &Error{Code: InvalidParams, Message: "Invalid params", Data: "params are required"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &Error{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

func onTask(fn func(context.Context, int64, tasks.Actor) (*tasks.Task, error)) func(context.Context, json.RawMessage) (interface{}, error) {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p TaskRef
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p.ID, p.Actor)
	}
}

func withText(fn func(context.Context, int64, tasks.Actor, string) (*tasks.Task, error)) func(context.Context, json.RawMessage) (interface{}, error) {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p TextParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p.ID, p.Actor, p.Text)
	}
}

func (s *Service) create(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p CreateParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	req := tasks.CreateRequest{
		Author:          p.Author,
		Title:           p.Title,
		Deadline:        p.Deadline,
		MentionedHandle: p.Mentioned,
		Conversation:    p.Conversation,
		Private:         p.Private,
	}
	if p.Category != "" {
		cat, err := tasks.ParseCategory(p.Category)
		if err != nil {
			return nil, err
		}
		req.Category = cat
	}
	return s.manager.Create(ctx, req)
}

func (s *Service) get(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var p TaskRef
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return s.manager.Get(p.ID)
}

func (s *Service) list(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var p ListParams
	if len(raw) > 0 {
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
	}
	list := s.manager.List(tasks.Filter{
		Conversation: p.Conversation,
		Author:       p.Author,
		Statuses:     p.Statuses,
		ActiveOnly:   p.ActiveOnly,
	})
	if list == nil {
		list = []*tasks.Task{}
	}
	return list, nil
}

func (s *Service) search(_ context.Context, raw json.RawMessage) (interface{}, error) {
	if s.index == nil {
		return nil, errors.New(errors.ErrCodeUnavailable, "search is disabled")
	}
	var p SearchParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return s.index.Search(search.Query{
		Text:         p.Query,
		Conversation: p.Conversation,
		ActiveOnly:   p.ActiveOnly,
		Limit:        p.Limit,
	})
}

func (s *Service) propose(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p TextParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return s.manager.ProposeDeadlineChange(ctx, p.ID, p.Actor, p.Text, p.Reason)
}

func (s *Service) mode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p ModeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	mode, err := tasks.ParseReminderMode(p.Mode)
	if err != nil {
		return nil, err
	}
	return s.manager.ChooseReminderMode(ctx, p.ID, p.Actor, mode)
}

func (s *Service) submit(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p InputParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	t, kind, err := s.manager.SubmitText(ctx, p.Actor, p.Text)
	if err != nil {
		return nil, err
	}
	return InputResult{Task: t, Answered: kind}, nil
}

func (s *Service) press(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p InputParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return s.manager.Press(ctx, p.Actor, p.Data)
}

func (s *Service) register(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var p RegisterParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if identity.Normalize(p.Handle) == "" {
		return nil, errors.InvalidInput("handle is empty")
	}
	if p.Address.IsGroup() || p.Address == 0 {
		return nil, errors.InvalidInput("only private conversations can be registered")
	}
	if err := s.registry.Register(p.Handle, p.Address); err != nil {
		return nil, errors.Wrap(err, "register handle")
	}
	return map[string]interface{}{"handle": identity.Normalize(p.Handle), "address": p.Address}, nil
}

func (s *Service) identities(_ context.Context, _ json.RawMessage) (interface{}, error) {
	entries := s.registry.Entries()
	if entries == nil {
		entries = []identity.Entry{}
	}
	return entries, nil
}

// toError maps handler failures onto JSON-RPC errors. Domain failures
// keep their full errors.Error as data so the gateway can phrase a reply.
func toError(err error) *Error {
	var rpcErr *Error
	if stderrors.As(err, &rpcErr) {
		return rpcErr
	}
	if e := errors.As(err); e != nil {
		return &Error{Code: DomainError, Message: e.Message(), Data: e}
	}
	return &Error{Code: InternalError, Message: "Internal error", Data: err.Error()}
}
