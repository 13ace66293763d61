package dispatch

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	kerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/ratelimit"
	"github.com/vinayprograms/taskkit/tasks"
	"github.com/vinayprograms/taskkit/telemetry"
	"github.com/vinayprograms/taskkit/transport"
)

// Method names.
const (
	MethodCreate         = "tasks.create"
	MethodGet            = "tasks.get"
	MethodUpdate         = "tasks.update"
	MethodUpdatePriority = "tasks.updatePriority"
	MethodComplete       = "tasks.complete"
	MethodSetStatus      = "tasks.setStatus"
	MethodDelete         = "tasks.delete"
	MethodCount          = "tasks.count"
	MethodAllocated      = "tasks.allocated"
	MethodList           = "tasks.list"
)

var methods = []string{
	MethodCreate, MethodGet, MethodUpdate, MethodUpdatePriority, MethodComplete,
	MethodSetStatus, MethodDelete, MethodCount, MethodAllocated, MethodList,
}

// Methods returns the supported method names.
func Methods() []string {
	return slices.Clone(methods)
}

// CreateParams are the params of tasks.create.
type CreateParams struct {
	Token       string      `json:"token"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Priority    int         `json:"priority"`
	DueDate     *tasks.Date `json:"due_date,omitempty"`
}

// IDParams are the params of methods addressing one task.
type IDParams struct {
	Token string   `json:"token"`
	ID    tasks.ID `json:"id"`
}

// UpdateParams are the params of tasks.update. Absent fields are kept.
type UpdateParams struct {
	Token       string      `json:"token"`
	ID          tasks.ID    `json:"id"`
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Priority    *int        `json:"priority,omitempty"`
	DueDate     *tasks.Date `json:"due_date,omitempty"`
}

// PriorityParams are the params of tasks.updatePriority.
type PriorityParams struct {
	Token    string   `json:"token"`
	ID       tasks.ID `json:"id"`
	Priority int      `json:"priority"`
}

// StatusParams are the params of tasks.setStatus.
type StatusParams struct {
	Token  string   `json:"token"`
	ID     tasks.ID `json:"id"`
	Status string   `json:"status"`
}

// CreateResult is returned by tasks.create.
type CreateResult struct {
	ID tasks.ID `json:"id"`
}

// CountResult is returned by tasks.count.
type CountResult struct {
	Count int `json:"count"`
}

// AllocatedResult is returned by tasks.allocated.
type AllocatedResult struct {
	Allocated uint64 `json:"allocated"`
}

// ListResult is returned by tasks.list.
type ListResult struct {
	Tasks []tasks.Task `json:"tasks"`
}

// OKResult acknowledges a mutation.
type OKResult struct {
	OK bool `json:"ok"`
}

var ok = OKResult{OK: true}

// Dispatcher serves task methods over JSON-RPC. Every call is authorized
// before the store is touched.
type Dispatcher struct {
	store   *tasks.Store
	auth    Authorizer
	logger  *logging.Logger
	tracer  *telemetry.Tracer
	limiter ratelimit.Limiter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l.WithComponent("dispatch") }
}

// WithTracer sets the tracer. The global tracer is used otherwise.
func WithTracer(t *telemetry.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithRateLimit throttles each caller through l after authorization.
func WithRateLimit(l ratelimit.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// New creates a Dispatcher over store.
func New(store *tasks.Store, auth Authorizer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		auth:   auth,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = telemetry.GetTracer()
	}
	return d
}

// Handle implements transport.Handler.
func (d *Dispatcher) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	start := time.Now()
	ctx, span := d.tracer.StartRPCSpan(ctx, method)

	var info telemetry.RPCSpanOptions
	result, err := d.handle(ctx, method, params, &info)
	if err != nil {
		info.ErrorCode = string(kerrors.Code(err))
	}
	d.tracer.EndRPCSpan(span, info, err)
	d.logger.RequestHandled(method, info.Caller, time.Since(start), err)

	if err != nil {
		return nil, RPCError(err)
	}
	return result, nil
}

func (d *Dispatcher) handle(ctx context.Context, method string, params json.RawMessage, info *telemetry.RPCSpanOptions) (any, error) {
	if !slices.Contains(methods, method) {
		return nil, &transport.Error{Code: transport.MethodNotFound, Message: "Method not found", Data: method}
	}

	var base struct {
		Token string `json:"token"`
	}
	if err := decode(params, &base); err != nil {
		return nil, err
	}
	caller, err := d.auth.Authorize(ctx, base.Token)
	if err != nil {
		if !kerrors.Is(err, kerrors.ErrCodeUnauthorized) {
			err = kerrors.WrapWithCode(err, kerrors.ErrCodeUnauthorized, "authorization failed")
		}
		d.logger.Unauthorized(method, err.Error())
		return nil, err
	}
	info.Caller = caller
	ctx = WithCaller(ctx, caller)

	if d.limiter != nil && !d.limiter.Allow(caller) {
		return nil, kerrors.Busy("rate limit exceeded", kerrors.WithCaller(caller))
	}

	switch method {
	case MethodCreate:
		return d.create(ctx, params, info)
	case MethodGet:
		return d.get(ctx, params, info)
	case MethodUpdate:
		return d.update(ctx, params, info)
	case MethodUpdatePriority:
		return d.updatePriority(ctx, params, info)
	case MethodComplete:
		return d.byID(ctx, params, info, d.store.Complete)
	case MethodSetStatus:
		return d.setStatus(ctx, params, info)
	case MethodDelete:
		return d.byID(ctx, params, info, d.store.Delete)
	case MethodCount:
		n, err := d.store.Count(ctx)
		if err != nil {
			return nil, err
		}
		return CountResult{Count: n}, nil
	case MethodAllocated:
		n, err := d.store.Allocated(ctx)
		if err != nil {
			return nil, err
		}
		return AllocatedResult{Allocated: n}, nil
	default: // MethodList
		all, err := d.store.Tasks(ctx)
		if err != nil {
			return nil, err
		}
		if all == nil {
			all = []tasks.Task{}
		}
		return ListResult{Tasks: all}, nil
	}
}

func (d *Dispatcher) create(ctx context.Context, params json.RawMessage, info *telemetry.RPCSpanOptions) (any, error) {
	var p CreateParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	info.Title = p.Title
	id, err := d.store.Create(ctx, tasks.Draft{
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
		DueDate:     p.DueDate,
	})
	if err != nil {
		return nil, err
	}
	info.TaskID = string(id)
	return CreateResult{ID: id}, nil
}

func (d *Dispatcher) get(ctx context.Context, params json.RawMessage, info *telemetry.RPCSpanOptions) (any, error) {
	var p IDParams
	if err := decodeID(params, &p, &p.ID, info); err != nil {
		return nil, err
	}
	return d.store.Get(ctx, p.ID)
}

func (d *Dispatcher) update(ctx context.Context, params json.RawMessage, info *telemetry.RPCSpanOptions) (any, error) {
	var p UpdateParams
	if err := decodeID(params, &p, &p.ID, info); err != nil {
		return nil, err
	}
	if p.Title != nil {
		info.Title = *p.Title
	}
	err := d.store.Update(ctx, p.ID, tasks.Changes{
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
		DueDate:     p.DueDate,
	})
	if err != nil {
		return nil, err
	}
	return ok, nil
}

func (d *Dispatcher) updatePriority(ctx context.Context, params json.RawMessage, info *telemetry.RPCSpanOptions) (any, error) {
	var p PriorityParams
	if err := decodeID(params, &p, &p.ID, info); err != nil {
		return nil, err
	}
	if err := d.store.UpdatePriority(ctx, p.ID, p.Priority); err != nil {
		return nil, err
	}
	return ok, nil
}

func (d *Dispatcher) setStatus(ctx context.Context, params json.RawMessage, info *telemetry.RPCSpanOptions) (any, error) {
	var p StatusParams
	if err := decodeID(params, &p, &p.ID, info); err != nil {
		return nil, err
	}
	status, err := tasks.ParseStatus(p.Status)
	if err != nil {
		return nil, err
	}
	if err := d.store.SetStatus(ctx, p.ID, status); err != nil {
		return nil, err
	}
	return ok, nil
}

func (d *Dispatcher) byID(ctx context.Context, params json.RawMessage, info *telemetry.RPCSpanOptions, op func(context.Context, tasks.ID) error) (any, error) {
	var p IDParams
	if err := decodeID(params, &p, &p.ID, info); err != nil {
		return nil, err
	}
	if err := op(ctx, p.ID); err != nil {
		return nil, err
	}
	return ok, nil
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return kerrors.InvalidInput("malformed params", kerrors.WithCause(err))
	}
	return nil
}

// decodeID decodes params into v and requires the id field it points to.
func decodeID(params json.RawMessage, v any, id *tasks.ID, info *telemetry.RPCSpanOptions) error {
	if err := decode(params, v); err != nil {
		return err
	}
	if *id == "" {
		return kerrors.InvalidInput("id is required")
	}
	info.TaskID = string(*id)
	return nil
}
