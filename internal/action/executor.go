// Package action runs a workflow's actions for one firing.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/volunteerhub/volunteerhub/internal/execution"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	"github.com/volunteerhub/volunteerhub/pkg/clog"
	"github.com/volunteerhub/volunteerhub/pkg/panicerr"
)

const instrumentationName = "github.com/volunteerhub/volunteerhub/internal/action"

// DefaultTimeout bounds a single action unless configured otherwise.
const DefaultTimeout = 2 * time.Minute

var ErrUnknownKind = errors.New("unknown action kind")

// Request is what a handler sees of the firing it runs in.
type Request struct {
	Workflow *workflow.Workflow
	Action   workflow.Action
	Firing   execution.Firing
}

// Handler performs one kind of action and returns a result that is stored
// in the execution record.
type Handler interface {
	Handle(ctx context.Context, req Request) (any, error)
}

type HandlerFunc func(ctx context.Context, req Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

type Option func(*Executor)

func WithClock(c clockwork.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithTimeout sets the per-action timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithHandler(kind workflow.ActionKind, h Handler) Option {
	return func(e *Executor) { e.handlers[kind] = h }
}

// Executor runs actions strictly in order. A failing action is recorded and
// the next action still runs; nothing is rolled back.
type Executor struct {
	handlers map[workflow.ActionKind]Handler
	clock    clockwork.Clock
	timeout  time.Duration

	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		handlers: make(map[workflow.ActionKind]Handler),
		clock:    clockwork.NewRealClock(),
		timeout:  DefaultTimeout,
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if e.runs, err = meter.Int64Counter("volunteerhub.action.runs",
		metric.WithDescription("Actions executed, by kind and outcome.")); err != nil {
		otel.Handle(err)
	}
	if e.duration, err = meter.Float64Histogram("volunteerhub.action.duration",
		metric.WithDescription("Wall time of a single action."), metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}
	return e
}

// Run executes every action of wf and returns one result per action. When
// ctx is cancelled during a delay, the remaining actions are recorded as
// not run.
func (e *Executor) Run(ctx context.Context, wf *workflow.Workflow, firing execution.Firing) []execution.ActionResult {
	results := make([]execution.ActionResult, 0, len(wf.Actions))
	for i, a := range wf.Actions {
		actx := clog.WithAttributes(ctx, map[string]any{
			"action":       string(a.Kind),
			"action_index": i,
		})
		res := e.runOne(actx, Request{Workflow: wf, Action: a, Firing: firing})
		results = append(results, res)

		if res.Success {
			slog.InfoContext(actx, "action succeeded", "duration", res.Duration)
		} else {
			slog.WarnContext(actx, "action failed", clog.ErrorAttributeKey, res.Error, "duration", res.Duration)
		}

		if a.DelayMinutes <= 0 || i == len(wf.Actions)-1 {
			continue
		}
		delay := time.Duration(a.DelayMinutes) * time.Minute
		slog.DebugContext(actx, "delaying next action", "delay", delay)
		select {
		case <-e.clock.After(delay):
		case <-ctx.Done():
			for _, rest := range wf.Actions[i+1:] {
				results = append(results, execution.ActionResult{
					Kind:      rest.Kind,
					Error:     fmt.Sprintf("not run: %v", ctx.Err()),
					StartedAt: e.clock.Now(),
				})
			}
			return results
		}
	}
	return results
}

func (e *Executor) runOne(ctx context.Context, req Request) execution.ActionResult {
	kind := req.Action.Kind
	start := e.clock.Now()
	res := execution.ActionResult{Kind: kind, StartedAt: start}

	ctx, span := e.tracer.Start(ctx, "action "+string(kind), trace.WithAttributes(
		attribute.String("workflow.id", req.Workflow.ID),
		attribute.String("action.kind", string(kind)),
	))
	defer span.End()

	out, err := e.invoke(ctx, req)
	res.Duration = e.clock.Since(start)
	if err != nil {
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Error)
	} else {
		res.Success = true
		res.Result = out
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("success", res.Success),
	)
	if e.runs != nil {
		e.runs.Add(ctx, 1, attrs)
	}
	if e.duration != nil {
		e.duration.Record(ctx, res.Duration.Seconds(), attrs)
	}
	return res
}

func (e *Executor) invoke(ctx context.Context, req Request) (any, error) {
	h, ok := e.handlers[req.Action.Kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, req.Action.Kind)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return panicerr.RunValue(ctx, func(ctx context.Context) (any, error) {
		return h.Handle(ctx, req)
	})
}
