// Package scheduler keeps every active workflow armed: one-shot timers for
// time triggers, poll tickers for condition triggers, and event triggers
// matched on every TriggerEvent call.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/execution"
	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	"github.com/volunteerhub/volunteerhub/internal/workflow/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/clog"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

const instrumentationName = "github.com/volunteerhub/volunteerhub/internal/scheduler"

// Executor runs the actions of one firing.
type Executor interface {
	Run(ctx context.Context, wf *workflow.Workflow, firing execution.Firing) []execution.ActionResult
}

// Recorder persists the outcome of one firing.
type Recorder interface {
	Log(ctx context.Context, rec *execution.Record) error
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation sets the zone daily, weekly and monthly times are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithCounter enables condition triggers.
func WithCounter(c trigger.Counter) Option {
	return func(s *Scheduler) { s.counter = c }
}

type entry struct {
	wf     *workflow.Workflow
	timers map[int]clockwork.Timer
	nextAt map[int]time.Time
	// cancel stops the entry's condition pollers.
	cancel context.CancelFunc
}

type Scheduler struct {
	workflows workflow.Repository
	executor  Executor
	recorder  Recorder
	bus       *eventbus.Bus
	counter   trigger.Counter

	clock        clockwork.Clock
	location     *time.Location
	pollInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup *conc.WaitGroup

	tracer  trace.Tracer
	firings metric.Int64Counter
}

func New(workflows workflow.Repository, executor Executor, recorder Recorder, bus *eventbus.Bus, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		workflows:    workflows,
		executor:     executor,
		recorder:     recorder,
		bus:          bus,
		clock:        clockwork.NewRealClock(),
		location:     time.Local,
		pollInterval: trigger.DefaultConditionPollInterval,
		entries:      make(map[string]*entry),
		ctx:          ctx,
		cancel:       cancel,
		waitGroup:    conc.NewWaitGroup(),
		tracer:       otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.firings, err = otel.Meter(instrumentationName).Int64Counter("volunteerhub.workflow.firings",
		metric.WithDescription("Workflow firings, by trigger kind and outcome.")); err != nil {
		otel.Handle(err)
	}
	return s
}

// Start registers every active workflow. A failure to load workflows is returned and nothing is scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	var active []*workflow.Workflow
	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		page, total, err := s.workflows.List(ctx, workflow.StatusActive, pageSize, offset)
		if err != nil {
			return fmt.Errorf("load active workflows: %w", err)
		}
		active = append(active, page...)
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	for _, wf := range active {
		s.Apply(wf)
	}

	slog.InfoContext(ctx, "scheduler started", "workflows", len(active))
	return nil
}

// Stop cancels every timer and poller, then waits for in-flight firings to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for id, e := range s.entries {
		e.release()
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.waitGroup.Wait()
	slog.Info("scheduler stopped")
}

// Apply replaces whatever is registered for wf. A paused workflow ends up
// with nothing registered. An active one is scheduled forward from now, so
// runs missed while it was paused are not caught up.
func (s *Scheduler) Apply(wf *workflow.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[wf.ID]; ok {
		old.release()
		delete(s.entries, wf.ID)
	}
	if !wf.Active() || s.ctx.Err() != nil {
		return
	}

	pctx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		wf:     wf,
		timers: make(map[int]clockwork.Timer),
		nextAt: make(map[int]time.Time),
		cancel: cancel,
	}
	s.entries[wf.ID] = e

	for i, t := range wf.Triggers {
		if vs := t.Violations(fmt.Sprintf("triggers[%d]", i)); len(vs) > 0 {
			slog.Warn("skipping invalid trigger", "workflow_id", wf.ID, "trigger_index", i, "reason", vs[0].Message)
			continue
		}
		switch t.Kind {
		case trigger.KindTime:
			s.armLocked(e, i, s.clock.Now())
		case trigger.KindCondition:
			if s.counter == nil {
				slog.Warn("skipping condition trigger, no record store", "workflow_id", wf.ID, "trigger_index", i)
				continue
			}
			ticker := s.clock.NewTicker(s.pollInterval)
			s.waitGroup.Go(func() {
				s.poll(pctx, e, i, ticker)
			})
		}
	}
}

// Reload re-reads a workflow and applies it. A workflow that no longer
// exists is unregistered.
func (s *Scheduler) Reload(ctx context.Context, id string) {
	wf, err := s.workflows.Get(ctx, id)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			s.remove(id)
			return
		}
		slog.WarnContext(ctx, "failed to reload workflow", "workflow_id", id, clog.ErrorAttributeKey, err)
		return
	}
	s.Apply(wf)
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.release()
		delete(s.entries, id)
	}
}

// TriggerEvent fires every event trigger matching the event, each firing
// producing its own execution record, then publishes the event for stream
// subscribers. Matching happens before TriggerEvent returns, so no event is
// lost however many arrive at once.
func (s *Scheduler) TriggerEvent(name string, payload map[string]any) *eventbus.Event {
	ev := &eventbus.Event{
		ID:        ulid.Make().String(),
		Name:      name,
		Payload:   maps.Clone(payload),
		CreatedAt: s.clock.Now(),
	}
	s.matchEvent(ev)
	s.bus.Publish(ev)
	return ev
}

// RunNow fires a workflow immediately and waits for the record to be
// written. Paused workflows can be run this way too.
func (s *Scheduler) RunNow(ctx context.Context, id string, payload map[string]any) (*workflow.RunResult, error) {
	wf, err := s.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := s.fire(ctx, wf, execution.Firing{
		TriggerKind:  trigger.KindManual,
		TriggerIndex: -1,
		Payload:      payload,
	})
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to record execution", err)
	}
	return &workflow.RunResult{ExecutionID: rec.ID, Success: rec.Success, Errors: rec.Errors}, nil
}

// Scheduled returns the pending fire times of a workflow's time triggers
// in ascending order.
func (s *Scheduler) Scheduled(id string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	out := make([]time.Time, 0, len(e.nextAt))
	for _, at := range e.nextAt {
		out = append(out, at)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// WatchWorkflows reloads workflows whose documents are edited outside this
// process and announces them as workflow.changed. It blocks until ctx is
// cancelled.
func (s *Scheduler) WatchWorkflows(ctx context.Context, w storage.Watcher) error {
	return w.Watch(ctx, repositoryimpl.WorkflowsPrefix, func(c storage.Change) {
		id, ok := repositoryimpl.IDFromPath(c.Path)
		if !ok {
			return
		}
		slog.Debug("workflow document changed", "workflow_id", id, "removed", c.Removed)
		s.Reload(ctx, id)
		s.bus.PublishNew(eventbus.WorkflowChanged, map[string]any{"workflow_id": id})
	})
}

// armLocked computes the next run of time trigger i strictly after from and
// arms a one-shot timer for it.
func (s *Scheduler) armLocked(e *entry, i int, from time.Time) {
	t := e.wf.Triggers[i]
	next, err := trigger.NextRun(t, from.In(s.location))
	if err != nil {
		slog.Warn("skipping time trigger", "workflow_id", e.wf.ID, "trigger_index", i, clog.ErrorAttributeKey, err)
		delete(e.nextAt, i)
		return
	}
	e.nextAt[i] = next
	e.timers[i] = s.clock.AfterFunc(next.Sub(s.clock.Now()), func() {
		s.onTimer(e, i, next)
	})
}

func (s *Scheduler) onTimer(e *entry, i int, due time.Time) {
	s.mu.Lock()
	if s.entries[e.wf.ID] != e {
		s.mu.Unlock()
		return
	}
	from := s.clock.Now()
	if from.Before(due) {
		from = due
	}
	s.armLocked(e, i, from)
	s.launchLocked(e.wf, execution.Firing{TriggerKind: trigger.KindTime, TriggerIndex: i})
	s.mu.Unlock()
}

func (s *Scheduler) poll(ctx context.Context, e *entry, i int, ticker clockwork.Ticker) {
	defer ticker.Stop()
	t := e.wf.Triggers[i]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			met, err := trigger.ConditionMet(ctx, s.counter, t)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("condition check failed", "workflow_id", e.wf.ID, "trigger_index", i, clog.ErrorAttributeKey, err)
				}
				continue
			}
			if !met {
				continue
			}
			s.mu.Lock()
			if s.entries[e.wf.ID] == e {
				s.launchLocked(e.wf, execution.Firing{TriggerKind: trigger.KindCondition, TriggerIndex: i})
			}
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) matchEvent(ev *eventbus.Event) {
	// A workflow listening for its own records would fire forever.
	if eventbus.IsInternal(ev.Name) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		for i, t := range e.wf.Triggers {
			if trigger.MatchEvent(t, ev.Name, ev.Payload) {
				s.launchLocked(e.wf, execution.Firing{
					TriggerKind:  trigger.KindEvent,
					TriggerIndex: i,
					EventName:    ev.Name,
					Payload:      ev.Payload,
				})
			}
		}
	}
}

// launchLocked runs a firing on its own goroutine. Nothing is launched once
// Stop has been called.
func (s *Scheduler) launchLocked(wf *workflow.Workflow, firing execution.Firing) {
	if s.ctx.Err() != nil {
		return
	}
	s.waitGroup.Go(func() {
		if _, err := s.fire(s.ctx, wf, firing); err != nil {
			slog.Error("failed to record execution", "workflow_id", wf.ID, clog.ErrorAttributeKey, err)
		}
	})
}

// fire executes wf's actions and logs the record. The record is written
// even when ctx is cancelled mid-firing.
func (s *Scheduler) fire(ctx context.Context, wf *workflow.Workflow, firing execution.Firing) (*execution.Record, error) {
	ctx = clog.WithAttributes(ctx, map[string]any{
		"workflow_id": wf.ID,
		"trigger":     string(firing.TriggerKind),
	})
	ctx, span := s.tracer.Start(ctx, "workflow.fire", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("trigger.kind", string(firing.TriggerKind)),
	))
	defer span.End()

	start := s.clock.Now()
	results := s.executor.Run(ctx, wf, firing)
	rec := execution.NewRecord(ulid.Make().String(), wf.ID, firing, start, s.clock.Now(), results)

	if s.firings != nil {
		s.firings.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", string(firing.TriggerKind)),
			attribute.Bool("success", rec.Success),
		))
	}
	if !rec.Success {
		span.SetStatus(codes.Error, errors.Join(toErrors(rec.Errors)...).Error())
	}

	if err := s.recorder.Log(context.WithoutCancel(ctx), rec); err != nil {
		span.RecordError(err)
		return rec, err
	}
	slog.InfoContext(ctx, "workflow fired", "execution_id", rec.ID, "success", rec.Success)
	return rec, nil
}

func (e *entry) release() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.cancel()
}

func toErrors(msgs []string) []error {
	errs := make([]error, len(msgs))
	for i, m := range msgs {
		errs[i] = errors.New(m)
	}
	return errs
}
