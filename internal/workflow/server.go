package workflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/oklog/ulid/v2"

	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/connectjson"
)

const ServiceName = "volunteerhub.v1.WorkflowService"

// RunResult summarises a manual firing.
type RunResult struct {
	ExecutionID string   `json:"execution_id"`
	Success     bool     `json:"success"`
	Errors      []string `json:"errors,omitempty"`
}

// Scheduler arms stored workflows and fires them on demand.
type Scheduler interface {
	// Apply replaces whatever is armed for w with its current definition.
	Apply(w *Workflow)
	RunNow(ctx context.Context, id string, payload map[string]any) (*RunResult, error)
}

type CreateWorkflowRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Triggers    []trigger.Trigger `json:"triggers"`
	Actions     []Action          `json:"actions"`
	OwnerID     string            `json:"owner_id"`
	// Status defaults to active.
	Status Status `json:"status,omitempty"`
}

type CreateWorkflowResponse struct {
	Workflow *Workflow `json:"workflow"`
}

type GetWorkflowRequest struct {
	ID string `json:"id"`
}

type GetWorkflowResponse struct {
	Workflow *Workflow `json:"workflow"`
}

type ListWorkflowsRequest struct {
	Status Status `json:"status,omitempty"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type ListWorkflowsResponse struct {
	Workflows []*Workflow `json:"workflows"`
	Total     int         `json:"total"`
}

// UpdateWorkflowRequest replaces only the fields that are set.
type UpdateWorkflowRequest struct {
	ID          string             `json:"id"`
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Triggers    *[]trigger.Trigger `json:"triggers,omitempty"`
	Actions     *[]Action          `json:"actions,omitempty"`
}

type UpdateWorkflowResponse struct {
	Workflow *Workflow `json:"workflow"`
}

type SetWorkflowStatusRequest struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

type SetWorkflowStatusResponse struct {
	Workflow *Workflow `json:"workflow"`
}

type RunWorkflowRequest struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload,omitempty"`
}

type RunWorkflowResponse struct {
	Result *RunResult `json:"result"`
}

type ValidateWorkflowRequest struct {
	Name     string            `json:"name"`
	Triggers []trigger.Trigger `json:"triggers"`
	Actions  []Action          `json:"actions"`
	// Previews is how many upcoming fire times to list per time trigger.
	Previews int `json:"previews,omitempty"`
}

type TriggerPreview struct {
	TriggerIndex int         `json:"trigger_index"`
	Description  string      `json:"description"`
	NextRuns     []time.Time `json:"next_runs,omitempty"`
}

type ValidateWorkflowResponse struct {
	Valid      bool             `json:"valid"`
	Violations []cerr.Violation `json:"violations,omitempty"`
	Triggers   []TriggerPreview `json:"triggers,omitempty"`
}

type Server struct {
	repo     Repository
	sched    Scheduler
	eventBus *eventbus.Bus
	location *time.Location
	now      func() time.Time
}

func NewServer(repo Repository, sched Scheduler, eventBus *eventbus.Bus, location *time.Location) *Server {
	return &Server{
		repo:     repo,
		sched:    sched,
		eventBus: eventBus,
		location: location,
		now:      time.Now,
	}
}

func (s *Server) CreateWorkflow(ctx context.Context, req *connect.Request[CreateWorkflowRequest]) (*connect.Response[CreateWorkflowResponse], error) {
	status := req.Msg.Status
	if status == "" {
		status = StatusActive
	}
	now := s.now()
	w := &Workflow{
		ID:          ulid.Make().String(),
		Name:        req.Msg.Name,
		Description: req.Msg.Description,
		Triggers:    req.Msg.Triggers,
		Actions:     req.Msg.Actions,
		Status:      status,
		OwnerID:     req.Msg.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	s.changed(w)
	return connect.NewResponse(&CreateWorkflowResponse{Workflow: w}), nil
}

func (s *Server) GetWorkflow(ctx context.Context, req *connect.Request[GetWorkflowRequest]) (*connect.Response[GetWorkflowResponse], error) {
	w, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetWorkflowResponse{Workflow: w}), nil
}

func (s *Server) ListWorkflows(ctx context.Context, req *connect.Request[ListWorkflowsRequest]) (*connect.Response[ListWorkflowsResponse], error) {
	limit := req.Msg.Limit
	if limit <= 0 {
		limit = 50
	}
	workflows, total, err := s.repo.List(ctx, req.Msg.Status, limit, max(req.Msg.Offset, 0))
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListWorkflowsResponse{Workflows: workflows, Total: total}), nil
}

func (s *Server) UpdateWorkflow(ctx context.Context, req *connect.Request[UpdateWorkflowRequest]) (*connect.Response[UpdateWorkflowResponse], error) {
	w, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	if req.Msg.Name != nil {
		w.Name = *req.Msg.Name
	}
	if req.Msg.Description != nil {
		w.Description = *req.Msg.Description
	}
	if req.Msg.Triggers != nil {
		w.Triggers = *req.Msg.Triggers
	}
	if req.Msg.Actions != nil {
		w.Actions = *req.Msg.Actions
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	w.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, w); err != nil {
		return nil, err
	}
	s.changed(w)
	return connect.NewResponse(&UpdateWorkflowResponse{Workflow: w}), nil
}

// SetWorkflowStatus pauses or reactivates a workflow. Reactivation schedules
// forward from now; missed fire times are not replayed.
func (s *Server) SetWorkflowStatus(ctx context.Context, req *connect.Request[SetWorkflowStatusRequest]) (*connect.Response[SetWorkflowStatusResponse], error) {
	if req.Msg.Status != StatusActive && req.Msg.Status != StatusPaused {
		return nil, cerr.NewValidationError("invalid status",
			cerr.Violation{Field: "status", Rule: "enum", Message: fmt.Sprintf("unknown status %q", req.Msg.Status)})
	}
	w, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	if w.Status != req.Msg.Status {
		w.Status = req.Msg.Status
		w.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, w); err != nil {
			return nil, err
		}
		s.changed(w)
	}
	return connect.NewResponse(&SetWorkflowStatusResponse{Workflow: w}), nil
}

func (s *Server) RunWorkflow(ctx context.Context, req *connect.Request[RunWorkflowRequest]) (*connect.Response[RunWorkflowResponse], error) {
	if s.sched == nil {
		return nil, cerr.NewError(cerr.Unavailable, "scheduler is not running", nil)
	}
	result, err := s.sched.RunNow(ctx, req.Msg.ID, req.Msg.Payload)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&RunWorkflowResponse{Result: result}), nil
}

// ValidateWorkflow checks a draft without storing it and previews when its
// time triggers would fire.
func (s *Server) ValidateWorkflow(_ context.Context, req *connect.Request[ValidateWorkflowRequest]) (*connect.Response[ValidateWorkflowResponse], error) {
	draft := &Workflow{
		Name:     req.Msg.Name,
		Triggers: req.Msg.Triggers,
		Actions:  req.Msg.Actions,
		Status:   StatusActive,
	}
	resp := &ValidateWorkflowResponse{Violations: draft.Violations()}
	resp.Valid = len(resp.Violations) == 0

	n := req.Msg.Previews
	if n <= 0 {
		n = 3
	}
	now := s.now().In(s.location)
	for i, t := range draft.Triggers {
		preview := TriggerPreview{TriggerIndex: i, Description: t.String()}
		if t.Kind == trigger.KindTime && len(t.Violations("")) == 0 {
			runs, err := trigger.Upcoming(t, now, n)
			if err == nil {
				preview.NextRuns = runs
			}
		}
		resp.Triggers = append(resp.Triggers, preview)
	}
	return connect.NewResponse(resp), nil
}

// changed re-arms w in the scheduler before the call returns, then tells
// event stream subscribers. The bus may drop events, so it is never the
// path by which the scheduler learns about a change.
func (s *Server) changed(w *Workflow) {
	if s.sched != nil {
		s.sched.Apply(w)
	}
	if s.eventBus == nil {
		return
	}
	s.eventBus.PublishNew(eventbus.WorkflowChanged, map[string]any{
		"workflow_id": w.ID,
		"status":      string(w.Status),
	})
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	svc.Handle("CreateWorkflow", connect.NewUnaryHandler(svc.Procedure("CreateWorkflow"), s.CreateWorkflow, svc.Options()...))
	svc.Handle("GetWorkflow", connect.NewUnaryHandler(svc.Procedure("GetWorkflow"), s.GetWorkflow, svc.Options()...))
	svc.Handle("ListWorkflows", connect.NewUnaryHandler(svc.Procedure("ListWorkflows"), s.ListWorkflows, svc.Options()...))
	svc.Handle("UpdateWorkflow", connect.NewUnaryHandler(svc.Procedure("UpdateWorkflow"), s.UpdateWorkflow, svc.Options()...))
	svc.Handle("SetWorkflowStatus", connect.NewUnaryHandler(svc.Procedure("SetWorkflowStatus"), s.SetWorkflowStatus, svc.Options()...))
	svc.Handle("RunWorkflow", connect.NewUnaryHandler(svc.Procedure("RunWorkflow"), s.RunWorkflow, svc.Options()...))
	svc.Handle("ValidateWorkflow", connect.NewUnaryHandler(svc.Procedure("ValidateWorkflow"), s.ValidateWorkflow, svc.Options()...))
	return svc.Handler()
}
