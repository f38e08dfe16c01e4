package execution

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/connectjson"
)

const ServiceName = "volunteerhub.v1.ExecutionService"

type ListExecutionsRequest struct {
	WorkflowID string `json:"workflow_id"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

type ListExecutionsResponse struct {
	Executions []*Record `json:"executions"`
	Total      int       `json:"total"`
}

type GetExecutionRequest struct {
	WorkflowID string `json:"workflow_id"`
	ID         string `json:"id"`
}

type GetExecutionResponse struct {
	Execution *Record `json:"execution"`
}

type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

func (s *Server) ListExecutions(ctx context.Context, req *connect.Request[ListExecutionsRequest]) (*connect.Response[ListExecutionsResponse], error) {
	if req.Msg.WorkflowID == "" {
		return nil, cerr.NewValidationError("workflow_id is required",
			cerr.Violation{Field: "workflow_id", Rule: "required", Message: "workflow_id is required"})
	}
	limit := req.Msg.Limit
	if limit <= 0 {
		limit = 50
	}
	records, total, err := s.repo.List(ctx, req.Msg.WorkflowID, limit, max(req.Msg.Offset, 0))
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListExecutionsResponse{Executions: records, Total: total}), nil
}

func (s *Server) GetExecution(ctx context.Context, req *connect.Request[GetExecutionRequest]) (*connect.Response[GetExecutionResponse], error) {
	rec, err := s.repo.Get(ctx, req.Msg.WorkflowID, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetExecutionResponse{Execution: rec}), nil
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	svc.Handle("ListExecutions", connect.NewUnaryHandler(svc.Procedure("ListExecutions"), s.ListExecutions, svc.Options()...))
	svc.Handle("GetExecution", connect.NewUnaryHandler(svc.Procedure("GetExecution"), s.GetExecution, svc.Options()...))
	return svc.Handler()
}
