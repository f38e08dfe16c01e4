package internal

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/volunteerhub/volunteerhub/internal/config"
	"github.com/volunteerhub/volunteerhub/internal/event"
	"github.com/volunteerhub/volunteerhub/internal/execution"
	"github.com/volunteerhub/volunteerhub/internal/pushnotification"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/clog"
)

type Server struct {
	server                 *http.Server
	env                    *config.Env
	publisher              event.Publisher
	workflowServer         *workflow.Server
	executionServer        *execution.Server
	eventServer            *event.Server
	pushNotificationServer *pushnotification.Server
}

func NewServer(
	env *config.Env,
	publisher event.Publisher,
	workflowServer *workflow.Server,
	executionServer *execution.Server,
	eventServer *event.Server,
	pushNotificationServer *pushnotification.Server,
) *Server {
	return &Server{
		env:                    env,
		publisher:              publisher,
		workflowServer:         workflowServer,
		executionServer:        executionServer,
		eventServer:            eventServer,
		pushNotificationServer: pushNotificationServer,
	}
}

// Handler builds the full routing tree: plain JSON endpoints under /api,
// connect services at their procedure paths and the health checks.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewConvertConnectErrorChiMiddleware(),
		)
		r.Post("/v1/events", s.handleWebhook)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
	})

	mux := http.NewServeMux()

	handlerOpts := connect.WithInterceptors(s.interceptors()...)

	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker(
		workflow.ServiceName,
		execution.ServiceName,
		event.ServiceName,
		pushnotification.ServiceName,
	), handlerOpts))

	mux.Handle(s.workflowServer.Handler(handlerOpts))
	mux.Handle(s.executionServer.Handler(handlerOpts))
	mux.Handle(s.eventServer.Handler(handlerOpts))
	if s.pushNotificationServer != nil {
		mux.Handle(s.pushNotificationServer.Handler(handlerOpts))
	}

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux)), &http2.Server{})
}

// ListenAndServe starts the HTTP server. The provided context is used as the
// base context for all incoming requests via http.Server.BaseContext. When ctx
// is cancelled (e.g. on shutdown signal), all streaming RPC contexts are also
// cancelled, allowing the server to shut down without waiting for streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type webhookResponse struct {
	ID string `json:"id"`
}

// handleWebhook lets external systems (form tools, the volunteer portal)
// raise events without a connect client.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req event.PublishEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid JSON body", err)
		return
	}
	if err := req.Validate(); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	clog.AddAttribute(ctx, "event", req.Name)
	ev := s.publisher.TriggerEvent(req.Name, req.Payload)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusAccepted, webhookResponse{ID: ev.ID})
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) interceptors() []connect.Interceptor {
	return []connect.Interceptor{
		clog.NewSlogConnectInterceptor(clog.WithConnectFilter(clog.DefaultConnectHealthCheckUnaryFilter)),
		cerr.NewConvertConnectErrorInterceptor(),
	}
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip API key check for health endpoints.
		if r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/grpc.health.v1.Health/") {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.env.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
