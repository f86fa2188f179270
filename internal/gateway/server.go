// Package gateway serves the agent-router HTTP API under /hapra/v1 along
// with health and metrics endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/hapra/internal/engagement"
	"github.com/haasonsaas/hapra/internal/mcp"
	"github.com/haasonsaas/hapra/internal/observability"
	"github.com/haasonsaas/hapra/pkg/models"
)

// APIPrefix is the mount point of the agent-router API.
const APIPrefix = "/hapra/v1"

// maxBodyBytes bounds webhook request bodies.
const maxBodyBytes = 1 << 20

// Engagement is the service behind the API.
type Engagement interface {
	HandleMessage(ctx context.Context, n models.MessageNotification) error
	InitEngagement(ctx context.Context, agentID string, req models.InitEngagement) (*models.Conversation, error)
	Disengage(ctx context.Context, agentID string, req models.DisengageAgent) error
	HandleScheduler(ctx context.Context, p models.SchedulerPayload) error
	Card(appName string) models.AgentCard
	ListTools(ctx context.Context, tags []string) ([]*mcp.Tool, error)
	InvokeTool(ctx context.Context, name string, inv engagement.ToolInvocation) (*mcp.Result, error)
}

// Config configures the HTTP server.
type Config struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration

	MetricsEnabled bool
	MetricsPath    string
}

// Options carries the server's observability collaborators.
type Options struct {
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Tracer   *observability.Tracer
}

// Server is the HTTP front of the bridge.
type Server struct {
	config  Config
	service Engagement
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	handler http.Handler

	httpServer   *http.Server
	httpListener net.Listener
}

// NewServer creates a server for service.
func NewServer(cfg Config, service Engagement, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:  cfg,
		service: service,
		logger:  logger.With("component", "gateway"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}
	s.handler = s.routes(gatherer)
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)
	r.Use(s.instrument)

	if s.config.MetricsEnabled {
		r.Handle(s.config.MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", s.handleHealthz)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Get("/health_check/ping/{value}", s.handlePing)
		r.Get("/cards/{app_name}", s.handleCard)
		r.Post("/agents/{agent_id}/init_engagement", s.handleInitEngagement)
		r.Post("/agents/{agent_id}/disengage", s.handleDisengage)
		r.Post("/scheduler", s.handleScheduler)
		r.Get("/tools", s.handleListTools)
		r.Post("/tools/{name}/invoke", s.handleInvokeTool)
	})

	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Shutdown drains in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	s.httpListener = nil
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
