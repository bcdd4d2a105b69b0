package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/ai-task-router/internal/auth"
	"github.com/tributary-ai/ai-task-router/internal/routing"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

// Engine is the routing surface the server exposes
type Engine interface {
	ProcessRequest(ctx context.Context, req *types.AIRequest) (*types.AIResponse, error)
	Decide(req *types.AIRequest) (*routing.RoutingDecision, error)
	ProviderStatuses() []types.ProviderStatus
	ProviderStatus(providerType string) (types.ProviderStatus, bool)
	LookupProvider(providerType string) (types.ProviderConfig, bool)
}

// HealthProber probes a provider without spending a generation call
type HealthProber interface {
	HealthCheck(ctx context.Context, provider *types.ProviderConfig) error
}

// Server represents the HTTP server
type Server struct {
	engine     Engine
	prober     HealthProber
	httpServer *http.Server
	logger     *logrus.Logger
	config     *ServerConfig

	apiMiddleware []mux.MiddlewareFunc
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// NewServer creates a new server instance. prober may be nil.
func NewServer(engine Engine, prober HealthProber, config *ServerConfig, logger *logrus.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	return &Server{
		engine: engine,
		prober: prober,
		logger: logger,
		config: config,
	}
}

// Use adds middleware to the /v1 routes. /health stays open.
func (s *Server) Use(mw ...mux.MiddlewareFunc) {
	s.apiMiddleware = append(s.apiMiddleware, mw...)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting AI router server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping AI router server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.contentTypeMiddleware)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.apiMiddleware...)
	api.HandleFunc("/tasks", s.handleTask).Methods(http.MethodPost)
	api.HandleFunc("/routing/select", s.handleSelect).Methods(http.MethodPost)
	api.HandleFunc("/providers", s.handleListProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers/{type}", s.handleGetProvider).Methods(http.MethodGet)
	api.HandleFunc("/health/{type}", s.handleProviderHealth).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if contentType := r.Header.Get("Content-Type"); contentType != "" {
				mediaType, _, err := mime.ParseMediaType(contentType)
				if err != nil || mediaType != "application/json" {
					s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
					return
				}
			}
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

// handleTask routes one request through the failover cascade
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req types.AIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err), nil)
		return
	}

	if principal, ok := auth.FromContext(r.Context()); ok && !principal.Allows(string(req.TaskType)) {
		s.writeErrorResponse(w, http.StatusForbidden, fmt.Sprintf("Task type %s is not allowed for %s", req.TaskType, principal.Subject), nil)
		return
	}

	resp, err := s.engine.ProcessRequest(r.Context(), &req)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleSelect returns the routing decision without dispatching
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req types.AIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err), nil)
		return
	}

	decision, err := s.engine.Decide(&req)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	if !decision.HasSelection() {
		s.writeJSON(w, http.StatusNotFound, decision)
		return
	}

	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	statuses := s.engine.ProviderStatuses()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": statuses,
		"count":     len(statuses),
	})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["type"]

	status, exists := s.engine.ProviderStatus(name)
	if !exists {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Provider %s not found", name), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleHealthCheck reports healthy while at least one enabled provider can
// take traffic
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	statuses := s.engine.ProviderStatuses()

	available := 0
	for _, status := range statuses {
		if status.Enabled && status.Quota.Available && status.Failover.State == types.CircuitHealthy {
			available++
		}
	}

	health := "healthy"
	statusCode := http.StatusOK
	if available == 0 {
		health = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, map[string]interface{}{
		"status":              health,
		"available_providers": available,
		"total_providers":     len(statuses),
		"timestamp":           time.Now().Unix(),
	})
}

// handleProviderHealth probes one provider through its transport
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["type"]

	provider, exists := s.engine.LookupProvider(name)
	if !exists {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Provider %s not found", name), nil)
		return
	}
	if s.prober == nil {
		s.writeErrorResponse(w, http.StatusNotImplemented, "Health probing is not configured", nil)
		return
	}

	response := map[string]interface{}{
		"provider":  name,
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	statusCode := http.StatusOK
	if err := s.prober.HealthCheck(r.Context(), &provider); err != nil {
		response["status"] = "unhealthy"
		response["error"] = err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, response)
}

// Helper functions

func (s *Server) writeRoutingError(w http.ResponseWriter, err error) {
	var validationErr *types.ValidationError
	var exhausted *routing.ExhaustedError

	switch {
	case errors.As(err, &validationErr):
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error(), map[string]interface{}{"fields": validationErr.Fields})
	case errors.Is(err, routing.ErrNoSuitableProvider):
		s.writeErrorResponse(w, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &exhausted):
		attempts := make([]map[string]string, 0, len(exhausted.Attempts))
		for _, a := range exhausted.Attempts {
			attempts = append(attempts, map[string]string{
				"provider": a.Provider,
				"model":    a.Model,
				"error":    a.Err.Error(),
			})
		}
		s.writeErrorResponse(w, http.StatusBadGateway, routing.ErrAllProvidersExhausted.Error(), map[string]interface{}{"attempts": attempts})
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, http.StatusGatewayTimeout, err.Error(), nil)
	case errors.Is(err, context.Canceled):
		s.writeErrorResponse(w, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		s.logger.WithError(err).Error("Unexpected routing error")
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), nil)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	errorBody := map[string]interface{}{
		"message": message,
		"type":    "api_error",
		"code":    statusCode,
	}
	for k, v := range details {
		errorBody[k] = v
	}

	s.writeJSON(w, statusCode, map[string]interface{}{
		"error":     errorBody,
		"timestamp": time.Now().Unix(),
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
