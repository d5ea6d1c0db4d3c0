// Package httpapi implements the HTTP gateway in front of the gatekeeper.
//
// Security:
//   - Optional API key authentication (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-caller rate limiting via token bucket
//   - Config-gated CORS with an origin allow-list
//   - All executions logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/toolgate/internal/gatekeeper"
	"github.com/jkaninda/toolgate/internal/observability"
	"github.com/jkaninda/toolgate/internal/ratelimit"
	"github.com/jkaninda/toolgate/internal/registry"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

const anonymousCaller = "anonymous"

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string // e.g., ":5000"
	ServerName     string // Reported by GET /. Default: "toolgate".
	ServerVersion  string
	EnableDocs     bool
	APIKeys        map[string]string // API key → caller ID mapping. Empty = no auth.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.
	EnableCORS     bool
	CORSOrigins    []string // Origin allow-list for CORS. "*" matches any origin.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP gateway.
type Gateway struct {
	config   Config
	runner   observability.Runner
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	maxBody  int64

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP gateway over the given runner and registry.
func NewGateway(cfg Config, runner observability.Runner, reg *registry.Registry, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.ServerName == "" {
		cfg.ServerName = "toolgate"
	}
	maxBody := cfg.MaxRequestSize
	if maxBody <= 0 {
		maxBody = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		runner:   runner,
		registry: reg,
		limiter:  rl,
		logger:   logger,
		maxBody:  maxBody,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(maxBody)),
	}
}

// WithOpenAPIDocs mounts the generated OpenAPI documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   g.config.ServerName,
			Version: g.config.ServerVersion,
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Every body, including POST /v1/run, goes through the cap.
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return limitRequestBody(g.maxBody, next)
	})
	if g.config.EnableCORS {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return corsMiddleware(g.config.CORSOrigins, next)
		})
	}

	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Get("/tools", g.handleToolList,
		okapi.DocSummary("List allow-listed tools with availability and version"),
		okapi.DocTags("Tools"),
		okapi.DocResponse(ToolListResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/tools/{name}", g.handleToolInfo,
		okapi.DocSummary("Get one tool's availability and version"),
		okapi.DocTags("Tools"),
		okapi.DocPathParam("name", "string", "Tool name"),
		okapi.DocResponse(ToolInfoResponse{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/run", g.handleRun,
		okapi.DocSummary("Execute an allow-listed tool"),
		okapi.DocTags("Execute"),
		okapi.DocRequestBody(RunRequest{}),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusRequestTimeout, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/", g.handleServerInfo)
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      360 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ServerInfoResponse is the JSON response for GET /.
type ServerInfoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Tools   int    `json:"tools"`
}

func (g *Gateway) handleServerInfo(c *okapi.Context) error {
	return c.OK(ServerInfoResponse{
		Name:    g.config.ServerName,
		Version: g.config.ServerVersion,
		Tools:   g.registry.Len(),
	})
}

// ToolListResponse is the JSON response for GET /v1/tools.
type ToolListResponse struct {
	Tools []registry.Info `json:"tools"`
}

func (g *Gateway) handleToolList(c *okapi.Context) error {
	return c.OK(ToolListResponse{Tools: g.registry.DescribeAll(c.Context())})
}

// ToolInfoResponse is the JSON response for GET /v1/tools/{name}.
type ToolInfoResponse struct {
	registry.Info
}

func (g *Gateway) handleToolInfo(c *okapi.Context) error {
	name := c.Param("name")

	info, err := g.registry.Describe(c.Context(), name)
	if err != nil {
		return c.JSON(http.StatusForbidden, okapi.M{"error": "tool not available through this gateway"})
	}
	return c.OK(ToolInfoResponse{Info: *info})
}

// RunRequest is the JSON body for POST /v1/run.
type RunRequest struct {
	Tool           string `json:"tool"`
	Args           string `json:"args,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // 0 = server default.
	WorkingDir     string `json:"working_dir,omitempty"`     // Confined under the sandbox root.
}

// RunResponse is the JSON response for POST /v1/run.
type RunResponse struct {
	ExecutionID   string  `json:"execution_id"`
	Tool          string  `json:"tool"`
	Success       bool    `json:"success"` // exit code zero
	Output        string  `json:"output"`
	ExitCode      int     `json:"exit_code"`
	DurationSecs  float64 `json:"duration_seconds"`
	Truncated     bool    `json:"truncated"`
	CorrelationID string  `json:"correlation_id"`
}

func (g *Gateway) handleRun(c *okapi.Context) error {
	caller := c.GetString("callerID")
	if caller == "" {
		caller = anonymousCaller
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(caller); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Tool == "" {
		return c.AbortBadRequest("tool is required")
	}

	correlationID := newCorrelationID()

	g.logger.Info("http run",
		slog.String("caller", caller),
		slog.String("correlation_id", correlationID),
		slog.String("tool", req.Tool),
	)

	result, err := g.runner.Run(c.Context(), gatekeeper.Request{
		Tool:           req.Tool,
		Args:           req.Args,
		TimeoutSeconds: req.TimeoutSeconds,
		WorkingDir:     req.WorkingDir,
	})
	if err != nil {
		return g.runError(c, correlationID, err)
	}

	return c.OK(RunResponse{
		ExecutionID:   result.ID,
		Tool:          result.Tool,
		Success:       result.ExitCode == 0,
		Output:        result.Output,
		ExitCode:      result.ExitCode,
		DurationSecs:  result.Elapsed.Seconds(),
		Truncated:     result.Truncated,
		CorrelationID: correlationID,
	})
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped caller ID.
// With no keys configured every request passes as anonymous.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		caller, err := g.resolveCaller(c.Header("Authorization"))
		if err != nil {
			return c.AbortUnauthorized(err.Error())
		}
		c.Set("callerID", caller)
		return next(c)
	}
}

// resolveCaller maps an Authorization header to a caller ID. The full key
// map is always scanned so lookup time does not depend on the key.
func (g *Gateway) resolveCaller(authHeader string) (string, error) {
	if len(g.config.APIKeys) == 0 {
		return anonymousCaller, nil
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("missing or invalid Authorization header")
	}
	apiKey := strings.TrimPrefix(authHeader, "Bearer ")

	callerID := ""
	for key, caller := range g.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			callerID = caller
		}
	}
	if callerID == "" {
		return "", errors.New("invalid API key")
	}
	return callerID, nil
}

// --- Helpers ---

// runError logs a failed run and writes the mapped HTTP response.
func (g *Gateway) runError(c *okapi.Context, correlationID string, err error) error {
	var ge *gatekeeper.Error
	if errors.As(err, &ge) {
		g.logger.Warn("execution refused",
			slog.String("correlation_id", correlationID),
			slog.String("kind", string(ge.Kind)),
			slog.String("error", ge.Error()),
		)
	} else {
		g.logger.Error("execution failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}

	code, body := errorStatus(correlationID, err)
	return c.JSON(code, body)
}

// errorStatus maps gatekeeper error kinds to an HTTP status and response
// body. Unclassified failures return 500 with no internal detail.
func errorStatus(correlationID string, err error) (int, okapi.M) {
	var ge *gatekeeper.Error
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError, okapi.M{"error": "execution failed", "correlation_id": correlationID}
	}

	switch ge.Kind {
	case gatekeeper.KindAccessDenied:
		return http.StatusForbidden, okapi.M{"error": ge.Message, "correlation_id": correlationID}
	case gatekeeper.KindValidation:
		return http.StatusBadRequest, okapi.M{"error": ge.Message, "correlation_id": correlationID}
	case gatekeeper.KindTimeout:
		return http.StatusRequestTimeout, okapi.M{
			"error":           ge.Message,
			"elapsed_seconds": ge.Elapsed.Seconds(),
			"correlation_id":  correlationID,
		}
	default:
		return http.StatusInternalServerError, okapi.M{"error": "execution failed", "correlation_id": correlationID}
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
