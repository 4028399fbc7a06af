package httpiface

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chat-relay/application/relay"
	"chat-relay/domain/catalog"
	domain "chat-relay/domain/chat"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const promptRequired = "Prompt is required."

type ChatService interface {
	Chat(ctx context.Context, req *domain.Request) (*domain.Response, error)
	OpenStream(ctx context.Context, req *domain.Request) (domain.EventStream, error)
	Ask(ctx context.Context, prompt string) (string, error)
}

// HealthChecker reports whether an optional dependency can serve traffic.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CircuitReporter exposes per-model breaker states.
type CircuitReporter interface {
	GetCircuitStates() map[string]gobreaker.State
}

// CrawlReporter exposes the outcome of the latest catalog crawl.
type CrawlReporter interface {
	LastStats() (catalog.CrawlStats, bool)
}

type Router struct {
	service     ChatService
	relay       *relay.Relay
	corsOrigins []string
	publicDir   string
	checks      map[string]HealthChecker
	circuits    CircuitReporter
	crawls      CrawlReporter
}

func NewRouter(service ChatService, relay *relay.Relay, corsOrigins []string) *Router {
	return &Router{
		service:     service,
		relay:       relay,
		corsOrigins: corsOrigins,
		checks:      make(map[string]HealthChecker),
	}
}

// WithPublicDir serves static files from dir for unmatched GET requests.
func (r *Router) WithPublicDir(dir string) *Router {
	r.publicDir = dir
	return r
}

// WithCircuitReporter adds breaker states to the /ready payload.
func (r *Router) WithCircuitReporter(circuits CircuitReporter) *Router {
	r.circuits = circuits
	return r
}

// WithCrawlReporter adds the latest crawl summary to the /ready payload.
func (r *Router) WithCrawlReporter(crawls CrawlReporter) *Router {
	r.crawls = crawls
	return r
}

// WithReadinessCheck adds a dependency probed by /ready.
func (r *Router) WithReadinessCheck(name string, checker HealthChecker) *Router {
	r.checks[name] = checker
	return r
}

func (r *Router) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(r.requestIDMiddleware())
	router.Use(requestLogger())
	router.Use(r.corsMiddleware())

	router.GET("/health", r.healthCheck)
	router.GET("/live", r.liveness)
	router.GET("/ready", r.readiness)

	router.POST("/api/chat", r.chat)
	router.POST("/api/chat-stream", r.chatStream)
	router.POST("/ask-ai", r.ask)

	router.NoRoute(r.notFound())

	return router
}

func (r *Router) notFound() gin.HandlerFunc {
	var static http.Handler
	if r.publicDir != "" {
		static = http.FileServer(http.Dir(r.publicDir))
	}
	return func(c *gin.Context) {
		if static != nil && (c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead) {
			static.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: "Not found"})
	}
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"ts": time.Now().UnixMilli(),
	})
}

// liveness probe: process is up and serving HTTP
func (r *Router) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// readiness probe: dependencies healthy and ready to serve traffic
func (r *Router) readiness(c *gin.Context) {
	checks := gin.H{}
	ready := true

	for name, checker := range r.checks {
		if err := checker.Health(c.Request.Context()); err != nil {
			checks[name] = gin.H{"ok": false, "error": err.Error()}
			ready = false
		} else {
			checks[name] = gin.H{"ok": true}
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	body := gin.H{
		"status":            status,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"checks":            checks,
		"active_heartbeats": relay.ActiveHeartbeats(),
	}
	if r.crawls != nil {
		if stats, ok := r.crawls.LastStats(); ok {
			body["catalog_crawl"] = gin.H{
				"discovered":  stats.Discovered,
				"stored":      stats.Stored,
				"failed":      stats.Failed,
				"duration_ms": stats.Duration.Milliseconds(),
			}
		}
	}
	if r.circuits != nil {
		circuits := gin.H{}
		for model, state := range r.circuits.GetCircuitStates() {
			circuits[model] = state.String()
		}
		body["circuits"] = circuits
	}
	c.JSON(code, body)
}

func (r *Router) chat(c *gin.Context) {
	var req domain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Debug("Failed to bind chat request")
		c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "Invalid request format"})
		return
	}

	resp, err := r.service.Chat(c.Request.Context(), &req)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// chatStream opens the upstream session before any header is written, so an
// open failure is still a plain JSON error. After that the relay owns the
// response.
func (r *Router) chatStream(c *gin.Context) {
	var req domain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Debug("Failed to bind chat stream request")
		c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "Invalid request format"})
		return
	}

	ctx := c.Request.Context()
	stream, err := r.service.OpenStream(ctx, &req)
	if err != nil {
		r.writeError(c, err)
		return
	}

	sink, ok := newSSEWriter(c.Writer)
	if !ok {
		_ = stream.Close()
		c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "Streaming not supported by server"})
		return
	}

	setSSEHeaders(c.Writer.Header())
	c.Status(http.StatusOK)

	result, err := r.relay.Run(ctx, stream, sink)
	fields := logrus.Fields{
		"request_id": domain.RequestID(ctx),
		"deltas":     result.Deltas,
		"errors":     result.Errors,
		"heartbeats": result.Heartbeats,
		"chars":      len(result.Text),
		"completed":  result.Completed,
		"streaming":  true,
	}
	switch {
	case errors.Is(err, domain.ErrTransport):
		logrus.WithFields(fields).WithError(err).Info("Client went away during stream")
	case err != nil:
		logrus.WithFields(fields).WithError(err).Warn("Stream ended with upstream failure")
	default:
		logrus.WithFields(fields).Info("Stream finished")
	}
}

func (r *Router) ask(c *gin.Context) {
	var req domain.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: promptRequired})
		return
	}

	answer, err := r.service.Ask(c.Request.Context(), req.Prompt)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: promptRequired})
			return
		}
		c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: domain.GenericFailureMessage})
		return
	}
	c.JSON(http.StatusOK, domain.AskResponse{Answer: answer})
}

// writeError maps validation failures to 400 and everything else to 500
// carrying the client-presentable failure message.
func (r *Router) writeError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrValidation) {
		c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
		return
	}
	logrus.WithField("request_id", domain.RequestID(c.Request.Context())).WithError(err).Error("Chat request failed")
	c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: domain.FailureMessage(err)})
}
