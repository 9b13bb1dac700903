// Package server exposes the registry over HTTP: signed agent operations,
// public reads, an event feed and the daemon's background workers.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ssd-technologies/nebulon/internal/agent"
	"github.com/ssd-technologies/nebulon/internal/linkverify"
	"github.com/ssd-technologies/nebulon/internal/ratelimit"
	"github.com/ssd-technologies/nebulon/internal/registry"
)

// Options configures a Server.
type Options struct {
	// AdminSecret guards operator endpoints. Empty disables them.
	AdminSecret string
	CORSOrigins []string
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int
	RateBurst int

	// Authority is the daemon's own admin key. Tier recalculation and link
	// verification act with it; nil disables both.
	Authority ed25519.PrivateKey
	Verifier  *linkverify.Verifier
	LinkBonus uint64

	TierInterval  time.Duration
	AuditInterval time.Duration

	Logger *zap.Logger
}

// Server is the HTTP server for the Nebulon API.
type Server struct {
	svc       *registry.Service
	hub       *Hub
	opts      Options
	authority registry.Address
	mux       *http.ServeMux
	handler   http.Handler
	limiter   *ratelimit.Limiter
	replay    *agent.ReplayCache
	upgrader  websocket.Upgrader
	log       *zap.Logger
	wg        sync.WaitGroup
}

// New creates a Server with all routes registered. hub must be the Hub the
// service was built to notify; nil creates an unconnected one.
func New(svc *registry.Service, hub *Hub, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		svc:    svc,
		hub:    hub,
		opts:   opts,
		mux:    http.NewServeMux(),
		replay: agent.NewReplayCache(),
		log:    log,
	}
	if opts.Authority != nil {
		s.authority, _ = registry.AddressFromKey(opts.Authority.Public().(ed25519.PublicKey))
	}
	if opts.RateLimit > 0 {
		s.limiter = ratelimit.New(opts.RateLimit, opts.RateBurst)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()

	c := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Agent-Key",
			"X-Agent-Timestamp",
			"X-Agent-Signature",
			"X-Agent-Nonce",
			"X-Request-ID",
		},
	})
	s.handler = s.withRequestID(s.withMetrics(s.withRateLimit(c.Handler(s.mux))))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Hub returns the event hub feeding websocket subscribers.
func (s *Server) Hub() *Hub { return s.hub }

// Authority returns the daemon's admin address, or "" when none is set.
func (s *Server) Authority() registry.Address { return s.authority }

// Close disconnects event subscribers and waits for workers started with
// StartWorkers to exit. Cancel the workers' context first.
func (s *Server) Close() {
	s.hub.Close()
	s.wg.Wait()
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Registry
	s.mux.HandleFunc("GET /api/registry", s.handleGetRegistry)
	s.mux.HandleFunc("POST /api/registry/init", s.handleInitRegistry)
	s.mux.HandleFunc("POST /api/admins", s.handleAddAdmin)
	s.mux.HandleFunc("DELETE /api/admins/{address}", s.handleRemoveAdmin)

	// Identities
	s.mux.HandleFunc("POST /api/identities", s.handleIssue)
	s.mux.HandleFunc("GET /api/identities", s.handleListIdentities)
	s.mux.HandleFunc("GET /api/identities/{handle}", s.handleGetIdentity)
	s.mux.HandleFunc("GET /api/identities/{handle}/private", s.handleGetPrivateData)
	s.mux.HandleFunc("POST /api/identities/{handle}/reissue", s.handleReissue)
	s.mux.HandleFunc("POST /api/identities/{handle}/status", s.handleUpdateStatus)
	s.mux.HandleFunc("POST /api/identities/{handle}/sns", s.handleUpdateSNS)
	s.mux.HandleFunc("POST /api/identities/{handle}/private", s.handleUpdatePrivateData)
	s.mux.HandleFunc("POST /api/identities/{handle}/public", s.handleUpdatePublicData)
	s.mux.HandleFunc("POST /api/identities/{handle}/claim", s.handleClaim)
	s.mux.HandleFunc("POST /api/sns/verify", s.handleVerifyLink)

	// Reputation
	s.mux.HandleFunc("POST /api/recommend", s.handleRecommend)
	s.mux.HandleFunc("POST /api/report", s.handleReport)
	s.mux.HandleFunc("GET /api/tiers", s.handleTiers)
	s.mux.HandleFunc("POST /api/tiers/calculate", s.handleCalculateTiers)
	s.mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)

	// Pool and balances
	s.mux.HandleFunc("POST /api/withdraw/currency", s.handleWithdrawCurrency)
	s.mux.HandleFunc("POST /api/withdraw/tokens", s.handleWithdrawTokens)
	s.mux.HandleFunc("GET /api/balances/{address}", s.handleGetBalances)
	s.mux.HandleFunc("POST /api/operator/deposit", s.adminAuth(s.handleDeposit))

	// Events
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("GET /api/events/ws", s.handleEventsWS)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "nebulon",
	})
}

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a registry error kind to an HTTP status.
func statusFor(kind registry.Kind) int {
	switch kind {
	case registry.KindAuthorization:
		return http.StatusForbidden
	case registry.KindValidation:
		return http.StatusBadRequest
	case registry.KindState:
		return http.StatusConflict
	case registry.KindResource:
		return http.StatusUnprocessableEntity
	case registry.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeRegistryError replies with the rule a registry error violated, or a
// generic 500 for infrastructure failures.
func (s *Server) writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *registry.Error
	if errors.As(err, &rerr) {
		operationErrors.WithLabelValues(rerr.Code).Inc()
		writeJSON(w, statusFor(rerr.Kind), errorResponse{Error: rerr.Msg, Code: rerr.Code})
		return
	}
	if errors.Is(err, context.Canceled) {
		writeError(w, http.StatusServiceUnavailable, "request canceled")
		return
	}
	s.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r.Context())),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
