// Package httpapi exposes the arena over a versioned JSON surface.
// Every handler writes the protocol envelope; errors flow through the
// shared taxonomy in internal/apierr.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/arena"
	"github.com/pcgarena/arena/internal/auth"
	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/submit"
	"github.com/pcgarena/arena/internal/telemetry"
)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins      []string
	BattlesPerMinute int
	VotesPerMinute   int
	AdminBearerKey   string
	Version          string
	SecureCookies    bool
}

// Server wires the service layer to routes and middleware.
type Server struct {
	arena  *arena.Service
	auth   *auth.Service
	submit *submit.Service
	store  storage.Store
	opts   Options
	logger *zap.Logger

	metrics       *telemetry.HTTPMetrics
	limiter       *keyedLimiter
	startedAt     time.Time
	requestsTotal atomic.Int64

	mux *http.ServeMux
}

func NewServer(arenaSvc *arena.Service, authSvc *auth.Service, submitSvc *submit.Service,
	store storage.Store, opts Options, logger *zap.Logger) *Server {
	s := &Server{
		arena:     arenaSvc,
		auth:      authSvc,
		submit:    submitSvc,
		store:     store,
		opts:      opts,
		logger:    logger,
		metrics:   telemetry.NewHTTPMetrics(),
		limiter:   newKeyedLimiter(),
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /v1/leaderboard", s.handleLeaderboard)
	s.mux.Handle("POST /v1/battles:next",
		s.rateLimited("battles:next", s.opts.BattlesPerMinute, s.handleNextBattle))
	s.mux.Handle("POST /v1/votes",
		s.rateLimited("votes", s.opts.VotesPerMinute, s.handleVote))
	s.mux.HandleFunc("GET /v1/generators/{id}", s.handleGeneratorDetail)
	s.mux.HandleFunc("GET /v1/stats/confusion-matrix", s.handleConfusionMatrix)
	s.mux.HandleFunc("GET /v1/stats/platform", s.handlePlatformStats)
	s.mux.HandleFunc("GET /v1/stats/levels/{id}", s.handleLevelStats)

	s.mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /v1/auth/google", s.handleGoogleLogin)
	s.mux.HandleFunc("POST /v1/auth/logout", s.handleLogout)
	s.mux.HandleFunc("POST /v1/auth/verify-email", s.handleVerifyEmail)
	s.mux.HandleFunc("POST /v1/auth/resend-verification", s.handleResendVerification)
	s.mux.HandleFunc("POST /v1/auth/forgot-password", s.handleForgotPassword)
	s.mux.HandleFunc("POST /v1/auth/reset-password", s.handleResetPassword)
	s.mux.HandleFunc("GET /v1/auth/me", s.handleMe)
	s.mux.HandleFunc("GET /v1/auth/me/admin", s.handleMeAdmin)

	s.mux.Handle("GET /v1/builders/me/generators", s.requireSession(s.handleListOwned))
	s.mux.Handle("POST /v1/builders/generators/upload", s.requireSession(s.handleUploadCreate))
	s.mux.Handle("PUT /v1/builders/generators/{id}/upload", s.requireSession(s.handleUploadUpdate))
	s.mux.Handle("DELETE /v1/builders/generators/{id}", s.requireSession(s.handleGeneratorDelete))

	s.mux.Handle("POST /admin/generators/{id}/enable", s.requireAdmin(s.handleGeneratorEnable(true)))
	s.mux.Handle("POST /admin/generators/{id}/disable", s.requireAdmin(s.handleGeneratorEnable(false)))
	s.mux.Handle("POST /admin/season/reset", s.requireAdmin(s.handleSeasonReset))
	s.mux.Handle("POST /admin/sessions/{id}/flag", s.requireAdmin(s.handleSessionFlag))
	s.mux.Handle("POST /admin/backup", s.requireAdmin(s.handleBackup))
}

// Handler returns the full middleware chain: CORS, request id,
// logging, then routing (rate limits and session checks sit on the
// individual routes).
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withLogging(h)
	h = s.withRequestID(h)
	h = s.withCORS(h)
	return h
}

// RequestsTotal reports requests served since startup, for /health.
func (s *Server) RequestsTotal() int64 { return s.requestsTotal.Load() }

type healthResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	Status          string `json:"status"`
	ServerTimeUTC   string `json:"server_time_utc"`
	Version         string `json:"version"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	RequestsTotal   int64  `json:"requests_total"`
	BattlesServed   int64  `json:"battles_served"`
	VotesReceived   int64  `json:"votes_received"`
	DBSizeBytes     int64  `json:"db_size_bytes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	size, err := s.store.SizeBytes()
	if err != nil {
		s.logger.Warn("health: db size unavailable", zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		ProtocolVersion: protocolVersion,
		Status:          "ok",
		ServerTimeUTC:   time.Now().UTC().Format(time.RFC3339),
		Version:         s.opts.Version,
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		RequestsTotal:   s.requestsTotal.Load(),
		BattlesServed:   s.arena.BattlesServed(),
		VotesReceived:   s.arena.VotesReceived(),
		DBSizeBytes:     size,
	})
}

// shutdownTimeout bounds graceful drain at exit.
const shutdownTimeout = 10 * time.Second

// Serve runs the HTTP server until ctx is canceled, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
