package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/domain"
	"github.com/charlalabs/charla-gateway/internal/service/license"
	"github.com/charlalabs/charla-gateway/internal/service/ratelimiter"
	"github.com/charlalabs/charla-gateway/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Chat        *usecase.ChatService
	License     *license.Verifier
	UserLimiter ratelimiter.Limiter
	DBCheck     func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired. License and
// limiter may be nil when those features are not configured.
func NewServer(cfg config.Config, chat *usecase.ChatService, lic *license.Verifier, limiter ratelimiter.Limiter, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Chat: chat, License: lic, UserLimiter: limiter, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type chatRequest struct {
	UserID  string `json:"user_id" validate:"required,max=255"`
	Message string `json:"message" validate:"required,max=4000"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// ChatHandler handles POST /chat: decode, validate, license and rate-limit
// gates, then the chat usecase.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), map[string]string{"fields": "user_id, message"})
			return
		}

		if err := s.License.Check(req.UserID); err != nil {
			writeError(w, r, err, nil)
			return
		}

		if s.UserLimiter != nil {
			allowed, retryAfter, _ := s.UserLimiter.Allow(r.Context(), req.UserID)
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeError(w, r, fmt.Errorf("user %q: %w", req.UserID, domain.ErrRateLimited), nil)
				return
			}
		}

		reply, err := s.Chat.Handle(r.Context(), req.UserID, req.Message)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
	}
}

// HealthHandler serves GET / with a small status payload.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"service":   s.Cfg.OTELServiceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyzHandler reports readiness of the database dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DBCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.DBCheck(ctx); err != nil {
				LoggerFrom(r).Error("readiness check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "db": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
