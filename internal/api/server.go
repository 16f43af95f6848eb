package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tapdeck/internal/session"
	"tapdeck/pkg/interfaces"
	"tapdeck/pkg/types"
)

// SessionHub is the surface the HTTP API needs from the hub. An interface
// here keeps the API layer free of controller wiring details.
type SessionHub interface {
	Scan(ctx context.Context, kioskID, chipUID, profileID string) (*types.Session, error)
	SessionByID(sessionID string) (*types.Session, error)
	StopSessionByID(sessionID string) error
	KioskCount() int
}

// Server is the HTTP surface: chip scans from reader bridges, session
// inspection and manual stops. No business logic lives here, only HTTP
// handling and JSON serialization.
type Server struct {
	hub         SessionHub
	store       interfaces.Store
	router      chi.Router
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	startedAt   time.Time
}

// NewServer creates the API server and mounts all routes.
func NewServer(hub SessionHub, store interfaces.Store, logger zerolog.Logger) *Server {
	s := &Server{
		hub:   hub,
		store: store,
		// 5 req/s with a burst of 10 per client is generous for chip taps
		// while still containing a looping reader bridge.
		rateLimiter: NewRateLimiter(rate.Limit(5), 10),
		logger:      logger.With().Str("component", "api").Logger(),
		startedAt:   time.Now(),
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.jsonMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Post("/api/scan", s.handleScan)
	r.Get("/api/sessions/{sessionID}", s.handleGetSession)
	r.Delete("/api/sessions/{sessionID}", s.handleStopSession)
	r.Get("/health", s.handleHealth)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartCleanupLoop evicts stale rate-limiter entries until ctx is done.
func (s *Server) StartCleanupLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.rateLimiter.Cleanup(5 * time.Minute)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ScanRequest is the body of POST /api/scan, sent by an NFC reader bridge.
type ScanRequest struct {
	KioskID   string `json:"kiosk_id"`
	ChipUID   string `json:"chip_uid"`
	ProfileID string `json:"profile_id,omitempty"`
}

// ScanResponse carries the started session back to the bridge.
type ScanResponse struct {
	Session *types.Session `json:"session"`
}

// SessionResponse is the body of GET /api/sessions/{id}.
type SessionResponse struct {
	Session *types.Session `json:"session"`
}

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Database      string    `json:"database"`
	KioskCount    int       `json:"kiosk_count"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleScan drives one chip tap through the hub.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.KioskID == "" || !types.IsValidKioskID(req.KioskID) {
		s.sendError(w, "Valid kiosk_id is required", http.StatusBadRequest)
		return
	}
	if !types.IsValidChipUID(req.ChipUID) {
		s.sendError(w, "Valid chip_uid is required", http.StatusBadRequest)
		return
	}
	if req.ProfileID != "" && !types.IsValidProfileID(req.ProfileID) {
		s.sendError(w, "Invalid profile_id format", http.StatusBadRequest)
		return
	}

	sess, err := s.hub.Scan(r.Context(), req.KioskID, req.ChipUID, req.ProfileID)
	if err != nil {
		s.sendScanError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ScanResponse{Session: sess})
}

// sendScanError maps the session error taxonomy onto HTTP status codes.
func (s *Server) sendScanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrChipNotFound):
		s.sendError(w, "Chip is not mapped to a video", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrDailyLimitReached):
		s.sendError(w, "Daily watch limit reached", http.StatusForbidden)
	case errors.Is(err, session.ErrScanSuperseded):
		s.sendError(w, "Scan superseded by a newer scan", http.StatusConflict)
	case errors.Is(err, types.ErrInvalidChipUID), errors.Is(err, types.ErrInvalidProfileID):
		s.sendError(w, "Invalid scan parameters", http.StatusBadRequest)
	case errors.Is(err, session.ErrScanResolutionFailed), errors.Is(err, session.ErrSessionStartRejected):
		s.sendError(w, "Could not start a session for this chip", http.StatusUnprocessableEntity)
	default:
		s.sendError(w, "Failed to process scan", http.StatusInternalServerError)
	}
}

// handleGetSession returns a live session snapshot.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.hub.SessionByID(sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		}
		return
	}

	_ = json.NewEncoder(w).Encode(SessionResponse{Session: sess})
}

// handleStopSession requests a manual stop. Responds 202 as soon as the
// session is located - the end call is best-effort and never blocks the
// response.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.hub.StopSessionByID(sessionID); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to stop session", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Session stop requested"})
}

// handleHealth reports daemon and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = err.Error()
	}

	response := HealthResponse{
		Status:        status,
		Timestamp:     time.Now(),
		Database:      dbStatus,
		KioskCount:    s.hub.KioskCount(),
		UptimeSeconds: int64(time.Since(s.startedAt) / time.Second),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDMiddleware assigns every request a UUID, echoed in the
// X-Request-ID header and attached to log lines.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID)))
	})
}

// loggingMiddleware emits one structured line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// corsMiddleware enables the kiosk web UI to call the API cross-origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware sets the response content type for all API routes.
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies the per-client token bucket, keyed by remote
// address.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientID = r.RemoteAddr
		}
		if !s.rateLimiter.Allow(clientID) {
			s.sendError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
