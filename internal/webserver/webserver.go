package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mailpulse/mailpulse/internal/db"
	"github.com/mailpulse/mailpulse/internal/events"
	"github.com/mailpulse/mailpulse/internal/hub"
)

type AuthConfig struct {
	JWTSecret       string `json:"jwtSecret"`
	AccessTokenTTL  string `json:"accessTokenTtl"`  // Go duration, default 15m
	RefreshTokenTTL string `json:"refreshTokenTtl"` // Go duration, default 168h
}

type Config struct {
	Enabled   bool       `json:"enabled"`
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	TLS       TLSConfig  `json:"tls"`
	Auth      AuthConfig `json:"auth"`
	Keepalive string     `json:"keepalive"` // Go duration, default 30s
}

// Server exposes the subscription endpoint plus the auth and account API
// around the hub. It is purely an admission/teardown shim: producers talk to
// the hub directly and the server never decides what gets broadcast.
type Server struct {
	store     *db.DB
	hub       *hub.Hub
	gate      *Gate
	cfg       Config
	logger    *slog.Logger
	keepalive time.Duration
	httpSrv   *http.Server
}

func New(store *db.DB, h *hub.Hub, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	keepalive := 30 * time.Second
	if d, err := time.ParseDuration(cfg.Keepalive); err == nil && d > 0 {
		keepalive = d
	}
	return &Server{
		store:     store,
		hub:       h,
		gate:      NewGate(cfg.Auth.JWTSecret, store),
		cfg:       cfg,
		logger:    logger,
		keepalive: keepalive,
	}
}

func (s *Server) accessTokenTTL() time.Duration {
	if d, err := time.ParseDuration(s.cfg.Auth.AccessTokenTTL); err == nil && d > 0 {
		return d
	}
	return 15 * time.Minute
}

func (s *Server) refreshTokenTTL() time.Duration {
	if d, err := time.ParseDuration(s.cfg.Auth.RefreshTokenTTL); err == nil && d > 0 {
		return d
	}
	return 168 * time.Hour
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	mux.HandleFunc("GET /events/{accountId}", s.handleEvents)
	mux.HandleFunc("GET /events/", s.handleMissingAccount)
	mux.HandleFunc("GET /ws/events/{accountId}", s.handleWSEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	return corsMiddleware(mux)
}

func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}

	tlsConf, err := tlsConfig(s.cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	s.httpSrv.TLSConfig = tlsConf

	go func() {
		var err error
		if tlsConf != nil {
			err = s.httpSrv.ListenAndServeTLS("", "")
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("webserver", "err", err)
		}
	}()
	s.logger.Info("webserver: listening", "addr", addr, "tls", tlsConf != nil)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("webserver: encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeAuthError maps the admission taxonomy to response bodies. Missing and
// invalid credentials are indistinguishable to the requester.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownPrincipal) {
		s.writeError(w, http.StatusUnauthorized, "Unknown principal")
		return
	}
	s.writeError(w, http.StatusUnauthorized, "Authentication required")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.store.GetUserByUsername(body.Username)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)) != nil {
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	access, err := IssueAccessToken(s.cfg.Auth.JWTSecret, user.ID, s.accessTokenTTL())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	refresh, err := GenerateRefreshToken()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	if err := s.store.SaveRefreshToken(refresh, user.ID, time.Now().Add(s.refreshTokenTTL())); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}

	s.logger.Info("auth: login", "user", user.Username)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	stored, err := s.store.GetRefreshToken(body.RefreshToken)
	if err != nil || time.Now().After(stored.ExpiresAt) {
		s.writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	// Rotation: the presented token is consumed whether or not a new pair
	// can be issued.
	if err := s.store.DeleteRefreshToken(body.RefreshToken); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not rotate token")
		return
	}

	access, err := IssueAccessToken(s.cfg.Auth.JWTSecret, stored.UserID, s.accessTokenTTL())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	refresh, err := GenerateRefreshToken()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	if err := s.store.SaveRefreshToken(refresh, stored.UserID, time.Now().Add(s.refreshTokenTTL())); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.store.DeleteRefreshToken(body.RefreshToken); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not delete token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type accountResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := s.gate.Authenticate(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	accounts, err := s.store.GetMailAccountsByUser(userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Could not list accounts")
		return
	}
	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, accountResponse{ID: a.ID, Email: a.Email, DisplayName: a.DisplayName})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"accounts": resp,
		"count":    len(resp),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"subscribers": s.hub.Count(),
	})
}

func (s *Server) handleMissingAccount(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusBadRequest, "accountId is required")
}

// handleEvents is the subscription endpoint: validating -> streaming ->
// closed. The auth gate runs before any stream state is touched; the
// connection is deregistered on every exit path.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountId")
	if accountID == "" {
		s.writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}

	principal, err := s.gate.Admit(r, accountID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := hub.NewStreamWriter(w, flusher)
	if err := sw.Write(events.NewConnected(accountID)); err != nil {
		return
	}

	conn := s.hub.AddClient(accountID, principal.UserID)
	defer s.hub.RemoveClient(conn)

	s.logger.Info("events: stream open", "account", accountID, "user", principal.UserID, "conn", conn.ID)
	defer s.logger.Info("events: stream closed", "account", accountID, "conn", conn.ID)

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-conn.Events():
			if !ok {
				return
			}
			if err := sw.Write(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := sw.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}
