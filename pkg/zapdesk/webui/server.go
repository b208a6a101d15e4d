// Package webui implements the admin dashboard backend: a JSON API for
// settings, knowledge, sessions, and conversations, plus a websocket feed
// that streams live session and message events.
package webui

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/events"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/session"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/store"
)

// SessionAPI is the slice of the session manager the dashboard uses.
type SessionAPI interface {
	Statuses() ([]session.Status, error)
	Create(ctx context.Context, id, description string) error
	Delete(ctx context.Context, id string) error
}

// Embedder generates embeddings for knowledge content.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds dashboard server configuration.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// JWTSecret signs dashboard auth tokens. Required.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is how long issued tokens stay valid.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg      Config
	store    *store.Store
	sessions SessionAPI
	embedder Embedder
	bus      *events.Bus
	logger   *slog.Logger

	hub    *hub
	server *http.Server
}

// New creates a dashboard server.
func New(cfg Config, st *store.Store, sessions SessionAPI, embedder Embedder, bus *events.Bus, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		embedder: embedder,
		bus:      bus,
		logger:   logger.With("component", "webui"),
	}
}

// Start begins serving the dashboard API and websocket feed.
func (s *Server) Start(ctx context.Context) error {
	s.hub = newHub(s.bus, s.sessions, s.logger)
	s.hub.run(ctx)

	mux := http.NewServeMux()

	// Public.
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	// Authenticated.
	mux.HandleFunc("GET /api/auth/me", s.auth(s.handleMe))
	mux.HandleFunc("PUT /api/account", s.auth(s.handleAccountUpdate))
	mux.HandleFunc("PUT /api/account/password", s.auth(s.handlePasswordChange))

	mux.HandleFunc("GET /api/settings", s.auth(s.handleSettingsList))
	mux.HandleFunc("PUT /api/settings", s.auth(s.handleSettingsUpdate))

	mux.HandleFunc("GET /api/categories", s.auth(s.handleCategoriesList))
	mux.HandleFunc("POST /api/categories", s.auth(s.handleCategoryCreate))
	mux.HandleFunc("DELETE /api/categories/{id}", s.auth(s.handleCategoryDelete))

	mux.HandleFunc("GET /api/knowledge", s.auth(s.handleKnowledgeList))
	mux.HandleFunc("POST /api/knowledge", s.auth(s.handleKnowledgeCreate))
	mux.HandleFunc("PUT /api/knowledge/{id}", s.auth(s.handleKnowledgeUpdate))
	mux.HandleFunc("DELETE /api/knowledge/{id}", s.auth(s.handleKnowledgeDelete))

	mux.HandleFunc("GET /api/sessions", s.auth(s.handleSessionsList))
	mux.HandleFunc("POST /api/sessions", s.auth(s.handleSessionCreate))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.auth(s.handleSessionDelete))

	mux.HandleFunc("GET /api/conversations", s.auth(s.handleConversationsList))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.auth(s.handleConversationMessages))

	// Websocket feed authenticates via token query param inside the handler.
	mux.HandleFunc("GET /ws", s.handleWS)

	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections are long lived
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("dashboard starting", "addr", s.cfg.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("dashboard server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
	s.logger.Info("dashboard stopped")
}

// ── JSON helpers ──

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}
