package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/dgallion1/retell/internal/archive"
	"github.com/dgallion1/retell/internal/chat"
	"github.com/dgallion1/retell/internal/config"
	"github.com/dgallion1/retell/internal/llm"
)

const (
	headerSessionID = "X-Session-ID"
	cookieName      = "retell"
)

// HistoryReader lists archived pipeline events of a session.
type HistoryReader interface {
	History(ctx context.Context, sessionID string, limit int) ([]archive.Event, error)
}

// Server is the HTTP transport for the conversation service.
type Server struct {
	router  chi.Router
	chat    *chat.Service
	llm     *llm.Client
	history HistoryReader
	cookies *sessions.CookieStore
	log     *slog.Logger
	cfg     config.Config
}

// NewServer creates and configures the HTTP server. history may be nil
// when no archive is configured.
func NewServer(svc *chat.Service, client *llm.Client, history HistoryReader, log *slog.Logger, cfg config.Config) *Server {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// Cookies do not survive a restart without a configured secret.
		secret = securecookie.GenerateRandomKey(32)
	}
	cookies := sessions.NewCookieStore(secret)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.TTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	s := &Server{
		chat:    svc,
		llm:     client,
		history: history,
		cookies: cookies,
		log:     log,
		cfg:     cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", headerSessionID},
		ExposedHeaders:   []string{headerSessionID},
		AllowCredentials: !slices.Contains(s.cfg.CORSOrigins, "*"), // not allowed with a wildcard origin
		MaxAge:           300,
	}))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		}

		r.Post("/api/session/start", s.handleStart)
		r.Get("/api/session", s.handleSession)
		r.Post("/api/messages", s.handleMessage)
		r.Post("/api/files", s.handleFile)
		r.Post("/api/actions/{action}", s.handleAction)
		r.Get("/api/history", s.handleHistory)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.chat.Sessions().Len(),
	})
}

// sessionID resolves the caller's conversation. An explicit header wins
// over the cookie; a caller with neither gets a fresh cookie. Must run
// before the response body is written.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if sid := r.Header.Get(headerSessionID); sid != "" {
		w.Header().Set(headerSessionID, sid)
		return sid
	}

	// A cookie signed with another key decodes to an empty session.
	sess, _ := s.cookies.Get(r, cookieName)
	sid, _ := sess.Values["sid"].(string)
	if sid == "" {
		sid = uuid.NewString()
		sess.Values["sid"] = sid
		if err := sess.Save(r, w); err != nil {
			s.log.Warn("save session cookie", "error", err)
		}
	}
	w.Header().Set(headerSessionID, sid)
	return sid
}
