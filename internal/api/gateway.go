package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/retell/internal/llm"
)

// maxGatewayBody bounds a /generate request.
const maxGatewayBody = 4 << 20

// Gateway exposes a single completion backend over the /generate
// contract that llm.GenerateClient speaks.
type Gateway struct {
	router chi.Router
	llm    llm.Completer
	log    *slog.Logger
}

func NewGateway(c llm.Completer, log *slog.Logger) *Gateway {
	g := &Gateway{llm: c, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/generate", g.handleGenerate)
	g.router = r
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

type generateRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxGatewayBody)

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detailError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		detailError(w, "prompt is required", http.StatusBadRequest)
		return
	}

	out, err := g.llm.Complete(r.Context(), llm.Request{Prompt: req.Prompt, MaxTokens: req.MaxTokens})
	if err != nil {
		g.log.Error("model call failed", "error", err)
		detailError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g.log.Debug("model call", "prompt_chars", len(req.Prompt), "response_chars", len(out))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"response": out})
}

// detailError writes the {"detail": msg} body /generate callers expect.
func detailError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}
