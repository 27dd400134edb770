package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/retell/internal/chat"
	"github.com/dgallion1/retell/internal/session"
	"github.com/dgallion1/retell/internal/verify"
)

type repliesResponse struct {
	SessionID string       `json:"session_id"`
	Replies   []chat.Reply `json:"replies"`
}

type sessionResponse struct {
	SessionID  string        `json:"session_id"`
	Status     verify.Status `json:"status"`
	HasSummary bool          `json:"has_summary"`
	Questions  int           `json:"questions"`
	Current    *int          `json:"current,omitempty"`
	Answered   int           `json:"answered"`
	Busy       bool          `json:"busy"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	writeReplies(w, sid, s.chat.Start(r.Context(), sid))
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeReplies(w, sid, s.chat.Text(r.Context(), sid, req.Text))
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	filename := sanitizeFilename(header.Filename)
	writeReplies(w, sid, s.chat.File(r.Context(), sid, filename, file))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	action := chi.URLParam(r, "action")
	writeReplies(w, sid, s.chat.Action(r.Context(), sid, action))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	// Reading must not register a session.
	var st session.State
	busy := false
	if sess := s.chat.Sessions().Lookup(sid); sess != nil {
		st = sess.Snapshot()
		busy = sess.Busy()
	}

	resp := sessionResponse{
		SessionID:  sid,
		Status:     verify.StatusOf(&st),
		HasSummary: st.Summary != "",
		Questions:  len(st.Questions),
		Answered:   len(st.Answers),
		Busy:       busy,
	}
	if i, ok := st.Pointer(); ok {
		resp.Current = &i
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	if s.history == nil {
		jsonError(w, "archive disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.history.History(r.Context(), sid, limit)
	if err != nil {
		s.log.Error("read history", "session_id", sid, "error", err)
		jsonError(w, "failed to read history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": sid,
		"events":     events,
	})
}

// writeReplies always encodes a list, possibly empty. An empty list means
// the request was overtaken by a reset.
func writeReplies(w http.ResponseWriter, sid string, replies []chat.Reply) {
	if replies == nil {
		replies = []chat.Reply{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(repliesResponse{SessionID: sid, Replies: replies})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
