package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/retell/internal/archive"
	"github.com/dgallion1/retell/internal/chat"
	"github.com/dgallion1/retell/internal/config"
	"github.com/dgallion1/retell/internal/llm"
	"github.com/dgallion1/retell/internal/quiz"
	"github.com/dgallion1/retell/internal/session"
	"github.com/dgallion1/retell/internal/summarize"
	"github.com/dgallion1/retell/internal/verify"
)

// fakeModel answers by prompt shape.
func fakeModel(ctx context.Context, req llm.Request) (string, error) {
	switch {
	case strings.Contains(req.Prompt, "User answer: A1"):
		return "✅ Correct!", nil
	case strings.Contains(req.Prompt, "User answer:"):
		return "❌ Incorrect.", nil
	case strings.HasPrefix(req.Prompt, "Ask "):
		return "Q1\nA1\n", nil
	default:
		return "a retelling", nil
	}
}

type fakeHistory struct {
	events []archive.Event
	err    error
	limit  int
}

func (f *fakeHistory) History(_ context.Context, _ string, limit int) ([]archive.Event, error) {
	f.limit = limit
	return f.events, f.err
}

func testConfig() config.Config {
	return config.Config{
		CORSOrigins:    []string{"*"},
		MaxUploadBytes: 1 << 20,
		SessionSecret:  "test-secret-test-secret-test-sec",
		Session:        config.SessionConfig{TTL: time.Hour},
	}
}

func newTestServer(t *testing.T, cfg config.Config, history HistoryReader) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := llm.NewClient(llm.CompleterFunc(fakeModel), llm.Options{Provider: "fake", Model: "m1"}, log)
	svc := chat.NewService(
		session.NewStore(0),
		summarize.New(client, 0, log),
		quiz.NewGenerator(client, 0, 0, log),
		verify.NewMachine(client, 0, 0, log),
		nil,
		chat.Config{TempDir: t.TempDir()},
		log,
	)
	return NewServer(svc, client, history, log, cfg)
}

func do(t *testing.T, h http.Handler, method, path, sid string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if sid != "" {
		req.Header.Set(headerSessionID, sid)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeReplies(t *testing.T, rec *httptest.ResponseRecorder) repliesResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out repliesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode replies: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rec := do(t, s, http.MethodGet, "/health", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"sessions":0`) {
		t.Errorf("expected session count, got %s", rec.Body.String())
	}
}

func TestSession_ReadDoesNotRegister(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rec := do(t, s, http.MethodGet, "/api/session", "ghost", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if st.Status != verify.StatusIdle || st.HasSummary || st.Busy {
		t.Errorf("expected empty idle state, got %+v", st)
	}
	if n := s.chat.Sessions().Len(); n != 0 {
		t.Errorf("expected no registered sessions, got %d", n)
	}
}

func TestCORS_Credentials(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		want    string
	}{
		{"wildcard", []string{"*"}, ""},
		{"explicit origin", []string{"https://app.example"}, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.CORSOrigins = tt.origins
			s := newTestServer(t, cfg, nil)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", "https://app.example")
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.want {
				t.Errorf("expected credentials header %q, got %q", tt.want, got)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") == "" {
				t.Error("expected the origin to be allowed")
			}
		})
	}
}

func TestStart_ReturnsGreeting(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	out := decodeReplies(t, do(t, s, http.MethodPost, "/api/session/start", "u1", nil, ""))
	if out.SessionID != "u1" {
		t.Errorf("expected session u1, got %q", out.SessionID)
	}
	if len(out.Replies) != 1 || out.Replies[0].Text != chat.MsgGreeting {
		t.Errorf("expected greeting, got %+v", out.Replies)
	}
}

func TestConversationFlow(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	out := decodeReplies(t, do(t, s, http.MethodPost, "/api/messages", "u1",
		strings.NewReader(`{"text":"Once upon a time"}`), "application/json"))
	if len(out.Replies) != 2 || out.Replies[0].Text != "a retelling" {
		t.Fatalf("unexpected summary replies %+v", out.Replies)
	}
	if len(out.Replies[1].Buttons) != 2 {
		t.Fatalf("expected next-step buttons, got %+v", out.Replies[1])
	}

	out = decodeReplies(t, do(t, s, http.MethodPost, "/api/actions/"+chat.ActionCheckUnderstanding, "u1", nil, ""))
	if len(out.Replies) != 1 || out.Replies[0].Text != "Question 1: Q1" {
		t.Fatalf("expected first question, got %+v", out.Replies)
	}

	rec := do(t, s, http.MethodGet, "/api/session", "u1", nil, "")
	var st sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if st.Status != verify.StatusAwaiting || st.Current == nil || *st.Current != 0 || st.Questions != 1 {
		t.Errorf("unexpected session state %+v", st)
	}

	out = decodeReplies(t, do(t, s, http.MethodPost, "/api/messages", "u1",
		strings.NewReader(`{"text":"A1"}`), "application/json"))
	got := make([]string, 0, len(out.Replies))
	for _, r := range out.Replies {
		got = append(got, r.Text)
	}
	if len(got) != 2 || got[1] != verify.CompletionNotice {
		t.Errorf("expected judgment then completion notice, got %v", got)
	}

	rec = do(t, s, http.MethodGet, "/api/session", "u1", nil, "")
	st = sessionResponse{}
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Status != verify.StatusComplete {
		t.Errorf("expected complete status, got %q", st.Status)
	}
}

func TestMessage_InvalidBody(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rec := do(t, s, http.MethodPost, "/api/messages", "u1", strings.NewReader("{"), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestFile_Upload(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	body, ct := multipartBody(t, "../../tale.txt", "Chapter 1\nfoo\nChapter 2\nbar\n")
	out := decodeReplies(t, do(t, s, http.MethodPost, "/api/files", "u1", body, ct))
	if len(out.Replies) != 2 {
		t.Fatalf("expected summary and prompt, got %+v", out.Replies)
	}
	if out.Replies[0].Text != "a retelling\n\na retelling" {
		t.Errorf("unexpected summary %q", out.Replies[0].Text)
	}
}

func TestFile_Unsupported(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	body, ct := multipartBody(t, "photo.jpg", "binary")
	out := decodeReplies(t, do(t, s, http.MethodPost, "/api/files", "u1", body, ct))
	if len(out.Replies) != 1 || out.Replies[0].Text != chat.MsgUnsupportedFormat {
		t.Errorf("expected unsupported notice, got %+v", out.Replies)
	}
}

func TestFile_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 10
	s := newTestServer(t, cfg, nil)
	body, ct := multipartBody(t, "big.txt", strings.Repeat("x", 100))
	rec := do(t, s, http.MethodPost, "/api/files", "u1", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestFile_MissingField(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "no file")
	mw.Close()
	rec := do(t, s, http.MethodPost, "/api/files", "u1", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAction_Unknown(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	out := decodeReplies(t, do(t, s, http.MethodPost, "/api/actions/dance", "u1", nil, ""))
	if len(out.Replies) != 1 || out.Replies[0].Text != chat.MsgUnknownAction {
		t.Errorf("expected unknown action notice, got %+v", out.Replies)
	}
}

func TestSessionCookie_IssuedAndReused(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := do(t, s, http.MethodPost, "/api/session/start", "", nil, "")
	first := decodeReplies(t, rec)
	if first.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if got := rec.Header().Get(headerSessionID); got != first.SessionID {
		t.Errorf("expected session %q from cookie, got %q", first.SessionID, got)
	}
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "secret"
	s := newTestServer(t, cfg, nil)

	rec := do(t, s, http.MethodPost, "/api/session/start", "u1", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", rec.Code)
	}

	if rec := do(t, s, http.MethodGet, "/health", "", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("health should stay public, got %d", rec.Code)
	}
}

func TestLLMStats(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	do(t, s, http.MethodPost, "/api/messages", "u1", strings.NewReader(`{"text":"hello"}`), "application/json")

	rec := do(t, s, http.MethodGet, "/api/stats/llm", "u1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Provider string            `json:"provider"`
		Model    string            `json:"model"`
		Stats    llm.StatsSnapshot `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Model != "m1" || out.Provider != "fake" {
		t.Errorf("unexpected model info %+v", out)
	}
	if out.Stats.Calls != 1 {
		t.Errorf("expected 1 call, got %d", out.Stats.Calls)
	}
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, testConfig(), nil)
		if rec := do(t, s, http.MethodGet, "/api/history", "u1", nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("lists events", func(t *testing.T) {
		h := &fakeHistory{events: []archive.Event{{ID: "e1", SessionID: "u1", Kind: archive.KindQuiz}}}
		s := newTestServer(t, testConfig(), h)
		rec := do(t, s, http.MethodGet, "/api/history?limit=5", "u1", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if h.limit != 5 {
			t.Errorf("expected limit 5, got %d", h.limit)
		}
		if !strings.Contains(rec.Body.String(), `"e1"`) {
			t.Errorf("expected event in body, got %s", rec.Body.String())
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		s := newTestServer(t, testConfig(), &fakeHistory{})
		if rec := do(t, s, http.MethodGet, "/api/history?limit=x", "u1", nil, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("store error", func(t *testing.T) {
		s := newTestServer(t, testConfig(), &fakeHistory{err: errors.New("db gone")})
		if rec := do(t, s, http.MethodGet, "/api/history", "u1", nil, ""); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"book.pdf", "book.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\notes.txt`, "notes.txt"},
		{"", "unnamed"},
		{"a..b.txt", "a_b.txt"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
