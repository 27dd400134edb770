package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/retell/internal/parser"
	"github.com/dgallion1/retell/internal/quiz"
	"github.com/dgallion1/retell/internal/segment"
	"github.com/dgallion1/retell/internal/session"
	"github.com/dgallion1/retell/internal/summarize"
	"github.com/dgallion1/retell/internal/verify"
)

// Recorder receives pipeline results for auditing. Errors are logged and
// never reach the user.
type Recorder interface {
	RecordSummary(ctx context.Context, sessionID, source string, sum summarize.Summary) error
	RecordQuiz(ctx context.Context, sessionID string, questions []quiz.Question) error
	RecordJudgment(ctx context.Context, sessionID string, index int, q quiz.Question, answer string, out verify.Outcome) error
}

type nopRecorder struct{}

func (nopRecorder) RecordSummary(context.Context, string, string, summarize.Summary) error {
	return nil
}
func (nopRecorder) RecordQuiz(context.Context, string, []quiz.Question) error { return nil }
func (nopRecorder) RecordJudgment(context.Context, string, int, quiz.Question, string, verify.Outcome) error {
	return nil
}

// Config tunes the conversation service.
type Config struct {
	HeadingMarkers []string
	ChunkSize      int
	TempDir        string // Where uploads are spooled; empty means os.TempDir.
}

// Service routes conversation events through the pipeline and turns the
// results into replies. It is shared by all transports.
type Service struct {
	sessions   *session.Store
	summarizer *summarize.Summarizer
	quizzes    *quiz.Generator
	machine    *verify.Machine
	recorder   Recorder
	cfg        Config
	log        *slog.Logger
}

// NewService wires the pipeline stages. rec may be nil.
func NewService(store *session.Store, sum *summarize.Summarizer, gen *quiz.Generator, m *verify.Machine, rec Recorder, cfg Config, log *slog.Logger) *Service {
	if rec == nil {
		rec = nopRecorder{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if len(cfg.HeadingMarkers) == 0 {
		cfg.HeadingMarkers = segment.DefaultMarkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		sessions:   store,
		summarizer: sum,
		quizzes:    gen,
		machine:    m,
		recorder:   rec,
		cfg:        cfg,
		log:        log,
	}
}

// Sessions exposes the session registry.
func (s *Service) Sessions() *session.Store { return s.sessions }

// Supports reports whether a file with this name can be extracted.
func (s *Service) Supports(filename string) bool {
	return parser.IsSupportedExtension(filename)
}

// Start resets the session and greets the user.
func (s *Service) Start(ctx context.Context, sid string) []Reply {
	s.sessions.Get(sid).Reset()
	s.log.Info("session reset", "session_id", sid)
	return s.say(MsgGreeting)
}

// Text handles a free-text message: an answer while a question is open,
// otherwise new text to retell.
func (s *Service) Text(ctx context.Context, sid, text string) (replies []Reply) {
	sess := s.sessions.Get(sid)
	tk, st, err := sess.Begin()
	if err != nil {
		return s.say(MsgBusy)
	}
	defer s.recoverStep(sess, tk, &replies)

	if _, ok := st.Pointer(); ok {
		return s.answer(ctx, sess, tk, st, text)
	}

	if strings.TrimSpace(text) == "" {
		sess.Release(tk)
		return s.say(MsgEmptyText)
	}
	sum := s.summarizer.SummarizeText(ctx, text)
	return s.finishSummary(ctx, sess, tk, st, "text", sum)
}

// File extracts, segments and retells an uploaded document. The upload
// is spooled to a temporary file that is always removed.
func (s *Service) File(ctx context.Context, sid, filename string, r io.Reader) (replies []Reply) {
	log := s.log.With("session_id", sid, "filename", filename)
	if !s.Supports(filename) {
		log.Info("unsupported upload")
		return s.say(MsgUnsupportedFormat)
	}

	sess := s.sessions.Get(sid)
	tk, st, err := sess.Begin()
	if err != nil {
		return s.say(MsgBusy)
	}
	defer s.recoverStep(sess, tk, &replies)

	doc, err := s.extract(filename, r)
	if err != nil {
		sess.Release(tk)
		log.Error("extract upload", "error", err)
		return s.say(MsgFileError)
	}
	log.Info("extracted text", "title", doc.Title, "chars", utf8.RuneCountInString(doc.Text), "preview", preview(doc.Text, 100))

	if strings.TrimSpace(doc.Text) == "" {
		sess.Release(tk)
		return s.say(MsgEmptyDocument)
	}

	chapters := segment.Split(doc.Text, s.cfg.HeadingMarkers...)
	log.Info("segmented document", "chapters", len(chapters), "titles", segment.Titles(chapters))
	sum := s.summarizer.SummarizeDocument(ctx, chapters)
	return s.finishSummary(ctx, sess, tk, st, filename, sum)
}

// Action handles a button press.
func (s *Service) Action(ctx context.Context, sid, action string) []Reply {
	switch action {
	case ActionNewText:
		return s.Start(ctx, sid)
	case ActionCheckUnderstanding:
		return s.checkUnderstanding(ctx, sid)
	default:
		return s.say(MsgUnknownAction)
	}
}

func (s *Service) checkUnderstanding(ctx context.Context, sid string) (replies []Reply) {
	sess := s.sessions.Get(sid)
	tk, st, err := sess.Begin()
	if err != nil {
		return s.say(MsgBusy)
	}
	defer s.recoverStep(sess, tk, &replies)
	if st.Summary == "" {
		sess.Release(tk)
		return s.say(MsgNoSummary)
	}

	questions, err := s.quizzes.Generate(ctx, st.Summary)
	if err != nil {
		s.log.Error("quiz generation", "session_id", sid, "error", err)
	}
	st.Questions = questions
	first, err := s.machine.Start(&st)
	if errors.Is(err, verify.ErrNoQuestions) {
		sess.Release(tk)
		return s.say(MsgNoQuestions)
	}

	if !sess.Commit(tk, st) {
		return nil
	}
	if err := s.recorder.RecordQuiz(ctx, sid, questions); err != nil {
		s.log.Warn("record quiz", "session_id", sid, "error", err)
	}
	return s.say(first)
}

func (s *Service) answer(ctx context.Context, sess *session.Session, tk session.Ticket, st session.State, text string) []Reply {
	i, _ := st.Pointer()
	q := st.Questions[i]
	out, err := s.machine.Submit(ctx, &st, text)
	if err != nil {
		sess.Release(tk)
		return s.say(MsgNoQuestions)
	}
	if !sess.Commit(tk, st) {
		return nil
	}
	if err := s.recorder.RecordJudgment(ctx, sess.ID, i, q, text, out); err != nil {
		s.log.Warn("record judgment", "session_id", sess.ID, "error", err)
	}

	texts := []string{out.Judgment}
	texts = append(texts, out.Notices...)
	if out.Next != "" {
		texts = append(texts, out.Next)
	}
	return s.say(texts...)
}

// finishSummary stores a fresh summary, dropping any previous quiz. When
// every unit failed nothing is stored and no follow-up is offered.
func (s *Service) finishSummary(ctx context.Context, sess *session.Session, tk session.Ticket, st session.State, source string, sum summarize.Summary) []Reply {
	failed := sum.Failed()
	if len(failed) == len(sum.Chapters) {
		sess.Release(tk)
		return s.say(sum.Text, MsgSummaryFailed)
	}

	st.Clear()
	st.Summary = sum.Text
	if !sess.Commit(tk, st) {
		return nil
	}
	if err := s.recorder.RecordSummary(ctx, sess.ID, source, sum); err != nil {
		s.log.Warn("record summary", "session_id", sess.ID, "error", err)
	}

	replies := s.say(sum.Text)
	if len(failed) > 0 {
		replies = append(replies, s.say(fmt.Sprintf("%d of %d chapters could not be retold.", len(failed), len(sum.Chapters)))...)
	}
	return append(replies, Reply{Text: MsgWhatNext, Buttons: nextStepButtons})
}

// recoverStep turns a panic inside a step into an error reply and frees
// the session for the next event. The state is left as it was.
func (s *Service) recoverStep(sess *session.Session, tk session.Ticket, replies *[]Reply) {
	r := recover()
	if r == nil {
		return
	}
	sess.Release(tk)
	s.log.Error("step panicked", "session_id", sess.ID, "panic", r, "stack", string(debug.Stack()))
	*replies = s.say(MsgInternalError)
}

func (s *Service) extract(filename string, r io.Reader) (*parser.Document, error) {
	tmp, err := os.CreateTemp(s.cfg.TempDir, "retell-upload-*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return parser.ExtractFile(path, filename)
}

func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}
