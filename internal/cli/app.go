package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/retell/internal/archive"
	"github.com/dgallion1/retell/internal/chat"
	"github.com/dgallion1/retell/internal/config"
	"github.com/dgallion1/retell/internal/llm"
	"github.com/dgallion1/retell/internal/quiz"
	"github.com/dgallion1/retell/internal/session"
	"github.com/dgallion1/retell/internal/summarize"
	"github.com/dgallion1/retell/internal/verify"
)

// app holds what the conversational commands share.
type app struct {
	cfg        config.Config
	log        *slog.Logger
	llm        *llm.Client
	archive    *archive.Store // nil when no archive is configured
	sessions   *session.Store
	summarizer *summarize.Summarizer
	quizzes    *quiz.Generator
	chat       *chat.Service
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	client, err := llm.New(llmOptions(cfg), log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, llm: client}

	var rec chat.Recorder
	if cfg.Archive.Driver != "" {
		store, err := archive.Open(ctx, archive.Driver(cfg.Archive.Driver), cfg.Archive.DSN)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.archive = store
		rec = store
		log.Info("archive enabled", "driver", cfg.Archive.Driver)
	}

	p := cfg.Pipeline
	a.sessions = session.NewStore(cfg.Session.TTL)
	a.summarizer = summarize.New(client, p.SummaryMaxTokens, log)
	a.quizzes = quiz.NewGenerator(client, p.QuizSize, p.QuizMaxTokens, log)
	a.chat = chat.NewService(
		a.sessions,
		a.summarizer,
		a.quizzes,
		verify.NewMachine(client, p.JudgeMaxTokens, p.MaxAttempts, log),
		rec,
		chat.Config{HeadingMarkers: p.HeadingMarkers, ChunkSize: p.ChunkSize},
		log,
	)
	return a, nil
}

func llmOptions(cfg config.Config) llm.Options {
	return llm.Options{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		URL:            cfg.LLM.URL,
		APIKey:         cfg.LLM.APIKey,
		Timeout:        cfg.LLM.Timeout,
		MaxConcurrent:  cfg.LLM.MaxConcurrent,
		MaxPromptChars: cfg.LLM.MaxPromptChars,
		MaxRetries:     cfg.LLM.MaxRetries,
		StatsWindow:    cfg.LLM.StatsWindow,
	}
}

// runSessionCleanup evicts idle sessions until ctx is done.
func (a *app) runSessionCleanup(ctx context.Context) {
	a.sessions.Run(ctx, a.cfg.Session.CleanupInterval)
}

func (a *app) Close() {
	a.llm.Close()
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Warn("close archive", "error", err)
		}
	}
}
