package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/retell/internal/llm"
	"github.com/dgallion1/retell/internal/segment"
)

const (
	DefaultSize      = 5
	DefaultMaxTokens = 2000
)

// Question is one comprehension check with its reference answer.
type Question struct {
	Text   string `json:"question"`
	Answer string `json:"answer"`
}

// Generator asks the backend for question/answer pairs about a summary.
type Generator struct {
	llm       llm.Completer
	size      int
	maxTokens int
	log       *slog.Logger
}

func NewGenerator(c llm.Completer, size, maxTokens int, log *slog.Logger) *Generator {
	if size <= 0 {
		size = DefaultSize
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{llm: c, size: size, maxTokens: maxTokens, log: log}
}

// Generate returns the parsed quiz. A backend failure is returned as an
// error; output that does not parse yields an empty list and no error.
func (g *Generator) Generate(ctx context.Context, summary string) ([]Question, error) {
	raw, err := g.llm.Complete(ctx, llm.Request{
		Prompt:    g.prompt(summary),
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate quiz: %w", err)
	}

	questions := Parse(raw)
	if len(questions) == 0 {
		g.log.Warn("quiz response did not parse", "response_chars", len(raw))
	} else if len(questions) != g.size {
		g.log.Info("quiz size differs from request", "requested", g.size, "got", len(questions))
	}
	return questions, nil
}

func (g *Generator) prompt(summary string) string {
	return fmt.Sprintf("Ask %d questions to check understanding of this text and give the correct answers. "+
		"Write each question on its own line and its answer on the next line. "+
		"Do not number them and do not add blank lines or any other text.\n\nText: %s", g.size, summary)
}

// Parse pairs consecutive lines: line 2k is a question and line 2k+1 its
// answer, both trimmed. A trailing unpaired line is dropped.
func Parse(raw string) []Question {
	lines := segment.Lines(raw)
	questions := make([]Question, 0, len(lines)/2)
	for i := 0; i+1 < len(lines); i += 2 {
		questions = append(questions, Question{
			Text:   strings.TrimSpace(lines[i]),
			Answer: strings.TrimSpace(lines[i+1]),
		})
	}
	return questions
}
