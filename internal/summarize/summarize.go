package summarize

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgallion1/retell/internal/llm"
	"github.com/dgallion1/retell/internal/segment"
)

// DefaultMaxTokens is the output budget of one summarization call.
const DefaultMaxTokens = 4000

const instructions = `Retell the following text in detail while preserving its style, tone and key details. ` +
	`Keep the plot, the events, the characters and their motivations. ` +
	`Do not shorten it to a short synopsis: the retelling must read as a compact version of the original.`

// ChapterSummary is the retelling of one chapter. When the backend call
// failed, Text holds the placeholder and Err the cause.
type ChapterSummary struct {
	Index int
	Title string
	Text  string
	Err   error
}

// Summary is the outcome of one summarization run.
type Summary struct {
	Text     string
	Chapters []ChapterSummary
}

// Failed returns the units whose backend call failed.
func (s Summary) Failed() []ChapterSummary {
	var out []ChapterSummary
	for _, ch := range s.Chapters {
		if ch.Err != nil {
			out = append(out, ch)
		}
	}
	return out
}

// Summarizer produces context-chained retellings.
type Summarizer struct {
	llm       llm.Completer
	maxTokens int
	log       *slog.Logger
}

func New(c llm.Completer, maxTokens int, log *slog.Logger) *Summarizer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{llm: c, maxTokens: maxTokens, log: log}
}

// SummarizeDocument retells chapters in order. Each prompt carries the
// previous chapter's retelling as context; the first carries none. A
// failed chapter contributes the placeholder, which is also carried
// forward, and the run continues.
func (s *Summarizer) SummarizeDocument(ctx context.Context, chapters []segment.Chapter) Summary {
	out := Summary{Chapters: make([]ChapterSummary, 0, len(chapters))}
	texts := make([]string, 0, len(chapters))
	previous := ""

	for _, ch := range chapters {
		cs := ChapterSummary{Index: ch.Index, Title: ch.Title}
		text, err := s.llm.Complete(ctx, llm.Request{
			Prompt:    chapterPrompt(previous, ch.Text),
			MaxTokens: s.maxTokens,
		})
		if err != nil {
			s.log.Warn("chapter summary failed", "chapter", ch.Index, "error", err)
			text = llm.Placeholder(err)
			cs.Err = err
		}
		cs.Text = text
		out.Chapters = append(out.Chapters, cs)
		texts = append(texts, text)
		previous = text
	}

	out.Text = strings.Join(texts, "\n\n")
	return out
}

// SummarizeText retells unsegmented text with a single call.
func (s *Summarizer) SummarizeText(ctx context.Context, text string) Summary {
	cs := ChapterSummary{}
	out, err := s.llm.Complete(ctx, llm.Request{
		Prompt:    textPrompt(text),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		s.log.Warn("text summary failed", "error", err)
		out = llm.Placeholder(err)
		cs.Err = err
	}
	cs.Text = out
	return Summary{Text: out, Chapters: []ChapterSummary{cs}}
}

func chapterPrompt(previous, chapter string) string {
	return strings.Join([]string{
		instructions,
		"Context from previous chapters: " + previous,
		"Chapter text: " + chapter,
	}, "\n\n")
}

func textPrompt(text string) string {
	return strings.Join([]string{
		instructions,
		"Make sure it reads easily and keeps the spirit of the original.",
		"Text: " + text,
	}, "\n\n")
}
