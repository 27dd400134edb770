package summarize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgallion1/retell/internal/llm"
	"github.com/dgallion1/retell/internal/segment"
)

// recorder answers from a script and remembers every request.
type recorder struct {
	replies []string
	errs    map[int]error
	reqs    []llm.Request
}

func (r *recorder) Complete(ctx context.Context, req llm.Request) (string, error) {
	i := len(r.reqs)
	r.reqs = append(r.reqs, req)
	if err := r.errs[i]; err != nil {
		return "", err
	}
	if i < len(r.replies) {
		return r.replies[i], nil
	}
	return fmt.Sprintf("summary %d", i), nil
}

func newTestSummarizer(c llm.Completer) *Summarizer {
	return New(c, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSummarizeDocument_TwoChapters(t *testing.T) {
	rec := &recorder{replies: []string{"S1", "S2"}}
	s := newTestSummarizer(rec)

	chapters := segment.Split("Chapter 1\nAlice leaves.\nChapter 2\nAlice returns.\n")
	sum := s.SummarizeDocument(context.Background(), chapters)

	if len(rec.reqs) != 2 {
		t.Fatalf("expected 2 backend calls, got %d", len(rec.reqs))
	}
	if !strings.Contains(rec.reqs[1].Prompt, "S1") {
		t.Errorf("second prompt should carry the first summary, got %q", rec.reqs[1].Prompt)
	}
	if !strings.Contains(rec.reqs[1].Prompt, "Alice returns.") {
		t.Errorf("second prompt should embed chapter text, got %q", rec.reqs[1].Prompt)
	}
	if sum.Text != "S1\n\nS2" {
		t.Errorf("expected %q, got %q", "S1\n\nS2", sum.Text)
	}
	if len(sum.Failed()) != 0 {
		t.Errorf("expected no failures, got %d", len(sum.Failed()))
	}
}

func TestSummarizeDocument_FirstPromptHasNoContext(t *testing.T) {
	rec := &recorder{}
	s := newTestSummarizer(rec)
	s.SummarizeDocument(context.Background(), segment.Split("Chapter 1\nx\n"))

	if !strings.Contains(rec.reqs[0].Prompt, "Context from previous chapters: \n\n") {
		t.Errorf("expected empty context in first prompt, got %q", rec.reqs[0].Prompt)
	}
	if rec.reqs[0].MaxTokens != DefaultMaxTokens {
		t.Errorf("expected max tokens %d, got %d", DefaultMaxTokens, rec.reqs[0].MaxTokens)
	}
}

func TestSummarizeDocument_CarriesOnlyLatestSummary(t *testing.T) {
	rec := &recorder{replies: []string{"AAA", "BBB", "CCC"}}
	s := newTestSummarizer(rec)
	s.SummarizeDocument(context.Background(), segment.Split("Chapter 1\na\nChapter 2\nb\nChapter 3\nc\n"))

	if len(rec.reqs) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(rec.reqs))
	}
	third := rec.reqs[2].Prompt
	if !strings.Contains(third, "BBB") {
		t.Errorf("third prompt should contain the second summary")
	}
	if strings.Contains(third, "AAA") {
		t.Errorf("third prompt should not contain the first summary")
	}
}

func TestSummarizeDocument_FailureDegradesGracefully(t *testing.T) {
	rec := &recorder{
		replies: []string{"", "", "S3"},
		errs:    map[int]error{1: errors.New("timeout")},
	}
	s := newTestSummarizer(rec)
	chapters := segment.Split("Chapter 1\na\nChapter 2\nb\nChapter 3\nc\n")
	sum := s.SummarizeDocument(context.Background(), chapters)

	if len(rec.reqs) != 3 {
		t.Fatalf("expected every chapter attempted, got %d calls", len(rec.reqs))
	}
	failed := sum.Failed()
	if len(failed) != 1 || failed[0].Index != 1 {
		t.Fatalf("expected chapter 1 to fail, got %+v", failed)
	}
	placeholder := llm.Placeholder(errors.New("timeout"))
	if sum.Chapters[1].Text != placeholder {
		t.Errorf("expected placeholder text, got %q", sum.Chapters[1].Text)
	}
	if !strings.Contains(rec.reqs[2].Prompt, placeholder) {
		t.Errorf("placeholder should be carried into the next prompt")
	}
	if !strings.HasSuffix(sum.Text, "\n\nS3") {
		t.Errorf("expected final summary to end with S3, got %q", sum.Text)
	}
}

func TestSummarizeDocument_NoChapters(t *testing.T) {
	rec := &recorder{}
	sum := newTestSummarizer(rec).SummarizeDocument(context.Background(), nil)
	if len(rec.reqs) != 0 {
		t.Errorf("expected no calls, got %d", len(rec.reqs))
	}
	if sum.Text != "" {
		t.Errorf("expected empty summary, got %q", sum.Text)
	}
}

func TestSummarizeText_SingleCall(t *testing.T) {
	rec := &recorder{replies: []string{"short"}}
	sum := newTestSummarizer(rec).SummarizeText(context.Background(), "Chapter 1\nwhole text")

	if len(rec.reqs) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.reqs))
	}
	if strings.Contains(rec.reqs[0].Prompt, "Context from previous chapters") {
		t.Errorf("single-shot prompt should not chain context")
	}
	if !strings.Contains(rec.reqs[0].Prompt, "Text: Chapter 1\nwhole text") {
		t.Errorf("expected full text in prompt, got %q", rec.reqs[0].Prompt)
	}
	if sum.Text != "short" {
		t.Errorf("expected %q, got %q", "short", sum.Text)
	}
}

func TestSummarizeText_Failure(t *testing.T) {
	rec := &recorder{errs: map[int]error{0: errors.New("down")}}
	sum := newTestSummarizer(rec).SummarizeText(context.Background(), "x")
	if len(sum.Failed()) != 1 {
		t.Fatalf("expected one failed unit, got %d", len(sum.Failed()))
	}
	if !strings.Contains(sum.Text, "down") {
		t.Errorf("expected placeholder with details, got %q", sum.Text)
	}
}
