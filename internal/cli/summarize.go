package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/retell/internal/llm"
	"github.com/dgallion1/retell/internal/parser"
	"github.com/dgallion1/retell/internal/quiz"
	"github.com/dgallion1/retell/internal/segment"
	"github.com/dgallion1/retell/internal/summarize"
)

func newSummarizeCmd() *cobra.Command {
	var withQuiz bool
	cmd := &cobra.Command{
		Use:   "summarize FILE",
		Short: "Retell a document once and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummarize(cmd.Context(), cmd.OutOrStdout(), args[0], withQuiz)
		},
	}
	cmd.Flags().BoolVar(&withQuiz, "quiz", false, "also print comprehension questions with answers")
	return cmd
}

func runSummarize(ctx context.Context, out io.Writer, path string, withQuiz bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the retelling.
	log, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := llm.New(llmOptions(cfg), log)
	if err != nil {
		return err
	}
	defer client.Close()

	p := cfg.Pipeline
	r := retelling{
		summarizer: summarize.New(client, p.SummaryMaxTokens, log),
		markers:    p.HeadingMarkers,
	}
	if withQuiz {
		r.quizzes = quiz.NewGenerator(client, p.QuizSize, p.QuizMaxTokens, log)
	}
	return r.run(ctx, out, path)
}

// retelling is the one-shot pipeline behind the summarize command.
type retelling struct {
	summarizer *summarize.Summarizer
	quizzes    *quiz.Generator // nil skips the quiz
	markers    []string
}

func (r retelling) run(ctx context.Context, out io.Writer, path string) error {
	doc, err := parser.ExtractFile(path, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("extract %s: %w", path, err)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return errors.New("the document contains no text")
	}

	sum := r.summarizer.SummarizeDocument(ctx, segment.Split(doc.Text, r.markers...))
	if failed := sum.Failed(); len(failed) > 0 && len(failed) == len(sum.Chapters) {
		return fmt.Errorf("no chapter could be retold: %w", failed[0].Err)
	} else if len(failed) > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d chapters could not be retold\n", len(failed), len(sum.Chapters))
	}
	fmt.Fprintln(out, sum.Text)

	if r.quizzes == nil {
		return nil
	}
	questions, err := r.quizzes.Generate(ctx, sum.Text)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return errors.New("could not generate questions")
	}
	fmt.Fprintln(out)
	for i, q := range questions {
		fmt.Fprintf(out, "%d. %s\n   %s\n", i+1, q.Text, q.Answer)
	}
	return nil
}
