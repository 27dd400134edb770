package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/retell/internal/api"
	"github.com/dgallion1/retell/internal/config"
	"github.com/dgallion1/retell/internal/llm"
)

func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve POST /generate in front of a model backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context())
		},
	}
}

// gatewayOptions picks the backend the gateway forwards to. It shares the
// timeout and concurrency limits of the main client.
func gatewayOptions(cfg config.Config) llm.Options {
	return llm.Options{
		Provider:      cfg.Gateway.Provider,
		Model:         cfg.Gateway.Model,
		URL:           cfg.Gateway.URL,
		APIKey:        cfg.LLM.APIKey,
		Timeout:       cfg.LLM.Timeout,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
		MaxRetries:    cfg.LLM.MaxRetries,
		StatsWindow:   cfg.LLM.StatsWindow,
	}
}

func runGateway(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(os.Stdout, cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Gateway.Provider == llm.ProviderGenerate {
		err := errors.New("gateway provider cannot be generate")
		log.Error("invalid configuration", "error", err)
		return err
	}

	client, err := llm.New(gatewayOptions(cfg), log)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Gateway.Port,
		Handler:      api.NewGateway(client, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting gateway", "port", cfg.Gateway.Port, "provider", client.Provider(), "model", client.Model())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		return err
	}
	return nil
}
