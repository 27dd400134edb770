package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/dgallion1/retell/internal/telegram"
)

func newTelegramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Run the Telegram bot (long polling)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTelegram(cmd.Context())
		},
	}
}

func runTelegram(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(os.Stdout, cfg.LogLevel)
	if err != nil {
		return err
	}
	if err := cfg.ValidateTelegram(); err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}
	botAPI.Debug = cfg.Telegram.Debug

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	go a.runSessionCleanup(ctx)

	bot := telegram.New(botAPI, a.chat, telegram.Config{MaxFileBytes: cfg.MaxUploadBytes}, log)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.PollTimeout
	updates := botAPI.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		log.Info("shutting down...")
		botAPI.StopReceivingUpdates()
	}()

	log.Info("starting telegram bot", "username", botAPI.Self.UserName, "provider", a.llm.Provider())
	bot.Run(ctx, updates)
	return nil
}
