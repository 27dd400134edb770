package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dgallion1/retell/internal/chat"
)

// Sender is the part of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Config struct {
	QueueSize    int           // Pending updates per chat.
	IdleTimeout  time.Duration // A chat worker exits after this long without updates.
	MaxFileBytes int64
	HTTPClient   *http.Client // Used to download documents.
}

// Bot feeds Telegram updates into the conversation service. Updates of
// one chat are handled in arrival order by a dedicated worker; a reset
// skips the queue so it can interrupt a long summary.
type Bot struct {
	api  Sender
	chat *chat.Service
	cfg  Config
	log  *slog.Logger

	mu      sync.Mutex
	queues  map[int64]chan tgbotapi.Update
	stopped bool
	wg      sync.WaitGroup
}

func New(api Sender, svc *chat.Service, cfg Config, log *slog.Logger) *Bot {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 20 << 20
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Bot{
		api:    api,
		chat:   svc,
		cfg:    cfg,
		log:    log.With("component", "telegram"),
		queues: make(map[int64]chan tgbotapi.Update),
	}
}

// Run dispatches updates until ctx is done or updates is closed, then
// waits for the chat workers to drain.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(ctx, u)
		}
	}
}

// Stop closes every chat queue and waits for the workers.
func (b *Bot) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for id, ch := range b.queues {
		close(ch)
		delete(b.queues, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bot) dispatch(ctx context.Context, u tgbotapi.Update) {
	chatID, ok := chatOf(u)
	if !ok {
		return
	}
	if isReset(u) {
		b.handle(ctx, u)
		return
	}
	if !b.enqueue(ctx, chatID, u) {
		b.log.Warn("chat queue full", "chat_id", chatID)
		if u.CallbackQuery != nil {
			b.answerCallback(u.CallbackQuery)
		}
		b.send(chatID, []chat.Reply{{Text: chat.MsgBusy}})
	}
}

func (b *Bot) enqueue(ctx context.Context, chatID int64, u tgbotapi.Update) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	ch, ok := b.queues[chatID]
	if !ok {
		ch = make(chan tgbotapi.Update, b.cfg.QueueSize)
		b.queues[chatID] = ch
		b.wg.Add(1)
		go b.work(ctx, chatID, ch)
	}
	select {
	case ch <- u:
		return true
	default:
		return false
	}
}

func (b *Bot) work(ctx context.Context, chatID int64, ch chan tgbotapi.Update) {
	defer b.wg.Done()
	idle := time.NewTimer(b.cfg.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ctx, u)
			idle.Reset(b.cfg.IdleTimeout)
		case <-idle.C:
			b.mu.Lock()
			if len(ch) == 0 && !b.stopped {
				delete(b.queues, chatID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			idle.Reset(b.cfg.IdleTimeout)
		}
	}
}

// handle processes one update. A panic is logged and reported to the chat
// so the worker and the dispatcher keep running.
func (b *Bot) handle(ctx context.Context, u tgbotapi.Update) {
	chatID, _ := chatOf(u)
	sid := SessionID(chatID)
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("update panicked", "chat_id", chatID, "panic", r, "stack", string(debug.Stack()))
			b.send(chatID, []chat.Reply{{Text: chat.MsgInternalError}})
		}
	}()

	if cq := u.CallbackQuery; cq != nil {
		b.answerCallback(cq)
		b.send(chatID, b.chat.Action(ctx, sid, cq.Data))
		return
	}

	msg := u.Message
	switch {
	case msg.IsCommand() && msg.Command() == "start":
		b.send(chatID, b.chat.Start(ctx, sid))
	case msg.IsCommand():
		b.log.Debug("ignoring command", "chat_id", chatID, "command", msg.Command())
	case msg.Document != nil:
		b.send(chatID, b.document(ctx, sid, msg.Document))
	case msg.Text != "":
		b.send(chatID, b.chat.Text(ctx, sid, msg.Text))
	}
}

func (b *Bot) document(ctx context.Context, sid string, doc *tgbotapi.Document) []chat.Reply {
	log := b.log.With("session_id", sid, "filename", doc.FileName)
	if !b.chat.Supports(doc.FileName) {
		return []chat.Reply{{Text: chat.MsgUnsupportedFormat}}
	}
	if int64(doc.FileSize) > b.cfg.MaxFileBytes {
		return []chat.Reply{{Text: chat.MsgFileTooLarge}}
	}

	data, err := b.download(ctx, doc.FileID)
	if err != nil {
		log.Error("download document", "error", err)
		return []chat.Reply{{Text: chat.MsgFileError}}
	}
	if int64(len(data)) > b.cfg.MaxFileBytes {
		return []chat.Reply{{Text: chat.MsgFileTooLarge}}
	}
	return b.chat.File(ctx, sid, doc.FileName, bytes.NewReader(data))
}

// download reads at most MaxFileBytes+1 bytes so an oversized file is
// detectable without buffering all of it.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := b.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, b.cfg.MaxFileBytes+1))
}

func (b *Bot) answerCallback(cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.log.Warn("answer callback", "error", err)
	}
}

func (b *Bot) send(chatID int64, replies []chat.Reply) {
	for _, r := range replies {
		msg := tgbotapi.NewMessage(chatID, r.Text)
		if len(r.Buttons) > 0 {
			msg.ReplyMarkup = keyboard(r.Buttons)
		}
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send message", "chat_id", chatID, "error", err)
		}
	}
}

// keyboard lays out one button per row.
func keyboard(buttons []chat.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Action),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// SessionID maps a chat to its conversation session.
func SessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func chatOf(u tgbotapi.Update) (int64, bool) {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID, true
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID, true
	}
	return 0, false
}

func isReset(u tgbotapi.Update) bool {
	if u.CallbackQuery != nil {
		return u.CallbackQuery.Data == chat.ActionNewText
	}
	return u.Message != nil && u.Message.IsCommand() && u.Message.Command() == "start"
}
