// Package telegram is the chat adapter: it receives nameplate photos over
// long polling, feeds them to the pipeline, and relays validation
// questions and answers.
package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/config"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/pipeline"
)

// Router dispatches Telegram updates to the pipeline.
type Router struct {
	bot      *tgbotapi.BotAPI
	orch     *pipeline.Orchestrator
	limiter  *rate.Limiter
	debounce time.Duration
	timeout  int
}

// NewRouter creates the adapter. The send limiter keeps us inside
// Telegram's per-bot message rate.
func NewRouter(cfg config.TelegramConfig, orch *pipeline.Orchestrator) (*Router, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, eris.Wrap(err, "telegram: create bot")
	}

	rps := cfg.SendRPS
	if rps <= 0 {
		rps = 3
	}
	debounce := time.Duration(cfg.DebounceMillis) * time.Millisecond
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}
	timeout := cfg.UpdateTimeout
	if timeout <= 0 {
		timeout = 30
	}

	return &Router{
		bot:      bot,
		orch:     orch,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		debounce: debounce,
		timeout:  timeout,
	}, nil
}

// Run polls for updates until ctx is cancelled. Each photo is processed in
// its own goroutine so one slow cascade does not block the next operator.
func (r *Router) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = r.timeout
	updates := r.bot.GetUpdatesChan(u)

	zap.L().Info("telegram adapter started", zap.String("bot", r.bot.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			r.bot.StopReceivingUpdates()
			zap.L().Info("telegram adapter stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return eris.New("telegram: update channel closed")
			}
			r.handleUpdate(ctx, upd)
		}
	}
}

func (r *Router) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		go r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	switch {
	case msg.IsCommand():
		r.handleCommand(ctx, msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, *msg)
	case msg.Text != "":
		r.send(ctx, cid, "Send a photo of the equipment nameplate (add your question "+
			"as the photo caption) and I'll identify the unit and find its documentation.")
	}
}

func (r *Router) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start":
		r.send(ctx, cid, "Hi! I identify industrial equipment from nameplate photos and "+
			"find official documentation.\n\nSend a photo of the nameplate; put your "+
			"question in the caption if you have one.")
	case "help":
		r.send(ctx, cid, "Photo of a nameplate → equipment identification, manual lookup, "+
			"and a troubleshooting answer.\n\nCommands:\n/start — intro\n/help — this message")
	default:
		r.send(ctx, cid, "Unknown command. Try /help.")
	}
}

func (r *Router) send(ctx context.Context, chatID int64, text string) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.bot.Send(msg); err != nil {
		zap.L().Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) sendWithKeyboard(ctx context.Context, chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	if _, err := r.bot.Send(msg); err != nil {
		zap.L().Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) sendError(ctx context.Context, chatID int64) {
	r.send(ctx, chatID, "Something went wrong on my side while analyzing that. "+
		"Please try again in a minute.")
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}
