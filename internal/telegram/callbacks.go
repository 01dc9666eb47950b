package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
)

// Callback data prefixes for the validation keyboard.
const (
	callbackConfirm = "confirm:"
	callbackReject  = "reject:"
)

func confirmKeyboard(sessionID string) tgbotapi.InlineKeyboardMarkup {
	yes := tgbotapi.NewInlineKeyboardButtonData("✅ That's it", callbackConfirm+sessionID)
	no := tgbotapi.NewInlineKeyboardButtonData("❌ Wrong document", callbackReject+sessionID)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(yes, no))
}

func (r *Router) handleCallback(ctx context.Context, cb tgbotapi.CallbackQuery) {
	// Acknowledge immediately so the button stops spinning.
	if _, err := r.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		zap.L().Warn("callback ack failed", zap.Error(err))
	}
	if cb.Message == nil {
		return
	}
	cid := cb.Message.Chat.ID

	var sessionID string
	var confirmed bool
	switch {
	case strings.HasPrefix(cb.Data, callbackConfirm):
		sessionID, confirmed = strings.TrimPrefix(cb.Data, callbackConfirm), true
	case strings.HasPrefix(cb.Data, callbackReject):
		sessionID, confirmed = strings.TrimPrefix(cb.Data, callbackReject), false
	default:
		return
	}

	_, err := r.orch.SubmitValidationAnswer(ctx, sessionID, confirmed)
	if err != nil {
		if errors.Is(err, store.ErrTerminalSession) {
			r.send(ctx, cid, "That question was already answered or has expired.")
			return
		}
		zap.L().Error("validation answer failed", zap.String("session_id", sessionID), zap.Error(err))
		r.sendError(ctx, cid)
		return
	}

	if confirmed {
		r.send(ctx, cid, "Confirmed, thanks. Send the photo and your question again and "+
			"I'll answer from that document — it's remembered now, so it will be fast.")
	} else {
		r.send(ctx, cid, "Understood, I won't suggest that document again. Send the photo "+
			"again and I'll dig deeper.")
	}
}
