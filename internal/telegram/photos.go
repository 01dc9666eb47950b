package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// photoBatch buffers photos from one chat (or one media group) so an album
// arrives as a single pipeline request instead of N parallel ones.
type photoBatch struct {
	mu      sync.Mutex
	chatID  int64
	caption string
	images  [][]byte
	timer   *time.Timer
}

var batches sync.Map

func (r *Router) acceptPhoto(ctx context.Context, msg tgbotapi.Message) {
	cid := msg.Chat.ID

	// Telegram sends several resolutions; the last one is the largest.
	ph := msg.Photo[len(msg.Photo)-1]
	imgBytes, err := r.downloadPhoto(ctx, ph.FileID)
	if err != nil {
		zap.L().Error("photo download failed", zap.Int64("chat_id", cid), zap.Error(err))
		r.sendError(ctx, cid)
		return
	}

	key := fmt.Sprintf("chat:%d", cid)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}

	bi, _ := batches.LoadOrStore(key, &photoBatch{chatID: cid})
	b := bi.(*photoBatch)

	b.mu.Lock()
	b.images = append(b.images, imgBytes)
	if msg.Caption != "" {
		b.caption = msg.Caption
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(r.debounce, func() { r.processBatch(ctx, key) })
	first := len(b.images) == 1
	b.mu.Unlock()

	if first {
		r.send(ctx, cid, "Got it — analyzing the nameplate...")
	}
}

func (r *Router) processBatch(ctx context.Context, key string) {
	bi, ok := batches.LoadAndDelete(key)
	if !ok {
		return
	}
	b := bi.(*photoBatch)

	b.mu.Lock()
	images := b.images
	chatID := b.chatID
	caption := b.caption
	b.mu.Unlock()

	if len(images) == 0 {
		return
	}
	if len(images) > 1 {
		r.send(ctx, chatID, "I'll analyze the first photo; send others one at a time if needed.")
	}

	result, err := r.orch.Process(ctx, pipelineRequest(images[0], caption, chatID))
	if err != nil {
		zap.L().Error("pipeline request failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendError(ctx, chatID)
		return
	}

	text := formatResult(result)
	if result.Validation != nil {
		r.sendWithKeyboard(ctx, chatID, text, confirmKeyboard(result.Validation.ID))
		return
	}
	r.send(ctx, chatID, text)
}

func (r *Router) downloadPhoto(ctx context.Context, fileID string) ([]byte, error) {
	file, err := r.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, eris.Wrap(err, "telegram: get file")
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", r.bot.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "telegram: create download request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "telegram: download photo")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("telegram: photo download status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "telegram: read photo")
	}
	return body, nil
}
