// Package bot はTelegramトランスポートのアダプターを提供する。
// 配布のビジネスロジックはengineパッケージにあり、ここでは
// 受信した更新のルーティングとメッセージの送受信だけを行う。
package bot

import (
	"context"
	"errors"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hitoshi/giftgate/internal/accesskey"
	"github.com/hitoshi/giftgate/internal/broadcast"
	"github.com/hitoshi/giftgate/internal/config"
	"github.com/hitoshi/giftgate/internal/engine"
	"github.com/hitoshi/giftgate/internal/middleware"
	"github.com/hitoshi/giftgate/internal/model"
	"github.com/hitoshi/giftgate/internal/pool"
)

// Bot はTelegram更新の受信ループと各ハンドラーへのディスパッチを担う。
type Bot struct {
	api         *tgbotapi.BotAPI
	engine      *engine.Engine
	pools       *pool.Manager
	keys        *accesskey.Manager
	broadcaster *broadcast.Service
	limiter     *middleware.UpdateLimiter
	cfg         *config.Config

	callbacks map[string]callbackHandler
}

// New はBotの新しいインスタンスを生成する。
func New(
	api *tgbotapi.BotAPI,
	eng *engine.Engine,
	pools *pool.Manager,
	keys *accesskey.Manager,
	broadcaster *broadcast.Service,
	limiter *middleware.UpdateLimiter,
	cfg *config.Config,
) *Bot {
	b := &Bot{
		api:         api,
		engine:      eng,
		pools:       pools,
		keys:        keys,
		broadcaster: broadcaster,
		limiter:     limiter,
		cfg:         cfg,
	}
	b.callbacks = b.buildDispatchTable()
	return b
}

// Run は更新の受信ループを実行する。コンテキストのキャンセルで停止する。
// 各更新は独立したgoroutineで処理され、他ユーザーの処理をブロックしない。
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	slog.Info("Telegram update loop starting",
		slog.String("bot_username", b.cfg.BotUsername),
	)

	for update := range updates {
		update := update
		go b.handleUpdate(ctx, update)
	}

	slog.Info("Telegram update loop stopped")
}

// handleUpdate は1件の更新を処理する。
// ハンドラー内のpanicは更新単位で回復し、受信ループを巻き込まない。
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("更新処理中にpanicが発生しました",
				slog.Any("panic", r),
			)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if !b.limiter.Allow(cq.From.ID) {
			return
		}
		b.handleCallback(ctx, cq)

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || !msg.Chat.IsPrivate() {
			return
		}
		if !b.limiter.Allow(msg.From.ID) {
			return
		}
		if msg.IsCommand() {
			b.handleCommand(ctx, msg)
			return
		}
		b.handleText(ctx, msg)
	}
}

// send はテキストメッセージを送信する。
func (b *Bot) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		slog.Warn("メッセージの送信に失敗しました",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// sendWithMarkup はインラインキーボード付きメッセージを送信する。
func (b *Bot) sendWithMarkup(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		slog.Warn("メッセージの送信に失敗しました",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// replyError はエラーをユーザー向け返信に変換して送信する。
// BotErrorは定義済みの返信テキストを持つ。それ以外はログに記録し、
// 汎用メッセージだけを返す（内部エラーの詳細は公開しない）。
func (b *Bot) replyError(chatID int64, err error) {
	var botErr *model.BotError
	if errors.As(err, &botErr) {
		b.send(chatID, botErr.Reply)
		return
	}

	slog.Error("更新処理でエラーが発生しました",
		slog.Int64("chat_id", chatID),
		slog.String("error", err.Error()),
	)
	b.send(chatID, "エラーが発生しました。しばらくしてからもう一度お試しください。")
}

// Sender はbroadcast.Senderを満たすTelegram送信アダプター。
type Sender struct {
	api *tgbotapi.BotAPI
}

// NewSender はSenderを生成する。
func NewSender(api *tgbotapi.BotAPI) *Sender {
	return &Sender{api: api}
}

// SendText はテキストメッセージを送信する。
func (s *Sender) SendText(chatID int64, text string) error {
	_, err := s.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// compile-time interface check
var _ broadcast.Sender = (*Sender)(nil)
