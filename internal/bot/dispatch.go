package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hitoshi/giftgate/internal/engine"
	"github.com/hitoshi/giftgate/internal/pool"
)

// コールバックのアクションタグ。閉じた集合で、ここにないタグは無視される。
const (
	tagJoined    = "joined" // チャンネル参加の確認
	tagVerify    = "verify" // 検証リンクの生成
	tagKey       = "key"    // アクセスキー入力の案内
	tagCodes     = "codes"  // 共有コードプールからの配布要求
	tagAgain     = "again"  // エントリのやり直し
	tagCatPrefix = "cat:"   // カテゴリ選択（tagCatPrefix + プール名）
)

// callbackHandler は1つのアクションタグに対応する処理。
type callbackHandler func(ctx context.Context, chatID, userID int64)

// buildDispatchTable はアクションタグからエンジンのエントリポイントへの
// ディスパッチテーブルを構築する。
func (b *Bot) buildDispatchTable() map[string]callbackHandler {
	return map[string]callbackHandler{
		tagJoined: b.onJoined,
		tagVerify: b.onVerify,
		tagKey:    b.onKeyPrompt,
		tagCodes:  b.onCodes,
		tagAgain:  b.onAgain,
	}
}

// handleCallback はコールバッククエリをディスパッチテーブルで処理する。
// カテゴリ選択のみプレフィックス付きタグとして別扱いする。
func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	// ボタンのローディング表示を解除する
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		slog.Debug("コールバック応答に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	userID := cq.From.ID

	if category, ok := strings.CutPrefix(cq.Data, tagCatPrefix); ok {
		b.claim(ctx, chatID, userID, category)
		return
	}

	handler, ok := b.callbacks[cq.Data]
	if !ok {
		slog.Warn("未知のコールバックタグを無視します",
			slog.String("data", cq.Data),
			slog.Int64("user_id", userID),
		)
		return
	}
	handler(ctx, chatID, userID)
}

// onJoined は「参加しました」ボタンを処理する（membershipフロー）。
func (b *Bot) onJoined(ctx context.Context, chatID, userID int64) {
	res, err := b.engine.ConfirmJoined(ctx, userID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.renderStart(chatID, res)
}

// onVerify は検証リンクの生成ボタンを処理する（tokenフロー）。
func (b *Bot) onVerify(ctx context.Context, chatID, userID int64) {
	link, err := b.engine.GenerateLink(ctx, userID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	b.send(chatID, fmt.Sprintf(
		"以下のリンクを開いて検証を完了してください:\n%s\n\n検証後、自動的にボットへ戻ります。",
		link,
	))
}

// onKeyPrompt はアクセスキー入力の案内ボタンを処理する。
func (b *Bot) onKeyPrompt(ctx context.Context, chatID, userID int64) {
	b.send(chatID, "アクセスキーをメッセージで送信してください。")
}

// onCodes は共有コードプールからの配布要求を処理する。
func (b *Bot) onCodes(ctx context.Context, chatID, userID int64) {
	b.claim(ctx, chatID, userID, pool.CodesPool)
}

// onAgain はエントリのやり直しを処理する。
// 永続化された現在の状態からフローを再開する（再入可能）。
func (b *Bot) onAgain(ctx context.Context, chatID, userID int64) {
	res, err := b.engine.Start(ctx, userID, "")
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.renderStart(chatID, res)
}

// claim はプールからの配布を実行し、成功時に送信完了を記録する。
// 送信に失敗した場合は配布記録を未送信のまま残し、次回の要求で再送する。
func (b *Bot) claim(ctx context.Context, chatID, userID int64, poolName string) {
	delivery, err := b.engine.Claim(ctx, userID, poolName)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	text := fmt.Sprintf("受け取り内容:\n%s", delivery.Item)
	if err := b.sendWithMarkup(chatID, text, tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("もう一度受け取る", tagAgain),
		),
	)); err != nil {
		// 未送信のまま残し、次回のclaimで同じ記録を再送する
		return
	}

	if err := b.engine.ConfirmDelivered(ctx, delivery.ID); err != nil {
		slog.Error("配布記録の送信完了の記録に失敗しました",
			slog.String("delivery_id", delivery.ID),
			slog.String("error", err.Error()),
		)
	}
}

// renderStart はエンジンのStartResultをメッセージとして描画する。
func (b *Bot) renderStart(chatID int64, res *engine.StartResult) {
	switch res.Action {
	case engine.ActionShowJoinPrompt:
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(res.Channels)+1)
		for _, channel := range res.Channels {
			url := "https://t.me/" + strings.TrimPrefix(channel, "@")
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(channel, url),
			))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("参加を確認", tagJoined),
		))
		b.sendWithMarkup(chatID,
			"受け取りには以下のチャンネルへの参加が必要です。参加後に「参加を確認」を押してください。",
			tgbotapi.NewInlineKeyboardMarkup(rows...),
		)

	case engine.ActionShowVerifyPrompt:
		b.sendWithMarkup(chatID,
			"受け取りには検証が必要です。リンクを生成して検証を完了してください。",
			tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("検証リンクを生成", tagVerify),
				),
			),
		)

	case engine.ActionAskKey:
		b.send(chatID, "検証が完了しました。アクセスキーをメッセージで送信してください。")

	case engine.ActionShowCategories:
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(res.Categories))
		for _, category := range res.Categories {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(category, tagCatPrefix+category),
			))
		}
		b.sendWithMarkup(chatID,
			"カテゴリを選択してください。",
			tgbotapi.NewInlineKeyboardMarkup(rows...),
		)

	case engine.ActionClaimCodes:
		b.sendWithMarkup(chatID,
			"検証済みです。ボタンを押してコードを受け取ってください。",
			tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("コードを受け取る", tagCodes),
				),
			),
		)
	}
}
