package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hitoshi/giftgate/internal/model"
	"github.com/hitoshi/giftgate/internal/pool"
	"github.com/hitoshi/giftgate/internal/progress"
)

// handleCommand はスラッシュコマンドを処理する。
// 管理コマンドは管理者リストで認可し、それ以外のユーザーには
// Unauthorizedを返してコマンドを中断する。
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch msg.Command() {
	case "start":
		b.onStart(ctx, chatID, userID, strings.TrimSpace(msg.CommandArguments()))
		return
	}

	// 以降は管理コマンド
	if !b.cfg.IsAdmin(userID) {
		b.replyError(chatID, model.NewUnauthorizedError(userID))
		return
	}

	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "rotatekey":
		b.onRotateKey(ctx, chatID, args)
	case "loadpool":
		b.onLoadPool(ctx, chatID, args)
	case "showpool":
		b.onShowPool(ctx, chatID, args)
	case "clearpool":
		b.onClearPool(ctx, chatID, args)
	case "loadcodes":
		b.onLoadCodes(ctx, chatID, args)
	case "broadcast":
		b.onBroadcast(ctx, chatID, strings.TrimSpace(msg.CommandArguments()))
	default:
		b.send(chatID, "未知のコマンドです。")
	}
}

// onStart はエントリコマンドを処理する。
// payloadにはディープリンク経由のトークンが入る（空の場合あり）。
func (b *Bot) onStart(ctx context.Context, chatID, userID int64, payload string) {
	res, err := b.engine.Start(ctx, userID, payload)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.renderStart(chatID, res)
}

// handleText はコマンド以外のテキストを処理する。
// キー入力待ちのユーザーからのテキストだけをアクセスキーとして扱い、
// それ以外は無視する（フロー外の任意テキストに反応しない）。
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	candidate := strings.TrimSpace(msg.Text)
	if candidate == "" {
		return
	}

	result, err := b.engine.SubmitKey(ctx, userID, candidate)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	switch result {
	case progress.SubmitAccepted:
		res, err := b.engine.Start(ctx, userID, "")
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		b.renderStart(chatID, res)
	case progress.SubmitRejected:
		b.replyError(chatID, model.NewKeyRejectedError())
	case progress.SubmitNotAwaiting:
		// キー入力待ちではないため何もしない
	}
}

// onRotateKey はアクセスキーのローテーションを処理する。
// 引数がない場合は自動生成する。新しいキーは管理者にだけ表示される。
func (b *Bot) onRotateKey(ctx context.Context, chatID int64, args []string) {
	newKey := ""
	if len(args) > 0 {
		newKey = args[0]
	}

	key, err := b.keys.Rotate(ctx, newKey)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	b.send(chatID, fmt.Sprintf("アクセスキーを更新しました:\n%s\n\n旧キーは無効になりました。", key.Value))
}

// onLoadPool はプールの一括ロードを処理する。内容は丸ごと差し替えになる。
func (b *Bot) onLoadPool(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 {
		b.send(chatID, "使い方: /loadpool <プール名> <アイテム...>")
		return
	}

	poolName := args[0]
	items := args[1:]

	if err := b.pools.BulkLoad(ctx, poolName, items); err != nil {
		b.replyError(chatID, err)
		return
	}

	b.send(chatID, fmt.Sprintf("プール %s に %d 件をロードしました。", poolName, len(items)))
}

// onShowPool はプールの内容表示を処理する。
func (b *Bot) onShowPool(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		b.send(chatID, "使い方: /showpool <プール名>")
		return
	}

	items, err := b.pools.Inspect(ctx, args[0])
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	if len(items) == 0 {
		b.send(chatID, fmt.Sprintf("プール %s は空です。", args[0]))
		return
	}

	b.send(chatID, fmt.Sprintf("プール %s（%d件）:\n%s", args[0], len(items), strings.Join(items, "\n")))
}

// onClearPool はプールのクリアを処理する。
func (b *Bot) onClearPool(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		b.send(chatID, "使い方: /clearpool <プール名>")
		return
	}

	if err := b.pools.Clear(ctx, args[0]); err != nil {
		b.replyError(chatID, err)
		return
	}

	b.send(chatID, fmt.Sprintf("プール %s を空にしました。", args[0]))
}

// onLoadCodes は共有コードプールの一括ロードを処理する。
func (b *Bot) onLoadCodes(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		b.send(chatID, "使い方: /loadcodes <コード...>")
		return
	}

	if err := b.pools.BulkLoad(ctx, pool.CodesPool, args); err != nil {
		b.replyError(chatID, err)
		return
	}

	b.send(chatID, fmt.Sprintf("コードを %d 件ロードしました。", len(args)))
}

// onBroadcast は全ユーザーへのブロードキャストを処理する。
// ベストエフォート配信で、完了後に成功・失敗件数を報告する。
func (b *Bot) onBroadcast(ctx context.Context, chatID int64, text string) {
	if text == "" {
		b.send(chatID, "使い方: /broadcast <本文>")
		return
	}

	result, err := b.broadcaster.Broadcast(ctx, text)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	b.send(chatID, fmt.Sprintf("ブロードキャスト完了: 成功 %d 件 / 失敗 %d 件", result.Sent, result.Failed))
}
