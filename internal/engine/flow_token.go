package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/giftgate/internal/model"
	"github.com/hitoshi/giftgate/internal/token"
)

// GenerateLink は検証トークンを発行し、トークンを埋め込んだリンクを返す（tokenフロー）。
// リンクは外部の短縮サービスで変換するが、失敗・タイムアウト時は
// 正規のディープリンクへフォールバックし、発行自体は中断しない。
func (e *Engine) GenerateLink(ctx context.Context, userID int64) (string, error) {
	if err := e.tracker.Ensure(ctx, userID); err != nil {
		return "", err
	}

	t, err := e.tokens.Issue(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to issue verification token: %w", err)
	}
	e.recorder.RecordTokenIssued()

	if err := e.tracker.SetState(ctx, userID, model.StateTokenIssued); err != nil {
		return "", err
	}

	canonical := fmt.Sprintf("https://t.me/%s?start=%s", e.cfg.BotUsername, t.Value)

	shortened, err := e.transformer.Transform(ctx, canonical)
	if err != nil {
		if !errors.Is(err, model.ErrTransformUnavailable) {
			slog.Warn("URL変換で想定外のエラーが発生しました",
				slog.String("error", err.Error()),
			)
		}
		e.recorder.RecordShortenerFallback()
		return canonical, nil
	}

	return shortened, nil
}

// RedeemToken はディープリンク経由で戻ってきたトークンの使用を処理する。
// 使用に成功した場合はawaiting_keyへ遷移する。
// 失敗理由はそのままユーザー向けのBotErrorとして返す。
func (e *Engine) RedeemToken(ctx context.Context, userID int64, value string) error {
	result, err := e.tokens.Redeem(ctx, value, userID)
	if err != nil {
		return err
	}

	switch result {
	case token.RedeemOK:
		e.recorder.RecordTokenRedeemed()
	case token.RedeemNotFound:
		e.recorder.RecordRedeemFailure("not_found")
		return model.NewTokenNotFoundError()
	case token.RedeemWrongOwner:
		e.recorder.RecordRedeemFailure("wrong_owner")
		return model.NewWrongOwnerError()
	case token.RedeemAlreadyUsed:
		e.recorder.RecordRedeemFailure("already_used")
		return model.NewAlreadyUsedError()
	}

	if err := e.tracker.SetState(ctx, userID, model.StateTokenUsed); err != nil {
		return err
	}
	if err := e.tracker.MarkAwaitingKey(ctx, userID); err != nil {
		return err
	}

	slog.Info("検証トークンの使用が完了しました",
		slog.Int64("user_id", userID),
	)

	return nil
}
