package engine

import (
	"context"
	"log/slog"

	"github.com/hitoshi/giftgate/internal/membership"
	"github.com/hitoshi/giftgate/internal/model"
)

// ConfirmJoined は「参加しました」操作を処理する（membershipフロー）。
// 必須チャンネル全件の参加状態を確認し、通過した場合はmember_verifiedへ遷移して
// カテゴリ選択を返す。不通過の場合は該当チャンネルの一覧付きのBotErrorを返す。
// 確認不能チャンネルはstrict設定に従って不通過または警告として扱う。
func (e *Engine) ConfirmJoined(ctx context.Context, userID int64) (*StartResult, error) {
	if err := e.tracker.Ensure(ctx, userID); err != nil {
		return nil, err
	}

	report := membership.CheckAll(ctx, e.oracle, e.cfg.RequiredChannels, userID)

	memberCount := len(e.cfg.RequiredChannels) - len(report.NotMember) - len(report.Unverifiable)
	for i := 0; i < memberCount; i++ {
		e.recorder.RecordMembershipVerdict(string(membership.VerdictMember))
	}
	for range report.NotMember {
		e.recorder.RecordMembershipVerdict(string(membership.VerdictNotMember))
	}
	for range report.Unverifiable {
		e.recorder.RecordMembershipVerdict(string(membership.VerdictUnverifiable))
	}

	if !report.Passed(e.cfg.MembershipStrict) {
		if len(report.NotMember) > 0 {
			return nil, model.NewNotMemberError(report.NotMember)
		}
		return nil, model.NewUnverifiableError(report.Unverifiable)
	}

	if len(report.Unverifiable) > 0 {
		// 非strict設定では確認不能は警告扱いで通過させる
		slog.Warn("確認不能なチャンネルを警告扱いで通過させます",
			slog.Int64("user_id", userID),
			slog.Any("channels", report.Unverifiable),
		)
	}

	if err := e.tracker.SetState(ctx, userID, model.StateMemberVerified); err != nil {
		return nil, err
	}

	slog.Info("チャンネル参加確認を通過しました",
		slog.Int64("user_id", userID),
	)

	return e.claimEntry(ctx)
}
