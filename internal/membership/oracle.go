// Package membership はチャンネル参加状態の確認（メンバーシップオラクル）を提供する。
package membership

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Verdict はチャンネル参加確認の結果を表す。
type Verdict string

const (
	// VerdictMember は参加している。
	VerdictMember Verdict = "member"
	// VerdictNotMember は参加していない。
	VerdictNotMember Verdict = "not_member"
	// VerdictUnverifiable は参加状態を確認できない
	// （ボットがチャンネルにアクセスできない等）。
	VerdictUnverifiable Verdict = "unverifiable"
)

// Oracle はチャンネル参加確認のインターフェース。
type Oracle interface {
	// Check は指定ユーザーの指定チャンネルへの参加状態を返す。
	Check(ctx context.Context, channel string, userID int64) Verdict
}

// memberStatuses は参加とみなすTelegramのメンバーステータス。
var memberStatuses = map[string]bool{
	"creator":       true,
	"administrator": true,
	"member":        true,
}

// ChatMemberAPI はTelegram APIのgetChatMember呼び出しを抽象化する。
// *tgbotapi.BotAPIが満たす。
type ChatMemberAPI interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// TelegramOracle はTelegramのgetChatMember APIを使用するOracle実装。
type TelegramOracle struct {
	api ChatMemberAPI
}

// NewTelegramOracle はTelegramOracleを生成する。
func NewTelegramOracle(api ChatMemberAPI) *TelegramOracle {
	return &TelegramOracle{api: api}
}

// Check は指定ユーザーの指定チャンネルへの参加状態を返す。
// channelは"@"付きのチャンネルユーザー名を指定する。
// API呼び出しに失敗した場合はVerdictUnverifiableを返す（エラーにはしない）。
func (o *TelegramOracle) Check(ctx context.Context, channel string, userID int64) Verdict {
	member, err := o.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: channel,
			UserID:             userID,
		},
	})
	if err != nil {
		slog.Warn("チャンネル参加状態を確認できませんでした",
			slog.String("channel", channel),
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return VerdictUnverifiable
	}

	if memberStatuses[member.Status] {
		return VerdictMember
	}
	return VerdictNotMember
}

// Report は複数チャンネルの確認結果をまとめたもの。
type Report struct {
	NotMember    []string
	Unverifiable []string
}

// Passed はstrictの設定に従ってゲート通過かを判定する。
// 未参加チャンネルがあれば常に不通過。確認不能チャンネルは
// strict=trueの場合のみ不通過として扱う（falseなら警告扱い）。
func (r *Report) Passed(strict bool) bool {
	if len(r.NotMember) > 0 {
		return false
	}
	if strict && len(r.Unverifiable) > 0 {
		return false
	}
	return true
}

// CheckAll は必須チャンネル全件の参加状態を確認してReportを返す。
func CheckAll(ctx context.Context, oracle Oracle, channels []string, userID int64) *Report {
	report := &Report{}
	for _, channel := range channels {
		switch oracle.Check(ctx, channel, userID) {
		case VerdictNotMember:
			report.NotMember = append(report.NotMember, channel)
		case VerdictUnverifiable:
			report.Unverifiable = append(report.Unverifiable, channel)
		}
	}
	return report
}
