// Package model はドメインモデルを定義する。
package model

import "time"

// ProgressState はユーザーの検証フロー上の進行状態を表す。
// boolean フラグの組み合わせではなく明示的な状態として持つことで、
// 不正な状態の組み合わせを表現不可能にする。
type ProgressState string

const (
	// StateUnverified は初期状態。どのゲートも通過していない。
	StateUnverified ProgressState = "unverified"
	// StateTokenIssued は検証トークンが発行済みで、未使用の状態。
	StateTokenIssued ProgressState = "token_issued"
	// StateTokenUsed は検証トークンの使用が完了した状態。
	StateTokenUsed ProgressState = "token_used"
	// StateAwaitingKey はアクセスキーの入力待ちの状態。
	StateAwaitingKey ProgressState = "awaiting_key"
	// StateKeyVerified はアクセスキー検証を通過した状態（tokenフロー）。
	StateKeyVerified ProgressState = "key_verified"
	// StateMemberVerified はチャンネル参加確認を通過した状態（membershipフロー）。
	StateMemberVerified ProgressState = "member_verified"
)

// User はボット利用ユーザーを表す。
// IDはTelegramのユーザーID。レコードは初回アクセス時に作成され、削除されない。
type User struct {
	ID        int64
	State     ProgressState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entitled は配布を受けられる状態かを返す。
func (u *User) Entitled() bool {
	return u.State == StateKeyVerified || u.State == StateMemberVerified
}
