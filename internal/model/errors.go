package model

import (
	"errors"
	"fmt"
	"strings"
)

// BotError はゲート失敗の統一エラーフォーマットを表す。
// ユーザーに返信するテキストを含む。1回のユーザー操作の境界で回復され、
// エンジンをクラッシュさせることはない。
type BotError struct {
	Code    string // エラーコード
	Message string // ログ向けメッセージ
	Reply   string // ユーザー向け返信テキスト
}

// Error はerrorインターフェースを実装する。
func (e *BotError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeTokenNotFound = "TOKEN_NOT_FOUND"
	ErrCodeWrongOwner    = "WRONG_OWNER"
	ErrCodeAlreadyUsed   = "ALREADY_USED"
	ErrCodeNotMember     = "NOT_MEMBER"
	ErrCodeUnverifiable  = "UNVERIFIABLE"
	ErrCodePoolEmpty     = "POOL_EMPTY"
	ErrCodeKeyRejected   = "KEY_REJECTED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNoActiveKey   = "NO_ACTIVE_KEY"
	ErrCodeNotEntitled   = "NOT_ENTITLED"
)

// ErrTransformUnavailable はURL短縮サービスが利用できないことを示す。
// ユーザーには公開されず、呼び出し元が元のURLにフォールバックする。
var ErrTransformUnavailable = errors.New("url transform unavailable")

// NewTokenNotFoundError はトークン未検出エラーを生成する。
func NewTokenNotFoundError() *BotError {
	return &BotError{
		Code:    ErrCodeTokenNotFound,
		Message: "verification token not found",
		Reply:   "このリンクは無効か期限切れです。もう一度検証リンクを生成してください。",
	}
}

// NewWrongOwnerError は他ユーザーのトークンを使用した場合のエラーを生成する。
func NewWrongOwnerError() *BotError {
	return &BotError{
		Code:    ErrCodeWrongOwner,
		Message: "verification token belongs to another user",
		Reply:   "この検証リンクは別のアカウントのものです。自分のアカウントでリンクを生成してください。",
	}
}

// NewAlreadyUsedError は使用済みトークンの再使用エラーを生成する。
func NewAlreadyUsedError() *BotError {
	return &BotError{
		Code:    ErrCodeAlreadyUsed,
		Message: "verification token already used",
		Reply:   "このリンクは既に使用済みです。新しい検証リンクを生成してください。",
	}
}

// NewNotMemberError は未参加チャンネルがある場合のエラーを生成する。
func NewNotMemberError(channels []string) *BotError {
	return &BotError{
		Code:    ErrCodeNotMember,
		Message: fmt.Sprintf("user is not a member of: %v", channels),
		Reply: fmt.Sprintf(
			"以下のチャンネルに参加してから、もう一度お試しください:\n%s",
			strings.Join(channels, "\n"),
		),
	}
}

// NewUnverifiableError は参加状態を確認できないチャンネルがある場合のエラーを生成する。
// NotMemberとは区別して報告し、チャンネル設定の見直しを促す。
func NewUnverifiableError(channels []string) *BotError {
	return &BotError{
		Code:    ErrCodeUnverifiable,
		Message: fmt.Sprintf("membership could not be verified for: %v", channels),
		Reply: fmt.Sprintf(
			"以下のチャンネルの参加状態を確認できませんでした。チャンネルが非公開の場合はボットを管理者に追加してください:\n%s",
			strings.Join(channels, "\n"),
		),
	}
}

// NewPoolEmptyError はプールが空の場合のエラーを生成する。
// ハードエラーではなく「後でもう一度」の案内として扱う。
func NewPoolEmptyError(pool string) *BotError {
	return &BotError{
		Code:    ErrCodePoolEmpty,
		Message: fmt.Sprintf("pool is empty: %s", pool),
		Reply:   "在庫切れです。補充されるまでしばらくお待ちください。",
	}
}

// NewKeyRejectedError はアクセスキー不一致のエラーを生成する。
func NewKeyRejectedError() *BotError {
	return &BotError{
		Code:    ErrCodeKeyRejected,
		Message: "submitted access key does not match",
		Reply:   "アクセスキーが正しくありません。最新のキーを確認して、もう一度入力してください。",
	}
}

// NewUnauthorizedError は管理者以外が管理コマンドを実行した場合のエラーを生成する。
func NewUnauthorizedError(userID int64) *BotError {
	return &BotError{
		Code:    ErrCodeUnauthorized,
		Message: fmt.Sprintf("user %d is not an administrator", userID),
		Reply:   "このコマンドは管理者のみ実行できます。",
	}
}

// NewNotEntitledError はゲート未通過のユーザーが配布を要求した場合のエラーを生成する。
func NewNotEntitledError(userID int64) *BotError {
	return &BotError{
		Code:    ErrCodeNotEntitled,
		Message: fmt.Sprintf("user %d has not passed the required gates", userID),
		Reply:   "まだ検証が完了していません。/start からやり直してください。",
	}
}

// NewNoActiveKeyError はアクセスキーが未発行の状態でキー検証に到達した場合のエラーを生成する。
func NewNoActiveKeyError() *BotError {
	return &BotError{
		Code:    ErrCodeNoActiveKey,
		Message: "no access key has been issued",
		Reply:   "アクセスキーがまだ発行されていません。しばらくしてからもう一度お試しください。",
	}
}
