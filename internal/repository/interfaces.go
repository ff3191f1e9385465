// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/giftgate/internal/model"
)

// UserRepository はユーザー進行状態の永続化インターフェース。
type UserRepository interface {
	// Ensure はユーザーレコードを冪等に作成する。既存の場合は何もしない。
	Ensure(ctx context.Context, id int64) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// SetState はユーザーの進行状態を更新する。
	SetState(ctx context.Context, id int64, state model.ProgressState) error

	// CompareAndSetState は現在の状態がfromの場合のみtoへ遷移する。
	// 遷移した場合はtrueを返す。二重タップ時の二重遷移を防ぐ。
	CompareAndSetState(ctx context.Context, id int64, from, to model.ProgressState) (bool, error)

	// ListIDs は全ユーザーIDを作成順に返す。ブロードキャスト用。
	ListIDs(ctx context.Context) ([]int64, error)
}

// TokenRepository は検証トークンの永続化インターフェース。
type TokenRepository interface {
	// Create はトークンを作成する。同一値が存在する場合はエラーを返す。
	Create(ctx context.Context, token *model.Token) error

	// Exists は指定値のトークンが存在するかを返す。
	Exists(ctx context.Context, value string) (bool, error)

	// Find は指定値のトークンを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, value string) (*model.Token, error)

	// MarkUsed は未使用トークンを使用済みに遷移する（単一文のcompare-and-set）。
	// 所有者一致かつ未使用の場合のみ遷移し、遷移した場合はtrueを返す。
	MarkUsed(ctx context.Context, value string, userID int64) (bool, error)

	// DeleteUsedBefore は指定日数より前に使用済みになったトークンを削除し、件数を返す。
	DeleteUsedBefore(ctx context.Context, retentionDays int) (int64, error)
}

// AccessKeyRepository はアクセスキー（シングルトン）の永続化インターフェース。
type AccessKeyRepository interface {
	// Upsert はアクセスキーを原子的に差し替える。旧キーは即時無効になる。
	Upsert(ctx context.Context, keyValue string) (*model.AccessKey, error)

	// Find は現在のアクセスキーを取得する。未発行の場合はnilを返す。
	Find(ctx context.Context) (*model.AccessKey, error)
}

// PoolRepository は配布プールの永続化インターフェース。
type PoolRepository interface {
	// Replace はプールの内容を丸ごと差し替える（追記ではない）。
	Replace(ctx context.Context, pool string, items []string) error

	// PopHead は先頭アイテムを原子的に取り除いて返す。空の場合はnilを返す。
	// 並行呼び出しが同一アイテムを受け取ることはない。
	PopHead(ctx context.Context, pool string) (*string, error)

	// List はプールの内容を挿入順のスナップショットとして返す。
	List(ctx context.Context, pool string) ([]string, error)

	// Clear はプールを空にする。
	Clear(ctx context.Context, pool string) error

	// Pools は存在するプール名の一覧を返す。
	Pools(ctx context.Context) ([]string, error)
}

// DeliveryRepository は配布記録の永続化インターフェース。
// popと記録を単一の原子的ステートメントで行い、送信失敗時の再popを防ぐ。
type DeliveryRepository interface {
	// PopAndRecord はプール先頭のpopと配布記録の作成を原子的に行う。
	// プールが空の場合はnilを返す。
	PopAndRecord(ctx context.Context, pool string, userID int64) (*model.Delivery, error)

	// MarkDelivered は配布記録を送信済みにする。
	MarkDelivered(ctx context.Context, id string) error

	// FindUndelivered はユーザーの未送信の配布記録のうち最新の1件を返す。
	// 存在しない場合はnilを返す。
	FindUndelivered(ctx context.Context, userID int64) (*model.Delivery, error)
}
