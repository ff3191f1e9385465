package model

import "time"

// Token は単回使用の検証トークンを表す。
// 発行したユーザーのみが1回だけ使用できる。使用後の再利用はない。
type Token struct {
	Value     string
	UserID    int64
	Used      bool
	CreatedAt time.Time
	UsedAt    *time.Time
}

// AccessKey は管理者が発行するアクセスキーを表す。
// システム全体で常に最大1件のみ有効（シングルトンレコード）。
type AccessKey struct {
	Value     string
	CreatedAt time.Time
}

// Delivery は配布済みアイテムの記録を表す。
// プールからのpopと同一トランザクションで作成し、
// 送信失敗時の再popを防ぐ（配布の冪等性の根拠レコード）。
type Delivery struct {
	ID        string
	UserID    int64
	Pool      string
	Item      string
	Delivered bool
	CreatedAt time.Time
}
