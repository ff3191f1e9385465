package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/giftgate/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用した検証トークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Create はトークンを作成する。
// PRIMARY KEY制約により同一値の二重作成はエラーになる。
func (r *PostgresTokenRepo) Create(ctx context.Context, token *model.Token) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (token, user_id, used, created_at)
		 VALUES ($1, $2, $3, $4)`,
		token.Value, token.UserID, token.Used, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// Exists は指定値のトークンが存在するかを返す。
func (r *PostgresTokenRepo) Exists(ctx context.Context, value string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tokens WHERE token = $1)`,
		value,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check token existence: %w", err)
	}
	return exists, nil
}

// Find は指定値のトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresTokenRepo) Find(ctx context.Context, value string) (*model.Token, error) {
	token := &model.Token{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, used, created_at, used_at
		 FROM tokens
		 WHERE token = $1`,
		value,
	).Scan(&token.Value, &token.UserID, &token.Used, &token.CreatedAt, &token.UsedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}

	return token, nil
}

// MarkUsed は未使用トークンを使用済みに遷移する。
// WHERE句で所有者と未使用を同時に検証する単一UPDATE文のため、
// 並行する2つの使用要求のうち成功するのは必ず1つだけになる。
func (r *PostgresTokenRepo) MarkUsed(ctx context.Context, value string, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tokens
		 SET used = TRUE, used_at = now()
		 WHERE token = $1 AND user_id = $2 AND used = FALSE`,
		value, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark token as used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// DeleteUsedBefore は指定日数より前に使用済みになったトークンを削除し、件数を返す。
func (r *PostgresTokenRepo) DeleteUsedBefore(ctx context.Context, retentionDays int) (int64, error) {
	interval := fmt.Sprintf("%d days", retentionDays)
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE used = TRUE AND used_at < now() - $1::interval`,
		interval,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale tokens: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
