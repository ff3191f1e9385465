package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/giftgate/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Ensure はユーザーレコードを冪等に作成する。既存の場合は状態を変更しない。
func (r *PostgresUserRepo) Ensure(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, state) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, model.StateUnverified,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, state, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.State, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// SetState はユーザーの進行状態を更新する。
func (r *PostgresUserRepo) SetState(ctx context.Context, id int64, state model.ProgressState) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET state = $2, updated_at = now() WHERE id = $1`,
		id, state,
	)
	if err != nil {
		return fmt.Errorf("failed to update user state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %d", id)
	}
	return nil
}

// CompareAndSetState は現在の状態がfromの場合のみtoへ遷移する。
// WHERE句での状態比較により、同一ユーザーの並行遷移は片方だけが成功する。
func (r *PostgresUserRepo) CompareAndSetState(ctx context.Context, id int64, from, to model.ProgressState) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET state = $3, updated_at = now() WHERE id = $1 AND state = $2`,
		id, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-set user state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ListIDs は全ユーザーIDを作成順に返す。
func (r *PostgresUserRepo) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user IDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user IDs: %w", err)
	}

	return ids, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
