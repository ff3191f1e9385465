package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/giftgate/internal/model"
)

// PostgresKeyRepo はPostgreSQLを使用したアクセスキーリポジトリ。
// access_keyテーブルはCHECK制約付きのシングルトン行で、常に最大1件のみ存在する。
type PostgresKeyRepo struct {
	db *sql.DB
}

// NewPostgresKeyRepo はPostgresKeyRepoを生成する。
func NewPostgresKeyRepo(db *sql.DB) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: db}
}

// Upsert はアクセスキーを原子的に差し替える。
// ON CONFLICT DO UPDATEの単一文のため、差し替えの途中状態が観測されることはない。
func (r *PostgresKeyRepo) Upsert(ctx context.Context, keyValue string) (*model.AccessKey, error) {
	key := &model.AccessKey{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO access_key (singleton, key_value, created_at)
		 VALUES (TRUE, $1, now())
		 ON CONFLICT (singleton) DO UPDATE SET key_value = EXCLUDED.key_value, created_at = now()
		 RETURNING key_value, created_at`,
		keyValue,
	).Scan(&key.Value, &key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert access key: %w", err)
	}
	return key, nil
}

// Find は現在のアクセスキーを取得する。未発行の場合はnilを返す。
func (r *PostgresKeyRepo) Find(ctx context.Context) (*model.AccessKey, error) {
	key := &model.AccessKey{}
	err := r.db.QueryRowContext(ctx,
		`SELECT key_value, created_at FROM access_key WHERE singleton = TRUE`,
	).Scan(&key.Value, &key.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find access key: %w", err)
	}

	return key, nil
}

// compile-time interface check
var _ AccessKeyRepository = (*PostgresKeyRepo)(nil)
