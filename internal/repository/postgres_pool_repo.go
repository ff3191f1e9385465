package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresPoolRepo はPostgreSQLを使用した配布プールリポジトリ。
// プールはpool_itemsテーブルの行集合で、positionが挿入順＝配布順を表す。
type PostgresPoolRepo struct {
	db *sql.DB
}

// NewPostgresPoolRepo はPostgresPoolRepoを生成する。
func NewPostgresPoolRepo(db *sql.DB) *PostgresPoolRepo {
	return &PostgresPoolRepo{db: db}
}

// Replace はプールの内容を丸ごと差し替える。
// DELETEと順序付きINSERTを同一トランザクションで実行するため、
// 差し替え途中の中間状態が他のトランザクションから観測されることはない。
func (r *PostgresPoolRepo) Replace(ctx context.Context, pool string, items []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pool_items WHERE pool = $1`,
		pool,
	); err != nil {
		return fmt.Errorf("failed to clear pool: %w", err)
	}

	for i, item := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pool_items (pool, position, item) VALUES ($1, $2, $3)`,
			pool, i, item,
		); err != nil {
			return fmt.Errorf("failed to insert pool item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// PopHead は先頭アイテムを原子的に取り除いて返す。空の場合はnilを返す。
// DELETE ... RETURNING の単一文で取得と削除を行い、
// FOR UPDATE SKIP LOCKEDにより並行するpopは互いに別の行を選択する。
func (r *PostgresPoolRepo) PopHead(ctx context.Context, pool string) (*string, error) {
	var item string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM pool_items
		 WHERE id = (
		 	SELECT id FROM pool_items
		 	WHERE pool = $1
		 	ORDER BY position, id
		 	LIMIT 1
		 	FOR UPDATE SKIP LOCKED
		 )
		 RETURNING item`,
		pool,
	).Scan(&item)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop pool item: %w", err)
	}

	return &item, nil
}

// List はプールの内容を挿入順のスナップショットとして返す。
// 並行するpopとの順序保証はない（返却直後に古くなり得る）。
func (r *PostgresPoolRepo) List(ctx context.Context, pool string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item FROM pool_items WHERE pool = $1 ORDER BY position, id`,
		pool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool items: %w", err)
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("failed to scan pool item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pool items: %w", err)
	}

	return items, nil
}

// Clear はプールを空にする。
func (r *PostgresPoolRepo) Clear(ctx context.Context, pool string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM pool_items WHERE pool = $1`,
		pool,
	); err != nil {
		return fmt.Errorf("failed to clear pool: %w", err)
	}
	return nil
}

// Pools は存在するプール名の一覧を名前順に返す。
func (r *PostgresPoolRepo) Pools(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT pool FROM pool_items ORDER BY pool`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []string
	for rows.Next() {
		var pool string
		if err := rows.Scan(&pool); err != nil {
			return nil, fmt.Errorf("failed to scan pool name: %w", err)
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pools: %w", err)
	}

	return pools, nil
}

// compile-time interface check
var _ PoolRepository = (*PostgresPoolRepo)(nil)
