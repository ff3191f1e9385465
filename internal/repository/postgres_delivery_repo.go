package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/giftgate/internal/model"
)

// PostgresDeliveryRepo はPostgreSQLを使用した配布記録リポジトリ。
type PostgresDeliveryRepo struct {
	db *sql.DB
}

// NewPostgresDeliveryRepo はPostgresDeliveryRepoを生成する。
func NewPostgresDeliveryRepo(db *sql.DB) *PostgresDeliveryRepo {
	return &PostgresDeliveryRepo{db: db}
}

// PopAndRecord はプール先頭のpopと配布記録の作成を原子的に行う。
// CTEを使った単一ステートメントのため、「popされたが記録されていない」
// 中間状態は存在しない。プールが空の場合はnilを返す。
func (r *PostgresDeliveryRepo) PopAndRecord(ctx context.Context, pool string, userID int64) (*model.Delivery, error) {
	delivery := &model.Delivery{}
	err := r.db.QueryRowContext(ctx,
		`WITH popped AS (
		 	DELETE FROM pool_items
		 	WHERE id = (
		 		SELECT id FROM pool_items
		 		WHERE pool = $1
		 		ORDER BY position, id
		 		LIMIT 1
		 		FOR UPDATE SKIP LOCKED
		 	)
		 	RETURNING item
		 )
		 INSERT INTO deliveries (id, user_id, pool, item)
		 SELECT $2, $3, $1, item FROM popped
		 RETURNING id, user_id, pool, item, delivered, created_at`,
		pool, uuid.New().String(), userID,
	).Scan(&delivery.ID, &delivery.UserID, &delivery.Pool, &delivery.Item, &delivery.Delivered, &delivery.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop and record delivery: %w", err)
	}

	return delivery, nil
}

// MarkDelivered は配布記録を送信済みにする。
func (r *PostgresDeliveryRepo) MarkDelivered(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE deliveries SET delivered = TRUE WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to mark delivery as delivered: %w", err)
	}
	return nil
}

// FindUndelivered はユーザーの未送信の配布記録のうち最新の1件を返す。
// 存在しない場合はnilを返す。送信失敗後の再試行はここから再送し、再popしない。
func (r *PostgresDeliveryRepo) FindUndelivered(ctx context.Context, userID int64) (*model.Delivery, error) {
	delivery := &model.Delivery{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, pool, item, delivered, created_at
		 FROM deliveries
		 WHERE user_id = $1 AND delivered = FALSE
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&delivery.ID, &delivery.UserID, &delivery.Pool, &delivery.Item, &delivery.Delivered, &delivery.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find undelivered delivery: %w", err)
	}

	return delivery, nil
}

// compile-time interface check
var _ DeliveryRepository = (*PostgresDeliveryRepo)(nil)
