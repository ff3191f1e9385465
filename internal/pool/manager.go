// Package pool は名前付きFIFO配布プールの管理を提供する。
// 各アイテムは挿入順に1回だけ配布される。
package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/giftgate/internal/repository"
)

// CodesPool は共有リデームコードプールの予約名。
// tokenフローでカテゴリ選択なしの配布に使用される。
const CodesPool = "codes"

// Manager は配布プールのサービス層。
// 在庫の真実はストア側にあり、プロセス内にキャッシュを持たない。
type Manager struct {
	pools repository.PoolRepository
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(pools repository.PoolRepository) *Manager {
	return &Manager{pools: pools}
}

// BulkLoad はプールの内容を丸ごと差し替える（追記ではない）。
// 同じロードコマンドの再実行はプールのリセットになる。
// プールは最初のBulkLoadで暗黙に作成される。
func (m *Manager) BulkLoad(ctx context.Context, pool string, items []string) error {
	if pool == "" {
		return fmt.Errorf("pool name must not be empty")
	}

	if err := m.pools.Replace(ctx, pool, items); err != nil {
		return fmt.Errorf("failed to bulk load pool: %w", err)
	}

	slog.Info("プールを差し替えました",
		slog.String("pool", pool),
		slog.Int("item_count", len(items)),
	)

	return nil
}

// PopOne は先頭アイテムを原子的に取り除いて返す。空の場合はnilを返す。
// 並行する呼び出しが同一アイテムを受け取ることも、アイテムが失われることもない。
// エンジンのユーザー向け配布経路は配布記録の作成を同じステートメントで行う
// DeliveryRepository.PopAndRecordを使う。PopOneは記録を残さないpopが
// 必要な場合の操作として残している。
func (m *Manager) PopOne(ctx context.Context, pool string) (*string, error) {
	item, err := m.pools.PopHead(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to pop from pool: %w", err)
	}
	return item, nil
}

// Inspect はプールの内容を挿入順のスナップショットとして返す。
// 並行するpopに対する順序保証はない。
func (m *Manager) Inspect(ctx context.Context, pool string) ([]string, error) {
	items, err := m.pools.List(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect pool: %w", err)
	}
	return items, nil
}

// Clear はプールを空にする。
func (m *Manager) Clear(ctx context.Context, pool string) error {
	if err := m.pools.Clear(ctx, pool); err != nil {
		return fmt.Errorf("failed to clear pool: %w", err)
	}

	slog.Info("プールを空にしました",
		slog.String("pool", pool),
	)

	return nil
}

// Names は存在するプール名の一覧を返す。カテゴリ選択キーボードの生成に使用する。
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	pools, err := m.pools.Pools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool names: %w", err)
	}
	return pools, nil
}
