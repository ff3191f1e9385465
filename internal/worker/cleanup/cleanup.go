// Package cleanup は使用済みトークンの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した使用済みトークンを日次バッチで削除する。
// 未使用トークンは再入可能性のため削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/giftgate/internal/repository"
)

// TokenCleanupJob は保持期間を超過した使用済みトークンの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type TokenCleanupJob struct {
	tokens        repository.TokenRepository
	logger        *slog.Logger
	RetentionDays int // 使用済みトークンの保持日数（デフォルト: 30）
}

// NewTokenCleanupJob は新しいTokenCleanupJobを生成する。
func NewTokenCleanupJob(tokens repository.TokenRepository, logger *slog.Logger, retentionDays int) *TokenCleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &TokenCleanupJob{
		tokens:        tokens,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は保持期間を超過した使用済みトークンを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *TokenCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.tokens.DeleteUsedBefore(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("トークンクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("トークンクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
