// Package middleware はインバウンド更新の横断的な制御を提供する。
package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UpdateLimiterConfig はユーザーごとのレート制限の設定を保持する。
type UpdateLimiterConfig struct {
	Rate            rate.Limit    // 更新のレート（req/sec）
	Burst           int           // バーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
	IdleTTL         time.Duration // 最終アクセスからエントリを破棄するまでの時間
}

// DefaultUpdateLimiterConfig はデフォルトのレート制限設定を返す。
// perMinはユーザーあたりの毎分の許容更新数。
func DefaultUpdateLimiterConfig(perMin int) UpdateLimiterConfig {
	return UpdateLimiterConfig{
		Rate:            rate.Limit(float64(perMin) / 60.0),
		Burst:           perMin,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         15 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// UpdateLimiter はユーザーごとのインバウンド更新レート制限を管理する。
// ボタン連打や自動化クライアントによる過剰な更新を落とす。
type UpdateLimiter struct {
	config UpdateLimiterConfig

	mu    sync.RWMutex
	users map[int64]*userLimiter
}

// NewUpdateLimiter はUpdateLimiterを生成する。
func NewUpdateLimiter(config UpdateLimiterConfig) *UpdateLimiter {
	return &UpdateLimiter{
		config: config,
		users:  make(map[int64]*userLimiter),
	}
}

// Allow は指定ユーザーの更新を処理してよいかを返す。
func (l *UpdateLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	entry, ok := l.users[userID]
	if !ok {
		entry = &userLimiter{
			limiter: rate.NewLimiter(l.config.Rate, l.config.Burst),
		}
		l.users[userID] = entry
	}
	entry.lastAccess = time.Now()
	l.mu.Unlock()

	allowed := entry.limiter.Allow()
	if !allowed {
		slog.Warn("レート制限により更新を破棄しました",
			slog.Int64("user_id", userID),
		)
	}
	return allowed
}

// StartCleanup は期限切れエントリの破棄ループを起動する。
// コンテキストのキャンセルで停止する。
func (l *UpdateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup は最終アクセスがIdleTTLより古いエントリを破棄する。
func (l *UpdateLimiter) cleanup() {
	cutoff := time.Now().Add(-l.config.IdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, entry := range l.users {
		if entry.lastAccess.Before(cutoff) {
			delete(l.users, id)
		}
	}
}
