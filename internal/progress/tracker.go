// Package progress はユーザーごとの検証フロー状態機械を提供する。
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/giftgate/internal/accesskey"
	"github.com/hitoshi/giftgate/internal/model"
	"github.com/hitoshi/giftgate/internal/repository"
)

// lockStripes は同一ユーザーの遷移を直列化するためのロックの分割数。
// ユーザーIDの剰余で割り当てるため、メモリ使用量はユーザー数に依存しない。
const lockStripes = 64

// SubmitResult はアクセスキー提出の結果を表す。
type SubmitResult int

const (
	// SubmitAccepted はキーが一致し、key_verifiedへ遷移した。
	SubmitAccepted SubmitResult = iota
	// SubmitRejected はキーが不一致で、awaiting_keyのまま。
	SubmitRejected
	// SubmitNotAwaiting はキー入力待ちではないため無視された。
	// フロー外のユーザーからの任意テキストに反応しないための意図的なフィルタ。
	SubmitNotAwaiting
)

// Tracker はユーザーの進行状態のサービス層。
// 同一ユーザーの遷移はプロセス内ロックで直列化し、
// 遷移自体はストア側のcompare-and-setで保護する（二重タップ対策の二重化）。
type Tracker struct {
	users repository.UserRepository
	keys  *accesskey.Manager

	locks [lockStripes]sync.Mutex
}

// NewTracker はTrackerの新しいインスタンスを生成する。
func NewTracker(users repository.UserRepository, keys *accesskey.Manager) *Tracker {
	return &Tracker{users: users, keys: keys}
}

// lock は指定ユーザーに対応するストライプロックを返す。
func (t *Tracker) lock(userID int64) *sync.Mutex {
	idx := userID % lockStripes
	if idx < 0 {
		idx += lockStripes
	}
	return &t.locks[idx]
}

// Ensure はユーザーレコードを冪等に作成する。
// 2回呼んでも1回呼んだ場合と同じ状態になる。
func (t *Tracker) Ensure(ctx context.Context, userID int64) error {
	if err := t.users.Ensure(ctx, userID); err != nil {
		return fmt.Errorf("failed to ensure user record: %w", err)
	}
	return nil
}

// Get はユーザーの現在の状態を返す。レコードがない場合は作成してから返す。
func (t *Tracker) Get(ctx context.Context, userID int64) (*model.User, error) {
	user, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		if err := t.Ensure(ctx, userID); err != nil {
			return nil, err
		}
		user, err = t.users.FindByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload user: %w", err)
		}
	}
	return user, nil
}

// MarkAwaitingKey はユーザーをアクセスキー入力待ちに遷移する。
func (t *Tracker) MarkAwaitingKey(ctx context.Context, userID int64) error {
	mu := t.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := t.users.SetState(ctx, userID, model.StateAwaitingKey); err != nil {
		return fmt.Errorf("failed to mark user as awaiting key: %w", err)
	}
	return nil
}

// SetState はユーザーの状態を無条件に更新する。フロー内の確定遷移に使用する。
func (t *Tracker) SetState(ctx context.Context, userID int64, state model.ProgressState) error {
	mu := t.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := t.users.SetState(ctx, userID, state); err != nil {
		return fmt.Errorf("failed to set user state: %w", err)
	}
	return nil
}

// SubmitKey はアクセスキーの提出を処理する。
// キー入力待ちでないユーザーからの提出は無視する（NotAwaiting）。
// 一致した場合のみkey_verifiedへ遷移する。遷移はawaiting_keyからの
// compare-and-setのため、ほぼ同時の二重提出でも遷移は1回だけ起きる。
func (t *Tracker) SubmitKey(ctx context.Context, userID int64, candidate string) (SubmitResult, error) {
	mu := t.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	user, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return SubmitNotAwaiting, fmt.Errorf("failed to load user for key submission: %w", err)
	}
	if user == nil || user.State != model.StateAwaitingKey {
		return SubmitNotAwaiting, nil
	}

	ok, err := t.keys.Check(ctx, candidate)
	if err != nil {
		return SubmitNotAwaiting, fmt.Errorf("failed to check access key: %w", err)
	}
	if !ok {
		slog.Info("アクセスキーの提出を拒否しました",
			slog.Int64("user_id", userID),
		)
		return SubmitRejected, nil
	}

	transitioned, err := t.users.CompareAndSetState(ctx, userID, model.StateAwaitingKey, model.StateKeyVerified)
	if err != nil {
		return SubmitNotAwaiting, fmt.Errorf("failed to transition to key_verified: %w", err)
	}
	if !transitioned {
		// 並行する提出が先に遷移を完了している
		return SubmitNotAwaiting, nil
	}

	slog.Info("アクセスキー検証を通過しました",
		slog.Int64("user_id", userID),
	)

	return SubmitAccepted, nil
}

// IsEntitled はユーザーが配布を受けられる状態かを返す。
func (t *Tracker) IsEntitled(ctx context.Context, userID int64) (bool, error) {
	user, err := t.users.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load user for entitlement check: %w", err)
	}
	if user == nil {
		return false, nil
	}
	return user.Entitled(), nil
}
