// Package engine はアクセスゲート付き配布のオーケストレーションを提供する。
// トークン・アクセスキー・チャンネル参加の各ゲートを通過したユーザーに、
// プールからアイテムを1人1件ずつ配布する。
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/giftgate/internal/accesskey"
	"github.com/hitoshi/giftgate/internal/config"
	"github.com/hitoshi/giftgate/internal/membership"
	"github.com/hitoshi/giftgate/internal/metrics"
	"github.com/hitoshi/giftgate/internal/model"
	"github.com/hitoshi/giftgate/internal/pool"
	"github.com/hitoshi/giftgate/internal/progress"
	"github.com/hitoshi/giftgate/internal/repository"
	"github.com/hitoshi/giftgate/internal/shortener"
	"github.com/hitoshi/giftgate/internal/token"
)

// StartAction はエントリコマンドに対してトランスポート層が取るべき応答を表す。
type StartAction int

const (
	// ActionShowJoinPrompt は必須チャンネルへの参加を案内する（membershipフロー）。
	ActionShowJoinPrompt StartAction = iota
	// ActionShowVerifyPrompt は検証リンクの生成を案内する（tokenフロー）。
	ActionShowVerifyPrompt
	// ActionAskKey はアクセスキーの入力を求める。
	ActionAskKey
	// ActionShowCategories はカテゴリ選択を提示する。
	ActionShowCategories
	// ActionClaimCodes はカテゴリなしで共有コードプールから配布する。
	ActionClaimCodes
)

// StartResult はエントリコマンドの処理結果。
type StartResult struct {
	Action     StartAction
	Channels   []string
	Categories []string
}

// Config はEngineの構成を表す。フローは起動時に確定し、実行中に切り替わらない。
type Config struct {
	Flow             config.FlowMode
	BotUsername      string
	RequiredChannels []string
	MembershipStrict bool
}

// Engine は配布フローのオーケストレーター。
// 状態の真実はすべてストア側にあり、プロセス再起動後も永続状態から再開できる。
type Engine struct {
	cfg Config

	tracker     *progress.Tracker
	tokens      *token.Manager
	keys        *accesskey.Manager
	pools       *pool.Manager
	deliveries  repository.DeliveryRepository
	oracle      membership.Oracle
	transformer shortener.Transformer
	recorder    metrics.Recorder
}

// New はEngineの新しいインスタンスを生成する。
func New(
	cfg Config,
	tracker *progress.Tracker,
	tokens *token.Manager,
	keys *accesskey.Manager,
	pools *pool.Manager,
	deliveries repository.DeliveryRepository,
	oracle membership.Oracle,
	transformer shortener.Transformer,
	recorder metrics.Recorder,
) *Engine {
	return &Engine{
		cfg:         cfg,
		tracker:     tracker,
		tokens:      tokens,
		keys:        keys,
		pools:       pools,
		deliveries:  deliveries,
		oracle:      oracle,
		transformer: transformer,
		recorder:    recorder,
	}
}

// Flow は構成されたフローモードを返す。
func (e *Engine) Flow() config.FlowMode {
	return e.cfg.Flow
}

// Start はエントリコマンドを処理する。
// ユーザーレコードを冪等に作成し、永続化された現在の状態から
// 次に取るべき応答を決める（再入可能）。
// payloadはディープリンク経由のトークン（空の場合あり）。
func (e *Engine) Start(ctx context.Context, userID int64, payload string) (*StartResult, error) {
	if err := e.tracker.Ensure(ctx, userID); err != nil {
		return nil, err
	}

	if e.cfg.Flow == config.FlowToken && payload != "" {
		if err := e.RedeemToken(ctx, userID, payload); err != nil {
			return nil, err
		}
		return &StartResult{Action: ActionAskKey}, nil
	}

	user, err := e.tracker.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Entitled() {
		return e.claimEntry(ctx)
	}

	switch e.cfg.Flow {
	case config.FlowMembership:
		return &StartResult{Action: ActionShowJoinPrompt, Channels: e.cfg.RequiredChannels}, nil
	default:
		if user.State == model.StateAwaitingKey {
			return &StartResult{Action: ActionAskKey}, nil
		}
		return &StartResult{Action: ActionShowVerifyPrompt}, nil
	}
}

// claimEntry はゲート通過済みユーザーへの応答を決める。
// カテゴリプールがあれば選択を提示し、なければ共有コードプールから配布する。
func (e *Engine) claimEntry(ctx context.Context) (*StartResult, error) {
	categories, err := e.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return &StartResult{Action: ActionClaimCodes}, nil
	}
	return &StartResult{Action: ActionShowCategories, Categories: categories}, nil
}

// Categories は選択可能なカテゴリプール名を返す。共有コードプールは含めない。
func (e *Engine) Categories(ctx context.Context) ([]string, error) {
	names, err := e.pools.Names(ctx)
	if err != nil {
		return nil, err
	}
	categories := make([]string, 0, len(names))
	for _, name := range names {
		if name != pool.CodesPool {
			categories = append(categories, name)
		}
	}
	return categories, nil
}

// SubmitKey はアクセスキーの提出を処理する。
// キー入力待ちでないユーザーのテキストは無視する（progress.SubmitNotAwaiting）。
func (e *Engine) SubmitKey(ctx context.Context, userID int64, candidate string) (progress.SubmitResult, error) {
	current, err := e.keys.Current(ctx)
	if err != nil {
		return progress.SubmitNotAwaiting, err
	}
	if current == nil {
		// キー未発行の場合、入力待ちユーザーにだけその旨を伝える
		user, err := e.tracker.Get(ctx, userID)
		if err != nil {
			return progress.SubmitNotAwaiting, err
		}
		if user.State == model.StateAwaitingKey {
			return progress.SubmitNotAwaiting, model.NewNoActiveKeyError()
		}
		return progress.SubmitNotAwaiting, nil
	}

	return e.tracker.SubmitKey(ctx, userID, candidate)
}

// Claim はゲート通過済みユーザーにプールからアイテムを1件配布する。
// 未送信の配布記録が残っている場合は再popせずそれを返す（配布の冪等性）。
// 保留分の再送は要求プールに関わらず優先される: popされたアイテムは
// プールに戻せないため、別プールを選び直しても先に保留分を送り切ってから
// 次のpopに進む。ユーザーごとの未送信記録は常に最大1件になる。
// プールが空の場合はPoolEmptyのBotErrorを返す（ハードエラーではない）。
func (e *Engine) Claim(ctx context.Context, userID int64, poolName string) (*model.Delivery, error) {
	entitled, err := e.tracker.IsEntitled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !entitled {
		return nil, model.NewNotEntitledError(userID)
	}

	// 送信に失敗した配布が残っていればそれを再送する
	pending, err := e.deliveries.FindUndelivered(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		slog.Info("未送信の配布記録を再送します",
			slog.Int64("user_id", userID),
			slog.String("delivery_id", pending.ID),
		)
		return pending, nil
	}

	delivery, err := e.deliveries.PopAndRecord(ctx, poolName, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim from pool: %w", err)
	}
	if delivery == nil {
		e.recorder.RecordPoolEmpty(poolName)
		return nil, model.NewPoolEmptyError(poolName)
	}

	e.recorder.RecordPoolPop(poolName)
	slog.Info("アイテムを配布しました",
		slog.Int64("user_id", userID),
		slog.String("pool", poolName),
		slog.String("delivery_id", delivery.ID),
	)

	return delivery, nil
}

// ConfirmDelivered は配布アイテムの送信完了を記録する。
func (e *Engine) ConfirmDelivered(ctx context.Context, deliveryID string) error {
	if err := e.deliveries.MarkDelivered(ctx, deliveryID); err != nil {
		return err
	}
	return nil
}
