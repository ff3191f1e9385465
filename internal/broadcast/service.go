// Package broadcast は全ユーザーへの管理者メッセージ配信を提供する。
package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/giftgate/internal/metrics"
	"github.com/hitoshi/giftgate/internal/repository"
)

// Sender はメッセージ送信の抽象。トランスポート層が実装する。
type Sender interface {
	SendText(chatID int64, text string) error
}

// Result はブロードキャストの集計結果。
type Result struct {
	Sent   int
	Failed int
}

// Service はブロードキャストのサービス層。
// ベストエフォート配信で、個別の送信失敗があっても継続する。
type Service struct {
	users    repository.UserRepository
	sender   Sender
	recorder metrics.Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users repository.UserRepository, sender Sender, recorder metrics.Recorder) *Service {
	return &Service{users: users, sender: sender, recorder: recorder}
}

// Broadcast は既知の全ユーザーにテキストを送信し、成功・失敗件数を返す。
// 個別の送信失敗はログに記録して継続する。コンテキストのキャンセルで中断できる。
func (s *Service) Broadcast(ctx context.Context, text string) (*Result, error) {
	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcast recipients: %w", err)
	}

	result := &Result{}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := s.sender.SendText(id, text); err != nil {
			result.Failed++
			s.recorder.RecordBroadcastFailed()
			slog.Warn("ブロードキャストの個別送信に失敗しました",
				slog.Int64("user_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Sent++
		s.recorder.RecordBroadcastSent()
	}

	slog.Info("ブロードキャストが完了しました",
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed),
	)

	return result, nil
}
