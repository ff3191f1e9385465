// Package token は単回使用の検証トークンのライフサイクル管理を提供する。
package token

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/hitoshi/giftgate/internal/model"
	"github.com/hitoshi/giftgate/internal/repository"
)

const (
	// tokenLength は生成するトークンの文字数。
	// 62文字アルファベットで24文字あれば衝突確率は無視できる水準になるが、
	// 発行時には存在確認を行い、衝突した場合は再生成する。
	tokenLength = 24

	// maxGenerateAttempts は衝突時の再生成の上限回数。
	maxGenerateAttempts = 5
)

// tokenAlphabet はトークン生成に使用する文字集合。
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ValidationResult はトークン検証の結果を表す。
type ValidationResult int

const (
	// ValidationValid は有効なトークン。
	ValidationValid ValidationResult = iota
	// ValidationNotFound はトークンが存在しない。
	ValidationNotFound
	// ValidationWrongOwner はトークンの所有者が異なる。
	ValidationWrongOwner
	// ValidationAlreadyUsed はトークンが使用済み。
	ValidationAlreadyUsed
)

// RedeemResult はトークン使用の結果を表す。
type RedeemResult int

const (
	// RedeemOK は使用に成功した。
	RedeemOK RedeemResult = iota
	// RedeemNotFound はトークンが存在しない。
	RedeemNotFound
	// RedeemWrongOwner はトークンの所有者が異なる。
	RedeemWrongOwner
	// RedeemAlreadyUsed はトークンが使用済み。
	RedeemAlreadyUsed
)

// Manager は検証トークンの発行と使用を管理するサービス層。
type Manager struct {
	tokens repository.TokenRepository
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(tokens repository.TokenRepository) *Manager {
	return &Manager{tokens: tokens}
}

// Issue は指定ユーザーに紐づく未使用トークンを発行して返す。
// 生成値の存在確認を行い、衝突した場合は上限回数まで再生成する。
func (m *Manager) Issue(ctx context.Context, userID int64) (*model.Token, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}

		exists, err := m.tokens.Exists(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("failed to check token collision: %w", err)
		}
		if exists {
			slog.Warn("トークンの衝突を検出しました。再生成します",
				slog.Int("attempt", attempt+1),
			)
			continue
		}

		token := &model.Token{
			Value:     value,
			UserID:    userID,
			Used:      false,
			CreatedAt: time.Now(),
		}
		if err := m.tokens.Create(ctx, token); err != nil {
			return nil, fmt.Errorf("failed to persist token: %w", err)
		}

		return token, nil
	}

	return nil, fmt.Errorf("token generation exceeded %d attempts", maxGenerateAttempts)
}

// Validate はトークンの状態を検証する。状態は変更しない。
func (m *Manager) Validate(ctx context.Context, value string, userID int64) (ValidationResult, error) {
	token, err := m.tokens.Find(ctx, value)
	if err != nil {
		return ValidationNotFound, fmt.Errorf("failed to look up token: %w", err)
	}
	if token == nil {
		return ValidationNotFound, nil
	}
	if token.UserID != userID {
		return ValidationWrongOwner, nil
	}
	if token.Used {
		return ValidationAlreadyUsed, nil
	}
	return ValidationValid, nil
}

// Redeem はトークンを使用済みに遷移する。
// 遷移はストア側の単一のcompare-and-setで行われるため、
// 並行する使用要求のうち成功するのは必ず1つだけになる。
// 失敗した場合は再読み取りで失敗理由を判別する。
func (m *Manager) Redeem(ctx context.Context, value string, userID int64) (RedeemResult, error) {
	ok, err := m.tokens.MarkUsed(ctx, value, userID)
	if err != nil {
		return RedeemNotFound, fmt.Errorf("failed to redeem token: %w", err)
	}
	if ok {
		return RedeemOK, nil
	}

	// CASが不成立だった理由を判別する
	token, err := m.tokens.Find(ctx, value)
	if err != nil {
		return RedeemNotFound, fmt.Errorf("failed to look up token after redeem failure: %w", err)
	}
	if token == nil {
		return RedeemNotFound, nil
	}
	if token.UserID != userID {
		return RedeemWrongOwner, nil
	}
	return RedeemAlreadyUsed, nil
}

// generateToken はトークン値を生成する。
// crypto/randを使用し、62文字アルファベットから一様に選択する。
func generateToken() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, tokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}
