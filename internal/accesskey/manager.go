// Package accesskey は管理者発行のアクセスキーのローテーションと照合を提供する。
package accesskey

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/hitoshi/giftgate/internal/model"
	"github.com/hitoshi/giftgate/internal/repository"
)

// defaultKeyLength は自動生成するキーの文字数。
const defaultKeyLength = 8

// keyAlphabet はキー生成に使用する文字集合（大文字英数字）。
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Manager はアクセスキーのサービス層。
// キーはシステム全体で常に最大1件のみ有効で、ローテーションで旧キーは即時無効になる。
type Manager struct {
	keys repository.AccessKeyRepository
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(keys repository.AccessKeyRepository) *Manager {
	return &Manager{keys: keys}
}

// Rotate はアクセスキーを差し替えて新しいキーを返す。
// newKeyが空の場合は大文字英数字8文字のキーを自動生成する。
// 差し替えはストア側の単一upsertで行われ、awaiting_key状態のユーザーが
// 保持している旧キーも即時に無効になる。
func (m *Manager) Rotate(ctx context.Context, newKey string) (*model.AccessKey, error) {
	if newKey == "" {
		generated, err := generateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate access key: %w", err)
		}
		newKey = generated
	}

	key, err := m.keys.Upsert(ctx, newKey)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate access key: %w", err)
	}

	return key, nil
}

// Current は現在のアクセスキーを返す。未発行の場合はnilを返す。
func (m *Manager) Current(ctx context.Context) (*model.AccessKey, error) {
	key, err := m.keys.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current access key: %w", err)
	}
	return key, nil
}

// Check は候補文字列が現在のキーと一致するかを返す。
// キーが未発行の場合は常にfalseを返す。
// キーは管理者メッセージに表示される短期の共有シークレットのため、
// 保存はプレーンテキストで、比較は完全一致のみを要求する。
func (m *Manager) Check(ctx context.Context, candidate string) (bool, error) {
	key, err := m.keys.Find(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load access key for check: %w", err)
	}
	if key == nil {
		return false, nil
	}
	return key.Value == candidate, nil
}

// generateKey はアクセスキー値を生成する。
func generateKey() (string, error) {
	max := big.NewInt(int64(len(keyAlphabet)))
	buf := make([]byte, defaultKeyLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = keyAlphabet[n.Int64()]
	}
	return string(buf), nil
}
