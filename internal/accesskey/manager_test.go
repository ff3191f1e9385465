package accesskey

import (
	"context"
	"strings"
	"testing"

	"github.com/hitoshi/giftgate/internal/model"
	"github.com/hitoshi/giftgate/internal/repository"
)

// --- モック定義 ---

type mockKeyRepo struct {
	upsertFn func(ctx context.Context, keyValue string) (*model.AccessKey, error)
	findFn   func(ctx context.Context) (*model.AccessKey, error)
}

func (m *mockKeyRepo) Upsert(ctx context.Context, keyValue string) (*model.AccessKey, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, keyValue)
	}
	return &model.AccessKey{Value: keyValue}, nil
}

func (m *mockKeyRepo) Find(ctx context.Context) (*model.AccessKey, error) {
	if m.findFn != nil {
		return m.findFn(ctx)
	}
	return nil, nil
}

var _ repository.AccessKeyRepository = (*mockKeyRepo)(nil)

// --- テスト ---

func TestRotate_UsesProvidedKey(t *testing.T) {
	ctx := context.Background()

	var upserted string
	repo := &mockKeyRepo{
		upsertFn: func(ctx context.Context, keyValue string) (*model.AccessKey, error) {
			upserted = keyValue
			return &model.AccessKey{Value: keyValue}, nil
		},
	}
	m := NewManager(repo)

	key, err := m.Rotate(ctx, "SECRET99")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if upserted != "SECRET99" {
		t.Errorf("upserted key = %q, want %q", upserted, "SECRET99")
	}
	if key.Value != "SECRET99" {
		t.Errorf("Value = %q, want %q", key.Value, "SECRET99")
	}
}

func TestRotate_GeneratesKeyWhenEmpty(t *testing.T) {
	ctx := context.Background()

	var upserted string
	repo := &mockKeyRepo{
		upsertFn: func(ctx context.Context, keyValue string) (*model.AccessKey, error) {
			upserted = keyValue
			return &model.AccessKey{Value: keyValue}, nil
		},
	}
	m := NewManager(repo)

	_, err := m.Rotate(ctx, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(upserted) != defaultKeyLength {
		t.Errorf("len(generated key) = %d, want %d", len(upserted), defaultKeyLength)
	}
	for _, r := range upserted {
		if !strings.ContainsRune(keyAlphabet, r) {
			t.Errorf("generated key contains character outside alphabet: %q", r)
		}
	}
}

// TestCheck_RotationInvalidatesOldKey はローテーション後に旧キーの照合が
// 失敗することを確認する。
func TestCheck_RotationInvalidatesOldKey(t *testing.T) {
	ctx := context.Background()

	current := &model.AccessKey{Value: "OLDKEY00"}
	repo := &mockKeyRepo{
		upsertFn: func(ctx context.Context, keyValue string) (*model.AccessKey, error) {
			current = &model.AccessKey{Value: keyValue}
			return current, nil
		},
		findFn: func(ctx context.Context) (*model.AccessKey, error) {
			return current, nil
		},
	}
	m := NewManager(repo)

	ok, err := m.Check(ctx, "OLDKEY00")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatal("expected old key to match before rotation")
	}

	if _, err := m.Rotate(ctx, "NEWKEY11"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ok, err = m.Check(ctx, "OLDKEY00")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Error("expected old key to be rejected after rotation")
	}

	ok, err = m.Check(ctx, "NEWKEY11")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Error("expected new key to match after rotation")
	}
}

func TestCheck_NoKeyIssued_ReturnsFalse(t *testing.T) {
	ctx := context.Background()

	m := NewManager(&mockKeyRepo{})

	ok, err := m.Check(ctx, "ANYTHING")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Error("expected check to fail when no key has been issued")
	}
}

func TestCurrent_ReturnsNilWhenNoKey(t *testing.T) {
	ctx := context.Background()

	m := NewManager(&mockKeyRepo{})

	key, err := m.Current(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if key != nil {
		t.Errorf("Current() = %v, want nil", key)
	}
}
