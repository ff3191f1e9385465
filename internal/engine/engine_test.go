package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

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

// --- モック定義 ---

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User)}
}

func (f *fakeUserRepo) Ensure(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		f.users[id] = &model.User{ID: id, State: model.StateUnverified, CreatedAt: time.Now()}
	}
	return nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (f *fakeUserRepo) SetState(ctx context.Context, id int64, state model.ProgressState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[id]; ok {
		user.State = state
	}
	return nil
}

func (f *fakeUserRepo) CompareAndSetState(ctx context.Context, id int64, from, to model.ProgressState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok || user.State != from {
		return false, nil
	}
	user.State = to
	return true, nil
}

func (f *fakeUserRepo) ListIDs(ctx context.Context) ([]int64, error) {
	return nil, nil
}

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.Token
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*model.Token)}
}

func (f *fakeTokenRepo) Create(ctx context.Context, t *model.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *t
	f.tokens[t.Value] = &copied
	return nil
}

func (f *fakeTokenRepo) Exists(ctx context.Context, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tokens[value]
	return ok, nil
}

func (f *fakeTokenRepo) Find(ctx context.Context, value string) (*model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[value]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTokenRepo) MarkUsed(ctx context.Context, value string, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[value]
	if !ok || t.UserID != userID || t.Used {
		return false, nil
	}
	t.Used = true
	now := time.Now()
	t.UsedAt = &now
	return true, nil
}

func (f *fakeTokenRepo) DeleteUsedBefore(ctx context.Context, retentionDays int) (int64, error) {
	return 0, nil
}

type mockKeyRepo struct {
	key *model.AccessKey
}

func (m *mockKeyRepo) Upsert(ctx context.Context, keyValue string) (*model.AccessKey, error) {
	m.key = &model.AccessKey{Value: keyValue}
	return m.key, nil
}

func (m *mockKeyRepo) Find(ctx context.Context) (*model.AccessKey, error) {
	return m.key, nil
}

type fakePoolRepo struct {
	mu    sync.Mutex
	pools map[string][]string
}

func newFakePoolRepo() *fakePoolRepo {
	return &fakePoolRepo{pools: make(map[string][]string)}
}

func (f *fakePoolRepo) Replace(ctx context.Context, pool string, items []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[pool] = append([]string(nil), items...)
	return nil
}

func (f *fakePoolRepo) PopHead(ctx context.Context, pool string) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.pools[pool]
	if len(items) == 0 {
		return nil, nil
	}
	head := items[0]
	f.pools[pool] = items[1:]
	return &head, nil
}

func (f *fakePoolRepo) List(ctx context.Context, pool string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pools[pool]...), nil
}

func (f *fakePoolRepo) Clear(ctx context.Context, pool string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pools, pool)
	return nil
}

func (f *fakePoolRepo) Pools(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.pools))
	for name, items := range f.pools {
		if len(items) > 0 {
			names = append(names, name)
		}
	}
	return names, nil
}

// fakeDeliveryRepo はpopと記録の原子性を模すインメモリ実装。
type fakeDeliveryRepo struct {
	mu         sync.Mutex
	pools      *fakePoolRepo
	deliveries map[string]*model.Delivery
	nextID     int
}

func newFakeDeliveryRepo(pools *fakePoolRepo) *fakeDeliveryRepo {
	return &fakeDeliveryRepo{pools: pools, deliveries: make(map[string]*model.Delivery)}
}

func (f *fakeDeliveryRepo) PopAndRecord(ctx context.Context, pool string, userID int64) (*model.Delivery, error) {
	item, err := f.pools.PopHead(ctx, pool)
	if err != nil || item == nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	d := &model.Delivery{
		ID:        fmt.Sprintf("delivery-%d", f.nextID),
		UserID:    userID,
		Pool:      pool,
		Item:      *item,
		CreatedAt: time.Now(),
	}
	f.deliveries[d.ID] = d
	return d, nil
}

func (f *fakeDeliveryRepo) MarkDelivered(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deliveries[id]; ok {
		d.Delivered = true
	}
	return nil
}

func (f *fakeDeliveryRepo) FindUndelivered(ctx context.Context, userID int64) (*model.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deliveries {
		if d.UserID == userID && !d.Delivered {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

var _ repository.DeliveryRepository = (*fakeDeliveryRepo)(nil)

type mockOracle struct {
	checkFn func(ctx context.Context, channel string, userID int64) membership.Verdict
}

func (m *mockOracle) Check(ctx context.Context, channel string, userID int64) membership.Verdict {
	if m.checkFn != nil {
		return m.checkFn(ctx, channel, userID)
	}
	return membership.VerdictMember
}

type mockTransformer struct {
	transformFn func(ctx context.Context, longURL string) (string, error)
}

func (m *mockTransformer) Transform(ctx context.Context, longURL string) (string, error) {
	if m.transformFn != nil {
		return m.transformFn(ctx, longURL)
	}
	return "", model.ErrTransformUnavailable
}

var _ membership.Oracle = (*mockOracle)(nil)
var _ shortener.Transformer = (*mockTransformer)(nil)

// recorderStub は記録された件数を保持するRecorder実装。
type recorderStub struct {
	tokensIssued      int
	tokensRedeemed    int
	redeemFailures    map[string]int
	poolEmpty         int
	poolPops          int
	shortenerFallback int
}

func newRecorderStub() *recorderStub {
	return &recorderStub{redeemFailures: make(map[string]int)}
}

func (r *recorderStub) RecordTokenIssued()                { r.tokensIssued++ }
func (r *recorderStub) RecordTokenRedeemed()              { r.tokensRedeemed++ }
func (r *recorderStub) RecordRedeemFailure(reason string) { r.redeemFailures[reason]++ }
func (r *recorderStub) RecordPoolPop(pool string)         { r.poolPops++ }
func (r *recorderStub) RecordPoolEmpty(pool string)       { r.poolEmpty++ }
func (r *recorderStub) RecordMembershipVerdict(string)    {}
func (r *recorderStub) RecordShortenerFallback()          { r.shortenerFallback++ }
func (r *recorderStub) RecordBroadcastSent()              {}
func (r *recorderStub) RecordBroadcastFailed()            {}

var _ metrics.Recorder = (*recorderStub)(nil)

// --- テストハーネス ---

type harness struct {
	engine     *Engine
	users      *fakeUserRepo
	tokens     *fakeTokenRepo
	keys       *mockKeyRepo
	pools      *fakePoolRepo
	deliveries *fakeDeliveryRepo
	oracle     *mockOracle
	transform  *mockTransformer
	recorder   *recorderStub
}

func newHarness(cfg Config) *harness {
	h := &harness{
		users:     newFakeUserRepo(),
		tokens:    newFakeTokenRepo(),
		keys:      &mockKeyRepo{key: &model.AccessKey{Value: "KEY12345"}},
		pools:     newFakePoolRepo(),
		oracle:    &mockOracle{},
		transform: &mockTransformer{},
		recorder:  newRecorderStub(),
	}
	h.deliveries = newFakeDeliveryRepo(h.pools)

	keyManager := accesskey.NewManager(h.keys)
	h.engine = New(
		cfg,
		progress.NewTracker(h.users, keyManager),
		token.NewManager(h.tokens),
		keyManager,
		pool.NewManager(h.pools),
		h.deliveries,
		h.oracle,
		h.transform,
		h.recorder,
	)
	return h
}

func membershipConfig(strict bool) Config {
	return Config{
		Flow:             config.FlowMembership,
		BotUsername:      "giftgate_bot",
		RequiredChannels: []string{"@ch1", "@ch2"},
		MembershipStrict: strict,
	}
}

func tokenConfig() Config {
	return Config{
		Flow:        config.FlowToken,
		BotUsername: "giftgate_bot",
	}
}

// --- テスト ---

func TestStart_MembershipFlow_NewUser_ShowsJoinPrompt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	res, err := h.engine.Start(ctx, 1, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if res.Action != ActionShowJoinPrompt {
		t.Errorf("Action = %v, want %v", res.Action, ActionShowJoinPrompt)
	}
	if len(res.Channels) != 2 {
		t.Errorf("len(Channels) = %d, want %d", len(res.Channels), 2)
	}
}

func TestStart_TokenFlow_NewUser_ShowsVerifyPrompt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(tokenConfig())

	res, err := h.engine.Start(ctx, 1, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if res.Action != ActionShowVerifyPrompt {
		t.Errorf("Action = %v, want %v", res.Action, ActionShowVerifyPrompt)
	}
}

func TestStart_TokenFlow_AwaitingKey_AsksKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(tokenConfig())

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateAwaitingKey)

	res, err := h.engine.Start(ctx, 1, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Action != ActionAskKey {
		t.Errorf("Action = %v, want %v", res.Action, ActionAskKey)
	}
}

func TestStart_EntitledUser_WithCategories_ShowsSelection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateMemberVerified)
	h.pools.Replace(ctx, "games", []string{"item1"})
	h.pools.Replace(ctx, "music", []string{"item2"})
	h.pools.Replace(ctx, pool.CodesPool, []string{"code1"})

	res, err := h.engine.Start(ctx, 1, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if res.Action != ActionShowCategories {
		t.Fatalf("Action = %v, want %v", res.Action, ActionShowCategories)
	}
	if len(res.Categories) != 2 {
		t.Errorf("len(Categories) = %d, want %d", len(res.Categories), 2)
	}
	for _, category := range res.Categories {
		if category == pool.CodesPool {
			t.Error("shared codes pool must not appear as a category")
		}
	}
}

func TestStart_EntitledUser_NoCategories_ClaimsCodes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(tokenConfig())

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateKeyVerified)
	h.pools.Replace(ctx, pool.CodesPool, []string{"code1"})

	res, err := h.engine.Start(ctx, 1, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Action != ActionClaimCodes {
		t.Errorf("Action = %v, want %v", res.Action, ActionClaimCodes)
	}
}

// TestStart_TokenFlow_WithPayload_RedeemsAndAsksKey はディープリンク経由の
// 戻りでトークンが使用され、アクセスキー入力に進むことを確認する。
func TestStart_TokenFlow_WithPayload_RedeemsAndAsksKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(tokenConfig())

	link, err := h.engine.GenerateLink(ctx, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if link == "" {
		t.Fatal("expected non-empty link")
	}

	// 発行されたトークン値を取り出す
	var value string
	for v := range h.tokens.tokens {
		value = v
	}

	res, err := h.engine.Start(ctx, 1, value)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Action != ActionAskKey {
		t.Errorf("Action = %v, want %v", res.Action, ActionAskKey)
	}

	user, _ := h.users.FindByID(ctx, 1)
	if user.State != model.StateAwaitingKey {
		t.Errorf("State = %q, want %q", user.State, model.StateAwaitingKey)
	}
	if h.recorder.tokensRedeemed != 1 {
		t.Errorf("tokensRedeemed = %d, want %d", h.recorder.tokensRedeemed, 1)
	}
}

func TestStart_TokenFlow_ReusedPayload_ReturnsAlreadyUsed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(tokenConfig())

	if _, err := h.engine.GenerateLink(ctx, 1); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var value string
	for v := range h.tokens.tokens {
		value = v
	}

	if _, err := h.engine.Start(ctx, 1, value); err != nil {
		t.Fatalf("expected no error on first redeem, got %v", err)
	}

	_, err := h.engine.Start(ctx, 1, value)
	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected BotError, got %v", err)
	}
	if botErr.Code != model.ErrCodeAlreadyUsed {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodeAlreadyUsed)
	}
}

func TestRedeemToken_FailureMapping(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		setup    func(h *harness)
		payload  string
		userID   int64
		wantCode string
	}{
		{
			name:     "unknown token",
			setup:    func(h *harness) {},
			payload:  "nonexistent",
			userID:   1,
			wantCode: model.ErrCodeTokenNotFound,
		},
		{
			name: "another user's token",
			setup: func(h *harness) {
				h.tokens.Create(ctx, &model.Token{Value: "theirs", UserID: 2})
			},
			payload:  "theirs",
			userID:   1,
			wantCode: model.ErrCodeWrongOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tokenConfig())
			tt.setup(h)

			err := h.engine.RedeemToken(ctx, tt.userID, tt.payload)
			var botErr *model.BotError
			if !errors.As(err, &botErr) {
				t.Fatalf("expected BotError, got %v", err)
			}
			if botErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", botErr.Code, tt.wantCode)
			}
		})
	}
}

func TestGenerateLink_FallsBackToCanonicalOnTransformFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(tokenConfig())

	// デフォルトのmockTransformerはErrTransformUnavailableを返す
	link, err := h.engine.GenerateLink(ctx, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "https://t.me/giftgate_bot?start="
	if len(link) <= len(want) || link[:len(want)] != want {
		t.Errorf("link = %q, want canonical deep link prefix %q", link, want)
	}
	if h.recorder.shortenerFallback != 1 {
		t.Errorf("shortenerFallback = %d, want %d", h.recorder.shortenerFallback, 1)
	}
	if h.recorder.tokensIssued != 1 {
		t.Errorf("tokensIssued = %d, want %d", h.recorder.tokensIssued, 1)
	}
}

func TestGenerateLink_UsesShortenedURL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(tokenConfig())
	h.transform.transformFn = func(ctx context.Context, longURL string) (string, error) {
		return "https://short.example/abc", nil
	}

	link, err := h.engine.GenerateLink(ctx, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if link != "https://short.example/abc" {
		t.Errorf("link = %q, want %q", link, "https://short.example/abc")
	}

	user, _ := h.users.FindByID(ctx, 1)
	if user.State != model.StateTokenIssued {
		t.Errorf("State = %q, want %q", user.State, model.StateTokenIssued)
	}
}

func TestConfirmJoined_AllMember_TransitionsAndShowsEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	res, err := h.engine.ConfirmJoined(ctx, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Action != ActionClaimCodes {
		t.Errorf("Action = %v, want %v", res.Action, ActionClaimCodes)
	}

	user, _ := h.users.FindByID(ctx, 1)
	if user.State != model.StateMemberVerified {
		t.Errorf("State = %q, want %q", user.State, model.StateMemberVerified)
	}
}

func TestConfirmJoined_NotMember_ReturnsChannelList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))
	h.oracle.checkFn = func(ctx context.Context, channel string, userID int64) membership.Verdict {
		if channel == "@ch2" {
			return membership.VerdictNotMember
		}
		return membership.VerdictMember
	}

	_, err := h.engine.ConfirmJoined(ctx, 1)
	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected BotError, got %v", err)
	}
	if botErr.Code != model.ErrCodeNotMember {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodeNotMember)
	}

	user, _ := h.users.FindByID(ctx, 1)
	if user.State == model.StateMemberVerified {
		t.Error("user must not transition when a channel check fails")
	}
}

func TestConfirmJoined_Unverifiable_StrictFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(true))
	h.oracle.checkFn = func(ctx context.Context, channel string, userID int64) membership.Verdict {
		if channel == "@ch1" {
			return membership.VerdictUnverifiable
		}
		return membership.VerdictMember
	}

	_, err := h.engine.ConfirmJoined(ctx, 1)
	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected BotError, got %v", err)
	}
	if botErr.Code != model.ErrCodeUnverifiable {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodeUnverifiable)
	}
}

func TestConfirmJoined_Unverifiable_LenientPasses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))
	h.oracle.checkFn = func(ctx context.Context, channel string, userID int64) membership.Verdict {
		if channel == "@ch1" {
			return membership.VerdictUnverifiable
		}
		return membership.VerdictMember
	}

	_, err := h.engine.ConfirmJoined(ctx, 1)
	if err != nil {
		t.Fatalf("expected lenient mode to pass, got %v", err)
	}

	user, _ := h.users.FindByID(ctx, 1)
	if user.State != model.StateMemberVerified {
		t.Errorf("State = %q, want %q", user.State, model.StateMemberVerified)
	}
}

func TestSubmitKey_NoActiveKey_AwaitingUserGetsError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(tokenConfig())
	h.keys.key = nil

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateAwaitingKey)

	_, err := h.engine.SubmitKey(ctx, 1, "ANYTHING")
	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected BotError, got %v", err)
	}
	if botErr.Code != model.ErrCodeNoActiveKey {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodeNoActiveKey)
	}
}

func TestClaim_NotEntitled_ReturnsError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	h.users.Ensure(ctx, 1)
	h.pools.Replace(ctx, "games", []string{"item1"})

	_, err := h.engine.Claim(ctx, 1, "games")
	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected BotError, got %v", err)
	}
	if botErr.Code != model.ErrCodeNotEntitled {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodeNotEntitled)
	}
}

func TestClaim_EmptyPool_ReturnsPoolEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateMemberVerified)

	_, err := h.engine.Claim(ctx, 1, "games")
	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected BotError, got %v", err)
	}
	if botErr.Code != model.ErrCodePoolEmpty {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodePoolEmpty)
	}
	if h.recorder.poolEmpty != 1 {
		t.Errorf("poolEmpty = %d, want %d", h.recorder.poolEmpty, 1)
	}
}

func TestClaim_PopsHeadAndRecordsDelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateMemberVerified)
	h.pools.Replace(ctx, "games", []string{"first", "second"})

	delivery, err := h.engine.Claim(ctx, 1, "games")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if delivery.Item != "first" {
		t.Errorf("Item = %q, want %q", delivery.Item, "first")
	}
	if delivery.Delivered {
		t.Error("delivery must start unconfirmed")
	}

	remaining, _ := h.pools.List(ctx, "games")
	if len(remaining) != 1 || remaining[0] != "second" {
		t.Errorf("remaining pool = %v, want [second]", remaining)
	}
}

// TestClaim_PendingDelivery_IsResentWithoutPop は送信未確認の配布記録が
// 再popなしで再送されることを確認する。
func TestClaim_PendingDelivery_IsResentWithoutPop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateMemberVerified)
	h.pools.Replace(ctx, "games", []string{"first", "second"})

	first, err := h.engine.Claim(ctx, 1, "games")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// 送信完了を記録しないまま再要求する
	again, err := h.engine.Claim(ctx, 1, "games")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("redelivered ID = %q, want %q", again.ID, first.ID)
	}
	if again.Item != "first" {
		t.Errorf("redelivered Item = %q, want %q", again.Item, "first")
	}

	remaining, _ := h.pools.List(ctx, "games")
	if len(remaining) != 1 {
		t.Errorf("pool must not be popped again, remaining = %v", remaining)
	}
}

// TestClaim_ConcurrentUsersGetDistinctItems は在庫n件にm>n人の並行claimが
// 競合したとき、成功がちょうどn回で全員が異なるアイテムを受け取り、
// 残りのm-n人が在庫切れを受け取ることを確認する。
func TestClaim_ConcurrentUsersGetDistinctItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	items := []string{"a", "b", "c"}
	h.pools.Replace(ctx, "games", items)

	const claimers = 8
	for i := int64(1); i <= claimers; i++ {
		h.users.Ensure(ctx, i)
		h.users.SetState(ctx, i, model.StateMemberVerified)
	}

	type outcome struct {
		delivery *model.Delivery
		err      error
	}
	results := make(chan outcome, claimers)

	var wg sync.WaitGroup
	for i := int64(1); i <= claimers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			d, err := h.engine.Claim(ctx, userID, "games")
			results <- outcome{delivery: d, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	empty := 0
	for res := range results {
		if res.err != nil {
			var botErr *model.BotError
			if !errors.As(res.err, &botErr) || botErr.Code != model.ErrCodePoolEmpty {
				t.Errorf("expected pool-empty BotError, got %v", res.err)
				continue
			}
			empty++
			continue
		}
		if seen[res.delivery.Item] {
			t.Errorf("item %q was delivered more than once", res.delivery.Item)
		}
		seen[res.delivery.Item] = true
	}

	if len(seen) != len(items) {
		t.Errorf("distinct winners = %d, want %d", len(seen), len(items))
	}
	if empty != claimers-len(items) {
		t.Errorf("pool-empty results = %d, want %d", empty, claimers-len(items))
	}
}

// TestClaim_PendingDelivery_TakesPriorityAcrossPools は未送信の配布記録が
// 別プールへの要求よりも優先して再送されることを確認する。
// ユーザーごとの未送信記録は常に最大1件で、再送が完了するまで
// 新しいpopは行われない。
func TestClaim_PendingDelivery_TakesPriorityAcrossPools(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateMemberVerified)
	h.pools.Replace(ctx, "games", []string{"game-item"})
	h.pools.Replace(ctx, "music", []string{"music-item"})

	first, err := h.engine.Claim(ctx, 1, "games")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// 送信未確認のまま別プールを要求しても、先に保留分が返る
	again, err := h.engine.Claim(ctx, 1, "music")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("redelivered ID = %q, want pending %q", again.ID, first.ID)
	}
	if again.Pool != "games" {
		t.Errorf("redelivered Pool = %q, want %q", again.Pool, "games")
	}

	remaining, _ := h.pools.List(ctx, "music")
	if len(remaining) != 1 {
		t.Errorf("music pool must stay untouched, remaining = %v", remaining)
	}
}

func TestConfirmDelivered_AllowsNextClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(membershipConfig(false))

	h.users.Ensure(ctx, 1)
	h.users.SetState(ctx, 1, model.StateMemberVerified)
	h.pools.Replace(ctx, "games", []string{"first", "second"})

	first, err := h.engine.Claim(ctx, 1, "games")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := h.engine.ConfirmDelivered(ctx, first.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	second, err := h.engine.Claim(ctx, 1, "games")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if second.Item != "second" {
		t.Errorf("Item = %q, want %q", second.Item, "second")
	}
}
