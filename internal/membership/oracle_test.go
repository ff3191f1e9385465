package membership

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// --- モック定義 ---

type mockChatMemberAPI struct {
	getChatMemberFn func(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

func (m *mockChatMemberAPI) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	if m.getChatMemberFn != nil {
		return m.getChatMemberFn(config)
	}
	return tgbotapi.ChatMember{}, nil
}

var _ ChatMemberAPI = (*mockChatMemberAPI)(nil)

// --- テスト ---

func TestCheck_StatusMapping(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		status string
		want   Verdict
	}{
		{"creator", VerdictMember},
		{"administrator", VerdictMember},
		{"member", VerdictMember},
		{"left", VerdictNotMember},
		{"kicked", VerdictNotMember},
		{"restricted", VerdictNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			oracle := NewTelegramOracle(&mockChatMemberAPI{
				getChatMemberFn: func(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
					return tgbotapi.ChatMember{Status: tt.status}, nil
				},
			})

			got := oracle.Check(ctx, "@channel", 1)
			if got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheck_APIError_IsUnverifiable(t *testing.T) {
	ctx := context.Background()

	oracle := NewTelegramOracle(&mockChatMemberAPI{
		getChatMemberFn: func(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
			return tgbotapi.ChatMember{}, errors.New("Bad Request: chat not found")
		},
	})

	got := oracle.Check(ctx, "@private_channel", 1)
	if got != VerdictUnverifiable {
		t.Errorf("Check() = %v, want %v", got, VerdictUnverifiable)
	}
}

func TestReport_Passed(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		strict bool
		want   bool
	}{
		{"all member", Report{}, true, true},
		{"not member fails regardless", Report{NotMember: []string{"@ch"}}, false, false},
		{"unverifiable strict fails", Report{Unverifiable: []string{"@ch"}}, true, false},
		{"unverifiable lenient passes", Report{Unverifiable: []string{"@ch"}}, false, true},
		{"both lenient still fails", Report{NotMember: []string{"@a"}, Unverifiable: []string{"@b"}}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.Passed(tt.strict); got != tt.want {
				t.Errorf("Passed(%v) = %v, want %v", tt.strict, got, tt.want)
			}
		})
	}
}

func TestCheckAll_CollectsVerdictsPerChannel(t *testing.T) {
	ctx := context.Background()

	oracle := &mockOracleFunc{
		fn: func(ctx context.Context, channel string, userID int64) Verdict {
			switch channel {
			case "@member":
				return VerdictMember
			case "@missing":
				return VerdictNotMember
			default:
				return VerdictUnverifiable
			}
		},
	}

	report := CheckAll(ctx, oracle, []string{"@member", "@missing", "@private"}, 1)

	if len(report.NotMember) != 1 || report.NotMember[0] != "@missing" {
		t.Errorf("NotMember = %v, want [@missing]", report.NotMember)
	}
	if len(report.Unverifiable) != 1 || report.Unverifiable[0] != "@private" {
		t.Errorf("Unverifiable = %v, want [@private]", report.Unverifiable)
	}
}

type mockOracleFunc struct {
	fn func(ctx context.Context, channel string, userID int64) Verdict
}

func (m *mockOracleFunc) Check(ctx context.Context, channel string, userID int64) Verdict {
	return m.fn(ctx, channel, userID)
}
