// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FlowMode は配布エンジンのゲート方式を表す。
// 1つのデプロイメントは必ずどちらか一方のモードで動作する。
type FlowMode string

const (
	// FlowMembership はチャンネル参加確認→プール配布のフロー。
	FlowMembership FlowMode = "membership"
	// FlowToken はトークン検証→アクセスキー→プール配布のフロー。
	FlowToken FlowMode = "token"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Telegram
	BotToken    string
	BotUsername string
	AdminIDs    []int64

	// Database
	DatabaseURL string

	// Flow
	FlowMode         FlowMode
	RequiredChannels []string
	MembershipStrict bool

	// Shortener
	ShortenerAPIURL  string
	ShortenerAPIKey  string
	ShortenerTimeout time.Duration

	// Token cleanup
	TokenRetentionDays int

	// Rate Limit (updates/min/user)
	RateLimitGeneral int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	if cfg.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}

	cfg.BotUsername = os.Getenv("BOT_USERNAME")
	if cfg.BotUsername == "" {
		missing = append(missing, "BOT_USERNAME")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	adminIDs, err := parseInt64List(os.Getenv("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}
	cfg.AdminIDs = adminIDs
	if len(cfg.AdminIDs) == 0 {
		missing = append(missing, "ADMIN_IDS")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Flow mode
	mode := FlowMode(getEnvString("FLOW_MODE", string(FlowMembership)))
	if mode != FlowMembership && mode != FlowToken {
		return nil, fmt.Errorf("invalid FLOW_MODE: %q (allowed: membership, token)", mode)
	}
	cfg.FlowMode = mode

	cfg.RequiredChannels = parseStringList(os.Getenv("REQUIRED_CHANNELS"))
	if cfg.FlowMode == FlowMembership && len(cfg.RequiredChannels) == 0 {
		return nil, fmt.Errorf("REQUIRED_CHANNELS must be set when FLOW_MODE=membership")
	}

	// Optional fields with defaults
	cfg.MembershipStrict = getEnvBool("MEMBERSHIP_STRICT", false)
	cfg.ShortenerAPIURL = getEnvString("SHORTENER_API_URL", "")
	cfg.ShortenerAPIKey = getEnvString("SHORTENER_API_KEY", "")
	cfg.ShortenerTimeout = getEnvDuration("SHORTENER_TIMEOUT", 20*time.Second)
	cfg.TokenRetentionDays = getEnvInt("TOKEN_RETENTION_DAYS", 30)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 60)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// IsAdmin は指定ユーザーIDが管理者リストに含まれるかを返す。
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// parseInt64List はカンマ区切りのint64リストをパースする。
func parseInt64List(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseStringList はカンマ区切りの文字列リストをパースする。空要素は除外する。
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
