// Package shortener は外部URL短縮サービスへのクライアントを提供する。
// 短縮は必須機能ではなく、失敗時は呼び出し元が元のURLへフォールバックする。
package shortener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/giftgate/internal/model"
)

// Transformer はURL変換のインターフェース。
// 入力は正規のディープリンク、出力は短縮された可能性のあるURL。
type Transformer interface {
	// Transform はURLを変換して返す。
	// 失敗時はmodel.ErrTransformUnavailableを返し、呼び出し元が元のURLを使う。
	Transform(ctx context.Context, longURL string) (string, error)
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// 短縮APIのエンドポイントは運用者が設定するURLのため、
// プライベートIPやループバックへのリクエストをsafeurlでブロックする。
// safeurlはnet.DialerレベルでDNS解決後のIPアドレスも検証するため、
// DNS再バインディング攻撃にも対応している。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// Client は短縮APIのHTTPクライアント。
// GET {endpoint}?api={key}&url={longURL} を呼び出し、
// {"shortenedUrl": "..."} 形式のレスポンスを期待する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	apiKey     string
	timeout    time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはNewSafeClientで生成したクライアントを渡すことを想定している。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     apiKey,
		timeout:    timeout,
	}
}

// Transform はURLを短縮して返す。
// 失敗・タイムアウト時はmodel.ErrTransformUnavailableを返す。
// タイムアウトしてもトークン発行は中断されない（呼び出し元でフォールバック）。
func (c *Client) Transform(ctx context.Context, longURL string) (string, error) {
	if c.endpoint == "" {
		return "", model.ErrTransformUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid shortener endpoint: %w", model.ErrTransformUnavailable)
	}

	q := reqURL.Query()
	q.Set("api", c.apiKey)
	q.Set("url", longURL)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build shortener request: %w", model.ErrTransformUnavailable)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("URL短縮APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return "", model.ErrTransformUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("URL短縮APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", model.ErrTransformUnavailable
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", model.ErrTransformUnavailable
	}

	var result struct {
		ShortenedURL string `json:"shortenedUrl"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Warn("URL短縮APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return "", model.ErrTransformUnavailable
	}

	if result.ShortenedURL == "" {
		return "", model.ErrTransformUnavailable
	}

	return result.ShortenedURL, nil
}

// compile-time interface check
var _ Transformer = (*Client)(nil)
