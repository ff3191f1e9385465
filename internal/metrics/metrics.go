// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// エンジンやブロードキャストから利用する。
type Recorder interface {
	RecordTokenIssued()
	RecordTokenRedeemed()
	RecordRedeemFailure(reason string)
	RecordPoolPop(pool string)
	RecordPoolEmpty(pool string)
	RecordMembershipVerdict(verdict string)
	RecordShortenerFallback()
	RecordBroadcastSent()
	RecordBroadcastFailed()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokensIssued      prometheus.Counter
	tokensRedeemed    prometheus.Counter
	redeemFailures    *prometheus.CounterVec
	poolPops          *prometheus.CounterVec
	poolEmpty         *prometheus.CounterVec
	membershipChecks  *prometheus.CounterVec
	shortenerFallback prometheus.Counter
	broadcastSent     prometheus.Counter
	broadcastFailed   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftgate_tokens_issued_total",
			Help: "発行された検証トークンの合計数",
		}),
		tokensRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftgate_tokens_redeemed_total",
			Help: "使用に成功した検証トークンの合計数",
		}),
		redeemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftgate_redeem_failures_total",
			Help: "理由別のトークン使用失敗数",
		}, []string{"reason"}),
		poolPops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftgate_pool_pops_total",
			Help: "プール別の配布アイテム数",
		}, []string{"pool"}),
		poolEmpty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftgate_pool_empty_total",
			Help: "プール別の在庫切れ遭遇数",
		}, []string{"pool"}),
		membershipChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftgate_membership_checks_total",
			Help: "判定結果別のチャンネル参加確認数",
		}, []string{"verdict"}),
		shortenerFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftgate_shortener_fallback_total",
			Help: "URL短縮の失敗によるフォールバック数",
		}),
		broadcastSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftgate_broadcast_sent_total",
			Help: "ブロードキャスト送信成功数",
		}),
		broadcastFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftgate_broadcast_failed_total",
			Help: "ブロードキャスト送信失敗数",
		}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.tokensRedeemed,
		c.redeemFailures,
		c.poolPops,
		c.poolEmpty,
		c.membershipChecks,
		c.shortenerFallback,
		c.broadcastSent,
		c.broadcastFailed,
	)

	return c
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordTokenRedeemed はトークン使用成功を記録する。
func (c *Collector) RecordTokenRedeemed() {
	c.tokensRedeemed.Inc()
}

// RecordRedeemFailure はトークン使用失敗を理由付きで記録する。
func (c *Collector) RecordRedeemFailure(reason string) {
	c.redeemFailures.WithLabelValues(reason).Inc()
}

// RecordPoolPop はプールからの配布を記録する。
func (c *Collector) RecordPoolPop(pool string) {
	c.poolPops.WithLabelValues(pool).Inc()
}

// RecordPoolEmpty は在庫切れ遭遇を記録する。
func (c *Collector) RecordPoolEmpty(pool string) {
	c.poolEmpty.WithLabelValues(pool).Inc()
}

// RecordMembershipVerdict はチャンネル参加確認の判定結果を記録する。
func (c *Collector) RecordMembershipVerdict(verdict string) {
	c.membershipChecks.WithLabelValues(verdict).Inc()
}

// RecordShortenerFallback はURL短縮失敗によるフォールバックを記録する。
func (c *Collector) RecordShortenerFallback() {
	c.shortenerFallback.Inc()
}

// RecordBroadcastSent はブロードキャスト送信成功を記録する。
func (c *Collector) RecordBroadcastSent() {
	c.broadcastSent.Inc()
}

// RecordBroadcastFailed はブロードキャスト送信失敗を記録する。
func (c *Collector) RecordBroadcastFailed() {
	c.broadcastFailed.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
