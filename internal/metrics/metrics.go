// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// クレームワークフロー、クリーンアップジョブ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	ObserveCodeRequest(channel model.Channel, result string)
	ObserveVerification(result string)
	ObserveFinalize(result string)
	ObserveOrphan(reason model.OrphanReason)
	ObserveNotifyDuration(channel model.Channel, d time.Duration)
	RecordCleanupDeleted(target string, count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	codeRequests   *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	finalizations  *prometheus.CounterVec
	orphans        *prometheus.CounterVec
	notifyLatency  *prometheus.HistogramVec
	cleanupDeleted *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		codeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicclaim_code_requests_total",
			Help: "確認コード送信要求の合計数（チャネル・結果別）",
		}, []string{"channel", "result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicclaim_code_verifications_total",
			Help: "確認コード照合の合計数（結果別）",
		}, []string{"result"}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicclaim_finalizations_total",
			Help: "クレーム確定の合計数（結果別）",
		}, []string{"result"}),
		orphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicclaim_orphaned_accounts_total",
			Help: "クリニックに紐付かなかったアカウントの合計数（理由別）",
		}, []string{"reason"}),
		notifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinicclaim_notify_latency_seconds",
			Help:    "確認コード送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicclaim_cleanup_deleted_total",
			Help: "クリーンアップジョブで削除したレコード数（対象別）",
		}, []string{"target"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicclaim_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.codeRequests,
		c.verifications,
		c.finalizations,
		c.orphans,
		c.notifyLatency,
		c.cleanupDeleted,
		c.httpStatus,
	)

	return c
}

// ObserveCodeRequest は確認コード送信要求の結果を記録する。
func (c *Collector) ObserveCodeRequest(channel model.Channel, result string) {
	c.codeRequests.WithLabelValues(string(channel), result).Inc()
}

// ObserveVerification は確認コード照合の結果を記録する。
func (c *Collector) ObserveVerification(result string) {
	c.verifications.WithLabelValues(result).Inc()
}

// ObserveFinalize はクレーム確定の結果を記録する。
func (c *Collector) ObserveFinalize(result string) {
	c.finalizations.WithLabelValues(result).Inc()
}

// ObserveOrphan は孤立アカウントの発生を記録する。
func (c *Collector) ObserveOrphan(reason model.OrphanReason) {
	c.orphans.WithLabelValues(string(reason)).Inc()
}

// ObserveNotifyDuration は確認コード送信のレイテンシを記録する。
func (c *Collector) ObserveNotifyDuration(channel model.Channel, d time.Duration) {
	c.notifyLatency.WithLabelValues(string(channel)).Observe(d.Seconds())
}

// RecordCleanupDeleted はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanupDeleted(target string, count int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
