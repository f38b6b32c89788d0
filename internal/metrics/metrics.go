// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 記録台帳・セッションマネージャー・HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordCapture()
	RecordUpload(success bool, duration time.Duration)
	RecordAlbumFailure()
	RecordAuthEvent(event string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	captures      prometheus.Counter
	uploads       *prometheus.CounterVec
	uploadLatency prometheus.Histogram
	albumFailures prometheus.Counter
	authEvents    *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		captures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailyselfie_captures_committed_total",
			Help: "確定したセルフィーの合計数",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyselfie_uploads_total",
			Help: "Google Photosへのアップロード結果別の合計数",
		}, []string{"result"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dailyselfie_upload_latency_seconds",
			Help:    "アップロード全体のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		albumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailyselfie_album_failures_total",
			Help: "アルバムの検索・作成・追加に失敗した合計数",
		}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyselfie_auth_events_total",
			Help: "認証イベント別の合計数",
		}, []string{"event"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyselfie_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.captures,
		c.uploads,
		c.uploadLatency,
		c.albumFailures,
		c.authEvents,
		c.httpStatus,
	)

	return c
}

// RecordCapture はセルフィーの確定を記録する。
func (c *Collector) RecordCapture() {
	c.captures.Inc()
}

// RecordUpload はアップロードの結果とレイテンシを記録する。
func (c *Collector) RecordUpload(success bool, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	c.uploads.WithLabelValues(result).Inc()
	c.uploadLatency.Observe(duration.Seconds())
}

// RecordAlbumFailure はアルバム操作の失敗を記録する。
func (c *Collector) RecordAlbumFailure() {
	c.albumFailures.Inc()
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
