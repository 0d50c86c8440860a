// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 外部API呼び出しの結果ラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordInvoiceCreated()
	RecordInvoicesMarkedOverdue(count int64)
	RecordUpstreamCall(integration, outcome string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus      *prometheus.CounterVec
	invoicesCreated prometheus.Counter
	invoicesOverdue prometheus.Counter
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invisibilled_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		invoicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invisibilled_invoices_created_total",
			Help: "作成された請求書の合計数",
		}),
		invoicesOverdue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invisibilled_invoices_marked_overdue_total",
			Help: "期限超過に更新された請求書の合計数",
		}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invisibilled_upstream_calls_total",
			Help: "外部API呼び出しの連携・結果別の合計数",
		}, []string{"integration", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invisibilled_upstream_latency_seconds",
			Help:    "外部API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"integration"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.invoicesCreated,
		c.invoicesOverdue,
		c.upstreamCalls,
		c.upstreamLatency,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordInvoiceCreated は請求書の作成を記録する。
func (c *Collector) RecordInvoiceCreated() {
	c.invoicesCreated.Inc()
}

// RecordInvoicesMarkedOverdue は期限超過に更新された請求書数を記録する。
func (c *Collector) RecordInvoicesMarkedOverdue(count int64) {
	c.invoicesOverdue.Add(float64(count))
}

// RecordUpstreamCall は外部API呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordUpstreamCall(integration, outcome string, duration time.Duration) {
	c.upstreamCalls.WithLabelValues(integration, outcome).Inc()
	c.upstreamLatency.WithLabelValues(integration).Observe(duration.Seconds())
}

// Middleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func Middleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			c.RecordHTTPStatus(status)
		})
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。
// メトリクスを公開しないコマンドやテストで使用する。
type NopCollector struct{}

func (NopCollector) RecordHTTPStatus(int)                             {}
func (NopCollector) RecordInvoiceCreated()                            {}
func (NopCollector) RecordInvoicesMarkedOverdue(int64)                {}
func (NopCollector) RecordUpstreamCall(string, string, time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
