// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、ミドルウェア、APIクライアントから利用する。
type MetricsCollector interface {
	RecordLoginAttempt(outcome string)
	RecordRegistration(outcome string)
	RecordWizardTransition(step int, transition string)
	RecordUpstreamCall(endpoint string, statusCode int, duration time.Duration)
	RecordBreakerState(name string, state int)
	RecordGuardRedirect()
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginAttempts     *prometheus.CounterVec
	registrations     *prometheus.CounterVec
	wizardTransitions *prometheus.CounterVec
	upstreamStatus    *prometheus.CounterVec
	upstreamLatency   *prometheus.HistogramVec
	breakerState      *prometheus.GaugeVec
	guardRedirects    prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevent_login_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevent_registrations_total",
			Help: "結果別の登録送信数",
		}, []string{"outcome"}),
		wizardTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevent_wizard_transitions_total",
			Help: "ステップと遷移種別ごとの登録ウィザード遷移数",
		}, []string{"step", "transition"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevent_upstream_requests_total",
			Help: "エンドポイントとステータスコード別のAPI呼び出し数",
		}, []string{"endpoint", "status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deevent_upstream_latency_seconds",
			Help:    "API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deevent_circuit_breaker_state",
			Help: "サーキットブレーカーの状態（0=closed, 1=half-open, 2=open）",
		}, []string{"name"}),
		guardRedirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deevent_guard_redirects_total",
			Help: "未ログインのためログイン画面へリダイレクトした数",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevent_http_requests_total",
			Help: "メソッド、ルート、ステータス別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deevent_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.loginAttempts,
		c.registrations,
		c.wizardTransitions,
		c.upstreamStatus,
		c.upstreamLatency,
		c.breakerState,
		c.guardRedirects,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordLoginAttempt はログイン試行を記録する。
func (c *Collector) RecordLoginAttempt(outcome string) {
	c.loginAttempts.WithLabelValues(outcome).Inc()
}

// RecordRegistration は登録送信を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordWizardTransition はウィザードの遷移を記録する。
func (c *Collector) RecordWizardTransition(step int, transition string) {
	c.wizardTransitions.WithLabelValues(strconv.Itoa(step), transition).Inc()
}

// RecordUpstreamCall はAPI呼び出しのステータスとレイテンシを記録する。
// レスポンスが得られなかった場合、statusCodeは0で "error" として記録する。
func (c *Collector) RecordUpstreamCall(endpoint string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	c.upstreamStatus.WithLabelValues(endpoint, status).Inc()
	c.upstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBreakerState はサーキットブレーカーの状態を記録する。
func (c *Collector) RecordBreakerState(name string, state int) {
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordGuardRedirect はルートガードによるリダイレクトを記録する。
func (c *Collector) RecordGuardRedirect() {
	c.guardRedirects.Inc()
}

// RecordHTTPRequest はHTTPリクエストを記録する。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLoginAttempt(string)                            {}
func (Nop) RecordRegistration(string)                            {}
func (Nop) RecordWizardTransition(int, string)                   {}
func (Nop) RecordUpstreamCall(string, int, time.Duration)        {}
func (Nop) RecordBreakerState(string, int)                       {}
func (Nop) RecordGuardRedirect()                                 {}
func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
