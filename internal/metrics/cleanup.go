package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CleanupRecorder は期限切れセッション削除ジョブのメトリクス収集インターフェース。
type CleanupRecorder interface {
	RecordSessionCleanup(deleted int64, duration time.Duration, err error)
}

// CleanupCollector は削除ジョブのPrometheusメトリクスを収集する実装。
// ワーカーのレジストリに登録して公開する。
type CleanupCollector struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// NewCleanupCollector は新しいCleanupCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCleanupCollector(reg prometheus.Registerer) *CleanupCollector {
	c := &CleanupCollector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevent_session_cleanup_runs_total",
			Help: "結果別のセッション削除ジョブ実行数",
		}, []string{"outcome"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deevent_session_cleanup_deleted_total",
			Help: "削除した期限切れセッション値の合計数",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deevent_session_cleanup_duration_seconds",
			Help:    "セッション削除ジョブの実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deevent_session_cleanup_last_success_timestamp_seconds",
			Help: "最後に成功したセッション削除ジョブのUNIX時刻",
		}),
	}

	reg.MustRegister(c.runs, c.deleted, c.duration, c.lastSuccess)

	return c
}

// RecordSessionCleanup は削除ジョブ1回分の結果を記録する。
func (c *CleanupCollector) RecordSessionCleanup(deleted int64, duration time.Duration, err error) {
	c.duration.Observe(duration.Seconds())
	if err != nil {
		c.runs.WithLabelValues(OutcomeFailure).Inc()
		return
	}
	c.runs.WithLabelValues(OutcomeSuccess).Inc()
	c.deleted.Add(float64(deleted))
	c.lastSuccess.SetToCurrentTime()
}

func (Nop) RecordSessionCleanup(int64, time.Duration, error) {}

// compile-time interface check
var (
	_ CleanupRecorder = (*CleanupCollector)(nil)
	_ CleanupRecorder = Nop{}
)
