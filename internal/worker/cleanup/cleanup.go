// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// PostgreSQLとメモリのセッションストアは期限切れの値を自分では消さないため、
// このジョブが一定間隔で掃除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/deevent/internal/metrics"
)

// Purger は期限切れセッションを削除し、削除件数を返すストア。
type Purger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
type CleanupJob struct {
	store    Purger
	logger   *slog.Logger
	Interval time.Duration           // 実行間隔（デフォルト: 1時間）
	Metrics  metrics.CleanupRecorder // 実行結果の記録先（デフォルト: 記録しない）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store Purger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		store:    store,
		logger:   logger,
		Interval: time.Hour,
		Metrics:  metrics.Nop{},
	}
}

// Run は期限切れセッションを1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.store.DeleteExpired(ctx)
	elapsed := time.Since(start)
	if j.Metrics != nil {
		j.Metrics.RecordSessionCleanup(deletedCount, elapsed, err)
	}
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	)
	return nil
}

// Start はctxがキャンセルされるまでInterval毎にRunを実行する。
// 起動直後に1回実行する。個々の実行エラーはログに残して継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
