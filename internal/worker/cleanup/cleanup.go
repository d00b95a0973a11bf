// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 有効期限から保持期間（デフォルト7日）を過ぎたセッションを削除する。
// 保持期間中のセッションはSESSION_EXPIREDの判定に使われるため残しておく。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は期限切れセッションを残しておくデフォルト期間。
const DefaultRetention = 7 * 24 * time.Hour

// SessionPurger は期限切れセッションの一括削除を抽象化するインターフェース。
// PostgresSessionRepoとRedisSessionRepoの両方が満たす。
type SessionPurger interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeRecorder は削除件数を記録するインターフェース。
type PurgeRecorder interface {
	RecordSessionsPurged(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等で、削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	purger    SessionPurger
	recorder  PurgeRecorder
	logger    *slog.Logger
	Retention time.Duration
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(purger SessionPurger, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		purger:    purger,
		recorder:  recorder,
		logger:    logger,
		Retention: DefaultRetention,
		now:       time.Now,
	}
}

// Run はexpires_atが (現在時刻 - Retention) より前のセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().Add(-j.Retention)

	deleted, err := j.purger.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
		)
		return fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deleted)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回Runを実行し、その後interval毎に繰り返す。
// ctxがキャンセルされるまでブロックする。個々の失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
