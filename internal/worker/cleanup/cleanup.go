// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのセッションと確認コードを削除し、未解決の孤立アカウントを報告する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CodePurger は期限切れの確認コードを削除する。codestore.Storeが満たす。
type CodePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// OrphanLister は未解決の孤立アカウントを取得する。
type OrphanLister interface {
	ListUnresolved(ctx context.Context, limit int) ([]*model.OrphanedAccount, error)
}

// DeletedRecorder は削除件数をメトリクスに記録する。
type DeletedRecorder interface {
	RecordCleanupDeleted(target string, count int64)
}

// 削除対象のラベル
const (
	TargetSessions = "sessions"
	TargetCodes    = "verification_codes"
)

// CleanupJob は期限切れデータの定期削除ジョブ。
// 冪等であり、削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	db      Executor
	codes   CodePurger
	orphans OrphanLister
	metrics DeletedRecorder
	logger  *slog.Logger

	OrphanReportLimit int // 1回の実行で報告する孤立アカウントの上限（デフォルト: 100）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// codes、orphans、metricsはnilの場合その処理を行わない。
func NewCleanupJob(db Executor, codes CodePurger, orphans OrphanLister, metrics DeletedRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                db,
		codes:             codes,
		orphans:           orphans,
		metrics:           metrics,
		logger:            logger,
		OrphanReportLimit: 100,
	}
}

// Run は期限切れセッションと確認コードを削除し、未解決の孤立アカウントをログに出力する。
// 1つの処理が失敗しても残りの処理は継続し、発生したエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var errs []error
	var sessionsDeleted, codesDeleted int64

	n, err := j.deleteExpiredSessions(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		sessionsDeleted = n
		j.record(TargetSessions, n)
	}

	if j.codes != nil {
		n, err := j.codes.PurgeExpired(ctx)
		if err != nil {
			j.logger.Error("確認コードのクリーンアップに失敗しました",
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("確認コードの削除に失敗: %w", err))
		} else {
			codesDeleted = n
			j.record(TargetCodes, n)
		}
	}

	if j.orphans != nil {
		if err := j.reportOrphans(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("sessions_deleted", sessionsDeleted),
		slog.Int64("codes_deleted", codesDeleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return errors.Join(errs...)
}

func (j *CleanupJob) deleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}

// reportOrphans は未解決の孤立アカウントを1件ずつ警告ログに出力する。
// 削除や紐付けは行わず、運用者による照合に委ねる。
func (j *CleanupJob) reportOrphans(ctx context.Context) error {
	orphans, err := j.orphans.ListUnresolved(ctx, j.OrphanReportLimit)
	if err != nil {
		j.logger.Error("孤立アカウントの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("孤立アカウントの取得に失敗: %w", err)
	}

	for _, o := range orphans {
		j.logger.Warn("未解決の孤立アカウントがあります",
			slog.String("orphan_id", o.ID),
			slog.String("account_id", o.AccountID),
			slog.String("clinic_id", o.ClinicID),
			slog.String("reason", string(o.Reason)),
			slog.Time("created_at", o.CreatedAt),
		)
	}
	return nil
}

func (j *CleanupJob) record(target string, n int64) {
	if j.metrics != nil {
		j.metrics.RecordCleanupDeleted(target, n)
	}
}

// RunEvery はintervalごとにRunを実行し、ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (j *CleanupJob) RunEvery(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}
