// Package overdue は支払期限を過ぎた請求書をoverdueに更新する定期ジョブを提供する。
// 作成からDueDays日を超えて未払いのままの請求書が対象。paidの請求書は変更しない。
package overdue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/invisibilled/internal/metrics"
)

// InvoiceMarker は期限切れ請求書の一括更新を抽象化するインターフェース。
// repository.InvoiceRepository が満たす。
type InvoiceMarker interface {
	MarkOverdue(ctx context.Context, before time.Time) (int64, error)
}

// Job は未払い請求書の期限切れ判定ジョブ。
// 更新済みの請求書は対象外となるため、何度実行しても結果は変わらない。
type Job struct {
	invoices InvoiceMarker
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
	DueDays  int // 支払期限（日数、デフォルト: 30）
}

// NewJob は新しいJobを生成する。
func NewJob(invoices InvoiceMarker, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Job{
		invoices: invoices,
		metrics:  collector,
		logger:   logger,
		now:      time.Now,
		DueDays:  30,
	}
}

// Run は作成日時がDueDays日前より古い未払い請求書をoverdueに更新する。
func (j *Job) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.DueDays)

	marked, err := j.invoices.MarkOverdue(ctx, cutoff)
	if err != nil {
		j.logger.Error("期限切れ請求書の更新に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("due_days", j.DueDays),
		)
		return fmt.Errorf("期限切れ請求書の更新に失敗: %w", err)
	}
	j.metrics.RecordInvoicesMarkedOverdue(marked)

	j.logger.Info("期限切れ請求書の更新が完了しました",
		slog.Int64("marked_count", marked),
		slog.Int("due_days", j.DueDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに記録して継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("overdue job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("overdue job failed", slog.String("error", err.Error()))
			}
		}
	}
}
