package billing

import (
	"context"
	"fmt"

	"github.com/hitoshi/invisibilled/internal/model"
)

// UnbilledReportItem は未請求の作業記録1件と、その提案請求額。
type UnbilledReportItem struct {
	Entry                  *model.TimeEntry
	SuggestedAmount        float64
	SuggestedInvoiceAmount string // "300.00 EUR"
	Recommendation         string
}

// UnbilledReport は未請求の作業記録の一覧と合計。
type UnbilledReport struct {
	Items          []UnbilledReportItem
	TotalHours     float64
	TotalAmount    float64
	TotalFormatted string
	HourlyRate     float64
	Currency       string
}

// UnbilledReport は未請求の作業記録ごとに、時間単価から算出した請求額の提案を返す。
// 算出結果は表示用であり、永続化しない。
func (s *TimeEntryService) UnbilledReport(ctx context.Context) (*UnbilledReport, error) {
	entries, err := s.entryRepo.ListUnbilled(ctx)
	if err != nil {
		return nil, fmt.Errorf("未請求の作業記録の取得に失敗しました: %w", err)
	}

	report := &UnbilledReport{
		Items:      make([]UnbilledReportItem, len(entries)),
		HourlyRate: s.pricing.HourlyRate,
		Currency:   s.pricing.Currency,
	}
	for i, e := range entries {
		amount := s.pricing.Amount(e.Duration)
		report.Items[i] = UnbilledReportItem{
			Entry:                  e,
			SuggestedAmount:        amount,
			SuggestedInvoiceAmount: s.pricing.Format(amount),
			Recommendation: fmt.Sprintf("Time entry %q on %s has not been invoiced yet. Consider creating an invoice of about %s.",
				e.Description, e.Date.Format(dateLayout), s.pricing.Format(amount)),
		}
		report.TotalHours += e.Duration
		report.TotalAmount += amount
	}
	report.TotalFormatted = s.pricing.Format(report.TotalAmount)
	return report, nil
}
