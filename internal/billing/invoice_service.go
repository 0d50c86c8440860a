package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/invisibilled/internal/metrics"
	"github.com/hitoshi/invisibilled/internal/model"
	"github.com/hitoshi/invisibilled/internal/repository"
	"github.com/hitoshi/invisibilled/internal/security"
)

// Pricing は作業時間から提案金額を算出するための単価設定。
type Pricing struct {
	HourlyRate float64
	Currency   string
}

// Amount は作業時間に対する提案金額を返す。
func (p Pricing) Amount(hours float64) float64 {
	return hours * p.HourlyRate
}

// Format は金額を"123.45 EUR"形式に整形する。
func (p Pricing) Format(amount float64) string {
	return fmt.Sprintf("%.2f %s", amount, p.Currency)
}

// CreateInvoiceInput は請求書作成の入力。
type CreateInvoiceInput struct {
	Client       string   `json:"client" validate:"required,max=255"`
	Amount       float64  `json:"amount" validate:"gt=0,lt=10000000000"`
	TimeEntryIDs []string `json:"timeEntryIds" validate:"omitempty,dive,required"`
}

// InvoiceDetail は請求書と紐付く作業記録、および参考値としての提案金額。
// SuggestedAmountは表示用の計算値であり、永続化しない。
type InvoiceDetail struct {
	model.InvoiceWithEntries
	TotalHours      float64
	SuggestedAmount float64
}

// InvoiceService は請求書のサービス層。
type InvoiceService struct {
	invoiceRepo repository.InvoiceRepository
	entryRepo   repository.TimeEntryRepository
	sanitizer   security.TextSanitizerService
	metrics     metrics.MetricsCollector
	pricing     Pricing
	now         func() time.Time
}

// NewInvoiceService はInvoiceServiceの新しいインスタンスを生成する。
func NewInvoiceService(
	invoiceRepo repository.InvoiceRepository,
	entryRepo repository.TimeEntryRepository,
	sanitizer security.TextSanitizerService,
	collector metrics.MetricsCollector,
	pricing Pricing,
) *InvoiceService {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &InvoiceService{
		invoiceRepo: invoiceRepo,
		entryRepo:   entryRepo,
		sanitizer:   sanitizer,
		metrics:     collector,
		pricing:     pricing,
		now:         time.Now,
	}
}

// ListInvoices は全請求書を作成日時の降順で返す。
func (s *InvoiceService) ListInvoices(ctx context.Context) ([]*model.Invoice, error) {
	invoices, err := s.invoiceRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("請求書一覧の取得に失敗しました: %w", err)
	}
	return invoices, nil
}

// GetInvoice は請求書を紐付く作業記録付きで返す。
func (s *InvoiceService) GetInvoice(ctx context.Context, id string) (*InvoiceDetail, error) {
	inv, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("請求書の取得に失敗しました: %w", err)
	}
	if inv == nil {
		return nil, model.NewInvoiceNotFoundError(id)
	}

	entries, err := s.entryRepo.ListByInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("作業記録の取得に失敗しました: %w", err)
	}

	var hours float64
	for _, e := range entries {
		hours += e.Duration
	}
	return &InvoiceDetail{
		InvoiceWithEntries: model.InvoiceWithEntries{Invoice: *inv, Entries: entries},
		TotalHours:         hours,
		SuggestedAmount:    s.pricing.Amount(hours),
	}, nil
}

// CreateInvoice は請求書を未払い状態で作成し、指定された未請求の作業記録を紐付ける。
// 存在しない、またはすでに請求済みの作業記録が含まれる場合はValidationErrorを返す。
func (s *InvoiceService) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*model.InvoiceWithEntries, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	client := s.sanitizer.Sanitize(in.Client)
	if client == "" {
		return nil, model.NewValidationError(map[string]string{"client": "is required"})
	}

	ids := uniqueIDs(in.TimeEntryIDs)
	entries, err := s.checkLinkable(ctx, ids)
	if err != nil {
		return nil, err
	}

	inv := &model.Invoice{
		ID:        uuid.New().String(),
		Client:    client,
		Amount:    in.Amount,
		Status:    model.InvoiceStatusUnpaid,
		CreatedAt: s.now().UTC(),
	}
	if err := s.invoiceRepo.CreateWithEntries(ctx, inv, ids); err != nil {
		if errors.Is(err, repository.ErrEntriesNotLinkable) {
			// 確認後に別の請求書へ紐付けられた場合
			return nil, model.NewValidationError(map[string]string{
				"timeEntryIds": "contains time entries that were invoiced concurrently",
			})
		}
		return nil, fmt.Errorf("請求書の作成に失敗しました: %w", err)
	}
	s.metrics.RecordInvoiceCreated()

	for _, e := range entries {
		id := inv.ID
		e.InvoiceID = &id
	}
	return &model.InvoiceWithEntries{Invoice: *inv, Entries: entries}, nil
}

// checkLinkable は作業記録がすべて存在し、未請求であることを確認する。
func (s *InvoiceService) checkLinkable(ctx context.Context, ids []string) ([]*model.TimeEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entries, err := s.entryRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("作業記録の取得に失敗しました: %w", err)
	}

	found := make(map[string]*model.TimeEntry, len(entries))
	for _, e := range entries {
		found[e.ID] = e
	}
	var missing, billed []string
	for _, id := range ids {
		e, ok := found[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case e.IsBilled():
			billed = append(billed, id)
		}
	}
	switch {
	case len(missing) > 0:
		return nil, model.NewValidationError(map[string]string{
			"timeEntryIds": "unknown time entries: " + strings.Join(missing, ", "),
		})
	case len(billed) > 0:
		return nil, model.NewValidationError(map[string]string{
			"timeEntryIds": "already invoiced: " + strings.Join(billed, ", "),
		})
	}

	// 入力順で返す
	ordered := make([]*model.TimeEntry, len(ids))
	for i, id := range ids {
		ordered[i] = found[id]
	}
	return ordered, nil
}

// MarkPaid は請求書を支払い済みにする。すでに支払い済みでも成功する。
func (s *InvoiceService) MarkPaid(ctx context.Context, id string) (*model.Invoice, error) {
	return s.setStatus(ctx, id, model.InvoiceStatusPaid)
}

// MarkUnpaid は請求書を未払いに戻す。
func (s *InvoiceService) MarkUnpaid(ctx context.Context, id string) (*model.Invoice, error) {
	return s.setStatus(ctx, id, model.InvoiceStatusUnpaid)
}

func (s *InvoiceService) setStatus(ctx context.Context, id string, status model.InvoiceStatus) (*model.Invoice, error) {
	if err := s.invoiceRepo.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewInvoiceNotFoundError(id)
		}
		return nil, fmt.Errorf("請求書ステータスの更新に失敗しました: %w", err)
	}

	inv, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("請求書の再取得に失敗しました: %w", err)
	}
	if inv == nil {
		return nil, model.NewInvoiceNotFoundError(id)
	}
	return inv, nil
}

// DeleteInvoice は紐付く作業記録を未請求に戻してから請求書を削除する。
func (s *InvoiceService) DeleteInvoice(ctx context.Context, id string) error {
	if err := s.invoiceRepo.DeleteAndUnlink(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewInvoiceNotFoundError(id)
		}
		return fmt.Errorf("請求書の削除に失敗しました: %w", err)
	}
	return nil
}

// uniqueIDs は空白を除去し、重複を取り除いたID一覧を入力順で返す。
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
