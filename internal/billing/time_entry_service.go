package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/invisibilled/internal/model"
	"github.com/hitoshi/invisibilled/internal/repository"
	"github.com/hitoshi/invisibilled/internal/security"
)

// CreateTimeEntryInput は作業記録作成の入力。
// durationは時間単位で、1件あたり24時間まで。
type CreateTimeEntryInput struct {
	Description string  `json:"description" validate:"required,max=2000"`
	Duration    float64 `json:"duration" validate:"gt=0,lte=24"`
	Date        string  `json:"date" validate:"required"`
	InvoiceID   *string `json:"invoiceId"`
}

// UpdateTimeEntryInput は作業記録の部分更新の入力。
// 指定されなかったフィールドは変更しない。invoiceIdにnullを指定すると紐付けを解除する。
type UpdateTimeEntryInput struct {
	Description *string        `json:"description" validate:"omitnil,min=1,max=2000"`
	Duration    *float64       `json:"duration" validate:"omitnil,gt=0,lte=24"`
	Date        *string        `json:"date" validate:"omitnil,min=1"`
	InvoiceID   OptionalString `json:"invoiceId" validate:"-"`
}

// TimeEntryService は作業記録のサービス層。
type TimeEntryService struct {
	entryRepo   repository.TimeEntryRepository
	invoiceRepo repository.InvoiceRepository
	sanitizer   security.TextSanitizerService
	pricing     Pricing
	now         func() time.Time
}

// NewTimeEntryService はTimeEntryServiceの新しいインスタンスを生成する。
func NewTimeEntryService(
	entryRepo repository.TimeEntryRepository,
	invoiceRepo repository.InvoiceRepository,
	sanitizer security.TextSanitizerService,
	pricing Pricing,
) *TimeEntryService {
	return &TimeEntryService{
		entryRepo:   entryRepo,
		invoiceRepo: invoiceRepo,
		sanitizer:   sanitizer,
		pricing:     pricing,
		now:         time.Now,
	}
}

// ListTimeEntries は全作業記録を紐付く請求書の概要付きで返す。
func (s *TimeEntryService) ListTimeEntries(ctx context.Context) ([]model.TimeEntryWithInvoice, error) {
	entries, err := s.entryRepo.ListWithInvoice(ctx)
	if err != nil {
		return nil, fmt.Errorf("作業記録一覧の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// ListUnbilled は未請求の作業記録を日付の降順で返す。
func (s *TimeEntryService) ListUnbilled(ctx context.Context) ([]*model.TimeEntry, error) {
	entries, err := s.entryRepo.ListUnbilled(ctx)
	if err != nil {
		return nil, fmt.Errorf("未請求の作業記録の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// CreateTimeEntry は作業記録を作成する。
// invoiceIdが指定された場合、その請求書が存在しなければValidationErrorを返す。
func (s *TimeEntryService) CreateTimeEntry(ctx context.Context, in CreateTimeEntryInput) (*model.TimeEntry, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	invalid := make(map[string]string)
	description := s.sanitizer.Sanitize(in.Description)
	if description == "" {
		invalid["description"] = "is required"
	}
	date, err := parseDate(in.Date)
	if err != nil {
		invalid["date"] = "must be YYYY-MM-DD or RFC3339"
	}
	if len(invalid) > 0 {
		return nil, model.NewValidationError(invalid)
	}

	invoiceID, err := s.resolveInvoiceID(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := &model.TimeEntry{
		ID:          uuid.New().String(),
		Description: description,
		Duration:    in.Duration,
		Date:        date,
		InvoiceID:   invoiceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.entryRepo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("作業記録の作成に失敗しました: %w", err)
	}
	return entry, nil
}

// UpdateTimeEntry は作業記録を部分更新する。
func (s *TimeEntryService) UpdateTimeEntry(ctx context.Context, id string, in UpdateTimeEntryInput) (*model.TimeEntry, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	patch, err := s.toPatch(ctx, in)
	if err != nil {
		return nil, err
	}

	entry, err := s.entryRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("作業記録の取得に失敗しました: %w", err)
	}
	if entry == nil {
		return nil, model.NewTimeEntryNotFoundError(id)
	}

	applyPatch(entry, patch)
	entry.UpdatedAt = s.now().UTC()

	if err := s.entryRepo.Update(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewTimeEntryNotFoundError(id)
		}
		return nil, fmt.Errorf("作業記録の更新に失敗しました: %w", err)
	}
	return entry, nil
}

// toPatch は入力を検証済みのTimeEntryPatchに変換する。
func (s *TimeEntryService) toPatch(ctx context.Context, in UpdateTimeEntryInput) (*model.TimeEntryPatch, error) {
	patch := &model.TimeEntryPatch{Duration: in.Duration}
	invalid := make(map[string]string)

	if in.Description != nil {
		d := s.sanitizer.Sanitize(*in.Description)
		if d == "" {
			invalid["description"] = "must not be empty"
		}
		patch.Description = &d
	}
	if in.Date != nil {
		date, err := parseDate(*in.Date)
		if err != nil {
			invalid["date"] = "must be YYYY-MM-DD or RFC3339"
		}
		patch.Date = &date
	}
	if len(invalid) > 0 {
		return nil, model.NewValidationError(invalid)
	}

	if in.InvoiceID.Set {
		invoiceID, err := s.resolveInvoiceID(ctx, in.InvoiceID.Value)
		if err != nil {
			return nil, err
		}
		if invoiceID == nil {
			patch.UnlinkInvoice = true
		} else {
			patch.InvoiceID = invoiceID
		}
	}
	return patch, nil
}

func applyPatch(e *model.TimeEntry, p *model.TimeEntryPatch) {
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Duration != nil {
		e.Duration = *p.Duration
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	switch {
	case p.UnlinkInvoice:
		e.InvoiceID = nil
	case p.InvoiceID != nil:
		e.InvoiceID = p.InvoiceID
	}
}

// resolveInvoiceID は紐付け先の請求書が存在することを確認する。
// nilまたは空文字列の場合は紐付けなしとしてnilを返す。
func (s *TimeEntryService) resolveInvoiceID(ctx context.Context, raw *string) (*string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id := strings.TrimSpace(*raw)

	inv, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("請求書の取得に失敗しました: %w", err)
	}
	if inv == nil {
		return nil, model.NewValidationError(map[string]string{
			"invoiceId": "unknown invoice: " + id,
		})
	}
	return &id, nil
}

// DeleteTimeEntry は作業記録を削除する。
func (s *TimeEntryService) DeleteTimeEntry(ctx context.Context, id string) error {
	if err := s.entryRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewTimeEntryNotFoundError(id)
		}
		return fmt.Errorf("作業記録の削除に失敗しました: %w", err)
	}
	return nil
}
