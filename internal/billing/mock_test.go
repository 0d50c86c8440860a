package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/invisibilled/internal/model"
)

// --- モック ---

type mockInvoiceRepo struct {
	listFn              func(ctx context.Context) ([]*model.Invoice, error)
	findByIDFn          func(ctx context.Context, id string) (*model.Invoice, error)
	createWithEntriesFn func(ctx context.Context, inv *model.Invoice, entryIDs []string) error
	updateStatusFn      func(ctx context.Context, id string, status model.InvoiceStatus) error
	deleteAndUnlinkFn   func(ctx context.Context, id string) error
}

func (m *mockInvoiceRepo) List(ctx context.Context) ([]*model.Invoice, error) {
	return m.listFn(ctx)
}
func (m *mockInvoiceRepo) FindByID(ctx context.Context, id string) (*model.Invoice, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockInvoiceRepo) CreateWithEntries(ctx context.Context, inv *model.Invoice, entryIDs []string) error {
	if m.createWithEntriesFn != nil {
		return m.createWithEntriesFn(ctx, inv, entryIDs)
	}
	return nil
}
func (m *mockInvoiceRepo) UpdateStatus(ctx context.Context, id string, status model.InvoiceStatus) error {
	return m.updateStatusFn(ctx, id, status)
}
func (m *mockInvoiceRepo) DeleteAndUnlink(ctx context.Context, id string) error {
	return m.deleteAndUnlinkFn(ctx, id)
}
func (m *mockInvoiceRepo) MarkOverdue(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type mockTimeEntryRepo struct {
	listWithInvoiceFn func(ctx context.Context) ([]model.TimeEntryWithInvoice, error)
	listUnbilledFn    func(ctx context.Context) ([]*model.TimeEntry, error)
	listByInvoiceFn   func(ctx context.Context, invoiceID string) ([]*model.TimeEntry, error)
	findByIDFn        func(ctx context.Context, id string) (*model.TimeEntry, error)
	findByIDsFn       func(ctx context.Context, ids []string) ([]*model.TimeEntry, error)
	createFn          func(ctx context.Context, e *model.TimeEntry) error
	updateFn          func(ctx context.Context, e *model.TimeEntry) error
	deleteFn          func(ctx context.Context, id string) error
}

func (m *mockTimeEntryRepo) ListWithInvoice(ctx context.Context) ([]model.TimeEntryWithInvoice, error) {
	return m.listWithInvoiceFn(ctx)
}
func (m *mockTimeEntryRepo) ListUnbilled(ctx context.Context) ([]*model.TimeEntry, error) {
	return m.listUnbilledFn(ctx)
}
func (m *mockTimeEntryRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]*model.TimeEntry, error) {
	return m.listByInvoiceFn(ctx, invoiceID)
}
func (m *mockTimeEntryRepo) FindByID(ctx context.Context, id string) (*model.TimeEntry, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockTimeEntryRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.TimeEntry, error) {
	return m.findByIDsFn(ctx, ids)
}
func (m *mockTimeEntryRepo) Create(ctx context.Context, e *model.TimeEntry) error {
	if m.createFn != nil {
		return m.createFn(ctx, e)
	}
	return nil
}
func (m *mockTimeEntryRepo) Update(ctx context.Context, e *model.TimeEntry) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, e)
	}
	return nil
}
func (m *mockTimeEntryRepo) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

type mockCollector struct {
	invoicesCreated int
}

func (m *mockCollector) RecordHTTPStatus(int)                             {}
func (m *mockCollector) RecordInvoiceCreated()                            { m.invoicesCreated++ }
func (m *mockCollector) RecordInvoicesMarkedOverdue(int64)                {}
func (m *mockCollector) RecordUpstreamCall(string, string, time.Duration) {}

var testPricing = Pricing{HourlyRate: 150, Currency: "EUR"}

func strPtr(s string) *string { return &s }

// requireAPIError はerrがAPIErrorであり、指定コードを持つことを検証する。
func requireAPIError(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %q, want %q (%s)", apiErr.Code, code, apiErr.Message)
	}
	return apiErr
}

// invalidFields はValidationErrorの不正フィールド一覧を返す。
func invalidFields(t *testing.T, apiErr *model.APIError) map[string]any {
	t.Helper()
	fields, ok := apiErr.Details["fields"].(map[string]any)
	if !ok {
		t.Fatalf("details.fields missing: %v", apiErr.Details)
	}
	return fields
}
