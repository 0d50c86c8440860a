package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/invisibilled/internal/billing"
	"github.com/hitoshi/invisibilled/internal/integration"
	"github.com/hitoshi/invisibilled/internal/middleware"
	"github.com/hitoshi/invisibilled/internal/model"
)

// --- モック定義 ---

// mockInvoiceService はInvoiceServiceInterfaceのモック実装。
type mockInvoiceService struct {
	listFn       func(ctx context.Context) ([]*model.Invoice, error)
	getFn        func(ctx context.Context, id string) (*billing.InvoiceDetail, error)
	createFn     func(ctx context.Context, in billing.CreateInvoiceInput) (*model.InvoiceWithEntries, error)
	markPaidFn   func(ctx context.Context, id string) (*model.Invoice, error)
	markUnpaidFn func(ctx context.Context, id string) (*model.Invoice, error)
	deleteFn     func(ctx context.Context, id string) error
}

func (m *mockInvoiceService) ListInvoices(ctx context.Context) ([]*model.Invoice, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockInvoiceService) GetInvoice(ctx context.Context, id string) (*billing.InvoiceDetail, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewInvoiceNotFoundError(id)
}

func (m *mockInvoiceService) CreateInvoice(ctx context.Context, in billing.CreateInvoiceInput) (*model.InvoiceWithEntries, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return nil, nil
}

func (m *mockInvoiceService) MarkPaid(ctx context.Context, id string) (*model.Invoice, error) {
	if m.markPaidFn != nil {
		return m.markPaidFn(ctx, id)
	}
	return nil, nil
}

func (m *mockInvoiceService) MarkUnpaid(ctx context.Context, id string) (*model.Invoice, error) {
	if m.markUnpaidFn != nil {
		return m.markUnpaidFn(ctx, id)
	}
	return nil, nil
}

func (m *mockInvoiceService) DeleteInvoice(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockTimeEntryService はTimeEntryServiceInterfaceのモック実装。
type mockTimeEntryService struct {
	listFn     func(ctx context.Context) ([]model.TimeEntryWithInvoice, error)
	unbilledFn func(ctx context.Context) ([]*model.TimeEntry, error)
	reportFn   func(ctx context.Context) (*billing.UnbilledReport, error)
	createFn   func(ctx context.Context, in billing.CreateTimeEntryInput) (*model.TimeEntry, error)
	updateFn   func(ctx context.Context, id string, in billing.UpdateTimeEntryInput) (*model.TimeEntry, error)
	deleteFn   func(ctx context.Context, id string) error
}

func (m *mockTimeEntryService) ListTimeEntries(ctx context.Context) ([]model.TimeEntryWithInvoice, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockTimeEntryService) ListUnbilled(ctx context.Context) ([]*model.TimeEntry, error) {
	if m.unbilledFn != nil {
		return m.unbilledFn(ctx)
	}
	return nil, nil
}

func (m *mockTimeEntryService) UnbilledReport(ctx context.Context) (*billing.UnbilledReport, error) {
	if m.reportFn != nil {
		return m.reportFn(ctx)
	}
	return &billing.UnbilledReport{}, nil
}

func (m *mockTimeEntryService) CreateTimeEntry(ctx context.Context, in billing.CreateTimeEntryInput) (*model.TimeEntry, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return nil, nil
}

func (m *mockTimeEntryService) UpdateTimeEntry(ctx context.Context, id string, in billing.UpdateTimeEntryInput) (*model.TimeEntry, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return nil, nil
}

func (m *mockTimeEntryService) DeleteTimeEntry(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockIntegrationService はIntegrationServiceInterfaceのモック実装。
type mockIntegrationService struct {
	authCodeURLFn func(integ model.Integration, state string) (string, error)
	completeFn    func(ctx context.Context, userID string, integ model.Integration, code, realmID string) (*model.Connection, error)
	listStatusFn  func(ctx context.Context, userID string) ([]integration.ConnectionStatus, error)
	disconnectFn  func(ctx context.Context, userID string, integ model.Integration) error
	relayFn       func(ctx context.Context, op, userID string, args ...string) (json.RawMessage, error)
}

func (m *mockIntegrationService) AuthCodeURL(integ model.Integration, state string) (string, error) {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(integ, state)
	}
	return "https://vendor.example.com/authorize?state=" + state, nil
}

func (m *mockIntegrationService) CompleteAuthorization(ctx context.Context, userID string, integ model.Integration, code, realmID string) (*model.Connection, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, userID, integ, code, realmID)
	}
	return &model.Connection{Integration: integ, UserID: userID}, nil
}

func (m *mockIntegrationService) ListStatus(ctx context.Context, userID string) ([]integration.ConnectionStatus, error) {
	if m.listStatusFn != nil {
		return m.listStatusFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockIntegrationService) Disconnect(ctx context.Context, userID string, integ model.Integration) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, userID, integ)
	}
	return nil
}

func (m *mockIntegrationService) relay(ctx context.Context, op, userID string, args ...string) (json.RawMessage, error) {
	if m.relayFn != nil {
		return m.relayFn(ctx, op, userID, args...)
	}
	return json.RawMessage(`{"op":"` + op + `"}`), nil
}

func (m *mockIntegrationService) TogglTimeEntries(ctx context.Context, userID, startDate, endDate string) (json.RawMessage, error) {
	return m.relay(ctx, "toggl.time_entries", userID, startDate, endDate)
}

func (m *mockIntegrationService) TogglProjects(ctx context.Context, userID string) (json.RawMessage, error) {
	return m.relay(ctx, "toggl.projects", userID)
}

func (m *mockIntegrationService) AsanaWorkspaces(ctx context.Context, userID string) (json.RawMessage, error) {
	return m.relay(ctx, "asana.workspaces", userID)
}

func (m *mockIntegrationService) AsanaTasks(ctx context.Context, userID, project string) (json.RawMessage, error) {
	return m.relay(ctx, "asana.tasks", userID, project)
}

func (m *mockIntegrationService) QuickBooksCompany(ctx context.Context, userID string) (json.RawMessage, error) {
	return m.relay(ctx, "quickbooks.company", userID)
}

func (m *mockIntegrationService) QuickBooksInvoices(ctx context.Context, userID string) (json.RawMessage, error) {
	return m.relay(ctx, "quickbooks.invoices", userID)
}

// --- テストヘルパー ---

// withIdentity はテスト用にリクエストコンテキストに認証済みユーザーを注入するヘルパー。
func withIdentity(r *http.Request, userID string, role model.Role) *http.Request {
	ctx := middleware.ContextWithIdentity(r.Context(), &model.Identity{
		UserID: userID,
		Email:  userID + "@example.com",
		Role:   role,
		Source: model.CredentialSourceHeader,
	})
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseErrorBody はレスポンスボディから統一エラーフォーマットをパースするヘルパー。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

func strPtr(s string) *string { return &s }
