package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/invisibilled/internal/billing"
	"github.com/hitoshi/invisibilled/internal/model"
)

// TimeEntryServiceInterface は作業記録ハンドラーが必要とするサービスインターフェース。
type TimeEntryServiceInterface interface {
	ListTimeEntries(ctx context.Context) ([]model.TimeEntryWithInvoice, error)
	ListUnbilled(ctx context.Context) ([]*model.TimeEntry, error)
	UnbilledReport(ctx context.Context) (*billing.UnbilledReport, error)
	CreateTimeEntry(ctx context.Context, in billing.CreateTimeEntryInput) (*model.TimeEntry, error)
	UpdateTimeEntry(ctx context.Context, id string, in billing.UpdateTimeEntryInput) (*model.TimeEntry, error)
	DeleteTimeEntry(ctx context.Context, id string) error
}

// TimeEntryHandler は作業記録のHTTPハンドラー。
type TimeEntryHandler struct {
	service TimeEntryServiceInterface
}

// NewTimeEntryHandler はTimeEntryHandlerを生成する。
func NewTimeEntryHandler(service TimeEntryServiceInterface) *TimeEntryHandler {
	return &TimeEntryHandler{service: service}
}

// ListTimeEntries は作業記録一覧を日付の降順で返す。紐付く請求書の概要を含む。
// GET /time-entries
func (h *TimeEntryHandler) ListTimeEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListTimeEntries(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimeEntryWithInvoiceResponses(entries))
}

// ListUnbilled は未請求の作業記録を返す。
// GET /unbilled
func (h *TimeEntryHandler) ListUnbilled(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListUnbilled(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimeEntryResponses(entries))
}

// UnbilledReport は未請求の作業記録と提案金額を返す。
// GET /unbilled-report
func (h *TimeEntryHandler) UnbilledReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.UnbilledReport(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnbilledReportResponse(report))
}

// CreateTimeEntry は作業記録を作成する。
// POST /time-entries
func (h *TimeEntryHandler) CreateTimeEntry(w http.ResponseWriter, r *http.Request) {
	var in billing.CreateTimeEntryInput
	if !decodeJSON(w, r, &in) {
		return
	}

	entry, err := h.service.CreateTimeEntry(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTimeEntryResponse(entry))
}

// UpdateTimeEntry は作業記録を部分更新する。
// PATCH /time-entries/{id}
func (h *TimeEntryHandler) UpdateTimeEntry(w http.ResponseWriter, r *http.Request) {
	var in billing.UpdateTimeEntryInput
	if !decodeJSON(w, r, &in) {
		return
	}

	entry, err := h.service.UpdateTimeEntry(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimeEntryResponse(entry))
}

// DeleteTimeEntry は作業記録を削除する。
// DELETE /time-entries/{id}
func (h *TimeEntryHandler) DeleteTimeEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteTimeEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var _ TimeEntryServiceInterface = (*billing.TimeEntryService)(nil)
