package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/invisibilled/internal/billing"
	"github.com/hitoshi/invisibilled/internal/model"
)

// InvoiceServiceInterface は請求書ハンドラーが必要とするサービスインターフェース。
type InvoiceServiceInterface interface {
	ListInvoices(ctx context.Context) ([]*model.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*billing.InvoiceDetail, error)
	// CreateInvoice は請求書を作成し、指定された作業記録を紐付ける。
	CreateInvoice(ctx context.Context, in billing.CreateInvoiceInput) (*model.InvoiceWithEntries, error)
	MarkPaid(ctx context.Context, id string) (*model.Invoice, error)
	MarkUnpaid(ctx context.Context, id string) (*model.Invoice, error)
	// DeleteInvoice は紐付けを解除してから請求書を削除する。
	DeleteInvoice(ctx context.Context, id string) error
}

// InvoiceHandler は請求書管理のHTTPハンドラー。
type InvoiceHandler struct {
	service InvoiceServiceInterface
}

// NewInvoiceHandler はInvoiceHandlerを生成する。
func NewInvoiceHandler(service InvoiceServiceInterface) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

// ListInvoices は請求書一覧を作成日時の降順で返す。
// GET /invoices
func (h *InvoiceHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListInvoices(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponses(invoices))
}

// GetInvoice は請求書詳細を返す。
// GET /invoices/{id}
func (h *InvoiceHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDetailResponse(detail))
}

// CreateInvoice は請求書を作成する。
// POST /invoices
func (h *InvoiceHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var in billing.CreateInvoiceInput
	if !decodeJSON(w, r, &in) {
		return
	}

	inv, err := h.service.CreateInvoice(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreatedInvoiceResponse(inv))
}

// MarkPaid は請求書を支払い済みにする。
// PATCH /invoices/{id}/pay
func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// MarkUnpaid は請求書を未払いに戻す。
// PATCH /invoices/{id}/unpay
func (h *InvoiceHandler) MarkUnpaid(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.MarkUnpaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// DeleteInvoice は請求書を削除する。
// DELETE /invoices/{id}
func (h *InvoiceHandler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteInvoice(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// compile-time interface check
var _ InvoiceServiceInterface = (*billing.InvoiceService)(nil)
