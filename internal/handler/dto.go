package handler

import (
	"time"

	"github.com/hitoshi/invisibilled/internal/billing"
	"github.com/hitoshi/invisibilled/internal/integration"
	"github.com/hitoshi/invisibilled/internal/model"
)

const dateLayout = "2006-01-02"

// invoiceResponse は請求書のAPIレスポンス。
type invoiceResponse struct {
	ID        string    `json:"id"`
	Client    string    `json:"client"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// timeEntryResponse は作業記録のAPIレスポンス。
// invoiceIdは未請求の場合nullになる。
type timeEntryResponse struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Duration    float64          `json:"duration"`
	Date        string           `json:"date"`
	InvoiceID   *string          `json:"invoiceId"`
	Invoice     *invoiceResponse `json:"invoice,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// createdInvoiceResponse は請求書作成のレスポンス。
type createdInvoiceResponse struct {
	invoiceResponse
	TimeEntryIDs []string            `json:"timeEntryIds"`
	TimeEntries  []timeEntryResponse `json:"timeEntries"`
}

// invoiceDetailResponse は請求書詳細のレスポンス。
// suggestedAmountは参考値であり、amountとは独立している。
type invoiceDetailResponse struct {
	invoiceResponse
	TimeEntries     []timeEntryResponse `json:"timeEntries"`
	TotalHours      float64             `json:"totalHours"`
	SuggestedAmount float64             `json:"suggestedAmount"`
}

type unbilledReportItemResponse struct {
	timeEntryResponse
	SuggestedAmount        float64 `json:"suggestedAmount"`
	SuggestedInvoiceAmount string  `json:"suggestedInvoiceAmount"`
	Recommendation         string  `json:"recommendation"`
}

type unbilledReportResponse struct {
	Items       []unbilledReportItemResponse `json:"items"`
	TotalHours  float64                      `json:"totalHours"`
	TotalAmount float64                      `json:"totalAmount"`
	Total       string                       `json:"total"`
	HourlyRate  float64                      `json:"hourlyRate"`
	Currency    string                       `json:"currency"`
}

type connectionStatusResponse struct {
	Integration string     `json:"integration"`
	Enabled     bool       `json:"enabled"`
	Connected   bool       `json:"connected"`
	WorkspaceID string     `json:"workspaceId,omitempty"`
	RealmID     string     `json:"realmId,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Expired     bool       `json:"expired"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

type meResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// --- 変換 ---

func toInvoiceResponse(inv *model.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:        inv.ID,
		Client:    inv.Client,
		Amount:    inv.Amount,
		Status:    string(inv.Status),
		CreatedAt: inv.CreatedAt,
	}
}

func toInvoiceResponses(invoices []*model.Invoice) []invoiceResponse {
	out := make([]invoiceResponse, len(invoices))
	for i, inv := range invoices {
		out[i] = toInvoiceResponse(inv)
	}
	return out
}

func toTimeEntryResponse(e *model.TimeEntry) timeEntryResponse {
	return timeEntryResponse{
		ID:          e.ID,
		Description: e.Description,
		Duration:    e.Duration,
		Date:        e.Date.Format(dateLayout),
		InvoiceID:   e.InvoiceID,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func toTimeEntryResponses(entries []*model.TimeEntry) []timeEntryResponse {
	out := make([]timeEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = toTimeEntryResponse(e)
	}
	return out
}

func toTimeEntryWithInvoiceResponses(entries []model.TimeEntryWithInvoice) []timeEntryResponse {
	out := make([]timeEntryResponse, len(entries))
	for i := range entries {
		resp := toTimeEntryResponse(&entries[i].TimeEntry)
		if entries[i].Invoice != nil {
			inv := toInvoiceResponse(entries[i].Invoice)
			resp.Invoice = &inv
		}
		out[i] = resp
	}
	return out
}

func toCreatedInvoiceResponse(inv *model.InvoiceWithEntries) createdInvoiceResponse {
	ids := make([]string, len(inv.Entries))
	for i, e := range inv.Entries {
		ids[i] = e.ID
	}
	return createdInvoiceResponse{
		invoiceResponse: toInvoiceResponse(&inv.Invoice),
		TimeEntryIDs:    ids,
		TimeEntries:     toTimeEntryResponses(inv.Entries),
	}
}

func toInvoiceDetailResponse(d *billing.InvoiceDetail) invoiceDetailResponse {
	return invoiceDetailResponse{
		invoiceResponse: toInvoiceResponse(&d.Invoice),
		TimeEntries:     toTimeEntryResponses(d.Entries),
		TotalHours:      d.TotalHours,
		SuggestedAmount: d.SuggestedAmount,
	}
}

func toUnbilledReportResponse(r *billing.UnbilledReport) unbilledReportResponse {
	items := make([]unbilledReportItemResponse, len(r.Items))
	for i, it := range r.Items {
		items[i] = unbilledReportItemResponse{
			timeEntryResponse:      toTimeEntryResponse(it.Entry),
			SuggestedAmount:        it.SuggestedAmount,
			SuggestedInvoiceAmount: it.SuggestedInvoiceAmount,
			Recommendation:         it.Recommendation,
		}
	}
	return unbilledReportResponse{
		Items:       items,
		TotalHours:  r.TotalHours,
		TotalAmount: r.TotalAmount,
		Total:       r.TotalFormatted,
		HourlyRate:  r.HourlyRate,
		Currency:    r.Currency,
	}
}

func toConnectionStatusResponses(statuses []integration.ConnectionStatus) []connectionStatusResponse {
	out := make([]connectionStatusResponse, len(statuses))
	for i, st := range statuses {
		out[i] = connectionStatusResponse{
			Integration: string(st.Integration),
			Enabled:     st.Enabled,
			Connected:   st.Connected,
			WorkspaceID: st.WorkspaceID,
			RealmID:     st.RealmID,
			ExpiresAt:   st.ExpiresAt,
			Expired:     st.Expired,
			UpdatedAt:   st.UpdatedAt,
		}
	}
	return out
}
