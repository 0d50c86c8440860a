package model

import "time"

// TimeEntry は作業時間の記録を表す。
// InvoiceIDがnilの場合は未請求（unbilled）として扱う。
type TimeEntry struct {
	ID          string
	Description string
	Duration    float64 // 時間単位（正の実数）
	Date        time.Time
	InvoiceID   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsBilled はTimeEntryが請求書に紐付いているかを返す。
func (e *TimeEntry) IsBilled() bool {
	return e.InvoiceID != nil && *e.InvoiceID != ""
}

// TimeEntryWithInvoice はTimeEntryと紐付く請求書の概要を結合したモデル。
// time_entriesとinvoicesをLEFT JOINして取得される。
type TimeEntryWithInvoice struct {
	TimeEntry
	Invoice *Invoice
}

// TimeEntryPatch はTimeEntryの部分更新内容を表す。
// nilフィールドは変更しない。UnlinkInvoiceがtrueの場合は紐付けを解除する。
type TimeEntryPatch struct {
	Description   *string
	Duration      *float64
	Date          *time.Time
	InvoiceID     *string
	UnlinkInvoice bool
}
