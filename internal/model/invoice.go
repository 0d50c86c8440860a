// Package model はドメインモデルを定義する。
package model

import "time"

// InvoiceStatus は請求書の支払い状態を表す。
type InvoiceStatus string

const (
	// InvoiceStatusUnpaid は未払いの請求書。作成直後の状態。
	InvoiceStatusUnpaid InvoiceStatus = "unpaid"
	// InvoiceStatusPaid は支払い済みの請求書。
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusOverdue は支払期限を過ぎた未払いの請求書。
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// Invoice は顧客への請求書を表す。
// Amountは作成時に呼び出し元が指定した金額であり、紐付くTimeEntryから再計算しない。
type Invoice struct {
	ID        string
	Client    string
	Amount    float64
	Status    InvoiceStatus
	CreatedAt time.Time
}

// InvoiceWithEntries は請求書と紐付くTimeEntryの一覧を結合したモデル。
type InvoiceWithEntries struct {
	Invoice
	Entries []*TimeEntry
}
