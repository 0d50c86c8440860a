// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/invisibilled/internal/model"
)

// ErrNotFound は更新・削除対象のレコードが存在しない場合に返される。
var ErrNotFound = errors.New("record not found")

// ErrEntriesNotLinkable は請求書に紐付けようとした作業記録の一部が
// 存在しないか、すでに別の請求書に紐付いている場合に返される。
var ErrEntriesNotLinkable = errors.New("time entries cannot be linked")

// InvoiceRepository は請求書データの永続化インターフェース。
type InvoiceRepository interface {
	// List は全請求書をcreated_at降順で返す。
	List(ctx context.Context) ([]*model.Invoice, error)

	// FindByID は指定IDの請求書を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Invoice, error)

	// CreateWithEntries は請求書を作成し、指定した未請求の作業記録を同一トランザクションで紐付ける。
	// 紐付けできない作業記録が含まれる場合はErrEntriesNotLinkableを返し、何も変更しない。
	CreateWithEntries(ctx context.Context, invoice *model.Invoice, entryIDs []string) error

	// UpdateStatus は請求書のステータスを上書きする。見つからない場合はErrNotFoundを返す。
	UpdateStatus(ctx context.Context, id string, status model.InvoiceStatus) error

	// DeleteAndUnlink は紐付く作業記録の紐付けを解除してから請求書を削除する。
	// 両操作は同一トランザクションで実行される。見つからない場合はErrNotFoundを返す。
	DeleteAndUnlink(ctx context.Context, id string) error

	// MarkOverdue はbefore以前に作成された未払いの請求書をoverdueに更新し、更新件数を返す。
	MarkOverdue(ctx context.Context, before time.Time) (int64, error)
}

// TimeEntryRepository は作業記録データの永続化インターフェース。
type TimeEntryRepository interface {
	// ListWithInvoice は全作業記録を紐付く請求書の概要付きでentry_date降順に返す。
	ListWithInvoice(ctx context.Context) ([]model.TimeEntryWithInvoice, error)

	// ListUnbilled は請求書に紐付いていない作業記録をentry_date降順で返す。
	ListUnbilled(ctx context.Context) ([]*model.TimeEntry, error)

	// ListByInvoice は指定請求書に紐付く作業記録をentry_date降順で返す。
	ListByInvoice(ctx context.Context, invoiceID string) ([]*model.TimeEntry, error)

	// FindByID は指定IDの作業記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.TimeEntry, error)

	// FindByIDs は指定IDの作業記録をまとめて取得する。存在しないIDは結果に含まれない。
	FindByIDs(ctx context.Context, ids []string) ([]*model.TimeEntry, error)

	// Create は作業記録を作成する。
	Create(ctx context.Context, entry *model.TimeEntry) error

	// Update は作業記録の全フィールドを上書きする。見つからない場合はErrNotFoundを返す。
	Update(ctx context.Context, entry *model.TimeEntry) error

	// Delete は指定IDの作業記録を削除する。見つからない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error
}

// ConnectionRepository は外部連携トークンの永続化インターフェース。
type ConnectionRepository interface {
	// FindByUserAndIntegration はユーザーと連携種別で接続情報を取得する。見つからない場合はnilを返す。
	FindByUserAndIntegration(ctx context.Context, userID string, integration model.Integration) (*model.Connection, error)

	// ListByUser はユーザーの全接続情報を返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Connection, error)

	// Upsert は(integration, user_id)をキーに接続情報を作成または上書きする。
	// 既存レコードを上書きした場合、connのIDとCreatedAtは既存の値で更新される。
	Upsert(ctx context.Context, conn *model.Connection) error

	// Delete はユーザーの接続情報を削除する。見つからない場合はErrNotFoundを返す。
	Delete(ctx context.Context, userID string, integration model.Integration) error
}
