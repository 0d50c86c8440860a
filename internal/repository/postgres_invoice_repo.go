package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/invisibilled/internal/model"
	"github.com/lib/pq"
)

// PostgresInvoiceRepo はPostgreSQLを使用した請求書リポジトリ。
type PostgresInvoiceRepo struct {
	db *sql.DB
}

// NewPostgresInvoiceRepo はPostgresInvoiceRepoを生成する。
func NewPostgresInvoiceRepo(db *sql.DB) *PostgresInvoiceRepo {
	return &PostgresInvoiceRepo{db: db}
}

const invoiceColumns = `id, client, amount, status, created_at`

// List は全請求書をcreated_at降順で返す。
func (r *PostgresInvoiceRepo) List(ctx context.Context) ([]*model.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*model.Invoice
	for rows.Next() {
		inv := &model.Invoice{}
		if err := rows.Scan(&inv.ID, &inv.Client, &inv.Amount, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invoice row: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	return invoices, nil
}

// FindByID は指定IDの請求書を取得する。見つからない場合はnilを返す。
func (r *PostgresInvoiceRepo) FindByID(ctx context.Context, id string) (*model.Invoice, error) {
	inv := &model.Invoice{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`,
		id,
	).Scan(&inv.ID, &inv.Client, &inv.Amount, &inv.Status, &inv.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice by ID: %w", err)
	}
	return inv, nil
}

// CreateWithEntries は請求書の作成と作業記録の紐付けを同一トランザクションで実行する。
// 紐付けはinvoice_id IS NULLの行に限定し、更新件数が指定数と一致しなければロールバックする。
func (r *PostgresInvoiceRepo) CreateWithEntries(ctx context.Context, invoice *model.Invoice, entryIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO invoices (id, client, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		invoice.ID, invoice.Client, invoice.Amount, invoice.Status, invoice.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	if len(entryIDs) > 0 {
		result, err := tx.ExecContext(ctx,
			`UPDATE time_entries SET invoice_id = $1, updated_at = $2
			 WHERE id = ANY($3) AND invoice_id IS NULL`,
			invoice.ID, invoice.CreatedAt, pq.Array(entryIDs),
		)
		if err != nil {
			return fmt.Errorf("failed to link time entries: %w", err)
		}
		linked, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get linked row count: %w", err)
		}
		if linked != int64(len(entryIDs)) {
			return ErrEntriesNotLinkable
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateStatus は請求書のステータスを上書きする。
// 同じステータスへの更新も成功として扱う。
func (r *PostgresInvoiceRepo) UpdateStatus(ctx context.Context, id string, status model.InvoiceStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAndUnlink は作業記録の紐付け解除と請求書の削除を同一トランザクションで実行する。
func (r *PostgresInvoiceRepo) DeleteAndUnlink(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE time_entries SET invoice_id = NULL, updated_at = NOW() WHERE invoice_id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to unlink time entries: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkOverdue はbefore以前に作成された未払いの請求書をoverdueに更新する。
func (r *PostgresInvoiceRepo) MarkOverdue(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET status = 'overdue', updated_at = NOW()
		 WHERE status = 'unpaid' AND created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ InvoiceRepository = (*PostgresInvoiceRepo)(nil)
