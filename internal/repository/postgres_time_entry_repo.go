package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/invisibilled/internal/model"
	"github.com/lib/pq"
)

// dateLayout はentry_date列（DATE型）との受け渡しに使う書式。
// time.Timeのまま渡すとセッションのタイムゾーンで日付がずれるため文字列で渡す。
const dateLayout = "2006-01-02"

// PostgresTimeEntryRepo はPostgreSQLを使用した作業記録リポジトリ。
type PostgresTimeEntryRepo struct {
	db *sql.DB
}

// NewPostgresTimeEntryRepo はPostgresTimeEntryRepoを生成する。
func NewPostgresTimeEntryRepo(db *sql.DB) *PostgresTimeEntryRepo {
	return &PostgresTimeEntryRepo{db: db}
}

const timeEntryColumns = `id, description, duration, entry_date, invoice_id, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimeEntry(s rowScanner) (*model.TimeEntry, error) {
	e := &model.TimeEntry{}
	var invoiceID sql.NullString
	if err := s.Scan(&e.ID, &e.Description, &e.Duration, &e.Date, &invoiceID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if invoiceID.Valid {
		e.InvoiceID = &invoiceID.String
	}
	return e, nil
}

func (r *PostgresTimeEntryRepo) queryEntries(ctx context.Context, query string, args ...any) ([]*model.TimeEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.TimeEntry
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate time entries: %w", err)
	}
	return entries, nil
}

// ListWithInvoice は全作業記録をinvoicesとLEFT JOINしてentry_date降順で返す。
func (r *PostgresTimeEntryRepo) ListWithInvoice(ctx context.Context) ([]model.TimeEntryWithInvoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			t.id, t.description, t.duration, t.entry_date, t.invoice_id, t.created_at, t.updated_at,
			i.id, i.client, i.amount, i.status, i.created_at
		 FROM time_entries t
		 LEFT JOIN invoices i ON i.id = t.invoice_id
		 ORDER BY t.entry_date DESC, t.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list time entries with invoice: %w", err)
	}
	defer rows.Close()

	var results []model.TimeEntryWithInvoice
	for rows.Next() {
		var (
			te        model.TimeEntryWithInvoice
			invoiceID sql.NullString
			invID     sql.NullString
			client    sql.NullString
			amount    sql.NullFloat64
			status    sql.NullString
			createdAt sql.NullTime
		)
		if err := rows.Scan(
			&te.ID, &te.Description, &te.Duration, &te.Date, &invoiceID, &te.CreatedAt, &te.UpdatedAt,
			&invID, &client, &amount, &status, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan time entry row: %w", err)
		}
		if invoiceID.Valid {
			te.InvoiceID = &invoiceID.String
		}
		if invID.Valid {
			te.Invoice = &model.Invoice{
				ID:        invID.String,
				Client:    client.String,
				Amount:    amount.Float64,
				Status:    model.InvoiceStatus(status.String),
				CreatedAt: createdAt.Time,
			}
		}
		results = append(results, te)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate time entries: %w", err)
	}
	return results, nil
}

// ListUnbilled は請求書に紐付いていない作業記録をentry_date降順で返す。
func (r *PostgresTimeEntryRepo) ListUnbilled(ctx context.Context) ([]*model.TimeEntry, error) {
	return r.queryEntries(ctx,
		`SELECT `+timeEntryColumns+` FROM time_entries
		 WHERE invoice_id IS NULL
		 ORDER BY entry_date DESC, created_at DESC`,
	)
}

// ListByInvoice は指定請求書に紐付く作業記録をentry_date降順で返す。
func (r *PostgresTimeEntryRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]*model.TimeEntry, error) {
	return r.queryEntries(ctx,
		`SELECT `+timeEntryColumns+` FROM time_entries
		 WHERE invoice_id = $1
		 ORDER BY entry_date DESC, created_at DESC`,
		invoiceID,
	)
}

// FindByID は指定IDの作業記録を取得する。見つからない場合はnilを返す。
func (r *PostgresTimeEntryRepo) FindByID(ctx context.Context, id string) (*model.TimeEntry, error) {
	e, err := scanTimeEntry(r.db.QueryRowContext(ctx,
		`SELECT `+timeEntryColumns+` FROM time_entries WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find time entry by ID: %w", err)
	}
	return e, nil
}

// FindByIDs は指定IDの作業記録をまとめて取得する。
func (r *PostgresTimeEntryRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.TimeEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryEntries(ctx,
		`SELECT `+timeEntryColumns+` FROM time_entries WHERE id = ANY($1)`,
		pq.Array(ids),
	)
}

// Create は作業記録を作成する。
func (r *PostgresTimeEntryRepo) Create(ctx context.Context, e *model.TimeEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO time_entries (id, description, duration, entry_date, invoice_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Description, e.Duration, e.Date.Format(dateLayout), nullableString(e.InvoiceID), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert time entry: %w", err)
	}
	return nil
}

// Update は作業記録の全フィールドを上書きする。
func (r *PostgresTimeEntryRepo) Update(ctx context.Context, e *model.TimeEntry) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE time_entries
		 SET description = $2, duration = $3, entry_date = $4, invoice_id = $5, updated_at = $6
		 WHERE id = $1`,
		e.ID, e.Description, e.Duration, e.Date.Format(dateLayout), nullableString(e.InvoiceID), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update time entry: %w", err)
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

// Delete は指定IDの作業記録を削除する。
func (r *PostgresTimeEntryRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM time_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete time entry: %w", err)
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

// nullableString はnilまたは空文字をSQLのNULLに変換する。
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ TimeEntryRepository = (*PostgresTimeEntryRepo)(nil)
