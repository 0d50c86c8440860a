package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/invisibilled/internal/model"
)

var timeEntryRowColumns = []string{"id", "description", "duration", "entry_date", "invoice_id", "created_at", "updated_at"}

func day(s string) time.Time {
	d, _ := time.Parse(dateLayout, s)
	return d
}

func TestPostgresTimeEntryRepo_ListWithInvoice(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTimeEntryRepo(db)

	now := time.Now()
	cols := append(append([]string{}, timeEntryRowColumns...), "inv_id", "client", "amount", "status", "inv_created_at")
	mock.ExpectQuery(`LEFT JOIN invoices i ON i.id = t.invoice_id`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("te-2", "Review", 1.5, day("2026-03-02"), "inv-1", now, now, "inv-1", "Acme", 300.0, "unpaid", now).
			AddRow("te-1", "Design", 2.0, day("2026-03-01"), nil, now, now, nil, nil, nil, nil, nil))

	entries, err := repo.ListWithInvoice(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NotNil(t, entries[0].Invoice)
	assert.Equal(t, "Acme", entries[0].Invoice.Client)
	require.NotNil(t, entries[0].InvoiceID)
	assert.Equal(t, "inv-1", *entries[0].InvoiceID)

	assert.Nil(t, entries[1].Invoice)
	assert.Nil(t, entries[1].InvoiceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTimeEntryRepo_ListUnbilled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTimeEntryRepo(db)

	now := time.Now()
	mock.ExpectQuery(`WHERE invoice_id IS NULL\s+ORDER BY entry_date DESC`).
		WillReturnRows(sqlmock.NewRows(timeEntryRowColumns).
			AddRow("te-3", "Support", 0.5, day("2026-03-03"), nil, now, now))

	entries, err := repo.ListUnbilled(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsBilled())
	assert.Equal(t, 0.5, entries[0].Duration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTimeEntryRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTimeEntryRepo(db)

	mock.ExpectQuery(`FROM time_entries WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	e, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestPostgresTimeEntryRepo_FindByIDs(t *testing.T) {
	t.Run("empty ids skip the query", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresTimeEntryRepo(db)

		entries, err := repo.FindByIDs(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns only existing rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresTimeEntryRepo(db)

		now := time.Now()
		mock.ExpectQuery(`WHERE id = ANY\(\$1\)`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(timeEntryRowColumns).
				AddRow("te-1", "Design", 2.0, day("2026-03-01"), nil, now, now))

		entries, err := repo.FindByIDs(context.Background(), []string{"te-1", "te-9"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "te-1", entries[0].ID)
	})
}

func TestPostgresTimeEntryRepo_Create_WritesDateAndNullInvoice(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTimeEntryRepo(db)

	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	entry := &model.TimeEntry{
		ID: "te-1", Description: "Design", Duration: 2,
		Date: day("2026-03-01"), CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO time_entries`).
		WithArgs("te-1", "Design", 2.0, "2026-03-01", nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTimeEntryRepo_Update(t *testing.T) {
	now := time.Now()
	invoiceID := "inv-1"
	entry := &model.TimeEntry{
		ID: "te-1", Description: "Design", Duration: 3,
		Date: day("2026-03-04"), InvoiceID: &invoiceID, UpdatedAt: now,
	}

	t.Run("updated", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresTimeEntryRepo(db)

		mock.ExpectExec(`UPDATE time_entries`).
			WithArgs("te-1", "Design", 3.0, "2026-03-04", "inv-1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Update(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing returns ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresTimeEntryRepo(db)

		mock.ExpectExec(`UPDATE time_entries`).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Update(context.Background(), entry), ErrNotFound)
	})
}

func TestPostgresTimeEntryRepo_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTimeEntryRepo(db)

	mock.ExpectExec(`DELETE FROM time_entries WHERE id = \$1`).
		WithArgs("te-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM time_entries WHERE id = \$1`).
		WithArgs("te-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "te-1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "te-1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNullableString(t *testing.T) {
	empty := ""
	value := "inv-1"

	assert.False(t, nullableString(nil).Valid)
	assert.False(t, nullableString(&empty).Valid)
	assert.Equal(t, sql.NullString{String: "inv-1", Valid: true}, nullableString(&value))
}
