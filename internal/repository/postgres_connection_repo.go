package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/invisibilled/internal/model"
)

// PostgresConnectionRepo はPostgreSQLを使用した外部連携トークンリポジトリ。
type PostgresConnectionRepo struct {
	db *sql.DB
}

// NewPostgresConnectionRepo はPostgresConnectionRepoを生成する。
func NewPostgresConnectionRepo(db *sql.DB) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{db: db}
}

const connectionColumns = `id, integration, user_id, access_token, refresh_token, token_type,
	expires_at, workspace_id, realm_id, created_at, updated_at`

func scanConnection(s rowScanner) (*model.Connection, error) {
	c := &model.Connection{}
	var (
		refreshToken, workspaceID, realmID sql.NullString
		expiresAt                          sql.NullTime
	)
	if err := s.Scan(
		&c.ID, &c.Integration, &c.UserID, &c.AccessToken, &refreshToken, &c.TokenType,
		&expiresAt, &workspaceID, &realmID, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.RefreshToken = refreshToken.String
	c.WorkspaceID = workspaceID.String
	c.RealmID = realmID.String
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	return c, nil
}

// FindByUserAndIntegration はユーザーと連携種別で接続情報を取得する。見つからない場合はnilを返す。
func (r *PostgresConnectionRepo) FindByUserAndIntegration(ctx context.Context, userID string, integration model.Integration) (*model.Connection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM integration_connections
		 WHERE integration = $1 AND user_id = $2`,
		integration, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s connection: %w", integration, err)
	}
	return c, nil
}

// ListByUser はユーザーの全接続情報を連携種別順に返す。
func (r *PostgresConnectionRepo) ListByUser(ctx context.Context, userID string) ([]*model.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM integration_connections
		 WHERE user_id = $1 ORDER BY integration ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection row: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connections: %w", err)
	}
	return conns, nil
}

// Upsert はUNIQUE(integration, user_id)制約を利用したINSERT ON CONFLICTで接続情報を保存する。
// 再認可時はトークン一式を上書きし、idとcreated_atは維持する。
func (r *PostgresConnectionRepo) Upsert(ctx context.Context, c *model.Connection) error {
	var expiresAt sql.NullTime
	if c.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *c.ExpiresAt, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO integration_connections
			(id, integration, user_id, access_token, refresh_token, token_type,
			 expires_at, workspace_id, realm_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 ON CONFLICT (integration, user_id) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type    = EXCLUDED.token_type,
			expires_at    = EXCLUDED.expires_at,
			workspace_id  = EXCLUDED.workspace_id,
			realm_id      = EXCLUDED.realm_id,
			updated_at    = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		c.ID, c.Integration, c.UserID, c.AccessToken, nullableString(&c.RefreshToken), c.TokenType,
		expiresAt, nullableString(&c.WorkspaceID), nullableString(&c.RealmID), c.UpdatedAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert %s connection: %w", c.Integration, err)
	}
	return nil
}

// Delete はユーザーの接続情報を削除する。
func (r *PostgresConnectionRepo) Delete(ctx context.Context, userID string, integration model.Integration) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM integration_connections WHERE integration = $1 AND user_id = $2`,
		integration, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s connection: %w", integration, err)
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

// compile-time interface check
var _ ConnectionRepository = (*PostgresConnectionRepo)(nil)
