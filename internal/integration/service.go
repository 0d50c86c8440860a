package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/hitoshi/invisibilled/internal/metrics"
	"github.com/hitoshi/invisibilled/internal/model"
	"github.com/hitoshi/invisibilled/internal/repository"
)

// maxErrorBodyBytes はログに記録する外部APIエラー本文の上限。
const maxErrorBodyBytes = 4096

// ConnectionStatus は呼び出しユーザーの連携状態。
type ConnectionStatus struct {
	Integration model.Integration
	Enabled     bool
	Connected   bool
	WorkspaceID string
	RealmID     string
	ExpiresAt   *time.Time
	Expired     bool // 再接続が必要かどうか。中継自体は期限切れでも試みる
	UpdatedAt   *time.Time
}

// Service は外部連携の接続管理とAPI中継を行う。
type Service struct {
	providers  map[model.Integration]*Provider
	connRepo   repository.ConnectionRepository
	httpClient *http.Client
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// httpClientはトークン交換と中継の両方に使われる。
func NewService(
	providers map[model.Integration]*Provider,
	connRepo repository.ConnectionRepository,
	httpClient *http.Client,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		providers:  providers,
		connRepo:   connRepo,
		httpClient: httpClient,
		metrics:    collector,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) provider(integration model.Integration) (*Provider, error) {
	p, ok := s.providers[integration]
	if !ok {
		return nil, model.NewUnknownIntegrationError(string(integration))
	}
	if !p.Enabled() {
		return nil, model.NewIntegrationDisabledError(integration)
	}
	return p, nil
}

// AuthCodeURL は連携先の認可画面のURLを返す。
func (s *Service) AuthCodeURL(integration model.Integration, state string) (string, error) {
	p, err := s.provider(integration)
	if err != nil {
		return "", err
	}
	return p.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// CompleteAuthorization は認可コードをトークンに交換し、接続情報を保存する。
// QuickBooksの場合はコールバックで渡されたrealmIDが必須。
// Toggl、Asanaの場合は交換後にワークスペースIDを1回の呼び出しで解決する。
func (s *Service) CompleteAuthorization(ctx context.Context, userID string, integration model.Integration, code, realmID string) (*model.Connection, error) {
	p, err := s.provider(integration)
	if err != nil {
		return nil, err
	}
	if integration == model.IntegrationQuickBooks && realmID == "" {
		return nil, model.NewValidationError(map[string]string{"realmId": "is required"})
	}

	token, err := s.exchange(ctx, p, code)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	conn := &model.Connection{
		ID:           uuid.New().String(),
		Integration:  integration,
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		conn.ExpiresAt = &expiry
	}

	switch integration {
	case model.IntegrationQuickBooks:
		conn.RealmID = realmID
	default:
		workspaceID, err := s.resolveWorkspace(ctx, p, token.AccessToken)
		if err != nil {
			return nil, err
		}
		conn.WorkspaceID = workspaceID
	}

	if err := s.connRepo.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("接続情報の保存に失敗しました: %w", err)
	}

	s.logger.Info("integration connected",
		slog.String("integration", string(integration)),
		slog.String("user_id", userID),
	)
	return conn, nil
}

// exchange はoauth2でトークン交換を行う。HTTPクライアントはコンテキスト経由で渡す。
func (s *Service) exchange(ctx context.Context, p *Provider, code string) (*oauth2.Token, error) {
	start := s.now()
	token, err := p.OAuth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, s.httpClient), code)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.metrics.RecordUpstreamCall(string(p.Name), metrics.OutcomeFailure, elapsed)

		attrs := []any{
			slog.String("integration", string(p.Name)),
			slog.String("error", err.Error()),
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			attrs = append(attrs,
				slog.Int("http_status", rerr.Response.StatusCode),
				slog.String("body", truncate(rerr.Body, maxErrorBodyBytes)),
			)
		}
		s.logger.Error("token exchange failed", attrs...)
		return nil, model.NewUpstreamError(p.Name)
	}
	s.metrics.RecordUpstreamCall(string(p.Name), metrics.OutcomeSuccess, elapsed)
	return token, nil
}

// ListStatus は全連携先について呼び出しユーザーの接続状態を返す。
func (s *Service) ListStatus(ctx context.Context, userID string) ([]ConnectionStatus, error) {
	conns, err := s.connRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("接続情報の取得に失敗しました: %w", err)
	}
	now := s.now()
	byIntegration := make(map[model.Integration]*model.Connection, len(conns))
	for _, c := range conns {
		byIntegration[c.Integration] = c
	}

	statuses := make([]ConnectionStatus, 0, len(model.Integrations))
	for _, name := range model.Integrations {
		st := ConnectionStatus{Integration: name}
		if p, ok := s.providers[name]; ok {
			st.Enabled = p.Enabled()
		}
		if c, ok := byIntegration[name]; ok {
			updated := c.UpdatedAt
			st.Connected = true
			st.WorkspaceID = c.WorkspaceID
			st.RealmID = c.RealmID
			st.ExpiresAt = c.ExpiresAt
			st.Expired = c.Expired(now)
			st.UpdatedAt = &updated
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Disconnect は呼び出しユーザーの接続情報を削除する。
func (s *Service) Disconnect(ctx context.Context, userID string, integration model.Integration) error {
	if _, ok := s.providers[integration]; !ok {
		return model.NewUnknownIntegrationError(string(integration))
	}
	if err := s.connRepo.Delete(ctx, userID, integration); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewNotConnectedError(integration)
		}
		return fmt.Errorf("接続情報の削除に失敗しました: %w", err)
	}
	s.logger.Info("integration disconnected",
		slog.String("integration", string(integration)),
		slog.String("user_id", userID),
	)
	return nil
}

// connection は中継に使う接続情報を取得する。未接続の場合はNotConnectedを返す。
func (s *Service) connection(ctx context.Context, userID string, integration model.Integration) (*Provider, *model.Connection, error) {
	p, err := s.provider(integration)
	if err != nil {
		return nil, nil, err
	}
	conn, err := s.connRepo.FindByUserAndIntegration(ctx, userID, integration)
	if err != nil {
		return nil, nil, fmt.Errorf("接続情報の取得に失敗しました: %w", err)
	}
	if conn == nil {
		return nil, nil, model.NewNotConnectedError(integration)
	}
	return p, conn, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
