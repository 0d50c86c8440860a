package integration

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/invisibilled/internal/config"
	"github.com/hitoshi/invisibilled/internal/model"
	"github.com/hitoshi/invisibilled/internal/repository"
)

// --- モック ---

type mockConnectionRepo struct {
	findFn   func(ctx context.Context, userID string, integration model.Integration) (*model.Connection, error)
	listFn   func(ctx context.Context, userID string) ([]*model.Connection, error)
	upsertFn func(ctx context.Context, conn *model.Connection) error
	deleteFn func(ctx context.Context, userID string, integration model.Integration) error
}

func (m *mockConnectionRepo) FindByUserAndIntegration(ctx context.Context, userID string, integration model.Integration) (*model.Connection, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID, integration)
	}
	return nil, nil
}
func (m *mockConnectionRepo) ListByUser(ctx context.Context, userID string) ([]*model.Connection, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockConnectionRepo) Upsert(ctx context.Context, conn *model.Connection) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, conn)
	}
	return nil
}
func (m *mockConnectionRepo) Delete(ctx context.Context, userID string, integration model.Integration) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, integration)
	}
	return nil
}

var _ repository.ConnectionRepository = (*mockConnectionRepo)(nil)

type upstreamCall struct {
	integration string
	outcome     string
}

type mockCollector struct {
	mu    sync.Mutex
	calls []upstreamCall
}

func (m *mockCollector) RecordHTTPStatus(int)              {}
func (m *mockCollector) RecordInvoiceCreated()             {}
func (m *mockCollector) RecordInvoicesMarkedOverdue(int64) {}
func (m *mockCollector) RecordUpstreamCall(integration, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, upstreamCall{integration, outcome})
}

// connectedAs は指定した接続情報を返すリポジトリを生成する。
func connectedAs(conn *model.Connection) *mockConnectionRepo {
	return &mockConnectionRepo{
		findFn: func(ctx context.Context, userID string, integration model.Integration) (*model.Connection, error) {
			if conn == nil || conn.UserID != userID || conn.Integration != integration {
				return nil, nil
			}
			return conn, nil
		},
	}
}

// newTestService はベンダーAPIとトークンエンドポイントをtsに向けたServiceを生成する。
func newTestService(t *testing.T, ts *httptest.Server, repo repository.ConnectionRepository) (*Service, *mockCollector, *bytes.Buffer) {
	t.Helper()

	providers := make(map[model.Integration]*Provider)
	for _, name := range model.Integrations {
		p, err := NewProvider(name, config.IntegrationConfig{
			ClientID:     "client-" + string(name),
			ClientSecret: "secret",
			RedirectURI:  "https://api.example.com/" + string(name) + "/callback",
			AuthURL:      ts.URL + "/oauth/authorize",
			TokenURL:     ts.URL + "/oauth/token",
			APIBaseURL:   ts.URL + "/api",
		})
		if err != nil {
			t.Fatalf("NewProvider(%s): %v", name, err)
		}
		providers[name] = p
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	collector := &mockCollector{}
	svc := NewService(providers, repo, ts.Client(), collector, logger)
	return svc, collector, &buf
}

// newVendorServer はパスごとのハンドラーを持つテスト用ベンダーサーバーを起動する。
func newVendorServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func tokenEndpoint(t *testing.T, wantCode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("code"); got != wantCode {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"bad code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-1","refresh_token":"refresh-1","token_type":"bearer","expires_in":3600}`))
	}
}

func requireAPIError(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	apiErr, ok := err.(*model.APIError)
	if !ok {
		t.Fatalf("expected *model.APIError with code %s, got %T %v", code, err, err)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %q, want %q", apiErr.Code, code)
	}
	return apiErr
}
