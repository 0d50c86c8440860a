package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/invisibilled/internal/integration"
	"github.com/hitoshi/invisibilled/internal/middleware"
	"github.com/hitoshi/invisibilled/internal/model"
)

const (
	oauthStateCookiePrefix = "oauth_state_"
	oauthStateMaxAge       = 600 // 10分
)

// IntegrationServiceInterface は外部連携ハンドラーが必要とするサービスインターフェース。
type IntegrationServiceInterface interface {
	AuthCodeURL(integration model.Integration, state string) (string, error)
	CompleteAuthorization(ctx context.Context, userID string, integration model.Integration, code, realmID string) (*model.Connection, error)
	ListStatus(ctx context.Context, userID string) ([]integration.ConnectionStatus, error)
	Disconnect(ctx context.Context, userID string, integration model.Integration) error

	TogglTimeEntries(ctx context.Context, userID, startDate, endDate string) (json.RawMessage, error)
	TogglProjects(ctx context.Context, userID string) (json.RawMessage, error)
	AsanaWorkspaces(ctx context.Context, userID string) (json.RawMessage, error)
	AsanaTasks(ctx context.Context, userID, project string) (json.RawMessage, error)
	QuickBooksCompany(ctx context.Context, userID string) (json.RawMessage, error)
	QuickBooksInvoices(ctx context.Context, userID string) (json.RawMessage, error)
}

// IntegrationHandlerConfig は外部連携ハンドラーの設定。
type IntegrationHandlerConfig struct {
	BaseURL      string // 連携完了後のリダイレクト先
	CookieSecure bool
}

// IntegrationHandler は外部SaaS連携のOAuthフローとデータ中継のHTTPハンドラー。
type IntegrationHandler struct {
	service IntegrationServiceInterface
	config  IntegrationHandlerConfig
}

// NewIntegrationHandler はIntegrationHandlerを生成する。
func NewIntegrationHandler(service IntegrationServiceInterface, config IntegrationHandlerConfig) *IntegrationHandler {
	return &IntegrationHandler{
		service: service,
		config:  config,
	}
}

// integrationParam はURLパスの{integration}を解釈する。
// 対応していない連携名の場合は404を書き込み、falseを返す。
func integrationParam(w http.ResponseWriter, r *http.Request) (model.Integration, bool) {
	name := chi.URLParam(r, "integration")
	integ, ok := model.ParseIntegration(name)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownIntegrationError(name))
		return "", false
	}
	return integ, true
}

// Connect は外部サービスのOAuth認可フローを開始する。
// GET /{integration}/connect
func (h *IntegrationHandler) Connect(w http.ResponseWriter, r *http.Request) {
	integ, ok := integrationParam(w, r)
	if !ok {
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	authURL, err := h.service.AuthCodeURL(integ, state)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setStateCookie(w, integ, state, oauthStateMaxAge)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、接続情報を保存する。
// GET /{integration}/callback?code=xxx&state=yyy[&realmId=zzz]
func (h *IntegrationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	integ, ok := integrationParam(w, r)
	if !ok {
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	// 1. stateの検証
	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookiePrefix + string(integ))
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("integration", string(integ)),
			slog.String("user_id", identity.UserID),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidOAuthStateError())
		return
	}
	h.setStateCookie(w, integ, "", -1)

	// 2. 認可が拒否された場合
	if vendorErr := q.Get("error"); vendorErr != "" {
		slog.Warn("oauth authorization denied",
			slog.String("integration", string(integ)),
			slog.String("user_id", identity.UserID),
			slog.String("vendor_error", vendorErr),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(map[string]string{
			"code": "authorization was denied",
		}))
		return
	}

	// 3. 認可コードの取得
	code := q.Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(map[string]string{
			"code": "is required",
		}))
		return
	}

	// 4. トークン交換と保存
	if _, err := h.service.CompleteAuthorization(r.Context(), identity.UserID, integ, code, q.Get("realmId")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	// 5. フロントエンドにリダイレクト
	http.Redirect(w, r, h.connectedURL(integ), http.StatusTemporaryRedirect)
}

// ListStatus は呼び出し元ユーザーの連携状態を返す。
// GET /integrations
func (h *IntegrationHandler) ListStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	statuses, err := h.service.ListStatus(r.Context(), identity.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionStatusResponses(statuses))
}

// Disconnect は呼び出し元ユーザーの接続情報を削除する。
// DELETE /{integration}/connection
func (h *IntegrationHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	integ, ok := integrationParam(w, r)
	if !ok {
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), identity.UserID, integ); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TogglTimeEntries はToggl Trackの作業記録を中継する。
// GET /toggl/time-entries?start_date=&end_date=
func (h *IntegrationHandler) TogglTimeEntries(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, func(ctx context.Context, userID string) (json.RawMessage, error) {
		q := r.URL.Query()
		return h.service.TogglTimeEntries(ctx, userID, q.Get("start_date"), q.Get("end_date"))
	})
}

// TogglProjects はToggl Trackのプロジェクト一覧を中継する。
// GET /toggl/projects
func (h *IntegrationHandler) TogglProjects(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.service.TogglProjects)
}

// AsanaWorkspaces はAsanaのワークスペース一覧を中継する。
// GET /asana/workspaces
func (h *IntegrationHandler) AsanaWorkspaces(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.service.AsanaWorkspaces)
}

// AsanaTasks はAsanaのタスク一覧を中継する。
// GET /asana/tasks?project=
func (h *IntegrationHandler) AsanaTasks(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, func(ctx context.Context, userID string) (json.RawMessage, error) {
		return h.service.AsanaTasks(ctx, userID, r.URL.Query().Get("project"))
	})
}

// QuickBooksCompany はQuickBooksの会社情報を中継する。
// GET /quickbooks/company
func (h *IntegrationHandler) QuickBooksCompany(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.service.QuickBooksCompany)
}

// QuickBooksInvoices はQuickBooksの請求書一覧を中継する。
// GET /quickbooks/invoices
func (h *IntegrationHandler) QuickBooksInvoices(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.service.QuickBooksInvoices)
}

func (h *IntegrationHandler) relay(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, userID string) (json.RawMessage, error)) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := fetch(r.Context(), identity.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeRawJSON(w, body)
}

func (h *IntegrationHandler) setStateCookie(w http.ResponseWriter, integ model.Integration, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookiePrefix + string(integ),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// connectedURL はBASE_URLに?connected=<integration>を付与したURLを返す。
func (h *IntegrationHandler) connectedURL(integ model.Integration) string {
	u, err := url.Parse(h.config.BaseURL)
	if err != nil {
		return h.config.BaseURL
	}
	q := u.Query()
	q.Set("connected", string(integ))
	u.RawQuery = q.Encode()
	return u.String()
}

// generateState はOAuth stateパラメータ用のランダム文字列を生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ IntegrationServiceInterface = (*integration.Service)(nil)
