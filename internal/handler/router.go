package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/invisibilled/internal/auth"
	"github.com/hitoshi/invisibilled/internal/metrics"
	"github.com/hitoshi/invisibilled/internal/middleware"
	"github.com/hitoshi/invisibilled/internal/model"
)

var (
	readRoles  = []model.Role{model.RoleAdmin, model.RoleAccountant, model.RoleViewer}
	writeRoles = []model.Role{model.RoleAdmin, model.RoleAccountant}
	adminRoles = []model.Role{model.RoleAdmin}
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          auth.TokenVerifier
	SessionCookieName string
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// 請求
	InvoiceService   InvoiceServiceInterface
	TimeEntryService TimeEntryServiceInterface

	// 外部連携
	IntegrationService IntegrationServiceInterface
	IntegrationConfig  IntegrationHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS
//	  → Auth → RateLimit(General) → CSRF → RequireRole
//
// 認証不要のルート（/, /health, /metrics, /csrf-token）は認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(metrics.Middleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	invoiceHandler := NewInvoiceHandler(deps.InvoiceService)
	entryHandler := NewTimeEntryHandler(deps.TimeEntryService)
	integrationHandler := NewIntegrationHandler(deps.IntegrationService, deps.IntegrationConfig)

	// --- 認証不要のルート ---
	r.Get("/", Welcome)
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Verifier, deps.SessionCookieName))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// 参照系
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(readRoles...))

			r.Get("/me", Me)
			r.Get("/invoices", invoiceHandler.ListInvoices)
			r.Get("/invoices/{id}", invoiceHandler.GetInvoice)
			r.Get("/time-entries", entryHandler.ListTimeEntries)
			r.Get("/unbilled", entryHandler.ListUnbilled)
			r.Get("/unbilled-report", entryHandler.UnbilledReport)
		})

		// 更新系
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(writeRoles...))

			r.Post("/invoices", invoiceHandler.CreateInvoice)
			r.Patch("/invoices/{id}/pay", invoiceHandler.MarkPaid)
			r.Patch("/invoices/{id}/unpay", invoiceHandler.MarkUnpaid)
			r.Post("/time-entries", entryHandler.CreateTimeEntry)
			r.Patch("/time-entries/{id}", entryHandler.UpdateTimeEntry)
			r.Delete("/time-entries/{id}", entryHandler.DeleteTimeEntry)
		})

		r.With(middleware.RequireRole(adminRoles...)).Delete("/invoices/{id}", invoiceHandler.DeleteInvoice)

		// 外部連携
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(writeRoles...))

			r.Get("/integrations", integrationHandler.ListStatus)
			r.Get("/{integration}/connect", integrationHandler.Connect)
			r.Get("/{integration}/callback", integrationHandler.Callback)
			r.Delete("/{integration}/connection", integrationHandler.Disconnect)

			// 外部APIへの中継（中継専用レート制限を追加）
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.UpstreamMiddleware())

				r.Get("/toggl/time-entries", integrationHandler.TogglTimeEntries)
				r.Get("/toggl/projects", integrationHandler.TogglProjects)
				r.Get("/asana/workspaces", integrationHandler.AsanaWorkspaces)
				r.Get("/asana/tasks", integrationHandler.AsanaTasks)
				r.Get("/quickbooks/company", integrationHandler.QuickBooksCompany)
				r.Get("/quickbooks/invoices", integrationHandler.QuickBooksInvoices)
			})
		})
	})

	return r
}
