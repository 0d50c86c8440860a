package model

import "time"

// Integration は外部SaaS連携の種別を表す。
type Integration string

const (
	// IntegrationToggl は作業時間トラッキングサービス（Toggl Track）。
	IntegrationToggl Integration = "toggl"
	// IntegrationAsana はタスク管理サービス（Asana）。
	IntegrationAsana Integration = "asana"
	// IntegrationQuickBooks は会計サービス（QuickBooks Online）。
	IntegrationQuickBooks Integration = "quickbooks"
)

// Integrations は対応している外部連携の一覧。
var Integrations = []Integration{IntegrationToggl, IntegrationAsana, IntegrationQuickBooks}

// ParseIntegration は文字列を対応するIntegrationに変換する。
func ParseIntegration(s string) (Integration, bool) {
	for _, i := range Integrations {
		if string(i) == s {
			return i, true
		}
	}
	return "", false
}

// Connection は外部連携のOAuthトークン一式を表す。
// (Integration, UserID) の組で一意。再認可時は上書きされる。
type Connection struct {
	ID           string
	Integration  Integration
	UserID       string
	AccessToken  string
	RefreshToken string // 任意
	TokenType    string
	ExpiresAt    *time.Time
	WorkspaceID  string // toggl, asana
	RealmID      string // quickbooks
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired はアクセストークンの有効期限が切れているかを返す。
// 有効期限が不明な場合はfalseを返す。
func (c *Connection) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}
