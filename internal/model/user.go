package model

// Role はユーザーに割り当てられたロールを表す。
type Role string

const (
	// RoleAdmin はすべての操作が可能なロール。
	RoleAdmin Role = "admin"
	// RoleAccountant は請求書・作業記録の作成と更新、外部連携が可能なロール。
	RoleAccountant Role = "accountant"
	// RoleViewer は参照のみ可能なロール。
	RoleViewer Role = "viewer"
)

// CredentialSource は認証情報の取得元を表す。
type CredentialSource string

const (
	// CredentialSourceHeader はAuthorizationヘッダーから取得したことを示す。
	CredentialSourceHeader CredentialSource = "header"
	// CredentialSourceCookie はセッションCookieから取得したことを示す。
	CredentialSourceCookie CredentialSource = "cookie"
)

// Identity はリクエスト単位の認証済みユーザー情報を表す。
// リクエストごとに生成され、永続化もリクエスト間のキャッシュもしない。
type Identity struct {
	UserID string
	Email  string // 任意
	Role   Role
	Token  string
	Source CredentialSource
}
