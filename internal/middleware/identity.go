// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/invisibilled/internal/auth"
	"github.com/hitoshi/invisibilled/internal/model"
)

// DefaultSessionCookieName はIdPのフロントエンドSDKが設定するセッションCookieの名前。
const DefaultSessionCookieName = "__session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みユーザー情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// NewAuthMiddleware はAuthorizationヘッダーまたはセッションCookieからトークンを取り出し、
// 検証済みのIdentityをリクエストコンテキストに注入するミドルウェアを返す。
//
//   - トークンなし: 401 UNAUTHENTICATED
//   - 検証失敗: 401 INVALID_CREDENTIAL
//   - ロール未割り当て: 403 NO_ROLE_ASSIGNED
//
// Identityはリクエストごとに生成し、リクエスト間でキャッシュしない。
func NewAuthMiddleware(verifier auth.TokenVerifier, cookieName string) func(next http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, source := extractToken(r, cookieName)
			if token == "" {
				slog.Warn("authentication failed",
					slog.String("reason", "no token"),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				// IdP側の障害はトークン不正と区別してErrorで記録する
				level := slog.LevelWarn
				if errors.Is(err, auth.ErrJWKSFetchFailed) {
					level = slog.LevelError
				}
				slog.Log(r.Context(), level, "authentication failed",
					slog.String("reason", err.Error()),
					slog.String("source", string(source)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialError())
				return
			}

			if claims.Role == "" {
				slog.Warn("authentication failed",
					slog.String("reason", "no role assigned"),
					slog.String("user_id", claims.Subject),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewNoRoleAssignedError())
				return
			}

			identity := &model.Identity{
				UserID: claims.Subject,
				Email:  claims.Email,
				Role:   model.Role(claims.Role),
				Token:  token,
				Source: source,
			}
			setLogUserID(r.Context(), identity.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// extractToken はAuthorizationヘッダーのBearerトークンを優先し、
// なければセッションCookieの値を返す。スキーム名の大文字小文字は区別しない。
func extractToken(r *http.Request, cookieName string) (string, model.CredentialSource) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token, model.CredentialSourceHeader
			}
		}
	}

	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, model.CredentialSourceCookie
	}
	return "", ""
}

// IdentityFromContext はリクエストコンテキストから認証済みユーザー情報を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil || identity.UserID == "" {
		return nil, false
	}
	return identity, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return identity.UserID, true
}

// ContextWithIdentity はコンテキストに認証済みユーザー情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
