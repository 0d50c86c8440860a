package middleware

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/hitoshi/invisibilled/internal/model"
)

// RequireRole は認証済みユーザーのロールが許可リストに含まれる場合のみ
// 後続のハンドラーを呼び出すミドルウェアを返す。
// Identityがない場合は401、ロールが許可されていない場合は403を返す。
func RequireRole(roles ...model.Role) func(next http.Handler) http.Handler {
	allowed := slices.Clone(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			if !slices.Contains(allowed, identity.Role) {
				slog.Warn("role check failed",
					slog.String("user_id", identity.UserID),
					slog.Any("required_roles", allowed),
					slog.String("role", string(identity.Role)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(allowed, identity.Role))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
