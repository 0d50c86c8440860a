package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// NewCORSMiddleware は指定されたオリジンに対するCORSミドルウェアを返す。
// credentials送信と共存するため、ワイルドカード(*)は使用しない。
// プリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:       []string{allowedOrigin},
		AllowedMethods:       []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:       []string{"Accept", "Authorization", "Content-Type", csrfHeaderName},
		ExposedHeaders:       []string{"Retry-After"},
		AllowCredentials:     true,
		MaxAge:               86400,
		OptionsSuccessStatus: http.StatusNoContent,
	})
}
