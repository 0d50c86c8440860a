package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/invisibilled/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// errorには利用者向けのメッセージ、codeには機械判定用のエラーコードを格納する。
type ErrorResponseBody struct {
	Error    string         `json:"error"`
	Code     string         `json:"code"`
	Category string         `json:"category"`
	Action   string         `json:"action"`
	Details  map[string]any `json:"details,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error:    apiErr.Message,
		Code:     apiErr.Code,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Details:  apiErr.Details,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
