// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/invisibilled/internal/middleware"
	"github.com/hitoshi/invisibilled/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
// エンコードはステータス送信前にバッファ上で行い、失敗した場合は500を返す。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(buf.Bytes())
}

// writeRawJSON は外部APIから受け取ったJSONをそのまま書き込む。
func writeRawJSON(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合は400を書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
			return false
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(map[string]string{
				typeErr.Field: "must be a " + typeErr.Type.String(),
			}))
			return false
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	// 1つ目の値の後ろに続くデータは受け付けない
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidRequest, model.ErrCodeInvalidOAuthState:
		return http.StatusBadRequest
	case model.ErrCodeUnauthenticated, model.ErrCodeInvalidCredential:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeNoRoleAssigned, model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case model.ErrCodeInvoiceNotFound, model.ErrCodeTimeEntryNotFound,
		model.ErrCodeNotConnected, model.ErrCodeUnknownIntegration, model.ErrCodeIntegrationDisabled:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		// UPSTREAM_ERROR, INTERNAL_ERROR
		return http.StatusInternalServerError
	}
}

// requireIdentity は認証済みユーザーを取り出す。
// 認証ミドルウェアの内側でのみ呼び出されるため、取り出せない場合は401を返す。
func requireIdentity(w http.ResponseWriter, r *http.Request) (*model.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}
	return identity, true
}
