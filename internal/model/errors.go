package model

import (
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string         // エラーコード
	Message  string         // エラーメッセージ
	Category string         // カテゴリ: auth, validation, billing, integration, system
	Action   string         // ユーザー向け対処方法
	Details  map[string]any // 任意の補足情報（不正フィールド、必要ロール等）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeInvalidCredential   = "INVALID_CREDENTIAL"
	ErrCodeNoRoleAssigned      = "NO_ROLE_ASSIGNED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvoiceNotFound     = "INVOICE_NOT_FOUND"
	ErrCodeTimeEntryNotFound   = "TIME_ENTRY_NOT_FOUND"
	ErrCodeNotConnected        = "NOT_CONNECTED"
	ErrCodeUnknownIntegration  = "UNKNOWN_INTEGRATION"
	ErrCodeIntegrationDisabled = "INTEGRATION_DISABLED"
	ErrCodeInvalidOAuthState   = "INVALID_OAUTH_STATE"
	ErrCodeUpstream            = "UPSTREAM_ERROR"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeCSRFInvalid         = "CSRF_INVALID"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
// fieldsには不正なフィールド名と理由を指定する。
func NewValidationError(fields map[string]string) *APIError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	details := make(map[string]any, len(fields))
	for name, reason := range fields {
		details[name] = reason
	}

	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("invalid input: %s", strings.Join(names, ", ")),
		Category: "validation",
		Action:   "Fix the listed fields and retry.",
		Details:  map[string]any{"fields": details},
	}
}

// NewInvalidRequestError はリクエストボディが解析できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "request body must be valid JSON",
		Category: "validation",
		Action:   "Send a well-formed JSON body.",
	}
}

// NewUnauthenticatedError は認証情報が無い場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "No token provided",
		Category: "auth",
		Action:   "Sign in and send the session token.",
	}
}

// NewInvalidCredentialError はトークン検証に失敗した場合のエラーを生成する。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "Invalid or expired token",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewNoRoleAssignedError はトークンにロールが含まれない場合のエラーを生成する。
func NewNoRoleAssignedError() *APIError {
	return &APIError{
		Code:     ErrCodeNoRoleAssigned,
		Message:  "No role assigned to this user",
		Category: "auth",
		Action:   "Ask an administrator to assign a role.",
	}
}

// NewForbiddenError はロールが不足している場合のエラーを生成する。
func NewForbiddenError(required []Role, actual Role) *APIError {
	roles := make([]string, len(required))
	for i, r := range required {
		roles[i] = string(r)
	}
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Insufficient role permissions",
		Category: "auth",
		Action:   "Ask an administrator for a role with access to this operation.",
		Details: map[string]any{
			"requiredRoles": roles,
			"yourRole":      string(actual),
		},
	}
}

// NewInvoiceNotFoundError は請求書が見つからない場合のエラーを生成する。
func NewInvoiceNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeInvoiceNotFound,
		Message:  fmt.Sprintf("invoice not found: %s", id),
		Category: "billing",
		Action:   "Check the invoice id.",
	}
}

// NewTimeEntryNotFoundError は作業記録が見つからない場合のエラーを生成する。
func NewTimeEntryNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeTimeEntryNotFound,
		Message:  fmt.Sprintf("time entry not found: %s", id),
		Category: "billing",
		Action:   "Check the time entry id.",
	}
}

// NewNotConnectedError は外部連携が未接続の場合のエラーを生成する。
func NewNotConnectedError(integration Integration) *APIError {
	return &APIError{
		Code:     ErrCodeNotConnected,
		Message:  fmt.Sprintf("%s is not connected", integration),
		Category: "integration",
		Action:   fmt.Sprintf("Connect via /%s/connect first.", integration),
	}
}

// NewUnknownIntegrationError は未対応の外部連携名が指定された場合のエラーを生成する。
func NewUnknownIntegrationError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownIntegration,
		Message:  fmt.Sprintf("unknown integration: %s", name),
		Category: "integration",
		Action:   "Use one of: toggl, asana, quickbooks.",
	}
}

// NewIntegrationDisabledError は設定されていない外部連携が指定された場合のエラーを生成する。
func NewIntegrationDisabledError(integration Integration) *APIError {
	return &APIError{
		Code:     ErrCodeIntegrationDisabled,
		Message:  fmt.Sprintf("%s integration is not configured", integration),
		Category: "integration",
		Action:   "Ask an administrator to configure the integration.",
	}
}

// NewInvalidOAuthStateError はOAuthコールバックのstate検証に失敗した場合のエラーを生成する。
func NewInvalidOAuthStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOAuthState,
		Message:  "invalid state parameter",
		Category: "integration",
		Action:   "Restart the connection flow.",
	}
}

// NewUpstreamError は外部APIの呼び出しに失敗した場合のエラーを生成する。
// 外部APIのレスポンス本文はログのみに記録し、利用者には返さない。
func NewUpstreamError(integration Integration) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("%s request failed", integration),
		Category: "integration",
		Action:   "Retry later or reconnect the integration.",
	}
}

// NewRateLimitedError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "system",
		Action:   "Wait and retry after the time in the Retry-After header.",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "Fetch /csrf-token and send it in the X-CSRF-Token header.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal Server Error",
		Category: "system",
		Action:   "Retry later.",
	}
}
