package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/invisibilled/internal/model"
)

func newCSRFHandler(t *testing.T, wantCalled bool) (http.Handler, *bool) {
	t.Helper()
	called := false
	mw := NewCSRFMiddleware(CSRFConfig{CookieSecure: false, CookieDomain: ""})
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !wantCalled {
			t.Fatal("handler should not be called")
		}
		called = true
		w.WriteHeader(http.StatusOK)
	})), &called
}

// withCookieIdentity はセッションCookieで認証済みのリクエストを作る。
func withCookieIdentity(r *http.Request) *http.Request {
	return r.WithContext(ContextWithIdentity(r.Context(), &model.Identity{
		UserID: "user_cookie",
		Role:   model.RoleAccountant,
		Source: model.CredentialSourceCookie,
	}))
}

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			handler, called := newCSRFHandler(t, true)

			req := withCookieIdentity(httptest.NewRequest(method, "/invoices", nil))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if !*called {
				t.Fatalf("handler should have been called for %s request", method)
			}
		})
	}
}

func TestCSRFMiddleware_HeaderCredential_SkipsValidation(t *testing.T) {
	handler, called := newCSRFHandler(t, true)

	req := httptest.NewRequest(http.MethodPost, "/invoices", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), &model.Identity{
		UserID: "user_header",
		Role:   model.RoleAdmin,
		Source: model.CredentialSourceHeader,
	}))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !*called {
		t.Fatal("handler should have been called for bearer-authenticated request")
	}
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestCSRFMiddleware_CookieCredential_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		cookieToken string
		headerToken string
	}{
		{"トークンなし", "", ""},
		{"ヘッダーなし", "token-abc", ""},
		{"Cookieなし", "", "token-abc"},
		{"不一致", "token-abc", "wrong-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := newCSRFHandler(t, false)

			req := withCookieIdentity(httptest.NewRequest(http.MethodPost, "/invoices", nil))
			if tt.cookieToken != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookieToken})
			}
			if tt.headerToken != "" {
				req.Header.Set(csrfHeaderName, tt.headerToken)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Code != model.ErrCodeCSRFInvalid {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFInvalid)
			}
		})
	}
}

func TestCSRFMiddleware_CookieCredential_ValidToken_PassesThrough(t *testing.T) {
	handler, called := newCSRFHandler(t, true)

	req := withCookieIdentity(httptest.NewRequest(http.MethodPatch, "/invoices/inv-1/pay", nil))
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "valid-token"})
	req.Header.Set(csrfHeaderName, "valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !*called {
		t.Fatal("handler should have been called with valid token")
	}
}

// Identityが無い状態変更リクエストは常に検証する
func TestCSRFMiddleware_AllStateMutatingMethods_RequireTokenWithoutIdentity(t *testing.T) {
	methods := []string{
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			handler, _ := newCSRFHandler(t, false)

			req := httptest.NewRequest(method, "/time-entries/te-1", nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusForbidden {
				t.Errorf("%s: status = %d, want %d", method, w.Result().StatusCode, http.StatusForbidden)
			}
		})
	}
}

func TestCSRFMiddleware_GETRequest_SetsCSRFCookie(t *testing.T) {
	mw := NewCSRFMiddleware(CSRFConfig{
		CookieSecure: true,
		CookieDomain: "example.com",
	})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var csrfCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			csrfCookie = c
			break
		}
	}

	if csrfCookie == nil {
		t.Fatal("expected CSRF cookie to be set on GET request")
	}
	if csrfCookie.Value == "" {
		t.Error("CSRF cookie value should not be empty")
	}
	if csrfCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("CSRF cookie SameSite = %v, want %v", csrfCookie.SameSite, http.SameSiteLaxMode)
	}
	if csrfCookie.HttpOnly {
		t.Error("CSRF cookie should NOT be HttpOnly (frontend needs to read it)")
	}
	if !csrfCookie.Secure {
		t.Error("CSRF cookie should be Secure when configured")
	}
}

func TestCSRFMiddleware_GETRequest_ExistingCookie_DoesNotReplace(t *testing.T) {
	handler, _ := newCSRFHandler(t, true)

	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			t.Error("CSRF cookie should not be re-set when already present")
		}
	}
}

// --- CSRFトークン取得エンドポイントのテスト ---

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{
		CookieSecure: false,
		CookieDomain: "example.com",
	})

	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Fatal("expected non-empty token in response")
	}

	var csrfCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			csrfCookie = c
			break
		}
	}
	if csrfCookie == nil {
		t.Fatal("expected CSRF cookie to be set")
	}
	if csrfCookie.Value != body.Token {
		t.Errorf("cookie value = %q, response token = %q; should match", csrfCookie.Value, body.Token)
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "existing-csrf-token" {
		t.Errorf("token = %q, want %q", body.Token, "existing-csrf-token")
	}
}
