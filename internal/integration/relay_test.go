package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/hitoshi/invisibilled/internal/metrics"
	"github.com/hitoshi/invisibilled/internal/model"
)

func storedConn(integration model.Integration) *model.Connection {
	return &model.Connection{
		ID:          "c-1",
		Integration: integration,
		UserID:      "user_1",
		AccessToken: "stored-token",
		TokenType:   "Bearer",
	}
}

func TestRelay_NotConnected(t *testing.T) {
	ts := newVendorServer(t, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("vendor should not be called, got %s", r.URL.Path)
		},
	})
	svc, _, _ := newTestService(t, ts, connectedAs(nil))
	ctx := context.Background()

	calls := map[string]func() (json.RawMessage, error){
		"toggl time entries": func() (json.RawMessage, error) { return svc.TogglTimeEntries(ctx, "user_1", "", "") },
		"toggl projects":     func() (json.RawMessage, error) { return svc.TogglProjects(ctx, "user_1") },
		"asana workspaces":   func() (json.RawMessage, error) { return svc.AsanaWorkspaces(ctx, "user_1") },
		"asana tasks":        func() (json.RawMessage, error) { return svc.AsanaTasks(ctx, "user_1", "p") },
		"qb company":         func() (json.RawMessage, error) { return svc.QuickBooksCompany(ctx, "user_1") },
		"qb invoices":        func() (json.RawMessage, error) { return svc.QuickBooksInvoices(ctx, "user_1") },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			_, err := call()
			requireAPIError(t, err, model.ErrCodeNotConnected)
		})
	}
}

func TestTogglTimeEntries_RelaysBodyAndQuery(t *testing.T) {
	ts := newVendorServer(t, map[string]http.HandlerFunc{
		"/api/me/time_entries": func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer stored-token" {
				t.Errorf("Authorization = %q", got)
			}
			if r.URL.Query().Get("start_date") != "2026-02-01" || r.URL.Query().Get("end_date") != "2026-02-28" {
				t.Errorf("query = %s", r.URL.RawQuery)
			}
			w.Write([]byte(`[{"id":1,"duration":3600}]`))
		},
	})
	svc, collector, _ := newTestService(t, ts, connectedAs(storedConn(model.IntegrationToggl)))

	body, err := svc.TogglTimeEntries(context.Background(), "user_1", "2026-02-01", "2026-02-28")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `[{"id":1,"duration":3600}]` {
		t.Errorf("body = %s", body)
	}
	if len(collector.calls) != 1 || collector.calls[0].outcome != metrics.OutcomeSuccess {
		t.Errorf("calls = %v", collector.calls)
	}
}

func TestTogglProjects_UsesWorkspace(t *testing.T) {
	ts := newVendorServer(t, map[string]http.HandlerFunc{
		"/api/workspaces/4242/projects": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"id":9,"name":"Website"}]`))
		},
		"/api/me/projects": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		},
	})
	c := storedConn(model.IntegrationToggl)
	c.WorkspaceID = "4242"
	svc, _, _ := newTestService(t, ts, connectedAs(c))

	body, err := svc.TogglProjects(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(body), "Website") {
		t.Errorf("body = %s", body)
	}

	c.WorkspaceID = ""
	body, err = svc.TogglProjects(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `[]` {
		t.Errorf("fallback body = %s", body)
	}
}

func TestAsanaTasks(t *testing.T) {
	var gotQuery map[string]string
	ts := newVendorServer(t, map[string]http.HandlerFunc{
		"/api/tasks": func(w http.ResponseWriter, r *http.Request) {
			gotQuery = map[string]string{}
			for k := range r.URL.Query() {
				gotQuery[k] = r.URL.Query().Get(k)
			}
			w.Write([]byte(`{"data":[]}`))
		},
	})
	c := storedConn(model.IntegrationAsana)
	svc, _, _ := newTestService(t, ts, connectedAs(c))
	ctx := context.Background()

	if _, err := svc.AsanaTasks(ctx, "user_1", "proj-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery["project"] != "proj-1" {
		t.Errorf("query = %v", gotQuery)
	}

	_, err := svc.AsanaTasks(ctx, "user_1", "")
	requireAPIError(t, err, model.ErrCodeValidation)

	c.WorkspaceID = "111"
	if _, err := svc.AsanaTasks(ctx, "user_1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery["workspace"] != "111" || gotQuery["assignee"] != "me" {
		t.Errorf("query = %v", gotQuery)
	}
}

func TestQuickBooks_UsesRealmID(t *testing.T) {
	ts := newVendorServer(t, map[string]http.HandlerFunc{
		"/api/company/9130/companyinfo/9130": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"CompanyInfo":{"CompanyName":"Acme"}}`))
		},
		"/api/company/9130/query": func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Query().Get("query"), "select * from Invoice") {
				t.Errorf("query = %q", r.URL.Query().Get("query"))
			}
			w.Write([]byte(`{"QueryResponse":{"Invoice":[]}}`))
		},
	})
	c := storedConn(model.IntegrationQuickBooks)
	c.RealmID = "9130"
	svc, _, _ := newTestService(t, ts, connectedAs(c))

	company, err := svc.QuickBooksCompany(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(company), "Acme") {
		t.Errorf("company = %s", company)
	}
	if _, err := svc.QuickBooksInvoices(context.Background(), "user_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRelay_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantLog string
	}{
		{
			name: "期限切れトークン",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"errors":[{"message":"Not Authorized"}]}`))
			},
			wantLog: "Not Authorized",
		},
		{
			name: "サーバーエラー",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(strings.Repeat("x", maxErrorBodyBytes*2)))
			},
			wantLog: `"http_status":502`,
		},
		{
			name: "JSONでないレスポンス",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>maintenance</html>`))
			},
			wantLog: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newVendorServer(t, map[string]http.HandlerFunc{"/api/workspaces": tt.handler})
			svc, collector, logs := newTestService(t, ts, connectedAs(storedConn(model.IntegrationAsana)))

			_, err := svc.AsanaWorkspaces(context.Background(), "user_1")

			apiErr := requireAPIError(t, err, model.ErrCodeUpstream)
			if strings.Contains(apiErr.Message, "Not Authorized") {
				t.Error("vendor body must not leak into the API error")
			}
			if !strings.Contains(logs.String(), tt.wantLog) {
				t.Errorf("log should contain %q, got %s", tt.wantLog, logs.String())
			}
			if len(logs.String()) > maxErrorBodyBytes*2 {
				t.Errorf("logged body should be truncated, log size = %d", len(logs.String()))
			}
			if len(collector.calls) != 1 || collector.calls[0].outcome != metrics.OutcomeFailure {
				t.Errorf("calls = %v", collector.calls)
			}
		})
	}
}

func TestRelay_TransportError(t *testing.T) {
	ts := newVendorServer(t, nil)
	svc, _, logs := newTestService(t, ts, connectedAs(storedConn(model.IntegrationAsana)))
	ts.Close()

	_, err := svc.AsanaWorkspaces(context.Background(), "user_1")

	requireAPIError(t, err, model.ErrCodeUpstream)
	if !strings.Contains(logs.String(), "upstream request failed") {
		t.Errorf("log = %s", logs.String())
	}
}
