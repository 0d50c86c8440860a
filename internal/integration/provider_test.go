package integration

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/invisibilled/internal/config"
	"github.com/hitoshi/invisibilled/internal/model"
	"github.com/hitoshi/invisibilled/internal/security"
)

func TestNewProvider_AppliesDefaults(t *testing.T) {
	p, err := NewProvider(model.IntegrationQuickBooks, config.IntegrationConfig{
		ClientID:    "qb-client",
		RedirectURI: "https://api.example.com/quickbooks/callback",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Enabled() {
		t.Error("provider with client id should be enabled")
	}
	if p.OAuth.Endpoint.TokenURL != "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer" {
		t.Errorf("TokenURL = %q", p.OAuth.Endpoint.TokenURL)
	}
	if p.APIBaseURL != "https://quickbooks.api.intuit.com/v3" {
		t.Errorf("APIBaseURL = %q", p.APIBaseURL)
	}
	if len(p.OAuth.Scopes) != 1 || p.OAuth.Scopes[0] != "com.intuit.quickbooks.accounting" {
		t.Errorf("Scopes = %v", p.OAuth.Scopes)
	}
}

func TestNewProvider_OverridesAndDisabled(t *testing.T) {
	p, err := NewProvider(model.IntegrationAsana, config.IntegrationConfig{
		APIBaseURL: "https://asana.example.com/api",
		Scopes:     []string{"tasks:read"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Enabled() {
		t.Error("provider without client id should be disabled")
	}
	if p.APIBaseURL != "https://asana.example.com/api" {
		t.Errorf("APIBaseURL = %q", p.APIBaseURL)
	}
	if p.OAuth.Scopes[0] != "tasks:read" {
		t.Errorf("Scopes = %v", p.OAuth.Scopes)
	}
}

func TestNewProvider_Unsupported(t *testing.T) {
	if _, err := NewProvider(model.Integration("harvest"), config.IntegrationConfig{}); err == nil {
		t.Error("expected error for unsupported integration")
	}
}

func TestNewProviders_FromConfig(t *testing.T) {
	cfg := &config.Config{
		Toggl: config.IntegrationConfig{ClientID: "t", RedirectURI: "https://api.example.com/toggl/callback"},
	}
	providers, err := NewProviders(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(providers) != 3 {
		t.Fatalf("providers = %d, want 3", len(providers))
	}
	if !providers[model.IntegrationToggl].Enabled() {
		t.Error("toggl should be enabled")
	}
	if providers[model.IntegrationAsana].Enabled() || providers[model.IntegrationQuickBooks].Enabled() {
		t.Error("asana and quickbooks should be disabled")
	}
}

func TestAuthCodeURL(t *testing.T) {
	p, _ := NewProvider(model.IntegrationAsana, config.IntegrationConfig{
		ClientID:    "asana-client",
		RedirectURI: "https://api.example.com/asana/callback",
	})
	svc := NewService(map[model.Integration]*Provider{model.IntegrationAsana: p}, &mockConnectionRepo{}, nil, nil, nil)

	raw, err := svc.AuthCodeURL(model.IntegrationAsana, "state-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(raw, "https://app.asana.com/-/oauth_authorize?") {
		t.Errorf("URL = %q", raw)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	want := map[string]string{
		"client_id":     "asana-client",
		"redirect_uri":  "https://api.example.com/asana/callback",
		"response_type": "code",
		"state":         "state-123",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestAuthCodeURL_DisabledAndUnknown(t *testing.T) {
	p, _ := NewProvider(model.IntegrationToggl, config.IntegrationConfig{})
	svc := NewService(map[model.Integration]*Provider{model.IntegrationToggl: p}, &mockConnectionRepo{}, nil, nil, nil)

	_, err := svc.AuthCodeURL(model.IntegrationToggl, "s")
	requireAPIError(t, err, model.ErrCodeIntegrationDisabled)

	_, err = svc.AuthCodeURL(model.IntegrationAsana, "s")
	requireAPIError(t, err, model.ErrCodeUnknownIntegration)
}

type rejectingValidator struct{ host string }

func (v rejectingValidator) ValidateEndpoint(rawURL string) error {
	if strings.Contains(rawURL, v.host) {
		return errors.New("blocked")
	}
	return nil
}

func TestValidateProviders(t *testing.T) {
	enabled, _ := NewProvider(model.IntegrationToggl, config.IntegrationConfig{
		ClientID:   "t",
		APIBaseURL: "https://10.0.0.5/api",
	})
	disabled, _ := NewProvider(model.IntegrationAsana, config.IntegrationConfig{
		APIBaseURL: "https://127.0.0.1/api",
	})
	providers := map[model.Integration]*Provider{
		model.IntegrationToggl: enabled,
		model.IntegrationAsana: disabled,
	}

	err := ValidateProviders(providers, security.NewOutboundGuard())
	if err == nil || !strings.Contains(err.Error(), "toggl") {
		t.Errorf("expected toggl endpoint error, got %v", err)
	}

	delete(providers, model.IntegrationToggl)
	if err := ValidateProviders(providers, rejectingValidator{host: "127.0.0.1"}); err != nil {
		t.Errorf("disabled providers should be skipped, got %v", err)
	}
}
