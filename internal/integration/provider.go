// Package integration は外部SaaS（Toggl Track、Asana、QuickBooks Online）との
// OAuth連携と、保存済みトークンを用いたAPI中継を提供する。
package integration

import (
	"fmt"

	"golang.org/x/oauth2"

	"github.com/hitoshi/invisibilled/internal/config"
	"github.com/hitoshi/invisibilled/internal/model"
)

// 連携先ごとの既定エンドポイント。環境変数で上書きできる。
var defaultEndpoints = map[model.Integration]config.IntegrationConfig{
	model.IntegrationToggl: {
		AuthURL:    "https://accounts.toggl.com/oauth/authorize",
		TokenURL:   "https://accounts.toggl.com/oauth/token",
		APIBaseURL: "https://api.track.toggl.com/api/v9",
	},
	model.IntegrationAsana: {
		AuthURL:    "https://app.asana.com/-/oauth_authorize",
		TokenURL:   "https://app.asana.com/-/oauth_token",
		APIBaseURL: "https://app.asana.com/api/1.0",
		Scopes:     []string{"default"},
	},
	model.IntegrationQuickBooks: {
		AuthURL:    "https://appcenter.intuit.com/connect/oauth2",
		TokenURL:   "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
		APIBaseURL: "https://quickbooks.api.intuit.com/v3",
		Scopes:     []string{"com.intuit.quickbooks.accounting"},
	},
}

// Provider は連携先1件分のOAuth設定とAPIのベースURL。
type Provider struct {
	Name       model.Integration
	OAuth      *oauth2.Config
	APIBaseURL string
	enabled    bool
}

// Enabled はクライアントIDが設定されているかを返す。
func (p *Provider) Enabled() bool {
	return p.enabled
}

// NewProvider は設定値と既定エンドポイントをマージしてProviderを生成する。
func NewProvider(name model.Integration, cfg config.IntegrationConfig) (*Provider, error) {
	def, ok := defaultEndpoints[name]
	if !ok {
		return nil, fmt.Errorf("unsupported integration: %s", name)
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = def.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = def.TokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = def.Scopes
	}

	return &Provider{
		Name: name,
		OAuth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		APIBaseURL: cfg.APIBaseURL,
		enabled:    cfg.Enabled(),
	}, nil
}

// NewProviders はConfigから全連携先のProviderを生成する。
func NewProviders(cfg *config.Config) (map[model.Integration]*Provider, error) {
	settings := map[model.Integration]config.IntegrationConfig{
		model.IntegrationToggl:      cfg.Toggl,
		model.IntegrationAsana:      cfg.Asana,
		model.IntegrationQuickBooks: cfg.QuickBooks,
	}

	providers := make(map[model.Integration]*Provider, len(settings))
	for name, c := range settings {
		p, err := NewProvider(name, c)
		if err != nil {
			return nil, err
		}
		providers[name] = p
	}
	return providers, nil
}

// EndpointValidator は連携エンドポイントURLの静的検証を行う。
type EndpointValidator interface {
	ValidateEndpoint(rawURL string) error
}

// ValidateProviders は有効な連携先のエンドポイントを検証する。
// 起動時に呼び出し、設定ミスでプライベートアドレスへ送信しないようにする。
func ValidateProviders(providers map[model.Integration]*Provider, v EndpointValidator) error {
	for _, name := range model.Integrations {
		p, ok := providers[name]
		if !ok || !p.Enabled() {
			continue
		}
		for _, u := range []string{p.OAuth.Endpoint.AuthURL, p.OAuth.Endpoint.TokenURL, p.APIBaseURL} {
			if err := v.ValidateEndpoint(u); err != nil {
				return fmt.Errorf("invalid %s endpoint: %w", name, err)
			}
		}
	}
	return nil
}
