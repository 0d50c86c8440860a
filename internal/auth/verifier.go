// Package auth はIdP（Clerk）が発行したセッショントークンの検証と、
// クレームの正規化を提供する。
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken はトークンの形式・署名・クレームが不正な場合に返される。
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired はトークンの有効期限が切れている場合に返される。
	ErrTokenExpired = errors.New("token expired")

	// ErrUnknownKey はトークンのkidに対応する公開鍵が見つからない場合に返される。
	ErrUnknownKey = errors.New("unknown signing key")

	// ErrJWKSFetchFailed はJWKSの取得に失敗した場合に返される。
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")
)

// Claims は検証済みトークンから取り出した正規化済みのクレーム。
// 下流のコンポーネントはこの構造体のみを参照し、生のJWTクレームは扱わない。
type Claims struct {
	Subject         string
	Email           string
	Role            string // 未割り当ての場合は空
	SessionID       string
	AuthorizedParty string
	ExpiresAt       time.Time
}

// TokenVerifier はトークン検証のインターフェース。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Config はVerifierの設定。
type Config struct {
	// PEMKey が設定されている場合はJWKSを取得せず、この公開鍵で検証する。
	PEMKey string

	JWKSURL   string
	SecretKey string // JWKS取得時のBearerトークン
	CacheTTL  time.Duration

	// MinRefreshInterval はJWKS再取得の最短間隔。未知のkidが続いてもこの間隔より頻繁には取得しない。
	MinRefreshInterval time.Duration

	// AuthorizedParties が空でない場合、azpクレームがいずれかと一致する必要がある。
	AuthorizedParties []string

	HTTPClient *http.Client
	Leeway     time.Duration
}

// sessionClaims はClerkのセッショントークンのクレーム。
type sessionClaims struct {
	jwt.RegisteredClaims
	Email           string         `json:"email"`
	Role            string         `json:"role"`
	Metadata        map[string]any `json:"metadata"`
	PublicMetadata  map[string]any `json:"public_metadata"`
	SessionID       string         `json:"sid"`
	AuthorizedParty string         `json:"azp"`
}

// Verifier はRS256署名のセッショントークンを検証する。
type Verifier struct {
	staticKey         *rsa.PublicKey
	jwks              *jwksCache
	authorizedParties map[string]struct{}
	leeway            time.Duration
	now               func() time.Time
}

// NewVerifier はVerifierを生成する。
// PEMKeyのパースに失敗した場合はエラーを返す。
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = 30 * time.Second
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	v := &Verifier{
		authorizedParties: make(map[string]struct{}, len(cfg.AuthorizedParties)),
		leeway:            cfg.Leeway,
		now:               time.Now,
	}
	for _, p := range cfg.AuthorizedParties {
		v.authorizedParties[strings.TrimRight(p, "/")] = struct{}{}
	}

	if cfg.PEMKey != "" {
		// 環境変数では改行が\nとしてエスケープされることがある
		pem := strings.ReplaceAll(cfg.PEMKey, `\n`, "\n")
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("failed to parse CLERK_JWT_KEY: %w", err)
		}
		v.staticKey = key
		return v, nil
	}

	if cfg.JWKSURL == "" {
		return nil, errors.New("either PEM key or JWKS URL is required")
	}
	v.jwks = newJWKSCache(cfg.JWKSURL, cfg.SecretKey, cfg.HTTPClient, cfg.CacheTTL, cfg.MinRefreshInterval, v.clock)
	return v, nil
}

func (v *Verifier) clock() time.Time {
	return v.now()
}

// Verify はトークンの署名と時刻系クレームを検証し、正規化したClaimsを返す。
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	sc := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, sc,
		func(token *jwt.Token) (any, error) {
			if v.staticKey != nil {
				return v.staticKey, nil
			}
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("kid header not found")
			}
			return v.jwks.key(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, ErrJWKSFetchFailed):
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrJWKSFetchFailed)
		case errors.Is(err, ErrUnknownKey):
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrUnknownKey)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if sc.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if len(v.authorizedParties) > 0 && sc.AuthorizedParty != "" {
		if _, ok := v.authorizedParties[strings.TrimRight(sc.AuthorizedParty, "/")]; !ok {
			return nil, fmt.Errorf("%w: unauthorized party %q", ErrInvalidToken, sc.AuthorizedParty)
		}
	}

	claims := &Claims{
		Subject:         sc.Subject,
		Email:           sc.Email,
		Role:            resolveRole(sc),
		SessionID:       sc.SessionID,
		AuthorizedParty: sc.AuthorizedParty,
	}
	if sc.ExpiresAt != nil {
		claims.ExpiresAt = sc.ExpiresAt.Time
	}
	return claims, nil
}

// resolveRole はトップレベルのrole、metadata.role、public_metadata.roleの順にロールを探す。
func resolveRole(sc *sessionClaims) string {
	if r := strings.TrimSpace(sc.Role); r != "" {
		return r
	}
	for _, md := range []map[string]any{sc.Metadata, sc.PublicMetadata} {
		if r, ok := md["role"].(string); ok && strings.TrimSpace(r) != "" {
			return strings.TrimSpace(r)
		}
	}
	return ""
}

// compile-time interface check
var _ TokenVerifier = (*Verifier)(nil)
