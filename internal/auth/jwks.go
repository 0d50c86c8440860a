package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// JWKS はJSON Web Key Setを表す。
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK はJSON Web Keyを表す。RSA鍵のみ扱う。
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// jwksCache はkidごとの公開鍵をTTL付きで保持する。
type jwksCache struct {
	url         string
	secretKey   string
	httpClient  *http.Client
	ttl         time.Duration
	minInterval time.Duration
	now         func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time

	// refreshMu は再取得を1つに直列化する。lastAttemptとlastErrはrefreshMuで保護する。
	refreshMu   sync.Mutex
	lastAttempt time.Time
	lastErr     error
}

func newJWKSCache(url, secretKey string, client *http.Client, ttl, minInterval time.Duration, now func() time.Time) *jwksCache {
	return &jwksCache{
		url:         url,
		secretKey:   secretKey,
		httpClient:  client,
		ttl:         ttl,
		minInterval: minInterval,
		now:         now,
		keys:        make(map[string]*rsa.PublicKey),
	}
}

// key はkidに対応する公開鍵を返す。
// キャッシュが期限切れ、またはkidが未知の場合に再取得するが、
// 前回の取得からminInterval以内なら取得せず手元の鍵集合で判定する。
// 同時に発生した再取得は1回にまとめる。
func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok, fresh := c.lookup(kid); ok && fresh {
		return k, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// 待っている間に他のリクエストが再取得している場合がある
	k, ok, fresh := c.lookup(kid)
	if ok && fresh {
		return k, nil
	}

	if !c.lastAttempt.IsZero() && c.now().Sub(c.lastAttempt) < c.minInterval {
		if ok {
			return k, nil
		}
		if c.lastErr != nil {
			return nil, c.lastErr
		}
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}

	attempt := c.now()
	if err := c.refresh(ctx); err != nil {
		// 呼び出し元の中断は取得失敗として記録しない
		if ctx.Err() == nil {
			c.lastAttempt, c.lastErr = attempt, err
		}
		return nil, err
	}
	c.lastAttempt, c.lastErr = attempt, nil

	if k, ok, _ := c.lookup(kid); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

func (c *jwksCache) lookup(kid string) (*rsa.PublicKey, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[kid]
	return k, ok, c.now().Before(c.expiresAt)
}

// refresh はJWKSエンドポイントから鍵を取得してキャッシュを置き換える。
func (c *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	if c.secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for i := range set.Keys {
		jwk := &set.Keys[i]
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		pub, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			return fmt.Errorf("%w: kid %q: %v", ErrJWKSFetchFailed, jwk.Kid, err)
		}
		keys[jwk.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// jwkToRSAPublicKey はbase64url形式のn, eからRSA公開鍵を組み立てる。
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}
	if len(eBytes) > 4 {
		return nil, fmt.Errorf("exponent too large: %d bytes", len(eBytes))
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e < 2 {
		return nil, fmt.Errorf("invalid exponent %d", e)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
