package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/formhive/formhive/pkg/observability"
)

const (
	// keySetCacheTTL bounds how long a fetched key set is reused. Providers
	// rotate keys, so minutes rather than hours.
	keySetCacheTTL = 5 * time.Minute
	// keySetCacheSize is the maximum number of cached key sets
	keySetCacheSize = 256
	// keySetFetchTimeout bounds every network call to the provider
	keySetFetchTimeout = 10 * time.Second
	// maxKeySetBody caps how much of a key-set response is read
	maxKeySetBody = 1 << 20
)

// KeySetFetcher retrieves and caches provider signing-key sets (JWKS).
// Concurrent requests may race to repopulate an expired entry; writes are
// idempotent and last-write-wins, so no locking beyond the cache's own.
type KeySetFetcher struct {
	client *http.Client
	cache  *lru.LRU[string, *jose.JSONWebKeySet]
	logger *observability.Logger
}

// NewKeySetFetcher creates a new key-set fetcher with a bounded TTL cache
func NewKeySetFetcher(logger *observability.Logger) *KeySetFetcher {
	return &KeySetFetcher{
		client: &http.Client{Timeout: keySetFetchTimeout},
		cache:  lru.NewLRU[string, *jose.JSONWebKeySet](keySetCacheSize, nil, keySetCacheTTL),
		logger: logger,
	}
}

// discoveryDocument is the subset of the OpenID configuration we read
type discoveryDocument struct {
	JWKSURI string `json:"jwks_uri"`
}

// SigningKey resolves the signing key identified by keyID for a connection.
// The key set comes from the connection's explicit jwks_uri override when
// set, otherwise from issuer discovery with a /.well-known/jwks.json
// fallback. A cached set that lacks the kid is refreshed once before
// failing with ErrKeyNotFound.
func (f *KeySetFetcher) SigningKey(ctx context.Context, conn *IdentityConnection, keyID string) (*jose.JSONWebKey, error) {
	cacheKey := fmt.Sprintf("%d|%s|%s", conn.ID, conn.Issuer, conn.Options.JWKSURI())

	if keySet, ok := f.cache.Get(cacheKey); ok {
		if key := findKey(keySet, keyID); key != nil {
			return key, nil
		}
		// Possible rotation since the set was cached; refresh before failing.
		f.cache.Remove(cacheKey)
	}

	keySet, err := f.fetchKeySet(ctx, conn)
	if err != nil {
		observability.JWKSFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.JWKSFetchesTotal.WithLabelValues("ok").Inc()

	f.cache.Add(cacheKey, keySet)

	if key := findKey(keySet, keyID); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
}

// fetchKeySet retrieves and parses the connection's key set
func (f *KeySetFetcher) fetchKeySet(ctx context.Context, conn *IdentityConnection) (*jose.JSONWebKeySet, error) {
	uri := conn.Options.JWKSURI()
	if uri == "" {
		uri = f.resolveJWKSURI(ctx, conn.Issuer)
	}

	body, err := f.get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}

	keySet := &jose.JSONWebKeySet{}
	if err := json.Unmarshal(body, keySet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	if len(keySet.Keys) == 0 {
		return nil, fmt.Errorf("%w: from %s", ErrInvalidJWKS, uri)
	}

	return keySet, nil
}

// resolveJWKSURI reads jwks_uri from the issuer's discovery document.
// Many providers omit the document, so falling back to the conventional
// /.well-known/jwks.json location is mandatory, not best-effort.
func (f *KeySetFetcher) resolveJWKSURI(ctx context.Context, issuer string) string {
	base := strings.TrimSuffix(issuer, "/")
	fallback := base + "/.well-known/jwks.json"

	body, err := f.get(ctx, base+"/.well-known/openid-configuration")
	if err != nil {
		f.logger.WithError(err).WithField("issuer", issuer).
			Debug("OIDC discovery failed, using well-known JWKS location")
		return fallback
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil || doc.JWKSURI == "" {
		f.logger.WithField("issuer", issuer).
			Debug("OIDC discovery document unusable, using well-known JWKS location")
		return fallback
	}

	return doc.JWKSURI
}

// get performs a bounded GET and returns the body for 2xx responses
func (f *KeySetFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxKeySetBody))
}

// findKey scans a key set for the key with the given kid
func findKey(keySet *jose.JSONWebKeySet, keyID string) *jose.JSONWebKey {
	for i := range keySet.Keys {
		if keySet.Keys[i].KeyID == keyID {
			return &keySet.Keys[i]
		}
	}
	return nil
}
