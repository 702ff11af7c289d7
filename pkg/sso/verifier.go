package sso

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// allowedAlgorithms are the asymmetric JOSE signature algorithms accepted
// on ID tokens. Symmetric (HS*) algorithms are rejected: the client secret
// must never double as a signing key.
var allowedAlgorithms = map[jose.SignatureAlgorithm]bool{
	jose.RS256: true, jose.RS384: true, jose.RS512: true,
	jose.PS256: true, jose.PS384: true, jose.PS512: true,
	jose.ES256: true, jose.ES384: true, jose.ES512: true,
	jose.EdDSA: true,
}

// tokenHeader is the decoded JOSE header of a compact token
type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// TokenVerifier validates ID-token structure, resolves the signing key and
// verifies the signature. It holds no state of its own and never mutates
// anything; every failure mode is a distinct sentinel error.
type TokenVerifier struct {
	keys *KeySetFetcher
}

// NewTokenVerifier creates a new token verifier
func NewTokenVerifier(keys *KeySetFetcher) *TokenVerifier {
	return &TokenVerifier{keys: keys}
}

// Verify checks a compact ID token against the connection's key set and
// returns the decoded claims. There is no mode that skips verification.
func (v *TokenVerifier) Verify(ctx context.Context, conn *IdentityConnection, rawToken string) (Claims, error) {
	segments := strings.Split(rawToken, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrInvalidTokenFormat, len(segments))
	}
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("%w: empty segment", ErrInvalidTokenFormat)
		}
	}

	header, err := decodeHeader(segments[0])
	if err != nil {
		return nil, err
	}

	key, err := v.keys.SigningKey(ctx, conn, header.Kid)
	if err != nil {
		return nil, err
	}

	jws, err := jose.ParseSigned(rawToken, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(header.Alg)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	payload, err := jws.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	claims := Claims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidTokenFormat)
	}

	return claims, nil
}

// decodeHeader parses the first token segment
func decodeHeader(segment string) (*tokenHeader, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: header is not valid base64url", ErrInvalidHeader)
	}

	header := &tokenHeader{}
	if err := json.Unmarshal(raw, header); err != nil {
		return nil, fmt.Errorf("%w: header is not valid JSON", ErrInvalidHeader)
	}
	if header.Alg == "" {
		return nil, fmt.Errorf("%w: missing alg", ErrInvalidHeader)
	}
	if !allowedAlgorithms[jose.SignatureAlgorithm(header.Alg)] {
		return nil, fmt.Errorf("%w: unsupported alg %q", ErrInvalidHeader, header.Alg)
	}
	if header.Kid == "" {
		return nil, ErrMissingKeyID
	}

	return header, nil
}

// ValidateClaims checks the standard ID-token claims against the
// connection's configuration. Issuer comparison is exact: no trailing-slash
// normalization is applied.
func ValidateClaims(conn *IdentityConnection, claims Claims) error {
	if claims.String("iss") != conn.Issuer {
		return ErrInvalidIssuer
	}

	if !audienceMatches(claims["aud"], conn.ClientID) {
		return ErrInvalidAudience
	}

	exp := claims.Time("exp")
	if exp.IsZero() || !exp.After(time.Now()) {
		return ErrTokenExpired
	}

	if claims.String("sub") == "" {
		return ErrMissingSubject
	}

	return nil
}

// audienceMatches accepts a string aud equal to clientID, or an array aud
// containing it.
func audienceMatches(aud any, clientID string) bool {
	switch v := aud.(type) {
	case string:
		return v == clientID
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == clientID {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == clientID {
				return true
			}
		}
	}
	return false
}
