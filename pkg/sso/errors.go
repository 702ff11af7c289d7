package sso

import "errors"

// Token verification errors. Each stage of the pipeline fails with its own
// sentinel so callers can log precise diagnostics without leaking which
// check failed to the end user.
var (
	// ErrInvalidTokenFormat is returned when the token is not three non-empty segments
	ErrInvalidTokenFormat = errors.New("invalid token format")
	// ErrInvalidHeader is returned when the token header is not valid JSON or lacks an alg
	ErrInvalidHeader = errors.New("invalid token header")
	// ErrMissingKeyID is returned when the token header lacks a kid
	ErrMissingKeyID = errors.New("token header missing key id")
	// ErrJWKSFetchFailed is returned when the provider's key set cannot be retrieved
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")
	// ErrInvalidJWKS is returned when the key set parses but contains zero keys
	ErrInvalidJWKS = errors.New("JWKS contains no keys")
	// ErrKeyNotFound is returned when no key in the set matches the requested kid
	ErrKeyNotFound = errors.New("no matching key found")
	// ErrSignatureInvalid is returned when the token signature does not verify
	ErrSignatureInvalid = errors.New("token signature verification failed")
)

// Claim validation errors.
var (
	// ErrInvalidIssuer is returned when iss does not equal the connection's issuer
	ErrInvalidIssuer = errors.New("token issuer does not match connection")
	// ErrInvalidAudience is returned when aud does not include the connection's client id
	ErrInvalidAudience = errors.New("token audience does not match connection")
	// ErrTokenExpired is returned when exp is in the past
	ErrTokenExpired = errors.New("token has expired")
	// ErrMissingSubject is returned when sub is absent or empty
	ErrMissingSubject = errors.New("token missing subject")
)

// Provisioning errors.
var (
	// ErrEmailRequired is returned when no claim or profile field yields an email
	ErrEmailRequired = errors.New("email is required for authentication")
	// ErrAccountLinkingConflict is returned when a new external identity would
	// attach to a pre-existing local account. Never linked silently.
	ErrAccountLinkingConflict = errors.New("an account with this email already exists")
	// ErrAccountBlocked is returned when the resolved user is blocked
	ErrAccountBlocked = errors.New("this account has been blocked")
)

// Connection resolution and transport errors.
var (
	// ErrConnectionNotFound covers both missing and disabled connections so
	// the distinction is never leaked externally.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrConnectionDisabled is used internally by the admin surface only
	ErrConnectionDisabled = errors.New("connection is disabled")
	// ErrInsecureTransport is returned when a login is attempted over plain HTTP in production
	ErrInsecureTransport = errors.New("insecure transport: HTTPS is required")
)
