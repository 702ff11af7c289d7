// Package sso implements OpenID-Connect single sign-on: connection
// configuration, ID-token verification, claims mapping and user provisioning.
//
// # Login Flow
//
// A login attempt resolves an IdentityConnection (by slug or email domain),
// redirects the browser to the provider, and on callback exchanges the
// authorization code for an ID token. The token is always verified locally:
// KeySetFetcher resolves the provider's signing keys (discovery document
// first, /.well-known/jwks.json fallback, with a short-lived cache) and
// TokenVerifier checks structure, signature and the standard claims against
// the connection's configuration.
//
// ClaimsMapper turns verified claims into a normalized identity, honoring
// per-connection field-mapping overrides. ProvisioningService then finds or
// creates the local user. An external identity is never attached to an
// existing account that was not already linked; such logins fail with
// ErrAccountLinkingConflict.
//
// # Workspace Placement
//
// Workspace-scoped connections map identity-provider groups to a role via
// RoleMapper (most privileged group wins). Global connections join users to
// the workspace claiming their email domain, as members, via DomainJoiner.
//
// # Configuration
//
// Connections are managed through the admin CRUD in Handler. Client secrets
// are write-only: they never appear in responses, and updates that omit the
// secret keep the stored one.
package sso
