package jwtx

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded, verified payload of an access token: the registered
// fields the verifier contracts on, plus an explicit passthrough map for
// whatever else the identity provider put in the token. The passthrough
// never feeds verification decisions.
type Claims struct {
	jwt.RegisteredClaims

	// Extra holds non-registered claims verbatim (e.g. scope, email).
	Extra map[string]any `json:"-"`
}

// registeredClaimNames are stripped from the passthrough map; they already
// live in RegisteredClaims.
var registeredClaimNames = []string{"iss", "sub", "aud", "exp", "nbf", "iat", "jti"}

// UnmarshalJSON decodes the registered fields and collects everything else
// into Extra.
func (c *Claims) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &c.RegisteredClaims); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, name := range registeredClaimNames {
		delete(all, name)
	}
	if len(all) > 0 {
		c.Extra = all
	}
	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp). A token without an
// exp claim is rejected: this gateway never accepts unbounded credentials.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt == nil || !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	return nil
}

// ValidateNotBefore ensures the token isn't used before nbf, when present.
func (c *Claims) ValidateNotBefore(now time.Time) error {
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// ValidateIssuer checks the iss claim against the expected issuer.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks that the expected audience appears in the token's
// aud claim, which may be a single value or a list.
func (c *Claims) ValidateAudience(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if slices.Contains(c.Audience, expected) {
		return nil
	}
	return ErrAudience
}
