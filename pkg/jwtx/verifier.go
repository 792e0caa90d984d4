package jwtx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Rejection reasons, ordered the way verification gates fire. Callers
// collapse these to a single "unauthenticated" answer; the distinct values
// exist for diagnostics.
var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrAlgMismatch = errors.New("jwtx: algorithm not allowed")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
)

// KeySource resolves a kid to a public key. *RemoteKeySet is the production
// implementation; tests substitute their own.
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

// VerifyOptions captures what the verifier enforces beyond the signature.
type VerifyOptions struct {
	// Issuer the token must carry (claims.iss). Required in practice;
	// empty means "don't care".
	Issuer string

	// Audience that must appear in claims.aud. Empty means "don't care".
	Audience string

	// Algorithms is the explicit allow-list checked against the token
	// header. The token's own alg claim is never trusted on its own.
	Algorithms []string
}

// Verifier validates bearer tokens against a key source: signature first,
// then expiry, not-before, issuer, and audience, in that order. First
// failure wins; there is no partial success.
type Verifier struct {
	keys KeySource
	opts VerifyOptions

	// now is swappable for tests.
	now func() time.Time
}

// NewVerifier builds a Verifier. An empty algorithm list defaults to RS256.
func NewVerifier(keys KeySource, opts VerifyOptions) *Verifier {
	if len(opts.Algorithms) == 0 {
		opts.Algorithms = []string{"RS256"}
	}
	return &Verifier{keys: keys, opts: opts, now: time.Now}
}

// Verify checks the token and returns its claims, or the first rejection
// reason. The only I/O it can perform is the key source's single coalesced
// refresh when the token names an unknown kid.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, v.keyfunc(ctx))
	if err != nil {
		return nil, mapParseError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSig
	}

	now := v.now().UTC()
	if err := claims.ValidateExpiry(now); err != nil {
		return nil, err
	}
	if err := claims.ValidateNotBefore(now); err != nil {
		return nil, err
	}
	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return nil, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return nil, err
	}

	return claims, nil
}

// keyfunc enforces the algorithm allow-list and resolves the signing key.
// Both checks run before any key material is handed to the parser.
func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg, _ := t.Header["alg"].(string)
		if !slices.Contains(v.opts.Algorithms, alg) {
			return nil, fmt.Errorf("%w: %q", ErrAlgMismatch, alg)
		}

		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			// No silent first-key fallback: without a kid we cannot pick a
			// key safely across rotations.
			return nil, fmt.Errorf("%w: missing kid header", ErrUnknownKID)
		}

		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			if errors.Is(err, ErrNoKey) {
				return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
			}
			return nil, err
		}
		return key, nil
	}
}

// mapParseError folds golang-jwt's error tree into our rejection reasons.
// Keyfunc errors (alg/kid/upstream) pass through unchanged.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrAlgMismatch),
		errors.Is(err, ErrUnknownKID),
		errors.Is(err, ErrKeysUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	}
}
