package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/statelylabs/sqlgate/pkg/jwtx"
	"github.com/statelylabs/sqlgate/pkg/slogx"
)

type ctxKey string

const (
	// CtxKeySubject carries the verified token subject.
	CtxKeySubject ctxKey = "subject"
	// CtxKeyClaims carries the full verified *jwtx.Claims.
	CtxKeyClaims ctxKey = "claims"
)

// TokenVerifier is what the authentication gate needs from pkg/jwtx.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwtx.Claims, error)
}

// AuthnMiddleware is the sole admission checkpoint in front of database
// work: it extracts the bearer token, verifies it, and either attaches the
// claims to the request context or rejects with 401. Every rejection looks
// identical to the client; the specific reason only goes to the log.
func AuthnMiddleware(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))
			if raw == "" {
				writeBearerError(w)
				return
			}

			claims, err := v.Verify(ctx, raw)
			if err != nil {
				// Never the token itself, never echoed to the client.
				log.Warn("token rejected", "reason", err)
				writeBearerError(w)
				return
			}

			ctx = contextWithAuth(ctx, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the verified subject, if any.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(CtxKeySubject).(string)
	return sub
}

// ClaimsFromContext returns the verified claims, if any.
func ClaimsFromContext(ctx context.Context) *jwtx.Claims {
	c, _ := ctx.Value(CtxKeyClaims).(*jwtx.Claims)
	return c
}

func contextWithAuth(ctx context.Context, c *jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeySubject, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyClaims, c)
	return ctx
}

// RFC 6750-compliant bearer rejection. Deliberately uniform: verification
// internals must not leak through the response.
func writeBearerError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
}
