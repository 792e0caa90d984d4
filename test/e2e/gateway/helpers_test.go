package gateway_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/statelylabs/sqlgate/internal/gateway/app"
)

/*
 * Shared setup for gateway end-to-end tests: a disposable PostgreSQL
 * container, a local JWKS endpoint standing in for the identity provider,
 * and the gateway itself running in-process against both.
 */

const (
	postgresImage    = "postgres:16-alpine"
	postgresPassword = "e2e-secret"

	testKid      = "e2e-key-001"
	testAudience = "sqlgate-e2e"
)

// testEnv is everything a test needs to talk to the running gateway.
type testEnv struct {
	baseURL string
	signKey *rsa.PrivateKey
	issuer  string
}

// setupGateway brings up the full stack and returns the environment. All
// pieces are torn down via t.Cleanup.
func setupGateway(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}

	dsn := startPostgres(t)

	signKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	issuer := startJWKS(t, &signKey.PublicKey)

	port := freePort(t)
	application, err := app.New(app.Config{
		Issuer:        issuer,
		Audience:      testAudience,
		JWKSURL:       issuer + "/.well-known/jwks.json",
		JWKSCacheTTL:  time.Hour,
		JWKSFetchTTL:  5 * time.Second,
		Algorithms:    []string{"RS256"},
		DatabaseURL:   dsn,
		MaxConns:      4,
		AcquireWait:   5 * time.Second,
		Env:           "test",
		LogLevel:      "warn",
		LogFormat:     "text",
		Port:          port,
		ShutdownGrace: 10 * time.Second,
	})
	require.NoError(t, err)

	go func() { _ = application.Run() }()
	t.Cleanup(func() { _ = application.Shutdown() })

	env := &testEnv{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		signKey: signKey,
		issuer:  issuer,
	}
	waitForHealthy(t, env.baseURL)
	return env
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_PASSWORD": postgresPassword,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "is Docker running?")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://postgres:%s@%s:%s/postgres?sslmode=disable",
		postgresPassword, host, port.Port())
}

// startJWKS serves the signing key's public half the way an identity
// provider would, and doubles as the token issuer URL.
func startJWKS(t *testing.T, pub *rsa.PublicKey) string {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": testKid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func waitForHealthy(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("gateway did not become healthy in time")
}

// token signs a test token; mutate tweaks the default claims before signing.
func (env *testEnv) token(t *testing.T, mutate func(claims jwt.MapClaims)) string {
	t.Helper()

	claims := jwt.MapClaims{
		"iss": env.issuer,
		"sub": "e2e-user",
		"aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(env.signKey)
	require.NoError(t, err)
	return signed
}

// post sends a statement request and decodes the JSON response body.
func (env *testEnv) post(t *testing.T, path, token string, body map[string]any) (int, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.baseURL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}
