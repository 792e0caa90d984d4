package gateway_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// One stack for the whole flow: schema setup through /mutation, data in and
// out through both endpoints, and the authentication gate around them.
func TestGateway_EndToEnd(t *testing.T) {
	env := setupGateway(t)
	token := env.token(t, nil)

	t.Run("health needs no token", func(t *testing.T) {
		resp, err := http.Get(env.baseURL + "/health")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("statements require a token", func(t *testing.T) {
		code, _ := env.post(t, "/query", "", map[string]any{"query": "SELECT 1"})
		require.Equal(t, http.StatusUnauthorized, code)

		code, _ = env.post(t, "/mutation", "", map[string]any{"query": "DELETE FROM users"})
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		expired := env.token(t, func(claims jwt.MapClaims) {
			claims["exp"] = time.Now().Add(-time.Minute).Unix()
		})
		code, _ := env.post(t, "/query", expired, map[string]any{"query": "SELECT 1"})
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("audience mismatch rejected", func(t *testing.T) {
		wrongAud := env.token(t, func(claims jwt.MapClaims) {
			claims["aud"] = "someone-else"
		})
		code, _ := env.post(t, "/query", wrongAud, map[string]any{"query": "SELECT 1"})
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("schema setup via mutation", func(t *testing.T) {
		code, _ := env.post(t, "/mutation", token, map[string]any{
			"query": "CREATE TABLE e2e_users (id serial PRIMARY KEY, name text NOT NULL)",
		})
		require.Equal(t, http.StatusOK, code)
	})

	t.Run("insert reports affected rows", func(t *testing.T) {
		code, body := env.post(t, "/mutation", token, map[string]any{
			"query":  "INSERT INTO e2e_users (name) VALUES ($1)",
			"params": []any{"ann"},
		})
		require.Equal(t, http.StatusOK, code)
		require.EqualValues(t, 1, body["rowsAffected"])
	})

	t.Run("query returns columns and rows", func(t *testing.T) {
		code, body := env.post(t, "/query", token, map[string]any{
			"query":  "SELECT id, name FROM e2e_users WHERE name = $1",
			"params": []any{"ann"},
		})
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, []any{"id", "name"}, body["columns"])

		rows := body["rows"].([]any)
		require.Len(t, rows, 1)
		require.Equal(t, "ann", rows[0].([]any)[1])
	})

	t.Run("injection payload stays a literal", func(t *testing.T) {
		payload := "'; DROP TABLE e2e_users; --"

		code, body := env.post(t, "/mutation", token, map[string]any{
			"query":  "INSERT INTO e2e_users (name) VALUES ($1)",
			"params": []any{payload},
		})
		require.Equal(t, http.StatusOK, code)
		require.EqualValues(t, 1, body["rowsAffected"])

		// The table survived and the payload is stored verbatim.
		code, body = env.post(t, "/query", token, map[string]any{
			"query":  "SELECT name FROM e2e_users WHERE name = $1",
			"params": []any{payload},
		})
		require.Equal(t, http.StatusOK, code)
		rows := body["rows"].([]any)
		require.Len(t, rows, 1)
		require.Equal(t, payload, rows[0].([]any)[0])
	})

	t.Run("mode policy enforced", func(t *testing.T) {
		code, body := env.post(t, "/query", token, map[string]any{
			"query": "DELETE FROM e2e_users",
		})
		require.Equal(t, http.StatusBadRequest, code)
		require.Contains(t, body["error"], "mutation endpoint")

		code, body = env.post(t, "/mutation", token, map[string]any{
			"query": "SELECT * FROM e2e_users",
		})
		require.Equal(t, http.StatusBadRequest, code)
		require.Contains(t, body["error"], "query endpoint")
	})

	t.Run("syntax error surfaces as 400", func(t *testing.T) {
		code, body := env.post(t, "/query", token, map[string]any{
			"query": "SELECT * FORM e2e_users",
		})
		require.Equal(t, http.StatusBadRequest, code)
		require.NotEmpty(t, body["error"])
	})

	t.Run("gateway still healthy after errors", func(t *testing.T) {
		code, body := env.post(t, "/query", token, map[string]any{
			"query": "SELECT count(*) FROM e2e_users",
		})
		require.Equal(t, http.StatusOK, code)
		require.Len(t, body["rows"].([]any), 1)
	})
}
