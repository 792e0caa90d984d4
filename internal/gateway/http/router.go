package http

import (
	"log/slog"
	"net/http"

	"github.com/statelylabs/sqlgate/internal/gateway/db"
	"github.com/statelylabs/sqlgate/pkg/httpx"
	"github.com/statelylabs/sqlgate/pkg/slogx"
)

// Router holds shared dependencies for the gateway's handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier httpx.TokenVerifier
	pool     *db.Pool
	executor *db.Executor
	logger   *slog.Logger
}

func NewRouter(
	verifier httpx.TokenVerifier,
	pool *db.Pool,
	executor *db.Executor,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:      http.NewServeMux(),
		verifier: verifier,
		pool:     pool,
		executor: executor,
		logger:   logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.Mux.Handle("GET /health",
		httpx.Chain(HealthHandler(),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// Both statement endpoints sit behind the authentication gate; no route
	// reaches the pool without it.
	queryHandler := &StatementHandler{Pool: r.pool, Executor: r.executor, Mode: db.ModeRead}
	r.Mux.Handle("POST /query",
		httpx.Chain(queryHandler,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	mutationHandler := &StatementHandler{Pool: r.pool, Executor: r.executor, Mode: db.ModeWrite}
	r.Mux.Handle("POST /mutation",
		httpx.Chain(mutationHandler,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

// ServeHTTP applies the global middleware chain around the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}
