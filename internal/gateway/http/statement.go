package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/statelylabs/sqlgate/internal/gateway/db"
	"github.com/statelylabs/sqlgate/pkg/httpx"
	"github.com/statelylabs/sqlgate/pkg/slogx"
)

// StatementHandler serves POST /query and POST /mutation; the two differ
// only in Mode. It runs strictly after the authentication gate.
type StatementHandler struct {
	Pool     *db.Pool
	Executor *db.Executor
	Mode     db.Mode
}

func (h *StatementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req StatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "query is required")
		return
	}

	slot, err := h.Pool.Acquire(ctx)
	if err != nil {
		h.writeAcquireError(w, log, err)
		return
	}

	// The slot goes back exactly once on every exit path; a connection-kind
	// failure flips it to unhealthy so the pool discards the connection.
	var execErr error
	defer func() {
		h.Pool.Release(slot, !db.IsConnectionFailure(execErr))
	}()

	result, execErr := h.Executor.Execute(ctx, slot, db.Request{
		SQL:    req.Query,
		Params: req.Params,
		Mode:   h.Mode,
	})
	if execErr != nil {
		h.writeExecError(w, log, execErr)
		return
	}

	if h.Mode == db.ModeWrite {
		httpx.WriteJSON(w, http.StatusOK, MutationResponse{RowsAffected: result.RowsAffected})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, QueryResponse{Columns: result.Columns, Rows: result.Rows})
}

func (h *StatementHandler) writeAcquireError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, db.ErrAcquireTimeout):
		log.Warn("pool saturated", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "server is at capacity, retry later")
	case errors.Is(err, db.ErrPoolClosed):
		httpx.WriteError(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		log.Warn("connection acquisition failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "database connection failed")
	}
}

func (h *StatementHandler) writeExecError(w http.ResponseWriter, log *slog.Logger, err error) {
	var xe *db.ExecError
	if errors.As(err, &xe) && xe.Kind == db.KindStatement {
		// Statement-level detail (syntax, constraint) is the caller's own
		// doing and safe to return.
		httpx.WriteError(w, http.StatusBadRequest, xe.Message)
		return
	}

	log.Warn("statement execution failed", "err", err)
	httpx.WriteError(w, http.StatusInternalServerError, "database request failed")
}
