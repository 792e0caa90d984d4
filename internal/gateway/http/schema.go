// Package http exposes the gateway's JSON surface: a health probe and the
// two authenticated statement endpoints.
package http

// StatementRequest is the body of POST /query and POST /mutation.
type StatementRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params,omitempty"`
}

// QueryResponse is the success body of POST /query: column names in
// statement order, rows as ordered value lists.
type QueryResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// MutationResponse is the success body of POST /mutation.
type MutationResponse struct {
	RowsAffected int64 `json:"rowsAffected"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
