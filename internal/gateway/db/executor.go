package db

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Mode distinguishes row-returning from row-affecting execution.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Request is one statement to execute: SQL text, positional parameters, and
// the endpoint's mode. Parameters travel to the driver as parameters; they
// are never spliced into the SQL text.
type Request struct {
	SQL    string
	Params []any
	Mode   Mode
}

// Result carries either a fully materialized row set (read) or an affected
// row count (write).
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// readVerbs are the leading keywords /query accepts. Everything else must go
// through /mutation, and vice versa for select.
var readVerbs = map[string]struct{}{
	"select":  {},
	"with":    {},
	"values":  {},
	"table":   {},
	"show":    {},
	"explain": {},
}

// Executor runs statements on a pool slot and maps driver results and
// failures into the gateway's shapes. It performs no semantic validation of
// the SQL beyond the read/write keyword policy.
type Executor struct {
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs req on the slot's connection. On a connection-level failure
// the slot is marked broken before returning, so the pool discards it.
func (e *Executor) Execute(ctx context.Context, slot *Slot, req Request) (*Result, error) {
	if err := checkMode(req); err != nil {
		return nil, err
	}

	switch req.Mode {
	case ModeWrite:
		return e.execWrite(ctx, slot, req)
	default:
		return e.execRead(ctx, slot, req)
	}
}

func (e *Executor) execRead(ctx context.Context, slot *Slot, req Request) (*Result, error) {
	rows, err := slot.conn.Query(ctx, req.SQL, req.Params...)
	if err != nil {
		return nil, e.wrap(slot, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	// Materialize fully before returning; no partial result crosses this
	// boundary.
	result := &Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, e.wrap(slot, err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, e.wrap(slot, err)
	}

	return result, nil
}

func (e *Executor) execWrite(ctx context.Context, slot *Slot, req Request) (*Result, error) {
	tag, err := slot.conn.Exec(ctx, req.SQL, req.Params...)
	if err != nil {
		return nil, e.wrap(slot, err)
	}
	return &Result{RowsAffected: tag.RowsAffected()}, nil
}

// checkMode enforces the endpoint policy: /query takes row-returning verbs
// only, /mutation refuses select.
func checkMode(req Request) error {
	verb := leadingKeyword(req.SQL)
	if verb == "" {
		return &ExecError{Kind: KindStatement, Message: "empty statement"}
	}

	_, isRead := readVerbs[verb]
	switch req.Mode {
	case ModeRead:
		if !isRead {
			return &ExecError{Kind: KindStatement, Message: "statement is not a query; use the mutation endpoint"}
		}
	case ModeWrite:
		if isRead {
			return &ExecError{Kind: KindStatement, Message: "statement is a query; use the query endpoint"}
		}
	}
	return nil
}

func leadingKeyword(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], "(;"))
}

// wrap classifies a driver failure. Server-reported errors (syntax,
// constraints) are statement errors and leave the connection usable;
// SQLSTATE class 08 and everything the server never got to answer
// (dial/teardown/cancel) poison the slot.
func (e *Executor) wrap(slot *Slot, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && !strings.HasPrefix(pgErr.Code, "08") {
		return &ExecError{Kind: KindStatement, Message: pgErr.Message, Err: err}
	}

	slot.MarkBroken()
	e.logger.Warn("connection-level execution failure", "err", err)
	return &ExecError{Kind: KindConnection, Message: "database request failed", Err: err}
}
