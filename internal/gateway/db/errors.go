package db

import (
	"errors"
	"fmt"
)

var (
	// ErrAcquireTimeout reports that no pool slot freed up within the
	// acquire timeout. This is the gateway's overload signal.
	ErrAcquireTimeout = errors.New("db: connection pool saturated")

	// ErrPoolClosed reports use of a pool after shutdown.
	ErrPoolClosed = errors.New("db: pool closed")
)

// ErrorKind classifies executor failures for the HTTP layer.
type ErrorKind string

const (
	// KindStatement covers failures of the statement itself: syntax errors,
	// constraint violations, policy rejections. The connection is fine.
	KindStatement ErrorKind = "statement"

	// KindConnection covers infrastructure failures: the connection dropped,
	// could not be established, or the database is unreachable. The slot
	// holding it must be discarded.
	KindConnection ErrorKind = "connection"
)

// ExecError wraps a driver-level failure with its classification. Message is
// safe to show for statement errors; connection errors keep driver detail
// out of client responses.
type ExecError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("db: %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("db: %s error: %s", e.Kind, e.Message)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsConnectionFailure reports whether err is a connection-kind ExecError.
func IsConnectionFailure(err error) bool {
	var xe *ExecError
	return errors.As(err, &xe) && xe.Kind == KindConnection
}
