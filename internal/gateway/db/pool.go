package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the slice of a database connection the pool and executor need.
// *pgx.Conn satisfies it; tests substitute fakes.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
}

// Dialer establishes one database connection.
type Dialer func(ctx context.Context) (Conn, error)

// PgxDialer dials PostgreSQL with the given connection string.
func PgxDialer(dsn string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Slot is exclusive use of one underlying connection. A slot is held by at
// most one caller at a time and must go back through Pool.Release on every
// exit path.
type Slot struct {
	conn Conn

	broken   atomic.Bool
	released atomic.Bool
}

// MarkBroken flags the slot's connection for discard on release. The
// executor calls this when it sees a connection-level failure.
func (s *Slot) MarkBroken() { s.broken.Store(true) }

// Broken reports whether the slot has been poisoned.
func (s *Slot) Broken() bool { return s.broken.Load() }

// Pool multiplexes callers onto at most max live database connections.
//
// Free slots live on a fixed-capacity channel (the admission gate); blocked
// acquirers are woken in FIFO order. Connections are dialed lazily the first
// time a slot is used and redialed lazily after a discard, so a releasing
// caller never pays for reconnection.
type Pool struct {
	dial           Dialer
	slots          chan *Slot
	max            int
	acquireTimeout time.Duration
	logger         *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewPool creates a pool with max slots. No connection is established yet.
func NewPool(dial Dialer, max int, acquireTimeout time.Duration, logger *slog.Logger) *Pool {
	p := &Pool{
		dial:           dial,
		slots:          make(chan *Slot, max),
		max:            max,
		acquireTimeout: acquireTimeout,
		logger:         logger,
		done:           make(chan struct{}),
	}
	for range max {
		p.slots <- &Slot{}
	}
	return p
}

// Acquire hands out a slot with a live connection, waiting cooperatively up
// to the acquire timeout for one to free. Deadline expiry returns
// ErrAcquireTimeout; cancellation of the caller's own context propagates
// as that context's error.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	acqCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	select {
	case slot := <-p.slots:
		if err := p.ensureConn(acqCtx, slot); err != nil {
			p.slots <- slot
			return nil, err
		}
		slot.broken.Store(false)
		slot.released.Store(false)
		return slot, nil

	case <-p.done:
		return nil, ErrPoolClosed

	case <-acqCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrAcquireTimeout
	}
}

// Release returns the slot to the pool. It is safe on every exit path and
// idempotent: a second release of the same acquisition is a no-op. An
// unhealthy or poisoned slot has its connection closed and goes back empty.
func (p *Pool) Release(slot *Slot, healthy bool) {
	if slot == nil || !slot.released.CompareAndSwap(false, true) {
		return
	}

	if !healthy || slot.broken.Load() {
		p.closeConn(slot)
	}

	// If the pool shut down while we held the slot, close the connection
	// here; Close may be blocked waiting to collect this slot.
	select {
	case <-p.done:
		p.closeConn(slot)
	default:
	}

	p.slots <- slot
}

// Ping checks connectivity by cycling one slot through a dial-and-ping.
func (p *Pool) Ping(ctx context.Context) error {
	slot, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	err = slot.conn.Ping(ctx)
	if err != nil {
		slot.MarkBroken()
	}
	p.Release(slot, err == nil)
	return err
}

// Close shuts the pool down and closes every idle connection. Slots still
// checked out are closed by their own Release.
func (p *Pool) Close(ctx context.Context) error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.done)
		for range p.max {
			select {
			case slot := <-p.slots:
				if slot.conn != nil && !slot.conn.IsClosed() {
					if err := slot.conn.Close(ctx); err != nil {
						errs = append(errs, err)
					}
					slot.conn = nil
				}
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
				return
			}
		}
	})
	return errors.Join(errs...)
}

// ensureConn dials the slot's connection if it is absent or was closed.
func (p *Pool) ensureConn(ctx context.Context, slot *Slot) error {
	if slot.conn != nil && !slot.conn.IsClosed() {
		return nil
	}

	conn, err := p.dial(ctx)
	if err != nil {
		slot.conn = nil
		return &ExecError{
			Kind:    KindConnection,
			Message: "database connection failed",
			Err:     fmt.Errorf("dial: %w", err),
		}
	}

	slot.conn = conn
	return nil
}

func (p *Pool) closeConn(slot *Slot) {
	if slot.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := slot.conn.Close(ctx); err != nil {
		p.logger.Warn("closing discarded connection", "err", err)
	}
	slot.conn = nil
	slot.broken.Store(false)
}
