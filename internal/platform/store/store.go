// Package store provides a unified seam over the relational content store.
// It runs on SQLite (modernc, pure Go) or Postgres (pgx via database/sql)
// behind one RowQuerier/TxRunner surface
package store

import (
	"context"
	"errors"

	"pricewatch/internal/platform/logger"
)

// Store is the facade over the configured backend
// zero value is safe but does nothing
type Store struct {
	// Log is the logger used by subclients
	Log logger.Logger

	// SQL is the relational seam, nil when not opened
	SQL TxRunner

	driver string
}

// Row exposes the minimal scan contract a single row needs
type Row interface {
	Scan(dest ...any) error
}

// Rows exposes the minimal iteration and scan for a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
	Columns() []string
}

// CommandTag is a tiny interface to inspect command results
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier is the read and write surface repos use for sql
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner wraps transaction execution around a function
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// Pinger is any seam that can report readiness
type Pinger interface{ Ping(context.Context) error }

// Open constructs a Store for the configured driver
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{driver: cfg.Driver}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	// defaults for zero logger to avoid nil checks
	s.Log = s.Log.With().Logger()

	a, err := openSQL(ctx, cfg, s.Log)
	if err != nil {
		return nil, err
	}
	s.SQL = a
	return s, nil
}

// Guard verifies the configured seam is reachable
func (s *Store) Guard(ctx context.Context) error {
	if s == nil || s.SQL == nil {
		return errors.New("nil store")
	}
	if p, ok := any(s.SQL).(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Migrate applies the content-store schema; safe to call repeatedly
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.SQL == nil {
		return errors.New("nil store")
	}
	for _, stmt := range schemaFor(s.driver) {
		if _, err := s.SQL.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the backend gracefully
func (s *Store) Close(_ context.Context) error {
	if c, ok := s.SQL.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Option mutates the store during Open
type Option func(*Store) error

// WithLogger sets the store logger
func WithLogger(l logger.Logger) Option {
	return func(s *Store) error { s.Log = l; return nil }
}
