package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	// database/sql drivers for the two supported backends
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"pricewatch/internal/platform/logger"
)

// dbAdapter wraps *sql.DB and implements RowQuerier + TxRunner.
// Repos write SQL with `?` placeholders; for Postgres the adapter rewrites
// them to `$n` so both backends share one repo layer
type dbAdapter struct {
	db     *sql.DB
	driver string
	logSQL bool
	log    logger.Logger
}

func openSQL(ctx context.Context, cfg Config, log logger.Logger) (*dbAdapter, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, errors.New("store: unknown driver " + cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	// an in-memory sqlite db exists per connection; the pool must not fan out
	if cfg.Driver == DriverSQLite && strings.Contains(cfg.DSN, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	a := &dbAdapter{db: db, driver: cfg.Driver, logSQL: cfg.LogSQL, log: log}
	if err := a.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.Driver == DriverSQLite {
		// enforced per connection; harmless under the pool since every
		// repo statement goes through the same *sql.DB
		if _, err := a.Exec(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *dbAdapter) Ping(ctx context.Context) error {
	if a == nil || a.db == nil {
		return errors.New("store: nil adapter")
	}
	return a.db.PingContext(ctx)
}

func (a *dbAdapter) Close() error { return a.db.Close() }

func (a *dbAdapter) rebind(q string) string {
	if a.driver != DriverPostgres {
		return q
	}
	return rebindPositional(q)
}

func (a *dbAdapter) Exec(ctx context.Context, q string, args ...any) (CommandTag, error) {
	logQuery(a.log, a.logSQL, q)
	res, err := a.db.ExecContext(ctx, a.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	return tag{res}, nil
}

func (a *dbAdapter) Query(ctx context.Context, q string, args ...any) (Rows, error) {
	logQuery(a.log, a.logSQL, q)
	rs, err := a.db.QueryContext(ctx, a.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	return rows{r: rs}, nil
}

func (a *dbAdapter) QueryRow(ctx context.Context, q string, args ...any) Row {
	logQuery(a.log, a.logSQL, q)
	return a.db.QueryRowContext(ctx, a.rebind(q), args...)
}

func (a *dbAdapter) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	q := txQuerier{tx: tx, driver: a.driver, logSQL: a.logSQL, log: a.log}
	if err := fn(q); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txQuerier uses *sql.Tx to satisfy RowQuerier inside a Tx
type txQuerier struct {
	tx     *sql.Tx
	driver string
	logSQL bool
	log    logger.Logger
}

// logQuery emits the raw statement at debug level when LogSQL is on
func logQuery(log logger.Logger, enabled bool, q string) {
	if enabled {
		log.Debug().Str("sql", q).Msg("store query")
	}
}

func (t txQuerier) rebind(q string) string {
	if t.driver != DriverPostgres {
		return q
	}
	return rebindPositional(q)
}

func (t txQuerier) Exec(ctx context.Context, q string, args ...any) (CommandTag, error) {
	logQuery(t.log, t.logSQL, q)
	res, err := t.tx.ExecContext(ctx, t.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	return tag{res}, nil
}

func (t txQuerier) Query(ctx context.Context, q string, args ...any) (Rows, error) {
	logQuery(t.log, t.logSQL, q)
	rs, err := t.tx.QueryContext(ctx, t.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	return rows{r: rs}, nil
}

func (t txQuerier) QueryRow(ctx context.Context, q string, args ...any) Row {
	logQuery(t.log, t.logSQL, q)
	return t.tx.QueryRowContext(ctx, t.rebind(q), args...)
}

// rebindPositional converts `?` placeholders to `$1..$n`, leaving quoted
// literals untouched
func rebindPositional(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	inSingle, inDouble := false, false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '?' && !inSingle && !inDouble:
			n++
			b.WriteByte('$')
			b.WriteString(itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// adapters for database/sql to our tiny Rows/CommandTag

type rows struct{ r *sql.Rows }

func (x rows) Next() bool            { return x.r.Next() }
func (x rows) Scan(dst ...any) error { return x.r.Scan(dst...) }
func (x rows) Err() error            { return x.r.Err() }
func (x rows) Close()                { _ = x.r.Close() }
func (x rows) Columns() []string {
	cols, err := x.r.Columns()
	if err != nil {
		return nil
	}
	return cols
}

// wrap sql.Result so we satisfy our CommandTag interface
type tag struct{ res sql.Result }

func (t tag) String() string { return "" }
func (t tag) RowsAffected() int64 {
	n, err := t.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
