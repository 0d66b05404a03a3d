package store

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Config configures connectivity to the content store
type Config struct {
	// Driver is DriverSQLite or DriverPostgres
	Driver string

	// DSN is the driver-specific data source name
	// sqlite: a file path or "file:...?..." URI; pgx: a postgres URL
	DSN string

	// MaxConns bounds the pool; <=0 means driver default
	// SQLite memory databases are forced to a single connection
	MaxConns int

	// LogSQL enables statement logging through the store logger
	LogSQL bool
}
