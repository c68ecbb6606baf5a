package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"  // mysql
	_ "github.com/jackc/pgx/v5/stdlib"  // pgx
	_ "github.com/microsoft/go-mssqldb" // sqlserver
	_ "modernc.org/sqlite"              // sqlite
)

// Supported driver names as they appear in configuration.
const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
)

// dialect describes one supported backing database.
type dialect struct {
	sqlxDriver string
	migrations []string
}

var dialects = map[string]dialect{
	DriverSQLite:    {sqlxDriver: "sqlite", migrations: sqliteMigrations},
	DriverPostgres:  {sqlxDriver: "pgx", migrations: postgresMigrations},
	DriverMySQL:     {sqlxDriver: "mysql", migrations: mysqlMigrations},
	DriverSQLServer: {sqlxDriver: "sqlserver", migrations: sqlserverMigrations},
}

// Drivers returns the supported driver names, sorted.
func Drivers() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sqliteDSN resolves the SQLite connection string. An explicit DSN wins;
// otherwise the database file lives under dataDir, and an empty dataDir
// means in-memory (used by tests and ephemeral runs).
func sqliteDSN(dataDir, dsn string) (string, error) {
	if dsn != "" {
		return dsn, nil
	}
	if dataDir == "" {
		return ":memory:?_journal_mode=WAL", nil
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(dataDir, "gatewarden.db") + "?_journal_mode=WAL&_busy_timeout=5000", nil
}

// mysqlDSN ensures parseTime is on so DATETIME columns scan into time.Time,
// and clientFoundRows so RowsAffected reports matched rows like the other
// dialects (MySQL otherwise reports changed rows, which breaks idempotent
// update paths).
func mysqlDSN(dsn string) string {
	for _, param := range []string{"parseTime=true", "clientFoundRows=true"} {
		name := param[:strings.Index(param, "=")]
		if strings.Contains(dsn, name) {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + param
	}
	return dsn
}
