// ABOUTME: Maps connection URLs onto database/sql driver names and DSNs.
// ABOUTME: sqlite uses modernc, postgres uses pgx, mysql/mariadb use go-sql-driver.

package sqldb

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects catalog queries and placeholder style.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
	MySQL
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "PostgreSQL"
	case MySQL:
		return "MySQL"
	default:
		return "SQLite"
	}
}

// Connection is a parsed connection string.
type Connection struct {
	Driver  string
	DSN     string
	Dialect Dialect
}

// ErrUnsupportedScheme is returned for connection strings no driver handles.
var ErrUnsupportedScheme = errors.New("unsupported connection string scheme")

// cgoSQLite3 is set by the cgo build when github.com/mattn/go-sqlite3 is linked.
var cgoSQLite3 bool

// ParseConnection inspects the scheme of conn and returns the driver to open it with.
//
//	sqlite::memory:, sqlite:path, sqlite://path  -> modernc.org/sqlite
//	sqlite3:path, sqlite3://path                 -> github.com/mattn/go-sqlite3 (cgo builds)
//	postgres://..., postgresql://...             -> pgx
//	mysql://..., mariadb://...                   -> go-sql-driver/mysql
func ParseConnection(conn string) (Connection, error) {
	conn = strings.TrimSpace(conn)
	switch {
	case hasScheme(conn, "postgres", "postgresql"):
		return Connection{Driver: "pgx", DSN: conn, Dialect: Postgres}, nil

	case hasScheme(conn, "mysql", "mariadb"):
		dsn, err := mysqlDSN(conn)
		if err != nil {
			return Connection{}, err
		}
		return Connection{Driver: "mysql", DSN: dsn, Dialect: MySQL}, nil

	case strings.HasPrefix(conn, "sqlite3:"):
		if !cgoSQLite3 {
			return Connection{}, fmt.Errorf("%w: sqlite3: requires a cgo build, use sqlite: instead", ErrUnsupportedScheme)
		}
		return Connection{Driver: "sqlite3", DSN: sqlitePath(conn, "sqlite3:"), Dialect: SQLite}, nil

	case strings.HasPrefix(conn, "sqlite:"):
		return Connection{Driver: "sqlite", DSN: sqlitePath(conn, "sqlite:"), Dialect: SQLite}, nil
	}

	scheme, _, _ := strings.Cut(conn, ":")
	return Connection{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
}

func hasScheme(conn string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(conn, s+"://") {
			return true
		}
	}
	return false
}

// sqlitePath strips the scheme and an optional "//" authority marker.
func sqlitePath(conn, prefix string) string {
	rest := strings.TrimPrefix(conn, prefix)
	rest = strings.TrimPrefix(rest, "//")
	if rest == "" {
		return ":memory:"
	}
	return rest
}

// mysqlDSN converts a mysql:// URL into a go-sql-driver DSN.
func mysqlDSN(conn string) (string, error) {
	u, err := url.Parse(conn)
	if err != nil {
		return "", fmt.Errorf("parse mysql url: %w", err)
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.ParseTime = true
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}

	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := u.Port()
	if port == "" {
		port = "3306"
	}
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = strings.TrimPrefix(u.Path, "/")

	if q := u.Query(); len(q) > 0 {
		cfg.Params = make(map[string]string, len(q))
		for k := range q {
			cfg.Params[k] = q.Get(k)
		}
	}
	return cfg.FormatDSN(), nil
}
