// ABOUTME: SQL backend (mcpz-sql) exposing query, list_tables, describe_table and execute.
// ABOUTME: Statements pass the access-mode guard and run under a per-statement timeout.

package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/2389/mcpz/internal/guard"
	"github.com/2389/mcpz/internal/mcp"
	"github.com/2389/mcpz/internal/version"
)

// ServerName is reported in serverInfo.
const ServerName = "mcpz-sql"

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxOpenConns = 5
)

// ErrWriteNotAllowed is returned by Execute on a read-only backend.
var ErrWriteNotAllowed = errors.New("write operations not allowed in readonly mode: use --fullaccess to enable")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Config configures the SQL backend.
type Config struct {
	Connection   string
	Mode         guard.AccessMode
	Timeout      time.Duration
	MaxOpenConns int
	Logger       *slog.Logger
}

// Backend implements mcp.Backend over a database/sql pool.
type Backend struct {
	db      *sql.DB
	dialect Dialect
	mode    guard.AccessMode
	timeout time.Duration
	logger  *slog.Logger
}

// QueryResult is the payload of the query tool.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// ExecuteResult is the payload of the execute tool.
type ExecuteResult struct {
	RowsAffected int64  `json:"rows_affected"`
	Message      string `json:"message"`
}

// TableInfo is one list_tables row.
type TableInfo struct {
	Name      string `json:"name"`
	TableType string `json:"table_type"`
}

// ColumnInfo is one describe_table row.
type ColumnInfo struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
}

// New opens and pings the database named by cfg.Connection.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	conn, err := ParseConnection(cfg.Connection)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	db, err := sql.Open(conn.Driver, conn.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to an in-memory sqlite database is a separate database.
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConns
	}
	if conn.Dialect == SQLite {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", conn.Dialect, err)
	}

	logger.Info("database connected",
		"database", conn.Dialect.String(),
		"mode", cfg.Mode.String(),
		"timeout", timeout,
	)

	return &Backend{
		db:      db,
		dialect: conn.Dialect,
		mode:    cfg.Mode,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	return b.db.Close()
}

// DB exposes the pool for callers that need to seed or inspect it.
func (b *Backend) DB() *sql.DB { return b.db }

// Name returns the serverInfo name.
func (b *Backend) Name() string { return ServerName }

// Version returns the serverInfo version.
func (b *Backend) Version() string { return version.Version }

// Tools lists query, list_tables and describe_table, plus execute in
// full-access mode.
func (b *Backend) Tools() []mcp.Tool {
	tools := []mcp.Tool{
		{
			Name:        "query",
			Description: "Execute a SQL query and return results. Use for SELECT statements and data retrieval.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"sql":{"type":"string","description":"SQL query to execute (SELECT, SHOW, DESCRIBE, EXPLAIN)"}},"required":["sql"]}`),
		},
		{
			Name:        "list_tables",
			Description: "List all tables and views in the database",
			InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
		},
		{
			Name:        "describe_table",
			Description: "Get the schema/structure of a specific table",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"table_name":{"type":"string","description":"Name of the table to describe"}},"required":["table_name"]}`),
		},
	}
	if b.mode == guard.FullAccess {
		tools = append(tools, mcp.Tool{
			Name:        "execute",
			Description: "Execute a SQL statement that modifies data (INSERT, UPDATE, DELETE, CREATE, DROP, etc.)",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"sql":{"type":"string","description":"SQL statement to execute"}},"required":["sql"]}`),
		})
	}
	return tools
}

// CallTool runs one SQL tool and encodes its payload as indented JSON.
func (b *Backend) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	var (
		payload any
		err     error
	)

	switch name {
	case "query":
		var sqlText string
		if sqlText, err = stringArg(args, "sql"); err == nil {
			payload, err = b.Query(ctx, sqlText)
		}
	case "execute":
		var sqlText string
		if sqlText, err = stringArg(args, "sql"); err == nil {
			payload, err = b.Execute(ctx, sqlText)
		}
	case "list_tables":
		payload, err = b.ListTables(ctx)
	case "describe_table":
		var table string
		if table, err = stringArg(args, "table_name"); err == nil {
			payload, err = b.DescribeTable(ctx, table)
		}
	default:
		return mcp.ErrorResult("Unknown tool: %s", name), nil
	}

	if err != nil {
		b.logger.Debug("sql tool failed", "tool", name, "error", err)
		return mcp.ErrorResult("%v", err), nil
	}

	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", name, err)
	}
	return mcp.TextResult(string(text)), nil
}

func stringArg(args json.RawMessage, key string) (string, error) {
	var m map[string]json.RawMessage
	if err := mcp.DecodeArguments(args, &m); err != nil {
		return "", err
	}
	raw, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing '%s' argument", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("'%s' must be a string", key)
	}
	return s, nil
}

// Query runs a read statement after the access-mode check. In read-only mode
// the statement runs in a transaction that the database itself keeps read-only
// and that is always rolled back.
func (b *Backend) Query(ctx context.Context, sqlText string) (*QueryResult, error) {
	if err := guard.CheckStatement(sqlText, b.mode); err != nil {
		b.logger.Warn("statement denied", "sql", sqlText)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.logger.Debug("executing query", "sql", sqlText, "mode", b.mode.String())
	if b.mode == guard.ReadOnly {
		return b.readOnlyQuery(ctx, sqlText)
	}

	rows, err := b.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, b.statementError(ctx, err)
	}
	return b.collectRows(ctx, rows)
}

// readOnlyQuery pins one connection, turns on query_only for sqlite (the two
// sqlite drivers treat TxOptions.ReadOnly differently) and runs sqlText inside
// a read-only transaction. A statement led by WITH or PRAGMA can still write.
func (b *Backend) readOnlyQuery(ctx context.Context, sqlText string) (*QueryResult, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, b.statementError(ctx, err)
	}
	defer conn.Close()

	txOpts := &sql.TxOptions{ReadOnly: true}
	if b.dialect == SQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return nil, fmt.Errorf("enabling query_only: %w", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
				b.logger.Warn("failed to reset query_only", "error", err)
			}
		}()
		txOpts = nil
	}

	tx, err := conn.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, b.statementError(ctx, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, b.statementError(ctx, err)
	}
	return b.collectRows(ctx, rows)
}

// collectRows drains and closes rows into a QueryResult.
func (b *Backend) collectRows(ctx context.Context, rows *sql.Rows) (*QueryResult, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range values {
			values[i] = jsonValue(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, b.statementError(ctx, err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// Execute runs a modifying statement. Only valid in full-access mode, where
// the execute tool is listed; read-only backends refuse it outright.
func (b *Backend) Execute(ctx context.Context, sqlText string) (*ExecuteResult, error) {
	if b.mode != guard.FullAccess {
		return nil, ErrWriteNotAllowed
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.logger.Info("executing statement", "sql", sqlText)
	res, err := b.db.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, b.statementError(ctx, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &ExecuteResult{
		RowsAffected: affected,
		Message:      fmt.Sprintf("Statement executed successfully. %d row(s) affected.", affected),
	}, nil
}

// ListTables lists tables and views in the current database or schema.
func (b *Backend) ListTables(ctx context.Context) ([]TableInfo, error) {
	var q string
	switch b.dialect {
	case Postgres:
		q = `SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`
	case MySQL:
		q = `SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	default:
		q = `SELECT name, type FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	rows, err := b.db.QueryContext(ctx, q)
	if err != nil {
		return nil, b.statementError(ctx, err)
	}
	defer rows.Close()

	tables := []TableInfo{}
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Name, &t.TableType); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, b.statementError(ctx, err)
	}
	return tables, nil
}

// DescribeTable returns the column layout of table.
func (b *Backend) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, errors.New("invalid table name")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var (
		columns []ColumnInfo
		err     error
	)
	switch b.dialect {
	case Postgres:
		columns, err = b.describeInformationSchema(ctx,
			`SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`, table)
	case MySQL:
		columns, err = b.describeInformationSchema(ctx,
			`SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = ? AND table_schema = DATABASE() ORDER BY ordinal_position`, table)
	default:
		columns, err = b.describeSQLite(ctx, table)
	}
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}
	return columns, nil
}

func (b *Backend) describeInformationSchema(ctx context.Context, q, table string) ([]ColumnInfo, error) {
	rows, err := b.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, b.statementError(ctx, err)
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			c        ColumnInfo
			nullable string
		)
		if err := rows.Scan(&c.Name, &c.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		c.IsNullable = nullable == "YES" || nullable == "yes"
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (b *Backend) describeSQLite(ctx context.Context, table string) ([]ColumnInfo, error) {
	// table is restricted to [A-Za-z0-9_]+ so it is safe to interpolate.
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, b.statementError(ctx, err)
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, dataType   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		columns = append(columns, ColumnInfo{Name: name, DataType: dataType, IsNullable: notNull == 0})
	}
	return columns, rows.Err()
}

// statementError rewrites deadline failures into a timeout message.
func (b *Backend) statementError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("statement timed out after %s", b.timeout)
	}
	return err
}

// jsonValue converts a scanned driver value into something encoding/json renders naturally.
func jsonValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case int64, int32, int, float64, float32, bool, string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
