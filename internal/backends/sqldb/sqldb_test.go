// ABOUTME: Tests for the SQL backend tools against an in-memory modernc sqlite database.
// ABOUTME: Covers access-mode refusals, result encoding and catalog queries.

package sqldb

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcpz/internal/guard"
	"github.com/2389/mcpz/internal/mcp"
)

func newTestBackend(t *testing.T, mode guard.AccessMode) *Backend {
	t.Helper()
	b, err := New(context.Background(), Config{
		Connection: "sqlite::memory:",
		Mode:       mode,
		Timeout:    5 * time.Second,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = b.DB().Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT, score REAL, avatar BLOB);
		INSERT INTO users (id, name, email, score, avatar) VALUES (1, 'ada', 'ada@example.com', 9.5, x'6869');
		INSERT INTO users (id, name, email, score, avatar) VALUES (2, 'bob', NULL, 7, NULL);
		CREATE VIEW user_names AS SELECT name FROM users;
	`)
	require.NoError(t, err)
	return b
}

func call(t *testing.T, b *Backend, tool string, args any) (string, bool) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	res, err := b.CallTool(context.Background(), tool, raw)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	return res.Content[0].Text, res.IsError
}

func TestNew_UnsupportedScheme(t *testing.T) {
	_, err := New(context.Background(), Config{Connection: "oracle://db"})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestTools_ByMode(t *testing.T) {
	names := func(b *Backend) []string {
		var out []string
		for _, tool := range b.Tools() {
			out = append(out, tool.Name)
		}
		return out
	}

	assert.Equal(t, []string{"query", "list_tables", "describe_table"}, names(newTestBackend(t, guard.ReadOnly)))
	assert.Equal(t, []string{"query", "list_tables", "describe_table", "execute"}, names(newTestBackend(t, guard.FullAccess)))
}

func TestQuery(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	text, isErr := call(t, b, "query", map[string]string{"sql": "SELECT id, name, email, score, avatar FROM users ORDER BY id"})
	require.False(t, isErr, text)

	var got struct {
		Columns  []string `json:"columns"`
		Rows     [][]any  `json:"rows"`
		RowCount int      `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, []string{"id", "name", "email", "score", "avatar"}, got.Columns)
	assert.Equal(t, 2, got.RowCount)
	assert.Equal(t, []any{float64(1), "ada", "ada@example.com", 9.5, "hi"}, got.Rows[0])
	assert.Equal(t, []any{float64(2), "bob", nil, float64(7), nil}, got.Rows[1])
}

func TestQuery_EmptyResultKeepsColumns(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	res, err := b.Query(context.Background(), "SELECT id FROM users WHERE id = 99")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, res.Columns)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 0, res.RowCount)

	text, _ := call(t, b, "query", map[string]string{"sql": "SELECT id FROM users WHERE id = 99"})
	assert.Contains(t, text, `"rows": []`)
}

func TestQuery_ReadOnlyRefusals(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	for _, stmt := range []string{
		"DELETE FROM users",
		"DROP TABLE users",
		"SELECT 1; DELETE FROM users",
	} {
		text, isErr := call(t, b, "query", map[string]string{"sql": stmt})
		assert.True(t, isErr, stmt)
		assert.Contains(t, text, "not allowed in readonly mode", stmt)
	}

	res, err := b.Query(context.Background(), "SELECT count(*) FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows[0][0])
}

func TestQuery_SyntaxErrorIsToolError(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	text, isErr := call(t, b, "query", map[string]string{"sql": "SELECT FROM WHERE"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Error: ")
}

func TestExecute(t *testing.T) {
	b := newTestBackend(t, guard.FullAccess)

	text, isErr := call(t, b, "execute", map[string]string{"sql": "UPDATE users SET score = 0"})
	require.False(t, isErr, text)

	var got ExecuteResult
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, int64(2), got.RowsAffected)
	assert.Equal(t, "Statement executed successfully. 2 row(s) affected.", got.Message)
}

func TestExecute_ReadOnly(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	_, err := b.Execute(context.Background(), "DELETE FROM users")
	require.ErrorIs(t, err, ErrWriteNotAllowed)

	text, isErr := call(t, b, "execute", map[string]string{"sql": "DELETE FROM users"})
	assert.True(t, isErr)
	assert.Contains(t, text, "write operations not allowed in readonly mode")

	res, err := b.Query(context.Background(), "SELECT count(*) FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows[0][0])
}

func TestExecute_HiddenFromReadOnlyDispatcher(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)
	d, err := mcp.NewDispatcher(mcp.DispatcherConfig{
		Backend: b,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	resp := d.Handle(context.Background(), &mcp.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"execute","arguments":{"sql":"DELETE FROM users"}}`),
	})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "Unknown tool: execute")
}

func TestQuery_ReadOnlyBlocksSmuggledWrites(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	for _, stmt := range []string{
		"WITH x AS (SELECT 1) DELETE FROM users RETURNING id",
		"PRAGMA user_version = 42",
	} {
		text, isErr := call(t, b, "query", map[string]string{"sql": stmt})
		assert.True(t, isErr, "%s: %s", stmt, text)
	}

	var count, userVersion int
	require.NoError(t, b.DB().QueryRow("SELECT count(*) FROM users").Scan(&count))
	require.NoError(t, b.DB().QueryRow("PRAGMA user_version").Scan(&userVersion))
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, userVersion)

	// query_only is scoped to the read-only query, not left on the pool.
	_, err := b.DB().Exec("INSERT INTO users (id, name) VALUES (3, 'cy')")
	require.NoError(t, err)
}

func TestQuery_FullAccessAllowsReturning(t *testing.T) {
	b := newTestBackend(t, guard.FullAccess)

	res, err := b.Query(context.Background(), "WITH x AS (SELECT 1) DELETE FROM users WHERE id = 2 RETURNING id")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(2)}}, res.Rows)
}

func TestListTables(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	text, isErr := call(t, b, "list_tables", map[string]any{})
	require.False(t, isErr, text)

	var got []TableInfo
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, []TableInfo{
		{Name: "user_names", TableType: "view"},
		{Name: "users", TableType: "table"},
	}, got)
}

func TestDescribeTable(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	cols, err := b.DescribeTable(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, cols, 5)
	assert.Equal(t, ColumnInfo{Name: "id", DataType: "INTEGER", IsNullable: true}, cols[0])
	assert.Equal(t, ColumnInfo{Name: "name", DataType: "TEXT", IsNullable: false}, cols[1])
	assert.Equal(t, ColumnInfo{Name: "email", DataType: "TEXT", IsNullable: true}, cols[2])
}

func TestDescribeTable_Rejections(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	text, isErr := call(t, b, "describe_table", map[string]string{"table_name": "users; DROP TABLE users"})
	assert.True(t, isErr)
	assert.Equal(t, "Error: invalid table name", text)

	text, isErr = call(t, b, "describe_table", map[string]string{"table_name": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, text, "table not found")

	text, isErr = call(t, b, "describe_table", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "missing 'table_name' argument")
}

func TestUnknownTool(t *testing.T) {
	b := newTestBackend(t, guard.ReadOnly)

	text, isErr := call(t, b, "truncate", map[string]any{})
	assert.True(t, isErr)
	assert.Equal(t, "Error: Unknown tool: truncate", text)
}

func TestJSONValue(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Nil(t, jsonValue(nil))
	assert.Equal(t, "abc", jsonValue([]byte("abc")))
	assert.Equal(t, "2024-05-01T12:00:00Z", jsonValue(ts))
	assert.Equal(t, int64(3), jsonValue(int64(3)))
	assert.Equal(t, true, jsonValue(true))
	assert.Equal(t, "[1 2]", jsonValue([]int{1, 2}))
}
