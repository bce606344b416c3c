package database

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/errors"
)

func newMockDumper(t *testing.T) (*NativeMySQLDumper, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	s := NewNativeMySQLDumper(nil)
	s.open = func(string) (*sql.DB, error) { return db, nil }
	s.now = func() time.Time { return time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC) }
	return s, db, mock
}

func expectShopSchema(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SHOW FULL TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_shop", "Table_type"}).
			AddRow("active_users", "VIEW").
			AddRow("users", "BASE TABLE"))
	mock.ExpectQuery("SHOW CREATE TABLE `users`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("users", "CREATE TABLE `users` (`id` int NOT NULL)"))
	mock.ExpectQuery("SELECT * FROM `users`").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("id").OfType("INT", int64(0)),
			sqlmock.NewColumn("name").OfType("VARCHAR", ""),
			sqlmock.NewColumn("avatar").OfType("BLOB", []byte{}),
			sqlmock.NewColumn("note").OfType("TEXT", ""),
		).
			AddRow(int64(1), "O'Brien", []byte{0xde, 0xad}, nil).
			AddRow(int64(2), "line\nbreak", []byte{0x01}, "ok"))
	mock.ExpectQuery("SHOW CREATE VIEW `active_users`").
		WillReturnRows(sqlmock.NewRows([]string{"View", "Create View", "character_set_client", "collation_connection"}).
			AddRow("active_users", "CREATE VIEW `active_users` AS select 1", "utf8mb4", "utf8mb4_general_ci"))
}

func TestNativeMySQLDumper_DumpTo(t *testing.T) {
	s, db, mock := newMockDumper(t)
	defer db.Close()
	expectShopSchema(mock)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, s.DumpTo(context.Background(), db, "shop", w))
	require.NoError(t, w.Flush())
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	assert.Contains(t, out, "-- created 2024-01-15T10:30:00Z")
	assert.Contains(t, out, "DROP TABLE IF EXISTS `users`;\nCREATE TABLE `users` (`id` int NOT NULL);")
	assert.Contains(t, out, `INSERT INTO `+"`users`"+` VALUES (1,'O\'Brien',0xdead,NULL),(2,'line\nbreak',0x01,'ok');`)

	// views are written after every table
	assert.Greater(t, bytes.Index(buf.Bytes(), []byte("DROP VIEW IF EXISTS `active_users`")),
		bytes.Index(buf.Bytes(), []byte("INSERT INTO `users`")))
}

func TestNativeMySQLDumper_DumpWritesFile(t *testing.T) {
	s, _, mock := newMockDumper(t)
	expectShopSchema(mock)
	mock.ExpectClose()

	out := filepath.Join(t.TempDir(), "database", "shop.sql")
	d := Descriptor{Type: TypeMySQL, Name: "shop", User: "root", Method: MethodNative}
	d.SetDefaults()

	require.NoError(t, s.Dump(context.Background(), d, out))
	require.NoError(t, mock.ExpectationsWereMet())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SET FOREIGN_KEY_CHECKS=1;")
}

func TestNativeMySQLDumper_DumpQueryFailureRemovesFile(t *testing.T) {
	s, _, mock := newMockDumper(t)
	mock.ExpectQuery("SHOW FULL TABLES").WillReturnError(&mysql.MySQLError{Number: 1142, Message: "SELECT command denied"})
	mock.ExpectClose()

	out := filepath.Join(t.TempDir(), "shop.sql")
	d := Descriptor{Type: TypeMySQL, Name: "shop", User: "root", Method: MethodNative}
	d.SetDefaults()

	err := s.Dump(context.Background(), d, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list tables")
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNativeMySQLDumper_ConnectDoesNotRetryAccessDenied(t *testing.T) {
	s := NewNativeMySQLDumperWithOptions(nil, time.Second, errors.RetryConfig{
		MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
	})
	calls := 0
	s.open = func(string) (*sql.DB, error) {
		calls++
		return nil, &mysql.MySQLError{Number: 1045, Message: "Access denied for user 'backup'"}
	}

	_, err := s.Connect(context.Background(), Descriptor{Type: TypeMySQL, Host: "localhost", Port: 3306, Name: "shop", User: "backup"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypePermission))
}

func TestNativeMySQLDumper_ConnectRetriesLostConnection(t *testing.T) {
	s := NewNativeMySQLDumperWithOptions(nil, time.Second, errors.RetryConfig{
		MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
	})
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	calls := 0
	s.open = func(string) (*sql.DB, error) {
		calls++
		if calls < 3 {
			return nil, &mysql.MySQLError{Number: 2003, Message: "Can't connect to MySQL server"}
		}
		return db, nil
	}

	got, err := s.Connect(context.Background(), Descriptor{Type: TypeMySQL, Host: "localhost", Port: 3306, Name: "shop", User: "backup"})
	require.NoError(t, err)
	assert.Same(t, db, got)
	assert.Equal(t, 3, calls)
}

func TestSQLLiteral(t *testing.T) {
	tests := []struct {
		value  interface{}
		dbType string
		want   string
	}{
		{nil, "INT", "NULL"},
		{int64(-7), "BIGINT", "-7"},
		{float64(1.5), "DOUBLE", "1.5"},
		{true, "", "1"},
		{[]byte("42.10"), "DECIMAL", "42.10"},
		{[]byte("it's"), "VARCHAR", `'it\'s'`},
		{[]byte{0x00, 0xff}, "VARBINARY", "0x00ff"},
		{"a\\b", "TEXT", `'a\\b'`},
		{"\x00\x1a\r", "CHAR", `'\0\Z\r'`},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "DATETIME", "'2024-01-02 03:04:05'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqlLiteral(tt.value, tt.dbType))
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`weird``name`", quoteIdent("weird`name"))
}
